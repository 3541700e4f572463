package audit

// Event types recorded across the decision and enforcement lifecycle.
const (
	EventCatalogUpsert     = "CATALOG_UPSERT"
	EventScored            = "LPS_SCORED"
	EventRoutingDecided    = "ROUTING_DECIDED"
	EventRoutingSkipped    = "ROUTING_SKIPPED"
	EventContractPublished = "CONTRACT_PUBLISHED"
	EventContractSkipped   = "CONTRACT_SKIPPED"
	EventIngest            = "INGEST"
	EventReject            = "REJECT"
	EventBlock             = "BLOCK"
	EventDowngrade         = "DOWNGRADE"
	EventMaterialize       = "MATERIALIZE"
	EventBudgetCommit      = "BUDGET_COMMIT"
	EventBudgetDenied      = "BUDGET_DENIED"
	EventDrift             = "LPS_DRIFT"
	EventGateVerdict       = "GATE_VERDICT"
)

// Entry is one line in the hash-chained JSONL audit log.
// Details is a map; encoding/json marshals map keys sorted, so entries
// serialize deterministically for reproducible hashing.
type Entry struct {
	Timestamp string         `json:"ts"`
	EventType string         `json:"event_type"`
	FeatureID string         `json:"feature_id"`
	Details   map[string]any `json:"details,omitempty"`
	PrevHash  string         `json:"prev_hash"`
}
