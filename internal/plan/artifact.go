package plan

import (
	"fmt"
	"time"

	"github.com/releasegate/releasegate/internal/model"
)

// SchemaVersion identifies the plan artifact layout.
const SchemaVersion = "releasegate.plan/0.1"

// floatDigits is the fixed rounding applied to floats before hashing or
// serialization, so reruns produce byte-identical artifacts.
const floatDigits = 8

// Artifact is the plan handed to external consumers (SQL emitter, routing
// engine, persistence). PlanFingerprint excludes itself and CreatedAt, so
// the fingerprint is stable across reruns with identical decision content.
type Artifact struct {
	SchemaVersion    string                  `json:"schema_version"`
	CreatedAt        string                  `json:"created_at"`
	PolicyHash       string                  `json:"policy_hash"`
	InputFingerprint string                  `json:"input_fingerprint"`
	Decision         DecisionSummary         `json:"decision"`
	Constraints      model.PlannerConstraint `json:"planner_constraints_json"`
	Scorecard        model.Scorecard         `json:"scorecard"`
	PlanFingerprint  string                  `json:"plan_fingerprint"`
}

// DecisionSummary is the decision block embedded in the artifact.
type DecisionSummary struct {
	Boundary    model.Boundary    `json:"boundary"`
	Granularity model.Granularity `json:"granularity"`
	Feasible    bool              `json:"feasible"`
	Reason      string            `json:"reason"`
}

// Build assembles an artifact from a decision, stamping fingerprints.
// inputObj is the raw feature input (any JSON-compatible shape); its key
// ordering does not affect the input fingerprint.
func Build(policyHash string, inputObj any, dec model.Decision) (*Artifact, error) {
	inputFP, err := FingerprintObject(inputObj)
	if err != nil {
		return nil, fmt.Errorf("plan: input fingerprint: %w", err)
	}

	a := &Artifact{
		SchemaVersion:    SchemaVersion,
		CreatedAt:        time.Now().UTC().Format(time.RFC3339),
		PolicyHash:       policyHash,
		InputFingerprint: inputFP,
		Decision: DecisionSummary{
			Boundary:    dec.Boundary,
			Granularity: dec.Granularity,
			Feasible:    dec.Feasible,
			Reason:      dec.Reason,
		},
		Constraints: dec.Constraint,
		Scorecard:   dec.Scorecard,
	}

	fp, err := a.fingerprint()
	if err != nil {
		return nil, err
	}
	a.PlanFingerprint = fp
	return a, nil
}

// fingerprint hashes the artifact excluding plan_fingerprint and created_at.
func (a *Artifact) fingerprint() (string, error) {
	norm, err := normalize(a, floatDigits)
	if err != nil {
		return "", err
	}
	m, ok := norm.(map[string]any)
	if !ok {
		return "", fmt.Errorf("plan: artifact did not canonicalize to an object")
	}
	delete(m, "plan_fingerprint")
	delete(m, "created_at")
	data, err := marshalCanonical(m)
	if err != nil {
		return "", err
	}
	return sha256Hex(data), nil
}

// Canonical renders the artifact as canonical JSON bytes.
func (a *Artifact) Canonical() ([]byte, error) {
	return CanonicalJSON(a, floatDigits)
}
