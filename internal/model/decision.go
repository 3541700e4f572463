package model

import (
	"encoding/json"
	"fmt"
)

// Decision reason codes. Stable identifiers consumed by audits and CI.
const (
	ReasonFeasible                = "feasible"
	ReasonNoFeasibleOption        = "no_feasible_option_under_thresholds"
	ReasonCounterfactualCandidate = "counterfactual_candidate"
	ReasonStatsFallbackCoarse     = "NO_FEASIBLE_STATS_FALLBACK_COARSE"
	ReasonMinEffVarSelected       = "MIN_EFFVAR_SELECTED"
)

// WildcardAll forbids every key in a KeyList constraint field.
const WildcardAll = "*"

// KeyList is either an explicit list of key names or the wildcard "*".
// The zero value (nil list, no wildcard) forbids nothing.
type KeyList struct {
	Keys []string
	All  bool
}

// KeyListOf builds a KeyList from explicit names.
func KeyListOf(keys ...string) KeyList {
	return KeyList{Keys: keys}
}

// KeyListAll builds the wildcard KeyList.
func KeyListAll() KeyList {
	return KeyList{All: true}
}

// MarshalJSON emits the wire form downstream plan validators consume: the
// wildcard string for All, a JSON array of names otherwise.
func (k KeyList) MarshalJSON() ([]byte, error) {
	if k.All {
		return json.Marshal(WildcardAll)
	}
	if k.Keys == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(k.Keys)
}

// UnmarshalJSON accepts either wire form.
func (k *KeyList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != WildcardAll {
			return fmt.Errorf("key list: unknown wildcard %q", s)
		}
		*k = KeyList{All: true}
		return nil
	}
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	*k = KeyList{Keys: keys}
	return nil
}

// PlannerConstraint is the declarative artifact a downstream query planner
// must honor. This system never parses or executes SQL; it only emits these
// constraints for an external validator to check against a plan signature.
type PlannerConstraint struct {
	Boundary              Boundary    `json:"boundary"`
	Granularity           Granularity `json:"granularity"`
	ForbidGroupByKeys     KeyList     `json:"forbid_group_by_keys"`
	ForbidJoinsOn         KeyList     `json:"forbid_joins_on"`
	MinGroupCardinality   int         `json:"min_group_cardinality"`
	RequirePreAggregation bool        `json:"require_pre_aggregation"`
}

// Decision is the planner's verdict for a feature: the chosen cell of the
// boundary×granularity lattice, whether it is feasible, the scorecard that
// justified it, and the compiled constraint artifact.
//
// Infeasibility is not an error. A Decision with Feasible=false is a valid,
// fully formed result carrying the most conservative cell.
type Decision struct {
	Boundary    Boundary          `json:"boundary"`
	Granularity Granularity       `json:"granularity"`
	Feasible    bool              `json:"feasible"`
	Scorecard   Scorecard         `json:"scorecard"`
	Reason      string            `json:"reason"`
	Constraint  PlannerConstraint `json:"planner_constraints_json"`
}

// CounterfactualCandidate is one proposed minimal edit that could make an
// infeasible target feasible, with the predicted scorecard and the
// constraint that would apply if the edit were accepted.
type CounterfactualCandidate struct {
	Edit             string            `json:"edit"` // "bucketize:<field>:<old>-><new>" or "drop_field:<field>"
	TargetGran       Granularity       `json:"target_granularity"`
	FeasibleAtTarget bool              `json:"feasible_at_target"`
	Scorecard        Scorecard         `json:"scorecard"`
	Constraint       PlannerConstraint `json:"planner_constraints_json"`
}
