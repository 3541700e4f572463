// Package gate wraps scoring and threshold comparison into a deterministic,
// fail-closed allow/reject verdict with canonical audit serialization.
//
// Fail-closed means any uncertainty resolves to REJECT: a scoring error or
// panic must never be mistaken for a passing verdict.
package gate

import (
	"encoding/json"
	"fmt"

	"github.com/releasegate/releasegate/internal/plan"
)

// Exit codes for single-payload evaluation mode.
const (
	ExitAllow  = 0
	ExitReject = 2
)

// Verdict values.
const (
	DecisionAllow  = "ALLOW"
	DecisionReject = "REJECT"
)

// Rejection reason codes.
const (
	CodeThresholdExceeded = "LPS_THRESHOLD_EXCEEDED"
	CodeEvaluationError   = "EVALUATION_ERROR"
)

// floatDigits is the fixed rounding applied before serialization so
// identical inputs produce byte-identical audit output.
const floatDigits = 8

// ScoreFunc computes (score, breakdown) for a payload. The gate treats any
// returned error or panic as an evaluation failure.
type ScoreFunc func(payload map[string]any) (float64, any, error)

// Reason is a structured rejection reason for audits and CI assertions.
type Reason struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// PolicyMeta describes the policy the gate evaluated against.
type PolicyMeta struct {
	Path               string  `json:"path"`
	SHA256             string  `json:"sha256"`
	ThresholdPolicy    float64 `json:"threshold_policy"`
	ThresholdEffective float64 `json:"threshold_effective"`
	HardReject         bool    `json:"hard_reject"`
}

// LPSMeta carries the computed score and its breakdown. Score is a pointer
// so an evaluation failure serializes as null, never as a passing zero.
type LPSMeta struct {
	Score     *float64 `json:"score"`
	Breakdown any      `json:"breakdown"`
}

// Verdict is the gate's structured output.
type Verdict struct {
	Decision string     `json:"decision"`
	ExitCode int        `json:"exit_code"`
	Policy   PolicyMeta `json:"policy"`
	LPS      LPSMeta    `json:"lps"`
	Reasons  []Reason   `json:"reasons"`
}

// JSON renders the verdict as canonical, deterministic JSON: floats rounded
// to a fixed digit count, object keys sorted.
func (v *Verdict) JSON() (string, error) {
	data, err := plan.CanonicalJSON(v, floatDigits)
	if err != nil {
		return "", fmt.Errorf("gate: serialize verdict: %w", err)
	}
	var indented any
	if err := json.Unmarshal(data, &indented); err != nil {
		return "", err
	}
	out, err := marshalIndentSorted(indented)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// marshalIndentSorted pretty-prints generic JSON; encoding/json sorts map
// keys, preserving determinism.
func marshalIndentSorted(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// Input bundles the gate evaluation parameters.
type Input struct {
	PolicyPath        string
	PolicyBytes       []byte
	PolicyThreshold   float64
	ThresholdOverride *float64 // evaluation-only override, nil = use policy
	HardReject        bool     // default true: threshold violation rejects
	Payload           map[string]any
	Score             ScoreFunc
}

// Evaluate runs the gate. Any error or panic inside the score function
// yields REJECT with reason EVALUATION_ERROR.
func Evaluate(in Input) (v *Verdict) {
	effective := in.PolicyThreshold
	override := false
	if in.ThresholdOverride != nil {
		effective = *in.ThresholdOverride
		override = true
	}

	policyMeta := PolicyMeta{
		Path:               in.PolicyPath,
		SHA256:             plan.FingerprintBytes(in.PolicyBytes),
		ThresholdPolicy:    in.PolicyThreshold,
		ThresholdEffective: effective,
		HardReject:         in.HardReject,
	}

	reject := func(reasons ...Reason) *Verdict {
		return &Verdict{
			Decision: DecisionReject,
			ExitCode: ExitReject,
			Policy:   policyMeta,
			LPS:      LPSMeta{},
			Reasons:  reasons,
		}
	}

	defer func() {
		if r := recover(); r != nil {
			v = reject(Reason{
				Code:    CodeEvaluationError,
				Message: "policy gate evaluation failed; failing closed",
				Details: map[string]any{"error": fmt.Sprint(r)},
			})
		}
	}()

	score, breakdown, err := in.Score(in.Payload)
	if err != nil {
		return reject(Reason{
			Code:    CodeEvaluationError,
			Message: "policy gate evaluation failed; failing closed",
			Details: map[string]any{"error": err.Error()},
		})
	}

	lpsMeta := LPSMeta{Score: &score, Breakdown: breakdown}

	if score > effective {
		reason := Reason{
			Code:    CodeThresholdExceeded,
			Message: "input violates LPS threshold",
			Details: map[string]any{
				"lps_score":           score,
				"threshold_effective": effective,
				"threshold_policy":    in.PolicyThreshold,
				"threshold_override":  override,
			},
		}
		if in.HardReject {
			return &Verdict{
				Decision: DecisionReject,
				ExitCode: ExitReject,
				Policy:   policyMeta,
				LPS:      lpsMeta,
				Reasons:  []Reason{reason},
			}
		}
		// Advisory mode still surfaces the reason.
		return &Verdict{
			Decision: DecisionAllow,
			ExitCode: ExitAllow,
			Policy:   policyMeta,
			LPS:      lpsMeta,
			Reasons:  []Reason{reason},
		}
	}

	return &Verdict{
		Decision: DecisionAllow,
		ExitCode: ExitAllow,
		Policy:   policyMeta,
		LPS:      lpsMeta,
		Reasons:  []Reason{},
	}
}
