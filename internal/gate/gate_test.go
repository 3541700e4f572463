package gate

import (
	"errors"
	"strings"
	"testing"
)

func staticScore(score float64) ScoreFunc {
	return func(payload map[string]any) (float64, any, error) {
		return score, map[string]any{"risk": score}, nil
	}
}

func TestAllowUnderThreshold(t *testing.T) {
	v := Evaluate(Input{
		PolicyThreshold: 0.5,
		HardReject:      true,
		Payload:         map[string]any{},
		Score:           staticScore(0.3),
	})
	if v.Decision != DecisionAllow || v.ExitCode != ExitAllow {
		t.Fatalf("score 0.3 under 0.5 must allow, got %s/%d", v.Decision, v.ExitCode)
	}
	if len(v.Reasons) != 0 {
		t.Fatalf("clean allow carries no reasons, got %v", v.Reasons)
	}
	if v.LPS.Score == nil || *v.LPS.Score != 0.3 {
		t.Fatal("verdict must carry the computed score")
	}
}

func TestRejectOverThreshold(t *testing.T) {
	v := Evaluate(Input{
		PolicyThreshold: 0.5,
		HardReject:      true,
		Payload:         map[string]any{},
		Score:           staticScore(0.9),
	})
	if v.Decision != DecisionReject || v.ExitCode != ExitReject {
		t.Fatalf("score 0.9 over 0.5 must reject, got %s/%d", v.Decision, v.ExitCode)
	}
	if len(v.Reasons) != 1 || v.Reasons[0].Code != CodeThresholdExceeded {
		t.Fatalf("expected %s, got %v", CodeThresholdExceeded, v.Reasons)
	}
}

func TestThresholdBoundaryIsInclusive(t *testing.T) {
	v := Evaluate(Input{
		PolicyThreshold: 0.5,
		HardReject:      true,
		Payload:         map[string]any{},
		Score:           staticScore(0.5),
	})
	if v.Decision != DecisionAllow {
		t.Fatal("score exactly at the threshold must allow")
	}
}

func TestThresholdOverride(t *testing.T) {
	low := 0.1
	v := Evaluate(Input{
		PolicyThreshold:   0.5,
		ThresholdOverride: &low,
		HardReject:        true,
		Payload:           map[string]any{},
		Score:             staticScore(0.3),
	})
	if v.Decision != DecisionReject {
		t.Fatal("override 0.1 must reject a 0.3 score")
	}
	if v.Policy.ThresholdPolicy != 0.5 || v.Policy.ThresholdEffective != 0.1 {
		t.Fatalf("verdict must record both thresholds: %+v", v.Policy)
	}
}

func TestAdvisoryModeAllowsWithReason(t *testing.T) {
	v := Evaluate(Input{
		PolicyThreshold: 0.5,
		HardReject:      false,
		Payload:         map[string]any{},
		Score:           staticScore(0.9),
	})
	if v.Decision != DecisionAllow || v.ExitCode != ExitAllow {
		t.Fatalf("advisory mode must allow, got %s/%d", v.Decision, v.ExitCode)
	}
	if len(v.Reasons) != 1 || v.Reasons[0].Code != CodeThresholdExceeded {
		t.Fatal("advisory mode must still surface the violation")
	}
}

func TestScoreErrorFailsClosed(t *testing.T) {
	v := Evaluate(Input{
		PolicyThreshold: 0.5,
		HardReject:      true,
		Payload:         map[string]any{},
		Score: func(payload map[string]any) (float64, any, error) {
			return 0, nil, errors.New("bad payload shape")
		},
	})
	if v.Decision != DecisionReject || v.ExitCode != ExitReject {
		t.Fatal("score error must reject")
	}
	if v.Reasons[0].Code != CodeEvaluationError {
		t.Fatalf("expected %s, got %s", CodeEvaluationError, v.Reasons[0].Code)
	}
}

func TestScorePanicFailsClosed(t *testing.T) {
	v := Evaluate(Input{
		PolicyThreshold: 0.5,
		HardReject:      true,
		Payload:         map[string]any{},
		Score: func(payload map[string]any) (float64, any, error) {
			panic("boom")
		},
	})
	if v == nil {
		t.Fatal("panic must be converted to a verdict")
	}
	if v.Decision != DecisionReject || v.ExitCode != ExitReject {
		t.Fatal("panic must reject")
	}
	if v.Reasons[0].Code != CodeEvaluationError {
		t.Fatalf("expected %s, got %s", CodeEvaluationError, v.Reasons[0].Code)
	}
}

func TestVerdictJSONDeterministic(t *testing.T) {
	in := Input{
		PolicyBytes:     []byte("threshold: 0.5\n"),
		PolicyThreshold: 0.5,
		HardReject:      true,
		Payload:         map[string]any{"feature": "f1"},
		Score:           staticScore(0.123456789123),
	}
	a, err := Evaluate(in).JSON()
	if err != nil {
		t.Fatal(err)
	}
	b, err := Evaluate(in).JSON()
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("identical inputs must serialize byte-identically")
	}
	if !strings.Contains(a, `"decision"`) {
		t.Fatalf("verdict JSON missing decision: %s", a)
	}
}

func TestPayloadScoreConservativeOnEmptyPayload(t *testing.T) {
	score, _, err := PayloadScore(map[string]any{})
	if err != nil {
		t.Fatalf("empty payload scores conservatively, not an error: %v", err)
	}
	if score <= 0 {
		t.Fatalf("conservative default must carry non-trivial risk, got %g", score)
	}
}

func TestPayloadScoreFeatureSpec(t *testing.T) {
	payload := map[string]any{
		"feature_spec": map[string]any{
			"feature_id": "campaign_ctr",
			"fields": []any{
				map[string]any{"name": "campaign", "dtype": "enum", "cardinality_hint": 50},
			},
			"ttl_days": 14,
		},
		"granularity": "AGGREGATE",
	}
	score, breakdown, err := PayloadScore(payload)
	if err != nil {
		t.Fatal(err)
	}
	if score < 0 || score > 1 {
		t.Fatalf("score out of range: %g", score)
	}
	if breakdown == nil {
		t.Fatal("breakdown must accompany the score")
	}
}
