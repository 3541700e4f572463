package gate

import (
	"fmt"
	"strings"

	"github.com/releasegate/releasegate/internal/lps"
	"github.com/releasegate/releasegate/internal/model"
)

// PayloadScore is the default ScoreFunc: it builds a FeatureSpec from a
// loosely-typed payload (JSON/YAML input) and computes the aggregate risk.
// Incomplete structure falls back to a conservative default feature, so a
// thin payload scores high rather than slipping through.
func PayloadScore(payload map[string]any) (float64, any, error) {
	feature, g, th, err := payloadToFeature(payload)
	if err != nil {
		return 0, nil, err
	}
	sc := lps.Compute(feature, g, th)
	breakdown := map[string]any{
		"L":            sc.L,
		"U":            sc.U,
		"I":            sc.I,
		"R":            sc.R,
		"risk":         sc.Risk,
		"contributors": sc.Contributors,
	}
	return sc.Risk, breakdown, nil
}

func payloadToFeature(payload map[string]any) (*model.FeatureSpec, model.Granularity, model.PolicyThresholds, error) {
	th := model.DefaultPolicyThresholds()
	if k, ok := asInt(payload["k_min"]); ok {
		th.KMin = k
	}
	if err := th.Validate(); err != nil {
		return nil, "", th, fmt.Errorf("gate: invalid payload thresholds: %w", err)
	}

	fsRaw, ok := payload["feature_spec"].(map[string]any)
	if !ok {
		fsRaw, ok = payload["feature"].(map[string]any)
	}

	var feature *model.FeatureSpec
	if ok {
		feature = parseFeature(fsRaw)
	} else {
		// Minimal conservative default for cold start.
		feature = &model.FeatureSpec{
			FeatureID: asStringOr(payload["feature_id"], "default"),
			Fields:    []model.FieldSpec{{Name: "default", DType: "string", IsSensitive: true}},
			TTLDays:   30,
		}
		if tags, ok := payload["policy_tags"].([]any); ok {
			for _, t := range tags {
				if s, ok := t.(string); ok {
					feature.PolicyTags = append(feature.PolicyTags, s)
				}
			}
		}
	}

	gStr := asStringOr(payload["granularity"], asStringOr(payload["g"], string(model.GranularityAggregate)))
	g := model.Granularity(strings.ToUpper(gStr))
	if !g.Valid() {
		g = model.GranularityAggregate
	}
	return feature, g, th, nil
}

func parseFeature(raw map[string]any) *model.FeatureSpec {
	f := &model.FeatureSpec{
		FeatureID:   asStringOr(raw["feature_id"], "default"),
		Description: asStringOr(raw["description"], ""),
		TTLDays:     30,
	}
	if ttl, ok := asInt(raw["ttl_days"]); ok {
		f.TTLDays = ttl
	}

	if fields, ok := raw["fields"].([]any); ok {
		for _, fr := range fields {
			m, ok := fr.(map[string]any)
			if !ok {
				continue
			}
			fld := model.FieldSpec{
				Name:         asStringOr(m["name"], "unknown"),
				DType:        asStringOr(m["dtype"], "string"),
				IsSensitive:  asBool(m["is_sensitive"]),
				IsIdentifier: asBool(m["is_identifier"]),
			}
			if c, ok := asInt(m["cardinality_hint"]); ok {
				fld.CardinalityHint = c
			}
			f.Fields = append(f.Fields, fld)
		}
	}
	if len(f.Fields) == 0 {
		f.Fields = []model.FieldSpec{{Name: "default", DType: "string"}}
	}

	if jks, ok := raw["join_keys"].([]any); ok {
		for _, jr := range jks {
			m, ok := jr.(map[string]any)
			if !ok {
				continue
			}
			jk := model.JoinKeySpec{
				Name:      asStringOr(m["name"], "id"),
				Stability: asFloatOr(m["stability"], 0.8),
			}
			if n, ok := asInt(m["ndv_hint"]); ok {
				jk.NDVHint = n
			}
			f.JoinKeys = append(f.JoinKeys, jk)
		}
	}

	if b, ok := raw["bucketizations"].(map[string]any); ok {
		f.Bucketizations = make(map[string]int, len(b))
		for k, v := range b {
			if n, ok := asInt(v); ok {
				f.Bucketizations[k] = n
			}
		}
	}

	if tags, ok := raw["policy_tags"].([]any); ok {
		for _, t := range tags {
			if s, ok := t.(string); ok {
				f.PolicyTags = append(f.PolicyTags, s)
			}
		}
	}
	return f
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asStringOr(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

func asFloatOr(v any, def float64) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	default:
		return def
	}
}
