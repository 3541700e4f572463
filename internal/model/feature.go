package model

// FieldSpec describes one field of a feature's schema.
type FieldSpec struct {
	Name            string `json:"name" yaml:"name"`
	DType           string `json:"dtype" yaml:"dtype"` // "int", "float", "string", "enum", "timestamp"
	IsSensitive     bool   `json:"is_sensitive" yaml:"is_sensitive"`
	IsIdentifier    bool   `json:"is_identifier" yaml:"is_identifier"`
	CardinalityHint int    `json:"cardinality_hint,omitempty" yaml:"cardinality_hint,omitempty"` // 0 = unknown
}

// JoinKeySpec describes a join surface of a feature. Stability is in [0,1];
// higher means the key is more stable across windows and therefore easier to
// correlate over time.
type JoinKeySpec struct {
	Name      string  `json:"name" yaml:"name"`
	Stability float64 `json:"stability" yaml:"stability"`
	NDVHint   int     `json:"ndv_hint,omitempty" yaml:"ndv_hint,omitempty"` // 0 = unknown
}

// FeatureSpec is the immutable description of a feature under evaluation.
// Owned by the external catalog; the engine never mutates it. A new
// FeatureVersion creates a new logical entity for audit purposes.
type FeatureSpec struct {
	FeatureID      string              `json:"feature_id" yaml:"feature_id"`
	FeatureVersion string              `json:"feature_version" yaml:"feature_version"`
	Owner          string              `json:"owner,omitempty" yaml:"owner,omitempty"`
	Description    string              `json:"description,omitempty" yaml:"description,omitempty"`
	QueryType      QueryType           `json:"query_type,omitempty" yaml:"query_type,omitempty"`
	Fields         []FieldSpec         `json:"fields" yaml:"fields"`
	JoinKeys       []JoinKeySpec       `json:"join_keys,omitempty" yaml:"join_keys,omitempty"`
	TTLDays        int                 `json:"ttl_days" yaml:"ttl_days"`
	Bucketizations map[string]int      `json:"bucketizations,omitempty" yaml:"bucketizations,omitempty"` // field name -> bucket count
	PrivacyUnit    string              `json:"privacy_unit,omitempty" yaml:"privacy_unit,omitempty"`     // "user", "device", ...
	PolicyTags     []string            `json:"policy_tags,omitempty" yaml:"policy_tags,omitempty"`
	SupportHint    map[Granularity]int `json:"support_hint,omitempty" yaml:"support_hint,omitempty"` // absent key = cold start

	// Capability declarations; empty means "all".
	BoundaryCapabilities  []Boundary    `json:"boundary_capabilities,omitempty" yaml:"boundary_capabilities,omitempty"`
	GranularityCandidates []Granularity `json:"granularity_candidates,omitempty" yaml:"granularity_candidates,omitempty"`
}

// QueryType classifies how a feature's cells are aggregated, which determines
// the effective-variance formula used by stats-driven selection.
type QueryType string

const (
	QueryMeanBounded01 QueryType = "MEAN_BOUNDED_0_1"
	QueryCount         QueryType = "COUNT"
)

// HasTag reports whether the feature carries the given policy tag.
func (f *FeatureSpec) HasTag(tag string) bool {
	for _, t := range f.PolicyTags {
		if t == tag {
			return true
		}
	}
	return false
}

// Support returns the support hint for granularity g, or 0 when unknown.
func (f *FeatureSpec) Support(g Granularity) int {
	if f.SupportHint == nil {
		return 0
	}
	return f.SupportHint[g]
}

// Capabilities returns the declared boundary capabilities, defaulting to all.
func (f *FeatureSpec) Capabilities() []Boundary {
	if len(f.BoundaryCapabilities) == 0 {
		return Boundaries
	}
	return f.BoundaryCapabilities
}

// Candidates returns the declared granularity candidates, defaulting to all.
func (f *FeatureSpec) Candidates() []Granularity {
	if len(f.GranularityCandidates) == 0 {
		return Granularities
	}
	return f.GranularityCandidates
}

// IdentifierFields returns the names of fields flagged as identifiers.
func (f *FeatureSpec) IdentifierFields() []string {
	var out []string
	for _, fld := range f.Fields {
		if fld.IsIdentifier {
			out = append(out, fld.Name)
		}
	}
	return out
}

// JoinKeyNames returns the names of all declared join keys.
func (f *FeatureSpec) JoinKeyNames() []string {
	var out []string
	for _, jk := range f.JoinKeys {
		out = append(out, jk.Name)
	}
	return out
}

// Clone returns a deep copy of the spec. Counterfactual candidates are built
// by editing clones so the original catalog entry is never touched.
func (f *FeatureSpec) Clone() *FeatureSpec {
	cp := *f
	cp.Fields = append([]FieldSpec(nil), f.Fields...)
	cp.JoinKeys = append([]JoinKeySpec(nil), f.JoinKeys...)
	cp.PolicyTags = append([]string(nil), f.PolicyTags...)
	cp.BoundaryCapabilities = append([]Boundary(nil), f.BoundaryCapabilities...)
	cp.GranularityCandidates = append([]Granularity(nil), f.GranularityCandidates...)
	if f.Bucketizations != nil {
		cp.Bucketizations = make(map[string]int, len(f.Bucketizations))
		for k, v := range f.Bucketizations {
			cp.Bucketizations[k] = v
		}
	}
	if f.SupportHint != nil {
		cp.SupportHint = make(map[Granularity]int, len(f.SupportHint))
		for k, v := range f.SupportHint {
			cp.SupportHint[k] = v
		}
	}
	return &cp
}
