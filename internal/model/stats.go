package model

// StatsSnapshot is a per-(feature, window, granularity) observation summary
// produced by an external stats pipeline. The engine consumes these
// read-only; it never computes them.
type StatsSnapshot struct {
	FeatureID      string      `json:"feature_id"`
	WindowID       string      `json:"window_id"`
	Granularity    Granularity `json:"granularity"`
	NObs           int64       `json:"n_obs"`
	NDistinctEst   int64       `json:"n_distinct_est"`
	MinSupportEst  int64       `json:"min_support_est"`
	TailMassEst    float64     `json:"tail_mass_est"`
	ApproxVariance float64     `json:"approx_variance"` // sampling / signal proxy
}

// ProbeResult is an empirical inference probe: attacker-model AUC per
// sensitive attribute. When present it supersedes the heuristic
// inferability estimate.
type ProbeResult struct {
	FeatureID  string             `json:"feature_id"`
	ProbeRunID string             `json:"probe_run_id"`
	Metrics    map[string]float64 `json:"metrics"` // attribute -> AUC
}

// SpendEvent is one differential-privacy spend, append-only per feature.
type SpendEvent struct {
	FeatureID string  `json:"feature_id"`
	Day       string  `json:"day"` // "2006-01-02"
	Epsilon   float64 `json:"epsilon"`
	Delta     float64 `json:"delta"`
}
