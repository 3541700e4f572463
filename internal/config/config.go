// Package config loads policy and feature catalog files (YAML) and
// validates them exhaustively: all violations are collected and reported
// together before any decision is attempted.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/releasegate/releasegate/internal/model"
)

// GateConfig controls the fail-closed single-payload gate.
type GateConfig struct {
	LPSMax            float64 `yaml:"lps_max"`
	RejectOnViolation bool    `yaml:"reject_on_violation"`
}

// BandConfig holds the aggregate-risk bands used when deriving the
// admissible set for stats-driven selection.
type BandConfig struct {
	BandMid  float64 `yaml:"band_mid"`
	BandHigh float64 `yaml:"band_high"`
}

// DPConfig holds noise calibration and budget caps.
type DPConfig struct {
	CentralSigma        float64 `yaml:"central_sigma"`
	MinSupportThreshold int     `yaml:"min_support_threshold"`
	EpsCap              float64 `yaml:"eps_cap"`
	DeltaCap            float64 `yaml:"delta_cap"`
	WindowDays          int     `yaml:"window_days"`
}

// Config is the full policy configuration.
type Config struct {
	PolicyVersion string           `yaml:"policy_version"`
	Thresholds    ThresholdsConfig `yaml:"thresholds"`
	Gate          GateConfig       `yaml:"gate"`
	Bands         BandConfig       `yaml:"bands"`
	DP            DPConfig         `yaml:"dp"`
	TauLPS        float64          `yaml:"tau_lps"` // drift tolerance
}

// ThresholdsConfig mirrors model.PolicyThresholds in YAML form.
type ThresholdsConfig struct {
	TauBoundary    map[model.Boundary]float64    `yaml:"tau_boundary"`
	TauGranularity map[model.Granularity]float64 `yaml:"tau_granularity"`
	KMin           int                           `yaml:"k_min"`
	AlphaL         float64                       `yaml:"alpha_l"`
	AlphaU         float64                       `yaml:"alpha_u"`
	AlphaI         float64                       `yaml:"alpha_i"`
	AlphaR         float64                       `yaml:"alpha_r"`
}

// Default returns the built-in configuration.
func Default() *Config {
	th := model.DefaultPolicyThresholds()
	return &Config{
		PolicyVersion: "policy_v1",
		Thresholds: ThresholdsConfig{
			TauBoundary:    th.TauBoundary,
			TauGranularity: th.TauGranularity,
			KMin:           th.KMin,
			AlphaL:         th.AlphaL,
			AlphaU:         th.AlphaU,
			AlphaI:         th.AlphaI,
			AlphaR:         th.AlphaR,
		},
		Gate:   GateConfig{LPSMax: 0.5, RejectOnViolation: true},
		Bands:  BandConfig{BandMid: 0.45, BandHigh: 0.75},
		DP:     DPConfig{CentralSigma: 4.0, MinSupportThreshold: 25, EpsCap: 1.0, DeltaCap: 1e-6, WindowDays: 30},
		TauLPS: 0.1,
	}
}

// PolicyThresholds converts to the validated model type. Invalid values
// surface every violation, never a silent normalization.
func (c *Config) PolicyThresholds() (model.PolicyThresholds, error) {
	return model.NewPolicyThresholds(
		c.Thresholds.TauBoundary,
		c.Thresholds.TauGranularity,
		c.Thresholds.KMin,
		c.Thresholds.AlphaL,
		c.Thresholds.AlphaU,
		c.Thresholds.AlphaI,
		c.Thresholds.AlphaR,
	)
}

// Validate collects every configuration violation.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.PolicyThresholds(); err != nil {
		errs = append(errs, err)
	}
	if c.Gate.LPSMax < 0 || c.Gate.LPSMax > 1 {
		errs = append(errs, fmt.Errorf("gate.lps_max must be in [0,1], got %g", c.Gate.LPSMax))
	}
	if c.Bands.BandMid > c.Bands.BandHigh {
		errs = append(errs, fmt.Errorf("bands.band_mid (%g) must not exceed bands.band_high (%g)", c.Bands.BandMid, c.Bands.BandHigh))
	}
	if c.DP.CentralSigma < 0 {
		errs = append(errs, fmt.Errorf("dp.central_sigma must be non-negative, got %g", c.DP.CentralSigma))
	}
	if c.DP.WindowDays < 1 {
		errs = append(errs, fmt.Errorf("dp.window_days must be >= 1, got %d", c.DP.WindowDays))
	}
	if c.TauLPS < 0 {
		errs = append(errs, fmt.Errorf("tau_lps must be non-negative, got %g", c.TauLPS))
	}
	return errors.Join(errs...)
}

// Load reads a YAML policy file. Empty path or missing file returns
// defaults. Loaded values overlay the defaults.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithHash(path)
	return cfg, err
}

// LoadWithHash loads the configuration and returns the SHA-256 of the raw
// bytes on disk (hex). When defaults are used the hash is of empty input.
func LoadWithHash(path string) (*Config, string, error) {
	emptyHash := sha256.Sum256(nil)

	if path == "" {
		cfg := Default()
		return cfg, hex.EncodeToString(emptyHash[:]), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			return cfg, hex.EncodeToString(emptyHash[:]), nil
		}
		return nil, "", fmt.Errorf("config: read policy: %w", err)
	}

	h := sha256.Sum256(data)

	// Start with defaults; YAML overwrites only specified fields.
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("config: parse policy: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("config: invalid policy:\n%w", err)
	}
	return cfg, hex.EncodeToString(h[:]), nil
}

// Catalog is a YAML feature catalog file.
type Catalog struct {
	Features []model.FeatureSpec `yaml:"features"`
}

// LoadCatalog reads and validates a feature catalog file. Validation is
// exhaustive across all features.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read catalog: %w", err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("config: parse catalog: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid catalog:\n%w", err)
	}
	return &cat, nil
}

// Validate collects every violation across all features.
func (c *Catalog) Validate() error {
	var errs []error
	seen := map[string]bool{}
	for i := range c.Features {
		f := &c.Features[i]
		if f.FeatureID == "" {
			errs = append(errs, fmt.Errorf("features[%d]: feature_id required", i))
			continue
		}
		if seen[f.FeatureID] {
			errs = append(errs, fmt.Errorf("features[%d]: duplicate feature_id %q", i, f.FeatureID))
		}
		seen[f.FeatureID] = true
		if len(f.Fields) == 0 {
			errs = append(errs, fmt.Errorf("feature %q: at least one field required", f.FeatureID))
		}
		if f.TTLDays < 0 {
			errs = append(errs, fmt.Errorf("feature %q: ttl_days must be non-negative", f.FeatureID))
		}
		if f.QueryType != "" && f.QueryType != model.QueryMeanBounded01 && f.QueryType != model.QueryCount {
			errs = append(errs, fmt.Errorf("feature %q: unsupported query_type %q", f.FeatureID, f.QueryType))
		}
		for _, jk := range f.JoinKeys {
			if jk.Stability < 0 || jk.Stability > 1 {
				errs = append(errs, fmt.Errorf("feature %q: join key %q stability must be in [0,1]", f.FeatureID, jk.Name))
			}
		}
		for _, b := range f.BoundaryCapabilities {
			if !b.Valid() {
				errs = append(errs, fmt.Errorf("feature %q: unknown boundary capability %q", f.FeatureID, b))
			}
		}
		for _, g := range f.GranularityCandidates {
			if !g.Valid() {
				errs = append(errs, fmt.Errorf("feature %q: unknown granularity candidate %q", f.FeatureID, g))
			}
		}
	}
	return errors.Join(errs...)
}

// Feature returns the catalog entry with the given id, or nil.
func (c *Catalog) Feature(id string) *model.FeatureSpec {
	for i := range c.Features {
		if c.Features[i].FeatureID == id {
			return &c.Features[i]
		}
	}
	return nil
}
