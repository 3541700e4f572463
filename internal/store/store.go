// Package store persists catalog entries, stats snapshots, probe results,
// scorecard history, contracts, staged events, materialized values and
// spend events in a single sqlite database.
//
// The schema choice is incidental; callers depend only on these methods, so
// a warehouse-backed implementation can replace this one.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/releasegate/releasegate/internal/model"
)

// Store wraps the sqlite handle.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and initializes the schema.
// Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	// sqlite handles one writer at a time; serialize access through a
	// single connection so check-then-commit sequences see their own writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for transactional callers (contract activation).
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS catalog_features (
			feature_id TEXT PRIMARY KEY,
			payload_json TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS feature_stats (
			feature_id TEXT NOT NULL,
			window_id TEXT NOT NULL,
			granularity TEXT NOT NULL,
			n_obs INTEGER NOT NULL,
			n_distinct_est INTEGER NOT NULL,
			min_support_est INTEGER NOT NULL,
			tail_mass_est REAL NOT NULL,
			approx_variance REAL NOT NULL,
			PRIMARY KEY (feature_id, window_id, granularity)
		)`,
		`CREATE TABLE IF NOT EXISTS probe_results (
			feature_id TEXT PRIMARY KEY,
			payload_json TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scorecards (
			feature_id TEXT NOT NULL,
			computed_at INTEGER NOT NULL,
			payload_json TEXT NOT NULL,
			PRIMARY KEY (feature_id, computed_at)
		)`,
		`CREATE TABLE IF NOT EXISTS routing_decisions (
			feature_id TEXT NOT NULL,
			issued_at INTEGER NOT NULL,
			payload_json TEXT NOT NULL,
			PRIMARY KEY (feature_id, issued_at)
		)`,
		`CREATE TABLE IF NOT EXISTS runtime_contracts (
			feature_id TEXT NOT NULL,
			contract_version TEXT NOT NULL,
			active INTEGER NOT NULL,
			payload_json TEXT NOT NULL,
			PRIMARY KEY (feature_id, contract_version)
		)`,
		`CREATE TABLE IF NOT EXISTS runtime_staging (
			boundary TEXT NOT NULL,
			feature_id TEXT NOT NULL,
			granularity TEXT NOT NULL,
			window_id TEXT NOT NULL,
			cell_key TEXT NOT NULL,
			clicks INTEGER NOT NULL,
			impressions INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS materialized_features (
			boundary TEXT NOT NULL,
			feature_id TEXT NOT NULL,
			granularity TEXT NOT NULL,
			window_id TEXT NOT NULL,
			cell_key TEXT NOT NULL,
			value REAL NOT NULL,
			contract_version TEXT NOT NULL,
			PRIMARY KEY (boundary, feature_id, window_id, cell_key)
		)`,
		`CREATE TABLE IF NOT EXISTS spend_events (
			feature_id TEXT NOT NULL,
			day TEXT NOT NULL,
			epsilon REAL NOT NULL,
			delta REAL NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

// --- Catalog ---

// UpsertFeature stores or replaces a catalog entry.
func (s *Store) UpsertFeature(f *model.FeatureSpec) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("store: marshal feature: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO catalog_features (feature_id, payload_json) VALUES (?, ?)`,
		f.FeatureID, string(payload),
	)
	if err != nil {
		return fmt.Errorf("store: upsert feature: %w", err)
	}
	return nil
}

// GetFeature loads a catalog entry, or (nil, nil) when absent.
func (s *Store) GetFeature(featureID string) (*model.FeatureSpec, error) {
	var payload string
	err := s.db.QueryRow(
		`SELECT payload_json FROM catalog_features WHERE feature_id = ?`, featureID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get feature: %w", err)
	}
	var f model.FeatureSpec
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		return nil, fmt.Errorf("store: unmarshal feature: %w", err)
	}
	return &f, nil
}

// ListFeatureIDs returns every catalog feature id in insertion order.
func (s *Store) ListFeatureIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT feature_id FROM catalog_features ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("store: list features: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Stats ---

// UpsertStats stores or replaces a stats snapshot.
func (s *Store) UpsertStats(snap *model.StatsSnapshot) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO feature_stats
		 (feature_id, window_id, granularity, n_obs, n_distinct_est, min_support_est, tail_mass_est, approx_variance)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.FeatureID, snap.WindowID, string(snap.Granularity),
		snap.NObs, snap.NDistinctEst, snap.MinSupportEst, snap.TailMassEst, snap.ApproxVariance,
	)
	if err != nil {
		return fmt.Errorf("store: upsert stats: %w", err)
	}
	return nil
}

// GetStats loads a snapshot, or (nil, nil) when absent.
func (s *Store) GetStats(featureID, windowID string, g model.Granularity) (*model.StatsSnapshot, error) {
	snap := model.StatsSnapshot{FeatureID: featureID, WindowID: windowID, Granularity: g}
	err := s.db.QueryRow(
		`SELECT n_obs, n_distinct_est, min_support_est, tail_mass_est, approx_variance
		 FROM feature_stats WHERE feature_id = ? AND window_id = ? AND granularity = ?`,
		featureID, windowID, string(g),
	).Scan(&snap.NObs, &snap.NDistinctEst, &snap.MinSupportEst, &snap.TailMassEst, &snap.ApproxVariance)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get stats: %w", err)
	}
	return &snap, nil
}

// --- Probes ---

// UpsertProbe stores or replaces a probe result.
func (s *Store) UpsertProbe(p *model.ProbeResult) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("store: marshal probe: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO probe_results (feature_id, payload_json) VALUES (?, ?)`,
		p.FeatureID, string(payload),
	)
	if err != nil {
		return fmt.Errorf("store: upsert probe: %w", err)
	}
	return nil
}

// GetProbe loads a probe result, or (nil, nil) when absent.
func (s *Store) GetProbe(featureID string) (*model.ProbeResult, error) {
	var payload string
	err := s.db.QueryRow(
		`SELECT payload_json FROM probe_results WHERE feature_id = ?`, featureID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get probe: %w", err)
	}
	var p model.ProbeResult
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("store: unmarshal probe: %w", err)
	}
	return &p, nil
}

// --- Scorecards ---

// AppendScorecard appends a scorecard record to the feature's history.
func (s *Store) AppendScorecard(rec *model.ScorecardRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal scorecard: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO scorecards (feature_id, computed_at, payload_json) VALUES (?, ?, ?)`,
		rec.FeatureID, rec.ComputedAt, string(payload),
	)
	if err != nil {
		return fmt.Errorf("store: append scorecard: %w", err)
	}
	return nil
}

// LatestScorecards returns up to limit most recent records, newest first.
func (s *Store) LatestScorecards(featureID string, limit int) ([]model.ScorecardRecord, error) {
	rows, err := s.db.Query(
		`SELECT payload_json FROM scorecards WHERE feature_id = ?
		 ORDER BY computed_at DESC LIMIT ?`,
		featureID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: latest scorecards: %w", err)
	}
	defer rows.Close()

	var out []model.ScorecardRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec model.ScorecardRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("store: unmarshal scorecard: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- Routing decisions ---

// AppendRoutingDecision appends a routing decision.
func (s *Store) AppendRoutingDecision(rd *model.RoutingDecision) error {
	payload, err := json.Marshal(rd)
	if err != nil {
		return fmt.Errorf("store: marshal routing decision: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO routing_decisions (feature_id, issued_at, payload_json) VALUES (?, ?, ?)`,
		rd.FeatureID, rd.IssuedAt, string(payload),
	)
	if err != nil {
		return fmt.Errorf("store: append routing decision: %w", err)
	}
	return nil
}

// LatestRoutingDecision returns the most recent decision, or (nil, nil).
func (s *Store) LatestRoutingDecision(featureID string) (*model.RoutingDecision, error) {
	var payload string
	err := s.db.QueryRow(
		`SELECT payload_json FROM routing_decisions WHERE feature_id = ?
		 ORDER BY issued_at DESC LIMIT 1`,
		featureID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest routing decision: %w", err)
	}
	var rd model.RoutingDecision
	if err := json.Unmarshal([]byte(payload), &rd); err != nil {
		return nil, fmt.Errorf("store: unmarshal routing decision: %w", err)
	}
	return &rd, nil
}
