package store

import (
	"fmt"

	"github.com/releasegate/releasegate/internal/model"
)

// StagedCell is one aggregated or raw staged row.
type StagedCell struct {
	CellKey     string
	Clicks      int64
	Impressions int64
}

// MaterializedCell is one persisted noisy value with provenance.
type MaterializedCell struct {
	Boundary        model.Boundary
	FeatureID       string
	Granularity     model.Granularity
	WindowID        string
	CellKey         string
	Value           float64
	ContractVersion string
}

// StageEvent appends a raw signal event to runtime staging.
func (s *Store) StageEvent(b model.Boundary, featureID string, g model.Granularity, windowID, cellKey string, clicks, impressions int64) error {
	_, err := s.db.Exec(
		`INSERT INTO runtime_staging (boundary, feature_id, granularity, window_id, cell_key, clicks, impressions)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(b), featureID, string(g), windowID, cellKey, clicks, impressions,
	)
	if err != nil {
		return fmt.Errorf("store: stage event: %w", err)
	}
	return nil
}

// ReadStaged returns the staged rows for a (boundary, feature, granularity,
// window) in insertion order.
func (s *Store) ReadStaged(b model.Boundary, featureID string, g model.Granularity, windowID string) ([]StagedCell, error) {
	rows, err := s.db.Query(
		`SELECT cell_key, clicks, impressions FROM runtime_staging
		 WHERE boundary = ? AND feature_id = ? AND granularity = ? AND window_id = ?`,
		string(b), featureID, string(g), windowID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: read staged: %w", err)
	}
	defer rows.Close()

	var out []StagedCell
	for rows.Next() {
		var c StagedCell
		if err := rows.Scan(&c.CellKey, &c.Clicks, &c.Impressions); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// WriteMaterialized upserts a materialized cell. The primary key on
// (boundary, feature, window, cell) makes retried materializations
// idempotent instead of double-counting.
func (s *Store) WriteMaterialized(cell MaterializedCell) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO materialized_features
		 (boundary, feature_id, granularity, window_id, cell_key, value, contract_version)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(cell.Boundary), cell.FeatureID, string(cell.Granularity),
		cell.WindowID, cell.CellKey, cell.Value, cell.ContractVersion,
	)
	if err != nil {
		return fmt.Errorf("store: write materialized: %w", err)
	}
	return nil
}

// ReadMaterialized returns materialized cells for a feature and window.
func (s *Store) ReadMaterialized(featureID, windowID string) ([]MaterializedCell, error) {
	rows, err := s.db.Query(
		`SELECT boundary, feature_id, granularity, window_id, cell_key, value, contract_version
		 FROM materialized_features WHERE feature_id = ? AND window_id = ?
		 ORDER BY cell_key`,
		featureID, windowID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: read materialized: %w", err)
	}
	defer rows.Close()

	var out []MaterializedCell
	for rows.Next() {
		var c MaterializedCell
		var b, g string
		if err := rows.Scan(&b, &c.FeatureID, &g, &c.WindowID, &c.CellKey, &c.Value, &c.ContractVersion); err != nil {
			return nil, err
		}
		c.Boundary = model.Boundary(b)
		c.Granularity = model.Granularity(g)
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Spend events ---

// AppendSpend appends a spend event. Events are never mutated or deleted.
func (s *Store) AppendSpend(e model.SpendEvent) error {
	_, err := s.db.Exec(
		`INSERT INTO spend_events (feature_id, day, epsilon, delta) VALUES (?, ?, ?, ?)`,
		e.FeatureID, e.Day, e.Epsilon, e.Delta,
	)
	if err != nil {
		return fmt.Errorf("store: append spend: %w", err)
	}
	return nil
}

// SpendEvents returns all spend events for a feature in insertion order.
func (s *Store) SpendEvents(featureID string) ([]model.SpendEvent, error) {
	rows, err := s.db.Query(
		`SELECT feature_id, day, epsilon, delta FROM spend_events WHERE feature_id = ? ORDER BY rowid`,
		featureID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: spend events: %w", err)
	}
	defer rows.Close()

	var out []model.SpendEvent
	for rows.Next() {
		var e model.SpendEvent
		if err := rows.Scan(&e.FeatureID, &e.Day, &e.Epsilon, &e.Delta); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
