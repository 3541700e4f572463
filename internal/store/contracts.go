package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/releasegate/releasegate/internal/model"
)

// ActivateContract inserts c and deactivates every other version for the
// feature in one transaction, so at most one contract per feature is ever
// active. Concurrent activations serialize on the single connection.
func (s *Store) ActivateContract(c *model.RuntimeContract) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("store: marshal contract: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin activation: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO runtime_contracts (feature_id, contract_version, active, payload_json)
		 VALUES (?, ?, ?, ?)`,
		c.FeatureID, c.ContractVersion, boolToInt(c.Active), string(payload),
	); err != nil {
		return fmt.Errorf("store: insert contract: %w", err)
	}

	if c.Active {
		if _, err := tx.Exec(
			`UPDATE runtime_contracts SET active = 0
			 WHERE feature_id = ? AND contract_version <> ?`,
			c.FeatureID, c.ContractVersion,
		); err != nil {
			return fmt.Errorf("store: deactivate prior contracts: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit activation: %w", err)
	}
	return nil
}

// ActiveContract returns the feature's active contract, or (nil, nil).
func (s *Store) ActiveContract(featureID string) (*model.RuntimeContract, error) {
	var payload string
	err := s.db.QueryRow(
		`SELECT payload_json FROM runtime_contracts
		 WHERE feature_id = ? AND active = 1
		 ORDER BY contract_version DESC LIMIT 1`,
		featureID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: active contract: %w", err)
	}
	var c model.RuntimeContract
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, fmt.Errorf("store: unmarshal contract: %w", err)
	}
	return &c, nil
}

// ContractVersions returns all versions for a feature with their active flag.
func (s *Store) ContractVersions(featureID string) ([]model.RuntimeContract, error) {
	rows, err := s.db.Query(
		`SELECT payload_json, active FROM runtime_contracts WHERE feature_id = ?
		 ORDER BY contract_version`,
		featureID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: contract versions: %w", err)
	}
	defer rows.Close()

	var out []model.RuntimeContract
	for rows.Next() {
		var payload string
		var active int
		if err := rows.Scan(&payload, &active); err != nil {
			return nil, err
		}
		var c model.RuntimeContract
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("store: unmarshal contract: %w", err)
		}
		// The column is authoritative; the payload may predate deactivation.
		c.Active = active == 1
		out = append(out, c)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
