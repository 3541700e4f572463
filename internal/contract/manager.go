// Package contract manages the issuance lifecycle of runtime contracts:
// no contract → issued(v1, active) → superseded(v1) + issued(v2, active).
package contract

import (
	"fmt"
	"sync"
	"time"

	"github.com/releasegate/releasegate/internal/audit"
	"github.com/releasegate/releasegate/internal/model"
	"github.com/releasegate/releasegate/internal/store"
)

// Manager issues and activates contracts. Issuance for the same feature is
// serialized so two contracts can never appear active simultaneously.
type Manager struct {
	store *store.Store
	log   *audit.Log

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	now   func() time.Time
}

// New builds a manager. log may be nil when auditing is handled upstream.
func New(st *store.Store, log *audit.Log) *Manager {
	return &Manager{
		store: st,
		log:   log,
		locks: make(map[string]*sync.Mutex),
		now:   time.Now,
	}
}

func (m *Manager) featureLock(featureID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[featureID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[featureID] = l
	}
	return l
}

// Version derives a monotonic contract version from issuance time.
func Version(featureID string, issuedAt time.Time) string {
	return fmt.Sprintf("c_%s_%d", featureID, issuedAt.UnixNano())
}

// DowngradeChain returns the pre-authorized fallbacks for a contract cell:
// every strictly coarser granularity at the same boundary, coarsening order.
// Cross-boundary downgrade is never pre-authorized.
func DowngradeChain(b model.Boundary, g model.Granularity) []model.DowngradeTarget {
	var out []model.DowngradeTarget
	for _, coarser := range g.Downgrades() {
		out = append(out, model.DowngradeTarget{Boundary: b, Granularity: coarser})
	}
	return out
}

// IssueFromRouting converts a routing decision into an active contract and
// activates it, deactivating every prior version atomically.
func (m *Manager) IssueFromRouting(rd *model.RoutingDecision) (*model.RuntimeContract, error) {
	lock := m.featureLock(rd.FeatureID)
	lock.Lock()
	defer lock.Unlock()

	c := &model.RuntimeContract{
		FeatureID:        rd.FeatureID,
		ContractVersion:  rd.ContractVersion,
		Boundary:         rd.Boundary,
		Granularity:      rd.Granularity,
		AggregationKeys:  rd.AggregationKeys,
		DPMechanism:      rd.DPMechanism,
		DPParameters:     rd.DPParameters,
		JoinPolicy:       rd.JoinPolicy,
		RetentionPolicy:  rd.RetentionPolicy,
		AllowDowngradeTo: DowngradeChain(rd.Boundary, rd.Granularity),
		Active:           true,
	}
	if c.ContractVersion == "" {
		c.ContractVersion = Version(rd.FeatureID, m.now())
	}

	if err := m.store.ActivateContract(c); err != nil {
		return nil, fmt.Errorf("contract: activate %s: %w", c.ContractVersion, err)
	}

	if m.log != nil {
		if err := m.log.Event(audit.EventContractPublished, c.FeatureID, map[string]any{
			"contract_version": c.ContractVersion,
			"boundary":         string(c.Boundary),
			"granularity":      string(c.Granularity),
		}); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Active returns the feature's active contract, or (nil, nil).
func (m *Manager) Active(featureID string) (*model.RuntimeContract, error) {
	return m.store.ActiveContract(featureID)
}
