// Package ledger tracks cumulative differential-privacy spend per feature
// over a sliding day window.
//
// The accountant is simple sequential composition (sum of epsilons) — a
// conservative baseline. A tighter accountant (e.g. Rényi-DP composition)
// can replace it behind the same Accountant interface without changing
// callers.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/releasegate/releasegate/internal/model"
)

// DayFormat is the civil-date layout of SpendEvent.Day.
const DayFormat = "2006-01-02"

// Accountant is the three-operation budget interface.
type Accountant interface {
	WindowSpend(featureID string, windowDays int, asof time.Time) (eps, delta float64, err error)
	CanSpend(featureID string, windowDays int, asof time.Time, epsCap, deltaCap, nextEps, nextDelta float64) (bool, error)
	AdaptiveEps(featureID string, windowDays int, asof time.Time, epsCap float64, plannedReleasesLeft int) (float64, error)
}

// EventStore is the persistence the ledger composes over. Events are
// append-only; the store must never mutate or delete them.
type EventStore interface {
	AppendSpend(e model.SpendEvent) error
	SpendEvents(featureID string) ([]model.SpendEvent, error)
}

// Ledger is a sequential-composition accountant over an EventStore.
// Check-then-commit sequences are serialized per feature.
type Ledger struct {
	store EventStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds a ledger over the given event store.
func New(store EventStore) *Ledger {
	return &Ledger{store: store, locks: make(map[string]*sync.Mutex)}
}

// featureLock returns the per-feature mutex, creating it on first use.
func (l *Ledger) featureLock(featureID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[featureID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[featureID] = m
	}
	return m
}

// Commit appends a spend event unconditionally. Callers enforcing a cap
// should use TrySpend instead.
func (l *Ledger) Commit(e model.SpendEvent) error {
	if _, err := time.Parse(DayFormat, e.Day); err != nil {
		return fmt.Errorf("ledger: invalid day %q: %w", e.Day, err)
	}
	if e.Epsilon < 0 || e.Delta < 0 {
		return fmt.Errorf("ledger: negative spend (eps=%g delta=%g)", e.Epsilon, e.Delta)
	}
	return l.store.AppendSpend(e)
}

// WindowSpend sums epsilon and delta over events whose day falls in
// [asof−windowDays+1, asof] inclusive.
func (l *Ledger) WindowSpend(featureID string, windowDays int, asof time.Time) (float64, float64, error) {
	events, err := l.store.SpendEvents(featureID)
	if err != nil {
		return 0, 0, err
	}
	start := asof.AddDate(0, 0, -(windowDays - 1))
	startDay := start.Format(DayFormat)
	asofDay := asof.Format(DayFormat)

	var eps, delta float64
	for _, e := range events {
		// Civil-date strings compare correctly lexicographically.
		if e.Day >= startDay && e.Day <= asofDay {
			eps += e.Epsilon
			delta += e.Delta
		}
	}
	return eps, delta, nil
}

// CanSpend reports whether spending (nextEps, nextDelta) keeps the window
// total within both caps.
func (l *Ledger) CanSpend(featureID string, windowDays int, asof time.Time, epsCap, deltaCap, nextEps, nextDelta float64) (bool, error) {
	eps, delta, err := l.WindowSpend(featureID, windowDays, asof)
	if err != nil {
		return false, err
	}
	return eps+nextEps <= epsCap && delta+nextDelta <= deltaCap, nil
}

// TrySpend atomically checks the caps and commits the event when it fits.
// Returns false without committing when the spend would exceed either cap.
// The per-feature lock closes the check-then-act race under concurrent
// release pipelines.
func (l *Ledger) TrySpend(e model.SpendEvent, windowDays int, asof time.Time, epsCap, deltaCap float64) (bool, error) {
	lock := l.featureLock(e.FeatureID)
	lock.Lock()
	defer lock.Unlock()

	ok, err := l.CanSpend(e.FeatureID, windowDays, asof, epsCap, deltaCap, e.Epsilon, e.Delta)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := l.Commit(e); err != nil {
		return false, err
	}
	return true, nil
}

// AdaptiveEps splits the remaining window budget evenly across the planned
// future releases: max(0, cap − window_spend) / planned_releases_left, or 0
// when no releases remain.
func (l *Ledger) AdaptiveEps(featureID string, windowDays int, asof time.Time, epsCap float64, plannedReleasesLeft int) (float64, error) {
	if plannedReleasesLeft <= 0 {
		return 0, nil
	}
	eps, _, err := l.WindowSpend(featureID, windowDays, asof)
	if err != nil {
		return 0, err
	}
	remain := epsCap - eps
	if remain < 0 {
		remain = 0
	}
	return remain / float64(plannedReleasesLeft), nil
}
