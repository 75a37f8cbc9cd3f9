// Package session owns run-scoped bookkeeping: per-tick counters during the
// run and one persisted session record at shutdown.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the counters for one continuous run of the pipeline.
type State struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	LastTick  time.Time
	Attempted int
	Delivered int
	Failed    int
	Archived  int
}

// Outcome summarizes one tick for accounting. A tick with Captured == false
// only counts as attempted.
type Outcome struct {
	Captured  bool
	Archived  bool
	Delivered bool
}

// Tracker is the only component that mutates session counters. The pipeline
// records outcomes from its single control loop; the status endpoint reads
// snapshots concurrently, hence the mutex.
type Tracker struct {
	mu      sync.Mutex
	state   State
	store   *Store
	flushed bool
	logger  *slog.Logger
}

// NewTracker starts a new session with a fresh identifier. store may be nil,
// in which case Flush only returns the final state without persisting.
func NewTracker(store *Store) *Tracker {
	now := time.Now()
	return &Tracker{
		state: State{
			// Human-sortable prefix plus a short random suffix: readable in
			// archive filenames, unique across same-second restarts.
			ID:        fmt.Sprintf("%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8]),
			StartedAt: now,
		},
		store:  store,
		logger: slog.Default(),
	}
}

// ID returns the session identifier.
func (t *Tracker) ID() string {
	return t.state.ID
}

// Record accounts one tick.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.Attempted++
	t.state.LastTick = time.Now()
	if !o.Captured {
		return
	}
	if o.Archived {
		t.state.Archived++
	}
	if o.Delivered {
		t.state.Delivered++
	} else {
		t.state.Failed++
	}
}

// Snapshot returns a copy of the current counters.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Flush persists the session record and returns the final state. It is
// idempotent: the end time is fixed on the first call and repeated calls
// re-save the same record.
func (t *Tracker) Flush() (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.flushed {
		t.state.EndedAt = time.Now()
		t.flushed = true
	}

	if t.store == nil {
		return t.state, nil
	}
	if err := t.store.SaveSession(t.state); err != nil {
		return t.state, fmt.Errorf("persisting session record: %w", err)
	}
	return t.state, nil
}
