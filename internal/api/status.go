package api

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/forumharvest/internal/progress"
)

// Snapshot is the JSON view of the most recent run.
type Snapshot struct {
	RunID         string    `json:"run_id,omitempty"`
	State         string    `json:"state"`
	PagesDone     int       `json:"pages_done"`
	PagesTotal    int       `json:"pages_total"`
	PagesAbsent   int       `json:"pages_absent"`
	Extracted     int       `json:"records_extracted"`
	Stored        int       `json:"records_stored"`
	StoreFailures int       `json:"store_failures"`
	StartedAt     time.Time `json:"started_at,omitzero"`
	FinishedAt    time.Time `json:"finished_at,omitzero"`
}

// Run states reported by Snapshot.State.
const (
	StateIdle     = "idle"
	StateRunning  = "running"
	StateDone     = "done"
	StateCanceled = "canceled"
)

// Status is a progress.Sink that remembers the latest run's counters.
type Status struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewStatus returns an idle Status.
func NewStatus() *Status {
	return &Status{snap: Snapshot{State: StateIdle}}
}

// Consume folds events into the snapshot. Page and completion events of a
// run other than the latest started one are ignored.
func (s *Status) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		runID := evt.RunUUID().String()
		switch evt.Stage {
		case progress.StageRunStart:
			s.snap = Snapshot{
				RunID:      runID,
				State:      StateRunning,
				PagesTotal: evt.Total,
				StartedAt:  evt.TS,
			}
		case progress.StagePageDone:
			if runID != s.snap.RunID {
				continue
			}
			s.snap.PagesDone = max(s.snap.PagesDone, evt.Done)
			if !evt.Present {
				s.snap.PagesAbsent++
			}
			s.snap.Extracted += evt.Extracted
			s.snap.Stored += evt.Stored
			s.snap.StoreFailures += evt.Failures
		case progress.StageRunDone:
			if runID != s.snap.RunID {
				continue
			}
			s.snap.State = StateDone
			if evt.Canceled {
				s.snap.State = StateCanceled
			}
			s.snap.FinishedAt = evt.TS
		}
	}
	return nil
}

// Close is a no-op; the last snapshot stays readable.
func (s *Status) Close(context.Context) error {
	return nil
}

// Snapshot returns a copy of the current view.
func (s *Status) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}
