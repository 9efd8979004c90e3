package sinks

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	pretty "github.com/jedib0t/go-pretty/v6/progress"

	"github.com/JakeFAU/forumharvest/internal/progress"
)

const barUpdateFrequency = 100 * time.Millisecond

// BarSink renders one terminal progress bar per run, counting pages.
type BarSink struct {
	writer pretty.Writer

	mu         sync.Mutex
	trackers   map[[16]byte]*pretty.Tracker
	renderDone chan struct{}
}

// NewBarSink builds a BarSink writing to out (stderr when nil).
func NewBarSink(out io.Writer) *BarSink {
	if out == nil {
		out = os.Stderr
	}
	w := pretty.NewWriter()
	w.SetOutputWriter(out)
	w.SetTrackerLength(30)
	w.SetUpdateFrequency(barUpdateFrequency)
	w.SetAutoStop(false)
	w.Style().Visibility.ETA = true
	w.Style().Visibility.Percentage = true
	w.Style().Visibility.Value = true
	return &BarSink{
		writer:   w,
		trackers: make(map[[16]byte]*pretty.Tracker),
	}
}

// Consume advances the bar of each run mentioned in the batch.
func (s *BarSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.startRun(evt)
		case progress.StagePageDone:
			if tr := s.tracker(evt); tr != nil && int64(evt.Done) > tr.Value() {
				tr.SetValue(int64(evt.Done))
			}
		case progress.StageRunDone:
			if tr := s.tracker(evt); tr != nil && !tr.IsDone() {
				if evt.Canceled {
					tr.MarkAsErrored()
				} else {
					tr.MarkAsDone()
				}
			}
		}
	}
	return nil
}

func (s *BarSink) startRun(evt progress.Event) {
	if _, ok := s.trackers[evt.RunID]; ok {
		return
	}
	tr := &pretty.Tracker{
		Message: fmt.Sprintf("pages (run %s)", evt.RunUUID().String()[:8]),
		Total:   int64(evt.Total),
		Units:   pretty.UnitsDefault,
	}
	s.trackers[evt.RunID] = tr
	s.writer.AppendTracker(tr)
	if s.renderDone == nil {
		done := make(chan struct{})
		s.renderDone = done
		go func() {
			defer close(done)
			s.writer.Render()
		}()
	}
}

// tracker returns the bar for the event's run, or nil when its RUN_START was
// never seen.
func (s *BarSink) tracker(evt progress.Event) *pretty.Tracker {
	return s.trackers[evt.RunID]
}

// Close stops rendering and waits for the final frame to be written.
func (s *BarSink) Close(ctx context.Context) error {
	s.mu.Lock()
	done := s.renderDone
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	// Stop is a no-op until Render has initialized, so repeat it.
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.writer.Stop()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("progress bar close: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
