package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/forumharvest/internal/progress"
	"github.com/JakeFAU/forumharvest/internal/storage/postgres"
)

// RunRecorder persists run lifecycle rows. postgres.RunLog satisfies it.
type RunRecorder interface {
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time, totalPages int) error
	AddPages(ctx context.Context, runID uuid.UUID, delta postgres.PageDelta) error
	FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status postgres.RunStatus) error
}

// RunLogSink writes run milestones to a RunRecorder, collapsing the page
// events of a batch into one counter update per run.
type RunLogSink struct {
	rec    RunRecorder
	logger *zap.Logger
}

// NewRunLogSink constructs a RunLogSink for the provided recorder.
func NewRunLogSink(rec RunRecorder, logger *zap.Logger) *RunLogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunLogSink{rec: rec, logger: logger}
}

// Consume applies the batch in order. Page counters pending for a run are
// written before that run is finished.
func (s *RunLogSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.rec == nil {
		return nil
	}
	pending := make(map[uuid.UUID]*postgres.PageDelta)
	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.rec.StartRun(ctx, runID, evt.TS, evt.Total); err != nil {
				return fmt.Errorf("record run start: %w", err)
			}
		case progress.StagePageDone:
			addPage(pending, runID, evt)
		case progress.StageRunDone:
			if err := s.flushRun(ctx, pending, runID); err != nil {
				return err
			}
			status := postgres.RunSucceeded
			if evt.Canceled {
				status = postgres.RunCanceled
			}
			if err := s.rec.FinishRun(ctx, runID, evt.TS, status); err != nil {
				return fmt.Errorf("record run finish: %w", err)
			}
		}
	}
	for runID := range pending {
		if err := s.flushRun(ctx, pending, runID); err != nil {
			return err
		}
	}
	return nil
}

func addPage(pending map[uuid.UUID]*postgres.PageDelta, runID uuid.UUID, evt progress.Event) {
	delta := pending[runID]
	if delta == nil {
		delta = &postgres.PageDelta{}
		pending[runID] = delta
	}
	delta.Pages++
	if !evt.Present {
		delta.Absent++
	}
	delta.RecordsStored += int64(evt.Stored)
	delta.StoreFailures += int64(evt.Failures)
}

func (s *RunLogSink) flushRun(ctx context.Context, pending map[uuid.UUID]*postgres.PageDelta, runID uuid.UUID) error {
	delta, ok := pending[runID]
	if !ok {
		return nil
	}
	delete(pending, runID)
	if err := s.rec.AddPages(ctx, runID, *delta); err != nil {
		return fmt.Errorf("record run pages: %w", err)
	}
	return nil
}

// Close implements the Sink interface; the recorder's owner closes it.
func (s *RunLogSink) Close(context.Context) error {
	return nil
}
