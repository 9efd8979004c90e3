// Package dispatcher runs a page range through a bounded worker pool.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/forumharvest/internal/crawler"
	"github.com/JakeFAU/forumharvest/internal/progress"
	"github.com/JakeFAU/forumharvest/internal/queue/memory"
)

// ErrInvalidRange reports a page range that cannot be dispatched.
var ErrInvalidRange = errors.New("invalid page range")

const defaultConcurrency = 5

// Config controls the pool size.
type Config struct {
	Concurrency int
}

// Dispatcher fans a page range out to a fixed pool of goroutines sharing one
// PageProcessor.
type Dispatcher struct {
	processor crawler.PageProcessor
	cfg       Config
	ids       crawler.IDGenerator
	clock     crawler.Clock
	emitter   progress.Emitter
	logger    *zap.Logger
}

// New creates a Dispatcher. A nil emitter discards progress events.
func New(
	processor crawler.PageProcessor,
	cfg Config,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if emitter == nil {
		emitter = progress.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		processor: processor,
		cfg:       cfg,
		ids:       ids,
		clock:     clock,
		emitter:   emitter,
		logger:    logger,
	}
}

// run carries the shared state of one Run call.
type run struct {
	id    string
	idRaw [16]byte
	total int

	mu     sync.Mutex
	report crawler.RunReport
	done   int
}

// Run processes every page in [first, last] with at most Concurrency pages in
// flight and blocks until all of them finish. Once ctx is done no further
// pages start; pages already running complete and the report is marked
// canceled.
func (d *Dispatcher) Run(ctx context.Context, first, last int) (crawler.RunReport, error) {
	if first < 1 || last < first {
		return crawler.RunReport{}, fmt.Errorf("%w: %d..%d", ErrInvalidRange, first, last)
	}
	runID, err := d.ids.NewID()
	if err != nil {
		return crawler.RunReport{}, fmt.Errorf("generate run id: %w", err)
	}

	r := &run{
		id:    runID,
		idRaw: progress.RunIDBytes(runID),
		total: last - first + 1,
		report: crawler.RunReport{
			RunID:     runID,
			FirstPage: first,
			LastPage:  last,
			StartedAt: d.clock.Now(),
		},
	}
	logger := d.logger.With(zap.String("run_id", runID))
	logger.Info("run starting",
		zap.Int("first_page", first),
		zap.Int("last_page", last),
		zap.Int("concurrency", d.cfg.Concurrency),
	)
	d.emitter.Emit(progress.Event{
		RunID: r.idRaw,
		TS:    r.report.StartedAt,
		Stage: progress.StageRunStart,
		Total: r.total,
	})

	queue := memory.NewQueue(r.total)
	for page := first; page <= last; page++ {
		// Capacity covers the whole range, so this never blocks.
		if err := queue.Enqueue(context.Background(), crawler.PageRequest{RunID: runID, Number: page}); err != nil {
			return crawler.RunReport{}, fmt.Errorf("enqueue page %d: %w", page, err)
		}
	}
	queue.Close()

	workers := min(d.cfg.Concurrency, r.total)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.drain(ctx, queue, r)
		}()
	}
	wg.Wait()

	report := r.report
	report.Canceled = report.PagesSkipped > 0
	report.FinishedAt = d.clock.Now()
	d.emitter.Emit(progress.Event{
		RunID:    r.idRaw,
		TS:       report.FinishedAt,
		Stage:    progress.StageRunDone,
		Done:     report.PagesAttempted,
		Total:    r.total,
		Dur:      report.Duration(),
		Canceled: report.Canceled,
	})
	logger.Info("run finished",
		zap.Int("pages_attempted", report.PagesAttempted),
		zap.Int("pages_absent", report.PagesAbsent),
		zap.Int("pages_skipped", report.PagesSkipped),
		zap.Int("records_stored", report.RecordsStored),
		zap.Int("store_failures", report.StoreFailures),
		zap.Duration("duration", report.Duration()),
		zap.Bool("canceled", report.Canceled),
	)
	return report, nil
}

// drain dequeues until the queue is exhausted. Pages dequeued after ctx is
// done are counted as skipped instead of processed.
func (d *Dispatcher) drain(ctx context.Context, queue crawler.Queue, r *run) {
	for {
		req, err := queue.Dequeue(context.Background())
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			r.mu.Lock()
			r.report.PagesSkipped++
			r.mu.Unlock()
			continue
		}
		res := d.processor.Process(context.WithoutCancel(ctx), req.Number)

		r.mu.Lock()
		r.report.Add(res)
		r.done++
		done := r.done
		r.mu.Unlock()

		d.emitter.Emit(progress.Event{
			RunID:       r.idRaw,
			TS:          d.clock.Now(),
			Stage:       progress.StagePageDone,
			Page:        req.Number,
			URL:         res.URL,
			StatusClass: progress.ClassifyStatus(res.StatusCode),
			Present:     res.Present,
			Extracted:   res.RecordsExtracted,
			Stored:      res.RecordsStored,
			Failures:    res.StoreFailures,
			Skipped:     res.EntriesSkipped,
			Done:        done,
			Total:       r.total,
			Dur:         res.Duration,
		})
	}
}
