// Package worker runs the fetch, extract and upsert pipeline for one page.
package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/forumharvest/internal/crawler"
)

// Worker processes listing pages. It holds no per-page state and may be
// shared by every goroutine of a run.
type Worker struct {
	fetcher   crawler.Fetcher
	extractor crawler.Extractor
	store     crawler.RecordStore
	clock     crawler.Clock
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	fetcher crawler.Fetcher,
	extractor crawler.Extractor,
	store crawler.RecordStore,
	clock crawler.Clock,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		fetcher:   fetcher,
		extractor: extractor,
		store:     store,
		clock:     clock,
		logger:    logger,
	}
}

// Process fetches a page, extracts its records and upserts each one. It
// never fails: absent pages, skipped entries and store failures are all
// reported through the returned counters.
func (w *Worker) Process(ctx context.Context, page int) (result crawler.PageResult) {
	result.Page = page
	start := w.clock.Now()
	defer func() {
		result.Duration = w.clock.Now().Sub(start)
	}()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("page processing panicked",
				zap.Int("page", page),
				zap.String("panic", fmt.Sprint(r)),
				zap.Stack("stack"),
			)
			result.Failed = true
		}
	}()

	fetched, err := w.fetcher.Fetch(ctx, page)
	result.URL = fetched.URL
	result.StatusCode = fetched.StatusCode
	if err != nil {
		w.logger.Warn("page fetch aborted", zap.Int("page", page), zap.Error(err))
		return result
	}
	if !fetched.Present {
		w.logger.Info("page absent",
			zap.Int("page", page),
			zap.String("url", fetched.URL),
			zap.Int("status", fetched.StatusCode),
			zap.NamedError("transport_error", fetched.Err),
		)
		return result
	}
	result.Present = true

	records, stats := w.extractor.Extract(fetched.Markup)
	result.RecordsExtracted = len(records)
	result.EntriesSkipped = stats.Skipped()
	if stats.Skipped() > 0 {
		w.logger.Debug("entries skipped",
			zap.Int("page", page),
			zap.Int("missing_id", stats.MissingID),
			zap.Int("missing_timestamp", stats.MissingTimestamp),
		)
	}

	for _, rec := range records {
		if err := w.store.Upsert(ctx, rec); err != nil {
			result.StoreFailures++
			w.logger.Error("record upsert failed",
				zap.Int("page", page),
				zap.Int64("record_id", rec.ID),
				zap.Error(err),
			)
			continue
		}
		result.RecordsStored++
	}

	w.logger.Debug("page processed",
		zap.Int("page", page),
		zap.Int("extracted", result.RecordsExtracted),
		zap.Int("stored", result.RecordsStored),
		zap.Int("store_failures", result.StoreFailures),
	)
	return result
}
