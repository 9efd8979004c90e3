package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/forumharvest/internal/crawler"
)

const defaultRunLogTable = "harvest_runs"

// RunStatus is the lifecycle state of a ledger row.
type RunStatus string

// Run states written to the ledger.
const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunCanceled  RunStatus = "canceled"
)

// RunLog keeps one row per harvest run with cumulative page counters.
type RunLog struct {
	pool  execCloser
	table string
	owned bool
}

// NewRunLogWithPool builds a RunLog that owns pool and closes it on Close.
func NewRunLogWithPool(pool execCloser, table string) (*RunLog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultRunLogTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunLog{pool: pool, table: table, owned: true}, nil
}

// RunLog returns a ledger sharing the store's pool. Closing the ledger
// leaves the pool open.
func (s *RecordStore) RunLog(table string) (*RunLog, error) {
	log, err := NewRunLogWithPool(s.pool, table)
	if err != nil {
		return nil, err
	}
	log.owned = false
	return log, nil
}

// EnsureSchema creates the ledger table when it does not exist.
func (l *RunLog) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id UUID PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status TEXT NOT NULL,
	total_pages INT NOT NULL,
	pages_done INT NOT NULL DEFAULT 0,
	pages_absent INT NOT NULL DEFAULT 0,
	records_stored BIGINT NOT NULL DEFAULT 0,
	store_failures BIGINT NOT NULL DEFAULT 0
)`, l.table)
	if _, err := l.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("%w: create table %s: %w", crawler.ErrStore, l.table, err)
	}
	return nil
}

// StartRun inserts the ledger row for a run. Re-sending the same start is a
// no-op.
func (l *RunLog) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time, totalPages int) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, started_at, status, total_pages)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING`, l.table)
	if _, err := l.pool.Exec(ctx, query, runID, startedAt, RunRunning, totalPages); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// PageDelta is an increment to a run's page counters.
type PageDelta struct {
	Pages         int
	Absent        int
	RecordsStored int64
	StoreFailures int64
}

// AddPages adds delta to the run's counters.
func (l *RunLog) AddPages(ctx context.Context, runID uuid.UUID, delta PageDelta) error {
	query := fmt.Sprintf(`
UPDATE %s
SET pages_done = pages_done + $1,
	pages_absent = pages_absent + $2,
	records_stored = records_stored + $3,
	store_failures = store_failures + $4
WHERE id = $5`, l.table)
	if _, err := l.pool.Exec(ctx, query, delta.Pages, delta.Absent, delta.RecordsStored, delta.StoreFailures, runID); err != nil {
		return fmt.Errorf("add pages: %w", err)
	}
	return nil
}

// FinishRun stamps the run's final status.
func (l *RunLog) FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2
WHERE id = $3`, l.table)
	if _, err := l.pool.Exec(ctx, query, finishedAt, status, runID); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// Close releases the pool when the ledger owns it.
func (l *RunLog) Close() {
	if l == nil || !l.owned || l.pool == nil {
		return
	}
	l.pool.Close()
}
