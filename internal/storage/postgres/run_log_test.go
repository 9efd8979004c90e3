package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestRunLogLifecycle(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	log, err := NewRunLogWithPool(mock, "")
	require.NoError(t, err)

	runID := uuid.New()
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(time.Minute)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS harvest_runs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("INSERT INTO harvest_runs").
		WithArgs(runID, started, RunRunning, 5).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE harvest_runs").
		WithArgs(2, 1, int64(50), int64(1), runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE harvest_runs").
		WithArgs(finished, RunSucceeded, runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ctx := context.Background()
	require.NoError(t, log.EnsureSchema(ctx))
	require.NoError(t, log.StartRun(ctx, runID, started, 5))
	require.NoError(t, log.AddPages(ctx, runID, PageDelta{Pages: 2, Absent: 1, RecordsStored: 50, StoreFailures: 1}))
	require.NoError(t, log.FinishRun(ctx, runID, finished, RunSucceeded))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLogErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	log, err := NewRunLogWithPool(mock, "runs")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO runs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("relation does not exist"))

	err = log.StartRun(context.Background(), uuid.New(), time.Now(), 1)
	require.ErrorContains(t, err, "start run")
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = NewRunLogWithPool(mock, "bad-name")
	require.Error(t, err)
}

func TestStoreRunLogSharesPool(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewRecordStoreWithPool(mock, "")
	require.NoError(t, err)
	log, err := store.RunLog("")
	require.NoError(t, err)
	require.False(t, log.owned)
	log.Close()
}

func TestRunLogSchemaColumns(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	log, err := NewRunLogWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec(`(?s)CREATE TABLE IF NOT EXISTS harvest_runs \(\s*` +
		`id UUID PRIMARY KEY,\s*` +
		`started_at TIMESTAMPTZ NOT NULL,\s*` +
		`finished_at TIMESTAMPTZ,\s*` +
		`status TEXT NOT NULL,\s*` +
		`total_pages INT NOT NULL,\s*` +
		`pages_done INT NOT NULL DEFAULT 0,\s*` +
		`pages_absent INT NOT NULL DEFAULT 0,\s*` +
		`records_stored BIGINT NOT NULL DEFAULT 0,\s*` +
		`store_failures BIGINT NOT NULL DEFAULT 0\s*\)`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, log.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
