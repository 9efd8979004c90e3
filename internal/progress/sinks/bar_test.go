package sinks

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/forumharvest/internal/progress"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestBarSinkTracksPages(t *testing.T) {
	t.Parallel()

	out := &lockedBuffer{}
	sink := NewBarSink(out)
	run := progress.RunIDBytes(uuid.NewString())
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: run, TS: now, Stage: progress.StageRunStart, Total: 3},
		{RunID: run, TS: now, Stage: progress.StagePageDone, Page: 2, StatusClass: progress.Status2xx, Done: 1, Total: 3},
		{RunID: run, TS: now, Stage: progress.StagePageDone, Page: 1, StatusClass: progress.Status2xx, Done: 2, Total: 3},
	}))

	sink.mu.Lock()
	tr := sink.trackers[run]
	sink.mu.Unlock()
	require.NotNil(t, tr)
	require.Equal(t, int64(2), tr.Value())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: run, TS: now, Stage: progress.StageRunDone},
	}))
	require.True(t, tr.IsDone())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sink.Close(ctx))
	require.NotEmpty(t, out.String())
}

func TestBarSinkIgnoresUnknownRuns(t *testing.T) {
	t.Parallel()

	sink := NewBarSink(&lockedBuffer{})
	run := progress.RunIDBytes(uuid.NewString())
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: run, TS: time.Now(), Stage: progress.StagePageDone, Page: 1, StatusClass: progress.Status2xx, Done: 1},
		{RunID: run, TS: time.Now(), Stage: progress.StageRunDone},
	}))
	require.Empty(t, sink.trackers)
	require.NoError(t, sink.Close(context.Background()))
}
