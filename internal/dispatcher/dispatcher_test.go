package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/forumharvest/internal/crawler"
	"github.com/JakeFAU/forumharvest/internal/extractor"
	"github.com/JakeFAU/forumharvest/internal/progress"
	"github.com/JakeFAU/forumharvest/internal/storage/memory"
	"github.com/JakeFAU/forumharvest/internal/worker"
)

const runID = "0190a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b"

type fixedIDs struct{ err error }

func (f fixedIDs) NewID() (string, error) { return runID, f.err }

type fakeClock struct{}

func (fakeClock) Now() time.Time { return time.Unix(1700000000, 0).UTC() }

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]progress.Stage, 0, len(e.events))
	for _, evt := range e.events {
		out = append(out, evt.Stage)
	}
	return out
}

// gauge tracks the peak number of callers inside enter/leave.
type gauge struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (g *gauge) enter() {
	n := g.inFlight.Add(1)
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

func (g *gauge) leave() { g.inFlight.Add(-1) }

// gaugeProcessor records the peak number of concurrent Process calls.
type gaugeProcessor struct {
	gauge
	hold time.Duration

	mu    sync.Mutex
	pages []int
}

func (p *gaugeProcessor) Process(_ context.Context, page int) crawler.PageResult {
	p.enter()
	time.Sleep(p.hold)
	p.leave()

	p.mu.Lock()
	p.pages = append(p.pages, page)
	p.mu.Unlock()
	return crawler.PageResult{Page: page, Present: true, StatusCode: 200}
}

func newDispatcher(p crawler.PageProcessor, concurrency int, emitter progress.Emitter) *Dispatcher {
	return New(p, Config{Concurrency: concurrency}, fixedIDs{}, fakeClock{}, emitter, zap.NewNop())
}

func TestRunRespectsConcurrencyBound(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct{ limit, pages int }{{5, 5}, {2, 9}, {1, 3}} {
		t.Run(fmt.Sprintf("limit=%d pages=%d", tc.limit, tc.pages), func(t *testing.T) {
			t.Parallel()
			proc := &gaugeProcessor{hold: 20 * time.Millisecond}
			report, err := newDispatcher(proc, tc.limit, nil).Run(context.Background(), 1, tc.pages)
			require.NoError(t, err)
			require.Equal(t, tc.pages, report.PagesAttempted)
			require.LessOrEqual(t, int(proc.peak.Load()), tc.limit)
			require.ElementsMatch(t, pageRange(1, tc.pages), proc.pages)
		})
	}
}

// gaugeFetcher serves one entry per page and records the peak number of
// concurrent fetches.
type gaugeFetcher struct {
	gauge
	hold time.Duration
}

func (f *gaugeFetcher) Fetch(_ context.Context, page int) (crawler.Page, error) {
	f.enter()
	defer f.leave()
	time.Sleep(f.hold)
	return crawler.Page{Number: page, StatusCode: 200, Present: true, Markup: []byte(entry(1000+page, "go"))}, nil
}

func TestRunBoundsConcurrentFetches(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct{ limit, pages int }{{5, 12}, {3, 7}, {1, 4}} {
		t.Run(fmt.Sprintf("limit=%d pages=%d", tc.limit, tc.pages), func(t *testing.T) {
			t.Parallel()
			fetcher := &gaugeFetcher{hold: 20 * time.Millisecond}
			store := memory.NewRecordStore()
			w := worker.New(fetcher, extractor.New(), store, fakeClock{}, zap.NewNop())

			report, err := newDispatcher(w, tc.limit, nil).Run(context.Background(), 1, tc.pages)
			require.NoError(t, err)
			require.Equal(t, tc.pages, report.PagesAttempted)
			require.Equal(t, tc.pages, report.RecordsStored)
			require.Equal(t, tc.pages, store.Len())
			require.LessOrEqual(t, int(fetcher.peak.Load()), tc.limit)
			require.Positive(t, fetcher.peak.Load())
		})
	}
}

func TestRunEmitsProgress(t *testing.T) {
	t.Parallel()

	emitter := &recordingEmitter{}
	report, err := newDispatcher(&gaugeProcessor{}, 2, emitter).Run(context.Background(), 3, 5)
	require.NoError(t, err)
	require.Equal(t, runID, report.RunID)
	require.Equal(t, 3, report.TotalPages())

	stages := emitter.stages()
	require.Len(t, stages, 5)
	require.Equal(t, progress.StageRunStart, stages[0])
	require.Equal(t, progress.StageRunDone, stages[4])

	var dones []int
	for _, evt := range emitter.events[1:4] {
		require.Equal(t, progress.StagePageDone, evt.Stage)
		require.Equal(t, 3, evt.Total)
		require.NoError(t, evt.Validate())
		dones = append(dones, evt.Done)
	}
	require.ElementsMatch(t, []int{1, 2, 3}, dones)
	require.Equal(t, 3, emitter.events[0].Total)
}

type mapFetcher struct {
	mu    sync.Mutex
	pages map[int]string
}

func (f *mapFetcher) set(page int, markup string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[page] = markup
}

func (f *mapFetcher) Fetch(_ context.Context, page int) (crawler.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	markup, ok := f.pages[page]
	if !ok {
		return crawler.Page{Number: page, StatusCode: 503}, nil
	}
	return crawler.Page{Number: page, StatusCode: 200, Present: true, Markup: []byte(markup)}, nil
}

func entry(id int, tags ...string) string {
	out := fmt.Sprintf(`<div id="question-summary-%d" data-post-id="%d"><span class="relativetime" title="2023-01-01 10:00:00Z"></span>`, id, id)
	for _, tag := range tags {
		out += `<a class="post-tag">` + tag + `</a>`
	}
	return out + `</div>`
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	fetcher := &mapFetcher{pages: map[int]string{1: entry(12345, "python", "web-scraping")}}
	store := memory.NewRecordStore()
	w := worker.New(fetcher, extractor.New(), store, fakeClock{}, zap.NewNop())
	d := newDispatcher(w, 5, nil)

	report, err := d.Run(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Equal(t, 1, report.RecordsStored)

	rec, ok := store.Get(12345)
	require.True(t, ok)
	require.Equal(t, []string{"python", "web-scraping"}, rec.Labels)
	require.True(t, time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC).Equal(rec.Timestamp))

	fetcher.set(1, entry(12345, "python"))
	_, err = d.Run(context.Background(), 1, 1)
	require.NoError(t, err)

	require.Equal(t, 1, store.Len())
	rec, _ = store.Get(12345)
	require.Equal(t, []string{"python"}, rec.Labels)
}

func TestRunToleratesAbsentPages(t *testing.T) {
	t.Parallel()

	fetcher := &mapFetcher{pages: map[int]string{
		1: entry(1, "go"),
		3: entry(3, "rust"),
	}}
	store := memory.NewRecordStore()
	w := worker.New(fetcher, extractor.New(), store, fakeClock{}, zap.NewNop())

	report, err := newDispatcher(w, 2, nil).Run(context.Background(), 1, 3)
	require.NoError(t, err)
	require.Equal(t, 3, report.PagesAttempted)
	require.Equal(t, 1, report.PagesAbsent)
	require.Equal(t, 2, report.RecordsStored)
	require.False(t, report.Canceled)
	require.Equal(t, 2, store.Len())
}

// blockingProcessor cancels the run from inside the first page.
type blockingProcessor struct {
	cancel context.CancelFunc
	calls  atomic.Int32
}

func (p *blockingProcessor) Process(ctx context.Context, page int) crawler.PageResult {
	p.calls.Add(1)
	p.cancel()
	// In-flight pages keep a live context.
	if ctx.Err() != nil {
		return crawler.PageResult{Page: page}
	}
	return crawler.PageResult{Page: page, Present: true}
}

func TestRunStopsDispatchingAfterCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc := &blockingProcessor{cancel: cancel}
	emitter := &recordingEmitter{}

	report, err := New(proc, Config{Concurrency: 1}, fixedIDs{}, fakeClock{}, emitter, nil).Run(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, int32(1), proc.calls.Load())
	require.Equal(t, 1, report.PagesAttempted)
	require.Zero(t, report.PagesAbsent)
	require.Equal(t, 9, report.PagesSkipped)
	require.True(t, report.Canceled)

	last := emitter.events[len(emitter.events)-1]
	require.Equal(t, progress.StageRunDone, last.Stage)
	require.True(t, last.Canceled)
}

func TestRunAlreadyCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	proc := &gaugeProcessor{}

	report, err := newDispatcher(proc, 3, nil).Run(ctx, 1, 4)
	require.NoError(t, err)
	require.Empty(t, proc.pages)
	require.Equal(t, 4, report.PagesSkipped)
	require.True(t, report.Canceled)
}

func TestRunRejectsInvalidRange(t *testing.T) {
	t.Parallel()

	d := newDispatcher(&gaugeProcessor{}, 1, nil)
	for _, r := range [][2]int{{0, 3}, {5, 4}, {-1, -1}} {
		_, err := d.Run(context.Background(), r[0], r[1])
		require.ErrorIs(t, err, ErrInvalidRange)
	}
}

func TestRunIDFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("entropy exhausted")
	d := New(&gaugeProcessor{}, Config{}, fixedIDs{err: boom}, fakeClock{}, nil, nil)
	_, err := d.Run(context.Background(), 1, 1)
	require.ErrorIs(t, err, boom)
}

func pageRange(first, last int) []int {
	out := make([]int, 0, last-first+1)
	for p := first; p <= last; p++ {
		out = append(out, p)
	}
	return out
}
