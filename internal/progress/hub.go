package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub. Zero values pick the
// defaults below.
type Config struct {
	BufferSize    int
	MaxBatch      int
	FlushInterval time.Duration
	SinkTimeout   time.Duration
	Logger        *zap.Logger
}

const (
	defaultBufferSize    = 1024
	defaultMaxBatch      = 256
	defaultFlushInterval = 100 * time.Millisecond
	defaultSinkTimeout   = 5 * time.Second
)

// Hub buffers events and fans them out to sinks on a background goroutine.
// Emit is safe for concurrent use and never blocks.
type Hub struct {
	cfg    Config
	sinks  []Sink
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	events chan Event
	flushes chan chan struct{}

	dropped   atomic.Int64
	delivered atomic.Int64
	done      chan struct{}
	closeOnce sync.Once
}

// NewHub starts a Hub delivering to sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		logger: logger,
		events:  make(chan Event, cfg.BufferSize),
		flushes: make(chan chan struct{}),
		done:    make(chan struct{}),
	}
	go h.loop()
	return h
}

// Emit queues evt for delivery. Invalid events are discarded, and events that
// arrive while the buffer is full or after Close are counted as dropped.
func (h *Hub) Emit(evt Event) {
	if h == nil {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
	}
}

// Dropped reports how many events were lost to backpressure or shutdown.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Delivered reports how many events reached the sinks.
func (h *Hub) Delivered() int64 {
	return h.delivered.Load()
}

// Flush delivers every event emitted before the call to the sinks and
// returns once they have consumed it. After Close it only waits for the
// final delivery.
func (h *Hub) Flush(ctx context.Context) error {
	if h == nil {
		return nil
	}
	ack := make(chan struct{})
	select {
	case h.flushes <- ack:
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub flush: %w", ctx.Err())
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub flush: %w", ctx.Err())
	}
}

// Close stops accepting events, flushes what is buffered, closes the sinks
// and waits for the background goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.events)
		h.mu.Unlock()
	})
	select {
	case <-h.done:
	case <-ctx.Done():
		return fmt.Errorf("progress hub close: %w", ctx.Err())
	}
	var firstErr error
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("close progress sink: %w", err)
			}
		}
	}
	if n := h.dropped.Load(); n > 0 {
		h.logger.Warn("progress events dropped", zap.Int64("dropped", n))
	}
	return firstErr
}

func (h *Hub) loop() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, h.cfg.MaxBatch)
	for {
		select {
		case evt, ok := <-h.events:
			if !ok {
				h.flush(batch)
				return
			}
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatch {
				h.flush(batch)
				batch = batch[:0]
			}
		case ack := <-h.flushes:
			var open bool
			batch, open = h.drain(batch)
			h.flush(batch)
			batch = batch[:0]
			close(ack)
			if !open {
				return
			}
		case <-ticker.C:
			h.flush(batch)
			batch = batch[:0]
		}
	}
}

// drain moves everything already buffered into batch, delivering full
// batches on the way. It reports false once the event channel is closed.
func (h *Hub) drain(batch []Event) ([]Event, bool) {
	for {
		select {
		case evt, ok := <-h.events:
			if !ok {
				return batch, false
			}
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatch {
				h.flush(batch)
				batch = batch[:0]
			}
		default:
			return batch, true
		}
	}
}

func (h *Hub) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}
	out := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
	h.delivered.Add(int64(len(out)))
}
