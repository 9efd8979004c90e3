// Package progress carries run and page milestones from the dispatcher and
// workers to pluggable sinks. Emitters never block: a Hub buffers events,
// flushes them in batches on a background goroutine, and drops events when
// its buffer is full.
package progress
