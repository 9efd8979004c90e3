package crawler

import (
	"context"
	"time"
)

// Fetcher retrieves the markup of one listing page. A page that could not be
// loaded is reported as absent, not as an error; only cancellation errors.
type Fetcher interface {
	Fetch(ctx context.Context, page int) (Page, error)
}

// Extractor turns page markup into records. It never fails.
type Extractor interface {
	Extract(markup []byte) ([]Record, ExtractStats)
}

// RecordStore persists records keyed by identifier with upsert semantics.
// Implementations must be safe for concurrent use.
type RecordStore interface {
	Upsert(ctx context.Context, record Record) error
	Close(ctx context.Context) error
}

// PageProcessor handles a single page number to completion.
type PageProcessor interface {
	Process(ctx context.Context, page int) PageResult
}

// Queue provides enqueue/dequeue semantics for page requests.
type Queue interface {
	Enqueue(ctx context.Context, req PageRequest) error
	Dequeue(ctx context.Context) (PageRequest, error)
	Close()
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
