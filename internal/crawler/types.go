package crawler

import (
	"errors"
	"time"
)

// ErrStore marks failures reported by a RecordStore (connectivity, transport,
// or an unresolved write conflict).
var ErrStore = errors.New("record store failure")

// Record is one listing entry extracted from a page.
type Record struct {
	ID        int64     `json:"id" bson:"_id"`
	Timestamp time.Time `json:"date" bson:"date"`
	Labels    []string  `json:"tags" bson:"tags"`
}

// LabelsOrEmpty returns the labels, substituting an empty slice for nil so
// stores persist an empty array instead of null.
func (r Record) LabelsOrEmpty() []string {
	if r.Labels == nil {
		return []string{}
	}
	return r.Labels
}

// Page is the transient result of fetching one listing page.
type Page struct {
	Number     int
	URL        string
	StatusCode int
	Markup     []byte
	// Present is true only when the transport returned 200 OK with a body.
	Present  bool
	Duration time.Duration
	// Err holds the transport error that made the page absent, if any.
	Err error
}

// ExtractStats counts the entries seen on a page and why some were skipped.
type ExtractStats struct {
	Entries          int
	MissingID        int
	MissingTimestamp int
}

// Skipped is the number of entries that produced no record.
func (s ExtractStats) Skipped() int {
	return s.MissingID + s.MissingTimestamp
}

// PageResult summarizes the processing of one page.
type PageResult struct {
	Page             int
	URL              string
	StatusCode       int
	Present          bool
	// Failed marks a page whose processing was cut short by a recovered
	// panic. The counters cover the work done before it.
	Failed           bool
	RecordsExtracted int
	RecordsStored    int
	StoreFailures    int
	EntriesSkipped   int
	Duration         time.Duration
}

// PageRequest is a unit of work on the dispatcher queue.
type PageRequest struct {
	RunID  string
	Number int
}

// RunReport aggregates the page results of one batch run.
type RunReport struct {
	RunID            string    `json:"run_id"`
	FirstPage        int       `json:"first_page"`
	LastPage         int       `json:"last_page"`
	PagesAttempted   int       `json:"pages_attempted"`
	PagesAbsent      int       `json:"pages_absent"`
	PagesSkipped     int       `json:"pages_skipped"`
	PagesFailed      int       `json:"pages_failed"`
	RecordsExtracted int       `json:"records_extracted"`
	RecordsStored    int       `json:"records_stored"`
	StoreFailures    int       `json:"store_failures"`
	EntriesSkipped   int       `json:"entries_skipped"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Canceled         bool      `json:"canceled"`
}

// TotalPages is the size of the requested page range.
func (r RunReport) TotalPages() int {
	if r.LastPage < r.FirstPage {
		return 0
	}
	return r.LastPage - r.FirstPage + 1
}

// Duration is the wall time of the run.
func (r RunReport) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Add folds a page result into the report.
func (r *RunReport) Add(res PageResult) {
	r.PagesAttempted++
	if !res.Present {
		r.PagesAbsent++
	}
	if res.Failed {
		r.PagesFailed++
	}
	r.RecordsExtracted += res.RecordsExtracted
	r.RecordsStored += res.RecordsStored
	r.StoreFailures += res.StoreFailures
	r.EntriesSkipped += res.EntriesSkipped
}
