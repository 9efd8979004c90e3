package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart Stage = "RUN_START"
	StagePageDone Stage = "PAGE_DONE"
	StageRunDone  Stage = "RUN_DONE"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for page completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures one milestone of a harvest run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	TS    time.Time
	Stage Stage

	// Page fields, set on PAGE_DONE.
	Page        int
	URL         string
	StatusClass StatusClass
	Present     bool
	Extracted   int
	Stored      int
	Failures    int
	Skipped     int

	// Done and Total track run completion in pages. RUN_START carries Total;
	// PAGE_DONE carries both.
	Done  int
	Total int

	// Dur is the page latency on PAGE_DONE and the run wall time on RUN_DONE.
	Dur      time.Duration
	Canceled bool
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StagePageDone:
		if e.Page <= 0 {
			return errors.New("page done requires a page number")
		}
		if e.StatusClass == "" {
			return errors.New("page done requires status class")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// RunIDBytes parses a textual run ID into the Event form. Unparseable IDs map
// to the zero value, which Validate rejects.
func RunIDBytes(runID string) [16]byte {
	id, err := uuid.Parse(runID)
	if err != nil {
		return [16]byte{}
	}
	return [16]byte(id)
}

// ClassifyStatus groups HTTP status codes for page events. Zero means no
// response was received.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
