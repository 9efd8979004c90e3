package extractor

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var errEmptyTimestamp = errors.New("empty timestamp")

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses listing timestamps such as "2023-01-01 10:00:00Z".
// The trailing Z is a UTC designator: it is stripped and the remaining
// naive value is read in UTC. Values with an explicit RFC 3339 offset are
// honored and converted to UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, errEmptyTimestamp
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	s = strings.Replace(s, " ", "T", 1)
	s = strings.TrimSuffix(s, "Z")
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
