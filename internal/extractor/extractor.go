// Package extractor turns listing page markup into records.
package extractor

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/forumharvest/internal/crawler"
)

// Extractor implements crawler.Extractor over goquery documents.
// It holds no state and is safe for concurrent use.
type Extractor struct{}

// New creates an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract returns the records found in markup, in document order, along with
// counts of entries that were skipped. Entries without a numeric identifier
// or a parseable timestamp produce no record; markup that cannot be parsed
// yields nothing.
func (e *Extractor) Extract(markup []byte) ([]crawler.Record, crawler.ExtractStats) {
	var stats crawler.ExtractStats
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, stats
	}

	entries := entryNodes(doc)
	records := make([]crawler.Record, 0, entries.Length())
	entries.Each(func(_ int, entry *goquery.Selection) {
		stats.Entries++
		rec, ok := e.entryRecord(entry, &stats)
		if ok {
			records = append(records, rec)
		}
	})
	return records, stats
}

func (e *Extractor) entryRecord(entry *goquery.Selection, stats *crawler.ExtractStats) (crawler.Record, bool) {
	id, ok := entryID(entry)
	if !ok {
		stats.MissingID++
		return crawler.Record{}, false
	}
	ts, ok := entryTimestamp(entry)
	if !ok {
		stats.MissingTimestamp++
		return crawler.Record{}, false
	}
	return crawler.Record{
		ID:        id,
		Timestamp: ts,
		Labels:    entryLabels(entry),
	}, true
}

func entryID(entry *goquery.Selection) (int64, bool) {
	raw, ok := entry.Attr(entryIDAttr)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func entryTimestamp(entry *goquery.Selection) (ts time.Time, ok bool) {
	node := firstWithClass(entry, timeClass)
	if node.Length() == 0 {
		return ts, false
	}
	raw, ok := node.Attr(timeAttr)
	if !ok {
		return ts, false
	}
	parsed, err := ParseTimestamp(raw)
	if err != nil {
		return ts, false
	}
	return parsed, true
}

func entryLabels(entry *goquery.Selection) []string {
	tags := allWithClass(entry, labelClass)
	labels := make([]string, 0, tags.Length())
	tags.Each(func(_ int, tag *goquery.Selection) {
		labels = append(labels, stripWhitespace(tag.Text()))
	})
	return labels
}
