// Package memory provides an in-memory record store for dry runs and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/JakeFAU/forumharvest/internal/crawler"
)

// ErrInjected is returned by Upsert for ids registered with FailOn.
var ErrInjected = errors.New("injected store failure")

// RecordStore keeps records in a map keyed by id.
type RecordStore struct {
	mu      sync.RWMutex
	records map[int64]crawler.Record
	failIDs map[int64]struct{}
	writes  int
}

// NewRecordStore constructs an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		records: make(map[int64]crawler.Record),
		failIDs: make(map[int64]struct{}),
	}
}

// Upsert stores a copy of the record, replacing any record with the same id.
func (s *RecordStore) Upsert(ctx context.Context, record crawler.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: upsert record %d: %w", crawler.ErrStore, record.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, fail := s.failIDs[record.ID]; fail {
		return fmt.Errorf("%w: upsert record %d: %w", crawler.ErrStore, record.ID, ErrInjected)
	}
	record.Labels = slices.Clone(record.LabelsOrEmpty())
	s.records[record.ID] = record
	s.writes++
	return nil
}

// FailOn makes later upserts of the given ids fail.
func (s *RecordStore) FailOn(ids ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.failIDs[id] = struct{}{}
	}
}

// Get returns the stored record for id.
func (s *RecordStore) Get(id int64) (crawler.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return crawler.Record{}, false
	}
	rec.Labels = slices.Clone(rec.Labels)
	return rec, true
}

// Len reports how many distinct ids are stored.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Writes reports how many upserts succeeded.
func (s *RecordStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// All returns every stored record ordered by id.
func (s *RecordStore) All() []crawler.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Record, 0, len(s.records))
	for _, rec := range s.records {
		rec.Labels = slices.Clone(rec.Labels)
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b crawler.Record) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Close implements crawler.RecordStore; there is nothing to release.
func (s *RecordStore) Close(context.Context) error {
	return nil
}
