// Package inmem provides an in-memory implementation of run.Store for tests
// and local development. Records do not survive process restarts; use
// features/run/mongo for a durable store.
package inmem

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/run"
)

// Store implements run.Store in memory. Records are copied on read and write.
type Store struct {
	mu      sync.RWMutex
	records map[run.Key]run.Record
	now     func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[run.Key]run.Record), now: time.Now}
}

// Upsert inserts or replaces the record keyed by (ThreadID, RunID). A zero
// StartedAt keeps the stored value; UpdatedAt defaults to now.
func (s *Store) Upsert(_ context.Context, r run.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if existing, ok := s.records[r.Key()]; ok && r.StartedAt.IsZero() {
		r.StartedAt = existing.StartedAt
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	r.Labels = maps.Clone(r.Labels)
	s.records[r.Key()] = r
	return nil
}

// Load returns the record of a run or run.ErrNotFound.
func (s *Store) Load(_ context.Context, threadID, runID string) (run.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[run.Key{ThreadID: threadID, RunID: runID}]
	if !ok {
		return run.Record{}, run.ErrNotFound
	}
	r.Labels = maps.Clone(r.Labels)
	return r, nil
}

// ListThread returns the records of threadID ordered by StartedAt.
func (s *Store) ListThread(_ context.Context, threadID string) ([]run.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []run.Record
	for k, r := range s.records {
		if k.ThreadID != threadID {
			continue
		}
		r.Labels = maps.Clone(r.Labels)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].RunID < out[j].RunID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

// Reset clears all records.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[run.Key]run.Record)
}
