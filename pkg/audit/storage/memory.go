package storage

import (
	"context"
	"sort"
	"sync"

	"mercator-hq/arbiter/pkg/audit"
)

// MemoryStorage keeps records in a map. Contents are lost on restart.
type MemoryStorage struct {
	records map[string]*audit.Record
	mu      sync.RWMutex
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{records: make(map[string]*audit.Record)}
}

// Store saves a copy of record.
func (s *MemoryStorage) Store(ctx context.Context, record *audit.Record) error {
	if record == nil || record.ID == "" {
		return audit.NewStorageError("memory", "store", errMissingID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = cloneRecord(record)
	return nil
}

// Query returns copies of matching records.
func (s *MemoryStorage) Query(ctx context.Context, query *audit.Query) ([]*audit.Record, error) {
	q, err := prepare(query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	results := make([]*audit.Record, 0)
	for _, r := range s.records {
		if q.Matches(r) {
			results = append(results, cloneRecord(r))
		}
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			if q.SortOrder == "asc" {
				return a.Timestamp.Before(b.Timestamp)
			}
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ID < b.ID
	})

	if q.Offset >= len(results) {
		return []*audit.Record{}, nil
	}
	end := q.Offset + q.Limit
	if end > len(results) {
		end = len(results)
	}
	return results[q.Offset:end], nil
}

// Count returns the number of matching records.
func (s *MemoryStorage) Count(ctx context.Context, query *audit.Query) (int64, error) {
	q := filterOnly(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, r := range s.records {
		if q.Matches(r) {
			n++
		}
	}
	return n, nil
}

// Delete removes matching records.
func (s *MemoryStorage) Delete(ctx context.Context, query *audit.Query) (int64, error) {
	q := filterOnly(query)

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, r := range s.records {
		if q.Matches(r) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (s *MemoryStorage) Close() error {
	return nil
}

// Size returns the number of stored records.
func (s *MemoryStorage) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func cloneRecord(r *audit.Record) *audit.Record {
	cp := *r
	cp.AppliedRuleIDs = append([]string(nil), r.AppliedRuleIDs...)
	cp.Violations = append([]audit.ViolationRecord(nil), r.Violations...)
	cp.Faults = append([]string(nil), r.Faults...)
	return &cp
}
