package results

import (
	"context"
	"sync"
)

// MemoryStore implements Store using in-memory maps.
// Not persistent - data is lost on restart.
type MemoryStore struct {
	records map[string]*Record

	// methods maps method name -> record IDs
	methods map[string][]string

	mu sync.RWMutex
}

// NewMemoryStore creates a new in-memory result store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		methods: make(map[string][]string),
	}
}

// Put stores a record in memory.
func (s *MemoryStore) Put(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return ErrRecordExists
	}
	s.records[rec.ID] = rec
	s.methods[rec.Method] = append(s.methods[rec.Method], rec.ID)
	return nil
}

// Get retrieves a record by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[id]
	if !exists {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

// List returns the records of method, or all records.
func (s *MemoryStore) List(ctx context.Context, method string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []*Record
	if method == "" {
		recs = make([]*Record, 0, len(s.records))
		for _, rec := range s.records {
			recs = append(recs, rec)
		}
	} else {
		for _, id := range s.methods[method] {
			if rec, ok := s.records[id]; ok {
				recs = append(recs, rec)
			}
		}
	}
	sortRecords(recs)
	return recs, nil
}

// Delete removes a record by ID.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists {
		return nil
	}

	ids := s.methods[rec.Method]
	for i, rid := range ids {
		if rid == id {
			s.methods[rec.Method] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.methods[rec.Method]) == 0 {
		delete(s.methods, rec.Method)
	}
	delete(s.records, id)
	return nil
}

// Stats returns overall store statistics.
func (s *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var totalSize int64
	for _, rec := range s.records {
		totalSize += rec.size()
	}
	return &Stats{
		TotalRecords: int64(len(s.records)),
		TotalMethods: int64(len(s.methods)),
		TotalSize:    totalSize,
	}, nil
}

// Close is a no-op for memory store.
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
