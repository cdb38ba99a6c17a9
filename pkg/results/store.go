package results

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Common errors for result stores.
var (
	ErrRecordNotFound = errors.New("record not found")
	ErrRecordExists   = errors.New("record already exists")
)

// Store is the interface for result storage backends.
type Store interface {
	// Put stores a record. Returns ErrRecordExists if the ID already exists.
	Put(ctx context.Context, rec *Record) error

	// Get retrieves a record by ID. Returns ErrRecordNotFound if not found.
	Get(ctx context.Context, id string) (*Record, error)

	// List returns the records of a method, or of all methods when method
	// is empty, oldest first.
	List(ctx context.Context, method string) ([]*Record, error)

	// Delete removes a record by ID. No error if it doesn't exist.
	Delete(ctx context.Context, id string) error

	Stats(ctx context.Context) (*Stats, error)

	// Close releases the store.
	Close() error
}

// Open returns the store for backend "memory" or "file". path is the base
// directory of a file store.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		if path == "" {
			return nil, errors.New("file store requires a path")
		}
		return NewFileStore(path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

func sortRecords(recs []*Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}
