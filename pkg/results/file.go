package results

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore implements Store on the local filesystem, one JSON file per
// record.
//
// Directory structure:
//
//	basePath/
//	├── index.json          # method -> record ID mappings
//	└── records/
//	    ├── <id>.json
//	    └── ...
type FileStore struct {
	basePath    string
	recordsPath string

	methods map[string][]string

	mu sync.RWMutex
}

// NewFileStore creates a file-based store rooted at basePath, creating the
// directory structure if needed and loading an existing index.
func NewFileStore(basePath string) (*FileStore, error) {
	recordsPath := filepath.Join(basePath, "records")
	if err := os.MkdirAll(recordsPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create records directory: %w", err)
	}

	store := &FileStore{
		basePath:    basePath,
		recordsPath: recordsPath,
		methods:     make(map[string][]string),
	}
	if err := store.loadIndex(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *FileStore) indexPath() string {
	return filepath.Join(s.basePath, "index.json")
}

func (s *FileStore) recordPath(id string) string {
	// Sanitize ID to prevent path traversal
	safeID := strings.ReplaceAll(id, "/", "_")
	safeID = strings.ReplaceAll(safeID, "\\", "_")
	safeID = strings.ReplaceAll(safeID, "..", "_")
	return filepath.Join(s.recordsPath, safeID+".json")
}

func (s *FileStore) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read index: %w", err)
	}
	if err := json.Unmarshal(data, &s.methods); err != nil {
		return fmt.Errorf("failed to parse index: %w", err)
	}
	return nil
}

func (s *FileStore) saveIndex() error {
	data, err := json.MarshalIndent(s.methods, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	if err := os.WriteFile(s.indexPath(), data, 0644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}

// Put writes a record to disk.
func (s *FileStore) Put(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.recordPath(rec.ID)
	if _, err := os.Stat(path); err == nil {
		return ErrRecordExists
	}

	data, err := rec.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize record: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	s.methods[rec.Method] = append(s.methods[rec.Method], rec.ID)
	if err := s.saveIndex(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// Get reads a record from disk.
func (s *FileStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(id)
}

func (s *FileStore) read(id string) (*Record, error) {
	data, err := os.ReadFile(s.recordPath(id))
	if os.IsNotExist(err) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	return Deserialize(data)
}

// List reads the records of method, or all records, from disk. Records
// that cannot be read are skipped.
func (s *FileStore) List(ctx context.Context, method string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	if method == "" {
		for _, mids := range s.methods {
			ids = append(ids, mids...)
		}
	} else {
		ids = s.methods[method]
	}

	recs := make([]*Record, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := s.read(id)
		if err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	sortRecords(recs)
	return recs, nil
}

// Delete removes a record from disk.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read(id)
	if err == ErrRecordNotFound {
		return nil
	}
	if err != nil {
		return err
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

	if err := os.Remove(s.recordPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete record file: %w", err)
	}
	return s.saveIndex()
}

// Stats returns store statistics; TotalSize is the size of the record files.
func (s *FileStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var totalRecords, totalSize int64
	for _, ids := range s.methods {
		totalRecords += int64(len(ids))
		for _, id := range ids {
			if info, err := os.Stat(s.recordPath(id)); err == nil {
				totalSize += info.Size()
			}
		}
	}
	return &Stats{
		TotalRecords: totalRecords,
		TotalMethods: int64(len(s.methods)),
		TotalSize:    totalSize,
	}, nil
}

// Close is a no-op for file store.
func (s *FileStore) Close() error {
	return nil
}

var _ Store = (*FileStore)(nil)
