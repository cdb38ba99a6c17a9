package results

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"
)

func testRecord(t *testing.T, method string) *Record {
	t.Helper()
	emb := mat.NewDense(3, 2, []float64{0, 1, 2, 3, 4, 5})
	rec, err := NewRecord(method, "pancreas", "1.0.0", []string{"a", "b", "c"}, emb)
	if err != nil {
		t.Fatalf("NewRecord failed: %v", err)
	}
	return rec
}

func TestNewRecord(t *testing.T) {
	rec := testRecord(t, "umap")
	if rec.ID == "" {
		t.Error("expected generated ID")
	}
	if rec.Rows != 3 || rec.Cols != 2 {
		t.Errorf("shape = %dx%d, want 3x2", rec.Rows, rec.Cols)
	}
	m, err := rec.Matrix()
	if err != nil {
		t.Fatal(err)
	}
	if m.At(2, 1) != 5 {
		t.Errorf("At(2,1) = %v, want 5", m.At(2, 1))
	}

	if _, err := NewRecord("umap", "x", "", []string{"a"}, mat.NewDense(2, 2, nil)); err == nil {
		t.Error("expected error for mismatched observation names")
	}

	other := testRecord(t, "umap")
	if other.ID == rec.ID {
		t.Error("record IDs should be unique")
	}
}

func TestRecordMatrixCorrupt(t *testing.T) {
	rec := &Record{ID: "x", Rows: 2, Cols: 2, Embedding: []float64{1}}
	if _, err := rec.Matrix(); err == nil {
		t.Error("expected error for inconsistent shape")
	}
}

func testStore(t *testing.T, store Store) {
	ctx := context.Background()

	a := testRecord(t, "umap")
	b := testRecord(t, "umap")
	b.CreatedAt = a.CreatedAt.Add(time.Second)
	c := testRecord(t, "pca")

	for _, rec := range []*Record{a, b, c} {
		if err := store.Put(ctx, rec); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}
	if err := store.Put(ctx, a); err != ErrRecordExists {
		t.Errorf("expected ErrRecordExists, got %v", err)
	}

	got, err := store.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Method != "umap" || got.Dataset != "pancreas" || len(got.ObsNames) != 3 {
		t.Errorf("unexpected record %+v", got)
	}

	umapRecs, _ := store.List(ctx, "umap")
	if len(umapRecs) != 2 || umapRecs[0].ID != a.ID || umapRecs[1].ID != b.ID {
		t.Errorf("List(umap) returned %d records in wrong order", len(umapRecs))
	}
	all, _ := store.List(ctx, "")
	if len(all) != 3 {
		t.Errorf("expected 3 records, got %d", len(all))
	}

	stats, _ := store.Stats(ctx)
	if stats.TotalRecords != 3 || stats.TotalMethods != 2 || stats.TotalSize <= 0 {
		t.Errorf("unexpected stats %+v", stats)
	}

	if err := store.Delete(ctx, c.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Get(ctx, c.ID); err != ErrRecordNotFound {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
	if err := store.Delete(ctx, c.ID); err != nil {
		t.Errorf("deleting a missing record should succeed, got %v", err)
	}
	stats, _ = store.Stats(ctx)
	if stats.TotalMethods != 1 {
		t.Errorf("expected 1 method after delete, got %d", stats.TotalMethods)
	}
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	testStore(t, store)
}

func TestFileStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store1, _ := NewFileStore(dir)
	rec := testRecord(t, "umap")
	store1.Put(ctx, rec)

	if _, err := os.Stat(filepath.Join(dir, "records", rec.ID+".json")); err != nil {
		t.Error("record file should exist")
	}

	// Create new store instance (simulates restart)
	store2, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	recs, _ := store2.List(ctx, "umap")
	if len(recs) != 1 || recs[0].ID != rec.ID {
		t.Fatalf("expected persisted record, got %d", len(recs))
	}
	m, err := recs[0].Matrix()
	if err != nil {
		t.Fatal(err)
	}
	if m.At(1, 0) != 2 {
		t.Errorf("embedding not persisted: At(1,0) = %v", m.At(1, 0))
	}
}

func TestFileStore_PathTraversal(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewFileStore(dir)
	ctx := context.Background()

	rec := testRecord(t, "umap")
	rec.ID = "../../escape"
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "records"))
	if len(entries) != 1 {
		t.Errorf("expected record to stay inside records dir, found %d entries", len(entries))
	}
}

func TestOpen(t *testing.T) {
	if s, err := Open("memory", ""); err != nil || s == nil {
		t.Errorf("Open(memory) = %v, %v", s, err)
	}
	if _, err := Open("file", ""); err == nil {
		t.Error("expected error for file store without path")
	}
	if s, err := Open("file", t.TempDir()); err != nil || s == nil {
		t.Errorf("Open(file) = %v, %v", s, err)
	}
	if _, err := Open("s3", ""); err == nil {
		t.Error("expected error for unknown backend")
	}
}
