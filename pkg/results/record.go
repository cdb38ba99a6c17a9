// Package results persists the embeddings produced by method runs.
// Records are keyed by a generated ID and indexed by method name.
package results

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

// Record is one stored method run.
type Record struct {
	// ID is the unique identifier for this record.
	ID string `json:"id"`

	// Method is the registered name of the method that produced the embedding.
	Method string `json:"method"`

	// Dataset names the input dataset.
	Dataset string `json:"dataset"`

	// CodeVersion is the version of the code that computed the embedding.
	CodeVersion string `json:"code_version"`

	ObsNames []string `json:"obs_names"`

	// Rows and Cols give the embedding shape; Embedding is row-major.
	Rows      int       `json:"rows"`
	Cols      int       `json:"cols"`
	Embedding []float64 `json:"embedding"`

	CreatedAt time.Time `json:"created_at"`

	// Version for future schema changes.
	Version int `json:"version"`
}

// NewRecord creates a record with a fresh ID for the embedding emb.
func NewRecord(method, dataset, codeVersion string, obsNames []string, emb mat.Matrix) (*Record, error) {
	r, c := emb.Dims()
	if len(obsNames) != r {
		return nil, fmt.Errorf("%d observation names for %d embedding rows", len(obsNames), r)
	}
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data = append(data, emb.At(i, j))
		}
	}
	return &Record{
		ID:          uuid.NewString(),
		Method:      method,
		Dataset:     dataset,
		CodeVersion: codeVersion,
		ObsNames:    obsNames,
		Rows:        r,
		Cols:        c,
		Embedding:   data,
		CreatedAt:   time.Now().UTC(),
		Version:     1,
	}, nil
}

// Matrix returns the embedding as a dense matrix.
func (r *Record) Matrix() (*mat.Dense, error) {
	if r.Rows <= 0 || r.Cols <= 0 || len(r.Embedding) != r.Rows*r.Cols {
		return nil, fmt.Errorf("record %s: embedding has %d values for shape %dx%d", r.ID, len(r.Embedding), r.Rows, r.Cols)
	}
	return mat.NewDense(r.Rows, r.Cols, r.Embedding), nil
}

// Serialize converts the record to JSON bytes for storage.
func (r *Record) Serialize() ([]byte, error) {
	return json.Marshal(r)
}

// Deserialize parses JSON bytes into a Record.
func Deserialize(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// size approximates the stored size of a record in bytes.
func (r *Record) size() int64 {
	n := int64(len(r.Embedding) * 8)
	for _, name := range r.ObsNames {
		n += int64(len(name))
	}
	return n
}

// Stats summarizes a store.
type Stats struct {
	// TotalRecords is the number of stored records.
	TotalRecords int64 `json:"total_records"`

	// TotalMethods is the number of distinct methods with records.
	TotalMethods int64 `json:"total_methods"`

	// TotalSize is the storage size in bytes.
	TotalSize int64 `json:"total_size"`
}
