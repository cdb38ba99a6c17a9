// Package service runs registered methods on submitted datasets and keeps
// their embeddings in a result store.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/openproblems/dimred/pkg/dataset"
	"github.com/openproblems/dimred/pkg/method"
	"github.com/openproblems/dimred/pkg/results"
)

// Config holds service configuration.
type Config struct {
	// MaxConcurrentRuns bounds the number of methods running at once.
	MaxConcurrentRuns int

	// DefaultNPCA is used for runs that do not set NPCA.
	DefaultNPCA int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentRuns: 2,
		DefaultNPCA:       method.DefaultNPCA,
	}
}

// Errors
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// RunRequest is one method run on an inline dataset.
type RunRequest struct {
	Method   string
	Dataset  string
	Rows     [][]float64
	ObsNames []string
	VarNames []string
	Options  method.Options
}

// RunService executes methods and stores their results.
type RunService struct {
	config   Config
	registry *method.Registry
	store    results.Store
	sem      chan struct{}
}

// NewRunService creates a service over registry and store. A nil registry
// selects method.Default.
func NewRunService(cfg Config, registry *method.Registry, store results.Store) (*RunService, error) {
	if store == nil {
		return nil, errors.New("result store is required")
	}
	if registry == nil {
		registry = method.Default
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 1
	}
	if cfg.DefaultNPCA <= 0 {
		cfg.DefaultNPCA = method.DefaultNPCA
	}
	return &RunService{
		config:   cfg,
		registry: registry,
		store:    store,
		sem:      make(chan struct{}, cfg.MaxConcurrentRuns),
	}, nil
}

// ListMethods returns the registered methods.
func (s *RunService) ListMethods(ctx context.Context) []method.Info {
	return s.registry.List()
}

// Run executes req and stores the resulting embedding.
func (s *RunService) Run(ctx context.Context, req RunRequest) (*results.Record, error) {
	if req.Method == "" {
		return nil, fmt.Errorf("%w: method is required", ErrInvalidInput)
	}
	if _, _, err := s.registry.Lookup(req.Method); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if req.Options.NPCA < 0 {
		return nil, fmt.Errorf("%w: n_pca must not be negative, got %d", ErrInvalidInput, req.Options.NPCA)
	}
	if err := checkCounts(req.Rows); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	ds, err := dataset.FromRows(req.Rows, req.ObsNames, req.VarNames)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	ds.Name = req.Dataset
	ds.Layers[dataset.LayerCounts] = ds.X

	opts := req.Options
	if opts.NPCA == 0 {
		opts.NPCA = s.config.DefaultNPCA
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.sem }()

	start := time.Now()
	out, err := s.registry.Run(ctx, req.Method, ds, opts)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", req.Method, err)
	}

	emb, err := out.Embedding(dataset.ObsmEmbedding)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", req.Method, err)
	}
	version, _ := out.Uns[dataset.UnsCodeVersion].(string)

	rec, err := results.NewRecord(req.Method, req.Dataset, version, out.ObsNames, emb)
	if err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store result: %w", err)
	}

	slog.Info("method run stored", "method", req.Method, "dataset", req.Dataset, "id", rec.ID,
		"n_obs", rec.Rows, "elapsed", time.Since(start))
	return rec, nil
}

// checkCounts rejects values that cannot be expression counts.
func checkCounts(rows [][]float64) error {
	for i, row := range rows {
		for j, v := range row {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("count at row %d, column %d is %v", i, j, v)
			}
		}
	}
	return nil
}

// GetResult returns a stored run.
func (s *RunService) GetResult(ctx context.Context, id string) (*results.Record, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	rec, err := s.store.Get(ctx, id)
	if errors.Is(err, results.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: result %s", ErrNotFound, id)
	}
	return rec, err
}

// HealthCheck reports whether the store is reachable and how many results it holds.
func (s *RunService) HealthCheck(ctx context.Context) (bool, string, int64) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return false, fmt.Sprintf("store error: %v", err), 0
	}
	return true, "healthy", stats.TotalRecords
}
