// Package dimred runs dimensionality-reduction benchmark methods on
// single-cell expression data.
//
// A method takes a dataset of raw counts (observations x features) and
// returns a new dataset with a two-dimensional embedding under
// Obsm["X_emb"]. The bundled method, umap_logCPM_1kHVG, normalizes counts
// to log counts-per-million, keeps 1000 highly variable features, computes
// 50 principal components, builds a neighbour graph and lays it out with
// UMAP.
//
// # Quick Start
//
//	r, err := dimred.New(dimred.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	ds, err := dataset.Load("counts.csv")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	out, err := r.Run(ctx, ds)
//	emb := out.Obsm[dataset.ObsmEmbedding]
//
// Runs never modify the input dataset. With the default seed the same input
// gives a bit-identical embedding.
package dimred

import (
	"context"
	"fmt"

	"github.com/openproblems/dimred/pkg/dataset"
	"github.com/openproblems/dimred/pkg/method"
	"github.com/openproblems/dimred/pkg/results"
)

// StorageBackend selects where run results are kept.
type StorageBackend int

const (
	// Memory keeps results in RAM. Not persistent across restarts.
	Memory StorageBackend = iota

	// File stores one JSON file per result under [Config.StoragePath].
	File
)

// Config controls a [Runner].
type Config struct {
	// Method is the registered method name.
	// Default: "umap_logCPM_1kHVG".
	Method string

	// NPCA is the number of principal components used for the neighbour
	// graph. Must be >= 1. Default: 50.
	NPCA int

	// Test marks runs on reduced test data. It does not change the computation.
	Test bool

	// Storage selects the result store. Default: Memory.
	Storage StorageBackend

	// StoragePath is the directory of a File store.
	StoragePath string

	// Registry resolves method names. Default: method.Default.
	Registry *method.Registry
}

// Runner runs one configured method and records its results.
// It is safe for concurrent use.
type Runner struct {
	cfg   Config
	info  method.Info
	store results.Store
}

// New creates a Runner. The method must be registered.
func New(cfg Config) (*Runner, error) {
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	info, _, err := cfg.Registry.Lookup(cfg.Method)
	if err != nil {
		return nil, fmt.Errorf("dimred: %w", err)
	}

	var store results.Store
	switch cfg.Storage {
	case Memory:
		store = results.NewMemoryStore()
	case File:
		if store, err = results.NewFileStore(cfg.StoragePath); err != nil {
			return nil, fmt.Errorf("dimred: %w", err)
		}
	}

	return &Runner{cfg: cfg, info: info, store: store}, nil
}

// Method returns the metadata of the configured method.
func (r *Runner) Method() method.Info {
	return r.info
}

// Run applies the method to ds and returns the annotated copy.
func (r *Runner) Run(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, error) {
	return r.cfg.Registry.Run(ctx, r.cfg.Method, ds, method.Options{Test: r.cfg.Test, NPCA: r.cfg.NPCA})
}

// RunAndStore runs the method and stores the embedding, returning the record.
func (r *Runner) RunAndStore(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, *results.Record, error) {
	out, err := r.Run(ctx, ds)
	if err != nil {
		return nil, nil, err
	}
	emb, err := out.Embedding(dataset.ObsmEmbedding)
	if err != nil {
		return nil, nil, err
	}
	version, _ := out.Uns[dataset.UnsCodeVersion].(string)
	rec, err := results.NewRecord(r.cfg.Method, ds.Name, version, out.ObsNames, emb)
	if err != nil {
		return nil, nil, err
	}
	if err := r.store.Put(ctx, rec); err != nil {
		return nil, nil, fmt.Errorf("dimred: %w", err)
	}
	return out, rec, nil
}

// Results returns the result store.
func (r *Runner) Results() results.Store {
	return r.store
}

// Close releases the result store.
func (r *Runner) Close() error {
	return r.store.Close()
}

func applyDefaults(cfg *Config) {
	if cfg.Method == "" {
		cfg.Method = method.UMAPInfo.Name
	}
	if cfg.NPCA == 0 {
		cfg.NPCA = method.DefaultNPCA
	}
	if cfg.Registry == nil {
		cfg.Registry = method.Default
	}
}

func validateConfig(cfg *Config) error {
	if cfg.NPCA < 1 {
		return fmt.Errorf("dimred: NPCA must be >= 1, got %d", cfg.NPCA)
	}
	switch cfg.Storage {
	case Memory:
	case File:
		if cfg.StoragePath == "" {
			return fmt.Errorf("dimred: StoragePath is required when Storage is File")
		}
	default:
		return fmt.Errorf("dimred: unknown storage backend: %d", cfg.Storage)
	}
	return nil
}
