// Package method registers dimensionality-reduction methods for the
// benchmark and runs them on datasets.
//
// A method takes a dataset of raw counts and returns a new dataset carrying
// an embedding under Obsm["X_emb"] and the producing code version under
// Uns["method_code_version"]. The input dataset is never modified.
package method

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/openproblems/dimred/pkg/dataset"
)

// Common registry errors.
var (
	ErrMethodNotFound = errors.New("method not found")
	ErrMethodExists   = errors.New("method already registered")
)

// Info describes a registered method and the paper it comes from.
type Info struct {
	Name       string `json:"name" yaml:"name"`
	MethodName string `json:"method_name" yaml:"method_name"`
	PaperName  string `json:"paper_name" yaml:"paper_name"`
	PaperURL   string `json:"paper_url" yaml:"paper_url"`
	PaperYear  int    `json:"paper_year" yaml:"paper_year"`
	CodeURL    string `json:"code_url" yaml:"code_url"`
	IsBaseline bool   `json:"is_baseline" yaml:"is_baseline"`
}

// Options are passed to every method run.
type Options struct {
	// Test marks a run on reduced test data. Methods accept it but do not
	// change their computation.
	Test bool

	// NPCA is the number of principal components used to build the
	// neighbour graph. Default: 50.
	NPCA int
}

// DefaultNPCA is used when Options.NPCA is zero.
const DefaultNPCA = 50

// Func runs a method on ds.
type Func func(ctx context.Context, ds *dataset.Dataset, opts Options) (*dataset.Dataset, error)

type entry struct {
	info Info
	fn   Func
}

// Registry maps method names to implementations. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]entry)}
}

// Default holds the methods provided by this module.
var Default = NewRegistry()

func init() {
	if err := Default.Register(UMAPInfo, UMAPLogCPM1kHVG); err != nil {
		panic(err)
	}
}

// Register adds a method. Names must be unique and non-empty.
func (r *Registry) Register(info Info, fn Func) error {
	if info.Name == "" {
		return errors.New("method name is required")
	}
	if fn == nil {
		return fmt.Errorf("method %q: nil function", info.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.methods[info.Name]; exists {
		return fmt.Errorf("%w: %s", ErrMethodExists, info.Name)
	}
	r.methods[info.Name] = entry{info: info, fn: fn}
	return nil
}

// Lookup returns the metadata and implementation of a method.
func (r *Registry) Lookup(name string) (Info, Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.methods[name]
	if !ok {
		return Info{}, nil, fmt.Errorf("%w: %s", ErrMethodNotFound, name)
	}
	return e.info, e.fn, nil
}

// List returns the metadata of all methods sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.methods))
	for _, e := range r.methods {
		infos = append(infos, e.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Run looks up a method by name and runs it.
func (r *Registry) Run(ctx context.Context, name string, ds *dataset.Dataset, opts Options) (*dataset.Dataset, error) {
	_, fn, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return fn(ctx, ds, opts)
}
