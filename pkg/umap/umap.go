// Package umap computes Uniform Manifold Approximation and Projection
// layouts from a fuzzy neighbour graph.
//
// The graph is produced by package neighbors and read from
// Obsp["connectivities"]. Embed initializes the layout from the graph
// Laplacian, rescales it to [0, 10] per dimension and then optimizes the
// fuzzy set cross-entropy by stochastic gradient descent with negative
// sampling.
//
// With a fixed RandomState the layout is bit-identical across runs: the
// optimizer is single-threaded and draws from one seeded source.
package umap

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"runtime/debug"

	"gonum.org/v1/gonum/mat"

	"github.com/openproblems/dimred/pkg/dataset"
)

// ImplementationVersion identifies this UMAP implementation when the build
// carries no module version.
const ImplementationVersion = "1.0.0"

// ModulePath is the Go module that provides this package.
const ModulePath = "github.com/openproblems/dimred"

// UnsKey is where Embed records the fitted curve parameters.
const UnsKey = "umap"

// Init selects the initial layout.
type Init string

const (
	InitSpectral Init = "spectral"
	InitRandom   Init = "random"
)

// Options controls Embed. Zero values select defaults.
type Options struct {
	// NComponents is the embedding dimension. Default: 2.
	NComponents int

	// MinDist is the minimum distance between embedded points. Default: 0.5.
	MinDist float64

	// Spread is the scale of embedded points. Default: 1.0.
	Spread float64

	// A and B override the curve parameters fitted from MinDist and Spread.
	A, B float64

	// NEpochs is the number of optimization epochs.
	// Default: 500 for graphs with at most 10000 vertices, 200 otherwise.
	NEpochs int

	// LearningRate is the initial SGD step size. Default: 1.0.
	LearningRate float64

	// Gamma weights the repulsive term. Default: 1.0.
	Gamma float64

	// NegativeSampleRate is the number of negative samples per positive sample. Default: 5.
	NegativeSampleRate int

	// Init selects the initial layout. Default: spectral.
	Init Init

	// RandomState seeds the optimizer. Default: 0.
	RandomState int64
}

// Params is recorded under Uns["umap"].
type Params struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

func applyDefaults(opts *Options, nVertices int) {
	if opts.NComponents <= 0 {
		opts.NComponents = 2
	}
	if opts.MinDist == 0 {
		opts.MinDist = 0.5
	}
	if opts.Spread == 0 {
		opts.Spread = 1.0
	}
	if opts.NEpochs <= 0 {
		opts.NEpochs = 500
		if nVertices > 10000 {
			opts.NEpochs = 200
		}
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = 1.0
	}
	if opts.Gamma <= 0 {
		opts.Gamma = 1.0
	}
	if opts.NegativeSampleRate <= 0 {
		opts.NegativeSampleRate = 5
	}
	if opts.Init == "" {
		opts.Init = InitSpectral
	}
}

// Embed computes a UMAP layout of ds and returns a dataset with
// Obsm["X_umap"] (NObs x NComponents) and Uns["umap"] set.
func Embed(ctx context.Context, ds *dataset.Dataset, opts Options) (*dataset.Dataset, error) {
	graph, ok := ds.Obsp[dataset.ObspConnectivities]
	if !ok {
		return nil, fmt.Errorf("obsp %q: %w; compute neighbors first", dataset.ObspConnectivities, dataset.ErrSlotNotFound)
	}
	n := graph.Rows
	applyDefaults(&opts, n)

	a, b := opts.A, opts.B
	if a == 0 || b == 0 {
		var err error
		if a, b, err = FindABParams(opts.Spread, opts.MinDist); err != nil {
			return nil, err
		}
	}

	rng := rand.New(rand.NewSource(opts.RandomState))

	// Edges too weak to be sampled within NEpochs are dropped.
	pruned := graph.Prune(graph.Max() / float64(opts.NEpochs))
	edges := make([]edge, 0, pruned.NNZ())
	for _, e := range pruned.Triplets() {
		edges = append(edges, edge{head: e.Row, tail: e.Col, weight: e.Val})
	}

	var embedding *mat.Dense
	if opts.Init == InitSpectral {
		initial, err := SpectralInit(pruned, opts.NComponents)
		if err != nil {
			slog.Warn("spectral initialization unavailable, using random init", "n_obs", n, "reason", err)
		} else {
			embedding = scaleInit(initial, rng)
		}
	}
	if embedding == nil {
		embedding = RandomInit(n, opts.NComponents, rng)
	}
	rescale(embedding)

	err := optimizeLayout(ctx, embedding, edges, layoutParams{
		a:                  a,
		b:                  b,
		gamma:              opts.Gamma,
		initialAlpha:       opts.LearningRate,
		negativeSampleRate: float64(opts.NegativeSampleRate),
		nEpochs:            opts.NEpochs,
	}, rng)
	if err != nil {
		return nil, err
	}

	out, err := ds.WithObsm(dataset.ObsmUMAP, embedding)
	if err != nil {
		return nil, err
	}
	return out.WithUns(UnsKey, Params{A: a, B: b}), nil
}

// scaleInit expands a spectral layout so its largest coordinate is 10 and
// adds a little gaussian noise to separate coincident points.
func scaleInit(layout *mat.Dense, rng *rand.Rand) *mat.Dense {
	n, dim := layout.Dims()
	maxAbs := 0.0
	for i := 0; i < n; i++ {
		for c := 0; c < dim; c++ {
			maxAbs = math.Max(maxAbs, math.Abs(layout.At(i, c)))
		}
	}
	expansion := 1.0
	if maxAbs > 0 {
		expansion = 10 / maxAbs
	}
	out := mat.NewDense(n, dim, nil)
	for i := 0; i < n; i++ {
		for c := 0; c < dim; c++ {
			out.Set(i, c, layout.At(i, c)*expansion+rng.NormFloat64()*0.0001)
		}
	}
	return out
}

// rescale maps every column of m onto [0, 10] in place.
func rescale(m *mat.Dense) {
	n, dim := m.Dims()
	for c := 0; c < dim; c++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for i := 0; i < n; i++ {
			v := m.At(i, c)
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		span := hi - lo
		for i := 0; i < n; i++ {
			if span == 0 {
				m.Set(i, c, 0)
				continue
			}
			m.Set(i, c, 10*(m.At(i, c)-lo)/span)
		}
	}
}

// Version returns the version of the module providing this package, as
// recorded in the binary's build information, or ImplementationVersion when
// the build has no usable module version.
func Version() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ImplementationVersion
	}
	if bi.Main.Path == ModulePath && usableVersion(bi.Main.Version) {
		return bi.Main.Version
	}
	for _, dep := range bi.Deps {
		if dep.Path == ModulePath && usableVersion(dep.Version) {
			return dep.Version
		}
	}
	return ImplementationVersion
}

func usableVersion(v string) bool {
	return v != "" && v != "(devel)"
}
