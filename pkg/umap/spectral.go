package umap

import (
	"errors"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/openproblems/dimred/pkg/sparse"
)

// SpectralLimit is the largest graph embedded with a dense eigendecomposition.
// Larger graphs use random initialization.
const SpectralLimit = 4096

var errNotSpectral = errors.New("graph not suitable for spectral initialization")

// SpectralInit returns the eigenvectors 2..dim+1 of the symmetric normalized
// Laplacian I - D^-1/2 W D^-1/2 of graph, one row per vertex.
func SpectralInit(graph *sparse.CSR, dim int) (*mat.Dense, error) {
	n := graph.Rows
	if n <= dim+1 || n > SpectralLimit {
		return nil, errNotSpectral
	}
	if components, _ := graph.ConnectedComponents(); components > 1 {
		return nil, errNotSpectral
	}

	degrees := graph.RowSums()
	invSqrt := make([]float64, n)
	for i, d := range degrees {
		if d <= 0 {
			return nil, errNotSpectral
		}
		invSqrt[i] = 1 / math.Sqrt(d)
	}

	lap := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		lap.SetSym(i, i, 1)
	}
	for _, e := range graph.Triplets() {
		if e.Row < e.Col {
			lap.SetSym(e.Row, e.Col, -e.Val*invSqrt[e.Row]*invSqrt[e.Col])
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(lap, true); !ok {
		return nil, errNotSpectral
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(p, q int) bool { return values[order[p]] < values[order[q]] })

	out := mat.NewDense(n, dim, nil)
	for c := 0; c < dim; c++ {
		col := order[c+1]
		sign := 1.0
		// Fix the sign so the first vertex has a non-negative coordinate.
		if vectors.At(0, col) < 0 {
			sign = -1
		}
		for i := 0; i < n; i++ {
			out.Set(i, c, sign*vectors.At(i, col))
		}
	}
	return out, nil
}

// RandomInit returns n points drawn uniformly from [-10, 10]^dim.
func RandomInit(n, dim int, rng *rand.Rand) *mat.Dense {
	out := mat.NewDense(n, dim, nil)
	for i := 0; i < n; i++ {
		for c := 0; c < dim; c++ {
			out.Set(i, c, rng.Float64()*20-10)
		}
	}
	return out
}
