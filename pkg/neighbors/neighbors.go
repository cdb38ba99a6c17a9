// Package neighbors builds k-nearest-neighbour graphs and their UMAP fuzzy
// simplicial set weighting.
package neighbors

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/openproblems/dimred/pkg/dataset"
	"github.com/openproblems/dimred/pkg/sparse"
)

const (
	// DefaultNeighbors is the neighbourhood size used when Options.NNeighbors is zero.
	DefaultNeighbors = 15

	// UnsKey is where Compute records its parameters.
	UnsKey = "neighbors"

	smoothKTolerance = 1e-5
	minKDistScale    = 1e-3
	sigmaIterations  = 64
)

// Options controls Compute.
type Options struct {
	// NNeighbors is the neighbourhood size including the observation itself.
	// Default: 15.
	NNeighbors int

	// UseRep names the Obsm embedding used as input. Default: "X_pca".
	UseRep string

	// NPCs is the number of leading columns of UseRep to use. Must be >= 1.
	// Values larger than the embedding width are capped with a warning.
	NPCs int

	// Workers bounds the goroutines used for the neighbour search.
	// Default: runtime.NumCPU().
	Workers int
}

// Params is recorded under Uns["neighbors"].
type Params struct {
	NNeighbors int    `json:"n_neighbors"`
	NPCs       int    `json:"n_pcs"`
	UseRep     string `json:"use_rep"`
	Metric     string `json:"metric"`
	Method     string `json:"method"`
}

// Compute builds the neighbour graph of ds and returns a dataset with
// Obsp["distances"], Obsp["connectivities"] and Uns["neighbors"] set.
func Compute(ctx context.Context, ds *dataset.Dataset, opts Options) (*dataset.Dataset, error) {
	if opts.NNeighbors <= 0 {
		opts.NNeighbors = DefaultNeighbors
	}
	if opts.UseRep == "" {
		opts.UseRep = dataset.ObsmPCA
	}
	if opts.NPCs < 1 {
		return nil, fmt.Errorf("n_pcs must be >= 1, got %d", opts.NPCs)
	}

	rep, err := ds.Embedding(opts.UseRep)
	if err != nil {
		return nil, err
	}
	n, width := rep.Dims()
	if opts.NPCs > width {
		slog.Warn("n_pcs exceeds embedding width", "n_pcs", opts.NPCs, "rep", opts.UseRep, "width", width)
		opts.NPCs = width
	}
	if n < 2 {
		return nil, fmt.Errorf("need at least 2 observations, got %d", n)
	}
	if opts.NNeighbors > n {
		slog.Warn("n_neighbors exceeds number of observations", "n_neighbors", opts.NNeighbors, "n_obs", n)
		opts.NNeighbors = n
	}

	x := rep.Slice(0, n, 0, opts.NPCs).(*mat.Dense)

	indices, dists, err := KNN(ctx, x, opts.NNeighbors, opts.Workers)
	if err != nil {
		return nil, err
	}

	distances, err := DistanceGraph(indices, dists, n)
	if err != nil {
		return nil, err
	}
	connectivities, err := FuzzySimplicialSet(indices, dists, n)
	if err != nil {
		return nil, err
	}

	out, err := ds.WithObsp(dataset.ObspDistances, distances)
	if err != nil {
		return nil, err
	}
	if out, err = out.WithObsp(dataset.ObspConnectivities, connectivities); err != nil {
		return nil, err
	}
	return out.WithUns(UnsKey, Params{
		NNeighbors: opts.NNeighbors,
		NPCs:       opts.NPCs,
		UseRep:     opts.UseRep,
		Metric:     "euclidean",
		Method:     "umap",
	}), nil
}

// KNN returns, for each row of x, the indices and euclidean distances of its
// k nearest rows in ascending distance order. The row itself is the first
// neighbour. Ties are broken by index so results are deterministic.
func KNN(ctx context.Context, x *mat.Dense, k, workers int) ([][]int, [][]float64, error) {
	n, _ := x.Dims()
	if k <= 0 || k > n {
		return nil, nil, fmt.Errorf("k must be in [1, %d], got %d", n, k)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	indices := make([][]int, n)
	dists := make([][]float64, n)

	type candidate struct {
		idx  int
		dist float64
	}

	chunkSize := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunkSize
		end := min(start+chunkSize, n)
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			cands := make([]candidate, n)
			for i := start; i < end; i++ {
				if ctx.Err() != nil {
					return
				}
				a := x.RawRowView(i)
				for j := 0; j < n; j++ {
					d := 0.0
					if j != i {
						d = squaredEuclidean(a, x.RawRowView(j))
					}
					cands[j] = candidate{j, d}
				}
				// Self always sorts first, even against duplicate rows.
				sort.Slice(cands, func(p, q int) bool {
					cp, cq := cands[p], cands[q]
					if (cp.idx == i) != (cq.idx == i) {
						return cp.idx == i
					}
					if cp.dist != cq.dist {
						return cp.dist < cq.dist
					}
					return cp.idx < cq.idx
				})
				indices[i] = make([]int, k)
				dists[i] = make([]float64, k)
				for r := 0; r < k; r++ {
					indices[i][r] = cands[r].idx
					dists[i][r] = math.Sqrt(cands[r].dist)
				}
			}
		}(start, end)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return indices, dists, nil
}

// DistanceGraph returns the sparse n x n matrix of neighbour distances,
// without self edges.
func DistanceGraph(indices [][]int, dists [][]float64, n int) (*sparse.CSR, error) {
	var entries []sparse.Triplet
	for i, row := range indices {
		for r, j := range row {
			if j == i || dists[i][r] == 0 {
				continue
			}
			entries = append(entries, sparse.Triplet{Row: i, Col: j, Val: dists[i][r]})
		}
	}
	return sparse.FromTriplets(n, n, entries)
}

// FuzzySimplicialSet converts kNN results into the symmetric UMAP graph of
// membership strengths. Each observation gets a local distance offset rho
// (distance to its nearest non-identical neighbour) and a bandwidth sigma
// chosen so its memberships sum to log2(k). The directed graphs are combined
// with the fuzzy union A + A^T - A∘A^T.
func FuzzySimplicialSet(indices [][]int, dists [][]float64, n int) (*sparse.CSR, error) {
	if len(indices) != n || len(dists) != n {
		return nil, fmt.Errorf("expected %d neighbour rows, got %d indices and %d distances", n, len(indices), len(dists))
	}

	sigmas, rhos := SmoothKNNDist(dists)

	var entries []sparse.Triplet
	for i, row := range indices {
		for r, j := range row {
			if j < 0 || j == i {
				continue
			}
			var val float64
			if d := dists[i][r] - rhos[i]; d <= 0 || sigmas[i] == 0 {
				val = 1
			} else {
				val = math.Exp(-d / sigmas[i])
			}
			if val == 0 {
				continue
			}
			entries = append(entries, sparse.Triplet{Row: i, Col: j, Val: val})
		}
	}

	directed, err := sparse.FromTriplets(n, n, entries)
	if err != nil {
		return nil, err
	}
	transposed := directed.Transpose()

	union := make([]sparse.Triplet, 0, 3*len(entries))
	for _, e := range directed.Triplets() {
		union = append(union, e)
		if b := transposed.At(e.Row, e.Col); b != 0 {
			union = append(union, sparse.Triplet{Row: e.Row, Col: e.Col, Val: -e.Val * b})
		}
	}
	union = append(union, transposed.Triplets()...)

	graph, err := sparse.FromTriplets(n, n, union)
	if err != nil {
		return nil, err
	}
	return graph.Prune(0), nil
}

// SmoothKNNDist computes the per-observation bandwidth sigma and offset rho
// from kNN distances (self at column 0).
func SmoothKNNDist(dists [][]float64) (sigmas, rhos []float64) {
	n := len(dists)
	sigmas = make([]float64, n)
	rhos = make([]float64, n)
	if n == 0 {
		return sigmas, rhos
	}
	k := len(dists[0])
	target := math.Log2(float64(k))

	var total float64
	var count int
	for _, row := range dists {
		for _, d := range row {
			total += d
			count++
		}
	}
	meanDistances := total / float64(count)

	for i, row := range dists {
		var nonZero []float64
		for _, d := range row {
			if d > 0 {
				nonZero = append(nonZero, d)
			}
		}
		if len(nonZero) >= 1 {
			rhos[i] = nonZero[0]
		}

		lo, hi, mid := 0.0, math.Inf(1), 1.0
		for iter := 0; iter < sigmaIterations; iter++ {
			psum := 0.0
			for _, d := range row[1:] {
				if diff := d - rhos[i]; diff > 0 {
					psum += math.Exp(-diff / mid)
				} else {
					psum += 1
				}
			}
			if math.Abs(psum-target) < smoothKTolerance {
				break
			}
			if psum > target {
				hi = mid
				mid = (lo + hi) / 2
			} else {
				lo = mid
				if math.IsInf(hi, 1) {
					mid *= 2
				} else {
					mid = (lo + hi) / 2
				}
			}
		}
		sigmas[i] = mid

		floor := minKDistScale * meanDistances
		if rhos[i] > 0 {
			var rowMean float64
			for _, d := range row {
				rowMean += d
			}
			floor = minKDistScale * rowMean / float64(len(row))
		}
		if sigmas[i] < floor {
			sigmas[i] = floor
		}
	}
	return sigmas, rhos
}

func squaredEuclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
