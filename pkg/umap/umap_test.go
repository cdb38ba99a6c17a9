package umap

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/openproblems/dimred/pkg/dataset"
	"github.com/openproblems/dimred/pkg/neighbors"
	"github.com/openproblems/dimred/pkg/sparse"
)

// twoBlobs returns n points in d dimensions split into two well separated
// gaussian clusters; the first half belongs to cluster 0.
func twoBlobs(n, d int, seed int64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	m := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		offset := 0.0
		if i >= n/2 {
			offset = 20
		}
		for j := 0; j < d; j++ {
			m.Set(i, j, offset+rng.NormFloat64())
		}
	}
	return m
}

func graphDataset(t testing.TB, x *mat.Dense, k int) *dataset.Dataset {
	t.Helper()
	n, d := x.Dims()
	ds, err := dataset.New(mat.NewDense(n, 1, nil), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ds, err = ds.WithObsm(dataset.ObsmPCA, x); err != nil {
		t.Fatal(err)
	}
	ds, err = neighbors.Compute(context.Background(), ds, neighbors.Options{NNeighbors: k, NPCs: d})
	if err != nil {
		t.Fatalf("neighbors failed: %v", err)
	}
	return ds
}

func TestFindABParams(t *testing.T) {
	tests := []struct {
		spread, minDist float64
		wantA, wantB    float64
	}{
		{1.0, 0.5, 0.583, 1.334},
		{1.0, 0.1, 1.577, 0.895},
	}
	for _, tt := range tests {
		a, b, err := FindABParams(tt.spread, tt.minDist)
		if err != nil {
			t.Fatalf("FindABParams(%v, %v) failed: %v", tt.spread, tt.minDist, err)
		}
		if math.Abs(a-tt.wantA) > 0.05 || math.Abs(b-tt.wantB) > 0.05 {
			t.Errorf("FindABParams(%v, %v) = (%.4f, %.4f), want about (%.3f, %.3f)",
				tt.spread, tt.minDist, a, b, tt.wantA, tt.wantB)
		}
	}
}

func TestFindABParamsValidation(t *testing.T) {
	if _, _, err := FindABParams(0, 0.1); err == nil {
		t.Error("expected error for zero spread")
	}
	if _, _, err := FindABParams(1, 2); err == nil {
		t.Error("expected error for min_dist > spread")
	}
}

func TestEpochsPerSample(t *testing.T) {
	edges := []edge{{weight: 1}, {weight: 0.5}, {weight: 0}}
	got := epochsPerSample(edges, 10)
	want := []float64{1, 2, -1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("epochsPerSample = %v, want %v", got, want)
			break
		}
	}
}

func TestSpectralInitRing(t *testing.T) {
	n := 20
	layout, err := SpectralInit(ring(t, n, false), 2)
	if err != nil {
		t.Fatalf("SpectralInit failed: %v", err)
	}
	r, c := layout.Dims()
	if r != n || c != 2 {
		t.Fatalf("expected %dx2 layout, got %dx%d", n, r, c)
	}
	for col := 0; col < 2; col++ {
		v := mat.Col(nil, col, layout)
		if norm := mat.Norm(mat.NewVecDense(n, v), 2); math.Abs(norm-1) > 1e-9 {
			t.Errorf("column %d norm = %v, want 1", col, norm)
		}
	}

	// A ring's second and third Laplacian eigenvectors place every vertex
	// at the same radius.
	r0 := math.Hypot(layout.At(0, 0), layout.At(0, 1))
	for i := 1; i < n; i++ {
		if ri := math.Hypot(layout.At(i, 0), layout.At(i, 1)); math.Abs(ri-r0) > 1e-6 {
			t.Errorf("vertex %d radius %v, want %v", i, ri, r0)
		}
	}
}

func TestSpectralInitDisconnected(t *testing.T) {
	g, _ := sparse.FromTriplets(6, 6, []sparse.Triplet{
		{Row: 0, Col: 1, Val: 1}, {Row: 1, Col: 0, Val: 1},
		{Row: 3, Col: 4, Val: 1}, {Row: 4, Col: 3, Val: 1},
	})
	if _, err := SpectralInit(g, 2); err == nil {
		t.Error("expected disconnected graph to be rejected")
	}
}

// ring returns the adjacency of a cycle over n vertices, or of two disjoint
// cycles when split is set.
func ring(t *testing.T, n int, split bool) *sparse.CSR {
	t.Helper()
	var entries []sparse.Triplet
	link := func(i, j int) {
		entries = append(entries, sparse.Triplet{Row: i, Col: j, Val: 1}, sparse.Triplet{Row: j, Col: i, Val: 1})
	}
	if split {
		half := n / 2
		for i := 0; i < half; i++ {
			link(i, (i+1)%half)
			link(half+i, half+(i+1)%(n-half))
		}
	} else {
		for i := 0; i < n; i++ {
			link(i, (i+1)%n)
		}
	}
	g, err := sparse.FromTriplets(n, n, entries)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestSpectralFallsBackToRandom(t *testing.T) {
	tests := []struct {
		name  string
		graph *sparse.CSR
	}{
		{"disconnected", ring(t, 40, true)},
		{"larger than spectral limit", ring(t, SpectralLimit+1, false)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := SpectralInit(tt.graph, 2); !errors.Is(err, errNotSpectral) {
				t.Fatalf("SpectralInit error = %v, want %v", err, errNotSpectral)
			}

			ds, err := dataset.New(mat.NewDense(tt.graph.Rows, 1, nil), nil, nil)
			if err != nil {
				t.Fatal(err)
			}
			if ds, err = ds.WithObsp(dataset.ObspConnectivities, tt.graph); err != nil {
				t.Fatal(err)
			}

			ctx := context.Background()
			spectral, err := Embed(ctx, ds, Options{NEpochs: 2, Init: InitSpectral})
			if err != nil {
				t.Fatalf("Embed failed: %v", err)
			}
			random, err := Embed(ctx, ds, Options{NEpochs: 2, Init: InitRandom})
			if err != nil {
				t.Fatalf("Embed failed: %v", err)
			}
			if !mat.Equal(spectral.Obsm[dataset.ObsmUMAP], random.Obsm[dataset.ObsmUMAP]) {
				t.Error("spectral init should fall back to the random layout")
			}
		})
	}
}

func TestEmbedShapeAndParams(t *testing.T) {
	ds := graphDataset(t, twoBlobs(40, 5, 1), 10)

	out, err := Embed(context.Background(), ds, Options{NEpochs: 50})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	emb, err := out.Embedding(dataset.ObsmUMAP)
	if err != nil {
		t.Fatal(err)
	}
	if r, c := emb.Dims(); r != 40 || c != 2 {
		t.Errorf("expected 40x2 embedding, got %dx%d", r, c)
	}
	for i := 0; i < 40; i++ {
		for c := 0; c < 2; c++ {
			if v := emb.At(i, c); math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("non-finite coordinate at (%d,%d)", i, c)
			}
		}
	}

	params, ok := out.Uns[UnsKey].(Params)
	if !ok || params.A <= 0 || params.B <= 0 {
		t.Errorf("unexpected umap params %+v", out.Uns[UnsKey])
	}
	if _, ok := ds.Obsm[dataset.ObsmUMAP]; ok {
		t.Error("Embed must not modify its input")
	}
}

func TestEmbedDeterministic(t *testing.T) {
	ds := graphDataset(t, twoBlobs(30, 4, 2), 8)
	ctx := context.Background()

	a, err := Embed(ctx, ds, Options{NEpochs: 100, RandomState: 7})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Embed(ctx, ds, Options{NEpochs: 100, RandomState: 7})
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(a.Obsm[dataset.ObsmUMAP], b.Obsm[dataset.ObsmUMAP]) {
		t.Error("same seed should give bit-identical embeddings")
	}
}

func TestEmbedSeparatesClusters(t *testing.T) {
	n := 60
	ds := graphDataset(t, twoBlobs(n, 5, 3), 10)

	out, err := Embed(context.Background(), ds, Options{})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	emb := out.Obsm[dataset.ObsmUMAP]

	var centroids [2][2]float64
	for i := 0; i < n; i++ {
		c := i * 2 / n
		centroids[c][0] += emb.At(i, 0) / float64(n/2)
		centroids[c][1] += emb.At(i, 1) / float64(n/2)
	}
	between := math.Hypot(centroids[0][0]-centroids[1][0], centroids[0][1]-centroids[1][1])

	var within float64
	for i := 0; i < n; i++ {
		c := i * 2 / n
		within += math.Hypot(emb.At(i, 0)-centroids[c][0], emb.At(i, 1)-centroids[c][1])
	}
	within /= float64(n)

	if between <= within {
		t.Errorf("clusters not separated: centroid distance %.3f, mean spread %.3f", between, within)
	}
	t.Logf("centroid distance %.3f, mean spread %.3f", between, within)
}

func TestEmbedRequiresGraph(t *testing.T) {
	ds, _ := dataset.New(mat.NewDense(3, 2, nil), nil, nil)
	if _, err := Embed(context.Background(), ds, Options{}); err == nil {
		t.Error("expected error without connectivities")
	}
}

func TestEmbedCancelled(t *testing.T) {
	ds := graphDataset(t, twoBlobs(20, 3, 4), 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Embed(ctx, ds, Options{NEpochs: 10}); err == nil {
		t.Error("expected context error")
	}
}

func TestVersion(t *testing.T) {
	if Version() == "" {
		t.Error("Version should never be empty")
	}
}
