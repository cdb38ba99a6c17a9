package neighbors

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/openproblems/dimred/pkg/dataset"
)

func generatePoints(n, d int, seed int64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	m := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			m.Set(i, j, rng.NormFloat64())
		}
	}
	return m
}

func TestKNNLine(t *testing.T) {
	// Points on a line at 0, 1, 3, 6.
	x := mat.NewDense(4, 1, []float64{0, 1, 3, 6})

	indices, dists, err := KNN(context.Background(), x, 3, 2)
	if err != nil {
		t.Fatalf("KNN failed: %v", err)
	}

	wantIdx := [][]int{{0, 1, 2}, {1, 0, 2}, {2, 1, 0}, {3, 2, 1}}
	wantDist := [][]float64{{0, 1, 3}, {0, 1, 2}, {0, 2, 3}, {0, 3, 5}}
	for i := range wantIdx {
		for r := range wantIdx[i] {
			if indices[i][r] != wantIdx[i][r] {
				t.Errorf("indices[%d] = %v, want %v", i, indices[i], wantIdx[i])
				break
			}
			if math.Abs(dists[i][r]-wantDist[i][r]) > 1e-12 {
				t.Errorf("dists[%d] = %v, want %v", i, dists[i], wantDist[i])
				break
			}
		}
	}
}

func TestKNNSelfFirstWithDuplicates(t *testing.T) {
	x := mat.NewDense(3, 2, []float64{1, 1, 1, 1, 5, 5})

	indices, _, err := KNN(context.Background(), x, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if indices[i][0] != i {
			t.Errorf("row %d: self should be first neighbour, got %v", i, indices[i])
		}
	}
}

func TestKNNValidation(t *testing.T) {
	x := generatePoints(5, 2, 1)
	if _, _, err := KNN(context.Background(), x, 0, 1); err == nil {
		t.Error("expected error for k=0")
	}
	if _, _, err := KNN(context.Background(), x, 6, 1); err == nil {
		t.Error("expected error for k > n")
	}
}

func TestKNNParallelMatchesSerial(t *testing.T) {
	x := generatePoints(80, 5, 3)

	serialIdx, serialDist, err := KNN(context.Background(), x, 10, 1)
	if err != nil {
		t.Fatal(err)
	}
	parIdx, parDist, err := KNN(context.Background(), x, 10, 8)
	if err != nil {
		t.Fatal(err)
	}
	for i := range serialIdx {
		for r := range serialIdx[i] {
			if serialIdx[i][r] != parIdx[i][r] || serialDist[i][r] != parDist[i][r] {
				t.Fatalf("row %d differs between serial and parallel search", i)
			}
		}
	}
}

func TestSmoothKNNDistTarget(t *testing.T) {
	x := generatePoints(60, 4, 9)
	_, dists, err := KNN(context.Background(), x, 15, 4)
	if err != nil {
		t.Fatal(err)
	}

	sigmas, rhos := SmoothKNNDist(dists)
	target := math.Log2(15)
	for i := range dists {
		if rhos[i] != dists[i][1] {
			t.Errorf("rho[%d] = %v, want nearest non-self distance %v", i, rhos[i], dists[i][1])
		}
		var psum float64
		for _, d := range dists[i][1:] {
			if diff := d - rhos[i]; diff > 0 {
				psum += math.Exp(-diff / sigmas[i])
			} else {
				psum += 1
			}
		}
		if math.Abs(psum-target) > 1e-3 {
			t.Errorf("row %d: membership sum %v, want %v", i, psum, target)
		}
	}
}

func TestFuzzySimplicialSetSymmetric(t *testing.T) {
	x := generatePoints(50, 3, 11)
	indices, dists, err := KNN(context.Background(), x, 8, 4)
	if err != nil {
		t.Fatal(err)
	}

	g, err := FuzzySimplicialSet(indices, dists, 50)
	if err != nil {
		t.Fatalf("FuzzySimplicialSet failed: %v", err)
	}

	for _, e := range g.Triplets() {
		if e.Row == e.Col {
			t.Fatalf("self edge at %d", e.Row)
		}
		if e.Val <= 0 || e.Val > 1+1e-12 {
			t.Fatalf("membership %v out of (0, 1]", e.Val)
		}
		if back := g.At(e.Col, e.Row); math.Abs(back-e.Val) > 1e-12 {
			t.Fatalf("graph not symmetric at (%d,%d): %v vs %v", e.Row, e.Col, e.Val, back)
		}
	}

	// Every observation's nearest neighbour has membership 1.
	for i := range indices {
		if v := g.At(i, indices[i][1]); math.Abs(v-1) > 1e-12 {
			t.Errorf("nearest neighbour of %d has membership %v, want 1", i, v)
		}
	}
}

func TestComputeWritesGraphs(t *testing.T) {
	x := generatePoints(40, 6, 5)
	ds, err := dataset.New(mat.NewDense(40, 2, nil), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	ds, err = ds.WithObsm(dataset.ObsmPCA, x)
	if err != nil {
		t.Fatal(err)
	}

	out, err := Compute(context.Background(), ds, Options{NPCs: 4})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	conn, ok := out.Obsp[dataset.ObspConnectivities]
	if !ok {
		t.Fatal("connectivities missing")
	}
	if conn.Rows != 40 || conn.Cols != 40 {
		t.Errorf("connectivities shape %dx%d", conn.Rows, conn.Cols)
	}
	dist := out.Obsp[dataset.ObspDistances]
	if dist.NNZ() != 40*(DefaultNeighbors-1) {
		t.Errorf("expected %d distance entries, got %d", 40*(DefaultNeighbors-1), dist.NNZ())
	}

	params, ok := out.Uns[UnsKey].(Params)
	if !ok {
		t.Fatal("neighbors params missing")
	}
	if params.NPCs != 4 || params.NNeighbors != DefaultNeighbors || params.UseRep != dataset.ObsmPCA {
		t.Errorf("unexpected params %+v", params)
	}

	if _, ok := ds.Obsp[dataset.ObspConnectivities]; ok {
		t.Error("Compute must not modify its input")
	}
}

func TestComputeOptions(t *testing.T) {
	x := generatePoints(10, 3, 5)
	ds, _ := dataset.New(mat.NewDense(10, 2, nil), nil, nil)
	ds, _ = ds.WithObsm(dataset.ObsmPCA, x)
	ctx := context.Background()

	if _, err := Compute(ctx, ds, Options{NPCs: 0}); err == nil {
		t.Error("expected error for n_pcs=0")
	}
	if _, err := Compute(ctx, ds, Options{NPCs: 2, UseRep: "X_missing"}); err == nil {
		t.Error("expected error for missing representation")
	}

	// n_pcs and n_neighbors larger than available are capped.
	out, err := Compute(ctx, ds, Options{NPCs: 50})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	params := out.Uns[UnsKey].(Params)
	if params.NPCs != 3 {
		t.Errorf("n_pcs should be capped to 3, got %d", params.NPCs)
	}
	if params.NNeighbors != 10 {
		t.Errorf("n_neighbors should be capped to 10, got %d", params.NNeighbors)
	}
}

func TestKNNCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := KNN(ctx, generatePoints(20, 2, 1), 5, 2); err == nil {
		t.Error("expected context error")
	}
}
