package sparse

import (
	"testing"
)

func TestFromTripletsSumsDuplicates(t *testing.T) {
	m, err := FromTriplets(3, 3, []Triplet{
		{0, 2, 1.0},
		{0, 0, 2.0},
		{0, 2, 0.5},
		{2, 1, 3.0},
	})
	if err != nil {
		t.Fatalf("FromTriplets failed: %v", err)
	}

	if m.NNZ() != 3 {
		t.Errorf("expected 3 stored entries, got %d", m.NNZ())
	}
	if got := m.At(0, 2); got != 1.5 {
		t.Errorf("At(0,2) = %v, want 1.5", got)
	}
	if got := m.At(1, 1); got != 0 {
		t.Errorf("At(1,1) = %v, want 0", got)
	}

	cols, _ := m.Row(0)
	if len(cols) != 2 || cols[0] != 0 || cols[1] != 2 {
		t.Errorf("row 0 columns not sorted: %v", cols)
	}
}

func TestFromTripletsBounds(t *testing.T) {
	if _, err := FromTriplets(2, 2, []Triplet{{2, 0, 1}}); err == nil {
		t.Error("expected error for out-of-bounds row")
	}
	if _, err := FromTriplets(-1, 2, nil); err == nil {
		t.Error("expected error for negative shape")
	}
}

func TestTranspose(t *testing.T) {
	m, _ := FromTriplets(2, 3, []Triplet{{0, 2, 4}, {1, 0, 5}})
	tr := m.Transpose()

	if r, c := tr.Dims(); r != 3 || c != 2 {
		t.Fatalf("expected 3x2, got %dx%d", r, c)
	}
	if tr.At(2, 0) != 4 || tr.At(0, 1) != 5 {
		t.Errorf("transpose values wrong: %v", tr.Triplets())
	}
}

func TestRowSumsMaxPrune(t *testing.T) {
	m, _ := FromTriplets(2, 2, []Triplet{{0, 0, 0.1}, {0, 1, 0.9}, {1, 1, 0.4}})

	sums := m.RowSums()
	if sums[0] != 1.0 || sums[1] != 0.4 {
		t.Errorf("unexpected row sums %v", sums)
	}
	if m.Max() != 0.9 {
		t.Errorf("Max = %v, want 0.9", m.Max())
	}

	p := m.Prune(0.3)
	if p.NNZ() != 2 {
		t.Errorf("expected 2 entries after prune, got %d", p.NNZ())
	}
	if p.At(0, 0) != 0 {
		t.Error("entry below threshold should be removed")
	}
	if m.NNZ() != 3 {
		t.Error("prune must not modify the receiver")
	}
}

func TestConnectedComponents(t *testing.T) {
	// 0-1 and 2-3 connected, 4 alone. Edges only stored one way.
	m, _ := FromTriplets(5, 5, []Triplet{{0, 1, 1}, {3, 2, 1}})

	n, labels := m.ConnectedComponents()
	if n != 3 {
		t.Fatalf("expected 3 components, got %d (labels %v)", n, labels)
	}
	if labels[0] != labels[1] {
		t.Error("0 and 1 should share a component")
	}
	if labels[2] != labels[3] {
		t.Error("2 and 3 should share a component")
	}
	if labels[4] == labels[0] || labels[4] == labels[2] {
		t.Error("4 should be isolated")
	}
}

func TestConnectedComponentsLabelOrder(t *testing.T) {
	// Components {1,4}, {0,2}, {3}: labels follow each component's lowest row.
	m, _ := FromTriplets(5, 5, []Triplet{{4, 1, 0.5}, {0, 2, 1}, {3, 3, 1}})

	for run := 0; run < 5; run++ {
		n, labels := m.ConnectedComponents()
		if n != 3 {
			t.Fatalf("expected 3 components, got %d", n)
		}
		want := []int{0, 1, 0, 2, 1}
		for i := range want {
			if labels[i] != want[i] {
				t.Fatalf("labels = %v, want %v", labels, want)
			}
		}
	}
}

func TestGraph(t *testing.T) {
	m, _ := FromTriplets(3, 3, []Triplet{{0, 1, 0.25}, {1, 1, 1}, {2, 0, 0}})

	g := m.Graph()
	if n := g.Nodes().Len(); n != 3 {
		t.Errorf("expected 3 nodes, got %d", n)
	}
	if w, ok := g.Weight(1, 0); !ok || w != 0.25 {
		t.Errorf("edge 1-0 weight = %v (present %v), want 0.25", w, ok)
	}
	if g.HasEdgeBetween(1, 1) {
		t.Error("diagonal entries must not become self edges")
	}
	if g.HasEdgeBetween(2, 0) {
		t.Error("explicit zeros must not become edges")
	}
}
