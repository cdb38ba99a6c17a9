// Package sparse provides a compressed sparse row matrix for neighbour graphs.
//
// Graphs produced by nearest-neighbour search have k entries per row, so a
// dense n x n representation is wasteful beyond a few thousand observations.
package sparse

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// CSR is a compressed sparse row matrix.
// Row i holds entries Indices[Indptr[i]:Indptr[i+1]] with values Data[...],
// column indices sorted ascending within each row.
type CSR struct {
	Rows    int
	Cols    int
	Indptr  []int
	Indices []int
	Data    []float64
}

// Triplet is a single (row, col, value) entry used to build a CSR matrix.
type Triplet struct {
	Row int
	Col int
	Val float64
}

// FromTriplets builds a CSR matrix, summing duplicate entries.
func FromTriplets(rows, cols int, entries []Triplet) (*CSR, error) {
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("invalid shape %dx%d", rows, cols)
	}
	for _, e := range entries {
		if e.Row < 0 || e.Row >= rows || e.Col < 0 || e.Col >= cols {
			return nil, fmt.Errorf("entry (%d, %d) out of bounds for %dx%d", e.Row, e.Col, rows, cols)
		}
	}

	sorted := make([]Triplet, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Row != sorted[j].Row {
			return sorted[i].Row < sorted[j].Row
		}
		return sorted[i].Col < sorted[j].Col
	})

	m := &CSR{
		Rows:   rows,
		Cols:   cols,
		Indptr: make([]int, rows+1),
	}
	for i := 0; i < len(sorted); {
		e := sorted[i]
		sum := e.Val
		j := i + 1
		for j < len(sorted) && sorted[j].Row == e.Row && sorted[j].Col == e.Col {
			sum += sorted[j].Val
			j++
		}
		m.Indices = append(m.Indices, e.Col)
		m.Data = append(m.Data, sum)
		m.Indptr[e.Row+1]++
		i = j
	}
	for r := 0; r < rows; r++ {
		m.Indptr[r+1] += m.Indptr[r]
	}
	return m, nil
}

// NNZ returns the number of stored entries.
func (m *CSR) NNZ() int {
	return len(m.Data)
}

// Dims returns the matrix shape.
func (m *CSR) Dims() (int, int) {
	return m.Rows, m.Cols
}

// At returns the value at (i, j), zero when not stored.
func (m *CSR) At(i, j int) float64 {
	cols, vals := m.Row(i)
	k := sort.SearchInts(cols, j)
	if k < len(cols) && cols[k] == j {
		return vals[k]
	}
	return 0
}

// Row returns the column indices and values of row i.
// The returned slices alias the matrix storage and must not be modified.
func (m *CSR) Row(i int) ([]int, []float64) {
	start, end := m.Indptr[i], m.Indptr[i+1]
	return m.Indices[start:end], m.Data[start:end]
}

// Triplets returns all stored entries in row-major order.
func (m *CSR) Triplets() []Triplet {
	out := make([]Triplet, 0, m.NNZ())
	for i := 0; i < m.Rows; i++ {
		cols, vals := m.Row(i)
		for k, c := range cols {
			out = append(out, Triplet{Row: i, Col: c, Val: vals[k]})
		}
	}
	return out
}

// Transpose returns a new matrix equal to m^T.
func (m *CSR) Transpose() *CSR {
	entries := m.Triplets()
	for i := range entries {
		entries[i].Row, entries[i].Col = entries[i].Col, entries[i].Row
	}
	t, _ := FromTriplets(m.Cols, m.Rows, entries)
	return t
}

// RowSums returns the sum of each row.
func (m *CSR) RowSums() []float64 {
	sums := make([]float64, m.Rows)
	for i := range sums {
		_, vals := m.Row(i)
		for _, v := range vals {
			sums[i] += v
		}
	}
	return sums
}

// Max returns the largest stored value, or zero for an empty matrix.
func (m *CSR) Max() float64 {
	var best float64
	for i, v := range m.Data {
		if i == 0 || v > best {
			best = v
		}
	}
	return best
}

// Prune returns a copy of m without entries whose value is below threshold
// or exactly zero.
func (m *CSR) Prune(threshold float64) *CSR {
	out := &CSR{
		Rows:   m.Rows,
		Cols:   m.Cols,
		Indptr: make([]int, m.Rows+1),
	}
	for i := 0; i < m.Rows; i++ {
		cols, vals := m.Row(i)
		for k, v := range vals {
			if v == 0 || v < threshold {
				continue
			}
			out.Indices = append(out.Indices, cols[k])
			out.Data = append(out.Data, v)
		}
		out.Indptr[i+1] = len(out.Data)
	}
	return out
}

// Graph returns m as an undirected weighted graph with one node per row and
// one edge per non-zero off-diagonal entry. Entries stored in only one
// direction still connect both vertices.
func (m *CSR) Graph() *simple.WeightedUndirectedGraph {
	g := simple.NewWeightedUndirectedGraph(0, 0)
	for i := 0; i < m.Rows; i++ {
		g.AddNode(simple.Node(i))
	}
	for i := 0; i < m.Rows; i++ {
		cols, vals := m.Row(i)
		for k, c := range cols {
			if c == i || vals[k] == 0 {
				continue
			}
			g.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(i), T: simple.Node(c), W: vals[k]})
		}
	}
	return g
}

// ConnectedComponents labels the components of the undirected graph whose
// adjacency is m. It returns the number of components and a label per row;
// labels are numbered in order of each component's lowest row.
func (m *CSR) ConnectedComponents() (int, []int) {
	comps := topo.ConnectedComponents(m.Graph())

	lowest := make([]int64, len(comps))
	for c, nodes := range comps {
		lowest[c] = nodes[0].ID()
		for _, v := range nodes[1:] {
			lowest[c] = min(lowest[c], v.ID())
		}
	}
	order := make([]int, len(comps))
	for c := range order {
		order[c] = c
	}
	sort.Slice(order, func(a, b int) bool { return lowest[order[a]] < lowest[order[b]] })

	labels := make([]int, m.Rows)
	for label, c := range order {
		for _, v := range comps[c] {
			labels[v.ID()] = label
		}
	}
	return len(comps), labels
}
