// Package dataset provides the annotated expression matrix passed between
// normalization, dimensionality reduction and method code.
//
// A Dataset is an observations x features matrix plus named annotation slots:
//
//   - Obs and Var: per-observation and per-feature columns (bool or float)
//   - Layers: alternative matrices with the same shape as X ("counts" holds raw counts)
//   - Obsm: per-observation embeddings such as "X_pca" or "X_emb"
//   - Varm: per-feature matrices such as the PCA loadings "PCs"
//   - Obsp: per-observation-pair sparse graphs such as "connectivities"
//   - Uns: free-form metadata such as "method_code_version"
//
// Datasets are treated as values. The With* methods return a new Dataset whose
// containers are fresh maps while the matrices they reference are shared, so
// deriving a dataset never changes the one it came from. Code working with a
// Dataset must never write into a matrix it did not allocate.
package dataset

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/openproblems/dimred/pkg/sparse"
)

// Well-known slot keys.
const (
	LayerCounts        = "counts"
	ObsmPCA            = "X_pca"
	ObsmUMAP           = "X_umap"
	ObsmEmbedding      = "X_emb"
	VarmPCs            = "PCs"
	ObspDistances      = "distances"
	ObspConnectivities = "connectivities"
	VarHighlyVariable  = "highly_variable"
	UnsCodeVersion     = "method_code_version"
	UnsPCA             = "pca"
)

var (
	ErrEmpty         = errors.New("dataset has no observations or features")
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrSlotNotFound  = errors.New("slot not found")
)

// Frame holds named per-row columns for observations or features.
type Frame struct {
	Bools  map[string][]bool
	Floats map[string][]float64
}

func newFrame() Frame {
	return Frame{
		Bools:  make(map[string][]bool),
		Floats: make(map[string][]float64),
	}
}

func (f Frame) clone() Frame {
	out := newFrame()
	for k, v := range f.Bools {
		out.Bools[k] = v
	}
	for k, v := range f.Floats {
		out.Floats[k] = v
	}
	return out
}

// Dataset is an annotated observations x features matrix.
type Dataset struct {
	// Name identifies the dataset in logs and stored results.
	Name string

	// X is the active expression matrix (NObs x NVars).
	X *mat.Dense

	ObsNames []string
	VarNames []string

	Obs Frame
	Var Frame

	Layers map[string]*mat.Dense
	Obsm   map[string]*mat.Dense
	Varm   map[string]*mat.Dense
	Obsp   map[string]*sparse.CSR
	Uns    map[string]any
}

// New creates a Dataset around x. Nil name slices are filled with generated
// names ("obs_0", "var_0", ...).
func New(x *mat.Dense, obsNames, varNames []string) (*Dataset, error) {
	if x == nil || x.IsEmpty() {
		return nil, ErrEmpty
	}
	n, d := x.Dims()

	if obsNames == nil {
		obsNames = generateNames("obs", n)
	}
	if varNames == nil {
		varNames = generateNames("var", d)
	}
	if len(obsNames) != n {
		return nil, fmt.Errorf("%w: %d observation names for %d rows", ErrShapeMismatch, len(obsNames), n)
	}
	if len(varNames) != d {
		return nil, fmt.Errorf("%w: %d feature names for %d columns", ErrShapeMismatch, len(varNames), d)
	}

	return &Dataset{
		X:        x,
		ObsNames: obsNames,
		VarNames: varNames,
		Obs:      newFrame(),
		Var:      newFrame(),
		Layers:   make(map[string]*mat.Dense),
		Obsm:     make(map[string]*mat.Dense),
		Varm:     make(map[string]*mat.Dense),
		Obsp:     make(map[string]*sparse.CSR),
		Uns:      make(map[string]any),
	}, nil
}

// FromRows creates a Dataset from row vectors, one per observation.
func FromRows(rows [][]float64, obsNames, varNames []string) (*Dataset, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, ErrEmpty
	}
	d := len(rows[0])
	data := make([]float64, 0, len(rows)*d)
	for i, r := range rows {
		if len(r) != d {
			return nil, fmt.Errorf("%w: row %d has %d values, expected %d", ErrShapeMismatch, i, len(r), d)
		}
		data = append(data, r...)
	}
	return New(mat.NewDense(len(rows), d, data), obsNames, varNames)
}

// NObs returns the number of observations.
func (ds *Dataset) NObs() int {
	n, _ := ds.X.Dims()
	return n
}

// NVars returns the number of features.
func (ds *Dataset) NVars() int {
	_, d := ds.X.Dims()
	return d
}

// Clone returns a shallow copy: new containers referencing the same matrices.
func (ds *Dataset) Clone() *Dataset {
	out := &Dataset{
		Name:     ds.Name,
		X:        ds.X,
		ObsNames: ds.ObsNames,
		VarNames: ds.VarNames,
		Obs:      ds.Obs.clone(),
		Var:      ds.Var.clone(),
		Layers:   make(map[string]*mat.Dense, len(ds.Layers)),
		Obsm:     make(map[string]*mat.Dense, len(ds.Obsm)),
		Varm:     make(map[string]*mat.Dense, len(ds.Varm)),
		Obsp:     make(map[string]*sparse.CSR, len(ds.Obsp)),
		Uns:      make(map[string]any, len(ds.Uns)),
	}
	for k, v := range ds.Layers {
		out.Layers[k] = v
	}
	for k, v := range ds.Obsm {
		out.Obsm[k] = v
	}
	for k, v := range ds.Varm {
		out.Varm[k] = v
	}
	for k, v := range ds.Obsp {
		out.Obsp[k] = v
	}
	for k, v := range ds.Uns {
		out.Uns[k] = v
	}
	return out
}

// WithX returns a copy whose active matrix is x. x must keep the shape of X.
func (ds *Dataset) WithX(x *mat.Dense) (*Dataset, error) {
	if err := ds.checkShape(x); err != nil {
		return nil, err
	}
	out := ds.Clone()
	out.X = x
	return out, nil
}

// WithLayer returns a copy with layer key set to m. m must keep the shape of X.
func (ds *Dataset) WithLayer(key string, m *mat.Dense) (*Dataset, error) {
	if err := ds.checkShape(m); err != nil {
		return nil, fmt.Errorf("layer %q: %w", key, err)
	}
	out := ds.Clone()
	out.Layers[key] = m
	return out, nil
}

// WithObsm returns a copy with embedding key set to m (NObs rows).
func (ds *Dataset) WithObsm(key string, m *mat.Dense) (*Dataset, error) {
	if m == nil {
		return nil, fmt.Errorf("obsm %q: %w", key, ErrEmpty)
	}
	if r, _ := m.Dims(); r != ds.NObs() {
		return nil, fmt.Errorf("obsm %q: %w: %d rows, expected %d", key, ErrShapeMismatch, r, ds.NObs())
	}
	out := ds.Clone()
	out.Obsm[key] = m
	return out, nil
}

// WithVarm returns a copy with per-feature matrix key set to m (NVars rows).
func (ds *Dataset) WithVarm(key string, m *mat.Dense) (*Dataset, error) {
	if m == nil {
		return nil, fmt.Errorf("varm %q: %w", key, ErrEmpty)
	}
	if r, _ := m.Dims(); r != ds.NVars() {
		return nil, fmt.Errorf("varm %q: %w: %d rows, expected %d", key, ErrShapeMismatch, r, ds.NVars())
	}
	out := ds.Clone()
	out.Varm[key] = m
	return out, nil
}

// WithObsp returns a copy with pairwise graph key set to g (NObs x NObs).
func (ds *Dataset) WithObsp(key string, g *sparse.CSR) (*Dataset, error) {
	n := ds.NObs()
	if g == nil || g.Rows != n || g.Cols != n {
		return nil, fmt.Errorf("obsp %q: %w: expected %dx%d", key, ErrShapeMismatch, n, n)
	}
	out := ds.Clone()
	out.Obsp[key] = g
	return out, nil
}

// WithUns returns a copy with metadata key set to v.
func (ds *Dataset) WithUns(key string, v any) *Dataset {
	out := ds.Clone()
	out.Uns[key] = v
	return out
}

// WithVarFlags returns a copy with the boolean feature column key set.
func (ds *Dataset) WithVarFlags(key string, flags []bool) (*Dataset, error) {
	if len(flags) != ds.NVars() {
		return nil, fmt.Errorf("var %q: %w: %d values for %d features", key, ErrShapeMismatch, len(flags), ds.NVars())
	}
	out := ds.Clone()
	out.Var.Bools[key] = flags
	return out, nil
}

// WithVarFloats returns a copy with the float feature column key set.
func (ds *Dataset) WithVarFloats(key string, values []float64) (*Dataset, error) {
	if len(values) != ds.NVars() {
		return nil, fmt.Errorf("var %q: %w: %d values for %d features", key, ErrShapeMismatch, len(values), ds.NVars())
	}
	out := ds.Clone()
	out.Var.Floats[key] = values
	return out, nil
}

// WithObsFloats returns a copy with the float observation column key set.
func (ds *Dataset) WithObsFloats(key string, values []float64) (*Dataset, error) {
	if len(values) != ds.NObs() {
		return nil, fmt.Errorf("obs %q: %w: %d values for %d observations", key, ErrShapeMismatch, len(values), ds.NObs())
	}
	out := ds.Clone()
	out.Obs.Floats[key] = values
	return out, nil
}

// Embedding returns the Obsm entry key or ErrSlotNotFound.
func (ds *Dataset) Embedding(key string) (*mat.Dense, error) {
	m, ok := ds.Obsm[key]
	if !ok {
		return nil, fmt.Errorf("obsm %q: %w", key, ErrSlotNotFound)
	}
	return m, nil
}

// SubsetVars returns a dataset restricted to the features where mask is true.
// X, every layer and every Varm entry are copied; Obsm, Obsp and Uns carry
// over unchanged.
func (ds *Dataset) SubsetVars(mask []bool) (*Dataset, error) {
	if len(mask) != ds.NVars() {
		return nil, fmt.Errorf("%w: mask has %d entries for %d features", ErrShapeMismatch, len(mask), ds.NVars())
	}
	keep := make([]int, 0, len(mask))
	for j, m := range mask {
		if m {
			keep = append(keep, j)
		}
	}
	if len(keep) == 0 {
		return nil, fmt.Errorf("subset selects no features: %w", ErrEmpty)
	}

	out := ds.Clone()
	out.X = selectColumns(ds.X, keep)
	for k, layer := range ds.Layers {
		out.Layers[k] = selectColumns(layer, keep)
	}
	for k, m := range ds.Varm {
		out.Varm[k] = selectRows(m, keep)
	}

	out.VarNames = make([]string, len(keep))
	for i, j := range keep {
		out.VarNames[i] = ds.VarNames[j]
	}
	out.Var = newFrame()
	for k, col := range ds.Var.Bools {
		sub := make([]bool, len(keep))
		for i, j := range keep {
			sub[i] = col[j]
		}
		out.Var.Bools[k] = sub
	}
	for k, col := range ds.Var.Floats {
		sub := make([]float64, len(keep))
		for i, j := range keep {
			sub[i] = col[j]
		}
		out.Var.Floats[k] = sub
	}
	return out, nil
}

func (ds *Dataset) checkShape(m *mat.Dense) error {
	if m == nil {
		return ErrEmpty
	}
	r, c := m.Dims()
	if r != ds.NObs() || c != ds.NVars() {
		return fmt.Errorf("%w: got %dx%d, expected %dx%d", ErrShapeMismatch, r, c, ds.NObs(), ds.NVars())
	}
	return nil
}

func selectColumns(m *mat.Dense, cols []int) *mat.Dense {
	n, _ := m.Dims()
	out := mat.NewDense(n, len(cols), nil)
	for i := 0; i < n; i++ {
		for k, j := range cols {
			out.Set(i, k, m.At(i, j))
		}
	}
	return out
}

func generateNames(prefix string, n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("%s_%d", prefix, i)
	}
	return names
}

func selectRows(m *mat.Dense, rows []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for k, i := range rows {
		out.SetRow(k, m.RawRowView(i))
	}
	return out
}
