// Package normalize implements expression normalization and highly variable
// feature selection for count matrices.
//
// Normalizers are named so their output can be cached in a dataset layer:
// running the same normalizer twice on a dataset reuses the cached matrix
// instead of recomputing it from raw counts.
package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/openproblems/dimred/pkg/dataset"
)

const (
	// CPMTarget is the per-observation total after counts-per-million scaling.
	CPMTarget = 1e6

	// DefaultHVGCount is the number of highly variable features kept by LogCPMHVG.
	DefaultHVGCount = 1000

	// madScale converts a median absolute deviation into a consistent
	// estimator of the standard deviation for normal data.
	madScale = 0.6744897501960817

	// Var columns written by HighlyVariable.
	VarMeans           = "means"
	VarDispersions     = "dispersions"
	VarDispersionsNorm = "dispersions_norm"

	// ObsSizeFactors holds the raw per-observation totals used by LogCPM.
	ObsSizeFactors = "size_factors"
)

// Func transforms a dataset into a normalized dataset.
type Func func(ds *dataset.Dataset) (*dataset.Dataset, error)

// Normalizer is a named normalization whose output is cached under Name.
type Normalizer struct {
	Name string
	Func Func

	// CacheFlag, when set, is a Var bool column that must be present for a
	// cached layer to be reused.
	CacheFlag string
}

// LogCPMHVGNormalizer is log-CPM normalization followed by selection of
// DefaultHVGCount highly variable features.
var LogCPMHVGNormalizer = Normalizer{
	Name:      "log_cpm_hvg",
	CacheFlag: dataset.VarHighlyVariable,
	Func: func(ds *dataset.Dataset) (*dataset.Dataset, error) {
		return LogCPMHVG(ds, DefaultHVGCount)
	},
}

// LogCPMNormalizer is log-CPM normalization alone.
var LogCPMNormalizer = Normalizer{
	Name: "log_cpm",
	Func: LogCPM,
}

// Apply runs n on ds. Raw counts are read from the "counts" layer when it
// exists, otherwise from X. A layer named n.Name already present on ds is
// reused as the result.
func Apply(ctx context.Context, ds *dataset.Dataset, n Normalizer) (*dataset.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cached, ok := ds.Layers[n.Name]; ok {
		if _, hasFlag := ds.Var.Bools[n.CacheFlag]; n.CacheFlag == "" || hasFlag {
			slog.Debug("reusing cached normalization", "normalizer", n.Name, "dataset", ds.Name)
			return ds.WithX(cached)
		}
	}

	src := ds
	if counts, ok := ds.Layers[dataset.LayerCounts]; ok {
		var err error
		if src, err = ds.WithX(counts); err != nil {
			return nil, fmt.Errorf("counts layer: %w", err)
		}
	}

	out, err := n.Func(src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", n.Name, err)
	}
	return out.WithLayer(n.Name, out.X)
}

// LogCPM scales each observation to CPMTarget total counts and applies
// log(1+x). Observations with zero total counts stay zero.
func LogCPM(ds *dataset.Dataset) (*dataset.Dataset, error) {
	n, d := ds.X.Dims()
	out := mat.NewDense(n, d, nil)
	sizeFactors := make([]float64, n)

	row := make([]float64, d)
	for i := 0; i < n; i++ {
		mat.Row(row, i, ds.X)
		total := floats.Sum(row)
		sizeFactors[i] = total
		if total == 0 {
			continue
		}
		if total < 0 {
			return nil, fmt.Errorf("observation %q has negative total counts %g", ds.ObsNames[i], total)
		}
		scale := CPMTarget / total
		for j, v := range row {
			out.Set(i, j, math.Log1p(v*scale))
		}
	}

	res, err := ds.WithX(out)
	if err != nil {
		return nil, err
	}
	return res.WithObsFloats(ObsSizeFactors, sizeFactors)
}

// LogCPMHVG runs LogCPM and flags the nGenes most variable features. When the
// dataset has fewer than nGenes features, half of them are flagged instead.
func LogCPMHVG(ds *dataset.Dataset, nGenes int) (*dataset.Dataset, error) {
	out, err := LogCPM(ds)
	if err != nil {
		return nil, err
	}
	if d := out.NVars(); d < nGenes {
		reduced := int(float64(d) * 0.5)
		slog.Warn("fewer features than requested highly variable genes",
			"requested", nGenes, "features", d, "using", reduced)
		nGenes = reduced
	}
	return HighlyVariable(out, nGenes)
}

// HighlyVariable flags the nTop features with the highest normalized
// dispersion, following the Cell Ranger procedure: dispersion (variance over
// mean) is normalized within bins of features of similar mean using the bin
// median and median absolute deviation. Features tied with the cutoff value
// are also flagged. Var["dispersions_norm"] keeps NaN and infinite values
// from bins with zero deviation.
func HighlyVariable(ds *dataset.Dataset, nTop int) (*dataset.Dataset, error) {
	if nTop <= 0 {
		return nil, fmt.Errorf("no highly variable features requested (nTop=%d)", nTop)
	}
	_, d := ds.X.Dims()
	if nTop > d {
		nTop = d
	}

	means := make([]float64, d)
	dispersions := make([]float64, d)
	col := make([]float64, ds.NObs())
	for j := 0; j < d; j++ {
		mat.Col(col, j, ds.X)
		mean, variance := stat.MeanVariance(col, nil)
		if ds.NObs() < 2 {
			variance = 0
		}
		if mean == 0 {
			mean = 1e-12
		}
		means[j] = mean
		dispersions[j] = variance / mean
	}

	bins := meanBins(means)
	norm := make([]float64, d)
	for _, members := range groupByBin(bins) {
		values := make([]float64, len(members))
		for k, j := range members {
			values[k] = dispersions[j]
		}
		med := median(values)
		for k := range values {
			values[k] = math.Abs(values[k] - med)
		}
		mad := median(values) / madScale
		for _, j := range members {
			norm[j] = (dispersions[j] - med) / mad
		}
	}

	flags := selectTop(norm, nTop)

	out, err := ds.WithVarFlags(dataset.VarHighlyVariable, flags)
	if err != nil {
		return nil, err
	}
	for key, values := range map[string][]float64{
		VarMeans:           means,
		VarDispersions:     dispersions,
		VarDispersionsNorm: norm,
	} {
		if out, err = out.WithVarFloats(key, values); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// meanBins assigns each feature to one of 20 bins delimited by the 10th,
// 15th, ..., 100th percentiles of the means. Bins are right-inclusive.
func meanBins(means []float64) []int {
	sorted := make([]float64, len(means))
	copy(sorted, means)
	sort.Float64s(sorted)

	edges := make([]float64, 0, 19)
	for p := 10; p <= 100; p += 5 {
		edges = append(edges, percentile(sorted, float64(p)))
	}

	bins := make([]int, len(means))
	for j, m := range means {
		bins[j] = sort.Search(len(edges), func(k int) bool { return m <= edges[k] })
	}
	return bins
}

func groupByBin(bins []int) map[int][]int {
	groups := make(map[int][]int)
	for j, b := range bins {
		groups[b] = append(groups[b], j)
	}
	return groups
}

// percentile returns the p-th percentile of sorted data using linear
// interpolation between closest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return percentile(sorted, 50)
}

// selectTop flags features whose normalized dispersion reaches the nTop-th
// highest value. NaN values (bins with a single feature) are left out of the
// ranking and compare as 0; infinite values rank and compare as the largest
// finite magnitudes. If fewer than nTop values are not NaN, NaN values are
// ranked as 0 too.
func selectTop(norm []float64, nTop int) []bool {
	ranked := make([]float64, 0, len(norm))
	for _, v := range norm {
		if !math.IsNaN(v) {
			ranked = append(ranked, v)
		}
	}
	if len(ranked) < nTop {
		ranked = ranked[:0]
		for _, v := range norm {
			ranked = append(ranked, nanToNum(v))
		}
	}

	cutoff := nanToNum(nthHighest(ranked, nTop))
	flags := make([]bool, len(norm))
	for j, v := range norm {
		flags[j] = nanToNum(v) >= cutoff
	}
	return flags
}

func nanToNum(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case math.IsInf(v, 1):
		return math.MaxFloat64
	case math.IsInf(v, -1):
		return -math.MaxFloat64
	default:
		return v
	}
}

func nthHighest(values []float64, n int) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	return sorted[n-1]
}
