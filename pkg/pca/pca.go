// Package pca provides Principal Component Analysis for expression matrices.
//
// PCA reduces the selected highly variable features to a small number of
// components that preserve most of the variance. Nearest-neighbour graphs
// and UMAP are then computed in component space instead of feature space.
//
// Component signs are fixed so that the loading with the largest absolute
// value in each component is positive, which makes scores reproducible
// across runs and platforms.
package pca

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DefaultComponents is the number of components computed by the UMAP method.
const DefaultComponents = 50

// PCA holds a fitted PCA model for dimensionality reduction.
type PCA struct {
	// Components are the top-k principal component vectors (k x originalDim).
	// Each row is a unit eigenvector of the covariance matrix.
	Components *mat.Dense

	// Mean is the per-feature mean of the training data.
	Mean []float64

	// SingularValues holds the singular values corresponding to each component.
	SingularValues []float64

	// Variance holds the variance of the scores along each component,
	// sigma^2 / (n - 1).
	Variance []float64

	// VarianceExplained holds the fraction of total variance explained by each component.
	VarianceExplained []float64

	OriginalDim int
	ReducedDim  int
}

// MaxComponents returns the largest number of components Fit accepts for
// an n x d matrix: min(n, d) - 1, and at least 1.
func MaxComponents(n, d int) int {
	return max(min(n, d)-1, 1)
}

// Fit computes a PCA model from x (observations x features).
// nComps larger than MaxComponents is reduced to MaxComponents with a warning.
func Fit(x mat.Matrix, nComps int) (*PCA, error) {
	n, d := x.Dims()
	if n == 0 || d == 0 {
		return nil, fmt.Errorf("no observations provided")
	}
	if nComps <= 0 {
		return nil, fmt.Errorf("nComps must be positive, got %d", nComps)
	}
	if limit := MaxComponents(n, d); nComps > limit {
		slog.Warn("reducing number of principal components", "requested", nComps, "using", limit, "shape", fmt.Sprintf("%dx%d", n, d))
		nComps = limit
	}

	mean := make([]float64, d)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			mean[j] += x.At(i, j)
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}

	// Centered data matrix (n x d)
	data := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			data.Set(i, j, x.At(i, j)-mean[j])
		}
	}

	// SVD of centered data: X = U * S * V^T
	// The columns of V are the principal components (eigenvectors of X^T X).
	var svd mat.SVD
	if ok := svd.Factorize(data, mat.SVDThin); !ok {
		return nil, fmt.Errorf("SVD factorization failed")
	}

	sv := svd.Values(nil)

	var totalVar float64
	for _, s := range sv {
		totalVar += s * s
	}

	var v mat.Dense
	svd.VTo(&v)

	// v is (d x min(n,d)); component i is column i.
	components := mat.NewDense(nComps, d, nil)
	for i := 0; i < nComps; i++ {
		sign := loadingSign(&v, i, d)
		for j := 0; j < d; j++ {
			components.Set(i, j, sign*v.At(j, i))
		}
	}

	dof := float64(max(n-1, 1))
	variance := make([]float64, nComps)
	varExplained := make([]float64, nComps)
	singularValues := make([]float64, nComps)
	for i := 0; i < nComps; i++ {
		singularValues[i] = sv[i]
		variance[i] = sv[i] * sv[i] / dof
		if totalVar > 0 {
			varExplained[i] = (sv[i] * sv[i]) / totalVar
		}
	}

	return &PCA{
		Components:        components,
		Mean:              mean,
		SingularValues:    singularValues,
		Variance:          variance,
		VarianceExplained: varExplained,
		OriginalDim:       d,
		ReducedDim:        nComps,
	}, nil
}

// loadingSign returns +1 or -1 so that the largest absolute loading of
// column c of v becomes positive.
func loadingSign(v *mat.Dense, c, d int) float64 {
	best, bestAbs := 0.0, -1.0
	for j := 0; j < d; j++ {
		if a := math.Abs(v.At(j, c)); a > bestAbs {
			best, bestAbs = v.At(j, c), a
		}
	}
	if best < 0 {
		return -1
	}
	return 1
}

// FitTransform fits a model on x and returns the n x k matrix of scores.
func FitTransform(x mat.Matrix, nComps int) (*mat.Dense, *PCA, error) {
	p, err := Fit(x, nComps)
	if err != nil {
		return nil, nil, err
	}
	scores, err := p.TransformMatrix(x)
	if err != nil {
		return nil, nil, err
	}
	return scores, p, nil
}

// TransformMatrix projects every row of x into component space.
func (p *PCA) TransformMatrix(x mat.Matrix) (*mat.Dense, error) {
	n, d := x.Dims()
	if d != p.OriginalDim {
		return nil, fmt.Errorf("expected dimension %d, got %d", p.OriginalDim, d)
	}

	centered := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			centered.Set(i, j, x.At(i, j)-p.Mean[j])
		}
	}

	// scores = centered * Components^T  (n x d)(d x k)
	var scores mat.Dense
	scores.Mul(centered, p.Components.T())
	return &scores, nil
}

// TotalVarianceExplained returns the cumulative variance explained by all components.
func (p *PCA) TotalVarianceExplained() float64 {
	var total float64
	for _, v := range p.VarianceExplained {
		total += v
	}
	return total
}

// Summary is the fit record stored under Uns["pca"].
type Summary struct {
	// Variance is the variance of the scores along each component.
	Variance []float64 `json:"variance"`

	// VarianceRatio is the fraction of total variance per component.
	VarianceRatio []float64 `json:"variance_ratio"`

	TotalVarianceRatio float64 `json:"total_variance_ratio"`
}

// Summary returns the per-component variances of the fit.
func (p *PCA) Summary() Summary {
	return Summary{
		Variance:           append([]float64(nil), p.Variance...),
		VarianceRatio:      append([]float64(nil), p.VarianceExplained...),
		TotalVarianceRatio: p.TotalVarianceExplained(),
	}
}

// Loadings returns the components as a features x components matrix.
func (p *PCA) Loadings() *mat.Dense {
	var l mat.Dense
	l.CloneFrom(p.Components.T())
	return &l
}
