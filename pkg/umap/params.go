package umap

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// FindABParams fits the a and b parameters of the low-dimensional similarity
// curve 1 / (1 + a*x^(2b)) to the target
//
//	1                          for x <  minDist
//	exp(-(x - minDist)/spread) for x >= minDist
//
// sampled at 300 points over [0, 3*spread], by least squares.
func FindABParams(spread, minDist float64) (a, b float64, err error) {
	if spread <= 0 {
		return 0, 0, fmt.Errorf("spread must be positive, got %g", spread)
	}
	if minDist < 0 || minDist > spread {
		return 0, 0, fmt.Errorf("min_dist must be in [0, spread], got %g", minDist)
	}

	xv := make([]float64, 300)
	floats.Span(xv, 0, spread*3)
	yv := make([]float64, len(xv))
	for i, x := range xv {
		if x < minDist {
			yv[i] = 1
		} else {
			yv[i] = math.Exp(-(x - minDist) / spread)
		}
	}

	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			if p[0] <= 0 || p[1] <= 0 {
				return math.Inf(1)
			}
			var sse float64
			for i, x := range xv {
				r := curve(x, p[0], p[1]) - yv[i]
				sse += r * r
			}
			return sse
		},
	}

	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Iterations: 200,
		},
		MajorIterations: 5000,
	}
	result, err := optimize.Minimize(problem, []float64{1, 1}, settings, &optimize.NelderMead{})
	if result == nil {
		return 0, 0, fmt.Errorf("curve fit failed: %w", err)
	}
	return result.X[0], result.X[1], nil
}

func curve(x, a, b float64) float64 {
	return 1 / (1 + a*math.Pow(x, 2*b))
}
