package umap

import (
	"context"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// layoutParams configures optimizeLayout.
type layoutParams struct {
	a, b               float64
	gamma              float64
	initialAlpha       float64
	negativeSampleRate float64
	nEpochs            int
}

// edge is a weighted directed graph edge, head -> tail.
type edge struct {
	head, tail int
	weight     float64
}

// epochsPerSample returns, for each edge, how many epochs pass between
// samples of that edge. The heaviest edge is sampled every epoch; edges with
// zero weight are never sampled (-1).
func epochsPerSample(edges []edge, nEpochs int) []float64 {
	var maxWeight float64
	for _, e := range edges {
		maxWeight = math.Max(maxWeight, e.weight)
	}
	out := make([]float64, len(edges))
	for i, e := range edges {
		out[i] = -1
		if maxWeight == 0 {
			continue
		}
		if nSamples := float64(nEpochs) * e.weight / maxWeight; nSamples > 0 {
			out[i] = float64(nEpochs) / nSamples
		}
	}
	return out
}

// optimizeLayout runs stochastic gradient descent on the UMAP cross-entropy
// with negative sampling, updating embedding in place. Both endpoints of an
// attracting edge move; only the head moves for repulsion.
func optimizeLayout(ctx context.Context, embedding *mat.Dense, edges []edge, p layoutParams, rng *rand.Rand) error {
	nVertices, dim := embedding.Dims()

	eps := epochsPerSample(edges, p.nEpochs)
	epsNeg := make([]float64, len(eps))
	nextSample := make([]float64, len(eps))
	nextNeg := make([]float64, len(eps))
	for i, e := range eps {
		epsNeg[i] = e / p.negativeSampleRate
		nextSample[i] = e
		nextNeg[i] = epsNeg[i]
	}

	alpha := p.initialAlpha
	for epoch := 0; epoch < p.nEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := float64(epoch)

		for i, e := range edges {
			if eps[i] < 0 || nextSample[i] > n {
				continue
			}

			current := embedding.RawRowView(e.head)
			other := embedding.RawRowView(e.tail)

			distSq := rdist(current, other)
			gradCoeff := 0.0
			if distSq > 0 {
				gradCoeff = -2 * p.a * p.b * math.Pow(distSq, p.b-1)
				gradCoeff /= p.a*math.Pow(distSq, p.b) + 1
			}
			for d := 0; d < dim; d++ {
				grad := clip(gradCoeff * (current[d] - other[d]))
				current[d] += grad * alpha
				other[d] -= grad * alpha
			}
			nextSample[i] += eps[i]

			nNeg := int((n - nextNeg[i]) / epsNeg[i])
			for s := 0; s < nNeg; s++ {
				k := rng.Intn(nVertices)
				if k == e.head {
					continue
				}
				other := embedding.RawRowView(k)
				distSq := rdist(current, other)
				gradCoeff := 0.0
				if distSq > 0 {
					gradCoeff = 2 * p.gamma * p.b
					gradCoeff /= (0.001 + distSq) * (p.a*math.Pow(distSq, p.b) + 1)
				}
				for d := 0; d < dim; d++ {
					grad := 4.0
					if gradCoeff > 0 {
						grad = clip(gradCoeff * (current[d] - other[d]))
					}
					current[d] += grad * alpha
				}
			}
			nextNeg[i] += float64(nNeg) * epsNeg[i]
		}

		alpha = p.initialAlpha * (1 - n/float64(p.nEpochs))
	}
	return nil
}

func rdist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func clip(v float64) float64 {
	switch {
	case v > 4:
		return 4
	case v < -4:
		return -4
	default:
		return v
	}
}
