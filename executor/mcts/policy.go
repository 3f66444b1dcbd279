package mcts

import (
	"math"
	"math/rand"
)

// RenormalizePriors restricts priors to the legal actions and rescales them
// to sum to 1. Negative entries count as zero. When the legal mass is zero
// the result is uniform over legal.
func RenormalizePriors(priors []float32, legal []int) []ActionPrior {
	var sum float64
	for _, a := range legal {
		if p := priors[a]; p > 0 {
			sum += float64(p)
		}
	}
	if sum <= 0 || math.IsInf(sum, 0) {
		return UniformPriors(legal)
	}

	out := make([]ActionPrior, len(legal))
	for i, a := range legal {
		p := float64(priors[a])
		if p < 0 {
			p = 0
		}
		out[i] = ActionPrior{Action: a, Prior: float32(p / sum)}
	}
	return out
}

func UniformPriors(legal []int) []ActionPrior {
	out := make([]ActionPrior, len(legal))
	if len(legal) == 0 {
		return out
	}
	p := 1 / float32(len(legal))
	for i, a := range legal {
		out[i] = ActionPrior{Action: a, Prior: p}
	}
	return out
}

// VisitDistribution turns the root visit counts into a move distribution of
// length numCells.
//
// With temperature > 0 the probability of a child is proportional to
// N^(1/temperature), computed in log space. With temperature <= 0 it is
// one-hot on the most visited child; the first child wins ties.
func VisitDistribution(t *Tree, numCells int, temperature float64) []float32 {
	out := make([]float32, numCells)
	children := t.Node(t.Root()).Children
	if len(children) == 0 {
		return out
	}

	if temperature <= 0 {
		best := children[0]
		for _, id := range children[1:] {
			if t.Node(id).VisitCount > t.Node(best).VisitCount {
				best = id
			}
		}
		out[t.Node(best).Action] = 1
		return out
	}

	logits := make([]float64, len(children))
	maxLogit := math.Inf(-1)
	for i, id := range children {
		n := t.Node(id).VisitCount
		if n <= 0 {
			logits[i] = math.Inf(-1)
			continue
		}
		logits[i] = math.Log(float64(n)) / temperature
		if logits[i] > maxLogit {
			maxLogit = logits[i]
		}
	}
	if math.IsInf(maxLogit, -1) {
		// No child has been visited; fall back to the priors.
		for _, id := range children {
			out[t.Node(id).Action] = t.Node(id).Prior
		}
		return out
	}

	var sum float64
	weights := make([]float64, len(children))
	for i, l := range logits {
		if math.IsInf(l, -1) {
			continue
		}
		weights[i] = math.Exp(l - maxLogit)
		sum += weights[i]
	}
	for i, id := range children {
		out[t.Node(id).Action] = float32(weights[i] / sum)
	}
	return out
}

// SampleAction samples an index from probs, which need not sum exactly to 1.
func SampleAction(rng *rand.Rand, probs []float32) int {
	var total float64
	last := -1
	for i, p := range probs {
		if p > 0 {
			total += float64(p)
			last = i
		}
	}
	if last < 0 {
		return argmax(probs)
	}

	r := rng.Float64() * total
	var cumulative float64
	for i, p := range probs {
		if p <= 0 {
			continue
		}
		cumulative += float64(p)
		if r < cumulative {
			return i
		}
	}
	return last
}

// argmax returns the first index holding the largest value.
func argmax(probs []float32) int {
	best := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return best
}
