package bandit

import (
	"fmt"

	"github.com/laylaymen/kriptobot-sub001/internal/policy"
	"github.com/laylaymen/kriptobot-sub001/internal/sample"
)

// Algorithm is one bandit algorithm family, bound to a policy at
// definition time. Implementations are stateless apart from their
// configuration; all belief state lives in the posteriors.
type Algorithm interface {
	// Name returns the algorithm selector this implementation serves,
	// used as the basis label on emitted plans.
	Name() string

	// Update folds a batch of observations for one variant into its
	// posterior. The fold is commutative within a batch and never
	// decreases any counter.
	Update(post *Posterior, obs []Observation)

	// Weights converts the per-variant posteriors into raw candidate
	// weights summing to 100, before any constraint enforcement.
	// Variant iteration follows policy declaration order; ties break
	// toward the earlier-declared variant.
	Weights(pol *policy.Policy, posts map[string]*Posterior) (map[string]float64, error)
}

// ForPolicy selects the algorithm implementation for a policy once, at
// policy-definition time. The returned handle is stored on the experiment
// and reused for every cycle; algorithm names are never re-dispatched
// per call.
func ForPolicy(pol *policy.Policy, sampler *sample.Sampler) (Algorithm, error) {
	switch pol.Spec.Algorithm {
	case policy.AlgoThompson:
		return &Thompson{sampler: sampler}, nil
	case policy.AlgoUCB:
		return &UCB{exploration: pol.Spec.UCBExploration}, nil
	case policy.AlgoEpsilonGreedy:
		return &EpsilonGreedy{epsilon: pol.Spec.Epsilon}, nil
	case policy.AlgoContextual:
		return &Contextual{thompson: &Thompson{sampler: sampler}}, nil
	default:
		return nil, fmt.Errorf("unknown algorithm %q", pol.Spec.Algorithm)
	}
}

// normalizeTo100 scales raw non-negative scores to weights summing to 100.
// A zero or degenerate total falls back to a uniform split.
func normalizeTo100(pol *policy.Policy, scores map[string]float64) map[string]float64 {
	names := pol.VariantNames()

	var total float64
	for _, name := range names {
		if scores[name] > 0 {
			total += scores[name]
		}
	}

	weights := make(map[string]float64, len(names))
	if total <= 0 {
		uniform := 100.0 / float64(len(names))
		for _, name := range names {
			weights[name] = uniform
		}
		return weights
	}

	for _, name := range names {
		s := scores[name]
		if s < 0 {
			s = 0
		}
		weights[name] = s / total * 100
	}
	return weights
}
