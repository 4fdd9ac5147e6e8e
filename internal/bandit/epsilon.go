package bandit

import (
	"github.com/laylaymen/kriptobot-sub001/internal/policy"
)

// EpsilonGreedy allocates (1-epsilon) of the pool to the empirically best
// variant and spreads the epsilon remainder evenly across all variants.
type EpsilonGreedy struct {
	epsilon float64
}

// Name implements Algorithm
func (e *EpsilonGreedy) Name() string { return policy.AlgoEpsilonGreedy }

// Update implements Algorithm
func (e *EpsilonGreedy) Update(post *Posterior, obs []Observation) {
	for _, o := range obs {
		post.observe(o.Reward)
	}
}

// Weights implements Algorithm
func (e *EpsilonGreedy) Weights(pol *policy.Policy, posts map[string]*Posterior) (map[string]float64, error) {
	names := pol.VariantNames()

	best := names[0]
	bestAvg := -1.0
	for _, name := range names {
		post := posts[name]
		avg := 0.0
		if post != nil && post.SampleCount > 0 {
			avg = post.AverageReward
		}
		// Strict comparison keeps declaration order on ties
		if avg > bestAvg {
			bestAvg = avg
			best = name
		}
	}

	n := float64(len(names))
	explore := e.epsilon * 100 / n

	weights := make(map[string]float64, len(names))
	for _, name := range names {
		weights[name] = explore
	}
	weights[best] += (1 - e.epsilon) * 100

	return weights, nil
}
