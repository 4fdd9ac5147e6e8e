package bandit

import (
	"math"

	"github.com/laylaymen/kriptobot-sub001/internal/policy"
)

// UCB implements Upper Confidence Bound allocation: average reward plus
// an uncertainty bonus that shrinks as a variant accumulates samples.
type UCB struct {
	exploration float64 // the C constant
}

// Name implements Algorithm
func (u *UCB) Name() string { return policy.AlgoUCB }

// Update implements Algorithm
func (u *UCB) Update(post *Posterior, obs []Observation) {
	for _, o := range obs {
		post.observe(o.Reward)
	}
}

// Weights implements Algorithm
func (u *UCB) Weights(pol *policy.Policy, posts map[string]*Posterior) (map[string]float64, error) {
	names := pol.VariantNames()

	var totalSamples int64
	for _, name := range names {
		if post := posts[name]; post != nil {
			totalSamples += post.SampleCount
		}
	}

	scores := make(map[string]float64, len(names))
	maxFinite := 0.0
	unsampled := []string{}

	for _, name := range names {
		post := posts[name]
		if post == nil || post.SampleCount == 0 {
			// Unsampled variants score +Inf; substituted below
			unsampled = append(unsampled, name)
			continue
		}
		bonus := 0.0
		if totalSamples > 1 {
			bonus = u.exploration * math.Sqrt(2*math.Log(float64(totalSamples))/float64(post.SampleCount))
		}
		score := post.AverageReward + bonus
		scores[name] = score
		if score > maxFinite {
			maxFinite = score
		}
	}

	// An unsampled variant must be explored at least as eagerly as the
	// current best; substituting the max finite score avoids the
	// divide-by-zero while keeping normalization well defined.
	for _, name := range unsampled {
		scores[name] = maxFinite
	}

	return normalizeTo100(pol, scores), nil
}
