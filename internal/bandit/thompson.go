package bandit

import (
	"fmt"
	"sort"

	"github.com/laylaymen/kriptobot-sub001/internal/policy"
	"github.com/laylaymen/kriptobot-sub001/internal/sample"
)

// Thompson implements Beta-Bernoulli Thompson sampling. Planning draws
// one Beta sample per variant and allocates rank-proportional shares
// rather than raw probability mass, trading single-draw fidelity for a
// stable, interpretable ramp.
type Thompson struct {
	sampler *sample.Sampler
}

// Name implements Algorithm
func (t *Thompson) Name() string { return policy.AlgoThompson }

// Update implements Algorithm
func (t *Thompson) Update(post *Posterior, obs []Observation) {
	for _, o := range obs {
		post.observe(o.Reward)
	}
}

// Weights implements Algorithm
func (t *Thompson) Weights(pol *policy.Policy, posts map[string]*Posterior) (map[string]float64, error) {
	names := pol.VariantNames()

	type draw struct {
		name   string
		sample float64
		order  int
	}

	draws := make([]draw, 0, len(names))
	for i, name := range names {
		post := posts[name]
		if post == nil {
			prior := pol.PriorFor(name)
			post = NewPosterior(prior.Alpha, prior.Beta)
		}
		s, err := t.sampler.Beta(post.Alpha, post.Beta)
		if err != nil {
			return nil, fmt.Errorf("sample variant %q: %w", name, err)
		}
		draws = append(draws, draw{name: name, sample: s, order: i})
	}

	// Rank descending by draw; equal draws keep declaration order
	sort.SliceStable(draws, func(i, j int) bool {
		return draws[i].sample > draws[j].sample
	})

	// Rank-proportional shares: best of n gets n/(n(n+1)/2), worst gets 1/...
	n := len(draws)
	total := float64(n*(n+1)) / 2

	weights := make(map[string]float64, n)
	for pos, d := range draws {
		points := float64(n - pos)
		weights[d.name] = points / total * 100
	}
	return weights, nil
}
