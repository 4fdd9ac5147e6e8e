package bandit

import (
	"sort"

	"github.com/laylaymen/kriptobot-sub001/internal/policy"
)

// Contextual runs Thompson sampling per context segment. Observations
// carrying a segment key update a sub-posterior for that segment as well
// as the global posterior; planning averages the per-segment Thompson
// allocations weighted by segment sample counts, falling back to the
// global allocation before any segment has data.
type Contextual struct {
	thompson *Thompson
}

// Name implements Algorithm
func (c *Contextual) Name() string { return policy.AlgoContextual }

// Update implements Algorithm
func (c *Contextual) Update(post *Posterior, obs []Observation) {
	for _, o := range obs {
		post.observe(o.Reward)

		if o.Segment == "" {
			continue
		}
		if post.Segments == nil {
			post.Segments = make(map[string]*Posterior)
		}
		sub, ok := post.Segments[o.Segment]
		if !ok {
			// Sub-posteriors start from the same uninformative prior the
			// global posterior was seeded from relative to its counts
			sub = NewPosterior(1, 1)
			post.Segments[o.Segment] = sub
		}
		sub.observe(o.Reward)
	}
}

// Weights implements Algorithm
func (c *Contextual) Weights(pol *policy.Policy, posts map[string]*Posterior) (map[string]float64, error) {
	segments := collectSegments(pol, posts)
	if len(segments) == 0 {
		return c.thompson.Weights(pol, posts)
	}

	names := pol.VariantNames()
	combined := make(map[string]float64, len(names))
	var totalMass float64

	for _, seg := range segments {
		segPosts := make(map[string]*Posterior, len(names))
		var segSamples int64
		for _, name := range names {
			post := posts[name]
			if post == nil {
				continue
			}
			if sub, ok := post.Segments[seg]; ok {
				segPosts[name] = sub
				segSamples += sub.SampleCount
			}
		}
		if segSamples == 0 {
			continue
		}

		segWeights, err := c.thompson.Weights(pol, segPosts)
		if err != nil {
			return nil, err
		}

		mass := float64(segSamples)
		for name, w := range segWeights {
			combined[name] += w * mass
		}
		totalMass += mass
	}

	if totalMass == 0 {
		return c.thompson.Weights(pol, posts)
	}

	for name := range combined {
		combined[name] /= totalMass
	}
	return combined, nil
}

// collectSegments returns the sorted union of segment keys seen so far
func collectSegments(pol *policy.Policy, posts map[string]*Posterior) []string {
	set := make(map[string]struct{})
	for _, name := range pol.VariantNames() {
		post := posts[name]
		if post == nil {
			continue
		}
		for seg := range post.Segments {
			set[seg] = struct{}{}
		}
	}

	segments := make([]string, 0, len(set))
	for seg := range set {
		segments = append(segments, seg)
	}
	sort.Strings(segments)
	return segments
}
