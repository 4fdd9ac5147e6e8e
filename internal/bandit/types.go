package bandit

import "time"

// Posterior is the belief state for one (experiment, variant) pair.
// Thompson-family algorithms use the Beta shape parameters; UCB and
// epsilon-greedy use the sample-average statistics. All counters are
// monotonically non-decreasing.
type Posterior struct {
	Alpha         float64 `json:"alpha"`
	Beta          float64 `json:"beta"`
	SampleCount   int64   `json:"sampleCount"`
	TotalReward   float64 `json:"totalReward"`
	AverageReward float64 `json:"averageReward"`

	// Segments holds per-segment sub-posteriors for contextual policies,
	// keyed by the encoder's segment key. Nil for non-contextual policies.
	Segments map[string]*Posterior `json:"segments,omitempty"`
}

// NewPosterior seeds a posterior from a Beta prior
func NewPosterior(alpha, beta float64) *Posterior {
	return &Posterior{Alpha: alpha, Beta: beta}
}

// Observation is one mapped outcome attributed to a variant.
// Reward is already mapped to [0,1] by the policy's reward mapping.
type Observation struct {
	Reward  float64
	Segment string
}

// observe folds a single reward into the posterior statistics
func (p *Posterior) observe(reward float64) {
	p.Alpha += reward
	p.Beta += 1 - reward
	p.SampleCount++
	p.TotalReward += reward
	p.AverageReward = p.TotalReward / float64(p.SampleCount)
}

// Exposure is an immutable record of a subject being served a variant
type Exposure struct {
	ExperimentID string            `json:"experimentId"`
	Variant      string            `json:"variant"`
	SubjectID    string            `json:"subjectId"`
	Context      map[string]string `json:"context,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// Outcome is an immutable record of an observed result for a variant
type Outcome struct {
	ExperimentID string             `json:"experimentId"`
	Variant      string             `json:"variant"`
	Metrics      map[string]float64 `json:"metrics"`
	Context      map[string]string  `json:"context,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
}
