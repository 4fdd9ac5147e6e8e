package policy

// Algorithm selector values accepted in spec.algorithm
const (
	AlgoThompson      = "thompson"
	AlgoUCB           = "ucb"
	AlgoEpsilonGreedy = "epsilon_greedy"
	AlgoContextual    = "contextual"
)

// Lifecycle states
const (
	LifecycleActive = "ACTIVE"
	LifecyclePaused = "PAUSED"
)

// Reward mapping modes
const (
	RewardBinary = "binary"
	RewardMinMax = "minmax"
)

// Policy represents a parsed allocation policy document
type Policy struct {
	APIVersion string   `yaml:"apiVersion" json:"apiVersion"`
	Kind       string   `yaml:"kind" json:"kind"`
	Metadata   Metadata `yaml:"metadata" json:"metadata"`
	Spec       Spec     `yaml:"spec" json:"spec"`
}

// Metadata identifies the experiment the policy governs
type Metadata struct {
	ID          string `yaml:"id" json:"id"`
	Owner       string `yaml:"owner,omitempty" json:"owner,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Spec contains the allocation policy specification
type Spec struct {
	Version        int            `yaml:"version" json:"version"`
	Objective      string         `yaml:"objective" json:"objective"`
	Algorithm      string         `yaml:"algorithm" json:"algorithm"`
	Lifecycle      string         `yaml:"lifecycle,omitempty" json:"lifecycle,omitempty"`
	Variants       []Variant      `yaml:"variants" json:"variants"`
	Constraints    Constraints    `yaml:"constraints" json:"constraints"`
	SafeExplorePct float64        `yaml:"safeExplorePct,omitempty" json:"safeExplorePct,omitempty"`
	RewardMapping  RewardMapping  `yaml:"rewardMapping" json:"rewardMapping"`
	StickySalt     string         `yaml:"stickySalt,omitempty" json:"stickySalt,omitempty"`
	Segmentation   string         `yaml:"segmentation,omitempty" json:"segmentation,omitempty"`
	KillOnBreach   bool           `yaml:"killOnBreach,omitempty" json:"killOnBreach,omitempty"`
	UCBExploration float64        `yaml:"ucbExploration,omitempty" json:"ucbExploration,omitempty"`
	Epsilon        float64        `yaml:"epsilon,omitempty" json:"epsilon,omitempty"`
	Context        *ContextConfig `yaml:"context,omitempty" json:"context,omitempty"`
}

// Variant is one arm of the experiment
type Variant struct {
	Name    string `yaml:"name" json:"name"`
	Control bool   `yaml:"control,omitempty" json:"control,omitempty"`
	Prior   *Prior `yaml:"prior,omitempty" json:"prior,omitempty"`
}

// Prior seeds the Beta posterior for a variant
type Prior struct {
	Alpha float64 `yaml:"alpha" json:"alpha"`
	Beta  float64 `yaml:"beta" json:"beta"`
}

// Constraints bounds what the planner may enforce
type Constraints struct {
	MinTrafficPctPerVariant float64 `yaml:"minTrafficPctPerVariant" json:"minTrafficPctPerVariant"`
	MaxRampPerStepPct       float64 `yaml:"maxRampPerStepPct" json:"maxRampPerStepPct"`
	CooldownMinutes         int     `yaml:"cooldownMinutes" json:"cooldownMinutes"`
	MinSamplesPerVariant    int     `yaml:"minSamplesPerVariant,omitempty" json:"minSamplesPerVariant,omitempty"`
}

// RewardMapping defines how observed rewards map to [0,1].
// binary accepts only 0/1 outcomes; minmax maps (r-min)/(max-min) clamped.
type RewardMapping struct {
	Mode string  `yaml:"mode" json:"mode"`
	Min  float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max  float64 `yaml:"max,omitempty" json:"max,omitempty"`
}

// ContextConfig configures the feature encoder for contextual policies
type ContextConfig struct {
	Categorical []string        `yaml:"categorical,omitempty" json:"categorical,omitempty"`
	Cyclical    []CyclicalField `yaml:"cyclical,omitempty" json:"cyclical,omitempty"`
}

// CyclicalField is a cyclical context attribute, e.g. hour-of-day with period 24
type CyclicalField struct {
	Field  string  `yaml:"field" json:"field"`
	Period float64 `yaml:"period" json:"period"`
}

// PolicyWithFile pairs a policy with its source file path
type PolicyWithFile struct {
	Policy *Policy
	File   string
}

// ValidationError represents a validation error for a specific document
type ValidationError struct {
	File    string
	Path    string
	Message string
}

// Error implements the error interface
func (e ValidationError) Error() string {
	if e.Path != "" {
		return e.File + ": " + e.Path + ": " + e.Message
	}
	return e.File + ": " + e.Message
}

// ControlVariant returns the rollback target: the first variant marked
// control, or the first declared variant when none is marked.
func (p *Policy) ControlVariant() string {
	for _, v := range p.Spec.Variants {
		if v.Control {
			return v.Name
		}
	}
	if len(p.Spec.Variants) > 0 {
		return p.Spec.Variants[0].Name
	}
	return ""
}

// HasVariant reports whether name is declared in the policy
func (p *Policy) HasVariant(name string) bool {
	for _, v := range p.Spec.Variants {
		if v.Name == name {
			return true
		}
	}
	return false
}

// VariantNames returns variant names in declaration order
func (p *Policy) VariantNames() []string {
	names := make([]string, len(p.Spec.Variants))
	for i, v := range p.Spec.Variants {
		names[i] = v.Name
	}
	return names
}

// PriorFor returns the configured prior for a variant, defaulting to Beta(1,1)
func (p *Policy) PriorFor(name string) Prior {
	for _, v := range p.Spec.Variants {
		if v.Name == name && v.Prior != nil {
			return *v.Prior
		}
	}
	return Prior{Alpha: 1, Beta: 1}
}

// MapReward maps an observed reward to [0,1] per the policy's reward
// mapping. ok is false when the reward is outside the mapping's contract.
func (p *Policy) MapReward(reward float64) (mapped float64, ok bool) {
	switch p.Spec.RewardMapping.Mode {
	case RewardBinary:
		if reward == 0 || reward == 1 {
			return reward, true
		}
		return 0, false
	case RewardMinMax:
		m := p.Spec.RewardMapping
		if m.Max <= m.Min {
			return 0, false
		}
		v := (reward - m.Min) / (m.Max - m.Min)
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		return v, true
	default:
		return 0, false
	}
}
