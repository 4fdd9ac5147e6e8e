package planner

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/laylaymen/kriptobot-sub001/internal/bandit"
	"github.com/laylaymen/kriptobot-sub001/internal/policy"
	"github.com/laylaymen/kriptobot-sub001/internal/sample"
)

func testPolicy() *policy.Policy {
	return &policy.Policy{
		Metadata: policy.Metadata{ID: "checkout-cta"},
		Spec: policy.Spec{
			Version:   1,
			Objective: "conversion",
			Algorithm: policy.AlgoThompson,
			Lifecycle: policy.LifecycleActive,
			Variants: []policy.Variant{
				{Name: "control", Control: true, Prior: &policy.Prior{Alpha: 1, Beta: 1}},
				{Name: "v2", Prior: &policy.Prior{Alpha: 1, Beta: 1}},
			},
			Constraints: policy.Constraints{
				MinTrafficPctPerVariant: 5,
				MaxRampPerStepPct:       15,
				CooldownMinutes:         30,
			},
			RewardMapping: policy.RewardMapping{Mode: policy.RewardBinary},
		},
	}
}

func freshPosteriors(pol *policy.Policy) map[string]*bandit.Posterior {
	posts := make(map[string]*bandit.Posterior)
	for _, name := range pol.VariantNames() {
		prior := pol.PriorFor(name)
		posts[name] = bandit.NewPosterior(prior.Alpha, prior.Beta)
	}
	return posts
}

// fixedAlgo returns predetermined raw weights, for exercising the
// constraint pipeline in isolation.
type fixedAlgo struct {
	weights map[string]float64
}

func (f *fixedAlgo) Name() string { return "fixed" }

func (f *fixedAlgo) Update(post *bandit.Posterior, obs []bandit.Observation) {}

func (f *fixedAlgo) Weights(pol *policy.Policy, posts map[string]*bandit.Posterior) (map[string]float64, error) {
	out := make(map[string]float64, len(f.weights))
	for k, v := range f.weights {
		out[k] = v
	}
	return out, nil
}

func TestBuild_Invariants(t *testing.T) {
	pol := testPolicy()
	algo, err := bandit.ForPolicy(pol, sample.NewSampler(rand.NewSource(11)))
	if err != nil {
		t.Fatalf("ForPolicy: %v", err)
	}

	now := time.Now()
	var prev *Plan
	for cycle := 0; cycle < 50; cycle++ {
		plan, err := Build(pol, algo, freshPosteriors(pol), prev, now)
		if err != nil {
			t.Fatalf("cycle %d: %v", cycle, err)
		}

		var sum float64
		for name, w := range plan.Weights {
			if w < pol.Spec.Constraints.MinTrafficPctPerVariant-1e-6 {
				t.Fatalf("cycle %d: %s weight %.4f below floor", cycle, name, w)
			}
			if prev != nil {
				delta := math.Abs(w - prev.Weights[name])
				if delta > pol.Spec.Constraints.MaxRampPerStepPct+1e-6 {
					t.Fatalf("cycle %d: %s delta %.4f exceeds ramp", cycle, name, delta)
				}
			}
			sum += w
		}
		if math.Abs(sum-100) > SumTolerance {
			t.Fatalf("cycle %d: weights sum to %.4f", cycle, sum)
		}
		prev = plan
	}
}

// Uniform priors over two variants: the mean split over many independent
// first plans approaches 50/50, and no single plan escapes the floor band.
func TestBuild_ScenarioUniformPrior(t *testing.T) {
	pol := testPolicy()
	algo, err := bandit.ForPolicy(pol, sample.NewSampler(rand.NewSource(17)))
	if err != nil {
		t.Fatalf("ForPolicy: %v", err)
	}

	const trials = 400
	var controlSum float64
	for i := 0; i < trials; i++ {
		plan, err := Build(pol, algo, freshPosteriors(pol), nil, time.Now())
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		c := plan.Weights["control"]
		if c < 5-1e-6 || c > 95+1e-6 {
			t.Fatalf("control weight %.4f outside [5,95]", c)
		}
		controlSum += c
	}

	mean := controlSum / trials
	if math.Abs(mean-50) > 5 {
		t.Errorf("mean control weight over %d plans = %.2f, want ~50", trials, mean)
	}
}

// Previous plan {control:90, v2:10}, raw planner output {control:20, v2:80},
// ramp 15: the enforced plan must be clamped to {control:75, v2:25}.
func TestBuild_ScenarioRampClamp(t *testing.T) {
	pol := testPolicy()
	prev := &Plan{
		ExperimentID: pol.Metadata.ID,
		Weights:      map[string]float64{"control": 90, "v2": 10},
		Tag:          TagNormal,
	}

	algo := &fixedAlgo{weights: map[string]float64{"control": 20, "v2": 80}}
	plan, err := Build(pol, algo, freshPosteriors(pol), prev, time.Now())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if math.Abs(plan.Weights["control"]-75) > 1e-6 {
		t.Errorf("control = %.4f, want 75", plan.Weights["control"])
	}
	if math.Abs(plan.Weights["v2"]-25) > 1e-6 {
		t.Errorf("v2 = %.4f, want 25", plan.Weights["v2"])
	}
	if math.Abs(plan.RampDelta-15) > 1e-6 {
		t.Errorf("ramp delta = %.4f, want 15", plan.RampDelta)
	}
}

func TestBuild_SafeExplorationReserve(t *testing.T) {
	pol := testPolicy()
	pol.Spec.SafeExplorePct = 10

	// Raw output starves control entirely
	algo := &fixedAlgo{weights: map[string]float64{"control": 0, "v2": 100}}
	plan, err := Build(pol, algo, freshPosteriors(pol), nil, time.Now())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// Floor pins control at 5, v2 takes the 95 budget, then the 10%
	// reserve splits 5/5 over the scaled remainder: {9.5, 90.5}.
	if math.Abs(plan.Weights["control"]-9.5) > 1e-6 {
		t.Errorf("control = %.4f, want 9.5", plan.Weights["control"])
	}
	if math.Abs(plan.Weights["v2"]-90.5) > 1e-6 {
		t.Errorf("v2 = %.4f, want 90.5", plan.Weights["v2"])
	}
	sum := plan.Weights["control"] + plan.Weights["v2"]
	if math.Abs(sum-100) > SumTolerance {
		t.Errorf("weights sum to %.4f", sum)
	}
	if plan.SafeExplorePct != 10 {
		t.Errorf("plan safeExplorePct = %v, want 10", plan.SafeExplorePct)
	}
}

func TestBuild_RampHoldsAcrossExplorationReserve(t *testing.T) {
	pol := testPolicy()
	pol.Spec.SafeExplorePct = 20

	prev := &Plan{
		ExperimentID: pol.Metadata.ID,
		Weights:      map[string]float64{"control": 90, "v2": 10},
	}

	algo := &fixedAlgo{weights: map[string]float64{"control": 0, "v2": 100}}
	plan, err := Build(pol, algo, freshPosteriors(pol), prev, time.Now())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for name, w := range plan.Weights {
		if delta := math.Abs(w - prev.Weights[name]); delta > 15+1e-6 {
			t.Errorf("%s delta %.4f exceeds ramp after exploration reserve", name, delta)
		}
	}
}

func TestBuild_WarmupHoldsUniformSplit(t *testing.T) {
	pol := testPolicy()
	pol.Spec.Constraints.MinSamplesPerVariant = 100

	// The fixed weights must be ignored while any variant is under-sampled
	algo := &fixedAlgo{weights: map[string]float64{"control": 100, "v2": 0}}
	plan, err := Build(pol, algo, freshPosteriors(pol), nil, time.Now())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if plan.Basis != "warmup" {
		t.Errorf("basis = %q, want warmup", plan.Basis)
	}
	if math.Abs(plan.Weights["control"]-50) > 1e-6 || math.Abs(plan.Weights["v2"]-50) > 1e-6 {
		t.Errorf("warmup weights = %v, want 50/50", plan.Weights)
	}
}

// Resuming after a rollback with floor > ramp: the forced control split
// holds variants at 0, so ramp-limited steps from it could never reach
// the floor. The rollback plan must not anchor the clamp.
func TestBuild_RollbackPlanDoesNotAnchorRamp(t *testing.T) {
	pol := testPolicy()
	pol.Spec.Constraints.MinTrafficPctPerVariant = 10
	pol.Spec.Constraints.MaxRampPerStepPct = 5

	prev := &Plan{
		ExperimentID: pol.Metadata.ID,
		Weights:      map[string]float64{"control": 100, "v2": 0},
		Tag:          TagRollback,
	}

	algo := &fixedAlgo{weights: map[string]float64{"control": 50, "v2": 50}}
	plan, err := Build(pol, algo, freshPosteriors(pol), prev, time.Now())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if math.Abs(plan.Weights["control"]-50) > 1e-6 || math.Abs(plan.Weights["v2"]-50) > 1e-6 {
		t.Errorf("post-rollback weights = %v, want the unclamped 50/50", plan.Weights)
	}
}

func TestRebase_RenormalizesSurvivingWeights(t *testing.T) {
	pol := testPolicy() // control + v2
	plan := &Plan{
		ExperimentID:  pol.Metadata.ID,
		PolicyVersion: 1,
		Weights:       map[string]float64{"control": 30, "v2": 30, "v3": 40},
		Tag:           TagNormal,
	}

	pol.Spec.Version = 2
	out := Rebase(plan, pol)
	if out == nil {
		t.Fatal("survivors carry weight, rebase must not clear the plan")
	}
	if _, ok := out.Weights["v3"]; ok {
		t.Error("removed variant must be dropped")
	}
	if math.Abs(out.Weights["control"]-50) > 1e-6 || math.Abs(out.Weights["v2"]-50) > 1e-6 {
		t.Errorf("rebased weights = %v, want 50/50", out.Weights)
	}
	if out.PolicyVersion != 2 {
		t.Errorf("rebased plan version = %d, want 2", out.PolicyVersion)
	}
	if plan.Weights["v3"] != 40 {
		t.Error("rebase must not mutate the input plan")
	}
}

func TestRebase_UnchangedVariantSetIsIdentity(t *testing.T) {
	pol := testPolicy()
	plan := &Plan{
		ExperimentID: pol.Metadata.ID,
		Weights:      map[string]float64{"control": 60, "v2": 40},
	}
	if out := Rebase(plan, pol); out != plan {
		t.Error("rebase with no removed variants must return the plan as-is")
	}
}

func TestRebase_ClearsPlanWhenNothingSurvives(t *testing.T) {
	pol := testPolicy()
	plan := &Plan{
		ExperimentID: pol.Metadata.ID,
		Weights:      map[string]float64{"control": 0, "v2": 0, "v3": 100},
	}
	if out := Rebase(plan, pol); out != nil {
		t.Errorf("rebase = %v, want nil when no surviving variant carries weight", out)
	}
}

func TestRollback_ForcesControlOnly(t *testing.T) {
	pol := testPolicy()
	plan := Rollback(pol, "slo breach: high severity", time.Now())

	if plan.Tag != TagRollback {
		t.Errorf("tag = %s, want rollback", plan.Tag)
	}
	if plan.Weights["control"] != 100 || plan.Weights["v2"] != 0 {
		t.Errorf("rollback weights = %v, want control-only", plan.Weights)
	}
	if plan.Reason == "" {
		t.Error("rollback plan must carry the breach reason")
	}
}

func TestVerify_RejectsBrokenWeights(t *testing.T) {
	pol := testPolicy()

	tests := []struct {
		name    string
		weights map[string]float64
	}{
		{"sum too low", map[string]float64{"control": 40, "v2": 40}},
		{"below floor", map[string]float64{"control": 2, "v2": 98}},
		{"negative", map[string]float64{"control": -5, "v2": 105}},
		{"nan", map[string]float64{"control": math.NaN(), "v2": 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verify(pol, tt.weights, nil)
			if err == nil {
				t.Fatal("expected invariant violation")
			}
			if _, ok := err.(*InvariantViolation); !ok {
				t.Fatalf("expected *InvariantViolation, got %T", err)
			}
		})
	}
}
