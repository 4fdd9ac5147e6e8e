package planner

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/laylaymen/kriptobot-sub001/internal/bandit"
	"github.com/laylaymen/kriptobot-sub001/internal/policy"
)

// Build runs one full planning cycle for an experiment: the algorithm's
// raw candidate weights projected through the constraint pipeline in
// fixed order (floor, normalize, ramp clamp, safe-exploration reserve),
// then verified against the plan invariants.
func Build(pol *policy.Policy, algo bandit.Algorithm, posts map[string]*bandit.Posterior, prev *Plan, now time.Time) (*Plan, error) {
	basis := algo.Name()

	// A closed rollback episode resumes with a fresh plan. The forced
	// control split holds non-control variants at 0, below the floor, so
	// it cannot anchor the ramp clamp.
	if prev != nil && prev.Tag == TagRollback {
		prev = nil
	}

	var raw map[string]float64
	if underSampled(pol, posts) {
		// Hold a uniform split until every variant reaches its minimum
		// sample count; the algorithm's preference kicks in afterwards.
		basis = "warmup"
		names := pol.VariantNames()
		raw = make(map[string]float64, len(names))
		for _, name := range names {
			raw[name] = 100 / float64(len(names))
		}
	} else {
		var err error
		raw, err = algo.Weights(pol, posts)
		if err != nil {
			return nil, fmt.Errorf("candidate weights: %w", err)
		}
	}

	weights, err := enforce(pol, raw, prev)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		ID:             uuid.NewString(),
		ExperimentID:   pol.Metadata.ID,
		PolicyVersion:  pol.Spec.Version,
		Weights:        weights,
		Basis:          basis,
		SafeExplorePct: pol.Spec.SafeExplorePct,
		RampDelta:      maxDelta(weights, prev),
		EnforcedAt:     now,
		CooldownUntil:  now.Add(time.Duration(pol.Spec.Constraints.CooldownMinutes) * time.Minute),
		Tag:            TagNormal,
	}
	return plan, nil
}

// Rollback builds the forced control-only plan: 100% to the designated
// control variant regardless of posterior state. Rollback plans bypass
// floor and ramp constraints.
func Rollback(pol *policy.Policy, reason string, now time.Time) *Plan {
	weights := make(map[string]float64, len(pol.Spec.Variants))
	control := pol.ControlVariant()
	for _, name := range pol.VariantNames() {
		weights[name] = 0
	}
	weights[control] = 100

	return &Plan{
		ID:            uuid.NewString(),
		ExperimentID:  pol.Metadata.ID,
		PolicyVersion: pol.Spec.Version,
		Weights:       weights,
		Basis:         "guardrail",
		RampDelta:     100,
		EnforcedAt:    now,
		CooldownUntil: now.Add(time.Duration(pol.Spec.Constraints.CooldownMinutes) * time.Minute),
		Tag:           TagRollback,
		Reason:        reason,
	}
}

// Rebase projects an enforced plan onto a changed variant set: weights
// of removed variants are dropped and the survivors renormalized to 100,
// preserving ramp continuity for the next cycle. Returns the plan
// unchanged when every variant survives, and nil when no surviving
// variant carries weight, leaving the next plan unconstrained.
func Rebase(plan *Plan, pol *policy.Policy) *Plan {
	names := pol.VariantNames()
	weights := make(map[string]float64, len(names))
	var sum float64
	removed := false
	for name, w := range plan.Weights {
		if !pol.HasVariant(name) {
			removed = true
			continue
		}
		weights[name] = w
		sum += w
	}
	if !removed {
		return plan
	}
	if sum <= 0 {
		return nil
	}

	scale := 100 / sum
	for name := range weights {
		weights[name] *= scale
	}
	out := *plan
	out.Weights = weights
	out.PolicyVersion = pol.Spec.Version
	return &out
}

// underSampled reports whether any variant is still below the policy's
// minimum sample count
func underSampled(pol *policy.Policy, posts map[string]*bandit.Posterior) bool {
	min := pol.Spec.Constraints.MinSamplesPerVariant
	if min <= 0 {
		return false
	}
	for _, name := range pol.VariantNames() {
		post, ok := posts[name]
		if !ok || post.SampleCount < int64(min) {
			return true
		}
	}
	return false
}

// enforce applies the constraint pipeline and verifies the result
func enforce(pol *policy.Policy, raw map[string]float64, prev *Plan) (map[string]float64, error) {
	names := pol.VariantNames()
	floor := pol.Spec.Constraints.MinTrafficPctPerVariant
	ramp := pol.Spec.Constraints.MaxRampPerStepPct
	explore := pol.Spec.SafeExplorePct

	// 1+2. Floor and normalize: variants below the floor are pinned there
	// and the remaining mass is rescaled into the leftover budget, so the
	// normalized result still honors the floor.
	weights := floorNormalize(names, raw, floor)

	// 3. Ramp limit: directional clamp against the previous enforced plan
	if prev != nil {
		weights = clampToRamp(names, weights, prev.Weights, ramp, floor)
	}

	// 4. Safe-exploration reserve: even split of explorePct, remainder
	// scaled proportionally, guaranteeing nonzero traffic at convergence
	if explore > 0 {
		even := explore / float64(len(names))
		scale := (100 - explore) / 100
		for _, name := range names {
			weights[name] = weights[name]*scale + even
		}
		// The reserve is an affine contraction but the previous plan may
		// sit at a box corner; re-clamp so the ramp invariant holds exactly
		if prev != nil {
			weights = clampToRamp(names, weights, prev.Weights, ramp, floor)
		}
	}

	if err := verify(pol, weights, prev); err != nil {
		return nil, err
	}
	return weights, nil
}

// floorNormalize pins variants below the floor at the floor and scales
// the remaining weights into the leftover budget, iterating until no
// scaled weight drops below the floor. Validation guarantees
// floor * len(names) <= 100, so a solution always exists.
func floorNormalize(names []string, raw map[string]float64, floor float64) map[string]float64 {
	weights := make(map[string]float64, len(names))
	pinned := make(map[string]bool, len(names))
	for _, name := range names {
		w := raw[name]
		if w < 0 {
			w = 0
		}
		weights[name] = w
	}

	for iter := 0; iter <= len(names); iter++ {
		budget := 100.0
		var freeSum float64
		free := 0
		for _, name := range names {
			if pinned[name] {
				budget -= floor
			} else {
				freeSum += weights[name]
				free++
			}
		}

		if free == 0 {
			// Everything pinned; spread the leftover budget evenly
			spread := (100 - floor*float64(len(names))) / float64(len(names))
			for _, name := range names {
				weights[name] = floor + spread
			}
			return weights
		}

		if freeSum <= 0 {
			uniform := budget / float64(free)
			for _, name := range names {
				if !pinned[name] {
					weights[name] = uniform
				}
			}
		} else {
			scale := budget / freeSum
			for _, name := range names {
				if !pinned[name] {
					weights[name] *= scale
				}
			}
		}

		violated := false
		for _, name := range names {
			if !pinned[name] && weights[name] < floor {
				pinned[name] = true
				weights[name] = floor
				violated = true
			}
		}
		if !violated {
			return weights
		}
	}
	return weights
}

// clampToRamp clamps every weight into [prev-ramp, prev+ramp] (bounded by
// the floor and [0,100]) and redistributes the residual among variants
// that still have slack, keeping the sum at 100. The box always contains
// the previous plan, so a solution exists.
func clampToRamp(names []string, weights, prev map[string]float64, ramp, floor float64) map[string]float64 {
	lo := make(map[string]float64, len(names))
	hi := make(map[string]float64, len(names))
	out := make(map[string]float64, len(names))

	for _, name := range names {
		p := prev[name]
		l := math.Max(math.Max(p-ramp, floor), 0)
		h := math.Min(p+ramp, 100)
		lo[name], hi[name] = l, h
		out[name] = math.Min(math.Max(weights[name], l), h)
	}

	for iter := 0; iter <= len(names); iter++ {
		var sum float64
		for _, name := range names {
			sum += out[name]
		}
		residual := 100 - sum
		if math.Abs(residual) < 1e-9 {
			break
		}

		var slack float64
		for _, name := range names {
			if residual > 0 {
				slack += hi[name] - out[name]
			} else {
				slack += out[name] - lo[name]
			}
		}
		if slack <= 0 {
			break
		}

		for _, name := range names {
			if residual > 0 {
				out[name] += residual * (hi[name] - out[name]) / slack
			} else {
				out[name] += residual * (out[name] - lo[name]) / slack
			}
		}
	}

	return out
}

// verify checks the plan invariants after enforcement. Any failure here
// is fatal for the cycle; the plan must not reach the flag system.
func verify(pol *policy.Policy, weights map[string]float64, prev *Plan) error {
	const eps = 1e-6
	floor := pol.Spec.Constraints.MinTrafficPctPerVariant
	ramp := pol.Spec.Constraints.MaxRampPerStepPct

	var sum float64
	for _, name := range pol.VariantNames() {
		w, ok := weights[name]
		if !ok || math.IsNaN(w) || math.IsInf(w, 0) {
			return &InvariantViolation{pol.Metadata.ID, fmt.Sprintf("variant %q has non-finite weight", name)}
		}
		if w < 0 {
			return &InvariantViolation{pol.Metadata.ID, fmt.Sprintf("variant %q weight %.4f is negative", name, w)}
		}
		if w < floor-eps {
			return &InvariantViolation{pol.Metadata.ID, fmt.Sprintf("variant %q weight %.4f below floor %.4f", name, w, floor)}
		}
		if prev != nil {
			if delta := math.Abs(w - prev.Weights[name]); delta > ramp+eps {
				return &InvariantViolation{pol.Metadata.ID, fmt.Sprintf("variant %q delta %.4f exceeds ramp %.4f", name, delta, ramp)}
			}
		}
		sum += w
	}

	if math.Abs(sum-100) > SumTolerance {
		return &InvariantViolation{pol.Metadata.ID, fmt.Sprintf("weights sum to %.4f", sum)}
	}
	return nil
}

// maxDelta returns the largest per-variant change versus the previous plan
func maxDelta(weights map[string]float64, prev *Plan) float64 {
	if prev == nil {
		return 0
	}
	var max float64
	for name, w := range weights {
		if d := math.Abs(w - prev.Weights[name]); d > max {
			max = d
		}
	}
	return max
}
