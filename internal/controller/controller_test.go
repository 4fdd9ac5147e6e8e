package controller

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/laylaymen/kriptobot-sub001/internal/bandit"
	"github.com/laylaymen/kriptobot-sub001/internal/flagsink"
	"github.com/laylaymen/kriptobot-sub001/internal/guardrail"
	"github.com/laylaymen/kriptobot-sub001/internal/metrics"
	"github.com/laylaymen/kriptobot-sub001/internal/planner"
	"github.com/laylaymen/kriptobot-sub001/internal/policy"
	"github.com/laylaymen/kriptobot-sub001/internal/sample"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testPolicy(id string) *policy.Policy {
	return &policy.Policy{
		APIVersion: "bandit/v1",
		Kind:       "AllocationPolicy",
		Metadata:   policy.Metadata{ID: id, Owner: "growth"},
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
				MaxRampPerStepPct:       20,
				CooldownMinutes:         30,
			},
			RewardMapping: policy.RewardMapping{Mode: policy.RewardBinary},
		},
	}
}

type captureAlerter struct {
	mu     sync.Mutex
	alerts []Alert
}

func (a *captureAlerter) Alert(alert Alert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
}

func (a *captureAlerter) byLevel(level string) []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Alert
	for _, al := range a.alerts {
		if al.Level == level {
			out = append(out, al)
		}
	}
	return out
}

func newTestController(t *testing.T) (*Controller, *flagsink.MemorySink, *captureAlerter) {
	t.Helper()

	validator, err := policy.NewValidator("../../schemas/policy_v1.json")
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	sink := flagsink.NewMemorySink()
	alerter := &captureAlerter{}
	c := New(DefaultConfig(), validator,
		guardrail.NewMonitor(guardrail.DefaultSeverityMap()),
		sink, sample.NewSampler(rand.NewSource(42)), metrics.New())
	c.SetAlerter(alerter)
	return c, sink, alerter
}

func mustDefine(t *testing.T, c *Controller, pol *policy.Policy, now time.Time) {
	t.Helper()
	if _, err := c.DefinePolicy(pol, RoleOperator, now); err != nil {
		t.Fatalf("DefinePolicy: %v", err)
	}
}

func TestDefinePolicy_IdempotentReplay(t *testing.T) {
	c, sink, _ := newTestController(t)
	now := time.Date(2026, 5, 12, 10, 0, 0, 0, time.UTC)

	ack, err := c.DefinePolicy(testPolicy("checkout-cta"), RoleOperator, now)
	if err != nil {
		t.Fatalf("DefinePolicy: %v", err)
	}
	if ack.Duplicate {
		t.Error("first define must not be marked duplicate")
	}

	replay, err := c.DefinePolicy(testPolicy("checkout-cta"), RoleOperator, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("replayed DefinePolicy: %v", err)
	}
	if !replay.Duplicate {
		t.Error("replay within the same day must be acknowledged as duplicate")
	}
	if replay.Key != ack.Key {
		t.Error("replay must carry the original idempotency key")
	}
	if c.ExperimentCount() != 1 {
		t.Errorf("experiment count = %d, want 1", c.ExperimentCount())
	}
	if len(sink.Plans()) != 0 {
		t.Error("define must not enforce anything by itself")
	}
}

func TestDefinePolicy_RejectsUnauthorizedRole(t *testing.T) {
	c, _, alerter := newTestController(t)

	_, err := c.DefinePolicy(testPolicy("checkout-cta"), "viewer", time.Now())
	var authErr *AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthorizationError, got %v", err)
	}
	if c.ExperimentCount() != 0 {
		t.Error("rejected define must not register the experiment")
	}
	if len(alerter.byLevel(AlertWarning)) == 0 {
		t.Error("denial must raise an audit alert")
	}
}

func TestDefinePolicy_RejectsInvalidDocument(t *testing.T) {
	c, _, _ := newTestController(t)

	pol := testPolicy("checkout-cta")
	pol.Spec.Variants = pol.Spec.Variants[:1] // single variant

	_, err := c.DefinePolicy(pol, RoleOperator, time.Now())
	var vf *ValidationFailure
	if !errors.As(err, &vf) {
		t.Fatalf("expected *ValidationFailure, got %v", err)
	}
	if len(vf.Errors) == 0 {
		t.Error("validation failure must itemize errors")
	}
}

func TestTick_EnforcesInitialPlan(t *testing.T) {
	c, sink, _ := newTestController(t)
	now := time.Now()
	mustDefine(t, c, testPolicy("checkout-cta"), now)

	c.Tick(context.Background(), now)

	plan := sink.Last()
	if plan == nil {
		t.Fatal("tick must enforce an initial plan")
	}
	if plan.Tag != planner.TagNormal {
		t.Errorf("tag = %s, want normal", plan.Tag)
	}
	var sum float64
	for _, w := range plan.Weights {
		sum += w
	}
	if math.Abs(sum-100) > planner.SumTolerance {
		t.Errorf("weights sum to %.4f", sum)
	}

	weights, err := c.EvaluateFlag("checkout-cta")
	if err != nil {
		t.Fatalf("EvaluateFlag: %v", err)
	}
	if len(weights) != 2 {
		t.Errorf("evaluated weights = %v, want two variants", weights)
	}

	snap, ok := c.SnapshotOf("checkout-cta")
	if !ok || snap.State != StateCooldown {
		t.Errorf("post-enforce state = %v, want COOLDOWN", snap.State)
	}

	// Mid-cooldown tick is a no-op
	c.Tick(context.Background(), now.Add(10*time.Minute))
	if len(sink.Plans()) != 1 {
		t.Errorf("plans enforced = %d, want 1 (cooldown must hold)", len(sink.Plans()))
	}
}

func TestTick_FoldsOutcomesIntoPosteriors(t *testing.T) {
	c, _, _ := newTestController(t)
	now := time.Now()
	mustDefine(t, c, testPolicy("checkout-cta"), now)

	for i := 0; i < 8; i++ {
		out := bandit.Outcome{
			ExperimentID: "checkout-cta",
			Variant:      "v2",
			Metrics:      map[string]float64{"conversion": 1},
		}
		if err := c.RecordOutcome(out); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}

	c.Tick(context.Background(), now)

	snap, _ := c.SnapshotOf("checkout-cta")
	post := snap.Posteriors["v2"]
	if post.SampleCount != 8 {
		t.Errorf("v2 sample count = %d, want 8", post.SampleCount)
	}
	if post.Alpha != 9 { // prior 1 + 8 successes
		t.Errorf("v2 alpha = %v, want 9", post.Alpha)
	}
	if snap.Posteriors["control"].SampleCount != 0 {
		t.Error("control posterior must be untouched")
	}
}

// A medium-severity breach freezes the experiment: the plan computed on
// the next cycle is discarded and the last enforced plan stays live.
func TestGuardFreeze_HoldsPreviousPlan(t *testing.T) {
	c, sink, _ := newTestController(t)
	now := time.Now()
	mustDefine(t, c, testPolicy("checkout-cta"), now)
	c.Tick(context.Background(), now)
	first := sink.Last()

	err := c.TriggerGuard(context.Background(), "checkout-cta", guardrail.SignalSLO,
		guardrail.SeverityMedium, "p99 latency above budget", now.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("TriggerGuard: %v", err)
	}

	c.Tick(context.Background(), now.Add(31*time.Minute))

	if len(sink.Plans()) != 1 {
		t.Fatalf("plans enforced = %d, want 1 (frozen cycle must not enforce)", len(sink.Plans()))
	}
	weights, err := c.EvaluateFlag("checkout-cta")
	if err != nil {
		t.Fatalf("previous plan must remain evaluable while frozen: %v", err)
	}
	if math.Abs(weights["control"]-first.Weights["control"]) > 1e-9 {
		t.Error("frozen experiment must keep serving the last enforced weights")
	}
	snap, _ := c.SnapshotOf("checkout-cta")
	if snap.State != StateFreeze {
		t.Errorf("state = %s, want FREEZE", snap.State)
	}

	// Recovery unfreezes on the following cycles
	if err := c.RecoverGuard("checkout-cta", guardrail.SignalSLO, now.Add(40*time.Minute)); err != nil {
		t.Fatalf("RecoverGuard: %v", err)
	}
	c.Tick(context.Background(), now.Add(41*time.Minute)) // FREEZE -> IDLE
	c.Tick(context.Background(), now.Add(42*time.Minute)) // full cycle
	if len(sink.Plans()) != 2 {
		t.Errorf("plans enforced after recovery = %d, want 2", len(sink.Plans()))
	}
}

// A high-severity breach preempts immediately, mid-cooldown, and the
// rollback holds until a policy version bump closes the episode.
func TestGuardHighSeverity_PreemptsMidCooldown(t *testing.T) {
	c, sink, _ := newTestController(t)
	now := time.Now()
	mustDefine(t, c, testPolicy("checkout-cta"), now)
	c.Tick(context.Background(), now)

	err := c.TriggerGuard(context.Background(), "checkout-cta", guardrail.SignalSLO,
		guardrail.SeverityHigh, "error rate breach", now.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("TriggerGuard: %v", err)
	}

	rb := sink.Last()
	if rb == nil || rb.Tag != planner.TagRollback {
		t.Fatal("high-severity breach must enforce a rollback plan without waiting for a tick")
	}
	if rb.Weights["control"] != 100 || rb.Weights["v2"] != 0 {
		t.Errorf("rollback weights = %v, want control-only", rb.Weights)
	}
	if rb.Reason == "" {
		t.Error("rollback plan must carry the breach reason")
	}

	// The episode is one-way: later ticks hold the rollback
	c.Tick(context.Background(), now.Add(2*time.Hour))
	if len(sink.Plans()) != 2 {
		t.Fatalf("plans enforced = %d, want 2 (rollback must hold)", len(sink.Plans()))
	}

	// A version bump is the manual re-plan that re-opens the experiment
	bumped := testPolicy("checkout-cta")
	bumped.Spec.Version = 2
	if _, err := c.UpdatePolicy(bumped, RoleOperator, now.Add(3*time.Hour)); err != nil {
		t.Fatalf("UpdatePolicy: %v", err)
	}
	c.Tick(context.Background(), now.Add(4*time.Hour))

	plans := sink.Plans()
	if len(plans) != 3 {
		t.Fatalf("plans enforced after version bump = %d, want 3", len(plans))
	}
	if plans[2].Tag != planner.TagNormal {
		t.Errorf("post-bump plan tag = %s, want normal", plans[2].Tag)
	}
}

// Outcomes referencing an unknown variant are dropped with exactly one
// integrity warning and no posterior mutation.
func TestRecordOutcome_UnknownVariantDropped(t *testing.T) {
	c, _, _ := newTestController(t)
	now := time.Now()
	mustDefine(t, c, testPolicy("checkout-cta"), now)

	err := c.RecordOutcome(bandit.Outcome{
		ExperimentID: "checkout-cta",
		Variant:      "ghost",
		Metrics:      map[string]float64{"conversion": 1},
	})
	if err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	if got := testutil.ToFloat64(c.metrics.IntegrityWarnings); got != 1 {
		t.Errorf("integrity warnings = %v, want 1", got)
	}

	c.Tick(context.Background(), now)
	snap, _ := c.SnapshotOf("checkout-cta")
	for name, post := range snap.Posteriors {
		if post.SampleCount != 0 {
			t.Errorf("%s posterior mutated by a dropped outcome", name)
		}
	}
}

func TestRecordOutcome_RejectsOutOfContractReward(t *testing.T) {
	c, _, _ := newTestController(t)
	mustDefine(t, c, testPolicy("checkout-cta"), time.Now())

	// binary mapping accepts only 0 and 1
	err := c.RecordOutcome(bandit.Outcome{
		ExperimentID: "checkout-cta",
		Variant:      "v2",
		Metrics:      map[string]float64{"conversion": 0.5},
	})
	if err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if got := testutil.ToFloat64(c.metrics.IntegrityWarnings); got != 1 {
		t.Errorf("integrity warnings = %v, want 1", got)
	}
}

func TestRecordOutcome_UnknownExperiment(t *testing.T) {
	c, _, _ := newTestController(t)

	err := c.RecordOutcome(bandit.Outcome{ExperimentID: "ghost", Variant: "v1"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// Enforcement failure keeps the previous plan in force and returns the
// experiment to IDLE so the next scheduled tick retries naturally.
func TestEnforceFailure_ReturnsToIdle(t *testing.T) {
	c, sink, alerter := newTestController(t)
	now := time.Now()
	mustDefine(t, c, testPolicy("checkout-cta"), now)

	sink.FailWith(errors.New("flag service unavailable"))
	c.Tick(context.Background(), now)

	if _, err := c.EvaluateFlag("checkout-cta"); !errors.Is(err, ErrNoPlan) {
		t.Errorf("failed enforcement must not adopt the plan, got %v", err)
	}
	snap, _ := c.SnapshotOf("checkout-cta")
	if snap.State != StateIdle {
		t.Errorf("state = %s, want IDLE", snap.State)
	}
	if len(alerter.byLevel(AlertError)) == 0 {
		t.Error("enforcement failure must raise an error alert")
	}
	if got := testutil.ToFloat64(c.metrics.EnforceFailures); got != 1 {
		t.Errorf("enforce failures = %v, want 1", got)
	}

	// The next tick retries and succeeds
	sink.FailWith(nil)
	c.Tick(context.Background(), now.Add(time.Minute))
	if sink.Last() == nil {
		t.Error("recovered sink must accept the retried plan")
	}
}

func TestUpdatePolicy_RequiresVersionBump(t *testing.T) {
	c, _, _ := newTestController(t)
	now := time.Now()
	mustDefine(t, c, testPolicy("checkout-cta"), now)

	same := testPolicy("checkout-cta") // still version 1
	_, err := c.UpdatePolicy(same, RoleOperator, now.Add(time.Hour))
	var vf *ValidationFailure
	if !errors.As(err, &vf) {
		t.Fatalf("expected *ValidationFailure, got %v", err)
	}
}

func TestUpdatePolicy_PreservesSurvivingPosteriors(t *testing.T) {
	c, _, _ := newTestController(t)
	now := time.Now()
	mustDefine(t, c, testPolicy("checkout-cta"), now)

	for i := 0; i < 4; i++ {
		c.RecordOutcome(bandit.Outcome{
			ExperimentID: "checkout-cta",
			Variant:      "v2",
			Metrics:      map[string]float64{"conversion": 1},
		})
	}
	c.Tick(context.Background(), now)

	bumped := testPolicy("checkout-cta")
	bumped.Spec.Version = 2
	bumped.Spec.Variants = append(bumped.Spec.Variants, policy.Variant{Name: "v3"})
	if _, err := c.UpdatePolicy(bumped, RoleOperator, now.Add(time.Hour)); err != nil {
		t.Fatalf("UpdatePolicy: %v", err)
	}

	snap, _ := c.SnapshotOf("checkout-cta")
	if snap.Posteriors["v2"].SampleCount != 4 {
		t.Error("surviving variant must keep its posterior across a version bump")
	}
	v3, ok := snap.Posteriors["v3"]
	if !ok {
		t.Fatal("new variant must be seeded")
	}
	if v3.Alpha != 1 || v3.Beta != 1 || v3.SampleCount != 0 {
		t.Errorf("new variant posterior = %+v, want fresh Beta(1,1)", v3)
	}
}

// Outcomes logged against a variant the new policy version removed must
// not reach the posterior engine on the next cycle.
func TestUpdatePolicy_DropsPendingForRemovedVariant(t *testing.T) {
	c, _, _ := newTestController(t)
	now := time.Now()

	three := testPolicy("checkout-cta")
	three.Spec.Variants = append(three.Spec.Variants, policy.Variant{Name: "v3"})
	mustDefine(t, c, three, now)

	for _, variant := range []string{"v2", "v3"} {
		err := c.RecordOutcome(bandit.Outcome{
			ExperimentID: "checkout-cta",
			Variant:      variant,
			Metrics:      map[string]float64{"conversion": 1},
		})
		if err != nil {
			t.Fatalf("RecordOutcome(%s): %v", variant, err)
		}
	}

	two := testPolicy("checkout-cta") // v3 removed
	two.Spec.Version = 2
	if _, err := c.UpdatePolicy(two, RoleOperator, now.Add(time.Hour)); err != nil {
		t.Fatalf("UpdatePolicy: %v", err)
	}
	if got := testutil.ToFloat64(c.metrics.IntegrityWarnings); got != 1 {
		t.Errorf("integrity warnings = %v, want 1 for the orphaned batch", got)
	}

	c.Tick(context.Background(), now.Add(2*time.Hour))

	snap, _ := c.SnapshotOf("checkout-cta")
	if _, ok := snap.Posteriors["v3"]; ok {
		t.Error("removed variant must not retain a posterior")
	}
	if snap.Posteriors["v2"].SampleCount != 1 {
		t.Error("surviving variant's pending outcome must still fold")
	}
}

// Removing a variant shrinks the enforced plan's weight sum below 100,
// which no ramp-limited step could ever recover from; the update must
// rebase the plan so planning converges again.
func TestUpdatePolicy_RebasesPlanForRemovedVariant(t *testing.T) {
	c, sink, alerter := newTestController(t)
	now := time.Now()

	three := testPolicy("checkout-cta")
	three.Spec.Variants = append(three.Spec.Variants, policy.Variant{Name: "v3"})
	mustDefine(t, c, three, now)
	c.Tick(context.Background(), now)
	if len(sink.Plans()) != 1 {
		t.Fatal("initial plan must enforce")
	}

	two := testPolicy("checkout-cta") // v3 removed
	two.Spec.Version = 2
	if _, err := c.UpdatePolicy(two, RoleOperator, now.Add(time.Hour)); err != nil {
		t.Fatalf("UpdatePolicy: %v", err)
	}

	weights, err := c.EvaluateFlag("checkout-cta")
	if err != nil {
		t.Fatalf("EvaluateFlag: %v", err)
	}
	if _, ok := weights["v3"]; ok {
		t.Error("rebased plan must not route traffic to the removed variant")
	}
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if math.Abs(sum-100) > planner.SumTolerance {
		t.Errorf("rebased weights sum to %.4f", sum)
	}

	c.Tick(context.Background(), now.Add(2*time.Hour))
	if len(sink.Plans()) != 2 {
		t.Fatalf("plans enforced = %d, want 2 (planning must converge after the update)", len(sink.Plans()))
	}
	if len(alerter.byLevel(AlertError)) != 0 {
		t.Errorf("unexpected error alerts: %v", alerter.byLevel(AlertError))
	}
	if _, ok := sink.Last().Weights["v3"]; ok {
		t.Error("post-update plan must not include the removed variant")
	}
}

func TestPausedPolicy_SkipsCycles(t *testing.T) {
	c, sink, _ := newTestController(t)
	now := time.Now()

	pol := testPolicy("checkout-cta")
	pol.Spec.Lifecycle = policy.LifecyclePaused
	mustDefine(t, c, pol, now)

	c.Tick(context.Background(), now)
	if len(sink.Plans()) != 0 {
		t.Error("paused experiments must not plan or enforce")
	}
}
