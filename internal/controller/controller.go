package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/laylaymen/kriptobot-sub001/internal/bandit"
	"github.com/laylaymen/kriptobot-sub001/internal/feature"
	"github.com/laylaymen/kriptobot-sub001/internal/flagsink"
	"github.com/laylaymen/kriptobot-sub001/internal/guardrail"
	"github.com/laylaymen/kriptobot-sub001/internal/metrics"
	"github.com/laylaymen/kriptobot-sub001/internal/planner"
	"github.com/laylaymen/kriptobot-sub001/internal/policy"
	"github.com/laylaymen/kriptobot-sub001/internal/sample"
	"github.com/laylaymen/kriptobot-sub001/internal/storage"
	"golang.org/x/sync/errgroup"
)

// RoleOperator is the role required for policy mutations
const RoleOperator = "operator"

// ErrNotFound marks requests referencing an experiment the controller
// does not own.
var ErrNotFound = errors.New("experiment not bandit-controlled")

// ErrAlreadyDefined marks a define request for an existing experiment;
// mutations go through UpdatePolicy.
var ErrAlreadyDefined = errors.New("experiment already defined")

// ErrNoPlan marks a flag evaluation for a known experiment that has no
// enforced plan yet.
var ErrNoPlan = errors.New("no enforced plan yet")

// AuthorizationError marks a policy mutation lacking the required role
type AuthorizationError struct {
	Role string
}

// Error implements the error interface
func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("role %q is not authorized for policy mutations", e.Role)
}

// ValidationFailure carries the itemized errors for a rejected document
type ValidationFailure struct {
	Errors []policy.ValidationError
}

// Error implements the error interface
func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("policy validation failed with %d error(s)", len(e.Errors))
}

// Ack acknowledges an accepted (or deduplicated) policy mutation
type Ack struct {
	ExperimentID string `json:"experimentId"`
	Version      int    `json:"version"`
	Key          string `json:"idempotencyKey"`
	Duplicate    bool   `json:"duplicate"`
}

// Config holds controller configuration
type Config struct {
	TickInterval        time.Duration
	EnforceTimeout      time.Duration
	IdempotencyTTL      time.Duration
	MaxConcurrentCycles int
}

// DefaultConfig returns default controller configuration
func DefaultConfig() Config {
	return Config{
		TickInterval:        time.Minute,
		EnforceTimeout:      10 * time.Second,
		IdempotencyTTL:      24 * time.Hour,
		MaxConcurrentCycles: 8,
	}
}

// Controller owns all live experiment state and sequences the
// update -> plan -> guardrail-check -> enforce/freeze/rollback -> cooldown
// cycle per experiment.
type Controller struct {
	config    Config
	store     *store
	monitor   *guardrail.Monitor
	sink      flagsink.Sink
	sampler   *sample.Sampler
	validator *policy.Validator
	metrics   *metrics.Metrics
	idem      *idemCache

	mu      sync.RWMutex
	audit   storage.AuditStorage
	alerter Alerter

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a controller
func New(config Config, validator *policy.Validator, monitor *guardrail.Monitor, sink flagsink.Sink, sampler *sample.Sampler, m *metrics.Metrics) *Controller {
	return &Controller{
		config:    config,
		store:     newStore(),
		monitor:   monitor,
		sink:      sink,
		sampler:   sampler,
		validator: validator,
		metrics:   m,
		idem:      newIdemCache(config.IdempotencyTTL),
		alerter:   LogAlerter{},
	}
}

// SetAuditStorage sets the audit storage backend (optional)
func (c *Controller) SetAuditStorage(audit storage.AuditStorage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audit = audit
}

// SetAlerter replaces the alert receiver
func (c *Controller) SetAlerter(alerter Alerter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerter = alerter
}

// Monitor exposes the guardrail monitor for read-only queries
func (c *Controller) Monitor() *guardrail.Monitor {
	return c.monitor
}

// ExperimentCount returns the number of registered experiments
func (c *Controller) ExperimentCount() int {
	return c.store.size()
}

// DefinePolicy handles a policy.define request: authorization,
// validation, idempotent registration, posterior seeding.
func (c *Controller) DefinePolicy(pol *policy.Policy, role string, now time.Time) (*Ack, error) {
	if err := c.authorize(role, pol.Metadata.ID, "policy.define"); err != nil {
		return nil, err
	}
	if errs := c.validator.Validate(pol.Metadata.ID, pol); len(errs) > 0 {
		return nil, &ValidationFailure{Errors: errs}
	}

	key := IdempotencyKey(pol, now)
	if c.idem.Duplicate(key, now) {
		return &Ack{ExperimentID: pol.Metadata.ID, Version: pol.Spec.Version, Key: key, Duplicate: true}, nil
	}

	if c.store.get(pol.Metadata.ID) != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyDefined, pol.Metadata.ID)
	}

	e, err := c.buildExperiment(pol)
	if err != nil {
		return nil, err
	}
	c.store.put(pol.Metadata.ID, e)
	c.idem.Record(key, now)
	c.persistPolicy(pol)

	log.Printf("Defined policy %s v%d (%s, %d variants)",
		pol.Metadata.ID, pol.Spec.Version, pol.Spec.Algorithm, len(pol.Spec.Variants))

	return &Ack{ExperimentID: pol.Metadata.ID, Version: pol.Spec.Version, Key: key}, nil
}

// UpdatePolicy handles a policy.update request. The document fully
// replaces the previous version and must bump spec.version; posteriors
// for retained variants survive, and a version bump closes any open
// rollback episode so the experiment can re-plan.
func (c *Controller) UpdatePolicy(pol *policy.Policy, role string, now time.Time) (*Ack, error) {
	if err := c.authorize(role, pol.Metadata.ID, "policy.update"); err != nil {
		return nil, err
	}
	if errs := c.validator.Validate(pol.Metadata.ID, pol); len(errs) > 0 {
		return nil, &ValidationFailure{Errors: errs}
	}

	e := c.store.get(pol.Metadata.ID)
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, pol.Metadata.ID)
	}

	key := IdempotencyKey(pol, now)
	if c.idem.Duplicate(key, now) {
		return &Ack{ExperimentID: pol.Metadata.ID, Version: pol.Spec.Version, Key: key, Duplicate: true}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if pol.Spec.Version <= e.pol.Spec.Version {
		return nil, &ValidationFailure{Errors: []policy.ValidationError{{
			File:    pol.Metadata.ID,
			Path:    "spec.version",
			Message: fmt.Sprintf("version %d must exceed current version %d", pol.Spec.Version, e.pol.Spec.Version),
		}}}
	}

	algo, err := bandit.ForPolicy(pol, c.sampler)
	if err != nil {
		return nil, err
	}

	// Retain posteriors for surviving variants; seed new ones from priors
	posteriors := make(map[string]*bandit.Posterior, len(pol.Spec.Variants))
	for _, name := range pol.VariantNames() {
		if post, ok := e.posteriors[name]; ok {
			posteriors[name] = post
		} else {
			prior := pol.PriorFor(name)
			posteriors[name] = bandit.NewPosterior(prior.Alpha, prior.Beta)
		}
	}

	e.pol = pol
	e.algo = algo
	e.encoder = feature.NewEncoder(pol.Spec.Context)
	e.posteriors = posteriors

	// Pending outcomes and the enforced plan may still reference variants
	// the new version removed; a removed variant must not reach the
	// posterior engine or anchor the next ramp clamp.
	for variant, obs := range e.pending {
		if !pol.HasVariant(variant) {
			c.integrityWarning(pol.Metadata.ID,
				fmt.Sprintf("dropping %d pending outcomes for removed variant %q", len(obs), variant))
			delete(e.pending, variant)
		}
	}
	if e.current != nil {
		e.current = planner.Rebase(e.current, pol)
	}

	// A version bump is the manual re-plan that closes a rollback episode
	c.monitor.ClearEpisode(pol.Metadata.ID, now)
	if e.state == StateRollback || e.state == StateFreeze {
		e.state = StateIdle
	}

	c.idem.Record(key, now)
	c.persistPolicy(pol)
	log.Printf("Updated policy %s to v%d", pol.Metadata.ID, pol.Spec.Version)

	return &Ack{ExperimentID: pol.Metadata.ID, Version: pol.Spec.Version, Key: key}, nil
}

// RecordExposure handles an exposure.logged event and returns the encoded
// context features attached to the exposure.
func (c *Controller) RecordExposure(exp bandit.Exposure) ([]feature.Feature, error) {
	e := c.store.get(exp.ExperimentID)
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, exp.ExperimentID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.pol.HasVariant(exp.Variant) {
		c.integrityWarning(exp.ExperimentID, fmt.Sprintf("exposure references unknown variant %q", exp.Variant))
		return nil, nil
	}

	return e.encoder.Encode(exp.Context), nil
}

// RecordOutcome handles an outcome.logged event. Outcomes referencing an
// unknown variant, missing the objective metric, or outside the reward
// mapping's contract are dropped with a single integrity warning.
func (c *Controller) RecordOutcome(out bandit.Outcome) error {
	e := c.store.get(out.ExperimentID)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, out.ExperimentID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.pol.HasVariant(out.Variant) {
		c.integrityWarning(out.ExperimentID, fmt.Sprintf("outcome references unknown variant %q", out.Variant))
		return nil
	}

	reward, ok := out.Metrics[e.pol.Spec.Objective]
	if !ok {
		c.integrityWarning(out.ExperimentID, fmt.Sprintf("outcome missing objective metric %q", e.pol.Spec.Objective))
		return nil
	}

	mapped, ok := e.pol.MapReward(reward)
	if !ok {
		c.integrityWarning(out.ExperimentID,
			fmt.Sprintf("reward %v outside %s mapping for variant %q", reward, e.pol.Spec.RewardMapping.Mode, out.Variant))
		return nil
	}

	if e.pending == nil {
		e.pending = make(map[string][]bandit.Observation)
	}
	e.pending[out.Variant] = append(e.pending[out.Variant], bandit.Observation{
		Reward:  mapped,
		Segment: e.encoder.SegmentKey(out.Context),
	})
	return nil
}

// TriggerGuard handles a guard.triggered event. A rollback-level breach
// preempts immediately, without waiting for the next scheduled tick,
// including mid-cooldown.
func (c *Controller) TriggerGuard(ctx context.Context, experimentID, signal, severity, reason string, now time.Time) error {
	e := c.store.get(experimentID)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, experimentID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	entry, err := c.monitor.Trigger(experimentID, signal, severity, reason, e.pol.Spec.KillOnBreach, now)
	if err != nil {
		return err
	}
	c.persistGuardEvent(*entry)

	switch entry.Action {
	case guardrail.ActionRollback:
		c.raiseAlert(AlertError, experimentID, "guardrail breach forcing rollback", map[string]string{
			"signal": signal, "severity": severity, "reason": reason,
		})
		c.executeRollbackLocked(ctx, e, now, EventBreachHigh)
	case guardrail.ActionFreeze:
		c.raiseAlert(AlertWarning, experimentID, "guardrail breach freezing allocation", map[string]string{
			"signal": signal, "severity": severity, "reason": reason,
		})
	default:
		c.raiseAlert(AlertInfo, experimentID, "guardrail warning", map[string]string{
			"signal": signal, "severity": severity, "reason": reason,
		})
	}
	return nil
}

// RecoverGuard handles a guard.recovered event for the matching signal type
func (c *Controller) RecoverGuard(experimentID, signal string, now time.Time) error {
	e := c.store.get(experimentID)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, experimentID)
	}

	if c.monitor.Recover(experimentID, signal, now) {
		log.Printf("Guardrail %s recovered for %s", signal, experimentID)
	}
	return nil
}

// EvaluateFlag handles a flag.evaluate.request: the currently enforced
// weights, ErrNotFound when the experiment is not bandit-controlled, or
// ErrNoPlan when nothing has been enforced yet.
func (c *Controller) EvaluateFlag(experimentID string) (map[string]float64, error) {
	e := c.store.get(experimentID)
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, experimentID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoPlan, experimentID)
	}
	weights := make(map[string]float64, len(e.current.Weights))
	for k, v := range e.current.Weights {
		weights[k] = v
	}
	return weights, nil
}

// Snapshot describes an experiment's externally visible state
type Snapshot struct {
	Policy        *policy.Policy
	State         State
	Gate          guardrail.State
	Current       *planner.Plan
	History       []*planner.Plan
	CooldownUntil time.Time
	Posteriors    map[string]bandit.Posterior
}

// SnapshotOf returns a copy of the experiment's live state
func (c *Controller) SnapshotOf(experimentID string) (*Snapshot, bool) {
	e := c.store.get(experimentID)
	if e == nil {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	posts := make(map[string]bandit.Posterior, len(e.posteriors))
	for name, post := range e.posteriors {
		posts[name] = *post
	}
	history := make([]*planner.Plan, len(e.history))
	copy(history, e.history)

	return &Snapshot{
		Policy:        e.pol,
		State:         e.state,
		Gate:          c.monitor.Classify(experimentID),
		Current:       e.current,
		History:       history,
		CooldownUntil: e.cooldownUntil,
		Posteriors:    posts,
	}, true
}

// ExperimentIDs lists registered experiments
func (c *Controller) ExperimentIDs() []string {
	return c.store.ids()
}

// Start begins the periodic scheduler
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("controller already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.tickLoop(ctx)

	log.Printf("Started allocation controller (tick=%s)", c.config.TickInterval)
	return nil
}

// Stop stops the scheduler and waits for in-flight cycles to complete.
// The current in-flight step finishes; nothing is aborted mid-flight.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.running = false
	c.mu.Unlock()

	log.Println("Stopping allocation controller...")
	c.wg.Wait()
	log.Println("Allocation controller stopped")
}

// tickLoop drives scheduled cycles
func (c *Controller) tickLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx, time.Now())
		}
	}
}

// Tick runs one scheduling pass: every due experiment advances one full
// cycle, bounded by MaxConcurrentCycles across experiments. Exported so
// tests can drive the controller without timers.
func (c *Controller) Tick(ctx context.Context, now time.Time) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.MaxConcurrentCycles)

	for _, id := range c.due(now) {
		id := id
		g.Go(func() error {
			c.runCycle(gctx, id, now)
			return nil
		})
	}
	g.Wait()
}

// due is the pure scheduling decision: which experiments are eligible for
// a cycle at this instant. Effectful execution happens in runCycle.
func (c *Controller) due(now time.Time) []string {
	var out []string
	for _, id := range c.store.ids() {
		e := c.store.get(id)
		if e == nil {
			continue
		}
		e.mu.Lock()
		eligible := e.pol.Spec.Lifecycle == policy.LifecycleActive &&
			e.state != StateRollback &&
			(e.state != StateCooldown || !now.Before(e.cooldownUntil))
		e.mu.Unlock()
		if eligible {
			out = append(out, id)
		}
	}
	return out
}

// runCycle advances one experiment through a full FSM cycle under its
// per-experiment lock.
func (c *Controller) runCycle(ctx context.Context, id string, now time.Time) {
	e := c.store.get(id)
	if e == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pol.Spec.Lifecycle != policy.LifecycleActive {
		return
	}

	// Frozen experiments poll the monitor until recovery
	if e.state == StateFreeze {
		switch c.monitor.Classify(id) {
		case guardrail.StateRollback:
			c.executeRollbackLocked(ctx, e, now, EventBreachHigh)
		case guardrail.StateFrozen:
			// still frozen
		default:
			c.step(e, EventRecovered)
			log.Printf("Experiment %s unfrozen", id)
		}
		return
	}

	if e.state == StateCooldown {
		if now.Before(e.cooldownUntil) {
			return
		}
		c.step(e, EventCooldownDone)
	}

	if e.state != StateIdle {
		return
	}

	// A breach that opened a rollback episode while no plan was in flight:
	// hold if the rollback plan is already enforced, else issue it now
	if c.monitor.Classify(id) == guardrail.StateRollback {
		c.executeRollbackLocked(ctx, e, now, EventBreachHigh)
		return
	}

	// UPDATE: fold pending outcomes into posteriors
	c.step(e, EventTick)
	if len(e.pending) > 0 {
		for variant, obs := range e.pending {
			e.algo.Update(e.posteriors[variant], obs)
		}
		e.pending = nil
		c.metrics.PosteriorUpdates.Inc()
		c.publishPosteriorGauges(e)
	}

	// PLAN
	c.step(e, EventUpdated)
	plan, err := planner.Build(e.pol, e.algo, e.posteriors, e.current, now)
	if err != nil {
		// Fatal for this cycle; the previous plan remains in force
		c.raiseAlert(AlertError, id, "planning failed", map[string]string{"error": err.Error()})
		c.step(e, EventPlanFailed)
		return
	}

	// Guardrail gate between planning and enforcement
	switch gateEvent(c.monitor.Classify(id)) {
	case EventGateRollback:
		c.executeRollbackLocked(ctx, e, now, EventGateRollback)
		return
	case EventGateFreeze:
		c.metrics.GuardrailBlocks.Inc()
		c.raiseAlert(AlertWarning, id, "plan blocked by active guardrail breach", nil)
		c.step(e, EventGateFreeze)
		return
	}

	// ENFORCE
	c.step(e, EventPlanReady)
	if !c.enforce(ctx, e, plan) {
		c.step(e, EventEnforceFailed)
		return
	}
	c.step(e, EventEnforced)

	e.pushPlan(plan)
	e.cooldownUntil = plan.CooldownUntil
	c.metrics.Plans.WithLabelValues(plan.Basis).Inc()
	c.publishWeightGauges(plan)
	c.persistPlan(plan)

	log.Printf("Enforced plan %s for %s: basis=%s rampDelta=%.1f", plan.ID, id, plan.Basis, plan.RampDelta)
}

// step advances the experiment's FSM. An input the current state does
// not accept indicates a sequencing bug; it is logged and the state is
// left unchanged.
func (c *Controller) step(e *experiment, ev Event) {
	next, err := Next(e.state, ev)
	if err != nil {
		log.Printf("FSM error for %s: %v", e.pol.Metadata.ID, err)
		return
	}
	e.state = next
}

// executeRollbackLocked builds and enforces the forced control-only plan.
// ev carries how the breach reached us: gate_rollback from the planning
// gate, breach_high from a preempting signal. Caller holds e.mu.
func (c *Controller) executeRollbackLocked(ctx context.Context, e *experiment, now time.Time, ev Event) {
	id := e.pol.Metadata.ID

	// Re-issuing an already enforced rollback is a no-op
	if e.current != nil && e.current.Tag == planner.TagRollback {
		return
	}

	reason, _ := c.monitor.RollbackReason(id)
	plan := planner.Rollback(e.pol, reason, now)

	c.step(e, ev)
	if !c.enforce(ctx, e, plan) {
		c.step(e, EventEnforceFailed)
		return
	}
	c.step(e, EventEnforced)

	e.pushPlan(plan)
	e.cooldownUntil = plan.CooldownUntil
	c.metrics.Rollbacks.Inc()
	c.metrics.Plans.WithLabelValues(plan.Basis).Inc()
	c.publishWeightGauges(plan)
	c.persistPlan(plan)

	log.Printf("Rolled back %s to control variant: %s", id, reason)
}

// enforce emits a plan to the flag system with a bounded timeout.
// On failure it raises an alert and reports false; the caller returns the
// FSM to IDLE and the next scheduled tick retries naturally.
func (c *Controller) enforce(ctx context.Context, e *experiment, plan *planner.Plan) bool {
	ctx, cancel := context.WithTimeout(ctx, c.config.EnforceTimeout)
	defer cancel()

	if err := c.sink.Enforce(ctx, plan); err != nil {
		c.metrics.EnforceFailures.Inc()
		c.raiseAlert(AlertError, plan.ExperimentID, "enforcement failed", map[string]string{
			"error": err.Error(), "tag": plan.Tag,
		})
		return false
	}
	return true
}

// buildExperiment assembles live state for a validated policy
func (c *Controller) buildExperiment(pol *policy.Policy) (*experiment, error) {
	algo, err := bandit.ForPolicy(pol, c.sampler)
	if err != nil {
		return nil, err
	}

	posteriors := make(map[string]*bandit.Posterior, len(pol.Spec.Variants))
	for _, name := range pol.VariantNames() {
		prior := pol.PriorFor(name)
		posteriors[name] = bandit.NewPosterior(prior.Alpha, prior.Beta)
	}

	return &experiment{
		pol:        pol,
		algo:       algo,
		encoder:    feature.NewEncoder(pol.Spec.Context),
		posteriors: posteriors,
		state:      StateIdle,
	}, nil
}

// authorize checks the role for a policy mutation and audit-logs denials
func (c *Controller) authorize(role, experimentID, operation string) error {
	if role == RoleOperator {
		return nil
	}
	c.raiseAlert(AlertWarning, experimentID, "authorization denied", map[string]string{
		"operation": operation, "role": role,
	})
	return &AuthorizationError{Role: role}
}

// integrityWarning logs and counts a dropped record
func (c *Controller) integrityWarning(experimentID, msg string) {
	c.metrics.IntegrityWarnings.Inc()
	log.Printf("Integrity warning for %s: %s", experimentID, msg)
}

// raiseAlert fans an alert out to the alerter and the audit store
func (c *Controller) raiseAlert(level, experimentID, msg string, context map[string]string) {
	alert := Alert{
		ID:           uuid.NewString(),
		Level:        level,
		ExperimentID: experimentID,
		Message:      msg,
		Context:      context,
		At:           time.Now(),
	}

	c.metrics.Alerts.WithLabelValues(level).Inc()

	c.mu.RLock()
	alerter := c.alerter
	audit := c.audit
	c.mu.RUnlock()

	alerter.Alert(alert)
	if audit != nil {
		record := storage.AlertRecord{
			ID:           alert.ID,
			Level:        alert.Level,
			ExperimentID: alert.ExperimentID,
			Message:      alert.Message,
			Context:      alert.Context,
			CreatedAt:    alert.At,
		}
		if err := audit.StoreAlert(record); err != nil {
			log.Printf("Warning: failed to store alert: %v", err)
		}
	}
}

// persistPolicy writes a policy version to audit storage if configured
func (c *Controller) persistPolicy(pol *policy.Policy) {
	c.mu.RLock()
	audit := c.audit
	c.mu.RUnlock()
	if audit == nil {
		return
	}
	if err := audit.StorePolicy(pol); err != nil {
		log.Printf("Warning: failed to store policy %s: %v", pol.Metadata.ID, err)
	}
}

// persistPlan writes an enforced plan to audit storage if configured
func (c *Controller) persistPlan(plan *planner.Plan) {
	c.mu.RLock()
	audit := c.audit
	c.mu.RUnlock()
	if audit == nil {
		return
	}
	if err := audit.StorePlan(plan); err != nil {
		log.Printf("Warning: failed to store plan %s: %v", plan.ID, err)
	}
}

// persistGuardEvent writes a guard event to audit storage if configured
func (c *Controller) persistGuardEvent(entry guardrail.Entry) {
	c.mu.RLock()
	audit := c.audit
	c.mu.RUnlock()
	if audit == nil {
		return
	}
	if err := audit.StoreGuardEvent(entry); err != nil {
		log.Printf("Warning: failed to store guard event for %s: %v", entry.ExperimentID, err)
	}
}

// publishPosteriorGauges refreshes reward-average gauges. Caller holds e.mu.
func (c *Controller) publishPosteriorGauges(e *experiment) {
	id := e.pol.Metadata.ID
	for name, post := range e.posteriors {
		c.metrics.RewardAverage.WithLabelValues(id, name).Set(post.AverageReward)
	}
}

// publishWeightGauges refreshes enforced-weight gauges
func (c *Controller) publishWeightGauges(plan *planner.Plan) {
	for name, w := range plan.Weights {
		c.metrics.EnforcedWeight.WithLabelValues(plan.ExperimentID, name).Set(w)
	}
}
