package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics is the periodic snapshot surface: counters for controller
// activity and gauges for the current posterior and plan state.
type Metrics struct {
	Registry *prometheus.Registry

	PosteriorUpdates  prometheus.Counter
	Plans             *prometheus.CounterVec
	Rollbacks         prometheus.Counter
	GuardrailBlocks   prometheus.Counter
	EnforceFailures   prometheus.Counter
	IntegrityWarnings prometheus.Counter
	Alerts            *prometheus.CounterVec

	RewardAverage  *prometheus.GaugeVec
	EnforcedWeight *prometheus.GaugeVec
}

// New creates the metrics set on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		Registry: reg,
		PosteriorUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bandit_posterior_updates_total",
			Help: "Outcome batches folded into posteriors",
		}),
		Plans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bandit_plans_total",
			Help: "Plans emitted, labeled by algorithm basis",
		}, []string{"basis"}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bandit_rollbacks_total",
			Help: "Forced control-only plans issued",
		}),
		GuardrailBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bandit_guardrail_blocks_total",
			Help: "Planning cycles blocked by an active guardrail breach",
		}),
		EnforceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bandit_enforce_failures_total",
			Help: "Plan emissions rejected or timed out by the flag system",
		}),
		IntegrityWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bandit_integrity_warnings_total",
			Help: "Outcomes or exposures dropped for referencing unknown variants",
		}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bandit_alerts_total",
			Help: "Alerts raised, labeled by level",
		}, []string{"level"}),
		RewardAverage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bandit_reward_average",
			Help: "Posterior average reward per experiment and variant",
		}, []string{"experiment", "variant"}),
		EnforcedWeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bandit_enforced_weight_pct",
			Help: "Currently enforced traffic share per experiment and variant",
		}, []string{"experiment", "variant"}),
	}

	reg.MustRegister(
		m.PosteriorUpdates, m.Plans, m.Rollbacks, m.GuardrailBlocks,
		m.EnforceFailures, m.IntegrityWarnings, m.Alerts,
		m.RewardAverage, m.EnforcedWeight,
	)
	return m
}
