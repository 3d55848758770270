// Package metrics exposes Prometheus collectors for the receptionist.
//
// All metrics are namespaced with "recepcionista". The required outbox
// counters (enqueued, delivered, failed, handoff violations, instance
// violations) live here alongside LLM cost/token accounting and workflow
// transition counters.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "recepcionista"

// Metrics aggregates every collector used by the engine.
//
// Create one per process with NewMetrics and share it across components.
// All methods are safe for concurrent use.
type Metrics struct {
	// Outbox delivery pipeline.
	outboxEnqueued     prometheus.Counter
	outboxDelivered    prometheus.Counter
	outboxFailed       prometheus.Counter
	handoffViolations  prometheus.Counter
	instanceViolations prometheus.Counter
	deliveryLatency    prometheus.Histogram

	// Preprocessor gates.
	turnsDropped prometheus.CounterVec
	securityHits prometheus.Counter

	// Workflow engine.
	stageTransitions prometheus.CounterVec
	turnsTotal       prometheus.CounterVec
	queueOverflow    prometheus.Counter
	expiredTurns     prometheus.Counter
	validatorRetries prometheus.Counter
	staleTurns       prometheus.Counter

	// LLM gateway.
	llmTokens        prometheus.CounterVec
	llmCostBRL       prometheus.Counter
	llmLatency       prometheus.Histogram
	budgetRejections prometheus.Counter
	breakerOpens     prometheus.CounterVec
}

// NewMetrics registers all collectors with the given registry.
// A nil registry falls back to prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	m := &Metrics{}

	m.outboxEnqueued = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_enqueued_total",
		Help:      "Outbox entries enqueued.",
	})
	m.outboxDelivered = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_delivered_total",
		Help:      "Outbox entries delivered to the gateway.",
	})
	m.outboxFailed = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_failed_total",
		Help:      "Outbox entries that exhausted delivery retries.",
	})
	m.handoffViolations = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_handoff_violations_total",
		Help:      "Rejected duplicate Planned->Ready transitions. Must stay zero.",
	})
	m.instanceViolations = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "instance_violations_total",
		Help:      "Deliveries attempted against a non-pinned gateway instance. Must stay zero.",
	})
	m.deliveryLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "delivery_latency_ms",
		Help:      "Gateway delivery latency in milliseconds.",
		Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
	})

	m.turnsDropped = *factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_dropped_total",
		Help:      "Inbound turns dropped by the preprocessor, by reason.",
	}, []string{"reason"})
	m.securityHits = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "security_detections_total",
		Help:      "Inbound messages matching an injection signature.",
	})

	m.stageTransitions = *factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_transitions_total",
		Help:      "Conversation stage transitions.",
	}, []string{"from", "to"})
	m.turnsTotal = *factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_total",
		Help:      "Turns processed by outcome (completed, dropped, expired, failed).",
	}, []string{"outcome"})
	m.queueOverflow = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mailbox_overflow_total",
		Help:      "Pending turns discarded because a conversation mailbox was full.",
	})
	m.expiredTurns = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_expired_total",
		Help:      "Turns cancelled by the per-turn deadline.",
	})
	m.validatorRetries = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "validator_retries_total",
		Help:      "Draft replies sent back for regeneration by the validator.",
	})
	m.staleTurns = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_turns_total",
		Help:      "Turns dropped after losing an optimistic concurrency race.",
	})

	m.llmTokens = *factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_tokens_total",
		Help:      "LLM tokens consumed, by model and kind (prompt/completion).",
	}, []string{"model", "kind"})
	m.llmCostBRL = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_cost_brl_total",
		Help:      "Estimated LLM spend in BRL.",
	})
	m.llmLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "llm_latency_ms",
		Help:      "LLM generation latency in milliseconds.",
		Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 20000},
	})
	m.budgetRejections = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_budget_rejections_total",
		Help:      "LLM requests rejected by the daily budget ceiling.",
	})
	m.breakerOpens = *factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "breaker_transitions_total",
		Help:      "Circuit breaker state transitions, by breaker and new state.",
	}, []string{"breaker", "state"})

	return m
}

// OutboxEnqueued records n entries accepted into the outbox.
func (m *Metrics) OutboxEnqueued(n int) { m.outboxEnqueued.Add(float64(n)) }

// OutboxDelivered records one successful gateway delivery.
func (m *Metrics) OutboxDelivered(latency time.Duration) {
	m.outboxDelivered.Inc()
	m.deliveryLatency.Observe(float64(latency.Milliseconds()))
}

// OutboxFailed records one entry that exhausted its retries.
func (m *Metrics) OutboxFailed() { m.outboxFailed.Inc() }

// HandoffViolation records a rejected duplicate handoff-gate admission.
func (m *Metrics) HandoffViolation() { m.handoffViolations.Inc() }

// InstanceViolation records a delivery attempt against a wrong instance.
func (m *Metrics) InstanceViolation() { m.instanceViolations.Inc() }

// TurnDropped records a preprocessor drop by reason.
func (m *Metrics) TurnDropped(reason string) { m.turnsDropped.WithLabelValues(reason).Inc() }

// SecurityHit records an injection-signature match.
func (m *Metrics) SecurityHit() { m.securityHits.Inc() }

// StageTransition records a conversation moving between stages.
func (m *Metrics) StageTransition(from, to string) {
	m.stageTransitions.WithLabelValues(from, to).Inc()
}

// TurnOutcome records the terminal outcome of a processed turn.
func (m *Metrics) TurnOutcome(outcome string) { m.turnsTotal.WithLabelValues(outcome).Inc() }

// QueueOverflow records a mailbox overflow drop.
func (m *Metrics) QueueOverflow() { m.queueOverflow.Inc() }

// TurnExpired records a turn cancelled by its deadline.
func (m *Metrics) TurnExpired() { m.expiredTurns.Inc() }

// ValidatorRetry records one validator-requested regeneration.
func (m *Metrics) ValidatorRetry() { m.validatorRetries.Inc() }

// StaleTurn records a turn dropped after a stale-version conflict.
func (m *Metrics) StaleTurn() { m.staleTurns.Inc() }

// LLMUsage records token and cost accounting for one generation.
func (m *Metrics) LLMUsage(model string, promptTokens, completionTokens int, costBRL float64, latency time.Duration) {
	m.llmTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	m.llmTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))
	m.llmCostBRL.Add(costBRL)
	m.llmLatency.Observe(float64(latency.Milliseconds()))
}

// BudgetRejected records one request refused by the budget ceiling.
func (m *Metrics) BudgetRejected() { m.budgetRejections.Inc() }

// BreakerTransition records a circuit breaker state change.
func (m *Metrics) BreakerTransition(name, state string) {
	m.breakerOpens.WithLabelValues(name, state).Inc()
}
