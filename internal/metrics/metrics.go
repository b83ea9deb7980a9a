// Package metrics exposes Prometheus instrumentation for the syndicate core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the syndicate.
type Metrics struct {
	// Transaction pipeline
	TransactionTotal    *prometheus.CounterVec
	TransactionAmount   *prometheus.HistogramVec
	EvaluationDuration  *prometheus.HistogramVec
	DivisionDecisions   *prometheus.CounterVec
	ValidationRejects   *prometheus.CounterVec
	FastTrackTotal      prometheus.Counter
	PanicRecoveries     prometheus.Counter

	// Agents and credit
	AgentBalance    *prometheus.GaugeVec
	AgentCreditLim  *prometheus.GaugeVec
	AgentReputation *prometheus.GaugeVec
	FraudDetections *prometheus.CounterVec

	// Commerce
	ActiveBatches     prometheus.Gauge
	BatchFlushTotal   *prometheus.CounterVec
	MicropaymentTotal prometheus.Counter
	APIUsageTotal     *prometheus.CounterVec
}

// New creates and registers all syndicate metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		TransactionTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syndicate_transactions_total",
				Help: "Transactions processed, by type and final consensus",
			},
			[]string{"tx_type", "consensus"},
		),

		TransactionAmount: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "syndicate_transaction_amount_usdc",
				Help:    "Transaction amounts in USDC",
				Buckets: []float64{0.01, 0.1, 1, 10, 100, 1000, 10000},
			},
			[]string{"tx_type"},
		),

		EvaluationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "syndicate_evaluation_duration_seconds",
				Help:    "Duration of the full lifecycle evaluation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tx_type"},
		),

		DivisionDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syndicate_division_decisions_total",
				Help: "Division analysis outcomes",
			},
			[]string{"division", "decision"},
		),

		ValidationRejects: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syndicate_validation_rejects_total",
				Help: "Validation protocol rejections by layer",
			},
			[]string{"layer"},
		),

		FastTrackTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "syndicate_fast_track_total",
				Help: "Micropayments settled through the fast-track path",
			},
		),

		PanicRecoveries: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "syndicate_panic_recoveries_total",
				Help: "Panics recovered during transaction evaluation",
			},
		),

		AgentBalance: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "syndicate_agent_balance_usdc",
				Help: "Total balance per agent (available plus invested)",
			},
			[]string{"agent_id"},
		),

		AgentCreditLim: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "syndicate_agent_credit_limit_usdc",
				Help: "Current credit limit per agent",
			},
			[]string{"agent_id"},
		),

		AgentReputation: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "syndicate_agent_reputation",
				Help: "Reputation score per agent (0..100)",
			},
			[]string{"agent_id"},
		),

		FraudDetections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syndicate_fraud_detections_total",
				Help: "Fraud advisor verdicts at or above review level",
			},
			[]string{"severity"},
		),

		ActiveBatches: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "syndicate_active_micropayment_batches",
				Help: "Micropayment batches currently accumulating",
			},
		),

		BatchFlushTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syndicate_batch_flushes_total",
				Help: "Micropayment batch flushes by trigger and status",
			},
			[]string{"trigger", "status"}, // trigger: threshold, timeout, manual
		),

		MicropaymentTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "syndicate_micropayments_total",
				Help: "Micropayments accepted into batches",
			},
		),

		APIUsageTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syndicate_api_usage_total",
				Help: "Metered API calls by agent and endpoint",
			},
			[]string{"agent_id", "endpoint"},
		),
	}
}

// RecordTransaction records a completed lifecycle evaluation.
func (m *Metrics) RecordTransaction(txType, consensus string, amount, seconds float64) {
	m.TransactionTotal.WithLabelValues(txType, consensus).Inc()
	m.TransactionAmount.WithLabelValues(txType).Observe(amount)
	m.EvaluationDuration.WithLabelValues(txType).Observe(seconds)
}

// RecordDivision records a single division analysis outcome.
func (m *Metrics) RecordDivision(division, decision string) {
	m.DivisionDecisions.WithLabelValues(division, decision).Inc()
}

// RecordValidationReject records a protocol layer rejection.
func (m *Metrics) RecordValidationReject(layer string) {
	m.ValidationRejects.WithLabelValues(layer).Inc()
}

// UpdateAgent refreshes the per-agent gauges.
func (m *Metrics) UpdateAgent(agentID string, balance, creditLimit, reputation float64) {
	m.AgentBalance.WithLabelValues(agentID).Set(balance)
	m.AgentCreditLim.WithLabelValues(agentID).Set(creditLimit)
	m.AgentReputation.WithLabelValues(agentID).Set(reputation)
}

// RecordBatchFlush records a micropayment batch flush.
func (m *Metrics) RecordBatchFlush(trigger, status string) {
	m.BatchFlushTotal.WithLabelValues(trigger, status).Inc()
}
