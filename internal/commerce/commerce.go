// Package commerce implements the agentic commerce aggregator: API usage
// metering, micropayment batching, agent-to-agent transfers, autonomous
// cross-agent approval voting and usage billing cycles. Every payment it
// produces flows through the coordinator pipeline.
package commerce

import (
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentbank/syndicate/internal/config"
	"github.com/agentbank/syndicate/internal/entities"
	"github.com/agentbank/syndicate/internal/events"
	"github.com/agentbank/syndicate/internal/metrics"
	"github.com/agentbank/syndicate/internal/ports"
	"github.com/agentbank/syndicate/internal/syndicate"
)

// defaultEndpointPrices is the per-call price table in USDC.
var defaultEndpointPrices = map[string]float64{
	"gemini-pro":    0.001,
	"gemini-flash":  0.0005,
	"gpt-4":         0.002,
	"claude-sonnet": 0.0015,
	"embedding":     0.0001,
	"search":        0.0002,
	"default":       0.0005,
}

// Aggregator owns the active micropayment batches, usage records, billing
// clocks and transfer log.
//
// Lock order: the batch mutex is always acquired before any per-agent lock
// (taken inside the coordinator). Never the other way around.
type Aggregator struct {
	cfg     config.CommerceConfig
	clock   ports.Clock
	core    *syndicate.Syndicate
	emitter events.Emitter
	meters  *metrics.Metrics
	caster  VoteCaster
	logger  *log.Logger

	mu          sync.Mutex
	batches     map[string]*entities.MicropaymentBatch // keyed {agent_id}-active
	usage       map[string][]*entities.APIUsageRecord
	lastBilling map[string]time.Time
	transfers   []*entities.AgentToAgentPayment
	prices      map[string]float64
}

// New creates the aggregator on top of the coordinator.
func New(cfg config.CommerceConfig, clock ports.Clock, core *syndicate.Syndicate, emitter events.Emitter, meters *metrics.Metrics) *Aggregator {
	if cfg.MicropaymentThreshold <= 0 {
		cfg.MicropaymentThreshold = 1.0
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 5 * time.Minute
	}
	if cfg.ConsensusThreshold <= 0 {
		cfg.ConsensusThreshold = 0.66
	}
	if cfg.BillingCycle <= 0 {
		cfg.BillingCycle = 24 * time.Hour
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}

	prices := make(map[string]float64, len(defaultEndpointPrices))
	for k, v := range defaultEndpointPrices {
		prices[k] = v
	}

	return &Aggregator{
		cfg:         cfg,
		clock:       clock,
		core:        core,
		emitter:     emitter,
		meters:      meters,
		caster:      SimulatedVoteCaster{},
		logger:      log.New(log.Writer(), "[Commerce] ", log.LstdFlags),
		batches:     make(map[string]*entities.MicropaymentBatch),
		usage:       make(map[string][]*entities.APIUsageRecord),
		lastBilling: make(map[string]time.Time),
		prices:      prices,
	}
}

// SetVoteCaster replaces the default vote simulator with a real adapter.
func (a *Aggregator) SetVoteCaster(caster VoteCaster) {
	a.caster = caster
}

// SetEndpointPrice overrides a per-call price.
func (a *Aggregator) SetEndpointPrice(endpoint string, price float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prices[endpoint] = price
}

func (a *Aggregator) priceFor(endpoint string) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.prices[endpoint]; ok {
		return decimal.NewFromFloat(p)
	}
	return decimal.NewFromFloat(a.prices["default"])
}

func (a *Aggregator) threshold() decimal.Decimal {
	return decimal.NewFromFloat(a.cfg.MicropaymentThreshold)
}

// UsageRecords returns a snapshot of an agent's metered calls, oldest first.
func (a *Aggregator) UsageRecords(agentID string) []*entities.APIUsageRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	recs := a.usage[agentID]
	out := make([]*entities.APIUsageRecord, len(recs))
	copy(out, recs)
	return out
}

// Transfers returns a snapshot of the transfer log.
func (a *Aggregator) Transfers() []*entities.AgentToAgentPayment {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*entities.AgentToAgentPayment, len(a.transfers))
	copy(out, a.transfers)
	return out
}

// CommerceSummary is the per-agent commerce view.
type CommerceSummary struct {
	AgentID        string           `json:"agent_id"`
	TotalAPICalls  int64            `json:"total_api_calls"`
	TotalAPICost   string           `json:"total_api_cost"`
	CallsByEnd     map[string]int64 `json:"calls_by_endpoint"`
	ActiveBatch    *BatchSummary    `json:"active_batch,omitempty"`
	TransfersSent  int              `json:"transfers_sent"`
	TransfersRecvd int              `json:"transfers_received"`
}

// BatchSummary is the active batch view inside a commerce summary.
type BatchSummary struct {
	BatchID     string `json:"batch_id"`
	Payments    int    `json:"payments"`
	TotalAmount string `json:"total_amount"`
}

// GetCommerceSummary aggregates an agent's commerce activity.
func (a *Aggregator) GetCommerceSummary(agentID string) *CommerceSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	summary := &CommerceSummary{
		AgentID:    agentID,
		CallsByEnd: make(map[string]int64),
	}
	cost := decimal.Zero
	for _, rec := range a.usage[agentID] {
		summary.TotalAPICalls += rec.CallsCount
		summary.CallsByEnd[rec.Endpoint] += rec.CallsCount
		cost = cost.Add(rec.TotalCost)
	}
	summary.TotalAPICost = cost.String()

	if batch, ok := a.batches[agentID+"-active"]; ok {
		summary.ActiveBatch = &BatchSummary{
			BatchID:     batch.BatchID,
			Payments:    len(batch.Payments),
			TotalAmount: batch.TotalAmount.String(),
		}
	}
	for _, t := range a.transfers {
		if t.FromAgentID == agentID {
			summary.TransfersSent++
		}
		if t.ToAgentID == agentID {
			summary.TransfersRecvd++
		}
	}
	return summary
}

// SystemMetrics is the aggregate commerce view.
type SystemMetrics struct {
	ActiveBatches  int    `json:"active_batches"`
	TotalTransfers int    `json:"total_transfers"`
	MeteredAgents  int    `json:"metered_agents"`
	TotalAPICost   string `json:"total_api_cost"`
}

// GetSystemMetrics aggregates across all agents.
func (a *Aggregator) GetSystemMetrics() *SystemMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	cost := decimal.Zero
	for _, recs := range a.usage {
		for _, rec := range recs {
			cost = cost.Add(rec.TotalCost)
		}
	}
	return &SystemMetrics{
		ActiveBatches:  len(a.batches),
		TotalTransfers: len(a.transfers),
		MeteredAgents:  len(a.usage),
		TotalAPICost:   cost.String(),
	}
}
