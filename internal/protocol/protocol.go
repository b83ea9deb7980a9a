// Package protocol implements the six-layer validation protocol: KYA
// identity verification, pre-flight limit checks, division consensus, AI
// fraud scoring, settlement feasibility and the compliance audit layer.
// The driver runs the layers in sequence, short-circuits on any rejection
// and produces one audit trail per transaction.
package protocol

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/agentbank/syndicate/internal/audit"
	"github.com/agentbank/syndicate/internal/config"
	"github.com/agentbank/syndicate/internal/credit"
	"github.com/agentbank/syndicate/internal/entities"
	"github.com/agentbank/syndicate/internal/ports"
)

// Protocol owns the KYA records, issued certificates and the per-agent
// activity window used by pre-flight checks.
type Protocol struct {
	cfg       config.Config
	clock     ports.Clock
	advisor   ports.AIAdvisor
	rules     *ports.RuleAdvisor
	sanctions ports.SanctionsOracle
	ledger    ports.LedgerConnector
	scoring   *credit.Engine
	audits    *audit.Manager
	logger    *log.Logger

	mu       sync.RWMutex
	kya      map[string]*entities.KYAData
	certs    map[string]*entities.AgentCertificate
	activity map[string][]activityStamp
}

// activityStamp is the minimal record kept for velocity and daily-window
// checks.
type activityStamp struct {
	txID     string
	amount   float64
	supplier string
	at       time.Time
}

// activityWindowCap bounds the per-agent activity ring.
const activityWindowCap = 1000

// New creates the validation protocol. A nil advisor means the rule
// fallback scores every transaction.
func New(cfg config.Config, clock ports.Clock, advisor ports.AIAdvisor, sanctions ports.SanctionsOracle, ledger ports.LedgerConnector, scoring *credit.Engine, audits *audit.Manager) *Protocol {
	return &Protocol{
		cfg:       cfg,
		clock:     clock,
		advisor:   advisor,
		rules:     ports.NewRuleAdvisor(),
		sanctions: sanctions,
		ledger:    ledger,
		scoring:   scoring,
		audits:    audits,
		logger:    log.New(log.Writer(), "[Protocol] ", log.LstdFlags),
		kya:       make(map[string]*entities.KYAData),
		certs:     make(map[string]*entities.AgentCertificate),
		activity:  make(map[string][]activityStamp),
	}
}

// RegisterAgent stores a KYA record, consulting the sanctions oracle when
// the record has no sanctions result yet.
func (p *Protocol) RegisterAgent(ctx context.Context, rec *entities.KYAData) error {
	if rec.CreatedTimestamp.IsZero() {
		rec.CreatedTimestamp = p.clock.Now()
	}
	if rec.SanctionsCheck == "" {
		status := entities.SanctionsPending
		if p.sanctions != nil {
			if s, err := p.sanctions.Check(ctx, rec.OwnerEntity); err == nil {
				status = s
			}
		}
		rec.SanctionsCheck = status
	}

	p.mu.Lock()
	p.kya[rec.AgentID] = rec
	p.mu.Unlock()

	p.logger.Printf("Registered KYA record for agent %s (sanctions=%s)", rec.AgentID, rec.SanctionsCheck)
	return nil
}

// KYARecord returns the stored record for an agent, or nil.
func (p *Protocol) KYARecord(agentID string) *entities.KYAData {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.kya[agentID]
}

// GetAgentCertificate returns the issued certificate, or nil.
func (p *Protocol) GetAgentCertificate(agentID string) *entities.AgentCertificate {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.certs[agentID]
}

// ValidateFullTransaction drives the six layers over a transaction and the
// division votes collected by the coordinator. It returns whether layers
// L1..L5 all passed (REVIEW counts as passing) and the audit trail, which
// is also recorded with the audit manager.
func (p *Protocol) ValidateFullTransaction(ctx context.Context, tx *entities.Transaction, agent *entities.AgentState, votes map[entities.Role]*entities.DivisionAnalysis) (bool, *entities.AuditTrail) {
	started := time.Now()
	trail := entities.NewAuditTrail(tx.TxID, p.clock.Now())

	type layerFn struct {
		name string
		run  func(context.Context) *entities.LayerResult
	}
	layers := []layerFn{
		{entities.LayerKYA, func(ctx context.Context) *entities.LayerResult { return p.verifyKYA(tx.AgentID, agent) }},
		{entities.LayerPreflight, func(ctx context.Context) *entities.LayerResult { return p.preflight(tx, agent) }},
		{entities.LayerConsensus, func(ctx context.Context) *entities.LayerResult { return p.consensus(votes) }},
		{entities.LayerAIFraud, func(ctx context.Context) *entities.LayerResult { return p.fraudScore(ctx, tx) }},
		{entities.LayerSettlement, func(ctx context.Context) *entities.LayerResult { return p.settlementCheck(tx, agent) }},
	}

	approved := true
	rejected := false
	for _, layer := range layers {
		if rejected {
			trail.Record(&entities.LayerResult{Layer: layer.name, Status: entities.LayerSkipped})
			continue
		}
		layerStart := time.Now()
		res := layer.run(ctx)
		res.Layer = layer.name
		res.DurationMs = time.Since(layerStart).Milliseconds()
		trail.Record(res)

		if res.Status == entities.LayerRejected {
			approved = false
			rejected = true
			p.logger.Printf("Transaction %s rejected at layer %s: %s", tx.TxID, layer.name, res.Reason)
		}
	}

	// Compliance audit never blocks; it runs even after a rejection so the
	// trail carries the categorical flags.
	compStart := time.Now()
	comp := p.complianceAudit(tx.AgentID)
	comp.DurationMs = time.Since(compStart).Milliseconds()
	trail.Record(comp)

	trail.TotalTimeMs = time.Since(started).Milliseconds()
	if approved {
		trail.FinalStatus = entities.AuditCompleted
	} else {
		trail.FinalStatus = entities.AuditRejected
	}

	p.audits.Record(trail)
	return approved, trail
}

// RejectedLayer returns the first rejecting layer name in a trail, or "".
func RejectedLayer(trail *entities.AuditTrail) string {
	order := []string{
		entities.LayerKYA,
		entities.LayerPreflight,
		entities.LayerConsensus,
		entities.LayerAIFraud,
		entities.LayerSettlement,
	}
	for _, name := range order {
		if res, ok := trail.Layers[name]; ok && res.Status == entities.LayerRejected {
			return name
		}
	}
	return ""
}

// GenerateDailyComplianceReport aggregates today's audit trails.
func (p *Protocol) GenerateDailyComplianceReport() *audit.ComplianceReport {
	return p.audits.GenerateDailyReport(p.clock.Now())
}

// ReputationProfile is the reputation view exposed to callers.
type ReputationProfile struct {
	AgentID      string                 `json:"agent_id"`
	Score        float64                `json:"score"`
	Tier         entities.Tier          `json:"tier"`
	Metrics      map[string]interface{} `json:"metrics"`
	TierBenefits TierLimits             `json:"tier_benefits"`
}

// GetAgentReputation computes the agent's reputation, tier and the limits
// that tier grants.
func (p *Protocol) GetAgentReputation(agent *entities.AgentState) *ReputationProfile {
	tier := p.scoring.TierFor(agent)
	return &ReputationProfile{
		AgentID: agent.AgentID,
		Score:   p.scoring.Reputation(agent),
		Tier:    tier,
		Metrics: map[string]interface{}{
			"total_transactions": agent.TotalTransactions,
			"success_rate":       agent.SuccessRate(),
			"fraud_incidents":    p.scoring.FraudIncidents(agent.AgentID),
		},
		TierBenefits: limitsForTier(tier),
	}
}
