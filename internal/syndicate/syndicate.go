// Package syndicate implements the transaction lifecycle coordinator: it
// owns the agent registry, drives the four divisions in their staged
// order, invokes the validation protocol, applies treasury and clearing
// side effects and performs post-trade bookkeeping.
package syndicate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/agentbank/syndicate/internal/audit"
	"github.com/agentbank/syndicate/internal/config"
	"github.com/agentbank/syndicate/internal/credit"
	"github.com/agentbank/syndicate/internal/divisions"
	"github.com/agentbank/syndicate/internal/entities"
	"github.com/agentbank/syndicate/internal/events"
	"github.com/agentbank/syndicate/internal/metrics"
	"github.com/agentbank/syndicate/internal/ports"
	"github.com/agentbank/syndicate/internal/protocol"
)

// Options carries the external dependencies. Zero-value fields get the
// deterministic defaults (system clock, simulated ledger, rule advisor
// fallback, static oracle, no-op persistence, in-memory metrics off).
type Options struct {
	Clock     ports.Clock
	Ledger    ports.LedgerConnector
	Advisor   ports.AIAdvisor
	Sanctions ports.SanctionsOracle
	Persister ports.Persister
	Emitter   events.Emitter
	Metrics   *metrics.Metrics
}

// Syndicate is the façade over the whole core.
type Syndicate struct {
	cfg     *config.Config
	clock   ports.Clock
	ledger  ports.LedgerConnector
	persist ports.Persister
	emitter events.Emitter
	meters  *metrics.Metrics
	logger  *log.Logger

	registry *Registry
	front    *divisions.FrontOffice
	risk     *divisions.RiskCompliance
	treasury *divisions.Treasury
	clearing *divisions.ClearingSettlement
	pipeline []divisions.Division
	scoring  *credit.Engine
	protocol *protocol.Protocol
	audits   *audit.Manager

	// Append-only logs; readers take snapshots.
	logMu        sync.Mutex
	transactions []*entities.Transaction
	evaluations  []*entities.TransactionEvaluation
	byType       map[entities.TxType]int
	byConsensus  map[entities.Consensus]int
}

// New wires the full syndicate from configuration and options.
func New(cfg *config.Config, opts Options) *Syndicate {
	if cfg == nil {
		cfg = config.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = ports.SystemClock{}
	}
	ledger := opts.Ledger
	if ledger == nil {
		ledger = ports.NewSimLedger(clock, cfg.Clearing.ChainID)
	}
	sanctions := opts.Sanctions
	if sanctions == nil {
		sanctions = ports.NewStaticSanctionsOracle(nil)
	}
	persist := opts.Persister
	if persist == nil {
		persist = ports.NopPersister{}
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = events.NopEmitter{}
	}

	registry := NewRegistry()
	scoring := credit.NewEngine(cfg.Credit, clock)
	audits := audit.NewManager(clock)

	s := &Syndicate{
		cfg:         cfg,
		clock:       clock,
		ledger:      ledger,
		persist:     persist,
		emitter:     emitter,
		meters:      opts.Metrics,
		logger:      log.New(log.Writer(), "[Syndicate] ", log.LstdFlags),
		registry:    registry,
		front:       divisions.NewFrontOffice(registry, ledger, clock),
		risk:        divisions.NewRiskCompliance(cfg.Risk, opts.Advisor, clock),
		treasury:    divisions.NewTreasury(cfg.Treasury, opts.Advisor, ledger, clock),
		clearing:    divisions.NewClearingSettlement(cfg.Clearing, ledger, clock),
		scoring:     scoring,
		audits:      audits,
		byType:      make(map[entities.TxType]int),
		byConsensus: make(map[entities.Consensus]int),
	}
	s.pipeline = []divisions.Division{s.front, s.risk, s.treasury, s.clearing}
	s.protocol = protocol.New(*cfg, clock, opts.Advisor, sanctions, ledger, scoring, audits)
	return s
}

// Protocol exposes the validation protocol façade (reputation profiles,
// certificates, compliance reports).
func (s *Syndicate) Protocol() *protocol.Protocol { return s.protocol }

// Audits exposes the audit manager.
func (s *Syndicate) Audits() *audit.Manager { return s.audits }

// Scoring exposes the credit engine.
func (s *Syndicate) Scoring() *credit.Engine { return s.scoring }

// Risk exposes the risk division for blacklist management.
func (s *Syndicate) Risk() *divisions.RiskCompliance { return s.risk }

// Treasury exposes the treasury division for deposit/rebalance actions.
func (s *Syndicate) Treasury() *divisions.Treasury { return s.treasury }

// Meters exposes the metrics set, nil when instrumentation is off.
func (s *Syndicate) Meters() *metrics.Metrics { return s.meters }

// NewTransaction builds a pending transaction with a fresh id.
func (s *Syndicate) NewTransaction(agentID string, txType entities.TxType, amount decimal.Decimal, supplier, description string) *entities.Transaction {
	return &entities.Transaction{
		TxID:        s.clock.NewUUID(),
		AgentID:     agentID,
		Type:        txType,
		Amount:      entities.USDC(amount),
		Supplier:    supplier,
		Description: description,
		Timestamp:   s.clock.Now(),
		State:       entities.StatePending,
	}
}

// OnboardAgent creates a wallet, registers the agent state with the
// default credit limit and files a baseline KYA record. An empty agentID
// gets a generated one.
func (s *Syndicate) OnboardAgent(ctx context.Context, agentID string, initialDeposit decimal.Decimal, metadata map[string]interface{}) (*entities.AgentState, error) {
	if agentID == "" {
		agentID = "agent-" + s.clock.NewUUID()[:8]
	}
	if s.registry.IsOnboarded(agentID) {
		return nil, fmt.Errorf("agent %s already onboarded", agentID)
	}
	if initialDeposit.IsNegative() {
		return nil, fmt.Errorf("initial deposit cannot be negative")
	}

	result, err := s.front.Execute(ctx, nil, nil, "onboard", map[string]interface{}{"agent_id": agentID})
	if err != nil {
		return nil, fmt.Errorf("onboarding failed: %w", err)
	}
	wallet, _ := result.Metadata["wallet_address"].(string)

	now := s.clock.Now()
	state := &entities.AgentState{
		AgentID:          agentID,
		WalletAddress:    wallet,
		CreditLimit:      s.scoring.DefaultLimit(),
		AvailableBalance: entities.USDC(initialDeposit),
		ReputationScore:  0.5,
		CreatedAt:        now,
	}
	s.registry.Register(state)

	if sim, ok := s.ledger.(*ports.SimLedger); ok {
		sim.Credit(wallet, state.AvailableBalance)
	}

	rec := baselineKYA(agentID, metadata)
	if err := s.protocol.RegisterAgent(ctx, rec); err != nil {
		s.logger.Printf("KYA registration for %s failed: %v", agentID, err)
	}

	if err := s.persist.SaveAgentState(ctx, state); err != nil {
		s.logger.Printf("Persist agent %s failed: %v", agentID, err)
	}
	if err := s.persist.SaveKYARecord(ctx, rec); err != nil {
		s.logger.Printf("Persist KYA %s failed: %v", agentID, err)
	}

	s.emitter.Emit(events.TypeAgentOnboarded, agentID, map[string]interface{}{
		"agent_id":       agentID,
		"wallet_address": wallet,
		"credit_limit":   state.CreditLimit.String(),
	})
	s.updateAgentGauges(state)

	s.logger.Printf("Onboarded agent %s (wallet %s, deposit %s)", agentID, wallet, initialDeposit.StringFixed(2))
	return state.Clone(), nil
}

// baselineKYA files a cleared identity record so freshly onboarded agents
// can transact; production deployments replace it via RegisterAgent.
func baselineKYA(agentID string, metadata map[string]interface{}) *entities.KYAData {
	owner, _ := metadata["owner_entity"].(string)
	if owner == "" {
		owner = agentID
	}
	purpose, _ := metadata["purpose"].(string)
	if purpose == "" {
		purpose = "autonomous commerce"
	}
	sum := sha256.Sum256([]byte(agentID))
	return &entities.KYAData{
		AgentID:            agentID,
		AgentType:          "autonomous",
		OwnerEntity:        owner,
		Purpose:            purpose,
		Jurisdiction:       "US",
		CodeHash:           hex.EncodeToString(sum[:]),
		BehaviorModel:      "default-v1",
		AMLScore:           90,
		SanctionsCheck:     entities.SanctionsCleared,
		RegulatoryApproval: "approved",
	}
}

// CreditAgent adds funds to an agent's liquid balance under its lock.
// asEarnings also bumps total_earned, as transfer receipts do.
func (s *Syndicate) CreditAgent(agentID string, amount decimal.Decimal, asEarnings bool) error {
	if amount.IsNegative() {
		return fmt.Errorf("credit amount cannot be negative")
	}
	lock := s.registry.Lock(agentID)
	lock.Lock()
	defer lock.Unlock()

	agent := s.registry.live(agentID)
	if agent == nil {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	agent.AvailableBalance = entities.USDC(agent.AvailableBalance.Add(amount))
	if asEarnings {
		agent.TotalEarned = agent.TotalEarned.Add(amount)
	}
	s.updateAgentGauges(agent)
	return nil
}

// GetAgentState returns a snapshot, or nil when unknown.
func (s *Syndicate) GetAgentState(agentID string) *entities.AgentState {
	state, ok := s.registry.Snapshot(agentID)
	if !ok {
		return nil
	}
	return state
}

// PerformanceReport summarizes an agent's standing.
type PerformanceReport struct {
	AgentID            string  `json:"agent_id"`
	CreditLimit        string  `json:"credit_limit"`
	Efficiency         float64 `json:"efficiency"`
	Reputation         float64 `json:"reputation"`
	SuccessRate        float64 `json:"success_rate"`
	ROI                float64 `json:"roi"`
	ProjectedNextLimit string  `json:"projected_next_limit"`
}

// GetPerformanceReport computes the agent's credit and reputation view.
func (s *Syndicate) GetPerformanceReport(agentID string) (*PerformanceReport, error) {
	state, ok := s.registry.Snapshot(agentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}

	history := s.scoring.History(agentID)
	var lastTx *entities.Transaction
	if len(history) > 0 {
		lastTx = history[len(history)-1]
	}

	spent, _ := state.TotalSpent.Float64()
	earned, _ := state.TotalEarned.Float64()
	denom := spent
	if denom < 1 {
		denom = 1
	}

	return &PerformanceReport{
		AgentID:            agentID,
		CreditLimit:        state.CreditLimit.String(),
		Efficiency:         s.scoring.Efficiency(state, lastTx),
		Reputation:         s.scoring.Reputation(state),
		SuccessRate:        state.SuccessRate(),
		ROI:                (earned - spent) / denom,
		ProjectedNextLimit: s.scoring.NextLimit(state, lastTx).String(),
	}, nil
}

// Status is the aggregate syndicate view.
type Status struct {
	TotalAgents        int                         `json:"total_agents"`
	TotalTransactions  int                         `json:"total_transactions"`
	TransactionsByType map[string]int              `json:"transactions_by_type"`
	ConsensusCounts    map[string]int              `json:"consensus_counts"`
	DivisionHealth     map[string]divisions.Health `json:"division_health"`
	AuditRoot          string                      `json:"audit_root"`
}

// GetSyndicateStatus reports aggregate counts and per-division health.
func (s *Syndicate) GetSyndicateStatus() *Status {
	s.logMu.Lock()
	byType := make(map[string]int, len(s.byType))
	for t, n := range s.byType {
		byType[string(t)] = n
	}
	byConsensus := make(map[string]int, len(s.byConsensus))
	for c, n := range s.byConsensus {
		byConsensus[string(c)] = n
	}
	total := len(s.transactions)
	s.logMu.Unlock()

	return &Status{
		TotalAgents:        s.registry.Count(),
		TotalTransactions:  total,
		TransactionsByType: byType,
		ConsensusCounts:    byConsensus,
		DivisionHealth: map[string]divisions.Health{
			string(entities.RoleFrontOffice):    s.front.GetHealth(),
			string(entities.RoleRiskCompliance): s.risk.GetHealth(),
			string(entities.RoleTreasury):       s.treasury.GetHealth(),
			string(entities.RoleClearing):       s.clearing.GetHealth(),
		},
		AuditRoot: s.audits.RootHash(),
	}
}

// TransactionLog returns a snapshot of all processed transactions.
func (s *Syndicate) TransactionLog() []*entities.Transaction {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	out := make([]*entities.Transaction, len(s.transactions))
	copy(out, s.transactions)
	return out
}

// Evaluations returns a snapshot of all evaluations.
func (s *Syndicate) Evaluations() []*entities.TransactionEvaluation {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	out := make([]*entities.TransactionEvaluation, len(s.evaluations))
	copy(out, s.evaluations)
	return out
}

func (s *Syndicate) updateAgentGauges(state *entities.AgentState) {
	if s.meters == nil {
		return
	}
	balance, _ := state.TotalBalance().Float64()
	limit, _ := state.CreditLimit.Float64()
	s.meters.UpdateAgent(state.AgentID, balance, limit, state.ReputationScore)
}
