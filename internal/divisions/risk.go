package divisions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/agentbank/syndicate/internal/config"
	"github.com/agentbank/syndicate/internal/entities"
	"github.com/agentbank/syndicate/internal/ports"
)

// fraudHistoryWindow caps how much history is handed to the fraud advisor.
const fraudHistoryWindow = 20

// RiskCompliance runs solvency, credit, blacklist, AI fraud and supplier
// checks. It owns a bounded ring of recently analyzed transactions and an
// insertion-only per-supplier history used for supplier scoring.
type RiskCompliance struct {
	healthTracker

	cfg     config.RiskConfig
	advisor ports.AIAdvisor
	rules   *ports.RuleAdvisor
	clock   ports.Clock
	logger  *log.Logger

	blacklistMu sync.RWMutex
	blacklist   map[string]struct{} // supplier names and their sha256 hashes

	historyMu sync.Mutex
	history   []*entities.Transaction // bounded ring, single writer

	supplierMu      sync.RWMutex
	supplierHistory map[string][]*entities.Transaction // insertion-only
}

// NewRiskCompliance creates the risk division. A nil advisor means the
// deterministic rule fallback is used for all AI scoring.
func NewRiskCompliance(cfg config.RiskConfig, advisor ports.AIAdvisor, clock ports.Clock) *RiskCompliance {
	rc := &RiskCompliance{
		cfg:             cfg,
		advisor:         advisor,
		rules:           ports.NewRuleAdvisor(),
		clock:           clock,
		logger:          log.New(log.Writer(), "[RiskCompliance] ", log.LstdFlags),
		blacklist:       make(map[string]struct{}),
		supplierHistory: make(map[string][]*entities.Transaction),
	}
	if rc.cfg.HistorySize <= 0 {
		rc.cfg.HistorySize = 100
	}
	// Well-known scam sink.
	rc.Blacklist("0x0000000000000000000000000000000000000000")
	return rc
}

func (rc *RiskCompliance) Role() entities.Role { return entities.RoleRiskCompliance }

// Blacklist adds a supplier (stored both verbatim and as its SHA-256 hex).
func (rc *RiskCompliance) Blacklist(supplier string) {
	sum := sha256.Sum256([]byte(supplier))
	rc.blacklistMu.Lock()
	defer rc.blacklistMu.Unlock()
	rc.blacklist[strings.ToLower(supplier)] = struct{}{}
	rc.blacklist[hex.EncodeToString(sum[:])] = struct{}{}
}

func (rc *RiskCompliance) isBlacklisted(supplier string) bool {
	sum := sha256.Sum256([]byte(supplier))
	rc.blacklistMu.RLock()
	defer rc.blacklistMu.RUnlock()
	if _, ok := rc.blacklist[strings.ToLower(supplier)]; ok {
		return true
	}
	_, ok := rc.blacklist[hex.EncodeToString(sum[:])]
	return ok
}

func (rc *RiskCompliance) Analyze(ctx context.Context, tx *entities.Transaction, agent *entities.AgentState) (analysis *entities.DivisionAnalysis) {
	now := rc.clock.Now()
	analysis = &entities.DivisionAnalysis{
		AgentRole: entities.RoleRiskCompliance,
		Timestamp: now,
		Metadata:  map[string]interface{}{},
	}

	// Analyses never propagate panics to the coordinator.
	defer func() {
		if r := recover(); r != nil {
			rc.observeFailure()
			analysis.Decision = entities.DecisionReject
			analysis.RiskScore = 1.0
			analysis.Reasoning = fmt.Sprintf("internal risk analysis failure: %v", r)
		}
		rc.observe(analysis.Decision, now)
		rc.appendHistory(tx)
	}()

	// Hard rejects first: solvency, credit limit, blacklist.
	if tx.Amount.GreaterThan(agent.TotalBalance()) {
		analysis.Decision = entities.DecisionReject
		analysis.RiskScore = 1.0
		analysis.Reasoning = fmt.Sprintf("Insufficient funds: amount %s exceeds total balance %s",
			tx.Amount.StringFixed(2), agent.TotalBalance().StringFixed(2))
		return analysis
	}
	if tx.Amount.GreaterThan(agent.CreditLimit) {
		analysis.Decision = entities.DecisionReject
		analysis.RiskScore = 1.0
		analysis.Reasoning = fmt.Sprintf("Credit limit exceeded: amount %s above limit %s",
			tx.Amount.StringFixed(2), agent.CreditLimit.StringFixed(2))
		return analysis
	}
	if rc.isBlacklisted(tx.Supplier) {
		analysis.Decision = entities.DecisionReject
		analysis.RiskScore = 1.0
		analysis.Reasoning = fmt.Sprintf("Supplier %s is on the scam blacklist", tx.Supplier)
		return analysis
	}

	var risk float64

	// AI fraud scoring over the recent history window.
	fraud := rc.detectFraud(ctx, tx, analysis)
	risk += 0.5 * fraud.Probability
	if fraud.Recommendation == "block" {
		risk += 0.3
		analysis.RecommendedActions = append(analysis.RecommendedActions, "block transaction per fraud advisor")
	}
	analysis.Metadata["fraud_probability"] = fraud.Probability

	// AI supplier scoring over the per-supplier history.
	supplier := rc.assessSupplier(ctx, tx.Supplier, analysis)
	risk += 0.3 * supplier.RiskScore
	analysis.Metadata["supplier_risk"] = supplier.RiskScore

	// Value threshold and failure history.
	if tx.Amount.GreaterThan(decimal.NewFromFloat(rc.cfg.SuspiciousValueThreshold)) {
		risk += 0.2
		analysis.Alerts = append(analysis.Alerts, "amount above suspicious value threshold")
	}
	if agent.FailedTransactions > agent.SuccessfulTransactions {
		risk += 0.3
		analysis.Alerts = append(analysis.Alerts, "agent failure count exceeds successes")
	}

	if risk > 1 {
		risk = 1
	}
	analysis.RiskScore = risk

	switch {
	case risk >= 0.7:
		analysis.Decision = entities.DecisionReject
		analysis.Reasoning = fmt.Sprintf("aggregate risk %.2f above rejection threshold", risk)
	case risk >= 0.4:
		analysis.Decision = entities.DecisionAdjust
		analysis.Reasoning = fmt.Sprintf("aggregate risk %.2f requires adjustment", risk)
	default:
		analysis.Decision = entities.DecisionApprove
		analysis.Reasoning = fmt.Sprintf("aggregate risk %.2f acceptable", risk)
	}

	rc.recordSupplier(tx)
	return analysis
}

// detectFraud consults the advisor; failures recover to the rule fallback
// with an alert attached — an unreachable advisor never blocks on its own.
func (rc *RiskCompliance) detectFraud(ctx context.Context, tx *entities.Transaction, analysis *entities.DivisionAnalysis) *ports.FraudAssessment {
	recent := rc.recentHistory(fraudHistoryWindow)
	if rc.advisor != nil {
		if fraud, err := rc.advisor.DetectFraud(ctx, tx, recent); err == nil {
			return fraud
		}
		rc.observeFailure()
		analysis.Alerts = append(analysis.Alerts, "fraud advisor unreachable, used rule fallback")
	}
	fraud, _ := rc.rules.DetectFraud(ctx, tx, recent)
	return fraud
}

func (rc *RiskCompliance) assessSupplier(ctx context.Context, supplier string, analysis *entities.DivisionAnalysis) *ports.SupplierAssessment {
	history := rc.supplierTxs(supplier)
	if rc.advisor != nil {
		if assessment, err := rc.advisor.AssessSupplier(ctx, supplier, history); err == nil {
			return assessment
		}
		rc.observeFailure()
		analysis.Alerts = append(analysis.Alerts, "supplier advisor unreachable, used rule fallback")
	}
	assessment, _ := rc.rules.AssessSupplier(ctx, supplier, history)
	return assessment
}

// Execute: risk & compliance has no side-effecting actions beyond blacklist
// management, which is exposed directly.
func (rc *RiskCompliance) Execute(ctx context.Context, tx *entities.Transaction, agent *entities.AgentState, action string, params map[string]interface{}) (*entities.ActionResult, error) {
	switch action {
	case "blacklist":
		supplier, _ := params["supplier"].(string)
		if supplier == "" {
			return nil, fmt.Errorf("blacklist requires supplier")
		}
		rc.Blacklist(supplier)
		return &entities.ActionResult{Success: true, Action: action, Message: "supplier blacklisted"}, nil
	default:
		return nil, fmt.Errorf("risk division does not support action %q", action)
	}
}

func (rc *RiskCompliance) GetHealth() Health { return rc.health(entities.RoleRiskCompliance) }

func (rc *RiskCompliance) appendHistory(tx *entities.Transaction) {
	rc.historyMu.Lock()
	defer rc.historyMu.Unlock()
	rc.history = append(rc.history, tx)
	if len(rc.history) > rc.cfg.HistorySize {
		rc.history = rc.history[len(rc.history)-rc.cfg.HistorySize:]
	}
}

func (rc *RiskCompliance) recentHistory(n int) []*entities.Transaction {
	rc.historyMu.Lock()
	defer rc.historyMu.Unlock()
	if len(rc.history) < n {
		n = len(rc.history)
	}
	out := make([]*entities.Transaction, n)
	copy(out, rc.history[len(rc.history)-n:])
	return out
}

func (rc *RiskCompliance) recordSupplier(tx *entities.Transaction) {
	rc.supplierMu.Lock()
	defer rc.supplierMu.Unlock()
	rc.supplierHistory[tx.Supplier] = append(rc.supplierHistory[tx.Supplier], tx)
}

func (rc *RiskCompliance) supplierTxs(supplier string) []*entities.Transaction {
	rc.supplierMu.RLock()
	defer rc.supplierMu.RUnlock()
	hist := rc.supplierHistory[supplier]
	out := make([]*entities.Transaction, len(hist))
	copy(out, hist)
	return out
}
