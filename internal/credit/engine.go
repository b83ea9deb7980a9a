// Package credit implements the dynamic credit scoring engine: efficiency
// computation, credit limit updates, reputation scoring and tier derivation.
// The engine owns the per-agent transaction history used for scoring.
package credit

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentbank/syndicate/internal/config"
	"github.com/agentbank/syndicate/internal/entities"
	"github.com/agentbank/syndicate/internal/ports"
)

// Efficiency component weights.
const (
	weightSuccess = 0.4
	weightGas     = 0.3
	weightROI     = 0.3
)

// Reputation component weights.
const (
	weightVolume     = 0.25
	weightRate       = 0.35
	weightLongevity  = 0.15
	weightEfficiency = 0.25
)

// fraudPenaltyPoints is subtracted from the 0..100 reputation scale per
// recorded fraud incident, so tier downgrades take effect immediately.
const fraudPenaltyPoints = 10.0

// Engine computes efficiency, credit limits, reputation and tiers.
type Engine struct {
	cfg   config.CreditConfig
	clock ports.Clock

	mu             sync.RWMutex
	histories      map[string][]*entities.Transaction
	fraudIncidents map[string]int
}

// NewEngine creates a credit engine with the given limits and clock.
func NewEngine(cfg config.CreditConfig, clock ports.Clock) *Engine {
	return &Engine{
		cfg:            cfg,
		clock:          clock,
		histories:      make(map[string][]*entities.Transaction),
		fraudIncidents: make(map[string]int),
	}
}

// DefaultLimit is the starting credit limit applied at onboarding.
func (e *Engine) DefaultLimit() decimal.Decimal {
	return decimal.NewFromFloat(e.cfg.DefaultLimit)
}

// Efficiency combines success rate, gas usage and ROI into a score in [-1, 1].
// Agents with no history score 0.
func (e *Engine) Efficiency(agent *entities.AgentState, lastTx *entities.Transaction) float64 {
	if agent.TotalTransactions == 0 {
		return 0
	}

	successScore := clamp((agent.SuccessRate()-0.5)*2, -1, 1)

	gasEfficiency := 0.0
	if lastTx != nil && lastTx.GasUsed > 0 && lastTx.GasEstimate > 0 {
		gasEfficiency = clamp((1-float64(lastTx.GasUsed)/float64(lastTx.GasEstimate))*2, -1, 1)
	}

	spent, _ := agent.TotalSpent.Float64()
	earned, _ := agent.TotalEarned.Float64()
	denom := spent
	if denom < 1 {
		denom = 1
	}
	roi := clamp((earned-spent)/denom, -1, 1)

	return weightSuccess*successScore + weightGas*gasEfficiency + weightROI*roi
}

// NextLimit applies L' = clamp(L * (1 + alpha*efficiency)) without mutating
// the agent.
func (e *Engine) NextLimit(agent *entities.AgentState, lastTx *entities.Transaction) decimal.Decimal {
	eff := e.Efficiency(agent, lastTx)
	current, _ := agent.CreditLimit.Float64()
	next := clamp(current*(1+e.cfg.Alpha*eff), e.cfg.MinLimit, e.cfg.MaxLimit)
	return entities.USDC(decimal.NewFromFloat(next))
}

// RefreshLimit updates the agent's credit limit in place. Called from the
// coordinator's post-trade stage while the per-agent lock is held.
func (e *Engine) RefreshLimit(agent *entities.AgentState, lastTx *entities.Transaction) {
	agent.CreditLimit = e.NextLimit(agent, lastTx)
}

// Reputation scores an agent in [0, 1] from volume, success rate, longevity
// and efficiency, minus any fraud penalties. New agents default to 0.5.
func (e *Engine) Reputation(agent *entities.AgentState) float64 {
	if agent.TotalTransactions == 0 {
		return e.applyFraudPenalty(agent.AgentID, 0.5)
	}

	volume := minFloat(1, float64(agent.TotalTransactions)/100)
	longevity := minFloat(1, e.clock.Now().Sub(agent.CreatedAt).Hours()/24/365)
	efficiency := (e.Efficiency(agent, e.lastTransaction(agent.AgentID)) + 1) / 2

	score := weightVolume*volume +
		weightRate*agent.SuccessRate() +
		weightLongevity*longevity +
		weightEfficiency*efficiency

	return e.applyFraudPenalty(agent.AgentID, clamp(score, 0, 1))
}

// RefreshReputation recomputes and stores the agent's reputation score.
func (e *Engine) RefreshReputation(agent *entities.AgentState) {
	agent.ReputationScore = e.Reputation(agent)
}

// TierFor maps reputation (0..100 scale) to a tier: <40 bronze, <70 silver,
// <90 gold, otherwise platinum.
func (e *Engine) TierFor(agent *entities.AgentState) entities.Tier {
	points := e.Reputation(agent) * 100
	switch {
	case points < 40:
		return entities.TierBronze
	case points < 70:
		return entities.TierSilver
	case points < 90:
		return entities.TierGold
	default:
		return entities.TierPlatinum
	}
}

// RecordTransaction appends a processed transaction to the agent's scoring
// history. Called for every terminal outcome, approved or not.
func (e *Engine) RecordTransaction(agentID string, tx *entities.Transaction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.histories[agentID] = append(e.histories[agentID], tx)
}

// RecordFraudIncident registers a fraud detection against the agent.
func (e *Engine) RecordFraudIncident(agentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fraudIncidents[agentID]++
}

// FraudIncidents returns the recorded incident count for an agent.
func (e *Engine) FraudIncidents(agentID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fraudIncidents[agentID]
}

// History returns a snapshot of the agent's transaction history, newest last.
func (e *Engine) History(agentID string) []*entities.Transaction {
	e.mu.RLock()
	defer e.mu.RUnlock()
	hist := e.histories[agentID]
	out := make([]*entities.Transaction, len(hist))
	copy(out, hist)
	return out
}

// HistorySince returns transactions for the agent stamped at or after t.
func (e *Engine) HistorySince(agentID string, t time.Time) []*entities.Transaction {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*entities.Transaction
	for _, tx := range e.histories[agentID] {
		if !tx.Timestamp.Before(t) {
			out = append(out, tx)
		}
	}
	return out
}

func (e *Engine) lastTransaction(agentID string) *entities.Transaction {
	e.mu.RLock()
	defer e.mu.RUnlock()
	hist := e.histories[agentID]
	if len(hist) == 0 {
		return nil
	}
	return hist[len(hist)-1]
}

func (e *Engine) applyFraudPenalty(agentID string, score float64) float64 {
	e.mu.RLock()
	incidents := e.fraudIncidents[agentID]
	e.mu.RUnlock()
	return clamp(score-float64(incidents)*fraudPenaltyPoints/100, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
