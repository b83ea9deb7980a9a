package protocol

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentbank/syndicate/internal/entities"
)

// TierLimits are the transaction limits a tier grants.
type TierLimits struct {
	PerTransaction float64 `json:"per_transaction"`
	Daily          float64 `json:"daily"`
	VelocityPerMin int     `json:"velocity_per_minute"`
}

var tierLimits = map[entities.Tier]TierLimits{
	entities.TierBronze:   {PerTransaction: 1_000, Daily: 10_000, VelocityPerMin: 5},
	entities.TierSilver:   {PerTransaction: 5_000, Daily: 50_000, VelocityPerMin: 20},
	entities.TierGold:     {PerTransaction: 25_000, Daily: 250_000, VelocityPerMin: 100},
	entities.TierPlatinum: {PerTransaction: 100_000, Daily: 1_000_000, VelocityPerMin: 500},
}

func limitsForTier(tier entities.Tier) TierLimits {
	if limits, ok := tierLimits[tier]; ok {
		return limits
	}
	return tierLimits[entities.TierBronze]
}

// Pre-flight windows.
const (
	dailyWindow    = 24 * time.Hour
	velocityWindow = 60 * time.Second
	repeatWindow   = 5 * time.Minute
)

// preflight is layer 2: solvency plus tier-based per-transaction, daily and
// velocity limits, with pattern-anomaly flagging. Any failed check rejects
// with an alert naming the check; anomalies only annotate.
func (p *Protocol) preflight(tx *entities.Transaction, agent *entities.AgentState) *entities.LayerResult {
	now := p.clock.Now()
	tier := entities.TierBronze
	if cert := p.GetAgentCertificate(tx.AgentID); cert != nil && cert.ValidAt(now) {
		tier = cert.Tier
	} else if agent != nil {
		tier = p.scoring.TierFor(agent)
	}
	limits := limitsForTier(tier)
	amount, _ := tx.Amount.Float64()

	details := map[string]interface{}{"tier": string(tier)}

	if agent != nil && tx.Amount.GreaterThan(agent.AvailableBalance) {
		return &entities.LayerResult{
			Status:  entities.LayerRejected,
			Reason:  fmt.Sprintf("solvency: amount %s exceeds available balance %s", tx.Amount.StringFixed(2), agent.AvailableBalance.StringFixed(2)),
			Details: details,
		}
	}

	if tx.Amount.GreaterThan(decimal.NewFromFloat(limits.PerTransaction)) {
		return &entities.LayerResult{
			Status:  entities.LayerRejected,
			Reason:  fmt.Sprintf("per_transaction: amount %s exceeds %s limit %.0f", tx.Amount.StringFixed(2), tier, limits.PerTransaction),
			Details: details,
		}
	}

	recent := p.recentActivity(tx.AgentID)

	var dailyTotal float64
	var velocityCount int
	anomaly := ""
	for _, stamp := range recent {
		// Boundary: a transaction exactly 24h old still counts.
		if !stamp.at.Before(now.Add(-dailyWindow)) {
			dailyTotal += stamp.amount
		}
		if !stamp.at.Before(now.Add(-velocityWindow)) {
			velocityCount++
		}
		if stamp.supplier == tx.Supplier && stamp.amount == amount && !stamp.at.Before(now.Add(-repeatWindow)) {
			anomaly = fmt.Sprintf("exact repeat of %s within window (prior tx %s)", tx.Supplier, stamp.txID)
		}
	}
	details["daily_total"] = dailyTotal
	details["velocity_count"] = velocityCount

	if dailyTotal+amount > limits.Daily {
		return &entities.LayerResult{
			Status:  entities.LayerRejected,
			Reason:  fmt.Sprintf("daily_limit: %.2f + %.2f exceeds %s daily limit %.0f", dailyTotal, amount, tier, limits.Daily),
			Details: details,
		}
	}

	if velocityCount >= limits.VelocityPerMin {
		return &entities.LayerResult{
			Status:  entities.LayerRejected,
			Reason:  fmt.Sprintf("velocity: %d transactions in the last minute at %s limit %d", velocityCount, tier, limits.VelocityPerMin),
			Details: details,
		}
	}

	res := &entities.LayerResult{Status: entities.LayerApproved, Details: details}
	if anomaly != "" {
		res.Details["pattern_anomaly"] = anomaly
	}

	p.recordActivity(tx, amount, now)
	return res
}

func (p *Protocol) recentActivity(agentID string) []activityStamp {
	p.mu.RLock()
	defer p.mu.RUnlock()
	stamps := p.activity[agentID]
	out := make([]activityStamp, len(stamps))
	copy(out, stamps)
	return out
}

func (p *Protocol) recordActivity(tx *entities.Transaction, amount float64, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	stamps := append(p.activity[tx.AgentID], activityStamp{
		txID:     tx.TxID,
		amount:   amount,
		supplier: tx.Supplier,
		at:       now,
	})
	if len(stamps) > activityWindowCap {
		stamps = stamps[len(stamps)-activityWindowCap:]
	}
	p.activity[tx.AgentID] = stamps
}
