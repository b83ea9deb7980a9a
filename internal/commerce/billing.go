package commerce

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentbank/syndicate/internal/entities"
)

// ProcessUsageBilling bills the agent's accumulated API usage since its
// last billing as one usage_billing transaction. Without force, billing is
// skipped until a full cycle has elapsed. last_billing advances only when
// the billing transaction is approved.
func (a *Aggregator) ProcessUsageBilling(ctx context.Context, agentID string, force bool) (*entities.Transaction, error) {
	now := a.clock.Now()

	a.mu.Lock()
	last, billed := a.lastBilling[agentID]
	if billed && !force && now.Sub(last) < a.cfg.BillingCycle {
		a.mu.Unlock()
		return nil, nil
	}

	total := decimal.Zero
	var calls int64
	for _, rec := range a.usage[agentID] {
		if billed && rec.Timestamp.Before(last) {
			continue
		}
		total = total.Add(rec.TotalCost)
		calls += rec.CallsCount
	}
	a.mu.Unlock()

	if total.LessThanOrEqual(decimal.Zero) {
		return nil, nil
	}

	tx := a.core.NewTransaction(agentID, entities.TxUsageBilling, total, "usage-billing",
		fmt.Sprintf("billing for %d API calls", calls))
	eval, err := a.core.ProcessTransaction(ctx, tx)
	if err != nil {
		return tx, fmt.Errorf("usage billing for %s: %w", agentID, err)
	}
	if eval.Consensus != entities.ConsensusApproved {
		return tx, fmt.Errorf("usage billing for %s not approved: %s", agentID, eval.Consensus)
	}

	a.mu.Lock()
	a.lastBilling[agentID] = now
	a.mu.Unlock()

	a.logger.Printf("Billed agent %s for %d calls (%s USDC)", agentID, calls, total.StringFixed(6))
	return tx, nil
}

// LastBilling returns the agent's last successful billing time.
func (a *Aggregator) LastBilling(agentID string) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	last, billed := a.lastBilling[agentID]
	return last, billed
}
