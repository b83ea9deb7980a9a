package commerce

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/agentbank/syndicate/internal/entities"
	"github.com/agentbank/syndicate/internal/events"
)

// TransferBetweenAgents runs an agent-to-agent payment through the full
// pipeline. On approval the recipient is credited atomically; a rejected
// transfer surfaces its blockers and leaves both agents untouched.
func (a *Aggregator) TransferBetweenAgents(ctx context.Context, fromID, toID string, amount decimal.Decimal, purpose string) (*entities.AgentToAgentPayment, error) {
	if fromID == toID {
		return nil, fmt.Errorf("cannot transfer to self")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("transfer amount must be positive")
	}

	from := a.core.GetAgentState(fromID)
	if from == nil {
		return nil, fmt.Errorf("sender %s not onboarded", fromID)
	}
	to := a.core.GetAgentState(toID)
	if to == nil {
		return nil, fmt.Errorf("recipient %s not onboarded", toID)
	}
	if from.AvailableBalance.LessThan(amount) {
		return nil, fmt.Errorf("sender balance %s below transfer amount %s",
			from.AvailableBalance.StringFixed(2), amount.StringFixed(2))
	}

	payment := &entities.AgentToAgentPayment{
		PaymentID:   a.clock.NewUUID(),
		FromAgentID: fromID,
		ToAgentID:   toID,
		Amount:      entities.USDC(amount),
		Purpose:     purpose,
		Timestamp:   a.clock.Now(),
	}

	tx := a.core.NewTransaction(fromID, entities.TxAgentToAgent, amount, to.WalletAddress,
		fmt.Sprintf("transfer to %s: %s", toID, purpose))
	tx.Metadata = map[string]interface{}{
		"payment_id":  payment.PaymentID,
		"to_agent_id": toID,
	}

	eval, err := a.core.ProcessTransaction(ctx, tx)
	if eval == nil || eval.Consensus != entities.ConsensusApproved {
		payment.Status = "rejected"
		if eval != nil {
			for _, b := range eval.Blockers {
				payment.Blockers = append(payment.Blockers, fmt.Sprintf("%s: %s", b.AgentRole, b.Reasoning))
			}
		}
		a.recordTransfer(payment)
		if err != nil {
			return payment, err
		}
		return payment, fmt.Errorf("transfer %s rejected", payment.PaymentID)
	}

	if cerr := a.core.CreditAgent(toID, payment.Amount, true); cerr != nil {
		payment.Status = "rejected"
		payment.Blockers = append(payment.Blockers, fmt.Sprintf("credit failed: %v", cerr))
		a.recordTransfer(payment)
		return payment, cerr
	}

	payment.Status = "completed"
	a.recordTransfer(payment)
	a.emitter.Emit(events.TypeTransferCompleted, payment.PaymentID, map[string]interface{}{
		"payment_id": payment.PaymentID,
		"from":       fromID,
		"to":         toID,
		"amount":     payment.Amount.String(),
	})
	a.logger.Printf("Transfer %s: %s -> %s (%s USDC)", payment.PaymentID, fromID, toID, payment.Amount.StringFixed(2))
	return payment, nil
}

func (a *Aggregator) recordTransfer(payment *entities.AgentToAgentPayment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transfers = append(a.transfers, payment)
}
