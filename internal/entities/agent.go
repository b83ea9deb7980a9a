package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// AgentState is the mutable per-agent ledger position. All mutation is
// serialized by the coordinator's per-agent lock; readers get copies.
type AgentState struct {
	AgentID          string          `json:"agent_id"`
	WalletAddress    string          `json:"wallet_address"`
	CreditLimit      decimal.Decimal `json:"credit_limit"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	InvestedBalance  decimal.Decimal `json:"invested_balance"`

	TotalTransactions      int64 `json:"total_transactions"`
	SuccessfulTransactions int64 `json:"successful_transactions"`
	FailedTransactions     int64 `json:"failed_transactions"`

	TotalSpent  decimal.Decimal `json:"total_spent"`
	TotalEarned decimal.Decimal `json:"total_earned"`

	ReputationScore float64   `json:"reputation_score"`
	CreatedAt       time.Time `json:"created_at"`
	LastTransaction time.Time `json:"last_transaction,omitempty"`
}

// TotalBalance is available + invested. Derived, never stored.
func (a *AgentState) TotalBalance() decimal.Decimal {
	return a.AvailableBalance.Add(a.InvestedBalance)
}

// SuccessRate is successful/total, 0 for new agents.
func (a *AgentState) SuccessRate() float64 {
	if a.TotalTransactions == 0 {
		return 0
	}
	return float64(a.SuccessfulTransactions) / float64(a.TotalTransactions)
}

// Clone returns a copy for lock-free snapshot reads.
func (a *AgentState) Clone() *AgentState {
	cp := *a
	return &cp
}
