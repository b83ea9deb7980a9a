package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// APIUsageRecord tracks one metered API call (or call batch) for usage billing.
type APIUsageRecord struct {
	AgentID     string          `json:"agent_id"`
	Endpoint    string          `json:"endpoint"`
	CallsCount  int64           `json:"calls_count"`
	CostPerCall decimal.Decimal `json:"cost_per_call"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	Timestamp   time.Time       `json:"timestamp"`
}

// BatchStatus is the lifecycle state of a micropayment batch. Flushing is
// at-most-once: pending -> executing -> completed | failed.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchExecuting BatchStatus = "executing"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// Micropayment is one sub-threshold payment accumulated inside a batch.
type Micropayment struct {
	PaymentID string          `json:"payment_id"`
	Endpoint  string          `json:"endpoint"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// MicropaymentBatch aggregates micropayments until total >= threshold or
// age >= timeout, then collapses into a single micropayment transaction.
type MicropaymentBatch struct {
	BatchID     string          `json:"batch_id"`
	AgentID     string          `json:"agent_id"`
	Payments    []*Micropayment `json:"payments"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedAt   time.Time       `json:"created_at"`
	ExecutedAt  *time.Time      `json:"executed_at,omitempty"`
	Status      BatchStatus     `json:"status"`
}

// VoteChoice is a consensus participant's vote.
type VoteChoice string

const (
	VoteApprove VoteChoice = "approve"
	VoteReject  VoteChoice = "reject"
	VoteAbstain VoteChoice = "abstain"
)

// ConsensusVote is one agent's vote in an autonomous approval round.
type ConsensusVote struct {
	VoterAgentID string     `json:"voter_agent_id"`
	Vote         VoteChoice `json:"vote"`
	Confidence   float64    `json:"confidence"` // 0..1
	Reasoning    string     `json:"reasoning"`
	Timestamp    time.Time  `json:"timestamp"`
}

// AgentToAgentPayment is the record of a peer transfer between agents.
type AgentToAgentPayment struct {
	PaymentID   string          `json:"payment_id"`
	FromAgentID string          `json:"from_agent_id"`
	ToAgentID   string          `json:"to_agent_id"`
	Amount      decimal.Decimal `json:"amount"`
	Purpose     string          `json:"purpose"`
	Status      string          `json:"status"` // completed | rejected
	Blockers    []string        `json:"blockers,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}
