// Package entities defines the core data model of the banking syndicate:
// transactions, agent state, division analyses, evaluations, identity
// records and audit structures. Everything here is plain data with stable
// JSON forms; behavior lives in the division, protocol and credit packages.
package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxType categorizes a transaction entering the pipeline.
type TxType string

const (
	TxPurchase     TxType = "purchase"
	TxTransfer     TxType = "transfer"
	TxInvestment   TxType = "investment"
	TxDeposit      TxType = "deposit"
	TxWithdrawal   TxType = "withdrawal"
	TxAPIPayment   TxType = "api_payment"
	TxMicropayment TxType = "micropayment"
	TxAgentToAgent TxType = "agent_to_agent"
	TxUsageBilling TxType = "usage_billing"
)

// TxState is the lifecycle state of a transaction. Only the coordinator
// mutates it after creation.
type TxState string

const (
	StatePending   TxState = "pending"
	StateAnalyzing TxState = "analyzing"
	StateApproved  TxState = "approved"
	StateRejected  TxState = "rejected"
	StateExecuting TxState = "executing"
	StateCompleted TxState = "completed"
	StateFailed    TxState = "failed"
)

// USDCDecimals is the minor-unit scale for USDC amounts.
const USDCDecimals = 6

// Transaction is a payment request flowing through the syndicate.
// Immutable after creation except for settlement stamping (TxHash,
// BlockNumber, GasUsed) and the State field.
type Transaction struct {
	TxID        string                 `json:"tx_id"`
	AgentID     string                 `json:"agent_id"`
	Type        TxType                 `json:"tx_type"`
	Amount      decimal.Decimal        `json:"amount"`
	Supplier    string                 `json:"supplier"`
	Description string                 `json:"description"`
	Timestamp   time.Time              `json:"timestamp"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	State       TxState                `json:"state"`
	RiskScore   float64                `json:"risk_score"`
	GasEstimate uint64                 `json:"gas_estimate"`

	// Populated only once the transaction reaches completed.
	TxHash      string `json:"tx_hash,omitempty"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	GasUsed     uint64 `json:"gas_used,omitempty"`
}

// USDC truncates d to the USDC minor-unit scale.
func USDC(d decimal.Decimal) decimal.Decimal {
	return d.Round(USDCDecimals)
}

// USDCFromFloat builds a USDC amount from a float64 convenience value.
func USDCFromFloat(f float64) decimal.Decimal {
	return USDC(decimal.NewFromFloat(f))
}

// IsSettled reports whether the transaction carries on-chain settlement data.
func (t *Transaction) IsSettled() bool {
	return t.TxHash != "" && t.BlockNumber != 0
}

// Clone returns a deep copy so callers can snapshot a transaction without
// racing the coordinator.
func (t *Transaction) Clone() *Transaction {
	cp := *t
	if t.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
