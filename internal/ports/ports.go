// Package ports declares the external dependencies of the syndicate core —
// on-chain ledger, AI advisor, sanctions oracle, clock and persistence —
// along with deterministic default implementations. The core never talks to
// a real chain or a real LLM; everything behind these interfaces can be
// swapped by adapters.
package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentbank/syndicate/internal/entities"
)

// Clock supplies time and identifiers so tests can pin both.
type Clock interface {
	Now() time.Time
	NewUUID() string
}

// TxReceipt is the result of a settled on-chain transaction.
type TxReceipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
}

// YieldPosition tracks principal deposited into a yield product.
type YieldPosition struct {
	Wallet      string          `json:"wallet"`
	Token       string          `json:"token"`
	Principal   decimal.Decimal `json:"principal"`
	DepositedAt time.Time       `json:"deposited_at"`
}

// LedgerConnector is the on-chain boundary. The default implementation is
// fully deterministic; hashes are synthesized from input and clock.
type LedgerConnector interface {
	CreateWallet(ctx context.Context, agentID string) (string, error)
	GetBalance(ctx context.Context, wallet string) (decimal.Decimal, error)
	SendTransaction(ctx context.Context, tx *entities.Transaction) (*TxReceipt, error)
	EstimateGas(ctx context.Context, tx *entities.Transaction) (uint64, error)
	Deposit(ctx context.Context, wallet, token string, amount decimal.Decimal) (*YieldPosition, error)
	Withdraw(ctx context.Context, wallet, token string, amount decimal.Decimal) (decimal.Decimal, error)
	GetAPY(token string) float64
	NetworkCongestion() float64
	ChainID() uint64
}

// FraudAssessment is the advisor's verdict on a single transaction.
type FraudAssessment struct {
	Probability    float64  `json:"probability"` // 0..1
	Severity       string   `json:"severity"`    // low | medium | high
	Recommendation string   `json:"recommendation"`
	Indicators     []string `json:"indicators,omitempty"`
}

// SupplierAssessment scores a counterparty.
type SupplierAssessment struct {
	RiskScore float64 `json:"risk_score"` // 0..1
	Category  string  `json:"category"`
	Reasoning string  `json:"reasoning"`
}

// PaymentAnalysis is a general advisory opinion used by divisions.
type PaymentAnalysis struct {
	Decision  string  `json:"decision"` // approve | review | reject
	RiskScore float64 `json:"risk_score"`
	Reasoning string  `json:"reasoning"`
}

// ResourcePlan is the advisor's treasury allocation suggestion.
type ResourcePlan struct {
	TargetInvestedFraction float64 `json:"target_invested_fraction"`
	Reasoning              string  `json:"reasoning"`
}

// AIAdvisor is the LLM boundary. Every method has a deterministic rule-based
// implementation (RuleAdvisor) used when no external advisor is configured or
// when the external advisor fails; advisor failure never blocks a transaction.
type AIAdvisor interface {
	AnalyzePayment(ctx context.Context, tx *entities.Transaction, agent *entities.AgentState) (*PaymentAnalysis, error)
	DetectFraud(ctx context.Context, tx *entities.Transaction, history []*entities.Transaction) (*FraudAssessment, error)
	OptimizeResources(ctx context.Context, agent *entities.AgentState) (*ResourcePlan, error)
	AssessSupplier(ctx context.Context, supplier string, history []*entities.Transaction) (*SupplierAssessment, error)
}

// SanctionsOracle checks counterparties against sanctions lists.
type SanctionsOracle interface {
	Check(ctx context.Context, subject string) (entities.SanctionsStatus, error)
}

// Persister serializes core state if supplied; the default is a no-op.
type Persister interface {
	SaveAgentState(ctx context.Context, state *entities.AgentState) error
	SaveTransaction(ctx context.Context, tx *entities.Transaction) error
	SaveEvaluation(ctx context.Context, ev *entities.TransactionEvaluation) error
	SaveAuditTrail(ctx context.Context, trail *entities.AuditTrail) error
	SaveKYARecord(ctx context.Context, rec *entities.KYAData) error
	SaveCertificate(ctx context.Context, cert *entities.AgentCertificate) error
	Close() error
}
