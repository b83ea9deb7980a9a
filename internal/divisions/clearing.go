package divisions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/agentbank/syndicate/internal/config"
	"github.com/agentbank/syndicate/internal/entities"
	"github.com/agentbank/syndicate/internal/ports"
)

// congestionAlertLevel is the network congestion above which clearing adds
// risk to its analysis.
const congestionAlertLevel = 0.8

// ZKCommitment is the simulated zero-knowledge settlement proof. The
// commitment hides the exact amount; public inputs expose only a coarse
// amount bucket.
type ZKCommitment struct {
	Commitment   string                 `json:"commitment"`
	PublicInputs map[string]interface{} `json:"public_inputs"`
}

// ClearingSettlement estimates gas, validates it against the cap, and
// executes settlements against the ledger. It tracks in-flight settlements
// and a completed history log.
type ClearingSettlement struct {
	healthTracker

	cfg    config.ClearingConfig
	ledger ports.LedgerConnector
	clock  ports.Clock
	secret string
	logger *log.Logger

	mu                 sync.Mutex
	pendingSettlements map[string]*entities.Transaction
	history            []*entities.Transaction
}

// NewClearingSettlement creates the clearing division. The secret salts ZK
// commitments; it is generated per process.
func NewClearingSettlement(cfg config.ClearingConfig, ledger ports.LedgerConnector, clock ports.Clock) *ClearingSettlement {
	if cfg.MaxGasLimit == 0 {
		cfg.MaxGasLimit = 500_000
	}
	return &ClearingSettlement{
		cfg:                cfg,
		ledger:             ledger,
		clock:              clock,
		secret:             clock.NewUUID(),
		logger:             log.New(log.Writer(), "[Clearing] ", log.LstdFlags),
		pendingSettlements: make(map[string]*entities.Transaction),
	}
}

func (cs *ClearingSettlement) Role() entities.Role { return entities.RoleClearing }

func (cs *ClearingSettlement) Analyze(ctx context.Context, tx *entities.Transaction, agent *entities.AgentState) *entities.DivisionAnalysis {
	now := cs.clock.Now()
	analysis := &entities.DivisionAnalysis{
		AgentRole: entities.RoleClearing,
		Timestamp: now,
		Metadata:  map[string]interface{}{},
	}

	estimate, err := cs.ledger.EstimateGas(ctx, tx)
	if err != nil {
		cs.observeFailure()
		analysis.Decision = entities.DecisionReject
		analysis.RiskScore = 1.0
		analysis.Reasoning = fmt.Sprintf("gas estimation failed: %v", err)
		cs.observe(analysis.Decision, now)
		return analysis
	}

	tx.GasEstimate = estimate
	analysis.Metadata["gas_estimate"] = estimate

	if estimate > cs.cfg.MaxGasLimit {
		analysis.Decision = entities.DecisionReject
		analysis.RiskScore = 1.0
		analysis.Reasoning = fmt.Sprintf("gas estimate %d exceeds cap %d", estimate, cs.cfg.MaxGasLimit)
		cs.observe(analysis.Decision, now)
		return analysis
	}

	congestion := cs.ledger.NetworkCongestion()
	analysis.Metadata["network_congestion"] = congestion
	if congestion > congestionAlertLevel {
		analysis.RiskScore = 0.3 * congestion
		analysis.Alerts = append(analysis.Alerts, "network congestion elevated")
	}

	analysis.Decision = entities.DecisionApprove
	analysis.Reasoning = fmt.Sprintf("settlement feasible at %d gas", estimate)
	cs.observe(analysis.Decision, now)
	return analysis
}

func (cs *ClearingSettlement) Execute(ctx context.Context, tx *entities.Transaction, agent *entities.AgentState, action string, params map[string]interface{}) (*entities.ActionResult, error) {
	switch action {
	case "execute":
		return cs.executeSettlement(ctx, tx)
	default:
		return nil, fmt.Errorf("clearing does not support action %q", action)
	}
}

// executeSettlement stamps the transaction with on-chain settlement data and
// a ZK commitment, transitioning pending -> executing -> completed.
func (cs *ClearingSettlement) executeSettlement(ctx context.Context, tx *entities.Transaction) (*entities.ActionResult, error) {
	tx.State = entities.StateExecuting

	cs.mu.Lock()
	cs.pendingSettlements[tx.TxID] = tx
	cs.mu.Unlock()

	receipt, err := cs.ledger.SendTransaction(ctx, tx)
	if err != nil {
		cs.observeFailure()
		cs.mu.Lock()
		delete(cs.pendingSettlements, tx.TxID)
		cs.mu.Unlock()
		tx.State = entities.StateFailed
		return nil, fmt.Errorf("settlement failed: %w", err)
	}

	tx.TxHash = receipt.TxHash
	tx.BlockNumber = receipt.BlockNumber
	tx.GasUsed = receipt.GasUsed
	tx.State = entities.StateCompleted

	commitment := cs.commit(tx)

	cs.mu.Lock()
	delete(cs.pendingSettlements, tx.TxID)
	cs.history = append(cs.history, tx)
	cs.mu.Unlock()

	cs.logger.Printf("Settled %s in block %d (gas %d)", tx.TxID, receipt.BlockNumber, receipt.GasUsed)
	return &entities.ActionResult{
		Success: true,
		Action:  "execute",
		Message: "transaction settled",
		Metadata: map[string]interface{}{
			"tx_hash":       receipt.TxHash,
			"block_number":  receipt.BlockNumber,
			"gas_used":      receipt.GasUsed,
			"zk_commitment": commitment,
		},
	}, nil
}

// commit builds SHA256(tx_id || amount || secret) with range-proof style
// public inputs.
func (cs *ClearingSettlement) commit(tx *entities.Transaction) *ZKCommitment {
	sum := sha256.Sum256([]byte(tx.TxID + tx.Amount.String() + cs.secret))
	return &ZKCommitment{
		Commitment: hex.EncodeToString(sum[:]),
		PublicInputs: map[string]interface{}{
			"amount_bucket": amountBucket(tx.Amount),
			"timestamp":     tx.Timestamp.Unix(),
			"tx_id":         tx.TxID,
		},
	}
}

// PendingCount reports the number of settlements currently in flight.
func (cs *ClearingSettlement) PendingCount() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.pendingSettlements)
}

// SettledCount reports the number of completed settlements.
func (cs *ClearingSettlement) SettledCount() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.history)
}

func (cs *ClearingSettlement) GetHealth() Health { return cs.health(entities.RoleClearing) }

func amountBucket(amount decimal.Decimal) int {
	switch {
	case amount.LessThan(decimal.NewFromInt(10)):
		return 0
	case amount.LessThan(decimal.NewFromInt(100)):
		return 1
	case amount.LessThan(decimal.NewFromInt(1000)):
		return 2
	case amount.LessThan(decimal.NewFromInt(10000)):
		return 3
	default:
		return 4
	}
}
