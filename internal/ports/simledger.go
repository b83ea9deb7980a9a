package ports

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/agentbank/syndicate/internal/entities"
)

// Gas cost model for the simulated chain.
const (
	baseGas          = 21000
	purchaseGas      = 50000
	investmentGas    = 100000
	gasSafetyFactor  = 1.2
	gasUsedFraction  = 0.85 // simulated settlements consume 85% of the estimate
	defaultChainID   = 5042002
	defaultCongested = 0.35
)

// SimLedger is the deterministic default LedgerConnector. Wallets, hashes
// and block numbers are synthesized from inputs and the clock; balances are
// tracked in-memory so treasury operations behave consistently.
type SimLedger struct {
	clock   Clock
	chainID uint64

	mu        sync.Mutex
	blockNum  uint64
	balances  map[string]decimal.Decimal // wallet -> liquid balance
	positions map[string]*YieldPosition  // wallet:token -> position
	apy       map[string]float64
	logger    *log.Logger
}

// NewSimLedger creates a simulated ledger on the given chain id (0 uses the
// default test chain).
func NewSimLedger(clock Clock, chainID uint64) *SimLedger {
	if chainID == 0 {
		chainID = defaultChainID
	}
	return &SimLedger{
		clock:     clock,
		chainID:   chainID,
		blockNum:  1_000_000,
		balances:  make(map[string]decimal.Decimal),
		positions: make(map[string]*YieldPosition),
		apy: map[string]float64{
			"USDC": 0.048,
			"ETH":  0.035,
		},
		logger: log.New(log.Writer(), "[SimLedger] ", log.LstdFlags),
	}
}

func (sl *SimLedger) CreateWallet(ctx context.Context, agentID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(agentID + sl.clock.Now().Format("20060102150405.000000000")))
	addr := "0x" + hex.EncodeToString(sum[:])[:40]
	sl.mu.Lock()
	sl.balances[addr] = decimal.Zero
	sl.mu.Unlock()
	sl.logger.Printf("Created wallet %s for agent %s", addr, agentID)
	return addr, nil
}

func (sl *SimLedger) GetBalance(ctx context.Context, wallet string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.balances[wallet], nil
}

// Credit adds funds to a simulated wallet. Used by onboarding deposits.
func (sl *SimLedger) Credit(wallet string, amount decimal.Decimal) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.balances[wallet] = sl.balances[wallet].Add(amount)
}

func (sl *SimLedger) SendTransaction(ctx context.Context, tx *entities.Transaction) (*TxReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	estimate, _ := sl.EstimateGas(ctx, tx)

	sl.mu.Lock()
	sl.blockNum++
	block := sl.blockNum
	sl.mu.Unlock()

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", tx.TxID, tx.Amount.String(), block)))
	return &TxReceipt{
		TxHash:      "0x" + hex.EncodeToString(sum[:]),
		BlockNumber: block,
		GasUsed:     uint64(float64(estimate) * gasUsedFraction),
	}, nil
}

func (sl *SimLedger) EstimateGas(ctx context.Context, tx *entities.Transaction) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	gas := uint64(baseGas)
	switch tx.Type {
	case entities.TxPurchase:
		gas += purchaseGas
	case entities.TxInvestment:
		gas += investmentGas
	}
	return uint64(float64(gas) * gasSafetyFactor), nil
}

func (sl *SimLedger) Deposit(ctx context.Context, wallet, token string, amount decimal.Decimal) (*YieldPosition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	key := wallet + ":" + token
	pos, ok := sl.positions[key]
	if !ok {
		pos = &YieldPosition{Wallet: wallet, Token: token, DepositedAt: sl.clock.Now()}
		sl.positions[key] = pos
	}
	pos.Principal = pos.Principal.Add(amount)
	return pos, nil
}

// Withdraw returns principal plus accrued yield and resets the position.
// Yield is principal * APY * daysHeld / 365.
func (sl *SimLedger) Withdraw(ctx context.Context, wallet, token string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	key := wallet + ":" + token
	pos, ok := sl.positions[key]
	if !ok || pos.Principal.LessThan(amount) {
		return decimal.Zero, fmt.Errorf("insufficient principal in %s position for wallet %s", token, wallet)
	}

	daysHeld := sl.clock.Now().Sub(pos.DepositedAt).Hours() / 24
	yield := amount.Mul(decimal.NewFromFloat(sl.GetAPY(token) * daysHeld / 365))

	pos.Principal = pos.Principal.Sub(amount)
	pos.DepositedAt = sl.clock.Now() // reset yield accrual on the remainder

	return entities.USDC(amount.Add(yield)), nil
}

func (sl *SimLedger) GetAPY(token string) float64 {
	if apy, ok := sl.apy[strings.ToUpper(token)]; ok {
		return apy
	}
	return 0.03
}

func (sl *SimLedger) NetworkCongestion() float64 { return defaultCongested }

func (sl *SimLedger) ChainID() uint64 { return sl.chainID }
