package ports

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbank/syndicate/internal/entities"
)

func testClock() *FakeClock {
	return NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
}

func TestSimLedgerCreateWallet(t *testing.T) {
	sl := NewSimLedger(testClock(), 0)

	wallet, err := sl.CreateWallet(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Len(t, wallet, 42)
	assert.Equal(t, "0x", wallet[:2])

	balance, err := sl.GetBalance(context.Background(), wallet)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestSimLedgerGasEstimates(t *testing.T) {
	sl := NewSimLedger(testClock(), 0)
	ctx := context.Background()

	purchase, err := sl.EstimateGas(ctx, &entities.Transaction{Type: entities.TxPurchase})
	require.NoError(t, err)
	assert.Equal(t, uint64(85200), purchase) // (21000+50000)*1.2

	investment, err := sl.EstimateGas(ctx, &entities.Transaction{Type: entities.TxInvestment})
	require.NoError(t, err)
	assert.Equal(t, uint64(145200), investment)

	transfer, err := sl.EstimateGas(ctx, &entities.Transaction{Type: entities.TxTransfer})
	require.NoError(t, err)
	assert.Equal(t, uint64(25200), transfer)
}

func TestSimLedgerSendTransaction(t *testing.T) {
	sl := NewSimLedger(testClock(), 0)

	receipt, err := sl.SendTransaction(context.Background(), &entities.Transaction{
		TxID:   "tx-1",
		Type:   entities.TxPurchase,
		Amount: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	assert.Equal(t, "0x", receipt.TxHash[:2])
	assert.Len(t, receipt.TxHash, 66)
	assert.Equal(t, uint64(1_000_001), receipt.BlockNumber)
	assert.Equal(t, uint64(72420), receipt.GasUsed) // 85% of the estimate

	second, err := sl.SendTransaction(context.Background(), &entities.Transaction{TxID: "tx-2"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_002), second.BlockNumber)
}

func TestSimLedgerYieldAccrual(t *testing.T) {
	clock := testClock()
	sl := NewSimLedger(clock, 0)
	ctx := context.Background()

	pos, err := sl.Deposit(ctx, "0xwallet", "USDC", decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.True(t, pos.Principal.Equal(decimal.NewFromInt(1000)))

	// One year at 4.8% APY on the withdrawn amount.
	clock.Advance(365 * 24 * time.Hour)
	returned, err := sl.Withdraw(ctx, "0xwallet", "USDC", decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.Equal(t, "1048", returned.String())
}

func TestSimLedgerWithdrawInsufficientPrincipal(t *testing.T) {
	sl := NewSimLedger(testClock(), 0)
	_, err := sl.Withdraw(context.Background(), "0xwallet", "USDC", decimal.NewFromInt(1))
	assert.Error(t, err)
}

func TestSimLedgerChainID(t *testing.T) {
	assert.Equal(t, uint64(5042002), NewSimLedger(testClock(), 0).ChainID())
	assert.Equal(t, uint64(777), NewSimLedger(testClock(), 777).ChainID())
}

func TestFakeClock(t *testing.T) {
	clock := testClock()
	start := clock.Now()

	clock.Advance(time.Hour)
	assert.Equal(t, start.Add(time.Hour), clock.Now())

	first := clock.NewUUID()
	second := clock.NewUUID()
	assert.NotEqual(t, first, second)
	assert.Len(t, first, 36)
}
