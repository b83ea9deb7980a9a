package commerce

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbank/syndicate/internal/config"
	"github.com/agentbank/syndicate/internal/entities"
	"github.com/agentbank/syndicate/internal/ports"
	"github.com/agentbank/syndicate/internal/syndicate"
)

func newTestAggregator(t *testing.T) (*Aggregator, *syndicate.Syndicate, *ports.FakeClock) {
	t.Helper()
	clock := ports.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	cfg := config.Default()
	core := syndicate.New(cfg, syndicate.Options{Clock: clock})
	return New(cfg.Commerce, clock, core, nil, nil), core, clock
}

func onboardAgent(t *testing.T, core *syndicate.Syndicate, agentID string, deposit int64) {
	t.Helper()
	_, err := core.OnboardAgent(context.Background(), agentID, decimal.NewFromInt(deposit), nil)
	require.NoError(t, err)
}

func TestMicropaymentsAccumulateInBatch(t *testing.T) {
	agg, core, _ := newTestAggregator(t)
	onboardAgent(t, core, "agent_alpha", 1000)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		rec, err := agg.TrackAPICall(ctx, "agent_alpha", "gemini-pro")
		require.NoError(t, err)
		assert.Equal(t, "0.001", rec.TotalCost.String())
	}

	batch := agg.ActiveBatch("agent_alpha")
	require.NotNil(t, batch)
	assert.Equal(t, entities.BatchPending, batch.Status)
	assert.Len(t, batch.Payments, 10)
	assert.Equal(t, "0.01", batch.TotalAmount.String())

	// Nothing was debited yet.
	assert.Equal(t, "1000", core.GetAgentState("agent_alpha").AvailableBalance.String())
}

func TestBatchFlushesAtThreshold(t *testing.T) {
	agg, core, _ := newTestAggregator(t)
	onboardAgent(t, core, "agent_alpha", 1000)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := agg.TrackAPICall(ctx, "agent_alpha", "gemini-pro")
		require.NoError(t, err)
	}

	// Nine pricier calls bring the batch total to exactly 1.00.
	agg.SetEndpointPrice("bulk", 0.11)
	for i := 0; i < 9; i++ {
		_, err := agg.TrackAPICall(ctx, "agent_alpha", "bulk")
		require.NoError(t, err)
	}

	assert.Nil(t, agg.ActiveBatch("agent_alpha"))

	// The batch settled as one micropayment transaction, debited once.
	state := core.GetAgentState("agent_alpha")
	assert.Equal(t, "999", state.AvailableBalance.String())
	assert.Equal(t, int64(1), state.SuccessfulTransactions)

	log := core.TransactionLog()
	require.Len(t, log, 1)
	assert.Equal(t, entities.TxMicropayment, log[0].Type)
	assert.Equal(t, "1", log[0].Amount.String())
	assert.Equal(t, "threshold", log[0].Metadata["trigger"])
	assert.Len(t, log[0].Metadata["child_ids"].([]string), 19)
}

func TestExpensiveCallPaysDirectly(t *testing.T) {
	agg, core, _ := newTestAggregator(t)
	onboardAgent(t, core, "agent_alpha", 1000)

	agg.SetEndpointPrice("gpu-hour", 2.50)
	rec, err := agg.TrackAPICall(context.Background(), "agent_alpha", "gpu-hour")
	require.NoError(t, err)
	assert.Equal(t, "2.5", rec.TotalCost.String())

	assert.Nil(t, agg.ActiveBatch("agent_alpha"))
	assert.Equal(t, "997.5", core.GetAgentState("agent_alpha").AvailableBalance.String())
}

func TestFlushExpiredOnTimeout(t *testing.T) {
	agg, core, clock := newTestAggregator(t)
	onboardAgent(t, core, "agent_alpha", 1000)
	ctx := context.Background()

	_, err := agg.TrackAPICall(ctx, "agent_alpha", "gemini-pro")
	require.NoError(t, err)
	require.NotNil(t, agg.ActiveBatch("agent_alpha"))

	assert.Zero(t, agg.FlushExpired(ctx))

	clock.Advance(5 * time.Minute)
	assert.Equal(t, 1, agg.FlushExpired(ctx))
	assert.Nil(t, agg.ActiveBatch("agent_alpha"))

	// Sub-threshold total went through the fast track.
	assert.Equal(t, "999.999", core.GetAgentState("agent_alpha").AvailableBalance.String())
}

func TestManualFlush(t *testing.T) {
	agg, core, _ := newTestAggregator(t)
	onboardAgent(t, core, "agent_alpha", 1000)
	ctx := context.Background()

	none, err := agg.FlushBatch(ctx, "agent_alpha")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = agg.TrackAPICall(ctx, "agent_alpha", "gemini-flash")
	require.NoError(t, err)

	batch, err := agg.FlushBatch(ctx, "agent_alpha")
	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.Equal(t, entities.BatchCompleted, batch.Status)
	assert.NotNil(t, batch.ExecutedAt)
}

func TestTransferBetweenAgents(t *testing.T) {
	agg, core, _ := newTestAggregator(t)
	onboardAgent(t, core, "agent_a", 1000)
	onboardAgent(t, core, "agent_b", 0)

	payment, err := agg.TransferBetweenAgents(context.Background(), "agent_a", "agent_b",
		decimal.NewFromInt(100), "data labeling")
	require.NoError(t, err)
	assert.Equal(t, "completed", payment.Status)

	a := core.GetAgentState("agent_a")
	b := core.GetAgentState("agent_b")
	assert.Equal(t, "900", a.AvailableBalance.String())
	assert.Equal(t, "100", b.AvailableBalance.String())
	assert.Equal(t, "100", b.TotalEarned.String())

	assert.Len(t, agg.Transfers(), 1)
}

func TestTransferValidation(t *testing.T) {
	agg, core, _ := newTestAggregator(t)
	onboardAgent(t, core, "agent_a", 50)
	onboardAgent(t, core, "agent_b", 0)
	ctx := context.Background()

	_, err := agg.TransferBetweenAgents(ctx, "agent_a", "agent_a", decimal.NewFromInt(10), "self")
	assert.ErrorContains(t, err, "self")

	_, err = agg.TransferBetweenAgents(ctx, "agent_a", "agent_b", decimal.NewFromInt(-5), "negative")
	assert.ErrorContains(t, err, "positive")

	_, err = agg.TransferBetweenAgents(ctx, "ghost", "agent_b", decimal.NewFromInt(5), "unknown")
	assert.ErrorContains(t, err, "not onboarded")

	_, err = agg.TransferBetweenAgents(ctx, "agent_a", "agent_b", decimal.NewFromInt(500), "too much")
	assert.ErrorContains(t, err, "below transfer amount")

	assert.Empty(t, agg.Transfers())
}

func TestAutonomousApprovalUnanimous(t *testing.T) {
	agg, core, _ := newTestAggregator(t)
	tx := core.NewTransaction("agent_alpha", entities.TxPurchase, decimal.NewFromInt(250), "OpenAI", "shared spend")

	approved, votes, err := agg.RequestAutonomousApproval(context.Background(), tx,
		[]string{"voter-1", "voter-conservative", "voter-2", "voter-3"}, time.Second)
	require.NoError(t, err)

	assert.True(t, approved)
	require.Len(t, votes, 4)
	for _, v := range votes {
		assert.Equal(t, entities.VoteApprove, v.Vote)
	}
}

func TestAutonomousApprovalConservativeDissent(t *testing.T) {
	agg, core, _ := newTestAggregator(t)
	tx := core.NewTransaction("agent_alpha", entities.TxPurchase, decimal.NewFromInt(600), "OpenAI", "shared spend")

	approved, votes, err := agg.RequestAutonomousApproval(context.Background(), tx,
		[]string{"voter-1", "voter-conservative", "voter-2", "voter-3"}, time.Second)
	require.NoError(t, err)

	// 3/4 = 0.75 still clears the 0.66 threshold.
	assert.True(t, approved)

	rejects := 0
	for _, v := range votes {
		if v.Vote == entities.VoteReject {
			rejects++
			assert.Equal(t, "voter-conservative", v.VoterAgentID)
		}
	}
	assert.Equal(t, 1, rejects)
}

func TestAutonomousApprovalRequiresVoters(t *testing.T) {
	agg, core, _ := newTestAggregator(t)
	tx := core.NewTransaction("a", entities.TxPurchase, decimal.NewFromInt(10), "OpenAI", "x")

	_, _, err := agg.RequestAutonomousApproval(context.Background(), tx, nil, time.Second)
	assert.Error(t, err)
}

func TestProcessUsageBilling(t *testing.T) {
	agg, core, clock := newTestAggregator(t)
	onboardAgent(t, core, "agent_alpha", 1000)
	ctx := context.Background()

	// No usage: nothing to bill.
	tx, err := agg.ProcessUsageBilling(ctx, "agent_alpha", false)
	require.NoError(t, err)
	assert.Nil(t, tx)

	agg.SetEndpointPrice("training", 1.5)
	_, err = agg.TrackAPICall(ctx, "agent_alpha", "training") // direct payment: 998.5 left
	require.NoError(t, err)

	tx, err = agg.ProcessUsageBilling(ctx, "agent_alpha", true)
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, entities.TxUsageBilling, tx.Type)
	assert.Equal(t, "1.5", tx.Amount.String())

	_, billed := agg.LastBilling("agent_alpha")
	assert.True(t, billed)
	assert.Equal(t, "997", core.GetAgentState("agent_alpha").AvailableBalance.String())

	// Within the cycle, unforced billing is a no-op.
	clock.Advance(time.Hour)
	tx, err = agg.ProcessUsageBilling(ctx, "agent_alpha", false)
	require.NoError(t, err)
	assert.Nil(t, tx)
}

func TestCommerceSummaryAndSystemMetrics(t *testing.T) {
	agg, core, _ := newTestAggregator(t)
	onboardAgent(t, core, "agent_a", 1000)
	onboardAgent(t, core, "agent_b", 1000)
	ctx := context.Background()

	_, err := agg.TrackAPICall(ctx, "agent_a", "gemini-pro")
	require.NoError(t, err)
	_, err = agg.TrackAPICall(ctx, "agent_a", "gpt-4")
	require.NoError(t, err)
	_, err = agg.TransferBetweenAgents(ctx, "agent_a", "agent_b", decimal.NewFromInt(10), "fees")
	require.NoError(t, err)

	summary := agg.GetCommerceSummary("agent_a")
	assert.Equal(t, int64(2), summary.TotalAPICalls)
	assert.Equal(t, "0.003", summary.TotalAPICost)
	assert.Equal(t, int64(1), summary.CallsByEnd["gemini-pro"])
	assert.Equal(t, 1, summary.TransfersSent)
	require.NotNil(t, summary.ActiveBatch)
	assert.Equal(t, 2, summary.ActiveBatch.Payments)

	metrics := agg.GetSystemMetrics()
	assert.Equal(t, 1, metrics.ActiveBatches)
	assert.Equal(t, 1, metrics.TotalTransfers)
	assert.Equal(t, 1, metrics.MeteredAgents)
	assert.Equal(t, "0.003", metrics.TotalAPICost)
}
