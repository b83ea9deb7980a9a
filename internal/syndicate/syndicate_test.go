package syndicate

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbank/syndicate/internal/config"
	"github.com/agentbank/syndicate/internal/divisions"
	"github.com/agentbank/syndicate/internal/entities"
	"github.com/agentbank/syndicate/internal/events"
	"github.com/agentbank/syndicate/internal/ports"
)

func newTestSyndicate(t *testing.T, cfg *config.Config) (*Syndicate, *ports.FakeClock) {
	t.Helper()
	clock := ports.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return New(cfg, Options{Clock: clock}), clock
}

func onboard(t *testing.T, s *Syndicate, agentID string, deposit int64) *entities.AgentState {
	t.Helper()
	state, err := s.OnboardAgent(context.Background(), agentID, decimal.NewFromInt(deposit), nil)
	require.NoError(t, err)
	return state
}

func TestOnboardAgent(t *testing.T) {
	s, _ := newTestSyndicate(t, nil)

	state := onboard(t, s, "agent_alpha", 1000)
	assert.Equal(t, "agent_alpha", state.AgentID)
	assert.Len(t, state.WalletAddress, 42)
	assert.Equal(t, "100", state.CreditLimit.String())
	assert.Equal(t, "1000", state.AvailableBalance.String())
	assert.Equal(t, 0.5, state.ReputationScore)

	_, err := s.OnboardAgent(context.Background(), "agent_alpha", decimal.Zero, nil)
	assert.Error(t, err)

	_, err = s.OnboardAgent(context.Background(), "agent_neg", decimal.NewFromInt(-5), nil)
	assert.Error(t, err)
}

func TestPurchaseApprovedAndBookkept(t *testing.T) {
	s, _ := newTestSyndicate(t, nil)
	onboard(t, s, "agent_alpha", 1000)

	tx := s.NewTransaction("agent_alpha", entities.TxPurchase, decimal.NewFromInt(50), "OpenAI", "api credits")
	eval, err := s.ProcessTransaction(context.Background(), tx)
	require.NoError(t, err)

	assert.Equal(t, entities.ConsensusApproved, eval.Consensus)
	assert.Equal(t, entities.StateCompleted, tx.State)
	assert.True(t, tx.IsSettled())
	assert.Len(t, eval.DivisionVotes, 4)

	state := s.GetAgentState("agent_alpha")
	assert.Equal(t, "950", state.AvailableBalance.String())
	assert.Equal(t, int64(1), state.SuccessfulTransactions)
	assert.Equal(t, int64(1), state.TotalTransactions)
	assert.Equal(t, "50", state.TotalSpent.String())

	// One efficient settlement grows the credit limit.
	assert.Equal(t, "100.95", state.CreditLimit.String())

	require.NotNil(t, s.Audits().Trail(tx.TxID))
	assert.NotNil(t, s.Protocol().GetAgentCertificate("agent_alpha"))
}

func TestPurchaseBlockedOnInsufficientFunds(t *testing.T) {
	s, _ := newTestSyndicate(t, nil)
	onboard(t, s, "agent_alpha", 1000)

	tx := s.NewTransaction("agent_alpha", entities.TxPurchase, decimal.NewFromInt(10_000), "OpenAI", "bulk credits")
	eval, err := s.ProcessTransaction(context.Background(), tx)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationBlocked)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Contains(t, err.Error(), "Insufficient")
	assert.Equal(t, entities.ConsensusBlocked, eval.Consensus)
	assert.Equal(t, entities.StateRejected, tx.State)

	// A blocked transaction leaves the agent untouched.
	state := s.GetAgentState("agent_alpha")
	assert.Equal(t, "1000", state.AvailableBalance.String())
	assert.Zero(t, state.TotalTransactions)
	assert.Equal(t, "100", state.CreditLimit.String())
}

func TestPurchaseBlockedOnCreditLimit(t *testing.T) {
	s, _ := newTestSyndicate(t, nil)
	onboard(t, s, "agent_alpha", 1000)

	tx := s.NewTransaction("agent_alpha", entities.TxPurchase, decimal.NewFromInt(150), "OpenAI", "api credits")
	_, err := s.ProcessTransaction(context.Background(), tx)
	assert.ErrorIs(t, err, ErrCreditLimitExceeded)
}

func TestAmountEqualToCreditLimitApproves(t *testing.T) {
	s, _ := newTestSyndicate(t, nil)
	onboard(t, s, "agent_alpha", 1000)

	tx := s.NewTransaction("agent_alpha", entities.TxPurchase, decimal.NewFromInt(100), "OpenAI", "api credits")
	eval, err := s.ProcessTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, entities.ConsensusApproved, eval.Consensus)
}

func TestBlacklistedSupplierBlocked(t *testing.T) {
	s, _ := newTestSyndicate(t, nil)
	onboard(t, s, "agent_alpha", 1000)

	tx := s.NewTransaction("agent_alpha", entities.TxPurchase, decimal.NewFromInt(10),
		"0x0000000000000000000000000000000000000000", "suspicious payment")
	eval, err := s.ProcessTransaction(context.Background(), tx)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlacklisted)
	assert.Contains(t, err.Error(), "blacklist")
	assert.Equal(t, entities.ConsensusBlocked, eval.Consensus)
}

func TestInvestmentBlockedByGasCap(t *testing.T) {
	cfg := config.Default()
	cfg.Clearing.MaxGasLimit = 100_000 // investment estimate is 145200
	s, _ := newTestSyndicate(t, cfg)
	onboard(t, s, "agent_alpha", 1000)

	tx := s.NewTransaction("agent_alpha", entities.TxInvestment, decimal.NewFromInt(50), "yield-protocol", "stake")
	eval, err := s.ProcessTransaction(context.Background(), tx)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationBlocked)
	assert.Equal(t, entities.ConsensusBlocked, eval.Consensus)

	require.NotEmpty(t, eval.Blockers)
	assert.Equal(t, entities.RoleClearing, eval.Blockers[0].AgentRole)
	assert.Contains(t, eval.Blockers[0].Reasoning, "exceeds cap")
}

func TestFastTrackMicropayment(t *testing.T) {
	s, _ := newTestSyndicate(t, nil)
	onboard(t, s, "agent_alpha", 1000)

	tx := s.NewTransaction("agent_alpha", entities.TxMicropayment, decimal.NewFromFloat(0.5), "gemini-pro", "one call")
	eval, err := s.ProcessTransaction(context.Background(), tx)
	require.NoError(t, err)

	assert.Equal(t, entities.ConsensusApproved, eval.Consensus)
	assert.Empty(t, eval.DivisionVotes) // no division analyses on the fast path
	assert.Equal(t, entities.StateCompleted, tx.State)
	assert.Equal(t, uint64(21000), tx.GasUsed)
	assert.Equal(t, "0x", tx.TxHash[:2])

	state := s.GetAgentState("agent_alpha")
	assert.Equal(t, "999.5", state.AvailableBalance.String())
}

func TestFastTrackInsufficientFunds(t *testing.T) {
	s, _ := newTestSyndicate(t, nil)
	_, err := s.OnboardAgent(context.Background(), "agent_poor", decimal.NewFromFloat(0.1), nil)
	require.NoError(t, err)

	tx := s.NewTransaction("agent_poor", entities.TxMicropayment, decimal.NewFromFloat(0.5), "gemini-pro", "one call")
	eval, err := s.ProcessTransaction(context.Background(), tx)

	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, entities.ConsensusBlocked, eval.Consensus)
}

func TestAdjustVotesStopShortOfSettlement(t *testing.T) {
	s, _ := newTestSyndicate(t, nil)
	onboard(t, s, "agent_alpha", 1000)

	// Burn-style supplier: fraud 0.4 and supplier risk 0.8 put the risk
	// division in the adjust band without any hard reject.
	tx := s.NewTransaction("agent_alpha", entities.TxPurchase, decimal.NewFromInt(50),
		"0x1111111111111111111111111111111111110000", "parts payment")
	eval, err := s.ProcessTransaction(context.Background(), tx)

	require.NoError(t, err)
	assert.Equal(t, entities.ConsensusAdjusted, eval.Consensus)
	assert.Equal(t, entities.StateRejected, tx.State)
	require.NotEmpty(t, eval.Blockers)
	assert.Equal(t, entities.RoleRiskCompliance, eval.Blockers[0].AgentRole)

	// No side effects on an adjusted outcome.
	state := s.GetAgentState("agent_alpha")
	assert.Equal(t, "1000", state.AvailableBalance.String())
	assert.Zero(t, state.TotalTransactions)
}

func TestUnknownAgentRejected(t *testing.T) {
	s, _ := newTestSyndicate(t, nil)

	tx := s.NewTransaction("ghost", entities.TxPurchase, decimal.NewFromInt(10), "OpenAI", "api credits")
	_, err := s.ProcessTransaction(context.Background(), tx)
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestCreditAgent(t *testing.T) {
	s, _ := newTestSyndicate(t, nil)
	onboard(t, s, "agent_alpha", 100)

	require.NoError(t, s.CreditAgent("agent_alpha", decimal.NewFromInt(50), true))
	state := s.GetAgentState("agent_alpha")
	assert.Equal(t, "150", state.AvailableBalance.String())
	assert.Equal(t, "50", state.TotalEarned.String())

	assert.ErrorIs(t, s.CreditAgent("ghost", decimal.NewFromInt(1), false), ErrUnknownAgent)
	assert.Error(t, s.CreditAgent("agent_alpha", decimal.NewFromInt(-1), false))
}

func TestGetPerformanceReport(t *testing.T) {
	s, _ := newTestSyndicate(t, nil)
	onboard(t, s, "agent_alpha", 1000)

	report, err := s.GetPerformanceReport("agent_alpha")
	require.NoError(t, err)
	assert.Equal(t, "100", report.CreditLimit)
	assert.Zero(t, report.Efficiency)
	assert.InDelta(t, 0.5, report.Reputation, 1e-9)
	assert.Equal(t, "100", report.ProjectedNextLimit)

	_, err = s.GetPerformanceReport("ghost")
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestGetSyndicateStatus(t *testing.T) {
	s, _ := newTestSyndicate(t, nil)
	onboard(t, s, "agent_alpha", 1000)

	ctx := context.Background()
	ok := s.NewTransaction("agent_alpha", entities.TxPurchase, decimal.NewFromInt(50), "OpenAI", "api credits")
	_, err := s.ProcessTransaction(ctx, ok)
	require.NoError(t, err)

	blocked := s.NewTransaction("agent_alpha", entities.TxPurchase, decimal.NewFromInt(10_000), "OpenAI", "bulk")
	s.ProcessTransaction(ctx, blocked)

	status := s.GetSyndicateStatus()
	assert.Equal(t, 1, status.TotalAgents)
	assert.Equal(t, 2, status.TotalTransactions)
	assert.Equal(t, 2, status.TransactionsByType[string(entities.TxPurchase)])
	assert.Equal(t, 1, status.ConsensusCounts[string(entities.ConsensusApproved)])
	assert.Equal(t, 1, status.ConsensusCounts[string(entities.ConsensusBlocked)])
	assert.NotEmpty(t, status.AuditRoot)

	health := status.DivisionHealth[string(entities.RoleRiskCompliance)]
	assert.Equal(t, int64(2), health.Analyses)
}

func TestEventsEmittedThroughPipeline(t *testing.T) {
	clock := ports.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	bus := events.NewBus("test")
	all := bus.Subscribe()
	s := New(nil, Options{Clock: clock, Emitter: bus})

	onboard(t, s, "agent_alpha", 1000)
	tx := s.NewTransaction("agent_alpha", entities.TxPurchase, decimal.NewFromInt(50), "OpenAI", "api credits")
	_, err := s.ProcessTransaction(context.Background(), tx)
	require.NoError(t, err)

	var types []string
	for len(all) > 0 {
		types = append(types, (<-all).Type)
	}
	assert.Contains(t, types, events.TypeAgentOnboarded)
	assert.Contains(t, types, events.TypeCertificateIssued)
	assert.Contains(t, types, events.TypeTransactionCompleted)
}

func TestTransactionLogRecordsEveryOutcome(t *testing.T) {
	s, _ := newTestSyndicate(t, nil)
	onboard(t, s, "agent_alpha", 1000)
	ctx := context.Background()

	s.ProcessTransaction(ctx, s.NewTransaction("agent_alpha", entities.TxPurchase, decimal.NewFromInt(50), "OpenAI", "ok"))
	s.ProcessTransaction(ctx, s.NewTransaction("agent_alpha", entities.TxPurchase, decimal.NewFromInt(10_000), "OpenAI", "blocked"))

	assert.Len(t, s.TransactionLog(), 2)
	assert.Len(t, s.Evaluations(), 2)
	assert.Len(t, s.Scoring().History("agent_alpha"), 2)
}

// stalledDivision never answers; it only returns once its context expires.
type stalledDivision struct {
	divisions.Division
}

func (stalledDivision) Role() entities.Role { return entities.RoleFrontOffice }

func (stalledDivision) Analyze(ctx context.Context, tx *entities.Transaction, agent *entities.AgentState) *entities.DivisionAnalysis {
	<-ctx.Done()
	return &entities.DivisionAnalysis{AgentRole: entities.RoleFrontOffice, Decision: entities.DecisionApprove}
}

func TestStageTimeoutFailsTransaction(t *testing.T) {
	cfg := config.Default()
	cfg.Protocol.StageTimeout = 20 * time.Millisecond
	s, _ := newTestSyndicate(t, cfg)
	onboard(t, s, "agent_alpha", 1000)

	s.pipeline[0] = stalledDivision{}

	tx := s.NewTransaction("agent_alpha", entities.TxPurchase, decimal.NewFromInt(50), "OpenAI", "api credits")
	eval, err := s.ProcessTransaction(context.Background(), tx)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Contains(t, err.Error(), "timed out")
	assert.Equal(t, entities.ConsensusFailed, eval.Consensus)
	assert.Equal(t, entities.StateFailed, tx.State)
	require.Len(t, eval.Blockers, 1)
	assert.Equal(t, entities.RoleSystem, eval.Blockers[0].AgentRole)

	// The stalled stage never produced a vote and left the agent untouched.
	assert.Empty(t, eval.DivisionVotes)
	state := s.GetAgentState("agent_alpha")
	assert.Equal(t, "1000", state.AvailableBalance.String())
	assert.Zero(t, state.TotalTransactions)
}
