package protocol

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbank/syndicate/internal/audit"
	"github.com/agentbank/syndicate/internal/config"
	"github.com/agentbank/syndicate/internal/credit"
	"github.com/agentbank/syndicate/internal/entities"
	"github.com/agentbank/syndicate/internal/ports"
)

func newTestProtocol(t *testing.T) (*Protocol, *ports.FakeClock) {
	t.Helper()
	clock := ports.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	cfg := config.Default()
	scoring := credit.NewEngine(cfg.Credit, clock)
	ledger := ports.NewSimLedger(clock, cfg.Clearing.ChainID)
	p := New(*cfg, clock, nil, ports.NewStaticSanctionsOracle(nil), ledger, scoring, audit.NewManager(clock))
	return p, clock
}

func validKYA(agentID string) *entities.KYAData {
	return &entities.KYAData{
		AgentID:            agentID,
		AgentType:          "autonomous",
		OwnerEntity:        "Acme Labs",
		Purpose:            "api purchasing",
		Jurisdiction:       "US",
		CodeHash:           strings.Repeat("ab", 32),
		AMLScore:           92,
		SanctionsCheck:     entities.SanctionsCleared,
		RegulatoryApproval: "approved",
	}
}

func solventAgent(id string) *entities.AgentState {
	return &entities.AgentState{
		AgentID:          id,
		WalletAddress:    "0x1111111111111111111111111111111111111111",
		CreditLimit:      decimal.NewFromInt(100),
		AvailableBalance: decimal.NewFromInt(1000),
	}
}

// ---- layer 1: identity ----

func TestKYARejectsMissingRecord(t *testing.T) {
	p, _ := newTestProtocol(t)

	res := p.verifyKYA("ghost", solventAgent("ghost"))
	assert.Equal(t, entities.LayerRejected, res.Status)
	assert.Contains(t, res.Reason, "no KYA record")
}

func TestKYARejectsMalformedCodeHash(t *testing.T) {
	p, _ := newTestProtocol(t)

	rec := validKYA("a1")
	rec.CodeHash = "NOT-A-HASH"
	require.NoError(t, p.RegisterAgent(context.Background(), rec))

	res := p.verifyKYA("a1", solventAgent("a1"))
	assert.Equal(t, entities.LayerRejected, res.Status)
	assert.Contains(t, res.Reason, "code_hash")
}

func TestKYARejectsUnclearedSanctions(t *testing.T) {
	p, _ := newTestProtocol(t)

	rec := validKYA("a1")
	rec.SanctionsCheck = entities.SanctionsPending
	require.NoError(t, p.RegisterAgent(context.Background(), rec))

	res := p.verifyKYA("a1", solventAgent("a1"))
	assert.Equal(t, entities.LayerRejected, res.Status)
	assert.Contains(t, res.Reason, "sanctions")
}

func TestKYAAMLThresholds(t *testing.T) {
	p, _ := newTestProtocol(t)
	ctx := context.Background()

	low := validKYA("low")
	low.AMLScore = 69
	require.NoError(t, p.RegisterAgent(ctx, low))
	assert.Equal(t, entities.LayerRejected, p.verifyKYA("low", solventAgent("low")).Status)

	mid := validKYA("mid")
	mid.AMLScore = 84
	require.NoError(t, p.RegisterAgent(ctx, mid))
	assert.Equal(t, entities.LayerReview, p.verifyKYA("mid", solventAgent("mid")).Status)

	high := validKYA("high")
	high.AMLScore = 85
	require.NoError(t, p.RegisterAgent(ctx, high))
	res := p.verifyKYA("high", solventAgent("high"))
	assert.Equal(t, entities.LayerApproved, res.Status)
	assert.NotNil(t, p.GetAgentCertificate("high"))
}

func TestKYAAMLFailureOutranksSanctions(t *testing.T) {
	p, _ := newTestProtocol(t)

	rec := validKYA("a1")
	rec.AMLScore = 60
	rec.SanctionsCheck = entities.SanctionsPending
	require.NoError(t, p.RegisterAgent(context.Background(), rec))

	res := p.verifyKYA("a1", solventAgent("a1"))
	assert.Equal(t, entities.LayerRejected, res.Status)
	assert.Contains(t, res.Reason, "AML score")
}

func TestKYAReviewOnPendingRegulatoryApproval(t *testing.T) {
	p, _ := newTestProtocol(t)

	rec := validKYA("a1")
	rec.RegulatoryApproval = "pending"
	require.NoError(t, p.RegisterAgent(context.Background(), rec))

	res := p.verifyKYA("a1", solventAgent("a1"))
	assert.Equal(t, entities.LayerReview, res.Status)
	assert.Nil(t, p.GetAgentCertificate("a1"))
}

func TestCertificateIssuedOnceAndRefreshed(t *testing.T) {
	p, _ := newTestProtocol(t)
	require.NoError(t, p.RegisterAgent(context.Background(), validKYA("a1")))
	agent := solventAgent("a1")

	p.verifyKYA("a1", agent)
	first := p.GetAgentCertificate("a1")
	require.NotNil(t, first)
	assert.Equal(t, entities.TierSilver, first.Tier)
	assert.Equal(t, first.IssuedDate.AddDate(1, 0, 0), first.ExpiryDate)

	p.verifyKYA("a1", agent)
	assert.Equal(t, first.CertificateID, p.GetAgentCertificate("a1").CertificateID)
}

// ---- layer 2: pre-flight ----

func smallTx(id string, agentID string, amount float64) *entities.Transaction {
	return &entities.Transaction{
		TxID:        id,
		AgentID:     agentID,
		Type:        entities.TxPurchase,
		Amount:      decimal.NewFromFloat(amount),
		Supplier:    "OpenAI",
		Description: "api credits",
	}
}

func TestPreflightSolvency(t *testing.T) {
	p, _ := newTestProtocol(t)

	res := p.preflight(smallTx("t1", "a1", 2000), solventAgent("a1"))
	assert.Equal(t, entities.LayerRejected, res.Status)
	assert.Contains(t, res.Reason, "solvency")
}

func TestPreflightPerTransactionLimit(t *testing.T) {
	p, _ := newTestProtocol(t)

	agent := solventAgent("a1") // silver tier: 5000 per transaction
	agent.AvailableBalance = decimal.NewFromInt(20_000)

	res := p.preflight(smallTx("t1", "a1", 6000), agent)
	assert.Equal(t, entities.LayerRejected, res.Status)
	assert.Contains(t, res.Reason, "per_transaction")
	assert.Equal(t, "silver", res.Details["tier"])
}

func TestPreflightDailyLimit(t *testing.T) {
	p, clock := newTestProtocol(t)

	agent := solventAgent("a1")
	agent.AvailableBalance = decimal.NewFromInt(1_000_000)

	// Silver daily limit is 50,000: ten maxed transactions fill it.
	for i := 0; i < 10; i++ {
		res := p.preflight(smallTx(clock.NewUUID(), "a1", 5000), agent)
		require.Equal(t, entities.LayerApproved, res.Status)
		clock.Advance(2 * time.Minute)
	}

	res := p.preflight(smallTx("over", "a1", 5000), agent)
	assert.Equal(t, entities.LayerRejected, res.Status)
	assert.Contains(t, res.Reason, "daily_limit")
}

func TestPreflightDailyWindowIncludesExactly24hOld(t *testing.T) {
	p, clock := newTestProtocol(t)
	agent := solventAgent("a1")

	require.Equal(t, entities.LayerApproved, p.preflight(smallTx("t1", "a1", 500), agent).Status)

	clock.Advance(24 * time.Hour)
	res := p.preflight(smallTx("t2", "a1", 10), agent)
	require.Equal(t, entities.LayerApproved, res.Status)
	assert.Equal(t, 500.0, res.Details["daily_total"])
}

func TestPreflightVelocityLimit(t *testing.T) {
	p, _ := newTestProtocol(t)
	agent := solventAgent("a1") // silver: 20 per minute

	for i := 0; i < 20; i++ {
		res := p.preflight(smallTx(string(rune('a'+i)), "a1", 1), agent)
		require.Equal(t, entities.LayerApproved, res.Status)
	}

	res := p.preflight(smallTx("t21", "a1", 1), agent)
	assert.Equal(t, entities.LayerRejected, res.Status)
	assert.Contains(t, res.Reason, "velocity")
	assert.Equal(t, 20, res.Details["velocity_count"])
}

func TestPreflightAnnotatesRepeatAnomaly(t *testing.T) {
	p, _ := newTestProtocol(t)
	agent := solventAgent("a1")

	require.Equal(t, entities.LayerApproved, p.preflight(smallTx("t1", "a1", 42), agent).Status)

	res := p.preflight(smallTx("t2", "a1", 42), agent)
	assert.Equal(t, entities.LayerApproved, res.Status)
	assert.Contains(t, res.Details["pattern_anomaly"], "t1")
}

// ---- layer 3: consensus ----

func allApproveVotes() map[entities.Role]*entities.DivisionAnalysis {
	votes := make(map[entities.Role]*entities.DivisionAnalysis)
	for _, role := range entities.VoteOrder {
		votes[role] = &entities.DivisionAnalysis{AgentRole: role, Decision: entities.DecisionApprove, RiskScore: 0.1}
	}
	return votes
}

func TestConsensusUnanimousApproval(t *testing.T) {
	p, _ := newTestProtocol(t)

	res := p.consensus(allApproveVotes())
	assert.Equal(t, entities.LayerApproved, res.Status)
	assert.InDelta(t, 0.1, res.Details["mean_risk"].(float64), 1e-9)
	assert.Equal(t, 4, res.Details["votes"])
}

func TestConsensusRejectWins(t *testing.T) {
	p, _ := newTestProtocol(t)

	votes := allApproveVotes()
	votes[entities.RoleRiskCompliance].Decision = entities.DecisionReject
	votes[entities.RoleRiskCompliance].Reasoning = "blacklisted supplier"

	res := p.consensus(votes)
	assert.Equal(t, entities.LayerRejected, res.Status)
	assert.Contains(t, res.Reason, string(entities.RoleRiskCompliance))
	assert.Contains(t, res.Reason, "blacklisted supplier")
}

func TestConsensusAdjustMeansReview(t *testing.T) {
	p, _ := newTestProtocol(t)

	votes := allApproveVotes()
	votes[entities.RoleTreasury].Decision = entities.DecisionAdjust

	res := p.consensus(votes)
	assert.Equal(t, entities.LayerReview, res.Status)
}

func TestConsensusNoVotes(t *testing.T) {
	p, _ := newTestProtocol(t)
	assert.Equal(t, entities.LayerRejected, p.consensus(nil).Status)
}

// ---- layer 4: fraud scoring ----

func TestFraudScoreClean(t *testing.T) {
	p, _ := newTestProtocol(t)

	res := p.fraudScore(context.Background(), smallTx("t1", "a1", 50))
	assert.Equal(t, entities.LayerApproved, res.Status)
}

func TestFraudScoreReview(t *testing.T) {
	p, _ := newTestProtocol(t)

	tx := smallTx("t1", "a1", 15000)
	res := p.fraudScore(context.Background(), tx)
	assert.Equal(t, entities.LayerReview, res.Status)
}

func TestFraudScoreRejectRecordsIncident(t *testing.T) {
	p, _ := newTestProtocol(t)

	tx := &entities.Transaction{
		TxID:     "t1",
		AgentID:  "a1",
		Amount:   decimal.NewFromInt(2000),
		Supplier: "0x1111111111111111111111111111111111110000",
	}
	res := p.fraudScore(context.Background(), tx)
	assert.Equal(t, entities.LayerRejected, res.Status)
	assert.Equal(t, "high", res.Details["severity"])
	assert.Equal(t, 1, p.scoring.FraudIncidents("a1"))
}

// ---- layer 5: settlement feasibility ----

func TestSettlementCheckWalletFormat(t *testing.T) {
	p, _ := newTestProtocol(t)

	agent := solventAgent("a1")
	agent.WalletAddress = "not-a-wallet"
	res := p.settlementCheck(smallTx("t1", "a1", 50), agent)
	assert.Equal(t, entities.LayerRejected, res.Status)
	assert.Contains(t, res.Reason, "wallet")
}

func TestSettlementCheckMinimumAmount(t *testing.T) {
	p, _ := newTestProtocol(t)

	res := p.settlementCheck(smallTx("t1", "a1", 0.005), solventAgent("a1"))
	assert.Equal(t, entities.LayerRejected, res.Status)
	assert.Contains(t, res.Reason, "0.01")
}

func TestSettlementCheckGasCap(t *testing.T) {
	p, _ := newTestProtocol(t)

	tx := smallTx("t1", "a1", 50)
	tx.GasEstimate = 600_000
	res := p.settlementCheck(tx, solventAgent("a1"))
	assert.Equal(t, entities.LayerRejected, res.Status)
	assert.Contains(t, res.Reason, "gas")
}

func TestSettlementCheckChainMismatch(t *testing.T) {
	clock := ports.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	cfg := config.Default()
	scoring := credit.NewEngine(cfg.Credit, clock)
	p := New(*cfg, clock, nil, nil, ports.NewSimLedger(clock, 777), scoring, audit.NewManager(clock))

	res := p.settlementCheck(smallTx("t1", "a1", 50), solventAgent("a1"))
	assert.Equal(t, entities.LayerRejected, res.Status)
	assert.Contains(t, res.Reason, "chain id")
}

func TestSettlementCheckPasses(t *testing.T) {
	p, _ := newTestProtocol(t)

	tx := smallTx("t1", "a1", 50)
	tx.GasEstimate = 85200
	assert.Equal(t, entities.LayerApproved, p.settlementCheck(tx, solventAgent("a1")).Status)
}

// ---- layer 6: compliance audit ----

func TestComplianceAuditScoresMissingSlots(t *testing.T) {
	p, _ := newTestProtocol(t)

	res := p.complianceAudit("nobody")
	assert.Equal(t, entities.LayerApproved, res.Status)
	assert.Equal(t, 20.0, res.Details["audit_score"])
	assert.Equal(t, false, res.Details["kyc_present"])

	require.NoError(t, p.RegisterAgent(context.Background(), validKYA("a1")))
	full := p.complianceAudit("a1")
	assert.Equal(t, 100.0, full.Details["audit_score"])
}

// ---- full protocol drive ----

func TestValidateFullTransactionApproves(t *testing.T) {
	p, _ := newTestProtocol(t)
	require.NoError(t, p.RegisterAgent(context.Background(), validKYA("a1")))

	tx := smallTx("t1", "a1", 50)
	approved, trail := p.ValidateFullTransaction(context.Background(), tx, solventAgent("a1"), allApproveVotes())

	assert.True(t, approved)
	assert.Equal(t, entities.AuditCompleted, trail.FinalStatus)
	assert.Len(t, trail.Layers, 6)
	assert.Empty(t, RejectedLayer(trail))
	assert.NotNil(t, p.audits.Trail("t1"))
}

func TestValidateFullTransactionRejectsZeroAmount(t *testing.T) {
	p, _ := newTestProtocol(t)
	require.NoError(t, p.RegisterAgent(context.Background(), validKYA("a1")))

	// Divisions approve a free purchase; the settlement minimum stops it.
	tx := smallTx("t1", "a1", 0)
	approved, trail := p.ValidateFullTransaction(context.Background(), tx, solventAgent("a1"), allApproveVotes())

	assert.False(t, approved)
	assert.Equal(t, entities.AuditRejected, trail.FinalStatus)
	assert.Equal(t, entities.LayerSettlement, RejectedLayer(trail))
	assert.Contains(t, trail.Layers[entities.LayerSettlement].Reason, "below 0.01")
}

func TestValidateFullTransactionShortCircuits(t *testing.T) {
	p, _ := newTestProtocol(t)

	tx := smallTx("t1", "unknown", 50)
	approved, trail := p.ValidateFullTransaction(context.Background(), tx, solventAgent("unknown"), allApproveVotes())

	assert.False(t, approved)
	assert.Equal(t, entities.AuditRejected, trail.FinalStatus)
	assert.Equal(t, entities.LayerKYA, RejectedLayer(trail))
	assert.Equal(t, entities.LayerSkipped, trail.Layers[entities.LayerPreflight].Status)
	assert.Equal(t, entities.LayerSkipped, trail.Layers[entities.LayerSettlement].Status)

	// Compliance audit still runs after a rejection.
	assert.Equal(t, entities.LayerApproved, trail.Layers[entities.LayerCompliance].Status)
}

func TestGetAgentReputation(t *testing.T) {
	p, _ := newTestProtocol(t)

	profile := p.GetAgentReputation(solventAgent("a1"))
	assert.Equal(t, entities.TierSilver, profile.Tier)
	assert.InDelta(t, 0.5, profile.Score, 1e-9)
	assert.Equal(t, 5000.0, profile.TierBenefits.PerTransaction)
}
