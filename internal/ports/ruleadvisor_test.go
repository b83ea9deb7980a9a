package ports

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbank/syndicate/internal/entities"
)

func TestRuleAdvisorDetectFraudClean(t *testing.T) {
	ra := NewRuleAdvisor()
	fraud, err := ra.DetectFraud(context.Background(), &entities.Transaction{
		Amount:      decimal.NewFromInt(50),
		Supplier:    "OpenAI",
		Description: "api credits",
	}, nil)
	require.NoError(t, err)

	assert.Zero(t, fraud.Probability)
	assert.Equal(t, "low", fraud.Severity)
	assert.Equal(t, "allow", fraud.Recommendation)
}

func TestRuleAdvisorDetectFraudHeuristics(t *testing.T) {
	ra := NewRuleAdvisor()
	ctx := context.Background()

	large, _ := ra.DetectFraud(ctx, &entities.Transaction{
		Amount:      decimal.NewFromInt(15000),
		Supplier:    "OpenAI",
		Description: "bulk",
	}, nil)
	assert.InDelta(t, 0.5, large.Probability, 1e-9)
	assert.Equal(t, "review", large.Recommendation)

	burn, _ := ra.DetectFraud(ctx, &entities.Transaction{
		Amount:   decimal.NewFromInt(2000),
		Supplier: "0x1111111111111111111111111111111111110000",
	}, nil)
	// 0.3 amount + 0.4 burn address + 0.1 missing description
	assert.InDelta(t, 0.8, burn.Probability, 1e-9)
	assert.Equal(t, "block", burn.Recommendation)
	assert.Equal(t, "high", burn.Severity)
}

func TestRuleAdvisorDetectFraudRepeats(t *testing.T) {
	ra := NewRuleAdvisor()
	tx := &entities.Transaction{
		Amount:      decimal.NewFromInt(5),
		Supplier:    "api.example.com",
		Description: "same call",
	}
	history := []*entities.Transaction{tx.Clone(), tx.Clone(), tx.Clone()}

	fraud, _ := ra.DetectFraud(context.Background(), tx, history)
	assert.InDelta(t, 0.2, fraud.Probability, 1e-9)
}

func TestRuleAdvisorAssessSupplier(t *testing.T) {
	ra := NewRuleAdvisor()
	ctx := context.Background()

	trusted, _ := ra.AssessSupplier(ctx, "AWS Compute", nil)
	assert.Equal(t, 0.1, trusted.RiskScore)
	assert.Equal(t, "trusted", trusted.Category)

	burn, _ := ra.AssessSupplier(ctx, "0x1111111111111111111111111111111111110000", nil)
	assert.Equal(t, 0.8, burn.RiskScore)

	onchain, _ := ra.AssessSupplier(ctx, "0x1111111111111111111111111111111111111111", nil)
	assert.Equal(t, 0.3, onchain.RiskScore)

	unknown, _ := ra.AssessSupplier(ctx, "totally-new-vendor", nil)
	assert.Equal(t, 0.5, unknown.RiskScore)
}

func TestRuleAdvisorAnalyzePayment(t *testing.T) {
	ra := NewRuleAdvisor()
	analysis, err := ra.AnalyzePayment(context.Background(), &entities.Transaction{
		Amount:      decimal.NewFromInt(50),
		Supplier:    "Google Cloud",
		Description: "compute",
	}, &entities.AgentState{})
	require.NoError(t, err)

	assert.Equal(t, "approve", analysis.Decision)
	assert.InDelta(t, 0.04, analysis.RiskScore, 1e-9)
}

func TestStaticSanctionsOracle(t *testing.T) {
	oracle := NewStaticSanctionsOracle(map[string]entities.SanctionsStatus{
		"Bad Actor LLC": entities.SanctionsFlagged,
	})
	ctx := context.Background()

	status, err := oracle.Check(ctx, "bad actor llc")
	require.NoError(t, err)
	assert.Equal(t, entities.SanctionsFlagged, status)

	status, err = oracle.Check(ctx, "Honest Corp")
	require.NoError(t, err)
	assert.Equal(t, entities.SanctionsCleared, status)
}
