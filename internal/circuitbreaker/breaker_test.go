package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbank/syndicate/internal/entities"
	"github.com/agentbank/syndicate/internal/ports"
)

var errUpstream = errors.New("upstream down")

func consecutiveTrip(n uint32) *Config {
	return &Config{
		Name:        "test",
		MaxRequests: 1,
		Timeout:     time.Hour,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= n },
	}
}

func fail(cb *CircuitBreaker) error {
	_, err := cb.Execute(func() (interface{}, error) { return nil, errUpstream })
	return err
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	cb := New(consecutiveTrip(2))

	for i := 0; i < 10; i++ {
		res, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
		require.NoError(t, err)
		assert.Equal(t, "ok", res)
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(10), cb.Counts().TotalSuccesses)
}

func TestBreakerTripsOnConsecutiveFailures(t *testing.T) {
	cb := New(consecutiveTrip(2))

	assert.ErrorIs(t, fail(cb), errUpstream)
	assert.Equal(t, StateClosed, cb.State())

	assert.ErrorIs(t, fail(cb), errUpstream)
	assert.Equal(t, StateOpen, cb.State())

	_, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerSuccessResetsConsecutiveCount(t *testing.T) {
	cb := New(consecutiveTrip(2))

	fail(cb)
	_, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	require.NoError(t, err)
	fail(cb)

	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	cfg := consecutiveTrip(1)
	cfg.Timeout = 10 * time.Millisecond
	cb := New(cfg)

	fail(cb)
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	_, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cfg := consecutiveTrip(1)
	cfg.Timeout = 10 * time.Millisecond
	cb := New(cfg)

	fail(cb)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	fail(cb)
	assert.Equal(t, StateOpen, cb.State())
}

func TestDefaultConfigTripsOnFailureRatio(t *testing.T) {
	cfg := DefaultConfig("ratio")
	cfg.OnStateChange = nil
	cb := New(cfg)

	cb.Execute(func() (interface{}, error) { return "ok", nil })
	for i := 0; i < 4; i++ {
		fail(cb)
	}
	// 4 failures over 5 requests: ratio 0.8 > 0.5.
	assert.Equal(t, StateOpen, cb.State())
}

func TestServiceBreakersHealthStatus(t *testing.T) {
	breakers := NewServiceBreakers()

	status, states := breakers.HealthStatus()
	assert.Equal(t, "HEALTHY", status)
	assert.Equal(t, "CLOSED", states["ledger"])

	breakers.Ledger.Execute(func() (interface{}, error) { return nil, errUpstream })
	breakers.Ledger.Execute(func() (interface{}, error) { return nil, errUpstream })

	status, states = breakers.HealthStatus()
	assert.Equal(t, "DEGRADED", status)
	assert.Equal(t, "OPEN", states["ledger"])
	assert.Equal(t, "CLOSED", states["ai-advisor"])
}

// failingAdvisor always errors; used to drive the advisor breaker open.
type failingAdvisor struct{}

func (failingAdvisor) AnalyzePayment(ctx context.Context, tx *entities.Transaction, agent *entities.AgentState) (*ports.PaymentAnalysis, error) {
	return nil, errUpstream
}

func (failingAdvisor) DetectFraud(ctx context.Context, tx *entities.Transaction, history []*entities.Transaction) (*ports.FraudAssessment, error) {
	return nil, errUpstream
}

func (failingAdvisor) OptimizeResources(ctx context.Context, agent *entities.AgentState) (*ports.ResourcePlan, error) {
	return nil, errUpstream
}

func (failingAdvisor) AssessSupplier(ctx context.Context, supplier string, history []*entities.Transaction) (*ports.SupplierAssessment, error) {
	return nil, errUpstream
}

func TestGuardedAdvisorFailsFastWhenOpen(t *testing.T) {
	breakers := NewServiceBreakers()
	guarded := NewGuardedAdvisor(failingAdvisor{}, breakers.Advisor)
	ctx := context.Background()
	tx := &entities.Transaction{TxID: "t1"}

	for i := 0; i < 3; i++ {
		_, err := guarded.DetectFraud(ctx, tx, nil)
		assert.ErrorIs(t, err, errUpstream)
	}

	// Breaker tripped after three consecutive failures.
	_, err := guarded.DetectFraud(ctx, tx, nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestGuardedAdvisorPassesResultsThrough(t *testing.T) {
	guarded := NewGuardedAdvisor(ports.NewRuleAdvisor(), New(consecutiveTrip(3)))

	fraud, err := guarded.DetectFraud(context.Background(), &entities.Transaction{
		TxID: "t1", Supplier: "OpenAI", Description: "api credits",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "allow", fraud.Recommendation)
}

func TestGuardedSanctionsOpenReportsPending(t *testing.T) {
	cb := New(consecutiveTrip(1))
	oracle := NewGuardedSanctions(failingOracle{}, cb)

	_, err := oracle.Check(context.Background(), "Acme")
	require.Error(t, err)

	status, err := oracle.Check(context.Background(), "Acme")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, entities.SanctionsPending, status)
}

type failingOracle struct{}

func (failingOracle) Check(ctx context.Context, subject string) (entities.SanctionsStatus, error) {
	return "", fmt.Errorf("oracle timeout")
}

func TestGuardedLedgerPassThroughReads(t *testing.T) {
	clock := ports.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	ledger := NewGuardedLedger(ports.NewSimLedger(clock, 777), New(consecutiveTrip(2)))

	assert.Equal(t, uint64(777), ledger.ChainID())
	assert.Positive(t, ledger.GetAPY("USDC"))

	gas, err := ledger.EstimateGas(context.Background(), &entities.Transaction{Type: entities.TxPurchase})
	require.NoError(t, err)
	assert.Equal(t, uint64(85200), gas)
}
