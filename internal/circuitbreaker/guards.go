package circuitbreaker

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/agentbank/syndicate/internal/entities"
	"github.com/agentbank/syndicate/internal/ports"
)

// GuardedAdvisor wraps an AIAdvisor behind a breaker. When the breaker is
// open calls fail fast; the protocol layer then falls back to rule scoring.
type GuardedAdvisor struct {
	inner ports.AIAdvisor
	cb    *CircuitBreaker
}

func NewGuardedAdvisor(inner ports.AIAdvisor, cb *CircuitBreaker) *GuardedAdvisor {
	return &GuardedAdvisor{inner: inner, cb: cb}
}

func (g *GuardedAdvisor) AnalyzePayment(ctx context.Context, tx *entities.Transaction, agent *entities.AgentState) (*ports.PaymentAnalysis, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.AnalyzePayment(ctx, tx, agent)
	})
	if err != nil {
		return nil, err
	}
	return res.(*ports.PaymentAnalysis), nil
}

func (g *GuardedAdvisor) DetectFraud(ctx context.Context, tx *entities.Transaction, history []*entities.Transaction) (*ports.FraudAssessment, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.DetectFraud(ctx, tx, history)
	})
	if err != nil {
		return nil, err
	}
	return res.(*ports.FraudAssessment), nil
}

func (g *GuardedAdvisor) OptimizeResources(ctx context.Context, agent *entities.AgentState) (*ports.ResourcePlan, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.OptimizeResources(ctx, agent)
	})
	if err != nil {
		return nil, err
	}
	return res.(*ports.ResourcePlan), nil
}

func (g *GuardedAdvisor) AssessSupplier(ctx context.Context, supplier string, history []*entities.Transaction) (*ports.SupplierAssessment, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.AssessSupplier(ctx, supplier, history)
	})
	if err != nil {
		return nil, err
	}
	return res.(*ports.SupplierAssessment), nil
}

// GuardedSanctions wraps a SanctionsOracle behind a breaker. An open breaker
// surfaces as SanctionsPending, which the KYA layer treats as not cleared.
type GuardedSanctions struct {
	inner ports.SanctionsOracle
	cb    *CircuitBreaker
}

func NewGuardedSanctions(inner ports.SanctionsOracle, cb *CircuitBreaker) *GuardedSanctions {
	return &GuardedSanctions{inner: inner, cb: cb}
}

func (g *GuardedSanctions) Check(ctx context.Context, subject string) (entities.SanctionsStatus, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		status, err := g.inner.Check(ctx, subject)
		if err != nil {
			return nil, err
		}
		return status, nil
	})
	if err != nil {
		return entities.SanctionsPending, err
	}
	return res.(entities.SanctionsStatus), nil
}

// GuardedLedger wraps a LedgerConnector behind a breaker. Only the calls
// that reach the chain are guarded; local reads pass through.
type GuardedLedger struct {
	inner ports.LedgerConnector
	cb    *CircuitBreaker
}

func NewGuardedLedger(inner ports.LedgerConnector, cb *CircuitBreaker) *GuardedLedger {
	return &GuardedLedger{inner: inner, cb: cb}
}

func (g *GuardedLedger) CreateWallet(ctx context.Context, agentID string) (string, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.CreateWallet(ctx, agentID)
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

func (g *GuardedLedger) GetBalance(ctx context.Context, wallet string) (decimal.Decimal, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		bal, err := g.inner.GetBalance(ctx, wallet)
		if err != nil {
			return nil, err
		}
		return bal, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return res.(decimal.Decimal), nil
}

func (g *GuardedLedger) SendTransaction(ctx context.Context, tx *entities.Transaction) (*ports.TxReceipt, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.SendTransaction(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	return res.(*ports.TxReceipt), nil
}

func (g *GuardedLedger) EstimateGas(ctx context.Context, tx *entities.Transaction) (uint64, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.EstimateGas(ctx, tx)
	})
	if err != nil {
		return 0, err
	}
	return res.(uint64), nil
}

func (g *GuardedLedger) Deposit(ctx context.Context, wallet, token string, amount decimal.Decimal) (*ports.YieldPosition, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.Deposit(ctx, wallet, token, amount)
	})
	if err != nil {
		return nil, err
	}
	return res.(*ports.YieldPosition), nil
}

func (g *GuardedLedger) Withdraw(ctx context.Context, wallet, token string, amount decimal.Decimal) (decimal.Decimal, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		out, err := g.inner.Withdraw(ctx, wallet, token, amount)
		if err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return res.(decimal.Decimal), nil
}

func (g *GuardedLedger) GetAPY(token string) float64 { return g.inner.GetAPY(token) }

func (g *GuardedLedger) NetworkCongestion() float64 { return g.inner.NetworkCongestion() }

func (g *GuardedLedger) ChainID() uint64 { return g.inner.ChainID() }
