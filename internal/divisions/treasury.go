package divisions

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/agentbank/syndicate/internal/config"
	"github.com/agentbank/syndicate/internal/entities"
	"github.com/agentbank/syndicate/internal/ports"
)

// Treasury manages liquidity: it decides whether a transaction needs a
// withdrawal from the yield position and executes deposits, withdrawals and
// rebalances against the ledger. Balance mutations happen under the
// coordinator's per-agent lock.
type Treasury struct {
	healthTracker

	cfg     config.TreasuryConfig
	advisor ports.AIAdvisor
	rules   *ports.RuleAdvisor
	ledger  ports.LedgerConnector
	clock   ports.Clock
	logger  *log.Logger
}

// NewTreasury creates the treasury division. A nil advisor means rebalance
// targets come from the rule-based resource planner only.
func NewTreasury(cfg config.TreasuryConfig, advisor ports.AIAdvisor, ledger ports.LedgerConnector, clock ports.Clock) *Treasury {
	if cfg.AllocationPercent <= 0 || cfg.AllocationPercent > 1 {
		cfg.AllocationPercent = 0.80
	}
	if cfg.YieldToken == "" {
		cfg.YieldToken = "USDC"
	}
	return &Treasury{
		cfg:     cfg,
		advisor: advisor,
		rules:   ports.NewRuleAdvisor(),
		ledger:  ledger,
		clock:   clock,
		logger:  log.New(log.Writer(), "[Treasury] ", log.LstdFlags),
	}
}

func (t *Treasury) Role() entities.Role { return entities.RoleTreasury }

func (t *Treasury) Analyze(ctx context.Context, tx *entities.Transaction, agent *entities.AgentState) *entities.DivisionAnalysis {
	now := t.clock.Now()
	analysis := &entities.DivisionAnalysis{
		AgentRole: entities.RoleTreasury,
		Timestamp: now,
		Metadata:  map[string]interface{}{},
	}

	switch {
	case agent.AvailableBalance.GreaterThanOrEqual(tx.Amount):
		analysis.Decision = entities.DecisionApprove
		analysis.Reasoning = "available balance covers the amount"
		analysis.Metadata["withdrawal_needed"] = false

	case agent.TotalBalance().GreaterThanOrEqual(tx.Amount):
		withdrawal := tx.Amount.Sub(agent.AvailableBalance)
		analysis.Decision = entities.DecisionApprove
		analysis.Reasoning = fmt.Sprintf("requires withdrawal of %s from yield position", withdrawal.StringFixed(2))
		analysis.Metadata["withdrawal_needed"] = true
		analysis.Metadata["withdrawal_amount"] = withdrawal.String()

		postInvested := agent.InvestedBalance.Sub(withdrawal)
		if postInvested.LessThan(agent.AvailableBalance.Div(decimal.NewFromInt(2))) {
			analysis.RiskScore = 0.2
			analysis.Alerts = append(analysis.Alerts, "withdrawal depletes yield reserve below half of liquid balance")
		}

	default:
		analysis.Decision = entities.DecisionReject
		analysis.RiskScore = 1.0
		analysis.Reasoning = fmt.Sprintf("total balance insufficient: %s available across positions, %s requested",
			agent.TotalBalance().StringFixed(2), tx.Amount.StringFixed(2))
	}

	t.observe(analysis.Decision, now)
	return analysis
}

func (t *Treasury) Execute(ctx context.Context, tx *entities.Transaction, agent *entities.AgentState, action string, params map[string]interface{}) (*entities.ActionResult, error) {
	switch action {
	case "deposit":
		return t.executeDeposit(ctx, agent)
	case "withdraw":
		amount, err := amountParam(params)
		if err != nil {
			return nil, err
		}
		return t.executeWithdraw(ctx, agent, amount)
	case "rebalance":
		return t.executeRebalance(ctx, agent)
	default:
		return nil, fmt.Errorf("treasury does not support action %q", action)
	}
}

// executeDeposit moves AllocationPercent of the available balance into the
// yield position. Both balances update together or not at all.
func (t *Treasury) executeDeposit(ctx context.Context, agent *entities.AgentState) (*entities.ActionResult, error) {
	amount := entities.USDC(agent.AvailableBalance.Mul(decimal.NewFromFloat(t.cfg.AllocationPercent)))
	if amount.LessThanOrEqual(decimal.Zero) {
		return &entities.ActionResult{Success: true, Action: "deposit", Message: "nothing to deposit"}, nil
	}

	if _, err := t.ledger.Deposit(ctx, agent.WalletAddress, t.cfg.YieldToken, amount); err != nil {
		t.observeFailure()
		return nil, fmt.Errorf("yield deposit failed: %w", err)
	}

	agent.AvailableBalance = agent.AvailableBalance.Sub(amount)
	agent.InvestedBalance = agent.InvestedBalance.Add(amount)

	t.logger.Printf("Deposited %s %s to yield for agent %s", amount.StringFixed(2), t.cfg.YieldToken, agent.AgentID)
	return &entities.ActionResult{
		Success: true,
		Action:  "deposit",
		Message: "funds moved to yield position",
		Metadata: map[string]interface{}{
			"amount": amount.String(),
			"apy":    t.ledger.GetAPY(t.cfg.YieldToken),
		},
	}, nil
}

// executeWithdraw pulls principal plus accrued yield back to the liquid
// balance.
func (t *Treasury) executeWithdraw(ctx context.Context, agent *entities.AgentState, amount decimal.Decimal) (*entities.ActionResult, error) {
	if amount.GreaterThan(agent.InvestedBalance) {
		return nil, fmt.Errorf("withdrawal %s exceeds invested balance %s",
			amount.StringFixed(2), agent.InvestedBalance.StringFixed(2))
	}

	returned, err := t.ledger.Withdraw(ctx, agent.WalletAddress, t.cfg.YieldToken, amount)
	if err != nil {
		t.observeFailure()
		return nil, fmt.Errorf("yield withdrawal failed: %w", err)
	}

	yield := returned.Sub(amount)
	agent.InvestedBalance = agent.InvestedBalance.Sub(amount)
	agent.AvailableBalance = agent.AvailableBalance.Add(returned)
	agent.TotalEarned = agent.TotalEarned.Add(yield)

	t.logger.Printf("Withdrew %s (+%s yield) for agent %s", amount.StringFixed(2), yield.StringFixed(6), agent.AgentID)
	return &entities.ActionResult{
		Success: true,
		Action:  "withdraw",
		Message: "funds returned from yield position",
		Metadata: map[string]interface{}{
			"principal": amount.String(),
			"yield":     yield.String(),
		},
	}, nil
}

// executeRebalance brings the invested fraction to the advisor's recommended
// target with a single deposit or withdrawal. Plans outside (0, 1] fall back
// to the configured allocation.
func (t *Treasury) executeRebalance(ctx context.Context, agent *entities.AgentState) (*entities.ActionResult, error) {
	total := agent.TotalBalance()
	if total.LessThanOrEqual(decimal.Zero) {
		return &entities.ActionResult{Success: true, Action: "rebalance", Message: "no funds to rebalance"}, nil
	}

	fraction := t.cfg.AllocationPercent
	plan := t.optimize(ctx, agent)
	if plan.TargetInvestedFraction > 0 && plan.TargetInvestedFraction <= 1 {
		fraction = plan.TargetInvestedFraction
	}

	target := entities.USDC(total.Mul(decimal.NewFromFloat(fraction)))
	diff := target.Sub(agent.InvestedBalance)

	switch {
	case diff.IsPositive():
		if _, err := t.ledger.Deposit(ctx, agent.WalletAddress, t.cfg.YieldToken, diff); err != nil {
			t.observeFailure()
			return nil, fmt.Errorf("rebalance deposit failed: %w", err)
		}
		agent.AvailableBalance = agent.AvailableBalance.Sub(diff)
		agent.InvestedBalance = agent.InvestedBalance.Add(diff)
	case diff.IsNegative():
		withdraw := diff.Neg()
		returned, err := t.ledger.Withdraw(ctx, agent.WalletAddress, t.cfg.YieldToken, withdraw)
		if err != nil {
			t.observeFailure()
			return nil, fmt.Errorf("rebalance withdrawal failed: %w", err)
		}
		agent.InvestedBalance = agent.InvestedBalance.Sub(withdraw)
		agent.AvailableBalance = agent.AvailableBalance.Add(returned)
		agent.TotalEarned = agent.TotalEarned.Add(returned.Sub(withdraw))
	}

	return &entities.ActionResult{
		Success: true,
		Action:  "rebalance",
		Message: "portfolio rebalanced to target allocation",
		Metadata: map[string]interface{}{
			"target_invested": target.String(),
			"target_fraction": fraction,
			"moved":           diff.Abs().String(),
			"plan_reasoning":  plan.Reasoning,
		},
	}, nil
}

// optimize consults the advisor for a resource plan; failures recover to the
// rule fallback so an unreachable advisor never breaks a rebalance.
func (t *Treasury) optimize(ctx context.Context, agent *entities.AgentState) *ports.ResourcePlan {
	if t.advisor != nil {
		if plan, err := t.advisor.OptimizeResources(ctx, agent); err == nil {
			return plan
		}
		t.logger.Printf("Resource advisor unreachable for %s, using rule fallback", agent.AgentID)
	}
	plan, _ := t.rules.OptimizeResources(ctx, agent)
	return plan
}

func (t *Treasury) GetHealth() Health { return t.health(entities.RoleTreasury) }

func amountParam(params map[string]interface{}) (decimal.Decimal, error) {
	switch v := params["amount"].(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	default:
		return decimal.Zero, fmt.Errorf("missing or invalid amount parameter")
	}
}
