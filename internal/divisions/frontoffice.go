package divisions

import (
	"context"
	"fmt"
	"log"

	"github.com/agentbank/syndicate/internal/entities"
	"github.com/agentbank/syndicate/internal/ports"
)

// AgentDirectory answers membership lookups. The coordinator's agent
// registry satisfies it; front-office never holds agent state itself.
type AgentDirectory interface {
	IsOnboarded(agentID string) bool
}

// FrontOffice validates client-facing basics: the agent is onboarded, has a
// wallet, and the transaction names a supplier.
type FrontOffice struct {
	healthTracker

	directory AgentDirectory
	ledger    ports.LedgerConnector
	clock     ports.Clock
	logger    *log.Logger
}

// NewFrontOffice creates the front-office division.
func NewFrontOffice(directory AgentDirectory, ledger ports.LedgerConnector, clock ports.Clock) *FrontOffice {
	return &FrontOffice{
		directory: directory,
		ledger:    ledger,
		clock:     clock,
		logger:    log.New(log.Writer(), "[FrontOffice] ", log.LstdFlags),
	}
}

func (fo *FrontOffice) Role() entities.Role { return entities.RoleFrontOffice }

func (fo *FrontOffice) Analyze(ctx context.Context, tx *entities.Transaction, agent *entities.AgentState) *entities.DivisionAnalysis {
	now := fo.clock.Now()
	analysis := &entities.DivisionAnalysis{
		AgentRole: entities.RoleFrontOffice,
		Timestamp: now,
		Metadata:  map[string]interface{}{},
	}

	if agent == nil || agent.WalletAddress == "" {
		analysis.Decision = entities.DecisionReject
		analysis.RiskScore = 1.0
		analysis.Reasoning = "agent has no wallet address"
		fo.observe(analysis.Decision, now)
		return analysis
	}

	if tx.Supplier == "" {
		analysis.Decision = entities.DecisionReject
		analysis.RiskScore = 1.0
		analysis.Reasoning = "transaction has no supplier"
		fo.observe(analysis.Decision, now)
		return analysis
	}

	var risk float64
	if !fo.directory.IsOnboarded(tx.AgentID) {
		risk += 0.3
		analysis.Alerts = append(analysis.Alerts, "agent not found in onboarding registry")
	}
	if tx.Description == "" {
		risk += 0.1
		analysis.Alerts = append(analysis.Alerts, "missing transaction description")
	}

	analysis.RiskScore = risk
	if risk < 0.3 {
		analysis.Decision = entities.DecisionApprove
		analysis.Reasoning = "client checks passed"
	} else {
		analysis.Decision = entities.DecisionAdjust
		analysis.Reasoning = "client checks raised concerns"
		analysis.RecommendedActions = append(analysis.RecommendedActions, "verify agent onboarding record")
	}

	fo.observe(analysis.Decision, now)
	return analysis
}

// Execute handles the "onboard" action: creates a wallet and returns the
// address in the result metadata. The coordinator builds the AgentState.
func (fo *FrontOffice) Execute(ctx context.Context, tx *entities.Transaction, agent *entities.AgentState, action string, params map[string]interface{}) (*entities.ActionResult, error) {
	switch action {
	case "onboard":
		agentID, _ := params["agent_id"].(string)
		if agentID == "" {
			return nil, fmt.Errorf("onboard requires agent_id")
		}
		wallet, err := fo.ledger.CreateWallet(ctx, agentID)
		if err != nil {
			fo.observeFailure()
			return nil, fmt.Errorf("wallet creation failed: %w", err)
		}
		fo.logger.Printf("Onboarded agent %s with wallet %s", agentID, wallet)
		return &entities.ActionResult{
			Success: true,
			Action:  action,
			Message: "agent onboarded",
			Metadata: map[string]interface{}{
				"agent_id":       agentID,
				"wallet_address": wallet,
			},
		}, nil
	default:
		return nil, fmt.Errorf("front-office does not support action %q", action)
	}
}

func (fo *FrontOffice) GetHealth() Health { return fo.health(entities.RoleFrontOffice) }
