package protocol

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/agentbank/syndicate/internal/entities"
)

// Fraud probability boundaries for layer 4.
const (
	fraudRejectAt = 0.7
	fraudReviewAt = 0.4
)

// minSettlementAmount is the 1-cent USDC floor for layer 5.
var minSettlementAmount = decimal.NewFromFloat(0.01)

// consensus is layer 3: all four divisions must approve. Any reject wins;
// adjust without rejects means review.
func (p *Protocol) consensus(votes map[entities.Role]*entities.DivisionAnalysis) *entities.LayerResult {
	if len(votes) == 0 {
		return &entities.LayerResult{
			Status: entities.LayerRejected,
			Reason: "no division votes collected",
		}
	}

	var riskSum float64
	var adjusts, rejects int
	var rejectReason string
	for _, role := range entities.VoteOrder {
		vote, ok := votes[role]
		if !ok {
			continue
		}
		riskSum += vote.RiskScore
		switch vote.Decision {
		case entities.DecisionReject:
			rejects++
			if rejectReason == "" {
				rejectReason = fmt.Sprintf("%s: %s", role, vote.Reasoning)
			}
		case entities.DecisionAdjust:
			adjusts++
		}
	}

	details := map[string]interface{}{
		"mean_risk": riskSum / float64(len(votes)),
		"votes":     len(votes),
	}

	switch {
	case rejects > 0:
		return &entities.LayerResult{Status: entities.LayerRejected, Reason: rejectReason, Details: details}
	case adjusts > 0:
		return &entities.LayerResult{
			Status:  entities.LayerReview,
			Reason:  fmt.Sprintf("%d division(s) requested adjustment", adjusts),
			Details: details,
		}
	default:
		return &entities.LayerResult{Status: entities.LayerApproved, Details: details}
	}
}

// fraudScore is layer 4: AI fraud probability over the agent's recent
// history. Advisor failures fall back to rule scoring without rejecting.
func (p *Protocol) fraudScore(ctx context.Context, tx *entities.Transaction) *entities.LayerResult {
	history := p.scoring.History(tx.AgentID)
	if len(history) > 20 {
		history = history[len(history)-20:]
	}

	assessment, err := p.detectFraud(ctx, tx, history)
	details := map[string]interface{}{
		"fraud_probability": assessment.Probability,
		"severity":          assessment.Severity,
	}
	if err != nil {
		details["advisor_fallback"] = true
	}

	switch {
	case assessment.Probability >= fraudRejectAt:
		p.scoring.RecordFraudIncident(tx.AgentID)
		return &entities.LayerResult{
			Status:  entities.LayerRejected,
			Reason:  fmt.Sprintf("fraud probability %.2f at or above %.2f", assessment.Probability, fraudRejectAt),
			Details: details,
		}
	case assessment.Probability >= fraudReviewAt:
		return &entities.LayerResult{
			Status:  entities.LayerReview,
			Reason:  fmt.Sprintf("fraud probability %.2f flagged for review", assessment.Probability),
			Details: details,
		}
	default:
		return &entities.LayerResult{Status: entities.LayerApproved, Details: details}
	}
}

func (p *Protocol) detectFraud(ctx context.Context, tx *entities.Transaction, history []*entities.Transaction) (*fraudResult, error) {
	var advErr error
	if p.advisor != nil {
		a, err := p.advisor.DetectFraud(ctx, tx, history)
		if err == nil {
			return &fraudResult{Probability: a.Probability, Severity: a.Severity}, nil
		}
		advErr = err
	}
	a, _ := p.rules.DetectFraud(ctx, tx, history)
	return &fraudResult{Probability: a.Probability, Severity: a.Severity}, advErr
}

type fraudResult struct {
	Probability float64
	Severity    string
}

// settlementCheck is layer 5: wallet format, minimum amount, gas cap and
// chain id.
func (p *Protocol) settlementCheck(tx *entities.Transaction, agent *entities.AgentState) *entities.LayerResult {
	if agent == nil || !isWalletAddress(agent.WalletAddress) {
		return &entities.LayerResult{
			Status: entities.LayerRejected,
			Reason: "wallet address is not a 0x-prefixed 40-hex string",
		}
	}

	if tx.Amount.LessThan(minSettlementAmount) {
		return &entities.LayerResult{
			Status: entities.LayerRejected,
			Reason: fmt.Sprintf("amount %s below 0.01 USDC minimum", tx.Amount.String()),
		}
	}

	if tx.GasEstimate > p.cfg.Clearing.MaxGasLimit {
		return &entities.LayerResult{
			Status: entities.LayerRejected,
			Reason: fmt.Sprintf("gas estimate %d exceeds cap %d", tx.GasEstimate, p.cfg.Clearing.MaxGasLimit),
		}
	}

	if chain := p.ledger.ChainID(); chain != p.cfg.Clearing.ChainID {
		return &entities.LayerResult{
			Status: entities.LayerRejected,
			Reason: fmt.Sprintf("ledger chain id %d does not match configured %d", chain, p.cfg.Clearing.ChainID),
		}
	}

	return &entities.LayerResult{Status: entities.LayerApproved}
}

// complianceAudit is layer 6: categorical compliance flags plus an audit
// score of 100 minus 20 per missing slot. It never blocks.
func (p *Protocol) complianceAudit(agentID string) *entities.LayerResult {
	rec := p.KYARecord(agentID)

	flags := map[string]bool{
		"kyc_present":          rec != nil,
		"aml_acceptable":       rec != nil && rec.AMLScore >= amlRejectBelow,
		"sanctions_cleared":    rec != nil && rec.SanctionsCheck == entities.SanctionsCleared,
		"pep_clear":            true,
		"jurisdiction_allowed": rec != nil && rec.Jurisdiction != "",
	}

	score := 100.0
	for _, ok := range flags {
		if !ok {
			score -= 20
		}
	}

	details := map[string]interface{}{"audit_score": score}
	for name, ok := range flags {
		details[name] = ok
	}

	return &entities.LayerResult{Layer: entities.LayerCompliance, Status: entities.LayerApproved, Details: details}
}

// isWalletAddress accepts 0x-prefixed 40-hex addresses, either case.
func isWalletAddress(s string) bool {
	if len(s) != 42 || s[0] != '0' || s[1] != 'x' {
		return false
	}
	for _, c := range s[2:] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
