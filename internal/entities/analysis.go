package entities

import "time"

// Role identifies one of the four syndicate divisions. Division votes are
// keyed by the uppercase role string everywhere, including serialization.
type Role string

const (
	RoleFrontOffice    Role = "FRONT_OFFICE"
	RoleRiskCompliance Role = "RISK_COMPLIANCE"
	RoleTreasury       Role = "TREASURY"
	RoleClearing       Role = "CLEARING"

	// RoleSystem tags synthetic blockers produced by the coordinator
	// itself (cancellation, settlement failure, recovered panics).
	RoleSystem Role = "SYSTEM"
)

// VoteOrder is the stable order division votes are collected and serialized in.
var VoteOrder = []Role{RoleFrontOffice, RoleRiskCompliance, RoleTreasury, RoleClearing}

// Decision is a division's verdict on a transaction.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionAdjust  Decision = "adjust"
)

// DivisionAnalysis is the output of one division's Analyze call.
type DivisionAnalysis struct {
	AgentRole          Role                   `json:"agent_role"`
	Decision           Decision               `json:"decision"`
	RiskScore          float64                `json:"risk_score"`
	Reasoning          string                 `json:"reasoning"`
	RecommendedActions []string               `json:"recommended_actions,omitempty"`
	Alerts             []string               `json:"alerts,omitempty"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
	Timestamp          time.Time              `json:"timestamp"`
}

// ActionResult is the outcome of a division Execute call (onboard, deposit,
// withdraw, execute, rebalance).
type ActionResult struct {
	Success  bool                   `json:"success"`
	Action   string                 `json:"action"`
	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Consensus is the coordinator's terminal verdict.
type Consensus string

const (
	ConsensusApproved Consensus = "APPROVED"
	ConsensusBlocked  Consensus = "BLOCKED"
	ConsensusAdjusted Consensus = "ADJUSTED"
	ConsensusFailed   Consensus = "FAILED"
)

// TransactionEvaluation aggregates the division votes and the final verdict
// for one transaction.
type TransactionEvaluation struct {
	Transaction   *Transaction               `json:"transaction"`
	DivisionVotes map[Role]*DivisionAnalysis `json:"division_votes"`
	Consensus     Consensus                  `json:"consensus"`
	Blockers      []*DivisionAnalysis        `json:"blockers,omitempty"`
	FinalRisk     float64                    `json:"final_risk_score"`
	ExecutionTime time.Duration              `json:"execution_time"`
}

// MeanRisk averages the division risk scores in vote order. Zero when no
// division has voted yet.
func (e *TransactionEvaluation) MeanRisk() float64 {
	if len(e.DivisionVotes) == 0 {
		return 0
	}
	var sum float64
	var n int
	for _, role := range VoteOrder {
		if a, ok := e.DivisionVotes[role]; ok {
			sum += a.RiskScore
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
