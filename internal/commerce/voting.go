package commerce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentbank/syndicate/internal/entities"
)

// VoteCaster obtains one agent's vote on a transaction. The default is a
// deterministic simulator; a real adapter can message live agents.
type VoteCaster interface {
	CastVote(ctx context.Context, voterID string, tx *entities.Transaction) (*entities.ConsensusVote, error)
}

// conservativeRejectAbove is the amount above which conservative voters
// reject in the simulator.
var conservativeRejectAbove = decimal.NewFromInt(500)

// SimulatedVoteCaster is the deterministic default voter: approve with
// steady confidence, except voters named conservative, which reject
// amounts above 500.
type SimulatedVoteCaster struct{}

func (SimulatedVoteCaster) CastVote(ctx context.Context, voterID string, tx *entities.Transaction) (*entities.ConsensusVote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vote := &entities.ConsensusVote{
		VoterAgentID: voterID,
		Vote:         entities.VoteApprove,
		Confidence:   0.8,
		Reasoning:    "amount within acceptable range",
		Timestamp:    time.Now(),
	}
	if strings.Contains(strings.ToLower(voterID), "conservative") {
		if tx.Amount.GreaterThan(conservativeRejectAbove) {
			vote.Vote = entities.VoteReject
			vote.Confidence = 0.9
			vote.Reasoning = fmt.Sprintf("amount %s exceeds conservative limit %s",
				tx.Amount.StringFixed(2), conservativeRejectAbove.String())
		} else {
			vote.Confidence = 0.6
			vote.Reasoning = "amount within conservative limit"
		}
	}
	return vote, nil
}

// RequestAutonomousApproval collects votes from the named agents within
// the timeout and approves iff approvals/total >= the consensus threshold.
func (a *Aggregator) RequestAutonomousApproval(ctx context.Context, tx *entities.Transaction, voterIDs []string, timeout time.Duration) (bool, []*entities.ConsensusVote, error) {
	if len(voterIDs) == 0 {
		return false, nil, fmt.Errorf("no voters supplied")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	votes := make([]*entities.ConsensusVote, 0, len(voterIDs))
	for _, voterID := range voterIDs {
		if ctx.Err() != nil {
			break
		}
		vote, err := a.caster.CastVote(ctx, voterID, tx)
		if err != nil {
			a.logger.Printf("Vote from %s failed: %v", voterID, err)
			continue
		}
		if vote.Timestamp.IsZero() {
			vote.Timestamp = a.clock.Now()
		}
		votes = append(votes, vote)
	}

	if len(votes) == 0 {
		return false, votes, fmt.Errorf("no votes collected before timeout")
	}

	approvals := 0
	for _, v := range votes {
		if v.Vote == entities.VoteApprove {
			approvals++
		}
	}
	ratio := float64(approvals) / float64(len(votes))
	approved := ratio >= a.cfg.ConsensusThreshold

	a.logger.Printf("Autonomous vote on %s: %d/%d approved (%.2f, threshold %.2f)",
		tx.TxID, approvals, len(votes), ratio, a.cfg.ConsensusThreshold)
	return approved, votes, nil
}
