package syndicate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentbank/syndicate/internal/divisions"
	"github.com/agentbank/syndicate/internal/entities"
	"github.com/agentbank/syndicate/internal/events"
	"github.com/agentbank/syndicate/internal/protocol"
)

// ProcessTransaction runs a transaction through the full staged pipeline:
// division analyses in vote order, the six-layer validation protocol, then
// treasury withdrawal, clearing settlement and post-trade bookkeeping.
//
// Side effects only happen once every division approved and the protocol
// passed; a BLOCKED or ADJUSTED outcome leaves balances and counters
// untouched.
func (s *Syndicate) ProcessTransaction(ctx context.Context, tx *entities.Transaction) (*entities.TransactionEvaluation, error) {
	return s.process(ctx, tx, false)
}

// ProcessAgenticCommerceTransaction is the pipeline entry used by the
// commerce module. skipConsensus bypasses the validation protocol for
// transactions that already passed an autonomous cross-agent vote.
func (s *Syndicate) ProcessAgenticCommerceTransaction(ctx context.Context, tx *entities.Transaction, skipConsensus bool) (*entities.TransactionEvaluation, error) {
	return s.process(ctx, tx, skipConsensus)
}

func (s *Syndicate) process(ctx context.Context, tx *entities.Transaction, skipProtocol bool) (eval *entities.TransactionEvaluation, err error) {
	if _, ok := ctx.Deadline(); !ok && s.cfg.Protocol.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Protocol.Deadline)
		defer cancel()
	}

	lock := s.registry.Lock(tx.AgentID)
	lock.Lock()
	defer lock.Unlock()

	agent := s.registry.live(tx.AgentID)
	if agent == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, tx.AgentID)
	}

	start := time.Now()
	eval = &entities.TransactionEvaluation{
		Transaction:   tx,
		DivisionVotes: make(map[entities.Role]*entities.DivisionAnalysis),
	}

	// Logs, scoring history and events are recorded whatever the outcome.
	defer func() { s.finish(ctx, eval, agent, start) }()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("Recovered panic processing %s: %v", tx.TxID, r)
			if s.meters != nil {
				s.meters.PanicRecoveries.Inc()
			}
			tx.State = entities.StateFailed
			eval.Consensus = entities.ConsensusFailed
			eval.Blockers = append(eval.Blockers, systemBlocker(fmt.Sprintf("internal failure: %v", r), s.clock.Now()))
			err = fmt.Errorf("%w: %v", ErrInternal, r)
		}
	}()

	if tx.Type == entities.TxMicropayment && tx.Amount.LessThan(s.microThreshold()) {
		return s.fastTrack(eval, tx, agent)
	}

	tx.State = entities.StateAnalyzing

	// S1..S4: division analyses in stable vote order, short-circuit on reject.
	for _, div := range s.pipeline {
		if ctxErr := ctx.Err(); ctxErr != nil {
			tx.State = entities.StateFailed
			eval.Consensus = entities.ConsensusFailed
			eval.Blockers = append(eval.Blockers, systemBlocker("cancelled", s.clock.Now()))
			return eval, fmt.Errorf("%w: %v", ErrCancelled, ctxErr)
		}

		analysis, stageErr := s.analyzeStage(ctx, div, tx, agent)
		if stageErr != nil {
			tx.State = entities.StateFailed
			eval.Consensus = entities.ConsensusFailed
			eval.Blockers = append(eval.Blockers, systemBlocker(stageErr.Error(), s.clock.Now()))
			return eval, fmt.Errorf("%w: %v", ErrCancelled, stageErr)
		}
		eval.DivisionVotes[div.Role()] = analysis
		if s.meters != nil {
			s.meters.RecordDivision(string(div.Role()), string(analysis.Decision))
		}

		if analysis.Decision == entities.DecisionReject {
			tx.State = entities.StateRejected
			eval.Consensus = entities.ConsensusBlocked
			eval.Blockers = append(eval.Blockers, analysis)
			return eval, blockError(analysis)
		}
	}

	// Validation protocol over the collected votes.
	if !skipProtocol {
		hadCert := s.protocol.GetAgentCertificate(tx.AgentID) != nil
		approved, trail := s.protocol.ValidateFullTransaction(ctx, tx, agent, eval.DivisionVotes)
		if perr := s.persist.SaveAuditTrail(ctx, trail); perr != nil {
			s.logger.Printf("Persist audit trail %s failed: %v", tx.TxID, perr)
		}
		if cert := s.protocol.GetAgentCertificate(tx.AgentID); cert != nil {
			if perr := s.persist.SaveCertificate(ctx, cert); perr != nil {
				s.logger.Printf("Persist certificate for %s failed: %v", tx.AgentID, perr)
			}
			if !hadCert {
				s.emitter.Emit(events.TypeCertificateIssued, tx.AgentID, map[string]interface{}{
					"agent_id":   cert.AgentID,
					"tier":       string(cert.Tier),
					"expires_at": cert.ExpiryDate,
				})
			}
		}
		if res, ok := trail.Layers[entities.LayerAIFraud]; ok && res.Status == entities.LayerRejected {
			severity, _ := res.Details["severity"].(string)
			if severity == "" {
				severity = "high"
			}
			if s.meters != nil {
				s.meters.FraudDetections.WithLabelValues(severity).Inc()
			}
			s.emitter.Emit(events.TypeFraudDetected, tx.TxID, map[string]interface{}{
				"tx_id":    tx.TxID,
				"agent_id": tx.AgentID,
				"severity": severity,
				"reason":   res.Reason,
			})
		}
		if !approved {
			layer := protocol.RejectedLayer(trail)
			if s.meters != nil {
				s.meters.RecordValidationReject(layer)
			}
			tx.State = entities.StateRejected
			eval.Consensus = entities.ConsensusBlocked
			reason := fmt.Sprintf("validation protocol rejected at %s", layer)
			if res, ok := trail.Layers[layer]; ok && res.Reason != "" {
				reason = fmt.Sprintf("%s: %s", reason, res.Reason)
			}
			eval.Blockers = append(eval.Blockers, systemBlocker(reason, s.clock.Now()))
			return eval, fmt.Errorf("%w: %s", ErrValidationBlocked, reason)
		}
	}

	// Adjust votes stop short of settlement; the analyses that asked for
	// adjustment surface as the evaluation's blockers.
	var adjusts []*entities.DivisionAnalysis
	for _, role := range entities.VoteOrder {
		if vote, ok := eval.DivisionVotes[role]; ok && vote.Decision == entities.DecisionAdjust {
			adjusts = append(adjusts, vote)
		}
	}
	if len(adjusts) > 0 {
		tx.State = entities.StateRejected
		eval.Consensus = entities.ConsensusAdjusted
		eval.Blockers = append(eval.Blockers, adjusts...)
		return eval, nil
	}

	tx.State = entities.StateApproved

	// S3.5: treasury withdrawal when the liquid balance cannot cover alone.
	if treasuryVote := eval.DivisionVotes[entities.RoleTreasury]; treasuryVote != nil {
		if needed, _ := treasuryVote.Metadata["withdrawal_needed"].(bool); needed {
			amount, _ := treasuryVote.Metadata["withdrawal_amount"].(string)
			if _, werr := s.treasury.Execute(ctx, tx, agent, "withdraw", map[string]interface{}{"amount": amount}); werr != nil {
				tx.State = entities.StateFailed
				eval.Consensus = entities.ConsensusFailed
				eval.Blockers = append(eval.Blockers, systemBlocker(fmt.Sprintf("treasury withdrawal failed: %v", werr), s.clock.Now()))
				s.recordFailure(agent)
				return eval, fmt.Errorf("%w: %v", ErrSettlementFailed, werr)
			}
		}
	}

	// S4.5: clearing settlement against the ledger.
	if _, cerr := s.clearing.Execute(ctx, tx, agent, "execute", nil); cerr != nil {
		tx.State = entities.StateFailed
		eval.Consensus = entities.ConsensusFailed
		eval.Blockers = append(eval.Blockers, systemBlocker(fmt.Sprintf("settlement failed: %v", cerr), s.clock.Now()))
		s.recordFailure(agent)
		return eval, fmt.Errorf("%w: %v", ErrSettlementFailed, cerr)
	}

	// S5: post-trade bookkeeping.
	s.postTrade(agent, tx)
	eval.Consensus = entities.ConsensusApproved
	return eval, nil
}

// analyzeStage runs one division analysis under the per-stage timeout. A
// division that stalls fails the transaction instead of holding the agent
// lock until the global deadline.
func (s *Syndicate) analyzeStage(ctx context.Context, div divisions.Division, tx *entities.Transaction, agent *entities.AgentState) (*entities.DivisionAnalysis, error) {
	timeout := s.cfg.Protocol.StageTimeout
	if timeout <= 0 {
		return div.Analyze(ctx, tx, agent), nil
	}

	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan *entities.DivisionAnalysis, 1)
	go func() { done <- div.Analyze(stageCtx, tx, agent) }()

	select {
	case analysis := <-done:
		return analysis, nil
	case <-stageCtx.Done():
		return nil, fmt.Errorf("%s analysis timed out after %s: %v", div.Role(), timeout, stageCtx.Err())
	}
}

// fastTrack settles sub-threshold micropayments with a solvency check only:
// no division analyses, no protocol, synthetic settlement stamp.
func (s *Syndicate) fastTrack(eval *entities.TransactionEvaluation, tx *entities.Transaction, agent *entities.AgentState) (*entities.TransactionEvaluation, error) {
	if tx.Amount.GreaterThan(agent.AvailableBalance) {
		tx.State = entities.StateRejected
		eval.Consensus = entities.ConsensusBlocked
		blocker := systemBlocker(fmt.Sprintf("Insufficient funds: amount %s exceeds available balance %s",
			tx.Amount.StringFixed(6), agent.AvailableBalance.StringFixed(6)), s.clock.Now())
		eval.Blockers = append(eval.Blockers, blocker)
		return eval, blockError(blocker)
	}

	sum := sha256.Sum256([]byte("fast-track|" + tx.TxID + "|" + s.clock.NewUUID()))
	tx.TxHash = "0x" + hex.EncodeToString(sum[:])
	tx.BlockNumber = uint64(s.clock.Now().Unix())
	tx.GasUsed = 21000
	tx.State = entities.StateCompleted

	s.postTrade(agent, tx)
	eval.Consensus = entities.ConsensusApproved
	if s.meters != nil {
		s.meters.FastTrackTotal.Inc()
	}
	return eval, nil
}

// postTrade applies the S5 updates under the per-agent lock: counters,
// balance debit, credit limit and reputation refresh. It never re-raises.
func (s *Syndicate) postTrade(agent *entities.AgentState, tx *entities.Transaction) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("Post-trade bookkeeping for %s failed: %v", tx.TxID, r)
		}
	}()

	agent.TotalTransactions++
	agent.SuccessfulTransactions++
	agent.AvailableBalance = entities.USDC(agent.AvailableBalance.Sub(tx.Amount))
	agent.TotalSpent = agent.TotalSpent.Add(tx.Amount)
	agent.LastTransaction = s.clock.Now()

	s.scoring.RefreshLimit(agent, tx)
	s.scoring.RefreshReputation(agent)
}

// recordFailure marks a settlement attempt that failed after approval.
func (s *Syndicate) recordFailure(agent *entities.AgentState) {
	agent.TotalTransactions++
	agent.FailedTransactions++
}

// finish appends the transaction and evaluation to the logs, feeds the
// scoring history, persists and emits — guaranteed for every outcome.
func (s *Syndicate) finish(ctx context.Context, eval *entities.TransactionEvaluation, agent *entities.AgentState, start time.Time) {
	tx := eval.Transaction
	eval.FinalRisk = eval.MeanRisk()
	eval.ExecutionTime = time.Since(start)
	tx.RiskScore = eval.FinalRisk

	s.logMu.Lock()
	s.transactions = append(s.transactions, tx)
	s.evaluations = append(s.evaluations, eval)
	s.byType[tx.Type]++
	s.byConsensus[eval.Consensus]++
	s.logMu.Unlock()

	s.scoring.RecordTransaction(tx.AgentID, tx)

	if perr := s.persist.SaveTransaction(ctx, tx); perr != nil {
		s.logger.Printf("Persist transaction %s failed: %v", tx.TxID, perr)
	}
	if perr := s.persist.SaveEvaluation(ctx, eval); perr != nil {
		s.logger.Printf("Persist evaluation %s failed: %v", tx.TxID, perr)
	}
	if perr := s.persist.SaveAgentState(ctx, agent); perr != nil {
		s.logger.Printf("Persist agent %s failed: %v", agent.AgentID, perr)
	}

	eventType := events.TypeTransactionCompleted
	switch eval.Consensus {
	case entities.ConsensusBlocked, entities.ConsensusAdjusted:
		eventType = events.TypeTransactionBlocked
	case entities.ConsensusFailed:
		eventType = events.TypeTransactionFailed
	}
	s.emitter.Emit(eventType, tx.TxID, map[string]interface{}{
		"tx_id":     tx.TxID,
		"agent_id":  tx.AgentID,
		"tx_type":   string(tx.Type),
		"amount":    tx.Amount.String(),
		"consensus": string(eval.Consensus),
		"risk":      eval.FinalRisk,
	})

	if s.meters != nil {
		amount, _ := tx.Amount.Float64()
		s.meters.RecordTransaction(string(tx.Type), string(eval.Consensus), amount, eval.ExecutionTime.Seconds())
	}
	s.updateAgentGauges(agent)
}

// systemBlocker builds the synthetic analysis attached when the pipeline
// itself (not a division) stops a transaction.
func systemBlocker(reason string, at time.Time) *entities.DivisionAnalysis {
	return &entities.DivisionAnalysis{
		AgentRole: entities.RoleSystem,
		Decision:  entities.DecisionReject,
		RiskScore: 1.0,
		Reasoning: reason,
		Timestamp: at,
	}
}

// blockError maps a blocking analysis to the sentinel error family.
func blockError(analysis *entities.DivisionAnalysis) error {
	reason := analysis.Reasoning
	kind := ErrValidationBlocked
	switch {
	case strings.Contains(reason, "Insufficient funds"), strings.Contains(reason, "insufficient"):
		kind = errors.Join(ErrValidationBlocked, ErrInsufficientFunds)
	case strings.Contains(reason, "Credit limit"):
		kind = errors.Join(ErrValidationBlocked, ErrCreditLimitExceeded)
	case strings.Contains(reason, "blacklist"):
		kind = errors.Join(ErrValidationBlocked, ErrBlacklisted)
	}
	return fmt.Errorf("%w: %s", kind, reason)
}

func (s *Syndicate) microThreshold() decimal.Decimal {
	return decimal.NewFromFloat(s.cfg.Commerce.MicropaymentThreshold)
}
