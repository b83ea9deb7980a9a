package protocol

import (
	"fmt"

	"github.com/agentbank/syndicate/internal/entities"
)

// AML score boundaries for the KYA layer.
const (
	amlRejectBelow = 70.0
	amlReviewBelow = 85.0
)

// verifyKYA is layer 1: identity verification against the stored KYA
// record. Approval issues or refreshes the agent certificate at the tier
// the scoring engine derives.
func (p *Protocol) verifyKYA(agentID string, agent *entities.AgentState) *entities.LayerResult {
	rec := p.KYARecord(agentID)
	if rec == nil {
		return &entities.LayerResult{
			Status: entities.LayerRejected,
			Reason: "no KYA record on file",
		}
	}

	if !isCodeHash(rec.CodeHash) {
		return &entities.LayerResult{
			Status: entities.LayerRejected,
			Reason: "code_hash is not 64 lowercase hex characters",
		}
	}

	// AML standing is checked before sanctions so an AML failure is the
	// reason that surfaces when both are bad. The review band waits until
	// after sanctions; a reviewable score must not mask a sanctions hit.
	details := map[string]interface{}{"aml_score": rec.AMLScore}
	if rec.AMLScore < amlRejectBelow {
		return &entities.LayerResult{
			Status:  entities.LayerRejected,
			Reason:  fmt.Sprintf("AML score %.0f below threshold %.0f", rec.AMLScore, amlRejectBelow),
			Details: details,
		}
	}

	if rec.SanctionsCheck != entities.SanctionsCleared {
		return &entities.LayerResult{
			Status:  entities.LayerRejected,
			Reason:  fmt.Sprintf("sanctions check not cleared: %s", rec.SanctionsCheck),
			Details: map[string]interface{}{"sanctions_check": string(rec.SanctionsCheck)},
		}
	}

	if rec.AMLScore < amlReviewBelow {
		return &entities.LayerResult{
			Status:  entities.LayerReview,
			Reason:  fmt.Sprintf("AML score %.0f flagged for review", rec.AMLScore),
			Details: details,
		}
	}

	if rec.RegulatoryApproval != "approved" {
		return &entities.LayerResult{
			Status:  entities.LayerReview,
			Reason:  "regulatory approval pending",
			Details: details,
		}
	}

	p.issueCertificate(agentID, agent)
	return &entities.LayerResult{Status: entities.LayerApproved, Details: details}
}

// issueCertificate creates or refreshes the agent certificate at the
// current reputation tier.
func (p *Protocol) issueCertificate(agentID string, agent *entities.AgentState) *entities.AgentCertificate {
	now := p.clock.Now()
	tier := entities.TierBronze
	if agent != nil {
		tier = p.scoring.TierFor(agent)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if cert, ok := p.certs[agentID]; ok && cert.ValidAt(now) {
		cert.Tier = tier
		return cert
	}

	cert := &entities.AgentCertificate{
		CertificateID: p.clock.NewUUID(),
		AgentID:       agentID,
		Tier:          tier,
		IssuedDate:    now,
		ExpiryDate:    now.AddDate(1, 0, 0),
		Permissions:   []string{"transact", "batch", "transfer"},
	}
	p.certs[agentID] = cert
	return cert
}

// isCodeHash reports whether s is 64 lowercase hex characters.
func isCodeHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
