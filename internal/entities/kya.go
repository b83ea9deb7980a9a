package entities

import "time"

// SanctionsStatus is the outcome of a sanctions-list check.
type SanctionsStatus string

const (
	SanctionsCleared SanctionsStatus = "cleared"
	SanctionsPending SanctionsStatus = "pending"
	SanctionsFlagged SanctionsStatus = "flagged"
)

// KYAData is the Know-Your-Agent identity record submitted at onboarding.
type KYAData struct {
	AgentID            string          `json:"agent_id"`
	AgentType          string          `json:"agent_type"`
	OwnerEntity        string          `json:"owner_entity"`
	Purpose            string          `json:"purpose"`
	Jurisdiction       string          `json:"jurisdiction"`
	CreatedTimestamp   time.Time       `json:"created_timestamp"`
	CodeHash           string          `json:"code_hash"` // SHA-256 hex of the agent binary
	BehaviorModel      string          `json:"behavior_model"`
	SecurityAuditURL   string          `json:"security_audit_url,omitempty"`
	AMLScore           float64         `json:"aml_score"` // 0..100
	SanctionsCheck     SanctionsStatus `json:"sanctions_check"`
	RegulatoryApproval string          `json:"regulatory_approval"`
}

// Tier is the discrete reputation bucket controlling transaction limits.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// AgentCertificate is issued on KYA approval and authorizes transacting at
// a given tier. Valid iff now is within [IssuedDate, ExpiryDate].
type AgentCertificate struct {
	CertificateID string    `json:"certificate_id"`
	AgentID       string    `json:"agent_id"`
	Tier          Tier      `json:"tier"`
	IssuedDate    time.Time `json:"issued_date"`
	ExpiryDate    time.Time `json:"expiry_date"`
	Permissions   []string  `json:"permissions"`
}

// ValidAt reports whether the certificate is within its validity window.
func (c *AgentCertificate) ValidAt(now time.Time) bool {
	return !now.Before(c.IssuedDate) && !now.After(c.ExpiryDate)
}
