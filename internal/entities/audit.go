package entities

import "time"

// LayerStatus is the outcome of one validation layer.
type LayerStatus string

const (
	LayerApproved LayerStatus = "APPROVED"
	LayerRejected LayerStatus = "REJECTED"
	LayerReview   LayerStatus = "REVIEW"
	LayerSkipped  LayerStatus = "SKIPPED"
)

// Validation layer names as they appear in audit trails.
const (
	LayerKYA        = "kya_verification"
	LayerPreflight  = "preflight_checks"
	LayerConsensus  = "consensus"
	LayerAIFraud    = "ai_fraud_detection"
	LayerSettlement = "settlement_validation"
	LayerCompliance = "compliance_audit"
)

// LayerResult records one validation layer's outcome inside an audit trail.
type LayerResult struct {
	Layer      string                 `json:"layer"`
	Status     LayerStatus            `json:"status"`
	Reason     string                 `json:"reason,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	DurationMs int64                  `json:"duration_ms"`
}

// AuditTrail is the per-transaction record produced by the validation
// protocol. Fully serializable; partial results survive early rejection.
type AuditTrail struct {
	TransactionID      string                  `json:"transaction_id"`
	TimestampInitiated time.Time               `json:"timestamp_initiated"`
	Layers             map[string]*LayerResult `json:"layers"`
	FinalStatus        string                  `json:"final_status"`
	TotalTimeMs        int64                   `json:"total_time_ms"`
}

// Audit trail terminal statuses.
const (
	AuditCompleted = "COMPLETED"
	AuditRejected  = "REJECTED"
)

// NewAuditTrail starts an empty trail for a transaction.
func NewAuditTrail(txID string, now time.Time) *AuditTrail {
	return &AuditTrail{
		TransactionID:      txID,
		TimestampInitiated: now,
		Layers:             make(map[string]*LayerResult),
	}
}

// Record stores a layer result in its slot.
func (at *AuditTrail) Record(res *LayerResult) {
	at.Layers[res.Layer] = res
}
