// Package audit keeps the per-transaction audit trails produced by the
// validation protocol and derives the daily compliance report from them.
// Trails also feed the tamper-evident merkle ledger.
package audit

import (
	"log"
	"sync"
	"time"

	"github.com/agentbank/syndicate/internal/entities"
	"github.com/agentbank/syndicate/internal/ports"
)

// defaultMaxTrails bounds the in-memory trail store.
const defaultMaxTrails = 10_000

// Manager owns the audit trail store. Appends are serialized; readers get
// snapshots.
type Manager struct {
	clock  ports.Clock
	ledger *Ledger
	logger *log.Logger

	mu        sync.Mutex
	trails    []*entities.AuditTrail
	maxTrails int
}

// NewManager creates the audit manager with its backing merkle ledger.
func NewManager(clock ports.Clock) *Manager {
	return &Manager{
		clock:     clock,
		ledger:    NewLedger(),
		logger:    log.New(log.Writer(), "[Audit] ", log.LstdFlags),
		maxTrails: defaultMaxTrails,
	}
}

// Record appends a finished trail and anchors it in the merkle ledger.
func (m *Manager) Record(trail *entities.AuditTrail) {
	m.mu.Lock()
	m.trails = append(m.trails, trail)
	if len(m.trails) > m.maxTrails {
		m.trails = m.trails[len(m.trails)-m.maxTrails:]
	}
	m.mu.Unlock()

	m.ledger.Append(trail.TransactionID, trail.FinalStatus, m.clock.Now())
}

// Trails returns a snapshot of all stored trails, oldest first.
func (m *Manager) Trails() []*entities.AuditTrail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entities.AuditTrail, len(m.trails))
	copy(out, m.trails)
	return out
}

// Trail returns the trail for a transaction, or nil.
func (m *Manager) Trail(txID string) *entities.AuditTrail {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.trails) - 1; i >= 0; i-- {
		if m.trails[i].TransactionID == txID {
			return m.trails[i]
		}
	}
	return nil
}

// RootHash exposes the current merkle root over all recorded trails.
func (m *Manager) RootHash() string {
	return m.ledger.RootHash()
}

// ComplianceReport is the daily aggregate over audit trails.
type ComplianceReport struct {
	Date              string         `json:"date"`
	TotalTransactions int            `json:"total_transactions"`
	Completed         int            `json:"completed"`
	Rejected          int            `json:"rejected"`
	FraudDetections   int            `json:"fraud_detections"`
	AvgProcessingMs   float64        `json:"avg_processing_ms"`
	ComplianceScore   float64        `json:"compliance_score"`
	RiskBuckets       map[string]int `json:"risk_buckets"` // low | medium | high
	MerkleRoot        string         `json:"merkle_root"`
}

// GenerateDailyReport aggregates the trails initiated on the given day.
// Risk buckets use the consensus layer's mean risk on a 0..100 scale:
// low <30, medium <70, high >=70.
func (m *Manager) GenerateDailyReport(date time.Time) *ComplianceReport {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	report := &ComplianceReport{
		Date:        dayStart.Format("2006-01-02"),
		RiskBuckets: map[string]int{"low": 0, "medium": 0, "high": 0},
		MerkleRoot:  m.ledger.RootHash(),
	}

	var totalMs int64
	var scoreSum float64
	var scored int

	for _, trail := range m.Trails() {
		if trail.TimestampInitiated.Before(dayStart) || !trail.TimestampInitiated.Before(dayEnd) {
			continue
		}
		report.TotalTransactions++
		totalMs += trail.TotalTimeMs

		switch trail.FinalStatus {
		case entities.AuditCompleted:
			report.Completed++
		case entities.AuditRejected:
			report.Rejected++
		}

		if fraud, ok := trail.Layers[entities.LayerAIFraud]; ok && fraud.Status != entities.LayerApproved && fraud.Status != entities.LayerSkipped {
			report.FraudDetections++
		}

		if comp, ok := trail.Layers[entities.LayerCompliance]; ok {
			if score, ok := floatDetail(comp.Details, "audit_score"); ok {
				scoreSum += score
				scored++
			}
		}

		risk := 0.0
		if cons, ok := trail.Layers[entities.LayerConsensus]; ok {
			risk, _ = floatDetail(cons.Details, "mean_risk")
		}
		switch points := risk * 100; {
		case points < 30:
			report.RiskBuckets["low"]++
		case points < 70:
			report.RiskBuckets["medium"]++
		default:
			report.RiskBuckets["high"]++
		}
	}

	if report.TotalTransactions > 0 {
		report.AvgProcessingMs = float64(totalMs) / float64(report.TotalTransactions)
	}
	if scored > 0 {
		report.ComplianceScore = scoreSum / float64(scored)
	}
	return report
}

func floatDetail(details map[string]interface{}, key string) (float64, bool) {
	if details == nil {
		return 0, false
	}
	switch v := details[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
