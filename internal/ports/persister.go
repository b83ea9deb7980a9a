package ports

import (
	"context"

	"github.com/agentbank/syndicate/internal/entities"
)

// NopPersister is the default Persister: state lives in memory only.
type NopPersister struct{}

func (NopPersister) SaveAgentState(ctx context.Context, state *entities.AgentState) error { return nil }
func (NopPersister) SaveTransaction(ctx context.Context, tx *entities.Transaction) error  { return nil }
func (NopPersister) SaveEvaluation(ctx context.Context, ev *entities.TransactionEvaluation) error {
	return nil
}
func (NopPersister) SaveAuditTrail(ctx context.Context, trail *entities.AuditTrail) error { return nil }
func (NopPersister) SaveKYARecord(ctx context.Context, rec *entities.KYAData) error       { return nil }
func (NopPersister) SaveCertificate(ctx context.Context, cert *entities.AgentCertificate) error {
	return nil
}
func (NopPersister) Close() error { return nil }
