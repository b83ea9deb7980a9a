// Package persist provides the Postgres Persister. Entities are stored as
// JSONB rows keyed by their natural id; the in-memory core remains the
// source of truth and writes are upserts.
package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/agentbank/syndicate/internal/entities"
)

const schema = `
CREATE TABLE IF NOT EXISTS agent_states (
	agent_id   TEXT PRIMARY KEY,
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS transactions (
	tx_id      TEXT PRIMARY KEY,
	agent_id   TEXT NOT NULL,
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS evaluations (
	tx_id      TEXT PRIMARY KEY,
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS audit_trails (
	tx_id      TEXT PRIMARY KEY,
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS kya_records (
	agent_id   TEXT PRIMARY KEY,
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS certificates (
	agent_id   TEXT PRIMARY KEY,
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Postgres persists core entities to PostgreSQL via lib/pq.
type Postgres struct {
	db     *sql.DB
	logger *log.Logger
}

// Open connects, verifies connectivity and ensures the schema exists.
func Open(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}

	p := &Postgres{db: db, logger: log.New(log.Writer(), "[Persist] ", log.LstdFlags)}
	p.logger.Printf("Connected to Postgres")
	return p, nil
}

func (p *Postgres) upsert(ctx context.Context, table, keyCol, key string, v interface{}, extra ...string) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal for %s: %w", table, err)
	}

	if len(extra) == 2 {
		query := fmt.Sprintf(`INSERT INTO %s (%s, %s, body) VALUES ($1, $2, $3)
			ON CONFLICT (%s) DO UPDATE SET body = EXCLUDED.body, updated_at = now()`,
			table, keyCol, extra[0], keyCol)
		_, err = p.db.ExecContext(ctx, query, key, extra[1], body)
	} else {
		query := fmt.Sprintf(`INSERT INTO %s (%s, body) VALUES ($1, $2)
			ON CONFLICT (%s) DO UPDATE SET body = EXCLUDED.body, updated_at = now()`,
			table, keyCol, keyCol)
		_, err = p.db.ExecContext(ctx, query, key, body)
	}
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", table, key, err)
	}
	return nil
}

func (p *Postgres) SaveAgentState(ctx context.Context, state *entities.AgentState) error {
	return p.upsert(ctx, "agent_states", "agent_id", state.AgentID, state)
}

func (p *Postgres) SaveTransaction(ctx context.Context, tx *entities.Transaction) error {
	return p.upsert(ctx, "transactions", "tx_id", tx.TxID, tx, "agent_id", tx.AgentID)
}

func (p *Postgres) SaveEvaluation(ctx context.Context, ev *entities.TransactionEvaluation) error {
	return p.upsert(ctx, "evaluations", "tx_id", ev.Transaction.TxID, ev)
}

func (p *Postgres) SaveAuditTrail(ctx context.Context, trail *entities.AuditTrail) error {
	return p.upsert(ctx, "audit_trails", "tx_id", trail.TransactionID, trail)
}

func (p *Postgres) SaveKYARecord(ctx context.Context, rec *entities.KYAData) error {
	return p.upsert(ctx, "kya_records", "agent_id", rec.AgentID, rec)
}

func (p *Postgres) SaveCertificate(ctx context.Context, cert *entities.AgentCertificate) error {
	return p.upsert(ctx, "certificates", "agent_id", cert.AgentID, cert)
}

// LoadAgentState reads one agent back, or nil when absent.
func (p *Postgres) LoadAgentState(ctx context.Context, agentID string) (*entities.AgentState, error) {
	var body []byte
	err := p.db.QueryRowContext(ctx, `SELECT body FROM agent_states WHERE agent_id = $1`, agentID).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load agent %s: %w", agentID, err)
	}
	var state entities.AgentState
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("decode agent %s: %w", agentID, err)
	}
	return &state, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
