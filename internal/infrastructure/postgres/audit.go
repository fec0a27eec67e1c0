package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"itm.space/backendresources/internal/domain"
)

// Schema creates the audit table when it does not exist yet.
const Schema = `
CREATE TABLE IF NOT EXISTS user_audit (
	id         UUID PRIMARY KEY,
	action     TEXT        NOT NULL,
	actor      TEXT        NOT NULL,
	realm      TEXT        NOT NULL,
	user_id    TEXT,
	username   TEXT        NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS user_audit_username_idx ON user_audit (username, created_at DESC);
`

// execer is the subset of pgxpool.Pool used by AuditRepository.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditRepository is the PostgreSQL implementation of domain.AuditRepository.
type AuditRepository struct {
	db execer
}

// NewAuditRepository creates a new postgres AuditRepository.
func NewAuditRepository(db execer) *AuditRepository {
	return &AuditRepository{db: db}
}

var _ domain.AuditRepository = (*AuditRepository)(nil)

// Migrate applies Schema.
func (r *AuditRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate user_audit: %w", err)
	}
	return nil
}

// Record inserts an audit entry. Re-recording the same entry id is a no-op.
func (r *AuditRepository) Record(ctx context.Context, e domain.AuditEntry) error {
	var userID *string
	if e.UserID != "" {
		userID = &e.UserID
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO user_audit (id, action, actor, realm, user_id, username, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, string(e.Action), e.Actor, e.Realm, userID, e.Username, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
