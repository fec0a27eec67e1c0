package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AuditAction names an administrative action taken through this service.
type AuditAction string

const (
	AuditUserCreated AuditAction = "USER_CREATED"
)

// AuditEntry records who did what to which user.
type AuditEntry struct {
	ID        uuid.UUID   `json:"id"`
	Action    AuditAction `json:"action"`
	Actor     string      `json:"actor"`
	Realm     string      `json:"realm"`
	UserID    string      `json:"user_id,omitempty"`
	Username  string      `json:"username"`
	CreatedAt time.Time   `json:"created_at"`
}

// AuditRepository is the port for the administrative audit trail.
// Implementations live in infrastructure/postgres.
type AuditRepository interface {
	// Record stores a single entry.
	Record(ctx context.Context, entry AuditEntry) error
}
