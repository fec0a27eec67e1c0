package application

import (
	"context"

	"itm.space/backendresources/internal/domain"
)

// CreateResult is the provider's answer to a user-creation request.
type CreateResult struct {
	StatusCode int
	// Message is the provider's error message, empty on success.
	Message string
	// Location points at the created user resource, when the provider returns one.
	Location string
}

// IdentityProvider is the slice of the identity provider's admin API this service uses,
// scoped to a single realm.
// The default implementation calls the Keycloak Admin REST API.
type IdentityProvider interface {
	// CreateUser submits a new user. Non-success statuses are reported in the result, not as an error.
	CreateUser(ctx context.Context, user domain.RemoteUser) (CreateResult, error)

	// GetUser returns the user record. Non-success statuses come back as *domain.ProviderError.
	GetUser(ctx context.Context, id string) (*domain.RemoteUser, error)

	// RealmRoleMappings returns the realm-level roles mapped to the user.
	RealmRoleMappings(ctx context.Context, id string) ([]domain.RoleMapping, error)

	// UserGroups returns the groups the user belongs to.
	UserGroups(ctx context.Context, id string) ([]domain.GroupMembership, error)
}

// EventPublisher emits integration events about directory changes.
// The default implementation produces to Kafka; NopPublisher is used when Kafka is disabled.
type EventPublisher interface {
	PublishUserCreated(ctx context.Context, evt UserCreatedEvent) error
}

// UserCreatedEvent is published after the provider confirms a new user.
type UserCreatedEvent struct {
	Realm    string
	UserID   string
	Username string
	Email    string
	Actor    string
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) PublishUserCreated(context.Context, UserCreatedEvent) error { return nil }

// NopAuditRepository discards audit entries.
type NopAuditRepository struct{}

func (NopAuditRepository) Record(context.Context, domain.AuditEntry) error { return nil }
