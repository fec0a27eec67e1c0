package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"itm.space/backendresources/internal/domain"
)

// DefaultSideEffectTimeout bounds event publishing and audit writes after a user is created.
const DefaultSideEffectTimeout = 5 * time.Second

// Service holds the user directory use-cases.
type Service struct {
	realm    string
	provider IdentityProvider
	events   EventPublisher
	audit    domain.AuditRepository

	sideEffectTimeout time.Duration
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithSideEffectTimeout overrides DefaultSideEffectTimeout.
func WithSideEffectTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.sideEffectTimeout = d
		}
	}
}

// NewService creates a new application Service. events and audit may be nil.
func NewService(realm string, provider IdentityProvider, events EventPublisher, audit domain.AuditRepository, opts ...ServiceOption) *Service {
	if events == nil {
		events = NopPublisher{}
	}
	if audit == nil {
		audit = NopAuditRepository{}
	}
	s := &Service{
		realm:             realm,
		provider:          provider,
		events:            events,
		audit:             audit,
		sideEffectTimeout: DefaultSideEffectTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateUser registers a new enabled user at the identity provider with the request's
// password as a permanent credential. actor is the username of the caller.
func (s *Service) CreateUser(ctx context.Context, actor string, req domain.UserRequest) error {
	const op = "create user"

	res, err := s.provider.CreateUser(ctx, domain.RemoteUser{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Enabled:   true,
		Credentials: []domain.Credential{{
			Type:      domain.CredentialPassword,
			Value:     req.Password,
			Temporary: false,
		}},
	})
	if err != nil {
		return &domain.DirectoryError{Kind: domain.ErrUpstream, Op: op, Reason: err.Error()}
	}

	switch res.StatusCode {
	case http.StatusCreated:
	case http.StatusConflict:
		return &domain.DirectoryError{Kind: domain.ErrConflict, Op: op, Status: res.StatusCode, Reason: res.Message}
	default:
		return &domain.DirectoryError{Kind: domain.ErrUpstream, Op: op, Status: res.StatusCode, Reason: res.Message}
	}

	userID := ""
	if res.Location != "" {
		userID = path.Base(res.Location)
	}

	log.Info().
		Str("realm", s.realm).
		Str("username", req.Username).
		Str("user_id", userID).
		Str("actor", actor).
		Msg("user created")

	// The remote user exists at this point; side effects below must not turn that into a failure.
	// Each runs detached from the caller's cancellation and bounded by sideEffectTimeout.
	s.publishUserCreated(ctx, UserCreatedEvent{
		Realm:    s.realm,
		UserID:   userID,
		Username: req.Username,
		Email:    req.Email,
		Actor:    actor,
	})
	s.recordAudit(ctx, domain.AuditEntry{
		ID:        uuid.New(),
		Action:    domain.AuditUserCreated,
		Actor:     actor,
		Realm:     s.realm,
		UserID:    userID,
		Username:  req.Username,
		CreatedAt: time.Now().UTC(),
	})

	return nil
}

func (s *Service) publishUserCreated(ctx context.Context, evt UserCreatedEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sideEffectTimeout)
	defer cancel()

	if err := s.events.PublishUserCreated(ctx, evt); err != nil {
		log.Error().Err(err).Str("username", evt.Username).Msg("failed to publish USER_CREATED event")
	}
}

func (s *Service) recordAudit(ctx context.Context, entry domain.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sideEffectTimeout)
	defer cancel()

	if err := s.audit.Record(ctx, entry); err != nil {
		log.Error().Err(err).Str("username", entry.Username).Msg("failed to record audit entry")
	}
}

// GetUserByID assembles a user's profile from the base record, realm role mappings and
// group memberships. Roles and groups are fetched concurrently; the first failure cancels
// the other fetch and is returned.
func (s *Service) GetUserByID(ctx context.Context, id uuid.UUID) (*domain.UserResponse, error) {
	const op = "get user"
	userID := id.String()

	user, err := s.provider.GetUser(ctx, userID)
	if err != nil {
		return nil, mapLookupError(op, err)
	}
	if user == nil {
		return nil, &domain.DirectoryError{Kind: domain.ErrNotFound, Op: op, Reason: userID}
	}

	var (
		roles  []domain.RoleMapping
		groups []domain.GroupMembership
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := s.provider.RealmRoleMappings(gctx, userID)
		if err != nil {
			return fmt.Errorf("role mappings: %w", err)
		}
		roles = r
		return nil
	})
	g.Go(func() error {
		gr, err := s.provider.UserGroups(gctx, userID)
		if err != nil {
			return fmt.Errorf("groups: %w", err)
		}
		groups = gr
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, mapLookupError(op, err)
	}

	roleNames := make([]string, 0, len(roles))
	for _, r := range roles {
		roleNames = append(roleNames, r.Name)
	}
	groupNames := make([]string, 0, len(groups))
	for _, gr := range groups {
		groupNames = append(groupNames, gr.Name)
	}

	return &domain.UserResponse{
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Email:     user.Email,
		Roles:     uniqueNames(roleNames),
		Groups:    uniqueNames(groupNames),
	}, nil
}

// Hello returns the username of the authenticated caller.
func (s *Service) Hello(p *domain.Principal) string {
	if p == nil {
		return ""
	}
	return p.Username
}

// mapLookupError turns a provider lookup failure into a domain error.
func mapLookupError(op string, err error) error {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		if pe.StatusCode == http.StatusNotFound {
			return &domain.DirectoryError{Kind: domain.ErrNotFound, Op: op, Status: pe.StatusCode, Reason: pe.Message}
		}
		return &domain.DirectoryError{Kind: domain.ErrUpstream, Op: op, Status: pe.StatusCode, Reason: pe.Message}
	}
	return &domain.DirectoryError{Kind: domain.ErrUpstream, Op: op, Reason: err.Error()}
}

// uniqueNames drops empty and repeated names, keeping first-seen order.
func uniqueNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
