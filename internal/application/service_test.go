package application_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itm.space/backendresources/internal/application"
	"itm.space/backendresources/internal/domain"
)

type fakeProvider struct {
	mu      sync.Mutex
	created []domain.RemoteUser

	createResult application.CreateResult
	createErr    error

	user     *domain.RemoteUser
	userErr  error
	roles    []domain.RoleMapping
	rolesErr error
	groups   []domain.GroupMembership
	groupErr error

	rolesDelay  time.Duration
	groupsDelay time.Duration

	// rolesBlock / groupsBlock make the fetch wait for cancellation; the *Canceled
	// flags record that it was observed.
	rolesBlock     bool
	groupsBlock    bool
	rolesCanceled  bool
	groupsCanceled bool
}

func (f *fakeProvider) CreateUser(_ context.Context, u domain.RemoteUser) (application.CreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, u)
	return f.createResult, f.createErr
}

func (f *fakeProvider) GetUser(_ context.Context, id string) (*domain.RemoteUser, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return f.user, nil
}

func (f *fakeProvider) RealmRoleMappings(ctx context.Context, _ string) ([]domain.RoleMapping, error) {
	if f.rolesBlock {
		<-ctx.Done()
		f.mu.Lock()
		f.rolesCanceled = true
		f.mu.Unlock()
		return nil, ctx.Err()
	}
	time.Sleep(f.rolesDelay)
	return f.roles, f.rolesErr
}

func (f *fakeProvider) UserGroups(ctx context.Context, _ string) ([]domain.GroupMembership, error) {
	if f.groupsBlock {
		<-ctx.Done()
		f.mu.Lock()
		f.groupsCanceled = true
		f.mu.Unlock()
		return nil, ctx.Err()
	}
	time.Sleep(f.groupsDelay)
	return f.groups, f.groupErr
}

type recordingPublisher struct {
	events []application.UserCreatedEvent
	err    error
}

func (p *recordingPublisher) PublishUserCreated(_ context.Context, evt application.UserCreatedEvent) error {
	p.events = append(p.events, evt)
	return p.err
}

type recordingAudit struct {
	entries []domain.AuditEntry
	err     error
}

func (a *recordingAudit) Record(_ context.Context, e domain.AuditEntry) error {
	a.entries = append(a.entries, e)
	return a.err
}

func newUserRequest() domain.UserRequest {
	return domain.UserRequest{
		Username:  "testuser",
		Email:     "doe@gmail.com",
		Password:  "12345",
		FirstName: "pupa",
		LastName:  "zalupa",
	}
}

func TestCreateUser_Created(t *testing.T) {
	id := uuid.NewString()
	p := &fakeProvider{createResult: application.CreateResult{
		StatusCode: http.StatusCreated,
		Location:   "http://kc/admin/realms/itm/users/" + id,
	}}
	pub := &recordingPublisher{}
	audit := &recordingAudit{}
	svc := application.NewService("itm", p, pub, audit)

	require.NoError(t, svc.CreateUser(context.Background(), "moderator", newUserRequest()))

	require.Len(t, p.created, 1)
	got := p.created[0]
	assert.Equal(t, "testuser", got.Username)
	assert.Equal(t, "doe@gmail.com", got.Email)
	assert.Equal(t, "pupa", got.FirstName)
	assert.Equal(t, "zalupa", got.LastName)
	assert.True(t, got.Enabled)
	require.Len(t, got.Credentials, 1)
	assert.Equal(t, domain.Credential{Type: "password", Value: "12345", Temporary: false}, got.Credentials[0])

	require.Len(t, pub.events, 1)
	assert.Equal(t, id, pub.events[0].UserID)
	assert.Equal(t, "itm", pub.events[0].Realm)
	assert.Equal(t, "moderator", pub.events[0].Actor)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, domain.AuditUserCreated, audit.entries[0].Action)
	assert.Equal(t, id, audit.entries[0].UserID)
}

func TestCreateUser_Conflict(t *testing.T) {
	p := &fakeProvider{createResult: application.CreateResult{
		StatusCode: http.StatusConflict,
		Message:    "User exists with same username",
	}}
	pub := &recordingPublisher{}
	audit := &recordingAudit{}
	svc := application.NewService("itm", p, pub, audit)

	err := svc.CreateUser(context.Background(), "moderator", newUserRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConflict)

	var de *domain.DirectoryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, http.StatusConflict, de.Status)
	assert.Equal(t, "User exists with same username", de.Reason)

	assert.Empty(t, pub.events)
	assert.Empty(t, audit.entries)
}

func TestCreateUser_UnexpectedStatusIsUpstream(t *testing.T) {
	p := &fakeProvider{createResult: application.CreateResult{StatusCode: http.StatusBadRequest, Message: "invalid email"}}
	svc := application.NewService("itm", p, nil, nil)

	err := svc.CreateUser(context.Background(), "moderator", newUserRequest())
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.NotErrorIs(t, err, domain.ErrConflict)
}

func TestCreateUser_TransportErrorIsUpstream(t *testing.T) {
	p := &fakeProvider{createErr: errors.New("connection refused")}
	svc := application.NewService("itm", p, nil, nil)

	err := svc.CreateUser(context.Background(), "moderator", newUserRequest())
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCreateUser_SideEffectFailuresDoNotFail(t *testing.T) {
	p := &fakeProvider{createResult: application.CreateResult{StatusCode: http.StatusCreated}}
	pub := &recordingPublisher{err: errors.New("broker down")}
	audit := &recordingAudit{err: errors.New("db down")}
	svc := application.NewService("itm", p, pub, audit)

	assert.NoError(t, svc.CreateUser(context.Background(), "moderator", newUserRequest()))
	assert.Len(t, pub.events, 1)
	assert.Len(t, audit.entries, 1)
}

// blockingPublisher waits until its context ends, like a producer facing a dead broker.
type blockingPublisher struct {
	ctxErr error
}

func (p *blockingPublisher) PublishUserCreated(ctx context.Context, _ application.UserCreatedEvent) error {
	<-ctx.Done()
	p.ctxErr = ctx.Err()
	return ctx.Err()
}

// ctxAudit records the state of the context each entry is written with.
type ctxAudit struct {
	ctxErrs     []error
	hasDeadline []bool
}

func (a *ctxAudit) Record(ctx context.Context, _ domain.AuditEntry) error {
	_, ok := ctx.Deadline()
	a.hasDeadline = append(a.hasDeadline, ok)
	a.ctxErrs = append(a.ctxErrs, ctx.Err())
	return nil
}

func TestCreateUser_BlockedPublisherIsBounded(t *testing.T) {
	p := &fakeProvider{createResult: application.CreateResult{StatusCode: http.StatusCreated}}
	pub := &blockingPublisher{}
	audit := &ctxAudit{}
	svc := application.NewService("itm", p, pub, audit, application.WithSideEffectTimeout(50*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- svc.CreateUser(context.Background(), "moderator", newUserRequest()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("CreateUser did not return within the side-effect bound")
	}

	assert.ErrorIs(t, pub.ctxErr, context.DeadlineExceeded)
	require.Len(t, audit.ctxErrs, 1)
	assert.NoError(t, audit.ctxErrs[0], "audit must get a live context after a slow publish")
	assert.True(t, audit.hasDeadline[0])
}

func TestCreateUser_SideEffectsSurviveCancelledRequest(t *testing.T) {
	p := &fakeProvider{createResult: application.CreateResult{StatusCode: http.StatusCreated}}
	audit := &ctxAudit{}
	svc := application.NewService("itm", p, nil, audit)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, svc.CreateUser(ctx, "moderator", newUserRequest()))
	require.Len(t, audit.ctxErrs, 1)
	assert.NoError(t, audit.ctxErrs[0])
}

func existingUserProvider(id uuid.UUID) *fakeProvider {
	return &fakeProvider{
		user: &domain.RemoteUser{
			ID:        id.String(),
			Username:  "testuser",
			Email:     "testuser@gmail.com",
			FirstName: "Test",
			LastName:  "Test",
			Enabled:   false,
		},
		roles:  []domain.RoleMapping{{Name: "ROLE_USER"}, {Name: "ROLE_ADMIN"}},
		groups: []domain.GroupMembership{{Name: "GROUP_USER"}, {Name: "GROUP_ADMIN"}},
	}
}

func TestGetUserByID_Success(t *testing.T) {
	id := uuid.New()
	svc := application.NewService("itm", existingUserProvider(id), nil, nil)

	resp, err := svc.GetUserByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, "testuser@gmail.com", resp.Email)
	assert.Equal(t, "Test", resp.FirstName)
	assert.Equal(t, "Test", resp.LastName)
	assert.ElementsMatch(t, []string{"ROLE_USER", "ROLE_ADMIN"}, resp.Roles)
	assert.ElementsMatch(t, []string{"GROUP_USER", "GROUP_ADMIN"}, resp.Groups)
}

func TestGetUserByID_DeduplicatesNames(t *testing.T) {
	id := uuid.New()
	p := existingUserProvider(id)
	p.roles = append(p.roles, domain.RoleMapping{Name: "ROLE_USER"})
	svc := application.NewService("itm", p, nil, nil)

	resp, err := svc.GetUserByID(context.Background(), id)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ROLE_USER", "ROLE_ADMIN"}, resp.Roles)
}

func TestGetUserByID_Idempotent(t *testing.T) {
	id := uuid.New()
	svc := application.NewService("itm", existingUserProvider(id), nil, nil)

	first, err := svc.GetUserByID(context.Background(), id)
	require.NoError(t, err)
	second, err := svc.GetUserByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGetUserByID_NotFound(t *testing.T) {
	p := &fakeProvider{userErr: &domain.ProviderError{StatusCode: http.StatusNotFound, Message: "User not found"}}
	svc := application.NewService("itm", p, nil, nil)

	_, err := svc.GetUserByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetUserByID_NilRecordIsNotFound(t *testing.T) {
	svc := application.NewService("itm", &fakeProvider{}, nil, nil)

	_, err := svc.GetUserByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetUserByID_SubFetchFailures(t *testing.T) {
	cases := []struct {
		name       string
		setup      func(p *fakeProvider)
		wantKind   error
		wantStatus int
		canceled   func(p *fakeProvider) bool
	}{
		{
			name: "roles fail, groups cancelled",
			setup: func(p *fakeProvider) {
				p.rolesErr = &domain.ProviderError{StatusCode: http.StatusInternalServerError}
				p.groupsBlock = true
			},
			wantKind:   domain.ErrUpstream,
			wantStatus: http.StatusInternalServerError,
			canceled:   func(p *fakeProvider) bool { return p.groupsCanceled },
		},
		{
			name: "groups fail, roles cancelled",
			setup: func(p *fakeProvider) {
				p.groupErr = &domain.ProviderError{StatusCode: http.StatusServiceUnavailable}
				p.rolesBlock = true
			},
			wantKind:   domain.ErrUpstream,
			wantStatus: http.StatusServiceUnavailable,
			canceled:   func(p *fakeProvider) bool { return p.rolesCanceled },
		},
		{
			name: "user deleted before roles fetch",
			setup: func(p *fakeProvider) {
				p.rolesErr = &domain.ProviderError{StatusCode: http.StatusNotFound, Message: "User not found"}
				p.groupsBlock = true
			},
			wantKind:   domain.ErrNotFound,
			wantStatus: http.StatusNotFound,
			canceled:   func(p *fakeProvider) bool { return p.groupsCanceled },
		},
		{
			name: "user deleted before groups fetch",
			setup: func(p *fakeProvider) {
				p.groupErr = &domain.ProviderError{StatusCode: http.StatusNotFound}
			},
			wantKind:   domain.ErrNotFound,
			wantStatus: http.StatusNotFound,
		},
		{
			name: "groups transport error",
			setup: func(p *fakeProvider) {
				p.groupErr = errors.New("connection reset")
			},
			wantKind: domain.ErrUpstream,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id := uuid.New()
			p := existingUserProvider(id)
			tc.setup(p)
			svc := application.NewService("itm", p, nil, nil)

			resp, err := svc.GetUserByID(context.Background(), id)
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.ErrorIs(t, err, tc.wantKind)

			var de *domain.DirectoryError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tc.wantStatus, de.Status)

			if tc.canceled != nil {
				p.mu.Lock()
				defer p.mu.Unlock()
				assert.True(t, tc.canceled(p))
			}
		})
	}
}

func TestGetUserByID_FetchOrderDoesNotMatter(t *testing.T) {
	cases := []struct {
		name        string
		rolesDelay  time.Duration
		groupsDelay time.Duration
	}{
		{"roles first", 0, 20 * time.Millisecond},
		{"groups first", 20 * time.Millisecond, 0},
		{"together", 0, 0},
	}
	id := uuid.New()
	var want *domain.UserResponse
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := existingUserProvider(id)
			p.rolesDelay = tc.rolesDelay
			p.groupsDelay = tc.groupsDelay
			svc := application.NewService("itm", p, nil, nil)

			resp, err := svc.GetUserByID(context.Background(), id)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"ROLE_USER", "ROLE_ADMIN"}, resp.Roles)
			assert.ElementsMatch(t, []string{"GROUP_USER", "GROUP_ADMIN"}, resp.Groups)
			if want == nil {
				want = resp
				return
			}
			assert.Equal(t, want, resp)
		})
	}
}

func TestHello(t *testing.T) {
	svc := application.NewService("itm", &fakeProvider{}, nil, nil)
	assert.Equal(t, "test_name", svc.Hello(&domain.Principal{Username: "test_name"}))
	assert.Equal(t, "", svc.Hello(nil))
}
