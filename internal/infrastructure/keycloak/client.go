package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"itm.space/backendresources/internal/application"
	"itm.space/backendresources/internal/domain"
)

// Client implements application.IdentityProvider by calling the Keycloak Admin REST API
// for a single realm.
type Client struct {
	adminURL string // e.g. "http://keycloak:8080"
	realm    string // realm whose users are managed

	httpClient *http.Client
	requests   *prometheus.CounterVec
}

// Config holds the connection settings of a Client.
type Config struct {
	BaseURL string
	Realm   string
	// AdminRealm is the realm used to obtain admin access tokens (usually "master").
	AdminRealm        string
	AdminClientID     string
	AdminClientSecret string
	Timeout           time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithMetrics counts admin API calls by operation and status code on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.requests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keycloak_admin_requests_total",
				Help: "Total number of Keycloak Admin API requests.",
			},
			[]string{"op", "code"},
		)
		reg.MustRegister(c.requests)
	}
}

// New creates a Keycloak Client. Admin tokens are obtained with the client-credentials grant
// and reused until they expire.
func New(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := strings.TrimSuffix(cfg.BaseURL, "/")

	cc := clientcredentials.Config{
		ClientID:     cfg.AdminClientID,
		ClientSecret: cfg.AdminClientSecret,
		TokenURL:     fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", base, cfg.AdminRealm),
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: timeout})
	httpClient := cc.Client(tokenCtx)
	httpClient.Timeout = timeout

	c := &Client{
		adminURL:   base,
		realm:      cfg.Realm,
		httpClient: httpClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ application.IdentityProvider = (*Client)(nil)

// mappingsRepresentation is the body of GET .../users/{id}/role-mappings.
type mappingsRepresentation struct {
	RealmMappings []domain.RoleMapping `json:"realmMappings"`
}

// CreateUser posts a new user representation to the realm.
func (c *Client) CreateUser(ctx context.Context, user domain.RemoteUser) (application.CreateResult, error) {
	body, err := json.Marshal(user)
	if err != nil {
		return application.CreateResult{}, err
	}

	resp, err := c.do(ctx, "create_user", http.MethodPost, c.usersURL(), bytes.NewReader(body))
	if err != nil {
		return application.CreateResult{}, fmt.Errorf("keycloak create user: %w", err)
	}
	defer resp.Body.Close()

	res := application.CreateResult{
		StatusCode: resp.StatusCode,
		Location:   resp.Header.Get("Location"),
	}
	if resp.StatusCode != http.StatusCreated {
		res.Message = readErrorMessage(resp.Body)
	}
	return res, nil
}

// GetUser fetches a user representation by id. A null body yields a nil user.
func (c *Client) GetUser(ctx context.Context, id string) (*domain.RemoteUser, error) {
	var user *domain.RemoteUser
	if err := c.getJSON(ctx, "get_user", c.userURL(id, ""), &user); err != nil {
		return nil, err
	}
	return user, nil
}

// RealmRoleMappings returns the realm-level part of the user's role mappings.
func (c *Client) RealmRoleMappings(ctx context.Context, id string) ([]domain.RoleMapping, error) {
	var mappings mappingsRepresentation
	if err := c.getJSON(ctx, "role_mappings", c.userURL(id, "/role-mappings"), &mappings); err != nil {
		return nil, err
	}
	return mappings.RealmMappings, nil
}

// UserGroups returns the groups the user is a member of.
func (c *Client) UserGroups(ctx context.Context, id string) ([]domain.GroupMembership, error) {
	var groups []domain.GroupMembership
	if err := c.getJSON(ctx, "user_groups", c.userURL(id, "/groups"), &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// --- internal helpers ---

func (c *Client) usersURL() string {
	return fmt.Sprintf("%s/admin/realms/%s/users", c.adminURL, url.PathEscape(c.realm))
}

func (c *Client) userURL(id, suffix string) string {
	return c.usersURL() + "/" + url.PathEscape(id) + suffix
}

func (c *Client) getJSON(ctx context.Context, op, target string, out any) error {
	resp, err := c.do(ctx, op, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("keycloak %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &domain.ProviderError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("keycloak %s: decode: %w", op, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, target string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if c.requests != nil {
		code := "error"
		if err == nil {
			code = strconv.Itoa(resp.StatusCode)
		}
		c.requests.WithLabelValues(op, code).Inc()
	}
	return resp, err
}

// readErrorMessage extracts Keycloak's error text from a response body.
func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var body struct {
		ErrorMessage     string `json:"errorMessage"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return strings.TrimSpace(string(raw))
	}
	switch {
	case body.ErrorMessage != "":
		return body.ErrorMessage
	case body.ErrorDescription != "":
		return body.ErrorDescription
	default:
		return body.Error
	}
}
