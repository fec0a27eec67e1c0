package mw

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"itm.space/backendresources/internal/domain"
)

const principalKey = "principal"

// RolePrefix is prepended to provider role names that lack it.
const RolePrefix = "ROLE_"

// TokenVerifier validates a raw bearer token and returns the caller it identifies.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*domain.Principal, error)
}

// keycloakClaims are the access-token claims this service reads.
type keycloakClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	ResourceAccess map[string]struct {
		Roles []string `json:"roles"`
	} `json:"resource_access"`
}

// principal builds a Principal from the claims. Client roles are read from
// resource_access[clientID] when clientID is set.
func (c *keycloakClaims) principal(clientID string) *domain.Principal {
	username := c.PreferredUsername
	if username == "" {
		username = c.Subject
	}

	raw := append([]string{}, c.RealmAccess.Roles...)
	if clientID != "" {
		if ra, ok := c.ResourceAccess[clientID]; ok {
			raw = append(raw, ra.Roles...)
		}
	}

	seen := make(map[string]struct{}, len(raw))
	roles := make([]string, 0, len(raw))
	for _, r := range raw {
		if r == "" {
			continue
		}
		if !strings.HasPrefix(r, RolePrefix) {
			r = RolePrefix + r
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		roles = append(roles, r)
	}

	return &domain.Principal{Subject: c.Subject, Username: username, Roles: roles}
}

// OIDCVerifier verifies RS256 access tokens issued by a Keycloak realm, using the
// realm's discovery document and JWKS.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
	clientID string
}

// NewOIDCVerifier discovers issuerURL (e.g. "http://keycloak:8080/realms/itm").
// Audience is checked only when audience is non-empty; clientID selects client roles.
func NewOIDCVerifier(ctx context.Context, issuerURL, audience, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery %s: %w", issuerURL, err)
	}
	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{
			ClientID:          audience,
			SkipClientIDCheck: audience == "",
		}),
		clientID: clientID,
	}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*domain.Principal, error) {
	tok, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	var claims keycloakClaims
	if err := tok.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	return claims.principal(v.clientID), nil
}

// HMACVerifier verifies HS256/384/512 tokens signed with a shared secret.
// Meant for local development and tests.
type HMACVerifier struct {
	secret   []byte
	issuer   string
	clientID string
}

// NewHMACVerifier creates an HMACVerifier. issuer is enforced when non-empty.
func NewHMACVerifier(secret []byte, issuer, clientID string) *HMACVerifier {
	return &HMACVerifier{secret: secret, issuer: issuer, clientID: clientID}
}

func (v *HMACVerifier) Verify(_ context.Context, rawToken string) (*domain.Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims keycloakClaims
	_, err := jwt.ParseWithClaims(rawToken, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return claims.principal(v.clientID), nil
}

// JWTAuth validates the Bearer token and stores the resulting principal in echo.Context.
func JWTAuth(verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			tokenStr := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

			p, err := verifier.Verify(c.Request().Context(), tokenStr)
			if err != nil {
				log.Warn().Err(err).Msg("JWT verification failed")
				if errors.Is(err, jwt.ErrTokenExpired) {
					return echo.NewHTTPError(http.StatusUnauthorized, "token expired")
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set(principalKey, p)
			return next(c)
		}
	}
}

// RequireRole rejects principals that do not hold role. Must run after JWTAuth.
func RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFrom(c)
			if p == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
			}
			if !p.HasRole(role) {
				log.Debug().Str("user", p.Username).Str("required", role).Msg("access denied")
				return echo.NewHTTPError(http.StatusForbidden, "access denied")
			}
			return next(c)
		}
	}
}

// PrincipalFrom returns the authenticated principal, or nil.
func PrincipalFrom(c echo.Context) *domain.Principal {
	p, _ := c.Get(principalKey).(*domain.Principal)
	return p
}
