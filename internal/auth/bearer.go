// Package auth turns bearer tokens into request principals. It only verifies
// tokens; issuing and refreshing them belongs to the identity provider.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hospitium/hospitium/internal/platform/httpx"
	"github.com/hospitium/hospitium/internal/rbac"
)

// TenantHeader selects the active tenant when the token does not pin one.
const TenantHeader = "X-Tenant-ID"

var (
	// ErrMissingSecret is returned by NewVerifier without a signing key.
	ErrMissingSecret = errors.New("auth: jwt secret required")
	// ErrInvalidToken wraps every verification failure.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Claims are the token claims the API reads.
type Claims struct {
	jwt.RegisteredClaims
	Tenant   string `json:"tenant,omitempty"`
	Verified bool   `json:"verified,omitempty"`
}

// Verifier checks HS256 tokens.
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
	logger *slog.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithIssuer requires the iss claim to equal issuer.
func WithIssuer(issuer string) Option {
	return func(v *Verifier) { v.issuer = issuer }
}

// WithLeeway tolerates clock skew on exp and nbf.
func WithLeeway(d time.Duration) Option {
	return func(v *Verifier) { v.leeway = d }
}

// WithLogger sets the logger for rejected tokens.
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

// NewVerifier constructs a Verifier for secret.
func NewVerifier(secret string, opts ...Option) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	v := &Verifier{secret: []byte(secret), leeway: 30 * time.Second, logger: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Parse validates raw and returns its claims. Tokens must carry sub and exp.
func (v *Verifier) Parse(raw string) (*Claims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// Middleware stores the bearer's principal and tenant in the request
// context. Requests without a token continue unauthenticated; requests with
// a bad token are rejected.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := v.Parse(raw)
		if err != nil {
			v.logger.Warn("bearer token rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		tenant := claims.Tenant
		if tenant == "" {
			tenant = strings.TrimSpace(r.Header.Get(TenantHeader))
		}
		ctx := rbac.ContextWithPrincipal(r.Context(), rbac.Principal{ID: claims.Subject, Verified: claims.Verified})
		ctx = rbac.ContextWithTenant(ctx, tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}
	return strings.TrimSpace(token), true
}
