// Package session verifies Supabase access tokens and carries the resulting
// identity (and the raw token, forwarded to PostgREST) through the context.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/ledger-sync/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// Audience Supabase puts on tokens of signed-in users.
const Audience = "authenticated"

// Claims are the parts of a Supabase access token we use.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens signed with the project's JWT secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates tokenString and returns its claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	if len(v.secret) == 0 {
		return nil, &domain.ErrNotAuthenticated{Reason: "token verification is not configured"}
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, &domain.ErrNotAuthenticated{Reason: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, &domain.ErrNotAuthenticated{Reason: "token has no subject"}
	}
	return claims, nil
}

// Sign issues a token for identity, valid for ttl. Used by the dev CLI and tests.
func (v *Verifier) Sign(identity string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: Audience,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

type contextKey string

const (
	identityKey contextKey = "identity"
	tokenKey    contextKey = "accessToken"
)

// WithIdentity stores an authenticated identity and its access token in ctx.
func WithIdentity(ctx context.Context, identity, token string) context.Context {
	ctx = context.WithValue(ctx, identityKey, identity)
	return context.WithValue(ctx, tokenKey, token)
}

// IdentityFromContext returns the identity stored by WithIdentity, or "".
func IdentityFromContext(ctx context.Context) string {
	v, _ := ctx.Value(identityKey).(string)
	return v
}

// TokenFromContext returns the caller's access token, or "".
func TokenFromContext(ctx context.Context) string {
	v, _ := ctx.Value(tokenKey).(string)
	return v
}

// ContextProvider resolves the session from the request context.
type ContextProvider struct{}

// Session implements port.SessionProvider.
func (ContextProvider) Session(ctx context.Context) (string, error) {
	if id := IdentityFromContext(ctx); id != "" {
		return id, nil
	}
	return "", &domain.ErrNotAuthenticated{}
}

// Static always reports the same identity; "" means no session.
type Static string

// Session implements port.SessionProvider.
func (s Static) Session(ctx context.Context) (string, error) {
	if id := IdentityFromContext(ctx); id != "" {
		return id, nil
	}
	if s == "" {
		return "", &domain.ErrNotAuthenticated{}
	}
	return string(s), nil
}
