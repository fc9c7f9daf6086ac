// Package identity resolves the acting user of a request. Provisioning users
// is someone else's job; this package only reads who the caller claims to be.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/starford/piko/internal/apperr"
)

// HeaderUserID carries the actor in header mode, typically set by a trusted proxy.
const HeaderUserID = "X-User-ID"

// Modes.
const (
	ModeHeader = "header"
	ModeJWT    = "jwt"
)

// Authenticator extracts the actor id from a request. It returns
// apperr.ErrUnauthenticated when no valid identity is present.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// Header trusts the X-User-ID header.
type Header struct{}

// Authenticate implements Authenticator.
func (Header) Authenticate(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return "", apperr.ErrUnauthenticated
	}
	return id, nil
}

// Claims are the token claims; the subject is the actor id.
type Claims struct {
	jwt.RegisteredClaims
}

// JWT validates and mints HS256 bearer tokens.
type JWT struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewJWT creates a JWT authenticator. secret must not be empty.
func NewJWT(secret, issuer string, ttl time.Duration) (*JWT, error) {
	if secret == "" {
		return nil, errors.New("identity: jwt secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWT{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// Mint returns a signed token for userID.
func (j *JWT) Mint(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", apperr.ErrValidation)
	}
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    j.issuer,
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		NotBefore: jwt.NewNumericDate(now),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// Parse validates token and returns its subject.
func (j *JWT) Parse(token string) (string, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return "", apperr.ErrUnauthenticated
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrUnauthenticated, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return "", fmt.Errorf("%w: invalid claims", apperr.ErrUnauthenticated)
	}
	return claims.Subject, nil
}

// Authenticate implements Authenticator using the Authorization header.
func (j *JWT) Authenticate(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", apperr.ErrUnauthenticated
	}
	return j.Parse(auth)
}

type ctxKey struct{}

// WithActor returns a context carrying actorID.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, actorID)
}

// Actor returns the actor id stored in ctx, or "".
func Actor(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
