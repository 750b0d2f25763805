// Package auth verifies the bearer credentials presented by voice clients.
//
// Tokens are HS256 JWTs whose subject identifies the caller. The same
// Verifier guards the WebSocket handshake and the REST routes.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultIssuer is stamped on issued tokens and required on verified ones.
const DefaultIssuer = "voice-relay"

// DefaultTTL is the lifetime of tokens issued without an explicit TTL.
const DefaultTTL = 24 * time.Hour

// Sentinel errors. Every verification failure wraps ErrUnauthorized.
var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrMissingToken = fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrUnauthorized)
	ErrNoSecret     = errors.New("auth: signing secret required")
)

// Claims are the token claims the relay understands.
type Claims struct {
	jwt.RegisteredClaims

	// Name is an optional display name.
	Name string `json:"name,omitempty"`
}

// ParseBearer extracts the token from an Authorization header value.
// The scheme match is case-insensitive.
func ParseBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", fmt.Errorf("%w: expected Bearer scheme", ErrInvalidToken)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// Verifier checks and issues HS256 tokens.
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithIssuer sets the issuer stamped and required on tokens.
func WithIssuer(iss string) Option {
	return func(v *Verifier) { v.issuer = iss }
}

// WithLeeway allows for clock skew when checking exp and nbf.
func WithLeeway(d time.Duration) Option {
	return func(v *Verifier) { v.leeway = d }
}

// NewVerifier creates a Verifier for secret.
func NewVerifier(secret string, opts ...Option) (*Verifier, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	v := &Verifier{
		secret: []byte(secret),
		issuer: DefaultIssuer,
		leeway: 30 * time.Second,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify parses token and returns its claims. Any failure wraps
// ErrUnauthorized.
func (v *Verifier) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}
	return claims, nil
}

// VerifyHeader is ParseBearer followed by Verify.
func (v *Verifier) VerifyHeader(header string) (*Claims, error) {
	token, err := ParseBearer(header)
	if err != nil {
		return nil, err
	}
	return v.Verify(token)
}

// Issue signs a token for subject. A zero ttl uses DefaultTTL.
func (v *Verifier) Issue(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("auth: subject required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}
