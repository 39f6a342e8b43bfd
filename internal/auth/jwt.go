// Package auth issues and checks the bearer tokens used by the local
// identity directory, hashes passwords, and provides the HTTP middleware
// that turns a token into an authenticated subject on the request context.
//
// TOKEN FLOW:
//  1. POST /api/v1/user/signin with username + password
//  2. The local directory verifies the bcrypt hash and issues a JWT whose
//     "sub" claim is the account's subject
//  3. The client sends it back as "Authorization: Bearer <jwt>" (or in the
//     "token" cookie for browsers)
//  4. RequireAuth validates it and stores the subject in the context;
//     handlers resolve the subject to a user document
//
// When an external identity provider is configured the tokens come from it
// instead, and validation is delegated to identity.Remote. The middleware
// does not care which: it only needs a Validator.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "clipstream"

// DefaultTokenTTL is the lifetime of a token issued at sign-in.
const DefaultTokenTTL = time.Hour

// TokenService handles JWT creation and validation with one HMAC secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService with the given secret.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret), ttl: DefaultTokenTTL}, nil
}

// WithTTL returns a copy that issues tokens living d. A non-positive d
// keeps the current lifetime.
func (s *TokenService) WithTTL(d time.Duration) *TokenService {
	if d <= 0 {
		return s
	}
	cp := *s
	cp.ttl = d
	return &cp
}

type claims struct {
	jwt.RegisteredClaims
}

// Generate signs a token for subject with the default lifetime.
func (s *TokenService) Generate(subject string) (string, error) {
	return s.GenerateWithDuration(subject, s.ttl)
}

// GenerateWithDuration signs a token with a custom lifetime. Tests use a
// negative duration to get an already expired token.
func (s *TokenService) GenerateWithDuration(subject string, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a JWT string and returns its subject.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid
//   - Token is not expired
//   - Issuer is "clipstream"
//   - Algorithm is HS256 (rejects "alg":"none" and RS/HS confusion)
func (s *TokenService) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("auth: token expired")
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("auth: invalid token claims")
	}

	if c.Subject == "" {
		return "", fmt.Errorf("auth: token has no subject")
	}

	return c.Subject, nil
}
