package gateway

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAuthDisabled is returned by Verify when no secret is configured —
// every connection is then treated as pre-authenticated (§4.F: "the
// first Auth message must match the configured bearer token, if any").
var ErrAuthDisabled = errors.New("gateway: auth disabled")

// ErrInvalidToken is returned by Verify for a malformed or expired
// bearer token.
var ErrInvalidToken = errors.New("gateway: invalid token")

// TokenVerifier checks the bearer token carried in an Auth message.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier builds a verifier around an HS256 secret. An empty
// secret disables verification entirely.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Enabled reports whether a secret is configured.
func (v *TokenVerifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

type gatewayClaims struct {
	jwt.RegisteredClaims
}

// Verify parses and validates token, returning the subject it carries.
func (v *TokenVerifier) Verify(token string) (string, error) {
	if !v.Enabled() {
		return "", ErrAuthDisabled
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &gatewayClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*gatewayClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// IssueToken mints a bearer token for subject, mainly useful for tests
// and the doctor/CLI tooling that needs to exercise the Auth flow
// end-to-end without a separate identity provider.
func (v *TokenVerifier) IssueToken(subject string, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", ErrAuthDisabled
	}
	claims := gatewayClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
