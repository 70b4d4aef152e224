// Package auth verifies the identity tokens presented at connection open.
// The hub never trusts client-claimed user ids; the verified subject here
// is the only identity a connection gets.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken      = errors.New("authentication required")
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is a verified user plus the instant their token stops being
// valid. A zero ExpiresAt means the token does not expire.
type Identity struct {
	UserID    string
	ExpiresAt time.Time
}

// Expired reports whether the identity is past its token's expiry.
func (id Identity) Expired(now time.Time) bool {
	return !id.ExpiresAt.IsZero() && now.After(id.ExpiresAt)
}

// Verifier checks HMAC-SHA256 signed JWTs whose subject claim carries the
// user id.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates token, returning the embedded identity.
func (v *Verifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrNoToken
	}
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims := parsed.Claims.(*jwt.RegisteredClaims)
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	id := Identity{UserID: claims.Subject}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// Sign mints a token for userID, valid for ttl (no expiry when ttl <= 0).
// Used by tests and the token subcommand; production tokens come from the
// identity provider sharing the secret.
func (v *Verifier) Sign(userID string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:  userID,
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// TokenFromRequest extracts the token from the token query parameter or an
// Authorization bearer header, in that order.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
