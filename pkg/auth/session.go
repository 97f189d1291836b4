package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionIssuer identifies cookies minted by this proxy
const sessionIssuer = "tfgate"

// SessionClaims is the payload of the local session cookie. It only proves
// the local login; the backend token stays in the credential store.
type SessionClaims struct {
	jwt.RegisteredClaims
}

// UserID returns the user id carried in the subject claim
func (c *SessionClaims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid session subject %q: %w", c.Subject, err)
	}
	return id, nil
}

// SessionCodec signs and parses local session values
type SessionCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionCodec creates a codec keyed by the secret signing key
func NewSessionCodec(secret string, ttl time.Duration) *SessionCodec {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionCodec{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL returns the session lifetime
func (c *SessionCodec) TTL() time.Duration {
	return c.ttl
}

// Encode mints a signed session value for the user
func (c *SessionCodec) Encode(userID int64) (string, time.Time, error) {
	now := c.now()
	expiresAt := now.Add(c.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session: %w", err)
	}
	return signed, expiresAt, nil
}

// Decode validates a session value and returns the user id
func (c *SessionCodec) Decode(value string) (int64, error) {
	if value == "" {
		return 0, ErrUnauthenticated
	}

	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return 0, errors.Join(ErrUnauthenticated, err)
	}
	if !token.Valid {
		return 0, ErrUnauthenticated
	}

	return claims.UserID()
}
