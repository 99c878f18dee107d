// internal/auth/session.go
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/argon2"
)

// ErrInvalidToken reports a session token that failed verification.
var ErrInvalidToken = errors.New("invalid session token")

// sessionKeySalt is fixed so every process with the same SESSION_SECRET
// derives the same signing key. Tokens only need to survive one server's
// restarts, not cross trust domains.
var sessionKeySalt = []byte("teamplay-session-v1")

// SessionManager issues and verifies the opaque session tokens handed to
// clients when they join a lobby. The signing key is stretched from the
// configured secret so a short SESSION_SECRET still yields a full-width key.
type SessionManager struct {
	key    []byte
	expiry time.Duration
}

// NewSessionManager derives the signing key from secret. An expiry of zero
// issues tokens without an exp claim.
func NewSessionManager(secret string, expiry time.Duration) *SessionManager {
	key := argon2.IDKey([]byte(secret), sessionKeySalt, 1, 64*1024, 4, 32)
	return &SessionManager{key: key, expiry: expiry}
}

// IssueToken mints a signed token bound to playerID.
func (s *SessionManager) IssueToken(playerID string) (string, error) {
	claims := jwt.MapClaims{
		"sub": playerID,
		"iat": time.Now().Unix(),
	}
	if s.expiry > 0 {
		claims["exp"] = time.Now().Add(s.expiry).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// VerifyToken checks the signature and returns the player id the token was
// issued for.
func (s *SessionManager) VerifyToken(tokenString string) (string, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !t.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	playerID, ok := claims["sub"].(string)
	if !ok || playerID == "" {
		return "", fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	return playerID, nil
}
