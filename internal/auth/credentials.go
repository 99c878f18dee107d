// internal/auth/credentials.go
package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/peslobby/teamplay/internal/database"
)

// ErrNoCredential reports a lookup for a login the source does not know.
var ErrNoCredential = errors.New("no credential for login")

// CredentialSource resolves a login name to its stored credential string.
// The binding responder feeds the result into its digest chain, so both
// sides must agree on the exact stored value.
type CredentialSource interface {
	LookupCredential(ctx context.Context, username string) (string, error)
}

// StaticSource serves credentials from an in-memory table. Used in tests
// and when the server runs without a database.
type StaticSource struct {
	mu    sync.RWMutex
	creds map[string]string
}

// NewStaticSource copies creds into a new source.
func NewStaticSource(creds map[string]string) *StaticSource {
	table := make(map[string]string, len(creds))
	for k, v := range creds {
		table[k] = v
	}
	return &StaticSource{creds: table}
}

// Set adds or replaces one login's credential.
func (s *StaticSource) Set(username, credential string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[username] = credential
}

// LookupCredential implements CredentialSource.
func (s *StaticSource) LookupCredential(_ context.Context, username string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[username]
	if !ok {
		return "", ErrNoCredential
	}
	return cred, nil
}

// DBSource resolves credentials from the shared WordPress users table.
type DBSource struct{}

// LookupCredential implements CredentialSource.
func (DBSource) LookupCredential(ctx context.Context, username string) (string, error) {
	cred, err := database.LookupCredential(ctx, username)
	if errors.Is(err, database.ErrUserNotFound) {
		return "", ErrNoCredential
	}
	return cred, err
}
