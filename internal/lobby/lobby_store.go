// internal/lobby/lobby_store.go
package lobby

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Store owns all active lobbies, keyed by lobby ID.
type Store struct {
	mu      sync.Mutex
	lobbies map[uuid.UUID]*Lobby
	logger  *logrus.Logger
}

// NewStore creates an empty lobby store.
func NewStore(logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{
		lobbies: make(map[uuid.UUID]*Lobby),
		logger:  logger,
	}
}

// Create builds a lobby, registers it, and returns it.
func (s *Store) Create(name string) *Lobby {
	l := New(name, s.logger)
	s.mu.Lock()
	s.lobbies[l.ID] = l
	s.mu.Unlock()
	s.logger.WithFields(logrus.Fields{
		"lobby": l.ID, "name": name,
	}).Info("lobby created")
	return l
}

// Get returns the lobby for id, if present.
func (s *Store) Get(id uuid.UUID) (*Lobby, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lobbies[id]
	return l, ok
}

// Delete removes a lobby.
func (s *Store) Delete(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lobbies, id)
}

// List returns the summary status of every active lobby.
func (s *Store) List() []Status {
	s.mu.Lock()
	lobbies := make([]*Lobby, 0, len(s.lobbies))
	for _, l := range s.lobbies {
		lobbies = append(lobbies, l)
	}
	s.mu.Unlock()

	out := make([]Status, 0, len(lobbies))
	for _, l := range lobbies {
		out = append(out, l.Status())
	}
	return out
}
