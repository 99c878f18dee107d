// internal/lobby/lobby.go
package lobby

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/peslobby/teamplay/internal/models"
)

// State-conflict results. These are negative replies, not faults; the
// handler maps them to wire responses and the connection stays open.
var (
	ErrLobbyFull       = errors.New("lobby is full")
	ErrAlreadyJoined   = errors.New("player already joined")
	ErrNoSuchPlayer    = errors.New("no such player in lobby")
	ErrInvalidTeam     = errors.New("invalid team")
	ErrTeamFull        = errors.New("team roster is full")
	ErrInvalidPosition = errors.New("invalid position")
	ErrPositionTaken   = errors.New("position already taken")
)

// MaxPlayers is the hard lobby cap: two full 11-player rosters.
const MaxPlayers = 22

// MaxPerTeam caps each side's roster.
const MaxPerTeam = 11

// Player is one joined participant's lobby state.
type Player struct {
	ID       string      `json:"player_id"`
	Team     models.Team `json:"team"`
	Position string      `json:"position,omitempty"`
	Ready    bool        `json:"ready"`
	Rating   int         `json:"rating,omitempty"`
	JoinedAt time.Time   `json:"joined_at"`
}

// Status is the summary payload for lobby listings.
type Status struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Players    int       `json:"players"`
	MaxPlayers int       `json:"max_players"`
	Status     string    `json:"status"`
}

// Lobby tracks the joined players, their team and position assignments, and
// readiness for one staging room. All mutation goes through its own mutex;
// the network fabric never touches these maps directly.
type Lobby struct {
	ID   uuid.UUID
	Name string

	mu      sync.Mutex
	players map[string]*Player
	rosters map[models.Team]models.Roster

	captains map[models.Team]string
	tactics  map[models.Team]map[string]any

	inMatch bool

	logger *logrus.Logger
}

// New creates an empty lobby.
func New(name string, logger *logrus.Logger) *Lobby {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Lobby{
		ID:      uuid.New(),
		Name:    name,
		players: make(map[string]*Player),
		rosters: map[models.Team]models.Roster{
			models.TeamHome: make(models.Roster),
			models.TeamAway: make(models.Roster),
		},
		captains: make(map[models.Team]string),
		tactics: map[models.Team]map[string]any{
			models.TeamHome: {"pressure": 50, "attacking_style": "possession"},
			models.TeamAway: {"pressure": 50, "attacking_style": "counter"},
		},
		logger: logger,
	}
}

// Join adds a player. Returns ErrLobbyFull at capacity.
func (l *Lobby) Join(playerID string, rating int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.players[playerID]; ok {
		return ErrAlreadyJoined
	}
	if len(l.players) >= MaxPlayers {
		return ErrLobbyFull
	}
	l.players[playerID] = &Player{
		ID:       playerID,
		Team:     models.TeamNone,
		Rating:   rating,
		JoinedAt: time.Now(),
	}
	l.logger.WithFields(logrus.Fields{
		"lobby": l.ID, "player": playerID,
	}).Info("player joined lobby")
	return nil
}

// AssignTeam moves a player onto a team, vacating any slot they held on the
// other side first. Enforces the 11-per-team cap.
func (l *Lobby) AssignTeam(playerID string, team models.Team) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.players[playerID]
	if !ok {
		return ErrNoSuchPlayer
	}
	if !team.Valid() {
		return ErrInvalidTeam
	}
	if p.Team == team {
		return nil
	}
	if l.teamCountUnsafe(team) >= MaxPerTeam {
		return ErrTeamFull
	}
	l.vacateUnsafe(p)
	p.Team = team
	return nil
}

// AssignPosition claims a formation slot on the player's team. The player
// must already be on a team; a taken slot is rejected.
func (l *Lobby) AssignPosition(playerID, position string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.players[playerID]
	if !ok {
		return ErrNoSuchPlayer
	}
	if !p.Team.Valid() {
		return ErrInvalidTeam
	}
	if !models.ValidPosition(position) {
		return ErrInvalidPosition
	}
	roster := l.rosters[p.Team]
	if holder, taken := roster[position]; taken && holder != playerID {
		return ErrPositionTaken
	}
	if p.Position != "" {
		delete(roster, p.Position)
	}
	roster[position] = playerID
	p.Position = position
	l.logger.WithFields(logrus.Fields{
		"lobby": l.ID, "player": playerID, "team": p.Team, "position": position,
	}).Info("position assigned")
	return nil
}

// SetReady flags a player's readiness.
func (l *Lobby) SetReady(playerID string, ready bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.players[playerID]
	if !ok {
		return ErrNoSuchPlayer
	}
	p.Ready = ready
	return nil
}

// Remove frees the player's roster slot and drops them from the lobby.
func (l *Lobby) Remove(playerID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.players[playerID]
	if !ok {
		return false
	}
	l.vacateUnsafe(p)
	delete(l.players, playerID)
	for team, captain := range l.captains {
		if captain == playerID {
			delete(l.captains, team)
		}
	}
	l.logger.WithFields(logrus.Fields{
		"lobby": l.ID, "player": playerID,
	}).Info("player left lobby")
	return true
}

// IsReady reports the kickoff-gating predicate: at least two players, every
// present player flagged ready, and team sizes within one of each other.
func (l *Lobby) IsReady() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.players) < 2 {
		return false
	}
	for _, p := range l.players {
		if !p.Ready {
			return false
		}
	}
	home := l.teamCountUnsafe(models.TeamHome)
	away := l.teamCountUnsafe(models.TeamAway)
	diff := home - away
	if diff < 0 {
		diff = -diff
	}
	return diff <= 1
}

// IsMatchReady is the stricter pre-kickoff check: all 11 positions filled
// on both sides.
func (l *Lobby) IsMatchReady() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rosters[models.TeamHome].Complete() && l.rosters[models.TeamAway].Complete()
}

// Rosters returns independent copies of both team rosters.
func (l *Lobby) Rosters() (home, away models.Roster) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rosters[models.TeamHome].Clone(), l.rosters[models.TeamAway].Clone()
}

// ResetRosters clears both rosters and all ready flags after a match is
// created, keeping the joined players for the next staging round.
func (l *Lobby) ResetRosters() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rosters[models.TeamHome] = make(models.Roster)
	l.rosters[models.TeamAway] = make(models.Roster)
	for _, p := range l.players {
		p.Team = models.TeamNone
		p.Position = ""
		p.Ready = false
	}
}

// Player returns a copy of one player's state.
func (l *Lobby) Player(playerID string) (Player, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.players[playerID]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// Players returns a snapshot of all joined players.
func (l *Lobby) Players() []Player {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Player, 0, len(l.players))
	for _, p := range l.players {
		out = append(out, *p)
	}
	return out
}

// SetInMatch flips the lobby between waiting and in_match.
func (l *Lobby) SetInMatch(inMatch bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inMatch = inMatch
}

// SetCaptain nominates a joined player as team captain.
func (l *Lobby) SetCaptain(team models.Team, playerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !team.Valid() {
		return ErrInvalidTeam
	}
	if _, ok := l.players[playerID]; !ok {
		return ErrNoSuchPlayer
	}
	l.captains[team] = playerID
	return nil
}

// UpdateTactics merges tactic settings for one team.
func (l *Lobby) UpdateTactics(team models.Team, tactics map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !team.Valid() {
		return ErrInvalidTeam
	}
	for k, v := range tactics {
		l.tactics[team][k] = v
	}
	return nil
}

// Status builds the listing summary.
func (l *Lobby) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	status := "waiting"
	if l.inMatch {
		status = "in_match"
	}
	return Status{
		ID:         l.ID,
		Name:       l.Name,
		Players:    len(l.players),
		MaxPlayers: MaxPlayers,
		Status:     status,
	}
}

// vacateUnsafe frees the player's roster slot, if any. Lock held by caller.
func (l *Lobby) vacateUnsafe(p *Player) {
	if p.Team.Valid() && p.Position != "" {
		delete(l.rosters[p.Team], p.Position)
	}
	p.Position = ""
	p.Team = models.TeamNone
}

// teamCountUnsafe counts players currently assigned to team. Lock held.
func (l *Lobby) teamCountUnsafe(team models.Team) int {
	n := 0
	for _, p := range l.players {
		if p.Team == team {
			n++
		}
	}
	return n
}
