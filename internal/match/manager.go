// internal/match/manager.go
package match

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/peslobby/teamplay/internal/models"
)

// ErrNoSuchMatch reports an operation against an unknown match id.
var ErrNoSuchMatch = errors.New("no such match")

// Broadcaster fans a message out to every live connection. Satisfied by
// the network registry; tests plug in a collector.
type Broadcaster interface {
	Broadcast(v any, excludeID string)
}

// MatchEvent is one logged in-game occurrence, stamped with match time.
type MatchEvent struct {
	Type string         `json:"type"`
	Time float64        `json:"time"`
	Data map[string]any `json:"data,omitempty"`
}

// Match bundles everything the server tracks for one 11v11 session.
type Match struct {
	ID    int               `json:"match_id"`
	Home  models.Roster     `json:"home_team"`
	Away  models.Roster     `json:"away_team"`
	Ports models.MatchPorts `json:"ports"`

	State *State      `json:"-"`
	Stats *Statistics `json:"-"`

	Formations map[models.Team]string `json:"formations"`
	Settings   map[string]any         `json:"settings,omitempty"`
	Events     []MatchEvent           `json:"events,omitempty"`
}

// DisconnectRecord remembers the slot a dropped player held so a later
// reconnect can rebind them.
type DisconnectRecord struct {
	MatchID  int         `json:"match_id"`
	Team     models.Team `json:"team"`
	Position string      `json:"position"`
}

// Config carries the manager's tunables.
type Config struct {
	HalfDuration       time.Duration
	FullDuration       time.Duration
	RatingGapThreshold float64
	Ports              models.MatchPorts
}

// Manager owns the match and active-match tables, assigns monotonic match
// ids, runs the periodic tick, and tracks disconnect records. Its lock
// guards the tables only; broadcasts always happen outside it.
type Manager struct {
	mu           sync.Mutex
	matches      map[int]*Match
	active       map[int]*Match
	disconnected map[string]DisconnectRecord
	nextID       int

	cfg         Config
	broadcaster Broadcaster
	logger      *logrus.Logger

	// OnFinish fires after a match is removed, with its id. Set before Run.
	OnFinish func(matchID int)
}

// NewManager creates an empty manager.
func NewManager(cfg Config, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		matches:      make(map[int]*Match),
		active:       make(map[int]*Match),
		disconnected: make(map[string]DisconnectRecord),
		nextID:       1,
		cfg:          cfg,
		logger:       logger,
	}
}

// SetBroadcaster wires the fan-out sink. Must be called before Run.
func (m *Manager) SetBroadcaster(b Broadcaster) {
	m.broadcaster = b
}

// Create registers a new waiting match for the given rosters and returns it.
func (m *Manager) Create(home, away models.Roster) *Match {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	mt := &Match{
		ID:    id,
		Home:  home.Clone(),
		Away:  away.Clone(),
		Ports: m.cfg.Ports,
		State: NewState(m.cfg.HalfDuration, m.cfg.FullDuration),
		Stats: NewStatistics(),
		Formations: map[models.Team]string{
			models.TeamHome: "4-4-2",
			models.TeamAway: "4-4-2",
		},
	}
	m.matches[id] = mt
	m.mu.Unlock()
	m.logger.WithField("match", id).Info("match created")
	return mt
}

// CreateFromPool balances an ad-hoc pool of 22 rated candidates into two
// teams and creates the match, filling positions in roster order.
func (m *Manager) CreateFromPool(candidates []Candidate) (*Match, error) {
	home, away, err := BalanceTeams(candidates, m.cfg.RatingGapThreshold)
	if err != nil {
		return nil, err
	}
	homeRoster := make(models.Roster, len(home))
	awayRoster := make(models.Roster, len(away))
	for i, pos := range models.Positions {
		homeRoster[pos] = home[i].PlayerID
		awayRoster[pos] = away[i].PlayerID
	}
	return m.Create(homeRoster, awayRoster), nil
}

// Get returns the match for id.
func (m *Manager) Get(id int) (*Match, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.matches[id]
	return mt, ok
}

// ActiveCount returns the number of matches currently running.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Initialize stores operator-supplied settings and announces that clients
// must synchronize before kickoff.
func (m *Manager) Initialize(id int, settings map[string]any) bool {
	m.mu.Lock()
	mt, ok := m.matches[id]
	if ok {
		ok = mt.State.Initialize()
		if ok {
			mt.Settings = settings
		}
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.broadcast(map[string]any{
		"type":     "sync_required",
		"match_id": id,
		"settings": settings,
	})
	return true
}

// Start records kickoff, promotes the match to the active table, and
// broadcasts the new state.
func (m *Manager) Start(id int) bool {
	m.mu.Lock()
	mt, ok := m.matches[id]
	if ok {
		ok = mt.State.Start()
		if ok {
			m.active[id] = mt
		}
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.logger.WithField("match", id).Info("match started")
	m.BroadcastState(id)
	return true
}

// Pause suspends the match clock and broadcasts the new state.
func (m *Manager) Pause(id int) bool {
	mt, ok := m.Get(id)
	if !ok || !mt.State.Pause() {
		return false
	}
	m.BroadcastState(id)
	return true
}

// Resume restarts a paused match and broadcasts the new state.
func (m *Manager) Resume(id int) bool {
	mt, ok := m.Get(id)
	if !ok || !mt.State.Resume() {
		return false
	}
	m.BroadcastState(id)
	return true
}

// UpdateScore sets one team's score. Accepted while the match exists; it
// drives no lifecycle transition.
func (m *Manager) UpdateScore(id int, team models.Team, score int) bool {
	mt, ok := m.Get(id)
	if !ok {
		return false
	}
	if !mt.State.SetScore(team, score) {
		return false
	}
	m.logger.WithFields(logrus.Fields{
		"match": id, "team": team, "score": score,
	}).Info("score updated")
	return true
}

// UpdateFormation changes a team's formation string.
func (m *Manager) UpdateFormation(id int, team models.Team, formation string) bool {
	if !team.Valid() || formation == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.matches[id]
	if !ok {
		return false
	}
	mt.Formations[team] = formation
	return true
}

// AddEvent appends an in-game event to the active match's log, stamped with
// the current match time.
func (m *Manager) AddEvent(id int, eventType string, data map[string]any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.active[id]
	if !ok {
		return false
	}
	mt.Events = append(mt.Events, MatchEvent{
		Type: eventType,
		Time: mt.State.Elapsed().Seconds(),
		Data: data,
	})
	return true
}

// AssignPosition sets a mid-match roster slot, vacating any slot the player
// already held on that team.
func (m *Manager) AssignPosition(id int, team models.Team, position, playerID string) bool {
	if !team.Valid() || !models.ValidPosition(position) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.matches[id]
	if !ok {
		return false
	}
	roster := m.rosterUnsafe(mt, team)
	for pos, pid := range roster {
		if pid == playerID {
			delete(roster, pos)
		}
	}
	roster[position] = playerID
	return true
}

// BroadcastState fans out the match_state_update summary.
func (m *Manager) BroadcastState(id int) {
	mt, ok := m.Get(id)
	if !ok {
		return
	}
	m.broadcast(map[string]any{
		"type":     "match_state_update",
		"match_id": id,
		"state":    mt.State.Summary(),
	})
}

// Synchronize fans out a timestamped full-state snapshot, used after
// position changes so every client converges.
func (m *Manager) Synchronize(id int) {
	mt, ok := m.Get(id)
	if !ok {
		return
	}
	m.broadcast(map[string]any{
		"type":      "state_sync",
		"match_id":  id,
		"state":     mt.State.Summary(),
		"timestamp": time.Now().Unix(),
	})
}

// TickAll evaluates every active match's timers once. The table lock is
// held only for the snapshot; transitions and broadcasts run outside it so
// ticks never block per-connection handling.
func (m *Manager) TickAll() {
	m.mu.Lock()
	snapshot := make([]*Match, 0, len(m.active))
	for _, mt := range m.active {
		snapshot = append(snapshot, mt)
	}
	m.mu.Unlock()

	for _, mt := range snapshot {
		switch mt.State.Tick() {
		case EventHalfTime:
			m.logger.WithField("match", mt.ID).Info("half time")
			m.broadcast(map[string]any{
				"type":     "match_update",
				"match_id": mt.ID,
				"action":   "half_time",
				"data":     mt.State.Summary(),
			})
		case EventMatchEnd:
			m.Finish(mt.ID)
		}
	}
}

// Finish broadcasts final statistics and removes the match, its state, and
// its statistics from live storage.
func (m *Manager) Finish(id int) {
	m.mu.Lock()
	mt, ok := m.matches[id]
	if ok {
		delete(m.matches, id)
		delete(m.active, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.logger.WithField("match", id).Info("match finished")
	m.broadcast(map[string]any{
		"type":        "match_finished",
		"match_id":    id,
		"stats":       mt.Stats.Report(),
		"final_score": mt.State.Score(),
	})
	if m.OnFinish != nil {
		m.OnFinish(id)
	}
}

// HandleDisconnect records the slot a dropped player held in a live match
// and frees it. The remaining team plays short; no automatic substitution.
func (m *Manager) HandleDisconnect(playerID string) (DisconnectRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, mt := range m.active {
		for _, team := range []models.Team{models.TeamHome, models.TeamAway} {
			roster := m.rosterUnsafe(mt, team)
			for pos, pid := range roster {
				if pid != playerID {
					continue
				}
				rec := DisconnectRecord{MatchID: id, Team: team, Position: pos}
				m.disconnected[playerID] = rec
				delete(roster, pos)
				m.logger.WithFields(logrus.Fields{
					"match": id, "player": playerID, "team": team, "position": pos,
				}).Warn("player disconnected from active match")
				return rec, true
			}
		}
	}
	return DisconnectRecord{}, false
}

// HandleReconnect restores a previously disconnected player to their exact
// slot if the match still exists. Either way the record is consumed.
func (m *Manager) HandleReconnect(playerID string) (DisconnectRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.disconnected[playerID]
	if !ok {
		return DisconnectRecord{}, false
	}
	delete(m.disconnected, playerID)
	mt, exists := m.matches[rec.MatchID]
	if !exists {
		// Match ended while they were away.
		return DisconnectRecord{}, false
	}
	m.rosterUnsafe(mt, rec.Team)[rec.Position] = playerID
	m.logger.WithFields(logrus.Fields{
		"match": rec.MatchID, "player": playerID,
	}).Info("player reconnected")
	return rec, true
}

// Run drives the periodic tick until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.TickAll()
		}
	}
}

func (m *Manager) rosterUnsafe(mt *Match, team models.Team) models.Roster {
	if team == models.TeamHome {
		return mt.Home
	}
	return mt.Away
}

func (m *Manager) broadcast(v any) {
	if m.broadcaster == nil {
		return
	}
	m.broadcaster.Broadcast(v, "")
}
