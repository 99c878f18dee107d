// internal/handlers/handlers_test.go
package handlers

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peslobby/teamplay/internal/auth"
	"github.com/peslobby/teamplay/internal/lobby"
	"github.com/peslobby/teamplay/internal/match"
	"github.com/peslobby/teamplay/internal/models"
	"github.com/peslobby/teamplay/internal/network"
)

// stubConn records every write; reads block forever since these tests
// drive handlers directly.
type stubConn struct {
	addr   string
	mu     sync.Mutex
	writes []map[string]any
}

func (c *stubConn) ReadMessage() ([]byte, error) {
	select {}
}

func (c *stubConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	c.writes = append(c.writes, m)
	return nil
}

func (c *stubConn) Close() error       { return nil }
func (c *stubConn) RemoteAddr() string { return c.addr }

func (c *stubConn) last() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.writes) == 0 {
		return nil
	}
	return c.writes[len(c.writes)-1]
}

func (c *stubConn) lastOfType(msgType string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.writes) - 1; i >= 0; i-- {
		if c.writes[i]["type"] == msgType {
			return c.writes[i]
		}
	}
	return nil
}

type fixture struct {
	srv      *Server
	registry *network.Registry
	conns    map[string]*stubConn
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := network.NewRegistry(nil)
	matches := match.NewManager(match.Config{
		HalfDuration: 300 * time.Second,
		FullDuration: 600 * time.Second,
		Ports:        models.MatchPorts{Home: 50000, Away: 50001},
	}, nil)
	matches.SetBroadcaster(registry)
	srv := NewServer(registry, lobby.NewStore(nil), matches, auth.NewSessionManager("test-secret", 0), nil)
	srv.Bind()
	return &fixture{srv: srv, registry: registry, conns: make(map[string]*stubConn)}
}

func (f *fixture) connect(addr string) *stubConn {
	c := &stubConn{addr: addr}
	f.registry.Register(c)
	f.conns[addr] = c
	return c
}

func env(t *testing.T, v any) models.Envelope {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var head struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(raw, &head))
	return models.Envelope{Type: head.Type, Raw: raw}
}

func (f *fixture) join(t *testing.T, connID, playerID string) {
	t.Helper()
	f.srv.handleJoinLobby(connID, env(t, models.JoinLobbyRequest{
		Type: "join_lobby", PlayerID: playerID,
	}))
	reply := f.conns[connID].last()
	require.NotNil(t, reply)
	require.Equal(t, "lobby_joined", reply["type"])
}

func (f *fixture) takePosition(t *testing.T, connID, playerID string, team models.Team, pos string) {
	t.Helper()
	f.srv.handleSelectPosition(connID, env(t, models.SelectPositionRequest{
		Type: "select_position", PlayerID: playerID, Team: team, Position: pos,
	}))
	reply := f.conns[connID].last()
	require.NotNil(t, reply)
	require.Equal(t, "position_confirmed", reply["type"])
}

// fillLobby joins 22 players, fills every position, and readies all but
// the last one.
func (f *fixture) fillLobby(t *testing.T) (lastConn, lastPlayer string) {
	t.Helper()
	i := 0
	for _, team := range []models.Team{models.TeamHome, models.TeamAway} {
		for _, pos := range models.Positions {
			connID := fmt.Sprintf("10.0.0.%d:400", i)
			playerID := fmt.Sprintf("player-%d", i)
			f.connect(connID)
			f.join(t, connID, playerID)
			f.takePosition(t, connID, playerID, team, pos)
			lastConn, lastPlayer = connID, playerID
			i++
			if i < 22 {
				f.srv.handleReady(connID, env(t, models.ReadyRequest{
					Type: "ready", PlayerID: playerID,
				}))
			}
		}
	}
	return lastConn, lastPlayer
}

func TestJoinLobbyReply(t *testing.T) {
	f := newFixture(t)
	conn := f.connect("10.0.0.1:400")

	f.srv.handleJoinLobby(conn.addr, env(t, models.JoinLobbyRequest{
		Type: "join_lobby", PlayerID: "alice",
	}))

	reply := conn.last()
	require.NotNil(t, reply)
	assert.Equal(t, "lobby_joined", reply["type"])
	assert.Equal(t, "alice", reply["player_id"])

	positions, ok := reply["available_positions"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, positions["home"], len(models.Positions))
	assert.Len(t, positions["away"], len(models.Positions))

	token, _ := reply["session_token"].(string)
	require.NotEmpty(t, token)
	sub, err := f.srv.sessions.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)
}

func TestJoinLobbyRejectsMissingPlayerID(t *testing.T) {
	f := newFixture(t)
	conn := f.connect("10.0.0.1:400")

	f.srv.handleJoinLobby(conn.addr, env(t, map[string]any{"type": "join_lobby"}))
	reply := conn.last()
	require.NotNil(t, reply)
	assert.Equal(t, "error", reply["type"])
}

func TestSelectPositionConflict(t *testing.T) {
	f := newFixture(t)
	alice := f.connect("10.0.0.1:400")
	bob := f.connect("10.0.0.2:400")
	f.join(t, alice.addr, "alice")
	f.join(t, bob.addr, "bob")

	f.takePosition(t, alice.addr, "alice", models.TeamHome, "GK")

	f.srv.handleSelectPosition(bob.addr, env(t, models.SelectPositionRequest{
		Type: "select_position", PlayerID: "bob", Team: models.TeamHome, Position: "GK",
	}))
	reply := bob.last()
	require.NotNil(t, reply)
	assert.Equal(t, "position_taken", reply["type"])
}

func TestReadyCreatesMatchWhenLobbyComplete(t *testing.T) {
	f := newFixture(t)
	lastConn, lastPlayer := f.fillLobby(t)

	assert.Nil(t, f.conns[lastConn].lastOfType("match_started"), "no match before the last ready")

	f.srv.handleReady(lastConn, env(t, models.ReadyRequest{
		Type: "ready", PlayerID: lastPlayer,
	}))

	// Everyone, including the last to ready up, sees the kickoff.
	for _, conn := range f.conns {
		started := conn.lastOfType("match_started")
		require.NotNil(t, started)
		assert.Equal(t, float64(1), started["match_id"])
		ports, ok := started["ports"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, float64(50000), ports["home"])
		assert.Equal(t, float64(50001), ports["away"])
	}

	// The lobby stages the next round from a clean slate.
	home, away := f.srv.defaultLobby.Rosters()
	assert.Empty(t, home)
	assert.Empty(t, away)
}

func TestDisconnectAndReconnect(t *testing.T) {
	f := newFixture(t)
	lastConn, lastPlayer := f.fillLobby(t)
	f.srv.handleReady(lastConn, env(t, models.ReadyRequest{
		Type: "ready", PlayerID: lastPlayer,
	}))
	require.True(t, f.srv.matches.Start(1))

	// player-0 held home GK; their connection drops.
	f.registry.Deregister("10.0.0.0:400")

	fresh := f.connect("10.9.9.9:400")
	f.srv.handleReconnect(fresh.addr, env(t, models.ReconnectRequest{
		Type: "reconnect", PlayerID: "player-0",
	}))

	reply := fresh.lastOfType("reconnect_success")
	require.NotNil(t, reply)
	assert.Equal(t, float64(1), reply["match_id"])
	assert.Equal(t, "home", reply["team"])
	assert.Equal(t, "GK", reply["position"])
}

func TestDisconnectClearsLobbyMembership(t *testing.T) {
	f := newFixture(t)
	lastConn, lastPlayer := f.fillLobby(t)
	f.srv.handleReady(lastConn, env(t, models.ReadyRequest{
		Type: "ready", PlayerID: lastPlayer,
	}))
	require.True(t, f.srv.matches.Start(1))

	// player-0 drops mid-match; the lobby removed them, so a later
	// select_position must not reach their old lobby.
	f.registry.Deregister("10.0.0.0:400")

	fresh := f.connect("10.9.9.9:400")
	f.srv.handleSelectPosition(fresh.addr, env(t, models.SelectPositionRequest{
		Type: "select_position", PlayerID: "player-0", Team: models.TeamHome, Position: "GK",
	}))
	reply := fresh.last()
	require.NotNil(t, reply)
	assert.Equal(t, "error", reply["type"])
}

func TestLobbyStatusTracksMatchLifecycle(t *testing.T) {
	f := newFixture(t)
	lastConn, lastPlayer := f.fillLobby(t)

	assert.Equal(t, "waiting", f.srv.defaultLobby.Status().Status)

	f.srv.handleReady(lastConn, env(t, models.ReadyRequest{
		Type: "ready", PlayerID: lastPlayer,
	}))
	assert.Equal(t, "in_match", f.srv.defaultLobby.Status().Status)

	f.srv.matches.Finish(1)
	assert.Equal(t, "waiting", f.srv.defaultLobby.Status().Status)
}

func TestReconnectWithoutRecordFails(t *testing.T) {
	f := newFixture(t)
	conn := f.connect("10.0.0.1:400")

	f.srv.handleReconnect(conn.addr, env(t, models.ReconnectRequest{
		Type: "reconnect", PlayerID: "nobody",
	}))
	reply := conn.last()
	require.NotNil(t, reply)
	assert.Equal(t, "reconnect_failed", reply["type"])
}

func TestReconnectRejectsForeignToken(t *testing.T) {
	f := newFixture(t)
	conn := f.connect("10.0.0.1:400")

	token, err := f.srv.sessions.IssueToken("someone-else")
	require.NoError(t, err)

	f.srv.handleReconnect(conn.addr, env(t, models.ReconnectRequest{
		Type: "reconnect", PlayerID: "alice", Token: token,
	}))
	reply := conn.last()
	require.NotNil(t, reply)
	assert.Equal(t, "reconnect_failed", reply["type"])
	assert.Equal(t, "invalid session token", reply["reason"])
}

func TestGameEventGoalUpdatesScore(t *testing.T) {
	f := newFixture(t)
	lastConn, lastPlayer := f.fillLobby(t)
	f.srv.handleReady(lastConn, env(t, models.ReadyRequest{
		Type: "ready", PlayerID: lastPlayer,
	}))
	require.True(t, f.srv.matches.Start(1))

	score := 1
	f.srv.handleGameEvent(lastConn, env(t, models.GameEventRequest{
		Type: "game_event", MatchID: 1, EventType: "goal",
		Team: models.TeamHome, Score: &score,
	}))

	mt, ok := f.srv.matches.Get(1)
	require.True(t, ok)
	assert.Equal(t, [2]int{1, 0}, mt.State.Score())

	broadcastSeen := f.conns[lastConn].lastOfType("game_event")
	require.NotNil(t, broadcastSeen)
	assert.Equal(t, "goal", broadcastSeen["event_type"])
}

func TestMatchActionRelayUnknownAction(t *testing.T) {
	f := newFixture(t)
	lastConn, lastPlayer := f.fillLobby(t)
	f.srv.handleReady(lastConn, env(t, models.ReadyRequest{
		Type: "ready", PlayerID: lastPlayer,
	}))

	other := f.connect("10.8.8.8:400")
	f.srv.handleMatchAction(lastConn, env(t, models.MatchActionRequest{
		Type: "match_action", MatchID: 1, Action: "substitution",
		Data: map[string]any{"out": "player-3", "in": "player-21"},
	}))

	relayed := other.lastOfType("match_update")
	require.NotNil(t, relayed)
	assert.Equal(t, "substitution", relayed["action"])
	assert.Nil(t, f.conns[lastConn].lastOfType("match_update"), "sender excluded from relay")
}
