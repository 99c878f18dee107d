// internal/handlers/handlers.go
package handlers

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/peslobby/teamplay/internal/auth"
	"github.com/peslobby/teamplay/internal/lobby"
	"github.com/peslobby/teamplay/internal/match"
	"github.com/peslobby/teamplay/internal/models"
	"github.com/peslobby/teamplay/internal/network"
)

// Server binds the wire protocol to the lobby and match managers. It owns
// the connection-to-player mapping; everything else lives in the managers.
type Server struct {
	registry *network.Registry
	lobbies  *lobby.Store
	matches  *match.Manager
	sessions *auth.SessionManager
	logger   *logrus.Logger

	// defaultLobby serves joins that carry no lobby_id, which is how the
	// emulated game client behaves.
	defaultLobby *lobby.Lobby

	mu            sync.Mutex
	playerByConn  map[string]string
	connByPlayer  map[string]string
	lobbyByPlayer map[string]*lobby.Lobby
	lobbyByMatch  map[int]*lobby.Lobby
}

// NewServer wires the handler layer together. The default lobby is created
// immediately so clients can join without an operator action.
func NewServer(registry *network.Registry, lobbies *lobby.Store, matches *match.Manager, sessions *auth.SessionManager, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		registry:      registry,
		lobbies:       lobbies,
		matches:       matches,
		sessions:      sessions,
		logger:        logger,
		defaultLobby:  lobbies.Create("main"),
		playerByConn:  make(map[string]string),
		connByPlayer:  make(map[string]string),
		lobbyByPlayer: make(map[string]*lobby.Lobby),
		lobbyByMatch:  make(map[int]*lobby.Lobby),
	}
}

// Bind registers every message handler and the disconnect hook.
func (s *Server) Bind() {
	s.registry.Handle("join_lobby", s.handleJoinLobby)
	s.registry.Handle("select_position", s.handleSelectPosition)
	s.registry.Handle("ready", s.handleReady)
	s.registry.Handle("reconnect", s.handleReconnect)
	s.registry.Handle("match_action", s.handleMatchAction)
	s.registry.Handle("position_update", s.handlePositionUpdate)
	s.registry.Handle("game_event", s.handleGameEvent)
	s.registry.Handle("set_captain", s.handleSetCaptain)
	s.registry.Handle("update_tactics", s.handleUpdateTactics)
	s.registry.Handle("list_lobbies", s.handleListLobbies)
	s.registry.OnDisconnect = s.handleDisconnect
	s.matches.OnFinish = s.handleMatchFinished
}

func (s *Server) handleJoinLobby(connID string, env models.Envelope) {
	var req models.JoinLobbyRequest
	if err := json.Unmarshal(env.Raw, &req); err != nil || req.PlayerID == "" {
		_ = s.registry.Send(connID, models.NewError("Invalid join_lobby message", "player_id is required"))
		return
	}

	lob := s.defaultLobby
	if req.LobbyID != "" {
		id, err := uuid.Parse(req.LobbyID)
		if err != nil {
			_ = s.registry.Send(connID, models.NewError("Invalid lobby_id", req.LobbyID))
			return
		}
		var ok bool
		lob, ok = s.lobbies.Get(id)
		if !ok {
			_ = s.registry.Send(connID, models.NewError("No such lobby", req.LobbyID))
			return
		}
	}

	if err := lob.Join(req.PlayerID, req.Rating); err != nil {
		_ = s.registry.Send(connID, models.NewError("Join rejected", err.Error()))
		return
	}

	s.mu.Lock()
	s.playerByConn[connID] = req.PlayerID
	s.connByPlayer[req.PlayerID] = connID
	s.lobbyByPlayer[req.PlayerID] = lob
	s.mu.Unlock()

	token, err := s.sessions.IssueToken(req.PlayerID)
	if err != nil {
		s.logger.WithError(err).Warn("failed to issue session token")
	}

	_ = s.registry.Send(connID, models.LobbyJoinedReply{
		Type:               "lobby_joined",
		LobbyID:            lob.ID.String(),
		PlayerID:           req.PlayerID,
		AvailablePositions: availablePositions(lob),
		SessionToken:       token,
	})
}

func (s *Server) handleSelectPosition(connID string, env models.Envelope) {
	var req models.SelectPositionRequest
	if err := json.Unmarshal(env.Raw, &req); err != nil || req.PlayerID == "" {
		_ = s.registry.Send(connID, models.NewError("Invalid select_position message", "player_id is required"))
		return
	}
	lob, ok := s.lobbyForPlayer(req.PlayerID)
	if !ok {
		_ = s.registry.Send(connID, models.NewError("Not in a lobby", req.PlayerID))
		return
	}

	if err := lob.AssignTeam(req.PlayerID, req.Team); err != nil {
		s.sendPositionRejected(connID, req, err.Error())
		return
	}
	if err := lob.AssignPosition(req.PlayerID, req.Position); err != nil {
		s.sendPositionRejected(connID, req, err.Error())
		return
	}

	_ = s.registry.Send(connID, models.PositionReply{
		Type:     "position_confirmed",
		PlayerID: req.PlayerID,
		Team:     req.Team,
		Position: req.Position,
	})
}

func (s *Server) sendPositionRejected(connID string, req models.SelectPositionRequest, reason string) {
	_ = s.registry.Send(connID, models.PositionReply{
		Type:     "position_taken",
		PlayerID: req.PlayerID,
		Team:     req.Team,
		Position: req.Position,
		Reason:   reason,
	})
}

func (s *Server) handleReady(connID string, env models.Envelope) {
	var req models.ReadyRequest
	if err := json.Unmarshal(env.Raw, &req); err != nil || req.PlayerID == "" {
		_ = s.registry.Send(connID, models.NewError("Invalid ready message", "player_id is required"))
		return
	}
	ready := true
	if req.Ready != nil {
		ready = *req.Ready
	}

	lob, ok := s.lobbyForPlayer(req.PlayerID)
	if !ok {
		_ = s.registry.Send(connID, models.NewError("Not in a lobby", req.PlayerID))
		return
	}
	if err := lob.SetReady(req.PlayerID, ready); err != nil {
		_ = s.registry.Send(connID, models.NewError("Ready rejected", err.Error()))
		return
	}

	if !lob.IsReady() || !lob.IsMatchReady() {
		return
	}

	home, away := lob.Rosters()
	mt := s.matches.Create(home, away)
	lob.SetInMatch(true)
	s.mu.Lock()
	s.lobbyByMatch[mt.ID] = lob
	s.mu.Unlock()

	s.registry.Broadcast(models.MatchStartedBroadcast{
		Type:     "match_started",
		MatchID:  mt.ID,
		HomeTeam: mt.Home,
		AwayTeam: mt.Away,
		Ports:    mt.Ports,
	}, "")
	s.logger.WithFields(logrus.Fields{
		"lobby": lob.ID, "match": mt.ID,
	}).Info("lobby ready, match created")

	// The lobby stages the next round while this match plays; its in_match
	// status clears when the last of its matches finishes.
	lob.ResetRosters()
}

func (s *Server) handleReconnect(connID string, env models.Envelope) {
	var req models.ReconnectRequest
	if err := json.Unmarshal(env.Raw, &req); err != nil || req.PlayerID == "" {
		_ = s.registry.Send(connID, models.NewError("Invalid reconnect message", "player_id is required"))
		return
	}

	// A stale or foreign token fails closed; a missing token falls through
	// to the disconnect-record check alone, matching the original client
	// which never stored tokens.
	if req.Token != "" {
		sub, err := s.sessions.VerifyToken(req.Token)
		if err != nil || sub != req.PlayerID {
			_ = s.registry.Send(connID, models.ReconnectFailedReply{
				Type: "reconnect_failed", Reason: "invalid session token",
			})
			return
		}
	}

	rec, ok := s.matches.HandleReconnect(req.PlayerID)
	if !ok {
		_ = s.registry.Send(connID, models.ReconnectFailedReply{
			Type: "reconnect_failed", Reason: "no recoverable match",
		})
		return
	}

	s.mu.Lock()
	s.playerByConn[connID] = req.PlayerID
	s.connByPlayer[req.PlayerID] = connID
	s.mu.Unlock()

	_ = s.registry.Send(connID, models.ReconnectSuccessReply{
		Type:     "reconnect_success",
		MatchID:  rec.MatchID,
		Team:     rec.Team,
		Position: rec.Position,
	})
}

func (s *Server) handleMatchAction(connID string, env models.Envelope) {
	var req models.MatchActionRequest
	if err := json.Unmarshal(env.Raw, &req); err != nil || req.Action == "" {
		_ = s.registry.Send(connID, models.NewError("Invalid match_action message", "action is required"))
		return
	}

	var ok bool
	switch req.Action {
	case "initialize_match":
		ok = s.matches.Initialize(req.MatchID, req.Data)
	case "start_match":
		ok = s.matches.Start(req.MatchID)
	case "pause_match":
		ok = s.matches.Pause(req.MatchID)
	case "resume_match":
		ok = s.matches.Resume(req.MatchID)
	default:
		// Unrecognized actions are relayed to the other participants
		// untouched; the clients own their meaning.
		if _, exists := s.matches.Get(req.MatchID); !exists {
			_ = s.registry.Send(connID, models.NewError("No such match", req.Action))
			return
		}
		s.registry.Broadcast(map[string]any{
			"type":     "match_update",
			"match_id": req.MatchID,
			"action":   req.Action,
			"data":     req.Data,
		}, connID)
		return
	}

	if !ok {
		_ = s.registry.Send(connID, models.NewError("Match action rejected", req.Action))
	}
}

func (s *Server) handlePositionUpdate(connID string, env models.Envelope) {
	var req models.PositionUpdateRequest
	if err := json.Unmarshal(env.Raw, &req); err != nil || req.PlayerID == "" {
		_ = s.registry.Send(connID, models.NewError("Invalid position_update message", "player_id is required"))
		return
	}
	if !s.matches.AssignPosition(req.MatchID, req.Team, req.Position, req.PlayerID) {
		_ = s.registry.Send(connID, models.NewError("Position update rejected", req.Position))
		return
	}
	s.registry.Broadcast(map[string]any{
		"type":      "position_changed",
		"match_id":  req.MatchID,
		"player_id": req.PlayerID,
		"team":      req.Team,
		"position":  req.Position,
	}, "")
	s.matches.Synchronize(req.MatchID)
}

func (s *Server) handleGameEvent(connID string, env models.Envelope) {
	var req models.GameEventRequest
	if err := json.Unmarshal(env.Raw, &req); err != nil || req.EventType == "" {
		_ = s.registry.Send(connID, models.NewError("Invalid game_event message", "event_type is required"))
		return
	}
	mt, exists := s.matches.Get(req.MatchID)
	if !exists {
		_ = s.registry.Send(connID, models.NewError("No such match", req.EventType))
		return
	}

	if req.EventType == "goal" && req.Team.Valid() && req.Score != nil {
		s.matches.UpdateScore(req.MatchID, req.Team, *req.Score)
	}
	s.matches.AddEvent(req.MatchID, req.EventType, req.Data)

	s.registry.Broadcast(map[string]any{
		"type":       "game_event",
		"match_id":   req.MatchID,
		"event_type": req.EventType,
		"team":       req.Team,
		"score":      req.Score,
		"data":       req.Data,
		"state":      mt.State.Summary(),
	}, "")
}

func (s *Server) handleSetCaptain(connID string, env models.Envelope) {
	var req struct {
		PlayerID string      `json:"player_id"`
		Team     models.Team `json:"team"`
	}
	if err := json.Unmarshal(env.Raw, &req); err != nil || req.PlayerID == "" {
		_ = s.registry.Send(connID, models.NewError("Invalid set_captain message", "player_id is required"))
		return
	}
	lob, ok := s.lobbyForPlayer(req.PlayerID)
	if !ok {
		_ = s.registry.Send(connID, models.NewError("Not in a lobby", req.PlayerID))
		return
	}
	if err := lob.SetCaptain(req.Team, req.PlayerID); err != nil {
		_ = s.registry.Send(connID, models.NewError("Captain rejected", err.Error()))
		return
	}
	s.registry.Broadcast(map[string]any{
		"type":      "captain_changed",
		"lobby_id":  lob.ID.String(),
		"team":      req.Team,
		"player_id": req.PlayerID,
	}, "")
}

func (s *Server) handleUpdateTactics(connID string, env models.Envelope) {
	var req struct {
		PlayerID string         `json:"player_id"`
		Team     models.Team    `json:"team"`
		Tactics  map[string]any `json:"tactics"`
	}
	if err := json.Unmarshal(env.Raw, &req); err != nil || len(req.Tactics) == 0 {
		_ = s.registry.Send(connID, models.NewError("Invalid update_tactics message", "tactics are required"))
		return
	}
	lob, ok := s.lobbyForPlayer(req.PlayerID)
	if !ok {
		_ = s.registry.Send(connID, models.NewError("Not in a lobby", req.PlayerID))
		return
	}
	if err := lob.UpdateTactics(req.Team, req.Tactics); err != nil {
		_ = s.registry.Send(connID, models.NewError("Tactics rejected", err.Error()))
		return
	}
	s.registry.Broadcast(map[string]any{
		"type":     "tactics_updated",
		"lobby_id": lob.ID.String(),
		"team":     req.Team,
		"tactics":  req.Tactics,
	}, connID)
}

func (s *Server) handleListLobbies(connID string, _ models.Envelope) {
	_ = s.registry.Send(connID, map[string]any{
		"type":    "lobby_list",
		"lobbies": s.lobbies.List(),
	})
}

// handleDisconnect runs after the registry removes a connection. The
// player leaves their lobby either way; if they held a slot in an active
// match the recovery record is created by the match manager.
func (s *Server) handleDisconnect(connID string) {
	s.mu.Lock()
	playerID, ok := s.playerByConn[connID]
	var lob *lobby.Lobby
	if ok {
		delete(s.playerByConn, connID)
		if s.connByPlayer[playerID] == connID {
			delete(s.connByPlayer, playerID)
		}
		lob = s.lobbyByPlayer[playerID]
		delete(s.lobbyByPlayer, playerID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	s.matches.HandleDisconnect(playerID)
	if lob != nil {
		lob.Remove(playerID)
	}
}

// handleMatchFinished clears the owning lobby's in_match status once none
// of its matches are live.
func (s *Server) handleMatchFinished(matchID int) {
	s.mu.Lock()
	lob := s.lobbyByMatch[matchID]
	delete(s.lobbyByMatch, matchID)
	stillPlaying := false
	for _, other := range s.lobbyByMatch {
		if other == lob {
			stillPlaying = true
			break
		}
	}
	s.mu.Unlock()
	if lob != nil && !stillPlaying {
		lob.SetInMatch(false)
	}
}

func (s *Server) lobbyForPlayer(playerID string) (*lobby.Lobby, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lob, ok := s.lobbyByPlayer[playerID]
	return lob, ok
}

// availablePositions lists the unoccupied slots on each side.
func availablePositions(lob *lobby.Lobby) map[models.Team][]string {
	home, away := lob.Rosters()
	out := map[models.Team][]string{
		models.TeamHome: {},
		models.TeamAway: {},
	}
	for _, pos := range models.Positions {
		if home[pos] == "" {
			out[models.TeamHome] = append(out[models.TeamHome], pos)
		}
		if away[pos] == "" {
			out[models.TeamAway] = append(out[models.TeamAway], pos)
		}
	}
	return out
}
