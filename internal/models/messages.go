// internal/models/messages.go
package models

import "encoding/json"

// Envelope carries one decoded frame: its declared type plus the raw bytes
// for the handler to unmarshal into its own request struct.
type Envelope struct {
	Type string
	Raw  json.RawMessage
}

// ErrorReply is the structured error sent back on malformed or rejected
// input. The connection stays open.
type ErrorReply struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// NewError builds an ErrorReply.
func NewError(message, detail string) ErrorReply {
	return ErrorReply{Type: "error", Message: message, Detail: detail}
}

// JoinLobbyRequest asks to enter a lobby.
type JoinLobbyRequest struct {
	Type     string `json:"type"`
	PlayerID string `json:"player_id"`
	LobbyID  string `json:"lobby_id,omitempty"`
	Rating   int    `json:"rating,omitempty"`
}

// SelectPositionRequest claims a team slot.
type SelectPositionRequest struct {
	Type     string `json:"type"`
	PlayerID string `json:"player_id"`
	Team     Team   `json:"team"`
	Position string `json:"position"`
}

// ReadyRequest toggles the ready flag. An absent ready field means true,
// so the short form {"type":"ready","player_id":...} marks ready.
type ReadyRequest struct {
	Type     string `json:"type"`
	PlayerID string `json:"player_id"`
	Ready    *bool  `json:"ready,omitempty"`
}

// ReconnectRequest asks to rejoin a match after a drop. Token is the
// session token from the original lobby_joined reply, when the client
// still has it.
type ReconnectRequest struct {
	Type     string `json:"type"`
	PlayerID string `json:"player_id"`
	Token    string `json:"token,omitempty"`
}

// MatchActionRequest drives the match lifecycle.
type MatchActionRequest struct {
	Type    string         `json:"type"`
	MatchID int            `json:"match_id"`
	Action  string         `json:"action"`
	Data    map[string]any `json:"data,omitempty"`
}

// PositionUpdateRequest moves a player to a new slot mid-match.
type PositionUpdateRequest struct {
	Type     string `json:"type"`
	MatchID  int    `json:"match_id"`
	PlayerID string `json:"player_id"`
	Team     Team   `json:"team"`
	Position string `json:"position"`
}

// GameEventRequest reports an in-game occurrence.
type GameEventRequest struct {
	Type      string         `json:"type"`
	MatchID   int            `json:"match_id"`
	EventType string         `json:"event_type"`
	Team      Team           `json:"team,omitempty"`
	Score     *int           `json:"score,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// LobbyJoinedReply confirms a join and lists the open positions.
type LobbyJoinedReply struct {
	Type               string            `json:"type"`
	LobbyID            string            `json:"lobby_id"`
	PlayerID           string            `json:"player_id"`
	AvailablePositions map[Team][]string `json:"available_positions"`
	SessionToken       string            `json:"session_token,omitempty"`
}

// PositionReply answers a select_position request.
type PositionReply struct {
	Type     string `json:"type"`
	PlayerID string `json:"player_id"`
	Team     Team   `json:"team,omitempty"`
	Position string `json:"position,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ReconnectSuccessReply restores a dropped player to their slot.
type ReconnectSuccessReply struct {
	Type     string `json:"type"`
	MatchID  int    `json:"match_id"`
	Team     Team   `json:"team"`
	Position string `json:"position"`
}

// ReconnectFailedReply reports that no recoverable slot exists.
type ReconnectFailedReply struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// MatchPorts are the transport endpoints each team uses for direct peer
// gameplay traffic.
type MatchPorts struct {
	Home int `json:"home"`
	Away int `json:"away"`
}

// MatchStartedBroadcast announces kickoff with both rosters and the peer
// ports.
type MatchStartedBroadcast struct {
	Type     string     `json:"type"`
	MatchID  int        `json:"match_id"`
	HomeTeam Roster     `json:"home_team"`
	AwayTeam Roster     `json:"away_team"`
	Ports    MatchPorts `json:"ports"`
}
