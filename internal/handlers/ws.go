// internal/handlers/ws.go
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/peslobby/teamplay/internal/network"
)

// WSHandler upgrades an HTTP request and serves the socket through the
// same registry as the raw TCP fabric, so browser-based tools speak the
// identical protocol.
func WSHandler(logger *logrus.Logger, registry *network.Registry, writeTimeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		logger.WithFields(logrus.Fields{
			"remote": r.RemoteAddr, "path": r.URL.Path,
		}).Info("websocket connected")

		conn := network.NewWSConn(r.Context(), c, r.RemoteAddr, writeTimeout)
		registry.ServeConn(conn)

		logger.WithField("remote", r.RemoteAddr).Info("websocket disconnected")
	}
}

// LobbiesHandler answers the lobby listing over plain HTTP for dashboards.
func LobbiesHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"lobbies": s.lobbies.List(),
			"active":  s.matches.ActiveCount(),
		})
	}
}
