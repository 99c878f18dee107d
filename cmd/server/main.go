// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/peslobby/teamplay/internal/auth"
	"github.com/peslobby/teamplay/internal/cache"
	"github.com/peslobby/teamplay/internal/config"
	"github.com/peslobby/teamplay/internal/database"
	"github.com/peslobby/teamplay/internal/handlers"
	"github.com/peslobby/teamplay/internal/lobby"
	"github.com/peslobby/teamplay/internal/match"
	"github.com/peslobby/teamplay/internal/middleware"
	"github.com/peslobby/teamplay/internal/models"
	"github.com/peslobby/teamplay/internal/network"
	"github.com/peslobby/teamplay/internal/stun"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	cfg := config.Load()
	ctx := context.Background()

	// Credential backend for the binding responder. Optional; without it
	// unauthenticated binding challenges always fail closed.
	var creds auth.CredentialSource
	if err := database.ConnectDB(); err != nil {
		logger.WithError(err).Warn("database unavailable, using static credentials")
		creds = auth.NewStaticSource(nil)
	} else {
		logger.Info("connected to credential database")
		creds = auth.DBSource{}
	}

	var verifier auth.CredentialVerifier = auth.WordPressVerifier{Source: creds}
	if os.Getenv("CREDENTIAL_SCHEME") == "argon2" {
		verifier = auth.Argon2Verifier{Source: creds}
	}

	sessions := auth.NewSessionManager(os.Getenv("SESSION_SECRET"), 0)

	registry := network.NewRegistry(logger)
	lobbies := lobby.NewStore(logger)
	matches := match.NewManager(match.Config{
		HalfDuration:       cfg.HalfDuration,
		FullDuration:       cfg.FullDuration,
		RatingGapThreshold: cfg.RatingGapThreshold,
		Ports: models.MatchPorts{
			Home: cfg.HomeMatchPort,
			Away: cfg.AwayMatchPort,
		},
	}, logger)
	matches.SetBroadcaster(registry)

	// Durable match state. Best-effort; a cold start from empty is fine.
	if err := cache.ConnectRedis(); err != nil {
		logger.WithError(err).Warn("redis unavailable, match state will not survive restarts")
	} else {
		snap, found, err := cache.LoadSnapshot(ctx)
		if err != nil {
			logger.WithError(err).Warn("failed to load match snapshot")
		} else if found {
			matches.Restore(snap)
		}
		go autosave(ctx, matches, cfg.AutosaveInterval, logger)
	}

	srv := handlers.NewServer(registry, lobbies, matches, sessions, logger)
	srv.Bind()

	go matches.Run(ctx, cfg.TickInterval)

	// Binding responder on its own UDP socket.
	responder := stun.NewServer(stun.Config{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.STUNPort),
		Realm:             cfg.STUNRealm,
		MaxRequestsPerMin: cfg.MaxRequestsPerMin,
	}, verifier, logger)
	go func() {
		if err := responder.ListenAndServe(ctx); err != nil {
			log.Fatalf("binding responder exited: %v", err)
		}
	}()

	// Websocket and dashboard endpoints.
	mux := http.NewServeMux()
	mux.Handle("/ws", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.WSHandler(logger, registry, cfg.WriteTimeout),
	)))
	mux.Handle("/lobby/list", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.LobbiesHandler(srv),
	)))
	httpAddr := fmt.Sprintf("%s:%d", cfg.Host, cfg.HTTPPort)
	go func() {
		logger.Infof("HTTP listening on %s", httpAddr)
		if err := http.ListenAndServe(httpAddr, mux); err != nil {
			log.Fatalf("http server exited: %v", err)
		}
	}()

	// The TCP fabric is the primary surface; a failed bind is fatal.
	fabric := network.NewServer(registry, logger, cfg.ReadTimeout, cfg.WriteTimeout)
	if err := fabric.ListenAndServe(fmt.Sprintf("%s:%d", cfg.Host, cfg.TCPPort)); err != nil {
		log.Fatalf("fabric exited: %v", err)
	}
}

func autosave(ctx context.Context, matches *match.Manager, interval time.Duration, logger *logrus.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := cache.SaveSnapshot(ctx, matches.Snapshot()); err != nil {
				logger.WithError(err).Warn("autosave failed")
			} else {
				logger.Debug("match state autosaved")
			}
		}
	}
}
