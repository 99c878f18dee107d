// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the server reads at startup. Values come from
// the environment (godotenv loads .env in main); defaults match the
// reference deployment the emulated game expects.
type Config struct {
	// Lobby/match TCP fabric.
	Host     string
	TCPPort  int
	HTTPPort int // websocket upgrade endpoint

	// UDP endpoints handed to each team for peer gameplay traffic.
	HomeMatchPort int
	AwayMatchPort int

	// STUN responder.
	STUNPort          int
	STUNRealm         string
	MaxRequestsPerMin int

	// Match timing. The emulated client expects 5-minute halves.
	HalfDuration time.Duration
	FullDuration time.Duration
	TickInterval time.Duration

	// Matchmaking: maximum tolerated average-rating gap between teams.
	RatingGapThreshold float64

	// Autosave.
	AutosaveInterval time.Duration

	// Connection deadlines for the TCP fabric.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Load builds a Config from the environment, falling back to defaults.
func Load() Config {
	return Config{
		Host:     getEnv("HOST", "0.0.0.0"),
		TCPPort:  getEnvInt("TCP_PORT", 5739),
		HTTPPort: getEnvInt("HTTP_PORT", 5740),

		HomeMatchPort: getEnvInt("HOME_MATCH_PORT", 50000),
		AwayMatchPort: getEnvInt("AWAY_MATCH_PORT", 50001),

		STUNPort:          getEnvInt("STUN_PORT", 3478),
		STUNRealm:         getEnv("STUN_REALM", "PES2021-STUN"),
		MaxRequestsPerMin: getEnvInt("STUN_MAX_REQUESTS_PER_MIN", 100),

		HalfDuration: getEnvDuration("HALF_DURATION", 300*time.Second),
		FullDuration: getEnvDuration("FULL_DURATION", 600*time.Second),
		TickInterval: getEnvDuration("TICK_INTERVAL", time.Second),

		RatingGapThreshold: getEnvFloat("RATING_GAP_THRESHOLD", 100),

		AutosaveInterval: getEnvDuration("AUTOSAVE_INTERVAL", 300*time.Second),

		ReadTimeout:  getEnvDuration("READ_TIMEOUT", 120*time.Second),
		WriteTimeout: getEnvDuration("WRITE_TIMEOUT", 10*time.Second),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func getEnvFloat(key string, def float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}
