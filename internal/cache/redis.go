// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/peslobby/teamplay/internal/match"
)

// Rdb is the global Redis client. Connect it once at application startup.
var Rdb *redis.Client

// DefaultSnapshotKey is the Redis key holding the autosaved match state.
var DefaultSnapshotKey = "teamplay_matches"

// ConnectRedis initializes the global Redis client with environment variables:
//   - REDIS_ADDR (default "localhost:6379")
//   - REDIS_DB (optional, default 0)
func ConnectRedis() error {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	dbIdx := getEnvInt("REDIS_DB", 0)

	Rdb = redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbIdx,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return nil
}

// SaveSnapshot serializes the match snapshot and stores it under the
// snapshot key. Best-effort: the caller logs failures and moves on.
func SaveSnapshot(ctx context.Context, snap match.Snapshot) error {
	if Rdb == nil {
		return errors.New("redis not connected")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal match snapshot: %w", err)
	}
	key := getEnv("SNAPSHOT_KEY", DefaultSnapshotKey)
	if err := Rdb.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot at '%s': %w", key, err)
	}
	return nil
}

// LoadSnapshot fetches the persisted match snapshot. A missing key is not
// an error; the server simply starts from empty state.
func LoadSnapshot(ctx context.Context) (match.Snapshot, bool, error) {
	if Rdb == nil {
		return match.Snapshot{}, false, errors.New("redis not connected")
	}
	key := getEnv("SNAPSHOT_KEY", DefaultSnapshotKey)
	data, err := Rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return match.Snapshot{}, false, nil
	}
	if err != nil {
		return match.Snapshot{}, false, fmt.Errorf("failed to read snapshot at '%s': %w", key, err)
	}
	var snap match.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return match.Snapshot{}, false, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, true, nil
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
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
