package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the global connection pool. Nil when the server runs without a
// credential backend.
var DB *pgxpool.Pool

// ErrUserNotFound reports a credential lookup for an unknown login.
var ErrUserNotFound = errors.New("user not found")

// ConnectDB opens the pgx pool from POSTGRES_USER, POSTGRES_PASSWORD,
// PG_HOST, PG_PORT and PG_DATABASE. Unlike a web backend we treat the
// database as optional; the caller decides whether a failure is fatal.
func ConnectDB() error {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		os.Getenv("PG_HOST"),
		os.Getenv("PG_PORT"),
		os.Getenv("PG_DATABASE"),
	)

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return fmt.Errorf("unable to parse pgx config: %w", err)
	}

	DB, err = pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return fmt.Errorf("unable to create pgx pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := DB.Ping(ctx); err != nil {
		return fmt.Errorf("db ping error: %w", err)
	}
	return nil
}

// LookupCredential returns the stored password digest for a login from the
// WordPress users table the game site shares with us.
func LookupCredential(ctx context.Context, username string) (string, error) {
	if DB == nil {
		return "", errors.New("database not connected")
	}
	var stored string
	err := DB.QueryRow(ctx,
		`SELECT user_pass FROM wp_users WHERE user_login = $1`,
		username,
	).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("credential lookup failed for '%s': %w", username, err)
	}
	return stored, nil
}
