// Command migrate runs database migrations via goose and loads catalog seeds.
//
// Usage:
//
//	go run ./cmd/migrate up                # Apply all pending migrations
//	go run ./cmd/migrate down              # Roll back the last migration
//	go run ./cmd/migrate status            # Show migration status
//	go run ./cmd/migrate version           # Show current schema version
//	go run ./cmd/migrate redo              # Roll back and re-apply last migration
//	go run ./cmd/migrate seed catalog.yaml # Apply a catalog seed (idempotent)
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/mbd888/talentdesk/internal/catalog"
	"github.com/mbd888/talentdesk/internal/logging"
	"github.com/mbd888/talentdesk/internal/retry"
)

const migrationsDir = "migrations"

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <command>")
		fmt.Println("Commands: up, down, status, version, redo, up-to <version>, down-to <version>, seed <file>")
		os.Exit(1)
	}
	logger := logging.New(envOr("LOG_LEVEL", "info"), "text")

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Error("DATABASE_URL environment variable is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	ctx := logging.WithLogger(context.Background(), logger)
	ping := retry.Policy{Attempts: 5, BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	if err := ping.Do(ctx, "database ping", db.PingContext); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	command, args := os.Args[1], os.Args[2:]
	if command == "seed" {
		if err := seed(ctx, db, args); err != nil {
			logger.Error("seed failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := goose.RunContext(ctx, command, db, migrationsDir, args...); err != nil {
		logger.Error("migration failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func seed(ctx context.Context, db *sql.DB, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: migrate seed <file>")
	}
	s, err := catalog.LoadSeed(args[0])
	if err != nil {
		return err
	}
	stats, err := catalog.ApplySeed(ctx, catalog.NewPostgresStore(db), s)
	if err != nil {
		return err
	}
	logging.L(ctx).Info("catalog seeded", "file", args[0],
		"modules", stats.Modules, "plans", stats.Plans, "permissions", stats.Permissions)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
