//cmd/seeder/main.go
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/campaign-mailer/internal/config"
	"github.com/unclebandit/campaign-mailer/internal/db"
	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/suppression"
)

var seedFiles = []string{
	"seed/schema.sql",
	"seed/campaigns.sql",
	"seed/contacts.sql",
	"seed/suppressions.sql",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", logger.Error(err))
		os.Exit(1)
	}
	log := logger.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	if err := run(context.Background(), cfg, log); err != nil {
		log.Error("seeding failed", logger.Error(err))
		os.Exit(1)
	}
	log.Info("database seeding completed successfully")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	conn, err := db.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, file := range seedFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("execute %s: %w", file, err)
		}
		log.Info("seeded", slog.String("file", file))
	}

	if cfg.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	n, err := mirrorSuppressions(ctx, conn, suppression.NewRedisChecker(client, cfg.Suppression.RedisKey))
	if err != nil {
		return err
	}
	log.Info("mirrored suppressions to redis", slog.String("key", cfg.Suppression.RedisKey), logger.Count("count", n))
	return nil
}

// mirrorSuppressions copies the Postgres suppression list into the Redis set
// read by SUPPRESSION_MODE=redis.
func mirrorSuppressions(ctx context.Context, conn *sql.DB, target *suppression.RedisChecker) (int, error) {
	rows, err := conn.QueryContext(ctx, `SELECT email FROM suppressions`)
	if err != nil {
		return 0, fmt.Errorf("list suppressions: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return 0, err
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if err := target.Add(ctx, emails...); err != nil {
		return 0, fmt.Errorf("add suppressions to redis: %w", err)
	}
	return len(emails), nil
}
