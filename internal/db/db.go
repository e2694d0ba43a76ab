// internal/db/db.go
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/unclebandit/campaign-mailer/internal/backoff"
	"github.com/unclebandit/campaign-mailer/internal/logger"
)

// ConnectPolicy retries the startup ping while Postgres comes up.
var ConnectPolicy = backoff.Policy{Initial: time.Second, Max: 10 * time.Second, MaxRetries: 5}

const pingTimeout = 5 * time.Second

// Open connects to Postgres and pings it until it answers or the policy
// gives up.
func Open(ctx context.Context, dsn string, log *slog.Logger) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	attempt := 0
	err = backoff.Do(ctx, ConnectPolicy, func(ctx context.Context) error {
		attempt++
		ctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := conn.PingContext(ctx); err != nil {
			log.Warn("database not ready", logger.RetryCount(attempt), logger.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("connected to database")
	return conn, nil
}
