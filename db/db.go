package db

import (
	"clinipratica/api/logger"
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

var DB *sql.DB

const schema = `
	CREATE TABLE IF NOT EXISTS webhook_events (
		id              UUID PRIMARY KEY,
		provider        TEXT NOT NULL,
		notification_id TEXT NOT NULL,
		event_type      TEXT NOT NULL,
		action          TEXT NOT NULL DEFAULT '',
		resource_id     TEXT NOT NULL DEFAULT '',
		tenant_id       TEXT NOT NULL DEFAULT '',
		outcome         TEXT NOT NULL,
		detail          TEXT NOT NULL DEFAULT '',
		signature_valid BOOLEAN NOT NULL DEFAULT FALSE,
		received_at     TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (provider, notification_id)
	);
	CREATE INDEX IF NOT EXISTS webhook_events_tenant_idx ON webhook_events (tenant_id, received_at DESC);
`

// InitDB opens the Postgres connection used for the webhook journal.
func InitDB(ctx context.Context, databaseURL string) error {
	if databaseURL == "" {
		return fmt.Errorf("database url not set")
	}

	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return fmt.Errorf("error connecting to the database: %w", err)
	}

	DB = conn
	logger.Get().Info("connected to postgres")
	return nil
}

// EnsureSchema creates the journal table if it does not exist.
func EnsureSchema(ctx context.Context) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if _, err := DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("error creating schema: %w", err)
	}
	return nil
}

// CloseDB closes the database connection
func CloseDB() {
	if DB != nil {
		if err := DB.Close(); err != nil {
			logger.Get().Warn("error closing database", zap.Error(err))
		}
		DB = nil
	}
}
