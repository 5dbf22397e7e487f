package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open connects to Postgres through the pgx stdlib driver and verifies the connection.
func Open(ctx context.Context, url string) (*sql.DB, error) {
	if url == "" {
		return nil, fmt.Errorf("database.url not configured")
	}

	conn, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return conn, nil
}

// Schema is the full migration applied by the setup command.
const Schema = `
CREATE TABLE IF NOT EXISTS kv (
    bucket      VARCHAR(32)  NOT NULL,
    provider    VARCHAR(16)  NOT NULL,
    account_id  VARCHAR(255) NOT NULL,
    id          TEXT         NOT NULL,
    value       BYTEA        NOT NULL,
    updated_at  TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
    PRIMARY KEY (bucket, provider, account_id, id)
);

CREATE INDEX IF NOT EXISTS idx_kv_bucket ON kv(bucket);
CREATE INDEX IF NOT EXISTS idx_kv_account ON kv(provider, account_id);
`

// Migrate applies Schema.
func Migrate(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
