// Package postgres provides the PostgreSQL client and repositories for the
// luckycoin ledger. It is the durable account store behind the executor and
// the history of transactions, solutions and epoch rollovers.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Client wraps PostgreSQL database operations
type Client struct {
	db *sql.DB
}

// Config holds PostgreSQL connection configuration
type Config struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// NewClient creates a new PostgreSQL client
func NewClient(cfg *Config) (*Client, error) {
	connector, err := pq.NewConnector(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	db := sql.OpenDB(connector)

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db}, nil
}

// Migrate creates the ledger schema if it does not exist
func (c *Client) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// BeginTx starts a new transaction
func (c *Client) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return c.db.BeginTx(ctx, nil)
}

// DB returns the underlying sql.DB for advanced operations
func (c *Client) DB() *sql.DB {
	return c.db
}

// u64 columns are NUMERIC(20,0): BIGINT cannot hold the upper half of uint64.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		address    BYTEA PRIMARY KEY,
		owner      BYTEA NOT NULL,
		lamports   NUMERIC(20,0) NOT NULL,
		data       BYTEA NOT NULL,
		executable BOOLEAN NOT NULL DEFAULT FALSE,
		slot       BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS accounts_owner_idx ON accounts (owner)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		tx_id        TEXT PRIMARY KEY,
		slot         BIGINT NOT NULL,
		status       TEXT NOT NULL,
		error        TEXT NOT NULL DEFAULT '',
		error_code   TEXT NOT NULL DEFAULT '',
		instruction  INTEGER NOT NULL DEFAULT -1,
		latency_ms   DOUBLE PRECISION NOT NULL DEFAULT 0,
		processed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS transactions_slot_idx ON transactions (slot)`,
	`CREATE TABLE IF NOT EXISTS mine_events (
		id         BIGSERIAL PRIMARY KEY,
		tx_id      TEXT NOT NULL,
		slot       BIGINT NOT NULL,
		authority  TEXT NOT NULL,
		proof      TEXT NOT NULL,
		bus        SMALLINT NOT NULL,
		difficulty BIGINT NOT NULL,
		reward     NUMERIC(20,0) NOT NULL,
		timing     BIGINT NOT NULL,
		mined_at   TIMESTAMPTZ NOT NULL,
		UNIQUE (tx_id, proof)
	)`,
	`CREATE INDEX IF NOT EXISTS mine_events_authority_idx ON mine_events (authority, mined_at DESC)`,
	`CREATE TABLE IF NOT EXISTS epoch_resets (
		tx_id            TEXT PRIMARY KEY,
		slot             BIGINT NOT NULL,
		reset_at         TIMESTAMPTZ NOT NULL,
		base_reward_rate NUMERIC(20,0) NOT NULL,
		min_difficulty   BIGINT NOT NULL,
		top_balance      NUMERIC(20,0) NOT NULL,
		theoretical      NUMERIC(20,0) NOT NULL,
		minted           NUMERIC(20,0) NOT NULL
	)`,
}
