// Package database coordinates the luckycoin ledger's storage across
// PostgreSQL, Redis and InfluxDB. PostgreSQL holds the authoritative account
// state and history; Redis and InfluxDB are best-effort secondaries.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/luckycoin-meme/luckycoin/internal/database/influx"
	"github.com/luckycoin-meme/luckycoin/internal/database/postgres"
	"github.com/luckycoin-meme/luckycoin/internal/database/redis"
	"github.com/luckycoin-meme/luckycoin/internal/ledger"
	"github.com/luckycoin-meme/luckycoin/internal/messaging"
	"github.com/luckycoin-meme/luckycoin/internal/protocol"
	"github.com/luckycoin-meme/luckycoin/pkg/circuit"
	"github.com/luckycoin-meme/luckycoin/pkg/errors"
	"github.com/luckycoin-meme/luckycoin/pkg/retry"
)

const (
	resultTTL        = time.Hour
	difficultyWindow = 10 * time.Minute
	recentMinesLimit = 10
	solutionsCounter = "mined_solutions"

	writerLockInterval = 5 * time.Second
)

// Manager coordinates all database operations across PostgreSQL, Redis, and InfluxDB
type Manager struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	Influx   *influx.Client

	// Repositories
	Accounts     *postgres.AccountRepository
	Transactions *postgres.TransactionRepository
	Events       *postgres.EventRepository

	logger      *slog.Logger
	snapshotTTL time.Duration

	// Error handling
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

var _ ledger.Store = (*Manager)(nil)

// Config holds configuration for all database systems
type Config struct {
	Postgres    *postgres.Config
	Redis       *redis.Config
	Influx      *influx.Config
	SnapshotTTL time.Duration
}

// NewManager creates a new database manager with all connections
func NewManager(cfg *Config, logger *slog.Logger) (*Manager, error) {
	pgClient, err := postgres.NewClient(cfg.Postgres)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_connection",
			"failed to connect to PostgreSQL database")
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
			"failed to connect to Redis database")
		if closeErr := pgClient.Close(); closeErr != nil {
			return nil, origErr.WithContext("postgres_cleanup_error", closeErr.Error())
		}
		return nil, origErr
	}

	influxClient, err := influx.NewClient(cfg.Influx)
	if err != nil {
		var closeErrs []error
		if closeErr := pgClient.Close(); closeErr != nil {
			closeErrs = append(closeErrs, closeErr)
		}
		if closeErr := redisClient.Close(); closeErr != nil {
			closeErrs = append(closeErrs, closeErr)
		}

		origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "influx_connection",
			"failed to connect to InfluxDB database")
		if len(closeErrs) > 0 {
			return nil, origErr.WithContext("cleanup_errors", fmt.Sprintf("%v", closeErrs))
		}
		return nil, origErr
	}

	db := pgClient.DB()
	return &Manager{
		Postgres:     pgClient,
		Redis:        redisClient,
		Influx:       influxClient,
		Accounts:     postgres.NewAccountRepository(db),
		Transactions: postgres.NewTransactionRepository(db),
		Events:       postgres.NewEventRepository(db),
		logger:       logger.With("component", "database"),
		snapshotTTL:  cfg.SnapshotTTL,
		circuitBreaker: circuit.New(&circuit.Config{
			Name:            "postgres",
			MaxFailures:     3,
			SuccessRequired: 2,
			Timeout:         30 * time.Second,
			ResetTimeout:    60 * time.Second,
		}),
		retryConfig: retry.DatabaseConfig(),
	}, nil
}

// Migrate creates the PostgreSQL schema
func (m *Manager) Migrate(ctx context.Context) error {
	if err := m.Postgres.Migrate(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "migrate", "failed to create schema")
	}
	return nil
}

// AcquireWriter waits for the account writer lock and routes commits
// through it. Only one process holds the lock, so concurrent executors never
// interleave commits on the same accounts.
func (m *Manager) AcquireWriter(ctx context.Context) (*postgres.WriterLock, error) {
	m.logger.Info("waiting for writer lock", "key", postgres.WriterLockKey)
	lock, err := m.Postgres.AcquireWriterLock(ctx, writerLockInterval)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "acquire_writer", "failed to acquire writer lock")
	}
	m.Accounts.UseWriter(lock)
	m.logger.Info("writer lock acquired")
	return lock, nil
}

// Close closes all database connections
func (m *Manager) Close() error {
	var errs []error

	if err := m.Postgres.Close(); err != nil {
		errs = append(errs, fmt.Errorf("PostgreSQL close error: %w", err))
	}
	if err := m.Redis.Close(); err != nil {
		errs = append(errs, fmt.Errorf("redis close error: %w", err))
	}
	m.Influx.Close()

	if len(errs) > 0 {
		return fmt.Errorf("database close errors: %v", errs)
	}
	return nil
}

// Health checks the health of all database connections
func (m *Manager) Health(ctx context.Context) error {
	if err := m.Postgres.Health(ctx); err != nil {
		return fmt.Errorf("PostgreSQL health check failed: %w", err)
	}
	if err := m.Redis.Health(ctx); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	if err := m.Influx.Health(ctx); err != nil {
		return fmt.Errorf("InfluxDB health check failed: %w", err)
	}
	return nil
}

// protect runs fn against PostgreSQL under the breaker and retry policy
func (m *Manager) protect(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	return m.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, m.retryConfig, func(ctx context.Context) error {
			if err := fn(ctx); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, operation, "postgres operation failed")
			}
			return nil
		})
	})
}

// warn logs a failed best-effort write
func (m *Manager) warn(operation string, err error) {
	m.logger.Warn("secondary write failed", "operation", operation, "error", err)
}

// Account state

// Load implements ledger.Store. Reads always come from PostgreSQL so a
// stale snapshot can never feed execution.
func (m *Manager) Load(ctx context.Context, addrs []protocol.Address) (map[protocol.Address]*protocol.AccountInfo, error) {
	return circuit.ExecuteWithResult(ctx, m.circuitBreaker, func(ctx context.Context) (map[protocol.Address]*protocol.AccountInfo, error) {
		return retry.DoWithResult(ctx, m.retryConfig, func(ctx context.Context) (map[protocol.Address]*protocol.AccountInfo, error) {
			accounts, err := m.Accounts.Load(ctx, addrs)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "load_accounts",
					"failed to load accounts").WithContext("count", len(addrs))
			}
			return accounts, nil
		})
	})
}

// Commit implements ledger.Store. Snapshots are refreshed after the
// PostgreSQL commit and dropped if the refresh fails.
func (m *Manager) Commit(ctx context.Context, slot uint64, accounts []*protocol.AccountInfo) error {
	if err := m.protect(ctx, "commit_accounts", func(ctx context.Context) error {
		return m.Accounts.Commit(ctx, slot, accounts)
	}); err != nil {
		return err
	}

	if err := m.Redis.PutAccounts(ctx, slot, accounts, m.snapshotTTL); err != nil {
		m.warn("cache_accounts", err)
		addrs := make([]protocol.Address, len(accounts))
		for i, acc := range accounts {
			addrs[i] = acc.Key
		}
		if err := m.Redis.InvalidateAccounts(ctx, addrs...); err != nil {
			m.logger.Error("stale account snapshots left in cache", "count", len(addrs), "error", err)
		}
	}
	return nil
}

// CachedAccounts serves read-only account queries, preferring snapshots
// and falling back to PostgreSQL for misses
func (m *Manager) CachedAccounts(ctx context.Context, addrs []protocol.Address) (map[protocol.Address]*protocol.AccountInfo, error) {
	found, missing, err := m.Redis.GetAccounts(ctx, addrs)
	if err != nil {
		m.warn("read_snapshots", err)
		return m.Load(ctx, addrs)
	}
	if len(missing) == 0 {
		return found, nil
	}

	loaded, err := m.Load(ctx, missing)
	if err != nil {
		return nil, err
	}
	for addr, acc := range loaded {
		found[addr] = acc
	}
	return found, nil
}

// History

// RecordResult stores a transaction outcome
func (m *Manager) RecordResult(ctx context.Context, msg *messaging.ResultMessage) error {
	rec := transactionRecord(msg)
	if err := m.protect(ctx, "record_transaction", func(ctx context.Context) error {
		return m.Transactions.Record(ctx, rec)
	}); err != nil {
		return err
	}

	m.Influx.WriteTransactionMetric(msg.Status, msg.ErrorCode, msg.LatencyMs)
	if err := m.Redis.SetResult(ctx, msg.TxID, msg.Marshal(), resultTTL); err != nil {
		m.warn("cache_result", err)
	}
	return nil
}

// Result returns a transaction outcome from the cache or PostgreSQL
func (m *Manager) Result(ctx context.Context, txID string) (*messaging.ResultMessage, error) {
	if data, err := m.Redis.GetResult(ctx, txID); err == nil {
		msg := &messaging.ResultMessage{}
		if err := msg.Unmarshal(data); err == nil {
			return msg, nil
		}
	}

	rec, err := m.Transactions.Get(ctx, txID)
	if err != nil {
		return nil, err
	}
	return resultFromRecord(rec), nil
}

// RecordMineEvent stores an accepted solution
func (m *Manager) RecordMineEvent(ctx context.Context, msg *messaging.MineEventMessage) error {
	rec := mineEventRecord(msg)
	if err := m.protect(ctx, "record_mine_event", func(ctx context.Context) error {
		return m.Events.RecordMine(ctx, rec)
	}); err != nil {
		return err
	}

	m.Influx.WriteMineMetric(influx.MinePoint{
		Authority:  msg.Authority,
		Bus:        msg.Bus,
		Difficulty: msg.Difficulty,
		Reward:     msg.Reward,
		Timing:     msg.Timing,
		At:         msg.MinedAt,
	})
	if err := m.Redis.RecordSolution(ctx, msg.Authority, msg.Difficulty, msg.MinedAt, difficultyWindow); err != nil {
		m.warn("record_solution", err)
	}
	if _, err := m.Redis.IncrementCounter(ctx, solutionsCounter, 24*time.Hour); err != nil {
		m.warn("count_solution", err)
	}
	return nil
}

// RecordEpochReset stores an epoch rollover
func (m *Manager) RecordEpochReset(ctx context.Context, msg *messaging.EpochResetMessage) error {
	rec := epochResetRecord(msg)
	if err := m.protect(ctx, "record_epoch_reset", func(ctx context.Context) error {
		return m.Events.RecordEpochReset(ctx, rec)
	}); err != nil {
		return err
	}

	m.Influx.WriteEpochMetric(influx.EpochPoint{
		BaseRewardRate: msg.BaseRewardRate,
		MinDifficulty:  msg.MinDifficulty,
		TopBalance:     msg.TopBalance,
		Theoretical:    msg.Theoretical,
		Minted:         msg.Minted,
		At:             rec.ResetAt,
	})
	return nil
}

// MinerStats combines stored history with recent activity for one authority
func (m *Manager) MinerStats(ctx context.Context, authority protocol.Address) (*MinerSummary, error) {
	stats, err := m.Events.MinerStats(ctx, authority.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get miner stats: %w", err)
	}

	summary := &MinerSummary{MinerStats: stats}
	summary.RecentDifficulty, summary.RecentSolutions, err = m.Redis.AverageDifficulty(ctx, authority.String(), difficultyWindow)
	if err != nil {
		m.warn("average_difficulty", err)
	}
	summary.Rewards, err = m.Influx.GetRewardHistory(ctx, authority, 24*time.Hour, time.Hour)
	if err != nil {
		m.warn("reward_history", err)
	}
	summary.RecentMines, err = m.Events.RecentMines(ctx, authority.String(), recentMinesLimit)
	if err != nil {
		m.warn("recent_mines", err)
	}
	return summary, nil
}

// NetworkStats summarizes recent ledger activity
func (m *Manager) NetworkStats(ctx context.Context) (*NetworkStats, error) {
	counts, err := m.Transactions.CountByStatus(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}

	stats := &NetworkStats{Transactions: counts, LastUpdated: time.Now()}
	if epoch, err := m.Events.LatestEpoch(ctx); err == nil {
		stats.LatestEpoch = epoch
	} else if err != postgres.ErrNotFound {
		return nil, fmt.Errorf("failed to get latest epoch: %w", err)
	}

	if stats.Difficulty, err = m.Influx.GetDifficultyStats(ctx, 24*time.Hour); err != nil {
		m.warn("difficulty_stats", err)
		stats.Difficulty = &influx.DifficultyStats{}
	}
	if stats.Slot, err = m.Redis.Slot(ctx); err != nil || stats.Slot == 0 {
		// No snapshot yet, fall back to the newest persisted account
		stats.Slot, _ = m.Accounts.LatestSlot(ctx)
	}
	if stats.ProgramAccounts, err = m.Accounts.CountByOwner(ctx, protocol.Known().Program); err != nil {
		m.warn("count_program_accounts", err)
	}
	stats.ActiveConnections, _ = m.Redis.GetCounter(ctx, "active_connections")
	stats.Solutions, _ = m.Redis.GetCounter(ctx, solutionsCounter)
	return stats, nil
}

// ReportConnections publishes a gateway's connection counts. The Redis
// counter expires so a dead gateway stops being counted.
func (m *Manager) ReportConnections(ctx context.Context, instance string, active, total int64) {
	m.Influx.WriteConnectionMetric(instance, active, total)
	if err := m.Redis.SetCounter(ctx, "active_connections", active, 2*time.Minute); err != nil {
		m.warn("set_active_connections", err)
	}
}

// StartPeriodicTasks starts background tasks for database maintenance
func (m *Manager) StartPeriodicTasks(ctx context.Context, service string) {
	// Flush InfluxDB writes every 10 seconds
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Influx.Flush()
			}
		}
	}()

	go func() {
		errs := m.Influx.Errors()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-errs:
				m.warn("influx_write", err)
			}
		}
	}()

	// Write process metrics every minute
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var ms runtime.MemStats
				runtime.ReadMemStats(&ms)
				m.Influx.WriteSystemMetric(service, ms.HeapAlloc, int64(runtime.NumGoroutine()))
			}
		}
	}()
}

// Data structures

// MinerSummary combines an authority's history with recent activity
type MinerSummary struct {
	*postgres.MinerStats
	RecentDifficulty float64                     `json:"recent_difficulty"`
	RecentSolutions  int                         `json:"recent_solutions"`
	Rewards          []influx.RewardPoint        `json:"rewards"`
	RecentMines      []*postgres.MineEventRecord `json:"recent_mines,omitempty"`
}

// NetworkStats represents ledger-wide statistics
type NetworkStats struct {
	Slot              uint64                     `json:"slot"`
	Transactions      map[string]int64           `json:"transactions"`
	LatestEpoch       *postgres.EpochResetRecord `json:"latest_epoch,omitempty"`
	Difficulty        *influx.DifficultyStats    `json:"difficulty"`
	ProgramAccounts   int64                      `json:"program_accounts"`
	Solutions         int64                      `json:"solutions_24h"`
	ActiveConnections int64                      `json:"active_connections"`
	LastUpdated       time.Time                  `json:"last_updated"`
}

func transactionRecord(msg *messaging.ResultMessage) *postgres.TransactionRecord {
	return &postgres.TransactionRecord{
		TxID:        msg.TxID,
		Slot:        msg.Slot,
		Status:      msg.Status,
		Error:       msg.Error,
		ErrorCode:   msg.ErrorCode,
		Instruction: int(msg.Instruction),
		LatencyMs:   msg.LatencyMs,
		ProcessedAt: msg.ProcessedAt,
	}
}

func resultFromRecord(rec *postgres.TransactionRecord) *messaging.ResultMessage {
	return &messaging.ResultMessage{
		TxID:        rec.TxID,
		Slot:        rec.Slot,
		Status:      rec.Status,
		Error:       rec.Error,
		ErrorCode:   rec.ErrorCode,
		Instruction: int64(rec.Instruction),
		LatencyMs:   rec.LatencyMs,
		ProcessedAt: rec.ProcessedAt,
	}
}

func mineEventRecord(msg *messaging.MineEventMessage) *postgres.MineEventRecord {
	return &postgres.MineEventRecord{
		TxID:       msg.TxID,
		Slot:       msg.Slot,
		Authority:  msg.Authority,
		Proof:      msg.Proof,
		Bus:        int(msg.Bus),
		Difficulty: msg.Difficulty,
		Reward:     msg.Reward,
		Timing:     msg.Timing,
		MinedAt:    msg.MinedAt,
	}
}

func epochResetRecord(msg *messaging.EpochResetMessage) *postgres.EpochResetRecord {
	return &postgres.EpochResetRecord{
		TxID:           msg.TxID,
		Slot:           msg.Slot,
		ResetAt:        time.Unix(msg.ResetAt, 0).UTC(),
		BaseRewardRate: msg.BaseRewardRate,
		MinDifficulty:  msg.MinDifficulty,
		TopBalance:     msg.TopBalance,
		Theoretical:    msg.Theoretical,
		Minted:         msg.Minted,
	}
}
