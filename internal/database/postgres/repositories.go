package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"github.com/luckycoin-meme/luckycoin/internal/ledger"
	"github.com/luckycoin-meme/luckycoin/internal/protocol"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// AccountRepository stores ledger accounts. It implements ledger.Store.
type AccountRepository struct {
	db     *sql.DB
	writer atomic.Pointer[WriterLock]
}

var _ ledger.Store = (*AccountRepository)(nil)

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Load implements ledger.Store
func (r *AccountRepository) Load(ctx context.Context, addrs []protocol.Address) (map[protocol.Address]*protocol.AccountInfo, error) {
	out := make(map[protocol.Address]*protocol.AccountInfo, len(addrs))
	if len(addrs) == 0 {
		return out, nil
	}

	keys := make([][]byte, len(addrs))
	for i, addr := range addrs {
		keys[i] = addr.Bytes()
	}

	query := `
		SELECT address, owner, lamports, data, executable
		FROM accounts WHERE address = ANY($1)`

	rows, err := r.db.QueryContext(ctx, query, pq.ByteaArray(keys))
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[acc.Key] = acc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	for _, addr := range addrs {
		if _, ok := out[addr]; !ok {
			out[addr] = ledger.EmptyAccount(addr)
		}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*protocol.AccountInfo, error) {
	var (
		address, owner []byte
		lamports       string
		data           []byte
		executable     bool
	)
	if err := row.Scan(&address, &owner, &lamports, &data, &executable); err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	acc := &protocol.AccountInfo{Data: data, Executable: executable}
	var err error
	if acc.Key, err = protocol.AddressFromBytes(address); err != nil {
		return nil, fmt.Errorf("corrupt account address: %w", err)
	}
	if acc.Owner, err = protocol.AddressFromBytes(owner); err != nil {
		return nil, fmt.Errorf("corrupt owner of %s: %w", acc.Key, err)
	}
	if acc.Lamports, err = parseU64(lamports); err != nil {
		return nil, fmt.Errorf("corrupt lamports of %s: %w", acc.Key, err)
	}
	return acc, nil
}

// UseWriter routes account commits through the session holding lock
func (r *AccountRepository) UseWriter(lock *WriterLock) {
	r.writer.Store(lock)
}

// Commit implements ledger.Store. All writes land in one database
// transaction on the writer session; without the writer lock nothing is
// written and ErrNotWriter is returned.
func (r *AccountRepository) Commit(ctx context.Context, slot uint64, accounts []*protocol.AccountInfo) error {
	writer := r.writer.Load()
	if writer == nil {
		return ErrNotWriter
	}

	upsert := `
		INSERT INTO accounts (address, owner, lamports, data, executable, slot, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (address) DO UPDATE SET
			owner = EXCLUDED.owner,
			lamports = EXCLUDED.lamports,
			data = EXCLUDED.data,
			executable = EXCLUDED.executable,
			slot = EXCLUDED.slot,
			updated_at = EXCLUDED.updated_at`

	now := time.Now()
	return writer.withTx(ctx, func(tx *sql.Tx) error {
		for _, acc := range accounts {
			if ledger.IsDead(acc) {
				if _, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE address = $1`, acc.Key.Bytes()); err != nil {
					return fmt.Errorf("failed to delete account %s: %w", acc.Key, err)
				}
				continue
			}

			data := acc.Data
			if data == nil {
				data = []byte{}
			}
			if _, err := tx.ExecContext(ctx, upsert,
				acc.Key.Bytes(), acc.Owner.Bytes(), formatU64(acc.Lamports), data,
				acc.Executable, int64(slot), now,
			); err != nil {
				return fmt.Errorf("failed to write account %s: %w", acc.Key, err)
			}
		}
		return nil
	})
}

// LatestSlot returns the highest slot any stored account was written at
func (r *AccountRepository) LatestSlot(ctx context.Context) (uint64, error) {
	var slot int64
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(slot), 0) FROM accounts`).Scan(&slot); err != nil {
		return 0, fmt.Errorf("failed to read latest slot: %w", err)
	}
	return uint64(slot), nil
}

// CountByOwner returns how many accounts a program owns
func (r *AccountRepository) CountByOwner(ctx context.Context, owner protocol.Address) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE owner = $1`, owner.Bytes()).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return n, nil
}

// TransactionRepository handles transaction history
type TransactionRepository struct {
	db *sql.DB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Record stores a transaction outcome. Replays of the same result are ignored.
func (r *TransactionRepository) Record(ctx context.Context, rec *TransactionRecord) error {
	query := `
		INSERT INTO transactions (tx_id, slot, status, error, error_code, instruction, latency_ms, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tx_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		rec.TxID, int64(rec.Slot), rec.Status, rec.Error, rec.ErrorCode,
		rec.Instruction, rec.LatencyMs, rec.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

// Get retrieves a transaction outcome by id
func (r *TransactionRepository) Get(ctx context.Context, txID string) (*TransactionRecord, error) {
	query := `
		SELECT tx_id, slot, status, error, error_code, instruction, latency_ms, processed_at
		FROM transactions WHERE tx_id = $1`

	rec := &TransactionRecord{}
	var slot int64
	err := r.db.QueryRowContext(ctx, query, txID).Scan(
		&rec.TxID, &slot, &rec.Status, &rec.Error, &rec.ErrorCode,
		&rec.Instruction, &rec.LatencyMs, &rec.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	rec.Slot = uint64(slot)
	return rec, nil
}

// CountByStatus counts transactions processed since a point in time
func (r *TransactionRepository) CountByStatus(ctx context.Context, since time.Time) (map[string]int64, error) {
	query := `
		SELECT status, COUNT(*) FROM transactions
		WHERE processed_at >= $1 GROUP BY status`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// EventRepository handles solution and epoch history
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// RecordMine stores an accepted solution. Replays are ignored.
func (r *EventRepository) RecordMine(ctx context.Context, ev *MineEventRecord) error {
	query := `
		INSERT INTO mine_events (tx_id, slot, authority, proof, bus, difficulty, reward, timing, mined_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tx_id, proof) DO NOTHING
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		ev.TxID, int64(ev.Slot), ev.Authority, ev.Proof, ev.Bus,
		int64(ev.Difficulty), formatU64(ev.Reward), ev.Timing, ev.MinedAt,
	).Scan(&ev.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to record mine event: %w", err)
	}
	return nil
}

// RecordEpochReset stores an epoch rollover. Replays are ignored.
func (r *EventRepository) RecordEpochReset(ctx context.Context, ev *EpochResetRecord) error {
	query := `
		INSERT INTO epoch_resets (tx_id, slot, reset_at, base_reward_rate, min_difficulty, top_balance, theoretical, minted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tx_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		ev.TxID, int64(ev.Slot), ev.ResetAt, formatU64(ev.BaseRewardRate), int64(ev.MinDifficulty),
		formatU64(ev.TopBalance), formatU64(ev.Theoretical), formatU64(ev.Minted),
	)
	if err != nil {
		return fmt.Errorf("failed to record epoch reset: %w", err)
	}
	return nil
}

// RecentMines retrieves the latest solutions of an authority
func (r *EventRepository) RecentMines(ctx context.Context, authority string, limit int) ([]*MineEventRecord, error) {
	query := `
		SELECT id, tx_id, slot, authority, proof, bus, difficulty, reward, timing, mined_at
		FROM mine_events
		WHERE authority = $1
		ORDER BY mined_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, authority, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query mine events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*MineEventRecord
	for rows.Next() {
		ev := &MineEventRecord{}
		var slot, difficulty int64
		var reward string
		if err := rows.Scan(&ev.ID, &ev.TxID, &slot, &ev.Authority, &ev.Proof, &ev.Bus,
			&difficulty, &reward, &ev.Timing, &ev.MinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mine event: %w", err)
		}
		ev.Slot, ev.Difficulty = uint64(slot), uint64(difficulty)
		if ev.Reward, err = parseU64(reward); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MinerStats aggregates all solutions of an authority
func (r *EventRepository) MinerStats(ctx context.Context, authority string) (*MinerStats, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(reward), 0)::TEXT, COALESCE(MAX(difficulty), 0),
		       COALESCE(AVG(difficulty), 0)::FLOAT8, MAX(mined_at)
		FROM mine_events WHERE authority = $1`

	stats := &MinerStats{Authority: authority}
	var total string
	var best int64
	if err := r.db.QueryRowContext(ctx, query, authority).Scan(
		&stats.Solutions, &total, &best, &stats.AvgDifficulty, &stats.LastMinedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to aggregate miner stats: %w", err)
	}

	var err error
	if stats.TotalRewards, err = parseU64(total); err != nil {
		return nil, err
	}
	stats.BestDifficulty = uint64(best)
	return stats, nil
}

// LatestEpoch retrieves the most recent epoch rollover
func (r *EventRepository) LatestEpoch(ctx context.Context) (*EpochResetRecord, error) {
	query := `
		SELECT tx_id, slot, reset_at, base_reward_rate::TEXT, min_difficulty,
		       top_balance::TEXT, theoretical::TEXT, minted::TEXT
		FROM epoch_resets ORDER BY reset_at DESC LIMIT 1`

	ev := &EpochResetRecord{}
	var slot, minDiff int64
	var rate, top, theoretical, minted string
	err := r.db.QueryRowContext(ctx, query).Scan(
		&ev.TxID, &slot, &ev.ResetAt, &rate, &minDiff, &top, &theoretical, &minted,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest epoch: %w", err)
	}

	ev.Slot, ev.MinDifficulty = uint64(slot), uint64(minDiff)
	for _, f := range []struct {
		dst *uint64
		src string
	}{{&ev.BaseRewardRate, rate}, {&ev.TopBalance, top}, {&ev.Theoretical, theoretical}, {&ev.Minted, minted}} {
		if *f.dst, err = parseU64(f.src); err != nil {
			return nil, err
		}
	}
	return ev, nil
}
