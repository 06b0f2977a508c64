package postgres

import (
	"fmt"
	"strconv"
	"time"
)

// TransactionRecord is the stored outcome of one transaction
type TransactionRecord struct {
	TxID        string    `db:"tx_id"`
	Slot        uint64    `db:"slot"`
	Status      string    `db:"status"`
	Error       string    `db:"error"`
	ErrorCode   string    `db:"error_code"`
	Instruction int       `db:"instruction"`
	LatencyMs   float64   `db:"latency_ms"`
	ProcessedAt time.Time `db:"processed_at"`
}

// MineEventRecord is one accepted solution
type MineEventRecord struct {
	ID         int64     `db:"id"`
	TxID       string    `db:"tx_id"`
	Slot       uint64    `db:"slot"`
	Authority  string    `db:"authority"`
	Proof      string    `db:"proof"`
	Bus        int       `db:"bus"`
	Difficulty uint64    `db:"difficulty"`
	Reward     uint64    `db:"reward"`
	Timing     int64     `db:"timing"`
	MinedAt    time.Time `db:"mined_at"`
}

// EpochResetRecord is one epoch rollover
type EpochResetRecord struct {
	TxID           string    `db:"tx_id"`
	Slot           uint64    `db:"slot"`
	ResetAt        time.Time `db:"reset_at"`
	BaseRewardRate uint64    `db:"base_reward_rate"`
	MinDifficulty  uint64    `db:"min_difficulty"`
	TopBalance     uint64    `db:"top_balance"`
	Theoretical    uint64    `db:"theoretical"`
	Minted         uint64    `db:"minted"`
}

// MinerStats aggregates the solutions of one authority
type MinerStats struct {
	Authority      string     `db:"authority"`
	Solutions      int64      `db:"solutions"`
	TotalRewards   uint64     `db:"total_rewards"`
	BestDifficulty uint64     `db:"best_difficulty"`
	AvgDifficulty  float64    `db:"avg_difficulty"`
	LastMinedAt    *time.Time `db:"last_mined_at"`
}

// formatU64 renders a uint64 for a NUMERIC(20,0) parameter. database/sql
// rejects uint64 values with the high bit set.
func formatU64(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// parseU64 reads a NUMERIC(20,0) column scanned as text
func parseU64(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("numeric %q out of range: %w", s, err)
	}
	return v, nil
}
