// Package redis provides the Redis client for the luckycoin ledger. It holds
// account snapshots in front of PostgreSQL, gateway sessions, rate limits and
// short-lived result and difficulty caches.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/luckycoin-meme/luckycoin/internal/ledger"
	"github.com/luckycoin-meme/luckycoin/internal/protocol"
)

// ErrNotFound is returned when a key does not exist
var ErrNotFound = errors.New("not found")

const (
	slotKey     = "ledger:slot"
	slotHashKey = "ledger:slot_hash"
)

// Client wraps Redis operations for the ledger
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ConfigFromURL parses a redis:// URL into a Config
func ConfigFromURL(url string) (*Config, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return &Config{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		MaxRetries:   opts.MaxRetries,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}, nil
}

// NewClient creates a new Redis client
func NewClient(cfg *Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Account snapshots

// accountSnapshot is the cached form of an account
type accountSnapshot struct {
	Owner      protocol.Address `json:"owner"`
	Lamports   uint64           `json:"lamports"`
	Data       []byte           `json:"data,omitempty"`
	Executable bool             `json:"executable,omitempty"`
	Slot       uint64           `json:"slot"`
}

func accountKey(addr protocol.Address) string {
	return "account:" + addr.String()
}

func encodeSnapshot(acc *protocol.AccountInfo, slot uint64) ([]byte, error) {
	return json.Marshal(accountSnapshot{
		Owner:      acc.Owner,
		Lamports:   acc.Lamports,
		Data:       acc.Data,
		Executable: acc.Executable,
		Slot:       slot,
	})
}

func decodeSnapshot(addr protocol.Address, raw string) (*protocol.AccountInfo, error) {
	var snap accountSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("corrupt snapshot of %s: %w", addr, err)
	}
	return &protocol.AccountInfo{
		Key:        addr,
		Owner:      snap.Owner,
		Lamports:   snap.Lamports,
		Data:       snap.Data,
		Executable: snap.Executable,
	}, nil
}

// PutAccounts caches committed accounts and advances the cached slot.
// Accounts with nothing left in them are evicted.
func (c *Client) PutAccounts(ctx context.Context, slot uint64, accounts []*protocol.AccountInfo, ttl time.Duration) error {
	pipe := c.rdb.TxPipeline()
	for _, acc := range accounts {
		if ledger.IsDead(acc) {
			pipe.Del(ctx, accountKey(acc.Key))
			continue
		}
		data, err := encodeSnapshot(acc, slot)
		if err != nil {
			return fmt.Errorf("failed to marshal account %s: %w", acc.Key, err)
		}
		pipe.Set(ctx, accountKey(acc.Key), data, ttl)
	}
	pipe.Set(ctx, slotKey, slot, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache accounts: %w", err)
	}
	return nil
}

// GetAccounts reads cached accounts. Addresses without a snapshot are
// returned in missing.
func (c *Client) GetAccounts(ctx context.Context, addrs []protocol.Address) (found map[protocol.Address]*protocol.AccountInfo, missing []protocol.Address, err error) {
	found = make(map[protocol.Address]*protocol.AccountInfo, len(addrs))
	if len(addrs) == 0 {
		return found, nil, nil
	}

	keys := make([]string, len(addrs))
	for i, addr := range addrs {
		keys[i] = accountKey(addr)
	}

	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read accounts: %w", err)
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			missing = append(missing, addrs[i])
			continue
		}
		acc, err := decodeSnapshot(addrs[i], raw)
		if err != nil {
			missing = append(missing, addrs[i])
			continue
		}
		found[addrs[i]] = acc
	}
	return found, missing, nil
}

// InvalidateAccounts drops cached snapshots
func (c *Client) InvalidateAccounts(ctx context.Context, addrs ...protocol.Address) error {
	if len(addrs) == 0 {
		return nil
	}
	keys := make([]string, len(addrs))
	for i, addr := range addrs {
		keys[i] = accountKey(addr)
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate accounts: %w", err)
	}
	return nil
}

// Slot returns the last committed slot seen by the cache
func (c *Client) Slot(ctx context.Context) (uint64, error) {
	slot, err := c.rdb.Get(ctx, slotKey).Uint64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get slot: %w", err)
	}
	return slot, nil
}

// SetSlotHash publishes the latest beacon slot hash
func (c *Client) SetSlotHash(ctx context.Context, sh protocol.SlotHash) error {
	if err := c.rdb.Set(ctx, slotHashKey, sh.Bytes(), 0).Err(); err != nil {
		return fmt.Errorf("failed to set slot hash: %w", err)
	}
	return nil
}

// GetSlotHash reads the latest beacon slot hash
func (c *Client) GetSlotHash(ctx context.Context) (protocol.SlotHash, error) {
	raw, err := c.rdb.Get(ctx, slotHashKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return protocol.SlotHash{}, ErrNotFound
		}
		return protocol.SlotHash{}, fmt.Errorf("failed to get slot hash: %w", err)
	}
	return protocol.ParseSlotHash(raw)
}

// Transaction results

func resultKey(txID string) string {
	return "result:" + txID
}

// SetResult caches an encoded transaction result
func (c *Client) SetResult(ctx context.Context, txID string, data []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, resultKey(txID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set result: %w", err)
	}
	return nil
}

// GetResult reads a cached transaction result
func (c *Client) GetResult(ctx context.Context, txID string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, resultKey(txID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return data, nil
}

// Session management

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}

// SetSession stores a session with expiration
func (c *Client) SetSession(ctx context.Context, sessionID string, data any, expiration time.Duration) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal session data: %w", err)
	}

	if err := c.rdb.Set(ctx, sessionKey(sessionID), jsonData, expiration).Err(); err != nil {
		return fmt.Errorf("failed to set session: %w", err)
	}
	return nil
}

// DeleteSession removes a session
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	if err := c.rdb.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ExtendSession extends session expiration
func (c *Client) ExtendSession(ctx context.Context, sessionID string, expiration time.Duration) error {
	if err := c.rdb.Expire(ctx, sessionKey(sessionID), expiration).Err(); err != nil {
		return fmt.Errorf("failed to extend session: %w", err)
	}
	return nil
}

// Statistics and counters

// IncrementCounter increments a counter with expiration
func (c *Client) IncrementCounter(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	pipe := c.rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiration)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return incrCmd.Val(), nil
}

// SetCounter overwrites a counter with expiration
func (c *Client) SetCounter(ctx context.Context, key string, value int64, expiration time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, expiration).Err(); err != nil {
		return fmt.Errorf("failed to set counter: %w", err)
	}
	return nil
}

// GetCounter retrieves a counter value
func (c *Client) GetCounter(ctx context.Context, key string) (int64, error) {
	val, err := c.rdb.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get counter: %w", err)
	}
	return val, nil
}

func difficultyKey(authority string) string {
	return "difficulty:" + authority
}

// difficultyMember keeps equal difficulties at different times distinct
func difficultyMember(difficulty uint64, at time.Time) string {
	return strconv.FormatUint(difficulty, 10) + ":" + strconv.FormatInt(at.UnixNano(), 10)
}

func parseDifficultyMember(member string) (uint64, bool) {
	head, _, ok := strings.Cut(member, ":")
	if !ok {
		return 0, false
	}
	d, err := strconv.ParseUint(head, 10, 64)
	return d, err == nil
}

// RecordSolution adds an accepted difficulty to an authority's window
func (c *Client) RecordSolution(ctx context.Context, authority string, difficulty uint64, at time.Time, window time.Duration) error {
	key := difficultyKey(authority)
	cutoff := at.Add(-window).Unix()

	pipe := c.rdb.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.Unix()), Member: difficultyMember(difficulty, at)})
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
	pipe.Expire(ctx, key, window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record solution: %w", err)
	}
	return nil
}

// AverageDifficulty returns the mean difficulty and solution count of an
// authority within the window
func (c *Client) AverageDifficulty(ctx context.Context, authority string, window time.Duration) (float64, int, error) {
	minScore := time.Now().Add(-window).Unix()

	members, err := c.rdb.ZRangeByScore(ctx, difficultyKey(authority), &redis.ZRangeBy{
		Min: strconv.FormatInt(minScore, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get difficulties: %w", err)
	}

	var total float64
	var n int
	for _, m := range members {
		if d, ok := parseDifficultyMember(m); ok {
			total += float64(d)
			n++
		}
	}
	if n == 0 {
		return 0, 0, nil
	}
	return total / float64(n), n, nil
}

// Rate limiting

// CheckRateLimit counts one action against key and reports whether it is
// still within limit for the current window
func (c *Client) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	pipe := c.rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, "ratelimit:"+key)
	pipe.ExpireNX(ctx, "ratelimit:"+key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}
	return incrCmd.Val() <= limit, nil
}
