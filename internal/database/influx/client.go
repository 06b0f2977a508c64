// Package influx provides the InfluxDB client for luckycoin time-series
// metrics: accepted solutions, epoch rollovers, transaction outcomes and
// gateway connection statistics.
package influx

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/luckycoin-meme/luckycoin/internal/protocol"
)

// Measurements
const (
	MeasurementMines        = "mines"
	MeasurementEpochResets  = "epoch_resets"
	MeasurementTransactions = "transactions"
	MeasurementConnections  = "connections"
	MeasurementSystem       = "system"
)

// Client wraps InfluxDB operations for time-series metrics
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient creates a new InfluxDB client
func NewClient(cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}
	if err := c.Health(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return c, nil
}

// Close flushes pending points and closes the InfluxDB connection
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check InfluxDB health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("InfluxDB health check failed: %s", msg)
	}
	return nil
}

// Errors exposes asynchronous write failures
func (c *Client) Errors() <-chan error {
	return c.writeAPI.Errors()
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// Ledger metrics

// MinePoint describes one accepted solution
type MinePoint struct {
	Authority  string
	Bus        int64
	Difficulty uint64
	Reward     uint64
	Timing     int64
	At         time.Time
}

func minePoint(m MinePoint) *write.Point {
	tags := map[string]string{
		"authority": m.Authority,
		"bus":       strconv.FormatInt(m.Bus, 10),
	}
	fields := map[string]any{
		"difficulty": int64(m.Difficulty),
		"reward":     m.Reward,
		"timing":     m.Timing,
		"count":      1,
	}
	return write.NewPoint(MeasurementMines, tags, fields, m.At)
}

// WriteMineMetric records an accepted solution
func (c *Client) WriteMineMetric(m MinePoint) {
	c.writeAPI.WritePoint(minePoint(m))
}

// EpochPoint describes an epoch rollover
type EpochPoint struct {
	BaseRewardRate uint64
	MinDifficulty  uint64
	TopBalance     uint64
	Theoretical    uint64
	Minted         uint64
	At             time.Time
}

func epochPoint(e EpochPoint) *write.Point {
	fields := map[string]any{
		"base_reward_rate": e.BaseRewardRate,
		"min_difficulty":   int64(e.MinDifficulty),
		"top_balance":      e.TopBalance,
		"theoretical":      e.Theoretical,
		"minted":           e.Minted,
	}
	return write.NewPoint(MeasurementEpochResets, map[string]string{}, fields, e.At)
}

// WriteEpochMetric records an epoch rollover
func (c *Client) WriteEpochMetric(e EpochPoint) {
	c.writeAPI.WritePoint(epochPoint(e))
}

func transactionPoint(status, errorCode string, latencyMs float64, at time.Time) *write.Point {
	tags := map[string]string{"status": status}
	if errorCode != "" {
		tags["error_code"] = errorCode
	}
	fields := map[string]any{
		"latency_ms": latencyMs,
		"count":      1,
	}
	return write.NewPoint(MeasurementTransactions, tags, fields, at)
}

// WriteTransactionMetric records one transaction outcome
func (c *Client) WriteTransactionMetric(status, errorCode string, latencyMs float64) {
	c.writeAPI.WritePoint(transactionPoint(status, errorCode, latencyMs, time.Now()))
}

// WriteConnectionMetric writes gateway connection statistics
func (c *Client) WriteConnectionMetric(instance string, activeConnections, totalConnections int64) {
	tags := map[string]string{"instance": instance}
	fields := map[string]any{
		"active_connections": activeConnections,
		"total_connections":  totalConnections,
	}
	c.writeAPI.WritePoint(write.NewPoint(MeasurementConnections, tags, fields, time.Now()))
}

// WriteSystemMetric writes process metrics for a service
func (c *Client) WriteSystemMetric(service string, heapBytes uint64, goroutines int64) {
	tags := map[string]string{"service": service}
	fields := map[string]any{
		"heap_bytes": heapBytes,
		"goroutines": goroutines,
	}
	c.writeAPI.WritePoint(write.NewPoint(MeasurementSystem, tags, fields, time.Now()))
}

// Query methods

// RewardPoint is the reward earned in one window
type RewardPoint struct {
	Time   time.Time `json:"time"`
	Reward float64   `json:"reward"`
}

// DifficultyStats summarizes accepted difficulties
type DifficultyStats struct {
	Solutions int64   `json:"solutions"`
	Mean      float64 `json:"mean"`
	Max       int64   `json:"max"`
}

func rewardHistoryQuery(bucket string, authority protocol.Address, duration, every time.Duration) string {
	return fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "%s")
		|> filter(fn: (r) => r.authority == "%s")
		|> filter(fn: (r) => r._field == "reward")
		|> toFloat()
		|> aggregateWindow(every: %s, fn: sum, createEmpty: false)
	`, bucket, duration.String(), MeasurementMines, authority.String(), every.String())
}

// GetRewardHistory retrieves the rewards an authority earned per window
func (c *Client) GetRewardHistory(ctx context.Context, authority protocol.Address, duration, every time.Duration) ([]RewardPoint, error) {
	result, err := c.queryAPI.Query(ctx, rewardHistoryQuery(c.bucket, authority, duration, every))
	if err != nil {
		return nil, fmt.Errorf("failed to query reward history: %w", err)
	}
	defer func() { _ = result.Close() }()

	var points []RewardPoint
	for result.Next() {
		record := result.Record()
		if value, ok := record.Value().(float64); ok {
			points = append(points, RewardPoint{Time: record.Time(), Reward: value})
		}
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("error reading query result: %w", result.Err())
	}
	return points, nil
}

func difficultyStatsQuery(bucket string, duration time.Duration) string {
	return fmt.Sprintf(`
		data = from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "%s" and r._field == "difficulty")
		|> group()
		union(tables: [
			data |> count() |> set(key: "stat", value: "count"),
			data |> toFloat() |> mean() |> set(key: "stat", value: "mean"),
			data |> max() |> set(key: "stat", value: "max"),
		])
	`, bucket, duration.String(), MeasurementMines)
}

// GetDifficultyStats summarizes network-wide difficulties over a period
func (c *Client) GetDifficultyStats(ctx context.Context, duration time.Duration) (*DifficultyStats, error) {
	result, err := c.queryAPI.Query(ctx, difficultyStatsQuery(c.bucket, duration))
	if err != nil {
		return nil, fmt.Errorf("failed to query difficulty stats: %w", err)
	}
	defer func() { _ = result.Close() }()

	stats := &DifficultyStats{}
	for result.Next() {
		record := result.Record()
		switch record.ValueByKey("stat") {
		case "count":
			if v, ok := record.Value().(int64); ok {
				stats.Solutions = v
			}
		case "mean":
			if v, ok := record.Value().(float64); ok {
				stats.Mean = v
			}
		case "max":
			if v, ok := record.Value().(int64); ok {
				stats.Max = v
			}
		}
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("error reading query result: %w", result.Err())
	}
	return stats, nil
}
