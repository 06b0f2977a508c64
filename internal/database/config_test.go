package database

import (
	"testing"
	"time"

	"github.com/luckycoin-meme/luckycoin/internal/config"
)

func TestNewConfig(t *testing.T) {
	cfg := &config.Config{
		PostgresURL:      "postgres://u:p@db/ledger?sslmode=disable",
		PostgresMaxConns: 20,
		RedisURL:         "redis://:secret@cache:6380/2",
		SnapshotTTL:      time.Minute,
		InfluxURL:        "http://influx:8086",
		InfluxOrg:        "org",
		InfluxBucket:     "ledger",
	}

	got, err := NewConfig(cfg)
	if err != nil {
		t.Fatalf("NewConfig() error = %v", err)
	}
	if got.Postgres.URL != cfg.PostgresURL || got.Postgres.MaxOpenConns != 20 || got.Postgres.MaxIdleConns != 4 {
		t.Errorf("Postgres = %+v", got.Postgres)
	}
	if got.Redis.Addr != "cache:6380" || got.Redis.DB != 2 || got.Redis.Password != "secret" {
		t.Errorf("Redis = %+v", got.Redis)
	}
	if got.Redis.PoolSize < 10 {
		t.Errorf("Redis.PoolSize = %d, want at least 10", got.Redis.PoolSize)
	}
	if got.Influx.Bucket != "ledger" || got.SnapshotTTL != time.Minute {
		t.Errorf("Influx = %+v, SnapshotTTL = %v", got.Influx, got.SnapshotTTL)
	}

	cfg.RedisURL = "http://not-redis"
	if _, err := NewConfig(cfg); err == nil {
		t.Error("NewConfig() accepted a non-redis URL")
	}
}
