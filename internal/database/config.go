package database

import (
	"time"

	"github.com/luckycoin-meme/luckycoin/internal/config"
	"github.com/luckycoin-meme/luckycoin/internal/database/influx"
	"github.com/luckycoin-meme/luckycoin/internal/database/postgres"
	"github.com/luckycoin-meme/luckycoin/internal/database/redis"
)

// NewConfig derives the storage configuration from the service config
func NewConfig(cfg *config.Config) (*Config, error) {
	redisCfg, err := redis.ConfigFromURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	redisCfg.PoolSize = max(redisCfg.PoolSize, 10)
	redisCfg.MinIdleConns = max(redisCfg.MinIdleConns, 2)

	maxConns := max(cfg.PostgresMaxConns, 1)
	return &Config{
		Postgres: &postgres.Config{
			URL:          cfg.PostgresURL,
			MaxOpenConns: maxConns,
			MaxIdleConns: max(maxConns/5, 1),
			MaxLifetime:  5 * time.Minute,
		},
		Redis: redisCfg,
		Influx: &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		},
		SnapshotTTL: cfg.SnapshotTTL,
	}, nil
}
