// Package main implements the indexer service for the luckycoin ledger.
// It consumes execution results and reward events from Kafka and records
// them in PostgreSQL history tables and InfluxDB metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/luckycoin-meme/luckycoin/internal/config"
	"github.com/luckycoin-meme/luckycoin/internal/database"
	"github.com/luckycoin-meme/luckycoin/internal/messaging"
	svcerrors "github.com/luckycoin-meme/luckycoin/pkg/errors"
	"github.com/luckycoin-meme/luckycoin/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting indexer",
		"version", cfg.Version,
		"kafka_brokers", cfg.KafkaBrokers,
	)

	dbConfig, err := database.NewConfig(cfg)
	if err != nil {
		logger.WithError(err).Error("invalid database configuration")
		os.Exit(1)
	}
	dbManager, err := database.NewManager(dbConfig, logger.Logger)
	if err != nil {
		logger.WithError(err).Error("failed to create database manager")
		os.Exit(1)
	}
	defer func() {
		if err := dbManager.Close(); err != nil {
			logger.WithError(err).Error("failed to close database manager")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dbManager.Migrate(ctx); err != nil {
		logger.WithError(err).Error("failed to migrate database")
		os.Exit(1)
	}
	dbManager.StartPeriodicTasks(ctx, "indexer")

	kafkaClient := messaging.NewKafkaClient(cfg.KafkaBrokers, logger.Logger)
	defer func() {
		if err := kafkaClient.Close(); err != nil {
			logger.WithError(err).Error("failed to close Kafka client")
		}
	}()

	indexer := NewIndexer(cfg, logger, kafkaClient, dbManager)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := indexer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("indexer failed")
			cancel()
		}
	}()

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel()
	if err := indexer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown failed")
	}

	logger.Info("indexer stopped")
}

// consumer is the part of the Kafka client the indexer uses
type consumer interface {
	StartConsumer(ctx context.Context, topic, groupID string, msgFactory func() messaging.Message, handler messaging.MessageHandler) error
}

// recorder stores indexed messages
type recorder interface {
	RecordResult(ctx context.Context, msg *messaging.ResultMessage) error
	RecordMineEvent(ctx context.Context, msg *messaging.MineEventMessage) error
	RecordEpochReset(ctx context.Context, msg *messaging.EpochResetMessage) error
}

// statsInterval is how often indexing throughput is logged
const statsInterval = time.Minute

// Indexer records ledger output
type Indexer struct {
	cfg      *config.Config
	logger   *log.Logger
	consumer consumer
	recorder recorder

	results     atomic.Int64
	mineEvents  atomic.Int64
	epochResets atomic.Int64
	failures    atomic.Int64
	lastIndexed atomic.Int64

	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// NewIndexer creates a new indexer
func NewIndexer(cfg *config.Config, logger *log.Logger, c consumer, r recorder) *Indexer {
	return &Indexer{
		cfg:      cfg,
		logger:   logger.WithComponent("indexer"),
		consumer: c,
		recorder: r,
		done:     make(chan struct{}),
	}
}

// IndexStats summarizes what the indexer has recorded since start
type IndexStats struct {
	Results       int64
	MineEvents    int64
	EpochResets   int64
	Failures      int64
	LastIndexedAt time.Time
}

// Stats returns the indexing counters
func (ix *Indexer) Stats() IndexStats {
	stats := IndexStats{
		Results:     ix.results.Load(),
		MineEvents:  ix.mineEvents.Load(),
		EpochResets: ix.epochResets.Load(),
		Failures:    ix.failures.Load(),
	}
	if at := ix.lastIndexed.Load(); at > 0 {
		stats.LastIndexedAt = time.Unix(0, at)
	}
	return stats
}

// Start runs one consumer per topic until ctx is done
func (ix *Indexer) Start(ctx context.Context) error {
	ix.logger.Info("indexer starting")

	groupID := ix.cfg.KafkaGroupID + ".indexer"
	topics := []struct {
		topic   string
		factory func() messaging.Message
		handler messaging.HandlerFunc
	}{
		{messaging.TopicResults, func() messaging.Message { return &messaging.ResultMessage{} }, ix.handleResult},
		{messaging.TopicMineEvents, func() messaging.Message { return &messaging.MineEventMessage{} }, ix.handleMineEvent},
		{messaging.TopicEpochResets, func() messaging.Message { return &messaging.EpochResetMessage{} }, ix.handleEpochReset},
	}

	for _, t := range topics {
		ix.wg.Add(1)
		go func() {
			defer ix.wg.Done()
			if err := ix.consumer.StartConsumer(ctx, t.topic, groupID, t.factory, t.handler); err != nil && !errors.Is(err, context.Canceled) {
				ix.logger.WithError(err).Error("consumer stopped", "topic", t.topic)
			}
		}()
	}

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	started := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ix.done:
			return nil
		case <-ticker.C:
			stats := ix.Stats()
			ix.logger.LogThroughput("index", stats.Results+stats.MineEvents+stats.EpochResets, time.Since(started))
		}
	}
}

// Shutdown waits for the consumers to stop
func (ix *Indexer) Shutdown(ctx context.Context) error {
	stats := ix.Stats()
	ix.logger.Info("shutting down indexer",
		"results", stats.Results,
		"mine_events", stats.MineEvents,
		"epoch_resets", stats.EpochResets,
		"failures", stats.Failures,
	)
	ix.stopOnce.Do(func() { close(ix.done) })

	finished := make(chan struct{})
	go func() {
		ix.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		ix.logger.Warn("shutdown timeout exceeded")
		return ctx.Err()
	}
}

func (ix *Indexer) record(counter *atomic.Int64, err error) error {
	if err != nil {
		ix.failures.Add(1)
		return err
	}
	counter.Add(1)
	ix.lastIndexed.Store(time.Now().UnixNano())
	return nil
}

func (ix *Indexer) handleResult(ctx context.Context, _ string, msg messaging.Message) error {
	res, ok := msg.(*messaging.ResultMessage)
	if !ok {
		return svcerrors.Newf(svcerrors.ErrorTypeKafka, "index_result", "unexpected message type %T", msg)
	}
	ix.logger.Debug("indexing result", "tx_id", res.TxID, "status", res.Status)
	return ix.record(&ix.results, ix.recorder.RecordResult(ctx, res))
}

func (ix *Indexer) handleMineEvent(ctx context.Context, _ string, msg messaging.Message) error {
	ev, ok := msg.(*messaging.MineEventMessage)
	if !ok {
		return svcerrors.Newf(svcerrors.ErrorTypeKafka, "index_mine_event", "unexpected message type %T", msg)
	}
	ix.logger.Debug("indexing mine event", "tx_id", ev.TxID, "authority", ev.Authority, "reward", ev.Reward)
	return ix.record(&ix.mineEvents, ix.recorder.RecordMineEvent(ctx, ev))
}

func (ix *Indexer) handleEpochReset(ctx context.Context, _ string, msg messaging.Message) error {
	ev, ok := msg.(*messaging.EpochResetMessage)
	if !ok {
		return svcerrors.Newf(svcerrors.ErrorTypeKafka, "index_epoch_reset", "unexpected message type %T", msg)
	}
	ix.logger.Debug("indexing epoch reset", "tx_id", ev.TxID, "reset_at", ev.ResetAt)
	return ix.record(&ix.epochResets, ix.recorder.RecordEpochReset(ctx, ev))
}
