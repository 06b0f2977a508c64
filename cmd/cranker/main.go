// Package main implements the cranker service for the luckycoin ledger.
// It drives the slot beacon and submits Reset once an epoch has elapsed so
// buses are refilled without waiting for a miner to do it.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/luckycoin-meme/luckycoin/internal/beacon"
	"github.com/luckycoin-meme/luckycoin/internal/config"
	"github.com/luckycoin-meme/luckycoin/internal/database"
	"github.com/luckycoin-meme/luckycoin/internal/ledger"
	"github.com/luckycoin-meme/luckycoin/internal/messaging"
	"github.com/luckycoin-meme/luckycoin/internal/protocol"
	"github.com/luckycoin-meme/luckycoin/internal/state"
	"github.com/luckycoin-meme/luckycoin/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting cranker",
		"version", cfg.Version,
		"beacon_endpoint", cfg.BeaconEndpoint,
		"beacon_interval", cfg.BeaconInterval,
		"reset_check_interval", cfg.ResetCheckInterval,
	)

	signer, err := crankKey(cfg)
	if err != nil {
		logger.WithError(err).Error("invalid signing key")
		os.Exit(1)
	}

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

	publisher, err := beacon.NewPublisher(cfg.BeaconEndpoint, logger.Logger)
	if err != nil {
		logger.WithError(err).Error("failed to create beacon publisher")
		os.Exit(1)
	}
	defer func() { _ = publisher.Close() }()

	kafkaClient := messaging.NewKafkaClient(cfg.KafkaBrokers, logger.Logger)
	defer func() {
		if err := kafkaClient.Close(); err != nil {
			logger.WithError(err).Error("failed to close Kafka client")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cranker := NewCranker(cfg, logger, publisher, dbManager, kafkaClient, signer)

	restoreCtx, restoreCancel := context.WithTimeout(ctx, 5*time.Second)
	if last, err := dbManager.Redis.GetSlotHash(restoreCtx); err == nil {
		cranker.Restore(last)
	} else {
		logger.Info("starting slot chain from genesis", "reason", err)
	}
	restoreCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := cranker.Start(ctx); err != nil && err != context.Canceled {
			logger.WithError(err).Error("cranker failed")
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

	if err := cranker.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown failed")
		os.Exit(1)
	}

	logger.Info("cranker stopped")
}

// crankKey picks the signer of Reset transactions. Reset accepts any signer,
// so without a configured key a throwaway one is used.
func crankKey(cfg *config.Config) (*ledger.Keypair, error) {
	for _, secret := range []string{cfg.InitializerKey, cfg.MinerKey} {
		if secret != "" {
			return ledger.KeypairFromHex(secret)
		}
	}
	return ledger.NewKeypair()
}

// slotPublisher broadcasts slot hashes
type slotPublisher interface {
	Publish(s protocol.SlotHash) error
}

// accountReader reads the program config
type accountReader interface {
	CachedAccounts(ctx context.Context, addrs []protocol.Address) (map[protocol.Address]*protocol.AccountInfo, error)
}

// broker queues crank transactions for ledgerd
type broker interface {
	Publish(ctx context.Context, topic, key string, msg messaging.Message) error
}

// Cranker advances the slot clock and rolls epochs
type Cranker struct {
	cfg      *config.Config
	logger   *log.Logger
	beacon   slotPublisher
	accounts accountReader
	broker   broker
	signer   *ledger.Keypair
	now      func() time.Time

	mu   sync.Mutex
	slot protocol.SlotHash
	// resetFor is the LastResetAt of the epoch a Reset was queued for
	resetFor   int64
	resetAt    time.Time
	resetNonce uint64

	done     chan struct{}
	stopOnce sync.Once
}

// NewCranker creates a new cranker
func NewCranker(cfg *config.Config, logger *log.Logger, pub slotPublisher, accounts accountReader, b broker, signer *ledger.Keypair) *Cranker {
	return &Cranker{
		cfg:      cfg,
		logger:   logger.WithComponent("cranker"),
		beacon:   pub,
		accounts: accounts,
		broker:   b,
		signer:   signer,
		now:      time.Now,
		resetFor: -1,
		done:     make(chan struct{}),
	}
}

// Restore continues the slot chain from a previously published slot
func (c *Cranker) Restore(last protocol.SlotHash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last.Slot > c.slot.Slot {
		c.slot = last
		c.logger.Info("restored slot chain", "slot", last.Slot)
	}
}

// Start publishes slots and checks for epoch ends until ctx is done
func (c *Cranker) Start(ctx context.Context) error {
	c.logger.Info("cranker starting", "signer", c.signer.Address().String())

	slotTicker := time.NewTicker(positive(c.cfg.BeaconInterval, 400*time.Millisecond))
	defer slotTicker.Stop()
	resetTicker := time.NewTicker(positive(c.cfg.ResetCheckInterval, 5*time.Second))
	defer resetTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-slotTicker.C:
			if _, err := c.Tick(); err != nil {
				c.logger.WithError(err).Error("failed to publish slot")
			}
		case <-resetTicker.C:
			if _, err := c.CheckReset(ctx); err != nil {
				c.logger.WithError(err).Error("failed to check epoch")
			}
		}
	}
}

// Shutdown stops the cranker
func (c *Cranker) Shutdown(_ context.Context) error {
	c.logger.Info("shutting down cranker")
	c.stopOnce.Do(func() { close(c.done) })
	return nil
}

func positive(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// Tick derives and publishes the next slot. The slot only advances when
// the publish succeeds.
func (c *Cranker) Tick() (protocol.SlotHash, error) {
	entropy := make([]byte, 32)
	if _, err := rand.Read(entropy); err != nil {
		return protocol.SlotHash{}, fmt.Errorf("failed to read entropy: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next := beacon.Next(c.slot, entropy)
	if err := c.beacon.Publish(next); err != nil {
		return protocol.SlotHash{}, err
	}
	c.slot = next
	return next, nil
}

// CheckReset queues a Reset when the current epoch has ended. A queued Reset
// is not repeated for the same epoch until a few check intervals pass
// without the config moving on.
//
// Returns:
//   - bool: Whether a Reset was queued
//   - error: Config read or publish failure
func (c *Cranker) CheckReset(ctx context.Context) (bool, error) {
	k := protocol.Known()
	accs, err := c.accounts.CachedAccounts(ctx, []protocol.Address{k.Config})
	if err != nil {
		return false, fmt.Errorf("failed to read config: %w", err)
	}
	acc, ok := accs[k.Config]
	if !ok || acc.IsEmpty() {
		c.logger.Debug("program not initialized")
		return false, nil
	}
	cfg, err := state.DecodeConfig(acc.Data)
	if err != nil {
		return false, err
	}

	now := c.now()
	if cfg.EpochEndsAt() > now.Unix() {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	retryAfter := 3 * positive(c.cfg.ResetCheckInterval, 5*time.Second)
	if c.resetFor == cfg.LastResetAt && now.Sub(c.resetAt) < retryAfter {
		return false, nil
	}

	c.resetNonce++
	tx := ledger.NewTransaction(uint64(now.UnixNano())+c.resetNonce, protocol.Reset(c.signer.Address()))
	if err := tx.Sign(c.signer); err != nil {
		return false, fmt.Errorf("failed to sign reset: %w", err)
	}
	raw, err := tx.Marshal()
	if err != nil {
		return false, err
	}

	txID := tx.ID().String()
	msg := &messaging.TransactionMessage{
		TxID:        txID,
		Raw:         raw,
		Source:      "cranker",
		SubmittedAt: now,
	}
	if err := c.broker.Publish(ctx, messaging.TopicTransactions, c.signer.Address().String(), msg); err != nil {
		return false, err
	}

	c.resetFor, c.resetAt = cfg.LastResetAt, now
	c.logger.WithTransaction(txID).Info("queued epoch reset",
		"last_reset_at", cfg.LastResetAt,
		"epoch_ended_at", cfg.EpochEndsAt(),
	)
	return true, nil
}
