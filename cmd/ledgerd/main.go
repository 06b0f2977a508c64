// Package main implements ledgerd, the executor service of the luckycoin
// ledger. It consumes signed transactions from Kafka, runs them through the
// reward program and publishes results and reward events.
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/luckycoin-meme/luckycoin/internal/beacon"
	"github.com/luckycoin-meme/luckycoin/internal/config"
	"github.com/luckycoin-meme/luckycoin/internal/database"
	"github.com/luckycoin-meme/luckycoin/internal/engine"
	"github.com/luckycoin-meme/luckycoin/internal/ledger"
	"github.com/luckycoin-meme/luckycoin/internal/messaging"
	"github.com/luckycoin-meme/luckycoin/internal/protocol"
	svcerrors "github.com/luckycoin-meme/luckycoin/pkg/errors"
	"github.com/luckycoin-meme/luckycoin/pkg/log"
)

// genesisSeed derives the slot hash the clock starts from
var genesisSeed = []byte("luckycoin genesis")

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting ledgerd",
		"version", cfg.Version,
		"worker_pool_size", cfg.WorkerPoolSize,
		"beacon_endpoint", cfg.BeaconEndpoint,
	)

	params := engine.DefaultParams()
	var initializer *ledger.Keypair
	if cfg.InitializerKey != "" {
		if initializer, err = ledger.KeypairFromHex(cfg.InitializerKey); err != nil {
			logger.WithError(err).Error("invalid INITIALIZER_KEY")
			os.Exit(1)
		}
		params.Initializer = initializer.Address()
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dbManager.Migrate(ctx); err != nil {
		logger.WithError(err).Error("failed to migrate database")
		os.Exit(1)
	}

	// A standby ledgerd waits here until the active one goes away.
	writer, err := dbManager.AcquireWriter(ctx)
	if err != nil {
		logger.WithError(err).Error("failed to acquire writer lock")
		os.Exit(1)
	}
	defer func() {
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer releaseCancel()
		if err := writer.Release(releaseCtx); err != nil {
			logger.WithError(err).Warn("failed to release writer lock")
		}
	}()
	go holdLease(ctx, writer, cancel, logger)

	clock := ledger.NewClock(genesisSeed, nil)
	if last, err := dbManager.Redis.GetSlotHash(ctx); err == nil {
		clock.Advance(last)
		logger.Info("restored slot clock", "slot", last.Slot)
	}

	executor := ledger.NewExecutor(dbManager, clock, engine.NewProcessor(params, logger.Logger), logger.Logger)

	kafkaClient := messaging.NewKafkaClient(cfg.KafkaBrokers, logger.Logger)
	defer func() {
		if err := kafkaClient.Close(); err != nil {
			logger.WithError(err).Error("failed to close Kafka client")
		}
	}()

	svc := NewLedger(cfg, logger, executor, kafkaClient, dbManager.Redis)

	if err := svc.Bootstrap(ctx, dbManager, initializer); err != nil {
		logger.WithError(err).Error("bootstrap failed")
		os.Exit(1)
	}

	subscriber, err := beacon.NewSubscriber(cfg.BeaconEndpoint, logger.Logger)
	if err != nil {
		logger.WithError(err).Error("failed to create beacon subscriber")
		os.Exit(1)
	}
	defer func() { _ = subscriber.Close() }()
	if err := subscriber.Connect(); err != nil {
		logger.WithError(err).Error("failed to connect to beacon")
		os.Exit(1)
	}
	go func() {
		if err := subscriber.Listen(ctx, svc.AdvanceSlot); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("beacon listener failed")
		}
	}()

	dbManager.StartPeriodicTasks(ctx, "ledgerd")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("ledger failed")
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
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown failed")
	}

	logger.Info("ledgerd stopped")
}

// broker is the part of the Kafka client the ledger uses
type broker interface {
	Publish(ctx context.Context, topic, key string, msg messaging.Message) error
	PublishBatch(ctx context.Context, topic string, msgs []messaging.Keyed) error
	StartConsumer(ctx context.Context, topic, groupID string, msgFactory func() messaging.Message, handler messaging.MessageHandler) error
}

// slotStore persists the latest slot hash so a restart resumes the clock
type slotStore interface {
	SetSlotHash(ctx context.Context, sh protocol.SlotHash) error
}

// errShuttingDown is returned by Enqueue once Shutdown has begun
var errShuttingDown = errors.New("ledger shutting down")

// Ledger runs transactions from Kafka through the executor
type Ledger struct {
	cfg      *config.Config
	logger   *log.Logger
	executor *ledger.Executor
	broker   broker
	slots    slotStore

	// One queue per worker; transactions with the same key share a queue so
	// a miner's submissions execute in order
	queues []chan *messaging.TransactionMessage
	wg     sync.WaitGroup
	done   chan struct{}
	stop   sync.Once

	processed atomic.Uint64
	rejected  atomic.Uint64
}

// lease is the writer lock a ledgerd holds while it executes
type lease interface {
	Lost() <-chan struct{}
}

// holdLease stops the service when its writer lock is lost
func holdLease(ctx context.Context, l lease, cancel context.CancelFunc, logger *log.Logger) {
	select {
	case <-l.Lost():
		if ctx.Err() == nil {
			logger.Error("writer lock lost, stopping")
		}
		cancel()
	case <-ctx.Done():
	}
}

// NewLedger creates the executor service
func NewLedger(cfg *config.Config, logger *log.Logger, executor *ledger.Executor, b broker, slots slotStore) *Ledger {
	workers := max(cfg.WorkerPoolSize, 1)
	depth := max(cfg.QueueSize/workers, 1)

	queues := make([]chan *messaging.TransactionMessage, workers)
	for i := range queues {
		queues[i] = make(chan *messaging.TransactionMessage, depth)
	}

	return &Ledger{
		cfg:      cfg,
		logger:   logger.WithComponent("ledger"),
		executor: executor,
		broker:   b,
		slots:    slots,
		queues:   queues,
		done:     make(chan struct{}),
	}
}

// Start runs the workers and the Kafka consumers until ctx is done
func (l *Ledger) Start(ctx context.Context) error {
	l.logger.Info("ledger starting", "workers", len(l.queues))

	for i := range l.queues {
		l.wg.Add(1)
		go l.worker(ctx, i)
	}

	groupID := l.cfg.KafkaGroupID + ".ledgerd"
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		err := l.broker.StartConsumer(ctx, messaging.TopicTransactions, groupID,
			func() messaging.Message { return &messaging.TransactionMessage{} },
			messaging.HandlerFunc(l.handleTransaction))
		if err != nil && !errors.Is(err, context.Canceled) {
			l.logger.WithError(err).Error("transaction consumer stopped")
		}
	}()

	if l.cfg.AirdropEnabled {
		l.logger.Warn("airdrops enabled", "max_lamports", l.cfg.AirdropLamports)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			err := l.broker.StartConsumer(ctx, messaging.TopicAirdrops, groupID,
				func() messaging.Message { return &messaging.AirdropMessage{} },
				messaging.HandlerFunc(l.handleAirdrop))
			if err != nil && !errors.Is(err, context.Canceled) {
				l.logger.WithError(err).Error("airdrop consumer stopped")
			}
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return nil
	}
}

// Shutdown stops accepting work and waits for the workers
func (l *Ledger) Shutdown(ctx context.Context) error {
	l.logger.Info("shutting down ledger",
		"processed", l.processed.Load(),
		"rejected", l.rejected.Load(),
	)
	l.stop.Do(func() { close(l.done) })

	finished := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		l.logger.Warn("shutdown timeout exceeded")
		return ctx.Err()
	}
}

// shardOf maps a partition key onto a worker queue
func shardOf(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// Enqueue hands a transaction to the worker owning key. It blocks while the
// queue is full so the consumer stops reading ahead.
func (l *Ledger) Enqueue(ctx context.Context, key string, msg *messaging.TransactionMessage) error {
	q := l.queues[shardOf(key, len(l.queues))]
	select {
	case q <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return errShuttingDown
	}
}

func (l *Ledger) handleTransaction(ctx context.Context, key string, msg messaging.Message) error {
	tm, ok := msg.(*messaging.TransactionMessage)
	if !ok {
		return fmt.Errorf("unexpected message type %T", msg)
	}
	if key == "" {
		key = tm.TxID
	}
	return l.Enqueue(ctx, key, tm)
}

func (l *Ledger) worker(ctx context.Context, id int) {
	defer l.wg.Done()
	logger := l.logger.WithFields("worker_id", id)
	logger.Debug("worker started")
	defer logger.Debug("worker stopped")

	q := l.queues[id]
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case msg := <-q:
			l.Process(ctx, msg)
		}
	}
}

// Process executes one transaction and publishes its outcome.
//
// Parameters:
//   - ctx: Bounds store access and publishing
//   - msg: The transaction as received from Kafka
//
// Returns:
//   - *messaging.ResultMessage: The published result
func (l *Ledger) Process(ctx context.Context, msg *messaging.TransactionMessage) *messaging.ResultMessage {
	start := time.Now()
	ctx = context.WithValue(ctx, log.TxIDKey, msg.TxID)
	logger := l.logger.WithContext(ctx)

	tx, err := ledger.UnmarshalTransaction(msg.Raw)
	if err != nil {
		logger.WithError(err).Info("malformed transaction")
		res := l.failure(msg.TxID, msg.SessionID, messaging.StatusMalformed, err, start)
		l.rejected.Add(1)
		l.publishResult(ctx, res)
		return res
	}

	receipt, err := l.executor.Execute(ctx, tx)
	if err != nil {
		logger.WithError(err).Error("execution failed")
		res := l.failure(tx.ID().String(), msg.SessionID, messaging.StatusFailed, err, start)
		l.publishResult(ctx, res)
		return res
	}

	res := messaging.NewResultMessage(receipt, msg.SessionID, time.Since(start))
	logger.LogTransaction(res.TxID, res.Slot, len(tx.Instructions), res.Status)
	if receipt.Succeeded() {
		l.processed.Add(1)
	} else {
		l.rejected.Add(1)
		logger.Debug("transaction rejected", "error", svcerrors.Ledger(receipt.Err, res.TxID, int(res.Instruction)))
	}

	l.publishResult(ctx, res)
	l.publishEvents(ctx, logger, receipt)
	return res
}

func (l *Ledger) failure(txID, sessionID, status string, err error, start time.Time) *messaging.ResultMessage {
	return &messaging.ResultMessage{
		TxID:        txID,
		Slot:        l.executor.Clock().SlotHash().Slot,
		Status:      status,
		Error:       err.Error(),
		ErrorCode:   messaging.ErrorCode(err),
		Instruction: -1,
		SessionID:   sessionID,
		LatencyMs:   float64(time.Since(start).Nanoseconds()) / 1e6,
		ProcessedAt: time.Now(),
	}
}

func (l *Ledger) publishResult(ctx context.Context, res *messaging.ResultMessage) {
	if err := l.broker.Publish(ctx, messaging.TopicResults, res.TxID, res); err != nil {
		l.logger.WithError(err).Error("failed to publish result", "tx_id", res.TxID)
	}
}

func (l *Ledger) publishEvents(ctx context.Context, logger *log.Logger, receipt *ledger.Receipt) {
	if mines := messaging.NewMineEventMessages(receipt); len(mines) > 0 {
		batch := make([]messaging.Keyed, len(mines))
		for i, m := range mines {
			logger.LogMine(m.Authority, int(m.Bus), m.Difficulty, m.Reward, m.Timing)
			batch[i] = messaging.Keyed{Key: m.Authority, Message: m}
		}
		if err := l.broker.PublishBatch(ctx, messaging.TopicMineEvents, batch); err != nil {
			logger.WithError(err).Error("failed to publish mine events")
		}
	}

	if resets := messaging.NewEpochResetMessages(receipt); len(resets) > 0 {
		batch := make([]messaging.Keyed, len(resets))
		for i, r := range resets {
			logger.LogEpochReset(r.ResetAt, r.BaseRewardRate, r.MinDifficulty, r.Minted)
			batch[i] = messaging.Keyed{Key: r.TxID, Message: r}
		}
		if err := l.broker.PublishBatch(ctx, messaging.TopicEpochResets, batch); err != nil {
			logger.WithError(err).Error("failed to publish epoch resets")
		}
	}
}

// handleAirdrop credits lamports on a development network and reports the
// new balance as the result's return data
func (l *Ledger) handleAirdrop(ctx context.Context, _ string, msg messaging.Message) error {
	am, ok := msg.(*messaging.AirdropMessage)
	if !ok {
		return fmt.Errorf("unexpected message type %T", msg)
	}
	res := l.Airdrop(ctx, am)
	l.publishResult(ctx, res)
	return nil
}

// Airdrop applies one airdrop request
func (l *Ledger) Airdrop(ctx context.Context, am *messaging.AirdropMessage) *messaging.ResultMessage {
	start := time.Now()

	addr, err := protocol.ParseAddress(am.Address)
	if err != nil {
		return l.failure(am.RequestID, am.SessionID, messaging.StatusMalformed, err, start)
	}
	if am.Lamports == 0 || am.Lamports > l.cfg.AirdropLamports {
		err := fmt.Errorf("airdrop of %d lamports outside (0, %d]", am.Lamports, l.cfg.AirdropLamports)
		return l.failure(am.RequestID, am.SessionID, messaging.StatusRejected, err, start)
	}

	balance, err := l.executor.Airdrop(ctx, addr, am.Lamports)
	if err != nil {
		status := messaging.StatusRejected
		if !errors.Is(err, ledger.ErrUnknownAccount) && !errors.Is(err, protocol.ErrOverflow) {
			status = messaging.StatusFailed
		}
		return l.failure(am.RequestID, am.SessionID, status, err, start)
	}

	l.logger.Info("airdrop applied", "address", am.Address, "lamports", am.Lamports, "balance", balance)
	return &messaging.ResultMessage{
		TxID:        am.RequestID,
		Slot:        l.executor.Clock().SlotHash().Slot,
		Status:      messaging.StatusCommitted,
		Instruction: -1,
		ReturnData:  [][]byte{binary.LittleEndian.AppendUint64(nil, balance)},
		Written:     []string{am.Address},
		SessionID:   am.SessionID,
		LatencyMs:   float64(time.Since(start).Nanoseconds()) / 1e6,
		ProcessedAt: time.Now(),
	}
}

// AdvanceSlot moves the clock to a slot from the beacon
func (l *Ledger) AdvanceSlot(ctx context.Context, s protocol.SlotHash) error {
	if !l.executor.Clock().Advance(s) {
		l.logger.Debug("ignoring stale slot", "slot", s.Slot)
		return nil
	}
	if l.slots == nil {
		return nil
	}
	storeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return l.slots.SetSlotHash(storeCtx, s)
}

// Bootstrap writes genesis accounts and runs Initialize once. Without an
// initializer key the ledger starts from whatever the store holds.
func (l *Ledger) Bootstrap(ctx context.Context, store ledger.Store, initializer *ledger.Keypair) error {
	if initializer == nil {
		l.logger.Warn("INITIALIZER_KEY not set, skipping bootstrap")
		return nil
	}
	start := time.Now()
	defer func() { l.logger.LogDuration("bootstrap", time.Since(start)) }()

	genesis := ledger.Genesis{
		Initializer:         initializer.Address(),
		InitializerLamports: l.cfg.GenesisLamports,
		LegacyAuthority:     initializer.Address(),
	}
	if err := ledger.Bootstrap(ctx, store, genesis); err != nil {
		return err
	}

	k := protocol.Known()
	accounts, err := l.executor.Accounts(ctx, k.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !accounts[k.Config].IsEmpty() {
		l.logger.Info("program already initialized")
		return nil
	}

	tx := ledger.NewTransaction(uint64(time.Now().UnixNano()), protocol.Initialize(initializer.Address()))
	if err := tx.Sign(initializer); err != nil {
		return fmt.Errorf("sign initialize: %w", err)
	}
	receipt, err := l.executor.Execute(ctx, tx)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if receipt.Err != nil {
		return fmt.Errorf("initialize rejected: %w", receipt.Err)
	}
	l.logger.Info("program initialized", "tx_id", receipt.TxID.String(), "initializer", initializer.Address().String())
	return nil
}
