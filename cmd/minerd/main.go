// Package main implements the reference CPU miner for the luckycoin ledger.
// It connects to gatewayd, opens a proof when needed and submits one solution
// per cadence window, rotating across the reward buses.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/luckycoin-meme/luckycoin/internal/challenge"
	"github.com/luckycoin-meme/luckycoin/internal/config"
	"github.com/luckycoin-meme/luckycoin/internal/engine"
	"github.com/luckycoin-meme/luckycoin/internal/ledger"
	"github.com/luckycoin-meme/luckycoin/internal/messaging"
	"github.com/luckycoin-meme/luckycoin/internal/protocol"
	"github.com/luckycoin-meme/luckycoin/internal/rpc"
	"github.com/luckycoin-meme/luckycoin/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)

	signer, err := minerKey(cfg)
	if err != nil {
		logger.WithError(err).Error("invalid miner key")
		os.Exit(1)
	}
	if cfg.MinerKey == "" {
		logger.Warn("MINER_KEY not set, mining with a throwaway key")
	}

	logger.Info("starting minerd",
		"version", cfg.Version,
		"gateway", cfg.GatewayAddr,
		"authority", signer.Address().String(),
		"threads", cfg.MinerThreads,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	for ctx.Err() == nil {
		if err := session(ctx, cfg, logger, signer); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("gateway session ended")
			_ = sleep(ctx, retryDelay)
		}
	}

	logger.Info("minerd stopped")
}

// session mines over one gateway connection until it drops
func session(ctx context.Context, cfg *config.Config, logger *log.Logger, signer *ledger.Keypair) error {
	client, err := rpc.Dial(ctx, cfg.GatewayAddr, logger)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	miner := NewMiner(cfg, logger, client, signer)
	if err := miner.Register(ctx); err != nil {
		return err
	}
	return miner.Run(ctx)
}

// minerKey loads the configured identity or generates a throwaway one
func minerKey(cfg *config.Config) (*ledger.Keypair, error) {
	if cfg.MinerKey != "" {
		return ledger.KeypairFromHex(cfg.MinerKey)
	}
	return ledger.NewKeypair()
}

// gateway is the part of the RPC client the miner uses
type gateway interface {
	Login(ctx context.Context, authority protocol.Address) error
	GetProof(ctx context.Context, authority protocol.Address) (*rpc.ProofResponse, error)
	GetConfig(ctx context.Context) (*rpc.ConfigResponse, error)
	SubmitTransaction(ctx context.Context, raw []byte) (*rpc.SubmitResponse, error)
	RequestAirdrop(ctx context.Context, addr protocol.Address, lamports uint64) (*rpc.SubmitResponse, error)
	GetResult(ctx context.Context, txID string) (*rpc.ResultNotification, error)
	Notifications() <-chan *rpc.Message
	Done() <-chan struct{}
}

const (
	// solveBuffer is how long before the cadence target solving stops
	solveBuffer = time.Second
	// resultTimeout bounds the wait for a ledger.result push
	resultTimeout = 30 * time.Second
	// retryDelay is the pause after a failed round
	retryDelay = 5 * time.Second
)

var errGatewayClosed = errors.New("gateway connection closed")

// Miner solves challenges for one authority
type Miner struct {
	cfg     *config.Config
	logger  *log.Logger
	gateway gateway
	signer  *ledger.Keypair
	proof   protocol.Address

	now           func() time.Time
	wait          func(ctx context.Context, d time.Duration) error
	resultTimeout time.Duration

	nonce     atomic.Uint64
	bus       atomic.Uint64
	submitted atomic.Int64
	committed atomic.Int64
	rejected  atomic.Int64
	rewards   atomic.Uint64
}

// NewMiner creates a miner for signer's proof
func NewMiner(cfg *config.Config, logger *log.Logger, gw gateway, signer *ledger.Keypair) *Miner {
	proof, _ := protocol.ProofAddress(signer.Address())
	m := &Miner{
		cfg:     cfg,
		logger:  logger.WithComponent("miner").WithProof(proof.String(), signer.Address().String()),
		gateway: gw,
		signer:  signer,
		proof:   proof,
		now:     time.Now,
		wait:    sleep,

		resultTimeout: resultTimeout,
	}
	m.nonce.Store(uint64(time.Now().UnixNano()))
	return m
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MinerStats summarizes submissions since start
type MinerStats struct {
	Submitted int64
	Committed int64
	Rejected  int64
	Rewards   uint64
}

// Stats returns the submission counters
func (m *Miner) Stats() MinerStats {
	return MinerStats{
		Submitted: m.submitted.Load(),
		Committed: m.committed.Load(),
		Rejected:  m.rejected.Load(),
		Rewards:   m.rewards.Load(),
	}
}

// Register logs in and opens the proof if it does not exist yet. On
// development networks the signer is funded through an airdrop first.
func (m *Miner) Register(ctx context.Context) error {
	authority := m.signer.Address()
	if err := m.gateway.Login(ctx, authority); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	_, err := m.gateway.GetProof(ctx, authority)
	if err == nil {
		m.logger.Info("proof found")
		return nil
	}
	var rpcErr *rpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != rpc.ErrorNotFound {
		return fmt.Errorf("failed to fetch proof: %w", err)
	}

	if m.cfg.AirdropEnabled {
		if err := m.airdrop(ctx); err != nil {
			m.logger.WithError(err).Warn("airdrop failed, opening with existing funds")
		}
	}

	tx := m.transaction(protocol.Open(authority, authority, authority))
	res, err := m.submit(ctx, tx)
	if err != nil {
		return fmt.Errorf("failed to open proof: %w", err)
	}
	if res.Status != messaging.StatusCommitted {
		return fmt.Errorf("open %s: %s", res.Status, res.Error)
	}
	m.logger.Info("proof opened", "tx_id", res.TxID, "slot", res.Slot)
	return nil
}

func (m *Miner) airdrop(ctx context.Context) error {
	ack, err := m.gateway.RequestAirdrop(ctx, m.signer.Address(), m.cfg.AirdropLamports)
	if err != nil {
		return err
	}
	res, err := m.result(ctx, ack.TxID)
	if err != nil {
		return err
	}
	if res.Status != messaging.StatusCommitted {
		return fmt.Errorf("airdrop %s: %s", res.Status, res.Error)
	}
	m.logger.Info("airdrop received", "lamports", m.cfg.AirdropLamports)
	return nil
}

// Run mines until ctx is done or the gateway connection drops
func (m *Miner) Run(ctx context.Context) error {
	m.logger.Info("mining started")
	defer func() {
		stats := m.Stats()
		m.logger.Info("mining stopped",
			"submitted", stats.Submitted,
			"committed", stats.Committed,
			"rejected", stats.Rejected,
			"rewards", stats.Rewards,
		)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.gateway.Done():
			return errGatewayClosed
		default:
		}

		if _, err := m.Mine(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.WithError(err).Warn("mining round failed")
			if err := m.wait(ctx, retryDelay); err != nil {
				return err
			}
		}
	}
}

// Mine runs one round: fetch the proof, solve until just before the cadence
// target and submit the best solution to the next bus.
//
// Returns:
//   - *rpc.ResultNotification: The execution result of the submission
//   - error: Query, solve or submit failure
func (m *Miner) Mine(ctx context.Context) (*rpc.ResultNotification, error) {
	proof, err := m.gateway.GetProof(ctx, m.signer.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch proof: %w", err)
	}
	cfg, err := m.gateway.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch config: %w", err)
	}
	ch, err := parseChallenge(proof.Challenge)
	if err != nil {
		return nil, err
	}

	target := time.Unix(engine.TargetTime(proof.LastHashAt), 0)
	found, err := m.solve(ctx, ch, cfg.MinDifficulty, target.Add(-solveBuffer))
	if err != nil {
		return nil, err
	}

	earliest := target.Add(-time.Duration(protocol.Tolerance) * time.Second)
	if err := m.wait(ctx, earliest.Sub(m.now())); err != nil {
		return nil, err
	}

	k := protocol.Known()
	busIndex := int((m.bus.Add(1) - 1) % protocol.BusCount)
	authority := m.signer.Address()
	tx := m.transaction(
		protocol.Auth(m.proof),
		protocol.Mine(authority, authority, k.Bus[busIndex], protocol.MineArgs{
			Digest: found.Solution.D,
			Nonce:  found.Solution.N,
		}),
	)

	res, err := m.submit(ctx, tx)
	if err != nil {
		return nil, err
	}

	if res.Status != messaging.StatusCommitted {
		m.rejected.Add(1)
		m.logger.WithBus(busIndex).Warn("solution rejected",
			"tx_id", res.TxID,
			"difficulty", found.Difficulty,
			"error", res.Error,
		)
		return res, nil
	}

	m.committed.Add(1)
	if ev, ok := mineEvent(res); ok {
		m.rewards.Add(ev.Reward)
		m.logger.LogMine(authority.String(), busIndex, ev.Difficulty, ev.Reward, ev.Timing)
	}
	return res, nil
}

// solve searches until deadline, then keeps going only as long as no
// solution meets the minimum difficulty
func (m *Miner) solve(ctx context.Context, ch chainhash.Hash, minDifficulty uint64, deadline time.Time) (challenge.Result, error) {
	opts := challenge.SolveOptions{
		Threads:       m.cfg.MinerThreads,
		MinDifficulty: minDifficulty,
	}
	start := time.Now()

	if budget := deadline.Sub(m.now()); budget > 0 {
		solveCtx, cancel := context.WithTimeout(ctx, budget)
		res, err := challenge.Solve(solveCtx, ch, opts)
		cancel()
		if err == nil {
			m.logSolve(res, time.Since(start))
			return res, nil
		}
		if !errors.Is(err, challenge.ErrNoSolution) || ctx.Err() != nil {
			return res, err
		}
		opts.StartNonce = res.Attempts
	}

	opts.TargetDifficulty = minDifficulty
	res, err := challenge.Solve(ctx, ch, opts)
	if err != nil {
		return res, err
	}
	m.logSolve(res, time.Since(start))
	return res, nil
}

func (m *Miner) logSolve(res challenge.Result, elapsed time.Duration) {
	m.logger.Debug("challenge solved",
		"difficulty", res.Difficulty,
		"attempts", res.Attempts,
		"elapsed", elapsed,
	)
	m.logger.LogThroughput("hash", int64(res.Attempts), elapsed)
}

func (m *Miner) transaction(ixs ...protocol.Instruction) *ledger.Transaction {
	return ledger.NewTransaction(m.nonce.Add(1), ixs...)
}

// submit signs and queues tx, then waits for its result
func (m *Miner) submit(ctx context.Context, tx *ledger.Transaction) (*rpc.ResultNotification, error) {
	if err := tx.Sign(m.signer); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	raw, err := tx.Marshal()
	if err != nil {
		return nil, err
	}
	ack, err := m.gateway.SubmitTransaction(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("submit failed: %w", err)
	}
	m.submitted.Add(1)
	return m.result(ctx, ack.TxID)
}

// result waits for the ledger.result push of txID. When none arrives in
// time the recorded outcome is queried instead.
func (m *Miner) result(ctx context.Context, txID string) (*rpc.ResultNotification, error) {
	waitCtx, cancel := context.WithTimeout(ctx, m.resultTimeout)
	defer cancel()

	for {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			res, err := m.gateway.GetResult(ctx, txID)
			if err != nil {
				return nil, fmt.Errorf("no result for %s: %w", txID, err)
			}
			m.logger.WithTransaction(txID).Debug("result push missed")
			return res, nil
		case <-m.gateway.Done():
			return nil, errGatewayClosed
		case msg, ok := <-m.gateway.Notifications():
			if !ok {
				return nil, errGatewayClosed
			}
			n, err := rpc.ParseResultNotification(msg)
			if err != nil {
				m.logger.Debug("ignoring notification", "method", msg.Method)
				continue
			}
			if n.TxID == txID {
				return n, nil
			}
			m.logger.Debug("result for another transaction", "tx_id", n.TxID)
		}
	}
}

func parseChallenge(s string) (chainhash.Hash, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("invalid challenge: %w", err)
	}
	h, err := chainhash.NewHash(raw)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("invalid challenge: %w", err)
	}
	return *h, nil
}

// mineEvent finds the Mine return data in a result
func mineEvent(res *rpc.ResultNotification) (protocol.MineEvent, bool) {
	for _, data := range res.ReturnData {
		raw, err := hex.DecodeString(data)
		if err != nil {
			continue
		}
		if ev, err := protocol.ParseMineEvent(raw); err == nil {
			return ev, true
		}
	}
	return protocol.MineEvent{}, false
}
