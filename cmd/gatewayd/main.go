// Package main implements gatewayd, the JSON-RPC front door of the luckycoin
// ledger. Miners connect over TCP, query accounts and submit signed
// transactions, which are admitted here and queued to ledgerd over Kafka.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/luckycoin-meme/luckycoin/internal/config"
	"github.com/luckycoin-meme/luckycoin/internal/database"
	"github.com/luckycoin-meme/luckycoin/internal/database/postgres"
	"github.com/luckycoin-meme/luckycoin/internal/ledger"
	"github.com/luckycoin-meme/luckycoin/internal/messaging"
	"github.com/luckycoin-meme/luckycoin/internal/protocol"
	"github.com/luckycoin-meme/luckycoin/internal/rpc"
	"github.com/luckycoin-meme/luckycoin/internal/state"
	"github.com/luckycoin-meme/luckycoin/internal/validation"
	"github.com/luckycoin-meme/luckycoin/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting gatewayd",
		"version", cfg.Version,
		"listen_addr", cfg.ListenAddr,
		"listen_port", cfg.ListenPort,
		"airdrop_enabled", cfg.AirdropEnabled,
	)

	kafkaClient := messaging.NewKafkaClient(cfg.KafkaBrokers, logger.Logger)

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

	server := NewGateway(cfg, logger, kafkaClient, dbManager, dbManager.Redis)
	server.reporter = dbManager
	server.stats = dbManager
	server.results = dbManager
	server.registry = dbManager.Redis
	server.closers = append(server.closers, kafkaClient.Close, dbManager.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbManager.StartPeriodicTasks(ctx, "gatewayd")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("server failed")
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
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown failed")
		os.Exit(1)
	}

	logger.Info("gatewayd stopped")
}

// broker is the part of the Kafka client the gateway uses
type broker interface {
	Publish(ctx context.Context, topic, key string, msg messaging.Message) error
	StartConsumer(ctx context.Context, topic, groupID string, msgFactory func() messaging.Message, handler messaging.MessageHandler) error
}

// accountReader serves the read-only queries
type accountReader interface {
	CachedAccounts(ctx context.Context, addrs []protocol.Address) (map[protocol.Address]*protocol.AccountInfo, error)
}

// rateLimiter counts submissions per identity
type rateLimiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error)
}

// statsReader serves ledger.getStats
type statsReader interface {
	MinerStats(ctx context.Context, authority protocol.Address) (*database.MinerSummary, error)
	NetworkStats(ctx context.Context) (*database.NetworkStats, error)
}

// resultReader looks up recorded transaction outcomes
type resultReader interface {
	Result(ctx context.Context, txID string) (*messaging.ResultMessage, error)
}

// connectionReporter records connection counts for the network stats
type connectionReporter interface {
	ReportConnections(ctx context.Context, instance string, active, total int64)
}

// sessionRegistry records logged-in sessions for operators
type sessionRegistry interface {
	SetSession(ctx context.Context, sessionID string, data any, expiration time.Duration) error
	ExtendSession(ctx context.Context, sessionID string, expiration time.Duration) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// sessionRecord is the registry entry of a logged-in miner
type sessionRecord struct {
	Authority  string    `json:"authority"`
	RemoteAddr string    `json:"remote_addr"`
	Instance   string    `json:"instance"`
	LoginAt    time.Time `json:"login_at"`
}

const (
	// reportInterval is how often connection counts are reported
	reportInterval = 30 * time.Second
	// sessionTTL bounds how long an idle registry entry survives
	sessionTTL = 10 * time.Minute
)

// Gateway represents the JSON-RPC server
type Gateway struct {
	cfg       *config.Config
	logger    *log.Logger
	listener  net.Listener
	sessions  map[string]*rpc.Session
	mu        sync.RWMutex
	wg        sync.WaitGroup
	broker    broker
	accounts  accountReader
	limiter   rateLimiter
	validator *validation.TransactionValidator
	reporter  connectionReporter
	stats     statsReader
	results   resultReader
	registry  sessionRegistry
	instance  string
	active    atomic.Int64
	total     atomic.Int64
	closers   []func() error
}

// NewGateway creates a new gateway server
func NewGateway(cfg *config.Config, logger *log.Logger, b broker, accounts accountReader, limiter rateLimiter) *Gateway {
	return &Gateway{
		cfg:       cfg,
		logger:    logger.WithComponent("server"),
		sessions:  make(map[string]*rpc.Session),
		broker:    b,
		accounts:  accounts,
		limiter:   limiter,
		validator: validation.NewTransactionValidator(cfg.MaxMessageSize),
		instance:  randomID(4),
	}
}

// Start listens for miners and consumes execution results until ctx is done
func (s *Gateway) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.ListenAddr, s.cfg.ListenPort)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.logger.Info("server listening", "address", listener.Addr().String())

	s.wg.Add(1)
	go s.startResultConsumer(ctx)

	if s.reporter != nil {
		s.wg.Add(1)
		go s.reportConnections(ctx)
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.WithError(err).Error("failed to accept connection")
			continue
		}

		if s.cfg.MaxConnections > 0 && s.active.Load() >= int64(s.cfg.MaxConnections) {
			s.logger.Warn("connection limit reached, rejecting", "remote_addr", conn.RemoteAddr().String())
			_ = conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

// handleConnection serves one miner until it disconnects
func (s *Gateway) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Error("failed to close connection", "error", err)
		}
	}()

	s.active.Add(1)
	s.total.Add(1)
	defer s.active.Add(-1)

	sessionID := s.instance + "-" + randomID(8)
	session := rpc.NewSession(sessionID, conn, s.logger, s.cfg.ReadTimeout, s.cfg.WriteTimeout)

	s.mu.Lock()
	s.sessions[sessionID] = session
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sessionID)
		s.mu.Unlock()
		s.forget(session)
	}()

	handler := NewMessageHandler(s.cfg, s.logger, s)
	if err := session.Start(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WithError(err).Debug("session ended")
	}
}

// forget drops a closed session from the registry
func (s *Gateway) forget(session *rpc.Session) {
	submissions, last := session.Submissions()
	if submissions > 0 {
		session.Logger().Info("session closed", "submissions", submissions, "last_submit", last)
	}
	if s.registry == nil {
		return
	}
	if _, ok := session.Authority(); !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.registry.DeleteSession(ctx, session.ID()); err != nil {
		s.logger.WithError(err).Warn("failed to remove session", "session_id", session.ID())
	}
}

// Shutdown stops accepting connections and waits for sessions to end
func (s *Gateway) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server", "active_connections", s.active.Load())

	s.mu.RLock()
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Error("failed to close listener", "error", err)
		}
	}
	for _, session := range s.sessions {
		session.Close()
	}
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		s.logger.Info("all connections closed")
	case <-ctx.Done():
		s.logger.Warn("shutdown timeout exceeded")
		err = ctx.Err()
	}

	for _, closer := range s.closers {
		if cerr := closer(); cerr != nil {
			s.logger.WithError(cerr).Error("failed to release resource")
		}
	}
	return err
}

// reportConnections periodically publishes connection counts
func (s *Gateway) reportConnections(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reporter.ReportConnections(ctx, s.instance, s.active.Load(), s.total.Load())
		}
	}
}

// session looks up a connected session
func (s *Gateway) session(id string) (*rpc.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok
}

// startResultConsumer routes execution results back to the sessions that
// submitted them. Every gateway instance reads the whole topic.
func (s *Gateway) startResultConsumer(ctx context.Context) {
	defer s.wg.Done()

	groupID := s.cfg.KafkaGroupID + ".gatewayd." + s.instance
	s.logger.Info("started result consumer", "topic", messaging.TopicResults, "group_id", groupID)

	err := s.broker.StartConsumer(ctx, messaging.TopicResults, groupID,
		func() messaging.Message { return &messaging.ResultMessage{} },
		messaging.HandlerFunc(s.deliverResult))
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WithError(err).Error("result consumer stopped")
	}
}

func (s *Gateway) deliverResult(_ context.Context, _ string, msg messaging.Message) error {
	res, ok := msg.(*messaging.ResultMessage)
	if !ok {
		return fmt.Errorf("unexpected message type %T", msg)
	}
	if res.SessionID == "" {
		return nil
	}
	session, ok := s.session(res.SessionID)
	if !ok {
		return nil
	}

	if err := session.SendNotification(rpc.NotifyResult, []any{rpc.NewResultNotification(res)}); err != nil {
		session.Logger().WithError(err).Warn("failed to deliver result", "tx_id", res.TxID)
	}
	return nil
}

// allow applies the per-identity submission limit. Limiter failures let the
// request through.
func (s *Gateway) allow(ctx context.Context, key string) bool {
	if s.limiter == nil || s.cfg.RateLimitPerMinute <= 0 {
		return true
	}
	ok, err := s.limiter.CheckRateLimit(ctx, key, int64(s.cfg.RateLimitPerMinute), time.Minute)
	if err != nil {
		s.logger.WithError(err).Warn("rate limiter unavailable", "key", key)
		return true
	}
	return ok
}

// MessageHandler implements rpc.MessageHandler for gateway sessions
type MessageHandler struct {
	cfg    *config.Config
	logger *log.Logger
	server *Gateway
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(cfg *config.Config, logger *log.Logger, server *Gateway) *MessageHandler {
	return &MessageHandler{
		cfg:    cfg,
		logger: logger.WithComponent("handler"),
		server: server,
	}
}

// HandleMessage dispatches one request
func (h *MessageHandler) HandleMessage(ctx context.Context, session *rpc.Session, msg *rpc.Message) error {
	if msg.ID != nil {
		ctx = context.WithValue(ctx, log.RequestIDKey, fmt.Sprintf("%s/%v", session.ID(), msg.ID))
	}
	switch msg.Method {
	case rpc.MethodLogin:
		return h.handleLogin(ctx, session, msg)
	case rpc.MethodGetProof:
		return h.handleGetProof(ctx, session, msg)
	case rpc.MethodGetConfig:
		return h.handleGetConfig(ctx, session, msg)
	case rpc.MethodGetAccount:
		return h.handleGetAccount(ctx, session, msg)
	case rpc.MethodSubmitTransaction:
		return h.handleSubmit(ctx, session, msg)
	case rpc.MethodRequestAirdrop:
		return h.handleAirdrop(ctx, session, msg)
	case rpc.MethodGetStats:
		return h.handleGetStats(ctx, session, msg)
	case rpc.MethodGetResult:
		return h.handleGetResult(ctx, session, msg)
	case rpc.MethodHealth:
		return session.SendResponse(msg.ID, map[string]any{
			"status":   "ok",
			"sessions": h.server.active.Load(),
		})
	default:
		h.logger.Warn("unknown method", "method", msg.Method)
		return session.SendError(msg.ID, rpc.ErrorMethodNotFound, "Method not found")
	}
}

// handleLogin binds the session to an authority
func (h *MessageHandler) handleLogin(ctx context.Context, session *rpc.Session, msg *rpc.Message) error {
	authority, err := rpc.ParseAddressParam(msg.Params, 0)
	if err != nil {
		return session.SendError(msg.ID, rpc.ErrorInvalidParams, "Invalid parameters")
	}
	session.SetAuthority(authority)
	h.logger.WithContext(ctx).Info("miner logged in", "authority", authority.String(), "session_id", session.ID())

	if h.server.registry != nil {
		rec := sessionRecord{
			Authority:  authority.String(),
			RemoteAddr: session.RemoteAddr(),
			Instance:   h.server.instance,
			LoginAt:    time.Now(),
		}
		if err := h.server.registry.SetSession(ctx, session.ID(), rec, sessionTTL); err != nil {
			h.logger.WithError(err).Warn("failed to register session")
		}
	}
	return session.SendResponse(msg.ID, true)
}

// account reads one account. It returns nil when the address holds
// nothing, or holds no data and dataOnly is set.
func (h *MessageHandler) account(ctx context.Context, addr protocol.Address, dataOnly bool) (*protocol.AccountInfo, error) {
	accs, err := h.server.accounts.CachedAccounts(ctx, []protocol.Address{addr})
	if err != nil {
		return nil, err
	}
	acc, ok := accs[addr]
	if !ok || ledger.IsDead(acc) || (dataOnly && acc.IsEmpty()) {
		return nil, nil
	}
	return acc, nil
}

func (h *MessageHandler) handleGetProof(ctx context.Context, session *rpc.Session, msg *rpc.Message) error {
	authority, err := rpc.ParseAddressParam(msg.Params, 0)
	if err != nil {
		if logged, ok := session.Authority(); ok && len(msg.Params) == 0 {
			authority = logged
		} else {
			return session.SendError(msg.ID, rpc.ErrorInvalidParams, "Invalid parameters")
		}
	}

	addr, _ := protocol.ProofAddress(authority)
	acc, err := h.account(ctx, addr, true)
	if err != nil {
		h.logger.WithError(err).Error("failed to load proof")
		return session.SendError(msg.ID, rpc.ErrorUnavailable, "Ledger unavailable")
	}
	if acc == nil {
		return session.SendError(msg.ID, rpc.ErrorNotFound, "Proof not found")
	}
	proof, err := state.DecodeProof(acc.Data)
	if err != nil {
		return session.SendError(msg.ID, rpc.ErrorOther, err.Error())
	}
	return session.SendResponse(msg.ID, rpc.NewProofResponse(addr, proof))
}

func (h *MessageHandler) handleGetConfig(ctx context.Context, session *rpc.Session, msg *rpc.Message) error {
	acc, err := h.account(ctx, protocol.Known().Config, true)
	if err != nil {
		h.logger.WithError(err).Error("failed to load config")
		return session.SendError(msg.ID, rpc.ErrorUnavailable, "Ledger unavailable")
	}
	if acc == nil {
		return session.SendError(msg.ID, rpc.ErrorNotFound, "Program not initialized")
	}
	cfg, err := state.DecodeConfig(acc.Data)
	if err != nil {
		return session.SendError(msg.ID, rpc.ErrorOther, err.Error())
	}
	return session.SendResponse(msg.ID, rpc.NewConfigResponse(cfg))
}

func (h *MessageHandler) handleGetAccount(ctx context.Context, session *rpc.Session, msg *rpc.Message) error {
	addr, err := rpc.ParseAddressParam(msg.Params, 0)
	if err != nil {
		return session.SendError(msg.ID, rpc.ErrorInvalidParams, "Invalid parameters")
	}
	acc, err := h.account(ctx, addr, false)
	if err != nil {
		h.logger.WithError(err).Error("failed to load account")
		return session.SendError(msg.ID, rpc.ErrorUnavailable, "Ledger unavailable")
	}
	if acc == nil {
		return session.SendError(msg.ID, rpc.ErrorNotFound, "Account not found")
	}
	return session.SendResponse(msg.ID, rpc.NewAccountResponse(acc))
}

// handleGetStats answers with the network summary, or one miner's summary
// when an authority is given
func (h *MessageHandler) handleGetStats(ctx context.Context, session *rpc.Session, msg *rpc.Message) error {
	if h.server.stats == nil {
		return session.SendError(msg.ID, rpc.ErrorUnavailable, "Statistics unavailable")
	}

	if len(msg.Params) == 0 {
		stats, err := h.server.stats.NetworkStats(ctx)
		if err != nil {
			h.logger.WithError(err).Error("failed to load network stats")
			return session.SendError(msg.ID, rpc.ErrorUnavailable, "Statistics unavailable")
		}
		return session.SendResponse(msg.ID, stats)
	}

	authority, err := rpc.ParseAddressParam(msg.Params, 0)
	if err != nil {
		return session.SendError(msg.ID, rpc.ErrorInvalidParams, "Invalid parameters")
	}
	stats, err := h.server.stats.MinerStats(ctx, authority)
	if err != nil {
		h.logger.WithError(err).Error("failed to load miner stats", "authority", authority.String())
		return session.SendError(msg.ID, rpc.ErrorUnavailable, "Statistics unavailable")
	}
	return session.SendResponse(msg.ID, stats)
}

// handleGetResult answers with a recorded transaction outcome
func (h *MessageHandler) handleGetResult(ctx context.Context, session *rpc.Session, msg *rpc.Message) error {
	if h.server.results == nil {
		return session.SendError(msg.ID, rpc.ErrorUnavailable, "Results unavailable")
	}
	if len(msg.Params) != 1 {
		return session.SendError(msg.ID, rpc.ErrorInvalidParams, "Invalid parameters")
	}
	txID, ok := msg.Params[0].(string)
	if !ok || txID == "" {
		return session.SendError(msg.ID, rpc.ErrorInvalidParams, "Invalid parameters")
	}

	res, err := h.server.results.Result(ctx, txID)
	if errors.Is(err, postgres.ErrNotFound) {
		return session.SendError(msg.ID, rpc.ErrorNotFound, "Result not found")
	}
	if err != nil {
		h.logger.WithError(err).Error("failed to load result", "tx_id", txID)
		return session.SendError(msg.ID, rpc.ErrorUnavailable, "Ledger unavailable")
	}
	return session.SendResponse(msg.ID, rpc.NewResultNotification(res))
}

// handleSubmit admits a transaction and queues it for the ledger
func (h *MessageHandler) handleSubmit(ctx context.Context, session *rpc.Session, msg *rpc.Message) error {
	raw, err := rpc.ParseSubmitRequest(msg.Params)
	if err != nil {
		return session.SendError(msg.ID, rpc.ErrorInvalidParams, "Invalid parameters")
	}

	adm, err := h.server.validator.ValidateTransaction(raw)
	if err != nil {
		session.Logger().WithError(err).Debug("transaction not admitted")
		return session.SendError(msg.ID, rpc.ErrorRejected, err.Error())
	}

	signer := adm.Signer()
	if !h.server.allow(ctx, "submit:"+signer.String()) {
		return session.SendError(msg.ID, rpc.ErrorRateLimited, "Rate limit exceeded")
	}

	difficulties := h.checkSolutions(ctx, adm)

	now := time.Now()
	txID := adm.ID.String()
	tm := &messaging.TransactionMessage{
		TxID:        txID,
		Raw:         raw,
		Source:      h.cfg.ServiceName,
		RemoteAddr:  session.RemoteAddr(),
		SessionID:   session.ID(),
		SubmittedAt: now,
	}
	if err := h.server.broker.Publish(ctx, messaging.TopicTransactions, signer.String(), tm); err != nil {
		h.logger.WithError(err).Error("failed to queue transaction", "tx_id", txID)
		return session.SendError(msg.ID, rpc.ErrorUnavailable, "Ledger unavailable")
	}
	session.RecordSubmission(now)
	if h.server.registry != nil {
		if _, ok := session.Authority(); ok {
			if err := h.server.registry.ExtendSession(ctx, session.ID(), sessionTTL); err != nil {
				h.logger.WithError(err).Debug("failed to extend session")
			}
		}
	}

	h.logger.WithContext(ctx).Debug("transaction queued",
		"tx_id", txID,
		"signer", signer.String(),
		"instructions", len(adm.Tx.Instructions),
	)
	return session.SendResponse(msg.ID, &rpc.SubmitResponse{
		TxID:         txID,
		Status:       "queued",
		Difficulties: difficulties,
	})
}

// checkSolutions scores each Mine instruction against the cached proof and
// config. The snapshot may lag the ledger, so failures are only logged.
func (h *MessageHandler) checkSolutions(ctx context.Context, adm *validation.Admission) []uint64 {
	if len(adm.Mines) == 0 {
		return nil
	}
	k := protocol.Known()
	addrs := []protocol.Address{k.Config}
	for _, m := range adm.Mines {
		addrs = append(addrs, m.Proof)
	}
	accs, err := h.server.accounts.CachedAccounts(ctx, addrs)
	if err != nil {
		h.logger.WithError(err).Warn("no snapshot for solution check")
		return nil
	}

	var snap validation.Snapshot
	if acc, ok := accs[k.Config]; ok && !acc.IsEmpty() {
		if snap.Config, err = state.DecodeConfig(acc.Data); err != nil {
			h.logger.Debug("corrupt config snapshot", "tx_id", adm.ID.String(), "error", err)
		}
	}
	snap.Now = time.Now().Unix()

	difficulties := make([]uint64, 0, len(adm.Mines))
	for _, m := range adm.Mines {
		snap.Proof = nil
		if acc, ok := accs[m.Proof]; ok && !acc.IsEmpty() {
			if snap.Proof, err = state.DecodeProof(acc.Data); err != nil {
				h.logger.Debug("corrupt proof snapshot",
					"tx_id", adm.ID.String(),
					"proof", m.Proof.String(),
					"error", err,
				)
			}
		}
		difficulty, err := h.server.validator.ValidateSolution(m, snap)
		if err != nil {
			h.logger.Debug("solution may be rejected",
				"tx_id", adm.ID.String(),
				"instruction", m.Index,
				"error", err,
			)
		}
		difficulties = append(difficulties, difficulty)
	}
	return difficulties
}

// handleAirdrop queues lamports for an address on development networks
func (h *MessageHandler) handleAirdrop(ctx context.Context, session *rpc.Session, msg *rpc.Message) error {
	if !h.cfg.AirdropEnabled {
		return session.SendError(msg.ID, rpc.ErrorDisabled, "Airdrops disabled")
	}
	req, err := rpc.ParseAirdropRequest(msg.Params)
	if err != nil {
		return session.SendError(msg.ID, rpc.ErrorInvalidParams, "Invalid parameters")
	}
	if req.Lamports > h.cfg.AirdropLamports {
		return session.SendError(msg.ID, rpc.ErrorInvalidParams,
			fmt.Sprintf("At most %d lamports per airdrop", h.cfg.AirdropLamports))
	}
	if !h.server.allow(ctx, "airdrop:"+req.Address.String()) {
		return session.SendError(msg.ID, rpc.ErrorRateLimited, "Rate limit exceeded")
	}

	requestID := "airdrop-" + randomID(16)
	am := &messaging.AirdropMessage{
		RequestID:   requestID,
		Address:     req.Address.String(),
		Lamports:    req.Lamports,
		SessionID:   session.ID(),
		RequestedAt: time.Now(),
	}
	if err := h.server.broker.Publish(ctx, messaging.TopicAirdrops, am.Address, am); err != nil {
		h.logger.WithError(err).Error("failed to queue airdrop", "request_id", requestID)
		return session.SendError(msg.ID, rpc.ErrorUnavailable, "Ledger unavailable")
	}

	h.logger.Info("airdrop queued", "address", am.Address, "lamports", am.Lamports)
	return session.SendResponse(msg.ID, &rpc.SubmitResponse{TxID: requestID, Status: "queued"})
}

// randomID returns n random bytes as hex
func randomID(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
