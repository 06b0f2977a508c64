package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/luckycoin-meme/luckycoin/internal/challenge"
	"github.com/luckycoin-meme/luckycoin/internal/config"
	"github.com/luckycoin-meme/luckycoin/internal/database"
	"github.com/luckycoin-meme/luckycoin/internal/database/postgres"
	"github.com/luckycoin-meme/luckycoin/internal/engine"
	"github.com/luckycoin-meme/luckycoin/internal/ledger"
	"github.com/luckycoin-meme/luckycoin/internal/messaging"
	"github.com/luckycoin-meme/luckycoin/internal/protocol"
	"github.com/luckycoin-meme/luckycoin/internal/rpc"
	"github.com/luckycoin-meme/luckycoin/internal/state"
	"github.com/luckycoin-meme/luckycoin/internal/validation"
	"github.com/luckycoin-meme/luckycoin/pkg/log"
)

type published struct {
	topic string
	key   string
	msg   messaging.Message
}

type fakeBroker struct {
	mu   sync.Mutex
	sent []published
}

func (b *fakeBroker) Publish(_ context.Context, topic, key string, msg messaging.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, published{topic, key, msg})
	return nil
}

func (b *fakeBroker) StartConsumer(ctx context.Context, _, _ string, _ func() messaging.Message, _ messaging.MessageHandler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *fakeBroker) last() published {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sent) == 0 {
		return published{}
	}
	return b.sent[len(b.sent)-1]
}

// storeReader serves queries straight from a ledger store
type storeReader struct {
	store *ledger.MemoryStore
}

func (r storeReader) CachedAccounts(ctx context.Context, addrs []protocol.Address) (map[protocol.Address]*protocol.AccountInfo, error) {
	return r.store.Load(ctx, addrs)
}

type countingLimiter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (l *countingLimiter) CheckRateLimit(_ context.Context, key string, limit int64, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.counts == nil {
		l.counts = make(map[string]int64)
	}
	l.counts[key]++
	return l.counts[key] <= limit, nil
}

type fakeStats struct{}

func (fakeStats) MinerStats(_ context.Context, authority protocol.Address) (*database.MinerSummary, error) {
	return &database.MinerSummary{
		MinerStats:       &postgres.MinerStats{Authority: authority.String(), Solutions: 3},
		RecentDifficulty: 12.5,
	}, nil
}

func (fakeStats) NetworkStats(context.Context) (*database.NetworkStats, error) {
	return &database.NetworkStats{Slot: 42, ActiveConnections: 1}, nil
}

type fixture struct {
	t       *testing.T
	gateway *Gateway
	broker  *fakeBroker
	limiter *countingLimiter
	store   *ledger.MemoryStore
	miner   *ledger.Keypair
	client  *rpc.Client
	nonce   uint64
}

func testConfig() *config.Config {
	return &config.Config{
		ServiceName:        "gatewayd-test",
		KafkaGroupID:       "luckycoin",
		ListenAddr:         "127.0.0.1",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		RateLimitPerMinute: 100,
		AirdropEnabled:     true,
		AirdropLamports:    1_000_000,
	}
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	ctx := context.Background()

	admin, err := ledger.NewKeypair()
	if err != nil {
		t.Fatalf("NewKeypair() error = %v", err)
	}
	miner, err := ledger.NewKeypair()
	if err != nil {
		t.Fatalf("NewKeypair() error = %v", err)
	}

	store := ledger.NewMemoryStore()
	clock := ledger.NewClock([]byte("test"), nil)
	clock.Advance(protocol.SlotHash{Slot: 1, Hash: chainhash.HashH([]byte{1})})
	executor := ledger.NewExecutor(store, clock, engine.NewProcessor(engine.Params{Initializer: admin.Address()}, nil), nil)

	if err := ledger.Bootstrap(ctx, store, ledger.Genesis{Initializer: admin.Address()}); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if _, err := executor.Airdrop(ctx, miner.Address(), 10_000_000); err != nil {
		t.Fatalf("Airdrop() error = %v", err)
	}

	f := &fixture{t: t, store: store, miner: miner, broker: &fakeBroker{}, limiter: &countingLimiter{}}
	for _, step := range []struct {
		signer *ledger.Keypair
		ix     protocol.Instruction
	}{
		{admin, protocol.Initialize(admin.Address())},
		{admin, protocol.Reset(admin.Address())},
		{miner, protocol.Open(miner.Address(), miner.Address(), miner.Address())},
	} {
		receipt, err := executor.Execute(ctx, f.signed(step.signer, step.ix))
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if receipt.Err != nil {
			t.Fatalf("setup transaction rejected: %v", receipt.Err)
		}
	}

	f.gateway = NewGateway(cfg, log.Discard(), f.broker, storeReader{store}, f.limiter)

	runCtx, cancel := context.WithCancel(ctx)
	serverConn, clientConn := net.Pipe()
	served := make(chan struct{})
	go func() {
		f.gateway.handleConnection(runCtx, serverConn)
		close(served)
	}()
	f.client = rpc.NewClient(clientConn, log.Discard())

	t.Cleanup(func() {
		_ = f.client.Close()
		cancel()
		<-served
	})
	return f
}

func (f *fixture) signed(kp *ledger.Keypair, ixs ...protocol.Instruction) *ledger.Transaction {
	f.t.Helper()
	f.nonce++
	tx := ledger.NewTransaction(f.nonce, ixs...)
	if err := tx.Sign(kp); err != nil {
		f.t.Fatalf("Sign() error = %v", err)
	}
	return tx
}

func (f *fixture) raw(kp *ledger.Keypair, ixs ...protocol.Instruction) []byte {
	f.t.Helper()
	raw, err := f.signed(kp, ixs...).Marshal()
	if err != nil {
		f.t.Fatalf("Marshal() error = %v", err)
	}
	return raw
}

func errorCode(err error) int {
	var rpcErr *rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Code
	}
	return 0
}

func TestNewGateway(t *testing.T) {
	cfg := testConfig()
	g := NewGateway(cfg, log.Discard(), &fakeBroker{}, nil, nil)

	if g.cfg != cfg {
		t.Error("NewGateway() did not set config correctly")
	}
	if g.sessions == nil {
		t.Error("NewGateway() did not initialize sessions map")
	}
	if g.validator == nil {
		t.Error("NewGateway() did not create a validator")
	}
	if len(g.instance) != 8 {
		t.Errorf("instance = %q, want 8 hex chars", g.instance)
	}
	if !g.allow(context.Background(), "anything") {
		t.Error("allow() without limiter refused")
	}
}

func TestGatewayQueries(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	if err := f.client.Login(ctx, f.miner.Address()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	cfg, err := f.client.GetConfig(ctx)
	if err != nil {
		t.Fatalf("GetConfig() error = %v", err)
	}
	if cfg.MinDifficulty == 0 || cfg.EpochEndsAt <= cfg.LastResetAt {
		t.Errorf("GetConfig() = %+v", cfg)
	}

	proof, err := f.client.GetProof(ctx, f.miner.Address())
	if err != nil {
		t.Fatalf("GetProof() error = %v", err)
	}
	wantAddr, _ := protocol.ProofAddress(f.miner.Address())
	if proof.Address != wantAddr.String() || proof.Authority != f.miner.Address().String() {
		t.Errorf("GetProof() = %+v", proof)
	}

	acc, err := f.client.GetAccount(ctx, f.miner.Address())
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if acc.Lamports == 0 || acc.Data != "" {
		t.Errorf("GetAccount() = %+v", acc)
	}

	stranger, _ := ledger.NewKeypair()
	if _, err := f.client.GetProof(ctx, stranger.Address()); errorCode(err) != rpc.ErrorNotFound {
		t.Errorf("GetProof(stranger) error = %v, want code %d", err, rpc.ErrorNotFound)
	}
	if _, err := f.client.GetAccount(ctx, stranger.Address()); errorCode(err) != rpc.ErrorNotFound {
		t.Errorf("GetAccount(stranger) error = %v, want code %d", err, rpc.ErrorNotFound)
	}

	// without params getProof answers for the logged-in authority
	msg, err := f.client.Call(ctx, rpc.MethodGetProof, nil)
	if err != nil {
		t.Fatalf("getProof without params error = %v", err)
	}
	var own rpc.ProofResponse
	if err := rpc.DecodeResult(msg, &own); err != nil || own.Authority != f.miner.Address().String() {
		t.Errorf("getProof without params = %+v, %v", own, err)
	}

	if _, err := f.client.Call(ctx, rpc.MethodHealth, nil); err != nil {
		t.Errorf("health error = %v", err)
	}
	if _, err := f.client.Call(ctx, "ledger.unknown", nil); errorCode(err) != rpc.ErrorMethodNotFound {
		t.Errorf("unknown method error = %v, want code %d", err, rpc.ErrorMethodNotFound)
	}
}

func TestGatewaySubmit(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	kp, _ := ledger.NewKeypair()
	open := f.raw(kp, protocol.Open(kp.Address(), kp.Address(), kp.Address()))

	resp, err := f.client.SubmitTransaction(ctx, open)
	if err != nil {
		t.Fatalf("SubmitTransaction() error = %v", err)
	}
	if resp.Status != "queued" || resp.TxID == "" {
		t.Errorf("SubmitTransaction() = %+v", resp)
	}

	last := f.broker.last()
	if last.topic != messaging.TopicTransactions || last.key != kp.Address().String() {
		t.Errorf("published to %q key %q", last.topic, last.key)
	}
	tm, ok := last.msg.(*messaging.TransactionMessage)
	if !ok || tm.TxID != resp.TxID || tm.SessionID == "" || string(tm.Raw) != string(open) {
		t.Errorf("published %+v", last.msg)
	}

	tests := []struct {
		name   string
		params []any
		code   int
	}{
		{"initialize not admitted", []any{rpc.EncodeTransaction(f.raw(kp, protocol.Initialize(kp.Address())))}, rpc.ErrorRejected},
		{"unsigned", []any{rpc.EncodeTransaction(mustMarshal(t, ledger.NewTransaction(1, protocol.Health(kp.Address()))))}, rpc.ErrorRejected},
		{"not hex", []any{"zz"}, rpc.ErrorInvalidParams},
		{"missing", nil, rpc.ErrorInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.client.Call(ctx, rpc.MethodSubmitTransaction, tt.params)
			if errorCode(err) != tt.code {
				t.Errorf("error = %v, want code %d", err, tt.code)
			}
		})
	}
}

func mustMarshal(t *testing.T, tx *ledger.Transaction) []byte {
	t.Helper()
	raw, err := tx.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return raw
}

func TestGatewaySubmitMine(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	proofAddr, _ := protocol.ProofAddress(f.miner.Address())
	accs, _ := f.store.Load(ctx, []protocol.Address{proofAddr})
	proof, err := state.DecodeProof(accs[proofAddr].Data)
	if err != nil {
		t.Fatalf("DecodeProof() error = %v", err)
	}

	res, err := challenge.Solve(ctx, proof.Challenge, challenge.SolveOptions{Threads: 2, MinDifficulty: 1, TargetDifficulty: 1})
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}
	raw := f.raw(f.miner,
		protocol.Auth(proofAddr),
		protocol.Mine(f.miner.Address(), f.miner.Address(), protocol.Known().Bus[3], protocol.MineArgs{Digest: res.Solution.D, Nonce: res.Solution.N}),
	)

	resp, err := f.client.SubmitTransaction(ctx, raw)
	if err != nil {
		t.Fatalf("SubmitTransaction() error = %v", err)
	}
	if len(resp.Difficulties) != 1 || resp.Difficulties[0] != res.Difficulty {
		t.Errorf("Difficulties = %v, want [%d]", resp.Difficulties, res.Difficulty)
	}
}

func TestCheckSolutionsCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	miner, err := ledger.NewKeypair()
	if err != nil {
		t.Fatalf("NewKeypair() error = %v", err)
	}
	proofAddr, _ := protocol.ProofAddress(miner.Address())
	k := protocol.Known()

	store := ledger.NewMemoryStore()
	err = store.Commit(ctx, 1, []*protocol.AccountInfo{
		{Key: k.Config, Owner: k.Program, Data: []byte{byte(state.DiscriminatorConfig), 1, 2}},
		{Key: proofAddr, Owner: k.Program, Data: []byte{0xff}},
	})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	cfg := testConfig()
	gateway := NewGateway(cfg, log.Discard(), &fakeBroker{}, storeReader{store}, &countingLimiter{})
	var buf bytes.Buffer
	handler := NewMessageHandler(cfg, log.NewWithWriter(&buf, "gatewayd-test", "test", "debug", "json"), gateway)

	adm := &validation.Admission{Mines: []validation.MineSubmission{{Signer: miner.Address(), Proof: proofAddr}}}
	if got := handler.checkSolutions(ctx, adm); len(got) != 1 || got[0] != 0 {
		t.Errorf("checkSolutions() = %v, want [0]", got)
	}
	for _, want := range []string{"corrupt config snapshot", "corrupt proof snapshot", proofAddr.String()} {
		if !bytes.Contains(buf.Bytes(), []byte(want)) {
			t.Errorf("log output missing %q:\n%s", want, buf.String())
		}
	}
}

func TestGatewayRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerMinute = 2
	f := newFixture(t, cfg)
	ctx := context.Background()

	kp, _ := ledger.NewKeypair()
	for i := range 3 {
		_, err := f.client.SubmitTransaction(ctx, f.raw(kp, protocol.Health(kp.Address())))
		switch {
		case i < 2 && err != nil:
			t.Fatalf("submission %d error = %v", i, err)
		case i == 2 && errorCode(err) != rpc.ErrorRateLimited:
			t.Errorf("submission %d error = %v, want code %d", i, err, rpc.ErrorRateLimited)
		}
	}

	// a failing limiter lets submissions through
	f.limiter.mu.Lock()
	f.limiter.err = errors.New("redis down")
	f.limiter.mu.Unlock()
	if _, err := f.client.SubmitTransaction(ctx, f.raw(kp, protocol.Health(kp.Address()))); err != nil {
		t.Errorf("submission with failing limiter error = %v", err)
	}
}

func TestGatewayAirdrop(t *testing.T) {
	ctx := context.Background()

	disabled := testConfig()
	disabled.AirdropEnabled = false
	f := newFixture(t, disabled)
	if _, err := f.client.RequestAirdrop(ctx, f.miner.Address(), 1); errorCode(err) != rpc.ErrorDisabled {
		t.Errorf("RequestAirdrop() disabled error = %v, want code %d", err, rpc.ErrorDisabled)
	}

	f = newFixture(t, testConfig())
	if _, err := f.client.RequestAirdrop(ctx, f.miner.Address(), 2_000_000); errorCode(err) != rpc.ErrorInvalidParams {
		t.Errorf("RequestAirdrop() over cap error = %v, want code %d", err, rpc.ErrorInvalidParams)
	}

	resp, err := f.client.RequestAirdrop(ctx, f.miner.Address(), 500_000)
	if err != nil {
		t.Fatalf("RequestAirdrop() error = %v", err)
	}
	last := f.broker.last()
	am, ok := last.msg.(*messaging.AirdropMessage)
	if last.topic != messaging.TopicAirdrops || !ok {
		t.Fatalf("published %+v to %q", last.msg, last.topic)
	}
	if am.RequestID != resp.TxID || am.Lamports != 500_000 || am.Address != f.miner.Address().String() {
		t.Errorf("published %+v, response %+v", am, resp)
	}
}

func TestDeliverResult(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	if err := f.client.Login(ctx, f.miner.Address()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	var sessionID string
	f.gateway.mu.RLock()
	for id := range f.gateway.sessions {
		sessionID = id
	}
	f.gateway.mu.RUnlock()
	if sessionID == "" {
		t.Fatal("session not registered")
	}

	res := &messaging.ResultMessage{
		TxID:        "abc",
		Slot:        9,
		Status:      messaging.StatusRejected,
		ErrorCode:   "Spam",
		Instruction: 1,
		SessionID:   sessionID,
	}
	if err := f.gateway.deliverResult(ctx, "", res); err != nil {
		t.Fatalf("deliverResult() error = %v", err)
	}
	if err := f.gateway.deliverResult(ctx, "", &messaging.ResultMessage{TxID: "x", SessionID: "gone"}); err != nil {
		t.Errorf("deliverResult() for unknown session error = %v", err)
	}

	select {
	case msg := <-f.client.Notifications():
		n, err := rpc.ParseResultNotification(msg)
		if err != nil {
			t.Fatalf("ParseResultNotification() error = %v", err)
		}
		if n.TxID != "abc" || n.ErrorCode != "Spam" || n.Instruction != 1 || n.Slot != 9 {
			t.Errorf("notification = %+v", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no notification received")
	}
}

func TestGatewayStartShutdown(t *testing.T) {
	cfg := testConfig()
	g := NewGateway(cfg, log.Discard(), &fakeBroker{}, storeReader{ledger.NewMemoryStore()}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan error, 1)
	go func() { started <- g.Start(ctx) }()

	var addr string
	deadline := time.Now().Add(5 * time.Second)
	for addr == "" && time.Now().Before(deadline) {
		g.mu.RLock()
		if g.listener != nil {
			addr = g.listener.Addr().String()
		}
		g.mu.RUnlock()
		time.Sleep(5 * time.Millisecond)
	}
	if addr == "" {
		t.Fatal("server did not start listening")
	}

	client, err := rpc.Dial(ctx, addr, log.Discard())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if _, err := client.Call(ctx, rpc.MethodHealth, nil); err != nil {
		t.Errorf("health error = %v", err)
	}
	if _, err := client.GetConfig(ctx); errorCode(err) != rpc.ErrorNotFound {
		t.Errorf("GetConfig() on empty ledger error = %v, want code %d", err, rpc.ErrorNotFound)
	}

	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := g.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := <-started; err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("Start() error = %v", err)
	}
	_ = client.Close()
}

func TestGatewayStats(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	var none map[string]any
	if err := f.client.GetStats(ctx, &none); errorCode(err) != rpc.ErrorUnavailable {
		t.Errorf("GetStats() without backend error = %v, want code %d", err, rpc.ErrorUnavailable)
	}

	f.gateway.stats = fakeStats{}

	var network database.NetworkStats
	if err := f.client.GetStats(ctx, &network); err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if network.Slot != 42 || network.ActiveConnections != 1 {
		t.Errorf("GetStats() = %+v", network)
	}

	var miner map[string]any
	if err := f.client.GetStats(ctx, &miner, f.miner.Address()); err != nil {
		t.Fatalf("GetStats(miner) error = %v", err)
	}
	if miner["Authority"] != f.miner.Address().String() || miner["Solutions"] != float64(3) || miner["recent_difficulty"] != 12.5 {
		t.Errorf("GetStats(miner) = %v", miner)
	}

	if _, err := f.client.Call(ctx, rpc.MethodGetStats, []any{"not-an-address"}); errorCode(err) != rpc.ErrorInvalidParams {
		t.Errorf("GetStats(bad address) error = %v, want code %d", err, rpc.ErrorInvalidParams)
	}
}

type fakeRegistry struct {
	mu       sync.Mutex
	records  map[string]sessionRecord
	extended int
}

func (r *fakeRegistry) SetSession(_ context.Context, sessionID string, data any, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.records == nil {
		r.records = make(map[string]sessionRecord)
	}
	r.records[sessionID] = data.(sessionRecord)
	return nil
}

func (r *fakeRegistry) ExtendSession(_ context.Context, sessionID string, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[sessionID]; !ok {
		return errors.New("unknown session")
	}
	r.extended++
	return nil
}

func (r *fakeRegistry) DeleteSession(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, sessionID)
	return nil
}

func (r *fakeRegistry) snapshot() (map[string]sessionRecord, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]sessionRecord, len(r.records))
	for k, v := range r.records {
		out[k] = v
	}
	return out, r.extended
}

func TestGatewaySessionRegistry(t *testing.T) {
	f := newFixture(t, testConfig())
	reg := &fakeRegistry{}
	f.gateway.registry = reg
	ctx := context.Background()

	if err := f.client.Login(ctx, f.miner.Address()); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	records, _ := reg.snapshot()
	if len(records) != 1 {
		t.Fatalf("registered %d sessions, want 1", len(records))
	}
	for id, rec := range records {
		if rec.Authority != f.miner.Address().String() || rec.Instance != f.gateway.instance {
			t.Errorf("record = %+v", rec)
		}
		if len(id) <= len(f.gateway.instance) || id[:len(f.gateway.instance)] != f.gateway.instance {
			t.Errorf("session id %q lacks instance prefix", id)
		}
	}

	if _, err := f.client.SubmitTransaction(ctx, f.raw(f.miner, protocol.Health(f.miner.Address()))); err != nil {
		t.Fatalf("SubmitTransaction() error = %v", err)
	}
	if _, extended := reg.snapshot(); extended != 1 {
		t.Errorf("extended %d times, want 1", extended)
	}

	_ = f.client.Close()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if records, _ := reg.snapshot(); len(records) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("session not removed after disconnect")
}

type fakeResults map[string]*messaging.ResultMessage

func (r fakeResults) Result(_ context.Context, txID string) (*messaging.ResultMessage, error) {
	if txID == "broken" {
		return nil, errors.New("postgres down")
	}
	res, ok := r[txID]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	return res, nil
}

func TestGatewayGetResult(t *testing.T) {
	f := newFixture(t, testConfig())
	ctx := context.Background()

	if _, err := f.client.GetResult(ctx, "aa"); errorCode(err) != rpc.ErrorUnavailable {
		t.Errorf("GetResult() without store error = %v, want code %d", err, rpc.ErrorUnavailable)
	}

	f.gateway.results = fakeResults{
		"aa": {TxID: "aa", Slot: 7, Status: messaging.StatusRejected, ErrorCode: "Spam", Instruction: 1},
	}

	res, err := f.client.GetResult(ctx, "aa")
	if err != nil {
		t.Fatalf("GetResult() error = %v", err)
	}
	if res.TxID != "aa" || res.Slot != 7 || res.Status != messaging.StatusRejected || res.Instruction != 1 {
		t.Errorf("GetResult() = %+v", res)
	}

	tests := []struct {
		name   string
		params []any
		code   int
	}{
		{"unknown", []any{"bb"}, rpc.ErrorNotFound},
		{"store failure", []any{"broken"}, rpc.ErrorUnavailable},
		{"not a string", []any{12}, rpc.ErrorInvalidParams},
		{"missing", nil, rpc.ErrorInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.client.Call(ctx, rpc.MethodGetResult, tt.params)
			if errorCode(err) != tt.code {
				t.Errorf("error = %v, want code %d", err, tt.code)
			}
		})
	}
}
