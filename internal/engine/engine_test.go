package engine

import (
	"errors"
	"testing"

	"github.com/luckycoin-meme/luckycoin/internal/protocol"
	"github.com/luckycoin-meme/luckycoin/internal/state"
	"github.com/luckycoin-meme/luckycoin/internal/token"
)

func TestProcessDispatch(t *testing.T) {
	f := newFixture(t)
	k := protocol.Known()

	tests := []struct {
		name    string
		program protocol.Address
		data    []byte
		want    error
	}{
		{"wrong program", k.Noop, []byte{byte(protocol.TagHealth)}, protocol.IncorrectProgramId},
		{"empty data", k.Program, nil, protocol.InvalidInstructionData},
		{"unknown tag", k.Program, []byte{42}, protocol.InvalidInstructionData},
		{"short payload", k.Program, []byte{byte(protocol.TagClaim), 1}, protocol.InvalidInstructionData},
		{"no accounts", k.Program, []byte{byte(protocol.TagHealth)}, protocol.NotEnoughAccountKeys},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.p.Process(f.env, tt.program, nil, tt.data); !errors.Is(err, tt.want) {
				t.Errorf("Process() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	user := protocol.Address{1}
	f.mustExec(protocol.Health(user))

	ix := protocol.Health(user)
	ix.Accounts[0].IsSigner = false
	if _, err := f.exec(ix); !errors.Is(err, protocol.MissingRequiredSignature) {
		t.Errorf("Health() unsigned error = %v, want MissingRequiredSignature", err)
	}
}

func TestInitialize(t *testing.T) {
	f := newFixture(t)
	k := protocol.Known()
	f.mustExec(protocol.Initialize(f.initializer))

	for i := range protocol.BusCount {
		bus := f.bus(i)
		if bus.ID != uint64(i) || bus.Rewards != 0 {
			t.Errorf("bus %d = %+v", i, bus)
		}
	}
	cfg := f.config()
	want := state.Config{BaseRewardRate: protocol.InitialBaseRewardRate, MinDifficulty: protocol.InitialMinDifficulty}
	if *cfg != want {
		t.Errorf("config = %+v, want %+v", cfg, want)
	}
	if _, err := state.DecodeTreasury(f.account(k.Treasury).Data); err != nil {
		t.Errorf("treasury: %v", err)
	}
	mint := f.mint(k.Mint)
	if mint.Authority != k.Treasury || mint.Decimals != protocol.TokenDecimals || mint.Supply != 0 {
		t.Errorf("mint = %+v", mint)
	}
	meta, err := token.DecodeMetadata(f.account(k.Metadata).Data)
	if err != nil || meta.Name != protocol.MetadataName || meta.URI != protocol.MetadataURI {
		t.Errorf("metadata = (%+v, %v)", meta, err)
	}
	if f.tokens(k.TreasuryTokens) != 0 {
		t.Error("treasury tokens not empty")
	}

	if _, err := f.exec(protocol.Initialize(f.initializer)); !errors.Is(err, protocol.AccountAlreadyInitialized) {
		t.Errorf("second Initialize() error = %v, want AccountAlreadyInitialized", err)
	}
}

func TestInitializeRequiresInitializer(t *testing.T) {
	f := newFixture(t)
	intruder := protocol.Address{0x42}
	f.fund(intruder, 1_000_000_000_000)

	if _, err := f.exec(protocol.Initialize(intruder)); !errors.Is(err, protocol.MissingRequiredSignature) {
		t.Fatalf("Initialize() error = %v, want MissingRequiredSignature", err)
	}
	if !f.account(protocol.Known().Config).IsEmpty() {
		t.Error("config created by a rejected Initialize")
	}
}

func TestMineNeedsResetAfterInitialize(t *testing.T) {
	f := newFixture(t)
	user := protocol.Address{1}
	f.mustExec(protocol.Initialize(f.initializer))
	proof := f.open(user)

	s := solveExact(f.proof(proof).Challenge, 1)
	if _, err := f.exec(mineTx(user, 0, s)...); !errors.Is(err, protocol.NeedsReset) {
		t.Errorf("Mine() error = %v, want NeedsReset", err)
	}
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	k := protocol.Known()
	f.mustExec(protocol.Initialize(f.initializer))

	res := f.mustExec(protocol.Reset(f.initializer))
	ev := res[0].EpochReset
	if ev == nil {
		t.Fatal("Reset() returned no event")
	}
	if ev.Minted != protocol.MaxEpochRewards || ev.ResetAt != genesisTime {
		t.Errorf("event = %+v", ev)
	}
	for i := range protocol.BusCount {
		if got := f.bus(i).Rewards; got != protocol.BusEpochRewards {
			t.Errorf("bus %d rewards = %d, want %d", i, got, protocol.BusEpochRewards)
		}
	}
	if got := f.tokens(k.TreasuryTokens); got != protocol.MaxEpochRewards {
		t.Errorf("treasury tokens = %d, want %d", got, protocol.MaxEpochRewards)
	}
	if cfg := f.config(); cfg.LastResetAt != genesisTime || cfg.BaseRewardRate != protocol.InitialBaseRewardRate {
		t.Errorf("config = %+v", cfg)
	}

	// Within the epoch a reset is a no-op.
	f.setBus(0, func(b *state.Bus) { b.Rewards = 1 })
	f.env.Now += 10
	res = f.mustExec(protocol.Reset(f.initializer))
	if res[0].EpochReset != nil || f.bus(0).Rewards != 1 {
		t.Errorf("in-epoch Reset() changed state: %+v", res[0])
	}

	// After the epoch the spent budget is minted back.
	f.env.Now = genesisTime + protocol.EpochDuration
	f.setBus(0, func(b *state.Bus) { b.TheoreticalRewards = protocol.TargetEpochRewards; b.TopBalance = 77 })
	res = f.mustExec(protocol.Reset(f.initializer))
	ev = res[0].EpochReset
	wantMinted := protocol.BusEpochRewards - 1
	if ev == nil || ev.Minted != wantMinted || ev.TopBalance != 77 {
		t.Fatalf("event = %+v, want minted %d and top balance 77", ev, wantMinted)
	}
	if got := f.tokens(k.TreasuryTokens); got != protocol.MaxEpochRewards+wantMinted {
		t.Errorf("treasury tokens = %d", got)
	}
	if f.bus(0).TopBalance != 0 || f.bus(0).TheoreticalRewards != 0 {
		t.Errorf("bus 0 not rolled: %+v", f.bus(0))
	}
	if f.config().TopBalance != 77 {
		t.Errorf("config top balance = %d, want 77", f.config().TopBalance)
	}
}

func TestResetClock(t *testing.T) {
	tests := []struct {
		name string
		now  int64
	}{
		{"clock unset", 0},
		{"time before last reset", genesisTime - 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.boot()
			f.env.Now = tt.now
			if _, err := f.exec(protocol.Reset(f.initializer)); !errors.Is(err, protocol.ClockInvalid) {
				t.Errorf("Reset() error = %v, want ClockInvalid", err)
			}
		})
	}
}

func TestResetMaxSupply(t *testing.T) {
	f := newFixture(t)
	k := protocol.Known()
	f.boot()

	m := f.mint(k.Mint)
	m.Supply = protocol.SupplyCap
	m.Put(f.account(k.Mint).Data)

	f.env.Now += protocol.EpochDuration
	if _, err := f.exec(protocol.Reset(f.initializer)); !errors.Is(err, protocol.MaxSupply) {
		t.Errorf("Reset() error = %v, want MaxSupply", err)
	}
}

func TestOpen(t *testing.T) {
	f := newFixture(t)
	f.boot()
	user := protocol.Address{1}
	addr := f.open(user)

	p := f.proof(addr)
	if p.Authority != user || p.Miner != user || p.Balance != 0 {
		t.Errorf("proof = %+v", p)
	}
	if p.LastHashAt != f.env.Now || p.LastStakeAt != f.env.Now {
		t.Errorf("timestamps = (%d, %d), want %d", p.LastHashAt, p.LastStakeAt, f.env.Now)
	}
	info := f.account(addr)
	if info.Owner != protocol.Known().Program || info.Lamports != protocol.MinimumDeposit(state.ProofSize) {
		t.Errorf("proof account owner %s lamports %d", info.Owner, info.Lamports)
	}

	if _, err := f.exec(protocol.Open(user, user, user)); !errors.Is(err, protocol.AccountAlreadyInitialized) {
		t.Errorf("second Open() error = %v, want AccountAlreadyInitialized", err)
	}

	bad := protocol.Open(user, user, user)
	bad.Data[1]--
	if _, err := f.exec(bad); !errors.Is(err, protocol.InvalidSeeds) {
		t.Errorf("Open() with wrong bump error = %v, want InvalidSeeds", err)
	}
}

func TestOpenChallengeUnpredictable(t *testing.T) {
	f := newFixture(t)
	f.boot()
	user := protocol.Address{1}

	addr := f.open(user)
	first := f.proof(addr).Challenge
	f.mustExec(protocol.Close(user))

	f.setSlot(2)
	f.env.Now += 30
	addr = f.open(user)
	if second := f.proof(addr).Challenge; second == first {
		t.Error("reopening at a later slot yielded the same challenge")
	}
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	f.boot()
	user := protocol.Address{1}
	addr := f.open(user)
	before := f.account(user).Lamports

	f.setProof(addr, func(p *state.Proof) { p.Balance = 1 })
	if _, err := f.exec(protocol.Close(user)); !errors.Is(err, protocol.InvalidAccountData) {
		t.Fatalf("Close() with balance error = %v, want InvalidAccountData", err)
	}

	f.setProof(addr, func(p *state.Proof) { p.Balance = 0 })
	f.mustExec(protocol.Close(user))
	info := f.account(addr)
	if !info.IsEmpty() || info.Lamports != 0 || info.Owner != protocol.Known().System {
		t.Errorf("closed proof = %+v", info)
	}
	if got := f.account(user).Lamports; got != before+protocol.MinimumDeposit(state.ProofSize) {
		t.Errorf("refund = %d, want %d", got-before, protocol.MinimumDeposit(state.ProofSize))
	}

	other := protocol.Address{2}
	f.open(other)
	ix := protocol.Close(user)
	ix.Accounts[1].Address, _ = protocol.ProofAddress(other)
	if _, err := f.exec(ix); !errors.Is(err, protocol.InvalidAccountData) {
		t.Errorf("Close() of a foreign proof error = %v, want InvalidAccountData", err)
	}
}

func TestClaim(t *testing.T) {
	f := newFixture(t)
	k := protocol.Known()
	f.boot()
	user := protocol.Address{1}
	addr := f.open(user)
	dest := f.tokenAccount(user, k.Mint, 0)
	f.setProof(addr, func(p *state.Proof) { p.Balance = 500 })

	if _, err := f.exec(protocol.Claim(user, dest, 501)); !errors.Is(err, protocol.ClaimTooLarge) {
		t.Fatalf("Claim() error = %v, want ClaimTooLarge", err)
	}
	if f.proof(addr).Balance != 500 {
		t.Fatal("rejected claim changed the balance")
	}

	f.mustExec(protocol.Claim(user, dest, 200))
	if f.proof(addr).Balance != 300 || f.tokens(dest) != 200 {
		t.Errorf("balance = %d, tokens = %d", f.proof(addr).Balance, f.tokens(dest))
	}
	if f.tokens(k.TreasuryTokens) != protocol.MaxEpochRewards-200 {
		t.Errorf("treasury tokens = %d", f.tokens(k.TreasuryTokens))
	}
}

func TestStake(t *testing.T) {
	f := newFixture(t)
	k := protocol.Known()
	f.boot()
	user := protocol.Address{1}
	addr := f.open(user)
	src := f.tokenAccount(user, k.Mint, 1_000)

	f.env.Now += 42
	f.mustExec(protocol.Stake(user, src, 400))
	p := f.proof(addr)
	if p.Balance != 400 || p.LastStakeAt != f.env.Now {
		t.Errorf("proof = %+v", p)
	}
	if f.tokens(src) != 600 || f.tokens(k.TreasuryTokens) != protocol.MaxEpochRewards+400 {
		t.Errorf("tokens = %d / %d", f.tokens(src), f.tokens(k.TreasuryTokens))
	}

	if _, err := f.exec(protocol.Stake(user, src, 601)); !errors.Is(err, token.ErrInsufficientTokens) {
		t.Errorf("Stake() beyond holdings error = %v", err)
	}
	if f.proof(addr).Balance != 400 {
		t.Error("failed stake changed the balance")
	}

	f.setProof(addr, func(p *state.Proof) { p.Balance = ^uint64(0) })
	if _, err := f.exec(protocol.Stake(user, src, 1)); !errors.Is(err, protocol.ErrOverflow) {
		t.Errorf("Stake() overflow error = %v, want ErrOverflow", err)
	}
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	f.boot()
	user := protocol.Address{1}
	delegate := protocol.Address{2}
	addr := f.open(user)

	f.mustExec(protocol.Update(user, delegate))
	if f.proof(addr).Miner != delegate {
		t.Fatalf("miner = %s, want %s", f.proof(addr).Miner, delegate)
	}

	// The authority can no longer mine its own proof.
	f.env.Now += protocol.OneMinute
	s := solveExact(f.proof(addr).Challenge, 1)
	if _, err := f.exec(mineTx(user, 0, s)...); !errors.Is(err, protocol.InvalidAccountData) {
		t.Errorf("Mine() by authority error = %v, want InvalidAccountData", err)
	}

	f.fund(delegate, 1)
	ixs := []protocol.Instruction{protocol.Auth(addr), protocol.Mine(delegate, user, protocol.Known().Bus[0], mineArgs(s))}
	f.mustExec(ixs...)
}

func TestUpgrade(t *testing.T) {
	f := newFixture(t)
	k := protocol.Known()
	f.boot()
	user := protocol.Address{1}

	legacy := f.mint(k.LegacyMint)
	legacy.Supply = 1_000
	legacy.Put(f.account(k.LegacyMint).Data)
	sender := f.tokenAccount(user, k.LegacyMint, 1_000)
	dest := f.tokenAccount(user, k.Mint, 0)
	supply := f.mint(k.Mint).Supply

	f.mustExec(protocol.Upgrade(user, dest, sender, 100))
	if f.tokens(dest) != 10_000 {
		t.Errorf("minted = %d, want 10000", f.tokens(dest))
	}
	if f.tokens(sender) != 900 || f.mint(k.LegacyMint).Supply != 900 {
		t.Errorf("legacy not burned: %d / %d", f.tokens(sender), f.mint(k.LegacyMint).Supply)
	}
	if f.mint(k.Mint).Supply != supply+10_000 {
		t.Errorf("supply = %d, want %d", f.mint(k.Mint).Supply, supply+10_000)
	}

	m := f.mint(k.Mint)
	m.Supply = protocol.SupplyCap - 100
	m.Put(f.account(k.Mint).Data)
	if _, err := f.exec(protocol.Upgrade(user, dest, sender, 2)); !errors.Is(err, protocol.MaxSupply) {
		t.Errorf("Upgrade() past cap error = %v, want MaxSupply", err)
	}
	if f.tokens(sender) != 900 {
		t.Error("rejected upgrade burned legacy tokens")
	}
}
