package engine

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/luckycoin-meme/luckycoin/internal/auth"
	"github.com/luckycoin-meme/luckycoin/internal/challenge"
	"github.com/luckycoin-meme/luckycoin/internal/protocol"
	"github.com/luckycoin-meme/luckycoin/internal/state"
	"github.com/luckycoin-meme/luckycoin/internal/token"
)

const genesisTime int64 = 1_700_000_000

// fixture is a minimal in-memory ledger that runs instructions through the
// processor with all-or-nothing commits.
type fixture struct {
	t           *testing.T
	p           *Processor
	accounts    map[protocol.Address]*protocol.AccountInfo
	env         protocol.Env
	slot        protocol.SlotHash
	initializer protocol.Address
	legacyAuth  protocol.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	k := protocol.Known()
	f := &fixture{
		t:           t,
		accounts:    make(map[protocol.Address]*protocol.AccountInfo),
		env:         protocol.Env{Now: genesisTime, Slot: 1},
		initializer: protocol.Address{0xee},
		legacyAuth:  protocol.Address{0xdd},
	}
	f.p = NewProcessor(Params{Initializer: f.initializer}, nil)
	f.setSlot(1)

	for _, program := range []protocol.Address{k.Program, k.System, k.TokenProgram, k.AssociatedTokenProgram, k.MetadataProgram, k.Noop} {
		f.accounts[program] = &protocol.AccountInfo{Key: program, Owner: k.System, Executable: true}
	}
	for _, sysvar := range []protocol.Address{k.SysvarSlotHashes, k.SysvarInstructions, k.SysvarClock} {
		f.accounts[sysvar] = &protocol.AccountInfo{Key: sysvar, Owner: k.SysvarOwner}
	}

	legacy := &protocol.AccountInfo{Key: k.LegacyMint, Owner: k.TokenProgram, Data: make([]byte, token.MintSize)}
	if err := token.InitializeMint(legacy, f.legacyAuth, protocol.LegacyTokenDecimals); err != nil {
		t.Fatalf("InitializeMint(legacy) error = %v", err)
	}
	f.accounts[k.LegacyMint] = legacy

	f.fund(f.initializer, 1_000_000_000_000)
	return f
}

func (f *fixture) setSlot(slot uint64) {
	f.env.Slot = slot
	f.slot = protocol.SlotHash{Slot: slot, Hash: chainhash.HashH([]byte{byte(slot), byte(slot >> 8)})}
}

func (f *fixture) account(addr protocol.Address) *protocol.AccountInfo {
	info, ok := f.accounts[addr]
	if !ok {
		info = &protocol.AccountInfo{Key: addr, Owner: protocol.Known().System}
		f.accounts[addr] = info
	}
	return info
}

func (f *fixture) fund(addr protocol.Address, lamports uint64) {
	f.account(addr).Lamports += lamports
}

// exec runs a transaction. Signer and writable flags are the union over all
// metas, as a ledger would present them.
func (f *fixture) exec(ixs ...protocol.Instruction) ([]Result, error) {
	k := protocol.Known()
	staged := make(map[protocol.Address]*protocol.AccountInfo)
	view := func(meta protocol.AccountMeta) *protocol.AccountInfo {
		v, ok := staged[meta.Address]
		if !ok {
			src := f.account(meta.Address)
			c := *src
			c.Data = bytes.Clone(src.Data)
			v = &c
			staged[meta.Address] = v
		}
		v.IsSigner = v.IsSigner || meta.IsSigner
		v.IsWritable = v.IsWritable || meta.IsWritable
		return v
	}
	for _, ix := range ixs {
		for _, meta := range ix.Accounts {
			view(meta)
		}
	}

	results := make([]Result, 0, len(ixs))
	for i, ix := range ixs {
		if ix.ProgramID == k.Noop {
			continue
		}
		infos := make([]*protocol.AccountInfo, len(ix.Accounts))
		for j, meta := range ix.Accounts {
			infos[j] = view(meta)
			switch meta.Address {
			case k.SysvarSlotHashes:
				infos[j].Data = f.slot.Bytes()
			case k.SysvarInstructions:
				infos[j].Data = auth.Encode(ixs, uint16(i))
			}
		}
		res, err := f.p.Process(f.env, ix.ProgramID, infos, ix.Data)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	for addr, v := range staged {
		v.IsSigner, v.IsWritable = false, false
		f.accounts[addr] = v
	}
	return results, nil
}

func (f *fixture) mustExec(ixs ...protocol.Instruction) []Result {
	f.t.Helper()
	res, err := f.exec(ixs...)
	if err != nil {
		f.t.Fatalf("exec() error = %v", err)
	}
	return res
}

// boot initializes the program and runs the first reset.
func (f *fixture) boot() {
	f.t.Helper()
	f.mustExec(protocol.Initialize(f.initializer))
	f.mustExec(protocol.Reset(f.initializer))
}

func (f *fixture) open(user protocol.Address) protocol.Address {
	f.t.Helper()
	f.fund(user, 100_000_000)
	f.mustExec(protocol.Open(user, user, user))
	proof, _ := protocol.ProofAddress(user)
	return proof
}

func (f *fixture) proof(addr protocol.Address) *state.Proof {
	f.t.Helper()
	p, err := state.DecodeProof(f.account(addr).Data)
	if err != nil {
		f.t.Fatalf("DecodeProof() error = %v", err)
	}
	return p
}

func (f *fixture) setProof(addr protocol.Address, mutate func(*state.Proof)) {
	p := f.proof(addr)
	mutate(p)
	p.Put(f.account(addr).Data)
}

func (f *fixture) config() *state.Config {
	f.t.Helper()
	c, err := state.DecodeConfig(f.account(protocol.Known().Config).Data)
	if err != nil {
		f.t.Fatalf("DecodeConfig() error = %v", err)
	}
	return c
}

func (f *fixture) setConfig(mutate func(*state.Config)) {
	c := f.config()
	mutate(c)
	c.Put(f.account(protocol.Known().Config).Data)
}

func (f *fixture) bus(id int) *state.Bus {
	f.t.Helper()
	b, err := state.DecodeBus(f.account(protocol.Known().Bus[id]).Data)
	if err != nil {
		f.t.Fatalf("DecodeBus() error = %v", err)
	}
	return b
}

func (f *fixture) setBus(id int, mutate func(*state.Bus)) {
	b := f.bus(id)
	mutate(b)
	b.Put(f.account(protocol.Known().Bus[id]).Data)
}

func (f *fixture) mint(addr protocol.Address) *token.Mint {
	f.t.Helper()
	m, err := token.DecodeMint(f.account(addr).Data)
	if err != nil {
		f.t.Fatalf("DecodeMint() error = %v", err)
	}
	return m
}

// tokenAccount creates the associated token account of owner for mint.
func (f *fixture) tokenAccount(owner, mint protocol.Address, amount uint64) protocol.Address {
	f.t.Helper()
	addr := protocol.AssociatedTokenAddress(owner, mint)
	info := &protocol.AccountInfo{Key: addr, Owner: protocol.Known().TokenProgram, Data: make([]byte, token.AccountSize)}
	(&token.Account{Mint: mint, Owner: owner, Amount: amount}).Put(info.Data)
	f.accounts[addr] = info
	return addr
}

func (f *fixture) tokens(addr protocol.Address) uint64 {
	f.t.Helper()
	a, err := token.DecodeAccount(f.account(addr).Data)
	if err != nil {
		f.t.Fatalf("DecodeAccount() error = %v", err)
	}
	return a.Amount
}

// solveExact finds a solution of exactly the given difficulty.
func solveExact(ch chainhash.Hash, difficulty uint64) challenge.Solution {
	for nonce := uint64(0); ; nonce++ {
		s := challenge.NewSolution(ch, nonce)
		if challenge.Difficulty(s.Hash()) == difficulty {
			return s
		}
	}
}

func mineArgs(s challenge.Solution) protocol.MineArgs {
	return protocol.MineArgs{Digest: s.D, Nonce: s.N}
}

// mineTx builds the auth marker and mine instruction of user on bus.
func mineTx(user protocol.Address, bus int, s challenge.Solution) []protocol.Instruction {
	proof, _ := protocol.ProofAddress(user)
	return []protocol.Instruction{
		protocol.Auth(proof),
		protocol.Mine(user, user, protocol.Known().Bus[bus], mineArgs(s)),
	}
}
