package engine

import (
	"github.com/luckycoin-meme/luckycoin/internal/protocol"
	"github.com/luckycoin-meme/luckycoin/internal/state"
	"github.com/luckycoin-meme/luckycoin/internal/token"
)

// Boundary loaders. Each validates one account before any domain logic runs
// and fails with a protocol.BoundaryError.

func loadSigner(info *protocol.AccountInfo) error {
	if !info.IsSigner {
		return protocol.MissingRequiredSignature
	}
	return nil
}

func loadAny(info *protocol.AccountInfo, writable bool) error {
	if writable && !info.IsWritable {
		return protocol.InvalidAccountData
	}
	return nil
}

func loadAccount(info *protocol.AccountInfo, key protocol.Address, writable bool) error {
	if info.Key != key {
		return protocol.InvalidAccountData
	}
	return loadAny(info, writable)
}

func loadSysvar(info *protocol.AccountInfo, key protocol.Address) error {
	if info.Owner != protocol.Known().SysvarOwner {
		return protocol.InvalidAccountOwner
	}
	return loadAccount(info, key, false)
}

func loadProgram(info *protocol.AccountInfo, key protocol.Address) error {
	if info.Key != key {
		return protocol.IncorrectProgramId
	}
	if !info.Executable {
		return protocol.InvalidAccountData
	}
	return nil
}

func loadSystemAccount(info *protocol.AccountInfo, writable bool) error {
	if !info.IsEmpty() {
		return protocol.AccountAlreadyInitialized
	}
	if info.Owner != protocol.Known().System {
		return protocol.InvalidAccountOwner
	}
	return loadAny(info, writable)
}

func loadUninitializedPDA(info *protocol.AccountInfo, seeds [][]byte, bump uint8, program protocol.Address) error {
	addr, want, err := protocol.DeriveAddress(seeds, program)
	if err != nil || info.Key != addr || bump != want {
		return protocol.InvalidSeeds
	}
	return loadSystemAccount(info, true)
}

// loadProgramRecord checks ownership, presence and tag of a program record.
func loadProgramRecord(info *protocol.AccountInfo, disc state.Discriminator, writable bool) error {
	if info.Owner != protocol.Known().Program {
		return protocol.InvalidAccountOwner
	}
	if info.IsEmpty() {
		return protocol.UninitializedAccount
	}
	if state.Tag(info.Data) != disc {
		return protocol.InvalidAccountData
	}
	return loadAny(info, writable)
}

func loadAnyBus(info *protocol.AccountInfo, writable bool) (*state.Bus, error) {
	if info.Owner != protocol.Known().Program {
		return nil, protocol.InvalidAccountOwner
	}
	if info.IsEmpty() {
		return nil, protocol.UninitializedAccount
	}
	if state.Tag(info.Data) != state.DiscriminatorBus {
		return nil, protocol.InvalidAccountData
	}
	if !protocol.Known().IsBus(info.Key) {
		return nil, protocol.InvalidSeeds
	}
	if err := loadAny(info, writable); err != nil {
		return nil, err
	}
	return state.DecodeBus(info.Data)
}

func loadBus(info *protocol.AccountInfo, id int, writable bool) (*state.Bus, error) {
	if info.Owner != protocol.Known().Program {
		return nil, protocol.InvalidAccountOwner
	}
	if info.Key != protocol.Known().Bus[id] {
		return nil, protocol.InvalidSeeds
	}
	if info.IsEmpty() {
		return nil, protocol.UninitializedAccount
	}
	bus, err := state.DecodeBus(info.Data)
	if err != nil {
		return nil, err
	}
	if bus.ID != uint64(id) {
		return nil, protocol.InvalidAccountData
	}
	if err := loadAny(info, writable); err != nil {
		return nil, err
	}
	return bus, nil
}

func loadConfig(info *protocol.AccountInfo, writable bool) (*state.Config, error) {
	if info.Owner != protocol.Known().Program {
		return nil, protocol.InvalidAccountOwner
	}
	if info.Key != protocol.Known().Config {
		return nil, protocol.InvalidSeeds
	}
	if err := loadProgramRecord(info, state.DiscriminatorConfig, writable); err != nil {
		return nil, err
	}
	return state.DecodeConfig(info.Data)
}

func loadProof(info *protocol.AccountInfo, authority protocol.Address, writable bool) (*state.Proof, error) {
	if err := loadProgramRecord(info, state.DiscriminatorProof, false); err != nil {
		return nil, err
	}
	proof, err := state.DecodeProof(info.Data)
	if err != nil {
		return nil, err
	}
	if proof.Authority != authority {
		return nil, protocol.InvalidAccountData
	}
	if err := loadAny(info, writable); err != nil {
		return nil, err
	}
	return proof, nil
}

func loadProofWithMiner(info *protocol.AccountInfo, miner protocol.Address, writable bool) (*state.Proof, error) {
	if err := loadProgramRecord(info, state.DiscriminatorProof, false); err != nil {
		return nil, err
	}
	proof, err := state.DecodeProof(info.Data)
	if err != nil {
		return nil, err
	}
	if proof.Miner != miner {
		return nil, protocol.InvalidAccountData
	}
	if err := loadAny(info, writable); err != nil {
		return nil, err
	}
	return proof, nil
}

func loadTreasury(info *protocol.AccountInfo, writable bool) error {
	if info.Owner != protocol.Known().Program {
		return protocol.InvalidAccountOwner
	}
	if info.Key != protocol.Known().Treasury {
		return protocol.InvalidSeeds
	}
	return loadProgramRecord(info, state.DiscriminatorTreasury, writable)
}

func loadMint(info *protocol.AccountInfo, key protocol.Address, writable bool) (*token.Mint, error) {
	if info.Owner != protocol.Known().TokenProgram {
		return nil, protocol.InvalidAccountOwner
	}
	if info.Key != key {
		return nil, protocol.InvalidSeeds
	}
	if info.IsEmpty() {
		return nil, protocol.UninitializedAccount
	}
	mint, err := token.DecodeMint(info.Data)
	if err != nil {
		return nil, protocol.InvalidAccountData
	}
	if err := loadAny(info, writable); err != nil {
		return nil, err
	}
	return mint, nil
}

// loadTokenAccount validates a token account of mint. A zero owner skips the
// owner check.
func loadTokenAccount(info *protocol.AccountInfo, owner, mint protocol.Address, writable bool) (*token.Account, error) {
	if info.Owner != protocol.Known().TokenProgram {
		return nil, protocol.InvalidAccountOwner
	}
	if info.IsEmpty() {
		return nil, protocol.UninitializedAccount
	}
	account, err := token.DecodeAccount(info.Data)
	if err != nil {
		return nil, protocol.InvalidAccountData
	}
	if account.Mint != mint {
		return nil, protocol.InvalidAccountData
	}
	if !owner.IsZero() && account.Owner != owner {
		return nil, protocol.InvalidAccountData
	}
	if err := loadAny(info, writable); err != nil {
		return nil, err
	}
	return account, nil
}

func loadTreasuryTokens(info *protocol.AccountInfo, writable bool) (*token.Account, error) {
	k := protocol.Known()
	if info.Key != k.TreasuryTokens {
		return nil, protocol.InvalidSeeds
	}
	return loadTokenAccount(info, k.Treasury, k.Mint, writable)
}
