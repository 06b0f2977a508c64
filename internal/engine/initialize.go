package engine

import (
	"github.com/luckycoin-meme/luckycoin/internal/protocol"
	"github.com/luckycoin-meme/luckycoin/internal/state"
	"github.com/luckycoin-meme/luckycoin/internal/token"
)

// processInitialize creates the buses, config, treasury, mint, mint metadata
// and treasury token account. It runs once; any existing record fails it.
func (p *Processor) processInitialize(_ protocol.Env, accounts []*protocol.AccountInfo, payload []byte) (Result, error) {
	args, err := protocol.DecodeInitialize(payload)
	if err != nil {
		return Result{}, err
	}
	accs, err := accountsN(accounts, 10+protocol.BusCount)
	if err != nil {
		return Result{}, err
	}
	signer := accs[0]
	busInfos := accs[1 : 1+protocol.BusCount]
	rest := accs[1+protocol.BusCount:]
	configInfo, metadataInfo, mintInfo, treasury, treasuryTokens := rest[0], rest[1], rest[2], rest[3], rest[4]
	systemProgram, tokenProgram, associatedTokenProgram, metadataProgram := rest[5], rest[6], rest[7], rest[8]

	k := protocol.Known()
	if err := loadSigner(signer); err != nil {
		return Result{}, err
	}
	for i, info := range busInfos {
		if err := loadUninitializedPDA(info, [][]byte{protocol.SeedBus, {byte(i)}}, args.BusBumps[i], k.Program); err != nil {
			return Result{}, err
		}
	}
	if err := loadUninitializedPDA(configInfo, [][]byte{protocol.SeedConfig}, args.ConfigBump, k.Program); err != nil {
		return Result{}, err
	}
	if err := loadUninitializedPDA(metadataInfo, [][]byte{protocol.SeedMetadata, k.MetadataProgram[:], k.Mint[:]}, args.MetadataBump, k.MetadataProgram); err != nil {
		return Result{}, err
	}
	if err := loadUninitializedPDA(mintInfo, [][]byte{protocol.SeedMint, protocol.MintNoise[:]}, args.MintBump, k.Program); err != nil {
		return Result{}, err
	}
	if err := loadUninitializedPDA(treasury, [][]byte{protocol.SeedTreasury}, args.TreasuryBump, k.Program); err != nil {
		return Result{}, err
	}
	if treasuryTokens.Key != k.TreasuryTokens {
		return Result{}, protocol.InvalidSeeds
	}
	if err := loadSystemAccount(treasuryTokens, true); err != nil {
		return Result{}, err
	}
	for _, check := range []struct {
		info *protocol.AccountInfo
		key  protocol.Address
	}{
		{systemProgram, k.System},
		{tokenProgram, k.TokenProgram},
		{associatedTokenProgram, k.AssociatedTokenProgram},
		{metadataProgram, k.MetadataProgram},
	} {
		if err := loadProgram(check.info, check.key); err != nil {
			return Result{}, err
		}
	}
	if signer.Key != p.params.Initializer {
		return Result{}, protocol.MissingRequiredSignature
	}

	for i, info := range busInfos {
		if err := createAccount(info, signer, k.Program, state.BusSize); err != nil {
			return Result{}, err
		}
		(&state.Bus{ID: uint64(i)}).Put(info.Data)
	}

	if err := createAccount(configInfo, signer, k.Program, state.ConfigSize); err != nil {
		return Result{}, err
	}
	config := &state.Config{
		BaseRewardRate: protocol.InitialBaseRewardRate,
		MinDifficulty:  protocol.InitialMinDifficulty,
	}
	config.Put(configInfo.Data)

	if err := createAccount(treasury, signer, k.Program, state.TreasurySize); err != nil {
		return Result{}, err
	}
	copy(treasury.Data, (&state.Treasury{}).Encode())

	if err := createAccount(mintInfo, signer, k.TokenProgram, token.MintSize); err != nil {
		return Result{}, err
	}
	if err := token.InitializeMint(mintInfo, treasury.Key, protocol.TokenDecimals); err != nil {
		return Result{}, err
	}

	metadata := &token.Metadata{
		Mint:            mintInfo.Key,
		UpdateAuthority: signer.Key,
		Name:            protocol.MetadataName,
		Symbol:          protocol.MetadataSymbol,
		URI:             protocol.MetadataURI,
	}
	if err := createAccount(metadataInfo, signer, k.MetadataProgram, metadata.Size()); err != nil {
		return Result{}, err
	}
	copy(metadataInfo.Data, metadata.Encode())

	if err := createAccount(treasuryTokens, signer, k.TokenProgram, token.AccountSize); err != nil {
		return Result{}, err
	}
	if err := token.InitializeAccount(treasuryTokens, mintInfo.Key, treasury.Key); err != nil {
		return Result{}, err
	}
	return Result{}, nil
}
