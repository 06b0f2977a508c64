package engine

import (
	"github.com/luckycoin-meme/luckycoin/internal/protocol"
	"github.com/luckycoin-meme/luckycoin/internal/token"
)

// processUpgrade burns legacy tokens and mints the current token at the
// decimal conversion factor.
func (p *Processor) processUpgrade(_ protocol.Env, accounts []*protocol.AccountInfo, payload []byte) (Result, error) {
	amount, err := protocol.DecodeAmount(payload)
	if err != nil {
		return Result{}, err
	}
	accs, err := accountsN(accounts, 7)
	if err != nil {
		return Result{}, err
	}
	signer, beneficiary, mintInfo, legacyMintInfo, sender, treasury, tokenProgram := accs[0], accs[1], accs[2], accs[3], accs[4], accs[5], accs[6]

	k := protocol.Known()
	if err := loadSigner(signer); err != nil {
		return Result{}, err
	}
	if _, err := loadTokenAccount(beneficiary, signer.Key, k.Mint, true); err != nil {
		return Result{}, err
	}
	if _, err := loadMint(mintInfo, k.Mint, true); err != nil {
		return Result{}, err
	}
	if _, err := loadMint(legacyMintInfo, k.LegacyMint, true); err != nil {
		return Result{}, err
	}
	if _, err := loadTokenAccount(sender, signer.Key, k.LegacyMint, true); err != nil {
		return Result{}, err
	}
	if err := loadTreasury(treasury, false); err != nil {
		return Result{}, err
	}
	if err := loadProgram(tokenProgram, k.TokenProgram); err != nil {
		return Result{}, err
	}

	if err := token.Burn(sender, legacyMintInfo, signer.Key, amount); err != nil {
		return Result{}, err
	}

	minted := saturatingMul(amount, protocol.UpgradeFactor)
	mint, err := token.DecodeMint(mintInfo.Data)
	if err != nil {
		return Result{}, err
	}
	if saturatingAdd(mint.Supply, minted) > protocol.SupplyCap {
		return Result{}, protocol.MaxSupply
	}

	if err := token.MintTo(mintInfo, beneficiary, treasury.Key, minted); err != nil {
		return Result{}, err
	}
	return Result{}, nil
}
