package engine

import (
	"github.com/luckycoin-meme/luckycoin/internal/challenge"
	"github.com/luckycoin-meme/luckycoin/internal/protocol"
	"github.com/luckycoin-meme/luckycoin/internal/state"
	"github.com/luckycoin-meme/luckycoin/internal/token"
)

// processOpen creates the signer's proof at its derived address.
func (p *Processor) processOpen(env protocol.Env, accounts []*protocol.AccountInfo, payload []byte) (Result, error) {
	bump, err := protocol.DecodeOpen(payload)
	if err != nil {
		return Result{}, err
	}
	accs, err := accountsN(accounts, 6)
	if err != nil {
		return Result{}, err
	}
	signer, miner, payer, proofInfo, systemProgram, slotHashes := accs[0], accs[1], accs[2], accs[3], accs[4], accs[5]

	k := protocol.Known()
	if err := loadSigner(signer); err != nil {
		return Result{}, err
	}
	if err := loadAny(miner, false); err != nil {
		return Result{}, err
	}
	if err := loadSigner(payer); err != nil {
		return Result{}, err
	}
	if err := loadUninitializedPDA(proofInfo, [][]byte{protocol.SeedProof, signer.Key[:]}, bump, k.Program); err != nil {
		return Result{}, err
	}
	if err := loadProgram(systemProgram, k.System); err != nil {
		return Result{}, err
	}
	if err := loadSysvar(slotHashes, k.SysvarSlotHashes); err != nil {
		return Result{}, err
	}
	if len(slotHashes.Data) < protocol.SlotHashSize {
		return Result{}, protocol.InvalidAccountData
	}

	if err := createAccount(proofInfo, payer, k.Program, state.ProofSize); err != nil {
		return Result{}, err
	}

	proof := &state.Proof{
		Authority:   signer.Key,
		Challenge:   challenge.Seed(signer.Key[:], slotHashes.Data[:protocol.SlotHashSize]),
		LastHashAt:  env.Now,
		LastStakeAt: env.Now,
		Miner:       miner.Key,
	}
	proof.Put(proofInfo.Data)
	return Result{}, nil
}

// processClose deletes an empty proof and refunds its deposit.
func (p *Processor) processClose(_ protocol.Env, accounts []*protocol.AccountInfo, payload []byte) (Result, error) {
	if err := protocol.DecodeEmpty(payload); err != nil {
		return Result{}, err
	}
	accs, err := accountsN(accounts, 3)
	if err != nil {
		return Result{}, err
	}
	signer, proofInfo, systemProgram := accs[0], accs[1], accs[2]

	if err := loadSigner(signer); err != nil {
		return Result{}, err
	}
	proof, err := loadProof(proofInfo, signer.Key, true)
	if err != nil {
		return Result{}, err
	}
	if err := loadProgram(systemProgram, protocol.Known().System); err != nil {
		return Result{}, err
	}

	if proof.Balance > 0 {
		return Result{}, protocol.InvalidAccountData
	}
	return Result{}, closeAccount(proofInfo, signer)
}

// processClaim pays amount of the proof balance out of the treasury.
func (p *Processor) processClaim(_ protocol.Env, accounts []*protocol.AccountInfo, payload []byte) (Result, error) {
	amount, err := protocol.DecodeAmount(payload)
	if err != nil {
		return Result{}, err
	}
	accs, err := accountsN(accounts, 6)
	if err != nil {
		return Result{}, err
	}
	signer, beneficiary, proofInfo, treasury, treasuryTokens, tokenProgram := accs[0], accs[1], accs[2], accs[3], accs[4], accs[5]

	k := protocol.Known()
	if err := loadSigner(signer); err != nil {
		return Result{}, err
	}
	if _, err := loadTokenAccount(beneficiary, protocol.Address{}, k.Mint, true); err != nil {
		return Result{}, err
	}
	proof, err := loadProof(proofInfo, signer.Key, true)
	if err != nil {
		return Result{}, err
	}
	if err := loadTreasury(treasury, false); err != nil {
		return Result{}, err
	}
	if _, err := loadTreasuryTokens(treasuryTokens, true); err != nil {
		return Result{}, err
	}
	if err := loadProgram(tokenProgram, k.TokenProgram); err != nil {
		return Result{}, err
	}

	if proof.Balance < amount {
		return Result{}, protocol.ClaimTooLarge
	}
	proof.Balance -= amount
	proof.Put(proofInfo.Data)

	if err := token.Transfer(treasuryTokens, beneficiary, treasury.Key, amount); err != nil {
		return Result{}, err
	}
	return Result{}, nil
}

// processStake moves tokens into the treasury and credits them to the proof.
func (p *Processor) processStake(env protocol.Env, accounts []*protocol.AccountInfo, payload []byte) (Result, error) {
	amount, err := protocol.DecodeAmount(payload)
	if err != nil {
		return Result{}, err
	}
	accs, err := accountsN(accounts, 5)
	if err != nil {
		return Result{}, err
	}
	signer, proofInfo, sender, treasuryTokens, tokenProgram := accs[0], accs[1], accs[2], accs[3], accs[4]

	k := protocol.Known()
	if err := loadSigner(signer); err != nil {
		return Result{}, err
	}
	proof, err := loadProof(proofInfo, signer.Key, true)
	if err != nil {
		return Result{}, err
	}
	if _, err := loadTokenAccount(sender, signer.Key, k.Mint, true); err != nil {
		return Result{}, err
	}
	if _, err := loadTreasuryTokens(treasuryTokens, true); err != nil {
		return Result{}, err
	}
	if err := loadProgram(tokenProgram, k.TokenProgram); err != nil {
		return Result{}, err
	}

	if proof.Balance, err = checkedAdd(proof.Balance, amount); err != nil {
		return Result{}, err
	}
	proof.LastStakeAt = env.Now
	proof.Put(proofInfo.Data)

	if err := token.Transfer(sender, treasuryTokens, signer.Key, amount); err != nil {
		return Result{}, err
	}
	return Result{}, nil
}

// processUpdate hands mining rights of the proof to another identity.
func (p *Processor) processUpdate(_ protocol.Env, accounts []*protocol.AccountInfo, payload []byte) (Result, error) {
	if err := protocol.DecodeEmpty(payload); err != nil {
		return Result{}, err
	}
	accs, err := accountsN(accounts, 3)
	if err != nil {
		return Result{}, err
	}
	signer, miner, proofInfo := accs[0], accs[1], accs[2]

	if err := loadSigner(signer); err != nil {
		return Result{}, err
	}
	if err := loadAny(miner, false); err != nil {
		return Result{}, err
	}
	proof, err := loadProof(proofInfo, signer.Key, true)
	if err != nil {
		return Result{}, err
	}

	proof.Miner = miner.Key
	proof.Put(proofInfo.Data)
	return Result{}, nil
}

// processHealth answers liveness probes without touching state.
func (p *Processor) processHealth(env protocol.Env, accounts []*protocol.AccountInfo, payload []byte) (Result, error) {
	if err := protocol.DecodeEmpty(payload); err != nil {
		return Result{}, err
	}
	accs, err := accountsN(accounts, 1)
	if err != nil {
		return Result{}, err
	}
	if err := loadSigner(accs[0]); err != nil {
		return Result{}, err
	}
	p.logger.Debug("Health check", "signer", accs[0].Key.String(), "slot", env.Slot, "now", env.Now)
	return Result{}, nil
}
