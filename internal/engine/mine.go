package engine

import (
	"github.com/luckycoin-meme/luckycoin/internal/auth"
	"github.com/luckycoin-meme/luckycoin/internal/challenge"
	"github.com/luckycoin-meme/luckycoin/internal/protocol"
)

// processMine validates a solution against the proof's challenge and pays
// the reward out of the selected bus.
func (p *Processor) processMine(env protocol.Env, accounts []*protocol.AccountInfo, payload []byte) (Result, error) {
	args, err := protocol.DecodeMine(payload)
	if err != nil {
		return Result{}, err
	}
	accs, err := accountsN(accounts, 6)
	if err != nil {
		return Result{}, err
	}
	signer, busInfo, configInfo, proofInfo, instructions, slotHashes := accs[0], accs[1], accs[2], accs[3], accs[4], accs[5]

	k := protocol.Known()
	if err := loadSigner(signer); err != nil {
		return Result{}, err
	}
	bus, err := loadAnyBus(busInfo, true)
	if err != nil {
		return Result{}, err
	}
	config, err := loadConfig(configInfo, false)
	if err != nil {
		return Result{}, err
	}
	proof, err := loadProofWithMiner(proofInfo, signer.Key, true)
	if err != nil {
		return Result{}, err
	}
	if err := loadSysvar(instructions, k.SysvarInstructions); err != nil {
		return Result{}, err
	}
	if err := loadSysvar(slotHashes, k.SysvarSlotHashes); err != nil {
		return Result{}, err
	}
	if len(slotHashes.Data) < protocol.SlotHashSize {
		return Result{}, protocol.InvalidAccountData
	}

	now := env.Now
	if config.EpochEndsAt() <= now {
		return Result{}, protocol.NeedsReset
	}

	if err := auth.Authenticate(instructions.Data, proofInfo.Key); err != nil {
		return Result{}, err
	}

	solution := challenge.FromBytes(args.Digest, args.Nonce)
	hash, difficulty, ok := challenge.Verify(proof.Challenge, solution)
	if !ok {
		return Result{}, protocol.HashInvalid
	}

	target := TargetTime(proof.LastHashAt)
	if now < saturatingSubInt(target, protocol.Tolerance) {
		return Result{}, protocol.Spam
	}

	if difficulty < config.MinDifficulty {
		return Result{}, protocol.HashTooEasy
	}

	reward, err := ComputeReward(RewardInput{
		BaseRewardRate: config.BaseRewardRate,
		MinDifficulty:  config.MinDifficulty,
		Difficulty:     difficulty,
		Balance:        proof.Balance,
		LastStakeAt:    proof.LastStakeAt,
		TopBalance:     config.TopBalance,
		LastHashAt:     proof.LastHashAt,
		Now:            now,
	})
	if err != nil {
		return Result{}, err
	}
	if reward.Staking && proof.Balance > bus.TopBalance {
		bus.TopBalance = proof.Balance
	}

	paid := Payout(reward.Amount, bus.Rewards)
	if bus.TheoreticalRewards, err = checkedAdd(bus.TheoreticalRewards, reward.Amount); err != nil {
		return Result{}, err
	}
	if bus.Rewards, err = checkedSub(bus.Rewards, paid); err != nil {
		return Result{}, err
	}
	if proof.Balance, err = checkedAdd(proof.Balance, paid); err != nil {
		return Result{}, err
	}

	proof.LastHash = hash
	proof.Challenge = challenge.Rotate(hash, slotHashes.Data[:protocol.SlotHashSize])
	proof.LastHashAt = max(now, target)
	proof.TotalHashes = saturatingAdd(proof.TotalHashes, 1)
	proof.TotalRewards = saturatingAdd(proof.TotalRewards, reward.Amount)

	bus.Put(busInfo.Data)
	proof.Put(proofInfo.Data)

	event := protocol.MineEvent{
		Difficulty: difficulty,
		Reward:     paid,
		Timing:     saturatingSubInt(now, reward.Liveness),
	}
	return Result{ReturnData: event.Bytes(), Mine: &event}, nil
}
