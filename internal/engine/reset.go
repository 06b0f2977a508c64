package engine

import (
	"github.com/luckycoin-meme/luckycoin/internal/protocol"
	"github.com/luckycoin-meme/luckycoin/internal/state"
	"github.com/luckycoin-meme/luckycoin/internal/token"
)

// processReset rolls the epoch: it refills every bus, retunes the base
// reward rate and minimum difficulty from last epoch's theoretical demand and
// mints the tokens backing the new epoch's payouts into the treasury.
func (p *Processor) processReset(env protocol.Env, accounts []*protocol.AccountInfo, payload []byte) (Result, error) {
	if err := protocol.DecodeEmpty(payload); err != nil {
		return Result{}, err
	}
	accs, err := accountsN(accounts, 5+protocol.BusCount)
	if err != nil {
		return Result{}, err
	}
	signer := accs[0]
	busInfos := accs[1 : 1+protocol.BusCount]
	rest := accs[1+protocol.BusCount:]
	configInfo, mintInfo, treasury, treasuryTokens, tokenProgram := rest[0], rest[1], rest[2], rest[3], rest[4]

	k := protocol.Known()
	if err := loadSigner(signer); err != nil {
		return Result{}, err
	}
	buses := make([]*state.Bus, protocol.BusCount)
	for i, info := range busInfos {
		if buses[i], err = loadBus(info, i, true); err != nil {
			return Result{}, err
		}
	}
	config, err := loadConfig(configInfo, true)
	if err != nil {
		return Result{}, err
	}
	mint, err := loadMint(mintInfo, k.Mint, true)
	if err != nil {
		return Result{}, err
	}
	if err := loadTreasury(treasury, true); err != nil {
		return Result{}, err
	}
	if _, err := loadTreasuryTokens(treasuryTokens, true); err != nil {
		return Result{}, err
	}
	if err := loadProgram(tokenProgram, k.TokenProgram); err != nil {
		return Result{}, err
	}

	now := env.Now
	if !env.ClockValid() || now < config.LastResetAt {
		return Result{}, protocol.ClockInvalid
	}
	if config.EpochEndsAt() > now {
		return Result{}, nil
	}
	if mint.Supply >= protocol.SupplyCap {
		return Result{}, protocol.MaxSupply
	}

	config.LastResetAt = now

	var remaining, theoretical, topBalance uint64
	for _, bus := range buses {
		if remaining, err = checkedAdd(remaining, bus.Rewards); err != nil {
			return Result{}, err
		}
		if theoretical, err = checkedAdd(theoretical, bus.TheoreticalRewards); err != nil {
			return Result{}, err
		}
		topBalance = max(topBalance, bus.TopBalance)

		bus.Rewards = protocol.BusEpochRewards
		bus.TheoreticalRewards = 0
		bus.TopBalance = 0
	}
	config.TopBalance = topBalance

	config.BaseRewardRate, config.MinDifficulty = retune(NextRewardRate(config.BaseRewardRate, theoretical), config.MinDifficulty)

	refill := protocol.MaxEpochRewards - min(remaining, protocol.MaxEpochRewards)
	minted := min(protocol.SupplyCap-mint.Supply, refill)

	for i, bus := range buses {
		bus.Put(busInfos[i].Data)
	}
	config.Put(configInfo.Data)

	if minted > 0 {
		if err := token.MintTo(mintInfo, treasuryTokens, treasury.Key, minted); err != nil {
			return Result{}, err
		}
	}

	event := protocol.EpochResetEvent{
		ResetAt:        now,
		BaseRewardRate: config.BaseRewardRate,
		MinDifficulty:  config.MinDifficulty,
		TopBalance:     config.TopBalance,
		Theoretical:    theoretical,
		Minted:         minted,
	}
	return Result{ReturnData: event.Bytes(), EpochReset: &event}, nil
}

// NextRewardRate steers the base rate so that last epoch's theoretical
// rewards would have matched the target. The move is bounded by the
// smoothing factor and the result stays within [1, BusEpochRewards]. A quiet
// epoch leaves the rate unchanged.
func NextRewardRate(current, theoretical uint64) uint64 {
	if theoretical == 0 {
		return current
	}

	rate, err := mulDiv(current, protocol.TargetEpochRewards, theoretical)
	if err != nil {
		rate = ^uint64(0)
	}

	lower := max(current/protocol.SmoothingFactor, 1)
	upper := saturatingMul(current, protocol.SmoothingFactor)
	rate = min(max(rate, lower), upper)
	return min(max(rate, 1), protocol.BusEpochRewards)
}

// retune trades rate for difficulty until the rate is inside
// [BaseRewardRateMinThreshold, BaseRewardRateMaxThreshold]. Each step below
// the band doubles the rate and raises difficulty; each step at or above the
// upper threshold halves the rate and lowers difficulty. At the difficulty
// floor the rate is clamped to the upper threshold.
func retune(rate, minDifficulty uint64) (uint64, uint64) {
	rate = max(rate, 1)
	for rate < protocol.BaseRewardRateMinThreshold {
		rate *= 2
		minDifficulty = saturatingAdd(minDifficulty, 1)
	}
	for rate >= protocol.BaseRewardRateMaxThreshold && minDifficulty > 1 {
		rate /= 2
		minDifficulty--
	}
	return min(rate, protocol.BaseRewardRateMaxThreshold), minDifficulty
}
