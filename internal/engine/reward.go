package engine

import "github.com/luckycoin-meme/luckycoin/internal/protocol"

// RewardInput is everything the reward of one accepted solution depends on.
type RewardInput struct {
	BaseRewardRate uint64
	MinDifficulty  uint64
	Difficulty     uint64
	// Balance and LastStakeAt come from the proof; TopBalance from config.
	Balance     uint64
	LastStakeAt int64
	TopBalance  uint64
	LastHashAt  int64
	Now         int64
}

// Reward is the uncapped reward of a solution and the timing it was
// evaluated against.
type Reward struct {
	Amount uint64
	// Staking reports whether the proof balance counted as stake, which also
	// makes it a candidate for the bus top balance.
	Staking  bool
	Target   int64
	Liveness int64
}

// TargetTime is the nominal time of the next submission after lastHashAt.
func TargetTime(lastHashAt int64) int64 {
	return saturatingAddInt(lastHashAt, protocol.OneMinute)
}

// ComputeReward applies the difficulty scaling, the staking multiplier and
// the liveness penalty, in that order. Overflow is returned as
// protocol.ErrOverflow.
func ComputeReward(in RewardInput) (Reward, error) {
	if in.Difficulty < in.MinDifficulty {
		return Reward{}, protocol.HashTooEasy
	}

	out := Reward{Target: TargetTime(in.LastHashAt)}
	out.Liveness = saturatingAddInt(out.Target, protocol.Tolerance)

	scale, err := checkedPow2(in.Difficulty - in.MinDifficulty)
	if err != nil {
		return Reward{}, err
	}
	reward, err := checkedMul(in.BaseRewardRate, scale)
	if err != nil {
		return Reward{}, err
	}

	if in.Balance > 0 && saturatingAddInt(in.LastStakeAt, protocol.OneMinute) < in.Now {
		out.Staking = true
		if in.TopBalance > 0 {
			bonus, err := mulDiv(reward, min(in.Balance, in.TopBalance), in.TopBalance)
			if err != nil {
				return Reward{}, err
			}
			if reward, err = checkedAdd(reward, bonus); err != nil {
				return Reward{}, err
			}
		}
	}

	out.Amount = applyLiveness(reward, in.Now, out.Target)
	return out, nil
}

// applyLiveness halves reward for every full minute past target and decays
// the remaining seconds linearly by up to half of what is left. Submissions
// within the tolerance window are not penalized.
func applyLiveness(reward uint64, now, target int64) uint64 {
	if now <= saturatingAddInt(target, protocol.Tolerance) {
		return reward
	}

	tardiness := uint64(saturatingSubInt(now, target))
	minute := uint64(protocol.OneMinute)
	halvings := tardiness / minute
	if halvings > 0 {
		reward /= saturatingPow2(halvings)
	}

	remainder := tardiness - halvings*minute
	if remainder > 0 && reward > 0 {
		penalty := saturatingMul(reward/2, remainder) / minute
		reward -= min(penalty, reward)
	}
	return reward
}

// Payout caps reward by the bus budget and the per-submission limit.
func Payout(reward, busRewards uint64) uint64 {
	return min(reward, busRewards, protocol.OneToken)
}
