package state

import "github.com/luckycoin-meme/luckycoin/internal/protocol"

// Bus is one of the reward shards. Rewards is the remaining payout budget of
// the current epoch, TheoreticalRewards sums the uncapped rewards computed
// against it and TopBalance is the largest stake seen mining through it.
type Bus struct {
	ID                 uint64 `json:"id"`
	Rewards            uint64 `json:"rewards"`
	TheoreticalRewards uint64 `json:"theoretical_rewards"`
	TopBalance         uint64 `json:"top_balance"`
}

// DecodeBus parses a bus record.
func DecodeBus(data []byte) (*Bus, error) {
	if err := checkLayout(data, DiscriminatorBus, BusSize); err != nil {
		return nil, err
	}
	c := cursor{buf: data, off: HeaderSize}
	return &Bus{
		ID:                 c.u64(),
		Rewards:            c.u64(),
		TheoreticalRewards: c.u64(),
		TopBalance:         c.u64(),
	}, nil
}

// Put writes the record into dst, which must be BusSize bytes.
func (b *Bus) Put(dst []byte) {
	putHeader(dst, DiscriminatorBus)
	c := cursor{buf: dst, off: HeaderSize}
	c.putU64(b.ID)
	c.putU64(b.Rewards)
	c.putU64(b.TheoreticalRewards)
	c.putU64(b.TopBalance)
}

// Encode returns the record bytes.
func (b *Bus) Encode() []byte {
	out := make([]byte, BusSize)
	b.Put(out)
	return out
}

// Config is the global governor record. TopBalance is the largest stake
// observed during the previous epoch.
type Config struct {
	BaseRewardRate uint64 `json:"base_reward_rate"`
	LastResetAt    int64  `json:"last_reset_at"`
	MinDifficulty  uint64 `json:"min_difficulty"`
	TopBalance     uint64 `json:"top_balance"`
}

// DecodeConfig parses a config record.
func DecodeConfig(data []byte) (*Config, error) {
	if err := checkLayout(data, DiscriminatorConfig, ConfigSize); err != nil {
		return nil, err
	}
	c := cursor{buf: data, off: HeaderSize}
	return &Config{
		BaseRewardRate: c.u64(),
		LastResetAt:    c.i64(),
		MinDifficulty:  c.u64(),
		TopBalance:     c.u64(),
	}, nil
}

// Put writes the record into dst, which must be ConfigSize bytes.
func (cfg *Config) Put(dst []byte) {
	putHeader(dst, DiscriminatorConfig)
	c := cursor{buf: dst, off: HeaderSize}
	c.putU64(cfg.BaseRewardRate)
	c.putI64(cfg.LastResetAt)
	c.putU64(cfg.MinDifficulty)
	c.putU64(cfg.TopBalance)
}

// Encode returns the record bytes.
func (cfg *Config) Encode() []byte {
	out := make([]byte, ConfigSize)
	cfg.Put(out)
	return out
}

// EpochEndsAt returns the first instant at which mining needs a reset.
func (cfg *Config) EpochEndsAt() int64 {
	return cfg.LastResetAt + protocol.EpochDuration
}

// Treasury is the empty singleton that owns the mint and pooled tokens.
type Treasury struct{}

// DecodeTreasury validates a treasury record.
func DecodeTreasury(data []byte) (*Treasury, error) {
	if err := checkLayout(data, DiscriminatorTreasury, TreasurySize); err != nil {
		return nil, err
	}
	return &Treasury{}, nil
}

// Encode returns the record bytes.
func (*Treasury) Encode() []byte {
	out := make([]byte, TreasurySize)
	putHeader(out, DiscriminatorTreasury)
	return out
}
