package protocol

import "encoding/binary"

// MineEventSize is the encoded size of a MineEvent.
const MineEventSize = 24

// MineEvent is the return data of a successful Mine.
type MineEvent struct {
	Difficulty uint64 `json:"difficulty"`
	Reward     uint64 `json:"reward"`
	Timing     int64  `json:"timing"`
}

// Bytes encodes the event little-endian.
func (e MineEvent) Bytes() []byte {
	out := make([]byte, MineEventSize)
	binary.LittleEndian.PutUint64(out[0:], e.Difficulty)
	binary.LittleEndian.PutUint64(out[8:], e.Reward)
	binary.LittleEndian.PutUint64(out[16:], uint64(e.Timing))
	return out
}

// ParseMineEvent decodes return data produced by MineEvent.Bytes.
func ParseMineEvent(data []byte) (MineEvent, error) {
	if len(data) != MineEventSize {
		return MineEvent{}, InvalidAccountData
	}
	return MineEvent{
		Difficulty: binary.LittleEndian.Uint64(data[0:]),
		Reward:     binary.LittleEndian.Uint64(data[8:]),
		Timing:     int64(binary.LittleEndian.Uint64(data[16:])),
	}, nil
}

// EpochResetEventSize is the encoded size of an EpochResetEvent.
const EpochResetEventSize = 48

// EpochResetEvent is the return data of a Reset that rolled the epoch.
type EpochResetEvent struct {
	ResetAt        int64  `json:"reset_at"`
	BaseRewardRate uint64 `json:"base_reward_rate"`
	MinDifficulty  uint64 `json:"min_difficulty"`
	TopBalance     uint64 `json:"top_balance"`
	Theoretical    uint64 `json:"theoretical"`
	Minted         uint64 `json:"minted"`
}

// Bytes encodes the event little-endian.
func (e EpochResetEvent) Bytes() []byte {
	out := make([]byte, EpochResetEventSize)
	binary.LittleEndian.PutUint64(out[0:], uint64(e.ResetAt))
	binary.LittleEndian.PutUint64(out[8:], e.BaseRewardRate)
	binary.LittleEndian.PutUint64(out[16:], e.MinDifficulty)
	binary.LittleEndian.PutUint64(out[24:], e.TopBalance)
	binary.LittleEndian.PutUint64(out[32:], e.Theoretical)
	binary.LittleEndian.PutUint64(out[40:], e.Minted)
	return out
}

// ParseEpochResetEvent decodes return data produced by EpochResetEvent.Bytes.
func ParseEpochResetEvent(data []byte) (EpochResetEvent, error) {
	if len(data) != EpochResetEventSize {
		return EpochResetEvent{}, InvalidAccountData
	}
	return EpochResetEvent{
		ResetAt:        int64(binary.LittleEndian.Uint64(data[0:])),
		BaseRewardRate: binary.LittleEndian.Uint64(data[8:]),
		MinDifficulty:  binary.LittleEndian.Uint64(data[16:]),
		TopBalance:     binary.LittleEndian.Uint64(data[24:]),
		Theoretical:    binary.LittleEndian.Uint64(data[32:]),
		Minted:         binary.LittleEndian.Uint64(data[40:]),
	}, nil
}
