package protocol

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// AccountInfo is the view of one account handed to a program.
type AccountInfo struct {
	Key        Address
	Owner      Address
	Lamports   uint64
	Data       []byte
	Executable bool
	IsSigner   bool
	IsWritable bool
}

// IsEmpty reports whether the account carries no data.
func (a *AccountInfo) IsEmpty() bool {
	return len(a.Data) == 0
}

// Env is the execution environment of one transaction.
type Env struct {
	// Now is the ledger unix time in seconds. Zero means the clock is unset.
	Now  int64
	Slot uint64
}

// ClockValid reports whether the ledger clock has been set.
func (e Env) ClockValid() bool {
	return e.Now > 0
}

const (
	accountOverhead    = 128
	lamportsPerByteDay = 3480
	depositYears       = 2
)

// MinimumDeposit returns the lamports a record of size bytes must hold.
func MinimumDeposit(size int) uint64 {
	return uint64(accountOverhead+size) * lamportsPerByteDay * depositYears
}

// SlotHashSize is the encoded size of a slot hash entry.
const SlotHashSize = 40

// SlotHash is the most recent slot and its hash. It is the unpredictable
// ledger value mixed into every new challenge.
type SlotHash struct {
	Slot uint64
	Hash chainhash.Hash
}

// Bytes encodes the entry as slot (LE) followed by the hash.
func (s SlotHash) Bytes() []byte {
	out := make([]byte, SlotHashSize)
	binary.LittleEndian.PutUint64(out, s.Slot)
	copy(out[8:], s.Hash[:])
	return out
}

// ParseSlotHash decodes the leading entry of slot hash sysvar data.
func ParseSlotHash(data []byte) (SlotHash, error) {
	var s SlotHash
	if len(data) < SlotHashSize {
		return s, InvalidAccountData
	}
	s.Slot = binary.LittleEndian.Uint64(data)
	copy(s.Hash[:], data[8:SlotHashSize])
	return s, nil
}
