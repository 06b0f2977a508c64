package protocol

import (
	"encoding/binary"
	"fmt"
)

// Tag is the leading byte of every engine instruction.
type Tag uint8

const (
	TagClaim      Tag = 0
	TagClose      Tag = 1
	TagMine       Tag = 2
	TagOpen       Tag = 3
	TagReset      Tag = 4
	TagStake      Tag = 5
	TagUpdate     Tag = 6
	TagUpgrade    Tag = 7
	TagHealth     Tag = 8
	TagInitialize Tag = 100
)

// String returns the lower-case instruction name.
func (t Tag) String() string {
	switch t {
	case TagClaim:
		return "claim"
	case TagClose:
		return "close"
	case TagMine:
		return "mine"
	case TagOpen:
		return "open"
	case TagReset:
		return "reset"
	case TagStake:
		return "stake"
	case TagUpdate:
		return "update"
	case TagUpgrade:
		return "upgrade"
	case TagHealth:
		return "health"
	case TagInitialize:
		return "initialize"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

// Known reports whether t is a defined instruction tag.
func (t Tag) Known() bool {
	return t <= TagHealth || t == TagInitialize
}

// AccountMeta names an account an instruction touches and how.
type AccountMeta struct {
	Address    Address `json:"address"`
	IsSigner   bool    `json:"is_signer"`
	IsWritable bool    `json:"is_writable"`
}

// Writable returns a writable account meta.
func Writable(addr Address, signer bool) AccountMeta {
	return AccountMeta{Address: addr, IsSigner: signer, IsWritable: true}
}

// Readonly returns a read-only account meta.
func Readonly(addr Address, signer bool) AccountMeta {
	return AccountMeta{Address: addr, IsSigner: signer}
}

// Instruction is one program invocation inside a transaction.
type Instruction struct {
	ProgramID Address       `json:"program_id"`
	Accounts  []AccountMeta `json:"accounts"`
	Data      []byte        `json:"data"`
}

// Payload sizes, excluding the tag byte.
const (
	AmountPayloadSize     = 8
	MinePayloadSize       = 24
	OpenPayloadSize       = 1
	InitializePayloadSize = BusCount + 4
)

// SplitTag separates the tag byte from the payload.
func SplitTag(data []byte) (Tag, []byte, error) {
	if len(data) == 0 {
		return 0, nil, InvalidInstructionData
	}
	tag := Tag(data[0])
	if !tag.Known() {
		return 0, nil, InvalidInstructionData
	}
	return tag, data[1:], nil
}

// EncodeAmount builds the payload of Claim, Stake and Upgrade.
func EncodeAmount(tag Tag, amount uint64) []byte {
	data := make([]byte, 1+AmountPayloadSize)
	data[0] = byte(tag)
	binary.LittleEndian.PutUint64(data[1:], amount)
	return data
}

// DecodeAmount parses a Claim, Stake or Upgrade payload.
func DecodeAmount(payload []byte) (uint64, error) {
	if len(payload) != AmountPayloadSize {
		return 0, InvalidInstructionData
	}
	return binary.LittleEndian.Uint64(payload), nil
}

// MineArgs is a submitted solution.
type MineArgs struct {
	Digest [16]byte
	Nonce  [8]byte
}

// Encode returns the tagged Mine payload.
func (m MineArgs) Encode() []byte {
	data := make([]byte, 1+MinePayloadSize)
	data[0] = byte(TagMine)
	copy(data[1:17], m.Digest[:])
	copy(data[17:], m.Nonce[:])
	return data
}

// DecodeMine parses a Mine payload.
func DecodeMine(payload []byte) (MineArgs, error) {
	var m MineArgs
	if len(payload) != MinePayloadSize {
		return m, InvalidInstructionData
	}
	copy(m.Digest[:], payload[:16])
	copy(m.Nonce[:], payload[16:])
	return m, nil
}

// DecodeOpen parses an Open payload and returns the proof bump.
func DecodeOpen(payload []byte) (uint8, error) {
	if len(payload) != OpenPayloadSize {
		return 0, InvalidInstructionData
	}
	return payload[0], nil
}

// DecodeEmpty checks that an argument-less instruction carries no payload.
func DecodeEmpty(payload []byte) error {
	if len(payload) != 0 {
		return InvalidInstructionData
	}
	return nil
}

// InitializeArgs carries the bumps of every singleton record.
type InitializeArgs struct {
	BusBumps     [BusCount]uint8
	ConfigBump   uint8
	MetadataBump uint8
	MintBump     uint8
	TreasuryBump uint8
}

// Encode returns the tagged Initialize payload.
func (a InitializeArgs) Encode() []byte {
	data := make([]byte, 0, 1+InitializePayloadSize)
	data = append(data, byte(TagInitialize))
	data = append(data, a.BusBumps[:]...)
	return append(data, a.ConfigBump, a.MetadataBump, a.MintBump, a.TreasuryBump)
}

// DecodeInitialize parses an Initialize payload.
func DecodeInitialize(payload []byte) (InitializeArgs, error) {
	var a InitializeArgs
	if len(payload) != InitializePayloadSize {
		return a, InvalidInstructionData
	}
	copy(a.BusBumps[:], payload[:BusCount])
	a.ConfigBump = payload[BusCount]
	a.MetadataBump = payload[BusCount+1]
	a.MintBump = payload[BusCount+2]
	a.TreasuryBump = payload[BusCount+3]
	return a, nil
}
