// Package state holds the fixed binary layouts of the records owned by the
// reward program. Every record starts with an 8-byte header whose first byte
// is the record tag; fields follow little-endian in declaration order.
package state

import (
	"encoding/binary"

	"github.com/luckycoin-meme/luckycoin/internal/protocol"
)

// Discriminator is the leading tag byte of a record.
type Discriminator uint8

const (
	DiscriminatorBus      Discriminator = 100
	DiscriminatorConfig   Discriminator = 101
	DiscriminatorProof    Discriminator = 102
	DiscriminatorTreasury Discriminator = 103
)

// HeaderSize is the size of the tag header.
const HeaderSize = 8

// Record sizes including the header.
const (
	BusSize      = HeaderSize + 32
	ConfigSize   = HeaderSize + 32
	ProofSize    = HeaderSize + 176
	TreasurySize = HeaderSize
)

// Tag returns the discriminator of raw record data, or zero when data is
// shorter than the header.
func Tag(data []byte) Discriminator {
	if len(data) < HeaderSize {
		return 0
	}
	return Discriminator(data[0])
}

func checkLayout(data []byte, disc Discriminator, size int) error {
	if len(data) != size || Discriminator(data[0]) != disc {
		return protocol.InvalidAccountData
	}
	return nil
}

func putHeader(dst []byte, disc Discriminator) {
	clear(dst[:HeaderSize])
	dst[0] = byte(disc)
}

// cursor reads and writes consecutive little-endian fields.
type cursor struct {
	buf []byte
	off int
}

func (c *cursor) u64() uint64 {
	v := binary.LittleEndian.Uint64(c.buf[c.off:])
	c.off += 8
	return v
}

func (c *cursor) i64() int64 {
	return int64(c.u64())
}

func (c *cursor) addr() protocol.Address {
	var a protocol.Address
	copy(a[:], c.buf[c.off:c.off+protocol.AddressSize])
	c.off += protocol.AddressSize
	return a
}

func (c *cursor) hash() [32]byte {
	var h [32]byte
	copy(h[:], c.buf[c.off:c.off+32])
	c.off += 32
	return h
}

func (c *cursor) putU64(v uint64) {
	binary.LittleEndian.PutUint64(c.buf[c.off:], v)
	c.off += 8
}

func (c *cursor) putI64(v int64) {
	c.putU64(uint64(v))
}

func (c *cursor) putBytes(b []byte) {
	c.off += copy(c.buf[c.off:], b)
}
