// Package auth binds a mining instruction to the one proof its transaction
// declares. Every mining transaction carries a no-op marker instruction whose
// data is the proof address; the first marker in the transaction's
// instruction table must name the proof being mutated.
//
// The instruction table grammar, all integers little-endian:
//
//	table   = count:u16 offset:u16{count} entry{count} current:u16
//	entry   = accounts:u16 account{accounts} program:[32] length:u16 data:[length]
//	account = flags:u8 key:[32]
package auth

import (
	"encoding/binary"

	"github.com/luckycoin-meme/luckycoin/internal/protocol"
)

const (
	accountMetaSize = 1 + protocol.AddressSize

	flagSigner   = 1 << 0
	flagWritable = 1 << 1
)

// Encode serializes instructions into the table a program reads through the
// instructions sysvar. current is the index of the executing instruction.
func Encode(instructions []protocol.Instruction, current uint16) []byte {
	headerSize := 2 + 2*len(instructions)
	size := headerSize + 2
	for _, ix := range instructions {
		size += 2 + len(ix.Accounts)*accountMetaSize + protocol.AddressSize + 2 + len(ix.Data)
	}

	out := make([]byte, size)
	binary.LittleEndian.PutUint16(out, uint16(len(instructions)))

	off := headerSize
	for i, ix := range instructions {
		binary.LittleEndian.PutUint16(out[2+2*i:], uint16(off))

		binary.LittleEndian.PutUint16(out[off:], uint16(len(ix.Accounts)))
		off += 2
		for _, meta := range ix.Accounts {
			var flags byte
			if meta.IsSigner {
				flags |= flagSigner
			}
			if meta.IsWritable {
				flags |= flagWritable
			}
			out[off] = flags
			copy(out[off+1:], meta.Address[:])
			off += accountMetaSize
		}
		off += copy(out[off:], ix.ProgramID[:])
		binary.LittleEndian.PutUint16(out[off:], uint16(len(ix.Data)))
		off += 2
		off += copy(out[off:], ix.Data)
	}
	binary.LittleEndian.PutUint16(out[off:], current)
	return out
}

// DeclaredProof returns the address carried by the first no-op marker in
// table. It fails with protocol.AuthFailed when no marker exists or the table
// is malformed.
func DeclaredProof(table []byte, noop protocol.Address) (protocol.Address, error) {
	r := reader{buf: table}
	count, ok := r.u16At(0)
	if !ok {
		return protocol.Address{}, protocol.AuthFailed
	}

	for i := range int(count) {
		off, ok := r.u16At(2 + 2*i)
		if !ok {
			return protocol.Address{}, protocol.AuthFailed
		}
		r.off = int(off)

		accounts, ok := r.u16()
		if !ok || !r.skip(int(accounts)*accountMetaSize) {
			return protocol.Address{}, protocol.AuthFailed
		}
		program, ok := r.address()
		if !ok {
			return protocol.Address{}, protocol.AuthFailed
		}
		if program != noop {
			continue
		}

		if !r.skip(2) {
			return protocol.Address{}, protocol.AuthFailed
		}
		declared, ok := r.address()
		if !ok {
			return protocol.Address{}, protocol.AuthFailed
		}
		return declared, nil
	}
	return protocol.Address{}, protocol.AuthFailed
}

// Authenticate checks that table declares proof.
func Authenticate(table []byte, proof protocol.Address) error {
	declared, err := DeclaredProof(table, protocol.Known().Noop)
	if err != nil {
		return err
	}
	if declared != proof {
		return protocol.AuthFailed
	}
	return nil
}

// reader is a bounds-checked cursor over the table.
type reader struct {
	buf []byte
	off int
}

func (r *reader) u16At(off int) (uint16, bool) {
	if off < 0 || off+2 > len(r.buf) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(r.buf[off:]), true
}

func (r *reader) u16() (uint16, bool) {
	v, ok := r.u16At(r.off)
	if ok {
		r.off += 2
	}
	return v, ok
}

func (r *reader) skip(n int) bool {
	if n < 0 || r.off+n > len(r.buf) {
		return false
	}
	r.off += n
	return true
}

func (r *reader) address() (protocol.Address, bool) {
	var a protocol.Address
	if r.off+protocol.AddressSize > len(r.buf) {
		return a, false
	}
	copy(a[:], r.buf[r.off:])
	r.off += protocol.AddressSize
	return a, true
}
