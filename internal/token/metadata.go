package token

import (
	"encoding/binary"

	"github.com/luckycoin-meme/luckycoin/internal/protocol"
)

// Metadata describes a mint for wallets and explorers.
type Metadata struct {
	Mint            protocol.Address `json:"mint"`
	UpdateAuthority protocol.Address `json:"update_authority"`
	Name            string           `json:"name"`
	Symbol          string           `json:"symbol"`
	URI             string           `json:"uri"`
}

// Size returns the encoded length of the record.
func (m *Metadata) Size() int {
	return headerSize + 2*protocol.AddressSize + 12 + len(m.Name) + len(m.Symbol) + len(m.URI)
}

// Encode returns the record bytes. Strings are u32 length prefixed.
func (m *Metadata) Encode() []byte {
	out := make([]byte, m.Size())
	out[0] = byte(kindMetadata)
	off := headerSize
	off += copy(out[off:], m.Mint[:])
	off += copy(out[off:], m.UpdateAuthority[:])
	for _, s := range []string{m.Name, m.Symbol, m.URI} {
		binary.LittleEndian.PutUint32(out[off:], uint32(len(s)))
		off += 4
		off += copy(out[off:], s)
	}
	return out
}

// DecodeMetadata parses a metadata record.
func DecodeMetadata(data []byte) (*Metadata, error) {
	if len(data) < headerSize+2*protocol.AddressSize+12 || kind(data[0]) != kindMetadata {
		return nil, ErrNotInitialized
	}
	m := &Metadata{}
	off := headerSize
	off += copy(m.Mint[:], data[off:])
	off += copy(m.UpdateAuthority[:], data[off:])

	var fields [3]string
	for i := range fields {
		if off+4 > len(data) {
			return nil, protocol.InvalidAccountData
		}
		n := int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		if n > len(data)-off {
			return nil, protocol.InvalidAccountData
		}
		fields[i] = string(data[off : off+n])
		off += n
	}
	m.Name, m.Symbol, m.URI = fields[0], fields[1], fields[2]
	return m, nil
}
