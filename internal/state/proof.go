package state

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/luckycoin-meme/luckycoin/internal/protocol"
)

// Proof is the per-participant mining record. Authority may stake, claim,
// update and close it; Miner may submit solutions against it. Balance is the
// unclaimed reward and doubles as stake.
type Proof struct {
	Authority    protocol.Address `json:"authority"`
	Balance      uint64           `json:"balance"`
	Challenge    chainhash.Hash   `json:"challenge"`
	LastHash     chainhash.Hash   `json:"last_hash"`
	LastHashAt   int64            `json:"last_hash_at"`
	LastStakeAt  int64            `json:"last_stake_at"`
	Miner        protocol.Address `json:"miner"`
	TotalHashes  uint64           `json:"total_hashes"`
	TotalRewards uint64           `json:"total_rewards"`
}

// DecodeProof parses a proof record.
func DecodeProof(data []byte) (*Proof, error) {
	if err := checkLayout(data, DiscriminatorProof, ProofSize); err != nil {
		return nil, err
	}
	c := cursor{buf: data, off: HeaderSize}
	return &Proof{
		Authority:    c.addr(),
		Balance:      c.u64(),
		Challenge:    c.hash(),
		LastHash:     c.hash(),
		LastHashAt:   c.i64(),
		LastStakeAt:  c.i64(),
		Miner:        c.addr(),
		TotalHashes:  c.u64(),
		TotalRewards: c.u64(),
	}, nil
}

// Put writes the record into dst, which must be ProofSize bytes.
func (p *Proof) Put(dst []byte) {
	putHeader(dst, DiscriminatorProof)
	c := cursor{buf: dst, off: HeaderSize}
	c.putBytes(p.Authority[:])
	c.putU64(p.Balance)
	c.putBytes(p.Challenge[:])
	c.putBytes(p.LastHash[:])
	c.putI64(p.LastHashAt)
	c.putI64(p.LastStakeAt)
	c.putBytes(p.Miner[:])
	c.putU64(p.TotalHashes)
	c.putU64(p.TotalRewards)
}

// Encode returns the record bytes.
func (p *Proof) Encode() []byte {
	out := make([]byte, ProofSize)
	p.Put(out)
	return out
}
