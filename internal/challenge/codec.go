// Package challenge implements the proof-of-work codec: deriving a solution
// from a challenge and a nonce, checking it, scoring its difficulty and
// rotating the challenge after every accepted solution.
package challenge

import (
	"encoding/binary"
	"hash"
	"math/bits"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/crypto/sha3"
)

// DigestSize is the length of a solution digest.
const DigestSize = 16

// NonceSize is the length of a solution nonce.
const NonceSize = 8

// keccakPool reuses Keccak-256 states across the solver and verifier hot
// paths.
var keccakPool = sync.Pool{
	New: func() any {
		return sha3.NewLegacyKeccak256()
	},
}

func getKeccak() hash.Hash {
	h := keccakPool.Get().(hash.Hash)
	h.Reset()
	return h
}

func putKeccak(h hash.Hash) {
	keccakPool.Put(h)
}

// Keccak hashes the concatenation of parts with legacy Keccak-256.
func Keccak(parts ...[]byte) chainhash.Hash {
	h := getKeccak()
	defer putKeccak(h)

	for _, p := range parts {
		h.Write(p)
	}
	var out chainhash.Hash
	h.Sum(out[:0])
	return out
}

// Solution is a submitted proof of work.
type Solution struct {
	D [DigestSize]byte
	N [NonceSize]byte
}

// NewSolution builds the solution of challenge for nonce.
//
// Parameters:
//   - challenge: The proof's current challenge
//   - nonce: The candidate nonce
//
// Returns:
//   - Solution: The digest and little-endian nonce
func NewSolution(challenge chainhash.Hash, nonce uint64) Solution {
	var s Solution
	binary.LittleEndian.PutUint64(s.N[:], nonce)
	s.D = digest(challenge, s.N)
	return s
}

// FromBytes assembles a solution from raw digest and nonce arrays.
func FromBytes(d [DigestSize]byte, n [NonceSize]byte) Solution {
	return Solution{D: d, N: n}
}

func digest(challenge chainhash.Hash, nonce [NonceSize]byte) [DigestSize]byte {
	full := Keccak(challenge[:], nonce[:])
	var d [DigestSize]byte
	copy(d[:], full[:DigestSize])
	return d
}

// Nonce returns the nonce as an integer.
func (s Solution) Nonce() uint64 {
	return binary.LittleEndian.Uint64(s.N[:])
}

// IsValid reports whether the digest was derived from challenge and the nonce.
func (s Solution) IsValid(challenge chainhash.Hash) bool {
	return digest(challenge, s.N) == s.D
}

// Hash returns the solution hash that is scored and rotated into the next
// challenge.
func (s Solution) Hash() chainhash.Hash {
	return Keccak(s.D[:], s.N[:])
}

// Difficulty scores a hash by its number of leading zero bits.
//
// Parameters:
//   - h: The solution hash, read as a big-endian bit string
//
// Returns:
//   - uint64: Leading zero bits, 256 for the zero hash
func Difficulty(h chainhash.Hash) uint64 {
	var count uint64
	for _, b := range h {
		if b != 0 {
			return count + uint64(bits.LeadingZeros8(b))
		}
		count += 8
	}
	return count
}

// Verify checks s against challenge and returns its hash and difficulty.
func Verify(challenge chainhash.Hash, s Solution) (chainhash.Hash, uint64, bool) {
	if !s.IsValid(challenge) {
		return chainhash.Hash{}, 0, false
	}
	h := s.Hash()
	return h, Difficulty(h), true
}

// Seed derives the first challenge of a proof from its authority and the
// current slot hash entry.
func Seed(authority []byte, slotHash []byte) chainhash.Hash {
	return Keccak(authority, slotHash)
}

// Rotate derives the next challenge from the accepted solution hash and the
// current slot hash entry.
func Rotate(solutionHash chainhash.Hash, slotHash []byte) chainhash.Hash {
	return Keccak(solutionHash[:], slotHash)
}
