package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// AddressSize is the length of an address in bytes.
const AddressSize = 32

const (
	maxSeeds      = 16
	maxSeedLength = 32
	derivedMarker = "ProgramDerivedAddress"
)

var (
	// ErrInvalidAddress is returned when text does not decode to 32 bytes.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrInvalidSeeds is returned when derivation seeds are too many or too long.
	ErrInvalidSeeds = errors.New("invalid derivation seeds")
	// ErrOnCurve is returned when a derivation candidate is a signable key.
	ErrOnCurve = errors.New("derived address is on curve")
	// ErrNoViableBump is returned when no bump yields an off-curve address.
	ErrNoViableBump = errors.New("no viable bump seed")
)

// Address identifies a record, a program or a participant. Participant
// addresses are BIP-340 x-only public keys; derived addresses are never
// valid public keys.
type Address [AddressSize]byte

// String returns the base58 form of the address.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// Bytes returns a copy of the address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressSize)
	copy(out, a[:])
	return out
}

// IsZero reports whether the address is all zeroes.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Compare orders addresses bytewise.
func (a Address) Compare(b Address) int {
	return bytes.Compare(a[:], b[:])
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress decodes a base58 address.
func ParseAddress(s string) (Address, error) {
	raw := base58.Decode(s)
	if len(raw) != AddressSize {
		return Address{}, fmt.Errorf("%w: %q decodes to %d bytes", ErrInvalidAddress, s, len(raw))
	}
	var a Address
	copy(a[:], raw)
	return a, nil
}

// AddressFromBytes copies a 32-byte slice into an Address.
func AddressFromBytes(b []byte) (Address, error) {
	if len(b) != AddressSize {
		return Address{}, fmt.Errorf("%w: %d bytes", ErrInvalidAddress, len(b))
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// MustParseAddress is ParseAddress for compile-time constants.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// CreateAddress hashes seeds and the owning program into an address. It
// fails with ErrOnCurve when the result could be signed for.
func CreateAddress(seeds [][]byte, program Address) (Address, error) {
	if len(seeds) > maxSeeds {
		return Address{}, ErrInvalidSeeds
	}

	var buf bytes.Buffer
	for _, seed := range seeds {
		if len(seed) > maxSeedLength {
			return Address{}, ErrInvalidSeeds
		}
		buf.Write(seed)
	}
	buf.Write(program[:])
	buf.WriteString(derivedMarker)

	digest := chainhash.HashB(buf.Bytes())
	if isOnCurve(digest) {
		return Address{}, ErrOnCurve
	}

	var a Address
	copy(a[:], digest)
	return a, nil
}

// DeriveAddress searches bumps from 255 down for the first off-curve address
// and returns it with the bump that produced it.
func DeriveAddress(seeds [][]byte, program Address) (Address, uint8, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateAddress(withBump, program)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return Address{}, 0, err
		}
	}
	return Address{}, 0, ErrNoViableBump
}

// isOnCurve reports whether b is a valid x-only secp256k1 public key.
func isOnCurve(b []byte) bool {
	_, err := schnorr.ParsePubKey(b)
	return err == nil
}

// ProofAddress derives the proof record address of an authority.
func ProofAddress(authority Address) (Address, uint8) {
	addr, bump, err := DeriveAddress([][]byte{SeedProof, authority[:]}, Known().Program)
	if err != nil {
		panic(fmt.Sprintf("derive proof address: %v", err))
	}
	return addr, bump
}

// AssociatedTokenAddress derives the canonical token account of owner for mint.
func AssociatedTokenAddress(owner, mint Address) Address {
	k := Known()
	addr, _, err := DeriveAddress([][]byte{owner[:], k.TokenProgram[:], mint[:]}, k.AssociatedTokenProgram)
	if err != nil {
		panic(fmt.Sprintf("derive token address: %v", err))
	}
	return addr
}

// KnownAddresses holds the fixed and derived addresses of the protocol.
type KnownAddresses struct {
	Program                Address
	Noop                   Address
	System                 Address
	TokenProgram           Address
	AssociatedTokenProgram Address
	MetadataProgram        Address
	SysvarClock            Address
	SysvarSlotHashes       Address
	SysvarInstructions     Address
	SysvarOwner            Address
	Initializer            Address
	LegacyMint             Address

	Bus            [BusCount]Address
	BusBumps       [BusCount]uint8
	Config         Address
	ConfigBump     uint8
	Metadata       Address
	MetadataBump   uint8
	Mint           Address
	MintBump       uint8
	Treasury       Address
	TreasuryBump   uint8
	TreasuryTokens Address
}

// IsBus reports whether addr is one of the bus addresses.
func (k *KnownAddresses) IsBus(addr Address) bool {
	return k.BusIndex(addr) >= 0
}

// BusIndex returns the id of the bus at addr, or -1.
func (k *KnownAddresses) BusIndex(addr Address) int {
	for i, bus := range k.Bus {
		if bus == addr {
			return i
		}
	}
	return -1
}

var known = sync.OnceValue(deriveKnown)

// Known returns the process-wide address table, derived on first use.
func Known() *KnownAddresses {
	return known()
}

func deriveKnown() *KnownAddresses {
	k := &KnownAddresses{
		Program:                MustParseAddress(programIDText),
		Noop:                   MustParseAddress(noopProgramIDText),
		System:                 MustParseAddress(systemProgramText),
		TokenProgram:           MustParseAddress(tokenProgramText),
		AssociatedTokenProgram: MustParseAddress(associatedTokenText),
		MetadataProgram:        MustParseAddress(metadataProgramText),
		SysvarClock:            MustParseAddress(sysvarClockText),
		SysvarSlotHashes:       MustParseAddress(sysvarSlotHashesText),
		SysvarInstructions:     MustParseAddress(sysvarInstructionsText),
		SysvarOwner:            MustParseAddress(sysvarOwnerText),
		Initializer:            MustParseAddress(initializerText),
		LegacyMint:             MustParseAddress(legacyMintText),
	}

	derive := func(seeds [][]byte, program Address) (Address, uint8) {
		addr, bump, err := DeriveAddress(seeds, program)
		if err != nil {
			panic(fmt.Sprintf("derive well-known address: %v", err))
		}
		return addr, bump
	}

	for i := range BusCount {
		k.Bus[i], k.BusBumps[i] = derive([][]byte{SeedBus, {byte(i)}}, k.Program)
	}
	k.Config, k.ConfigBump = derive([][]byte{SeedConfig}, k.Program)
	k.Mint, k.MintBump = derive([][]byte{SeedMint, MintNoise[:]}, k.Program)
	k.Treasury, k.TreasuryBump = derive([][]byte{SeedTreasury}, k.Program)
	k.Metadata, k.MetadataBump = derive([][]byte{SeedMetadata, k.MetadataProgram[:], k.Mint[:]}, k.MetadataProgram)
	k.TreasuryTokens, _ = derive([][]byte{k.Treasury[:], k.TokenProgram[:], k.Mint[:]}, k.AssociatedTokenProgram)

	return k
}
