// Package token is the fungible token ledger the reward program moves value
// through: mints, token accounts and the metadata record of a mint. Records
// are owned by the token (or metadata) program and mutated in place on the
// account views handed to an instruction, so their writes commit or roll back
// with the enclosing transaction.
package token

import (
	"encoding/binary"
	"errors"
	"math/bits"

	"github.com/luckycoin-meme/luckycoin/internal/protocol"
)

var (
	ErrInsufficientTokens = errors.New("insufficient token balance")
	ErrOwnerMismatch      = errors.New("token account owner mismatch")
	ErrMintMismatch       = errors.New("token account mint mismatch")
	ErrAuthorityMismatch  = errors.New("mint authority mismatch")
	ErrNotInitialized     = errors.New("token record not initialized")
	ErrAlreadyInitialized = errors.New("token record already initialized")
)

type kind uint8

const (
	kindMint     kind = 1
	kindAccount  kind = 2
	kindMetadata kind = 3
)

const headerSize = 8

// Record sizes.
const (
	MintSize    = headerSize + protocol.AddressSize + 8
	AccountSize = headerSize + 2*protocol.AddressSize + 8
)

// Mint is the supply record of a token.
type Mint struct {
	Decimals  uint8            `json:"decimals"`
	Authority protocol.Address `json:"authority"`
	Supply    uint64           `json:"supply"`
}

// DecodeMint parses an initialized mint record.
func DecodeMint(data []byte) (*Mint, error) {
	if len(data) != MintSize || kind(data[0]) != kindMint {
		return nil, ErrNotInitialized
	}
	m := &Mint{Decimals: data[1]}
	copy(m.Authority[:], data[headerSize:])
	m.Supply = binary.LittleEndian.Uint64(data[headerSize+protocol.AddressSize:])
	return m, nil
}

// Put writes the record into dst, which must be MintSize bytes.
func (m *Mint) Put(dst []byte) {
	clear(dst[:headerSize])
	dst[0] = byte(kindMint)
	dst[1] = m.Decimals
	copy(dst[headerSize:], m.Authority[:])
	binary.LittleEndian.PutUint64(dst[headerSize+protocol.AddressSize:], m.Supply)
}

// Account is a token balance of one owner for one mint.
type Account struct {
	Mint   protocol.Address `json:"mint"`
	Owner  protocol.Address `json:"owner"`
	Amount uint64           `json:"amount"`
}

// DecodeAccount parses an initialized token account.
func DecodeAccount(data []byte) (*Account, error) {
	if len(data) != AccountSize || kind(data[0]) != kindAccount {
		return nil, ErrNotInitialized
	}
	a := &Account{}
	copy(a.Mint[:], data[headerSize:])
	copy(a.Owner[:], data[headerSize+protocol.AddressSize:])
	a.Amount = binary.LittleEndian.Uint64(data[headerSize+2*protocol.AddressSize:])
	return a, nil
}

// Put writes the record into dst, which must be AccountSize bytes.
func (a *Account) Put(dst []byte) {
	clear(dst[:headerSize])
	dst[0] = byte(kindAccount)
	copy(dst[headerSize:], a.Mint[:])
	copy(dst[headerSize+protocol.AddressSize:], a.Owner[:])
	binary.LittleEndian.PutUint64(dst[headerSize+2*protocol.AddressSize:], a.Amount)
}

// InitializeMint turns an allocated, zeroed account into a mint.
func InitializeMint(info *protocol.AccountInfo, authority protocol.Address, decimals uint8) error {
	if len(info.Data) != MintSize {
		return protocol.InvalidAccountData
	}
	if kind(info.Data[0]) == kindMint {
		return ErrAlreadyInitialized
	}
	(&Mint{Decimals: decimals, Authority: authority}).Put(info.Data)
	return nil
}

// InitializeAccount turns an allocated, zeroed account into a token account.
func InitializeAccount(info *protocol.AccountInfo, mint, owner protocol.Address) error {
	if len(info.Data) != AccountSize {
		return protocol.InvalidAccountData
	}
	if kind(info.Data[0]) == kindAccount {
		return ErrAlreadyInitialized
	}
	(&Account{Mint: mint, Owner: owner}).Put(info.Data)
	return nil
}

// Transfer moves amount from one token account to another. authority must own
// the source account; callers verify that authority signed or is a program
// derived address of the calling program.
func Transfer(from, to *protocol.AccountInfo, authority protocol.Address, amount uint64) error {
	src, err := DecodeAccount(from.Data)
	if err != nil {
		return err
	}
	dst, err := DecodeAccount(to.Data)
	if err != nil {
		return err
	}
	if src.Owner != authority {
		return ErrOwnerMismatch
	}
	if src.Mint != dst.Mint {
		return ErrMintMismatch
	}
	if src.Amount < amount {
		return ErrInsufficientTokens
	}
	if from.Key == to.Key {
		return nil
	}

	sum, carry := bits.Add64(dst.Amount, amount, 0)
	if carry != 0 {
		return protocol.ErrOverflow
	}
	src.Amount -= amount
	dst.Amount = sum
	src.Put(from.Data)
	dst.Put(to.Data)
	return nil
}

// MintTo issues amount new tokens into a token account of mint.
func MintTo(mint, to *protocol.AccountInfo, authority protocol.Address, amount uint64) error {
	m, err := DecodeMint(mint.Data)
	if err != nil {
		return err
	}
	dst, err := DecodeAccount(to.Data)
	if err != nil {
		return err
	}
	if m.Authority != authority {
		return ErrAuthorityMismatch
	}
	if dst.Mint != mint.Key {
		return ErrMintMismatch
	}

	supply, carry := bits.Add64(m.Supply, amount, 0)
	if carry != 0 {
		return protocol.ErrOverflow
	}
	balance, carry := bits.Add64(dst.Amount, amount, 0)
	if carry != 0 {
		return protocol.ErrOverflow
	}
	m.Supply = supply
	dst.Amount = balance
	m.Put(mint.Data)
	dst.Put(to.Data)
	return nil
}

// Burn destroys amount tokens held in a token account of mint.
func Burn(from, mint *protocol.AccountInfo, authority protocol.Address, amount uint64) error {
	m, err := DecodeMint(mint.Data)
	if err != nil {
		return err
	}
	src, err := DecodeAccount(from.Data)
	if err != nil {
		return err
	}
	if src.Owner != authority {
		return ErrOwnerMismatch
	}
	if src.Mint != mint.Key {
		return ErrMintMismatch
	}
	if src.Amount < amount || m.Supply < amount {
		return ErrInsufficientTokens
	}
	src.Amount -= amount
	m.Supply -= amount
	src.Put(from.Data)
	m.Put(mint.Data)
	return nil
}
