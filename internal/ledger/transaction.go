package ledger

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/luckycoin-meme/luckycoin/internal/protocol"
)

// Transaction limits.
const (
	MaxInstructions     = 32
	MaxAccountsPerIx    = 32
	MaxInstructionData  = 1024
	MaxSigners          = 8
	MaxTransactionBytes = 16 * 1024

	// wire encoding version; the varint rules do not depend on it
	pver = 0
)

var (
	// ErrMalformedTransaction is returned for envelopes that do not decode
	// or exceed the limits.
	ErrMalformedTransaction = errors.New("malformed transaction")
	// ErrSignatureInvalid is returned when a signature does not verify.
	ErrSignatureInvalid = errors.New("signature verification failed")
	// ErrMissingSignature is returned when an instruction marks an account
	// as signer that did not sign the transaction.
	ErrMissingSignature = errors.New("missing signature")
)

// Transaction is a signed, ordered list of instructions executed atomically.
// Nonce distinguishes otherwise identical transactions.
type Transaction struct {
	Nonce        uint64
	Instructions []protocol.Instruction
	Signers      []protocol.Address
	Signatures   [][schnorr.SignatureSize]byte
}

// NewTransaction builds an unsigned transaction. The signer list is every
// account an instruction marks as signer, in first-seen order.
func NewTransaction(nonce uint64, instructions ...protocol.Instruction) *Transaction {
	tx := &Transaction{Nonce: nonce, Instructions: instructions}
	seen := make(map[protocol.Address]bool)
	for _, ix := range instructions {
		for _, meta := range ix.Accounts {
			if meta.IsSigner && !seen[meta.Address] {
				seen[meta.Address] = true
				tx.Signers = append(tx.Signers, meta.Address)
			}
		}
	}
	return tx
}

// Message returns the signed portion of the transaction.
func (tx *Transaction) Message() []byte {
	var buf bytes.Buffer
	_ = tx.writeMessage(&buf)
	return buf.Bytes()
}

// ID is the hash the signers sign and the transaction is known by.
func (tx *Transaction) ID() chainhash.Hash {
	return chainhash.HashH(tx.Message())
}

// Sign adds the signature of kp. The key must be one of the signers.
func (tx *Transaction) Sign(kp *Keypair) error {
	idx := -1
	for i, s := range tx.Signers {
		if s == kp.Address() {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%s is not a signer of the transaction", kp.Address())
	}
	if len(tx.Signatures) != len(tx.Signers) {
		tx.Signatures = make([][schnorr.SignatureSize]byte, len(tx.Signers))
	}
	id := tx.ID()
	sig, err := kp.Sign(id[:])
	if err != nil {
		return err
	}
	tx.Signatures[idx] = sig
	return nil
}

// Verify checks the limits and every signature against the signer list, and
// that each account marked as signer is in that list.
func (tx *Transaction) Verify() error {
	if err := tx.checkLimits(); err != nil {
		return err
	}
	if len(tx.Signatures) != len(tx.Signers) {
		return fmt.Errorf("%w: %d signatures for %d signers", ErrMalformedTransaction, len(tx.Signatures), len(tx.Signers))
	}

	signed := make(map[protocol.Address]bool, len(tx.Signers))
	id := tx.ID()
	for i, signer := range tx.Signers {
		if !VerifySignature(signer, id[:], tx.Signatures[i][:]) {
			return fmt.Errorf("%w: signer %s", ErrSignatureInvalid, signer)
		}
		signed[signer] = true
	}
	for i, ix := range tx.Instructions {
		for _, meta := range ix.Accounts {
			if meta.IsSigner && !signed[meta.Address] {
				return fmt.Errorf("%w: instruction %d account %s", ErrMissingSignature, i, meta.Address)
			}
		}
	}
	return nil
}

func (tx *Transaction) checkLimits() error {
	switch {
	case len(tx.Instructions) == 0 || len(tx.Instructions) > MaxInstructions:
		return fmt.Errorf("%w: %d instructions", ErrMalformedTransaction, len(tx.Instructions))
	case len(tx.Signers) > MaxSigners:
		return fmt.Errorf("%w: %d signers", ErrMalformedTransaction, len(tx.Signers))
	}
	for i, ix := range tx.Instructions {
		if len(ix.Accounts) > MaxAccountsPerIx || len(ix.Data) > MaxInstructionData {
			return fmt.Errorf("%w: instruction %d too large", ErrMalformedTransaction, i)
		}
	}
	return nil
}

// Marshal encodes the transaction: the message followed by the signatures.
func (tx *Transaction) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.writeMessage(&buf); err != nil {
		return nil, err
	}
	if err := wire.WriteVarInt(&buf, pver, uint64(len(tx.Signatures))); err != nil {
		return nil, err
	}
	for _, sig := range tx.Signatures {
		buf.Write(sig[:])
	}
	return buf.Bytes(), nil
}

// UnmarshalTransaction decodes a transaction produced by Marshal.
func UnmarshalTransaction(data []byte) (*Transaction, error) {
	if len(data) > MaxTransactionBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedTransaction, len(data))
	}
	r := bytes.NewReader(data)
	tx, err := readMessage(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}

	n, err := readCount(r, MaxSigners)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}
	tx.Signatures = make([][schnorr.SignatureSize]byte, n)
	for i := range tx.Signatures {
		if _, err := io.ReadFull(r, tx.Signatures[i][:]); err != nil {
			return nil, fmt.Errorf("%w: signature %d: %v", ErrMalformedTransaction, i, err)
		}
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedTransaction, r.Len())
	}
	return tx, nil
}

func (tx *Transaction) writeMessage(w io.Writer) error {
	var nonce [8]byte
	binary.LittleEndian.PutUint64(nonce[:], tx.Nonce)
	if _, err := w.Write(nonce[:]); err != nil {
		return err
	}

	if err := wire.WriteVarInt(w, pver, uint64(len(tx.Signers))); err != nil {
		return err
	}
	for _, s := range tx.Signers {
		if _, err := w.Write(s[:]); err != nil {
			return err
		}
	}

	if err := wire.WriteVarInt(w, pver, uint64(len(tx.Instructions))); err != nil {
		return err
	}
	for _, ix := range tx.Instructions {
		if _, err := w.Write(ix.ProgramID[:]); err != nil {
			return err
		}
		if err := wire.WriteVarInt(w, pver, uint64(len(ix.Accounts))); err != nil {
			return err
		}
		for _, meta := range ix.Accounts {
			var flags [1]byte
			if meta.IsSigner {
				flags[0] |= 1
			}
			if meta.IsWritable {
				flags[0] |= 2
			}
			if _, err := w.Write(flags[:]); err != nil {
				return err
			}
			if _, err := w.Write(meta.Address[:]); err != nil {
				return err
			}
		}
		if err := wire.WriteVarBytes(w, pver, ix.Data); err != nil {
			return err
		}
	}
	return nil
}

func readMessage(r io.Reader) (*Transaction, error) {
	tx := &Transaction{}

	var nonce [8]byte
	if _, err := io.ReadFull(r, nonce[:]); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	tx.Nonce = binary.LittleEndian.Uint64(nonce[:])

	n, err := readCount(r, MaxSigners)
	if err != nil {
		return nil, fmt.Errorf("signers: %w", err)
	}
	tx.Signers = make([]protocol.Address, n)
	for i := range tx.Signers {
		if _, err := io.ReadFull(r, tx.Signers[i][:]); err != nil {
			return nil, fmt.Errorf("signer %d: %w", i, err)
		}
	}

	n, err = readCount(r, MaxInstructions)
	if err != nil {
		return nil, fmt.Errorf("instructions: %w", err)
	}
	tx.Instructions = make([]protocol.Instruction, n)
	for i := range tx.Instructions {
		ix := &tx.Instructions[i]
		if _, err := io.ReadFull(r, ix.ProgramID[:]); err != nil {
			return nil, fmt.Errorf("instruction %d program: %w", i, err)
		}
		m, err := readCount(r, MaxAccountsPerIx)
		if err != nil {
			return nil, fmt.Errorf("instruction %d accounts: %w", i, err)
		}
		ix.Accounts = make([]protocol.AccountMeta, m)
		for j := range ix.Accounts {
			var flags [1]byte
			if _, err := io.ReadFull(r, flags[:]); err != nil {
				return nil, fmt.Errorf("instruction %d account %d: %w", i, j, err)
			}
			if flags[0]&^3 != 0 {
				return nil, fmt.Errorf("instruction %d account %d: unknown flags %#x", i, j, flags[0])
			}
			ix.Accounts[j].IsSigner = flags[0]&1 != 0
			ix.Accounts[j].IsWritable = flags[0]&2 != 0
			if _, err := io.ReadFull(r, ix.Accounts[j].Address[:]); err != nil {
				return nil, fmt.Errorf("instruction %d account %d: %w", i, j, err)
			}
		}
		if ix.Data, err = wire.ReadVarBytes(r, pver, MaxInstructionData, "instruction data"); err != nil {
			return nil, fmt.Errorf("instruction %d data: %w", i, err)
		}
	}
	return tx, nil
}

func readCount(r io.Reader, limit int) (int, error) {
	n, err := wire.ReadVarInt(r, pver)
	if err != nil {
		return 0, err
	}
	if n > uint64(limit) {
		return 0, fmt.Errorf("count %d exceeds %d", n, limit)
	}
	return int(n), nil
}
