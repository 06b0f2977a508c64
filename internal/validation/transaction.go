// Package validation checks transactions at the gateway before they are
// queued for the ledger. It rejects what the executor would certainly reject
// so miners get an answer without a round trip through Kafka.
package validation

import (
	"errors"
	"fmt"

	"github.com/luckycoin-meme/luckycoin/internal/auth"
	"github.com/luckycoin-meme/luckycoin/internal/challenge"
	"github.com/luckycoin-meme/luckycoin/internal/engine"
	"github.com/luckycoin-meme/luckycoin/internal/ledger"
	"github.com/luckycoin-meme/luckycoin/internal/protocol"
)

// Admission failures that are not protocol codes
var (
	ErrEmptyTransaction      = errors.New("empty transaction")
	ErrTooLarge              = errors.New("transaction too large")
	ErrProgramNotAllowed     = errors.New("program not allowed")
	ErrInstructionNotAllowed = errors.New("instruction not allowed")
	ErrUnknownBus            = errors.New("unknown bus")
)

// TransactionValidator handles admission of submitted transactions
type TransactionValidator struct {
	maxBytes int
	allowed  map[protocol.Tag]bool
}

// NewTransactionValidator creates a validator accepting transactions up to
// maxBytes. Initialize is never admitted through the gateway.
func NewTransactionValidator(maxBytes int) *TransactionValidator {
	if maxBytes <= 0 || maxBytes > ledger.MaxTransactionBytes {
		maxBytes = ledger.MaxTransactionBytes
	}
	allowed := make(map[protocol.Tag]bool)
	for _, tag := range []protocol.Tag{
		protocol.TagClaim, protocol.TagClose, protocol.TagMine, protocol.TagOpen, protocol.TagReset,
		protocol.TagStake, protocol.TagUpdate, protocol.TagUpgrade, protocol.TagHealth,
	} {
		allowed[tag] = true
	}
	return &TransactionValidator{maxBytes: maxBytes, allowed: allowed}
}

// ValidateTransaction decodes raw and performs the stateless checks.
//
// Parameters:
//   - raw: The transaction as produced by ledger.Transaction.Marshal
//
// Returns:
//   - *Admission: The decoded transaction and its mining instructions
//   - error: A malformed envelope, a bad signature or a disallowed instruction
func (v *TransactionValidator) ValidateTransaction(raw []byte) (*Admission, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyTransaction
	}
	if len(raw) > v.maxBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(raw), v.maxBytes)
	}

	tx, err := ledger.UnmarshalTransaction(raw)
	if err != nil {
		return nil, err
	}
	if err := tx.Verify(); err != nil {
		return nil, err
	}
	if len(tx.Signers) == 0 {
		return nil, fmt.Errorf("%w: no signers", ledger.ErrMalformedTransaction)
	}

	adm := &Admission{Tx: tx, ID: tx.ID()}
	if err := v.validateInstructions(adm); err != nil {
		return nil, err
	}
	return adm, nil
}

// validateInstructions checks every instruction's program and tag, and the
// account layout and auth marker of Mine instructions
func (v *TransactionValidator) validateInstructions(adm *Admission) error {
	k := protocol.Known()
	for i, ix := range adm.Tx.Instructions {
		switch ix.ProgramID {
		case k.Noop:
			continue
		case k.Program:
		default:
			return fmt.Errorf("%w: instruction %d calls %s", ErrProgramNotAllowed, i, ix.ProgramID)
		}

		tag, payload, err := protocol.SplitTag(ix.Data)
		if err != nil {
			return &ledger.InstructionError{Index: i, Err: err}
		}
		if !v.allowed[tag] {
			return fmt.Errorf("%w: %s", ErrInstructionNotAllowed, tag)
		}
		adm.Tags = append(adm.Tags, tag)

		if tag != protocol.TagMine {
			continue
		}
		sub, err := mineSubmission(i, ix, payload)
		if err != nil {
			return &ledger.InstructionError{Index: i, Err: err}
		}
		if err := auth.Authenticate(auth.Encode(adm.Tx.Instructions, uint16(i)), sub.Proof); err != nil {
			return &ledger.InstructionError{Index: i, Err: err}
		}
		adm.Mines = append(adm.Mines, sub)
	}
	return nil
}

func mineSubmission(index int, ix protocol.Instruction, payload []byte) (MineSubmission, error) {
	args, err := protocol.DecodeMine(payload)
	if err != nil {
		return MineSubmission{}, err
	}
	if len(ix.Accounts) < 6 {
		return MineSubmission{}, protocol.NotEnoughAccountKeys
	}
	bus := ix.Accounts[1].Address
	if !protocol.Known().IsBus(bus) {
		return MineSubmission{}, fmt.Errorf("%w: %s", ErrUnknownBus, bus)
	}
	return MineSubmission{
		Index:  index,
		Signer: ix.Accounts[0].Address,
		Bus:    bus,
		Proof:  ix.Accounts[3].Address,
		Args:   args,
	}, nil
}

// ValidateSolution checks a submission against a snapshot of its proof and
// the config, in the order the executor checks them. The answer is only as
// fresh as the snapshot.
//
// Parameters:
//   - sub: The Mine instruction to check
//   - snap: Proof, config and the current ledger time
//
// Returns:
//   - uint64: The solution's difficulty
//   - error: A protocol code matching what the executor would return
func (v *TransactionValidator) ValidateSolution(sub MineSubmission, snap Snapshot) (uint64, error) {
	if snap.Proof == nil || snap.Config == nil {
		return 0, protocol.UninitializedAccount
	}
	if snap.Proof.Miner != sub.Signer {
		return 0, protocol.InvalidAccountData
	}
	if snap.Config.EpochEndsAt() <= snap.Now {
		return 0, protocol.NeedsReset
	}

	_, difficulty, ok := challenge.Verify(snap.Proof.Challenge, challenge.FromBytes(sub.Args.Digest, sub.Args.Nonce))
	if !ok {
		return 0, protocol.HashInvalid
	}
	if snap.Now < engine.TargetTime(snap.Proof.LastHashAt)-protocol.Tolerance {
		return difficulty, protocol.Spam
	}
	if difficulty < snap.Config.MinDifficulty {
		return difficulty, protocol.HashTooEasy
	}
	return difficulty, nil
}
