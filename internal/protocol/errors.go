package protocol

import (
	"errors"
	"fmt"
)

// Code is a domain error of the reward protocol. The numeric values are part
// of the wire contract.
type Code uint32

const (
	NeedsReset Code = iota
	HashInvalid
	HashTooEasy
	ClaimTooLarge
	ClockInvalid
	Spam
	MaxSupply
	AuthFailed
)

var codeMessages = [...]string{
	NeedsReset:    "The epoch has ended and needs reset",
	HashInvalid:   "The provided hash is invalid",
	HashTooEasy:   "The provided hash did not satisfy the minimum required difficulty",
	ClaimTooLarge: "The claim amount cannot be greater than the claimable rewards",
	ClockInvalid:  "The clock time is invalid",
	Spam:          "You are trying to submit too soon",
	MaxSupply:     "The maximum supply has been reached",
	AuthFailed:    "The proof does not match the expected account",
}

var codeNames = [...]string{
	NeedsReset:    "NeedsReset",
	HashInvalid:   "HashInvalid",
	HashTooEasy:   "HashTooEasy",
	ClaimTooLarge: "ClaimTooLarge",
	ClockInvalid:  "ClockInvalid",
	Spam:          "Spam",
	MaxSupply:     "MaxSupply",
	AuthFailed:    "AuthFailed",
}

// Error implements the error interface.
func (c Code) Error() string {
	if int(c) < len(codeMessages) {
		return codeMessages[c]
	}
	return fmt.Sprintf("unknown protocol error %d", uint32(c))
}

// Name returns the symbolic name of the code.
func (c Code) Name() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}
	return "Unknown"
}

// BoundaryError is a generic account or instruction validation failure
// raised before any domain logic runs.
type BoundaryError uint32

const (
	NotEnoughAccountKeys BoundaryError = iota + 1
	MissingRequiredSignature
	InvalidAccountOwner
	InvalidSeeds
	UninitializedAccount
	AccountAlreadyInitialized
	InvalidAccountData
	InvalidInstructionData
	IncorrectProgramId
	InsufficientFunds
)

var boundaryMessages = map[BoundaryError]string{
	NotEnoughAccountKeys:      "not enough account keys",
	MissingRequiredSignature:  "missing required signature",
	InvalidAccountOwner:       "invalid account owner",
	InvalidSeeds:              "invalid seeds for derived address",
	UninitializedAccount:      "account is not initialized",
	AccountAlreadyInitialized: "account is already initialized",
	InvalidAccountData:        "invalid account data",
	InvalidInstructionData:    "invalid instruction data",
	IncorrectProgramId:        "incorrect program id",
	InsufficientFunds:         "insufficient funds",
}

// Error implements the error interface.
func (e BoundaryError) Error() string {
	if msg, ok := boundaryMessages[e]; ok {
		return msg
	}
	return fmt.Sprintf("boundary error %d", uint32(e))
}

// ErrOverflow reports broken arithmetic in the reward or balance path. It is
// a defect, never a domain error.
var ErrOverflow = errors.New("arithmetic overflow")

// AsCode extracts a domain code from err.
func AsCode(err error) (Code, bool) {
	var c Code
	if errors.As(err, &c) {
		return c, true
	}
	return 0, false
}

// IsBoundary reports whether err is a boundary validation failure.
func IsBoundary(err error) bool {
	var b BoundaryError
	return errors.As(err, &b)
}
