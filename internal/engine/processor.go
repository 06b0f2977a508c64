// Package engine is the reward program: it validates the accounts of each
// instruction, runs the proof lifecycle and the mining reward rules, and
// writes the resulting records back into the account views it was given.
// The engine holds no locks and performs no I/O; the ledger executor supplies
// atomicity and the per-record write serialization.
package engine

import (
	"log/slog"

	"github.com/luckycoin-meme/luckycoin/internal/protocol"
)

// Params configures a Processor.
type Params struct {
	// Initializer is the only identity allowed to run Initialize.
	Initializer protocol.Address
}

// DefaultParams returns the production parameters.
func DefaultParams() Params {
	return Params{Initializer: protocol.Known().Initializer}
}

// Result is the output of one instruction.
type Result struct {
	ReturnData []byte
	Mine       *protocol.MineEvent
	EpochReset *protocol.EpochResetEvent
}

// Processor dispatches instructions addressed to the reward program.
type Processor struct {
	params Params
	logger *slog.Logger
}

// NewProcessor returns a processor. A nil logger discards health logs.
func NewProcessor(params Params, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Processor{
		params: params,
		logger: logger.With("component", "engine"),
	}
}

type handler func(p *Processor, env protocol.Env, accounts []*protocol.AccountInfo, payload []byte) (Result, error)

var handlers = map[protocol.Tag]handler{
	protocol.TagClaim:      (*Processor).processClaim,
	protocol.TagClose:      (*Processor).processClose,
	protocol.TagMine:       (*Processor).processMine,
	protocol.TagOpen:       (*Processor).processOpen,
	protocol.TagReset:      (*Processor).processReset,
	protocol.TagStake:      (*Processor).processStake,
	protocol.TagUpdate:     (*Processor).processUpdate,
	protocol.TagUpgrade:    (*Processor).processUpgrade,
	protocol.TagHealth:     (*Processor).processHealth,
	protocol.TagInitialize: (*Processor).processInitialize,
}

// Process executes one instruction. On error the caller must discard every
// change made to accounts.
//
// Parameters:
//   - env: Ledger clock of the enclosing transaction
//   - programID: The program the instruction was addressed to
//   - accounts: Account views in instruction order
//   - data: Tag byte followed by the payload
//
// Returns:
//   - Result: Return data and decoded events
//   - error: A protocol.BoundaryError, a protocol.Code or protocol.ErrOverflow
func (p *Processor) Process(env protocol.Env, programID protocol.Address, accounts []*protocol.AccountInfo, data []byte) (Result, error) {
	if programID != protocol.Known().Program {
		return Result{}, protocol.IncorrectProgramId
	}
	tag, payload, err := protocol.SplitTag(data)
	if err != nil {
		return Result{}, err
	}
	h, ok := handlers[tag]
	if !ok {
		return Result{}, protocol.InvalidInstructionData
	}
	return h(p, env, accounts, payload)
}

// accountsN returns the first n accounts or NotEnoughAccountKeys.
func accountsN(accounts []*protocol.AccountInfo, n int) ([]*protocol.AccountInfo, error) {
	if len(accounts) < n {
		return nil, protocol.NotEnoughAccountKeys
	}
	return accounts[:n], nil
}
