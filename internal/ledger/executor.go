package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/luckycoin-meme/luckycoin/internal/auth"
	"github.com/luckycoin-meme/luckycoin/internal/engine"
	"github.com/luckycoin-meme/luckycoin/internal/protocol"
)

// InstructionError reports which instruction of a transaction failed.
type InstructionError struct {
	Index int
	Err   error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("instruction %d: %v", e.Index, e.Err)
}

func (e *InstructionError) Unwrap() error {
	return e.Err
}

// MinedSolution is a MineEvent attributed to the accounts of the Mine
// instruction that produced it.
type MinedSolution struct {
	protocol.MineEvent
	Signer protocol.Address
	Bus    protocol.Address
	Proof  protocol.Address
}

// Receipt is the outcome of one transaction. Err is nil when every
// instruction succeeded and the writes were committed.
type Receipt struct {
	TxID        chainhash.Hash
	Slot        uint64
	Time        int64
	ReturnData  [][]byte
	MineEvents  []MinedSolution
	EpochResets []protocol.EpochResetEvent
	Written     []protocol.Address
	Err         error
}

// Succeeded reports whether the transaction was committed.
func (r *Receipt) Succeeded() bool {
	return r.Err == nil
}

// Executor runs transactions against a Store. Transactions with disjoint
// account sets run in parallel; overlapping ones serialize.
type Executor struct {
	store     Store
	clock     *Clock
	processor *engine.Processor
	locks     lockset
	logger    *slog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(store Store, clock *Clock, processor *engine.Processor, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{
		store:     store,
		clock:     clock,
		processor: processor,
		logger:    logger.With("component", "executor"),
	}
}

// Clock returns the executor's clock.
func (e *Executor) Clock() *Clock {
	return e.clock
}

// Execute verifies and runs tx.
//
// Parameters:
//   - ctx: Bounds the store calls
//   - tx: The signed transaction
//
// Returns:
//   - *Receipt: The outcome; a rejected transaction has Receipt.Err set and
//     left no trace in the store
//   - error: Store failures only
func (e *Executor) Execute(ctx context.Context, tx *Transaction) (*Receipt, error) {
	start := time.Now()
	receipt := &Receipt{TxID: tx.ID()}

	if err := tx.Verify(); err != nil {
		env := e.clock.Env()
		receipt.Slot, receipt.Time = env.Slot, env.Now
		receipt.Err = err
		return receipt, nil
	}

	writes, reads := accessSets(tx)
	held := e.locks.acquire(writes, reads)
	defer held.release()

	// The clock is read under the locks so a queued transaction sees the
	// time it actually runs at.
	env := e.clock.Env()
	slotHash := e.clock.SlotHash()
	receipt.Slot, receipt.Time = env.Slot, env.Now

	loaded, err := e.store.Load(ctx, slices.Concat(writes, reads))
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	views := e.views(tx, loaded)

	for i, ix := range tx.Instructions {
		infos := make([]*protocol.AccountInfo, len(ix.Accounts))
		for j, meta := range ix.Accounts {
			infos[j] = views[meta.Address]
		}
		if sysvar, ok := views[protocol.Known().SysvarInstructions]; ok {
			sysvar.Data = auth.Encode(tx.Instructions, uint16(i))
		}
		if sysvar, ok := views[protocol.Known().SysvarSlotHashes]; ok {
			sysvar.Data = slotHash.Bytes()
		}

		res, err := e.invoke(env, ix, infos)
		if err != nil {
			receipt.Err = &InstructionError{Index: i, Err: err}
			receipt.ReturnData, receipt.MineEvents, receipt.EpochResets = nil, nil, nil
			e.logger.Debug("transaction rejected",
				"tx_id", receipt.TxID.String(),
				"instruction", i,
				"error", err,
			)
			return receipt, nil
		}
		receipt.ReturnData = append(receipt.ReturnData, res.ReturnData)
		if res.Mine != nil {
			receipt.MineEvents = append(receipt.MineEvents, MinedSolution{
				MineEvent: *res.Mine,
				Signer:    ix.Accounts[0].Address,
				Bus:       ix.Accounts[1].Address,
				Proof:     ix.Accounts[3].Address,
			})
		}
		if res.EpochReset != nil {
			receipt.EpochResets = append(receipt.EpochResets, *res.EpochReset)
		}
	}

	commit := make([]*protocol.AccountInfo, 0, len(writes))
	for _, addr := range writes {
		commit = append(commit, views[addr])
		receipt.Written = append(receipt.Written, addr)
	}
	if err := e.store.Commit(ctx, env.Slot, commit); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	e.logger.Debug("transaction committed",
		"tx_id", receipt.TxID.String(),
		"slot", env.Slot,
		"instructions", len(tx.Instructions),
		"duration", time.Since(start),
	)
	return receipt, nil
}

// invoke dispatches one instruction to its program.
func (e *Executor) invoke(env protocol.Env, ix protocol.Instruction, infos []*protocol.AccountInfo) (engine.Result, error) {
	k := protocol.Known()
	switch ix.ProgramID {
	case k.Noop:
		return engine.Result{}, nil
	case k.Program:
		return e.processor.Process(env, ix.ProgramID, infos, ix.Data)
	default:
		return engine.Result{}, protocol.IncorrectProgramId
	}
}

// views builds one shared view per account. Flags are the union over every
// meta in the transaction. Sysvars are synthesized and never loaded.
func (e *Executor) views(tx *Transaction, loaded map[protocol.Address]*protocol.AccountInfo) map[protocol.Address]*protocol.AccountInfo {
	k := protocol.Known()
	views := make(map[protocol.Address]*protocol.AccountInfo, len(loaded)+2)
	for addr, acc := range loaded {
		views[addr] = acc
	}
	for _, ix := range tx.Instructions {
		for _, meta := range ix.Accounts {
			v, ok := views[meta.Address]
			if !ok {
				v = &protocol.AccountInfo{Key: meta.Address, Owner: k.SysvarOwner}
				views[meta.Address] = v
			}
			v.IsSigner = v.IsSigner || meta.IsSigner
			v.IsWritable = v.IsWritable || meta.IsWritable
		}
	}
	return views
}

// accessSets splits the accounts of tx into those some instruction writes
// and those only read. Sysvars are neither.
func accessSets(tx *Transaction) (writes, reads []protocol.Address) {
	writable := make(map[protocol.Address]bool)
	var order []protocol.Address
	for _, ix := range tx.Instructions {
		for _, meta := range ix.Accounts {
			if isSysvar(meta.Address) {
				continue
			}
			w, seen := writable[meta.Address]
			if !seen {
				order = append(order, meta.Address)
			}
			writable[meta.Address] = w || meta.IsWritable
		}
	}
	for _, addr := range order {
		if writable[addr] {
			writes = append(writes, addr)
		} else {
			reads = append(reads, addr)
		}
	}
	return writes, reads
}

func isSysvar(addr protocol.Address) bool {
	k := protocol.Known()
	return addr == k.SysvarSlotHashes || addr == k.SysvarInstructions || addr == k.SysvarClock
}

// ErrUnknownAccount is returned by Airdrop for addresses that cannot hold
// lamports.
var ErrUnknownAccount = errors.New("account cannot receive lamports")

// Airdrop credits lamports to addr outside of any transaction. It exists for
// development networks and genesis funding.
func (e *Executor) Airdrop(ctx context.Context, addr protocol.Address, lamports uint64) (uint64, error) {
	if isSysvar(addr) {
		return 0, ErrUnknownAccount
	}
	held := e.locks.acquire([]protocol.Address{addr}, nil)
	defer held.release()

	loaded, err := e.store.Load(ctx, []protocol.Address{addr})
	if err != nil {
		return 0, fmt.Errorf("load account: %w", err)
	}
	acc := loaded[addr]
	if acc.Lamports+lamports < acc.Lamports {
		return 0, protocol.ErrOverflow
	}
	acc.Lamports += lamports
	if err := e.store.Commit(ctx, e.clock.SlotHash().Slot, []*protocol.AccountInfo{acc}); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return acc.Lamports, nil
}

// Accounts reads accounts without locking. The result may interleave with
// concurrent commits of unrelated transactions.
func (e *Executor) Accounts(ctx context.Context, addrs ...protocol.Address) (map[protocol.Address]*protocol.AccountInfo, error) {
	return e.store.Load(ctx, addrs)
}
