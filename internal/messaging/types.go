package messaging

import (
	"errors"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/luckycoin-meme/luckycoin/internal/ledger"
	"github.com/luckycoin-meme/luckycoin/internal/protocol"
)

// Result statuses
const (
	StatusCommitted = "committed"
	StatusRejected  = "rejected"
	StatusMalformed = "malformed"
	// StatusFailed means the ledger could not reach its store; nothing was
	// applied and the transaction may be resubmitted
	StatusFailed    = "failed"
)

// TransactionMessage carries a signed transaction to ledgerd
type TransactionMessage struct {
	TxID        string    // 1
	Raw         []byte    // 2, ledger.Transaction.Marshal output
	Source      string    // 3, submitting service
	RemoteAddr  string    // 4
	SessionID   string    // 5
	SubmittedAt time.Time // 6
}

// Marshal implements Message
func (m *TransactionMessage) Marshal() []byte {
	var e encoder
	e.string(1, m.TxID)
	e.bytes(2, m.Raw)
	e.string(3, m.Source)
	e.string(4, m.RemoteAddr)
	e.string(5, m.SessionID)
	e.time(6, m.SubmittedAt)
	return e.buf
}

var transactionSchema = schema{
	1: protowire.BytesType,
	2: protowire.BytesType,
	3: protowire.BytesType,
	4: protowire.BytesType,
	5: protowire.BytesType,
	6: protowire.VarintType,
}

// Unmarshal implements Message
func (m *TransactionMessage) Unmarshal(data []byte) error {
	*m = TransactionMessage{}
	return decode(data, transactionSchema, func(f field) {
		switch f.num {
		case 1:
			m.TxID = f.str()
		case 2:
			m.Raw = f.bytes()
		case 3:
			m.Source = f.str()
		case 4:
			m.RemoteAddr = f.str()
		case 5:
			m.SessionID = f.str()
		case 6:
			m.SubmittedAt = f.time()
		}
	})
}

// AirdropMessage asks ledgerd to credit lamports on a development network
type AirdropMessage struct {
	RequestID   string    // 1, reported back as the result's TxID
	Address     string    // 2
	Lamports    uint64    // 3
	SessionID   string    // 4
	RequestedAt time.Time // 5
}

// Marshal implements Message
func (m *AirdropMessage) Marshal() []byte {
	var e encoder
	e.string(1, m.RequestID)
	e.string(2, m.Address)
	e.uint(3, m.Lamports)
	e.string(4, m.SessionID)
	e.time(5, m.RequestedAt)
	return e.buf
}

var airdropSchema = schema{
	1: protowire.BytesType,
	2: protowire.BytesType,
	3: protowire.VarintType,
	4: protowire.BytesType,
	5: protowire.VarintType,
}

// Unmarshal implements Message
func (m *AirdropMessage) Unmarshal(data []byte) error {
	*m = AirdropMessage{}
	return decode(data, airdropSchema, func(f field) {
		switch f.num {
		case 1:
			m.RequestID = f.str()
		case 2:
			m.Address = f.str()
		case 3:
			m.Lamports = f.uint()
		case 4:
			m.SessionID = f.str()
		case 5:
			m.RequestedAt = f.time()
		}
	})
}

// ResultMessage reports the outcome of one transaction
type ResultMessage struct {
	TxID        string    // 1
	Slot        uint64    // 2
	Status      string    // 3
	Error       string    // 4
	ErrorCode   string    // 5, protocol code or boundary error name
	Instruction int64     // 6, failing instruction index, -1 when none
	ReturnData  [][]byte  // 7
	Written     []string  // 8
	SessionID   string    // 9
	LatencyMs   float64   // 10
	ProcessedAt time.Time // 11
}

// Marshal implements Message
func (m *ResultMessage) Marshal() []byte {
	var e encoder
	e.string(1, m.TxID)
	e.uint(2, m.Slot)
	e.string(3, m.Status)
	e.string(4, m.Error)
	e.string(5, m.ErrorCode)
	// shifted by one so that "no instruction" survives zero omission
	e.uint(6, uint64(m.Instruction+1))
	e.repeatedBytes(7, m.ReturnData)
	for _, addr := range m.Written {
		e.string(8, addr)
	}
	e.string(9, m.SessionID)
	e.double(10, m.LatencyMs)
	e.time(11, m.ProcessedAt)
	return e.buf
}

var resultSchema = schema{
	1:  protowire.BytesType,
	2:  protowire.VarintType,
	3:  protowire.BytesType,
	4:  protowire.BytesType,
	5:  protowire.BytesType,
	6:  protowire.VarintType,
	7:  protowire.BytesType,
	8:  protowire.BytesType,
	9:  protowire.BytesType,
	10: protowire.Fixed64Type,
	11: protowire.VarintType,
}

// Unmarshal implements Message
func (m *ResultMessage) Unmarshal(data []byte) error {
	*m = ResultMessage{Instruction: -1}
	return decode(data, resultSchema, func(f field) {
		switch f.num {
		case 1:
			m.TxID = f.str()
		case 2:
			m.Slot = f.uint()
		case 3:
			m.Status = f.str()
		case 4:
			m.Error = f.str()
		case 5:
			m.ErrorCode = f.str()
		case 6:
			m.Instruction = int64(f.uint()) - 1
		case 7:
			m.ReturnData = append(m.ReturnData, f.bytes())
		case 8:
			m.Written = append(m.Written, f.str())
		case 9:
			m.SessionID = f.str()
		case 10:
			m.LatencyMs = f.double()
		case 11:
			m.ProcessedAt = f.time()
		}
	})
}

// Committed reports whether the transaction was applied
func (m *ResultMessage) Committed() bool {
	return m.Status == StatusCommitted
}

// MineEventMessage reports one accepted solution
type MineEventMessage struct {
	TxID       string    // 1
	Slot       uint64    // 2
	Authority  string    // 3
	Proof      string    // 4
	Bus        int64     // 5, bus index, -1 when the address is not a bus
	Difficulty uint64    // 6
	Reward     uint64    // 7
	Timing     int64     // 8
	MinedAt    time.Time // 9
}

// Marshal implements Message
func (m *MineEventMessage) Marshal() []byte {
	var e encoder
	e.string(1, m.TxID)
	e.uint(2, m.Slot)
	e.string(3, m.Authority)
	e.string(4, m.Proof)
	e.sint(5, m.Bus+1)
	e.uint(6, m.Difficulty)
	e.uint(7, m.Reward)
	e.sint(8, m.Timing)
	e.time(9, m.MinedAt)
	return e.buf
}

var mineEventSchema = schema{
	1: protowire.BytesType,
	2: protowire.VarintType,
	3: protowire.BytesType,
	4: protowire.BytesType,
	5: protowire.VarintType,
	6: protowire.VarintType,
	7: protowire.VarintType,
	8: protowire.VarintType,
	9: protowire.VarintType,
}

// Unmarshal implements Message
func (m *MineEventMessage) Unmarshal(data []byte) error {
	*m = MineEventMessage{Bus: -1}
	return decode(data, mineEventSchema, func(f field) {
		switch f.num {
		case 1:
			m.TxID = f.str()
		case 2:
			m.Slot = f.uint()
		case 3:
			m.Authority = f.str()
		case 4:
			m.Proof = f.str()
		case 5:
			m.Bus = f.sint() - 1
		case 6:
			m.Difficulty = f.uint()
		case 7:
			m.Reward = f.uint()
		case 8:
			m.Timing = f.sint()
		case 9:
			m.MinedAt = f.time()
		}
	})
}

// EpochResetMessage reports an epoch rollover
type EpochResetMessage struct {
	TxID           string // 1
	Slot           uint64 // 2
	ResetAt        int64  // 3, unix seconds
	BaseRewardRate uint64 // 4
	MinDifficulty  uint64 // 5
	TopBalance     uint64 // 6
	Theoretical    uint64 // 7
	Minted         uint64 // 8
}

// Marshal implements Message
func (m *EpochResetMessage) Marshal() []byte {
	var e encoder
	e.string(1, m.TxID)
	e.uint(2, m.Slot)
	e.sint(3, m.ResetAt)
	e.uint(4, m.BaseRewardRate)
	e.uint(5, m.MinDifficulty)
	e.uint(6, m.TopBalance)
	e.uint(7, m.Theoretical)
	e.uint(8, m.Minted)
	return e.buf
}

var epochResetSchema = schema{
	1: protowire.BytesType,
	2: protowire.VarintType,
	3: protowire.VarintType,
	4: protowire.VarintType,
	5: protowire.VarintType,
	6: protowire.VarintType,
	7: protowire.VarintType,
	8: protowire.VarintType,
}

// Unmarshal implements Message
func (m *EpochResetMessage) Unmarshal(data []byte) error {
	*m = EpochResetMessage{}
	return decode(data, epochResetSchema, func(f field) {
		switch f.num {
		case 1:
			m.TxID = f.str()
		case 2:
			m.Slot = f.uint()
		case 3:
			m.ResetAt = f.sint()
		case 4:
			m.BaseRewardRate = f.uint()
		case 5:
			m.MinDifficulty = f.uint()
		case 6:
			m.TopBalance = f.uint()
		case 7:
			m.Theoretical = f.uint()
		case 8:
			m.Minted = f.uint()
		}
	})
}

// Event returns the protocol event carried by m
func (m *EpochResetMessage) Event() protocol.EpochResetEvent {
	return protocol.EpochResetEvent{
		ResetAt:        m.ResetAt,
		BaseRewardRate: m.BaseRewardRate,
		MinDifficulty:  m.MinDifficulty,
		TopBalance:     m.TopBalance,
		Theoretical:    m.Theoretical,
		Minted:         m.Minted,
	}
}

// NewResultMessage converts an execution receipt
func NewResultMessage(r *ledger.Receipt, sessionID string, latency time.Duration) *ResultMessage {
	msg := &ResultMessage{
		TxID:        r.TxID.String(),
		Slot:        r.Slot,
		Status:      StatusCommitted,
		Instruction: -1,
		ReturnData:  r.ReturnData,
		SessionID:   sessionID,
		LatencyMs:   float64(latency.Nanoseconds()) / 1e6,
		ProcessedAt: time.Now(),
	}
	for _, addr := range r.Written {
		msg.Written = append(msg.Written, addr.String())
	}
	if r.Err == nil {
		return msg
	}

	msg.Status = StatusRejected
	msg.Error = r.Err.Error()
	msg.ErrorCode = ErrorCode(r.Err)
	var ixErr *ledger.InstructionError
	if errors.As(r.Err, &ixErr) {
		msg.Instruction = int64(ixErr.Index)
	}
	msg.Written = nil
	return msg
}

// ErrorCode names the protocol failure behind err, or "" when err is not a
// protocol failure
func ErrorCode(err error) string {
	if code, ok := protocol.AsCode(err); ok {
		return code.Name()
	}
	var boundary protocol.BoundaryError
	if errors.As(err, &boundary) {
		return boundary.Error()
	}
	switch {
	case errors.Is(err, ledger.ErrSignatureInvalid):
		return "SignatureInvalid"
	case errors.Is(err, ledger.ErrMissingSignature):
		return "MissingSignature"
	case errors.Is(err, ledger.ErrMalformedTransaction):
		return "MalformedTransaction"
	}
	return ""
}

// NewMineEventMessages converts the solutions accepted in a receipt
func NewMineEventMessages(r *ledger.Receipt) []*MineEventMessage {
	out := make([]*MineEventMessage, 0, len(r.MineEvents))
	for _, ev := range r.MineEvents {
		out = append(out, &MineEventMessage{
			TxID:       r.TxID.String(),
			Slot:       r.Slot,
			Authority:  ev.Signer.String(),
			Proof:      ev.Proof.String(),
			Bus:        int64(protocol.Known().BusIndex(ev.Bus)),
			Difficulty: ev.Difficulty,
			Reward:     ev.Reward,
			Timing:     ev.Timing,
			MinedAt:    time.Unix(r.Time, 0).UTC(),
		})
	}
	return out
}

// NewEpochResetMessages converts the epoch rollovers in a receipt
func NewEpochResetMessages(r *ledger.Receipt) []*EpochResetMessage {
	out := make([]*EpochResetMessage, 0, len(r.EpochResets))
	for _, ev := range r.EpochResets {
		out = append(out, &EpochResetMessage{
			TxID:           r.TxID.String(),
			Slot:           r.Slot,
			ResetAt:        ev.ResetAt,
			BaseRewardRate: ev.BaseRewardRate,
			MinDifficulty:  ev.MinDifficulty,
			TopBalance:     ev.TopBalance,
			Theoretical:    ev.Theoretical,
			Minted:         ev.Minted,
		})
	}
	return out
}
