package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/luckycoin-meme/luckycoin/internal/messaging"
	"github.com/luckycoin-meme/luckycoin/internal/protocol"
	"github.com/luckycoin-meme/luckycoin/internal/state"
)

// Methods served by gatewayd
const (
	MethodLogin             = "ledger.login"
	MethodGetProof          = "ledger.getProof"
	MethodGetConfig         = "ledger.getConfig"
	MethodGetAccount        = "ledger.getAccount"
	MethodSubmitTransaction = "ledger.submitTransaction"
	MethodRequestAirdrop    = "ledger.requestAirdrop"
	MethodGetStats          = "ledger.getStats"
	MethodGetResult         = "ledger.getResult"
	MethodHealth            = "ledger.health"

	// NotifyResult pushes a transaction outcome to the submitting session
	NotifyResult = "ledger.result"
)

// Message represents a JSON-RPC message
type Message struct {
	ID     any    `json:"id"`
	Method string `json:"method,omitempty"`
	Params []any  `json:"params,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// Error represents a JSON-RPC error response
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Error codes
const (
	ErrorOther          = 20
	ErrorRejected       = 21
	ErrorNotFound       = 22
	ErrorRateLimited    = 23
	ErrorUnauthorized   = 24
	ErrorUnavailable    = 25
	ErrorDisabled       = 26
	ErrorInvalidRequest = -32600
	ErrorMethodNotFound = -32601
	ErrorInvalidParams  = -32602
	ErrorParseError     = -32700
)

// ProofResponse is the result of ledger.getProof
type ProofResponse struct {
	Address      string `json:"address"`
	Authority    string `json:"authority"`
	Miner        string `json:"miner"`
	Balance      uint64 `json:"balance"`
	Challenge    string `json:"challenge"`
	LastHash     string `json:"last_hash"`
	LastHashAt   int64  `json:"last_hash_at"`
	LastStakeAt  int64  `json:"last_stake_at"`
	TotalHashes  uint64 `json:"total_hashes"`
	TotalRewards uint64 `json:"total_rewards"`
}

// NewProofResponse converts a proof record
func NewProofResponse(addr protocol.Address, p *state.Proof) *ProofResponse {
	return &ProofResponse{
		Address:      addr.String(),
		Authority:    p.Authority.String(),
		Miner:        p.Miner.String(),
		Balance:      p.Balance,
		Challenge:    hex.EncodeToString(p.Challenge[:]),
		LastHash:     hex.EncodeToString(p.LastHash[:]),
		LastHashAt:   p.LastHashAt,
		LastStakeAt:  p.LastStakeAt,
		TotalHashes:  p.TotalHashes,
		TotalRewards: p.TotalRewards,
	}
}

// ConfigResponse is the result of ledger.getConfig
type ConfigResponse struct {
	BaseRewardRate uint64 `json:"base_reward_rate"`
	LastResetAt    int64  `json:"last_reset_at"`
	EpochEndsAt    int64  `json:"epoch_ends_at"`
	MinDifficulty  uint64 `json:"min_difficulty"`
	TopBalance     uint64 `json:"top_balance"`
}

// NewConfigResponse converts the config record
func NewConfigResponse(c *state.Config) *ConfigResponse {
	return &ConfigResponse{
		BaseRewardRate: c.BaseRewardRate,
		LastResetAt:    c.LastResetAt,
		EpochEndsAt:    c.EpochEndsAt(),
		MinDifficulty:  c.MinDifficulty,
		TopBalance:     c.TopBalance,
	}
}

// AccountResponse is the result of ledger.getAccount
type AccountResponse struct {
	Address    string `json:"address"`
	Owner      string `json:"owner"`
	Lamports   uint64 `json:"lamports"`
	Data       string `json:"data"`
	Executable bool   `json:"executable"`
}

// NewAccountResponse converts an account
func NewAccountResponse(acc *protocol.AccountInfo) *AccountResponse {
	return &AccountResponse{
		Address:    acc.Key.String(),
		Owner:      acc.Owner.String(),
		Lamports:   acc.Lamports,
		Data:       hex.EncodeToString(acc.Data),
		Executable: acc.Executable,
	}
}

// SubmitResponse acknowledges a queued transaction
type SubmitResponse struct {
	TxID         string   `json:"tx_id"`
	Status       string   `json:"status"`
	Difficulties []uint64 `json:"difficulties,omitempty"`
}

// ResultNotification is the payload of ledger.result
type ResultNotification struct {
	TxID        string   `json:"tx_id"`
	Slot        uint64   `json:"slot"`
	Status      string   `json:"status"`
	Error       string   `json:"error,omitempty"`
	ErrorCode   string   `json:"error_code,omitempty"`
	Instruction int64    `json:"instruction"`
	ReturnData  []string `json:"return_data,omitempty"`
}

// NewResultNotification converts an execution result
func NewResultNotification(m *messaging.ResultMessage) *ResultNotification {
	n := &ResultNotification{
		TxID:        m.TxID,
		Slot:        m.Slot,
		Status:      m.Status,
		Error:       m.Error,
		ErrorCode:   m.ErrorCode,
		Instruction: m.Instruction,
	}
	for _, data := range m.ReturnData {
		n.ReturnData = append(n.ReturnData, hex.EncodeToString(data))
	}
	return n
}

// ParseMessage parses a JSON-RPC message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return &msg, nil
}

// MarshalMessage marshals a message to JSON bytes
func MarshalMessage(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

// NewRequest creates a new request message
func NewRequest(id any, method string, params []any) *Message {
	return &Message{ID: id, Method: method, Params: params}
}

// NewResponse creates a new response message
func NewResponse(id any, result any) *Message {
	return &Message{ID: id, Result: result}
}

// NewErrorResponse creates a new error response message
func NewErrorResponse(id any, code int, message string) *Message {
	return &Message{
		ID: id,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	}
}

// NewNotification creates a new notification message
func NewNotification(method string, params []any) *Message {
	return &Message{ID: nil, Method: method, Params: params}
}

// IsRequest returns true if the message is a request
func (m *Message) IsRequest() bool {
	return m.Method != "" && m.ID != nil
}

// IsResponse returns true if the message is a response
func (m *Message) IsResponse() bool {
	return m.Method == "" && m.ID != nil && (m.Result != nil || m.Error != nil)
}

// IsNotification returns true if the message is a notification
func (m *Message) IsNotification() bool {
	return m.Method != "" && m.ID == nil
}

// ParseAddressParam reads a base58 address at params[i]
func ParseAddressParam(params []any, i int) (protocol.Address, error) {
	if len(params) <= i {
		return protocol.Address{}, fmt.Errorf("insufficient parameters")
	}
	s, ok := params[i].(string)
	if !ok {
		return protocol.Address{}, fmt.Errorf("address must be string")
	}
	return protocol.ParseAddress(s)
}

// ParseSubmitRequest reads the hex-encoded transaction of
// ledger.submitTransaction
func ParseSubmitRequest(params []any) ([]byte, error) {
	if len(params) < 1 {
		return nil, fmt.Errorf("insufficient parameters")
	}
	s, ok := params[0].(string)
	if !ok {
		return nil, fmt.Errorf("transaction must be hex string")
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("transaction is not valid hex: %w", err)
	}
	return raw, nil
}

// AirdropRequest represents ledger.requestAirdrop parameters
type AirdropRequest struct {
	Address  protocol.Address
	Lamports uint64
}

// ParseAirdropRequest reads [address, lamports]
func ParseAirdropRequest(params []any) (*AirdropRequest, error) {
	addr, err := ParseAddressParam(params, 0)
	if err != nil {
		return nil, err
	}
	if len(params) < 2 {
		return nil, fmt.Errorf("insufficient parameters")
	}
	// JSON numbers decode as float64
	n, ok := params[1].(float64)
	if !ok || n <= 0 || n != math.Trunc(n) || n > 1<<53 {
		return nil, fmt.Errorf("lamports must be a positive integer")
	}
	return &AirdropRequest{Address: addr, Lamports: uint64(n)}, nil
}

// EncodeTransaction renders a marshalled transaction for
// ledger.submitTransaction
func EncodeTransaction(raw []byte) string {
	return hex.EncodeToString(raw)
}

// DecodeResult converts a response result into dst
func DecodeResult(msg *Message, dst any) error {
	if msg.Error != nil {
		return msg.Error
	}
	data, err := json.Marshal(msg.Result)
	if err != nil {
		return fmt.Errorf("failed to re-encode result: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}
