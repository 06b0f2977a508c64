package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luckycoin-meme/luckycoin/internal/protocol"
	svcerrors "github.com/luckycoin-meme/luckycoin/pkg/errors"
	"github.com/luckycoin-meme/luckycoin/pkg/log"
	"github.com/luckycoin-meme/luckycoin/pkg/retry"
)

// ErrClientClosed is returned by calls on a closed client
var ErrClientClosed = errors.New("client closed")

// Client is a gateway connection used by miners. Calls may be issued
// concurrently; responses are matched by request id.
type Client struct {
	conn   net.Conn
	logger *log.Logger

	nextID  atomic.Uint64
	pending map[uint64]chan *Message
	mu      sync.Mutex
	writeMu sync.Mutex

	notifications chan *Message
	done          chan struct{}
	closeOnce     sync.Once
	err           error
}

// Dial connects to a gateway, retrying transient failures.
//
// Parameters:
//   - ctx: Bounds the whole dial including retries
//   - addr: Gateway host:port
//   - logger: Client logger
//
// Returns:
//   - *Client: A connected client with its read loop running
//   - error: The last dial failure
func Dial(ctx context.Context, addr string, logger *log.Logger) (*Client, error) {
	var dialer net.Dialer
	conn, err := retry.DoWithResult(ctx, retry.NetworkConfig(), func(ctx context.Context) (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, svcerrors.Wrap(err, svcerrors.ErrorTypeNetwork, "gateway_dial", "failed to connect to gateway").
				WithContext("addr", addr)
		}
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return NewClient(conn, logger), nil
}

// NewClient wraps an established connection
func NewClient(conn net.Conn, logger *log.Logger) *Client {
	c := &Client{
		conn:          conn,
		logger:        logger.WithComponent("rpc_client").WithFields("gateway", conn.RemoteAddr().String()),
		pending:       make(map[uint64]chan *Message),
		notifications: make(chan *Message, 64),
		done:          make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Notifications delivers server pushes such as ledger.result. It is closed
// when the connection ends.
func (c *Client) Notifications() <-chan *Message {
	return c.notifications
}

// Done is closed when the connection ends
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the connection and fails outstanding calls
func (c *Client) Close() error {
	c.shutdown(ErrClientClosed)
	return nil
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		close(c.done)
		c.mu.Unlock()
		if cerr := c.conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			c.logger.WithError(cerr).Warn("failed to close connection")
		}
	})
}

func (c *Client) readLoop() {
	defer close(c.notifications)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 4096), MaxLineBytes)
	for scanner.Scan() {
		msg, err := ParseMessage(scanner.Bytes())
		if err != nil {
			c.logger.WithError(err).Warn("dropping unparseable message")
			continue
		}

		if msg.IsNotification() {
			select {
			case c.notifications <- msg:
			default:
				c.logger.Warn("notification buffer full, dropping", "method", msg.Method)
			}
			continue
		}

		id, ok := msg.ID.(float64)
		if !ok {
			c.logger.Warn("response without numeric id", "id", msg.ID)
			continue
		}
		c.mu.Lock()
		ch, found := c.pending[uint64(id)]
		delete(c.pending, uint64(id))
		c.mu.Unlock()
		if found {
			ch <- msg
		}
	}

	err := scanner.Err()
	if err == nil {
		err = ErrClientClosed
	}
	c.shutdown(err)
}

// Call sends a request and waits for its response. A response carrying an
// error is returned as *Error.
func (c *Client) Call(ctx context.Context, method string, params []any) (*Message, error) {
	id := c.nextID.Add(1)
	ch := make(chan *Message, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	data, err := MarshalMessage(NewRequest(id, method, params))
	if err != nil {
		return nil, err
	}
	if err := c.write(ctx, data); err != nil {
		return nil, err
	}

	select {
	case msg := <-ch:
		if msg.Error != nil {
			return msg, msg.Error
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.Err()
	}
}

func (c *Client) write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(30 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	frame := getFrame()
	defer putFrame(frame)
	frame.Write(data)
	frame.WriteByte('\n')
	if _, err := c.conn.Write(frame.Bytes()); err != nil {
		c.shutdown(err)
		return svcerrors.Wrap(err, svcerrors.ErrorTypeNetwork, "gateway_write", "failed to send request")
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, params []any, dst any) error {
	msg, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if dst == nil {
		return nil
	}
	return DecodeResult(msg, dst)
}

// Login binds the connection to authority so ledger.result notifications
// for its transactions are pushed here
func (c *Client) Login(ctx context.Context, authority protocol.Address) error {
	return c.call(ctx, MethodLogin, []any{authority.String()}, nil)
}

// GetProof fetches the proof owned by authority
func (c *Client) GetProof(ctx context.Context, authority protocol.Address) (*ProofResponse, error) {
	var out ProofResponse
	if err := c.call(ctx, MethodGetProof, []any{authority.String()}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetConfig fetches the program config
func (c *Client) GetConfig(ctx context.Context) (*ConfigResponse, error) {
	var out ConfigResponse
	if err := c.call(ctx, MethodGetConfig, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAccount fetches a raw account
func (c *Client) GetAccount(ctx context.Context, addr protocol.Address) (*AccountResponse, error) {
	var out AccountResponse
	if err := c.call(ctx, MethodGetAccount, []any{addr.String()}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitTransaction queues a marshalled transaction
func (c *Client) SubmitTransaction(ctx context.Context, raw []byte) (*SubmitResponse, error) {
	var out SubmitResponse
	if err := c.call(ctx, MethodSubmitTransaction, []any{EncodeTransaction(raw)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RequestAirdrop asks a development gateway to credit lamports to addr
func (c *Client) RequestAirdrop(ctx context.Context, addr protocol.Address, lamports uint64) (*SubmitResponse, error) {
	var out SubmitResponse
	if err := c.call(ctx, MethodRequestAirdrop, []any{addr.String(), lamports}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetStats fetches mining statistics into dst: the network summary, or the
// summary of authority when one is given
func (c *Client) GetStats(ctx context.Context, dst any, authority ...protocol.Address) error {
	var params []any
	if len(authority) > 0 {
		params = []any{authority[0].String()}
	}
	return c.call(ctx, MethodGetStats, params, dst)
}

// GetResult fetches the recorded outcome of a transaction or airdrop
func (c *Client) GetResult(ctx context.Context, txID string) (*ResultNotification, error) {
	var out ResultNotification
	if err := c.call(ctx, MethodGetResult, []any{txID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ParseResultNotification decodes the payload of a ledger.result push
func ParseResultNotification(msg *Message) (*ResultNotification, error) {
	if msg.Method != NotifyResult || len(msg.Params) != 1 {
		return nil, fmt.Errorf("not a %s notification", NotifyResult)
	}
	data, err := json.Marshal(msg.Params[0])
	if err != nil {
		return nil, err
	}
	var n ResultNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("failed to decode result notification: %w", err)
	}
	return &n, nil
}
