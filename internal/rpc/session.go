package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/luckycoin-meme/luckycoin/internal/ledger"
	"github.com/luckycoin-meme/luckycoin/internal/protocol"
	"github.com/luckycoin-meme/luckycoin/pkg/log"
)

// MaxLineBytes bounds a single request line
const MaxLineBytes = 2*ledger.MaxTransactionBytes + 1024

// ErrSessionClosed is returned when sending on a closed session
var ErrSessionClosed = errors.New("session closed")

// ErrOutboundFull is returned when the client is not draining responses
var ErrOutboundFull = errors.New("outbound channel full")

// Session represents a connected miner
type Session struct {
	id     string
	conn   net.Conn
	logger *log.Logger

	// Session state
	authority   protocol.Address
	identified  bool
	submissions int64
	lastSubmit  time.Time

	// Connection management
	readTimeout  time.Duration
	writeTimeout time.Duration

	// Channels for communication
	outbound chan []byte
	done     chan struct{}

	mu sync.RWMutex
}

// NewSession creates a new session over conn
func NewSession(id string, conn net.Conn, logger *log.Logger, readTimeout, writeTimeout time.Duration) *Session {
	return &Session{
		id:           id,
		conn:         conn,
		logger:       logger.WithFields("session_id", id, "remote_addr", conn.RemoteAddr().String()),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		outbound:     make(chan []byte, 100),
		done:         make(chan struct{}),
	}
}

// Start begins processing the session. It blocks until the client
// disconnects, the session is closed or ctx is cancelled.
func (s *Session) Start(ctx context.Context, handler MessageHandler) error {
	s.logger.LogConnection("connected", s.RemoteAddr())

	go s.writeLoop(ctx)

	return s.readLoop(ctx, handler)
}

// readLoop handles incoming messages from the client
func (s *Session) readLoop(ctx context.Context, handler MessageHandler) error {
	defer s.Close()

	buf := GetBuffer()
	defer PutBuffer(buf)

	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(*buf, MaxLineBytes)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			s.logger.WithError(err).Error("failed to set read deadline")
			return err
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				s.logger.WithError(err).Warn("read failed")
				return err
			}
			s.logger.Info("client disconnected")
			return nil
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		s.logger.LogRPCMessage("received", string(line))

		msg := GetMessage()
		if err := json.Unmarshal(line, msg); err != nil {
			PutMessage(msg)
			s.logger.WithError(err).Warn("failed to parse message")
			if sendErr := s.SendError(nil, ErrorParseError, "Parse error"); sendErr != nil {
				s.logger.WithError(sendErr).Error("failed to send parse error")
			}
			continue
		}

		if !msg.IsRequest() {
			if sendErr := s.SendError(msg.ID, ErrorInvalidRequest, "Invalid request"); sendErr != nil {
				s.logger.WithError(sendErr).Error("failed to send invalid request")
			}
			PutMessage(msg)
			continue
		}

		if err := handler.HandleMessage(ctx, s, msg); err != nil {
			s.logger.WithError(err).Error("failed to handle message")
		}
		PutMessage(msg)
	}
}

// writeLoop handles outbound messages to the client
func (s *Session) writeLoop(ctx context.Context) {
	defer func() {
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Error("failed to close connection", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case data := <-s.outbound:
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
				s.logger.WithError(err).Error("failed to set write deadline")
				return
			}

			frame := getFrame()
			frame.Write(data)
			frame.WriteByte('\n')
			_, err := s.conn.Write(frame.Bytes())
			putFrame(frame)
			if err != nil {
				s.logger.WithError(err).Warn("failed to write message")
				return
			}

			s.logger.LogRPCMessage("sent", string(data))
		}
	}
}

// SendMessage queues a message for the client
func (s *Session) SendMessage(msg *Message) error {
	data, err := MarshalMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.outbound <- data:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrOutboundFull
	}
}

// SendResponse sends a response message
func (s *Session) SendResponse(id any, result any) error {
	return s.SendMessage(NewResponse(id, result))
}

// SendError sends an error response
func (s *Session) SendError(id any, code int, message string) error {
	return s.SendMessage(NewErrorResponse(id, code, message))
}

// SendNotification sends a notification message
func (s *Session) SendNotification(method string, params []any) error {
	return s.SendMessage(NewNotification(method, params))
}

// Close closes the session
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return
	default:
		close(s.done)
		s.logger.LogConnection("disconnected", s.RemoteAddr())
	}
}

// Done is closed when the session ends
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ID returns the unique session identifier.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the remote address of the client connection.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Authority returns the miner authority bound by ledger.login.
func (s *Session) Authority() (protocol.Address, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authority, s.identified
}

// SetAuthority binds the session to a miner authority.
func (s *Session) SetAuthority(authority protocol.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authority = authority
	s.identified = true
}

// Logger returns the session's logger.
func (s *Session) Logger() *log.Logger {
	return s.logger
}

// RecordSubmission counts an accepted submission
func (s *Session) RecordSubmission(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions++
	s.lastSubmit = at
}

// Submissions returns the number of accepted submissions and the time of
// the latest one
func (s *Session) Submissions() (int64, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.submissions, s.lastSubmit
}

// MessageHandler handles requests read from a session. msg is returned to
// a pool once HandleMessage returns.
type MessageHandler interface {
	HandleMessage(ctx context.Context, session *Session, msg *Message) error
}

// MessageHandlerFunc adapts a function to MessageHandler
type MessageHandlerFunc func(ctx context.Context, session *Session, msg *Message) error

// HandleMessage calls f
func (f MessageHandlerFunc) HandleMessage(ctx context.Context, session *Session, msg *Message) error {
	return f(ctx, session, msg)
}
