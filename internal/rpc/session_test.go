package rpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/luckycoin-meme/luckycoin/internal/protocol"
	"github.com/luckycoin-meme/luckycoin/internal/state"
	"github.com/luckycoin-meme/luckycoin/pkg/log"
)

// pair starts a session on one end of a pipe and a client on the other
func pair(t *testing.T, handler MessageHandler) (*Session, *Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	server, client := net.Pipe()
	session := NewSession("s-1", server, log.Discard(), 5*time.Second, 5*time.Second)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = session.Start(ctx, handler)
	}()

	c := NewClient(client, log.Discard())
	t.Cleanup(func() {
		c.Close()
		cancel()
		<-done
	})
	return session, c
}

func TestSessionRoundTrip(t *testing.T) {
	cfg := &state.Config{BaseRewardRate: 32, LastResetAt: 60, MinDifficulty: 1}

	handler := MessageHandlerFunc(func(ctx context.Context, s *Session, msg *Message) error {
		switch msg.Method {
		case MethodGetConfig:
			return s.SendResponse(msg.ID, NewConfigResponse(cfg))
		case MethodLogin:
			addr, err := ParseAddressParam(msg.Params, 0)
			if err != nil {
				return s.SendError(msg.ID, ErrorInvalidParams, err.Error())
			}
			s.SetAuthority(addr)
			return s.SendResponse(msg.ID, true)
		default:
			return s.SendError(msg.ID, ErrorMethodNotFound, "Method not found")
		}
	})
	session, client := pair(t, handler)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := client.GetConfig(ctx)
	if err != nil {
		t.Fatalf("GetConfig() error = %v", err)
	}
	if got.BaseRewardRate != 32 || got.EpochEndsAt != cfg.EpochEndsAt() {
		t.Errorf("GetConfig() = %+v", got)
	}

	authority := protocol.Address{9}
	if err := client.Login(ctx, authority); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if a, ok := session.Authority(); !ok || a != authority {
		t.Errorf("Authority() = %s, %v", a, ok)
	}

	_, err = client.Call(ctx, "ledger.unknown", nil)
	var rpcErr *Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != ErrorMethodNotFound {
		t.Errorf("Call() error = %v, want method not found", err)
	}
}

func TestSessionNotification(t *testing.T) {
	handler := MessageHandlerFunc(func(ctx context.Context, s *Session, msg *Message) error {
		if err := s.SendResponse(msg.ID, true); err != nil {
			return err
		}
		return s.SendNotification(NotifyResult, []any{&ResultNotification{TxID: "aa", Status: "committed", Instruction: -1}})
	})
	_, client := pair(t, handler)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Call(ctx, MethodHealth, nil); err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	select {
	case msg := <-client.Notifications():
		n, err := ParseResultNotification(msg)
		if err != nil {
			t.Fatalf("ParseResultNotification() error = %v", err)
		}
		if n.TxID != "aa" || n.Instruction != -1 {
			t.Errorf("notification = %+v", n)
		}
	case <-ctx.Done():
		t.Fatal("no notification received")
	}
}

func TestSessionClosed(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	s := NewSession("s-2", server, log.Discard(), time.Second, time.Second)
	s.Close()
	s.Close()

	if err := s.SendResponse(1, true); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("SendResponse() error = %v, want %v", err, ErrSessionClosed)
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done() not closed")
	}
}

func TestClientCallAfterClose(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	c := NewClient(client, log.Discard())
	c.Close()

	if _, err := c.Call(context.Background(), MethodHealth, nil); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Call() error = %v, want %v", err, ErrClientClosed)
	}
}
