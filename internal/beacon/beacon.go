// Package beacon distributes slot hashes over ZMQ. The cranker publishes a
// new slot on a fixed interval and ledgerd advances its clock from the
// subscription.
package beacon

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	zmq "github.com/pebbe/zmq4"

	"github.com/luckycoin-meme/luckycoin/internal/protocol"
	svcerrors "github.com/luckycoin-meme/luckycoin/pkg/errors"
)

// TopicSlotHash is the ZMQ topic carrying slot hash frames
const TopicSlotHash = "hashslot"

// pollInterval bounds how long Listen waits before rechecking ctx
const pollInterval = 250 * time.Millisecond

// ErrMalformedFrame is returned for messages that are not a topic and a
// slot hash
var ErrMalformedFrame = errors.New("malformed beacon frame")

// Next derives the slot following prev. The hash chains the previous hash
// with the new slot number and the publisher's entropy.
func Next(prev protocol.SlotHash, entropy []byte) protocol.SlotHash {
	var slot [8]byte
	binary.LittleEndian.PutUint64(slot[:], prev.Slot+1)

	buf := make([]byte, 0, chainhash.HashSize+len(slot)+len(entropy))
	buf = append(buf, prev.Hash[:]...)
	buf = append(buf, slot[:]...)
	buf = append(buf, entropy...)
	return protocol.SlotHash{Slot: prev.Slot + 1, Hash: chainhash.DoubleHashH(buf)}
}

// Decode parses a received multipart message
func Decode(frames [][]byte) (protocol.SlotHash, error) {
	if len(frames) != 2 || string(frames[0]) != TopicSlotHash || len(frames[1]) != protocol.SlotHashSize {
		return protocol.SlotHash{}, fmt.Errorf("%w: %d parts", ErrMalformedFrame, len(frames))
	}
	return protocol.ParseSlotHash(frames[1])
}

// Publisher broadcasts slot hashes on a PUB socket
type Publisher struct {
	socket   *zmq.Socket
	endpoint string
	logger   *slog.Logger
	mu       sync.Mutex
}

// NewPublisher binds a PUB socket to endpoint
//
// Parameters:
//   - endpoint: ZMQ bind address, e.g. tcp://*:28400
//   - logger: Structured logger
//
// Returns:
//   - *Publisher: Bound publisher
//   - error: Socket creation or bind failure
func NewPublisher(endpoint string, logger *slog.Logger) (*Publisher, error) {
	socket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, svcerrors.Wrap(err, svcerrors.ErrorTypeBeacon, "beacon_socket", "failed to create ZMQ socket")
	}
	if err := socket.Bind(endpoint); err != nil {
		_ = socket.Close()
		return nil, svcerrors.Wrap(err, svcerrors.ErrorTypeBeacon, "beacon_bind", "failed to bind beacon endpoint").
			WithContext("endpoint", endpoint)
	}
	logger.Info("beacon publisher bound", "endpoint", endpoint)
	return &Publisher{socket: socket, endpoint: endpoint, logger: logger}, nil
}

// Publish sends one slot hash to every subscriber
func (p *Publisher) Publish(s protocol.SlotHash) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.socket.SendMessage(TopicSlotHash, s.Bytes()); err != nil {
		return svcerrors.Wrap(err, svcerrors.ErrorTypeBeacon, "beacon_publish", "failed to publish slot hash").
			WithContext("slot", s.Slot)
	}
	p.logger.Debug("published slot hash", "slot", s.Slot, "hash", s.Hash.String())
	return nil
}

// Close closes the socket
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.socket != nil {
		return p.socket.Close()
	}
	return nil
}

// Subscriber receives slot hashes on a SUB socket
type Subscriber struct {
	socket   *zmq.Socket
	endpoint string
	logger   *slog.Logger
}

// NewSubscriber creates a SUB socket subscribed to TopicSlotHash
func NewSubscriber(endpoint string, logger *slog.Logger) (*Subscriber, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, svcerrors.Wrap(err, svcerrors.ErrorTypeBeacon, "beacon_socket", "failed to create ZMQ socket")
	}
	if err := socket.SetSubscribe(TopicSlotHash); err != nil {
		_ = socket.Close()
		return nil, svcerrors.Wrap(err, svcerrors.ErrorTypeBeacon, "beacon_subscribe", "failed to subscribe").
			WithContext("topic", TopicSlotHash)
	}
	return &Subscriber{socket: socket, endpoint: endpoint, logger: logger}, nil
}

// Connect connects to the publisher. ZMQ reconnects on its own after
// publisher restarts.
func (s *Subscriber) Connect() error {
	if err := s.socket.Connect(s.endpoint); err != nil {
		return svcerrors.Wrap(err, svcerrors.ErrorTypeBeacon, "beacon_connect", "failed to connect to beacon").
			WithContext("endpoint", s.endpoint)
	}
	s.logger.Info("connected to beacon", "endpoint", s.endpoint)
	return nil
}

// Listen delivers slot hashes to handler until ctx is done. Malformed
// frames and handler errors are logged and skipped.
func (s *Subscriber) Listen(ctx context.Context, handler func(context.Context, protocol.SlotHash) error) error {
	poller := zmq.NewPoller()
	poller.Add(s.socket, zmq.POLLIN)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("beacon listener stopping")
			return ctx.Err()
		default:
		}

		polled, err := poller.Poll(pollInterval)
		if err != nil {
			if zmq.AsErrno(err) == zmq.ETERM {
				return err
			}
			s.logger.Warn("beacon poll failed", "error", err)
			continue
		}
		if len(polled) == 0 {
			continue
		}

		frames, err := s.socket.RecvMessageBytes(0)
		if err != nil {
			s.logger.Error("failed to receive beacon message", "error", err)
			continue
		}

		slot, err := Decode(frames)
		if err != nil {
			s.logger.Warn("dropping beacon message", "error", err)
			continue
		}
		if err := handler(ctx, slot); err != nil {
			s.logger.Error("failed to handle slot hash", "slot", slot.Slot, "error", err)
		}
	}
}

// Close closes the socket
func (s *Subscriber) Close() error {
	if s.socket != nil {
		return s.socket.Close()
	}
	return nil
}
