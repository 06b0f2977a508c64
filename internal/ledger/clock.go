package ledger

import (
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/luckycoin-meme/luckycoin/internal/protocol"
)

// Clock is the ledger's notion of slot, slot hash and wall time. The slot
// beacon advances it; the executor reads it once per transaction.
type Clock struct {
	mu   sync.RWMutex
	slot protocol.SlotHash
	now  func() time.Time
}

// NewClock creates a clock at slot 0 with a hash derived from genesis.
func NewClock(genesis []byte, now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{
		slot: protocol.SlotHash{Hash: chainhash.HashH(genesis)},
		now:  now,
	}
}

// Advance moves the clock to a newer slot. Stale or repeated slots are
// ignored and reported as false.
func (c *Clock) Advance(next protocol.SlotHash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if next.Slot <= c.slot.Slot {
		return false
	}
	c.slot = next
	return true
}

// SlotHash returns the latest slot and its hash.
func (c *Clock) SlotHash() protocol.SlotHash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.slot
}

// Env snapshots the environment for one transaction.
func (c *Clock) Env() protocol.Env {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return protocol.Env{Now: c.now().Unix(), Slot: c.slot.Slot}
}
