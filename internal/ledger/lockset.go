package ledger

import (
	"slices"
	"sync"

	"github.com/luckycoin-meme/luckycoin/internal/protocol"
)

const lockStripes = 256

// lockset serializes transactions whose account sets overlap. Addresses map
// onto a fixed set of striped RW locks, which are always taken in ascending
// stripe order so two transactions can never wait on each other.
type lockset struct {
	stripes [lockStripes]sync.RWMutex
}

type stripeLock struct {
	index int
	write bool
}

// held is the set of stripes one transaction owns.
type held struct {
	ls    *lockset
	locks []stripeLock
}

func stripeOf(addr protocol.Address) int {
	// Addresses are hashes or public keys, so any byte is uniform.
	return int(addr[0])
}

// acquire locks the stripes of writes exclusively and those of reads shared.
// A stripe that is both read and written is locked exclusively.
func (ls *lockset) acquire(writes, reads []protocol.Address) *held {
	modes := make(map[int]bool, len(writes)+len(reads))
	for _, addr := range reads {
		if _, ok := modes[stripeOf(addr)]; !ok {
			modes[stripeOf(addr)] = false
		}
	}
	for _, addr := range writes {
		modes[stripeOf(addr)] = true
	}

	h := &held{ls: ls, locks: make([]stripeLock, 0, len(modes))}
	for index, write := range modes {
		h.locks = append(h.locks, stripeLock{index: index, write: write})
	}
	slices.SortFunc(h.locks, func(a, b stripeLock) int { return a.index - b.index })

	for _, l := range h.locks {
		if l.write {
			ls.stripes[l.index].Lock()
		} else {
			ls.stripes[l.index].RLock()
		}
	}
	return h
}

func (h *held) release() {
	for i := len(h.locks) - 1; i >= 0; i-- {
		l := h.locks[i]
		if l.write {
			h.ls.stripes[l.index].Unlock()
		} else {
			h.ls.stripes[l.index].RUnlock()
		}
	}
}
