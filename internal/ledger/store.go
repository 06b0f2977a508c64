// Package ledger is the host runtime the reward program executes on. It holds
// accounts, verifies signed transactions, hands account views to the program
// and commits a transaction's writes atomically.
package ledger

import (
	"bytes"
	"context"
	"sync"

	"github.com/luckycoin-meme/luckycoin/internal/protocol"
)

// Store persists accounts. Load returns a fresh copy of every requested
// account; addresses that were never written come back as empty
// system-owned accounts. Commit replaces the given accounts in one atomic
// step, and an account with no lamports and no data is deleted.
type Store interface {
	Load(ctx context.Context, addrs []protocol.Address) (map[protocol.Address]*protocol.AccountInfo, error)
	Commit(ctx context.Context, slot uint64, accounts []*protocol.AccountInfo) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[protocol.Address]*protocol.AccountInfo
	slot     uint64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[protocol.Address]*protocol.AccountInfo)}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, addrs []protocol.Address) (map[protocol.Address]*protocol.AccountInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[protocol.Address]*protocol.AccountInfo, len(addrs))
	for _, addr := range addrs {
		if acc, ok := s.accounts[addr]; ok {
			out[addr] = CloneAccount(acc)
			continue
		}
		out[addr] = EmptyAccount(addr)
	}
	return out, nil
}

// Commit implements Store.
func (s *MemoryStore) Commit(_ context.Context, slot uint64, accounts []*protocol.AccountInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, acc := range accounts {
		if IsDead(acc) {
			delete(s.accounts, acc.Key)
			continue
		}
		s.accounts[acc.Key] = CloneAccount(acc)
	}
	s.slot = max(s.slot, slot)
	return nil
}

// Len returns the number of live accounts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// EmptyAccount is the view of an address that holds nothing.
func EmptyAccount(addr protocol.Address) *protocol.AccountInfo {
	return &protocol.AccountInfo{Key: addr, Owner: protocol.Known().System}
}

// IsDead reports whether an account holds neither lamports nor data and can
// be dropped from storage.
func IsDead(acc *protocol.AccountInfo) bool {
	return acc.Lamports == 0 && len(acc.Data) == 0 && !acc.Executable
}

// CloneAccount deep-copies an account and clears its per-transaction flags.
func CloneAccount(acc *protocol.AccountInfo) *protocol.AccountInfo {
	c := *acc
	c.Data = bytes.Clone(acc.Data)
	c.IsSigner, c.IsWritable = false, false
	return &c
}
