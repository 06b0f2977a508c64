package ledger

import (
	"context"
	"fmt"

	"github.com/luckycoin-meme/luckycoin/internal/protocol"
	"github.com/luckycoin-meme/luckycoin/internal/token"
)

// Genesis describes the accounts a fresh ledger starts with.
type Genesis struct {
	// Initializer receives InitializerLamports to pay for the program
	// records it creates.
	Initializer         protocol.Address
	InitializerLamports uint64
	// LegacyAuthority is the mint authority of the legacy token.
	LegacyAuthority protocol.Address
}

// DefaultInitializerLamports covers Initialize with a wide margin.
const DefaultInitializerLamports uint64 = 1_000_000_000_000

// Bootstrap writes the program accounts, the legacy mint and the initializer
// balance. It is idempotent: accounts that already exist are left alone.
func Bootstrap(ctx context.Context, store Store, g Genesis) error {
	k := protocol.Known()
	programs := []protocol.Address{k.Program, k.System, k.TokenProgram, k.AssociatedTokenProgram, k.MetadataProgram, k.Noop}
	addrs := append(programs, k.LegacyMint, g.Initializer)

	existing, err := store.Load(ctx, addrs)
	if err != nil {
		return fmt.Errorf("load genesis accounts: %w", err)
	}

	var writes []*protocol.AccountInfo
	for _, program := range programs {
		if acc := existing[program]; !acc.Executable {
			acc.Executable = true
			acc.Lamports = max(acc.Lamports, 1)
			writes = append(writes, acc)
		}
	}

	if legacy := existing[k.LegacyMint]; legacy.IsEmpty() {
		legacy.Owner = k.TokenProgram
		legacy.Lamports = protocol.MinimumDeposit(token.MintSize)
		legacy.Data = make([]byte, token.MintSize)
		if err := token.InitializeMint(legacy, g.LegacyAuthority, protocol.LegacyTokenDecimals); err != nil {
			return fmt.Errorf("legacy mint: %w", err)
		}
		writes = append(writes, legacy)
	}

	if payer := existing[g.Initializer]; payer.Lamports == 0 && payer.IsEmpty() {
		payer.Lamports = g.InitializerLamports
		if payer.Lamports == 0 {
			payer.Lamports = DefaultInitializerLamports
		}
		writes = append(writes, payer)
	}

	if len(writes) == 0 {
		return nil
	}
	return store.Commit(ctx, 0, writes)
}
