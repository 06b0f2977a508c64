package validation

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/luckycoin-meme/luckycoin/internal/ledger"
	"github.com/luckycoin-meme/luckycoin/internal/protocol"
	"github.com/luckycoin-meme/luckycoin/internal/state"
)

// Admission is a transaction that passed the gateway checks
type Admission struct {
	Tx    *ledger.Transaction
	ID    chainhash.Hash
	Tags  []protocol.Tag
	Mines []MineSubmission
}

// Signer returns the first signer, which pays and is rate limited
func (a *Admission) Signer() protocol.Address {
	return a.Tx.Signers[0]
}

// MineSubmission is one Mine instruction inside an admitted transaction
type MineSubmission struct {
	Index  int
	Signer protocol.Address
	Bus    protocol.Address
	Proof  protocol.Address
	Args   protocol.MineArgs
}

// Snapshot is the ledger state a solution is checked against
type Snapshot struct {
	Proof  *state.Proof
	Config *state.Config
	Now    int64
}
