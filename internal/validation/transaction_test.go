package validation

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/luckycoin-meme/luckycoin/internal/challenge"
	"github.com/luckycoin-meme/luckycoin/internal/ledger"
	"github.com/luckycoin-meme/luckycoin/internal/protocol"
	"github.com/luckycoin-meme/luckycoin/internal/state"
)

const now int64 = 1_700_000_000

func newKeypair(t *testing.T) *ledger.Keypair {
	t.Helper()
	kp, err := ledger.NewKeypair()
	if err != nil {
		t.Fatalf("NewKeypair() error = %v", err)
	}
	return kp
}

func signed(t *testing.T, kp *ledger.Keypair, ixs ...protocol.Instruction) []byte {
	t.Helper()
	tx := ledger.NewTransaction(1, ixs...)
	if len(tx.Signers) > 0 {
		if err := tx.Sign(kp); err != nil {
			t.Fatalf("Sign() error = %v", err)
		}
	}
	raw, err := tx.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return raw
}

func mineArgs(c chainhash.Hash, nonce uint64) protocol.MineArgs {
	s := challenge.NewSolution(c, nonce)
	return protocol.MineArgs{Digest: s.D, Nonce: s.N}
}

func TestValidateTransaction(t *testing.T) {
	kp := newKeypair(t)
	miner := kp.Address()
	proof, _ := protocol.ProofAddress(miner)
	k := protocol.Known()
	args := mineArgs(chainhash.Hash{1}, 7)

	foreign := protocol.Instruction{ProgramID: k.TokenProgram, Accounts: []protocol.AccountMeta{protocol.Writable(miner, true)}}

	tests := []struct {
		name    string
		raw     []byte
		wantErr error
		mines   int
	}{
		{"mine", signed(t, kp, protocol.Auth(proof), protocol.Mine(miner, miner, k.Bus[3], args)), nil, 1},
		{"health", signed(t, kp, protocol.Health(miner)), nil, 0},
		{"empty", nil, ErrEmptyTransaction, 0},
		{"garbage", []byte{0xff, 0xff}, ledger.ErrMalformedTransaction, 0},
		{"foreign program", signed(t, kp, foreign), ErrProgramNotAllowed, 0},
		{"initialize", signed(t, kp, protocol.Initialize(miner)), ErrInstructionNotAllowed, 0},
		{"missing auth", signed(t, kp, protocol.Mine(miner, miner, k.Bus[0], args)), protocol.AuthFailed, 0},
		{"wrong auth", signed(t, kp, protocol.Auth(k.Config), protocol.Mine(miner, miner, k.Bus[0], args)), protocol.AuthFailed, 0},
		{"not a bus", signed(t, kp, protocol.Auth(proof), protocol.Mine(miner, miner, k.Treasury, args)), ErrUnknownBus, 0},
	}

	v := NewTransactionValidator(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adm, err := v.ValidateTransaction(tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ValidateTransaction() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateTransaction() error = %v", err)
			}
			if len(adm.Mines) != tt.mines {
				t.Errorf("mines = %d, want %d", len(adm.Mines), tt.mines)
			}
			if adm.Signer() != miner {
				t.Errorf("Signer() = %s, want %s", adm.Signer(), miner)
			}
		})
	}
}

func TestValidateTransactionBadSignature(t *testing.T) {
	kp := newKeypair(t)
	tx := ledger.NewTransaction(1, protocol.Health(kp.Address()))
	if err := tx.Sign(kp); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	tx.Signatures[0][0] ^= 0xff
	raw, err := tx.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	if _, err := NewTransactionValidator(0).ValidateTransaction(raw); !errors.Is(err, ledger.ErrSignatureInvalid) {
		t.Errorf("ValidateTransaction() error = %v, want %v", err, ledger.ErrSignatureInvalid)
	}
}

func TestValidateTransactionTooLarge(t *testing.T) {
	v := NewTransactionValidator(8)
	if _, err := v.ValidateTransaction(make([]byte, 9)); !errors.Is(err, ErrTooLarge) {
		t.Errorf("ValidateTransaction() error = %v, want %v", err, ErrTooLarge)
	}
}

func TestValidateSolution(t *testing.T) {
	miner := protocol.Address{7}
	current := chainhash.Hash{9}

	base := func() Snapshot {
		return Snapshot{
			Proof:  &state.Proof{Authority: miner, Miner: miner, Challenge: current, LastHashAt: now - 60},
			Config: &state.Config{LastResetAt: now - 10, MinDifficulty: 0, BaseRewardRate: 32},
			Now:    now,
		}
	}

	tests := []struct {
		name    string
		args    protocol.MineArgs
		signer  protocol.Address
		mutate  func(*Snapshot)
		wantErr error
	}{
		{"valid", mineArgs(current, 1), miner, nil, nil},
		{"no proof", mineArgs(current, 1), miner, func(s *Snapshot) { s.Proof = nil }, protocol.UninitializedAccount},
		{"wrong miner", mineArgs(current, 1), protocol.Address{8}, nil, protocol.InvalidAccountData},
		{"epoch over", mineArgs(current, 1), miner, func(s *Snapshot) { s.Config.LastResetAt = now - protocol.EpochDuration }, protocol.NeedsReset},
		{"stale challenge", mineArgs(chainhash.Hash{1}, 1), miner, nil, protocol.HashInvalid},
		{"too soon", mineArgs(current, 1), miner, func(s *Snapshot) { s.Proof.LastHashAt = now }, protocol.Spam},
		{"within tolerance", mineArgs(current, 1), miner, func(s *Snapshot) { s.Proof.LastHashAt = now - 56 }, nil},
		{"too easy", mineArgs(current, 1), miner, func(s *Snapshot) { s.Config.MinDifficulty = 257 }, protocol.HashTooEasy},
	}

	v := NewTransactionValidator(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := base()
			if tt.mutate != nil {
				tt.mutate(&snap)
			}
			sub := MineSubmission{Signer: tt.signer, Bus: protocol.Known().Bus[0], Args: tt.args}

			_, err := v.ValidateSolution(sub, snap)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSolution() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func BenchmarkValidateTransaction(b *testing.B) {
	kp, err := ledger.NewKeypair()
	if err != nil {
		b.Fatal(err)
	}
	miner := kp.Address()
	proof, _ := protocol.ProofAddress(miner)
	tx := ledger.NewTransaction(1, protocol.Auth(proof), protocol.Mine(miner, miner, protocol.Known().Bus[0], mineArgs(chainhash.Hash{}, 1)))
	if err := tx.Sign(kp); err != nil {
		b.Fatal(err)
	}
	raw, err := tx.Marshal()
	if err != nil {
		b.Fatal(err)
	}

	v := NewTransactionValidator(0)
	for b.Loop() {
		if _, err := v.ValidateTransaction(raw); err != nil {
			b.Fatal(err)
		}
	}
}
