package ledger

import (
	"bytes"
	"errors"
	"testing"

	"github.com/luckycoin-meme/luckycoin/internal/protocol"
)

func mustKeypair(t testing.TB) *Keypair {
	t.Helper()
	kp, err := NewKeypair()
	if err != nil {
		t.Fatalf("NewKeypair() error = %v", err)
	}
	return kp
}

func signedTx(t testing.TB, nonce uint64, signers []*Keypair, ixs ...protocol.Instruction) *Transaction {
	t.Helper()
	tx := NewTransaction(nonce, ixs...)
	for _, kp := range signers {
		if err := tx.Sign(kp); err != nil {
			t.Fatalf("Sign() error = %v", err)
		}
	}
	return tx
}

func TestKeypair(t *testing.T) {
	kp := mustKeypair(t)
	again, err := KeypairFromHex(kp.Secret())
	if err != nil {
		t.Fatalf("KeypairFromHex() error = %v", err)
	}
	if again.Address() != kp.Address() {
		t.Errorf("address changed across hex round trip")
	}

	for _, bad := range []string{"zz", "abcd", ""} {
		if _, err := KeypairFromHex(bad); err == nil {
			t.Errorf("KeypairFromHex(%q) succeeded", bad)
		}
	}

	digest := bytes.Repeat([]byte{7}, 32)
	sig, err := kp.Sign(digest)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if !VerifySignature(kp.Address(), digest, sig[:]) {
		t.Error("signature does not verify")
	}
	if VerifySignature(mustKeypair(t).Address(), digest, sig[:]) {
		t.Error("signature verifies under another key")
	}
	if VerifySignature(protocol.Known().Config, digest, sig[:]) {
		t.Error("derived address verified a signature")
	}
}

func TestTransactionSignAndVerify(t *testing.T) {
	alice, bob := mustKeypair(t), mustKeypair(t)

	tx := signedTx(t, 1, []*Keypair{alice}, protocol.Health(alice.Address()))
	if len(tx.Signers) != 1 || tx.Signers[0] != alice.Address() {
		t.Fatalf("signers = %v", tx.Signers)
	}
	if err := tx.Verify(); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if err := tx.Sign(bob); err == nil {
		t.Error("Sign() by a non-signer succeeded")
	}

	tampered := *tx
	tampered.Nonce = 2
	if err := tampered.Verify(); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("Verify() tampered error = %v, want ErrSignatureInvalid", err)
	}

	unsigned := NewTransaction(1, protocol.Health(alice.Address()))
	if err := unsigned.Verify(); !errors.Is(err, ErrMalformedTransaction) {
		t.Errorf("Verify() unsigned error = %v, want ErrMalformedTransaction", err)
	}

	sneaky := signedTx(t, 1, []*Keypair{alice}, protocol.Health(alice.Address()))
	sneaky.Instructions = append(sneaky.Instructions, protocol.Health(bob.Address()))
	if err := sneaky.Verify(); err == nil {
		t.Error("Verify() accepted an instruction signed by nobody")
	}

	forged := &Transaction{
		Nonce:        1,
		Instructions: []protocol.Instruction{protocol.Health(bob.Address())},
		Signers:      []protocol.Address{alice.Address()},
	}
	if err := forged.Sign(alice); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if err := forged.Verify(); !errors.Is(err, ErrMissingSignature) {
		t.Errorf("Verify() forged error = %v, want ErrMissingSignature", err)
	}
}

func TestTransactionMarshal(t *testing.T) {
	alice := mustKeypair(t)
	args := protocol.MineArgs{Digest: [16]byte{1, 2, 3}, Nonce: [8]byte{9}}
	proof, _ := protocol.ProofAddress(alice.Address())
	tx := signedTx(t, 42, []*Keypair{alice},
		protocol.Auth(proof),
		protocol.Mine(alice.Address(), alice.Address(), protocol.Known().Bus[3], args),
	)

	raw, err := tx.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	got, err := UnmarshalTransaction(raw)
	if err != nil {
		t.Fatalf("UnmarshalTransaction() error = %v", err)
	}
	if got.ID() != tx.ID() {
		t.Errorf("ID() = %s, want %s", got.ID(), tx.ID())
	}
	if err := got.Verify(); err != nil {
		t.Errorf("Verify() after round trip error = %v", err)
	}
	if !bytes.Equal(got.Instructions[1].Data, tx.Instructions[1].Data) {
		t.Errorf("mine data = %x, want %x", got.Instructions[1].Data, tx.Instructions[1].Data)
	}
	if len(got.Instructions[0].Accounts) != 0 || len(got.Instructions[1].Accounts) != 6 {
		t.Errorf("account counts = %d, %d", len(got.Instructions[0].Accounts), len(got.Instructions[1].Accounts))
	}
}

func TestUnmarshalTransactionRejects(t *testing.T) {
	alice := mustKeypair(t)
	tx := signedTx(t, 1, []*Keypair{alice}, protocol.Health(alice.Address()))
	raw, err := tx.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", raw[:len(raw)-1]},
		{"trailing", append(bytes.Clone(raw), 0)},
		{"oversized", make([]byte, MaxTransactionBytes+1)},
		{"too many signers", append(make([]byte, 8), 0xfd, 0xff, 0x00)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := UnmarshalTransaction(tt.data); !errors.Is(err, ErrMalformedTransaction) {
				t.Errorf("UnmarshalTransaction() error = %v, want ErrMalformedTransaction", err)
			}
		})
	}
}

func TestTransactionLimits(t *testing.T) {
	alice := mustKeypair(t)
	ixs := make([]protocol.Instruction, MaxInstructions+1)
	for i := range ixs {
		ixs[i] = protocol.Health(alice.Address())
	}
	tx := signedTx(t, 1, []*Keypair{alice}, ixs...)
	if err := tx.Verify(); !errors.Is(err, ErrMalformedTransaction) {
		t.Errorf("Verify() error = %v, want ErrMalformedTransaction", err)
	}

	empty := &Transaction{}
	if err := empty.Verify(); !errors.Is(err, ErrMalformedTransaction) {
		t.Errorf("Verify() empty error = %v, want ErrMalformedTransaction", err)
	}
}

func BenchmarkTransactionVerify(b *testing.B) {
	alice := mustKeypair(b)
	tx := signedTx(b, 1, []*Keypair{alice}, protocol.Health(alice.Address()))
	for b.Loop() {
		_ = tx.Verify()
	}
}
