package auth

import (
	"errors"
	"testing"

	"github.com/luckycoin-meme/luckycoin/internal/protocol"
)

func TestAuthenticate(t *testing.T) {
	k := protocol.Known()
	alice := protocol.Address{0xa1}
	bob := protocol.Address{0xb0}
	aliceProof, _ := protocol.ProofAddress(alice)
	bobProof, _ := protocol.ProofAddress(bob)
	mine := protocol.Mine(alice, alice, k.Bus[0], protocol.MineArgs{})

	tests := []struct {
		name    string
		ixs     []protocol.Instruction
		proof   protocol.Address
		wantErr bool
	}{
		{
			name:  "marker first",
			ixs:   []protocol.Instruction{protocol.Auth(aliceProof), mine},
			proof: aliceProof,
		},
		{
			name:  "marker after other instructions",
			ixs:   []protocol.Instruction{protocol.Health(alice), mine, protocol.Auth(aliceProof)},
			proof: aliceProof,
		},
		{
			name:    "no marker",
			ixs:     []protocol.Instruction{mine},
			proof:   aliceProof,
			wantErr: true,
		},
		{
			name:    "marker for another proof",
			ixs:     []protocol.Instruction{protocol.Auth(bobProof), mine},
			proof:   aliceProof,
			wantErr: true,
		},
		{
			name:    "only first marker counts",
			ixs:     []protocol.Instruction{protocol.Auth(bobProof), protocol.Auth(aliceProof), mine},
			proof:   aliceProof,
			wantErr: true,
		},
		{
			name:    "empty table",
			proof:   aliceProof,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authenticate(Encode(tt.ixs, 0), tt.proof)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Authenticate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, protocol.AuthFailed) {
				t.Errorf("Authenticate() error = %v, want AuthFailed", err)
			}
		})
	}
}

func TestDeclaredProofMalformed(t *testing.T) {
	noop := protocol.Known().Noop
	proof := protocol.Address{1, 2, 3}
	valid := Encode([]protocol.Instruction{protocol.Auth(proof)}, 0)

	got, err := DeclaredProof(valid, noop)
	if err != nil || got != proof {
		t.Fatalf("DeclaredProof() = (%s, %v), want %s", got, err, proof)
	}

	tests := []struct {
		name  string
		table []byte
	}{
		{"nil", nil},
		{"one byte", []byte{1}},
		{"count without offsets", []byte{1, 0}},
		{"offset past end", []byte{1, 0, 0xff, 0xff}},
		{"truncated program", valid[:4+2+10]},
		{"truncated address", valid[:4+2+32+2+10]},
		{"huge account count", func() []byte {
			b := append([]byte(nil), valid...)
			b[4], b[5] = 0xff, 0xff
			return b
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DeclaredProof(tt.table, noop); !errors.Is(err, protocol.AuthFailed) {
				t.Errorf("DeclaredProof() error = %v, want AuthFailed", err)
			}
		})
	}
}

func TestEncodeLayout(t *testing.T) {
	ix := protocol.Instruction{
		ProgramID: protocol.Address{9},
		Accounts: []protocol.AccountMeta{
			protocol.Writable(protocol.Address{1}, true),
			protocol.Readonly(protocol.Address{2}, false),
		},
		Data: []byte{7, 7},
	}
	table := Encode([]protocol.Instruction{ix}, 3)

	// count, one offset, then the entry.
	if table[0] != 1 || table[1] != 0 {
		t.Fatalf("count = %v", table[:2])
	}
	if table[2] != 4 {
		t.Fatalf("offset = %d, want 4", table[2])
	}
	if table[4] != 2 {
		t.Errorf("account count = %d, want 2", table[4])
	}
	if table[6] != flagSigner|flagWritable || table[6+33] != 0 {
		t.Errorf("flags = %d, %d", table[6], table[6+33])
	}
	if table[len(table)-2] != 3 {
		t.Errorf("current index = %d, want 3", table[len(table)-2])
	}
}
