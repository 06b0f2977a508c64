package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func TestConstants(t *testing.T) {
	tests := []struct {
		name string
		got  uint64
		want uint64
	}{
		{"one token", OneToken, 100_000_000_000},
		{"epoch duration", uint64(EpochDuration), 300},
		{"target epoch rewards", TargetEpochRewards, 5 * OneToken},
		{"max epoch rewards", MaxEpochRewards, 40 * OneToken},
		{"bus epoch rewards", BusEpochRewards, 5 * OneToken},
		{"supply cap", SupplyCap, 21_000_000 * OneToken},
		{"min rate", BaseRewardRateMinThreshold, 32},
		{"max rate", BaseRewardRateMaxThreshold, 256},
		{"initial rate", InitialBaseRewardRate, 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %d, want %d", tt.got, tt.want)
			}
		})
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"program id", programIDText, false},
		{"system program", systemProgramText, false},
		{"too short", "abc", true},
		{"invalid alphabet", "0OIl", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := ParseAddress(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAddress() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAddress) {
					t.Errorf("ParseAddress() error = %v, want ErrInvalidAddress", err)
				}
				return
			}
			if addr.String() != tt.input {
				t.Errorf("String() = %s, want %s", addr.String(), tt.input)
			}
		})
	}
}

func TestAddressText(t *testing.T) {
	want := Known().Config
	text, err := want.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error = %v", err)
	}

	var got Address
	if err := got.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if got != want {
		t.Errorf("UnmarshalText() = %s, want %s", got, want)
	}
}

func TestDeriveAddressOffCurve(t *testing.T) {
	k := Known()
	derived := append([]Address{k.Config, k.Mint, k.Treasury, k.TreasuryTokens, k.Metadata}, k.Bus[:]...)
	for _, addr := range derived {
		if _, err := schnorr.ParsePubKey(addr[:]); err == nil {
			t.Errorf("derived address %s parses as a public key", addr)
		}
	}
}

func TestDeriveAddressDeterministic(t *testing.T) {
	k := Known()
	addr, bump, err := DeriveAddress([][]byte{SeedConfig}, k.Program)
	if err != nil {
		t.Fatalf("DeriveAddress() error = %v", err)
	}
	if addr != k.Config || bump != k.ConfigBump {
		t.Errorf("DeriveAddress() = (%s, %d), want (%s, %d)", addr, bump, k.Config, k.ConfigBump)
	}

	direct, err := CreateAddress([][]byte{SeedConfig, {bump}}, k.Program)
	if err != nil {
		t.Fatalf("CreateAddress() error = %v", err)
	}
	if direct != addr {
		t.Errorf("CreateAddress() = %s, want %s", direct, addr)
	}
}

func TestDeriveAddressDistinct(t *testing.T) {
	k := Known()
	seen := make(map[Address]bool)
	for i, bus := range k.Bus {
		if seen[bus] {
			t.Fatalf("bus %d address %s repeats", i, bus)
		}
		seen[bus] = true
		if !k.IsBus(bus) {
			t.Errorf("IsBus(%s) = false", bus)
		}
	}
	if k.IsBus(k.Config) {
		t.Error("IsBus(config) = true")
	}

	a, _ := ProofAddress(Address{1})
	b, _ := ProofAddress(Address{2})
	if a == b {
		t.Error("proof addresses of different authorities collide")
	}
}

func TestCreateAddressSeedLimits(t *testing.T) {
	program := Known().Program
	long := make([]byte, maxSeedLength+1)
	if _, err := CreateAddress([][]byte{long}, program); !errors.Is(err, ErrInvalidSeeds) {
		t.Errorf("long seed error = %v, want ErrInvalidSeeds", err)
	}

	many := make([][]byte, maxSeeds+1)
	if _, err := CreateAddress(many, program); !errors.Is(err, ErrInvalidSeeds) {
		t.Errorf("too many seeds error = %v, want ErrInvalidSeeds", err)
	}
}

func TestCodes(t *testing.T) {
	tests := []struct {
		code Code
		num  uint32
		name string
	}{
		{NeedsReset, 0, "NeedsReset"},
		{HashInvalid, 1, "HashInvalid"},
		{HashTooEasy, 2, "HashTooEasy"},
		{ClaimTooLarge, 3, "ClaimTooLarge"},
		{ClockInvalid, 4, "ClockInvalid"},
		{Spam, 5, "Spam"},
		{MaxSupply, 6, "MaxSupply"},
		{AuthFailed, 7, "AuthFailed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if uint32(tt.code) != tt.num {
				t.Errorf("code value = %d, want %d", uint32(tt.code), tt.num)
			}
			if tt.code.Name() != tt.name {
				t.Errorf("Name() = %s, want %s", tt.code.Name(), tt.name)
			}
			if tt.code.Error() == "" {
				t.Error("Error() is empty")
			}

			wrapped := errors.Join(errors.New("mine"), tt.code)
			got, ok := AsCode(wrapped)
			if !ok || got != tt.code {
				t.Errorf("AsCode() = (%v, %v), want (%v, true)", got, ok, tt.code)
			}
			if IsBoundary(wrapped) {
				t.Error("IsBoundary() = true for a domain code")
			}
		})
	}
}

func TestBoundaryErrors(t *testing.T) {
	if !IsBoundary(MissingRequiredSignature) {
		t.Error("IsBoundary(MissingRequiredSignature) = false")
	}
	if _, ok := AsCode(InvalidAccountData); ok {
		t.Error("AsCode(InvalidAccountData) reported a domain code")
	}
	if IsBoundary(ErrOverflow) {
		t.Error("IsBoundary(ErrOverflow) = true")
	}
	if _, ok := AsCode(ErrOverflow); ok {
		t.Error("AsCode(ErrOverflow) reported a domain code")
	}
}

func TestSplitTag(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    Tag
		wantErr bool
	}{
		{"empty", nil, 0, true},
		{"claim", EncodeAmount(TagClaim, 7), TagClaim, false},
		{"health", []byte{8}, TagHealth, false},
		{"initialize", []byte{100}, TagInitialize, false},
		{"unknown", []byte{9}, 0, true},
		{"unknown high", []byte{200}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, _, err := SplitTag(tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SplitTag() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, InvalidInstructionData) {
					t.Errorf("SplitTag() error = %v, want InvalidInstructionData", err)
				}
				return
			}
			if tag != tt.want {
				t.Errorf("SplitTag() = %v, want %v", tag, tt.want)
			}
		})
	}
}

func TestPayloadCodecs(t *testing.T) {
	_, payload, err := SplitTag(EncodeAmount(TagStake, 1<<40))
	if err != nil {
		t.Fatalf("SplitTag() error = %v", err)
	}
	amount, err := DecodeAmount(payload)
	if err != nil || amount != 1<<40 {
		t.Errorf("DecodeAmount() = (%d, %v), want %d", amount, err, uint64(1<<40))
	}
	if _, err := DecodeAmount(payload[:7]); !errors.Is(err, InvalidInstructionData) {
		t.Errorf("DecodeAmount(short) error = %v", err)
	}

	mine := MineArgs{Digest: [16]byte{1, 2, 3}, Nonce: [8]byte{9}}
	_, payload, _ = SplitTag(mine.Encode())
	got, err := DecodeMine(payload)
	if err != nil || got != mine {
		t.Errorf("DecodeMine() = (%+v, %v), want %+v", got, err, mine)
	}

	initArgs := InitializeArgs{BusBumps: [BusCount]uint8{1, 2, 3, 4, 5, 6, 7, 8}, ConfigBump: 9, MetadataBump: 10, MintBump: 11, TreasuryBump: 12}
	_, payload, _ = SplitTag(initArgs.Encode())
	gotInit, err := DecodeInitialize(payload)
	if err != nil || gotInit != initArgs {
		t.Errorf("DecodeInitialize() = (%+v, %v), want %+v", gotInit, err, initArgs)
	}

	if err := DecodeEmpty([]byte{0}); !errors.Is(err, InvalidInstructionData) {
		t.Errorf("DecodeEmpty() error = %v", err)
	}
}

func TestBuilders(t *testing.T) {
	k := Known()
	signer := Address{7}
	proof, bump := ProofAddress(signer)

	tests := []struct {
		name     string
		ix       Instruction
		accounts int
		tag      Tag
		proofAt  int
	}{
		{"claim", Claim(signer, Address{8}, 1), 6, TagClaim, 2},
		{"close", Close(signer), 3, TagClose, 1},
		{"health", Health(signer), 2, TagHealth, 1},
		{"mine", Mine(signer, signer, k.Bus[3], MineArgs{}), 6, TagMine, 3},
		{"open", Open(signer, signer, signer), 6, TagOpen, 3},
		{"reset", Reset(signer), 14, TagReset, -1},
		{"stake", Stake(signer, Address{8}, 1), 5, TagStake, 1},
		{"update", Update(signer, Address{9}), 3, TagUpdate, 2},
		{"upgrade", Upgrade(signer, Address{8}, Address{9}, 1), 7, TagUpgrade, -1},
		{"initialize", Initialize(signer), 18, TagInitialize, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.ix.ProgramID != k.Program {
				t.Errorf("ProgramID = %s, want %s", tt.ix.ProgramID, k.Program)
			}
			if len(tt.ix.Accounts) != tt.accounts {
				t.Errorf("len(Accounts) = %d, want %d", len(tt.ix.Accounts), tt.accounts)
			}
			if first := tt.ix.Accounts[0]; first.Address != signer || !first.IsSigner {
				t.Errorf("first account = %+v, want signer", first)
			}
			if Tag(tt.ix.Data[0]) != tt.tag {
				t.Errorf("tag = %v, want %v", Tag(tt.ix.Data[0]), tt.tag)
			}
			if tt.proofAt >= 0 && tt.ix.Accounts[tt.proofAt].Address != proof {
				t.Errorf("account %d = %s, want proof %s", tt.proofAt, tt.ix.Accounts[tt.proofAt].Address, proof)
			}
		})
	}

	open := Open(signer, signer, signer)
	if open.Data[1] != bump {
		t.Errorf("open bump = %d, want %d", open.Data[1], bump)
	}

	auth := Auth(proof)
	if auth.ProgramID != k.Noop || !bytes.Equal(auth.Data, proof[:]) || len(auth.Accounts) != 0 {
		t.Errorf("Auth() = %+v", auth)
	}
}

func TestSlotHash(t *testing.T) {
	want := SlotHash{Slot: 42, Hash: chainhash.DoubleHashH([]byte("slot"))}
	data := want.Bytes()
	if len(data) != SlotHashSize {
		t.Fatalf("len(Bytes()) = %d, want %d", len(data), SlotHashSize)
	}
	got, err := ParseSlotHash(data)
	if err != nil || got != want {
		t.Errorf("ParseSlotHash() = (%+v, %v), want %+v", got, err, want)
	}
	if _, err := ParseSlotHash(data[:39]); err == nil {
		t.Error("ParseSlotHash(short) succeeded")
	}
}

func TestEvents(t *testing.T) {
	mine := MineEvent{Difficulty: 12, Reward: 128, Timing: -5}
	gotMine, err := ParseMineEvent(mine.Bytes())
	if err != nil || gotMine != mine {
		t.Errorf("ParseMineEvent() = (%+v, %v), want %+v", gotMine, err, mine)
	}

	reset := EpochResetEvent{ResetAt: 1_700_000_000, BaseRewardRate: 64, MinDifficulty: 2, TopBalance: 5, Theoretical: 9, Minted: 11}
	gotReset, err := ParseEpochResetEvent(reset.Bytes())
	if err != nil || gotReset != reset {
		t.Errorf("ParseEpochResetEvent() = (%+v, %v), want %+v", gotReset, err, reset)
	}
}

func TestMinimumDeposit(t *testing.T) {
	if MinimumDeposit(0) >= MinimumDeposit(184) {
		t.Error("MinimumDeposit is not increasing in size")
	}
}
