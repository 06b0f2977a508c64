// Package protocol defines the shared vocabulary of the luckycoin reward
// protocol: constants, addresses, instruction payloads, account views and the
// closed set of domain and boundary errors.
package protocol

const (
	// TokenDecimals is the decimal precision of the current token.
	TokenDecimals uint8 = 11

	// LegacyTokenDecimals is the decimal precision of the legacy token.
	LegacyTokenDecimals uint8 = 9

	// UpgradeFactor converts legacy base units into current base units.
	UpgradeFactor uint64 = 100

	// OneToken is one whole token in base units.
	OneToken uint64 = 100_000_000_000

	// OneMinute is the nominal cadence between two submissions, in seconds.
	OneMinute int64 = 60

	// EpochMinutes is the length of an epoch in minutes.
	EpochMinutes int64 = 5

	// EpochDuration is the length of an epoch in seconds.
	EpochDuration = OneMinute * EpochMinutes

	// Tolerance is the spam and liveness grace window in seconds.
	Tolerance int64 = 5

	// BusCount is the number of reward shards.
	BusCount = 8

	// SupplyCap caps the total number of base units that can ever exist.
	SupplyCap = OneToken * 21_000_000

	// TargetEpochRewards is the issuance the rate governor steers towards.
	TargetEpochRewards = OneToken * uint64(EpochMinutes)

	// MaxEpochRewards is the hard issuance cap of one epoch.
	MaxEpochRewards = TargetEpochRewards * BusCount

	// BusEpochRewards is the per-shard allotment of one epoch.
	BusEpochRewards = MaxEpochRewards / BusCount

	// SmoothingFactor bounds how far the base rate can move in one epoch.
	SmoothingFactor uint64 = 2

	// BaseRewardRateMinThreshold is the lower bound of the base rate band.
	BaseRewardRateMinThreshold uint64 = 1 << 5

	// BaseRewardRateMaxThreshold is the upper bound of the base rate band.
	BaseRewardRateMaxThreshold uint64 = 1 << 8

	// InitialBaseRewardRate is the base rate written at initialization.
	InitialBaseRewardRate = BaseRewardRateMinThreshold

	// InitialMinDifficulty is the minimum difficulty written at initialization.
	InitialMinDifficulty uint64 = 1
)

// Seeds used for address derivation.
var (
	SeedBus      = []byte("bus")
	SeedConfig   = []byte("config")
	SeedMetadata = []byte("metadata")
	SeedMint     = []byte("mint")
	SeedProof    = []byte("proof")
	SeedTreasury = []byte("treasury")
)

// MintNoise is mixed into the mint address seeds.
var MintNoise = [16]byte{89, 157, 88, 232, 243, 249, 197, 132, 199, 49, 19, 234, 91, 94, 150, 41}

// Token metadata written at initialization.
const (
	MetadataName   = "ORE"
	MetadataSymbol = "ORE"
	MetadataURI    = "https://ore.supply/metadata-v2.json"
)

// Fixed program identities, in base58.
const (
	programIDText          = "5A5bi3qQJ1c1821Brqnt8no6KjGtX8X811URhC1UjD9n"
	noopProgramIDText      = "noop8ytexvkpCuqbf6FB89BSuNemHtPRqaNC31GWivW"
	initializerText        = "DKQEpKgGjNrLH7oF6qF6RQNdQi3nmvEbiAwEVEtAvKsd"
	legacyMintText         = "oreoN2tQbHXVaZsr3pf66A48miqcBXCDJozganhEJgz"
	tokenProgramText       = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	associatedTokenText    = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	metadataProgramText    = "metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s"
	sysvarClockText        = "SysvarC1ock11111111111111111111111111111111"
	sysvarSlotHashesText   = "SysvarS1otHashes111111111111111111111111111"
	sysvarInstructionsText = "Sysvar1nstructions1111111111111111111111111"
	sysvarOwnerText        = "Sysvar1111111111111111111111111111111111111"
	systemProgramText      = "11111111111111111111111111111111"
)
