package protocol

// Auth builds the no-op marker that declares which proof a transaction mines.
func Auth(proof Address) Instruction {
	return Instruction{
		ProgramID: Known().Noop,
		Data:      proof.Bytes(),
	}
}

// Claim builds a claim of amount from the signer's proof to beneficiary.
func Claim(signer, beneficiary Address, amount uint64) Instruction {
	k := Known()
	proof, _ := ProofAddress(signer)
	return Instruction{
		ProgramID: k.Program,
		Accounts: []AccountMeta{
			Writable(signer, true),
			Writable(beneficiary, false),
			Writable(proof, false),
			Readonly(k.Treasury, false),
			Writable(k.TreasuryTokens, false),
			Readonly(k.TokenProgram, false),
		},
		Data: EncodeAmount(TagClaim, amount),
	}
}

// Health builds a liveness probe.
func Health(signer Address) Instruction {
	proof, _ := ProofAddress(signer)
	return Instruction{
		ProgramID: Known().Program,
		Accounts: []AccountMeta{
			Writable(signer, true),
			Readonly(proof, false),
		},
		Data: []byte{byte(TagHealth)},
	}
}

// Close builds a close of the signer's proof.
func Close(signer Address) Instruction {
	k := Known()
	proof, _ := ProofAddress(signer)
	return Instruction{
		ProgramID: k.Program,
		Accounts: []AccountMeta{
			Writable(signer, true),
			Writable(proof, false),
			Readonly(k.System, false),
		},
		Data: []byte{byte(TagClose)},
	}
}

// Mine builds a solution submission by signer against authority's proof.
func Mine(signer, authority, bus Address, args MineArgs) Instruction {
	k := Known()
	proof, _ := ProofAddress(authority)
	return Instruction{
		ProgramID: k.Program,
		Accounts: []AccountMeta{
			Writable(signer, true),
			Writable(bus, false),
			Readonly(k.Config, false),
			Writable(proof, false),
			Readonly(k.SysvarInstructions, false),
			Readonly(k.SysvarSlotHashes, false),
		},
		Data: args.Encode(),
	}
}

// Open builds the creation of signer's proof, paid for by payer.
func Open(signer, miner, payer Address) Instruction {
	k := Known()
	proof, bump := ProofAddress(signer)
	return Instruction{
		ProgramID: k.Program,
		Accounts: []AccountMeta{
			Writable(signer, true),
			Readonly(miner, false),
			Writable(payer, true),
			Writable(proof, false),
			Readonly(k.System, false),
			Readonly(k.SysvarSlotHashes, false),
		},
		Data: []byte{byte(TagOpen), bump},
	}
}

// Reset builds an epoch rollover.
func Reset(signer Address) Instruction {
	k := Known()
	accounts := make([]AccountMeta, 0, 5+BusCount)
	accounts = append(accounts, Writable(signer, true))
	for _, bus := range k.Bus {
		accounts = append(accounts, Writable(bus, false))
	}
	accounts = append(accounts,
		Writable(k.Config, false),
		Writable(k.Mint, false),
		Writable(k.Treasury, false),
		Writable(k.TreasuryTokens, false),
		Readonly(k.TokenProgram, false),
	)
	return Instruction{
		ProgramID: k.Program,
		Accounts:  accounts,
		Data:      []byte{byte(TagReset)},
	}
}

// Stake builds a stake of amount from the sender token account.
func Stake(signer, sender Address, amount uint64) Instruction {
	k := Known()
	proof, _ := ProofAddress(signer)
	return Instruction{
		ProgramID: k.Program,
		Accounts: []AccountMeta{
			Writable(signer, true),
			Writable(proof, false),
			Writable(sender, false),
			Writable(k.TreasuryTokens, false),
			Readonly(k.TokenProgram, false),
		},
		Data: EncodeAmount(TagStake, amount),
	}
}

// Update builds a change of the proof's miner.
func Update(signer, miner Address) Instruction {
	proof, _ := ProofAddress(signer)
	return Instruction{
		ProgramID: Known().Program,
		Accounts: []AccountMeta{
			Writable(signer, true),
			Readonly(miner, false),
			Writable(proof, false),
		},
		Data: []byte{byte(TagUpdate)},
	}
}

// Upgrade builds a conversion of legacy tokens held by sender.
func Upgrade(signer, beneficiary, sender Address, amount uint64) Instruction {
	k := Known()
	return Instruction{
		ProgramID: k.Program,
		Accounts: []AccountMeta{
			Writable(signer, true),
			Writable(beneficiary, false),
			Writable(k.Mint, false),
			Writable(k.LegacyMint, false),
			Writable(sender, false),
			Writable(k.Treasury, false),
			Readonly(k.TokenProgram, false),
		},
		Data: EncodeAmount(TagUpgrade, amount),
	}
}

// Initialize builds the one-time bootstrap of every singleton record.
func Initialize(signer Address) Instruction {
	k := Known()
	accounts := make([]AccountMeta, 0, 10+BusCount)
	accounts = append(accounts, Writable(signer, true))
	for _, bus := range k.Bus {
		accounts = append(accounts, Writable(bus, false))
	}
	accounts = append(accounts,
		Writable(k.Config, false),
		Writable(k.Metadata, false),
		Writable(k.Mint, false),
		Writable(k.Treasury, false),
		Writable(k.TreasuryTokens, false),
		Readonly(k.System, false),
		Readonly(k.TokenProgram, false),
		Readonly(k.AssociatedTokenProgram, false),
		Readonly(k.MetadataProgram, false),
	)

	args := InitializeArgs{
		BusBumps:     k.BusBumps,
		ConfigBump:   k.ConfigBump,
		MetadataBump: k.MetadataBump,
		MintBump:     k.MintBump,
		TreasuryBump: k.TreasuryBump,
	}
	return Instruction{
		ProgramID: k.Program,
		Accounts:  accounts,
		Data:      args.Encode(),
	}
}
