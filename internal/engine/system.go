package engine

import "github.com/luckycoin-meme/luckycoin/internal/protocol"

// createAccount funds, allocates and assigns target. The payer covers the
// minimum deposit for size bytes; lamports already held by target count
// towards it.
func createAccount(target, payer *protocol.AccountInfo, owner protocol.Address, size int) error {
	if !payer.IsSigner {
		return protocol.MissingRequiredSignature
	}
	if !payer.IsWritable || !target.IsWritable {
		return protocol.InvalidAccountData
	}
	if !target.IsEmpty() {
		return protocol.AccountAlreadyInitialized
	}

	deposit := protocol.MinimumDeposit(size)
	if target.Lamports < deposit {
		need := deposit - target.Lamports
		if payer.Lamports < need {
			return protocol.InsufficientFunds
		}
		payer.Lamports -= need
		target.Lamports += need
	}

	target.Data = make([]byte, size)
	target.Owner = owner
	return nil
}

// closeAccount deallocates target and moves its lamports to dest.
func closeAccount(target, dest *protocol.AccountInfo) error {
	if !dest.IsWritable {
		return protocol.InvalidAccountData
	}
	lamports, err := checkedAdd(dest.Lamports, target.Lamports)
	if err != nil {
		return err
	}
	dest.Lamports = lamports
	target.Lamports = 0
	target.Data = nil
	target.Owner = protocol.Known().System
	return nil
}
