package ledger

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/luckycoin-meme/luckycoin/internal/protocol"
)

// Keypair is a participant identity. Its address is the BIP-340 x-only
// public key.
type Keypair struct {
	priv *btcec.PrivateKey
	addr protocol.Address
}

// NewKeypair generates a random identity.
func NewKeypair() (*Keypair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return keypairFrom(priv), nil
}

// KeypairFromHex loads an identity from a hex-encoded 32-byte secret.
func KeypairFromHex(secret string) (*Keypair, error) {
	raw, err := hex.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}
	if len(raw) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("secret must be %d bytes, got %d", btcec.PrivKeyBytesLen, len(raw))
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return keypairFrom(priv), nil
}

func keypairFrom(priv *btcec.PrivateKey) *Keypair {
	kp := &Keypair{priv: priv}
	copy(kp.addr[:], schnorr.SerializePubKey(priv.PubKey()))
	return kp
}

// Address returns the identity's address.
func (kp *Keypair) Address() protocol.Address {
	return kp.addr
}

// Secret returns the hex-encoded secret.
func (kp *Keypair) Secret() string {
	return hex.EncodeToString(kp.priv.Serialize())
}

// Sign produces a BIP-340 signature over a 32-byte digest.
func (kp *Keypair) Sign(digest []byte) ([schnorr.SignatureSize]byte, error) {
	var out [schnorr.SignatureSize]byte
	sig, err := schnorr.Sign(kp.priv, digest)
	if err != nil {
		return out, fmt.Errorf("sign: %w", err)
	}
	copy(out[:], sig.Serialize())
	return out, nil
}

// VerifySignature checks a BIP-340 signature of signer over digest. Derived
// addresses are not public keys and never verify.
func VerifySignature(signer protocol.Address, digest, sig []byte) bool {
	pub, err := schnorr.ParsePubKey(signer[:])
	if err != nil {
		return false
	}
	parsed, err := schnorr.ParseSignature(sig)
	if err != nil {
		return false
	}
	return parsed.Verify(digest, pub)
}
