package codec

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Wallet holds a secp256k1 private key and its derived address.
type Wallet struct {
	Key     *secp256k1.PrivateKey
	Address Address
}

// NewWallet generates a fresh random wallet.
func NewWallet() (*Wallet, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("codec: generate private key: %w", err)
	}
	return &Wallet{Key: key, Address: AddressFromPublicKey(key.PubKey())}, nil
}

// NewWalletFromHex builds a wallet from a 32-byte hex-encoded private key.
func NewWalletFromHex(s string) (*Wallet, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("codec: decode private key: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("codec: private key must be 32 bytes, got %d", len(b))
	}
	key := secp256k1.PrivKeyFromBytes(b)
	return &Wallet{Key: key, Address: AddressFromPublicKey(key.PubKey())}, nil
}

// SignerContext is the identity used to author events. Either the
// primary wallet signs directly, or a device wallet signs under a
// delegation issued by the primary key.
type SignerContext struct {
	// Wallet is the key that produces event signatures.
	Wallet *Wallet

	// Creator is the primary identity address events are attributed to.
	Creator Address

	// DelegateSig authorizes Wallet's public key; nil when Wallet is
	// the primary key itself.
	DelegateSig []byte

	// DelegateExpiryEpochMs bounds the delegation; 0 means no expiry.
	DelegateExpiryEpochMs int64
}

// NewSignerContext returns a context that signs with the primary key.
func NewSignerContext(primary *Wallet) *SignerContext {
	return &SignerContext{Wallet: primary, Creator: primary.Address}
}

// NewDelegateSignerContext authorizes device to sign on behalf of
// primary until expiryEpochMs.
func NewDelegateSignerContext(primary, device *Wallet, expiryEpochMs int64) (*SignerContext, error) {
	devicePub := device.Key.PubKey().SerializeUncompressed()
	src, err := DelegateHashSrc(devicePub, expiryEpochMs)
	if err != nil {
		return nil, err
	}
	sig := Sign(EventHash(src), primary.Key)
	return &SignerContext{
		Wallet:                device,
		Creator:               primary.Address,
		DelegateSig:           sig,
		DelegateExpiryEpochMs: expiryEpochMs,
	}, nil
}

// SignHash signs an event hash with the context's wallet.
func (sc *SignerContext) SignHash(hash Hash) []byte {
	return Sign(hash, sc.Wallet.Key)
}

// VerifyEventSignature checks signature over hash and resolves the
// creator address, honoring a delegation when one is attached to the
// event. Malformed keys, bad signatures, and invalid or expired
// delegations are distinct error kinds.
func VerifyEventSignature(
	hash Hash,
	signature []byte,
	creator Address,
	delegateSig []byte,
	delegateExpiryEpochMs int64,
	now time.Time,
) error {
	pub, err := RecoverSigner(hash, signature)
	if err != nil {
		return err
	}
	signerAddr := AddressFromPublicKey(pub)
	if len(delegateSig) == 0 {
		if signerAddr != creator {
			return fmt.Errorf("%w: signer %s is not creator %s",
				ErrBadSignature, signerAddr.Hex(), creator.Hex())
		}
		return nil
	}
	return CheckDelegateSig(
		pub.SerializeUncompressed(),
		creator,
		delegateSig,
		delegateExpiryEpochMs,
		now,
	)
}
