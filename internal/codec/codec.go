// Package codec computes canonical event hashes and produces/verifies
// secp256k1 signatures over them, including time-bounded delegated
// signatures for secondary device keys.
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

// Codec-specific errors. Signature and delegation failures are distinct
// kinds and are never collapsed into an "unsigned" state.
var (
	// ErrBadSignature indicates an event signature that does not verify.
	ErrBadSignature = errors.New("codec: bad signature")

	// ErrInvalidDelegate indicates a delegate signature that does not
	// resolve to the claimed creator.
	ErrInvalidDelegate = errors.New("codec: invalid delegate signature")

	// ErrDelegateExpired indicates a delegation past its expiry.
	ErrDelegateExpired = errors.New("codec: delegate signature expired")

	// ErrMalformedPublicKey indicates a public key that cannot be parsed.
	ErrMalformedPublicKey = errors.New("codec: malformed public key")
)

// Domain separation framing for event hashes. The length of the payload
// is mixed in so that no two framings collide.
var (
	hashHeader    = []byte("SSEVHASH")
	hashSeparator = []byte("PAYLOAD>")
	hashFooter    = []byte("<PAYLOAD")

	delegateHashHeader = []byte("SSDELSIG")
)

// Hash is a 32-byte event or miniblock content hash.
type Hash [32]byte

// Hex returns the lowercase hex encoding of the hash.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// MarshalJSON encodes the hash as a hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Hex())
}

// UnmarshalJSON decodes a hex string into the hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := HashFromHex(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// HashFromHex parses a 64-character hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("codec: decode hash: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("codec: hash must be %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Address is a 20-byte identity address derived from a public key.
type Address [20]byte

// Hex returns the lowercase hex encoding of the address.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether the address is all zeroes.
func (a Address) IsZero() bool {
	return a == Address{}
}

// MarshalJSON encodes the address as a hex string.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Hex())
}

// UnmarshalJSON decodes a hex string into the address.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := AddressFromHex(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// AddressFromHex parses a 40-character hex string into an Address.
func AddressFromHex(s string) (Address, error) {
	var a Address
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("codec: decode address: %w", err)
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("codec: address must be %d bytes, got %d", len(a), len(b))
	}
	copy(a[:], b)
	return a, nil
}

func writeOrPanic(w io.Writer, buf []byte) {
	if _, err := w.Write(buf); err != nil {
		panic(err)
	}
}

// EventHash computes the canonical keccak-256 hash of an encoded event.
// The framing (header, payload length, separator, footer) keeps the hash
// domain distinct from any other keccak use.
func EventHash(buffer []byte) Hash {
	h := sha3.NewLegacyKeccak256()
	writeOrPanic(h, hashHeader)
	if err := binary.Write(h, binary.LittleEndian, uint64(len(buffer))); err != nil {
		panic(err)
	}
	writeOrPanic(h, hashSeparator)
	writeOrPanic(h, buffer)
	writeOrPanic(h, hashFooter)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// DelegateHashSrc builds the byte string a primary key signs to authorize
// a device public key until expiryEpochMs (0 means no expiry).
func DelegateHashSrc(devicePublicKey []byte, expiryEpochMs int64) ([]byte, error) {
	if expiryEpochMs < 0 {
		return nil, fmt.Errorf("codec: delegate expiry must be non-negative, got %d", expiryEpochMs)
	}
	if len(devicePublicKey) != 64 && len(devicePublicKey) != 65 {
		return nil, fmt.Errorf("%w: delegate public key must be 64 or 65 bytes, got %d",
			ErrMalformedPublicKey, len(devicePublicKey))
	}
	var buf bytes.Buffer
	writeOrPanic(&buf, delegateHashHeader)
	writeOrPanic(&buf, devicePublicKey)
	if err := binary.Write(&buf, binary.LittleEndian, expiryEpochMs); err != nil {
		panic(err)
	}
	return buf.Bytes(), nil
}

// ParsePublicKey parses a 33-byte compressed or 65-byte uncompressed
// secp256k1 public key.
func ParsePublicKey(b []byte) (*secp256k1.PublicKey, error) {
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPublicKey, err)
	}
	return pub, nil
}

// AddressFromPublicKey derives the 20-byte address from a public key:
// the last 20 bytes of keccak-256 over the uncompressed key body.
func AddressFromPublicKey(pub *secp256k1.PublicKey) Address {
	raw := pub.SerializeUncompressed()
	h := sha3.NewLegacyKeccak256()
	writeOrPanic(h, raw[1:]) // strip the 0x04 format prefix
	sum := h.Sum(nil)
	var a Address
	copy(a[:], sum[len(sum)-20:])
	return a
}

// Sign produces a 65-byte compact signature with an embedded recovery
// code over the given hash.
func Sign(hash Hash, key *secp256k1.PrivateKey) []byte {
	return ecdsa.SignCompact(key, hash[:], false)
}

// RecoverSigner recovers the public key that produced a compact
// signature over hash.
func RecoverSigner(hash Hash, signature []byte) (*secp256k1.PublicKey, error) {
	pub, _, err := ecdsa.RecoverCompact(signature, hash[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return pub, nil
}

// Verify reports whether signature over hash resolves to pub.
func Verify(hash Hash, signature []byte, pub *secp256k1.PublicKey) bool {
	recovered, err := RecoverSigner(hash, signature)
	if err != nil {
		return false
	}
	return recovered.IsEqual(pub)
}

// CheckDelegateSig verifies that delegateSig was produced by the key
// behind creator over (devicePublicKey, expiryEpochMs), and that the
// delegation has not expired. now supplies the clock for expiry checks.
func CheckDelegateSig(
	devicePublicKey []byte,
	creator Address,
	delegateSig []byte,
	expiryEpochMs int64,
	now time.Time,
) error {
	if expiryEpochMs != 0 && now.UnixMilli() >= expiryEpochMs {
		return fmt.Errorf("%w: expiry %d", ErrDelegateExpired, expiryEpochMs)
	}
	src, err := DelegateHashSrc(devicePublicKey, expiryEpochMs)
	if err != nil {
		return err
	}
	hash := EventHash(src)
	pub, err := RecoverSigner(hash, delegateSig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDelegate, err)
	}
	if AddressFromPublicKey(pub) != creator {
		return fmt.Errorf("%w: signer does not match creator %s", ErrInvalidDelegate, creator.Hex())
	}
	return nil
}
