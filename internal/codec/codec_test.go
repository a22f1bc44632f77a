package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHashDeterministic(t *testing.T) {
	a := EventHash([]byte("hello world"))
	b := EventHash([]byte("hello world"))
	assert.Equal(t, a, b)

	c := EventHash([]byte("hello worlds"))
	assert.NotEqual(t, a, c)
}

func TestEventHashLengthFraming(t *testing.T) {
	// Same concatenated bytes split differently must not collide because
	// the payload length is part of the framing.
	a := EventHash([]byte(""))
	b := EventHash([]byte{0})
	assert.NotEqual(t, a, b)
}

func TestHashHexRoundTrip(t *testing.T) {
	h := EventHash([]byte("round trip"))
	parsed, err := HashFromHex(h.Hex())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = HashFromHex("abcd")
	assert.Error(t, err)
}

func TestSignAndRecover(t *testing.T) {
	w, err := NewWallet()
	require.NoError(t, err)

	hash := EventHash([]byte("payload"))
	sig := Sign(hash, w.Key)
	require.Len(t, sig, 65)

	pub, err := RecoverSigner(hash, sig)
	require.NoError(t, err)
	assert.Equal(t, w.Address, AddressFromPublicKey(pub))
	assert.True(t, Verify(hash, sig, w.Key.PubKey()))

	// Signature over a different hash must not verify against this one.
	otherSig := Sign(EventHash([]byte("other")), w.Key)
	assert.False(t, Verify(hash, otherSig, w.Key.PubKey()))
}

func TestRecoverSignerRejectsGarbage(t *testing.T) {
	hash := EventHash([]byte("payload"))
	_, err := RecoverSigner(hash, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestWalletFromHexStable(t *testing.T) {
	const key = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	w1, err := NewWalletFromHex(key)
	require.NoError(t, err)
	w2, err := NewWalletFromHex(key)
	require.NoError(t, err)
	assert.Equal(t, w1.Address, w2.Address)

	_, err = NewWalletFromHex("abcd")
	assert.Error(t, err)
}

func TestDelegateSig(t *testing.T) {
	primary, err := NewWallet()
	require.NoError(t, err)
	deviceA, err := NewWallet()
	require.NoError(t, err)
	deviceB, err := NewWallet()
	require.NoError(t, err)

	now := time.Now()
	expiryNone := int64(0)
	expiryValid := now.Add(10 * time.Second).UnixMilli()

	ctxA, err := NewDelegateSignerContext(primary, deviceA, expiryNone)
	require.NoError(t, err)
	ctxB, err := NewDelegateSignerContext(primary, deviceB, expiryValid)
	require.NoError(t, err)
	assert.NotEqual(t, ctxA.DelegateSig, ctxB.DelegateSig)

	pubA := deviceA.Key.PubKey().SerializeUncompressed()
	pubB := deviceB.Key.PubKey().SerializeUncompressed()

	require.NoError(t, CheckDelegateSig(pubA, primary.Address, ctxA.DelegateSig, expiryNone, now))
	require.NoError(t, CheckDelegateSig(pubB, primary.Address, ctxB.DelegateSig, expiryValid, now))

	// Wrong signature for the device key.
	err = CheckDelegateSig(pubB, primary.Address, ctxB.DelegateSig, expiryNone, now)
	assert.ErrorIs(t, err, ErrInvalidDelegate)

	// Wrong creator address.
	err = CheckDelegateSig(pubA, deviceB.Address, ctxA.DelegateSig, expiryNone, now)
	assert.ErrorIs(t, err, ErrInvalidDelegate)

	// Expired delegation is its own error kind.
	expired := now.Add(-time.Second).UnixMilli()
	ctxExpired, err := NewDelegateSignerContext(primary, deviceA, expired)
	require.NoError(t, err)
	err = CheckDelegateSig(pubA, primary.Address, ctxExpired.DelegateSig, expired, now)
	assert.ErrorIs(t, err, ErrDelegateExpired)
}

func TestVerifyEventSignature(t *testing.T) {
	primary, err := NewWallet()
	require.NoError(t, err)
	device, err := NewWallet()
	require.NoError(t, err)
	now := time.Now()

	hash := EventHash([]byte("an event"))

	// Primary key signs directly.
	direct := NewSignerContext(primary)
	sig := direct.SignHash(hash)
	require.NoError(t, VerifyEventSignature(hash, sig, primary.Address, nil, 0, now))

	// Device key signs under a delegation; creator stays the primary.
	expiry := now.Add(time.Minute).UnixMilli()
	delegated, err := NewDelegateSignerContext(primary, device, expiry)
	require.NoError(t, err)
	assert.Equal(t, primary.Address, delegated.Creator)
	devSig := delegated.SignHash(hash)
	require.NoError(t, VerifyEventSignature(
		hash, devSig, primary.Address, delegated.DelegateSig, expiry, now))

	// Device signature without the delegation fails attribution.
	err = VerifyEventSignature(hash, devSig, primary.Address, nil, 0, now)
	assert.ErrorIs(t, err, ErrBadSignature)

	// Delegation presented past expiry fails.
	err = VerifyEventSignature(hash, devSig, primary.Address, delegated.DelegateSig, expiry,
		now.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrDelegateExpired)

	_, err = ParsePublicKey([]byte{0x04, 0x01})
	assert.ErrorIs(t, err, ErrMalformedPublicKey)
}
