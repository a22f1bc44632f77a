package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamsync/internal/codec"
)

func testSigner(t *testing.T) *codec.SignerContext {
	t.Helper()
	w, err := codec.NewWallet()
	require.NoError(t, err)
	return codec.NewSignerContext(w)
}

func TestStreamIDKinds(t *testing.T) {
	cases := []struct {
		kind StreamKind
		name string
	}{
		{StreamKindSpace, "space"},
		{StreamKindChannel, "channel"},
		{StreamKindDM, "dm"},
		{StreamKindGDM, "gdm"},
		{StreamKindMedia, "media"},
		{StreamKindUser, "user"},
		{StreamKindUserSettings, "userSettings"},
		{StreamKindDeviceKey, "deviceKey"},
		{StreamKindInbox, "inbox"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := MakeStreamID(tc.kind)
			require.NoError(t, err)
			assert.True(t, id.Valid())
			assert.Equal(t, tc.kind, id.Kind())
			assert.Equal(t, tc.name, id.Kind().String())
		})
	}

	assert.Equal(t, StreamKindUnknown, StreamID("abcd").Kind())
	assert.False(t, StreamID("abcd").Valid())
}

func TestChannelIDEmbedsSpace(t *testing.T) {
	spaceID, err := MakeStreamID(StreamKindSpace)
	require.NoError(t, err)
	channelID, err := MakeChannelStreamID(spaceID)
	require.NoError(t, err)

	got, err := channelID.SpaceID()
	require.NoError(t, err)
	assert.Equal(t, spaceID[:42], got[:42])
	assert.Equal(t, StreamKindSpace, got.Kind())

	_, err = spaceID.SpaceID()
	assert.Error(t, err)
}

func TestUserDerivedStreamIDsAreDeterministic(t *testing.T) {
	w, err := codec.NewWallet()
	require.NoError(t, err)
	assert.Equal(t, UserStreamID(w.Address), UserStreamID(w.Address))
	assert.NotEqual(t, UserStreamID(w.Address), InboxStreamID(w.Address))
	assert.Equal(t, StreamKindDeviceKey, DeviceKeyStreamID(w.Address).Kind())
}

func TestMakeAndParseEvent(t *testing.T) {
	signer := testSigner(t)
	tip := codec.EventHash([]byte("tip"))

	env, err := MakeEvent(signer, &ChannelMessagePayload{
		Data: EncryptedData{Ciphertext: "deadbeef", Algorithm: "grpaes"},
	}, &tip)
	require.NoError(t, err)

	parsed, err := ParseEnvelope(env, time.Now())
	require.NoError(t, err)
	assert.Equal(t, signer.Creator.Hex(), parsed.CreatorID)
	assert.Equal(t, tip.Hex(), parsed.PrevMiniblockHashStr())

	msg, ok := parsed.Event.Payload.(*ChannelMessagePayload)
	require.True(t, ok)
	assert.Equal(t, "deadbeef", msg.Data.Ciphertext)
}

func TestEventSaltMakesHashesUnique(t *testing.T) {
	signer := testSigner(t)
	payload := &ChannelMessagePayload{Data: EncryptedData{Ciphertext: "x"}}

	a, err := MakeEvent(signer, payload, nil)
	require.NoError(t, err)
	b, err := MakeEvent(signer, payload, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestParseEnvelopeRejectsTampering(t *testing.T) {
	signer := testSigner(t)
	env, err := MakeEvent(signer, &ChannelMessagePayload{
		Data: EncryptedData{Ciphertext: "x"},
	}, nil)
	require.NoError(t, err)

	tampered := *env
	tampered.Event = append([]byte{}, env.Event...)
	tampered.Event[len(tampered.Event)-2] ^= 0xff
	_, err = ParseEnvelope(&tampered, time.Now())
	assert.ErrorIs(t, err, ErrHashMismatch)

	badSig := *env
	badSig.Signature = append([]byte{}, env.Signature...)
	badSig.Signature[10] ^= 0xff
	_, err = ParseEnvelope(&badSig, time.Now())
	assert.Error(t, err)
}

func TestUnrecognizedPayloadRoundTrip(t *testing.T) {
	signer := testSigner(t)
	env, err := MakeEvent(signer, &UnrecognizedPayload{
		RawKind: "future.hologram",
		Raw:     []byte(`{"shape":"dodecahedron"}`),
	}, nil)
	require.NoError(t, err)

	// An unknown payload kind still hashes, signs, and parses; the raw
	// body survives so the event can be re-encoded byte-identically.
	parsed, err := ParseEnvelope(env, time.Now())
	require.NoError(t, err)
	un, ok := parsed.Event.Payload.(*UnrecognizedPayload)
	require.True(t, ok)
	assert.Equal(t, PayloadKind("future.hologram"), un.Kind())
	assert.JSONEq(t, `{"shape":"dodecahedron"}`, string(un.Raw))

	reencoded, err := parsed.Event.MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t, env.Hash, codec.EventHash(reencoded))
}

func TestMissingPayload(t *testing.T) {
	signer := testSigner(t)
	_, err := MakeEvent(signer, nil, nil)
	assert.ErrorIs(t, err, ErrMissingPayload)
}

func TestMigrateSnapshot(t *testing.T) {
	snap := Snapshot{
		Version:  0,
		StreamID: "ff",
		Members: MembersSnapshot{
			Joined: []MemberSnapshot{
				{UserID: "bb"},
				{UserID: "aa"},
				{UserID: "bb"}, // duplicate dropped by v0->v1
			},
		},
	}

	migrated, err := MigrateSnapshot(snap)
	require.NoError(t, err)
	assert.Equal(t, CurrentSnapshotVersion, migrated.Version)
	require.Len(t, migrated.Members.Joined, 2)
	// v1->v2 sorts by user id.
	assert.Equal(t, "aa", migrated.Members.Joined[0].UserID)
	assert.Equal(t, "bb", migrated.Members.Joined[1].UserID)

	// Idempotent: migrating a current snapshot returns it unchanged.
	again, err := MigrateSnapshot(migrated)
	require.NoError(t, err)
	assert.Equal(t, migrated, again)

	_, err = MigrateSnapshot(Snapshot{Version: CurrentSnapshotVersion + 1})
	assert.Error(t, err)
}

func TestLocalIDs(t *testing.T) {
	id := NewLocalID()
	assert.True(t, IsLocalID(id))
	assert.False(t, IsLocalID("0a1b"))
	assert.NotEqual(t, id, NewLocalID())
}

func makeTestMiniblock(t *testing.T, signer *codec.SignerContext, num int64, prev codec.Hash) *Miniblock {
	t.Helper()
	env, err := MakeEvent(signer, &MiniblockHeaderPayload{
		MiniblockNum:      num,
		PrevMiniblockHash: prev,
	}, nil)
	require.NoError(t, err)
	parsed, err := ParseEnvelope(env, time.Now())
	require.NoError(t, err)
	mb, err := NewMiniblock(parsed, nil)
	require.NoError(t, err)
	return mb
}

func TestCheckChain(t *testing.T) {
	signer := testSigner(t)

	b0 := makeTestMiniblock(t, signer, 0, codec.Hash{})
	b1 := makeTestMiniblock(t, signer, 1, b0.Hash())
	b2 := makeTestMiniblock(t, signer, 2, b1.Hash())
	require.NoError(t, CheckChain([]*Miniblock{b0, b1, b2}))

	// Gap in numbering.
	b3 := makeTestMiniblock(t, signer, 4, b2.Hash())
	assert.Error(t, CheckChain([]*Miniblock{b2, b3}))

	// Broken hash link.
	b2bad := makeTestMiniblock(t, signer, 2, b0.Hash())
	assert.Error(t, CheckChain([]*Miniblock{b1, b2bad}))
}

func TestNewMiniblockRejectsNonHeader(t *testing.T) {
	signer := testSigner(t)
	env, err := MakeEvent(signer, &ChannelMessagePayload{
		Data: EncryptedData{Ciphertext: "x"},
	}, nil)
	require.NoError(t, err)
	parsed, err := ParseEnvelope(env, time.Now())
	require.NoError(t, err)
	_, err = NewMiniblock(parsed, nil)
	assert.ErrorIs(t, err, ErrNotMiniblockHeader)
}
