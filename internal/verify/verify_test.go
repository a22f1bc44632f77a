package verify

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamsync/internal/codec"
	"streamsync/internal/model"
	"streamsync/internal/persist"
	"streamsync/internal/transport"
)

func testSigner(t *testing.T) *codec.SignerContext {
	t.Helper()
	w, err := codec.NewWallet()
	require.NoError(t, err)
	return codec.NewSignerContext(w)
}

func makeEnvelope(t *testing.T, signer *codec.SignerContext, payload model.Payload) *model.Envelope {
	t.Helper()
	env, err := model.MakeEvent(signer, payload, nil)
	require.NoError(t, err)
	return env
}

func makeBundle(t *testing.T, signer *codec.SignerContext, num int64, prev codec.Hash, events []*model.Envelope, snap *model.Snapshot) transport.MiniblockBundle {
	t.Helper()
	hashes := make([]codec.Hash, len(events))
	for i, env := range events {
		hashes[i] = env.Hash
	}
	header := makeEnvelope(t, signer, &model.MiniblockHeaderPayload{
		MiniblockNum:      num,
		PrevMiniblockHash: prev,
		EventHashes:       hashes,
		Snapshot:          snap,
	})
	return transport.MiniblockBundle{Header: header, Events: events}
}

// seedStore writes a small valid stream into a fresh cache and returns
// its path, stream id, and bundles.
func seedStore(t *testing.T) (string, model.StreamID, []transport.MiniblockBundle) {
	t.Helper()
	signer := testSigner(t)
	streamID, err := model.MakeStreamID(model.StreamKindChannel)
	require.NoError(t, err)

	snap := &model.Snapshot{
		Version:  model.CurrentSnapshotVersion,
		StreamID: streamID,
		Channel:  &model.ChannelSnapshot{},
	}
	msg := makeEnvelope(t, signer, &model.ChannelMessagePayload{
		Data: model.EncryptedData{Ciphertext: "x"},
	})
	b0 := makeBundle(t, signer, 0, codec.Hash{}, nil, snap)
	b1 := makeBundle(t, signer, 1, b0.Header.Hash, []*model.Envelope{msg}, nil)
	bundles := []transport.MiniblockBundle{b0, b1}

	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := persist.Open(path)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveMiniblocks(streamID, bundles))
	require.NoError(t, store.SaveStream(&persist.StreamRecord{
		StreamID:                 streamID,
		LastSnapshotMiniblockNum: 0,
		LastMiniblockNum:         1,
	}))
	return path, streamID, bundles
}

func TestVerifyValidCache(t *testing.T) {
	path, streamID, _ := seedStore(t)

	v, err := NewVerifier(path)
	require.NoError(t, err)
	defer v.Close()

	res, err := v.VerifyStream(streamID)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 2, res.Miniblocks)
	assert.Equal(t, 1, res.Events)

	report, err := v.VerifyAll()
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 0, report.Failed)
}

func TestVerifyDetectsTamperedEnvelope(t *testing.T) {
	path, streamID, bundles := seedStore(t)

	// Flip a byte of the stored event and re-save.
	store, err := persist.Open(path)
	require.NoError(t, err)
	tampered := bundles[1]
	tampered.Events[0].Event = append([]byte(nil), tampered.Events[0].Event...)
	tampered.Events[0].Event[0] ^= 0xff
	require.NoError(t, store.SaveMiniblocks(streamID, []transport.MiniblockBundle{tampered}))
	require.NoError(t, store.Close())

	v, err := NewVerifier(path)
	require.NoError(t, err)
	defer v.Close()

	res, err := v.VerifyStream(streamID)
	require.NoError(t, err)
	assert.False(t, res.Valid)

	var failed string
	for _, c := range res.Components {
		if c.Status == StatusFail {
			failed = c.Component
			break
		}
	}
	assert.Equal(t, "envelopes", failed)
}

func TestVerifyDetectsRecordDrift(t *testing.T) {
	path, streamID, _ := seedStore(t)

	store, err := persist.Open(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveStream(&persist.StreamRecord{
		StreamID:                 streamID,
		LastSnapshotMiniblockNum: 0,
		LastMiniblockNum:         7,
	}))
	require.NoError(t, store.Close())

	v, err := NewVerifier(path)
	require.NoError(t, err)
	defer v.Close()

	res, err := v.VerifyStream(streamID)
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestVerifyUnknownStream(t *testing.T) {
	path, _, _ := seedStore(t)
	v, err := NewVerifier(path)
	require.NoError(t, err)
	defer v.Close()

	other, err := model.MakeStreamID(model.StreamKindDM)
	require.NoError(t, err)
	_, err = v.VerifyStream(other)
	assert.ErrorIs(t, err, ErrStreamNotCached)
}

func TestReportFormats(t *testing.T) {
	path, _, _ := seedStore(t)
	v, err := NewVerifier(path)
	require.NoError(t, err)
	defer v.Close()

	report, err := v.VerifyAll()
	require.NoError(t, err)

	for _, format := range []ReportFormat{FormatJSON, FormatText, FormatMarkdown} {
		var buf bytes.Buffer
		require.NoError(t, NewReportGenerator(format).Generate(report, &buf))
		assert.NotZero(t, buf.Len())
	}
}
