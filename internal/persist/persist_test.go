package persist

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamsync/internal/codec"
	"streamsync/internal/model"
	"streamsync/internal/transport"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testStreamID(t *testing.T) model.StreamID {
	t.Helper()
	id, err := model.MakeStreamID(model.StreamKindChannel)
	require.NoError(t, err)
	return id
}

func makeBundle(t *testing.T, signer *codec.SignerContext, num int64, prev codec.Hash) transport.MiniblockBundle {
	t.Helper()
	header, err := model.MakeEvent(signer, &model.MiniblockHeaderPayload{
		MiniblockNum:      num,
		PrevMiniblockHash: prev,
	}, nil)
	require.NoError(t, err)
	return transport.MiniblockBundle{Header: header}
}

func TestStreamRecordRoundTrip(t *testing.T) {
	s := openTestStore(t)
	streamID := testStreamID(t)

	w, err := codec.NewWallet()
	require.NoError(t, err)
	signer := codec.NewSignerContext(w)

	pending, err := model.MakeEvent(signer, &model.ChannelMessagePayload{
		Data: model.EncryptedData{Ciphertext: "aa"},
	}, nil)
	require.NoError(t, err)

	rec := &StreamRecord{
		StreamID: streamID,
		Cursor: model.SyncCursor{
			NodeAddress: "node-1",
			StreamID:    streamID,
			MinipoolGen: 7,
		},
		LastSnapshotMiniblockNum: 3,
		LastMiniblockNum:         5,
		Minipool:                 []*model.Envelope{pending},
	}
	require.NoError(t, s.SaveStream(rec))

	got, err := s.LoadStream(streamID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.Cursor, got.Cursor)
	assert.Equal(t, int64(3), got.LastSnapshotMiniblockNum)
	assert.Equal(t, int64(5), got.LastMiniblockNum)
	require.Len(t, got.Minipool, 1)
	assert.Equal(t, pending.Hash, got.Minipool[0].Hash)

	// Upsert replaces the record.
	rec.LastMiniblockNum = 6
	require.NoError(t, s.SaveStream(rec))
	got, err = s.LoadStream(streamID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.LastMiniblockNum)
}

func TestLoadStreamMissing(t *testing.T) {
	s := openTestStore(t)
	got, err := s.LoadStream(testStreamID(t))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMiniblockRanges(t *testing.T) {
	s := openTestStore(t)
	streamID := testStreamID(t)

	w, err := codec.NewWallet()
	require.NoError(t, err)
	signer := codec.NewSignerContext(w)

	var blocks []transport.MiniblockBundle
	prev := codec.Hash{}
	for num := int64(0); num < 5; num++ {
		b := makeBundle(t, signer, num, prev)
		prev = b.Header.Hash
		blocks = append(blocks, b)
	}
	require.NoError(t, s.SaveMiniblocks(streamID, blocks))

	got, err := s.LoadMiniblocks(streamID, 1, 4)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, blocks[1].Header.Hash, got[0].Header.Hash)
	assert.Equal(t, blocks[3].Header.Hash, got[2].Header.Hash)

	// Scrollback window: the two blocks just below 4, ascending.
	got, err = s.LoadMiniblocksBefore(streamID, 4, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, blocks[2].Header.Hash, got[0].Header.Hash)
	assert.Equal(t, blocks[3].Header.Hash, got[1].Header.Hash)

	// Saving the same range again is idempotent.
	require.NoError(t, s.SaveMiniblocks(streamID, blocks))
	got, err = s.LoadMiniblocks(streamID, 0, 100)
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestCleartexts(t *testing.T) {
	s := openTestStore(t)
	streamID := testStreamID(t)

	require.NoError(t, s.SaveCleartext(streamID, "ev1", model.DecryptedContent{Kind: "text", Content: "hello"}))
	require.NoError(t, s.SaveCleartext(streamID, "ev1", model.DecryptedContent{Kind: "text", Content: "hello again"}))

	got, err := s.LoadCleartexts(streamID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hello again", got["ev1"].Content)
}

func TestDeleteStreamRemovesEverything(t *testing.T) {
	s := openTestStore(t)
	streamID := testStreamID(t)

	w, err := codec.NewWallet()
	require.NoError(t, err)
	signer := codec.NewSignerContext(w)

	require.NoError(t, s.SaveStream(&StreamRecord{StreamID: streamID}))
	require.NoError(t, s.SaveMiniblocks(streamID, []transport.MiniblockBundle{makeBundle(t, signer, 0, codec.Hash{})}))
	require.NoError(t, s.SaveCleartext(streamID, "ev1", model.DecryptedContent{Kind: "text", Content: "x"}))

	require.NoError(t, s.DeleteStream(streamID))

	rec, err := s.LoadStream(streamID)
	require.NoError(t, err)
	assert.Nil(t, rec)

	blocks, err := s.LoadMiniblocks(streamID, 0, 100)
	require.NoError(t, err)
	assert.Empty(t, blocks)

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.Streams)
	assert.EqualValues(t, 0, stats.Cleartexts)
}

func TestListStreamsAndStats(t *testing.T) {
	s := openTestStore(t)
	a := testStreamID(t)
	b := testStreamID(t)

	require.NoError(t, s.SaveStream(&StreamRecord{StreamID: a}))
	require.NoError(t, s.SaveStream(&StreamRecord{StreamID: b}))

	ids, err := s.ListStreams()
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Streams)
	assert.Greater(t, stats.SizeBytes, int64(0))
}
