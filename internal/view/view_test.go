package view

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamsync/internal/codec"
	"streamsync/internal/model"
)

type eventCollector struct {
	events []StreamEvent
}

func (c *eventCollector) sink() Sink {
	return func(ev StreamEvent) { c.events = append(c.events, ev) }
}

func (c *eventCollector) countMembershipChanged() int {
	n := 0
	for _, ev := range c.events {
		if _, ok := ev.(MembershipChanged); ok {
			n++
		}
	}
	return n
}

func testSigner(t *testing.T) *codec.SignerContext {
	t.Helper()
	w, err := codec.NewWallet()
	require.NoError(t, err)
	return codec.NewSignerContext(w)
}

func parse(t *testing.T, signer *codec.SignerContext, payload model.Payload, prev *codec.Hash) *model.ParsedEvent {
	t.Helper()
	env, err := model.MakeEvent(signer, payload, prev)
	require.NoError(t, err)
	parsed, err := model.ParseEnvelope(env, time.Now())
	require.NoError(t, err)
	return parsed
}

func makeBlock(t *testing.T, signer *codec.SignerContext, num int64, prev codec.Hash, offset int64, events []*model.ParsedEvent, snap *model.Snapshot) *model.Miniblock {
	t.Helper()
	hashes := make([]codec.Hash, len(events))
	for i, ev := range events {
		hashes[i] = ev.Hash
	}
	header := parse(t, signer, &model.MiniblockHeaderPayload{
		MiniblockNum:      num,
		PrevMiniblockHash: prev,
		EventHashes:       hashes,
		EventNumOffset:    offset,
		Snapshot:          snap,
	}, nil)
	mb, err := model.NewMiniblock(header, events)
	require.NoError(t, err)
	return mb
}

func channelStreamID(t *testing.T) model.StreamID {
	t.Helper()
	id, err := model.MakeStreamID(model.StreamKindChannel)
	require.NoError(t, err)
	return id
}

func channelSnapshot(streamID model.StreamID, joined ...string) model.Snapshot {
	snap := model.Snapshot{
		Version:  model.CurrentSnapshotVersion,
		StreamID: streamID,
		Channel:  &model.ChannelSnapshot{},
	}
	for _, userID := range joined {
		snap.Members.Joined = append(snap.Members.Joined, model.MemberSnapshot{UserID: userID})
	}
	return snap
}

// initializedView builds a channel view hydrated with a snapshot block
// at snapBlockNum plus extra following blocks each carrying the given
// payloads.
func initializedView(t *testing.T, signer *codec.SignerContext, snapBlockNum int64, perBlockPayloads [][]model.Payload, collector *eventCollector) (*StreamView, []*model.Miniblock) {
	t.Helper()
	streamID := channelStreamID(t)

	blocks := []*model.Miniblock{
		makeBlock(t, signer, snapBlockNum, codec.Hash{}, 0, nil, nil),
	}
	offset := int64(100)
	for i, payloads := range perBlockPayloads {
		var events []*model.ParsedEvent
		for _, p := range payloads {
			events = append(events, parse(t, signer, p, nil))
		}
		blocks = append(blocks, makeBlock(
			t, signer, snapBlockNum+int64(i)+1, blocks[len(blocks)-1].Hash(), offset, events, nil))
		offset += int64(len(events))
	}

	var sink Sink
	if collector != nil {
		sink = collector.sink()
	}
	v := NewStreamView(signer.Creator.Hex(), streamID, sink, nil)
	require.NoError(t, v.Initialize(InitParams{
		Snapshot:                 channelSnapshot(streamID),
		Miniblocks:               blocks,
		PrevSnapshotMiniblockNum: snapBlockNum,
	}))
	return v, blocks
}

func TestInitializeRequiresMiniblocks(t *testing.T) {
	signer := testSigner(t)
	v := NewStreamView(signer.Creator.Hex(), channelStreamID(t), nil, nil)
	err := v.Initialize(InitParams{Snapshot: model.Snapshot{Version: model.CurrentSnapshotVersion}})
	assert.ErrorIs(t, err, ErrEmptyStream)
	assert.False(t, v.Initialized())
}

func TestInitializeSnapshotAtFiveWithTwoLaterBlocks(t *testing.T) {
	signer := testSigner(t)
	msg := func() model.Payload {
		return &model.ChannelMessagePayload{Data: model.EncryptedData{Ciphertext: "m"}}
	}
	v, _ := initializedView(t, signer, 5, [][]model.Payload{{msg()}, {msg()}}, nil)

	assert.Equal(t, 2, v.Len())
	assert.False(t, v.TerminusReached())
	minNum, maxNum, ok := v.MiniblockBounds()
	require.True(t, ok)
	assert.Equal(t, int64(5), minNum)
	assert.Equal(t, int64(7), maxNum)
	assert.Equal(t, int64(5), v.PrevSnapshotMiniblockNum())
	assert.True(t, v.NeedsScrollback())

	for _, e := range v.Timeline() {
		assert.True(t, e.IsConfirmed())
	}
}

func TestSnapshotBlockEventsReplayedAsPrepends(t *testing.T) {
	signer := testSigner(t)
	streamID := channelStreamID(t)

	snapEvents := []*model.ParsedEvent{
		parse(t, signer, &model.ChannelMessagePayload{Data: model.EncryptedData{Ciphertext: "old1"}}, nil),
		parse(t, signer, &model.ChannelMessagePayload{Data: model.EncryptedData{Ciphertext: "old2"}}, nil),
	}
	b0 := makeBlock(t, signer, 0, codec.Hash{}, 0, snapEvents, nil)

	v := NewStreamView(signer.Creator.Hex(), streamID, nil, nil)
	require.NoError(t, v.Initialize(InitParams{
		Snapshot:   channelSnapshot(streamID),
		Miniblocks: []*model.Miniblock{b0},
	}))

	// Snapshot-block events are present, in original order, confirmed.
	require.Equal(t, 2, v.Len())
	timeline := v.Timeline()
	assert.Equal(t, snapEvents[0].HashStr, timeline[0].HashStr)
	assert.Equal(t, snapEvents[1].HashStr, timeline[1].HashStr)
	assert.True(t, timeline[0].IsConfirmed())

	// Block 0 is the terminus.
	assert.True(t, v.TerminusReached())
	assert.False(t, v.NeedsScrollback())
}

func TestAppendDeduplicatesByHash(t *testing.T) {
	signer := testSigner(t)
	v, _ := initializedView(t, signer, 5, nil, nil)

	ev := parse(t, signer, &model.ChannelMessagePayload{Data: model.EncryptedData{Ciphertext: "x"}}, nil)
	require.NoError(t, v.AppendEvents([]*model.ParsedEvent{ev}, nil, nil))
	require.NoError(t, v.AppendEvents([]*model.ParsedEvent{ev}, nil, nil))

	assert.Equal(t, 1, v.Len())
}

func TestLocalToRemoteTransition(t *testing.T) {
	signer := testSigner(t)
	v, _ := initializedView(t, signer, 5, nil, nil)

	payload := &model.ChannelMessagePayload{Data: model.EncryptedData{Ciphertext: "hi"}}
	localID := v.AppendLocalEvent(payload, model.LocalSending)
	assert.Equal(t, 1, v.Len())

	ev := parse(t, signer, payload, nil)
	require.NoError(t, v.UpdateLocalEvent(localID, ev.HashStr, model.LocalSent))

	// The server echo merges into the same slot.
	require.NoError(t, v.AppendEvents([]*model.ParsedEvent{ev}, nil, nil))
	require.Equal(t, 1, v.Len())

	entry, ok := v.Entry(ev.HashStr)
	require.True(t, ok)
	assert.True(t, entry.IsLocal())
	assert.True(t, entry.IsRemote())
	assert.Equal(t, model.LocalSent, entry.Local.Status)

	// The old temporary id still resolves to the same entry.
	byLocal, ok := v.Entry(localID)
	require.True(t, ok)
	assert.Same(t, entry, byLocal)
}

func TestUpdateUnknownLocalEvent(t *testing.T) {
	signer := testSigner(t)
	v, _ := initializedView(t, signer, 5, nil, nil)
	err := v.UpdateLocalEvent("~nope", "", model.LocalFailed)
	assert.ErrorIs(t, err, ErrUnknownLocalEvent)
}

func TestMembershipPendingThenConfirmed(t *testing.T) {
	signer := testSigner(t)
	collector := &eventCollector{}
	v, blocks := initializedView(t, signer, 5, nil, collector)

	userID := signer.Creator.Hex()
	join := parse(t, signer, &model.MembershipPayload{Op: model.MembershipJoin, UserID: userID}, nil)
	require.NoError(t, v.AppendEvents([]*model.ParsedEvent{join}, nil, nil))

	assert.True(t, v.Members().IsPendingJoined(userID))
	assert.False(t, v.Members().IsJoined(userID))
	assert.Equal(t, 0, collector.countMembershipChanged())

	header := parse(t, signer, &model.MiniblockHeaderPayload{
		MiniblockNum:      6,
		PrevMiniblockHash: blocks[len(blocks)-1].Hash(),
		EventHashes:       []codec.Hash{join.Hash},
		EventNumOffset:    10,
	}, nil)
	require.NoError(t, v.AppendEvents([]*model.ParsedEvent{header}, nil, nil))

	assert.True(t, v.Members().IsJoined(userID))
	assert.False(t, v.Members().IsPendingJoined(userID))
	assert.Equal(t, 1, collector.countMembershipChanged())

	entry, ok := v.Entry(join.HashStr)
	require.True(t, ok)
	require.True(t, entry.IsConfirmed())
	assert.Equal(t, int64(6), *entry.MiniblockNum)
	assert.Equal(t, int64(10), *entry.ConfirmedEventNum)
}

func TestConfirmationIsMonotonic(t *testing.T) {
	signer := testSigner(t)
	v, blocks := initializedView(t, signer, 5, nil, nil)

	ev := parse(t, signer, &model.ChannelMessagePayload{Data: model.EncryptedData{Ciphertext: "x"}}, nil)
	require.NoError(t, v.AppendEvents([]*model.ParsedEvent{ev}, nil, nil))

	header := parse(t, signer, &model.MiniblockHeaderPayload{
		MiniblockNum:      6,
		PrevMiniblockHash: blocks[len(blocks)-1].Hash(),
		EventHashes:       []codec.Hash{ev.Hash},
		EventNumOffset:    3,
	}, nil)
	require.NoError(t, v.AppendEvents([]*model.ParsedEvent{header}, nil, nil))

	entry, _ := v.Entry(ev.HashStr)
	require.True(t, entry.IsConfirmed())

	// A later header listing the same hash cannot restamp it.
	header2 := parse(t, signer, &model.MiniblockHeaderPayload{
		MiniblockNum:   7,
		EventHashes:    []codec.Hash{ev.Hash},
		EventNumOffset: 99,
	}, nil)
	require.NoError(t, v.AppendEvents([]*model.ParsedEvent{header2}, nil, nil))
	assert.Equal(t, int64(6), *entry.MiniblockNum)
	assert.Equal(t, int64(3), *entry.ConfirmedEventNum)
}

func TestOutOfOrderMiniblockIsFatal(t *testing.T) {
	signer := testSigner(t)
	v, _ := initializedView(t, signer, 5, nil, nil)

	stale := parse(t, signer, &model.MiniblockHeaderPayload{MiniblockNum: 5}, nil)
	err := v.AppendEvents([]*model.ParsedEvent{stale}, nil, nil)
	assert.ErrorIs(t, err, ErrOutOfOrderMiniblock)
}

func TestDeliveryGapIsTolerated(t *testing.T) {
	signer := testSigner(t)
	v, _ := initializedView(t, signer, 5, nil, nil)

	known := parse(t, signer, &model.ChannelMessagePayload{Data: model.EncryptedData{Ciphertext: "k"}}, nil)
	require.NoError(t, v.AppendEvents([]*model.ParsedEvent{known}, nil, nil))

	missing := codec.EventHash([]byte("never delivered"))
	header := parse(t, signer, &model.MiniblockHeaderPayload{
		MiniblockNum: 6,
		EventHashes:  []codec.Hash{missing, known.Hash},
	}, nil)

	// The gap is logged, the rest of the batch still confirms.
	require.NoError(t, v.AppendEvents([]*model.ParsedEvent{header}, nil, nil))
	entry, _ := v.Entry(known.HashStr)
	require.True(t, entry.IsConfirmed())
	assert.Equal(t, int64(1), *entry.ConfirmedEventNum)
}

func TestPrependScrollback(t *testing.T) {
	signer := testSigner(t)
	v, _ := initializedView(t, signer, 2, nil, nil)
	require.True(t, v.NeedsScrollback())

	older := []*model.ParsedEvent{
		parse(t, signer, &model.ChannelMessagePayload{Data: model.EncryptedData{Ciphertext: "a"}}, nil),
	}
	oldest := []*model.ParsedEvent{
		parse(t, signer, &model.ChannelMessagePayload{Data: model.EncryptedData{Ciphertext: "b"}}, nil),
	}
	b0 := makeBlock(t, signer, 0, codec.Hash{}, 0, oldest, nil)
	b1 := makeBlock(t, signer, 1, b0.Hash(), 1, older, nil)

	v.PrependEvents([]*model.Miniblock{b0, b1}, nil, true)

	assert.True(t, v.TerminusReached())
	assert.False(t, v.NeedsScrollback())
	minNum, _, _ := v.MiniblockBounds()
	assert.Equal(t, int64(0), minNum)

	// Oldest first in the timeline.
	timeline := v.Timeline()
	require.Len(t, timeline, 2)
	assert.Equal(t, oldest[0].HashStr, timeline[0].HashStr)
	assert.Equal(t, older[0].HashStr, timeline[1].HashStr)

	// Prepending the same blocks again adds nothing.
	v.PrependEvents([]*model.Miniblock{b0, b1}, nil, true)
	assert.Equal(t, 2, v.Len())
}

func TestUsernameChecksumUniqueness(t *testing.T) {
	first := testSigner(t)
	second := testSigner(t)
	v, _ := initializedView(t, first, 5, nil, nil)
	streamID := v.StreamID()

	checksum := UsernameChecksum("neo", streamID)
	claim := parse(t, first, &model.UsernamePayload{
		Data: model.EncryptedData{Ciphertext: "c1", Checksum: checksum},
	}, nil)
	require.NoError(t, v.AppendEvents([]*model.ParsedEvent{claim}, nil, nil))

	firstID := first.Creator.Hex()
	secondID := second.Creator.Hex()
	assert.False(t, v.Members().UsernameAvailable(checksum, secondID))
	assert.True(t, v.Members().UsernameAvailable(checksum, firstID))

	// A colliding claim from another user is rejected; the checksum
	// stays owned by the first claimant.
	rival := parse(t, second, &model.UsernamePayload{
		Data: model.EncryptedData{Ciphertext: "c2", Checksum: checksum},
	}, nil)
	require.NoError(t, v.AppendEvents([]*model.ParsedEvent{rival}, nil, nil))
	assert.False(t, v.Members().UsernameAvailable(checksum, secondID))
	require.NotNil(t, v.Members().Username(firstID))
	assert.Equal(t, "c1", v.Members().Username(firstID).Data.Ciphertext)

	// Retraction by superseding claim frees the checksum.
	newClaim := parse(t, first, &model.UsernamePayload{
		Data: model.EncryptedData{Ciphertext: "c3", Checksum: UsernameChecksum("morpheus", streamID)},
	}, nil)
	require.NoError(t, v.AppendEvents([]*model.ParsedEvent{newClaim}, nil, nil))
	assert.True(t, v.Members().UsernameAvailable(checksum, secondID))
}

func TestDecryptedContentIdempotent(t *testing.T) {
	signer := testSigner(t)
	collector := &eventCollector{}
	v, _ := initializedView(t, signer, 5, nil, collector)

	ev := parse(t, signer, &model.ChannelMessagePayload{Data: model.EncryptedData{Ciphertext: "x"}}, nil)
	require.NoError(t, v.AppendEvents([]*model.ParsedEvent{ev}, nil, nil))

	v.UpdateDecryptedContent(ev.HashStr, model.DecryptedContent{Kind: "text", Content: "hello"})
	v.UpdateDecryptedContent(ev.HashStr, model.DecryptedContent{Kind: "text", Content: "other"})

	entry, _ := v.Entry(ev.HashStr)
	require.NotNil(t, entry.DecryptedContent)
	assert.Equal(t, "hello", entry.DecryptedContent.Content)

	// An error report after successful decryption is ignored.
	v.UpdateDecryptedContentError(ev.HashStr, &model.DecryptionError{Kind: "text", Message: "no session"})
	assert.Nil(t, entry.DecryptedContentError)
}

func TestSalvagedLocalEventsSurviveReinit(t *testing.T) {
	signer := testSigner(t)
	v, blocks := initializedView(t, signer, 5, nil, nil)

	payload := &model.ChannelMessagePayload{Data: model.EncryptedData{Ciphertext: "draft"}}
	localID := v.AppendLocalEvent(payload, model.LocalSending)

	salvaged := v.UnsentLocalEvents()
	require.Len(t, salvaged, 1)

	require.NoError(t, v.Initialize(InitParams{
		Snapshot:            channelSnapshot(v.StreamID()),
		Miniblocks:          blocks,
		SalvagedLocalEvents: salvaged,
	}))

	entry, ok := v.Entry(localID)
	require.True(t, ok)
	assert.True(t, entry.IsLocal())
	assert.Equal(t, model.LocalSending, entry.Local.Status)
}

func TestEmbeddedSnapshotAdoption(t *testing.T) {
	signer := testSigner(t)
	v, _ := initializedView(t, signer, 5, nil, nil)

	newcomer := "0xabc"
	snap := channelSnapshot(v.StreamID(), newcomer)
	header := parse(t, signer, &model.MiniblockHeaderPayload{
		MiniblockNum: 6,
		Snapshot:     &snap,
	}, nil)
	require.NoError(t, v.AppendEvents([]*model.ParsedEvent{header}, nil, nil))

	assert.True(t, v.Members().IsJoined(newcomer))
	assert.Equal(t, int64(6), v.PrevSnapshotMiniblockNum())
}

func TestStreamUpdatedBatchPartitions(t *testing.T) {
	signer := testSigner(t)
	collector := &eventCollector{}
	v, _ := initializedView(t, signer, 5, nil, collector)
	collector.events = nil

	ev := parse(t, signer, &model.ChannelMessagePayload{Data: model.EncryptedData{Ciphertext: "x"}}, nil)
	header := parse(t, signer, &model.MiniblockHeaderPayload{
		MiniblockNum: 6,
		EventHashes:  []codec.Hash{ev.Hash},
	}, nil)
	require.NoError(t, v.AppendEvents([]*model.ParsedEvent{ev, header}, nil, nil))

	var updates []StreamUpdated
	for _, raw := range collector.events {
		if u, ok := raw.(StreamUpdated); ok {
			updates = append(updates, u)
		}
	}
	require.Len(t, updates, 1)
	assert.Len(t, updates[0].Appended, 1)
	assert.Len(t, updates[0].Confirmed, 1)
	assert.Empty(t, updates[0].Updated)
}
