// Package view implements the per-stream reconciliation engine: it
// folds a snapshot, historical miniblocks, pending-pool events, and
// local unsent events into one ordered timeline plus per-kind content
// projections.
package view

import (
	"errors"
	"fmt"
	"time"

	"streamsync/internal/codec"
	"streamsync/internal/logging"
	"streamsync/internal/metrics"
	"streamsync/internal/model"
)

// Protocol-fatal errors abort reconciliation for the stream.
var (
	// ErrEmptyStream indicates an initialize with zero miniblocks.
	ErrEmptyStream = errors.New("view: cannot initialize from empty stream")

	// ErrOutOfOrderMiniblock indicates a miniblock header whose number
	// does not exceed the previously seen maximum.
	ErrOutOfOrderMiniblock = errors.New("view: out-of-order miniblock")

	// ErrUnknownLocalEvent indicates an update for a local id the view
	// has never seen.
	ErrUnknownLocalEvent = errors.New("view: unknown local event id")
)

// StreamView is the authoritative in-memory state of one stream.
// All mutation happens through the owning handle, which serializes
// access; a fold operation completes all its synchronous state
// mutation before anything can observe it, so a partially-applied
// batch is never visible.
type StreamView struct {
	streamID model.StreamID
	userID   string
	log      *logging.Logger
	sink     Sink
	metrics  *metrics.SyncMetrics

	timeline []*model.TimelineEvent
	index    map[string]*model.TimelineEvent

	// nextEventNum numbers appends; prevEventNum numbers prepends
	// downward so scrollback never renumbers existing entries.
	nextEventNum int64
	prevEventNum int64

	snapshot *model.Snapshot
	members  *MemberState
	content  ContentProjection

	cursor model.SyncCursor
	tip    codec.Hash
	hasTip bool

	minMiniblock             int64
	maxMiniblock             int64
	hasBlocks                bool
	prevSnapshotMiniblockNum int64
	terminusReached          bool

	initialized bool
	upToDate    bool
}

// NewStreamView creates a view for one (user, stream) pair. The sink
// receives every emitted event; a nil sink drops them.
func NewStreamView(userID string, streamID model.StreamID, sink Sink, log *logging.Logger) *StreamView {
	if log == nil {
		log = logging.Discard()
	}
	v := &StreamView{
		streamID:     streamID,
		userID:       userID,
		log:          log.Stream(string(streamID)),
		sink:         sink,
		metrics:      metrics.GetMetrics(),
		index:        make(map[string]*model.TimelineEvent),
		prevEventNum: -1,
	}
	v.members = NewMemberState(streamID, sink, v.log)
	v.content = newContentProjection(streamID, v.log)
	return v
}

// InitParams is the one-shot bootstrap input for Initialize.
type InitParams struct {
	Cursor                   model.SyncCursor
	Snapshot                 model.Snapshot
	Miniblocks               []*model.Miniblock
	PrependedMiniblocks      []*model.Miniblock
	MinipoolEvents           []*model.ParsedEvent
	PrevSnapshotMiniblockNum int64
	Cleartexts               map[string]model.DecryptedContent
	SalvagedLocalEvents      []*model.LocalEvent
}

func (v *StreamView) emit(ev StreamEvent) {
	if v.sink != nil {
		v.sink(ev)
	}
}

// Initialize bootstraps the view. The first miniblock is the snapshot
// block: its own events are already accounted for by the snapshot, so
// they are replayed in reverse as prepends for backlink bookkeeping;
// later miniblocks are appended forward and confirmed immediately.
func (v *StreamView) Initialize(p InitParams) error {
	if len(p.Miniblocks) == 0 {
		return ErrEmptyStream
	}
	if err := model.CheckChain(p.Miniblocks); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	snap, err := model.MigrateSnapshot(p.Snapshot)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if snap.Version != p.Snapshot.Version {
		v.metrics.SnapshotMigrations.Inc()
	}

	// Re-initialization discards all remote state; the caller salvages
	// unsent local events into p.SalvagedLocalEvents first.
	v.timeline = nil
	v.index = make(map[string]*model.TimelineEvent)
	v.nextEventNum = 0
	v.prevEventNum = -1
	v.terminusReached = false

	v.snapshot = &snap
	v.members = NewMemberState(v.streamID, v.sink, v.log)
	v.content = newContentProjection(v.streamID, v.log)
	v.members.ApplySnapshot(&snap)
	v.content.ApplySnapshot(&snap)

	first := p.Miniblocks[0]
	v.minMiniblock = first.Num()
	v.maxMiniblock = first.Num()
	v.hasBlocks = true
	v.prevSnapshotMiniblockNum = p.PrevSnapshotMiniblockNum
	v.tip = first.Hash()
	v.hasTip = true
	if first.Num() == 0 {
		v.terminusReached = true
	}

	firstHeader := first.Header()
	for i := len(first.Events) - 1; i >= 0; i-- {
		entry := v.confirmedEntry(first.Events[i], firstHeader, i, v.prevEventNum)
		v.prevEventNum--
		v.insertFront(entry)
		v.members.PrependEvent(entry)
		v.content.PrependEvent(entry)
	}

	for _, mb := range p.Miniblocks[1:] {
		header := mb.Header()
		for i, ev := range mb.Events {
			entry := v.confirmedEntry(ev, header, i, v.nextEventNum)
			v.nextEventNum++
			v.appendEntry(entry)
			v.members.AppendEvent(entry)
			v.content.AppendEvent(entry)
			v.members.OnConfirmedEvent(entry)
			v.content.OnConfirmedEvent(entry)
		}
		v.maxMiniblock = mb.Num()
		v.tip = mb.Hash()
	}

	if len(p.PrependedMiniblocks) > 0 {
		v.foldPrepend(p.PrependedMiniblocks, nil)
	}

	for _, ev := range p.MinipoolEvents {
		v.foldAppend(ev, nil)
	}

	for _, le := range p.SalvagedLocalEvents {
		v.attachLocal(le)
	}

	for id, c := range p.Cleartexts {
		v.applyCleartext(id, c, false)
	}

	v.cursor = p.Cursor
	v.initialized = true
	v.emit(StreamInitialized{StreamID: v.streamID})
	if !v.upToDate {
		v.upToDate = true
		v.emit(StreamUpToDate{StreamID: v.streamID})
	}
	return nil
}

func (v *StreamView) confirmedEntry(ev *model.ParsedEvent, header *model.MiniblockHeaderPayload, offset int, eventNum int64) *model.TimelineEvent {
	num := header.MiniblockNum
	cen := header.EventNumOffset + int64(offset)
	return model.NewRemoteTimelineEvent(ev, eventNum, &num, &cen)
}

func (v *StreamView) appendEntry(e *model.TimelineEvent) {
	v.timeline = append(v.timeline, e)
	v.index[e.HashStr] = e
}

func (v *StreamView) insertFront(e *model.TimelineEvent) {
	v.timeline = append([]*model.TimelineEvent{e}, v.timeline...)
	v.index[e.HashStr] = e
}

// AppendEvents folds a batch of incoming events: pending-pool events
// are appended unconfirmed, miniblock headers run the confirmation
// protocol. One batched update is emitted with appended, updated, and
// confirmed partitions. A protocol-fatal error aborts the batch; a
// malformed single event is logged and skipped so it cannot corrupt
// the rest of the fold.
func (v *StreamView) AppendEvents(events []*model.ParsedEvent, newCursor *model.SyncCursor, cleartexts map[string]model.DecryptedContent) error {
	batch := &StreamUpdated{StreamID: v.streamID}
	for _, ev := range events {
		if header := ev.MiniblockHeader(); header != nil {
			if err := v.applyMiniblockHeader(ev, header, batch); err != nil {
				return err
			}
			continue
		}
		v.foldAppend(ev, batch)
	}
	if newCursor != nil {
		v.cursor = *newCursor
	}
	for id, c := range cleartexts {
		v.applyCleartext(id, c, false)
	}
	v.emitBatch(batch)
	return nil
}

// foldAppend appends one non-header event, deduplicating by hash: a
// remote copy of an existing local entry merges into the same timeline
// slot instead of duplicating.
func (v *StreamView) foldAppend(ev *model.ParsedEvent, batch *StreamUpdated) {
	if existing, ok := v.index[ev.HashStr]; ok {
		if existing.IsLocal() && !existing.IsRemote() {
			existing.Remote = ev
			existing.CreatedAtEpochMs = ev.Event.CreatedAtEpochMs
			existing.Local.Status = model.LocalSent
			if batch != nil {
				batch.Updated = append(batch.Updated, existing)
			}
		}
		return
	}

	entry := model.NewRemoteTimelineEvent(ev, v.nextEventNum, nil, nil)
	v.nextEventNum++
	v.appendEntry(entry)
	v.members.AppendEvent(entry)
	v.content.AppendEvent(entry)
	v.metrics.EventsAppended.Inc()
	if batch != nil {
		batch.Appended = append(batch.Appended, entry)
	}
}

// applyMiniblockHeader runs the confirmation protocol. An event hash
// listed in the header but absent from the pending pool is a delivery
// gap: logged and counted, never fatal, so unknown future event kinds
// cannot break unrelated confirmations.
func (v *StreamView) applyMiniblockHeader(ev *model.ParsedEvent, header *model.MiniblockHeaderPayload, batch *StreamUpdated) error {
	if v.hasBlocks && header.MiniblockNum <= v.maxMiniblock {
		return fmt.Errorf("%w: header %d does not advance past %d",
			ErrOutOfOrderMiniblock, header.MiniblockNum, v.maxMiniblock)
	}

	if header.Snapshot != nil {
		snap, err := model.MigrateSnapshot(*header.Snapshot)
		if err != nil {
			return fmt.Errorf("adopt embedded snapshot: %w", err)
		}
		v.snapshot = &snap
		v.prevSnapshotMiniblockNum = header.MiniblockNum
		v.members.ApplySnapshot(&snap)
		v.content.ApplySnapshot(&snap)
	} else if header.PrevSnapshotMiniblockNum > v.prevSnapshotMiniblockNum {
		v.prevSnapshotMiniblockNum = header.PrevSnapshotMiniblockNum
	}

	if !v.hasBlocks {
		v.minMiniblock = header.MiniblockNum
		v.hasBlocks = true
	}
	v.maxMiniblock = header.MiniblockNum
	v.tip = ev.Hash
	v.hasTip = true
	v.cursor.PrevMiniblockHash = ev.Hash

	for i, h := range header.EventHashes {
		entry, ok := v.index[h.Hex()]
		if !ok {
			v.log.Error("miniblock header references event absent from pending pool",
				"miniblock", header.MiniblockNum, "event", h.Hex())
			v.metrics.MiniblockDeliveryGaps.Inc()
			continue
		}
		if entry.IsConfirmed() {
			continue
		}
		num := header.MiniblockNum
		cen := header.EventNumOffset + int64(i)
		entry.MiniblockNum = &num
		entry.ConfirmedEventNum = &cen
		v.members.OnConfirmedEvent(entry)
		v.content.OnConfirmedEvent(entry)
		if batch != nil {
			batch.Confirmed = append(batch.Confirmed, entry)
		}
	}

	v.metrics.MiniblocksConfirmed.Inc()
	return nil
}

/// PrependEvents folds a scrollback result: older miniblocks inserted
// at the front of the timeline, duplicate-safe. Terminus (or a block
// numbered 0) permanently ends scrollback for the stream.
func (v *StreamView) PrependEvents(miniblocks []*model.Miniblock, cleartexts map[string]model.DecryptedContent, terminus bool) {
	batch := &StreamUpdated{StreamID: v.streamID}
	v.foldPrepend(miniblocks, batch)
	if terminus {
		v.terminusReached = true
	}
	for id, c := range cleartexts {
		v.applyCleartext(id, c, false)
	}
	v.emitBatch(batch)
}

func (v *StreamView) foldPrepend(miniblocks []*model.Miniblock, batch *StreamUpdated) {
	// Reverse per miniblock: the youngest prepended block's last event
	// ends up adjacent to the current timeline front.
	var front []*model.TimelineEvent
	for bi := len(miniblocks) - 1; bi >= 0; bi-- {
		mb := miniblocks[bi]
		header := mb.Header()
		for i := len(mb.Events) - 1; i >= 0; i-- {
			ev := mb.Events[i]
			if _, ok := v.index[ev.HashStr]; ok {
				continue
			}
			entry := v.confirmedEntry(ev, header, i, v.prevEventNum)
			v.prevEventNum--
			front = append(front, entry)
			v.index[entry.HashStr] = entry
			v.members.PrependEvent(entry)
			v.content.PrependEvent(entry)
		}
		if mb.Num() < v.minMiniblock || !v.hasBlocks {
			v.minMiniblock = mb.Num()
			v.hasBlocks = true
		}
		if mb.Num() == 0 {
			v.terminusReached = true
		}
	}

	// front is youngest-first; reverse into timeline order.
	for i, j := 0, len(front)-1; i < j; i, j = i+1, j-1 {
		front[i], front[j] = front[j], front[i]
	}
	v.timeline = append(front, v.timeline...)
	if batch != nil {
		batch.Prepended = append(batch.Prepended, front...)
	}
}

// AppendLocalEvent records an optimistic local write and returns its
// temporary id.
func (v *StreamView) AppendLocalEvent(payload model.Payload, status model.LocalEventStatus) string {
	le := &model.LocalEvent{
		LocalID: model.NewLocalID(),
		Payload: payload,
		Status:  status,
	}
	entry := v.attachLocal(le)
	v.emitBatch(&StreamUpdated{StreamID: v.streamID, Appended: []*model.TimelineEvent{entry}})
	return le.LocalID
}

func (v *StreamView) attachLocal(le *model.LocalEvent) *model.TimelineEvent {
	entry := &model.TimelineEvent{
		HashStr:          le.LocalID,
		CreatorID:        v.userID,
		EventNum:         v.nextEventNum,
		CreatedAtEpochMs: time.Now().UnixMilli(),
		Local:            le,
	}
	v.nextEventNum++
	v.appendEntry(entry)
	v.content.OnAppendLocalEvent(entry)
	return entry
}

// UpdateLocalEvent swaps a temporary local id for the real content
// hash and updates the send status, preserving the timeline slot. The
// old id keeps resolving to the same entry so in-flight lookups do not
// break.
func (v *StreamView) UpdateLocalEvent(localID, finalHashStr string, status model.LocalEventStatus) error {
	entry, ok := v.index[localID]
	if !ok || entry.Local == nil {
		return fmt.Errorf("%w: %s", ErrUnknownLocalEvent, localID)
	}
	if finalHashStr != "" && finalHashStr != entry.HashStr {
		entry.HashStr = finalHashStr
		v.index[finalHashStr] = entry
	}
	entry.Local.Status = status
	v.emitBatch(&StreamUpdated{StreamID: v.streamID, Updated: []*model.TimelineEvent{entry}})
	return nil
}

// UpdateDecryptedContent attaches resolved cleartext to an event.
// Idempotent per event id; a second decrypt warns and keeps the first.
func (v *StreamView) UpdateDecryptedContent(eventID string, c model.DecryptedContent) {
	v.applyCleartext(eventID, c, true)
}

func (v *StreamView) applyCleartext(eventID string, c model.DecryptedContent, emit bool) {
	entry, ok := v.index[eventID]
	if !ok {
		v.log.Debug("cleartext for unknown event", "event", eventID)
		return
	}
	if entry.DecryptedContent != nil {
		v.log.Warn("event decrypted twice, keeping first cleartext", "event", eventID)
		return
	}
	entry.DecryptedContent = &c
	entry.DecryptedContentError = nil
	v.members.OnDecryptedContent(eventID, c)
	v.content.OnDecryptedContent(eventID, c)
	if emit {
		v.emit(DecryptedContentApplied{StreamID: v.streamID, EventID: eventID, Content: c})
	}
}

// UpdateDecryptedContentError records a failed decryption attempt.
// Resolved content always wins over an error.
func (v *StreamView) UpdateDecryptedContentError(eventID string, derr *model.DecryptionError) {
	entry, ok := v.index[eventID]
	if !ok || entry.DecryptedContent != nil {
		return
	}
	entry.DecryptedContentError = derr
}

func (v *StreamView) emitBatch(batch *StreamUpdated) {
	if len(batch.Appended) == 0 && len(batch.Updated) == 0 &&
		len(batch.Confirmed) == 0 && len(batch.Prepended) == 0 {
		return
	}
	v.emit(*batch)
}

// StreamID returns the stream this view reconciles.
func (v *StreamView) StreamID() model.StreamID { return v.streamID }

// Initialized reports whether Initialize has completed.
func (v *StreamView) Initialized() bool { return v.initialized }

// Timeline returns a copy of the ordered timeline.
func (v *StreamView) Timeline() []*model.TimelineEvent {
	out := make([]*model.TimelineEvent, len(v.timeline))
	copy(out, v.timeline)
	return out
}

// Entry resolves a timeline entry by content hash or local id.
func (v *StreamView) Entry(id string) (*model.TimelineEvent, bool) {
	e, ok := v.index[id]
	return e, ok
}

// Len returns the timeline length.
func (v *StreamView) Len() int { return len(v.timeline) }

// MiniblockBounds returns the rolling (min, max) confirmed miniblock
// numbers; ok is false before any miniblock is known.
func (v *StreamView) MiniblockBounds() (minNum, maxNum int64, ok bool) {
	return v.minMiniblock, v.maxMiniblock, v.hasBlocks
}

// TerminusReached reports whether miniblock 0 has been observed.
func (v *StreamView) TerminusReached() bool { return v.terminusReached }

// NeedsScrollback reports whether older history can and should be
// fetched for this stream kind.
func (v *StreamView) NeedsScrollback() bool {
	return v.content != nil && v.content.NeedsScrollback() && !v.terminusReached
}

// PrevSnapshotMiniblockNum is the left edge past which scrollback must
// fetch more history.
func (v *StreamView) PrevSnapshotMiniblockNum() int64 { return v.prevSnapshotMiniblockNum }

// Cursor returns the current resume token.
func (v *StreamView) Cursor() model.SyncCursor { return v.cursor }

// TipHash returns the hash of the most recently known miniblock, which
// the next authored event must bind to.
func (v *StreamView) TipHash() (codec.Hash, bool) { return v.tip, v.hasTip }

// Snapshot returns the current baseline checkpoint.
func (v *StreamView) Snapshot() *model.Snapshot { return v.snapshot }

// Members returns the membership projection.
func (v *StreamView) Members() *MemberState { return v.members }

// Content returns the per-kind content projection.
func (v *StreamView) Content() ContentProjection { return v.content }

// PendingEnvelopes returns the envelopes of remote events not yet
// confirmed, in timeline order. This is what persistence records as
// the stream's minipool.
func (v *StreamView) PendingEnvelopes() []*model.Envelope {
	var out []*model.Envelope
	for _, e := range v.timeline {
		if e.IsRemote() && !e.IsConfirmed() {
			out = append(out, e.Remote.Envelope)
		}
	}
	return out
}

// UnsentLocalEvents returns local entries that never got a remote
// echo, for salvage across re-initialization.
func (v *StreamView) UnsentLocalEvents() []*model.LocalEvent {
	var out []*model.LocalEvent
	for _, e := range v.timeline {
		if e.IsLocal() && !e.IsRemote() {
			out = append(out, e.Local)
		}
	}
	return out
}
