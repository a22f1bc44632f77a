// Package client owns the set of synced streams: hydration from cache
// or network, live incremental delivery, scrollback, and the
// optimistic write path.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"streamsync/internal/codec"
	"streamsync/internal/logging"
	"streamsync/internal/metrics"
	"streamsync/internal/model"
	"streamsync/internal/persist"
	"streamsync/internal/scheduler"
	"streamsync/internal/transport"
	"streamsync/internal/view"
)

var (
	ErrStreamNotFound = errors.New("client: stream not found")
	ErrUsernameTaken  = errors.New("client: username checksum already claimed")
	ErrTooManyRetries = errors.New("client: retry bound exceeded")
	ErrClientStopped  = errors.New("client: stopped")
	ErrNoTipHash      = errors.New("client: stream has no tip hash")
)

// staleTipRetryBound caps resubmissions after stale-tip rejections.
const staleTipRetryBound = 3

// defaultScrollbackPageSize is how many miniblocks one scrollback page
// requests.
const defaultScrollbackPageSize = 20

// cachedScrollbackPages is how many pages of persisted history are
// folded in eagerly during cache hydration.
const cachedScrollbackPages = 3

// InitStatusChanged reports overall hydration progress to the
// application.
type InitStatusChanged struct {
	Status scheduler.InitStatus
}

// EventStreamID implements view.StreamEvent; the status is global, not
// per stream.
func (InitStatusChanged) EventStreamID() model.StreamID { return "" }

// Options configures a Client.
type Options struct {
	Signer    *codec.SignerContext
	Transport transport.Client
	// Store is the durable cache; nil disables persistence.
	Store *persist.Store
	// Events receives every emitted stream event.
	Events view.Sink
	Log    *logging.Logger

	ScrollbackPageSize int64
	WaitTimeout        time.Duration
}

// Client maintains one StreamHandle per synced stream and drives
// hydration, live sync, and writes.
type Client struct {
	signer    *codec.SignerContext
	userID    string
	transport transport.Client
	store     *persist.Store
	events    view.Sink
	log       *logging.Logger
	metrics   *metrics.SyncMetrics

	pageSize    int64
	waitTimeout time.Duration

	mu       sync.Mutex
	streams  map[model.StreamID]*StreamHandle
	inflight map[string]*inflightOp
	stopped  bool

	sched *scheduler.Scheduler

	sessionMu sync.Mutex
	session   transport.SyncSession
	sessionWG sync.WaitGroup
}

// inflightOp coalesces concurrent identical requests: later callers
// await the first caller's result instead of issuing a duplicate.
type inflightOp struct {
	done chan struct{}
	err  error
}

// New creates a client. Signer and Transport are required.
func New(opts Options) (*Client, error) {
	if opts.Signer == nil {
		return nil, errors.New("client: signer required")
	}
	if opts.Transport == nil {
		return nil, errors.New("client: transport required")
	}
	log := opts.Log
	if log == nil {
		log = logging.Default()
	}
	pageSize := opts.ScrollbackPageSize
	if pageSize <= 0 {
		pageSize = defaultScrollbackPageSize
	}
	waitTimeout := opts.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}
	c := &Client{
		signer:      opts.Signer,
		userID:      opts.Signer.Creator.Hex(),
		transport:   opts.Transport,
		store:       opts.Store,
		events:      opts.Events,
		log:         log.Component("client"),
		metrics:     metrics.GetMetrics(),
		pageSize:    pageSize,
		waitTimeout: waitTimeout,
		streams:     make(map[model.StreamID]*StreamHandle),
		inflight:    make(map[string]*inflightOp),
	}
	c.sched = scheduler.New(c, log)
	return c, nil
}

// UserID returns the client's primary identity address.
func (c *Client) UserID() string { return c.userID }

// Scheduler exposes the hydration scheduler for start/stop and
// scheduling.
func (c *Client) Scheduler() *scheduler.Scheduler { return c.sched }

// Start launches the hydration scheduler.
func (c *Client) Start(ctx context.Context) {
	c.sched.Start(ctx)
}

// SyncAll schedules hydration of the given streams, working the
// high-priority set first, and hands off to live sync once the queue
// drains. highPriority typically comes from a sync manifest.
func (c *Client) SyncAll(streamIDs, highPriority []model.StreamID) {
	c.sched.Schedule(streamIDs, highPriority)
	c.sched.RequestLiveSync()
}

// Stop halts the scheduler, the live sync session, and drops all
// stream listeners.
func (c *Client) Stop() {
	c.sched.Stop()

	c.sessionMu.Lock()
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
	c.sessionMu.Unlock()
	c.sessionWG.Wait()

	c.mu.Lock()
	c.stopped = true
	handles := make([]*StreamHandle, 0, len(c.streams))
	for _, h := range c.streams {
		handles = append(handles, h)
	}
	c.mu.Unlock()
	for _, h := range handles {
		h.stop()
	}
}

// Stream returns the handle for an already-hydrated stream.
func (c *Client) Stream(streamID model.StreamID) (*StreamHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.streams[streamID]
	return h, ok
}

// Streams returns the ids of all hydrated streams.
func (c *Client) Streams() []model.StreamID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]model.StreamID, 0, len(c.streams))
	for id := range c.streams {
		ids = append(ids, id)
	}
	return ids
}

// GetStream returns the stream's handle, hydrating it (cache first,
// then network) if needed. Concurrent calls for the same stream
// coalesce into one fetch.
func (c *Client) GetStream(ctx context.Context, streamID model.StreamID) (*StreamHandle, error) {
	if h, ok := c.Stream(streamID); ok {
		return h, nil
	}
	err := c.coalesce("get:"+string(streamID), func() error {
		if _, ok := c.Stream(streamID); ok {
			return nil
		}
		found, err := c.HydrateFromCache(ctx, streamID)
		if err != nil {
			c.log.Debug("cache hydration failed, trying network",
				"stream", string(streamID), "error", err)
		}
		if found && err == nil {
			return nil
		}
		return c.HydrateFromNetwork(ctx, streamID)
	})
	if err != nil {
		return nil, err
	}
	h, ok := c.Stream(streamID)
	if !ok {
		return nil, ErrStreamNotFound
	}
	return h, nil
}

// coalesce runs fn once per key; concurrent callers with the same key
// await the first call's result.
func (c *Client) coalesce(key string, fn func() error) error {
	c.mu.Lock()
	if op, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		<-op.done
		return op.err
	}
	op := &inflightOp{done: make(chan struct{})}
	c.inflight[key] = op
	c.mu.Unlock()

	op.err = fn()

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
	close(op.done)
	return op.err
}

// HydrateFromCache builds a stream view from persisted data only. The
// found result reports whether the cache had the stream at all.
func (c *Client) HydrateFromCache(ctx context.Context, streamID model.StreamID) (bool, error) {
	if c.store == nil {
		return false, nil
	}
	timer := c.metrics.StartPersistTimer()
	defer timer.Stop()

	rec, err := c.store.LoadStream(streamID)
	if err != nil {
		return false, fmt.Errorf("load stream record: %w", err)
	}
	if rec == nil {
		return false, nil
	}

	bundles, err := c.store.LoadMiniblocks(streamID, rec.LastSnapshotMiniblockNum, rec.LastMiniblockNum+1)
	if err != nil {
		return false, fmt.Errorf("load miniblocks: %w", err)
	}
	if len(bundles) == 0 {
		return false, nil
	}

	blocks, err := parseBundles(bundles)
	if err != nil {
		return true, fmt.Errorf("parse cached miniblocks: %w", err)
	}
	snap := snapshotFromBlocks(blocks)
	if snap == nil {
		return true, fmt.Errorf("cached miniblocks carry no snapshot for %s", streamID)
	}

	minipool, err := parseEnvelopes(rec.Minipool)
	if err != nil {
		return true, fmt.Errorf("parse cached minipool: %w", err)
	}

	cleartexts, err := c.store.LoadCleartexts(streamID)
	if err != nil {
		c.log.Warn("cleartext cache load failed", "stream", string(streamID), "error", err)
		cleartexts = nil
	}

	// Fold in a few pages of persisted history so recently viewed
	// conversations render scrollback without a network round trip.
	var prepended []*model.Miniblock
	if before := blocks[0].Num(); before > 0 {
		older, err := c.store.LoadMiniblocksBefore(streamID, before, int(c.pageSize)*cachedScrollbackPages)
		if err != nil {
			c.log.Warn("cached scrollback load failed", "stream", string(streamID), "error", err)
		} else if contiguousBefore(older, before) {
			prepended, err = parseBundles(older)
			if err != nil {
				c.log.Warn("cached scrollback parse failed", "stream", string(streamID), "error", err)
				prepended = nil
			}
		}
	}

	err = c.initHandle(streamID, view.InitParams{
		Cursor:                   rec.Cursor,
		Snapshot:                 *snap,
		Miniblocks:               blocks,
		PrependedMiniblocks:      prepended,
		MinipoolEvents:           minipool,
		PrevSnapshotMiniblockNum: rec.LastSnapshotMiniblockNum,
		Cleartexts:               cleartexts,
	})
	if err != nil {
		return true, err
	}
	return true, nil
}

// HydrateFromNetwork fetches the stream from a replica and builds its
// view, writing the result through to the cache.
func (c *Client) HydrateFromNetwork(ctx context.Context, streamID model.StreamID) error {
	timer := c.metrics.StartNetworkTimer()
	state, err := c.transport.GetStream(ctx, streamID)
	timer.Stop()
	if err != nil {
		return fmt.Errorf("get stream %s: %w", streamID, err)
	}
	return c.applyStreamState(state)
}

// CreateStream authors a new stream from its genesis events and
// registers the resulting handle.
func (c *Client) CreateStream(ctx context.Context, streamID model.StreamID, payloads []model.Payload) (*StreamHandle, error) {
	envelopes := make([]*model.Envelope, 0, len(payloads))
	for _, p := range payloads {
		env, err := model.MakeEvent(c.signer, p, nil)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, env)
	}
	state, err := c.transport.CreateStream(ctx, streamID, envelopes)
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", streamID, err)
	}
	if err := c.applyStreamState(state); err != nil {
		return nil, err
	}
	h, ok := c.Stream(streamID)
	if !ok {
		return nil, ErrStreamNotFound
	}
	return h, nil
}

func (c *Client) applyStreamState(state *transport.StreamState) error {
	blocks, err := parseBundles(state.Miniblocks)
	if err != nil {
		return fmt.Errorf("parse miniblocks: %w", err)
	}
	if len(blocks) == 0 {
		return view.ErrEmptyStream
	}
	snap := snapshotFromBlocks(blocks)
	if snap == nil {
		return fmt.Errorf("stream %s: no snapshot in hydration response", state.StreamID)
	}
	minipool, err := parseEnvelopes(state.MinipoolEvents)
	if err != nil {
		return fmt.Errorf("parse minipool: %w", err)
	}

	var cleartexts map[string]model.DecryptedContent
	if c.store != nil {
		cleartexts, err = c.store.LoadCleartexts(state.StreamID)
		if err != nil {
			c.log.Warn("cleartext cache load failed", "stream", string(state.StreamID), "error", err)
			cleartexts = nil
		}
	}

	err = c.initHandle(state.StreamID, view.InitParams{
		Cursor:                   state.Cursor,
		Snapshot:                 *snap,
		Miniblocks:               blocks,
		MinipoolEvents:           minipool,
		PrevSnapshotMiniblockNum: blocks[0].Num(),
		Cleartexts:               cleartexts,
	})
	if err != nil {
		return err
	}

	c.persistMiniblocks(state.StreamID, state.Miniblocks)
	c.persistStream(state.StreamID)
	return nil
}

// initHandle creates or re-initializes the stream's handle. On
// re-initialization any unsent local events are salvaged into the
// fresh view.
func (c *Client) initHandle(streamID model.StreamID, params view.InitParams) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrClientStopped
	}
	h, ok := c.streams[streamID]
	if !ok {
		h = newStreamHandle(c.userID, streamID, c.events, c.log)
		c.streams[streamID] = h
		c.metrics.SyncingStreams.Set(int64(len(c.streams)))
	}
	c.mu.Unlock()

	return h.withView(func(v *view.StreamView) error {
		if v.Initialized() {
			params.SalvagedLocalEvents = v.UnsentLocalEvents()
		}
		return v.Initialize(params)
	})
}

// Scrollback fetches one page of older history for the stream,
// preferring the persisted cache over the network. It reports whether
// more history may remain.
func (c *Client) Scrollback(ctx context.Context, streamID model.StreamID) (more bool, err error) {
	h, ok := c.Stream(streamID)
	if !ok {
		return false, ErrStreamNotFound
	}
	err = c.coalesce("scrollback:"+string(streamID), func() error {
		return c.scrollbackPage(ctx, h)
	})
	if err != nil {
		return false, err
	}
	err = h.withView(func(v *view.StreamView) error {
		more = v.NeedsScrollback()
		return nil
	})
	return more, err
}

func (c *Client) scrollbackPage(ctx context.Context, h *StreamHandle) error {
	var (
		streamID = h.StreamID()
		minNum   int64
		need     bool
	)
	if err := h.withView(func(v *view.StreamView) error {
		need = v.NeedsScrollback()
		minNum, _, _ = v.MiniblockBounds()
		return nil
	}); err != nil {
		return err
	}
	if !need || minNum == 0 {
		return nil
	}

	from := minNum - c.pageSize
	if from < 0 {
		from = 0
	}

	// Cache first.
	if c.store != nil {
		cached, err := c.store.LoadMiniblocks(streamID, from, minNum)
		if err == nil && int64(len(cached)) == minNum-from {
			blocks, perr := parseBundles(cached)
			if perr == nil {
				c.metrics.ScrollbackPages.Inc()
				return h.withView(func(v *view.StreamView) error {
					v.PrependEvents(blocks, nil, from == 0)
					return nil
				})
			}
			c.log.Warn("cached scrollback parse failed", "stream", string(streamID), "error", perr)
		}
	}

	timer := c.metrics.StartNetworkTimer()
	bundles, terminus, err := c.transport.GetMiniblocks(ctx, streamID, from, minNum)
	timer.Stop()
	if err != nil {
		return fmt.Errorf("get miniblocks [%d,%d) for %s: %w", from, minNum, streamID, err)
	}
	blocks, err := parseBundles(bundles)
	if err != nil {
		return fmt.Errorf("parse scrollback page: %w", err)
	}
	c.metrics.ScrollbackPages.Inc()
	c.persistMiniblocks(streamID, bundles)
	return h.withView(func(v *view.StreamView) error {
		v.PrependEvents(blocks, nil, terminus)
		return nil
	})
}

// ScrollbackToTerminus pages backward until genesis is reached or the
// stream kind stops wanting history.
func (c *Client) ScrollbackToTerminus(ctx context.Context, streamID model.StreamID) error {
	for {
		more, err := c.Scrollback(ctx, streamID)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// AddEvent signs payload against the stream's current tip and submits
// it, retrying on stale-tip rejections. The optimistic timeline entry
// is flipped to sent on success and failed on error, never dropped.
func (c *Client) AddEvent(ctx context.Context, streamID model.StreamID, payload model.Payload) (string, error) {
	h, ok := c.Stream(streamID)
	if !ok {
		return "", ErrStreamNotFound
	}

	var localID string
	if err := h.withView(func(v *view.StreamView) error {
		localID = v.AppendLocalEvent(payload, model.LocalSending)
		return nil
	}); err != nil {
		return "", err
	}

	finalHash, err := c.addEventWithRetry(ctx, h, payload)
	status := model.LocalSent
	if err != nil {
		status = model.LocalFailed
	}
	uerr := h.withView(func(v *view.StreamView) error {
		return v.UpdateLocalEvent(localID, finalHash, status)
	})
	if err != nil {
		return localID, err
	}
	if uerr != nil {
		return localID, uerr
	}
	return finalHash, nil
}

func (c *Client) addEventWithRetry(ctx context.Context, h *StreamHandle, payload model.Payload) (string, error) {
	streamID := h.StreamID()

	var tip codec.Hash
	if err := h.withView(func(v *view.StreamView) error {
		t, ok := v.TipHash()
		if !ok {
			return ErrNoTipHash
		}
		tip = t
		return nil
	}); err != nil {
		if !errors.Is(err, ErrNoTipHash) {
			return "", err
		}
		// No confirmed miniblock in the view yet. Ask the replica for
		// the current tip instead of failing the send.
		refreshed, _, rerr := c.transport.GetLastMiniblockHash(ctx, streamID)
		if rerr != nil {
			return "", fmt.Errorf("%w: %v", ErrNoTipHash, rerr)
		}
		tip = refreshed
	}

	var lastErr error
	for attempt := 0; attempt <= staleTipRetryBound; attempt++ {
		env, err := model.MakeEvent(c.signer, payload, &tip)
		if err != nil {
			return "", err
		}
		timer := c.metrics.StartNetworkTimer()
		err = c.transport.AddEvent(ctx, streamID, env)
		timer.Stop()
		if err == nil {
			return env.Hash.Hex(), nil
		}
		expected, stale := transport.IsStaleTip(err)
		if !stale {
			c.metrics.SendFailures.Inc()
			return "", err
		}
		// Re-sign the same payload against the replica's tip.
		c.metrics.StaleTipRetries.Inc()
		c.log.Debug("stale tip, retrying",
			"stream", string(streamID), "attempt", attempt+1, "tip", expected.Hex())
		tip = expected
		lastErr = err
	}
	c.metrics.SendFailures.Inc()
	return "", fmt.Errorf("%w: %v", ErrTooManyRetries, lastErr)
}

// SetUsername claims an encrypted username. The checksum is validated
// against current pending and confirmed claims before any network
// write.
func (c *Client) SetUsername(ctx context.Context, streamID model.StreamID, data model.EncryptedData) (string, error) {
	h, ok := c.Stream(streamID)
	if !ok {
		return "", ErrStreamNotFound
	}
	available := true
	if err := h.withView(func(v *view.StreamView) error {
		available = v.Members().UsernameAvailable(data.Checksum, c.userID)
		return nil
	}); err != nil {
		return "", err
	}
	if !available {
		return "", ErrUsernameTaken
	}
	return c.AddEvent(ctx, streamID, &model.UsernamePayload{Data: data})
}

// UpdateDecryptedContent applies out-of-band decrypted cleartext to an
// event and caches it.
func (c *Client) UpdateDecryptedContent(streamID model.StreamID, eventID string, content model.DecryptedContent) error {
	h, ok := c.Stream(streamID)
	if !ok {
		return ErrStreamNotFound
	}
	err := h.withView(func(v *view.StreamView) error {
		v.UpdateDecryptedContent(eventID, content)
		return nil
	})
	if err != nil {
		return err
	}
	if c.store != nil {
		if serr := c.store.SaveCleartext(streamID, eventID, content); serr != nil {
			c.log.Warn("cleartext cache write failed",
				"stream", string(streamID), "event", eventID, "error", serr)
		}
	}
	return nil
}

// OnInitStatus implements scheduler.Delegate.
func (c *Client) OnInitStatus(status scheduler.InitStatus) {
	if c.events != nil {
		c.events(InitStatusChanged{Status: status})
	}
}

// StartLiveSync implements scheduler.Delegate: it opens a sync session
// covering every hydrated stream and consumes updates until the
// session closes.
func (c *Client) StartLiveSync(ctx context.Context) error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if c.session != nil {
		return nil
	}
	session, err := c.transport.SyncStreams(ctx)
	if err != nil {
		return fmt.Errorf("open sync session: %w", err)
	}
	for _, id := range c.Streams() {
		h, ok := c.Stream(id)
		if !ok {
			continue
		}
		var cursor model.SyncCursor
		if err := h.withView(func(v *view.StreamView) error {
			cursor = v.Cursor()
			return nil
		}); err != nil {
			continue
		}
		if err := session.AddStream(ctx, cursor); err != nil {
			c.log.Warn("add stream to sync session failed", "stream", string(id), "error", err)
		}
	}
	c.session = session
	c.sessionWG.Add(1)
	go c.consumeUpdates(ctx, session)
	return nil
}

func (c *Client) consumeUpdates(ctx context.Context, session transport.SyncSession) {
	defer c.sessionWG.Done()
	for update := range session.Updates() {
		if err := c.applyUpdate(ctx, update); err != nil {
			c.log.Error("applying sync update failed",
				"stream", string(update.StreamID), "error", err)
		}
	}
}

// applyUpdate folds one unit of live delivery into the stream's view
// and writes confirmed data through to the cache.
func (c *Client) applyUpdate(ctx context.Context, update transport.StreamUpdate) error {
	if update.Reset {
		c.log.Warn("replica lost sync position, rehydrating", "stream", string(update.StreamID))
		return c.HydrateFromNetwork(ctx, update.StreamID)
	}

	h, ok := c.Stream(update.StreamID)
	if !ok {
		return ErrStreamNotFound
	}

	events, err := parseEnvelopes(update.Events)
	if err != nil {
		return fmt.Errorf("parse minipool events: %w", err)
	}
	for _, b := range update.Miniblocks {
		block, err := parseBundle(b)
		if err != nil {
			return fmt.Errorf("parse miniblock: %w", err)
		}
		// Confirmed events the minipool never delivered still need
		// timeline entries before the header stamps them.
		events = append(events, block.Events...)
		events = append(events, block.HeaderEvent)
	}

	cursor := update.Cursor
	err = h.withView(func(v *view.StreamView) error {
		return v.AppendEvents(events, &cursor, nil)
	})
	if err != nil {
		return err
	}

	if len(update.Miniblocks) > 0 {
		c.persistMiniblocks(update.StreamID, update.Miniblocks)
	}
	c.persistStream(update.StreamID)
	return nil
}

// persistMiniblocks writes confirmed miniblocks through to the cache.
// Best-effort: failures are logged, never fatal.
func (c *Client) persistMiniblocks(streamID model.StreamID, bundles []transport.MiniblockBundle) {
	if c.store == nil || len(bundles) == 0 {
		return
	}
	timer := c.metrics.StartPersistTimer()
	defer timer.Stop()
	if err := c.store.SaveMiniblocks(streamID, bundles); err != nil {
		c.log.Warn("miniblock cache write failed", "stream", string(streamID), "error", err)
	}
}

// persistStream snapshots the stream's sync position into the cache.
func (c *Client) persistStream(streamID model.StreamID) {
	if c.store == nil {
		return
	}
	h, ok := c.Stream(streamID)
	if !ok {
		return
	}
	rec := &persist.StreamRecord{StreamID: streamID}
	err := h.withView(func(v *view.StreamView) error {
		rec.Cursor = v.Cursor()
		rec.LastSnapshotMiniblockNum = v.PrevSnapshotMiniblockNum()
		_, maxNum, ok := v.MiniblockBounds()
		if ok {
			rec.LastMiniblockNum = maxNum
		}
		rec.Minipool = v.PendingEnvelopes()
		c.metrics.PendingEvents.Set(int64(len(rec.Minipool)))
		return nil
	})
	if err != nil {
		return
	}
	timer := c.metrics.StartPersistTimer()
	defer timer.Stop()
	if err := c.store.SaveStream(rec); err != nil {
		c.log.Warn("stream record write failed", "stream", string(streamID), "error", err)
	}
}

// GetLastMiniblockHash asks the replica for the stream's current tip.
func (c *Client) GetLastMiniblockHash(ctx context.Context, streamID model.StreamID) (codec.Hash, int64, error) {
	return c.transport.GetLastMiniblockHash(ctx, streamID)
}

func parseBundles(bundles []transport.MiniblockBundle) ([]*model.Miniblock, error) {
	blocks := make([]*model.Miniblock, 0, len(bundles))
	for _, b := range bundles {
		block, err := parseBundle(b)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func parseBundle(b transport.MiniblockBundle) (*model.Miniblock, error) {
	now := time.Now()
	header, err := model.ParseEnvelope(b.Header, now)
	if err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	events := make([]*model.ParsedEvent, 0, len(b.Events))
	for _, env := range b.Events {
		ev, err := model.ParseEnvelope(env, now)
		if err != nil {
			return nil, fmt.Errorf("parse event: %w", err)
		}
		events = append(events, ev)
	}
	return model.NewMiniblock(header, events)
}

func parseEnvelopes(envelopes []*model.Envelope) ([]*model.ParsedEvent, error) {
	now := time.Now()
	out := make([]*model.ParsedEvent, 0, len(envelopes))
	for _, env := range envelopes {
		ev, err := model.ParseEnvelope(env, now)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// snapshotFromBlocks returns the snapshot embedded in the oldest block
// that carries one, scanning from the front.
func snapshotFromBlocks(blocks []*model.Miniblock) *model.Snapshot {
	for _, b := range blocks {
		if snap := b.Header().Snapshot; snap != nil {
			return snap
		}
	}
	return nil
}

// contiguousBefore reports whether bundles are a gap-free run ending
// exactly at before.
func contiguousBefore(bundles []transport.MiniblockBundle, before int64) bool {
	if len(bundles) == 0 {
		return false
	}
	want := before - int64(len(bundles))
	for _, b := range bundles {
		block, err := parseBundle(b)
		if err != nil || block.Num() != want {
			return false
		}
		want++
	}
	return true
}
