// Package scheduler orders the initial hydration of synced streams.
//
// Hydration runs in three stages: high-priority streams first, then a
// cached-data pass over everything else in priority order, then a
// network pass for whatever the cache did not have. A single dedicated
// goroutine works the queue, so at most one task is ever in flight.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"streamsync/internal/logging"
	"streamsync/internal/metrics"
	"streamsync/internal/model"
)

// Source says where a task should hydrate its stream from.
type Source int

const (
	// SourceAny tries the cache first and falls back to the network.
	SourceAny Source = iota
	// SourceCache only loads persisted data; a miss re-queues the
	// stream for a network pass.
	SourceCache
	// SourceNetwork fetches the stream from a remote node.
	SourceNetwork
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceNetwork:
		return "network"
	default:
		return "any"
	}
}

// Delegate is the scheduler's view of the client. HydrateFromCache
// reports whether persisted data existed for the stream.
type Delegate interface {
	HydrateFromCache(ctx context.Context, streamID model.StreamID) (bool, error)
	HydrateFromNetwork(ctx context.Context, streamID model.StreamID) error
	StartLiveSync(ctx context.Context) error
	OnInitStatus(status InitStatus)
}

// InitStatus is a progress report emitted after every completed unit
// of work.
type InitStatus struct {
	HighPriorityLoaded bool    `json:"highPriorityLoaded"`
	LocalDataLoaded    bool    `json:"localDataLoaded"`
	RemoteDataLoaded   bool    `json:"remoteDataLoaded"`
	Progress           float64 `json:"progress"`
	StreamsLoaded      int     `json:"streamsLoaded"`
	StreamsFailed      int     `json:"streamsFailed"`
	StreamsTotal       int     `json:"streamsTotal"`
}

type task struct {
	streamID     model.StreamID
	source       Source
	highPriority bool
	priority     int
}

// Scheduler drains a staged task queue on one background goroutine.
type Scheduler struct {
	mu              sync.Mutex
	queue           []task
	notify          chan struct{}
	stopped         bool
	done            chan struct{}
	started         bool
	syncWhenDrained bool

	// progress counters, guarded by mu
	total          int
	loaded         int
	failed         int
	highPending    int
	cachePending   int
	networkPending int

	delegate Delegate
	log      *logging.Logger
	metrics  *metrics.SyncMetrics
}

// New creates a scheduler driving the given delegate.
func New(delegate Delegate, log *logging.Logger) *Scheduler {
	if log == nil {
		log = logging.Default()
	}
	return &Scheduler{
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		delegate: delegate,
		log:      log.Component("scheduler"),
		metrics:  metrics.GetMetrics(),
	}
}

// Schedule stages the full hydration plan: every id in streamIDs gets
// a task, with the ids in highPriority worked first. Safe to call
// before or after Start.
func (s *Scheduler) Schedule(streamIDs []model.StreamID, highPriority []model.StreamID) {
	high := make(map[model.StreamID]bool, len(highPriority))
	for _, id := range highPriority {
		high[id] = true
	}

	var highTasks, cacheTasks []task
	for _, id := range streamIDs {
		prio := PriorityOf(id, high)
		if high[id] || prio == prioUserOwned {
			highTasks = append(highTasks, task{streamID: id, source: SourceAny, highPriority: true, priority: prio})
		} else {
			cacheTasks = append(cacheTasks, task{streamID: id, source: SourceCache, priority: prio})
		}
	}
	sort.SliceStable(highTasks, func(i, j int) bool { return highTasks[i].priority < highTasks[j].priority })
	sort.SliceStable(cacheTasks, func(i, j int) bool { return cacheTasks[i].priority < cacheTasks[j].priority })

	s.mu.Lock()
	s.queue = append(s.queue, highTasks...)
	s.queue = append(s.queue, cacheTasks...)
	s.total += len(highTasks) + len(cacheTasks)
	s.highPending += len(highTasks)
	s.cachePending += len(cacheTasks)
	s.metrics.QueuedTasks.Set(int64(len(s.queue)))
	s.mu.Unlock()
	s.wake()
}

// RequestLiveSync asks the scheduler to hand off to live incremental
// delivery once the queue drains.
func (s *Scheduler) RequestLiveSync() {
	s.mu.Lock()
	s.syncWhenDrained = true
	s.mu.Unlock()
	s.wake()
}

// Start launches the worker goroutine. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()
	go s.run(ctx)
}

// Stop halts the worker and waits for any in-flight task to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.stopped = true
		started := s.started
		s.mu.Unlock()
		if started {
			<-s.done
		}
		return
	}
	s.stopped = true
	s.mu.Unlock()
	s.wake()
	<-s.done
}

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		if len(s.queue) == 0 {
			startSync := s.syncWhenDrained
			s.syncWhenDrained = false
			s.mu.Unlock()
			if startSync {
				if err := s.delegate.StartLiveSync(ctx); err != nil {
					s.log.Error("live sync handoff failed", "error", err)
				}
			}
			select {
			case <-s.notify:
				continue
			case <-ctx.Done():
				s.mu.Lock()
				s.stopped = true
				s.mu.Unlock()
				return
			}
		}
		t := s.queue[0]
		s.queue = s.queue[1:]
		s.metrics.QueuedTasks.Set(int64(len(s.queue)))
		s.mu.Unlock()

		start := time.Now()
		s.runTask(ctx, t)
		s.metrics.SchedulerTickDuration.Observe(time.Since(start).Seconds())
	}
}

func (s *Scheduler) runTask(ctx context.Context, t task) {
	var (
		fromCache bool
		err       error
	)
	switch t.source {
	case SourceCache:
		fromCache, err = s.delegate.HydrateFromCache(ctx, t.streamID)
		if err == nil && !fromCache {
			// Cache miss, re-queue for the network stage.
			s.mu.Lock()
			s.queue = append(s.queue, task{streamID: t.streamID, source: SourceNetwork, priority: t.priority})
			s.cachePending--
			s.networkPending++
			s.mu.Unlock()
			s.emitStatus()
			return
		}
	case SourceNetwork:
		err = s.delegate.HydrateFromNetwork(ctx, t.streamID)
	default:
		fromCache, err = s.delegate.HydrateFromCache(ctx, t.streamID)
		if err != nil || !fromCache {
			err = s.delegate.HydrateFromNetwork(ctx, t.streamID)
			fromCache = false
		}
	}

	s.mu.Lock()
	switch t.source {
	case SourceCache:
		s.cachePending--
	case SourceNetwork:
		s.networkPending--
	}
	if t.highPriority {
		s.highPending--
	}
	if err != nil {
		s.failed++
	} else {
		s.loaded++
	}
	s.mu.Unlock()

	if err != nil {
		s.metrics.RecordStreamLoadFailure()
		s.log.Warn("stream hydration failed",
			"stream", string(t.streamID), "source", t.source, "error", err)
	} else {
		s.metrics.RecordStreamLoad(fromCache)
	}
	s.emitStatus()
}

func (s *Scheduler) emitStatus() {
	s.mu.Lock()
	status := InitStatus{
		HighPriorityLoaded: s.highPending == 0,
		LocalDataLoaded:    s.highPending == 0 && s.cachePending == 0,
		RemoteDataLoaded:   s.highPending == 0 && s.cachePending == 0 && s.networkPending == 0,
		StreamsLoaded:      s.loaded,
		StreamsFailed:      s.failed,
		StreamsTotal:       s.total,
	}
	if s.total > 0 {
		status.Progress = float64(s.loaded+s.failed) / float64(s.total)
	}
	s.mu.Unlock()
	s.delegate.OnInitStatus(status)
}

// Priority tiers, lower loads sooner.
const (
	prioUserOwned = iota
	prioExplicitHigh
	prioDirect
	prioSpace
	prioRest
)

// PriorityOf ranks a stream for hydration ordering. The user's own
// streams come first, then explicitly requested ids, then direct
// conversations, then spaces, then everything else.
func PriorityOf(streamID model.StreamID, highPriority map[model.StreamID]bool) int {
	switch streamID.Kind() {
	case model.StreamKindUser, model.StreamKindUserSettings,
		model.StreamKindDeviceKey, model.StreamKindInbox:
		return prioUserOwned
	}
	if highPriority[streamID] {
		return prioExplicitHigh
	}
	switch streamID.Kind() {
	case model.StreamKindDM, model.StreamKindGDM:
		return prioDirect
	case model.StreamKindSpace:
		return prioSpace
	default:
		return prioRest
	}
}
