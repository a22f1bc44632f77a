package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamsync/internal/model"
)

type fakeDelegate struct {
	mu          sync.Mutex
	cached      map[model.StreamID]bool
	failNetwork map[model.StreamID]bool

	cacheCalls   []model.StreamID
	networkCalls []model.StreamID
	statuses     []InitStatus
	syncStarted  bool
	drained      chan struct{}
	want         int
}

func newFakeDelegate(want int) *fakeDelegate {
	return &fakeDelegate{
		cached:      make(map[model.StreamID]bool),
		failNetwork: make(map[model.StreamID]bool),
		drained:     make(chan struct{}),
		want:        want,
	}
}

func (d *fakeDelegate) HydrateFromCache(_ context.Context, id model.StreamID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cacheCalls = append(d.cacheCalls, id)
	return d.cached[id], nil
}

func (d *fakeDelegate) HydrateFromNetwork(_ context.Context, id model.StreamID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.networkCalls = append(d.networkCalls, id)
	if d.failNetwork[id] {
		return errors.New("unreachable")
	}
	return nil
}

func (d *fakeDelegate) StartLiveSync(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.syncStarted = true
	return nil
}

func (d *fakeDelegate) OnInitStatus(status InitStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses = append(d.statuses, status)
	if status.StreamsLoaded+status.StreamsFailed == d.want {
		select {
		case <-d.drained:
		default:
			close(d.drained)
		}
	}
}

func (d *fakeDelegate) waitDrained(t *testing.T) {
	t.Helper()
	select {
	case <-d.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not drain")
	}
}

func mustStreamID(t *testing.T, kind model.StreamKind) model.StreamID {
	t.Helper()
	id, err := model.MakeStreamID(kind)
	require.NoError(t, err)
	return id
}

func TestPriorityOrdering(t *testing.T) {
	user := mustStreamID(t, model.StreamKindUser)
	dm := mustStreamID(t, model.StreamKindDM)
	space := mustStreamID(t, model.StreamKindSpace)
	channel := mustStreamID(t, model.StreamKindChannel)
	favorite := mustStreamID(t, model.StreamKindChannel)
	high := map[model.StreamID]bool{favorite: true}

	assert.Less(t, PriorityOf(user, high), PriorityOf(favorite, high))
	assert.Less(t, PriorityOf(favorite, high), PriorityOf(dm, high))
	assert.Less(t, PriorityOf(dm, high), PriorityOf(space, high))
	assert.Less(t, PriorityOf(space, high), PriorityOf(channel, high))
}

func TestCacheThenNetworkStages(t *testing.T) {
	cachedID := mustStreamID(t, model.StreamKindChannel)
	uncachedID := mustStreamID(t, model.StreamKindChannel)

	d := newFakeDelegate(2)
	d.cached[cachedID] = true

	s := New(d, nil)
	s.Schedule([]model.StreamID{cachedID, uncachedID}, nil)
	s.Start(context.Background())
	defer s.Stop()

	d.waitDrained(t)

	d.mu.Lock()
	defer d.mu.Unlock()
	// Both got a cache probe, only the miss went to the network.
	assert.ElementsMatch(t, []model.StreamID{cachedID, uncachedID}, d.cacheCalls)
	assert.Equal(t, []model.StreamID{uncachedID}, d.networkCalls)

	final := d.statuses[len(d.statuses)-1]
	assert.True(t, final.RemoteDataLoaded)
	assert.True(t, final.LocalDataLoaded)
	assert.Equal(t, 2, final.StreamsLoaded)
	assert.Equal(t, 0, final.StreamsFailed)
	assert.Equal(t, 1.0, final.Progress)
}

func TestHighPriorityWorkedFirst(t *testing.T) {
	favorite := mustStreamID(t, model.StreamKindChannel)
	other := mustStreamID(t, model.StreamKindChannel)

	d := newFakeDelegate(2)
	s := New(d, nil)
	s.Schedule([]model.StreamID{other, favorite}, []model.StreamID{favorite})
	s.Start(context.Background())
	defer s.Stop()

	d.waitDrained(t)

	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.cacheCalls)
	assert.Equal(t, favorite, d.cacheCalls[0])
}

func TestFailureCountedNotFatal(t *testing.T) {
	good := mustStreamID(t, model.StreamKindChannel)
	bad := mustStreamID(t, model.StreamKindChannel)

	d := newFakeDelegate(2)
	d.failNetwork[bad] = true

	s := New(d, nil)
	s.Schedule([]model.StreamID{good, bad}, nil)
	s.Start(context.Background())
	defer s.Stop()

	d.waitDrained(t)

	d.mu.Lock()
	defer d.mu.Unlock()
	final := d.statuses[len(d.statuses)-1]
	assert.Equal(t, 1, final.StreamsLoaded)
	assert.Equal(t, 1, final.StreamsFailed)
	assert.True(t, final.RemoteDataLoaded)
}

func TestLiveSyncHandoffAfterDrain(t *testing.T) {
	id := mustStreamID(t, model.StreamKindChannel)
	d := newFakeDelegate(1)
	d.cached[id] = true

	s := New(d, nil)
	s.Schedule([]model.StreamID{id}, nil)
	s.RequestLiveSync()
	s.Start(context.Background())
	defer s.Stop()

	d.waitDrained(t)

	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.syncStarted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStopAwaitsInFlightTask(t *testing.T) {
	id := mustStreamID(t, model.StreamKindChannel)
	d := newFakeDelegate(1)
	d.cached[id] = true

	s := New(d, nil)
	s.Schedule([]model.StreamID{id}, nil)
	s.Start(context.Background())
	d.waitDrained(t)
	s.Stop()

	// Stop again is safe.
	s.Stop()

	// Nothing runs after Stop.
	d.mu.Lock()
	calls := len(d.cacheCalls)
	d.mu.Unlock()
	s.Schedule([]model.StreamID{mustStreamID(t, model.StreamKindChannel)}, nil)
	time.Sleep(50 * time.Millisecond)
	d.mu.Lock()
	assert.Equal(t, calls, len(d.cacheCalls))
	d.mu.Unlock()
}
