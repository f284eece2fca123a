package presence

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTracker() (*Tracker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
	return NewTracker(WithClock(clock.Now)), clock
}

func TestTracker_ReferenceCounting(t *testing.T) {
	tr, clock := newTestTracker()

	snap := tr.Connect(1, "tab-a")
	assert.True(t, snap.Online)
	assert.Equal(t, 1, snap.ActiveConnections)
	require.NotNil(t, snap.ConnectedAt)
	firstConnect := *snap.ConnectedAt

	clock.Advance(time.Minute)
	snap = tr.Connect(1, "tab-b")
	assert.Equal(t, 2, snap.ActiveConnections)
	assert.Equal(t, firstConnect, *snap.ConnectedAt, "second tab does not reset connected_at")

	snap = tr.Disconnect(1, "tab-a")
	assert.True(t, snap.Online)
	assert.Nil(t, snap.DisconnectedAt)

	clock.Advance(time.Minute)
	snap = tr.Disconnect(1, "tab-b")
	assert.False(t, snap.Online)
	assert.Equal(t, 0, snap.ActiveConnections)
	require.NotNil(t, snap.DisconnectedAt)
	assert.Equal(t, clock.Now(), *snap.DisconnectedAt)
	assert.Equal(t, clock.Now(), *snap.LastSeen)
	assert.False(t, tr.IsOnline(1))
	assert.Equal(t, 0, tr.OnlineCount())
}

func TestTracker_DuplicateDisconnectIsNoop(t *testing.T) {
	tr, _ := newTestTracker()

	tr.Connect(1, "a")
	tr.Connect(1, "b")
	tr.Disconnect(1, "a")
	snap := tr.Disconnect(1, "a")

	assert.True(t, snap.Online)
	assert.Equal(t, 1, snap.ActiveConnections)
	assert.Equal(t, 1, tr.OnlineCount())
}

func TestTracker_DuplicateConnectIsNoop(t *testing.T) {
	tr, _ := newTestTracker()

	tr.Connect(1, "a")
	snap := tr.Connect(1, "a")
	assert.Equal(t, 1, snap.ActiveConnections)

	snap = tr.Disconnect(1, "a")
	assert.False(t, snap.Online)
}

func TestTracker_UnknownAgent(t *testing.T) {
	tr, _ := newTestTracker()

	snap := tr.Disconnect(99, "x")
	assert.False(t, snap.Online)
	assert.False(t, tr.IsOnline(99))
	_, ok := tr.Get(99)
	assert.False(t, ok)
	tr.Touch(99)
	assert.Empty(t, tr.Snapshot())
}

func TestTracker_Touch(t *testing.T) {
	tr, clock := newTestTracker()

	tr.Connect(1, "a")
	clock.Advance(30 * time.Second)
	tr.Touch(1)

	snap, ok := tr.Get(1)
	require.True(t, ok)
	assert.Equal(t, clock.Now(), *snap.LastSeen)
}

func TestTracker_Snapshot(t *testing.T) {
	tr, _ := newTestTracker()

	tr.Connect(1, "a")
	tr.Connect(2, "b")
	tr.Disconnect(2, "b")

	all := tr.Snapshot()
	require.Len(t, all, 2)
	assert.True(t, all[1].Online)
	assert.False(t, all[2].Online)
}

func TestTracker_ConcurrentConnectDisconnect(t *testing.T) {
	tr := NewTracker()
	const agents, conns = 8, 50

	var wg sync.WaitGroup
	for a := int64(1); a <= agents; a++ {
		for c := 0; c < conns; c++ {
			wg.Add(1)
			go func(agentID int64, connID string) {
				defer wg.Done()
				tr.Connect(agentID, connID)
				_ = tr.IsOnline(agentID)
				tr.Disconnect(agentID, connID)
				tr.Disconnect(agentID, connID)
			}(a, fmt.Sprintf("conn-%d", c))
		}
	}
	wg.Wait()

	assert.Equal(t, 0, tr.OnlineCount())
	for id, snap := range tr.Snapshot() {
		assert.False(t, snap.Online, "agent %d", id)
		assert.Equal(t, 0, snap.ActiveConnections)
	}
}
