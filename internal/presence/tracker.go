package presence

import (
	"sync"
	"sync/atomic"
	"time"

	"gitlab.com/timkado/api/conversation-router/internal/observer"
	"gitlab.com/timkado/api/conversation-router/pkg/utils"
)

// Snapshot is a point-in-time copy of one agent's presence.
type Snapshot struct {
	AgentID           int64      `json:"agent_id"`
	Online            bool       `json:"online"`
	ConnectedAt       *time.Time `json:"connected_at,omitempty"`
	DisconnectedAt    *time.Time `json:"disconnected_at,omitempty"`
	LastSeen          *time.Time `json:"last_seen,omitempty"`
	ActiveConnections int        `json:"active_connection_count"`
}

type record struct {
	mu    sync.Mutex
	conns map[string]struct{}
	snap  Snapshot
}

func (r *record) copyLocked() Snapshot {
	s := r.snap
	s.ActiveConnections = len(r.conns)
	return s
}

// Tracker is a process-local, reference-counted registry of agent connections.
// An agent is online while at least one of its connections is open.
type Tracker struct {
	mu     sync.RWMutex
	agents map[int64]*record
	online atomic.Int64
	now    func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		agents: make(map[int64]*record),
		now:    utils.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) lookup(agentID int64) *record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.agents[agentID]
}

func (t *Tracker) getOrCreate(agentID int64) *record {
	if r := t.lookup(agentID); r != nil {
		return r
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.agents[agentID]; ok {
		return r
	}
	r := &record{conns: make(map[string]struct{}), snap: Snapshot{AgentID: agentID}}
	t.agents[agentID] = r
	return r
}

// Connect registers connID for the agent. The first connection marks the agent online.
// Registering a connID twice is a no-op.
func (t *Tracker) Connect(agentID int64, connID string) Snapshot {
	r := t.getOrCreate(agentID)
	r.mu.Lock()
	defer r.mu.Unlock()

	now := t.now()
	if _, dup := r.conns[connID]; !dup {
		r.conns[connID] = struct{}{}
		if len(r.conns) == 1 {
			r.snap.Online = true
			r.snap.ConnectedAt = &now
			observer.SetAgentsOnline(int(t.online.Add(1)))
		}
	}
	r.snap.LastSeen = &now
	return r.copyLocked()
}

// Disconnect removes connID. When the last connection closes the agent goes offline.
// Unknown agents and connIDs are ignored so repeated disconnects never double count.
func (t *Tracker) Disconnect(agentID int64, connID string) Snapshot {
	r := t.lookup(agentID)
	if r == nil {
		return Snapshot{AgentID: agentID}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[connID]; !ok {
		return r.copyLocked()
	}
	delete(r.conns, connID)
	if len(r.conns) == 0 {
		now := t.now()
		r.snap.Online = false
		r.snap.DisconnectedAt = &now
		r.snap.LastSeen = &now
		observer.SetAgentsOnline(int(t.online.Add(-1)))
	}
	return r.copyLocked()
}

// Touch refreshes last_seen for a connected agent.
func (t *Tracker) Touch(agentID int64) {
	r := t.lookup(agentID)
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.conns) > 0 {
		now := t.now()
		r.snap.LastSeen = &now
	}
}

// IsOnline reports whether the agent has at least one open connection.
func (t *Tracker) IsOnline(agentID int64) bool {
	r := t.lookup(agentID)
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap.Online
}

// Get returns the presence of one agent.
func (t *Tracker) Get(agentID int64) (Snapshot, bool) {
	r := t.lookup(agentID)
	if r == nil {
		return Snapshot{AgentID: agentID}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyLocked(), true
}

// Snapshot copies the presence of every agent seen so far.
func (t *Tracker) Snapshot() map[int64]Snapshot {
	t.mu.RLock()
	records := make(map[int64]*record, len(t.agents))
	for id, r := range t.agents {
		records[id] = r
	}
	t.mu.RUnlock()

	out := make(map[int64]Snapshot, len(records))
	for id, r := range records {
		r.mu.Lock()
		out[id] = r.copyLocked()
		r.mu.Unlock()
	}
	return out
}

// OnlineCount returns the number of online agents.
func (t *Tracker) OnlineCount() int {
	return int(t.online.Load())
}
