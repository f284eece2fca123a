package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/conversation-router/internal/config"
	"gitlab.com/timkado/api/conversation-router/internal/model"
	"gitlab.com/timkado/api/conversation-router/internal/observer"
	"gitlab.com/timkado/api/conversation-router/pkg/logger"
	"gitlab.com/timkado/api/conversation-router/pkg/utils"
)

const (
	defaultBufferSize  = 64
	defaultQueueSize   = 1024
	defaultSinkTimeout = 5 * time.Second
	closeTimeout       = 5 * time.Second
)

// Sink forwards events beyond this process.
type Sink interface {
	Name() string
	Forward(ctx context.Context, event model.RealtimeEvent) error
}

// forwardJob is one event waiting for the sinks.
type forwardJob struct {
	event model.RealtimeEvent
	sinks []Sink
	log   *zap.Logger
}

type roomKind uint8

const (
	tenantRoom roomKind = iota
	conversationRoom
)

type roomKey struct {
	kind roomKind
	id   int64
}

// Subscription receives the events of one room until closed.
type Subscription struct {
	ch   chan model.RealtimeEvent
	hub  *Hub
	room roomKey
	once sync.Once
}

// C returns the receive channel. It is closed by Close.
func (s *Subscription) C() <-chan model.RealtimeEvent {
	return s.ch
}

// Close leaves the room. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

// Hub delivers realtime events to tenant and conversation rooms. Local
// delivery never blocks: a full subscriber buffer drops the event.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[roomKey]map[*Subscription]struct{}
	closed bool

	pool         *ants.Pool
	jobs         chan forwardJob
	dispatchDone chan struct{}
	sinkTimeout  time.Duration
	sinks        []Sink
	buffer       int
	origin       string
	log          *zap.Logger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithSinks registers forwarders called after local delivery.
func WithSinks(sinks ...Sink) HubOption {
	return func(h *Hub) {
		h.sinks = append(h.sinks, sinks...)
	}
}

// WithBufferSize sets the per-subscription channel capacity.
func WithBufferSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// NewHub creates a hub whose sink forwarding runs on an ants pool sized by poolCfg.
// Hand-offs wait in a queue of poolCfg.QueueSize; Publish drops them when it is full.
func NewHub(poolCfg config.WorkerPoolConfig, opts ...HubOption) (*Hub, error) {
	queueSize := poolCfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	sinkTimeout := poolCfg.SinkTimeout
	if sinkTimeout <= 0 {
		sinkTimeout = defaultSinkTimeout
	}

	h := &Hub{
		rooms:        make(map[roomKey]map[*Subscription]struct{}),
		jobs:         make(chan forwardJob, queueSize),
		dispatchDone: make(chan struct{}),
		sinkTimeout:  sinkTimeout,
		buffer:       defaultBufferSize,
		origin:       uuid.NewString(),
		log:          logger.Named("fanout"),
	}
	for _, opt := range opts {
		opt(h)
	}

	size := poolCfg.PoolSize
	if size <= 0 {
		size = 1
	}
	// Only the dispatcher submits, so a blocking pool stalls the dispatcher and never Publish.
	pool, err := ants.NewPool(size,
		ants.WithExpiryDuration(poolCfg.ExpiryTime),
		ants.WithPanicHandler(func(p interface{}) {
			h.log.Error("Fanout worker panic caught", zap.Any("panic", p), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fanout pool: %w", err)
	}
	h.pool = pool
	go h.dispatch()
	return h, nil
}

// Origin identifies this hub in relayed events.
func (h *Hub) Origin() string {
	return h.origin
}

// AddSink registers a sink after construction, for sinks that need the hub themselves.
func (h *Hub) AddSink(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, s)
}

// Publish delivers event to local subscribers and hands it to the sinks.
// It never blocks on slow consumers or remote systems.
func (h *Hub) Publish(ctx context.Context, event model.RealtimeEvent) {
	if event.Origin == "" {
		event.Origin = h.origin
	}
	h.deliver(event)

	log := logger.FromContext(ctx)

	// The send happens under the read lock so Close cannot close jobs underneath it.
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.sinks) == 0 || h.closed {
		return
	}
	select {
	case h.jobs <- forwardJob{event: event, sinks: h.sinks, log: log}:
	default:
		observer.IncFanoutDropped(string(event.Type), "pool_overload")
		log.Warn("Fanout queue full, sink hand-off dropped", zap.String("event_id", event.ID))
	}
}

func (h *Hub) dispatch() {
	defer close(h.dispatchDone)
	for job := range h.jobs {
		job := job
		if err := h.pool.Submit(func() { h.forward(job) }); err != nil {
			observer.IncFanoutDropped(string(job.event.Type), "pool_overload")
			job.log.Warn("Fanout pool rejected event", zap.String("event_id", job.event.ID), zap.Error(err))
		}
	}
}

func (h *Hub) forward(job forwardJob) {
	iter.ForEach(job.sinks, func(s *Sink) {
		ctx, cancel := context.WithTimeout(logger.WithLogger(context.Background(), job.log), h.sinkTimeout)
		defer cancel()

		forward := utils.WrapWithContextRecovery(func(ctx context.Context) error {
			return (*s).Forward(ctx, job.event)
		})
		if err := forward(ctx); err != nil {
			observer.IncFanoutDropped(string(job.event.Type), (*s).Name())
			job.log.Warn("Fanout sink failed", zap.String("sink", (*s).Name()), zap.String("event_id", job.event.ID), zap.Error(err))
		}
	})
}

// Inject delivers an event received from another instance to local subscribers only.
func (h *Hub) Inject(event model.RealtimeEvent) {
	h.deliver(event)
}

func (h *Hub) deliver(event model.RealtimeEvent) {
	keys := []roomKey{{kind: tenantRoom, id: event.TenantID}}
	if event.ConversationID != 0 {
		keys = append(keys, roomKey{kind: conversationRoom, id: event.ConversationID})
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, key := range keys {
		for sub := range h.rooms[key] {
			select {
			case sub.ch <- event:
				observer.IncFanoutDelivered(string(event.Type))
			default:
				observer.IncFanoutDropped(string(event.Type), "buffer_full")
			}
		}
	}
}

// SubscribeTenant joins the room that sees every event of a tenant.
func (h *Hub) SubscribeTenant(tenantID int64) *Subscription {
	return h.subscribe(roomKey{kind: tenantRoom, id: tenantID})
}

// SubscribeConversation joins the room of a single conversation.
func (h *Hub) SubscribeConversation(conversationID int64) *Subscription {
	return h.subscribe(roomKey{kind: conversationRoom, id: conversationID})
}

func (h *Hub) subscribe(key roomKey) *Subscription {
	sub := &Subscription{ch: make(chan model.RealtimeEvent, h.buffer), hub: h, room: key}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	room, ok := h.rooms[key]
	if !ok {
		room = make(map[*Subscription]struct{})
		h.rooms[key] = room
	}
	room[sub] = struct{}{}
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[sub.room]
	if _, ok := room[sub]; !ok {
		return
	}
	delete(room, sub)
	if len(room) == 0 {
		delete(h.rooms, sub.room)
	}
	close(sub.ch)
}

// Subscribers counts the open subscriptions of all rooms.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, room := range h.rooms {
		n += len(room)
	}
	return n
}

// Close ends every subscription and waits for in-flight sink forwarding.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for key, room := range h.rooms {
		for sub := range room {
			close(sub.ch)
		}
		delete(h.rooms, key)
	}
	close(h.jobs)
	h.mu.Unlock()

	select {
	case <-h.dispatchDone:
	case <-time.After(closeTimeout):
		h.log.Warn("Fanout dispatcher still busy at close")
	}
	if err := h.pool.ReleaseTimeout(closeTimeout); err != nil {
		h.log.Warn("Fanout pool did not drain before timeout", zap.Error(err))
	}
}
