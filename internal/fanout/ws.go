package fanout

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/conversation-router/internal/model"
)

const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
	recentEventsLimit = 1024
)

// clientMessage is a control frame sent by the dashboard.
// A zero ConversationID addresses the tenant room.
type clientMessage struct {
	Action         string `json:"action"`
	ConversationID int64  `json:"conversation_id,omitempty"`
}

// conn is one dashboard websocket. Every subscription feeds out; a single
// writer goroutine owns the socket for writes.
type conn struct {
	id       string
	tenantID int64
	agentID  int64
	ws       *websocket.Conn
	server   *Server
	log      *zap.Logger

	mu   sync.Mutex
	subs map[int64]*Subscription // keyed by conversation id, 0 is the tenant room

	out  chan model.RealtimeEvent
	done chan struct{}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID, err := positiveInt(q.Get("tenant_id"))
	if err != nil {
		http.Error(w, "tenant_id is required", http.StatusBadRequest)
		return
	}
	agentID, err := positiveInt(q.Get("agent_id"))
	if err != nil {
		http.Error(w, "agent_id is required", http.StatusBadRequest)
		return
	}
	var conversationID int64
	if raw := q.Get("conversation_id"); raw != "" {
		if conversationID, err = positiveInt(raw); err != nil {
			http.Error(w, "invalid conversation_id", http.StatusBadRequest)
			return
		}
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	c := &conn{
		id:       uuid.NewString(),
		tenantID: tenantID,
		agentID:  agentID,
		ws:       ws,
		server:   s,
		subs:     make(map[int64]*Subscription),
		out:      make(chan model.RealtimeEvent, s.hub.buffer),
		done:     make(chan struct{}),
	}
	c.log = s.log.With(zap.String("conn_id", c.id), zap.Int64("tenant_id", tenantID), zap.Int64("agent_id", agentID))

	s.presence.Connect(agentID, c.id)
	c.log.Info("Dashboard connected")
	c.subscribe(conversationID)

	go c.writeLoop()
	c.readLoop()

	close(c.done)
	c.closeSubscriptions()
	s.presence.Disconnect(agentID, c.id)
	_ = ws.Close()
	c.log.Info("Dashboard disconnected")
}

// subscribe joins the tenant room (conversationID 0) or a conversation room.
func (c *conn) subscribe(conversationID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[conversationID]; ok {
		return
	}
	var sub *Subscription
	if conversationID == 0 {
		sub = c.server.hub.SubscribeTenant(c.tenantID)
	} else {
		sub = c.server.hub.SubscribeConversation(conversationID)
	}
	c.subs[conversationID] = sub
	go c.pump(sub)
}

func (c *conn) unsubscribe(conversationID int64) {
	c.mu.Lock()
	sub, ok := c.subs[conversationID]
	delete(c.subs, conversationID)
	c.mu.Unlock()
	if ok {
		sub.Close()
	}
}

func (c *conn) closeSubscriptions() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[int64]*Subscription)
	c.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}

// pump copies a subscription into out until either side is done. Events of
// other tenants never reach the socket even if a client names a foreign conversation.
func (c *conn) pump(sub *Subscription) {
	for event := range sub.C() {
		if event.TenantID != c.tenantID {
			continue
		}
		select {
		case c.out <- event:
		case <-c.done:
			return
		}
	}
}

func (c *conn) readLoop() {
	c.ws.SetReadLimit(maxClientMessage)
	readWait := c.server.cfg.PingInterval * 2
	_ = c.ws.SetReadDeadline(time.Now().Add(readWait))
	c.ws.SetPongHandler(func(string) error {
		c.server.presence.Touch(c.agentID)
		return c.ws.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		var msg clientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("Websocket read failed", zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readWait))
		c.server.presence.Touch(c.agentID)

		switch msg.Action {
		case actionSubscribe:
			c.subscribe(msg.ConversationID)
		case actionUnsubscribe:
			c.unsubscribe(msg.ConversationID)
		default:
			c.log.Debug("Ignoring unknown client action", zap.String("action", msg.Action))
		}
	}
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(c.server.cfg.PingInterval)
	defer ticker.Stop()

	// The tenant room and a conversation room can carry the same event.
	recent := make(map[string]struct{})

	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.server.cfg.WriteTimeout))
			return
		case event := <-c.out:
			if _, dup := recent[event.ID]; dup {
				continue
			}
			if len(recent) >= recentEventsLimit {
				recent = make(map[string]struct{})
			}
			recent[event.ID] = struct{}{}

			_ = c.ws.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteTimeout))
			if err := c.ws.WriteJSON(event); err != nil {
				c.log.Warn("Websocket write failed", zap.Error(err))
				_ = c.ws.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.server.cfg.WriteTimeout)); err != nil {
				c.log.Warn("Websocket ping failed", zap.Error(err))
				_ = c.ws.Close()
				return
			}
		}
	}
}
