package usecase

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"gitlab.com/timkado/api/conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/conversation-router/internal/model"
)

// memStore is an in-memory datastore with the same uniqueness and status guards
// as the Postgres repository.
type memStore struct {
	mu            sync.Mutex
	tenant        model.Tenant
	department    *model.Department
	agents        []model.Agent
	conversations map[string]*model.Conversation
	history       []model.AssignmentHistory
	messages      []*model.Message
	nextID        int64
	now           time.Time

	findErr error

	lockMu      sync.Mutex
	lockless    bool
	createCalls int
}

func newMemStore(tenant model.Tenant, department *model.Department, agents ...model.Agent) *memStore {
	return &memStore{
		tenant:        tenant,
		department:    department,
		agents:        agents,
		conversations: make(map[string]*model.Conversation),
		now:           time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func identityIndex(tenantID int64, channel model.Channel, dedupKey string) string {
	return fmt.Sprintf("%d|%s|%s", tenantID, channel, dedupKey)
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

// --- DirectoryRepo ---

func (s *memStore) FindTenant(ctx context.Context, tenantID int64) (*model.Tenant, error) {
	if s.tenant.ID != tenantID {
		return nil, apperrors.ErrNotFound
	}
	t := s.tenant
	return &t, nil
}

func (s *memStore) DepartmentFor(ctx context.Context, tenantID int64) (*model.Department, error) {
	if s.department == nil {
		return nil, apperrors.ErrNotFound
	}
	d := *s.department
	return &d, nil
}

func (s *memStore) Roster(ctx context.Context, accountID, departmentID int64) ([]model.Agent, error) {
	var out []model.Agent
	for _, a := range s.agents {
		if a.AccountID == accountID && a.Role != model.RoleAdmin {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b model.Agent) int { return int(a.ID - b.ID) })
	return out, nil
}

// --- ConversationRepo ---

func (s *memStore) FindByIdentity(ctx context.Context, tenantID int64, key model.IdentityKey) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	c, ok := s.conversations[identityIndex(tenantID, key.Channel, key.DedupKey())]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) FindByID(ctx context.Context, tenantID, id int64) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.TenantID == tenantID && c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (s *memStore) CreateWithAssignment(ctx context.Context, conv *model.Conversation, entry *model.AssignmentHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	idx := identityIndex(conv.TenantID, conv.Channel, conv.DedupKey)
	if _, exists := s.conversations[idx]; exists {
		return fmt.Errorf("%w: conversations identity", apperrors.ErrDuplicate)
	}
	conv.ID = s.id()
	cp := *conv
	s.conversations[idx] = &cp
	if entry != nil {
		entry.ID = s.id()
		entry.ConversationID = conv.ID
		s.history = append(s.history, *entry)
	}
	return nil
}

func (s *memStore) BackfillDisplay(ctx context.Context, conv *model.Conversation, updates map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.conversations[identityIndex(conv.TenantID, conv.Channel, conv.DedupKey)]
	if !ok {
		return apperrors.ErrNotFound
	}
	stored.ApplyDisplay(updates)
	conv.ApplyDisplay(updates)
	return nil
}

// --- AssignmentRepo ---

func (s *memStore) LastRoundRobin(ctx context.Context, tenantID int64) (*model.AssignmentHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].TenantID == tenantID && s.history[i].Reason == model.ReasonRoundRobin {
			h := s.history[i]
			return &h, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (s *memStore) History(ctx context.Context, tenantID, conversationID int64) ([]model.AssignmentHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AssignmentHistory
	for _, h := range s.history {
		if h.TenantID == tenantID && h.ConversationID == conversationID {
			out = append(out, h)
		}
	}
	return out, nil
}

// --- MessageRepo ---

func (s *memStore) Create(ctx context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pid := msg.ProviderID(); pid != "" {
		for _, m := range s.messages {
			if m.TenantID == msg.TenantID && m.ProviderID() == pid {
				return fmt.Errorf("%w: messages provider id", apperrors.ErrDuplicate)
			}
		}
	}
	msg.ID = s.id()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now
	}
	cp := *msg
	s.messages = append(s.messages, &cp)
	return nil
}

// seed stores msg as-is, keeping its CreatedAt.
func (s *memStore) seed(msg *model.Message) *model.Message {
	if err := s.Create(context.Background(), msg); err != nil {
		panic(err)
	}
	return msg
}

func (s *memStore) FindByProviderID(ctx context.Context, tenantID int64, providerMessageID string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.TenantID == tenantID && m.ProviderID() == providerMessageID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (s *memStore) findMessage(id int64) *model.Message {
	for _, m := range s.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// memMessages exposes memStore as a storage.MessageRepo, whose FindByID
// returns messages rather than conversations.
type memMessages struct{ *memStore }

func (m memMessages) FindByID(ctx context.Context, tenantID, id int64) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg := m.findMessage(id); msg != nil && msg.TenantID == tenantID {
		cp := *msg
		return &cp, nil
	}
	return nil, apperrors.ErrNotFound
}

func (s *memStore) message(id int64) model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.findMessage(id)
}

func (s *memStore) AdvanceStatus(ctx context.Context, t model.StatusTransition) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := t.AllowedFrom()
	if len(from) == 0 {
		return 0, nil
	}
	if t.MessageID == 0 && len(t.ProviderMessageIDs) == 0 && (t.ConversationID == 0 || t.Watermark == nil) {
		return 0, apperrors.ErrBadRequest
	}

	var rows int64
	for _, m := range s.messages {
		if m.TenantID != t.TenantID || !slices.Contains(from, m.Status) {
			continue
		}
		if t.Direction != "" && m.Direction != t.Direction {
			continue
		}
		switch {
		case t.MessageID != 0:
			if m.ID != t.MessageID {
				continue
			}
		case len(t.ProviderMessageIDs) > 0:
			if !slices.Contains(t.ProviderMessageIDs, m.ProviderID()) {
				continue
			}
			if t.ConversationID != 0 && m.ConversationID != t.ConversationID {
				continue
			}
		default:
			if m.ConversationID != t.ConversationID || m.CreatedAt.After(*t.Watermark) {
				continue
			}
			if t.Target == model.StatusDelivered && m.DeliveredWatermark != nil && !m.DeliveredWatermark.Before(*t.Watermark) {
				continue
			}
			if t.Target == model.StatusRead && m.ReadWatermark != nil && !m.ReadWatermark.Before(*t.Watermark) {
				continue
			}
		}
		m.Status = t.Target
		if t.Target == model.StatusFailed {
			m.ErrorReason = t.ErrorReason
		}
		if t.Watermark != nil {
			wm := *t.Watermark
			switch t.Target {
			case model.StatusDelivered:
				m.DeliveredWatermark = &wm
			case model.StatusRead:
				m.ReadWatermark = &wm
			}
		}
		rows++
	}
	return rows, nil
}

func (s *memStore) MarkInboundSeen(ctx context.Context, tenantID, conversationID int64, watermark time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows int64
	for _, m := range s.messages {
		if m.TenantID != tenantID || m.ConversationID != conversationID || m.Direction != model.DirectionIn {
			continue
		}
		if m.Seen || m.CreatedAt.After(watermark) {
			continue
		}
		wm := watermark
		m.Seen = true
		m.SeenAt = &wm
		rows++
	}
	return rows, nil
}

// --- Locker ---

func (s *memStore) WithLock(ctx context.Context, key string, timeout time.Duration, fn func(ctx context.Context, acquired bool) error) error {
	if s.lockless {
		return fn(ctx, false)
	}
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	return fn(ctx, true)
}

func (s *memStore) conversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

func (s *memStore) historySnapshot() []model.AssignmentHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// --- Publisher ---

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.RealtimeEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event model.RealtimeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []model.RealtimeEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.RealtimeEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// --- Sender ---

type stubSender struct {
	providerMessageID string
	err               error
	calls             int
	lastPeer          model.IdentityKey
}

func (s *stubSender) Send(ctx context.Context, tenantID int64, channel model.Channel, peer model.IdentityKey, content map[string]interface{}) (string, error) {
	s.calls++
	s.lastPeer = peer
	return s.providerMessageID, s.err
}
