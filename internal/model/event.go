package model

import (
	"strings"
	"time"
)

// EventType is the subject prefix of an ingestion event. Published subjects
// append the tenant id as one more token, e.g. "v1.router.inbound.42".
type EventType string

const (
	V1RouterInbound  EventType = "v1.router.inbound"
	V1RouterSend     EventType = "v1.router.send"
	V1RouterDelivery EventType = "v1.router.delivery"
	V1RouterRead     EventType = "v1.router.read"
)

var knownEventTypes = map[EventType]struct{}{
	V1RouterInbound:  {},
	V1RouterSend:     {},
	V1RouterDelivery: {},
	V1RouterRead:     {},
}

// MapToBaseEventType resolves a subject, with or without its tenant token,
// to a known EventType.
func MapToBaseEventType(subject string) (EventType, bool) {
	if _, ok := knownEventTypes[EventType(subject)]; ok {
		return EventType(subject), true
	}
	idx := strings.LastIndex(subject, ".")
	if idx <= 0 {
		return "", false
	}
	base := EventType(subject[:idx])
	if _, ok := knownEventTypes[base]; ok {
		return base, true
	}
	return "", false
}

// SubjectTenantToken returns the last dot-separated token of a subject.
func SubjectTenantToken(subject string) string {
	idx := strings.LastIndex(subject, ".")
	if idx < 0 || idx == len(subject)-1 {
		return ""
	}
	return subject[idx+1:]
}

// ForTenant returns the publish subject for e scoped to tenantID.
func (e EventType) ForTenant(tenantID string) string {
	return string(e) + "." + tenantID
}

// GetVersion returns the leading "vN" token, or "" when e is unversioned.
func (e EventType) GetVersion() string {
	head, _, found := strings.Cut(string(e), ".")
	if !found || len(head) < 2 || head[0] != 'v' {
		return ""
	}
	return head
}

// GetBaseType strips the version token: "v1.router.read" -> "router.read".
func (e EventType) GetBaseType() EventType {
	if v := e.GetVersion(); v != "" {
		return EventType(strings.TrimPrefix(string(e), v+"."))
	}
	return e
}

// MessageMetadata is the JetStream delivery info of one event plus the tenant
// parsed from its subject.
type MessageMetadata struct {
	ConsumerSequence uint64
	StreamSequence   uint64
	NumDelivered     uint64
	NumPending       uint64
	Timestamp        time.Time
	Stream           string
	Consumer         string
	Domain           string
	MessageID        string
	MessageSubject   string
	TenantID         int64
}

// Redelivered reports whether JetStream has delivered this event before.
func (m MessageMetadata) Redelivered() bool {
	return m.NumDelivered > 1
}
