package model

import "time"

// MessageStatus is the delivery lifecycle of a message.
type MessageStatus string

const (
	StatusQueued    MessageStatus = "queued"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// Rank orders the forward statuses. Failed has no rank.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusQueued:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered:
		return 3
	case StatusRead:
		return 4
	}
	return 0
}

// IsValid reports whether s is a known status.
func (s MessageStatus) IsValid() bool {
	return s == StatusFailed || s.Rank() > 0
}

// IsTerminal reports whether no transition leaves s.
func (s MessageStatus) IsTerminal() bool {
	return s == StatusFailed || s == StatusRead
}

// CanAdvanceTo reports whether a message in s may move to next.
// Forward statuses only move up; failed is reachable from queued or sent and is terminal.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	if s == StatusFailed {
		return false
	}
	if next == StatusFailed {
		return s == StatusQueued || s == StatusSent
	}
	return s.Rank() > 0 && next.Rank() > s.Rank()
}

// StatusesAdvancingTo lists every status that may legally move to target.
// Guarded updates use it as the WHERE status IN (...) filter.
func StatusesAdvancingTo(target MessageStatus) []MessageStatus {
	var from []MessageStatus
	for _, s := range []MessageStatus{StatusQueued, StatusSent, StatusDelivered, StatusRead, StatusFailed} {
		if s.CanAdvanceTo(target) {
			from = append(from, s)
		}
	}
	return from
}

// StatusTransition describes one guarded status write.
// Exactly one selector is used: MessageID, ProviderMessageIDs, or ConversationID with Watermark.
type StatusTransition struct {
	TenantID           int64
	Target             MessageStatus
	Direction          MessageDirection
	MessageID          int64
	ProviderMessageIDs []string
	ConversationID     int64
	Watermark          *time.Time
	ErrorReason        string
	// From narrows the source statuses. It is intersected with StatusesAdvancingTo(Target),
	// so it can never widen the guard.
	From []MessageStatus
}

// AllowedFrom returns the statuses the guarded update may match.
func (t StatusTransition) AllowedFrom() []MessageStatus {
	legal := StatusesAdvancingTo(t.Target)
	if len(t.From) == 0 {
		return legal
	}
	var out []MessageStatus
	for _, s := range legal {
		for _, f := range t.From {
			if s == f {
				out = append(out, s)
				break
			}
		}
	}
	return out
}
