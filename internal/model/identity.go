package model

import (
	"fmt"
	"strings"

	"gitlab.com/timkado/api/conversation-router/internal/apperrors"
)

// IdentityKey is the channel-specific sender identity extracted from a provider webhook.
// WhatsApp senders are identified by phone; Messenger and Instagram senders by the
// page that received the message plus the page-scoped user id.
type IdentityKey struct {
	Channel    Channel `json:"channel" validate:"required,channel"`
	Phone      string  `json:"phone,omitempty"`
	PageID     string  `json:"page_id,omitempty"`
	ExternalID string  `json:"external_id,omitempty"`
}

// Validate checks that the key carries the material its channel needs.
func (k IdentityKey) Validate() error {
	if !k.Channel.IsValid() {
		return fmt.Errorf("%w: unknown channel %q", apperrors.ErrUnresolvableIdentity, k.Channel)
	}
	if k.Channel.UsesPhoneIdentity() {
		if strings.TrimSpace(k.Phone) == "" {
			return fmt.Errorf("%w: %s sender has no phone", apperrors.ErrUnresolvableIdentity, k.Channel)
		}
		return nil
	}
	if strings.TrimSpace(k.PageID) == "" || strings.TrimSpace(k.ExternalID) == "" {
		return fmt.Errorf("%w: %s sender needs page_id and external_id", apperrors.ErrUnresolvableIdentity, k.Channel)
	}
	return nil
}

// DedupKey derives the immutable per-tenant conversation key.
// Callers must Validate first.
func (k IdentityKey) DedupKey() string {
	if k.Channel.UsesPhoneIdentity() {
		return "wa:" + strings.TrimSpace(k.Phone)
	}
	return fmt.Sprintf("%s:%s:%s", k.Channel, strings.TrimSpace(k.PageID), strings.TrimSpace(k.ExternalID))
}

func (k IdentityKey) String() string {
	return k.DedupKey()
}

// DisplayFields carries the optional human-readable sender profile.
type DisplayFields struct {
	DisplayName string `json:"display_name,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
}

// IsEmpty reports whether no display field is set.
func (d DisplayFields) IsEmpty() bool {
	return d.DisplayName == "" && d.FirstName == "" && d.LastName == ""
}
