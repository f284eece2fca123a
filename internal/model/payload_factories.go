package model

import (
	"github.com/brianvoe/gofakeit/v6"

	"gitlab.com/timkado/api/conversation-router/pkg/utils"
)

// --- NATS Payload Factories ---

// FakeInboundPayload creates an InboundMessagePayload with default fake data.
func FakeInboundPayload(overrideDefaults ...*InboundMessagePayload) *InboundMessagePayload {
	base := &InboundMessagePayload{
		Identity:          FakeIdentity(FakeChannel()),
		Display:           FakeDisplay(),
		ProviderMessageID: "mid." + gofakeit.LetterN(20),
		Content:           RandomContent(),
		Timestamp:         utils.Now().UnixMilli(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.Identity.Channel != "" {
			base.Identity = ovr.Identity
		}
		if !ovr.Display.IsEmpty() {
			base.Display = ovr.Display
		}
		if ovr.ProviderMessageID != "" {
			base.ProviderMessageID = ovr.ProviderMessageID
		}
		if ovr.Content != nil {
			base.Content = ovr.Content
		}
		if ovr.Timestamp != 0 {
			base.Timestamp = ovr.Timestamp
		}
	}
	return base
}

// FakeSendPayload creates a SendMessagePayload for conversationID.
func FakeSendPayload(conversationID int64) *SendMessagePayload {
	return &SendMessagePayload{
		ConversationID: conversationID,
		Content:        RandomContent(),
		RequestedBy:    int64(gofakeit.Number(1, 1000)),
	}
}

// FakeDeliveryPayload creates a DeliveryWatermarkPayload addressed to identity.
func FakeDeliveryPayload(identity IdentityKey, providerMessageIDs ...string) *DeliveryWatermarkPayload {
	return &DeliveryWatermarkPayload{
		Identity:           identity,
		Watermark:          utils.Now().UnixMilli(),
		ProviderMessageIDs: providerMessageIDs,
	}
}

// FakeReadPayload creates a ReadWatermarkPayload addressed to identity.
func FakeReadPayload(identity IdentityKey) *ReadWatermarkPayload {
	return &ReadWatermarkPayload{
		Identity:  identity,
		Watermark: utils.Now().UnixMilli(),
	}
}
