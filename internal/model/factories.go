package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/conversation-router/pkg/utils"
)

// RandomJSONB generates random message content for testing.
func RandomJSONB() datatypes.JSON {
	bytes, _ := json.Marshal(RandomContent())
	return datatypes.JSON(bytes)
}

// RandomContent generates a random text message body.
func RandomContent() map[string]interface{} {
	return map[string]interface{}{
		"type": "text",
		"text": gofakeit.Sentence(6),
	}
}

// init ensures gofakeit is seeded.
func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// FakeChannel picks a random supported channel.
func FakeChannel() Channel {
	channels := Channels()
	return channels[gofakeit.Number(0, len(channels)-1)]
}

// FakeIdentity builds a valid identity for channel with random key material.
func FakeIdentity(channel Channel) IdentityKey {
	if channel.UsesPhoneIdentity() {
		return IdentityKey{Channel: channel, Phone: "62" + gofakeit.Numerify("##########")}
	}
	return IdentityKey{
		Channel:    channel,
		PageID:     gofakeit.Numerify("1###############"),
		ExternalID: gofakeit.Numerify("2###############"),
	}
}

// FakeDisplay builds random display fields.
func FakeDisplay() DisplayFields {
	first, last := gofakeit.FirstName(), gofakeit.LastName()
	return DisplayFields{DisplayName: first + " " + last, FirstName: first, LastName: last}
}

// FakeTenant creates a Tenant with default fake data.
func FakeTenant(overrideDefaults ...*Tenant) *Tenant {
	base := &Tenant{
		ID:         int64(gofakeit.Number(1, 100000)),
		AccountID:  int64(gofakeit.Number(1, 1000)),
		Channel:    FakeChannel(),
		EndpointID: gofakeit.Numerify("###############"),
		CreatedAt:  utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt:  utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != 0 {
			base.ID = ovr.ID
		}
		if ovr.AccountID != 0 {
			base.AccountID = ovr.AccountID
		}
		if ovr.Channel != "" {
			base.Channel = ovr.Channel
		}
		if ovr.EndpointID != "" {
			base.EndpointID = ovr.EndpointID
		}
		base.Suspended = ovr.Suspended
	}
	return base
}

// FakeAgent creates an Agent with default fake data.
func FakeAgent(overrideDefaults ...*Agent) *Agent {
	base := &Agent{
		ID:        int64(gofakeit.Number(1, 100000)),
		AccountID: int64(gofakeit.Number(1, 1000)),
		Name:      gofakeit.Name(),
		Email:     gofakeit.Email(),
		Role:      RoleAgent,
		CreatedAt: utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt: utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != 0 {
			base.ID = ovr.ID
		}
		if ovr.AccountID != 0 {
			base.AccountID = ovr.AccountID
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		if ovr.Role != "" {
			base.Role = ovr.Role
		}
	}
	return base
}

// FakeAgents creates n routable agents of one account with ascending ids starting at firstID.
func FakeAgents(accountID, firstID int64, n int) []Agent {
	agents := make([]Agent, 0, n)
	for i := 0; i < n; i++ {
		agents = append(agents, *FakeAgent(&Agent{ID: firstID + int64(i), AccountID: accountID}))
	}
	return agents
}

// FakeConversation creates a Conversation with default fake data.
func FakeConversation(overrideDefaults ...*Conversation) *Conversation {
	channel := FakeChannel()
	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil && overrideDefaults[0].Channel != "" {
		channel = overrideDefaults[0].Channel
	}
	base := NewConversation(int64(gofakeit.Number(1, 100000)), FakeIdentity(channel), FakeDisplay())
	base.ID = int64(gofakeit.Number(1, 1000000))
	base.CreatedAt = utils.Now().Add(-time.Duration(gofakeit.Number(1, 60)) * time.Minute)
	base.UpdatedAt = utils.Now()

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != 0 {
			base.ID = ovr.ID
		}
		if ovr.TenantID != 0 {
			base.TenantID = ovr.TenantID
		}
		base.DepartmentID = ovr.DepartmentID
		base.AgentID = ovr.AgentID
		base.IsDeleted = ovr.IsDeleted
	}
	return base
}

// FakeMessage creates a Message with default fake data.
func FakeMessage(overrideDefaults ...*Message) *Message {
	pid := fmt.Sprintf("wamid.%s", gofakeit.LetterN(24))
	base := &Message{
		ID:                int64(gofakeit.Number(1, 1000000)),
		TenantID:          int64(gofakeit.Number(1, 100000)),
		ConversationID:    int64(gofakeit.Number(1, 1000000)),
		Direction:         DirectionOut,
		ProviderMessageID: &pid,
		Status:            StatusSent,
		Content:           RandomJSONB(),
		CreatedAt:         utils.Now().Add(-time.Duration(gofakeit.Number(1, 60)) * time.Minute),
		UpdatedAt:         utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != 0 {
			base.ID = ovr.ID
		}
		if ovr.TenantID != 0 {
			base.TenantID = ovr.TenantID
		}
		if ovr.ConversationID != 0 {
			base.ConversationID = ovr.ConversationID
		}
		if ovr.Direction != "" {
			base.Direction = ovr.Direction
		}
		if ovr.ProviderMessageID != nil {
			base.ProviderMessageID = ovr.ProviderMessageID
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if !ovr.CreatedAt.IsZero() {
			base.CreatedAt = ovr.CreatedAt
		}
	}
	return base
}
