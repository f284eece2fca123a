package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type sample struct {
	Channel  string `json:"channel" validate:"required,channel"`
	TenantID int64  `json:"tenant_id" validate:"gt=0"`
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(sample{Channel: "whatsapp", TenantID: 1}))
	assert.NoError(t, Validate(sample{Channel: "instagram", TenantID: 1}))

	err := Validate(sample{Channel: "telegram", TenantID: 1})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "field 'channel'")
	assert.Contains(t, err.Error(), "whatsapp messenger instagram")

	err = Validate(sample{Channel: "messenger"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "field 'tenant_id' failed validation: must be greater than 0")
}

func TestValidateVar(t *testing.T) {
	assert.NoError(t, ValidateVar("messenger", "channel"))
	assert.Error(t, ValidateVar("sms", "channel"))
}
