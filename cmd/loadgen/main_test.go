package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/conversation-router/internal/model"
	"gitlab.com/timkado/api/conversation-router/internal/validator"
)

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	assert.Nil(t, splitList(""))
}

func TestGenerator_ReusesPeers(t *testing.T) {
	gen := newGenerator(2)

	seen := map[model.IdentityKey]struct{}{}
	for i := 0; i < 20; i++ {
		seen[gen.peer("7")] = struct{}{}
	}
	assert.Len(t, seen, 2)
}

func TestGenerator_PayloadsValidate(t *testing.T) {
	gen := newGenerator(5)

	for _, base := range []model.EventType{model.V1RouterInbound, model.V1RouterDelivery, model.V1RouterRead, model.V1RouterSend} {
		payload, err := gen.payloadFor(base, "7")
		require.NoError(t, err, base)
		assert.NoError(t, validator.Validate(payload), base)
	}

	_, err := gen.payloadFor("v1.router.typing", "7")
	assert.Error(t, err)
}

func TestGenerator_DeliveryReferencesInboundIDs(t *testing.T) {
	gen := newGenerator(1)

	inbound, err := gen.payloadFor(model.V1RouterInbound, "7")
	require.NoError(t, err)

	payload, err := gen.payloadFor(model.V1RouterDelivery, "7")
	require.NoError(t, err)
	delivery := payload.(*model.DeliveryWatermarkPayload)
	assert.Equal(t, []string{inbound.(*model.InboundMessagePayload).ProviderMessageID}, delivery.ProviderMessageIDs)
}

func TestRunLoadLoop_BatchesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var batches [][]publishTask
	done := make(chan struct{})
	go func() {
		defer close(done)
		runLoadLoop(ctx, 1000, time.Minute, 3, []string{"v1.router.inbound"}, []string{"1", "2"}, func(b []publishTask) {
			batches = append(batches, b)
			if len(batches) == 2 {
				cancel()
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("load loop did not stop")
	}

	require.GreaterOrEqual(t, len(batches), 2)
	assert.Len(t, batches[0], 3)
	assert.Equal(t, "1", batches[0][0].TenantID)
	assert.Equal(t, "2", batches[0][1].TenantID)
}
