package utils

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

func TestStreamConfigEqual(t *testing.T) {
	base := nats.StreamConfig{
		Name:      "ROUTER_EVENTS",
		Subjects:  []string{"v1.router.inbound.*", "v1.router.read.*"},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    7 * 24 * time.Hour,
	}

	same := base
	same.Subjects = append([]string(nil), base.Subjects...)
	same.Description = "ignored"
	assert.True(t, StreamConfigEqual(base, same))

	reordered := base
	reordered.Subjects = []string{"v1.router.read.*", "v1.router.inbound.*"}
	assert.False(t, StreamConfigEqual(base, reordered))

	longer := base
	longer.MaxAge = 30 * 24 * time.Hour
	assert.False(t, StreamConfigEqual(base, longer))

	memory := base
	memory.Storage = nats.MemoryStorage
	assert.False(t, StreamConfigEqual(base, memory))
}

func TestConsumerConfigEqual(t *testing.T) {
	base := nats.ConsumerConfig{
		Durable:        "router-events-consumer",
		DeliverGroup:   "router-events",
		AckPolicy:      nats.AckExplicitPolicy,
		FilterSubjects: []string{"v1.router.inbound.*", "v1.router.send.*"},
		MaxDeliver:     5,
		MaxAckPending:  1000,
	}

	same := base
	same.AckWait = time.Minute
	assert.True(t, ConsumerConfigEqual(base, same))

	testCases := []struct {
		name   string
		mutate func(c *nats.ConsumerConfig)
	}{
		{name: "Filter subjects", mutate: func(c *nats.ConsumerConfig) { c.FilterSubjects = []string{"v1.router.inbound.*"} }},
		{name: "Deliver group", mutate: func(c *nats.ConsumerConfig) { c.DeliverGroup = "other" }},
		{name: "Max deliver", mutate: func(c *nats.ConsumerConfig) { c.MaxDeliver = 10 }},
		{name: "Max ack pending", mutate: func(c *nats.ConsumerConfig) { c.MaxAckPending = 1 }},
		{name: "Ack policy", mutate: func(c *nats.ConsumerConfig) { c.AckPolicy = nats.AckAllPolicy }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			changed := base
			tc.mutate(&changed)
			assert.False(t, ConsumerConfigEqual(base, changed))
		})
	}
}
