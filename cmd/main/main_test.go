package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunShutdown_PanickingStepDoesNotBreakWait(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var stopped atomic.Int32
	runShutdown(ctx, []shutdownStep{
		{name: "panics", stop: func(context.Context) error { panic("boom") }},
		{name: "fails", stop: func(context.Context) error {
			stopped.Add(1)
			return errors.New("close failed")
		}},
		{name: "ok", stop: func(context.Context) error {
			stopped.Add(1)
			return nil
		}},
	})

	assert.NoError(t, ctx.Err(), "all steps settled before the deadline")
	assert.Equal(t, int32(2), stopped.Load())
}
