package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/conversation-router/pkg/logger"
)

func TestSafeGo(t *testing.T) {
	logger.Log = zaptest.NewLogger(t)

	ran := make(chan struct{})
	SafeGo(func() { close(ran) }, nil)
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("function did not run")
	}

	recovered := make(chan interface{}, 1)
	SafeGo(func() { panic("boom") }, func(r interface{}, stack []byte) {
		assert.NotEmpty(t, stack)
		recovered <- r
	})
	select {
	case r := <-recovered:
		assert.Equal(t, "boom", r)
	case <-time.After(time.Second):
		t.Fatal("panic was not recovered")
	}
}

func TestWrapWithContextRecovery(t *testing.T) {
	ctx := logger.WithLogger(context.Background(), zaptest.NewLogger(t))

	ok := WrapWithContextRecovery(func(context.Context) error { return nil })
	assert.NoError(t, ok(ctx))

	sentinel := errors.New("sink down")
	failing := WrapWithContextRecovery(func(context.Context) error { return sentinel })
	assert.ErrorIs(t, failing(ctx), sentinel)

	panicking := WrapWithContextRecovery(func(context.Context) error { panic("sink exploded") })
	err := panicking(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink exploded")
}
