package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantRetryable bool
		wantFatal     bool
	}{
		{"database error is retryable", fmt.Errorf("%w: connection reset", ErrDatabase), true, false},
		{"timeout is retryable", ErrTimeout, true, false},
		{"nats error is retryable", fmt.Errorf("%w: no responders", ErrNATS), true, false},
		{"unresolvable identity is fatal", ErrUnresolvableIdentity, false, true},
		{"bad request is fatal", fmt.Errorf("%w: missing field", ErrBadRequest), false, true},
		{"unknown error is fatal", errors.New("boom"), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, "processing %s", "event")
			assert.Equal(t, tt.wantRetryable, IsRetryable(got))
			assert.Equal(t, tt.wantFatal, IsFatal(got))
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassify_PassesThroughClassifiedErrors(t *testing.T) {
	fatal := NewFatal(ErrDatabase, "already decided")
	assert.Same(t, fatal, Classify(fatal, "outer"))

	assert.Nil(t, Classify(nil, "nothing"))
}

func TestWrappersKeepChain(t *testing.T) {
	err := NewRetryable(ErrDuplicate, "insert conversation %d", 42)
	assert.True(t, IsDuplicateError(err))
	assert.Contains(t, err.Error(), "insert conversation 42")

	err = NewFatal(ErrSendFailed, "send")
	assert.True(t, IsSendFailedError(err))
	assert.False(t, IsRetryable(err))
}
