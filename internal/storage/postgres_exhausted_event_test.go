package storage

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"gorm.io/datatypes"

	apperrors "gitlab.com/timkado/api/conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/conversation-router/internal/model"
)

func newExhaustedEvent() model.ExhaustedEvent {
	dlqPayloadJSON, _ := json.Marshal(map[string]string{"error": "failed to process"})
	originalPayloadJSON, _ := json.Marshal(map[string]string{"data": "original data"})
	return model.ExhaustedEvent{
		TenantID:        testTenantID,
		SourceSubject:   "v1.router.inbound.42",
		LastError:       "some error",
		RetryCount:      5,
		EventTimestamp:  time.Now(),
		DLQPayload:      datatypes.JSON(dlqPayloadJSON),
		OriginalPayload: datatypes.JSON(originalPayloadJSON),
	}
}

func TestSaveExhaustedEvent_Success(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := contextWithTestTenant(t)
	event := newExhaustedEvent()

	mock.ExpectQuery(`INSERT INTO "exhausted_events"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	err := repo.SaveExhaustedEvent(ctx, event)
	assert.NoError(t, err)
}

func TestSaveExhaustedEvent_InsertError(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := contextWithTestTenant(t)
	event := newExhaustedEvent()

	mock.ExpectQuery(`INSERT INTO "exhausted_events"`).WillReturnError(errors.New("insert failed"))

	err := repo.SaveExhaustedEvent(ctx, event)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrDatabase), "Expected ErrDatabase")
	assert.Contains(t, err.Error(), "insert failed")
}
