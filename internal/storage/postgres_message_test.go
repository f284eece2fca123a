package storage

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/conversation-router/internal/model"
)

func TestPostgresRepo_CreateMessage(t *testing.T) {
	conv := &model.Conversation{ID: 7, TenantID: testTenantID}

	t.Run("Success", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		ctx := contextWithTestTenant(t)

		msg := model.NewMessage(conv, model.DirectionIn, model.StatusDelivered, "wamid.1", model.RandomJSONB())
		mock.ExpectQuery(`INSERT INTO "messages"`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(100))

		require.NoError(t, repo.CreateMessage(ctx, msg))
		assert.Equal(t, int64(100), msg.ID)
	})

	t.Run("Duplicate provider id", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		ctx := contextWithTestTenant(t)

		msg := model.NewMessage(conv, model.DirectionIn, model.StatusDelivered, "wamid.1", nil)
		mock.ExpectQuery(`INSERT INTO "messages"`).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_messages_provider_id"})

		err := repo.CreateMessage(ctx, msg)
		assert.ErrorIs(t, err, apperrors.ErrDuplicate)
	})
}

func TestPostgresRepo_FindMessageByProviderID(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := contextWithTestTenant(t)

	rows := sqlmock.NewRows([]string{"id", "tenant_id", "conversation_id", "direction", "provider_message_id", "status"}).
		AddRow(5, testTenantID, 7, "out", "wamid.9", "sent")
	mock.ExpectQuery(`SELECT \* FROM "messages" WHERE tenant_id = \$1 AND provider_message_id = \$2`).
		WithArgs(testTenantID, "wamid.9", 1).
		WillReturnRows(rows)

	msg, err := repo.FindMessageByProviderID(ctx, testTenantID, "wamid.9")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, msg.Status)
	assert.Equal(t, "wamid.9", msg.ProviderID())
}

func TestPostgresRepo_AdvanceMessageStatus(t *testing.T) {
	wm := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("By provider ids", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		ctx := contextWithTestTenant(t)

		mock.ExpectExec(`UPDATE "messages" SET .*"status"=.* WHERE tenant_id = \$\d+ AND status IN \(\$\d+,\$\d+\) AND direction = \$\d+ AND provider_message_id IN \(\$\d+,\$\d+\)`).
			WillReturnResult(sqlmock.NewResult(0, 2))

		rows, err := repo.AdvanceMessageStatus(ctx, model.StatusTransition{
			TenantID:           testTenantID,
			Target:             model.StatusDelivered,
			Direction:          model.DirectionOut,
			ProviderMessageIDs: []string{"a", "b"},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), rows)
	})

	t.Run("By provider ids within a conversation", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		ctx := contextWithTestTenant(t)

		mock.ExpectExec(`UPDATE "messages" SET .* WHERE .*provider_message_id IN \(\$\d+\) AND conversation_id = \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		rows, err := repo.AdvanceMessageStatus(ctx, model.StatusTransition{
			TenantID:           testTenantID,
			Target:             model.StatusDelivered,
			Direction:          model.DirectionOut,
			ProviderMessageIDs: []string{"a"},
			ConversationID:     7,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), rows)
	})

	t.Run("By conversation watermark", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		ctx := contextWithTestTenant(t)

		mock.ExpectExec(`UPDATE "messages" SET "read_watermark"=.* WHERE .*conversation_id = .*created_at <= .*read_watermark IS NULL OR read_watermark <`).
			WillReturnResult(sqlmock.NewResult(0, 3))

		rows, err := repo.AdvanceMessageStatus(ctx, model.StatusTransition{
			TenantID:       testTenantID,
			Target:         model.StatusRead,
			Direction:      model.DirectionOut,
			ConversationID: 7,
			Watermark:      &wm,
			From:           []model.MessageStatus{model.StatusSent, model.StatusDelivered},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), rows)
	})

	t.Run("Stale update matches nothing", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		ctx := contextWithTestTenant(t)

		mock.ExpectExec(`UPDATE "messages"`).WillReturnResult(sqlmock.NewResult(0, 0))

		rows, err := repo.AdvanceMessageStatus(ctx, model.StatusTransition{
			TenantID:  testTenantID,
			Target:    model.StatusSent,
			MessageID: 12,
		})
		require.NoError(t, err)
		assert.Zero(t, rows)
	})

	t.Run("No legal source status", func(t *testing.T) {
		repo, _ := newTestRepo(t)
		ctx := contextWithTestTenant(t)

		rows, err := repo.AdvanceMessageStatus(ctx, model.StatusTransition{
			TenantID:  testTenantID,
			Target:    model.StatusQueued,
			MessageID: 12,
		})
		require.NoError(t, err)
		assert.Zero(t, rows)
	})

	t.Run("Missing selector", func(t *testing.T) {
		repo, _ := newTestRepo(t)
		ctx := contextWithTestTenant(t)

		_, err := repo.AdvanceMessageStatus(ctx, model.StatusTransition{
			TenantID: testTenantID,
			Target:   model.StatusDelivered,
		})
		assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	})
}

func TestPostgresRepo_MarkInboundSeen(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := contextWithTestTenant(t)
	wm := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE "messages" SET "seen"=\$1,"seen_at"=\$2,"updated_at"=\$3 WHERE tenant_id = \$4 AND conversation_id = \$5 AND direction = \$6 AND seen = \$7 AND created_at <= \$8`).
		WithArgs(true, wm, AnyTime{}, testTenantID, int64(7), "in", false, wm).
		WillReturnResult(sqlmock.NewResult(0, 4))

	rows, err := repo.MarkInboundSeen(ctx, testTenantID, 7, wm)
	require.NoError(t, err)
	assert.Equal(t, int64(4), rows)
}
