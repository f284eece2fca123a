package storage

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/conversation-router/internal/model"
)

func TestPostgresRepo_FindTenant(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := contextWithTestTenant(t)

	mock.ExpectQuery(`SELECT \* FROM "tenants" WHERE id = \$1`).
		WithArgs(testTenantID, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "channel", "endpoint_id", "suspended"}).
			AddRow(testTenantID, testAccountID, "whatsapp", "62800", true))

	got, err := repo.FindTenant(ctx, testTenantID)
	require.NoError(t, err)
	assert.Equal(t, testAccountID, got.AccountID)
	assert.True(t, got.Suspended)
}

func TestPostgresRepo_DepartmentFor(t *testing.T) {
	t.Run("Lowest active department", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		ctx := contextWithTestTenant(t)

		mock.ExpectQuery(`SELECT \* FROM "departments" WHERE tenant_id = \$1 AND active = \$2 ORDER BY id ASC`).
			WithArgs(testTenantID, true, 1).
			WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name", "active"}).AddRow(3, testTenantID, "Sales", true))

		dept, err := repo.DepartmentFor(ctx, testTenantID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), dept.ID)
	})

	t.Run("No department", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		ctx := contextWithTestTenant(t)

		mock.ExpectQuery(`SELECT \* FROM "departments"`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := repo.DepartmentFor(ctx, testTenantID)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestPostgresRepo_Roster(t *testing.T) {
	repo, mock := newTestRepo(t)
	ctx := contextWithTestTenant(t)

	rows := sqlmock.NewRows([]string{"id", "account_id", "name", "role"}).
		AddRow(1, testAccountID, "A", "agent").
		AddRow(2, testAccountID, "B", "agent")
	mock.ExpectQuery(`SELECT a\.\* FROM .*agents.* AS .*a.* JOIN department_agents AS da ON da\.agent_id = a\.id WHERE da\.department_id = \$1 AND a\.account_id = \$2 AND a\.role <> \$3 ORDER BY a\.id ASC`).
		WithArgs(int64(3), testAccountID, "admin").
		WillReturnRows(rows)

	agents, err := repo.Roster(ctx, testAccountID, 3)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, []int64{1, 2}, []int64{agents[0].ID, agents[1].ID})
	assert.Equal(t, model.RoleAgent, agents[0].Role)
}

func TestPostgresRepo_LastRoundRobin(t *testing.T) {
	t.Run("Newest entry", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		ctx := contextWithTestTenant(t)

		mock.ExpectQuery(`SELECT \* FROM "assignment_histor\w*" WHERE tenant_id = \$1 AND reason = \$2 ORDER BY id DESC`).
			WithArgs(testTenantID, "round_robin", 1).
			WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "new_agent_id", "reason"}).AddRow(9, testTenantID, 2, "round_robin"))

		entry, err := repo.LastRoundRobin(ctx, testTenantID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), entry.NewAgentID)
	})

	t.Run("No rotation yet", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		ctx := contextWithTestTenant(t)

		mock.ExpectQuery(`SELECT \* FROM "assignment_histor\w*"`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := repo.LastRoundRobin(ctx, testTenantID)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}
