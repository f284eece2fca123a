//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"gitlab.com/timkado/api/conversation-router/internal/model"
)

// routerTables lists every migrated table; truncation order does not matter with CASCADE.
var routerTables = []string{
	"messages",
	"assignment_history",
	"conversations",
	"department_agents",
	"departments",
	"agents",
	"tenants",
	"exhausted_events",
}

func connectDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	return db, nil
}

func truncateTables(ctx context.Context, dsn, schema string) error {
	db, err := connectDB(ctx, dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, table := range routerTables {
		stmt := fmt.Sprintf(`TRUNCATE TABLE %q.%s RESTART IDENTITY CASCADE`, schema, table)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}
	return nil
}

func countRows(ctx context.Context, dsn, schema, table, where string, args ...interface{}) (int, error) {
	db, err := connectDB(ctx, dsn)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %q.%s`, schema, table)
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	if err := db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// directory is the seeded tenant with one department and its routable agents.
type directory struct {
	TenantID     int64
	AccountID    int64
	DepartmentID int64
	AgentIDs     []int64
}

// seedDirectory inserts a tenant on channel with agents routable agents and one admin.
func seedDirectory(ctx context.Context, dsn, schema string, channel model.Channel, agents int) (directory, error) {
	db, err := connectDB(ctx, dsn)
	if err != nil {
		return directory{}, err
	}
	defer db.Close()

	dir := directory{AccountID: 500}

	err = db.QueryRowContext(ctx,
		fmt.Sprintf(`INSERT INTO %q.tenants (account_id, channel, endpoint_id, suspended, created_at, updated_at) VALUES ($1, $2, $3, false, now(), now()) RETURNING id`, schema),
		dir.AccountID, string(channel), fmt.Sprintf("endpoint-%d", time.Now().UnixNano()),
	).Scan(&dir.TenantID)
	if err != nil {
		return dir, fmt.Errorf("insert tenant: %w", err)
	}

	err = db.QueryRowContext(ctx,
		fmt.Sprintf(`INSERT INTO %q.departments (tenant_id, name, active, created_at) VALUES ($1, 'Support', true, now()) RETURNING id`, schema),
		dir.TenantID,
	).Scan(&dir.DepartmentID)
	if err != nil {
		return dir, fmt.Errorf("insert department: %w", err)
	}

	insertAgent := func(name string, role model.AgentRole) (int64, error) {
		var id int64
		err := db.QueryRowContext(ctx,
			fmt.Sprintf(`INSERT INTO %q.agents (account_id, name, role, created_at, updated_at) VALUES ($1, $2, $3, now(), now()) RETURNING id`, schema),
			dir.AccountID, name, string(role),
		).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("insert agent %s: %w", name, err)
		}
		_, err = db.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %q.department_agents (department_id, agent_id) VALUES ($1, $2)`, schema),
			dir.DepartmentID, id,
		)
		if err != nil {
			return 0, fmt.Errorf("link agent %s: %w", name, err)
		}
		return id, nil
	}

	if _, err := insertAgent("Admin", model.RoleAdmin); err != nil {
		return dir, err
	}
	for i := 0; i < agents; i++ {
		id, err := insertAgent(fmt.Sprintf("Agent %d", i+1), model.RoleAgent)
		if err != nil {
			return dir, err
		}
		dir.AgentIDs = append(dir.AgentIDs, id)
	}
	return dir, nil
}
