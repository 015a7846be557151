//go:build integration

package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardfolio/cardfolio/internal/testutil"
)

// ============================================================================
// Migration Integration Tests
// ============================================================================

func TestIntegrationMigration_ApplyAllTables(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)

	for _, table := range []string{"profiles", "profile_views", "social_clicks"} {
		t.Run(table, func(t *testing.T) {
			exists, err := tableExists(ctx, pool, table)
			if err != nil {
				t.Fatalf("tableExists failed: %v", err)
			}
			if !exists {
				t.Errorf("Table %q should exist after migrations", table)
			}
		})
	}
}

func TestIntegrationMigration_TableSchemas(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)

	expected := map[string][]string{
		"profiles": {
			"id", "owner_user_id", "slug", "display_name", "created_at", "updated_at",
		},
		"profile_views": {
			"id", "event_id", "profile_id", "viewer_address", "user_agent", "referrer",
			"source", "country", "city", "latitude", "longitude", "viewed_at", "created_at",
		},
		"social_clicks": {
			"id", "event_id", "profile_id", "platform", "clicked_at", "created_at",
		},
	}

	for table, columns := range expected {
		for _, col := range columns {
			exists, err := columnExists(ctx, pool, table, col)
			if err != nil {
				t.Fatalf("columnExists failed: %v", err)
			}
			if !exists {
				t.Errorf("Column %q should exist in %s table", col, table)
			}
		}
	}
}

func TestIntegrationMigration_EventConstraints(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)

	// Unknown profile must be rejected by the foreign key.
	_, err := pool.Exec(ctx, `
		INSERT INTO profile_views (id, event_id, profile_id, viewed_at)
		VALUES ('v1', 'e1', 'missing-profile', NOW())
	`)
	if err == nil {
		t.Error("Expected foreign key violation for unknown profile_id")
	}

	if _, err := pool.Exec(ctx, `
		INSERT INTO profiles (id, owner_user_id, slug) VALUES ('p1', 'u1', 'p1')
	`); err != nil {
		t.Fatalf("insert profile: %v", err)
	}

	if _, err := pool.Exec(ctx, `
		INSERT INTO social_clicks (id, event_id, profile_id, platform, clicked_at)
		VALUES ('c1', 'e1', 'p1', 'github', NOW())
	`); err != nil {
		t.Fatalf("insert click: %v", err)
	}

	// event_id is the idempotency key.
	_, err = pool.Exec(ctx, `
		INSERT INTO social_clicks (id, event_id, profile_id, platform, clicked_at)
		VALUES ('c2', 'e1', 'p1', 'github', NOW())
	`)
	if !isUniqueViolation(err) {
		t.Errorf("Expected unique violation on duplicate event_id, got %v", err)
	}

	// Deleting the profile cascades to its events.
	if _, err := pool.Exec(ctx, `DELETE FROM profiles WHERE id = 'p1'`); err != nil {
		t.Fatalf("delete profile: %v", err)
	}
	var remaining int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM social_clicks`).Scan(&remaining); err != nil {
		t.Fatalf("count clicks: %v", err)
	}
	if remaining != 0 {
		t.Errorf("expected cascade delete, %d clicks remain", remaining)
	}
}

func TestIntegrationMigration_RollbackEvents(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)

	applySQLFile(ctx, t, pool, "000002_events.down.sql")

	for _, table := range []string{"profile_views", "social_clicks"} {
		exists, err := tableExists(ctx, pool, table)
		if err != nil {
			t.Fatalf("tableExists failed: %v", err)
		}
		if exists {
			t.Errorf("%s table should not exist after rollback", table)
		}
	}

	exists, err := tableExists(ctx, pool, "profiles")
	if err != nil {
		t.Fatalf("tableExists failed: %v", err)
	}
	if !exists {
		t.Error("profiles table should survive the events rollback")
	}

	applySQLFile(ctx, t, pool, "000002_events.up.sql")
}

func TestIntegrationMigration_Idempotency(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)

	// Up migrations use IF NOT EXISTS and must survive a second apply.
	applySQLFile(ctx, t, pool, "000001_profiles.up.sql")
	applySQLFile(ctx, t, pool, "000002_events.up.sql")
}

// ============================================================================
// Helper Functions
// ============================================================================

func applySQLFile(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) {
	t.Helper()

	root, err := testutil.ProjectRoot()
	if err != nil {
		t.Fatalf("ProjectRoot failed: %v", err)
	}

	sql, err := os.ReadFile(filepath.Join(root, "migrations", name))
	if err != nil {
		t.Fatalf("read migration %s: %v", name, err)
	}
	if _, err := pool.Exec(ctx, string(sql)); err != nil {
		t.Fatalf("apply migration %s: %v", name, err)
	}
}

func tableExists(ctx context.Context, pool *pgxpool.Pool, tableName string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public'
			AND table_name = $1
		)
	`, tableName).Scan(&exists)
	return exists, err
}

func columnExists(ctx context.Context, pool *pgxpool.Pool, tableName, columnName string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.columns
			WHERE table_schema = 'public'
			AND table_name = $1
			AND column_name = $2
		)
	`, tableName, columnName).Scan(&exists)
	return exists, err
}

// ============================================================================
// Test Environment Setup
// ============================================================================

func newMigrationTestEnv(t *testing.T) (context.Context, *pgxpool.Pool) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	dbURL := testutil.RequireEnv(t, "DATABASE_URL")

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(pool.Close)

	unlock, err := testutil.AcquireDBLock(ctx, pool)
	if err != nil {
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_ = unlock()
	})

	if err := testutil.ResetSchema(ctx, pool); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	return ctx, pool
}
