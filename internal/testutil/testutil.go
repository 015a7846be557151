package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cardfolio/cardfolio/internal/model"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

const advisoryLockID int64 = 420420

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// ResetSchema drops every table and re-applies all migrations in order.
func ResetSchema(ctx context.Context, pool *pgxpool.Pool) error {
	// The profiles down migration drops the dependent event tables too.
	if err := applyMigration(ctx, pool, "000001_profiles.down.sql"); err != nil {
		return err
	}
	for _, name := range []string{"000001_profiles.up.sql", "000002_events.up.sql"} {
		if err := applyMigration(ctx, pool, name); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, name string) error {
	root, err := ProjectRoot()
	if err != nil {
		return err
	}

	sql, err := os.ReadFile(filepath.Join(root, "migrations", name))
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}
	if _, err := pool.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("apply migration %s: %w", name, err)
	}
	return nil
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// ProjectRoot returns the project root directory.
func ProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to resolve testutil path")
	}
	root := filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
	return root, nil
}

// ============================================================================
// Test Data Factories
// ============================================================================

// NewTestProfile creates a test profile owned by ownerUserID.
func NewTestProfile(t testing.TB, ownerUserID string) *model.Profile {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := UniqueID("profile")
	return &model.Profile{
		ID:          id,
		OwnerUserID: ownerUserID,
		Slug:        id,
		DisplayName: "Test Profile",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewTestView creates a view event for profileID at viewedAt.
func NewTestView(t testing.TB, profileID string, viewedAt time.Time) *model.ViewEvent {
	t.Helper()
	return &model.ViewEvent{
		ID:            ulid.Make().String(),
		EventID:       UniqueID("evt"),
		ProfileID:     profileID,
		ViewerAddress: "203.0.113.10",
		UserAgent:     "Mozilla/5.0 (X11; Linux x86_64)",
		ViewedAt:      viewedAt.UTC(),
	}
}

// NewTestSocialClick creates a social-click event for profileID at clickedAt.
func NewTestSocialClick(t testing.TB, profileID, platform string, clickedAt time.Time) *model.SocialClickEvent {
	t.Helper()
	return &model.SocialClickEvent{
		ID:        ulid.Make().String(),
		EventID:   UniqueID("evt"),
		ProfileID: profileID,
		Platform:  platform,
		ClickedAt: clickedAt.UTC(),
	}
}

// UniqueID generates a unique ID for tests.
func UniqueID(prefix string) string {
	return prefix + "-" + strings.ToLower(ulid.Make().String())
}
