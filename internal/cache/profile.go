package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Cache key prefixes and TTLs.
const (
	profileKeyPrefix  = "profile:"
	negCacheKeySuffix = ":neg"

	// DefaultProfileTTL is the TTL for a cached "profile exists" entry.
	DefaultProfileTTL = 10 * time.Minute

	// NegativeCacheTTL is the TTL for negative cache entries.
	NegativeCacheTTL = time.Minute
)

// Common cache errors.
var (
	ErrCacheMiss = errors.New("cache miss")
)

func profileKey(profileID string) string {
	return profileKeyPrefix + profileID
}

// GetProfileExists reports whether the profile is cached as existing
// (true) or negatively cached as missing (false).
// Returns ErrCacheMiss if neither entry is present.
func (c *Cache) GetProfileExists(ctx context.Context, profileID string) (bool, error) {
	key := profileKey(profileID)

	values, err := c.client.MGet(ctx, key, key+negCacheKeySuffix).Result()
	if err != nil {
		return false, fmt.Errorf("redis mget failed: %w", err)
	}

	switch {
	case values[0] != nil:
		return true, nil
	case values[1] != nil:
		return false, nil
	default:
		return false, ErrCacheMiss
	}
}

// SetProfileExists caches the result of a profile lookup. Misses are
// kept for a shorter time so a freshly created profile becomes
// trackable quickly.
func (c *Cache) SetProfileExists(ctx context.Context, profileID string, exists bool) error {
	key := profileKey(profileID)

	pipe := c.client.Pipeline()
	if exists {
		pipe.Set(ctx, key, "1", DefaultProfileTTL)
		pipe.Del(ctx, key+negCacheKeySuffix)
	} else {
		pipe.Set(ctx, key+negCacheKeySuffix, "", NegativeCacheTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache profile: %w", err)
	}

	return nil
}

// DeleteProfile removes both cache entries of a profile.
func (c *Cache) DeleteProfile(ctx context.Context, profileID string) error {
	key := profileKey(profileID)

	if err := c.client.Del(ctx, key, key+negCacheKeySuffix).Err(); err != nil {
		return fmt.Errorf("failed to delete profile from cache: %w", err)
	}

	return nil
}
