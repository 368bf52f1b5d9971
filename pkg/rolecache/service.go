package rolecache

import (
	"context"
	"fmt"

	"github.com/bastionhq/bastion/pkg/log"
	"github.com/bastionhq/bastion/pkg/types"
)

// SourceOfTruth is the authoritative store for the role attribute.
// Always correct, possibly slow.
type SourceOfTruth interface {
	GetRole(ctx context.Context, userID string) (string, error)
	SetRole(ctx context.Context, userID, role string) error
}

// Service combines the source of truth with the role cache. Writes go
// to the source of truth first; the cache write is best effort and its
// failure is logged and ignored. Reads prefer the cache and fall back
// transparently.
type Service struct {
	source SourceOfTruth
	cache  *Cache
}

// NewService creates a role service
func NewService(source SourceOfTruth, cache *Cache) *Service {
	return &Service{
		source: source,
		cache:  cache,
	}
}

// AssignRole updates the authoritative role and refreshes the cache.
// Only a source-of-truth failure is an error; the cache write result
// is the explicit log-and-ignore path.
func (s *Service) AssignRole(ctx context.Context, userID, role string, metadata map[string]string) error {
	if userID == "" || role == "" {
		return fmt.Errorf("user ID and role are required")
	}

	if err := s.source.SetRole(ctx, userID, role); err != nil {
		return fmt.Errorf("failed to update role source of truth: %w", err)
	}

	if err := s.cache.CacheRole(ctx, userID, role, metadata); err != nil {
		// Absorbed: the next read falls back to the source of truth
		logger := log.WithUserID(userID)
		logger.Debug().Err(err).Msg("cache refresh skipped after role assignment")
	}
	return nil
}

// ResolveRole returns the user's role, serving from the cache when the
// lease is fresh and in sync, and from the source of truth otherwise.
// Cache unavailability costs freshness, never correctness.
func (s *Service) ResolveRole(ctx context.Context, userID string) (string, error) {
	if entry := s.cache.GetCachedRole(ctx, userID); entry != nil && entry.SourceOfTruthSync {
		return entry.Role, nil
	}

	role, err := s.source.GetRole(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to read role source of truth: %w", err)
	}

	// Repopulate the lease on the way out, best effort
	_ = s.cache.CacheRole(ctx, userID, role, nil)
	return role, nil
}

// RevokeRole removes the user's role from the source of truth and
// invalidates the cached projection
func (s *Service) RevokeRole(ctx context.Context, userID string) error {
	if err := s.source.SetRole(ctx, userID, ""); err != nil {
		return fmt.Errorf("failed to clear role source of truth: %w", err)
	}

	if err := s.cache.InvalidateUserRole(ctx, userID); err != nil {
		logger := log.WithUserID(userID)
		logger.Debug().Err(err).Msg("cache invalidation skipped after role revocation")
	}
	return nil
}

// InvalidateBatch drops the cached projection for many users at once.
// The source of truth is untouched.
func (s *Service) InvalidateBatch(ctx context.Context, userIDs []string) error {
	return s.cache.BatchInvalidateRoles(ctx, userIDs)
}

// CachedEntry exposes the raw cache entry for introspection endpoints
func (s *Service) CachedEntry(ctx context.Context, userID string) *types.RoleCacheEntry {
	return s.cache.GetCachedRole(ctx, userID)
}
