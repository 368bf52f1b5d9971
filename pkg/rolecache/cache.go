package rolecache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/bastionhq/bastion/pkg/breaker"
	"github.com/bastionhq/bastion/pkg/cachestore"
	"github.com/bastionhq/bastion/pkg/events"
	"github.com/bastionhq/bastion/pkg/log"
	"github.com/bastionhq/bastion/pkg/metrics"
	"github.com/bastionhq/bastion/pkg/types"
)

// Config controls the role cache lease windows
type Config struct {
	// RoleTTL bounds the role key lease. The cache is never
	// authoritative past this window.
	RoleTTL time.Duration

	// SessionSyncTTL bounds the session-sync marker, conventionally
	// twice the role TTL
	SessionSyncTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		RoleTTL:        30 * time.Second,
		SessionSyncTTL: 60 * time.Second,
	}
}

// Cache maintains a short-lived, race-free cached view of user roles.
// All store traffic is gated by the shared circuit breaker; multi-key
// writes execute as one atomic store operation.
type Cache struct {
	store   cachestore.Store
	breaker *breaker.Breaker
	broker  *events.Broker
	config  Config
	logger  zerolog.Logger

	now func() time.Time
}

// New creates a role cache on top of store, protected by cb. A nil
// broker disables lifecycle event publication.
func New(store cachestore.Store, cb *breaker.Breaker, broker *events.Broker, cfg Config) *Cache {
	if cfg.RoleTTL <= 0 {
		cfg.RoleTTL = DefaultConfig().RoleTTL
	}
	if cfg.SessionSyncTTL <= 0 {
		cfg.SessionSyncTTL = 2 * cfg.RoleTTL
	}

	return &Cache{
		store:   store,
		breaker: cb,
		broker:  broker,
		config:  cfg,
		logger:  log.WithComponent("rolecache"),
		now:     time.Now,
	}
}

// CacheRole writes the user's role to the cache in one atomic
// operation: version increment, role payload write, session-sync
// refresh. The returned error exists so callers can log it; a cache
// write failure must never be treated as a business failure, the
// source of truth stays correct regardless.
func (c *Cache) CacheRole(ctx context.Context, userID, role string, metadata map[string]string) error {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.store.Atomic(ctx, func(tx cachestore.Txn) error {
			version, err := tx.Increment(versionKey(userID))
			if err != nil {
				return err
			}

			entry := types.RoleCacheEntry{
				UserID:            userID,
				Role:              role,
				Version:           version,
				LastSyncedAt:      c.now(),
				SourceOfTruthSync: true,
				Metadata:          metadata,
			}
			payload, err := json.Marshal(entry)
			if err != nil {
				return err
			}

			if err := tx.Set(roleKey(userID), payload, c.config.RoleTTL); err != nil {
				return err
			}
			if err := tx.Set(sessionSyncKey(userID), []byte(entry.LastSyncedAt.Format(time.RFC3339Nano)), c.config.SessionSyncTTL); err != nil {
				return err
			}
			if len(metadata) > 0 {
				meta, err := json.Marshal(metadata)
				if err != nil {
					return err
				}
				if err := tx.Set(auxKey(userID), meta, c.config.SessionSyncTTL); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		metrics.CacheWriteFailures.Inc()
		c.logger.Warn().Err(err).Str("user_id", userID).Msg("role cache write failed, source of truth remains authoritative")
		return err
	}

	metrics.CacheWrites.Inc()
	c.publish(events.EventRoleCached, userID)
	return nil
}

// GetCachedRole returns the cached role entry for userID, or nil when
// the role is not cached. A store outage, an open breaker, a malformed
// payload, and a missing key all read as "not cached": callers fall
// back to the source of truth in every case and never see an error
// from this path.
func (c *Cache) GetCachedRole(ctx context.Context, userID string) *types.RoleCacheEntry {
	var payload []byte
	var found bool

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		value, ok, err := c.store.Get(ctx, roleKey(userID))
		if err != nil {
			return err
		}
		payload, found = value, ok
		return nil
	})
	if err != nil {
		metrics.CacheMisses.Inc()
		c.logger.Warn().Err(err).Str("user_id", userID).Msg("role cache read failed, treating as miss")
		return nil
	}
	if !found {
		metrics.CacheMisses.Inc()
		return nil
	}

	var entry types.RoleCacheEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		metrics.CacheMisses.Inc()
		c.logger.Warn().Err(err).Str("user_id", userID).Msg("malformed role cache payload, treating as miss")
		return nil
	}
	if entry.UserID == "" || entry.Role == "" || entry.Version < 1 {
		metrics.CacheMisses.Inc()
		c.logger.Warn().Str("user_id", userID).Msg("role cache payload missing required fields, treating as miss")
		return nil
	}

	metrics.CacheHits.Inc()
	return &entry
}

// InvalidateUserRole atomically deletes every key associated with the
// user's cached role, so a racing read can never observe a partially
// invalidated state
func (c *Cache) InvalidateUserRole(ctx context.Context, userID string) error {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.store.Atomic(ctx, func(tx cachestore.Txn) error {
			for _, key := range userKeys(userID) {
				if err := tx.Delete(key); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		metrics.CacheWriteFailures.Inc()
		c.logger.Warn().Err(err).Str("user_id", userID).Msg("role cache invalidation failed")
		return err
	}

	metrics.CacheInvalidations.Inc()
	c.publish(events.EventRoleInvalidated, userID)
	return nil
}

// BatchInvalidateRoles invalidates many users in a single atomic
// operation. An empty batch is a no-op and performs no store call at
// all; callers pass empty batches unconditionally.
func (c *Cache) BatchInvalidateRoles(ctx context.Context, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.store.Atomic(ctx, func(tx cachestore.Txn) error {
			for _, userID := range userIDs {
				for _, key := range userKeys(userID) {
					if err := tx.Delete(key); err != nil {
						return err
					}
				}
			}
			return nil
		})
	})
	if err != nil {
		metrics.CacheWriteFailures.Inc()
		c.logger.Warn().Err(err).Int("batch_size", len(userIDs)).Msg("batch role cache invalidation failed")
		return err
	}

	metrics.CacheInvalidations.Add(float64(len(userIDs)))
	for _, userID := range userIDs {
		c.publish(events.EventRoleInvalidated, userID)
	}
	return nil
}

func (c *Cache) publish(t events.EventType, userID string) {
	if c.broker == nil {
		return
	}
	c.broker.Publish(&events.Event{
		Type:   t,
		UserID: userID,
	})
}
