/*
Package rolecache keeps a user's role consistent between the slow
source of truth and the fast cache store under concurrent writers.

The cache is a lease: every entry carries a short TTL, so its absence
is always safe to treat as "unknown", never as "no role". The source
of truth stays authoritative at all times. What this package adds on
top is race freedom for concurrent writers and invalidators.

# Write Path

	              ┌───────────── one atomic store operation ────────────┐
	 CacheRole ──►│ 1. increment user:{id}:role:version                 │
	              │ 2. write user:{id}:role (payload + version, 30s TTL)│
	              │ 3. refresh user:{id}:session_sync (60s TTL)         │
	              └─────────────────────────────────────────────────────┘

The version increment and the payload write are indivisible, so two
concurrent writers cannot interleave and leave a version number that
does not match the payload actually stored. The invariant: the stored
version equals the count of successful writes for that user, gap-free
and monotonic.

Every write is best effort. A store failure, a timeout, and an open
circuit breaker all degrade to "cache currently unavailable": logged,
counted, and absorbed. Business callers never fail because the cache
is down.

# Read Path

GetCachedRole returns nil for a missing key, an expired lease, a
malformed payload, a payload missing required fields, a store error,
and an open breaker. Callers treat nil identically to "not cached"
and fall back to the source of truth. Service.ResolveRole implements
exactly that fallback and repopulates the lease on the way out.

# Invalidation

InvalidateUserRole deletes the role key, version counter, session-sync
marker, auxiliary metadata key, and invalidation-log key in one atomic
operation, so a racing read can never observe a partially invalidated
state (role gone but session-sync marker stale).

BatchInvalidateRoles does the same for many users inside one atomic
operation scaled to the batch. An empty batch performs zero store
calls; callers rely on that and pass empty batches unconditionally.

# Integration Points

  - pkg/cachestore: supplies the TTL and atomic-operation primitives
  - pkg/breaker: gates every store call; ErrCircuitOpen reads as a miss
  - pkg/webhook: event handlers invalidate roles on lifecycle events
  - pkg/api: role admin endpoints drive Service
*/
package rolecache
