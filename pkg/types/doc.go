/*
Package types defines the core data structures used throughout Bastion.

This package contains the domain model shared by every other package:
inbound events, per-attempt processing records, dead-letter entries,
role cache entries, and the read-only snapshot types surfaced by the
monitoring endpoints.

Two identifiers appear everywhere and must not be confused:

  - EventID is assigned by the external event source and keys
    deduplication: two deliveries with the same EventID are the same
    logical event.
  - CorrelationID is generated per processing attempt and keys log
    tracing: one event that is retried three times has one EventID and
    three CorrelationIDs.

RoleCacheEntry is intentionally a lease. Its Version field is only
meaningful while the entry is fresh and SourceOfTruthSync is true;
consumers fall back to the identity source of truth in every other
case.
*/
package types
