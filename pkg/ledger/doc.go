/*
Package ledger provides Bastion's durable processing state: the
append-only processing log, the idempotency ledger, and the dead-letter
store.

All three live behind one Store handle because they share a lifecycle
and, in the BoltDB implementation, one database file:

  - Processing log: exactly one record per attempt, success or failure,
    keyed by a monotonically increasing sequence and indexed by
    correlation ID. Records are never updated; retries append.
  - Idempotency ledger: event ID to terminal outcome. A duplicate
    delivery of a completed event is answered from here without
    re-invoking the handler.
  - Dead letters: events whose retry budget was exhausted, keyed by
    event ID so an event appears at most once. A successful replay
    removes the entry.

BoltLedger is the production implementation; MemLedger backs tests and
can inject log-write failures to exercise the absorbed-failure path.
*/
package ledger
