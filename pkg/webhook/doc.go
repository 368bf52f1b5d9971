/*
Package webhook implements Bastion's event-ingestion orchestrator: it
accepts inbound deliveries from the external event source, verifies
authenticity, suppresses duplicates, executes caller-supplied handlers
with bounded retries, and durably records every outcome.

# State Machine

Each delivery moves through a fixed sequence:

	Received
	   │ verify HMAC signature
	   ├── invalid ───────────────► Rejected (terminal, 401, security event)
	   │ check idempotency ledger
	   ├── already completed ─────► Deduplicated (terminal, original outcome
	   │                            returned, handler not re-invoked)
	   ▼
	Processing  ◄──────────────┐
	   │ invoke handler through │ backoff, attempt+1
	   │ the circuit breaker    │ (while attempts remain)
	   ├── success ────► Completed (terminal, ledger marked)
	   └── failure ─────┴──── retries exhausted ──► DeadLettered (terminal)

The event source delivers at least once with no ordering guarantee;
deduplication is keyed per event ID, not per sequence. The handler
receives the parsed event and the attempt's correlation ID; a false
return and an error are treated identically for retry purposes.

# Observability Contract

Every attempt, and every rejection and deduplication, produces exactly
one durable processing record. This holds even when the handler
panics: the panic is recovered, recorded as a failure, and retried
like any other failure. It is the single most important contract of
this package and the one its tests guard hardest.

# Retry Semantics

Failures retry with geometric backoff (base delay doubling per
attempt, capped). The clock and the sleep are injectable, so tests
drive the full retry ladder without wall-clock waits. A delivery whose
budget is exhausted becomes one DeadLetterEntry carrying the complete
attempt history; the delivery itself is answered with an error, since
redelivery remains the event source's responsibility.

Circuit-open short-circuits from the shared breaker count as ordinary
transient failures here: they consume retry budget and can dead-letter
an event if the breaker stays open.

# Operator Surface

ProcessingStats, RecentRecords, and RecordsByCorrelationID expose the
counters and the append-only log. Replay re-runs one dead-lettered
event at operator request and removes the entry on success.
*/
package webhook
