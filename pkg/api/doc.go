/*
Package api provides Bastion's HTTP surface.

Three route groups share one plain net/http server:

Ingestion:

	POST /webhooks/{source}

The event source posts a JSON envelope (event_id, type, payload) with
X-Signature and X-Event-Timestamp headers. Responses: 200 for success
and for suppressed duplicates, 401 for signature failures, 400 for
malformed envelopes or timestamps, 500 for processing failures,
including dead-lettered events, since redelivery remains the source's
responsibility.

Role administration:

	PUT    /roles/{userID}
	GET    /roles/{userID}
	DELETE /roles/{userID}
	POST   /roles/invalidate

Writes hit the source of truth first; cache refreshes ride along best
effort. Reads serve from the cache lease when fresh and fall back
transparently, so a cache outage costs freshness, never availability.

Ops / introspection (read-only aggregation, no independent state):

	GET  /ops/stats
	GET  /ops/records?limit=N
	GET  /ops/records/{correlationID}
	GET  /ops/deadletters
	POST /ops/deadletters/{eventID}/replay
	POST /ops/deadletters/retry-all   (explicit not-implemented result)

Plus /healthz, /readyz, and /metrics (Prometheus).

Every handler is wrapped with request counting by path and status.
Authentication for the admin surface is deployment-level concern and
out of scope here.
*/
package api
