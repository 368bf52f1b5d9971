/*
Package breaker implements the circuit breaker protecting Bastion's
cache store calls.

A single Breaker instance is shared by every caller of the protected
dependency (the role cache and the webhook orchestrator both route
through it). It prevents a struggling dependency from degrading every
caller's latency by failing fast once a failure threshold is crossed,
then probing for recovery without overwhelming the dependency.

# State Machine

	            failures >= threshold
	  ┌────────┐ ──────────────────────► ┌────────┐
	  │ closed │                          │  open  │
	  └────────┘ ◄──────────┐             └────────┘
	       ▲                │                  │ cooldown elapsed
	       │ probe          │                  ▼
	       │ successes      │             ┌───────────┐
	       │ reach target   └──────────── │ half_open │
	       └───────────────── any probe   └───────────┘
	                          failure ──────► open

closed: calls pass through. Each failure increments the consecutive
failure counter; each success resets it. Reaching the configured
threshold opens the breaker.

open: calls are rejected immediately with ErrCircuitOpen without
contacting the dependency. After the cooldown the next call is allowed
through as a probe.

half_open: a bounded number of probe calls run. Enough consecutive
successes close the breaker and reset all counters; a single failure
reopens it and restarts the cooldown.

# Usage

	cb := breaker.New("cachestore", breaker.Config{
		FailureThreshold:  5,
		Cooldown:          30 * time.Second,
		HalfOpenSuccesses: 2,
		CallTimeout:       5 * time.Second,
	})

	err := cb.Execute(ctx, func(ctx context.Context) error {
		return store.Set(ctx, key, value, ttl)
	})
	if errors.Is(err, breaker.ErrCircuitOpen) {
		// soft failure: fall back to the source of truth
	}

# Contract

  - ErrCircuitOpen is a soft failure, never a hard fatal error.
  - The breaker gates calls; it never mutates application state.
  - All transitions are internally synchronized; callers may invoke
    Execute concurrently from any goroutine.
  - A timed-out call counts as a failure, identical to an error.
  - Raw counters are visible only through Snapshot(); there is no way
    to mutate breaker state from outside Execute.
*/
package breaker
