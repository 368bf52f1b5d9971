/*
Package metrics provides Prometheus metrics and health aggregation for
Bastion.

Metrics are package-level collectors registered in init() and exposed
through Handler() on /metrics. Counters are incremented inline by the
subsystems that own them (webhook outcomes, cache hits and absorbed
failures); gauges that mirror polled state (breaker status, dead-letter
depth) are refreshed by the Collector loop.

# Metric Inventory

Webhook:
  - bastion_events_received_total{type}
  - bastion_events_processed_total{result} (completed, dead_lettered)
  - bastion_event_retries_total
  - bastion_events_deduplicated_total
  - bastion_events_rejected_total
  - bastion_event_processing_duration_seconds
  - bastion_dead_letter_depth

Role cache:
  - bastion_cache_writes_total / bastion_cache_write_failures_total
  - bastion_cache_hits_total / bastion_cache_misses_total
  - bastion_cache_invalidations_total

Circuit breaker:
  - bastion_breaker_state (0 closed, 1 half_open, 2 open)
  - bastion_breaker_consecutive_failures

# Health Aggregation

The package also keeps the component health registry behind /healthz
and /readyz. Subsystems register themselves at startup and update
their status as conditions change:

	metrics.RegisterComponent("ledger", true, "")
	metrics.UpdateComponent("cachestore", false, "circuit open")

Readiness requires the critical components (ledger, cachestore,
webhook) to be registered and healthy; health reports every registered
component. Both handlers return JSON with a 503 when degraded.

# Collector

	collector := metrics.NewCollector(breaker, orchestrator, broker, 15*time.Second)
	collector.Start()
	defer collector.Stop()

The Collector polls through two tiny interfaces (BreakerSource,
StatsSource) so this package stays import-cycle-free while the
subsystems it observes import it for their counters. It also
subscribes to the lifecycle broker and counts every event it sees in
LifecycleEvents.
*/
package metrics
