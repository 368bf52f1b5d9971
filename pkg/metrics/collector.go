package metrics

import (
	"time"

	"github.com/bastionhq/bastion/pkg/events"
	"github.com/bastionhq/bastion/pkg/log"
	"github.com/bastionhq/bastion/pkg/types"
)

// BreakerSource exposes the breaker state for polling
type BreakerSource interface {
	Snapshot() types.BreakerSnapshot
}

// StatsSource exposes orchestrator counters for polling
type StatsSource interface {
	ProcessingStats() types.ProcessingStats
}

// Collector periodically copies subsystem state into gauges and
// consumes lifecycle events from the broker
type Collector struct {
	breaker  BreakerSource
	stats    StatsSource
	broker   *events.Broker
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector. A nil broker disables
// lifecycle event consumption; gauges are still polled.
func NewCollector(breaker BreakerSource, stats StatsSource, broker *events.Broker, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		breaker:  breaker,
		stats:    stats,
		broker:   broker,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	var sub events.Subscriber
	if c.broker != nil {
		sub = c.broker.Subscribe()
	}

	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case ev, ok := <-sub:
				if !ok {
					sub = nil
					continue
				}
				c.observe(ev)
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				if c.broker != nil && sub != nil {
					c.broker.Unsubscribe(sub)
				}
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// observe folds one lifecycle event into the counters
func (c *Collector) observe(ev *events.Event) {
	LifecycleEvents.WithLabelValues(string(ev.Type)).Inc()

	logger := log.WithCorrelationID(ev.CorrelationID)
	logger.Debug().
		Str("type", string(ev.Type)).
		Str("event_id", ev.EventID).
		Msg("lifecycle event")
}

func (c *Collector) collect() {
	if c.breaker != nil {
		snap := c.breaker.Snapshot()
		BreakerState.Set(breakerStateValue(snap.Status))
		BreakerConsecutiveFailures.Set(float64(snap.ConsecutiveFailures))
	}

	if c.stats != nil {
		DeadLetterDepth.Set(float64(c.stats.ProcessingStats().DeadLetterDepth))
	}
}

func breakerStateValue(status types.BreakerStatus) float64 {
	switch status {
	case types.BreakerClosed:
		return 0
	case types.BreakerHalfOpen:
		return 1
	case types.BreakerOpen:
		return 2
	}
	return 0
}
