/*
Package events provides an in-process publish/subscribe broker for
Bastion's lifecycle notifications.

These are internal observer events (an attempt completed, an event was
dead-lettered, the breaker opened), not the inbound webhook events
themselves. Delivery is best effort: a slow subscriber or a full
buffer drops notifications rather than ever back-pressuring the
processing path. Anything that must not be lost goes to the ledger,
not the broker.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			fmt.Printf("[%s] %s %s\n", ev.Timestamp, ev.Type, ev.EventID)
		}
	}()

	broker.Publish(&events.Event{
		Type:          events.EventWebhookCompleted,
		EventID:       "evt_1",
		CorrelationID: cid,
	})

The webhook orchestrator, the role cache, and the breaker publish;
the metrics collector subscribes and counts what it sees.
*/
package events
