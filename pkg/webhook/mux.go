package webhook

import (
	"context"
	"fmt"
	"sync"

	"github.com/bastionhq/bastion/pkg/types"
)

// Mux routes events to handlers by event type. It is itself a Handler,
// so it plugs straight into ProcessWebhook and Replay.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Handler
}

// NewMux creates an empty handler mux
func NewMux() *Mux {
	return &Mux{handlers: make(map[string]Handler)}
}

// Handle registers a handler for one event type
func (m *Mux) Handle(eventType string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[eventType] = handler
}

// HandleFallback registers a handler for event types with no explicit
// registration. Without a fallback, unknown types fail and retry like
// any other handler failure.
func (m *Mux) HandleFallback(handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = handler
}

// Dispatch implements Handler
func (m *Mux) Dispatch(ctx context.Context, event types.InboundEvent, correlationID string) (bool, error) {
	m.mu.RLock()
	handler, ok := m.handlers[event.Type]
	if !ok {
		handler = m.fallback
	}
	m.mu.RUnlock()

	if handler == nil {
		return false, fmt.Errorf("no handler registered for event type: %s", event.Type)
	}
	return handler(ctx, event, correlationID)
}
