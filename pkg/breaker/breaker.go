package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bastionhq/bastion/pkg/log"
	"github.com/bastionhq/bastion/pkg/types"
	"github.com/rs/zerolog"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// contacting the dependency. Callers must treat it as a soft failure
// and fall back to an authoritative source.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Operation is a fallible unit of work against the protected dependency
type Operation func(ctx context.Context) error

// Config controls the breaker state machine
type Config struct {
	// FailureThreshold is the number of consecutive failures that
	// trips the breaker from closed to open
	FailureThreshold int

	// Cooldown is how long the breaker stays open before allowing
	// half-open probe calls
	Cooldown time.Duration

	// HalfOpenSuccesses is the number of consecutive probe successes
	// required to close the breaker again
	HalfOpenSuccesses int

	// CallTimeout bounds each protected call. A timed-out call counts
	// as a failure. Zero disables the per-call timeout.
	CallTimeout time.Duration

	// OnStateChange, when set, is called after every state transition
	// with the breaker name and the states involved. It runs under the
	// breaker's lock and must not call back into the breaker.
	OnStateChange func(name string, from, to types.BreakerStatus)
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		Cooldown:          30 * time.Second,
		HalfOpenSuccesses: 2,
		CallTimeout:       5 * time.Second,
	}
}

// Breaker is a process-wide circuit breaker shared by all callers of a
// protected dependency. State mutations happen only inside Execute,
// under a single mutex.
type Breaker struct {
	mu sync.Mutex

	name   string
	config Config
	logger zerolog.Logger

	status              types.BreakerStatus
	consecutiveFailures int
	lastFailureAt       time.Time
	openedAt            time.Time
	halfOpenSuccesses   int
	halfOpenInFlight    int

	// now is injectable for deterministic tests
	now func() time.Time
}

// New creates a breaker in the closed state with zeroed counters
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	if cfg.HalfOpenSuccesses < 1 {
		cfg.HalfOpenSuccesses = DefaultConfig().HalfOpenSuccesses
	}

	return &Breaker{
		name:   name,
		config: cfg,
		logger: log.WithComponent("breaker"),
		status: types.BreakerClosed,
		now:    time.Now,
	}
}

// Execute runs op through the breaker. In the open state it fails fast
// with ErrCircuitOpen without invoking op. The breaker only gates
// calls; it never mutates the caller's data.
func (b *Breaker) Execute(ctx context.Context, op Operation) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	if b.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.CallTimeout)
		defer cancel()
	}

	err := op(ctx)

	// Context expiry is a dependency failure as far as the breaker is
	// concerned, even if op swallowed it
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("protected call timed out: %w", ctx.Err())
	}

	b.afterCall(err)
	return err
}

// beforeCall decides whether the call may proceed and performs the
// open -> half_open transition once the cooldown has elapsed.
func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.status {
	case types.BreakerClosed:
		return nil

	case types.BreakerOpen:
		if b.now().Sub(b.openedAt) < b.config.Cooldown {
			return ErrCircuitOpen
		}
		b.transition(types.BreakerHalfOpen)
		b.halfOpenSuccesses = 0
		b.halfOpenInFlight = 1
		return nil

	case types.BreakerHalfOpen:
		// Only a limited number of probes run concurrently; the rest
		// fail fast until the probes decide the breaker's fate
		if b.halfOpenInFlight >= b.config.HalfOpenSuccesses {
			return ErrCircuitOpen
		}
		b.halfOpenInFlight++
		return nil
	}

	return nil
}

// afterCall records the outcome and drives the state machine
func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.status == types.BreakerHalfOpen && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}

	if err != nil {
		b.onFailure()
		return
	}
	b.onSuccess()
}

func (b *Breaker) onSuccess() {
	switch b.status {
	case types.BreakerClosed:
		b.consecutiveFailures = 0

	case types.BreakerHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.config.HalfOpenSuccesses {
			b.transition(types.BreakerClosed)
			b.consecutiveFailures = 0
			b.halfOpenSuccesses = 0
		}
	}
}

func (b *Breaker) onFailure() {
	b.lastFailureAt = b.now()

	switch b.status {
	case types.BreakerClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.transition(types.BreakerOpen)
			b.openedAt = b.now()
		}

	case types.BreakerHalfOpen:
		// A single probe failure reopens the breaker and restarts the
		// cooldown timer
		b.transition(types.BreakerOpen)
		b.openedAt = b.now()
		b.halfOpenSuccesses = 0
		b.halfOpenInFlight = 0
	}
}

func (b *Breaker) transition(to types.BreakerStatus) {
	from := b.status
	b.status = to
	b.logger.Info().
		Str("breaker", b.name).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("circuit breaker state change")
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, from, to)
	}
}

// visibleStatus projects the externally reported state: an open
// breaker whose cooldown has elapsed reads as half_open, since the
// next call would be allowed through as a probe. Callers hold mu.
func (b *Breaker) visibleStatus() types.BreakerStatus {
	if b.status == types.BreakerOpen && b.now().Sub(b.openedAt) >= b.config.Cooldown {
		return types.BreakerHalfOpen
	}
	return b.status
}

// Status returns the current breaker state
func (b *Breaker) Status() types.BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.visibleStatus()
}

// Snapshot returns a read-only view of the breaker state for the
// stats reporter. Counters are never exposed for external mutation.
func (b *Breaker) Snapshot() types.BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return types.BreakerSnapshot{
		Status:              b.visibleStatus(),
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailureAt:       b.lastFailureAt,
		HalfOpenSuccesses:   b.halfOpenSuccesses,
	}
}
