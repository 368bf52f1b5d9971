/*
Package log provides structured logging for Bastion using zerolog.

The log package wraps the zerolog library to provide JSON-structured
logging with component-specific loggers, configurable log levels, and
helper functions for common logging patterns. All logs include
timestamps and support filtering by severity level.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Thread-safe concurrent writes

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithCorrelationID: Trace a single processing attempt
  - WithEventID: Follow one logical event across retries
  - WithUserID: Follow role cache operations for one user

# Usage

Initializing the Logger:

	import "github.com/bastionhq/bastion/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Structured Logging:

	log.Logger.Info().
		Str("event_id", "evt_1").
		Int("attempt", 2).
		Msg("retrying event")

	log.Logger.Error().
		Err(err).
		Str("user_id", "u_42").
		Msg("cache write failed")

Component Loggers:

	webhookLog := log.WithComponent("webhook")
	webhookLog.Info().Str("correlation_id", cid).Msg("attempt started")

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"webhook","correlation_id":"c-123","time":"2026-01-09T10:30:00Z","message":"attempt started"}
	{"level":"warn","component":"rolecache","user_id":"u_42","time":"2026-01-09T10:30:01Z","message":"cache unavailable, falling back to source of truth"}

Console Format (Development):

	10:30:00 INF attempt started component=webhook correlation_id=c-123
	10:30:01 WRN cache unavailable, falling back to source of truth component=rolecache user_id=u_42

# Design Patterns

Correlation Logging Pattern:
  - Every processing attempt gets a fresh correlation ID
  - All logs for that attempt carry correlation_id
  - The event's own ID is logged separately as event_id
  - Enables per-attempt tracing without conflating retries

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Consistent error format across the codebase
  - Absorbed failures (cache writes) are logged at warn level,
    surfaced failures at error level

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Include correlation_id on every attempt-scoped log

Don't:
  - Log webhook signing secrets or raw signatures
  - Use Debug level in production
  - Concatenate strings (use .Str, .Int)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
