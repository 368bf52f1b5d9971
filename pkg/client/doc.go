// Package client wraps the Bastion HTTP API for CLI and tooling usage.
//
// The client covers the full surface: signed event delivery, role
// administration, and the read-only ops endpoints. Event deliveries are
// signed the same way the server verifies them, HMAC-SHA256 over
// "<timestamp>.<body>" with the signature and timestamp carried in the
// X-Signature and X-Event-Timestamp headers.
//
// # Usage
//
//	c := client.NewClient("http://127.0.0.1:8080", signingSecret)
//
//	result, err := c.DeliverEvent(ctx, "identity", "evt-42", "user.created",
//		json.RawMessage(`{"user_id":"alice"}`))
//	if err != nil {
//		return err
//	}
//	if !result.Success {
//		log.Printf("delivery failed: %s", result.Error)
//	}
//
// Admin and ops calls do not need the signing secret:
//
//	stats, err := c.GetStats(ctx)
//	entries, err := c.DeadLetters(ctx)
//	result, err := c.Replay(ctx, "evt-42")
//
// DeliverEvent returns the server's verdict rather than an error for
// rejected or failed deliveries; transport problems are errors. All
// other methods turn non-2xx responses into errors carrying the
// server's message.
//
// # See Also
//
// Package api for the server side of this surface. Package webhook for
// the signature scheme.
package client
