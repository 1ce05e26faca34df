package port

import "context"

// HttpServer is the thin HTTP transport abstraction the sync controller
// drives. The wire framing is
// specified here; the actual listener/router is out of scope.
type HttpServer interface {
	// Send issues a sync request to remote and returns the raw response
	// body, capped at maxBody bytes. A non-2xx status must be reported via
	// statusCode so the caller can distinguish retryable 5xx from
	// non-retryable 4xx
	Send(ctx context.Context, remote string, body []byte, maxBody int64) (respBody []byte, statusCode int, err error)
}
