package syncctl

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	warperrors "github.com/git-stunts/git-warp/internal/errors"
)

// Options configures SyncWith's retry and timeout behavior. Waits come from
// cenkalti/backoff/v4's ExponentialBackOff: the interval starts at BaseDelay
// and doubles up to MaxDelay, and each wait is that interval randomized by
// ±50%. A wait does not depend on the previous randomized wait, so this is
// not decorrelated jitter.
type Options struct {
	Retries           int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	TimeoutPerAttempt time.Duration
	MaxResponseBytes  int64
}

// DefaultOptions is a conservative starting point: 3 retries, 500ms base
// delay doubling up to 10s, 15s per attempt, 16MiB response cap.
var DefaultOptions = Options{
	Retries:           3,
	BaseDelay:         500 * time.Millisecond,
	MaxDelay:          10 * time.Second,
	TimeoutPerAttempt: 15 * time.Second,
	MaxResponseBytes:  16 << 20,
}

// SyncWith runs one cooperative sync round-trip against remote: build a
// request from the local frontier, send it with retry/backoff, and fold the
// response into cached state on success. ctx doubles as the abort signal —
// cancelling it aborts the in-flight attempt and any pending backoff wait.
func (c *Controller) SyncWith(ctx context.Context, remote string, opts Options) (*Result, error) {
	if c.transport == nil {
		return nil, warperrors.Newf(warperrors.InvalidArgument, warperrors.SeverityHigh, "syncctl: no transport configured")
	}

	reqBody, err := c.CreateSyncRequest(ctx)
	if err != nil {
		return nil, err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = opts.BaseDelay
	eb.MaxInterval = opts.MaxDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.5
	eb.MaxElapsedTime = 0 // bounded by opts.Retries, not wall-clock

	var lastErr error
	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, warperrors.Aborted("syncWith", ctx.Err().Error())
		default:
		}

		attemptCtx, cancel := context.WithTimeout(ctx, opts.TimeoutPerAttempt)
		respBody, statusCode, sendErr := c.transport.Send(attemptCtx, remote, reqBody, opts.MaxResponseBytes)
		cancel()

		retryable, classifyErr := classifyAttempt(statusCode, sendErr)
		if classifyErr == nil {
			return c.ApplySyncResponse(ctx, respBody)
		}
		lastErr = classifyErr

		if !retryable || attempt >= opts.Retries {
			return nil, lastErr
		}

		delay := eb.NextBackOff()
		if delay == backoff.Stop {
			return nil, lastErr
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, warperrors.Aborted("syncWith", ctx.Err().Error())
		case <-timer.C:
		}
	}
}

// classifyAttempt turns a transport outcome into (retryable, error). A nil
// error means the attempt succeeded and its body is ready to apply.
func classifyAttempt(statusCode int, sendErr error) (bool, error) {
	if sendErr != nil {
		if errors.Is(sendErr, context.DeadlineExceeded) {
			return true, warperrors.Wrap(sendErr, warperrors.SyncTimeout, warperrors.SeverityMedium, "syncctl: attempt timed out")
		}
		return true, warperrors.Wrap(sendErr, warperrors.SyncNetwork, warperrors.SeverityMedium, "syncctl: network error")
	}
	switch {
	case statusCode >= 200 && statusCode < 300:
		return false, nil
	case statusCode >= 500:
		return true, warperrors.Newf(warperrors.SyncRemote, warperrors.SeverityMedium, "syncctl: remote returned %d", statusCode)
	default:
		return false, warperrors.Newf(warperrors.SyncProtocol, warperrors.SeverityMedium, "syncctl: protocol violation, status %d", statusCode)
	}
}
