// Package transport implements the sync controller's HTTP transport port on
// net/http: http.NewRequestWithContext plus a timeout-bound http.Client.
package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	warperrors "github.com/git-stunts/git-warp/internal/errors"
)

// Client posts sync request bodies to a peer's /sync endpoint and returns
// the raw response, implementing port.HttpServer. An optional limiter
// throttles outbound requests so a misbehaving retry loop can't hammer a
// remote peer.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New returns a Client with the given per-request timeout and no outbound
// rate limit.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// WithRateLimit caps outbound requests to ratePerSecond, allowing bursts up
// to burst. Use for sync peers known to rate-limit or bill per request.
func (c *Client) WithRateLimit(ratePerSecond float64, burst int) *Client {
	c.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	return c
}

// Send posts body to remote and returns the response, truncated-checked
// against maxBody. A response larger than maxBody is rejected rather than
// silently truncated, since a truncated sync payload would decode garbage.
func (c *Client) Send(ctx context.Context, remote string, body []byte, maxBody int64) ([]byte, int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, warperrors.Wrap(err, warperrors.SyncTimeout, warperrors.SeverityMedium, "transport: rate limit wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, remote, bytes.NewReader(body))
	if err != nil {
		return nil, 0, warperrors.Wrap(err, warperrors.SyncRemoteURL, warperrors.SeverityHigh, "transport: build sync request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, warperrors.Wrap(err, warperrors.SyncNetwork, warperrors.SeverityHigh, "transport: send sync request")
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxBody+1)
	respBody, err := io.ReadAll(limited)
	if err != nil {
		return nil, resp.StatusCode, warperrors.Wrap(err, warperrors.SyncNetwork, warperrors.SeverityHigh, "transport: read sync response")
	}
	if int64(len(respBody)) > maxBody {
		return nil, resp.StatusCode, warperrors.Newf(warperrors.SyncProtocol, warperrors.SeverityHigh,
			"transport: response from %s exceeds %d byte cap", remote, maxBody)
	}

	return respBody, resp.StatusCode, nil
}
