package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Backoff defaults for rate-limited responses without a Retry-After header:
// exponential from 10s, capped at 5 minutes.
const (
	defaultBackoffBase = 10 * time.Second
	defaultBackoffCap  = 5 * time.Minute
)

// Client fetches JSON documents from the upstream APIs with client-side
// request pacing and retry/backoff on transient failures.
//
// HTTP 429, 403 and 503 are treated as transient: some UK government
// endpoints answer 403 when rate-limited. The server-supplied Retry-After
// delay is honoured when present; otherwise an exponential default applies.
// Any other non-200 status, and any unparsable body, is a hard failure.
type Client struct {
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	backoffBase time.Duration
	backoffCap  time.Duration
	log         zerolog.Logger
}

// NewClient creates a paced, retrying fetch client. rps throttles outbound
// requests; the default 0.5 req/s stays well within the undocumented limits
// of Find a Tender and Contracts Finder.
func NewClient(timeout time.Duration, maxRetries int, rps float64, log zerolog.Logger) *Client {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if rps <= 0 {
		rps = 0.5
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
		maxRetries:  maxRetries,
		backoffBase: defaultBackoffBase,
		backoffCap:  defaultBackoffCap,
		log:         log,
	}
}

// GetJSON fetches url and decodes the response body into v.
func (c *Client) GetJSON(ctx context.Context, url string, v interface{}) error {
	body, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to unmarshal response from %s: %w", url, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to make request: %w", err)
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if readErr != nil {
				return nil, fmt.Errorf("failed to read response body: %w", readErr)
			}
			return body, nil

		case isTransient(resp.StatusCode):
			wait := c.backoffFor(resp.Header.Get("Retry-After"), attempt)
			c.log.Warn().
				Int("status", resp.StatusCode).
				Int("attempt", attempt+1).
				Dur("wait", wait).
				Msg("rate limited by upstream, backing off")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}

		default:
			return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, snippet(body))
		}
	}

	return nil, fmt.Errorf("gave up on %s after %d attempts", url, c.maxRetries)
}

func isTransient(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusForbidden ||
		status == http.StatusServiceUnavailable
}

func (c *Client) backoffFor(retryAfter string, attempt int) time.Duration {
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	wait := c.backoffBase << uint(attempt)
	if wait > c.backoffCap {
		wait = c.backoffCap
	}
	return wait
}

func snippet(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}
