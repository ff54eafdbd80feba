package catalog

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// backoff retries registry requests that failed at the network level or were
// throttled (429, 503). The delay doubles per attempt up to max; a Retry-After
// header replaces the current delay.
type backoff struct {
	retries int
	base    time.Duration
	max     time.Duration
}

var defaultBackoff = backoff{retries: 2, base: 500 * time.Millisecond, max: 30 * time.Second}

func (b backoff) do(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, error) {
	delay := b.base
	for attempt := 0; ; attempt++ {
		resp, err := client.Do(req.Clone(ctx))
		last := attempt >= b.retries
		switch {
		case err != nil:
			if last {
				return nil, err
			}
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
			resp.Body.Close()
			if last {
				return nil, fmt.Errorf("HTTP %d after %d retries", resp.StatusCode, b.retries)
			}
			if d, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
				delay = d
			}
		default:
			return resp, nil
		}

		if err := wait(ctx, min(delay, b.max)); err != nil {
			return nil, err
		}
		delay = min(delay*2, b.max)
	}
}

// retryAfter reads the delay-seconds form of Retry-After.
func retryAfter(v string) (time.Duration, bool) {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
