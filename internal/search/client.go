package search

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// Client wraps a Provider with 429 retry discipline. Other upstream failures
// are surfaced without retry.
type Client struct {
	Provider  Provider
	RetryOn429 bool
	RetryMax   int
	Log        zerolog.Logger

	// sleep and jitter are injectable for tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// NewClient builds a retrying client around the provider.
func NewClient(p Provider, retryOn429 bool, retryMax int, log zerolog.Logger) *Client {
	return &Client{Provider: p, RetryOn429: retryOn429, RetryMax: retryMax, Log: log}
}

func (c *Client) doSleep(ctx context.Context, d time.Duration) error {
	if c.sleep != nil {
		return c.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) jitterDelay() time.Duration {
	if c.jitter != nil {
		return c.jitter()
	}
	return time.Duration(rand.Int63n(int64(250 * time.Millisecond)))
}

// Search queries the provider, retrying on 429 up to RetryMax times with the
// upstream-provided delay plus uniform jitter.
func (c *Client) Search(ctx context.Context, q Query) ([]Result, error) {
	attempts := c.RetryMax + 1
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		results, err := c.Provider.Search(ctx, q)
		if err == nil {
			return results, nil
		}
		lastErr = err
		var rle *RateLimitError
		if !c.RetryOn429 || !errors.As(err, &rle) || attempt == attempts-1 {
			return nil, err
		}
		delay := rle.RetryAfter + c.jitterDelay()
		c.Log.Debug().Dur("delay", delay).Int("attempt", attempt+1).Msg("search rate limited, backing off")
		if err := c.doSleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}
