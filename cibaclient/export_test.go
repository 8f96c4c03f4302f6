package cibaclient

import (
	"context"
	"time"
)

// WithSleep overrides the poll pacing so tests do not wait wall-clock time.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		c.sleep = fn
	}
}
