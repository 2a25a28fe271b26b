package ratelimit

import "context"

// RateLimiter throttles outbound deliveries per destination.
type RateLimiter interface {
	Allow(ctx context.Context, destinationID string) (bool, error)
	Wait(ctx context.Context, destinationID string) error
}

// Noop never throttles. It is used when no limiter is configured.
type Noop struct{}

func (Noop) Allow(context.Context, string) (bool, error) { return true, nil }

func (Noop) Wait(context.Context, string) error { return nil }
