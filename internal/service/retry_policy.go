package service

import (
	"time"

	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
)

const baseRetryDelay = time.Second

// BackoffDelay returns the wait after a failed attempt n (1-indexed):
// 2s after attempt 1, 4s after attempt 2, and so on.
func BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return baseRetryDelay << attempt
}

// Transition is the state a pending record moves to after one attempt.
type Transition struct {
	State       domain.DeliveryState
	NextRetryAt *time.Time
}

// NextTransition applies the delivery state machine to the outcome of attempt
// n against a destination allowing maxAttempts.
func NextTransition(success bool, attempt, maxAttempts int, now time.Time) Transition {
	if success {
		return Transition{State: domain.DeliverySuccess}
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if attempt >= maxAttempts {
		return Transition{State: domain.DeliveryFailed}
	}

	next := now.Add(BackoffDelay(attempt)).UTC()
	return Transition{State: domain.DeliveryRetrying, NextRetryAt: &next}
}
