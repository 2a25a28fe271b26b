package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	defaultBreakerFailureThreshold = 5
	defaultBreakerCooldown         = 30 * time.Second
)

var errAttemptFailed = errors.New("attempt failed")

// BreakerExecutor wraps an Executor with one circuit breaker per destination.
// While a breaker is open, attempts fail fast without a network call and are
// still handed back as ordinary failed outcomes.
type BreakerExecutor struct {
	next             Executor
	failureThreshold uint32
	cooldown         time.Duration
	logger           *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[Outcome]
}

func NewBreakerExecutor(next Executor, failureThreshold int, cooldown time.Duration, logger *zap.Logger) (*BreakerExecutor, error) {
	if next == nil {
		return nil, errors.New("next executor is required")
	}
	if failureThreshold <= 0 {
		failureThreshold = defaultBreakerFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BreakerExecutor{
		next:             next,
		failureThreshold: uint32(failureThreshold),
		cooldown:         cooldown,
		logger:           logger,
		breakers:         make(map[string]*gobreaker.CircuitBreaker[Outcome]),
	}, nil
}

func (b *BreakerExecutor) Attempt(ctx context.Context, dest domain.Destination, req Request) Outcome {
	cb := b.breakerFor(dest.ID)

	outcome, err := cb.Execute(func() (Outcome, error) {
		o := b.next.Attempt(ctx, dest, req)
		if !o.Success {
			return o, errAttemptFailed
		}
		return o, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Outcome{Err: &DeliveryError{Kind: FailureCircuitOpen, Message: "circuit open", Cause: err}}
	}

	return outcome
}

// State reports the breaker state for a destination, "closed" if none exists yet.
func (b *BreakerExecutor) State(destinationID string) string {
	b.mu.Lock()
	cb, ok := b.breakers[destinationID]
	b.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return cb.State().String()
}

func (b *BreakerExecutor) breakerFor(destinationID string) *gobreaker.CircuitBreaker[Outcome] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[destinationID]; ok {
		return cb
	}

	threshold := b.failureThreshold
	cb := gobreaker.NewCircuitBreaker[Outcome](gobreaker.Settings{
		Name:        "webhook:" + destinationID,
		MaxRequests: 1,
		Timeout:     b.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("webhook circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	b.breakers[destinationID] = cb
	return cb
}
