package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
	"github.com/kursadbilgin/webhook-dispatcher/internal/observability"
	"github.com/kursadbilgin/webhook-dispatcher/internal/provider"
	"github.com/kursadbilgin/webhook-dispatcher/internal/ratelimit"
	"github.com/kursadbilgin/webhook-dispatcher/internal/repository"
	"github.com/kursadbilgin/webhook-dispatcher/internal/signing"
	"go.uber.org/zap"
)

const (
	TriggerSweep    = "sweep"
	TriggerDeferred = "deferred"
	TriggerManual   = "manual"

	rateLimitWaitCap = 5 * time.Second
)

// RetryScheduler arms an in-process trigger for a record that became retrying.
type RetryScheduler interface {
	ScheduleRetry(recordID string, at time.Time)
}

// DeliveryResult summarizes one attempt for the dispatcher's fan-out.
type DeliveryResult struct {
	RecordID      string
	DestinationID string
	Attempt       int
	State         domain.DeliveryState
	ErrorMessage  string
}

// DeliveryService runs attempts and owns every delivery state transition.
// The executor only reports outcomes; this service decides what they mean
// and writes them to the ledger.
type DeliveryService struct {
	destinations repository.DestinationRepository
	deliveries   repository.DeliveryRepository
	attempts     repository.AttemptRepository
	executor     provider.Executor
	rateLimiter  ratelimit.RateLimiter
	metrics      *observability.Metrics
	logger       *zap.Logger
	now          func() time.Time

	schedulerMu sync.RWMutex
	scheduler   RetryScheduler
}

func NewDeliveryService(
	destinations repository.DestinationRepository,
	deliveries repository.DeliveryRepository,
	attempts repository.AttemptRepository,
	executor provider.Executor,
	rateLimiter ratelimit.RateLimiter,
	logger *zap.Logger,
) (*DeliveryService, error) {
	if destinations == nil {
		return nil, fmt.Errorf("destination repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryService{
		destinations: destinations,
		deliveries:   deliveries,
		attempts:     attempts,
		executor:     executor,
		rateLimiter:  rateLimiter,
		logger:       logger,
		now:          time.Now,
	}, nil
}

func (s *DeliveryService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *DeliveryService) SetRetryScheduler(scheduler RetryScheduler) {
	if s == nil {
		return
	}
	s.schedulerMu.Lock()
	s.scheduler = scheduler
	s.schedulerMu.Unlock()
}

func (s *DeliveryService) retryScheduler() RetryScheduler {
	s.schedulerMu.RLock()
	defer s.schedulerMu.RUnlock()
	return s.scheduler
}

// Deliver performs one attempt for a pending record and records the outcome.
// It never returns an error: every failure ends up as ledger state.
func (s *DeliveryService) Deliver(ctx context.Context, record domain.DeliveryRecord, dest *domain.Destination) DeliveryResult {
	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("deliveryId", record.ID),
		zap.String("destinationId", record.DestinationID),
		zap.Int("attempt", record.Attempt),
	)
	result := DeliveryResult{
		RecordID:      record.ID,
		DestinationID: record.DestinationID,
		Attempt:       record.Attempt,
	}

	if dest == nil || !dest.Active {
		msg := "destination no longer active"
		if dest == nil {
			msg = "destination not found"
		}
		return s.finalize(ctx, logger, record, result, domain.DeliveryFailed, msg)
	}

	payload, err := domain.DecodePayload(record.Payload)
	if err != nil {
		return s.finalize(ctx, logger, record, result, domain.DeliveryFailed, "stored payload is invalid")
	}
	if _, err := signing.SignPayload(&payload, dest); err != nil {
		return s.finalize(ctx, logger, record, result, domain.DeliveryFailed, "failed to sign payload")
	}

	s.waitForBudget(ctx, logger, dest)

	event := record.Event.String()
	s.metrics.IncInFlight(event)
	outcome := s.executor.Attempt(ctx, *dest, provider.Request{DeliveryID: record.ID, Payload: payload})
	s.metrics.DecInFlight(event)
	s.metrics.ObserveAttemptDuration(event, outcome.Duration)

	now := s.now()
	s.recordAttempt(ctx, logger, record, outcome, now)

	transition := NextTransition(outcome.Success, record.Attempt, dest.MaxAttempts, now)
	update := repository.Outcome{
		State:           transition.State,
		ResponseHeaders: outcome.ResponseHeaders,
		DurationMs:      outcome.Duration.Milliseconds(),
		NextRetryAt:     transition.NextRetryAt,
	}
	if outcome.ResponseStatus > 0 {
		status := outcome.ResponseStatus
		update.ResponseStatus = &status
	}
	if outcome.ResponseBody != "" {
		body := outcome.ResponseBody
		update.ResponseBody = &body
	}
	if msg := outcome.ErrorMessage(); msg != "" {
		update.ErrorMessage = &msg
		result.ErrorMessage = msg
	}

	result.State = transition.State
	if err := s.deliveries.RecordOutcome(ctx, record.ID, update); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			logger.Warn("delivery outcome already recorded elsewhere", zap.String("state", transition.State.String()))
		} else {
			logger.Error("failed to record delivery outcome", zap.Error(err))
		}
		return result
	}

	switch transition.State {
	case domain.DeliverySuccess:
		s.metrics.IncDeliverySucceeded(event)
	case domain.DeliveryRetrying:
		s.metrics.IncDeliveryFailed(event, provider.FailureReason(outcome.Err))
		s.metrics.IncRetryScheduled(event)
		logger.Info("delivery scheduled for retry",
			zap.Time("nextRetryAt", *transition.NextRetryAt),
			zap.String("error", result.ErrorMessage),
		)
		if scheduler := s.retryScheduler(); scheduler != nil {
			scheduler.ScheduleRetry(record.ID, *transition.NextRetryAt)
		}
	case domain.DeliveryFailed:
		s.metrics.IncDeliveryFailed(event, provider.FailureReason(outcome.Err))
		logger.Warn("delivery failed permanently", zap.String("error", result.ErrorMessage))
	}

	return result
}

// RetryDue claims a due retrying record and runs its next attempt with the
// destination configuration as it is now. It reports false when the record
// was not due or another trigger claimed it first.
func (s *DeliveryService) RetryDue(ctx context.Context, recordID string, trigger string) (bool, error) {
	claimed, err := s.deliveries.ClaimForRetry(ctx, recordID, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to claim delivery %s: %w", recordID, err)
	}
	if !claimed {
		return false, nil
	}
	s.metrics.IncSweepClaimed(trigger)

	record, err := s.deliveries.GetByID(ctx, recordID)
	if err != nil {
		return true, fmt.Errorf("failed to load claimed delivery %s: %w", recordID, err)
	}

	dest, err := s.destinations.GetByID(ctx, record.DestinationID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		// Leave the record pending; stalled recovery hands it back to the sweep.
		return true, fmt.Errorf("failed to load destination %s: %w", record.DestinationID, err)
	}

	s.Deliver(ctx, *record, dest)
	return true, nil
}

func (s *DeliveryService) finalize(
	ctx context.Context,
	logger *zap.Logger,
	record domain.DeliveryRecord,
	result DeliveryResult,
	state domain.DeliveryState,
	message string,
) DeliveryResult {
	result.State = state
	result.ErrorMessage = message

	s.recordAttempt(ctx, logger, record, provider.Outcome{Err: errors.New(message)}, s.now())
	if err := s.deliveries.RecordOutcome(ctx, record.ID, repository.Outcome{State: state, ErrorMessage: &message}); err != nil {
		logger.Error("failed to record delivery outcome", zap.Error(err))
		return result
	}

	s.metrics.IncDeliveryFailed(record.Event.String(), "destination")
	logger.Warn("delivery finalized without attempt", zap.String("reason", message))
	return result
}

func (s *DeliveryService) waitForBudget(ctx context.Context, logger *zap.Logger, dest *domain.Destination) {
	waitCtx, cancel := context.WithTimeout(ctx, min(dest.Timeout(), rateLimitWaitCap))
	defer cancel()

	if err := s.rateLimiter.Wait(waitCtx, dest.ID); err != nil {
		logger.Warn("rate limiter unavailable, delivering anyway", zap.Error(err))
	}
}

func (s *DeliveryService) recordAttempt(
	ctx context.Context,
	logger *zap.Logger,
	record domain.DeliveryRecord,
	outcome provider.Outcome,
	now time.Time,
) {
	attempt := &domain.DeliveryAttempt{
		ID:            uuid.NewString(),
		DeliveryID:    record.ID,
		AttemptNumber: record.Attempt,
		DurationMs:    outcome.Duration.Milliseconds(),
		CreatedAt:     now.UTC(),
	}
	if outcome.ResponseStatus > 0 {
		status := outcome.ResponseStatus
		attempt.ResponseStatus = &status
	}
	if body := strings.TrimSpace(outcome.ResponseBody); body != "" {
		value := outcome.ResponseBody
		attempt.ResponseBody = &value
	}
	if msg := outcome.ErrorMessage(); msg != "" {
		attempt.ErrorMessage = &msg
	}

	if err := s.attempts.Create(ctx, attempt); err != nil {
		logger.Error("failed to append delivery attempt", zap.Error(err))
	}
}
