package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
	"github.com/kursadbilgin/webhook-dispatcher/internal/repository"
	"go.uber.org/zap"
)

// LedgerService is the operator view of the delivery ledger.
type LedgerService struct {
	dispatches repository.DispatchRepository
	deliveries repository.DeliveryRepository
	attempts   repository.AttemptRepository
	scheduler  RetryScheduler
	logger     *zap.Logger
	now        func() time.Time
}

type DeliveryDetail struct {
	Record   domain.DeliveryRecord
	Attempts []domain.DeliveryAttempt
}

type DispatchSummaryView struct {
	Dispatch domain.Dispatch
	Counts   []StateCount
}

type StateCount struct {
	State domain.DeliveryState
	Count int
}

func NewLedgerService(
	dispatches repository.DispatchRepository,
	deliveries repository.DeliveryRepository,
	attempts repository.AttemptRepository,
	logger *zap.Logger,
) (*LedgerService, error) {
	if dispatches == nil || deliveries == nil || attempts == nil {
		return nil, fmt.Errorf("dispatch, delivery and attempt repositories are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LedgerService{
		dispatches: dispatches,
		deliveries: deliveries,
		attempts:   attempts,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// SetRetryScheduler lets manual retries fire right away instead of waiting
// for the next sweep.
func (s *LedgerService) SetRetryScheduler(scheduler RetryScheduler) {
	if s == nil {
		return
	}
	s.scheduler = scheduler
}

func (s *LedgerService) GetDelivery(ctx context.Context, id string) (*DeliveryDetail, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: delivery id is required", domain.ErrValidation)
	}

	record, err := s.deliveries.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}

	attempts, err := s.attempts.GetByDeliveryID(ctx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery attempts: %w", err)
	}

	return &DeliveryDetail{Record: *record, Attempts: attempts}, nil
}

func (s *LedgerService) ListDeliveries(ctx context.Context, params repository.ListParams) ([]domain.DeliveryRecord, int64, error) {
	return s.deliveries.List(ctx, params)
}

// RetryDelivery reopens a failed delivery for exactly one more attempt.
func (s *LedgerService) RetryDelivery(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: delivery id is required", domain.ErrValidation)
	}
	id = strings.TrimSpace(id)

	now := s.now().UTC()
	if err := s.deliveries.MarkForManualRetry(ctx, id, now); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			if _, getErr := s.deliveries.GetByID(ctx, id); getErr != nil {
				return getErr
			}
			return fmt.Errorf("%w: only failed deliveries can be retried", domain.ErrConflict)
		}
		return err
	}

	if s.scheduler != nil {
		s.scheduler.ScheduleRetry(id, now)
	}
	s.logger.Info("manual delivery retry requested", zap.String("deliveryId", id))
	return nil
}

func (s *LedgerService) GetDispatchSummary(ctx context.Context, dispatchID string) (*DispatchSummaryView, error) {
	if strings.TrimSpace(dispatchID) == "" {
		return nil, fmt.Errorf("%w: dispatch id is required", domain.ErrValidation)
	}

	dispatch, err := s.dispatches.GetByID(ctx, strings.TrimSpace(dispatchID))
	if err != nil {
		return nil, err
	}

	states, err := s.deliveries.GetDispatchSummary(ctx, dispatch.ID)
	if err != nil {
		return nil, err
	}

	counts := make([]StateCount, 0, len(states))
	for _, summary := range states {
		counts = append(counts, StateCount{State: summary.State, Count: summary.Count})
	}

	return &DispatchSummaryView{Dispatch: *dispatch, Counts: counts}, nil
}
