package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WebhookService owns the retry machinery of one process: the periodic sweep
// and, when enabled, the in-process deferred retry timers.
type WebhookService struct {
	deliveries      *DeliveryService
	sweeper         *RetrySweeper
	deferredEnabled bool
	logger          *zap.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	deferred *deferredRetries
	done     chan struct{}
}

func NewWebhookService(
	deliveries *DeliveryService,
	sweeper *RetrySweeper,
	deferredEnabled bool,
	logger *zap.Logger,
) (*WebhookService, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery service is required")
	}
	if sweeper == nil {
		return nil, fmt.Errorf("retry sweeper is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebhookService{
		deliveries:      deliveries,
		sweeper:         sweeper,
		deferredEnabled: deferredEnabled,
		logger:          logger,
	}, nil
}

// Start runs the sweep until ctx is done or Stop is called.
func (s *WebhookService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("webhook service already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	if s.deferredEnabled {
		s.deferred = newDeferredRetries(runCtx, s.deliveries, s.logger)
		s.deliveries.SetRetryScheduler(s.deferred)
	}
	done := s.done
	s.mu.Unlock()
	defer close(done)

	s.logger.Info("webhook service started", zap.Bool("deferredRetries", s.deferredEnabled))
	err := s.sweeper.Start(runCtx)
	s.shutdownDeferred()
	s.logger.Info("webhook service stopped")
	return err
}

// Stop cancels the sweep and pending deferred timers, then waits for
// retries already in flight. It is safe to call more than once.
func (s *WebhookService) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// ScheduleRetry arms a deferred retry when the service is running with
// deferred retries enabled. Otherwise the sweep picks the record up.
func (s *WebhookService) ScheduleRetry(recordID string, at time.Time) {
	s.mu.Lock()
	deferred := s.deferred
	s.mu.Unlock()

	if deferred != nil {
		deferred.ScheduleRetry(recordID, at)
	}
}

func (s *WebhookService) shutdownDeferred() {
	s.mu.Lock()
	deferred := s.deferred
	s.deferred = nil
	s.mu.Unlock()

	if deferred == nil {
		return
	}
	s.deliveries.SetRetryScheduler(nil)
	deferred.stop()
}
