package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/webhook-dispatcher/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSweepInterval = time.Minute
	defaultSweepLimit    = 10
	defaultStalledAfter  = 5 * time.Minute
)

// RetrySweeper periodically retries due records. It is the durable retry
// path: anything the deferred timers miss is found here.
type RetrySweeper struct {
	deliveries   repository.DeliveryRepository
	retrier      Retrier
	logger       *zap.Logger
	interval     time.Duration
	limit        int
	stalledAfter time.Duration
	now          func() time.Time
}

func NewRetrySweeper(
	deliveries repository.DeliveryRepository,
	retrier Retrier,
	interval time.Duration,
	limit int,
	stalledAfter time.Duration,
	logger *zap.Logger,
) (*RetrySweeper, error) {
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if retrier == nil {
		return nil, fmt.Errorf("retrier is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	if stalledAfter <= 0 {
		stalledAfter = defaultStalledAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetrySweeper{
		deliveries:   deliveries,
		retrier:      retrier,
		logger:       logger,
		interval:     interval,
		limit:        limit,
		stalledAfter: stalledAfter,
		now:          time.Now,
	}, nil
}

func (s *RetrySweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial sweep so retries that came due while the process was down
	// do not wait for the first ticker edge.
	if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry sweeper initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry sweeper sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep retries up to limit due records, oldest due first, and returns how
// many it claimed. Records are retried concurrently and independently.
func (s *RetrySweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()

	stalled, err := s.deliveries.RequeueStalled(ctx, now.Add(-s.stalledAfter), now)
	if err != nil {
		s.logger.Error("failed to requeue stalled deliveries", zap.Error(err))
	} else if stalled.Requeued > 0 || stalled.Exhausted > 0 {
		s.logger.Warn("recovered stalled deliveries",
			zap.Int64("requeued", stalled.Requeued),
			zap.Int64("failed", stalled.Exhausted),
		)
	}

	due, err := s.deliveries.FindDue(ctx, now, s.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch due deliveries: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	claimed := make([]bool, len(due))
	var g errgroup.Group
	for i := range due {
		recordID := due[i].ID
		g.Go(func() error {
			ok, err := s.retrier.RetryDue(ctx, recordID, TriggerSweep)
			if err != nil {
				s.logger.Error("failed to retry delivery",
					zap.String("deliveryId", recordID),
					zap.Error(err),
				)
			}
			claimed[i] = ok
			return nil
		})
	}
	_ = g.Wait()

	count := 0
	for _, ok := range claimed {
		if ok {
			count++
		}
	}

	s.logger.Info("retry sweep finished",
		zap.Int("due", len(due)),
		zap.Int("claimed", count),
	)
	return count, nil
}
