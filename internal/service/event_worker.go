package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/webhook-dispatcher/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// EventDispatcher is the part of Dispatcher the event worker needs.
type EventDispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) DispatchSummary
}

// EventWorker consumes queued business events and dispatches each one. A
// message is acked once every delivery of its firing has settled.
type EventWorker struct {
	consumer    queue.Consumer
	dispatcher  EventDispatcher
	logger      *zap.Logger
	concurrency int
}

func NewEventWorker(
	consumer queue.Consumer,
	dispatcher EventDispatcher,
	concurrency int,
	logger *zap.Logger,
) (*EventWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EventWorker{
		consumer:    consumer,
		dispatcher:  dispatcher,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Start consumes the events queue with the configured number of workers until
// ctx is cancelled.
func (w *EventWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("event worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.EventsQueue),
			)

			err := w.consumer.Consume(groupCtx, queue.EventsQueue, w.processMessage)
			if err != nil {
				w.logger.Error("event worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("event worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (w *EventWorker) processMessage(ctx context.Context, msg queue.EventMessage) error {
	req := DispatchRequest{
		Event:       msg.Event,
		TenantID:    msg.TenantID,
		BranchID:    msg.BranchID,
		TriggeredBy: msg.TriggeredBy,
		FiredAt:     msg.FiredAt,
	}
	if len(msg.Data) > 0 {
		req.Data = msg.Data
	}

	summary := w.dispatcher.Dispatch(ctx, req)
	w.logger.Debug("event processed",
		zap.String("messageId", msg.MessageID),
		zap.String("dispatchId", summary.DispatchID),
	)
	return nil
}
