package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
	"github.com/kursadbilgin/webhook-dispatcher/internal/observability"
	"github.com/kursadbilgin/webhook-dispatcher/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultDispatchConcurrency = 16

// Deliverer runs the first attempt of a freshly created pending record.
type Deliverer interface {
	Deliver(ctx context.Context, record domain.DeliveryRecord, dest *domain.Destination) DeliveryResult
}

// DispatchRequest is one firing of a business event.
type DispatchRequest struct {
	Event       domain.Event
	Data        any
	TenantID    string
	BranchID    *string
	TriggeredBy *string
	// FiredAt becomes the payload timestamp. Zero means now.
	FiredAt time.Time
}

type DispatchSummary struct {
	DispatchID   string
	Destinations int
	Succeeded    int
	Retrying     int
	Failed       int
	Results      []DeliveryResult
}

// Dispatcher fans one event out to every destination subscribed to it.
type Dispatcher struct {
	destinations repository.DestinationRepository
	dispatches   repository.DispatchRepository
	deliveries   repository.DeliveryRepository
	deliverer    Deliverer
	metrics      *observability.Metrics
	logger       *zap.Logger
	concurrency  int
	now          func() time.Time
	newID        func() string

	async sync.WaitGroup
}

func NewDispatcher(
	destinations repository.DestinationRepository,
	dispatches repository.DispatchRepository,
	deliveries repository.DeliveryRepository,
	deliverer Deliverer,
	concurrency int,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if destinations == nil {
		return nil, fmt.Errorf("destination repository is required")
	}
	if dispatches == nil {
		return nil, fmt.Errorf("dispatch repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if deliverer == nil {
		return nil, fmt.Errorf("deliverer is required")
	}
	if concurrency < 1 {
		concurrency = defaultDispatchConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		destinations: destinations,
		dispatches:   dispatches,
		deliveries:   deliveries,
		deliverer:    deliverer,
		logger:       logger,
		concurrency:  concurrency,
		now:          time.Now,
		newID:        uuid.NewString,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Dispatch resolves destinations, records one pending delivery per
// destination and runs all first attempts concurrently, waiting until every
// one has settled. Failures are logged and recorded, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) (summary DispatchSummary) {
	if ctx == nil {
		ctx = context.Background()
	}

	summary.DispatchID = d.newID()
	ctx = observability.WithCorrelationID(ctx, summary.DispatchID)
	logger := observability.WithContextLogger(d.logger, ctx).With(
		zap.String("event", req.Event.String()),
		zap.String("tenantId", req.TenantID),
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("webhook dispatch panicked", zap.Any("panic", r))
		}
	}()

	if !req.Event.IsValid() || strings.TrimSpace(req.TenantID) == "" {
		logger.Error("dropping webhook dispatch with invalid event or tenant")
		return summary
	}
	branchID := normalizeOptionalString(req.BranchID)

	destinations, err := d.destinations.Resolve(ctx, req.Event, req.TenantID, branchID)
	if err != nil {
		logger.Error("failed to resolve webhook destinations", zap.Error(err))
		destinations = nil
	}
	d.metrics.IncDispatch(req.Event.String())

	firedAt := req.FiredAt
	if firedAt.IsZero() {
		firedAt = d.now()
	}

	dispatch := &domain.Dispatch{
		ID:               summary.DispatchID,
		TenantID:         req.TenantID,
		BranchID:         branchID,
		Event:            req.Event,
		DestinationCount: len(destinations),
		Status:           domain.DispatchProcessing,
		TriggeredBy:      normalizeOptionalString(req.TriggeredBy),
		CreatedAt:        firedAt.UTC(),
	}

	if len(destinations) == 0 {
		dispatch.Status = domain.DispatchNoDestinations
		if err := d.dispatches.Create(ctx, dispatch); err != nil {
			logger.Error("failed to record dispatch", zap.Error(err))
		}
		logger.Debug("no webhook destinations subscribed")
		return summary
	}

	payload, err := domain.NewPayload(req.Event, req.Data, req.TenantID, branchID, firedAt)
	if err != nil {
		logger.Error("failed to build webhook payload", zap.Error(err))
		return summary
	}
	frozen, err := payload.Canonical()
	if err != nil {
		logger.Error("failed to encode webhook payload", zap.Error(err))
		return summary
	}

	if err := d.dispatches.Create(ctx, dispatch); err != nil {
		logger.Error("failed to record dispatch", zap.Error(err))
	}

	records := make([]*domain.DeliveryRecord, len(destinations))
	for i := range destinations {
		records[i] = &domain.DeliveryRecord{
			ID:            d.newID(),
			DispatchID:    summary.DispatchID,
			DestinationID: destinations[i].ID,
			TenantID:      req.TenantID,
			BranchID:      branchID,
			Event:         req.Event,
			Payload:       frozen,
			Attempt:       1,
			State:         domain.DeliveryPending,
			TriggeredBy:   dispatch.TriggeredBy,
		}
	}
	if err := d.deliveries.CreateBatch(ctx, records); err != nil {
		logger.Error("failed to create delivery records", zap.Error(err))
		return summary
	}

	summary.Destinations = len(destinations)
	summary.Results = d.fanOut(ctx, records, destinations)
	for _, result := range summary.Results {
		switch result.State {
		case domain.DeliverySuccess:
			summary.Succeeded++
		case domain.DeliveryRetrying:
			summary.Retrying++
		case domain.DeliveryFailed:
			summary.Failed++
		}
	}

	status := domain.DispatchCompleted
	if summary.Succeeded != summary.Destinations {
		status = domain.DispatchPartialFailure
	}
	if err := d.dispatches.UpdateStatus(ctx, summary.DispatchID, status); err != nil {
		logger.Error("failed to update dispatch status", zap.Error(err))
	}

	logger.Info("webhooks dispatched",
		zap.Int("destinations", summary.Destinations),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("retrying", summary.Retrying),
		zap.Int("failed", summary.Failed),
	)
	return summary
}

// DispatchAsync runs Dispatch in the background so the triggering operation
// never waits on delivery. Cancelling ctx does not abort the firing.
func (d *Dispatcher) DispatchAsync(ctx context.Context, req DispatchRequest) {
	if ctx == nil {
		ctx = context.Background()
	}
	detached := context.WithoutCancel(ctx)

	d.async.Add(1)
	go func() {
		defer d.async.Done()
		d.Dispatch(detached, req)
	}()
}

// Wait blocks until every DispatchAsync call has settled.
func (d *Dispatcher) Wait() {
	d.async.Wait()
}

// fanOut waits for all deliveries; one destination failing never cancels or
// delays the others beyond the concurrency limit.
func (d *Dispatcher) fanOut(ctx context.Context, records []*domain.DeliveryRecord, destinations []domain.Destination) []DeliveryResult {
	results := make([]DeliveryResult, len(records))

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i := range records {
		g.Go(func() error {
			results[i] = d.deliverer.Deliver(ctx, *records[i], &destinations[i])
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
