package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Retrier re-runs a due retrying record.
type Retrier interface {
	RetryDue(ctx context.Context, recordID string, trigger string) (bool, error)
}

// deferredRetries keeps one in-process timer per retrying record. Timers are
// best-effort: they die with the process and the sweep covers whatever they
// miss. Both paths go through the same conditional claim.
type deferredRetries struct {
	retrier Retrier
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	timers  map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

func newDeferredRetries(ctx context.Context, retrier Retrier, logger *zap.Logger) *deferredRetries {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &deferredRetries{
		retrier: retrier,
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		timers:  make(map[string]*time.Timer),
	}
}

func (d *deferredRetries) ScheduleRetry(recordID string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if existing, ok := d.timers[recordID]; ok {
		existing.Stop()
	}

	delay := max(at.Sub(d.now()), 0)
	d.timers[recordID] = time.AfterFunc(delay, func() { d.fire(recordID) })
}

func (d *deferredRetries) fire(recordID string) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	delete(d.timers, recordID)
	d.wg.Add(1)
	ctx := d.ctx
	d.mu.Unlock()
	defer d.wg.Done()

	if _, err := d.retrier.RetryDue(ctx, recordID, TriggerDeferred); err != nil && ctx.Err() == nil {
		d.logger.Warn("deferred retry failed, sweep will pick it up",
			zap.String("deliveryId", recordID),
			zap.Error(err),
		)
	}
}

// pending reports how many timers are armed.
func (d *deferredRetries) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// stop cancels every armed timer and waits for retries already running.
func (d *deferredRetries) stop() {
	d.mu.Lock()
	d.stopped = true
	for id, timer := range d.timers {
		timer.Stop()
		delete(d.timers, id)
	}
	d.mu.Unlock()

	d.wg.Wait()
}
