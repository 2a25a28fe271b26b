package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
	"github.com/kursadbilgin/webhook-dispatcher/internal/provider"
	"github.com/kursadbilgin/webhook-dispatcher/internal/queue"
	"github.com/kursadbilgin/webhook-dispatcher/internal/repository"
)

type fakeDestinationRepo struct {
	mu    sync.Mutex
	items map[string]domain.Destination

	resolveFn func(ctx context.Context, event domain.Event, tenantID string, branchID *string) ([]domain.Destination, error)
	getByIDFn func(ctx context.Context, id string) (*domain.Destination, error)
	createFn  func(ctx context.Context, d *domain.Destination) error
}

func newFakeDestinationRepo(destinations ...domain.Destination) *fakeDestinationRepo {
	repo := &fakeDestinationRepo{items: make(map[string]domain.Destination)}
	for _, d := range destinations {
		repo.items[d.ID] = d
	}
	return repo
}

func (f *fakeDestinationRepo) put(d domain.Destination) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[d.ID] = d
}

func (f *fakeDestinationRepo) maxAttempts(id string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.items[id]
	return d.MaxAttempts, ok
}

func (f *fakeDestinationRepo) Create(ctx context.Context, d *domain.Destination) error {
	if f.createFn != nil {
		return f.createFn(ctx, d)
	}
	f.put(*d)
	return nil
}

func (f *fakeDestinationRepo) Update(ctx context.Context, d *domain.Destination) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[d.ID]; !ok {
		return domain.ErrNotFound
	}
	f.items[d.ID] = *d
	return nil
}

func (f *fakeDestinationRepo) GetByID(ctx context.Context, id string) (*domain.Destination, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &d, nil
}

func (f *fakeDestinationRepo) List(ctx context.Context, tenantID string) ([]domain.Destination, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Destination, 0, len(f.items))
	for _, d := range f.items {
		if tenantID == "" || d.TenantID == tenantID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeDestinationRepo) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.items, id)
	return nil
}

func (f *fakeDestinationRepo) Resolve(ctx context.Context, event domain.Event, tenantID string, branchID *string) ([]domain.Destination, error) {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, event, tenantID, branchID)
	}
	all, _ := f.List(ctx, tenantID)
	out := make([]domain.Destination, 0, len(all))
	for i := range all {
		if all[i].Matches(event, tenantID, branchID) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

type fakeDispatchRepo struct {
	mu       sync.Mutex
	items    map[string]domain.Dispatch
	createFn func(ctx context.Context, d *domain.Dispatch) error
}

func newFakeDispatchRepo() *fakeDispatchRepo {
	return &fakeDispatchRepo{items: make(map[string]domain.Dispatch)}
}

func (f *fakeDispatchRepo) Create(ctx context.Context, d *domain.Dispatch) error {
	if f.createFn != nil {
		return f.createFn(ctx, d)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[d.ID] = *d
	return nil
}

func (f *fakeDispatchRepo) GetByID(ctx context.Context, id string) (*domain.Dispatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &d, nil
}

func (f *fakeDispatchRepo) UpdateStatus(ctx context.Context, id string, status domain.DispatchStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	d.Status = status
	f.items[id] = d
	return nil
}

// memoryLedger mirrors the conditional updates of the gorm delivery
// repository so state machine tests exercise the same guards.
type memoryLedger struct {
	mu       sync.Mutex
	records  map[string]domain.DeliveryRecord
	outcomes map[string]int
	now      func() time.Time

	createBatchFn func(ctx context.Context, records []*domain.DeliveryRecord) error
	// maxAttemptsFn stands in for the destinations join; nil requeues every
	// stalled record.
	maxAttemptsFn func(destinationID string) (int, bool)
}

func newMemoryLedger(now func() time.Time) *memoryLedger {
	return &memoryLedger{
		records:  make(map[string]domain.DeliveryRecord),
		outcomes: make(map[string]int),
		now:      now,
	}
}

func (m *memoryLedger) get(id string) domain.DeliveryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id]
}

func (m *memoryLedger) outcomeCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomes[id]
}

func (m *memoryLedger) Create(ctx context.Context, r *domain.DeliveryRecord) error {
	return m.CreateBatch(ctx, []*domain.DeliveryRecord{r})
}

func (m *memoryLedger) CreateBatch(ctx context.Context, records []*domain.DeliveryRecord) error {
	if m.createBatchFn != nil {
		return m.createBatchFn(ctx, records)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		r.CreatedAt = m.now()
		r.UpdatedAt = r.CreatedAt
		m.records[r.ID] = *r
	}
	return nil
}

func (m *memoryLedger) GetByID(ctx context.Context, id string) (*domain.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (m *memoryLedger) List(ctx context.Context, params repository.ListParams) ([]domain.DeliveryRecord, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.DeliveryRecord, 0, len(m.records))
	for _, r := range m.records {
		if params.State != nil && r.State != *params.State {
			continue
		}
		out = append(out, r)
	}
	return out, int64(len(out)), nil
}

func (m *memoryLedger) RecordOutcome(ctx context.Context, id string, outcome repository.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || r.State != domain.DeliveryPending {
		return domain.ErrConflict
	}
	duration := outcome.DurationMs
	r.State = outcome.State
	r.ResponseStatus = outcome.ResponseStatus
	r.ResponseBody = outcome.ResponseBody
	r.ResponseHeaders = outcome.ResponseHeaders
	r.DurationMs = &duration
	r.ErrorMessage = outcome.ErrorMessage
	r.NextRetryAt = outcome.NextRetryAt
	r.UpdatedAt = m.now()
	m.records[id] = r
	m.outcomes[id]++
	return nil
}

func (m *memoryLedger) FindDue(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	due := make([]domain.DeliveryRecord, 0)
	for _, r := range m.records {
		if r.State == domain.DeliveryRetrying && r.NextRetryAt != nil && !r.NextRetryAt.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(*due[j].NextRetryAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *memoryLedger) ClaimForRetry(ctx context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || r.State != domain.DeliveryRetrying || r.NextRetryAt == nil || r.NextRetryAt.After(now) {
		return false, nil
	}
	r.State = domain.DeliveryPending
	r.Attempt++
	r.NextRetryAt = nil
	r.UpdatedAt = now
	m.records[id] = r
	return true, nil
}

func (m *memoryLedger) RequeueStalled(ctx context.Context, staleBefore, now time.Time) (repository.StalledResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res repository.StalledResult
	for id, r := range m.records {
		if r.State != domain.DeliveryPending || !r.UpdatedAt.Before(staleBefore) {
			continue
		}
		msg := repository.StalledMessage
		r.ErrorMessage = &msg
		r.UpdatedAt = now
		if m.exhausted(r) {
			r.State = domain.DeliveryFailed
			r.NextRetryAt = nil
			res.Exhausted++
		} else {
			next := now
			r.State = domain.DeliveryRetrying
			r.NextRetryAt = &next
			res.Requeued++
		}
		m.records[id] = r
	}
	return res, nil
}

func (m *memoryLedger) exhausted(r domain.DeliveryRecord) bool {
	if m.maxAttemptsFn == nil {
		return false
	}
	maxAttempts, ok := m.maxAttemptsFn(r.DestinationID)
	return !ok || r.Attempt >= maxAttempts
}

func (m *memoryLedger) MarkForManualRetry(ctx context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || r.State != domain.DeliveryFailed {
		return domain.ErrConflict
	}
	r.State = domain.DeliveryRetrying
	r.NextRetryAt = &now
	m.records[id] = r
	return nil
}

func (m *memoryLedger) GetDispatchSummary(ctx context.Context, dispatchID string) ([]repository.StateSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.DeliveryState]int)
	for _, r := range m.records {
		if r.DispatchID == dispatchID {
			counts[r.State]++
		}
	}
	out := make([]repository.StateSummary, 0, len(counts))
	for state, count := range counts {
		out = append(out, repository.StateSummary{State: state, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].State < out[j].State })
	return out, nil
}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts []domain.DeliveryAttempt
	createFn func(ctx context.Context, a *domain.DeliveryAttempt) error
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, *a)
	return nil
}

func (f *fakeAttemptRepo) GetByDeliveryID(ctx context.Context, deliveryID string) ([]domain.DeliveryAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.DeliveryAttempt, 0)
	for _, a := range f.attempts {
		if a.DeliveryID == deliveryID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAttemptRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attempts)
}

type fakeExecutor struct {
	mu        sync.Mutex
	calls     []string
	attemptFn func(ctx context.Context, dest domain.Destination, req provider.Request) provider.Outcome
}

func (f *fakeExecutor) Attempt(ctx context.Context, dest domain.Destination, req provider.Request) provider.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, dest.ID)
	f.mu.Unlock()
	if f.attemptFn != nil {
		return f.attemptFn(ctx, dest, req)
	}
	return provider.Outcome{Success: true, ResponseStatus: 200}
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// statusSequence returns outcomes for the given HTTP statuses in order and
// repeats the last one.
func statusSequence(statuses ...int) func(ctx context.Context, dest domain.Destination, req provider.Request) provider.Outcome {
	var mu sync.Mutex
	i := 0
	return func(ctx context.Context, dest domain.Destination, req provider.Request) provider.Outcome {
		mu.Lock()
		status := statuses[min(i, len(statuses)-1)]
		i++
		mu.Unlock()

		outcome := provider.Outcome{ResponseStatus: status, ResponseBody: "status body", Duration: 15 * time.Millisecond}
		if status >= 200 && status < 300 {
			outcome.Success = true
			return outcome
		}
		outcome.Err = &provider.DeliveryError{Kind: provider.FailureHTTPStatus, StatusCode: status, Message: "webhook returned error status"}
		return outcome
	}
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, destinationID string) (bool, error)
	waitFn  func(ctx context.Context, destinationID string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, destinationID string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, destinationID)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, destinationID string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, destinationID)
	}
	return nil
}

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled map[string]time.Time
}

func (f *fakeScheduler) ScheduleRetry(recordID string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scheduled == nil {
		f.scheduled = make(map[string]time.Time)
	}
	f.scheduled[recordID] = at
}

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.EventMessage) error
	closeFn   func() error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.EventMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

// testClock is a manually advanced clock shared by a test's components.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
