package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
	"gorm.io/gorm"
)

type ListParams struct {
	TenantID *string
	State    *domain.DeliveryState
	Event    *domain.Event
	Page     int
	PageSize int
}

type StateSummary struct {
	State domain.DeliveryState `gorm:"column:state"`
	Count int                  `gorm:"column:count"`
}

// Outcome is the result of one attempt as written back to the ledger row.
type Outcome struct {
	State           domain.DeliveryState
	ResponseStatus  *int
	ResponseBody    *string
	ResponseHeaders map[string]string
	DurationMs      int64
	ErrorMessage    *string
	NextRetryAt     *time.Time
}

type DeliveryRepository interface {
	Create(ctx context.Context, r *domain.DeliveryRecord) error
	CreateBatch(ctx context.Context, records []*domain.DeliveryRecord) error
	GetByID(ctx context.Context, id string) (*domain.DeliveryRecord, error)
	List(ctx context.Context, params ListParams) ([]domain.DeliveryRecord, int64, error)
	RecordOutcome(ctx context.Context, id string, outcome Outcome) error
	FindDue(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryRecord, error)
	ClaimForRetry(ctx context.Context, id string, now time.Time) (bool, error)
	RequeueStalled(ctx context.Context, staleBefore, now time.Time) (StalledResult, error)
	MarkForManualRetry(ctx context.Context, id string, now time.Time) error
	GetDispatchSummary(ctx context.Context, dispatchID string) ([]StateSummary, error)
}

type GormDeliveryRepo struct {
	db *gorm.DB
}

func NewGormDeliveryRepo(db *gorm.DB) *GormDeliveryRepo {
	return &GormDeliveryRepo{db: db}
}

func (r *GormDeliveryRepo) Create(ctx context.Context, rec *domain.DeliveryRecord) error {
	model := deliveryModelFromDomain(rec)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if rec != nil {
		*rec = *deliveryModelToDomain(model)
	}
	return nil
}

func (r *GormDeliveryRepo) CreateBatch(ctx context.Context, records []*domain.DeliveryRecord) error {
	models := make([]DeliveryRecordModel, 0, len(records))
	modelIndexes := make([]int, 0, len(records))
	for i, rec := range records {
		model := deliveryModelFromDomain(rec)
		if model != nil {
			models = append(models, *model)
			modelIndexes = append(modelIndexes, i)
		}
	}

	if len(models) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).CreateInBatches(&models, 100).Error; err != nil {
		return err
	}

	for i := range models {
		idx := modelIndexes[i]
		if idx < len(records) && records[idx] != nil {
			*records[idx] = *deliveryModelToDomain(&models[i])
		}
	}

	return nil
}

func (r *GormDeliveryRepo) GetByID(ctx context.Context, id string) (*domain.DeliveryRecord, error) {
	var model DeliveryRecordModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryModelToDomain(&model), nil
}

func (r *GormDeliveryRepo) List(ctx context.Context, params ListParams) ([]domain.DeliveryRecord, int64, error) {
	query := r.db.WithContext(ctx).Model(&DeliveryRecordModel{})

	if params.TenantID != nil {
		query = query.Where("tenant_id = ?", *params.TenantID)
	}
	if params.State != nil {
		query = query.Where("state = ?", *params.State)
	}
	if params.Event != nil {
		query = query.Where("event = ?", *params.Event)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []DeliveryRecordModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	records := make([]domain.DeliveryRecord, 0, len(models))
	for i := range models {
		records = append(records, *deliveryModelToDomain(&models[i]))
	}

	return records, total, nil
}

// RecordOutcome writes an attempt result in place. Only a pending row can be
// resolved, which keeps two concurrent workers from both finalizing it.
func (r *GormDeliveryRepo) RecordOutcome(ctx context.Context, id string, outcome Outcome) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryRecordModel{}).
		Where("id = ? AND state = ?", id, domain.DeliveryPending).
		Updates(map[string]any{
			"state":            outcome.State,
			"response_status":  outcome.ResponseStatus,
			"response_body":    outcome.ResponseBody,
			"response_headers": gorm.Expr("?::jsonb", headersJSON(outcome.ResponseHeaders)),
			"duration_ms":      outcome.DurationMs,
			"error_message":    outcome.ErrorMessage,
			"next_retry_at":    outcome.NextRetryAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// FindDue returns retrying rows whose next_retry_at has passed, oldest first.
func (r *GormDeliveryRepo) FindDue(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryRecord, error) {
	var models []DeliveryRecordModel
	err := r.db.WithContext(ctx).
		Where("state = ? AND next_retry_at <= ?", domain.DeliveryRetrying, now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]domain.DeliveryRecord, 0, len(models))
	for i := range models {
		records = append(records, *deliveryModelToDomain(&models[i]))
	}

	return records, nil
}

// ClaimForRetry moves a due retrying row back to pending and bumps its attempt
// counter. It reports false when another sweeper or timer claimed it first.
func (r *GormDeliveryRepo) ClaimForRetry(ctx context.Context, id string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&DeliveryRecordModel{}).
		Where("id = ? AND state = ? AND next_retry_at <= ?", id, domain.DeliveryRetrying, now).
		Updates(map[string]any{
			"state":         domain.DeliveryPending,
			"attempt":       gorm.Expr("attempt + 1"),
			"next_retry_at": nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// StalledMessage is stored on rows recovered from a stalled claim.
const StalledMessage = "stalled"

// StalledResult counts the pending rows a stalled sweep recovered.
type StalledResult struct {
	Requeued  int64
	Exhausted int64
}

// RequeueStalled hands pending rows that stopped progressing back to the sweep.
// The attempt that stalled is counted as spent: rows already on their
// destination's last attempt, or whose destination is gone, are failed and
// only the rest are requeued. Failing runs first so a row is never requeued
// past its budget.
func (r *GormDeliveryRepo) RequeueStalled(ctx context.Context, staleBefore, now time.Time) (StalledResult, error) {
	var res StalledResult

	exhausted := r.stalledQuery(ctx, staleBefore).
		Where("attempt >= COALESCE((SELECT d.max_attempts FROM destinations d WHERE d.id = delivery_records.destination_id), 0)").
		Updates(map[string]any{
			"state":         domain.DeliveryFailed,
			"next_retry_at": nil,
			"error_message": StalledMessage,
		})
	if exhausted.Error != nil {
		return res, exhausted.Error
	}
	res.Exhausted = exhausted.RowsAffected

	requeued := r.stalledQuery(ctx, staleBefore).
		Updates(map[string]any{
			"state":         domain.DeliveryRetrying,
			"next_retry_at": now,
			"error_message": StalledMessage,
		})
	if requeued.Error != nil {
		return res, requeued.Error
	}
	res.Requeued = requeued.RowsAffected

	return res, nil
}

func (r *GormDeliveryRepo) stalledQuery(ctx context.Context, staleBefore time.Time) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&DeliveryRecordModel{}).
		Where("state = ? AND updated_at < ?", domain.DeliveryPending, staleBefore)
}

// MarkForManualRetry reopens a failed row so the next sweep picks it up.
func (r *GormDeliveryRepo) MarkForManualRetry(ctx context.Context, id string, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&DeliveryRecordModel{}).
		Where("id = ? AND state = ?", id, domain.DeliveryFailed).
		Updates(map[string]any{
			"state":         domain.DeliveryRetrying,
			"next_retry_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormDeliveryRepo) GetDispatchSummary(ctx context.Context, dispatchID string) ([]StateSummary, error) {
	var summaries []StateSummary
	err := r.db.WithContext(ctx).
		Model(&DeliveryRecordModel{}).
		Select("state, COUNT(*) as count").
		Where("dispatch_id = ?", dispatchID).
		Group("state").
		Scan(&summaries).Error
	if err != nil {
		return nil, err
	}
	return summaries, nil
}
