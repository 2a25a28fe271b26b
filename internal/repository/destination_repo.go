package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
	"gorm.io/gorm"
)

type DestinationRepository interface {
	Create(ctx context.Context, d *domain.Destination) error
	Update(ctx context.Context, d *domain.Destination) error
	GetByID(ctx context.Context, id string) (*domain.Destination, error)
	List(ctx context.Context, tenantID string) ([]domain.Destination, error)
	Delete(ctx context.Context, id string) error
	Resolve(ctx context.Context, event domain.Event, tenantID string, branchID *string) ([]domain.Destination, error)
}

type GormDestinationRepo struct {
	db *gorm.DB
}

func NewGormDestinationRepo(db *gorm.DB) *GormDestinationRepo {
	return &GormDestinationRepo{db: db}
}

func (r *GormDestinationRepo) Create(ctx context.Context, d *domain.Destination) error {
	model := destinationModelFromDomain(d)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if d != nil {
		*d = *destinationModelToDomain(model)
	}
	return nil
}

func (r *GormDestinationRepo) Update(ctx context.Context, d *domain.Destination) error {
	if d == nil {
		return domain.ErrNotFound
	}

	model := destinationModelFromDomain(d)
	result := r.db.WithContext(ctx).
		Model(&DestinationModel{}).
		Where("id = ?", d.ID).
		Select("branch_id", "event", "url", "secret", "headers", "timeout_ms", "max_attempts", "active", "description", "updated_at").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormDestinationRepo) GetByID(ctx context.Context, id string) (*domain.Destination, error) {
	var model DestinationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return destinationModelToDomain(&model), nil
}

func (r *GormDestinationRepo) List(ctx context.Context, tenantID string) ([]domain.Destination, error) {
	query := r.db.WithContext(ctx).Model(&DestinationModel{})
	if tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}

	var models []DestinationModel
	if err := query.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	destinations := make([]domain.Destination, 0, len(models))
	for i := range models {
		destinations = append(destinations, *destinationModelToDomain(&models[i]))
	}
	return destinations, nil
}

func (r *GormDestinationRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&DestinationModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Resolve returns the active destinations subscribed to event for the tenant.
// Tenant-wide destinations (no branch) match every branch; branch-scoped ones
// match only their own branch.
func (r *GormDestinationRepo) Resolve(ctx context.Context, event domain.Event, tenantID string, branchID *string) ([]domain.Destination, error) {
	var models []DestinationModel
	if err := r.resolveQuery(ctx, event, tenantID, branchID).Find(&models).Error; err != nil {
		return nil, err
	}

	destinations := make([]domain.Destination, 0, len(models))
	for i := range models {
		destinations = append(destinations, *destinationModelToDomain(&models[i]))
	}
	return destinations, nil
}

func (r *GormDestinationRepo) resolveQuery(ctx context.Context, event domain.Event, tenantID string, branchID *string) *gorm.DB {
	query := r.db.WithContext(ctx).
		Where("active = ? AND event = ? AND tenant_id = ?", true, event, tenantID)
	if branchID != nil && *branchID != "" {
		query = query.Where("(branch_id IS NULL OR branch_id = ?)", *branchID)
	} else {
		query = query.Where("branch_id IS NULL")
	}
	return query.Order("created_at ASC")
}
