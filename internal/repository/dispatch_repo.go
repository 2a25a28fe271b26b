package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
	"gorm.io/gorm"
)

type DispatchRepository interface {
	Create(ctx context.Context, d *domain.Dispatch) error
	GetByID(ctx context.Context, id string) (*domain.Dispatch, error)
	UpdateStatus(ctx context.Context, id string, status domain.DispatchStatus) error
}

type GormDispatchRepo struct {
	db *gorm.DB
}

func NewGormDispatchRepo(db *gorm.DB) *GormDispatchRepo {
	return &GormDispatchRepo{db: db}
}

func (r *GormDispatchRepo) Create(ctx context.Context, d *domain.Dispatch) error {
	model := dispatchModelFromDomain(d)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if d != nil {
		*d = *dispatchModelToDomain(model)
	}
	return nil
}

func (r *GormDispatchRepo) GetByID(ctx context.Context, id string) (*domain.Dispatch, error) {
	var model DispatchModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return dispatchModelToDomain(&model), nil
}

func (r *GormDispatchRepo) UpdateStatus(ctx context.Context, id string, status domain.DispatchStatus) error {
	result := r.db.WithContext(ctx).
		Model(&DispatchModel{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
