package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
	"github.com/kursadbilgin/webhook-dispatcher/internal/repository"
	"go.uber.org/zap"
)

type DestinationService struct {
	destinations repository.DestinationRepository
	logger       *zap.Logger
	now          func() time.Time
}

func NewDestinationService(destinations repository.DestinationRepository, logger *zap.Logger) (*DestinationService, error) {
	if destinations == nil {
		return nil, fmt.Errorf("destination repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DestinationService{
		destinations: destinations,
		logger:       logger,
		now:          time.Now,
	}, nil
}

func (s *DestinationService) Create(ctx context.Context, dest *domain.Destination) (*domain.Destination, error) {
	if dest == nil {
		return nil, fmt.Errorf("%w: destination is required", domain.ErrValidation)
	}

	dest.ID = uuid.NewString()
	normalizeDestination(dest)
	if err := dest.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	dest.CreatedAt = now
	dest.UpdatedAt = now

	if err := s.destinations.Create(ctx, dest); err != nil {
		return nil, fmt.Errorf("failed to create destination: %w", err)
	}

	s.logger.Info("webhook destination created",
		zap.String("destinationId", dest.ID),
		zap.String("tenantId", dest.TenantID),
		zap.String("event", dest.Event.String()),
	)
	return dest, nil
}

// Update replaces the mutable fields of a destination. Tenant and id never
// change. An omitted secret keeps the stored one and an empty one clears it.
// Retries pick the new configuration up on their next attempt.
func (s *DestinationService) Update(ctx context.Context, id string, changes *domain.Destination) (*domain.Destination, error) {
	if changes == nil {
		return nil, fmt.Errorf("%w: destination is required", domain.ErrValidation)
	}

	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	changes.ID = existing.ID
	changes.TenantID = existing.TenantID
	changes.CreatedAt = existing.CreatedAt
	if changes.Secret == nil {
		changes.Secret = existing.Secret
	}
	normalizeDestination(changes)
	if err := changes.Validate(); err != nil {
		return nil, err
	}
	changes.UpdatedAt = s.now().UTC()

	if err := s.destinations.Update(ctx, changes); err != nil {
		return nil, err
	}
	return changes, nil
}

func (s *DestinationService) Get(ctx context.Context, id string) (*domain.Destination, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: destination id is required", domain.ErrValidation)
	}
	return s.destinations.GetByID(ctx, strings.TrimSpace(id))
}

func (s *DestinationService) List(ctx context.Context, tenantID string) ([]domain.Destination, error) {
	return s.destinations.List(ctx, strings.TrimSpace(tenantID))
}

func (s *DestinationService) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: destination id is required", domain.ErrValidation)
	}
	return s.destinations.Delete(ctx, strings.TrimSpace(id))
}

func normalizeDestination(d *domain.Destination) {
	d.TenantID = strings.TrimSpace(d.TenantID)
	d.URL = strings.TrimSpace(d.URL)
	d.Description = strings.TrimSpace(d.Description)
	d.BranchID = normalizeOptionalString(d.BranchID)
	d.ApplyDefaults()
}
