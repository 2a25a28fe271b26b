package repository

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
)

// DestinationModel is the persistence model for the destinations table.
type DestinationModel struct {
	ID          string            `gorm:"type:uuid;primaryKey"`
	TenantID    string            `gorm:"type:varchar(64);not null"`
	BranchID    *string           `gorm:"type:varchar(64)"`
	Event       domain.Event      `gorm:"type:varchar(64);not null"`
	URL         string            `gorm:"type:text;not null"`
	Secret      *string           `gorm:"type:varchar(255)"`
	Headers     map[string]string `gorm:"type:jsonb;serializer:json"`
	TimeoutMs   int               `gorm:"not null;default:30000"`
	MaxAttempts int               `gorm:"not null;default:3"`
	Active      bool              `gorm:"not null;default:true"`
	Description string            `gorm:"type:varchar(255)"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (DestinationModel) TableName() string {
	return "destinations"
}

// DispatchModel is the persistence model for dispatches (one row per firing).
type DispatchModel struct {
	ID               string                `gorm:"type:uuid;primaryKey"`
	TenantID         string                `gorm:"type:varchar(64);not null"`
	BranchID         *string               `gorm:"type:varchar(64)"`
	Event            domain.Event          `gorm:"type:varchar(64);not null"`
	DestinationCount int                   `gorm:"not null;default:0"`
	Status           domain.DispatchStatus `gorm:"type:varchar(20);not null"`
	TriggeredBy      *string               `gorm:"type:varchar(255)"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (DispatchModel) TableName() string {
	return "dispatches"
}

// DeliveryRecordModel is the persistence model for delivery_records.
type DeliveryRecordModel struct {
	ID              string               `gorm:"type:uuid;primaryKey"`
	DispatchID      string               `gorm:"type:uuid;not null"`
	DestinationID   string               `gorm:"type:uuid;not null"`
	TenantID        string               `gorm:"type:varchar(64);not null"`
	BranchID        *string              `gorm:"type:varchar(64)"`
	Event           domain.Event         `gorm:"type:varchar(64);not null"`
	Payload         []byte               `gorm:"type:jsonb;not null"`
	Attempt         int                  `gorm:"not null;default:1"`
	State           domain.DeliveryState `gorm:"type:varchar(20);not null"`
	ResponseStatus  *int                 `gorm:"type:int"`
	ResponseBody    *string              `gorm:"type:text"`
	ResponseHeaders map[string]string    `gorm:"type:jsonb;serializer:json"`
	DurationMs      *int64
	ErrorMessage    *string `gorm:"type:text"`
	NextRetryAt     *time.Time
	TriggeredBy     *string `gorm:"type:varchar(255)"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (DeliveryRecordModel) TableName() string {
	return "delivery_records"
}

// DeliveryAttemptModel is the persistence model for delivery_attempts.
type DeliveryAttemptModel struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	DeliveryID     string  `gorm:"type:uuid;not null"`
	AttemptNumber  int     `gorm:"not null"`
	ResponseStatus *int    `gorm:"type:int"`
	ResponseBody   *string `gorm:"type:text"`
	DurationMs     int64   `gorm:"not null;default:0"`
	ErrorMessage   *string `gorm:"type:text"`
	CreatedAt      time.Time
}

func (DeliveryAttemptModel) TableName() string {
	return "delivery_attempts"
}

func destinationModelFromDomain(d *domain.Destination) *DestinationModel {
	if d == nil {
		return nil
	}

	return &DestinationModel{
		ID:          d.ID,
		TenantID:    d.TenantID,
		BranchID:    d.BranchID,
		Event:       d.Event,
		URL:         d.URL,
		Secret:      d.Secret,
		Headers:     d.Headers,
		TimeoutMs:   d.TimeoutMs,
		MaxAttempts: d.MaxAttempts,
		Active:      d.Active,
		Description: d.Description,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func destinationModelToDomain(m *DestinationModel) *domain.Destination {
	if m == nil {
		return nil
	}

	return &domain.Destination{
		ID:          m.ID,
		TenantID:    m.TenantID,
		BranchID:    m.BranchID,
		Event:       m.Event,
		URL:         m.URL,
		Secret:      m.Secret,
		Headers:     m.Headers,
		TimeoutMs:   m.TimeoutMs,
		MaxAttempts: m.MaxAttempts,
		Active:      m.Active,
		Description: m.Description,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func dispatchModelFromDomain(d *domain.Dispatch) *DispatchModel {
	if d == nil {
		return nil
	}

	return &DispatchModel{
		ID:               d.ID,
		TenantID:         d.TenantID,
		BranchID:         d.BranchID,
		Event:            d.Event,
		DestinationCount: d.DestinationCount,
		Status:           d.Status,
		TriggeredBy:      d.TriggeredBy,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

func dispatchModelToDomain(m *DispatchModel) *domain.Dispatch {
	if m == nil {
		return nil
	}

	return &domain.Dispatch{
		ID:               m.ID,
		TenantID:         m.TenantID,
		BranchID:         m.BranchID,
		Event:            m.Event,
		DestinationCount: m.DestinationCount,
		Status:           m.Status,
		TriggeredBy:      m.TriggeredBy,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func deliveryModelFromDomain(r *domain.DeliveryRecord) *DeliveryRecordModel {
	if r == nil {
		return nil
	}

	return &DeliveryRecordModel{
		ID:              r.ID,
		DispatchID:      r.DispatchID,
		DestinationID:   r.DestinationID,
		TenantID:        r.TenantID,
		BranchID:        r.BranchID,
		Event:           r.Event,
		Payload:         r.Payload,
		Attempt:         r.Attempt,
		State:           r.State,
		ResponseStatus:  r.ResponseStatus,
		ResponseBody:    r.ResponseBody,
		ResponseHeaders: r.ResponseHeaders,
		DurationMs:      r.DurationMs,
		ErrorMessage:    r.ErrorMessage,
		NextRetryAt:     r.NextRetryAt,
		TriggeredBy:     r.TriggeredBy,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func deliveryModelToDomain(m *DeliveryRecordModel) *domain.DeliveryRecord {
	if m == nil {
		return nil
	}

	return &domain.DeliveryRecord{
		ID:              m.ID,
		DispatchID:      m.DispatchID,
		DestinationID:   m.DestinationID,
		TenantID:        m.TenantID,
		BranchID:        m.BranchID,
		Event:           m.Event,
		Payload:         m.Payload,
		Attempt:         m.Attempt,
		State:           m.State,
		ResponseStatus:  m.ResponseStatus,
		ResponseBody:    m.ResponseBody,
		ResponseHeaders: m.ResponseHeaders,
		DurationMs:      m.DurationMs,
		ErrorMessage:    m.ErrorMessage,
		NextRetryAt:     m.NextRetryAt,
		TriggeredBy:     m.TriggeredBy,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}

	return &DeliveryAttemptModel{
		ID:             a.ID,
		DeliveryID:     a.DeliveryID,
		AttemptNumber:  a.AttemptNumber,
		ResponseStatus: a.ResponseStatus,
		ResponseBody:   a.ResponseBody,
		DurationMs:     a.DurationMs,
		ErrorMessage:   a.ErrorMessage,
		CreatedAt:      a.CreatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:             m.ID,
		DeliveryID:     m.DeliveryID,
		AttemptNumber:  m.AttemptNumber,
		ResponseStatus: m.ResponseStatus,
		ResponseBody:   m.ResponseBody,
		DurationMs:     m.DurationMs,
		ErrorMessage:   m.ErrorMessage,
		CreatedAt:      m.CreatedAt,
	}
}

// headersJSON encodes a header map for column updates that bypass the model
// serializer.
func headersJSON(h map[string]string) string {
	if len(h) == 0 {
		return "null"
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return "null"
	}
	return string(raw)
}
