package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
	"github.com/kursadbilgin/webhook-dispatcher/internal/queue"
	"go.uber.org/zap"
)

// EventIntake accepts business events over HTTP and queues them for the
// event workers, so the caller never waits on webhook delivery.
type EventIntake struct {
	publisher queue.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

type SubmitEventInput struct {
	Event       string
	TenantID    string
	BranchID    *string
	TriggeredBy *string
	Data        json.RawMessage
}

func NewEventIntake(publisher queue.Publisher, logger *zap.Logger) (*EventIntake, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EventIntake{
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Submit validates and enqueues one event, returning the message id.
func (s *EventIntake) Submit(ctx context.Context, in SubmitEventInput) (string, error) {
	event, err := domain.ParseEventFromString(in.Event)
	if err != nil {
		return "", err
	}
	tenantID := strings.TrimSpace(in.TenantID)
	if tenantID == "" {
		return "", fmt.Errorf("%w: tenantId is required", domain.ErrValidation)
	}
	if len(in.Data) > 0 && !json.Valid(in.Data) {
		return "", fmt.Errorf("%w: data must be valid JSON", domain.ErrValidation)
	}

	msg := queue.EventMessage{
		MessageID:   uuid.NewString(),
		Event:       event,
		TenantID:    tenantID,
		BranchID:    normalizeOptionalString(in.BranchID),
		TriggeredBy: normalizeOptionalString(in.TriggeredBy),
		Data:        in.Data,
		FiredAt:     s.now().UTC(),
	}

	if err := s.publisher.Publish(ctx, queue.EventsQueue, msg); err != nil {
		return "", fmt.Errorf("failed to enqueue event: %w", err)
	}

	s.logger.Debug("event queued",
		zap.String("messageId", msg.MessageID),
		zap.String("event", event.String()),
		zap.String("tenantId", tenantID),
	)
	return msg.MessageID, nil
}
