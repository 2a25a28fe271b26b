package handler

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/webhook-dispatcher/internal/service"
)

type EventIntake interface {
	Submit(ctx context.Context, in service.SubmitEventInput) (string, error)
}

type EventHandler struct {
	intake EventIntake
}

func NewEventHandler(intake EventIntake) (*EventHandler, error) {
	if intake == nil {
		return nil, fmt.Errorf("event intake is required")
	}
	return &EventHandler{intake: intake}, nil
}

func RegisterEventRoutes(router fiber.Router, intake EventIntake) error {
	h, err := NewEventHandler(intake)
	if err != nil {
		return err
	}

	router.Group("/v1").Post("/events", h.SubmitEvent)
	return nil
}

type submitEventRequest struct {
	Event       string          `json:"event"`
	TenantID    string          `json:"tenantId"`
	BranchID    *string         `json:"branchId"`
	TriggeredBy *string         `json:"triggeredBy"`
	Data        json.RawMessage `json:"data"`
}

func (h *EventHandler) SubmitEvent(c *fiber.Ctx) error {
	var req submitEventRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	messageID, err := h.intake.Submit(c.Context(), service.SubmitEventInput{
		Event:       req.Event,
		TenantID:    req.TenantID,
		BranchID:    req.BranchID,
		TriggeredBy: req.TriggeredBy,
		Data:        req.Data,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"messageId": messageID,
		"status":    "queued",
	})
}
