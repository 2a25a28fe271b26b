package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
)

type DestinationService interface {
	Create(ctx context.Context, dest *domain.Destination) (*domain.Destination, error)
	Update(ctx context.Context, id string, changes *domain.Destination) (*domain.Destination, error)
	Get(ctx context.Context, id string) (*domain.Destination, error)
	List(ctx context.Context, tenantID string) ([]domain.Destination, error)
	Delete(ctx context.Context, id string) error
}

type DestinationHandler struct {
	service DestinationService
}

func NewDestinationHandler(service DestinationService) (*DestinationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("destination service is required")
	}
	return &DestinationHandler{service: service}, nil
}

func RegisterDestinationRoutes(router fiber.Router, service DestinationService) error {
	h, err := NewDestinationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/destinations", h.CreateDestination)
	v1.Get("/destinations", h.ListDestinations)
	v1.Get("/destinations/:id", h.GetDestination)
	v1.Put("/destinations/:id", h.UpdateDestination)
	v1.Delete("/destinations/:id", h.DeleteDestination)

	return nil
}

type destinationRequest struct {
	TenantID    string            `json:"tenantId"`
	BranchID    *string           `json:"branchId"`
	Event       string            `json:"event"`
	URL         string            `json:"url"`
	Secret      *string           `json:"secret"`
	Headers     map[string]string `json:"headers"`
	TimeoutMs   int               `json:"timeoutMs"`
	MaxAttempts int               `json:"maxAttempts"`
	Active      *bool             `json:"active"`
	Description string            `json:"description"`
}

// destinationResponse never carries the secret itself.
type destinationResponse struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenantId"`
	BranchID    *string           `json:"branchId,omitempty"`
	Event       string            `json:"event"`
	URL         string            `json:"url"`
	HasSecret   bool              `json:"hasSecret"`
	Headers     map[string]string `json:"headers,omitempty"`
	TimeoutMs   int               `json:"timeoutMs"`
	MaxAttempts int               `json:"maxAttempts"`
	Active      bool              `json:"active"`
	Description string            `json:"description,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

func (h *DestinationHandler) CreateDestination(c *fiber.Ctx) error {
	var req destinationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	dest, err := requestToDomainDestination(req)
	if err != nil {
		return toHTTPError(err)
	}

	created, err := h.service.Create(c.Context(), &dest)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toDestinationResponse(created))
}

func (h *DestinationHandler) ListDestinations(c *fiber.Ctx) error {
	tenantID := strings.TrimSpace(c.Query("tenantId"))
	if tenantID == "" {
		return toHTTPError(fmt.Errorf("%w: tenantId is required", domain.ErrValidation))
	}

	destinations, err := h.service.List(c.Context(), tenantID)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]destinationResponse, 0, len(destinations))
	for i := range destinations {
		data = append(data, toDestinationResponse(&destinations[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *DestinationHandler) GetDestination(c *fiber.Ctx) error {
	dest, err := h.service.Get(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toDestinationResponse(dest))
}

func (h *DestinationHandler) UpdateDestination(c *fiber.Ctx) error {
	var req destinationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	changes, err := requestToDomainDestination(req)
	if err != nil {
		return toHTTPError(err)
	}

	updated, err := h.service.Update(c.Context(), strings.TrimSpace(c.Params("id")), &changes)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toDestinationResponse(updated))
}

func (h *DestinationHandler) DeleteDestination(c *fiber.Ctx) error {
	if err := h.service.Delete(c.Context(), strings.TrimSpace(c.Params("id"))); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func requestToDomainDestination(req destinationRequest) (domain.Destination, error) {
	event, err := domain.ParseEventFromString(req.Event)
	if err != nil {
		return domain.Destination{}, err
	}

	dest := domain.Destination{
		TenantID:    req.TenantID,
		BranchID:    req.BranchID,
		Event:       event,
		URL:         req.URL,
		Secret:      req.Secret,
		Headers:     req.Headers,
		TimeoutMs:   req.TimeoutMs,
		MaxAttempts: req.MaxAttempts,
		Active:      true,
		Description: req.Description,
	}
	if req.Active != nil {
		dest.Active = *req.Active
	}
	return dest, nil
}

func toDestinationResponse(d *domain.Destination) destinationResponse {
	if d == nil {
		return destinationResponse{}
	}

	return destinationResponse{
		ID:          d.ID,
		TenantID:    d.TenantID,
		BranchID:    d.BranchID,
		Event:       d.Event.String(),
		URL:         d.URL,
		HasSecret:   d.HasSecret(),
		Headers:     d.Headers,
		TimeoutMs:   d.TimeoutMs,
		MaxAttempts: d.MaxAttempts,
		Active:      d.Active,
		Description: d.Description,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}
