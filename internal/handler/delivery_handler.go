package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
	"github.com/kursadbilgin/webhook-dispatcher/internal/repository"
	"github.com/kursadbilgin/webhook-dispatcher/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type LedgerService interface {
	GetDelivery(ctx context.Context, id string) (*service.DeliveryDetail, error)
	ListDeliveries(ctx context.Context, params repository.ListParams) ([]domain.DeliveryRecord, int64, error)
	RetryDelivery(ctx context.Context, id string) error
	GetDispatchSummary(ctx context.Context, dispatchID string) (*service.DispatchSummaryView, error)
}

type DeliveryHandler struct {
	ledger LedgerService
}

func NewDeliveryHandler(ledger LedgerService) (*DeliveryHandler, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger service is required")
	}
	return &DeliveryHandler{ledger: ledger}, nil
}

func RegisterDeliveryRoutes(router fiber.Router, ledger LedgerService) error {
	h, err := NewDeliveryHandler(ledger)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/deliveries", h.ListDeliveries)
	v1.Get("/deliveries/:id", h.GetDelivery)
	v1.Post("/deliveries/:id/retry", h.RetryDelivery)
	v1.Get("/dispatches/:id", h.GetDispatch)

	return nil
}

type deliveryResponse struct {
	ID              string            `json:"id"`
	DispatchID      string            `json:"dispatchId"`
	DestinationID   string            `json:"destinationId"`
	TenantID        string            `json:"tenantId"`
	BranchID        *string           `json:"branchId,omitempty"`
	Event           string            `json:"event"`
	Payload         json.RawMessage   `json:"payload,omitempty"`
	Attempt         int               `json:"attempt"`
	State           string            `json:"state"`
	ResponseStatus  *int              `json:"responseStatus,omitempty"`
	ResponseBody    *string           `json:"responseBody,omitempty"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	DurationMs      *int64            `json:"durationMs,omitempty"`
	ErrorMessage    *string           `json:"errorMessage,omitempty"`
	NextRetryAt     *time.Time        `json:"nextRetryAt,omitempty"`
	TriggeredBy     *string           `json:"triggeredBy,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

type attemptResponse struct {
	AttemptNumber  int       `json:"attemptNumber"`
	ResponseStatus *int      `json:"responseStatus,omitempty"`
	ResponseBody   *string   `json:"responseBody,omitempty"`
	DurationMs     int64     `json:"durationMs"`
	ErrorMessage   *string   `json:"errorMessage,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type deliveryDetailResponse struct {
	deliveryResponse
	Attempts []attemptResponse `json:"attempts"`
}

type listDeliveriesResponse struct {
	Data []deliveryResponse `json:"data"`
	Meta listMeta           `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type dispatchSummaryResponse struct {
	DispatchID       string           `json:"dispatchId"`
	TenantID         string           `json:"tenantId"`
	BranchID         *string          `json:"branchId,omitempty"`
	Event            string           `json:"event"`
	Status           string           `json:"status"`
	DestinationCount int              `json:"destinationCount"`
	CreatedAt        time.Time        `json:"createdAt"`
	Counts           []stateCountItem `json:"counts"`
}

type stateCountItem struct {
	State string `json:"state"`
	Count int    `json:"count"`
}

func (h *DeliveryHandler) ListDeliveries(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	records, total, err := h.ledger.ListDeliveries(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]deliveryResponse, 0, len(records))
	for i := range records {
		data = append(data, toDeliveryResponse(&records[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listDeliveriesResponse{
		Data: data,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *DeliveryHandler) GetDelivery(c *fiber.Ctx) error {
	detail, err := h.ledger.GetDelivery(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	attempts := make([]attemptResponse, 0, len(detail.Attempts))
	for _, a := range detail.Attempts {
		attempts = append(attempts, attemptResponse{
			AttemptNumber:  a.AttemptNumber,
			ResponseStatus: a.ResponseStatus,
			ResponseBody:   a.ResponseBody,
			DurationMs:     a.DurationMs,
			ErrorMessage:   a.ErrorMessage,
			CreatedAt:      a.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(deliveryDetailResponse{
		deliveryResponse: toDeliveryResponse(&detail.Record),
		Attempts:         attempts,
	})
}

func (h *DeliveryHandler) RetryDelivery(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.ledger.RetryDelivery(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"deliveryId": id,
		"state":      domain.DeliveryRetrying.String(),
	})
}

func (h *DeliveryHandler) GetDispatch(c *fiber.Ctx) error {
	view, err := h.ledger.GetDispatchSummary(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	counts := make([]stateCountItem, 0, len(view.Counts))
	for _, count := range view.Counts {
		counts = append(counts, stateCountItem{State: count.State.String(), Count: count.Count})
	}

	return c.Status(fiber.StatusOK).JSON(dispatchSummaryResponse{
		DispatchID:       view.Dispatch.ID,
		TenantID:         view.Dispatch.TenantID,
		BranchID:         view.Dispatch.BranchID,
		Event:            view.Dispatch.Event.String(),
		Status:           view.Dispatch.Status.String(),
		DestinationCount: view.Dispatch.DestinationCount,
		CreatedAt:        view.Dispatch.CreatedAt,
		Counts:           counts,
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if tenantID := strings.TrimSpace(c.Query("tenantId")); tenantID != "" {
		params.TenantID = &tenantID
	}

	if rawState := strings.TrimSpace(c.Query("state")); rawState != "" {
		state, err := domain.ParseDeliveryStateFromString(rawState)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.State = &state
	}

	if rawEvent := strings.TrimSpace(c.Query("event")); rawEvent != "" {
		event, err := domain.ParseEventFromString(rawEvent)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Event = &event
	}

	return params, nil
}

func toDeliveryResponse(r *domain.DeliveryRecord) deliveryResponse {
	if r == nil {
		return deliveryResponse{}
	}

	resp := deliveryResponse{
		ID:              r.ID,
		DispatchID:      r.DispatchID,
		DestinationID:   r.DestinationID,
		TenantID:        r.TenantID,
		BranchID:        r.BranchID,
		Event:           r.Event.String(),
		Attempt:         r.Attempt,
		State:           r.State.String(),
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
	if len(r.Payload) > 0 {
		resp.Payload = json.RawMessage(r.Payload)
	}
	return resp
}
