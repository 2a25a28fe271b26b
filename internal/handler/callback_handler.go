package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
	"github.com/kursadbilgin/webhook-dispatcher/internal/signing"
	"go.uber.org/zap"
)

// DestinationLookup resolves the secret an inbound callback is signed with.
type DestinationLookup interface {
	Get(ctx context.Context, id string) (*domain.Destination, error)
}

// CallbackHandler verifies signed requests that receivers send back to us.
type CallbackHandler struct {
	destinations DestinationLookup
	logger       *zap.Logger
}

func NewCallbackHandler(destinations DestinationLookup, logger *zap.Logger) (*CallbackHandler, error) {
	if destinations == nil {
		return nil, fmt.Errorf("destination lookup is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallbackHandler{destinations: destinations, logger: logger}, nil
}

func RegisterCallbackRoutes(router fiber.Router, destinations DestinationLookup, logger *zap.Logger) error {
	h, err := NewCallbackHandler(destinations, logger)
	if err != nil {
		return err
	}

	router.Group("/v1").Post("/callbacks/:destinationId", h.VerifyCallback)
	return nil
}

func (h *CallbackHandler) VerifyCallback(c *fiber.Ctx) error {
	destinationID := strings.TrimSpace(c.Params("destinationId"))
	dest, err := h.destinations.Get(c.Context(), destinationID)
	if err != nil {
		return toHTTPError(err)
	}

	if !signing.Verify(c.Body(), c.Get(signing.HeaderName), secretOf(dest)) {
		h.logger.Warn("rejected callback with invalid signature", zap.String("destinationId", destinationID))
		return fiber.NewError(fiber.StatusUnauthorized, "invalid signature")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func secretOf(d *domain.Destination) string {
	if !d.HasSecret() {
		return ""
	}
	return *d.Secret
}
