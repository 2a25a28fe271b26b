package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// FailureKind classifies why a delivery attempt failed.
type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureNetwork     FailureKind = "network"
	FailureHTTPStatus  FailureKind = "http_status"
	FailureCircuitOpen FailureKind = "circuit_open"
	FailureRequest     FailureKind = "request"
)

// DeliveryError describes a failed attempt. Every kind is eligible for retry;
// the kind only feeds the stored error message and metrics.
type DeliveryError struct {
	Kind       FailureKind
	StatusCode int
	Message    string
	Cause      error
}

func (e *DeliveryError) Error() string {
	if e == nil {
		return "<nil>"
	}

	switch e.Kind {
	case FailureTimeout:
		return "timeout"
	case FailureCircuitOpen:
		return "circuit open"
	}

	parts := make([]string, 0, 3)
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.StatusCode > 0 && e.Kind != FailureHTTPStatus {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	if len(parts) == 0 {
		return "delivery failed"
	}

	return strings.Join(parts, ": ")
}

func (e *DeliveryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// FailureReason returns a metrics-friendly label for err.
func FailureReason(err error) string {
	if err == nil {
		return ""
	}

	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) && deliveryErr.Kind != "" {
		return string(deliveryErr.Kind)
	}
	if isTimeout(err) {
		return string(FailureTimeout)
	}
	return string(FailureNetwork)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

func classifyTransportError(err error) *DeliveryError {
	if isTimeout(err) {
		return &DeliveryError{Kind: FailureTimeout, Cause: err}
	}
	return &DeliveryError{
		Kind:    FailureNetwork,
		Message: "webhook request failed",
		Cause:   err,
	}
}
