package provider

import (
	"context"
	"time"

	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
)

// Request is one delivery attempt: the payload is already signed for the
// destination it is sent to.
type Request struct {
	DeliveryID string
	Payload    domain.Payload
}

// Outcome captures what happened during one attempt. Executors never return
// errors; failures are described by Err.
type Outcome struct {
	Success         bool
	ResponseStatus  int
	ResponseBody    string
	ResponseHeaders map[string]string
	Duration        time.Duration
	Err             error
}

// ErrorMessage returns the stored error text, empty on success.
func (o Outcome) ErrorMessage() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Executor performs a single delivery attempt against a destination.
type Executor interface {
	Attempt(ctx context.Context, dest domain.Destination, req Request) Outcome
}
