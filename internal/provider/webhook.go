package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
	"github.com/kursadbilgin/webhook-dispatcher/internal/signing"
)

const (
	maxRequestTimeout = time.Duration(domain.MaxTimeoutMs) * time.Millisecond
	defaultProduct    = "RetailPOS"

	HeaderEvent    = "X-Webhook-Event"
	HeaderTenant   = "X-Webhook-Tenant"
	HeaderBranch   = "X-Webhook-Branch"
	HeaderDelivery = "X-Webhook-Delivery"
)

// WebhookExecutor posts signed payloads to destination URLs.
type WebhookExecutor struct {
	client    *resty.Client
	userAgent string
	now       func() time.Time
}

func NewWebhookExecutor(product string) (*WebhookExecutor, error) {
	client := resty.New()
	client.SetTimeout(maxRequestTimeout)
	client.SetRetryCount(0)

	return NewWebhookExecutorWithClient(product, client)
}

func NewWebhookExecutorWithClient(product string, client *resty.Client) (*WebhookExecutor, error) {
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	product = strings.TrimSpace(product)
	if product == "" {
		product = defaultProduct
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(maxRequestTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookExecutor{
		client:    client,
		userAgent: UserAgent(product),
		now:       time.Now,
	}, nil
}

// UserAgent returns the fixed user-agent sent with every delivery.
func UserAgent(product string) string {
	return product + "-Webhook/1.0"
}

func (e *WebhookExecutor) Attempt(ctx context.Context, dest domain.Destination, req Request) Outcome {
	if e == nil || e.client == nil {
		return Outcome{Err: &DeliveryError{Kind: FailureRequest, Message: "executor is not initialized"}}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	body, err := req.Payload.Body()
	if err != nil {
		return Outcome{Err: &DeliveryError{Kind: FailureRequest, Message: "failed to encode payload", Cause: err}}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, dest.Timeout())
	defer cancel()

	start := e.now()
	response, err := e.client.R().
		SetContext(attemptCtx).
		SetHeaders(e.buildHeaders(dest, req)).
		SetBody(body).
		Post(dest.URL)
	duration := e.now().Sub(start)

	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return Outcome{Duration: duration, Err: &DeliveryError{Kind: FailureTimeout, Cause: err}}
		}
		return Outcome{Duration: duration, Err: classifyTransportError(err)}
	}
	if response == nil {
		return Outcome{Duration: duration, Err: &DeliveryError{Kind: FailureNetwork, Message: "webhook returned empty response"}}
	}

	statusCode := response.StatusCode()
	outcome := Outcome{
		ResponseStatus:  statusCode,
		ResponseBody:    domain.TruncateBody(response.String()),
		ResponseHeaders: flattenHeaders(response.Header()),
		Duration:        duration,
	}

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		outcome.Success = true
		return outcome
	}

	outcome.Err = &DeliveryError{
		Kind:       FailureHTTPStatus,
		StatusCode: statusCode,
		Message:    fmt.Sprintf("webhook returned status %d", statusCode),
	}
	return outcome
}

// buildHeaders merges destination headers over the fixed set. Content-Type
// is applied last so it always stays JSON.
func (e *WebhookExecutor) buildHeaders(dest domain.Destination, req Request) map[string]string {
	headers := map[string]string{
		"User-Agent": e.userAgent,
		HeaderEvent:  req.Payload.Event.String(),
		HeaderTenant: req.Payload.TenantID,
	}
	if req.Payload.BranchID != nil && *req.Payload.BranchID != "" {
		headers[HeaderBranch] = *req.Payload.BranchID
	}
	if req.DeliveryID != "" {
		headers[HeaderDelivery] = req.DeliveryID
	}
	if req.Payload.Signature != "" {
		headers[signing.HeaderName] = req.Payload.Signature
	}

	for name, value := range dest.Headers {
		headers[http.CanonicalHeaderKey(name)] = value
	}

	headers["Content-Type"] = "application/json"

	return headers
}

func flattenHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}

	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}
