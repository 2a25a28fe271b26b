package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/webhook-dispatcher/internal/domain"
	"github.com/kursadbilgin/webhook-dispatcher/internal/repository"
	"github.com/kursadbilgin/webhook-dispatcher/internal/service"
	"github.com/kursadbilgin/webhook-dispatcher/internal/signing"
	"github.com/kursadbilgin/webhook-dispatcher/internal/transport"
	"go.uber.org/zap"
)

func TestDestinationIntegration_CreateNeverReturnsSecret(t *testing.T) {
	t.Parallel()

	svc := &stubDestinationService{
		createFn: func(ctx context.Context, dest *domain.Destination) (*domain.Destination, error) {
			if dest.Event != domain.EventLowStockAlert {
				t.Errorf("event = %s, want low_stock_alert", dest.Event)
			}
			if !dest.Active {
				t.Error("active should default to true")
			}
			if dest.Secret == nil || *dest.Secret != "s3cr3t" {
				t.Error("secret should reach the service")
			}
			dest.ID = "dest-1"
			return dest, nil
		},
	}
	app := newTestApp(t, func(app *fiber.App) error { return RegisterDestinationRoutes(app, svc) })

	body := `{"tenantId":"t1","event":"low-stock-alert","url":"https://x.example/hook","secret":"s3cr3t","maxAttempts":3,"timeoutMs":2000}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/destinations", body)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, respBody)
	}
	if strings.Contains(string(respBody), "s3cr3t") {
		t.Fatalf("response leaks secret: %s", respBody)
	}

	var parsed map[string]any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["id"] != "dest-1" || parsed["hasSecret"] != true {
		t.Fatalf("response = %v", parsed)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/destinations", `{"tenantId":"t1","event":"stock-fell","url":"https://x.example"}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown event", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/destinations", `{"tenantId":`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed body", resp.StatusCode)
	}
}

func TestDestinationIntegration_GetUpdateDelete(t *testing.T) {
	t.Parallel()

	secret := "s3cr3t"
	stored := domain.Destination{
		ID:          "dest-1",
		TenantID:    "t1",
		Event:       domain.EventLowStockAlert,
		URL:         "https://x.example/hook",
		Secret:      &secret,
		TimeoutMs:   2000,
		MaxAttempts: 3,
		Active:      true,
	}

	svc := &stubDestinationService{
		getFn: func(ctx context.Context, id string) (*domain.Destination, error) {
			if id != stored.ID {
				return nil, domain.ErrNotFound
			}
			d := stored
			return &d, nil
		},
		updateFn: func(ctx context.Context, id string, changes *domain.Destination) (*domain.Destination, error) {
			if id != stored.ID {
				return nil, domain.ErrNotFound
			}
			if changes.Active {
				t.Error("active=false should be passed through")
			}
			changes.ID = id
			return changes, nil
		},
		deleteFn: func(ctx context.Context, id string) error {
			if id != stored.ID {
				return domain.ErrNotFound
			}
			return nil
		},
		listFn: func(ctx context.Context, tenantID string) ([]domain.Destination, error) {
			return []domain.Destination{stored}, nil
		},
	}
	app := newTestApp(t, func(app *fiber.App) error { return RegisterDestinationRoutes(app, svc) })

	resp, body := performRequest(t, app, http.MethodGet, "/v1/destinations/dest-1", "")
	if resp.StatusCode != fiber.StatusOK || strings.Contains(string(body), secret) {
		t.Fatalf("GET status = %d, body=%s", resp.StatusCode, body)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/destinations/missing", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	resp, body = performRequest(t, app, http.MethodPut, "/v1/destinations/dest-1", `{"event":"low_stock_alert","url":"https://y.example","active":false}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("PUT status = %d, body=%s", resp.StatusCode, body)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/destinations", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("list without tenant status = %d, want 400", resp.StatusCode)
	}
	resp, body = performRequest(t, app, http.MethodGet, "/v1/destinations?tenantId=t1", "")
	if resp.StatusCode != fiber.StatusOK || strings.Contains(string(body), secret) {
		t.Fatalf("list status = %d, body=%s", resp.StatusCode, body)
	}

	resp, _ = performRequest(t, app, http.MethodDelete, "/v1/destinations/dest-1", "")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204", resp.StatusCode)
	}
	resp, _ = performRequest(t, app, http.MethodDelete, "/v1/destinations/missing", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("DELETE missing status = %d, want 404", resp.StatusCode)
	}
}

func TestEventIntegration_SubmitEvent(t *testing.T) {
	t.Parallel()

	var got service.SubmitEventInput
	intake := &stubEventIntake{
		submitFn: func(ctx context.Context, in service.SubmitEventInput) (string, error) {
			if in.TenantID == "" {
				return "", fmt.Errorf("%w: tenantId is required", domain.ErrValidation)
			}
			got = in
			return "msg-1", nil
		},
	}
	app := newTestApp(t, func(app *fiber.App) error { return RegisterEventRoutes(app, intake) })

	resp, body := performRequest(t, app, http.MethodPost, "/v1/events", `{"event":"order_completed","tenantId":"t1","branchId":"B1","data":{"orderId":"O1"}}`)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, body)
	}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["messageId"] != "msg-1" {
		t.Fatalf("messageId = %v, want msg-1", parsed["messageId"])
	}
	if got.BranchID == nil || *got.BranchID != "B1" {
		t.Fatalf("BranchID = %v, want B1", got.BranchID)
	}
	if string(got.Data) != `{"orderId":"O1"}` {
		t.Fatalf("Data = %s", got.Data)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/events", `{"event":"order_completed"}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDeliveryIntegration_ListPaginationAndFilters(t *testing.T) {
	t.Parallel()

	next := time.Date(2026, 3, 1, 10, 0, 2, 0, time.UTC)
	status := 500
	ledger := &stubLedgerService{
		listFn: func(ctx context.Context, params repository.ListParams) ([]domain.DeliveryRecord, int64, error) {
			if params.Page != 2 || params.PageSize != 10 {
				t.Errorf("pagination = %d/%d, want 2/10", params.Page, params.PageSize)
			}
			if params.TenantID == nil || *params.TenantID != "t1" {
				t.Errorf("TenantID = %v, want t1", params.TenantID)
			}
			if params.State == nil || *params.State != domain.DeliveryRetrying {
				t.Errorf("State = %v, want retrying", params.State)
			}
			if params.Event == nil || *params.Event != domain.EventLowStockAlert {
				t.Errorf("Event = %v, want low_stock_alert", params.Event)
			}
			return []domain.DeliveryRecord{{
				ID:             "rec-1",
				DispatchID:     "disp-1",
				DestinationID:  "dest-1",
				TenantID:       "t1",
				Event:          domain.EventLowStockAlert,
				Payload:        []byte(`{"event":"low_stock_alert"}`),
				Attempt:        1,
				State:          domain.DeliveryRetrying,
				ResponseStatus: &status,
				NextRetryAt:    &next,
			}}, 11, nil
		},
	}
	app := newTestApp(t, func(app *fiber.App) error { return RegisterDeliveryRoutes(app, ledger) })

	resp, body := performRequest(t, app, http.MethodGet, "/v1/deliveries?tenantId=t1&state=retrying&event=low_stock_alert&page=2&pageSize=10", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, body)
	}

	var parsed struct {
		Data []map[string]any `json:"data"`
		Meta map[string]any   `json:"meta"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(parsed.Data) != 1 || parsed.Data[0]["state"] != "retrying" || parsed.Data[0]["responseStatus"] != float64(500) {
		t.Fatalf("data = %v", parsed.Data)
	}
	if parsed.Data[0]["nextRetryAt"] != "2026-03-01T10:00:02Z" {
		t.Fatalf("nextRetryAt = %v", parsed.Data[0]["nextRetryAt"])
	}
	payload, ok := parsed.Data[0]["payload"].(map[string]any)
	if !ok || payload["event"] != "low_stock_alert" {
		t.Fatalf("payload = %v, want embedded JSON", parsed.Data[0]["payload"])
	}
	if parsed.Meta["total"] != float64(11) || parsed.Meta["page"] != float64(2) {
		t.Fatalf("meta = %v", parsed.Meta)
	}

	tests := []struct {
		name string
		path string
	}{
		{name: "page below one", path: "/v1/deliveries?page=0"},
		{name: "page size over limit", path: "/v1/deliveries?pageSize=101"},
		{name: "unknown state", path: "/v1/deliveries?state=lost"},
		{name: "unknown event", path: "/v1/deliveries?event=stock"},
	}
	for _, tt := range tests {
		resp, _ := performRequest(t, app, http.MethodGet, tt.path, "")
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", tt.name, resp.StatusCode)
		}
	}
}

func TestDeliveryIntegration_GetDeliveryWithAttempts(t *testing.T) {
	t.Parallel()

	status := 503
	ledger := &stubLedgerService{
		getFn: func(ctx context.Context, id string) (*service.DeliveryDetail, error) {
			if id != "rec-1" {
				return nil, domain.ErrNotFound
			}
			return &service.DeliveryDetail{
				Record: domain.DeliveryRecord{ID: "rec-1", Attempt: 2, State: domain.DeliveryFailed},
				Attempts: []domain.DeliveryAttempt{
					{AttemptNumber: 1, ResponseStatus: &status},
					{AttemptNumber: 2, ResponseStatus: &status},
				},
			}, nil
		},
	}
	app := newTestApp(t, func(app *fiber.App) error { return RegisterDeliveryRoutes(app, ledger) })

	resp, body := performRequest(t, app, http.MethodGet, "/v1/deliveries/rec-1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, body)
	}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["id"] != "rec-1" || parsed["state"] != "failed" {
		t.Fatalf("response = %v", parsed)
	}
	attempts, ok := parsed["attempts"].([]any)
	if !ok || len(attempts) != 2 {
		t.Fatalf("attempts = %v, want 2", parsed["attempts"])
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/deliveries/missing", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDeliveryIntegration_RetryDelivery(t *testing.T) {
	t.Parallel()

	ledger := &stubLedgerService{
		retryFn: func(ctx context.Context, id string) error {
			switch id {
			case "failed-1":
				return nil
			case "success-1":
				return fmt.Errorf("%w: only failed deliveries can be retried", domain.ErrConflict)
			default:
				return domain.ErrNotFound
			}
		},
	}
	app := newTestApp(t, func(app *fiber.App) error { return RegisterDeliveryRoutes(app, ledger) })

	tests := []struct {
		id   string
		want int
	}{
		{id: "failed-1", want: fiber.StatusAccepted},
		{id: "success-1", want: fiber.StatusConflict},
		{id: "missing", want: fiber.StatusNotFound},
	}
	for _, tt := range tests {
		resp, body := performRequest(t, app, http.MethodPost, "/v1/deliveries/"+tt.id+"/retry", "")
		if resp.StatusCode != tt.want {
			t.Fatalf("%s: status = %d, want %d, body=%s", tt.id, resp.StatusCode, tt.want, body)
		}
	}
}

func TestDeliveryIntegration_GetDispatch(t *testing.T) {
	t.Parallel()

	ledger := &stubLedgerService{
		summaryFn: func(ctx context.Context, dispatchID string) (*service.DispatchSummaryView, error) {
			if dispatchID != "disp-1" {
				return nil, domain.ErrNotFound
			}
			return &service.DispatchSummaryView{
				Dispatch: domain.Dispatch{
					ID:               "disp-1",
					TenantID:         "t1",
					Event:            domain.EventLowStockAlert,
					DestinationCount: 3,
					Status:           domain.DispatchPartialFailure,
				},
				Counts: []service.StateCount{
					{State: domain.DeliverySuccess, Count: 2},
					{State: domain.DeliveryRetrying, Count: 1},
				},
			}, nil
		},
	}
	app := newTestApp(t, func(app *fiber.App) error { return RegisterDeliveryRoutes(app, ledger) })

	resp, body := performRequest(t, app, http.MethodGet, "/v1/dispatches/disp-1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, body)
	}

	var parsed struct {
		DispatchID       string `json:"dispatchId"`
		Status           string `json:"status"`
		DestinationCount int    `json:"destinationCount"`
		Counts           []struct {
			State string `json:"state"`
			Count int    `json:"count"`
		} `json:"counts"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.DispatchID != "disp-1" || parsed.Status != "partial_failure" || parsed.DestinationCount != 3 {
		t.Fatalf("response = %+v", parsed)
	}
	if len(parsed.Counts) != 2 || parsed.Counts[0].State != "success" || parsed.Counts[0].Count != 2 {
		t.Fatalf("counts = %+v", parsed.Counts)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/dispatches/missing", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCallbackIntegration_VerifySignature(t *testing.T) {
	t.Parallel()

	secret := "s3cr3t"
	lookup := &stubDestinationService{
		getFn: func(ctx context.Context, id string) (*domain.Destination, error) {
			switch id {
			case "signed":
				return &domain.Destination{ID: id, Secret: &secret}, nil
			case "unsigned":
				return &domain.Destination{ID: id}, nil
			}
			return nil, domain.ErrNotFound
		},
	}
	app := newTestApp(t, func(app *fiber.App) error { return RegisterCallbackRoutes(app, lookup, nil) })

	body := `{"deliveryId":"rec-1","status":"received"}`
	valid := signing.Sign([]byte(body), secret)

	tests := []struct {
		name      string
		path      string
		signature string
		want      int
	}{
		{name: "valid signature", path: "/v1/callbacks/signed", signature: valid, want: fiber.StatusNoContent},
		{name: "prefixed signature", path: "/v1/callbacks/signed", signature: "sha256=" + valid, want: fiber.StatusNoContent},
		{name: "wrong signature", path: "/v1/callbacks/signed", signature: signing.Sign([]byte(body), "other"), want: fiber.StatusUnauthorized},
		{name: "missing signature", path: "/v1/callbacks/signed", want: fiber.StatusUnauthorized},
		{name: "destination without secret", path: "/v1/callbacks/unsigned", signature: valid, want: fiber.StatusUnauthorized},
		{name: "unknown destination", path: "/v1/callbacks/missing", signature: valid, want: fiber.StatusNotFound},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, tt.path, bytes.NewBufferString(body))
			req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			if tt.signature != "" {
				req.Header.Set(signing.HeaderName, tt.signature)
			}

			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			_ = resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestHealthIntegration_LivezAndReadyz(t *testing.T) {
	t.Parallel()

	healthy := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	t.Run("livez returns 200", func(t *testing.T) {
		t.Parallel()

		app := newTestApp(t, func(app *fiber.App) error {
			RegisterHealthRoutes(app, map[string]ReadinessCheck{"postgres": down})
			return nil
		})

		resp, body := performRequest(t, app, http.MethodGet, "/livez", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 200 when dependencies healthy", func(t *testing.T) {
		t.Parallel()

		app := newTestApp(t, func(app *fiber.App) error {
			RegisterHealthRoutes(app, map[string]ReadinessCheck{"postgres": healthy, "redis": healthy, "rabbitmq": healthy})
			return nil
		})

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 503 when a dependency is down", func(t *testing.T) {
		t.Parallel()

		app := newTestApp(t, func(app *fiber.App) error {
			RegisterHealthRoutes(app, map[string]ReadinessCheck{"postgres": healthy, "redis": down})
			return nil
		})

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}

		var parsed struct {
			Checks map[string]string `json:"checks"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			t.Fatalf("json unmarshal error = %v", err)
		}
		if parsed.Checks["redis"] != "down" || parsed.Checks["postgres"] != "ok" {
			t.Fatalf("checks = %v", parsed.Checks)
		}
	})
}

type stubDestinationService struct {
	createFn func(ctx context.Context, dest *domain.Destination) (*domain.Destination, error)
	updateFn func(ctx context.Context, id string, changes *domain.Destination) (*domain.Destination, error)
	getFn    func(ctx context.Context, id string) (*domain.Destination, error)
	listFn   func(ctx context.Context, tenantID string) ([]domain.Destination, error)
	deleteFn func(ctx context.Context, id string) error
}

func (s *stubDestinationService) Create(ctx context.Context, dest *domain.Destination) (*domain.Destination, error) {
	if s.createFn != nil {
		return s.createFn(ctx, dest)
	}
	return nil, errors.New("not implemented")
}

func (s *stubDestinationService) Update(ctx context.Context, id string, changes *domain.Destination) (*domain.Destination, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, id, changes)
	}
	return nil, errors.New("not implemented")
}

func (s *stubDestinationService) Get(ctx context.Context, id string) (*domain.Destination, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubDestinationService) List(ctx context.Context, tenantID string) ([]domain.Destination, error) {
	if s.listFn != nil {
		return s.listFn(ctx, tenantID)
	}
	return nil, nil
}

func (s *stubDestinationService) Delete(ctx context.Context, id string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, id)
	}
	return nil
}

type stubEventIntake struct {
	submitFn func(ctx context.Context, in service.SubmitEventInput) (string, error)
}

func (s *stubEventIntake) Submit(ctx context.Context, in service.SubmitEventInput) (string, error) {
	if s.submitFn != nil {
		return s.submitFn(ctx, in)
	}
	return "", errors.New("not implemented")
}

type stubLedgerService struct {
	getFn     func(ctx context.Context, id string) (*service.DeliveryDetail, error)
	listFn    func(ctx context.Context, params repository.ListParams) ([]domain.DeliveryRecord, int64, error)
	retryFn   func(ctx context.Context, id string) error
	summaryFn func(ctx context.Context, dispatchID string) (*service.DispatchSummaryView, error)
}

func (s *stubLedgerService) GetDelivery(ctx context.Context, id string) (*service.DeliveryDetail, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubLedgerService) ListDeliveries(ctx context.Context, params repository.ListParams) ([]domain.DeliveryRecord, int64, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (s *stubLedgerService) RetryDelivery(ctx context.Context, id string) error {
	if s.retryFn != nil {
		return s.retryFn(ctx, id)
	}
	return nil
}

func (s *stubLedgerService) GetDispatchSummary(ctx context.Context, dispatchID string) (*service.DispatchSummaryView, error) {
	if s.summaryFn != nil {
		return s.summaryFn(ctx, dispatchID)
	}
	return nil, domain.ErrNotFound
}

func newTestApp(t *testing.T, register func(app *fiber.App) error) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
	if err := register(app); err != nil {
		t.Fatalf("register routes error = %v", err)
	}
	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}
