package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/VNZray/capstone-project-sub001/internal/domain"
	"github.com/VNZray/capstone-project-sub001/internal/services"
)

type stubOrderService struct {
	createFn     func(context.Context, services.CreateOrderCommand) (services.OrderCreation, error)
	getFn        func(context.Context, string) (services.Order, error)
	listFn       func(context.Context, services.OrderListFilter) ([]services.Order, error)
	transitionFn func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error)
	cancelFn     func(context.Context, services.CancelOrderCommand) (services.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.OrderCreation, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.OrderCreation{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) ([]services.Order, error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return nil, nil
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

type stubRefundService struct {
	refundFn func(context.Context, services.RefundOrderCommand) (services.RefundResult, error)
}

func (s *stubRefundService) Refund(ctx context.Context, cmd services.RefundOrderCommand) (services.RefundResult, error) {
	if s.refundFn != nil {
		return s.refundFn(ctx, cmd)
	}
	return services.RefundResult{}, errors.New("not implemented")
}

type stubAuditService struct {
	entries []services.AuditEntry
	err     error
}

func (s *stubAuditService) Record(context.Context, services.AuditRecord) {}

func (s *stubAuditService) ListByOrder(context.Context, string, int) ([]services.AuditEntry, error) {
	return s.entries, s.err
}

func orderRouter(orders services.OrderService, refunds services.RefundService, audit services.AuditLogService) chi.Router {
	router := chi.NewRouter()
	router.Route("/orders", NewOrderHandlers(orders, refunds, audit).Routes)
	return router
}

func asCustomer(req *http.Request) *http.Request {
	req.Header.Set("X-Actor-ID", "user_1")
	req.Header.Set("X-Actor-Role", "customer")
	return req
}

func asMerchant(req *http.Request) *http.Request {
	req.Header.Set("X-Actor-ID", "owner_1")
	req.Header.Set("X-Actor-Role", "merchant_owner")
	return req
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, rec.Body.String())
	}
	return envelope.Error.Code
}

func TestCreateOrderEndpoint(t *testing.T) {
	now := time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)

	var captured services.CreateOrderCommand
	orders := &stubOrderService{createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.OrderCreation, error) {
		captured = cmd
		return services.OrderCreation{
			Order: services.Order{
				ID:          "ord_1",
				OrderNumber: "ORD-2025-000042",
				BusinessID:  cmd.BusinessID,
				UserID:      cmd.Actor.ID,
				Status:      domain.OrderStatusPending,
				TotalAmount: 39200,
				Currency:    "PHP",
				CreatedAt:   now,
				UpdatedAt:   now,
			},
			Checkout: &services.PaymentCheckout{PaymentID: "pay_1", IntentID: "pi_1", ClientSecret: "cs_1"},
		}, nil
	}}

	body := `{
		"businessId": "biz_1",
		"items": [{"productId": "prod_espresso", "quantity": 3}],
		"pickupAt": "2025-05-01T12:00:00Z",
		"paymentMethod": "gcash"
	}`
	req := asCustomer(httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(body)))
	rec := httptest.NewRecorder()
	orderRouter(orders, nil, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if captured.BusinessID != "biz_1" || captured.Actor.ID != "user_1" || captured.Actor.Role != domain.RoleCustomer {
		t.Fatalf("command = %+v", captured)
	}
	if captured.PaymentMethod != domain.PaymentMethodGCash {
		t.Fatalf("payment method = %q", captured.PaymentMethod)
	}

	var response struct {
		Order struct {
			ID          string `json:"id"`
			OrderNumber string `json:"orderNumber"`
		} `json:"order"`
		Checkout struct {
			PaymentID    string `json:"paymentId"`
			ClientSecret string `json:"clientSecret"`
		} `json:"checkout"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Order.OrderNumber != "ORD-2025-000042" {
		t.Fatalf("order number = %q", response.Order.OrderNumber)
	}
	if response.Checkout.PaymentID != "pay_1" || response.Checkout.ClientSecret != "cs_1" {
		t.Fatalf("checkout = %+v", response.Checkout)
	}
}

func TestCreateOrderRequiresActorHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	orderRouter(&stubOrderService{}, nil, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "unauthenticated" {
		t.Fatalf("code = %q", code)
	}
}

func TestCreateOrderRejectsSystemRole(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(`{}`))
	req.Header.Set("X-Actor-ID", "job_1")
	req.Header.Set("X-Actor-Role", "system")
	rec := httptest.NewRecorder()
	orderRouter(&stubOrderService{}, nil, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCreateOrderValidationFailure(t *testing.T) {
	orders := &stubOrderService{createFn: func(context.Context, services.CreateOrderCommand) (services.OrderCreation, error) {
		return services.OrderCreation{}, &services.ValidationError{Fields: map[string]string{
			"pickupAt": "pickup time must be in the future",
		}}
	}}

	req := asCustomer(httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(`{}`)))
	rec := httptest.NewRecorder()
	orderRouter(orders, nil, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "validation_failed" {
		t.Fatalf("code = %q", code)
	}
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	orders := &stubOrderService{createFn: func(context.Context, services.CreateOrderCommand) (services.OrderCreation, error) {
		return services.OrderCreation{}, services.ErrInsufficientStock
	}}

	req := asCustomer(httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(`{}`)))
	rec := httptest.NewRecorder()
	orderRouter(orders, nil, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "insufficient_stock" {
		t.Fatalf("code = %q", code)
	}
}

func TestCreateOrderRejectsUnknownFields(t *testing.T) {
	req := asCustomer(httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(`{"bogus": true}`)))
	rec := httptest.NewRecorder()
	orderRouter(&stubOrderService{}, nil, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "invalid_body" {
		t.Fatalf("code = %q", code)
	}
}

func TestTransitionOrderEndpoint(t *testing.T) {
	var captured services.OrderStatusTransitionCommand
	orders := &stubOrderService{transitionFn: func(_ context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
		captured = cmd
		return services.Order{ID: cmd.OrderID, Status: cmd.TargetStatus}, nil
	}}

	body := `{"targetStatus": "accepted", "expectedStatus": "pending"}`
	req := asMerchant(httptest.NewRequest(http.MethodPost, "/orders/ord_1/status", strings.NewReader(body)))
	rec := httptest.NewRecorder()
	orderRouter(orders, nil, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.TargetStatus != domain.OrderStatusAccepted {
		t.Fatalf("command = %+v", captured)
	}
	if captured.ExpectedStatus == nil || *captured.ExpectedStatus != domain.OrderStatusPending {
		t.Fatalf("expected status = %v", captured.ExpectedStatus)
	}
}

func TestTransitionOrderDenied(t *testing.T) {
	orders := &stubOrderService{transitionFn: func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error) {
		return services.Order{}, services.ErrCannotTransition
	}}

	req := asCustomer(httptest.NewRequest(http.MethodPost, "/orders/ord_1/status", strings.NewReader(`{"targetStatus": "accepted"}`)))
	rec := httptest.NewRecorder()
	orderRouter(orders, nil, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "cannot_transition" {
		t.Fatalf("code = %q", code)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	orders := &stubOrderService{getFn: func(context.Context, string) (services.Order, error) {
		return services.Order{}, services.ErrOrderNotFound
	}}

	req := asCustomer(httptest.NewRequest(http.MethodGet, "/orders/ord_missing", nil))
	rec := httptest.NewRecorder()
	orderRouter(orders, nil, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListOrdersAppliesFilters(t *testing.T) {
	var captured services.OrderListFilter
	orders := &stubOrderService{listFn: func(_ context.Context, filter services.OrderListFilter) ([]services.Order, error) {
		captured = filter
		return []services.Order{{ID: "ord_1"}}, nil
	}}

	req := asMerchant(httptest.NewRequest(http.MethodGet, "/orders/?businessId=biz_1&status=pending&limit=10", nil))
	rec := httptest.NewRecorder()
	orderRouter(orders, nil, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if captured.BusinessID != "biz_1" || captured.Limit != 10 {
		t.Fatalf("filter = %+v", captured)
	}
	if captured.Status == nil || *captured.Status != domain.OrderStatusPending {
		t.Fatalf("status filter = %v", captured.Status)
	}
}

func TestCancelOrderEndpoint(t *testing.T) {
	var captured services.CancelOrderCommand
	orders := &stubOrderService{cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
		captured = cmd
		return services.Order{ID: cmd.OrderID, Status: domain.OrderStatusCancelledByUser}, nil
	}}

	req := asCustomer(httptest.NewRequest(http.MethodPost, "/orders/ord_1/cancel", strings.NewReader(`{"reason": "changed my mind"}`)))
	rec := httptest.NewRecorder()
	orderRouter(orders, nil, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if captured.OrderID != "ord_1" || captured.Reason != "changed my mind" {
		t.Fatalf("command = %+v", captured)
	}
}

func TestRefundOrderEndpoint(t *testing.T) {
	var captured services.RefundOrderCommand
	refunds := &stubRefundService{refundFn: func(_ context.Context, cmd services.RefundOrderCommand) (services.RefundResult, error) {
		captured = cmd
		return services.RefundResult{
			Order:   services.Order{ID: cmd.OrderID, Status: domain.OrderStatusRefunded},
			Payment: services.Payment{ID: "pay_1", Status: domain.PaymentStatusRefunded},
		}, nil
	}}

	req := asMerchant(httptest.NewRequest(http.MethodPost, "/orders/ord_1/refund", strings.NewReader(`{"amount": 10000, "reason": "missing item"}`)))
	rec := httptest.NewRecorder()
	orderRouter(&stubOrderService{}, refunds, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.Amount != 10000 {
		t.Fatalf("command = %+v", captured)
	}

	var response struct {
		Payment struct {
			Status string `json:"status"`
		} `json:"payment"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Payment.Status != "refunded" {
		t.Fatalf("payment status = %q", response.Payment.Status)
	}
}

func TestRefundOrderIneligible(t *testing.T) {
	refunds := &stubRefundService{refundFn: func(context.Context, services.RefundOrderCommand) (services.RefundResult, error) {
		return services.RefundResult{}, services.ErrRefundIneligible
	}}

	req := asMerchant(httptest.NewRequest(http.MethodPost, "/orders/ord_1/refund", strings.NewReader(`{}`)))
	rec := httptest.NewRecorder()
	orderRouter(&stubOrderService{}, refunds, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "refund_ineligible" {
		t.Fatalf("code = %q", code)
	}
}

func TestListAuditEndpoint(t *testing.T) {
	audit := &stubAuditService{entries: []services.AuditEntry{
		{ID: "aud_1", OrderID: "ord_1", EventType: "order.created"},
	}}

	req := asMerchant(httptest.NewRequest(http.MethodGet, "/orders/ord_1/audit", nil))
	rec := httptest.NewRecorder()
	orderRouter(&stubOrderService{}, nil, audit).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var response struct {
		Entries []struct {
			ID        string `json:"id"`
			EventType string `json:"eventType"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(response.Entries) != 1 || response.Entries[0].EventType != "order.created" {
		t.Fatalf("entries = %+v", response.Entries)
	}
}
