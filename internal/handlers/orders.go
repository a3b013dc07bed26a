package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/VNZray/capstone-project-sub001/internal/domain"
	"github.com/VNZray/capstone-project-sub001/internal/platform/httpx"
	"github.com/VNZray/capstone-project-sub001/internal/services"
)

const (
	maxOrderBodySize  = 64 * 1024
	defaultAuditLimit = 100
)

type createOrderItemRequest struct {
	ProductID       string `json:"productId"`
	Quantity        int    `json:"quantity"`
	SpecialRequests string `json:"specialRequests"`
}

type createOrderRequest struct {
	BusinessID    string                   `json:"businessId"`
	Items         []createOrderItemRequest `json:"items"`
	PickupAt      time.Time                `json:"pickupAt"`
	PaymentMethod string                   `json:"paymentMethod"`
	DiscountCode  string                   `json:"discountCode"`
	Instructions  string                   `json:"instructions"`
}

type transitionOrderRequest struct {
	TargetStatus   string `json:"targetStatus"`
	Reason         string `json:"reason"`
	ExpectedStatus string `json:"expectedStatus"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type refundOrderRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// OrderHandlers exposes the order lifecycle endpoints.
type OrderHandlers struct {
	orders  services.OrderService
	refunds services.RefundService
	audit   services.AuditLogService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, refunds services.RefundService, audit services.AuditLogService) *OrderHandlers {
	return &OrderHandlers{orders: orders, refunds: refunds, audit: audit}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/audit", h.listAudit)
	r.Post("/{orderID}/status", h.transitionOrder)
	r.Post("/{orderID}/cancel", h.cancelOrder)
	r.Post("/{orderID}/refund", h.refundOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeUnauthenticated(w, r)
		return
	}

	var req createOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	items := make([]services.CreateOrderItemInput, len(req.Items))
	for i, item := range req.Items {
		items[i] = services.CreateOrderItemInput{
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			SpecialRequests: item.SpecialRequests,
		}
	}

	creation, err := h.orders.CreateOrder(r.Context(), services.CreateOrderCommand{
		BusinessID:    req.BusinessID,
		Actor:         actor,
		Items:         items,
		PickupAt:      req.PickupAt,
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
		DiscountCode:  req.DiscountCode,
		Instructions:  req.Instructions,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	response := map[string]any{"order": newOrderPayload(creation.Order)}
	if creation.Checkout != nil {
		response["checkout"] = newCheckoutPayload(*creation.Checkout)
	}
	if creation.DiscountNote != "" {
		response["discountNote"] = creation.DiscountNote
	}
	httpx.WriteJSON(w, http.StatusCreated, response)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFromRequest(r); !ok {
		writeUnauthenticated(w, r)
		return
	}

	query := r.URL.Query()
	filter := services.OrderListFilter{
		BusinessID: strings.TrimSpace(query.Get("businessId")),
		UserID:     strings.TrimSpace(query.Get("userId")),
	}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status := domain.OrderStatus(raw)
		filter.Status = &status
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "invalid_request", "limit must be an integer", nil)
			return
		}
		filter.Limit = limit
	}

	orders, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	items := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, newOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"orders": items})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFromRequest(r); !ok {
		writeUnauthenticated(w, r)
		return
	}

	order, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": newOrderPayload(order)})
}

func (h *OrderHandlers) listAudit(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFromRequest(r); !ok {
		writeUnauthenticated(w, r)
		return
	}
	if h.audit == nil {
		httpx.WriteError(w, r, http.StatusServiceUnavailable, "audit_unavailable", "audit log unavailable", nil)
		return
	}

	entries, err := h.audit.ListByOrder(r.Context(), chi.URLParam(r, "orderID"), defaultAuditLimit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	items := make([]auditEntryPayload, 0, len(entries))
	for _, entry := range entries {
		items = append(items, newAuditEntryPayload(entry))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"entries": items})
}

func (h *OrderHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeUnauthenticated(w, r)
		return
	}

	var req transitionOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cmd := services.OrderStatusTransitionCommand{
		OrderID:      chi.URLParam(r, "orderID"),
		TargetStatus: domain.OrderStatus(strings.TrimSpace(req.TargetStatus)),
		Actor:        actor,
		Reason:       req.Reason,
	}
	if raw := strings.TrimSpace(req.ExpectedStatus); raw != "" {
		expected := domain.OrderStatus(raw)
		cmd.ExpectedStatus = &expected
	}

	order, err := h.orders.TransitionStatus(r.Context(), cmd)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": newOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeUnauthenticated(w, r)
		return
	}

	var req cancelOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	order, err := h.orders.CancelOrder(r.Context(), services.CancelOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Actor:   actor,
		Reason:  req.Reason,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": newOrderPayload(order)})
}

func (h *OrderHandlers) refundOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeUnauthenticated(w, r)
		return
	}
	if h.refunds == nil {
		httpx.WriteError(w, r, http.StatusServiceUnavailable, "refund_unavailable", "refund service unavailable", nil)
		return
	}

	var req refundOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.refunds.Refund(r.Context(), services.RefundOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Amount:  req.Amount,
		Reason:  req.Reason,
		Actor:   actor,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"order":   newOrderPayload(result.Order),
		"payment": newPaymentPayload(result.Payment),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	defer func() { _ = r.Body.Close() }()

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOrderBodySize))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "request body is not valid JSON", nil)
		return false
	}
	return true
}

func writeUnauthenticated(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(w, r, http.StatusUnauthorized, "unauthenticated", "actor identity headers are required", nil)
}

// writeServiceError maps service sentinels onto the HTTP error envelope.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *services.ValidationError
	if errors.As(err, &validation) {
		details := make(map[string]any, len(validation.Fields))
		for field, message := range validation.Fields {
			details[field] = message
		}
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_failed", "request validation failed", details)
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrPaymentInvalidInput),
		errors.Is(err, services.ErrRefundInvalidInput),
		errors.Is(err, services.ErrWebhookInvalidInput):
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_request", err.Error(), nil)
	case errors.Is(err, services.ErrOrderNotFound),
		errors.Is(err, services.ErrPaymentNotFound),
		errors.Is(err, services.ErrWebhookEventNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, services.ErrProductUnavailable):
		httpx.WriteError(w, r, http.StatusUnprocessableEntity, "product_unavailable", err.Error(), nil)
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(w, r, http.StatusConflict, "insufficient_stock", err.Error(), nil)
	case errors.Is(err, services.ErrCannotTransition):
		httpx.WriteError(w, r, http.StatusConflict, "cannot_transition", err.Error(), nil)
	case errors.Is(err, services.ErrOrderConflict),
		errors.Is(err, services.ErrPaymentConflict):
		httpx.WriteError(w, r, http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, services.ErrPaymentInvalidState):
		httpx.WriteError(w, r, http.StatusConflict, "payment_invalid_state", err.Error(), nil)
	case errors.Is(err, services.ErrPaymentAmountTooLow):
		httpx.WriteError(w, r, http.StatusUnprocessableEntity, "amount_too_low", err.Error(), nil)
	case errors.Is(err, services.ErrRefundIneligible):
		httpx.WriteError(w, r, http.StatusUnprocessableEntity, "refund_ineligible", err.Error(), nil)
	case errors.Is(err, services.ErrGatewayUnavailable):
		httpx.WriteError(w, r, http.StatusBadGateway, "gateway_unavailable", "payment gateway is unavailable", nil)
	default:
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "an unexpected error occurred", nil)
	}
}
