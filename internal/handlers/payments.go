package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/VNZray/capstone-project-sub001/internal/domain"
	"github.com/VNZray/capstone-project-sub001/internal/platform/httpx"
	"github.com/VNZray/capstone-project-sub001/internal/services"
)

type createIntentRequest struct {
	OrderID string `json:"orderId"`
}

type attachMethodRequest struct {
	Method    string `json:"method"`
	ReturnURL string `json:"returnUrl"`
}

type clientAttachmentRequest struct {
	MethodID string `json:"methodId"`
}

// PaymentHandlers exposes the gateway intent lifecycle endpoints.
type PaymentHandlers struct {
	payments services.PaymentService
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(payments services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{payments: payments}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/intents", h.createIntent)
	r.Get("/{paymentID}", h.getPayment)
	r.Post("/{paymentID}/attach", h.attachMethod)
	r.Post("/{paymentID}/client-attachment", h.recordClientAttachment)
}

func (h *PaymentHandlers) createIntent(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeUnauthenticated(w, r)
		return
	}

	var req createIntentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	checkout, err := h.payments.CreateIntent(r.Context(), services.CreatePaymentIntentCommand{
		OrderID: strings.TrimSpace(req.OrderID),
		Actor:   actor,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"checkout": newCheckoutPayload(checkout)})
}

func (h *PaymentHandlers) getPayment(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFromRequest(r); !ok {
		writeUnauthenticated(w, r)
		return
	}

	payment, err := h.payments.GetPayment(r.Context(), chi.URLParam(r, "paymentID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"payment": newPaymentPayload(payment)})
}

func (h *PaymentHandlers) attachMethod(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeUnauthenticated(w, r)
		return
	}

	var req attachMethodRequest
	if !decodeBody(w, r, &req) {
		return
	}

	checkout, err := h.payments.AttachMethod(r.Context(), services.AttachPaymentMethodCommand{
		PaymentID: chi.URLParam(r, "paymentID"),
		Method:    domain.PaymentMethod(strings.TrimSpace(req.Method)),
		ReturnURL: strings.TrimSpace(req.ReturnURL),
		Actor:     actor,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"checkout": newCheckoutPayload(checkout)})
}

func (h *PaymentHandlers) recordClientAttachment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeUnauthenticated(w, r)
		return
	}

	var req clientAttachmentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	payment, err := h.payments.RecordClientAttachment(r.Context(), services.RecordClientAttachmentCommand{
		PaymentID: chi.URLParam(r, "paymentID"),
		MethodID:  strings.TrimSpace(req.MethodID),
		Actor:     actor,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"payment": newPaymentPayload(payment)})
}
