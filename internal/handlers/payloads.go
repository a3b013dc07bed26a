package handlers

import (
	"time"

	domain "github.com/VNZray/capstone-project-sub001/internal/domain"
	"github.com/VNZray/capstone-project-sub001/internal/services"
)

type orderItemPayload struct {
	ID              string `json:"id"`
	ProductID       string `json:"productId"`
	Quantity        int    `json:"quantity"`
	UnitPrice       int64  `json:"unitPrice"`
	TotalPrice      int64  `json:"totalPrice"`
	SpecialRequests string `json:"specialRequests,omitempty"`
}

type orderPayload struct {
	ID             string             `json:"id"`
	OrderNumber    string             `json:"orderNumber"`
	BusinessID     string             `json:"businessId"`
	UserID         string             `json:"userId"`
	Status         string             `json:"status"`
	PaymentMethod  string             `json:"paymentMethod"`
	Subtotal       int64              `json:"subtotal"`
	DiscountAmount int64              `json:"discountAmount"`
	TaxAmount      int64              `json:"taxAmount"`
	TotalAmount    int64              `json:"totalAmount"`
	Currency       string             `json:"currency"`
	DiscountCode   *string            `json:"discountCode,omitempty"`
	PickupAt       time.Time          `json:"pickupAt"`
	ArrivalCode    string             `json:"arrivalCode"`
	Instructions   *string            `json:"instructions,omitempty"`
	CancelReason   *string            `json:"cancelReason,omitempty"`
	CancelledAt    *time.Time         `json:"cancelledAt,omitempty"`
	PickedUpAt     *time.Time         `json:"pickedUpAt,omitempty"`
	Items          []orderItemPayload `json:"items"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

func newOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemPayload{
			ID:              item.ID,
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			UnitPrice:       item.UnitPrice,
			TotalPrice:      item.TotalPrice,
			SpecialRequests: item.SpecialRequests,
		}
	}
	return orderPayload{
		ID:             order.ID,
		OrderNumber:    order.OrderNumber,
		BusinessID:     order.BusinessID,
		UserID:         order.UserID,
		Status:         string(order.Status),
		PaymentMethod:  string(order.PaymentMethod),
		Subtotal:       order.Subtotal,
		DiscountAmount: order.DiscountAmount,
		TaxAmount:      order.TaxAmount,
		TotalAmount:    order.TotalAmount,
		Currency:       order.Currency,
		DiscountCode:   order.DiscountCode,
		PickupAt:       order.PickupAt,
		ArrivalCode:    order.ArrivalCode,
		Instructions:   order.Instructions,
		CancelReason:   order.CancelReason,
		CancelledAt:    order.CancelledAt,
		PickedUpAt:     order.PickedUpAt,
		Items:          items,
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
	}
}

type checkoutPayload struct {
	PaymentID    string `json:"paymentId"`
	IntentID     string `json:"intentId"`
	ClientSecret string `json:"clientSecret,omitempty"`
	Status       string `json:"status"`
	NextAction   string `json:"nextAction,omitempty"`
}

func newCheckoutPayload(checkout services.PaymentCheckout) checkoutPayload {
	return checkoutPayload{
		PaymentID:    checkout.PaymentID,
		IntentID:     checkout.IntentID,
		ClientSecret: checkout.ClientSecret,
		Status:       string(checkout.Status),
		NextAction:   checkout.NextAction,
	}
}

type paymentPayload struct {
	ID                string    `json:"id"`
	PaymentFor        string    `json:"paymentFor"`
	PaymentForID      string    `json:"paymentForId"`
	Method            string    `json:"method"`
	Status            string    `json:"status"`
	Amount            int64     `json:"amount"`
	Currency          string    `json:"currency"`
	ProviderIntentID  string    `json:"providerIntentId,omitempty"`
	ProviderPaymentID string    `json:"providerPaymentId,omitempty"`
	RefundReference   string    `json:"refundReference,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func newPaymentPayload(payment domain.Payment) paymentPayload {
	return paymentPayload{
		ID:                payment.ID,
		PaymentFor:        string(payment.PaymentFor),
		PaymentForID:      payment.PaymentForID,
		Method:            string(payment.Method),
		Status:            string(payment.Status),
		Amount:            payment.Amount,
		Currency:          payment.Currency,
		ProviderIntentID:  payment.ProviderIntentID,
		ProviderPaymentID: payment.ProviderPaymentID,
		RefundReference:   payment.RefundReference,
		CreatedAt:         payment.CreatedAt,
		UpdatedAt:         payment.UpdatedAt,
	}
}

type auditEntryPayload struct {
	ID        string         `json:"id"`
	EventType string         `json:"eventType"`
	OldValue  string         `json:"oldValue,omitempty"`
	NewValue  string         `json:"newValue,omitempty"`
	ActorID   *string        `json:"actorId,omitempty"`
	ActorRole *string        `json:"actorRole,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

func newAuditEntryPayload(entry domain.AuditEntry) auditEntryPayload {
	return auditEntryPayload{
		ID:        entry.ID,
		EventType: entry.EventType,
		OldValue:  entry.OldValue,
		NewValue:  entry.NewValue,
		ActorID:   entry.ActorID,
		ActorRole: entry.ActorRole,
		Metadata:  entry.Metadata,
		CreatedAt: entry.CreatedAt,
	}
}
