package payments

import (
	"context"
	"errors"
)

// ErrUnavailable signals the gateway could not be reached or returned a
// server-side failure. Callers surface this without mutating internal state.
var ErrUnavailable = errors.New("payments: gateway unavailable")

// IntentStatus tracks the gateway's intent lifecycle: intent created, method
// attached, then confirmation or failure.
type IntentStatus string

const (
	// IntentStatusAwaitingMethod means the intent exists and awaits a payment method.
	IntentStatusAwaitingMethod IntentStatus = "awaiting_payment_method"
	// IntentStatusAwaitingAction means a method is attached and the customer must act (e.g. wallet redirect).
	IntentStatusAwaitingAction IntentStatus = "awaiting_next_action"
	// IntentStatusProcessing means the gateway is settling the payment.
	IntentStatusProcessing IntentStatus = "processing"
	// IntentStatusSucceeded means the payment is confirmed.
	IntentStatusSucceeded IntentStatus = "succeeded"
	// IntentStatusCanceled means the intent was cancelled before settlement.
	IntentStatusCanceled IntentStatus = "canceled"
	// IntentStatusFailed means the gateway rejected the payment.
	IntentStatusFailed IntentStatus = "failed"
)

// Actionable reports whether the intent can still progress, i.e. a duplicate
// create-intent request should return this intent instead of minting a new one.
func (s IntentStatus) Actionable() bool {
	switch s {
	case IntentStatusAwaitingMethod, IntentStatusAwaitingAction, IntentStatusProcessing:
		return true
	}
	return false
}

// Intent mirrors the gateway's payment intent.
type Intent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
	Amount       int64
	Currency     string
	MethodID     string
	PaymentID    string
	NextAction   string
	Metadata     map[string]string
}

// RefundStatus tracks refund settlement.
type RefundStatus string

const (
	// RefundStatusSucceeded means the refund settled synchronously.
	RefundStatusSucceeded RefundStatus = "succeeded"
	// RefundStatusPending means the gateway will confirm the refund asynchronously.
	RefundStatusPending RefundStatus = "pending"
	// RefundStatusFailed means the refund was rejected.
	RefundStatusFailed RefundStatus = "failed"
)

// Refund mirrors the gateway's refund object.
type Refund struct {
	ID     string
	Status RefundStatus
	Amount int64
}

// CreateIntentRequest describes a new payment intent.
type CreateIntentRequest struct {
	Amount         int64
	Currency       string
	MethodTypes    []string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// AttachMethodRequest attaches a server-side payment method (wallet subtypes)
// and confirms the intent.
type AttachMethodRequest struct {
	IntentID       string
	MethodType     string
	ReturnURL      string
	IdempotencyKey string
}

// CancelIntentRequest abandons an intent that will never settle.
type CancelIntentRequest struct {
	IntentID       string
	Reason         string
	IdempotencyKey string
}

// RefundRequest reverses a settled payment, fully or partially.
type RefundRequest struct {
	PaymentIntentID string
	Amount          int64
	Reason          string
	IdempotencyKey  string
}

// Provider is the gateway client contract. Implementations must apply request
// timeouts and surface ErrUnavailable rather than hang.
type Provider interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (Intent, error)
	AttachMethod(ctx context.Context, req AttachMethodRequest) (Intent, error)
	CancelIntent(ctx context.Context, req CancelIntentRequest) (Intent, error)
	CreateRefund(ctx context.Context, req RefundRequest) (Refund, error)
	LookupIntent(ctx context.Context, intentID string) (Intent, error)
}
