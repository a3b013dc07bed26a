package services

import (
	"context"
	"time"

	domain "github.com/VNZray/capstone-project-sub001/internal/domain"
	"github.com/VNZray/capstone-project-sub001/internal/payments"
	"github.com/VNZray/capstone-project-sub001/internal/repositories"
)

// Type aliases keep handler and service signatures terse while the canonical
// definitions live in the domain package.
type (
	// Order aliases domain.Order.
	Order = domain.Order
	// OrderItem aliases domain.OrderItem.
	OrderItem = domain.OrderItem
	// Payment aliases domain.Payment.
	Payment = domain.Payment
	// WebhookEvent aliases domain.WebhookEvent.
	WebhookEvent = domain.WebhookEvent
	// AuditEntry aliases domain.AuditEntry.
	AuditEntry = domain.AuditEntry
	// Actor aliases domain.Actor.
	Actor = domain.Actor
	// OrderListFilter aliases the repository filter used for order listings.
	OrderListFilter = repositories.OrderListFilter
)

// OrderService drives order creation and the status lifecycle.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (OrderCreation, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) ([]Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// CreateOrderItemInput is one cart line in a create-order request.
type CreateOrderItemInput struct {
	ProductID       string
	Quantity        int
	SpecialRequests string
}

// CreateOrderCommand captures a full order-creation request.
type CreateOrderCommand struct {
	BusinessID    string
	Actor         Actor
	Items         []CreateOrderItemInput
	PickupAt      time.Time
	PaymentMethod domain.PaymentMethod
	DiscountCode  string
	Instructions  string
}

// PaymentCheckout is the handle returned to clients driving a gateway payment.
type PaymentCheckout struct {
	PaymentID    string
	IntentID     string
	ClientSecret string
	Status       payments.IntentStatus
	NextAction   string
}

// OrderCreation is the result of the creation pipeline. Checkout is set only
// for gateway payment methods; DiscountNote records a soft discount rejection.
type OrderCreation struct {
	Order        Order
	Checkout     *PaymentCheckout
	DiscountNote string
}

// OrderStatusTransitionCommand requests one lifecycle step.
type OrderStatusTransitionCommand struct {
	OrderID        string
	TargetStatus   domain.OrderStatus
	Actor          Actor
	Reason         string
	ExpectedStatus *domain.OrderStatus
}

// CancelOrderCommand cancels an order on behalf of the customer or the business.
type CancelOrderCommand struct {
	OrderID string
	Actor   Actor
	Reason  string
}

// PaymentService implements the gateway intent lifecycle for orders.
type PaymentService interface {
	CreateIntent(ctx context.Context, cmd CreatePaymentIntentCommand) (PaymentCheckout, error)
	AttachMethod(ctx context.Context, cmd AttachPaymentMethodCommand) (PaymentCheckout, error)
	RecordClientAttachment(ctx context.Context, cmd RecordClientAttachmentCommand) (Payment, error)
	GetPayment(ctx context.Context, paymentID string) (Payment, error)
}

// CreatePaymentIntentCommand creates (or returns the existing actionable) intent for an order.
type CreatePaymentIntentCommand struct {
	OrderID string
	Actor   Actor
}

// AttachPaymentMethodCommand attaches a wallet method server-side.
type AttachPaymentMethodCommand struct {
	PaymentID string
	Method    domain.PaymentMethod
	ReturnURL string
	Actor     Actor
}

// RecordClientAttachmentCommand records a method attached client-side (cards).
type RecordClientAttachmentCommand struct {
	PaymentID string
	MethodID  string
	Actor     Actor
}

// WebhookService ingests and processes gateway events.
type WebhookService interface {
	// Ingest persists a verified event exactly once and schedules processing.
	// Duplicate provider event ids return Duplicate=true with no side effects.
	Ingest(ctx context.Context, cmd IngestWebhookCommand) (WebhookIngestResult, error)
	// Process applies the event's side effects. Failures are re-raised so a
	// retrying queue can redeliver.
	Process(ctx context.Context, eventID string) error
}

// IngestWebhookCommand carries one raw, signature-verified gateway event.
type IngestWebhookCommand struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

// WebhookIngestResult reports the stored event id and whether it was a duplicate.
type WebhookIngestResult struct {
	EventID   string
	Duplicate bool
}

// RefundService validates and executes refunds and refund-cancellations.
type RefundService interface {
	Refund(ctx context.Context, cmd RefundOrderCommand) (RefundResult, error)
}

// RefundOrderCommand requests a refund for an order's payment.
type RefundOrderCommand struct {
	OrderID string
	// Amount in minor units; zero means a full refund.
	Amount int64
	Reason string
	Actor  Actor
}

// RefundResult reports the refund reference and resulting payment status.
type RefundResult struct {
	Order   Order
	Payment Payment
}

// ReaperService sweeps stale unpaid gateway orders.
type ReaperService interface {
	Sweep(ctx context.Context) (ReaperStats, error)
}

// ReaperStats summarises one sweep.
type ReaperStats struct {
	Examined int
	Reaped   int
	Skipped  int
}

// AuditRecord is the input for one audit entry. Actor is nil for
// system/webhook-originated events.
type AuditRecord struct {
	OrderID   string
	EventType string
	OldValue  string
	NewValue  string
	Actor     *Actor
	Metadata  map[string]any
}

// AuditLogService appends lifecycle audit entries. Append failures are logged
// and never propagated; auditing is best-effort by design of the callers.
type AuditLogService interface {
	Record(ctx context.Context, record AuditRecord)
	ListByOrder(ctx context.Context, orderID string, limit int) ([]AuditEntry, error)
}

// WebhookJobMessage is the queue payload for asynchronous webhook processing.
type WebhookJobMessage struct {
	JobID     string `json:"jobId"`
	EventID   string `json:"eventId"`
	Provider  string `json:"provider"`
	EventType string `json:"eventType"`
}

// WebhookJobPublisher hands webhook jobs to the work queue.
type WebhookJobPublisher interface {
	PublishWebhookJob(ctx context.Context, message WebhookJobMessage) (string, error)
}

// WebhookProcessor consumes a stored webhook event. Implemented by WebhookService.
type WebhookProcessor interface {
	Process(ctx context.Context, eventID string) error
}

// BackgroundJobDispatcher schedules webhook processing. Implementations are
// queued (Pub/Sub) or inline (synchronous fallback), selected at startup.
type BackgroundJobDispatcher interface {
	DispatchWebhookJob(ctx context.Context, message WebhookJobMessage) error
}

// NotificationEvent is a fire-and-forget signal for push/real-time delivery.
type NotificationEvent struct {
	Type       string         `json:"type"`
	OrderID    string         `json:"orderId,omitempty"`
	BusinessID string         `json:"businessId,omitempty"`
	UserID     string         `json:"userId,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NotificationPublisher delivers notification events. Failures are logged by
// callers and never affect order or payment state.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, event NotificationEvent) error
}
