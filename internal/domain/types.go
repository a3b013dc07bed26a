package domain

import (
	"time"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was placed and awaits merchant acceptance.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusAccepted indicates the merchant has accepted the order.
	OrderStatusAccepted OrderStatus = "accepted"
	// OrderStatusPreparing indicates the merchant is preparing the order.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusReadyForPickup indicates the order is ready for the customer to collect.
	OrderStatusReadyForPickup OrderStatus = "ready_for_pickup"
	// OrderStatusPickedUp indicates the customer collected the order. Terminal.
	OrderStatusPickedUp OrderStatus = "picked_up"
	// OrderStatusCancelledByUser indicates the customer cancelled within the grace window. Terminal.
	OrderStatusCancelledByUser OrderStatus = "cancelled_by_user"
	// OrderStatusCancelledByBusiness indicates the merchant cancelled the order. Terminal.
	OrderStatusCancelledByBusiness OrderStatus = "cancelled_by_business"
	// OrderStatusFailedPayment indicates the gateway payment failed or timed out. Terminal.
	OrderStatusFailedPayment OrderStatus = "failed_payment"
	// OrderStatusRefunded indicates the order was refunded after payment. Terminal.
	OrderStatusRefunded OrderStatus = "refunded"
)

// IsTerminal reports whether the status has no legal outgoing transition.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusPickedUp, OrderStatusCancelledByUser, OrderStatusCancelledByBusiness,
		OrderStatusFailedPayment, OrderStatusRefunded:
		return true
	}
	return false
}

// PaymentMethod identifies how the customer pays for an order.
type PaymentMethod string

const (
	// PaymentMethodCashOnPickup settles in person, no gateway involvement.
	PaymentMethodCashOnPickup PaymentMethod = "cash_on_pickup"
	// PaymentMethodCard pays through the gateway with a card attached client-side.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodGCash pays through the gateway with a GCash wallet.
	PaymentMethodGCash PaymentMethod = "gcash"
	// PaymentMethodGrabPay pays through the gateway with a GrabPay wallet.
	PaymentMethodGrabPay PaymentMethod = "grab_pay"
	// PaymentMethodPayMaya pays through the gateway with a Maya wallet.
	PaymentMethodPayMaya PaymentMethod = "paymaya"
)

// RequiresGateway reports whether the method settles through the payment gateway.
func (m PaymentMethod) RequiresGateway() bool {
	return m != "" && m != PaymentMethodCashOnPickup
}

// WalletMethods lists gateway subtypes that attach payment methods server-side.
// Card flows attach client-side and are only recorded.
var WalletMethods = []PaymentMethod{PaymentMethodGCash, PaymentMethodGrabPay, PaymentMethodPayMaya}

// Order is a customer purchase against a single business, collected in person.
// Payment state is never stored on the order; it is always read through the
// associated Payment record.
type Order struct {
	ID             string
	OrderNumber    string
	BusinessID     string
	UserID         string
	Status         OrderStatus
	PaymentMethod  PaymentMethod
	Subtotal       int64
	DiscountAmount int64
	TaxAmount      int64
	TotalAmount    int64
	Currency       string
	DiscountCode   *string
	PickupAt       time.Time
	ArrivalCode    string
	Instructions   *string
	CancelReason   *string
	CancelledAt    *time.Time
	PickedUpAt     *time.Time
	Items          []OrderItem
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderItem snapshots one cart line at order time. Immutable after creation.
type OrderItem struct {
	ID              string
	OrderID         string
	ProductID       string
	Quantity        int
	UnitPrice       int64
	TotalPrice      int64
	SpecialRequests string
	CreatedAt       time.Time
}

// PaymentStatus enumerates payment lifecycle states.
type PaymentStatus string

const (
	// PaymentStatusPending indicates the payment awaits gateway confirmation.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid indicates the gateway confirmed the payment.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed indicates the gateway reported failure. Terminal.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded indicates the payment was refunded in full. Terminal.
	PaymentStatusRefunded PaymentStatus = "refunded"
	// PaymentStatusPendingRefund indicates a refund was requested and awaits the gateway.
	PaymentStatusPendingRefund PaymentStatus = "pending_refund"
)

// IsTerminal reports whether the payment can still change state.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusFailed || s == PaymentStatusRefunded
}

// PaymentFor identifies the record a payment settles.
type PaymentFor string

const (
	// PaymentForOrder marks a payment attached to an order.
	PaymentForOrder PaymentFor = "order"
	// PaymentForBooking marks a payment attached to a booking.
	PaymentForBooking PaymentFor = "booking"
)

// Payment is the single source of truth for payment state. At most one
// non-terminal payment exists per (PaymentFor, PaymentForID).
type Payment struct {
	ID                string
	PayerID           string
	PaymentFor        PaymentFor
	PaymentForID      string
	Method            PaymentMethod
	Status            PaymentStatus
	Amount            int64
	Currency          string
	ProviderIntentID  string
	ProviderPaymentID string
	RefundReference   string
	Metadata          map[string]string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// WebhookEventStatus enumerates webhook processing states.
type WebhookEventStatus string

const (
	// WebhookEventPending indicates the event is persisted and awaits processing.
	WebhookEventPending WebhookEventStatus = "pending"
	// WebhookEventProcessed indicates processing completed. Terminal.
	WebhookEventProcessed WebhookEventStatus = "processed"
	// WebhookEventFailed indicates processing failed after retries. Terminal.
	WebhookEventFailed WebhookEventStatus = "failed"
)

// WebhookEvent stores one gateway notification. ProviderEventID is the dedup
// key: an event id is persisted at most once regardless of delivery count.
type WebhookEvent struct {
	ID              string
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
	Status          WebhookEventStatus
	Error           *string
	CreatedAt       time.Time
	ProcessedAt     *time.Time
}

// ActorRole enumerates the independent actors that drive order lifecycle.
type ActorRole string

const (
	// RoleCustomer is the customer who owns the order.
	RoleCustomer ActorRole = "customer"
	// RoleMerchantOwner owns the business the order was placed against.
	RoleMerchantOwner ActorRole = "merchant_owner"
	// RoleMerchantStaff works for the business the order was placed against.
	RoleMerchantStaff ActorRole = "merchant_staff"
	// RolePlatformAdmin administers the platform.
	RolePlatformAdmin ActorRole = "platform_admin"
	// RoleSystem marks automated actions (reaper, webhook processor).
	RoleSystem ActorRole = "system"
)

// Actor identifies who requested a mutation. Resolved by the outer auth layer.
type Actor struct {
	ID   string
	Role ActorRole
	IP   string
}

// AuditEntry is an append-only lifecycle record. Never updated or deleted.
type AuditEntry struct {
	ID        string
	OrderID   string
	EventType string
	OldValue  string
	NewValue  string
	ActorID   *string
	ActorRole *string
	ActorIP   *string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Product is the sellable catalog row orders snapshot prices from.
type Product struct {
	ID         string
	BusinessID string
	Name       string
	Price      int64
	Currency   string
	Sellable   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Stock tracks on-hand quantity per product.
type Stock struct {
	ProductID string
	OnHand    int
	UpdatedAt time.Time
}

// StockMovementKind distinguishes decrement and restore history rows.
type StockMovementKind string

const (
	// StockMovementDecrement records stock reserved at order creation.
	StockMovementDecrement StockMovementKind = "decrement"
	// StockMovementRestore records stock returned by cancellation or the reaper.
	StockMovementRestore StockMovementKind = "restore"
)

// StockMovement records one stock mutation tied to an order, so restores can
// be checked for idempotence against the decrement history.
type StockMovement struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int
	Kind      StockMovementKind
	CreatedAt time.Time
}

// DiscountKind enumerates supported discount computations.
type DiscountKind string

const (
	// DiscountPercentage deducts a percentage of the subtotal, optionally capped.
	DiscountPercentage DiscountKind = "percentage"
	// DiscountFixed deducts a fixed amount.
	DiscountFixed DiscountKind = "fixed"
)

// Discount is a promotional code validated during order creation.
type Discount struct {
	Code       string
	BusinessID string
	Kind       DiscountKind
	// Value is a percentage in basis points for percentage discounts, or an
	// amount in minor units for fixed discounts.
	Value      int64
	MaxAmount  int64
	UsageLimit int
	UsageCount int
	Active     bool
	ExpiresAt  *time.Time
}
