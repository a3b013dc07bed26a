package repositories

import (
	"context"
	"time"

	domain "github.com/VNZray/capstone-project-sub001/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Payments() PaymentRepository
	WebhookEvents() WebhookEventRepository
	Products() ProductRepository
	Stock() StockRepository
	Discounts() DiscountRepository
	AuditLogs() AuditLogRepository
	Counters() CounterRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary. Calls made
// with the context passed to fn read and write through the same transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists orders and their immutable line items.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	// UpdateStatus applies a conditional status write guarded by the expected
	// current status. A mismatch surfaces as a conflict.
	UpdateStatus(ctx context.Context, update OrderStatusUpdate) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
	// ListStale returns gateway-paid orders still pending whose creation time
	// is at or before the cutoff. Used by the abandoned-order reaper.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)
}

// OrderStatusUpdate is an optimistic-concurrency status mutation.
type OrderStatusUpdate struct {
	OrderID        string
	ExpectedStatus domain.OrderStatus
	NewStatus      domain.OrderStatus
	Reason         *string
	CancelledAt    *time.Time
	PickedUpAt     *time.Time
	UpdatedAt      time.Time
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	BusinessID string
	UserID     string
	Status     *domain.OrderStatus
	Limit      int
}

// PaymentRepository persists payment records, the single source of truth for payment state.
type PaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	Update(ctx context.Context, payment domain.Payment) error
	FindByID(ctx context.Context, paymentID string) (domain.Payment, error)
	// FindCurrent returns the single non-terminal payment for the target, if any.
	FindCurrent(ctx context.Context, paymentFor domain.PaymentFor, targetID string) (domain.Payment, error)
	FindByProviderIntentID(ctx context.Context, intentID string) (domain.Payment, error)
}

// WebhookEventRepository persists gateway webhook events keyed by provider event id.
type WebhookEventRepository interface {
	// Insert creates the event document keyed by (provider, provider event id).
	// A second insert for the same key surfaces as a conflict; that conflict is
	// the dedup mechanism for duplicate deliveries.
	Insert(ctx context.Context, event domain.WebhookEvent) error
	FindByID(ctx context.Context, eventID string) (domain.WebhookEvent, error)
	MarkProcessed(ctx context.Context, eventID string, processedAt time.Time) error
	MarkFailed(ctx context.Context, eventID string, processedAt time.Time, reason string) error
}

// ProductRepository reads catalog rows for pricing and availability checks.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
}

// StockLine pairs a product with the quantity an order reserves.
type StockLine struct {
	ProductID string
	Quantity  int
}

// StockRepository manages on-hand quantities and the movement history that
// makes restores idempotent.
type StockRepository interface {
	// Decrement subtracts every line's quantity from its product's on-hand
	// count and records a movement row per line. It fails with a conflict when
	// any resulting count would go negative. All lines are read before any
	// write is buffered, so callers sharing a Firestore transaction may buffer
	// their own writes after this call but must finish their reads before it.
	Decrement(ctx context.Context, orderID string, lines []StockLine, now time.Time) error
	// Restore returns previously decremented stock for the order. Quantities
	// are derived from the order's decrement movements; products already
	// restored for the order are skipped.
	Restore(ctx context.Context, orderID string, now time.Time) (int, error)
	OnHand(ctx context.Context, productID string) (domain.Stock, error)
}

// DiscountRepository reads discount codes and tracks usage.
type DiscountRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Discount, error)
	// IncrementUsage bumps the usage counter, failing with a conflict once the
	// usage limit is reached.
	IncrementUsage(ctx context.Context, code string) error
}

// AuditLogRepository appends immutable audit entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
	ListByOrder(ctx context.Context, orderID string, limit int) ([]domain.AuditEntry, error)
}

// CounterRepository issues monotonic sequences for human-readable identifiers.
type CounterRepository interface {
	Next(ctx context.Context, name string, step int64) (int64, error)
}
