package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/VNZray/capstone-project-sub001/internal/platform/firestore"
	"github.com/VNZray/capstone-project-sub001/internal/repositories"
)

// Registry wires the Firestore-backed repositories behind the repositories.Registry
// contract and carries the shared transaction boundary.
type Registry struct {
	provider *pfirestore.Provider

	orders    *OrderRepository
	payments  *PaymentRepository
	webhooks  *WebhookEventRepository
	products  *ProductRepository
	stock     *StockRepository
	discounts *DiscountRepository
	auditLogs *AuditLogRepository
	counters  *CounterRepository
}

// NewRegistry constructs every repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build order repository: %w", err)
	}
	payments, err := NewPaymentRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build payment repository: %w", err)
	}
	webhooks, err := NewWebhookEventRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build webhook event repository: %w", err)
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build product repository: %w", err)
	}
	stock, err := NewStockRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build stock repository: %w", err)
	}
	discounts, err := NewDiscountRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build discount repository: %w", err)
	}
	auditLogs, err := NewAuditLogRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build audit log repository: %w", err)
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build counter repository: %w", err)
	}

	return &Registry{
		provider:  provider,
		orders:    orders,
		payments:  payments,
		webhooks:  webhooks,
		products:  products,
		stock:     stock,
		discounts: discounts,
		auditLogs: auditLogs,
		counters:  counters,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// RunInTx executes fn inside a single Firestore transaction. The transaction is
// threaded through the context so repository calls made with that context read
// and write atomically; the SDK retries the function on contention, so fn must
// be safe to re-run.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	if pfirestore.TxFromContext(ctx) != nil {
		// Already inside a transaction; join it.
		return fn(ctx)
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(pfirestore.WithTx(ctx, tx))
	})
}

func (r *Registry) Orders() repositories.OrderRepository              { return r.orders }
func (r *Registry) Payments() repositories.PaymentRepository          { return r.payments }
func (r *Registry) WebhookEvents() repositories.WebhookEventRepository { return r.webhooks }
func (r *Registry) Products() repositories.ProductRepository          { return r.products }
func (r *Registry) Stock() repositories.StockRepository               { return r.stock }
func (r *Registry) Discounts() repositories.DiscountRepository        { return r.discounts }
func (r *Registry) AuditLogs() repositories.AuditLogRepository        { return r.auditLogs }
func (r *Registry) Counters() repositories.CounterRepository          { return r.counters }
