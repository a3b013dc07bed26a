package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/VNZray/capstone-project-sub001/internal/domain"
	pfirestore "github.com/VNZray/capstone-project-sub001/internal/platform/firestore"
	"github.com/VNZray/capstone-project-sub001/internal/repositories"
)

const ordersCollection = "orders"

type orderItemDocument struct {
	ID              string    `firestore:"id"`
	ProductID       string    `firestore:"productId"`
	Quantity        int       `firestore:"qty"`
	UnitPrice       int64     `firestore:"unitPrice"`
	TotalPrice      int64     `firestore:"totalPrice"`
	SpecialRequests string    `firestore:"specialRequests,omitempty"`
	CreatedAt       time.Time `firestore:"createdAt"`
}

type orderDocument struct {
	OrderNumber    string              `firestore:"orderNumber"`
	BusinessID     string              `firestore:"businessId"`
	UserID         string              `firestore:"userId"`
	Status         string              `firestore:"status"`
	PaymentMethod  string              `firestore:"paymentMethod"`
	Subtotal       int64               `firestore:"subtotal"`
	DiscountAmount int64               `firestore:"discountAmount"`
	TaxAmount      int64               `firestore:"taxAmount"`
	TotalAmount    int64               `firestore:"totalAmount"`
	Currency       string              `firestore:"currency"`
	DiscountCode   *string             `firestore:"discountCode,omitempty"`
	PickupAt       time.Time           `firestore:"pickupAt"`
	ArrivalCode    string              `firestore:"arrivalCode"`
	Instructions   *string             `firestore:"instructions,omitempty"`
	CancelReason   *string             `firestore:"cancelReason,omitempty"`
	CancelledAt    *time.Time          `firestore:"cancelledAt,omitempty"`
	PickedUpAt     *time.Time          `firestore:"pickedUpAt,omitempty"`
	Items          []orderItemDocument `firestore:"items"`
	CreatedAt      time.Time           `firestore:"createdAt"`
	UpdatedAt      time.Time           `firestore:"updatedAt"`
}

// OrderRepository implements repositories.OrderRepository backed by Firestore.
// Line items are embedded in the order document; they are immutable after
// creation so there is nothing to update independently.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	orders := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil)
	return &OrderRepository{provider: provider, orders: orders}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order insert: id is required")
	}
	return r.orders.Create(ctx, order.ID, newOrderDocument(order))
}

// UpdateStatus applies the status change only when the stored status still
// matches the expected one; a mismatch surfaces as a conflict. Runs inside the
// ambient transaction when one is present, otherwise in its own.
func (r *OrderRepository) UpdateStatus(ctx context.Context, update repositories.OrderStatusUpdate) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(update.OrderID) == "" {
		return errors.New("order update status: order id is required")
	}

	apply := func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, update.OrderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError("orders.updateStatus", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", update.OrderID, err)
		}
		if doc.Status != string(update.ExpectedStatus) {
			return pfirestore.NewConflict("orders.updateStatus",
				fmt.Errorf("order %s is %q, expected %q", update.OrderID, doc.Status, update.ExpectedStatus))
		}

		updates := []firestore.Update{
			{Path: "status", Value: string(update.NewStatus)},
			{Path: "updatedAt", Value: update.UpdatedAt.UTC()},
		}
		if update.Reason != nil {
			updates = append(updates, firestore.Update{Path: "cancelReason", Value: *update.Reason})
		}
		if update.CancelledAt != nil {
			updates = append(updates, firestore.Update{Path: "cancelledAt", Value: update.CancelledAt.UTC()})
		}
		if update.PickedUpAt != nil {
			updates = append(updates, firestore.Update{Path: "pickedUpAt", Value: update.PickedUpAt.UTC()})
		}
		if err := tx.Update(ref, updates); err != nil {
			return pfirestore.WrapError("orders.updateStatus", err)
		}
		return nil
	}

	if tx := pfirestore.TxFromContext(ctx); tx != nil {
		return apply(ctx, tx)
	}
	return r.provider.RunTransaction(ctx, apply)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if r == nil || r.orders == nil {
		return nil, errors.New("order repository not initialised")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	docs, err := r.orders.Query(ctx, func(query firestore.Query) firestore.Query {
		if businessID := strings.TrimSpace(filter.BusinessID); businessID != "" {
			query = query.Where("businessId", "==", businessID)
		}
		if userID := strings.TrimSpace(filter.UserID); userID != "" {
			query = query.Where("userId", "==", userID)
		}
		if filter.Status != nil {
			query = query.Where("status", "==", string(*filter.Status))
		}
		return query.OrderBy("createdAt", firestore.Desc).Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return orders, nil
}

func (r *OrderRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	if r == nil || r.orders == nil {
		return nil, errors.New("order repository not initialised")
	}
	if limit <= 0 {
		limit = 50
	}

	docs, err := r.orders.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.
			Where("status", "==", string(domain.OrderStatusPending)).
			Where("createdAt", "<=", cutoff.UTC()).
			OrderBy("createdAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return orders, nil
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ID:              item.ID,
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			UnitPrice:       item.UnitPrice,
			TotalPrice:      item.TotalPrice,
			SpecialRequests: strings.TrimSpace(item.SpecialRequests),
			CreatedAt:       item.CreatedAt.UTC(),
		}
	}
	return orderDocument{
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
		PickupAt:       order.PickupAt.UTC(),
		ArrivalCode:    order.ArrivalCode,
		Instructions:   order.Instructions,
		CancelReason:   order.CancelReason,
		CancelledAt:    order.CancelledAt,
		PickedUpAt:     order.PickedUpAt,
		Items:          items,
		CreatedAt:      order.CreatedAt.UTC(),
		UpdatedAt:      order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ID:              item.ID,
			OrderID:         id,
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			UnitPrice:       item.UnitPrice,
			TotalPrice:      item.TotalPrice,
			SpecialRequests: item.SpecialRequests,
			CreatedAt:       item.CreatedAt,
		}
	}
	return domain.Order{
		ID:             id,
		OrderNumber:    d.OrderNumber,
		BusinessID:     d.BusinessID,
		UserID:         d.UserID,
		Status:         domain.OrderStatus(d.Status),
		PaymentMethod:  domain.PaymentMethod(d.PaymentMethod),
		Subtotal:       d.Subtotal,
		DiscountAmount: d.DiscountAmount,
		TaxAmount:      d.TaxAmount,
		TotalAmount:    d.TotalAmount,
		Currency:       d.Currency,
		DiscountCode:   d.DiscountCode,
		PickupAt:       d.PickupAt,
		ArrivalCode:    d.ArrivalCode,
		Instructions:   d.Instructions,
		CancelReason:   d.CancelReason,
		CancelledAt:    d.CancelledAt,
		PickedUpAt:     d.PickedUpAt,
		Items:          items,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}
