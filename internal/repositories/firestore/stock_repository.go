package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/VNZray/capstone-project-sub001/internal/domain"
	pfirestore "github.com/VNZray/capstone-project-sub001/internal/platform/firestore"
	"github.com/VNZray/capstone-project-sub001/internal/repositories"
)

const (
	stockCollection          = "stock"
	stockMovementsCollection = "stockMovements"
)

type stockDocument struct {
	OnHand    int       `firestore:"onHand"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type stockMovementDocument struct {
	OrderID   string    `firestore:"orderId"`
	ProductID string    `firestore:"productId"`
	Quantity  int       `firestore:"qty"`
	Kind      string    `firestore:"kind"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// StockRepository implements repositories.StockRepository backed by Firestore.
// Movement documents use deterministic ids derived from (order, product, kind),
// so a decrement or restore for the same pair can land at most once no matter
// how many times the caller retries.
type StockRepository struct {
	provider  *pfirestore.Provider
	stock     *pfirestore.BaseRepository[stockDocument]
	movements *pfirestore.BaseRepository[stockMovementDocument]
}

func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	stock := pfirestore.NewBaseRepository[stockDocument](provider, stockCollection, nil)
	movements := pfirestore.NewBaseRepository[stockMovementDocument](provider, stockMovementsCollection, nil)
	return &StockRepository{provider: provider, stock: stock, movements: movements}, nil
}

// Decrement subtracts each line's quantity from its product's on-hand count,
// failing with a conflict when any count would go negative. Joins the ambient
// transaction so order creation commits the order and every stock line
// atomically. Firestore rejects transaction reads that follow writes, so all
// stock rows are read up front and the sets and movement creates are buffered
// only after the last read.
func (r *StockRepository) Decrement(ctx context.Context, orderID string, lines []repositories.StockLine, now time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("stock repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return errors.New("stock decrement: order id is required")
	}
	if len(lines) == 0 {
		return nil
	}
	for _, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return errors.New("stock decrement: product id is required")
		}
		if line.Quantity <= 0 {
			return errors.New("stock decrement: quantity must be positive")
		}
	}

	apply := func(ctx context.Context, tx *firestore.Transaction) error {
		type decrementWrite struct {
			stockRef    *firestore.DocumentRef
			movementRef *firestore.DocumentRef
			doc         stockDocument
			qty         int
			productID   string
		}

		writes := make([]decrementWrite, 0, len(lines))
		for _, line := range lines {
			stockRef, err := r.stock.DocumentRef(ctx, line.ProductID)
			if err != nil {
				return err
			}
			movementRef, err := r.movements.DocumentRef(ctx, movementID(orderID, line.ProductID, domain.StockMovementDecrement))
			if err != nil {
				return err
			}

			snap, err := tx.Get(stockRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return pfirestore.NewNotFound("stock.decrement", fmt.Errorf("no stock row for product %s", line.ProductID))
				}
				return pfirestore.WrapError("stock.decrement", err)
			}
			var doc stockDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode stock %s: %w", line.ProductID, err)
			}
			if doc.OnHand < line.Quantity {
				return pfirestore.NewConflict("stock.decrement",
					fmt.Errorf("product %s has %d on hand, need %d", line.ProductID, doc.OnHand, line.Quantity))
			}

			writes = append(writes, decrementWrite{
				stockRef:    stockRef,
				movementRef: movementRef,
				doc:         doc,
				qty:         line.Quantity,
				productID:   line.ProductID,
			})
		}

		for _, w := range writes {
			w.doc.OnHand -= w.qty
			w.doc.UpdatedAt = now.UTC()
			if err := tx.Set(w.stockRef, w.doc); err != nil {
				return pfirestore.WrapError("stock.decrement", err)
			}

			movement := stockMovementDocument{
				OrderID:   orderID,
				ProductID: w.productID,
				Quantity:  w.qty,
				Kind:      string(domain.StockMovementDecrement),
				CreatedAt: now.UTC(),
			}
			if err := tx.Create(w.movementRef, movement); err != nil {
				if status.Code(err) == codes.AlreadyExists {
					return pfirestore.NewConflict("stock.decrement",
						fmt.Errorf("order %s already decremented product %s", orderID, w.productID))
				}
				return pfirestore.WrapError("stock.decrement", err)
			}
		}
		return nil
	}

	if tx := pfirestore.TxFromContext(ctx); tx != nil {
		return apply(ctx, tx)
	}
	return r.provider.RunTransaction(ctx, apply)
}

// Restore returns previously decremented stock for the order and reports how
// many product lines it restored. Lines already restored are skipped, so
// cancellation, refund, and the reaper can all call it safely.
func (r *StockRepository) Restore(ctx context.Context, orderID string, now time.Time) (int, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("stock repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return 0, errors.New("stock restore: order id is required")
	}

	decrements, err := r.movements.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.
			Where("orderId", "==", orderID).
			Where("kind", "==", string(domain.StockMovementDecrement))
	})
	if err != nil {
		return 0, err
	}
	if len(decrements) == 0 {
		return 0, nil
	}

	restored := 0
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		restored = 0

		type pendingRestore struct {
			stockRef   *firestore.DocumentRef
			restoreRef *firestore.DocumentRef
			stockDoc   stockDocument
			qty        int
			productID  string
		}

		// Firestore requires all transaction reads before any write.
		var pending []pendingRestore
		for _, dec := range decrements {
			productID := dec.Data.ProductID
			restoreRef, err := r.movements.DocumentRef(ctx, movementID(orderID, productID, domain.StockMovementRestore))
			if err != nil {
				return err
			}
			if _, err := tx.Get(restoreRef); err == nil {
				continue
			} else if status.Code(err) != codes.NotFound {
				return pfirestore.WrapError("stock.restore", err)
			}

			stockRef, err := r.stock.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(stockRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return pfirestore.NewNotFound("stock.restore", fmt.Errorf("no stock row for product %s", productID))
				}
				return pfirestore.WrapError("stock.restore", err)
			}
			var doc stockDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode stock %s: %w", productID, err)
			}

			pending = append(pending, pendingRestore{
				stockRef:   stockRef,
				restoreRef: restoreRef,
				stockDoc:   doc,
				qty:        dec.Data.Quantity,
				productID:  productID,
			})
		}

		for _, p := range pending {
			p.stockDoc.OnHand += p.qty
			p.stockDoc.UpdatedAt = now.UTC()
			if err := tx.Set(p.stockRef, p.stockDoc); err != nil {
				return pfirestore.WrapError("stock.restore", err)
			}
			movement := stockMovementDocument{
				OrderID:   orderID,
				ProductID: p.productID,
				Quantity:  p.qty,
				Kind:      string(domain.StockMovementRestore),
				CreatedAt: now.UTC(),
			}
			if err := tx.Create(p.restoreRef, movement); err != nil {
				return pfirestore.WrapError("stock.restore", err)
			}
			restored++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return restored, nil
}

func (r *StockRepository) OnHand(ctx context.Context, productID string) (domain.Stock, error) {
	if r == nil || r.stock == nil {
		return domain.Stock{}, errors.New("stock repository not initialised")
	}
	doc, err := r.stock.Get(ctx, productID)
	if err != nil {
		return domain.Stock{}, err
	}
	return domain.Stock{
		ProductID: doc.ID,
		OnHand:    doc.Data.OnHand,
		UpdatedAt: doc.Data.UpdatedAt,
	}, nil
}

func movementID(orderID, productID string, kind domain.StockMovementKind) string {
	return fmt.Sprintf("%s__%s__%s", orderID, productID, kind)
}
