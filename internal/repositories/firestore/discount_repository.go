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
)

const discountsCollection = "discounts"

type discountDocument struct {
	BusinessID string     `firestore:"businessId,omitempty"`
	Kind       string     `firestore:"kind"`
	Value      int64      `firestore:"value"`
	MaxAmount  int64      `firestore:"maxAmount,omitempty"`
	UsageLimit int        `firestore:"usageLimit,omitempty"`
	UsageCount int        `firestore:"usageCount"`
	Active     bool       `firestore:"active"`
	ExpiresAt  *time.Time `firestore:"expiresAt,omitempty"`
}

// DiscountRepository implements repositories.DiscountRepository backed by
// Firestore. Documents are keyed by the normalised code.
type DiscountRepository struct {
	provider  *pfirestore.Provider
	discounts *pfirestore.BaseRepository[discountDocument]
}

func NewDiscountRepository(provider *pfirestore.Provider) (*DiscountRepository, error) {
	if provider == nil {
		return nil, errors.New("discount repository requires firestore provider")
	}
	discounts := pfirestore.NewBaseRepository[discountDocument](provider, discountsCollection, nil)
	return &DiscountRepository{provider: provider, discounts: discounts}, nil
}

func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (domain.Discount, error) {
	if r == nil || r.discounts == nil {
		return domain.Discount{}, errors.New("discount repository not initialised")
	}
	doc, err := r.discounts.Get(ctx, normaliseCode(code))
	if err != nil {
		return domain.Discount{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// IncrementUsage bumps the usage counter, failing with a conflict once the
// usage limit is exhausted. Joins the ambient transaction when present so the
// bump commits with the order.
func (r *DiscountRepository) IncrementUsage(ctx context.Context, code string) error {
	if r == nil || r.provider == nil {
		return errors.New("discount repository not initialised")
	}
	id := normaliseCode(code)
	if id == "" {
		return errors.New("discount increment usage: code is required")
	}

	if tx := pfirestore.TxFromContext(ctx); tx != nil {
		// Inside a unit of work the caller already read the discount through
		// this transaction, so the limit check happened against the read set
		// and commit-time validation catches concurrent bumps. A blind
		// transform keeps reads ahead of writes within the transaction.
		ref, err := r.discounts.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.Update(ref, []firestore.Update{
			{Path: "usageCount", Value: firestore.Increment(1)},
		}); err != nil {
			return pfirestore.WrapError("discounts.incrementUsage", err)
		}
		return nil
	}

	apply := func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.discounts.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.NewNotFound("discounts.incrementUsage", fmt.Errorf("discount %s not found", id))
			}
			return pfirestore.WrapError("discounts.incrementUsage", err)
		}
		var doc discountDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode discount %s: %w", id, err)
		}
		if doc.UsageLimit > 0 && doc.UsageCount >= doc.UsageLimit {
			return pfirestore.NewConflict("discounts.incrementUsage",
				fmt.Errorf("discount %s usage limit %d reached", id, doc.UsageLimit))
		}

		if err := tx.Update(ref, []firestore.Update{
			{Path: "usageCount", Value: doc.UsageCount + 1},
		}); err != nil {
			return pfirestore.WrapError("discounts.incrementUsage", err)
		}
		return nil
	}

	return r.provider.RunTransaction(ctx, apply)
}

func normaliseCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (d discountDocument) toDomain(code string) domain.Discount {
	return domain.Discount{
		Code:       code,
		BusinessID: d.BusinessID,
		Kind:       domain.DiscountKind(d.Kind),
		Value:      d.Value,
		MaxAmount:  d.MaxAmount,
		UsageLimit: d.UsageLimit,
		UsageCount: d.UsageCount,
		Active:     d.Active,
		ExpiresAt:  d.ExpiresAt,
	}
}
