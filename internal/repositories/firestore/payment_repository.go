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
)

const paymentsCollection = "payments"

type paymentDocument struct {
	PayerID           string            `firestore:"payerId"`
	PaymentFor        string            `firestore:"paymentFor"`
	PaymentForID      string            `firestore:"paymentForId"`
	Method            string            `firestore:"method"`
	Status            string            `firestore:"status"`
	Amount            int64             `firestore:"amount"`
	Currency          string            `firestore:"currency"`
	ProviderIntentID  string            `firestore:"providerIntentId,omitempty"`
	ProviderPaymentID string            `firestore:"providerPaymentId,omitempty"`
	RefundReference   string            `firestore:"refundReference,omitempty"`
	Metadata          map[string]string `firestore:"metadata,omitempty"`
	CreatedAt         time.Time         `firestore:"createdAt"`
	UpdatedAt         time.Time         `firestore:"updatedAt"`
}

// PaymentRepository implements repositories.PaymentRepository backed by Firestore.
type PaymentRepository struct {
	provider *pfirestore.Provider
	payments *pfirestore.BaseRepository[paymentDocument]
}

func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository requires firestore provider")
	}
	payments := pfirestore.NewBaseRepository[paymentDocument](provider, paymentsCollection, nil)
	return &PaymentRepository{provider: provider, payments: payments}, nil
}

func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	if r == nil || r.payments == nil {
		return errors.New("payment repository not initialised")
	}
	if strings.TrimSpace(payment.ID) == "" {
		return errors.New("payment insert: id is required")
	}
	return r.payments.Create(ctx, payment.ID, newPaymentDocument(payment))
}

func (r *PaymentRepository) Update(ctx context.Context, payment domain.Payment) error {
	if r == nil || r.payments == nil {
		return errors.New("payment repository not initialised")
	}
	if strings.TrimSpace(payment.ID) == "" {
		return errors.New("payment update: id is required")
	}
	return r.payments.Set(ctx, payment.ID, newPaymentDocument(payment))
}

func (r *PaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	if r == nil || r.payments == nil {
		return domain.Payment{}, errors.New("payment repository not initialised")
	}
	doc, err := r.payments.Get(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindCurrent returns the newest payment for the target. Payment creation
// reuses the existing record, so the newest one is the authoritative one.
func (r *PaymentRepository) FindCurrent(ctx context.Context, paymentFor domain.PaymentFor, targetID string) (domain.Payment, error) {
	if r == nil || r.payments == nil {
		return domain.Payment{}, errors.New("payment repository not initialised")
	}
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return domain.Payment{}, errors.New("payment find current: target id is required")
	}

	docs, err := r.payments.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.
			Where("paymentFor", "==", string(paymentFor)).
			Where("paymentForId", "==", targetID).
			OrderBy("createdAt", firestore.Desc).
			Limit(1)
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if len(docs) == 0 {
		return domain.Payment{}, pfirestore.NewNotFound("payments.findCurrent",
			fmt.Errorf("no payment for %s %s", paymentFor, targetID))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

func (r *PaymentRepository) FindByProviderIntentID(ctx context.Context, intentID string) (domain.Payment, error) {
	if r == nil || r.payments == nil {
		return domain.Payment{}, errors.New("payment repository not initialised")
	}
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return domain.Payment{}, errors.New("payment find by intent: intent id is required")
	}

	docs, err := r.payments.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("providerIntentId", "==", intentID).Limit(1)
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if len(docs) == 0 {
		return domain.Payment{}, pfirestore.NewNotFound("payments.findByIntent",
			fmt.Errorf("no payment for intent %s", intentID))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

func newPaymentDocument(payment domain.Payment) paymentDocument {
	return paymentDocument{
		PayerID:           payment.PayerID,
		PaymentFor:        string(payment.PaymentFor),
		PaymentForID:      payment.PaymentForID,
		Method:            string(payment.Method),
		Status:            string(payment.Status),
		Amount:            payment.Amount,
		Currency:          payment.Currency,
		ProviderIntentID:  payment.ProviderIntentID,
		ProviderPaymentID: payment.ProviderPaymentID,
		RefundReference:   payment.RefundReference,
		Metadata:          payment.Metadata,
		CreatedAt:         payment.CreatedAt.UTC(),
		UpdatedAt:         payment.UpdatedAt.UTC(),
	}
}

func (d paymentDocument) toDomain(id string) domain.Payment {
	return domain.Payment{
		ID:                id,
		PayerID:           d.PayerID,
		PaymentFor:        domain.PaymentFor(d.PaymentFor),
		PaymentForID:      d.PaymentForID,
		Method:            domain.PaymentMethod(d.Method),
		Status:            domain.PaymentStatus(d.Status),
		Amount:            d.Amount,
		Currency:          d.Currency,
		ProviderIntentID:  d.ProviderIntentID,
		ProviderPaymentID: d.ProviderPaymentID,
		RefundReference:   d.RefundReference,
		Metadata:          d.Metadata,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}
