package firestore

import (
	"context"
	"errors"
	"time"

	domain "github.com/VNZray/capstone-project-sub001/internal/domain"
	pfirestore "github.com/VNZray/capstone-project-sub001/internal/platform/firestore"
)

const productsCollection = "products"

type productDocument struct {
	BusinessID string    `firestore:"businessId"`
	Name       string    `firestore:"name"`
	Price      int64     `firestore:"price"`
	Currency   string    `firestore:"currency"`
	Sellable   bool      `firestore:"sellable"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

// ProductRepository reads catalog rows for pricing and availability checks.
type ProductRepository struct {
	products *pfirestore.BaseRepository[productDocument]
}

func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	products := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil)
	return &ProductRepository{products: products}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{
		ID:         doc.ID,
		BusinessID: doc.Data.BusinessID,
		Name:       doc.Data.Name,
		Price:      doc.Data.Price,
		Currency:   doc.Data.Currency,
		Sellable:   doc.Data.Sellable,
		CreatedAt:  doc.Data.CreatedAt,
		UpdatedAt:  doc.Data.UpdatedAt,
	}, nil
}
