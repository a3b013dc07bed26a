package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
)

type txContextKey struct{}

// WithTx stores the running transaction in the context so repository calls
// made inside a unit of work read and write through it.
func WithTx(ctx context.Context, tx *firestore.Transaction) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext returns the transaction carried by the context, or nil.
func TxFromContext(ctx context.Context) *firestore.Transaction {
	tx, _ := ctx.Value(txContextKey{}).(*firestore.Transaction)
	return tx
}
