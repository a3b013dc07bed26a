package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/VNZray/capstone-project-sub001/internal/domain"
	pfirestore "github.com/VNZray/capstone-project-sub001/internal/platform/firestore"
)

const auditLogsCollection = "auditLogs"

type auditEntryDocument struct {
	OrderID   string         `firestore:"orderId"`
	EventType string         `firestore:"eventType"`
	OldValue  string         `firestore:"oldValue,omitempty"`
	NewValue  string         `firestore:"newValue,omitempty"`
	ActorID   *string        `firestore:"actorId,omitempty"`
	ActorRole *string        `firestore:"actorRole,omitempty"`
	ActorIP   *string        `firestore:"actorIp,omitempty"`
	Metadata  map[string]any `firestore:"metadata,omitempty"`
	CreatedAt time.Time      `firestore:"createdAt"`
}

// AuditLogRepository appends immutable audit entries. Entries are only ever
// created; there is no update or delete path.
type AuditLogRepository struct {
	entries *pfirestore.BaseRepository[auditEntryDocument]
}

func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("audit log repository requires firestore provider")
	}
	entries := pfirestore.NewBaseRepository[auditEntryDocument](provider, auditLogsCollection, nil)
	return &AuditLogRepository{entries: entries}, nil
}

func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditEntry) error {
	if r == nil || r.entries == nil {
		return errors.New("audit log repository not initialised")
	}
	if entry.ID == "" {
		return errors.New("audit append: id is required")
	}
	doc := auditEntryDocument{
		OrderID:   entry.OrderID,
		EventType: entry.EventType,
		OldValue:  entry.OldValue,
		NewValue:  entry.NewValue,
		ActorID:   entry.ActorID,
		ActorRole: entry.ActorRole,
		ActorIP:   entry.ActorIP,
		Metadata:  entry.Metadata,
		CreatedAt: entry.CreatedAt.UTC(),
	}
	return r.entries.Create(ctx, entry.ID, doc)
}

func (r *AuditLogRepository) ListByOrder(ctx context.Context, orderID string, limit int) ([]domain.AuditEntry, error) {
	if r == nil || r.entries == nil {
		return nil, errors.New("audit log repository not initialised")
	}
	if limit <= 0 {
		limit = 100
	}

	docs, err := r.entries.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.
			Where("orderId", "==", orderID).
			OrderBy("createdAt", firestore.Desc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	entries := make([]domain.AuditEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, domain.AuditEntry{
			ID:        doc.ID,
			OrderID:   doc.Data.OrderID,
			EventType: doc.Data.EventType,
			OldValue:  doc.Data.OldValue,
			NewValue:  doc.Data.NewValue,
			ActorID:   doc.Data.ActorID,
			ActorRole: doc.Data.ActorRole,
			ActorIP:   doc.Data.ActorIP,
			Metadata:  doc.Data.Metadata,
			CreatedAt: doc.Data.CreatedAt,
		})
	}
	return entries, nil
}
