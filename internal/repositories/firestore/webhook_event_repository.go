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

const (
	webhookEventsCollection    = "webhookEvents"
	webhookEventKeysCollection = "webhookEventKeys"
)

type webhookEventDocument struct {
	Provider        string     `firestore:"provider"`
	ProviderEventID string     `firestore:"providerEventId"`
	EventType       string     `firestore:"eventType"`
	Payload         []byte     `firestore:"payload"`
	Status          string     `firestore:"status"`
	Error           *string    `firestore:"error,omitempty"`
	CreatedAt       time.Time  `firestore:"createdAt"`
	ProcessedAt     *time.Time `firestore:"processedAt,omitempty"`
}

type webhookEventKeyDocument struct {
	EventID   string    `firestore:"eventId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// WebhookEventRepository implements repositories.WebhookEventRepository backed
// by Firestore. A key document keyed by (provider, provider event id) is
// created atomically with the event document; the create failing with
// AlreadyExists is what makes duplicate deliveries surface as conflicts.
type WebhookEventRepository struct {
	provider *pfirestore.Provider
	events   *pfirestore.BaseRepository[webhookEventDocument]
	keys     *pfirestore.BaseRepository[webhookEventKeyDocument]
}

func NewWebhookEventRepository(provider *pfirestore.Provider) (*WebhookEventRepository, error) {
	if provider == nil {
		return nil, errors.New("webhook event repository requires firestore provider")
	}
	events := pfirestore.NewBaseRepository[webhookEventDocument](provider, webhookEventsCollection, nil)
	keys := pfirestore.NewBaseRepository[webhookEventKeyDocument](provider, webhookEventKeysCollection, nil)
	return &WebhookEventRepository{provider: provider, events: events, keys: keys}, nil
}

func (r *WebhookEventRepository) Insert(ctx context.Context, event domain.WebhookEvent) error {
	if r == nil || r.provider == nil {
		return errors.New("webhook event repository not initialised")
	}
	if strings.TrimSpace(event.ID) == "" {
		return errors.New("webhook event insert: id is required")
	}

	keyID := dedupKeyID(event.Provider, event.ProviderEventID)
	doc := newWebhookEventDocument(event)

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		keyRef, err := r.keys.DocumentRef(ctx, keyID)
		if err != nil {
			return err
		}
		eventRef, err := r.events.DocumentRef(ctx, event.ID)
		if err != nil {
			return err
		}

		key := webhookEventKeyDocument{EventID: event.ID, CreatedAt: doc.CreatedAt}
		if err := tx.Create(keyRef, key); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return pfirestore.NewConflict("webhookEvents.insert",
					fmt.Errorf("event %s already ingested", event.ProviderEventID))
			}
			return err
		}
		return tx.Create(eventRef, doc)
	})
	if err != nil {
		var fsErr *pfirestore.Error
		if errors.As(err, &fsErr) {
			return fsErr
		}
		return pfirestore.WrapError("webhookEvents.insert", err)
	}
	return nil
}

func (r *WebhookEventRepository) FindByID(ctx context.Context, eventID string) (domain.WebhookEvent, error) {
	if r == nil || r.events == nil {
		return domain.WebhookEvent{}, errors.New("webhook event repository not initialised")
	}
	doc, err := r.events.Get(ctx, eventID)
	if err != nil {
		return domain.WebhookEvent{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, eventID string, processedAt time.Time) error {
	return r.mark(ctx, eventID, domain.WebhookEventProcessed, processedAt, nil)
}

func (r *WebhookEventRepository) MarkFailed(ctx context.Context, eventID string, processedAt time.Time, reason string) error {
	reason = strings.TrimSpace(reason)
	return r.mark(ctx, eventID, domain.WebhookEventFailed, processedAt, &reason)
}

func (r *WebhookEventRepository) mark(ctx context.Context, eventID string, newStatus domain.WebhookEventStatus, processedAt time.Time, reason *string) error {
	if r == nil || r.events == nil {
		return errors.New("webhook event repository not initialised")
	}

	ref, err := r.events.DocumentRef(ctx, eventID)
	if err != nil {
		return err
	}

	updates := []firestore.Update{
		{Path: "status", Value: string(newStatus)},
		{Path: "processedAt", Value: processedAt.UTC()},
	}
	if reason != nil {
		updates = append(updates, firestore.Update{Path: "error", Value: *reason})
	}

	if _, err := ref.Update(ctx, updates); err != nil {
		return pfirestore.WrapError("webhookEvents.mark", err)
	}
	return nil
}

// dedupKeyID builds a Firestore-safe document id from the provider event key.
func dedupKeyID(provider, providerEventID string) string {
	key := fmt.Sprintf("%s__%s", strings.TrimSpace(provider), strings.TrimSpace(providerEventID))
	return strings.ReplaceAll(key, "/", "_")
}

func newWebhookEventDocument(event domain.WebhookEvent) webhookEventDocument {
	return webhookEventDocument{
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.EventType,
		Payload:         event.Payload,
		Status:          string(event.Status),
		Error:           event.Error,
		CreatedAt:       event.CreatedAt.UTC(),
		ProcessedAt:     event.ProcessedAt,
	}
}

func (d webhookEventDocument) toDomain(id string) domain.WebhookEvent {
	return domain.WebhookEvent{
		ID:              id,
		Provider:        d.Provider,
		ProviderEventID: d.ProviderEventID,
		EventType:       d.EventType,
		Payload:         d.Payload,
		Status:          domain.WebhookEventStatus(d.Status),
		Error:           d.Error,
		CreatedAt:       d.CreatedAt,
		ProcessedAt:     d.ProcessedAt,
	}
}
