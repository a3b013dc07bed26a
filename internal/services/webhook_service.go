package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	domain "github.com/VNZray/capstone-project-sub001/internal/domain"
	"github.com/VNZray/capstone-project-sub001/internal/repositories"
)

const (
	webhookEventIDPrefix = "whe_"

	// Gateway event types this processor understands.
	gatewayEventPaymentSucceeded = "payment_intent.succeeded"
	gatewayEventPaymentFailed    = "payment_intent.payment_failed"
	gatewayEventRefundSucceeded  = "charge.refunded"

	auditEventPaymentConfirmed = "payment.confirmed"
	auditEventPaymentFailed    = "payment.failed"
	auditEventPaymentRefunded  = "payment.refunded"
)

var (
	// ErrWebhookInvalidInput signals a malformed ingestion request.
	ErrWebhookInvalidInput = errors.New("webhook: invalid input")
	// ErrWebhookEventNotFound indicates the stored event could not be located.
	ErrWebhookEventNotFound = errors.New("webhook: event not found")
)

// gatewayEventEnvelope is the subset of the provider payload the processor reads.
type gatewayEventEnvelope struct {
	Data struct {
		Object struct {
			ID            string            `json:"id"`
			Amount        int64             `json:"amount"`
			LatestCharge  string            `json:"latest_charge"`
			PaymentIntent string            `json:"payment_intent"`
			Metadata      map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// WebhookServiceDeps bundles collaborators for the webhook service.
type WebhookServiceDeps struct {
	Events        repositories.WebhookEventRepository
	Payments      repositories.PaymentRepository
	Orders        repositories.OrderRepository
	Stock         repositories.StockRepository
	Dispatcher    BackgroundJobDispatcher
	Audit         AuditLogService
	Notifications NotificationPublisher
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type webhookService struct {
	events        repositories.WebhookEventRepository
	payments      repositories.PaymentRepository
	orders        repositories.OrderRepository
	stock         repositories.StockRepository
	dispatcher    BackgroundJobDispatcher
	audit         AuditLogService
	notifications NotificationPublisher
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewWebhookService wires dependencies into a concrete WebhookService.
func NewWebhookService(deps WebhookServiceDeps) (WebhookService, error) {
	if deps.Events == nil {
		return nil, errors.New("webhook service: event repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("webhook service: payment repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("webhook service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &webhookService{
		events:        deps.Events,
		payments:      deps.Payments,
		orders:        deps.Orders,
		stock:         deps.Stock,
		dispatcher:    deps.Dispatcher,
		audit:         deps.Audit,
		notifications: deps.Notifications,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Ingest persists the event exactly once and schedules processing. The unique
// provider event id write is the at-most-once enqueue mechanism: concurrent
// duplicate deliveries racing on insert have exactly one winner, and losers
// report Duplicate=true with no side effects.
func (s *webhookService) Ingest(ctx context.Context, cmd IngestWebhookCommand) (WebhookIngestResult, error) {
	provider := strings.TrimSpace(cmd.Provider)
	providerEventID := strings.TrimSpace(cmd.ProviderEventID)
	if provider == "" || providerEventID == "" {
		return WebhookIngestResult{}, fmt.Errorf("%w: provider and event id are required", ErrWebhookInvalidInput)
	}

	event := WebhookEvent{
		ID:              webhookEventIDPrefix + s.newID(),
		Provider:        provider,
		ProviderEventID: providerEventID,
		EventType:       strings.TrimSpace(cmd.EventType),
		Payload:         cmd.Payload,
		Status:          domain.WebhookEventPending,
		CreatedAt:       s.clock(),
	}

	if err := s.events.Insert(ctx, event); err != nil {
		if isConflict(err) {
			return WebhookIngestResult{Duplicate: true}, nil
		}
		return WebhookIngestResult{}, s.mapRepositoryError(err)
	}

	if s.dispatcher != nil {
		message := WebhookJobMessage{
			JobID:     uuid.NewString(),
			EventID:   event.ID,
			Provider:  event.Provider,
			EventType: event.EventType,
		}
		if err := s.dispatcher.DispatchWebhookJob(ctx, message); err != nil {
			// The event is durably stored as pending; dispatch failure is not an
			// ingestion failure for the caller.
			s.logger(ctx, "webhook.dispatch.failed", map[string]any{
				"event": event.ID,
				"error": err.Error(),
			})
		}
	}

	return WebhookIngestResult{EventID: event.ID}, nil
}

// Process applies the stored event's side effects. Mutation failures mark the
// event failed and are re-raised so a retrying queue can redeliver.
func (s *webhookService) Process(ctx context.Context, eventID string) error {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("%w: event id is required", ErrWebhookInvalidInput)
	}

	event, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if event.Status == domain.WebhookEventProcessed {
		return nil
	}

	now := s.clock()

	if err := s.applyEvent(ctx, event, now); err != nil {
		if markErr := s.events.MarkFailed(ctx, event.ID, now, err.Error()); markErr != nil {
			s.logger(ctx, "webhook.mark.failed.error", map[string]any{
				"event": event.ID,
				"error": markErr.Error(),
			})
		}
		return err
	}

	if err := s.events.MarkProcessed(ctx, event.ID, now); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *webhookService) applyEvent(ctx context.Context, event WebhookEvent, now time.Time) error {
	switch event.EventType {
	case gatewayEventPaymentSucceeded, gatewayEventPaymentFailed, gatewayEventRefundSucceeded:
	default:
		s.logger(ctx, "webhook.event.ignored", map[string]any{
			"event": event.ID,
			"type":  event.EventType,
		})
		return nil
	}

	var envelope gatewayEventEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		// Malformed payloads cannot succeed on retry.
		s.logger(ctx, "webhook.payload.unparseable", map[string]any{
			"event": event.ID,
			"error": err.Error(),
		})
		return nil
	}

	object := envelope.Data.Object
	intentID := object.ID
	if event.EventType == gatewayEventRefundSucceeded && object.PaymentIntent != "" {
		intentID = object.PaymentIntent
	}

	payment, ok := s.resolvePayment(ctx, object.Metadata["paymentId"], intentID)
	if !ok {
		// Provider inconsistency; retrying cannot resolve it either.
		s.logger(ctx, "webhook.event.unresolvable", map[string]any{
			"event":  event.ID,
			"type":   event.EventType,
			"intent": intentID,
		})
		return errors.New("webhook: payment not resolvable from event payload")
	}

	switch event.EventType {
	case gatewayEventPaymentSucceeded:
		return s.applyPaymentSucceeded(ctx, payment, object.LatestCharge, now)
	case gatewayEventPaymentFailed:
		return s.applyPaymentFailed(ctx, payment, now)
	case gatewayEventRefundSucceeded:
		return s.applyRefundSucceeded(ctx, payment, object.ID, now)
	}
	return nil
}

func (s *webhookService) applyPaymentSucceeded(ctx context.Context, payment Payment, chargeID string, now time.Time) error {
	if payment.Status == domain.PaymentStatusPaid {
		// Redelivery after the mutation landed; absorb without side effects.
		return nil
	}

	prev := payment.Status
	payment.Status = domain.PaymentStatusPaid
	if chargeID != "" {
		payment.ProviderPaymentID = chargeID
	}
	payment.Metadata = ensureStringMap(payment.Metadata)
	payment.Metadata[metadataKeyIntentStatus] = "succeeded"
	payment.UpdatedAt = now

	if err := s.payments.Update(ctx, payment); err != nil {
		return s.mapRepositoryError(err)
	}

	// Fulfilment transitions stay separately gated; the paid payment row is
	// what unlocks them.
	order, err := s.orders.FindByID(ctx, payment.PaymentForID)
	if err != nil && !isNotFound(err) {
		return s.mapRepositoryError(err)
	}

	s.recordAudit(ctx, AuditRecord{
		OrderID:   payment.PaymentForID,
		EventType: auditEventPaymentConfirmed,
		OldValue:  string(prev),
		NewValue:  string(domain.PaymentStatusPaid),
		Metadata:  map[string]any{"paymentId": payment.ID},
	})

	s.notify(ctx, NotificationEvent{
		Type:       auditEventPaymentConfirmed,
		OrderID:    payment.PaymentForID,
		BusinessID: order.BusinessID,
		UserID:     payment.PayerID,
		OccurredAt: now,
		Metadata:   map[string]any{"paymentId": payment.ID},
	})

	return nil
}

func (s *webhookService) applyPaymentFailed(ctx context.Context, payment Payment, now time.Time) error {
	if payment.Status == domain.PaymentStatusFailed {
		return nil
	}

	prev := payment.Status
	payment.Status = domain.PaymentStatusFailed
	payment.Metadata = ensureStringMap(payment.Metadata)
	payment.Metadata[metadataKeyIntentStatus] = "failed"
	payment.UpdatedAt = now

	if err := s.payments.Update(ctx, payment); err != nil {
		return s.mapRepositoryError(err)
	}

	// A failed-payment order is terminal and invisible to the reaper, so its
	// reserved stock comes back here or not at all.
	if s.failOrder(ctx, payment.PaymentForID, now) {
		s.restoreStock(ctx, payment.PaymentForID, now)
	}

	s.recordAudit(ctx, AuditRecord{
		OrderID:   payment.PaymentForID,
		EventType: auditEventPaymentFailed,
		OldValue:  string(prev),
		NewValue:  string(domain.PaymentStatusFailed),
		Metadata:  map[string]any{"paymentId": payment.ID},
	})

	return nil
}

func (s *webhookService) applyRefundSucceeded(ctx context.Context, payment Payment, refundRef string, now time.Time) error {
	if payment.Status == domain.PaymentStatusRefunded {
		return nil
	}

	prev := payment.Status
	payment.Status = domain.PaymentStatusRefunded
	if refundRef != "" && payment.RefundReference == "" {
		payment.RefundReference = refundRef
	}
	payment.UpdatedAt = now

	if err := s.payments.Update(ctx, payment); err != nil {
		return s.mapRepositoryError(err)
	}

	order, err := s.orders.FindByID(ctx, payment.PaymentForID)
	if err == nil && !order.Status.IsTerminal() {
		update := repositories.OrderStatusUpdate{
			OrderID:        order.ID,
			ExpectedStatus: order.Status,
			NewStatus:      domain.OrderStatusRefunded,
			UpdatedAt:      now,
		}
		if err := s.orders.UpdateStatus(ctx, update); err != nil {
			if !isConflict(err) {
				return s.mapRepositoryError(err)
			}
		} else {
			s.restoreStock(ctx, order.ID, now)
		}
	}

	s.recordAudit(ctx, AuditRecord{
		OrderID:   payment.PaymentForID,
		EventType: auditEventPaymentRefunded,
		OldValue:  string(prev),
		NewValue:  string(domain.PaymentStatusRefunded),
		Metadata:  map[string]any{"paymentId": payment.ID, "refundReference": payment.RefundReference},
	})

	s.notify(ctx, NotificationEvent{
		Type:       auditEventPaymentRefunded,
		OrderID:    payment.PaymentForID,
		UserID:     payment.PayerID,
		OccurredAt: now,
		Metadata:   map[string]any{"paymentId": payment.ID},
	})

	return nil
}

// failOrder moves the order to failed_payment, treating a racing status change
// as already handled. It reports whether this call performed the transition.
func (s *webhookService) failOrder(ctx context.Context, orderID string, now time.Time) bool {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if !isNotFound(err) {
			s.logger(ctx, "webhook.order.lookup.failed", map[string]any{"order": orderID, "error": err.Error()})
		}
		return false
	}
	if order.Status.IsTerminal() {
		return false
	}

	update := repositories.OrderStatusUpdate{
		OrderID:        order.ID,
		ExpectedStatus: order.Status,
		NewStatus:      domain.OrderStatusFailedPayment,
		UpdatedAt:      now,
	}
	if err := s.orders.UpdateStatus(ctx, update); err != nil {
		if !isConflict(err) {
			s.logger(ctx, "webhook.order.fail.failed", map[string]any{"order": orderID, "error": err.Error()})
		}
		return false
	}
	return true
}

// restoreStock returns the order's reserved quantities. Restore is idempotent,
// so a redelivered event that re-enters here cannot double the count.
func (s *webhookService) restoreStock(ctx context.Context, orderID string, now time.Time) {
	if s.stock == nil {
		return
	}
	if _, err := s.stock.Restore(ctx, orderID, now); err != nil {
		s.logger(ctx, "webhook.stock.restore.failed", map[string]any{"order": orderID, "error": err.Error()})
	}
}

// resolvePayment prefers the payment id the intent metadata carries and falls
// back to the provider intent id when the metadata is missing.
func (s *webhookService) resolvePayment(ctx context.Context, paymentID, intentID string) (Payment, bool) {
	if id := strings.TrimSpace(paymentID); id != "" {
		payment, err := s.payments.FindByID(ctx, id)
		if err == nil {
			return payment, true
		}
		if !isNotFound(err) {
			s.logger(ctx, "webhook.payment.lookup.failed", map[string]any{"payment": id, "error": err.Error()})
		}
	}

	if id := strings.TrimSpace(intentID); id != "" {
		payment, err := s.payments.FindByProviderIntentID(ctx, id)
		if err == nil {
			return payment, true
		}
		if !isNotFound(err) {
			s.logger(ctx, "webhook.payment.lookup.failed", map[string]any{"intent": id, "error": err.Error()})
		}
	}

	return Payment{}, false
}

func (s *webhookService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrWebhookEventNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("webhook: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *webhookService) recordAudit(ctx context.Context, record AuditRecord) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, record)
}

func (s *webhookService) notify(ctx context.Context, event NotificationEvent) {
	if s.notifications == nil {
		return
	}
	if err := s.notifications.PublishNotification(ctx, event); err != nil {
		s.logger(ctx, "webhook.notification.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}
