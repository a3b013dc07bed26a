package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/VNZray/capstone-project-sub001/internal/domain"
	"github.com/VNZray/capstone-project-sub001/internal/payments"
	"github.com/VNZray/capstone-project-sub001/internal/repositories"
)

const auditEventOrderReaped = "order.expired"

// ReaperServiceDeps bundles collaborators for the abandoned-order reaper.
type ReaperServiceDeps struct {
	Orders        repositories.OrderRepository
	Payments      repositories.PaymentRepository
	Stock         repositories.StockRepository
	Provider      payments.Provider
	Audit         AuditLogService
	Notifications NotificationPublisher
	StaleAfter    time.Duration
	BatchSize     int
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type reaperService struct {
	orders        repositories.OrderRepository
	payments      repositories.PaymentRepository
	stock         repositories.StockRepository
	provider      payments.Provider
	audit         AuditLogService
	notifications NotificationPublisher
	staleAfter    time.Duration
	batchSize     int
	clock         func() time.Time
	logger        func(context.Context, string, map[string]any)
}

// NewReaperService wires dependencies into a concrete ReaperService.
func NewReaperService(deps ReaperServiceDeps) (ReaperService, error) {
	if deps.Orders == nil {
		return nil, errors.New("reaper service: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("reaper service: payment repository is required")
	}

	staleAfter := deps.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}

	batchSize := deps.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &reaperService{
		orders:        deps.Orders,
		payments:      deps.Payments,
		stock:         deps.Stock,
		provider:      deps.Provider,
		audit:         deps.Audit,
		notifications: deps.Notifications,
		staleAfter:    staleAfter,
		batchSize:     batchSize,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Sweep expires one batch of stale pending gateway orders. Every step is
// guarded so a payment that confirms mid-sweep wins the race.
func (s *reaperService) Sweep(ctx context.Context) (ReaperStats, error) {
	now := s.clock()
	cutoff := now.Add(-s.staleAfter)

	stale, err := s.orders.ListStale(ctx, cutoff, s.batchSize)
	if err != nil {
		return ReaperStats{}, fmt.Errorf("list stale orders: %w", err)
	}

	var stats ReaperStats
	for _, order := range stale {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Examined++

		if order.Status != domain.OrderStatusPending || !order.PaymentMethod.RequiresGateway() {
			stats.Skipped++
			continue
		}

		if s.reapOrder(ctx, order, now) {
			stats.Reaped++
		} else {
			stats.Skipped++
		}
	}

	if stats.Examined > 0 {
		s.logger(ctx, "reaper.sweep", map[string]any{
			"examined": stats.Examined,
			"reaped":   stats.Reaped,
			"skipped":  stats.Skipped,
		})
	}

	return stats, nil
}

func (s *reaperService) reapOrder(ctx context.Context, order Order, now time.Time) bool {
	payment, err := s.payments.FindCurrent(ctx, domain.PaymentForOrder, order.ID)
	if err != nil && !isNotFound(err) {
		s.logger(ctx, "reaper.payment.lookup.failed", map[string]any{"order": order.ID, "error": err.Error()})
		return false
	}
	if err == nil && payment.Status != domain.PaymentStatusPending {
		// Confirmed or failed elsewhere; not ours to expire.
		return false
	}

	s.cancelIntent(ctx, payment)

	update := repositories.OrderStatusUpdate{
		OrderID:        order.ID,
		ExpectedStatus: domain.OrderStatusPending,
		NewStatus:      domain.OrderStatusFailedPayment,
		UpdatedAt:      now,
	}
	if err := s.orders.UpdateStatus(ctx, update); err != nil {
		if isConflict(err) {
			// Lost the race to a webhook or a merchant action.
			return false
		}
		s.logger(ctx, "reaper.order.update.failed", map[string]any{"order": order.ID, "error": err.Error()})
		return false
	}

	s.restoreStock(ctx, order.ID, now)

	s.recordAudit(ctx, AuditRecord{
		OrderID:   order.ID,
		EventType: auditEventOrderReaped,
		OldValue:  string(domain.OrderStatusPending),
		NewValue:  string(domain.OrderStatusFailedPayment),
		Actor:     &Actor{Role: domain.RoleSystem},
		Metadata:  map[string]any{"staleAfter": s.staleAfter.String()},
	})

	s.notify(ctx, NotificationEvent{
		Type:       auditEventOrderReaped,
		OrderID:    order.ID,
		BusinessID: order.BusinessID,
		UserID:     order.UserID,
		OccurredAt: now,
	})

	return true
}

// cancelIntent is best effort: the reap proceeds even when the gateway is
// unreachable, and a late confirmation still lands on the payment record.
func (s *reaperService) cancelIntent(ctx context.Context, payment Payment) {
	if s.provider == nil || payment.ProviderIntentID == "" {
		return
	}

	_, err := s.provider.CancelIntent(ctx, payments.CancelIntentRequest{
		IntentID:       payment.ProviderIntentID,
		Reason:         "abandoned",
		IdempotencyKey: "reap-" + payment.ID,
	})
	if err != nil {
		s.logger(ctx, "reaper.intent.cancel.failed", map[string]any{
			"payment": payment.ID,
			"intent":  payment.ProviderIntentID,
			"error":   err.Error(),
		})
	}
}

func (s *reaperService) restoreStock(ctx context.Context, orderID string, now time.Time) {
	if s.stock == nil {
		return
	}
	restored, err := s.stock.Restore(ctx, orderID, now)
	if err != nil {
		s.logger(ctx, "reaper.stock.restore.failed", map[string]any{"order": orderID, "error": err.Error()})
		return
	}
	if restored > 0 {
		s.logger(ctx, "reaper.stock.restored", map[string]any{"order": orderID, "lines": restored})
	}
}

func (s *reaperService) recordAudit(ctx context.Context, record AuditRecord) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, record)
}

func (s *reaperService) notify(ctx context.Context, event NotificationEvent) {
	if s.notifications == nil {
		return
	}
	if err := s.notifications.PublishNotification(ctx, event); err != nil {
		s.logger(ctx, "reaper.notification.failed", map[string]any{
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

// RunReaper sweeps on a fixed interval until the context is cancelled.
func RunReaper(ctx context.Context, reaper ReaperService, interval time.Duration, logger func(ctx context.Context, event string, fields map[string]any)) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := reaper.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger(ctx, "reaper.sweep.failed", map[string]any{"error": err.Error()})
			}
		}
	}
}
