package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/VNZray/capstone-project-sub001/internal/domain"
	"github.com/VNZray/capstone-project-sub001/internal/payments"
	"github.com/VNZray/capstone-project-sub001/internal/repositories"
)

const auditEventRefundRequested = "refund.requested"

var (
	// ErrRefundInvalidInput signals a malformed refund request.
	ErrRefundInvalidInput = errors.New("refund: invalid input")
	// ErrRefundIneligible means the order or payment is not in a refundable state.
	ErrRefundIneligible = errors.New("refund: order is not refundable")
)

// RefundServiceDeps bundles collaborators for the refund service.
type RefundServiceDeps struct {
	Orders        repositories.OrderRepository
	Payments      repositories.PaymentRepository
	Stock         repositories.StockRepository
	Provider      payments.Provider
	Authority     TransitionAuthority
	Audit         AuditLogService
	Notifications NotificationPublisher
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type refundService struct {
	orders        repositories.OrderRepository
	payments      repositories.PaymentRepository
	stock         repositories.StockRepository
	provider      payments.Provider
	authority     TransitionAuthority
	audit         AuditLogService
	notifications NotificationPublisher
	clock         func() time.Time
	logger        func(context.Context, string, map[string]any)
}

// NewRefundService wires dependencies into a concrete RefundService.
func NewRefundService(deps RefundServiceDeps) (RefundService, error) {
	if deps.Orders == nil {
		return nil, errors.New("refund service: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("refund service: payment repository is required")
	}
	if deps.Provider == nil {
		return nil, errors.New("refund service: payment provider is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &refundService{
		orders:        deps.Orders,
		payments:      deps.Payments,
		stock:         deps.Stock,
		provider:      deps.Provider,
		authority:     deps.Authority,
		audit:         deps.Audit,
		notifications: deps.Notifications,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Refund returns captured funds for a gateway order. A zero amount refunds the
// full captured amount. The gateway call runs before any local mutation so a
// declined refund leaves order and payment untouched.
func (s *refundService) Refund(ctx context.Context, cmd RefundOrderCommand) (RefundResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return RefundResult{}, fmt.Errorf("%w: order id is required", ErrRefundInvalidInput)
	}
	if cmd.Amount < 0 {
		return RefundResult{}, fmt.Errorf("%w: amount must not be negative", ErrRefundInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return RefundResult{}, s.mapRepositoryError(err)
	}

	payment, err := s.payments.FindCurrent(ctx, domain.PaymentForOrder, orderID)
	if err != nil {
		if isNotFound(err) {
			return RefundResult{}, fmt.Errorf("%w: order has no payment", ErrRefundIneligible)
		}
		return RefundResult{}, s.mapRepositoryError(err)
	}

	if payment.Status != domain.PaymentStatusPaid {
		return RefundResult{}, fmt.Errorf("%w: payment status is %q", ErrRefundIneligible, payment.Status)
	}
	if !payment.Method.RequiresGateway() {
		return RefundResult{}, fmt.Errorf("%w: %q payments are settled outside the gateway", ErrRefundIneligible, payment.Method)
	}
	if payment.ProviderIntentID == "" {
		return RefundResult{}, fmt.Errorf("%w: payment has no gateway intent", ErrRefundIneligible)
	}

	now := s.clock()

	decision := s.authority.Evaluate(TransitionRequest{
		Current:        order.Status,
		Target:         domain.OrderStatusRefunded,
		Actor:          cmd.Actor,
		OrderOwnerID:   order.UserID,
		OrderCreatedAt: order.CreatedAt,
		PaymentMethod:  order.PaymentMethod,
		PaymentStatus:  payment.Status,
		Now:            now,
	})
	if !decision.Allowed {
		return RefundResult{}, fmt.Errorf("%w: %s: %s", ErrCannotTransition, decision.Reason, decision.Detail)
	}

	amount := cmd.Amount
	if amount == 0 {
		amount = payment.Amount
	}
	if amount > payment.Amount {
		return RefundResult{}, fmt.Errorf("%w: amount %d exceeds captured %d", ErrRefundInvalidInput, amount, payment.Amount)
	}

	refund, err := s.provider.CreateRefund(ctx, payments.RefundRequest{
		PaymentIntentID: payment.ProviderIntentID,
		Amount:          amount,
		Reason:          cmd.Reason,
		IdempotencyKey:  "refund-" + payment.ID,
	})
	if err != nil {
		if errors.Is(err, payments.ErrUnavailable) {
			return RefundResult{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return RefundResult{}, fmt.Errorf("create refund: %w", err)
	}

	prevPaymentStatus := payment.Status
	prevOrderStatus := order.Status

	payment.RefundReference = refund.ID
	payment.UpdatedAt = now
	switch refund.Status {
	case payments.RefundStatusSucceeded:
		payment.Status = domain.PaymentStatusRefunded
	default:
		// The gateway confirms asynchronously; charge.refunded finalizes.
		payment.Status = domain.PaymentStatusPendingRefund
	}

	if err := s.payments.Update(ctx, payment); err != nil {
		return RefundResult{}, s.mapRepositoryError(err)
	}

	if payment.Status == domain.PaymentStatusRefunded {
		update := repositories.OrderStatusUpdate{
			OrderID:        order.ID,
			ExpectedStatus: order.Status,
			NewStatus:      domain.OrderStatusRefunded,
			Reason:         optionalString(cmd.Reason),
			UpdatedAt:      now,
		}
		if err := s.orders.UpdateStatus(ctx, update); err != nil {
			if !isConflict(err) {
				return RefundResult{}, s.mapRepositoryError(err)
			}
			s.logger(ctx, "refund.order.conflict", map[string]any{"order": order.ID})
		} else {
			order.Status = domain.OrderStatusRefunded
			order.UpdatedAt = now
			s.restoreStock(ctx, order.ID, now)
		}
	}

	s.recordAudit(ctx, AuditRecord{
		OrderID:   order.ID,
		EventType: auditEventRefundRequested,
		OldValue:  string(prevOrderStatus),
		NewValue:  string(order.Status),
		Actor:     &cmd.Actor,
		Metadata: map[string]any{
			"paymentId":       payment.ID,
			"refundReference": refund.ID,
			"amount":          amount,
			"reason":          cmd.Reason,
			"paymentStatus":   string(payment.Status),
			"previousStatus":  string(prevPaymentStatus),
		},
	})

	s.notify(ctx, NotificationEvent{
		Type:       auditEventRefundRequested,
		OrderID:    order.ID,
		BusinessID: order.BusinessID,
		UserID:     order.UserID,
		OccurredAt: now,
		Metadata:   map[string]any{"amount": amount},
	})

	return RefundResult{Order: order, Payment: payment}, nil
}

func (s *refundService) restoreStock(ctx context.Context, orderID string, now time.Time) {
	if s.stock == nil {
		return
	}
	restored, err := s.stock.Restore(ctx, orderID, now)
	if err != nil {
		s.logger(ctx, "refund.stock.restore.failed", map[string]any{"order": orderID, "error": err.Error()})
		return
	}
	if restored > 0 {
		s.logger(ctx, "refund.stock.restored", map[string]any{"order": orderID, "lines": restored})
	}
}

func (s *refundService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("refund: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *refundService) recordAudit(ctx context.Context, record AuditRecord) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, record)
}

func (s *refundService) notify(ctx context.Context, event NotificationEvent) {
	if s.notifications == nil {
		return
	}
	if err := s.notifications.PublishNotification(ctx, event); err != nil {
		s.logger(ctx, "refund.notification.failed", map[string]any{
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}
