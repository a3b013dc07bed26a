package services

import (
	"context"
	"testing"
	"time"

	domain "github.com/VNZray/capstone-project-sub001/internal/domain"
	"github.com/VNZray/capstone-project-sub001/internal/payments"
	"github.com/VNZray/capstone-project-sub001/internal/repositories"
)

var reaperTestNow = time.Date(2025, 5, 3, 8, 0, 0, 0, time.UTC)

func staleOrder() domain.Order {
	return domain.Order{
		ID:            "ord_stale",
		BusinessID:    "biz_1",
		UserID:        "user_1",
		Status:        domain.OrderStatusPending,
		PaymentMethod: domain.PaymentMethodCard,
		CreatedAt:     reaperTestNow.Add(-2 * time.Hour),
	}
}

func baseReaperDeps() ReaperServiceDeps {
	return ReaperServiceDeps{
		Orders:     &stubOrderRepo{},
		Payments:   &stubPaymentRepo{},
		Stock:      &stubStockRepo{},
		Provider:   &stubProvider{},
		StaleAfter: 30 * time.Minute,
		BatchSize:  50,
		Clock:      fixedClock(reaperTestNow),
	}
}

func TestSweepReapsAbandonedOrder(t *testing.T) {
	deps := baseReaperDeps()

	var cutoff time.Time
	var statusUpdate repositories.OrderStatusUpdate
	deps.Orders = &stubOrderRepo{
		listStaleFn: func(_ context.Context, c time.Time, _ int) ([]domain.Order, error) {
			cutoff = c
			return []domain.Order{staleOrder()}, nil
		},
		updateStatusFn: func(_ context.Context, update repositories.OrderStatusUpdate) error {
			statusUpdate = update
			return nil
		},
	}
	deps.Payments = &stubPaymentRepo{findCurrentFn: func(context.Context, domain.PaymentFor, string) (domain.Payment, error) {
		return domain.Payment{ID: "pay_1", Status: domain.PaymentStatusPending, ProviderIntentID: "pi_1"}, nil
	}}

	var cancelled payments.CancelIntentRequest
	deps.Provider = &stubProvider{cancelFn: func(_ context.Context, req payments.CancelIntentRequest) (payments.Intent, error) {
		cancelled = req
		return payments.Intent{ID: req.IntentID, Status: payments.IntentStatusCanceled}, nil
	}}

	var restored bool
	deps.Stock = &stubStockRepo{restoreFn: func(context.Context, string, time.Time) (int, error) {
		restored = true
		return 1, nil
	}}
	audit := &captureAudit{}
	notify := &captureNotifications{}
	deps.Audit = audit
	deps.Notifications = notify

	svc, err := NewReaperService(deps)
	if err != nil {
		t.Fatalf("NewReaperService: %v", err)
	}

	stats, err := svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if !cutoff.Equal(reaperTestNow.Add(-30 * time.Minute)) {
		t.Fatalf("cutoff = %v", cutoff)
	}
	if stats.Examined != 1 || stats.Reaped != 1 || stats.Skipped != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if cancelled.IntentID != "pi_1" || cancelled.IdempotencyKey != "reap-pay_1" {
		t.Fatalf("cancel request = %+v", cancelled)
	}
	if statusUpdate.ExpectedStatus != domain.OrderStatusPending || statusUpdate.NewStatus != domain.OrderStatusFailedPayment {
		t.Fatalf("status update = %+v", statusUpdate)
	}
	if !restored {
		t.Fatal("stock must be restored")
	}

	records := audit.byType(auditEventOrderReaped)
	if len(records) != 1 {
		t.Fatalf("audit records = %d", len(records))
	}
	if records[0].Actor == nil || records[0].Actor.Role != domain.RoleSystem {
		t.Fatalf("audit actor = %+v", records[0].Actor)
	}
	if len(notify.events) != 1 || notify.events[0].Type != auditEventOrderReaped {
		t.Fatalf("notifications = %+v", notify.events)
	}
}

func TestSweepSkipsConfirmedPayment(t *testing.T) {
	deps := baseReaperDeps()
	deps.Orders = &stubOrderRepo{
		listStaleFn: func(context.Context, time.Time, int) ([]domain.Order, error) {
			return []domain.Order{staleOrder()}, nil
		},
		updateStatusFn: func(context.Context, repositories.OrderStatusUpdate) error {
			t.Fatal("a paid order must not be reaped")
			return nil
		},
	}
	deps.Payments = &stubPaymentRepo{findCurrentFn: func(context.Context, domain.PaymentFor, string) (domain.Payment, error) {
		return domain.Payment{ID: "pay_1", Status: domain.PaymentStatusPaid}, nil
	}}

	svc, err := NewReaperService(deps)
	if err != nil {
		t.Fatalf("NewReaperService: %v", err)
	}

	stats, err := svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Reaped != 0 || stats.Skipped != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestSweepSkipsCashOrders(t *testing.T) {
	deps := baseReaperDeps()
	order := staleOrder()
	order.PaymentMethod = domain.PaymentMethodCashOnPickup
	deps.Orders = &stubOrderRepo{listStaleFn: func(context.Context, time.Time, int) ([]domain.Order, error) {
		return []domain.Order{order}, nil
	}}

	svc, err := NewReaperService(deps)
	if err != nil {
		t.Fatalf("NewReaperService: %v", err)
	}

	stats, err := svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Reaped != 0 || stats.Skipped != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestSweepLosesRaceOnConflict(t *testing.T) {
	deps := baseReaperDeps()
	deps.Orders = &stubOrderRepo{
		listStaleFn: func(context.Context, time.Time, int) ([]domain.Order, error) {
			return []domain.Order{staleOrder()}, nil
		},
		updateStatusFn: func(context.Context, repositories.OrderStatusUpdate) error {
			return conflictErr()
		},
	}
	deps.Stock = &stubStockRepo{restoreFn: func(context.Context, string, time.Time) (int, error) {
		t.Fatal("a lost race must not restore stock")
		return 0, nil
	}}

	svc, err := NewReaperService(deps)
	if err != nil {
		t.Fatalf("NewReaperService: %v", err)
	}

	stats, err := svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Reaped != 0 || stats.Skipped != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestSweepProceedsWhenCancelFails(t *testing.T) {
	deps := baseReaperDeps()

	var updated bool
	deps.Orders = &stubOrderRepo{
		listStaleFn: func(context.Context, time.Time, int) ([]domain.Order, error) {
			return []domain.Order{staleOrder()}, nil
		},
		updateStatusFn: func(context.Context, repositories.OrderStatusUpdate) error {
			updated = true
			return nil
		},
	}
	deps.Payments = &stubPaymentRepo{findCurrentFn: func(context.Context, domain.PaymentFor, string) (domain.Payment, error) {
		return domain.Payment{ID: "pay_1", Status: domain.PaymentStatusPending, ProviderIntentID: "pi_1"}, nil
	}}
	deps.Provider = &stubProvider{cancelFn: func(context.Context, payments.CancelIntentRequest) (payments.Intent, error) {
		return payments.Intent{}, payments.ErrUnavailable
	}}
	logger := &captureLogger{}
	deps.Logger = logger.log

	svc, err := NewReaperService(deps)
	if err != nil {
		t.Fatalf("NewReaperService: %v", err)
	}

	stats, err := svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Reaped != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if !updated {
		t.Fatal("order must still be expired")
	}
	if !logger.has("reaper.intent.cancel.failed") {
		t.Fatalf("expected reaper.intent.cancel.failed log, got %v", logger.events)
	}
}
