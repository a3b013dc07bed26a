package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/VNZray/capstone-project-sub001/internal/domain"
	"github.com/VNZray/capstone-project-sub001/internal/payments"
)

var paymentTestNow = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

func gatewayOrder() domain.Order {
	return domain.Order{
		ID:            "ord_1",
		OrderNumber:   "ORD-2025-000042",
		BusinessID:    "biz_1",
		UserID:        "user_1",
		Status:        domain.OrderStatusPending,
		PaymentMethod: domain.PaymentMethodGCash,
		TotalAmount:   39200,
		Currency:      "PHP",
		CreatedAt:     paymentTestNow.Add(-time.Minute),
	}
}

func basePaymentDeps() PaymentServiceDeps {
	return PaymentServiceDeps{
		Payments:    &stubPaymentRepo{},
		Orders:      &stubOrderRepo{},
		Provider:    &stubProvider{},
		MinAmount:   2000,
		Clock:       fixedClock(paymentTestNow),
		IDGenerator: sequenceIDs(),
	}
}

func TestCreateIntentOpensGatewayIntent(t *testing.T) {
	deps := basePaymentDeps()
	order := gatewayOrder()
	deps.Orders = &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) { return order, nil }}

	var inserted domain.Payment
	deps.Payments = &stubPaymentRepo{insertFn: func(_ context.Context, payment domain.Payment) error {
		inserted = payment
		return nil
	}}

	var request payments.CreateIntentRequest
	deps.Provider = &stubProvider{createIntentFn: func(_ context.Context, req payments.CreateIntentRequest) (payments.Intent, error) {
		request = req
		return payments.Intent{ID: "pi_1", ClientSecret: "cs_1", Status: payments.IntentStatusAwaitingMethod}, nil
	}}
	audit := &captureAudit{}
	deps.Audit = audit

	svc, err := NewPaymentService(deps)
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}

	checkout, err := svc.CreateIntent(context.Background(), CreatePaymentIntentCommand{
		OrderID: "ord_1",
		Actor:   Actor{ID: "user_1", Role: domain.RoleCustomer},
	})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}

	if !strings.HasPrefix(checkout.PaymentID, paymentIDPrefix) {
		t.Fatalf("payment id = %q", checkout.PaymentID)
	}
	if checkout.IntentID != "pi_1" || checkout.ClientSecret != "cs_1" {
		t.Fatalf("checkout = %+v", checkout)
	}

	if request.Amount != 39200 || request.Currency != "PHP" {
		t.Fatalf("gateway request = %+v", request)
	}
	if len(request.MethodTypes) != 1 || request.MethodTypes[0] != "gcash" {
		t.Fatalf("method types = %v", request.MethodTypes)
	}
	if request.Metadata["paymentId"] != checkout.PaymentID || request.Metadata["orderId"] != "ord_1" {
		t.Fatalf("metadata = %v", request.Metadata)
	}
	if request.IdempotencyKey != "intent-"+checkout.PaymentID {
		t.Fatalf("idempotency key = %q", request.IdempotencyKey)
	}

	if inserted.Status != domain.PaymentStatusPending {
		t.Fatalf("payment status = %q", inserted.Status)
	}
	if inserted.ProviderIntentID != "pi_1" {
		t.Fatalf("provider intent id = %q", inserted.ProviderIntentID)
	}
	if inserted.Amount != 39200 || inserted.PayerID != "user_1" {
		t.Fatalf("payment = %+v", inserted)
	}

	if got := audit.byType(paymentEventIntentCreated); len(got) != 1 {
		t.Fatalf("audit records = %d", len(got))
	}
}

func TestCreateIntentRejectsCashOrders(t *testing.T) {
	deps := basePaymentDeps()
	order := gatewayOrder()
	order.PaymentMethod = domain.PaymentMethodCashOnPickup
	deps.Orders = &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) { return order, nil }}

	svc, err := NewPaymentService(deps)
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}

	_, err = svc.CreateIntent(context.Background(), CreatePaymentIntentCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("err = %v, want ErrPaymentInvalidInput", err)
	}
}

func TestCreateIntentRejectsAmountBelowMinimum(t *testing.T) {
	deps := basePaymentDeps()
	order := gatewayOrder()
	order.TotalAmount = 1500
	deps.Orders = &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) { return order, nil }}

	svc, err := NewPaymentService(deps)
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}

	_, err = svc.CreateIntent(context.Background(), CreatePaymentIntentCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrPaymentAmountTooLow) {
		t.Fatalf("err = %v, want ErrPaymentAmountTooLow", err)
	}
}

func TestCreateIntentReusesActionableIntent(t *testing.T) {
	deps := basePaymentDeps()
	deps.Orders = &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) { return gatewayOrder(), nil }}
	deps.Payments = &stubPaymentRepo{findCurrentFn: func(context.Context, domain.PaymentFor, string) (domain.Payment, error) {
		return domain.Payment{ID: "pay_1", Status: domain.PaymentStatusPending, ProviderIntentID: "pi_1"}, nil
	}}
	deps.Provider = &stubProvider{
		lookupFn: func(_ context.Context, intentID string) (payments.Intent, error) {
			return payments.Intent{ID: intentID, ClientSecret: "cs_1", Status: payments.IntentStatusAwaitingAction}, nil
		},
		createIntentFn: func(context.Context, payments.CreateIntentRequest) (payments.Intent, error) {
			t.Fatal("a second intent must not be created")
			return payments.Intent{}, nil
		},
	}

	svc, err := NewPaymentService(deps)
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}

	checkout, err := svc.CreateIntent(context.Background(), CreatePaymentIntentCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if checkout.PaymentID != "pay_1" || checkout.IntentID != "pi_1" {
		t.Fatalf("checkout = %+v", checkout)
	}
}

func TestCreateIntentSupersedesDeadIntent(t *testing.T) {
	deps := basePaymentDeps()
	deps.Orders = &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) { return gatewayOrder(), nil }}

	var updated domain.Payment
	var inserted domain.Payment
	deps.Payments = &stubPaymentRepo{
		findCurrentFn: func(context.Context, domain.PaymentFor, string) (domain.Payment, error) {
			return domain.Payment{ID: "pay_old", PaymentForID: "ord_1", Status: domain.PaymentStatusPending, ProviderIntentID: "pi_old"}, nil
		},
		updateFn: func(_ context.Context, payment domain.Payment) error {
			updated = payment
			return nil
		},
		insertFn: func(_ context.Context, payment domain.Payment) error {
			inserted = payment
			return nil
		},
	}
	deps.Provider = &stubProvider{
		lookupFn: func(context.Context, string) (payments.Intent, error) {
			return payments.Intent{ID: "pi_old", Status: payments.IntentStatusCanceled}, nil
		},
		createIntentFn: func(context.Context, payments.CreateIntentRequest) (payments.Intent, error) {
			return payments.Intent{ID: "pi_new", ClientSecret: "cs_new", Status: payments.IntentStatusAwaitingMethod}, nil
		},
	}
	audit := &captureAudit{}
	deps.Audit = audit

	svc, err := NewPaymentService(deps)
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}

	checkout, err := svc.CreateIntent(context.Background(), CreatePaymentIntentCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}

	// The dead payment is terminal before its replacement exists.
	if updated.ID != "pay_old" || updated.Status != domain.PaymentStatusFailed {
		t.Fatalf("updated = %+v", updated)
	}
	if updated.Metadata[metadataKeyIntentStatus] != string(payments.IntentStatusCanceled) {
		t.Fatalf("updated metadata = %v", updated.Metadata)
	}
	if inserted.ID == "pay_old" || inserted.Status != domain.PaymentStatusPending {
		t.Fatalf("inserted = %+v", inserted)
	}
	if checkout.IntentID != "pi_new" {
		t.Fatalf("checkout = %+v", checkout)
	}
	if got := audit.byType(paymentEventSuperseded); len(got) != 1 {
		t.Fatalf("superseded audit records = %d", len(got))
	}
}

func TestCreateIntentLookupFailureIsRetriable(t *testing.T) {
	deps := basePaymentDeps()
	deps.Orders = &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) { return gatewayOrder(), nil }}
	deps.Payments = &stubPaymentRepo{
		findCurrentFn: func(context.Context, domain.PaymentFor, string) (domain.Payment, error) {
			return domain.Payment{ID: "pay_old", PaymentForID: "ord_1", Status: domain.PaymentStatusPending, ProviderIntentID: "pi_old"}, nil
		},
		updateFn: func(context.Context, domain.Payment) error {
			t.Fatal("the existing payment must not be touched while the gateway is unreachable")
			return nil
		},
		insertFn: func(context.Context, domain.Payment) error {
			t.Fatal("no replacement payment may be minted while the gateway is unreachable")
			return nil
		},
	}
	deps.Provider = &stubProvider{
		lookupFn: func(context.Context, string) (payments.Intent, error) {
			return payments.Intent{}, payments.ErrUnavailable
		},
		createIntentFn: func(context.Context, payments.CreateIntentRequest) (payments.Intent, error) {
			t.Fatal("a second intent must not be created")
			return payments.Intent{}, nil
		},
	}

	svc, err := NewPaymentService(deps)
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}

	_, err = svc.CreateIntent(context.Background(), CreatePaymentIntentCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("err = %v, want ErrGatewayUnavailable", err)
	}
}

func TestCreateIntentRejectsSettledIntent(t *testing.T) {
	deps := basePaymentDeps()
	deps.Orders = &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) { return gatewayOrder(), nil }}
	deps.Payments = &stubPaymentRepo{
		findCurrentFn: func(context.Context, domain.PaymentFor, string) (domain.Payment, error) {
			return domain.Payment{ID: "pay_old", PaymentForID: "ord_1", Status: domain.PaymentStatusPending, ProviderIntentID: "pi_old"}, nil
		},
		updateFn: func(context.Context, domain.Payment) error {
			t.Fatal("a settled intent's payment must not be superseded")
			return nil
		},
	}
	deps.Provider = &stubProvider{lookupFn: func(context.Context, string) (payments.Intent, error) {
		return payments.Intent{ID: "pi_old", Status: payments.IntentStatusSucceeded}, nil
	}}

	svc, err := NewPaymentService(deps)
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}

	_, err = svc.CreateIntent(context.Background(), CreatePaymentIntentCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrPaymentInvalidState) {
		t.Fatalf("err = %v, want ErrPaymentInvalidState", err)
	}
}

func TestCreateIntentRetiresIntentlessPayment(t *testing.T) {
	deps := basePaymentDeps()
	deps.Orders = &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) { return gatewayOrder(), nil }}

	var updated domain.Payment
	deps.Payments = &stubPaymentRepo{
		findCurrentFn: func(context.Context, domain.PaymentFor, string) (domain.Payment, error) {
			return domain.Payment{ID: "pay_old", PaymentForID: "ord_1", Status: domain.PaymentStatusPending}, nil
		},
		updateFn: func(_ context.Context, payment domain.Payment) error {
			updated = payment
			return nil
		},
	}
	deps.Provider = &stubProvider{createIntentFn: func(context.Context, payments.CreateIntentRequest) (payments.Intent, error) {
		return payments.Intent{ID: "pi_new", ClientSecret: "cs_new", Status: payments.IntentStatusAwaitingMethod}, nil
	}}

	svc, err := NewPaymentService(deps)
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}

	checkout, err := svc.CreateIntent(context.Background(), CreatePaymentIntentCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if updated.ID != "pay_old" || updated.Status != domain.PaymentStatusFailed {
		t.Fatalf("updated = %+v", updated)
	}
	if checkout.IntentID != "pi_new" {
		t.Fatalf("checkout = %+v", checkout)
	}
}

func TestCreateIntentGatewayUnavailable(t *testing.T) {
	deps := basePaymentDeps()
	deps.Orders = &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) { return gatewayOrder(), nil }}
	deps.Provider = &stubProvider{createIntentFn: func(context.Context, payments.CreateIntentRequest) (payments.Intent, error) {
		return payments.Intent{}, payments.ErrUnavailable
	}}

	svc, err := NewPaymentService(deps)
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}

	_, err = svc.CreateIntent(context.Background(), CreatePaymentIntentCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("err = %v, want ErrGatewayUnavailable", err)
	}
}

func TestAttachMethodWalletOnly(t *testing.T) {
	deps := basePaymentDeps()

	svc, err := NewPaymentService(deps)
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}

	_, err = svc.AttachMethod(context.Background(), AttachPaymentMethodCommand{
		PaymentID: "pay_1",
		Method:    domain.PaymentMethodCard,
	})
	if !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("err = %v, want ErrPaymentInvalidInput", err)
	}
}

func TestAttachMethodConfirmsIntent(t *testing.T) {
	deps := basePaymentDeps()

	var updated domain.Payment
	deps.Payments = &stubPaymentRepo{
		findFn: func(context.Context, string) (domain.Payment, error) {
			return domain.Payment{
				ID:               "pay_1",
				PaymentForID:     "ord_1",
				Method:           domain.PaymentMethodGCash,
				Status:           domain.PaymentStatusPending,
				ProviderIntentID: "pi_1",
			}, nil
		},
		updateFn: func(_ context.Context, payment domain.Payment) error {
			updated = payment
			return nil
		},
	}

	var request payments.AttachMethodRequest
	deps.Provider = &stubProvider{attachFn: func(_ context.Context, req payments.AttachMethodRequest) (payments.Intent, error) {
		request = req
		return payments.Intent{ID: req.IntentID, MethodID: "pm_1", Status: payments.IntentStatusAwaitingAction, NextAction: "https://redirect"}, nil
	}}

	svc, err := NewPaymentService(deps)
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}

	checkout, err := svc.AttachMethod(context.Background(), AttachPaymentMethodCommand{
		PaymentID: "pay_1",
		Method:    domain.PaymentMethodGCash,
		ReturnURL: "https://app/return",
	})
	if err != nil {
		t.Fatalf("AttachMethod: %v", err)
	}

	if request.IntentID != "pi_1" || request.MethodType != "gcash" || request.ReturnURL != "https://app/return" {
		t.Fatalf("attach request = %+v", request)
	}
	if checkout.NextAction != "https://redirect" {
		t.Fatalf("checkout = %+v", checkout)
	}
	if updated.Metadata[metadataKeyMethodID] != "pm_1" {
		t.Fatalf("updated metadata = %v", updated.Metadata)
	}
}

func TestAttachMethodRejectsSettledPayment(t *testing.T) {
	deps := basePaymentDeps()
	deps.Payments = &stubPaymentRepo{findFn: func(context.Context, string) (domain.Payment, error) {
		return domain.Payment{ID: "pay_1", Status: domain.PaymentStatusPaid, ProviderIntentID: "pi_1"}, nil
	}}

	svc, err := NewPaymentService(deps)
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}

	_, err = svc.AttachMethod(context.Background(), AttachPaymentMethodCommand{
		PaymentID: "pay_1",
		Method:    domain.PaymentMethodGCash,
	})
	if !errors.Is(err, ErrPaymentInvalidState) {
		t.Fatalf("err = %v, want ErrPaymentInvalidState", err)
	}
}

func TestRecordClientAttachmentNeverMarksPaid(t *testing.T) {
	deps := basePaymentDeps()

	var updated domain.Payment
	deps.Payments = &stubPaymentRepo{
		findFn: func(context.Context, string) (domain.Payment, error) {
			return domain.Payment{ID: "pay_1", PaymentForID: "ord_1", Status: domain.PaymentStatusPending}, nil
		},
		updateFn: func(_ context.Context, payment domain.Payment) error {
			updated = payment
			return nil
		},
	}

	svc, err := NewPaymentService(deps)
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}

	payment, err := svc.RecordClientAttachment(context.Background(), RecordClientAttachmentCommand{
		PaymentID: "pay_1",
		MethodID:  "pm_1",
	})
	if err != nil {
		t.Fatalf("RecordClientAttachment: %v", err)
	}
	if payment.Status != domain.PaymentStatusPending {
		t.Fatalf("status = %q", payment.Status)
	}
	if updated.Metadata[metadataKeyMethodID] != "pm_1" {
		t.Fatalf("metadata = %v", updated.Metadata)
	}
}

func TestGetPaymentNotFound(t *testing.T) {
	deps := basePaymentDeps()

	svc, err := NewPaymentService(deps)
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}

	_, err = svc.GetPayment(context.Background(), "pay_missing")
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("err = %v, want ErrPaymentNotFound", err)
	}
}
