package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/VNZray/capstone-project-sub001/internal/domain"
	"github.com/VNZray/capstone-project-sub001/internal/payments"
	"github.com/VNZray/capstone-project-sub001/internal/repositories"
)

const (
	paymentEventIntentCreated  = "payment.intent.created"
	paymentEventMethodAttached = "payment.method.attached"
	paymentEventSuperseded     = "payment.superseded"

	paymentIDPrefix = "pay_"

	metadataKeyIntentID     = "intentId"
	metadataKeyMethodID     = "methodId"
	metadataKeyIntentStatus = "intentStatus"
)

var (
	// ErrPaymentInvalidInput signals the caller provided invalid data.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates the payment could not be located.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrPaymentInvalidState indicates the payment cannot progress from its current status.
	ErrPaymentInvalidState = errors.New("payment: invalid state")
	// ErrPaymentAmountTooLow indicates the amount is below the gateway minimum.
	ErrPaymentAmountTooLow = errors.New("payment: amount too low for gateway processing")
	// ErrGatewayUnavailable indicates the gateway could not be reached.
	ErrGatewayUnavailable = errors.New("payment: gateway unavailable")
	// ErrPaymentConflict indicates concurrent writers raced on the payment.
	ErrPaymentConflict = errors.New("payment: conflict")
)

// gatewayMethodTypes maps payment methods to the gateway's method type names.
var gatewayMethodTypes = map[domain.PaymentMethod]string{
	domain.PaymentMethodCard:    "card",
	domain.PaymentMethodGCash:   "gcash",
	domain.PaymentMethodGrabPay: "grab_pay",
	domain.PaymentMethodPayMaya: "paymaya",
}

// PaymentServiceDeps bundles collaborators for the payment service.
type PaymentServiceDeps struct {
	Payments    repositories.PaymentRepository
	Orders      repositories.OrderRepository
	Provider    payments.Provider
	MinAmount   int64
	Audit       AuditLogService
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	payments  repositories.PaymentRepository
	orders    repositories.OrderRepository
	provider  payments.Provider
	minAmount int64
	audit     AuditLogService
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Provider == nil {
		return nil, errors.New("payment service: gateway provider is required")
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

	return &paymentService{
		payments:  deps.Payments,
		orders:    deps.Orders,
		provider:  deps.Provider,
		minAmount: deps.MinAmount,
		audit:     deps.Audit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreateIntent opens the gateway intent for an order. A duplicate request
// while the existing intent is still actionable returns that intent instead of
// minting a second one.
func (s *paymentService) CreateIntent(ctx context.Context, cmd CreatePaymentIntentCommand) (PaymentCheckout, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentCheckout{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentCheckout{}, s.mapRepositoryError(err)
	}
	if !order.PaymentMethod.RequiresGateway() {
		return PaymentCheckout{}, fmt.Errorf("%w: order %q pays on pickup", ErrPaymentInvalidInput, orderID)
	}

	if existing, err := s.payments.FindCurrent(ctx, domain.PaymentForOrder, orderID); err == nil {
		handle, reused, err := s.resolveExistingPayment(ctx, existing)
		if err != nil {
			return PaymentCheckout{}, err
		}
		if reused {
			return handle, nil
		}
	} else if !isNotFound(err) {
		return PaymentCheckout{}, s.mapRepositoryError(err)
	}

	if order.TotalAmount < s.minAmount {
		return PaymentCheckout{}, fmt.Errorf("%w: total %d is below the gateway minimum %d", ErrPaymentAmountTooLow, order.TotalAmount, s.minAmount)
	}

	now := s.clock()
	payment := Payment{
		ID:           paymentIDPrefix + s.newID(),
		PayerID:      order.UserID,
		PaymentFor:   domain.PaymentForOrder,
		PaymentForID: order.ID,
		Method:       order.PaymentMethod,
		Status:       domain.PaymentStatusPending,
		Amount:       order.TotalAmount,
		Currency:     order.Currency,
		Metadata:     map[string]string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	methodType := gatewayMethodTypes[order.PaymentMethod]
	intent, err := s.provider.CreateIntent(ctx, payments.CreateIntentRequest{
		Amount:      order.TotalAmount,
		Currency:    order.Currency,
		MethodTypes: []string{methodType},
		Description: "Order " + order.OrderNumber,
		Metadata: map[string]string{
			"paymentId":  payment.ID,
			"orderId":    order.ID,
			"paymentFor": string(domain.PaymentForOrder),
		},
		IdempotencyKey: "intent-" + payment.ID,
	})
	if err != nil {
		return PaymentCheckout{}, s.mapGatewayError(err)
	}

	payment.ProviderIntentID = intent.ID
	payment.Metadata[metadataKeyIntentID] = intent.ID
	payment.Metadata[metadataKeyIntentStatus] = string(intent.Status)

	if err := s.payments.Insert(ctx, payment); err != nil {
		return PaymentCheckout{}, s.mapRepositoryError(err)
	}

	s.recordAudit(ctx, AuditRecord{
		OrderID:   order.ID,
		EventType: paymentEventIntentCreated,
		NewValue:  string(payment.Status),
		Actor:     actorPtr(cmd.Actor),
		Metadata:  map[string]any{"intentId": intent.ID, "amount": payment.Amount},
	})

	return checkoutHandle(payment.ID, intent), nil
}

// AttachMethod attaches a wallet method server-side and confirms the intent.
// Card flows attach client-side; RecordClientAttachment records those.
func (s *paymentService) AttachMethod(ctx context.Context, cmd AttachPaymentMethodCommand) (PaymentCheckout, error) {
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if paymentID == "" {
		return PaymentCheckout{}, fmt.Errorf("%w: payment id is required", ErrPaymentInvalidInput)
	}
	if !slices.Contains(domain.WalletMethods, cmd.Method) {
		return PaymentCheckout{}, fmt.Errorf("%w: method %q attaches client-side", ErrPaymentInvalidInput, cmd.Method)
	}

	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return PaymentCheckout{}, s.mapRepositoryError(err)
	}
	if payment.Status != domain.PaymentStatusPending {
		return PaymentCheckout{}, fmt.Errorf("%w: payment is %q", ErrPaymentInvalidState, payment.Status)
	}
	if payment.ProviderIntentID == "" {
		return PaymentCheckout{}, fmt.Errorf("%w: payment has no gateway intent", ErrPaymentInvalidState)
	}

	intent, err := s.provider.AttachMethod(ctx, payments.AttachMethodRequest{
		IntentID:       payment.ProviderIntentID,
		MethodType:     gatewayMethodTypes[cmd.Method],
		ReturnURL:      cmd.ReturnURL,
		IdempotencyKey: "attach-" + payment.ID,
	})
	if err != nil {
		return PaymentCheckout{}, s.mapGatewayError(err)
	}

	payment.Method = cmd.Method
	payment.Metadata = ensureStringMap(payment.Metadata)
	payment.Metadata[metadataKeyMethodID] = intent.MethodID
	payment.Metadata[metadataKeyIntentStatus] = string(intent.Status)
	payment.UpdatedAt = s.clock()

	if err := s.payments.Update(ctx, payment); err != nil {
		return PaymentCheckout{}, s.mapRepositoryError(err)
	}

	s.recordAudit(ctx, AuditRecord{
		OrderID:   payment.PaymentForID,
		EventType: paymentEventMethodAttached,
		NewValue:  string(intent.Status),
		Actor:     actorPtr(cmd.Actor),
		Metadata:  map[string]any{"method": string(cmd.Method)},
	})

	return checkoutHandle(payment.ID, intent), nil
}

// RecordClientAttachment records a method the client attached directly with
// the gateway. No gateway call is made.
func (s *paymentService) RecordClientAttachment(ctx context.Context, cmd RecordClientAttachmentCommand) (Payment, error) {
	paymentID := strings.TrimSpace(cmd.PaymentID)
	methodID := strings.TrimSpace(cmd.MethodID)
	if paymentID == "" || methodID == "" {
		return Payment{}, fmt.Errorf("%w: payment id and method id are required", ErrPaymentInvalidInput)
	}

	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return Payment{}, s.mapRepositoryError(err)
	}
	if payment.Status != domain.PaymentStatusPending {
		return Payment{}, fmt.Errorf("%w: payment is %q", ErrPaymentInvalidState, payment.Status)
	}

	payment.Metadata = ensureStringMap(payment.Metadata)
	payment.Metadata[metadataKeyMethodID] = methodID
	payment.UpdatedAt = s.clock()

	if err := s.payments.Update(ctx, payment); err != nil {
		return Payment{}, s.mapRepositoryError(err)
	}

	s.recordAudit(ctx, AuditRecord{
		OrderID:   payment.PaymentForID,
		EventType: paymentEventMethodAttached,
		Actor:     actorPtr(cmd.Actor),
		Metadata:  map[string]any{"clientAttached": true},
	})

	return payment, nil
}

func (s *paymentService) GetPayment(ctx context.Context, paymentID string) (Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return Payment{}, fmt.Errorf("%w: payment id is required", ErrPaymentInvalidInput)
	}
	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return Payment{}, s.mapRepositoryError(err)
	}
	return payment, nil
}

// resolveExistingPayment decides what to do with the order's current payment
// before a new intent may be minted. An actionable intent is reused; a dead
// one is terminalized first, so the order never carries two live payment rows.
// A lookup failure aborts: superseding an intent that may still be payable at
// the gateway would double the customer's live intents.
func (s *paymentService) resolveExistingPayment(ctx context.Context, payment Payment) (PaymentCheckout, bool, error) {
	if payment.Status != domain.PaymentStatusPending {
		return PaymentCheckout{}, false, fmt.Errorf("%w: order already has a %q payment", ErrPaymentInvalidState, payment.Status)
	}

	if payment.ProviderIntentID == "" {
		// The record never received its gateway intent; retire it and mint anew.
		if err := s.supersedePayment(ctx, payment, ""); err != nil {
			return PaymentCheckout{}, false, err
		}
		return PaymentCheckout{}, false, nil
	}

	intent, err := s.provider.LookupIntent(ctx, payment.ProviderIntentID)
	if err != nil {
		s.logger(ctx, "payment.intent.lookup.failed", map[string]any{
			"payment": payment.ID,
			"error":   err.Error(),
		})
		return PaymentCheckout{}, false, s.mapGatewayError(payments.ErrUnavailable)
	}
	if intent.Status.Actionable() {
		return checkoutHandle(payment.ID, intent), true, nil
	}
	if intent.Status == payments.IntentStatusSucceeded {
		// Settled at the gateway; the confirmation webhook will mark it paid.
		return PaymentCheckout{}, false, fmt.Errorf("%w: payment already succeeded at the gateway", ErrPaymentInvalidState)
	}

	if err := s.supersedePayment(ctx, payment, intent.Status); err != nil {
		return PaymentCheckout{}, false, err
	}
	return PaymentCheckout{}, false, nil
}

// supersedePayment terminalizes a pending payment whose intent can no longer
// settle, keeping a single non-terminal payment per order.
func (s *paymentService) supersedePayment(ctx context.Context, payment Payment, intentStatus payments.IntentStatus) error {
	payment.Status = domain.PaymentStatusFailed
	payment.Metadata = ensureStringMap(payment.Metadata)
	if intentStatus != "" {
		payment.Metadata[metadataKeyIntentStatus] = string(intentStatus)
	}
	payment.UpdatedAt = s.clock()

	if err := s.payments.Update(ctx, payment); err != nil {
		return s.mapRepositoryError(err)
	}

	s.recordAudit(ctx, AuditRecord{
		OrderID:   payment.PaymentForID,
		EventType: paymentEventSuperseded,
		OldValue:  string(domain.PaymentStatusPending),
		NewValue:  string(domain.PaymentStatusFailed),
		Metadata:  map[string]any{"paymentId": payment.ID},
	})
	return nil
}

func (s *paymentService) mapGatewayError(err error) error {
	if errors.Is(err, payments.ErrUnavailable) {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return err
}

func (s *paymentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrPaymentConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("payment: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *paymentService) recordAudit(ctx context.Context, record AuditRecord) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, record)
}

func checkoutHandle(paymentID string, intent payments.Intent) PaymentCheckout {
	return PaymentCheckout{
		PaymentID:    paymentID,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       intent.Status,
		NextAction:   intent.NextAction,
	}
}

func actorPtr(actor Actor) *Actor {
	if actor.ID == "" && actor.Role == "" {
		return nil
	}
	ref := actor
	return &ref
}

func ensureStringMap(src map[string]string) map[string]string {
	if src == nil {
		return map[string]string{}
	}
	return src
}
