package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"maps"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/VNZray/capstone-project-sub001/internal/domain"
	"github.com/VNZray/capstone-project-sub001/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventCancelled     = "order.cancelled"

	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "itm_"

	maxItemQuantity       = 999
	maxSpecialRequestsLen = 500
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrProductUnavailable indicates an item references a missing or unsellable product.
	ErrProductUnavailable = errors.New("order: product unavailable")
	// ErrInsufficientStock indicates a guarded stock decrement would go negative.
	ErrInsufficientStock = errors.New("order: insufficient stock")
	// ErrCannotTransition indicates the transition authority denied a status change.
	ErrCannotTransition = errors.New("order: cannot transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
)

// ValidationError enumerates the offending fields of a rejected request.
// It unwraps to ErrOrderInvalidInput.
type ValidationError struct {
	Fields map[string]string
}

// Error implements the error interface. Fields render in sorted order so the
// message is stable across runs.
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, field := range slices.Sorted(maps.Keys(e.Fields)) {
		parts = append(parts, field+": "+e.Fields[field])
	}
	return "order: invalid input: " + strings.Join(parts, "; ")
}

// Unwrap ties the validation error into the sentinel chain.
func (e *ValidationError) Unwrap() error {
	return ErrOrderInvalidInput
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Payments      repositories.PaymentRepository
	Products      repositories.ProductRepository
	Stock         repositories.StockRepository
	Discounts     repositories.DiscountRepository
	Counters      repositories.CounterRepository
	UnitOfWork    repositories.UnitOfWork
	Authority     TransitionAuthority
	Checkout      PaymentService
	Audit         AuditLogService
	Notifications NotificationPublisher
	Currency      string
	TaxRateBPS    int64
	MinPickupLead time.Duration
	MaxPickupAhead time.Duration
	Clock         func() time.Time
	IDGenerator   func() string
	ArrivalCode   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	payments      repositories.PaymentRepository
	products      repositories.ProductRepository
	stock         repositories.StockRepository
	discounts     repositories.DiscountRepository
	counters      repositories.CounterRepository
	unitOfWork    repositories.UnitOfWork
	authority     TransitionAuthority
	checkout      PaymentService
	audit         AuditLogService
	notifications NotificationPublisher
	currency      string
	taxRateBPS    int64
	minLead       time.Duration
	maxAhead      time.Duration
	clock         func() time.Time
	newID         func() string
	arrivalCode   func() string
	logger        func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("order service: stock repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
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

	arrival := deps.ArrivalCode
	if arrival == nil {
		arrival = randomArrivalCode
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "PHP"
	}

	minLead := deps.MinPickupLead
	maxAhead := deps.MaxPickupAhead
	if maxAhead <= 0 {
		maxAhead = 14 * 24 * time.Hour
	}

	return &orderService{
		orders:        deps.Orders,
		payments:      deps.Payments,
		products:      deps.Products,
		stock:         deps.Stock,
		discounts:     deps.Discounts,
		counters:      deps.Counters,
		unitOfWork:    unit,
		authority:     deps.Authority,
		checkout:      deps.Checkout,
		audit:         deps.Audit,
		notifications: deps.Notifications,
		currency:      currency,
		taxRateBPS:    deps.TaxRateBPS,
		minLead:       minLead,
		maxAhead:      maxAhead,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:       idGen,
		arrivalCode: arrival,
		logger:      logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (OrderCreation, error) {
	now := s.clock()
	if err := validateCreateOrder(cmd, now, s.minLead, s.maxAhead); err != nil {
		return OrderCreation{}, err
	}

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return OrderCreation{}, s.mapRepositoryError(err)
	}

	order := Order{
		ID:            orderIDPrefix + s.newID(),
		OrderNumber:   number,
		BusinessID:    strings.TrimSpace(cmd.BusinessID),
		UserID:        strings.TrimSpace(cmd.Actor.ID),
		Status:        domain.OrderStatusPending,
		PaymentMethod: cmd.PaymentMethod,
		Currency:      s.currency,
		PickupAt:      cmd.PickupAt.UTC(),
		ArrivalCode:   s.arrivalCode(),
		Instructions:  optionalString(strings.TrimSpace(cmd.Instructions)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var discountNote string

	// Firestore transactions reject reads after writes, so the pipeline keeps
	// all reads (products, discount, stock rows) ahead of every buffered write.
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		var subtotal int64
		items := make([]OrderItem, 0, len(cmd.Items))
		lines := make([]repositories.StockLine, 0, len(cmd.Items))
		for _, input := range cmd.Items {
			product, err := s.products.FindByID(txCtx, input.ProductID)
			if err != nil {
				if isNotFound(err) {
					return fmt.Errorf("%w: product %q not found", ErrProductUnavailable, input.ProductID)
				}
				return s.mapRepositoryError(err)
			}
			if !product.Sellable {
				return fmt.Errorf("%w: product %q is not sellable", ErrProductUnavailable, input.ProductID)
			}
			if product.BusinessID != order.BusinessID {
				return fmt.Errorf("%w: product %q does not belong to business %q", ErrProductUnavailable, input.ProductID, order.BusinessID)
			}

			line := OrderItem{
				ID:              orderItemIDPrefix + s.newID(),
				OrderID:         order.ID,
				ProductID:       product.ID,
				Quantity:        input.Quantity,
				UnitPrice:       product.Price,
				TotalPrice:      product.Price * int64(input.Quantity),
				SpecialRequests: strings.TrimSpace(input.SpecialRequests),
				CreatedAt:       now,
			}
			subtotal += line.TotalPrice
			items = append(items, line)
			lines = append(lines, repositories.StockLine{ProductID: product.ID, Quantity: input.Quantity})
		}

		discountAmount, code, note := s.evaluateDiscount(txCtx, cmd.DiscountCode, order.BusinessID, subtotal, now)

		// Last reads happen inside Decrement; everything after only buffers writes.
		if err := s.stock.Decrement(txCtx, order.ID, lines, now); err != nil {
			if isConflict(err) {
				return fmt.Errorf("%w: %v", ErrInsufficientStock, err)
			}
			return s.mapRepositoryError(err)
		}

		if code != nil {
			if err := s.discounts.IncrementUsage(txCtx, *code); err != nil {
				// A concurrent order took the last use; degrade to no discount.
				discountAmount = 0
				note = fmt.Sprintf("discount %q is no longer available", *code)
				code = nil
			}
		}
		discountNote = note

		tax := (subtotal - discountAmount) * s.taxRateBPS / 10000

		order.Items = items
		order.Subtotal = subtotal
		order.DiscountAmount = discountAmount
		order.TaxAmount = tax
		order.TotalAmount = subtotal - discountAmount + tax
		order.DiscountCode = code

		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return OrderCreation{}, err
	}

	s.recordAudit(ctx, AuditRecord{
		OrderID:   order.ID,
		EventType: orderEventCreated,
		NewValue:  string(order.Status),
		Actor:     &cmd.Actor,
		Metadata: map[string]any{
			"orderNumber": order.OrderNumber,
			"total":       order.TotalAmount,
			"method":      string(order.PaymentMethod),
		},
	})

	creation := OrderCreation{Order: order, DiscountNote: discountNote}

	if order.PaymentMethod.RequiresGateway() {
		if s.checkout != nil {
			handle, err := s.checkout.CreateIntent(ctx, CreatePaymentIntentCommand{OrderID: order.ID, Actor: cmd.Actor})
			if err != nil {
				// Checkout handle generation never rolls the order back.
				s.logger(ctx, "order.checkout.failed", map[string]any{
					"order": order.ID,
					"error": err.Error(),
				})
			} else {
				creation.Checkout = &handle
			}
		}
		return creation, nil
	}

	// Pay-on-pickup needs no confirmation; notify both parties immediately.
	s.notify(ctx, NotificationEvent{
		Type:       orderEventCreated,
		OrderID:    order.ID,
		BusinessID: order.BusinessID,
		UserID:     order.UserID,
		OccurredAt: now,
		Metadata:   map[string]any{"orderNumber": order.OrderNumber},
	})

	return creation, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) ([]Order, error) {
	orders, err := s.orders.List(ctx, filter)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.TargetStatus == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
		return Order{}, fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, order.Status)
	}

	now := s.clock()

	decision := s.authority.Evaluate(TransitionRequest{
		Current:        order.Status,
		Target:         cmd.TargetStatus,
		Actor:          cmd.Actor,
		OrderOwnerID:   order.UserID,
		OrderCreatedAt: order.CreatedAt,
		PaymentMethod:  order.PaymentMethod,
		PaymentStatus:  s.currentPaymentStatus(ctx, order.ID),
		Now:            now,
	})
	if !decision.Allowed {
		return Order{}, fmt.Errorf("%w: %s: %s", ErrCannotTransition, decision.Reason, decision.Detail)
	}

	update := repositories.OrderStatusUpdate{
		OrderID:        order.ID,
		ExpectedStatus: order.Status,
		NewStatus:      cmd.TargetStatus,
		Reason:         optionalString(strings.TrimSpace(cmd.Reason)),
		UpdatedAt:      now,
	}
	switch cmd.TargetStatus {
	case domain.OrderStatusPickedUp:
		update.PickedUpAt = &now
	case domain.OrderStatusCancelledByUser, domain.OrderStatusCancelledByBusiness:
		update.CancelledAt = &now
	}

	if err := s.orders.UpdateStatus(ctx, update); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	prev := order.Status
	order.Status = cmd.TargetStatus
	order.UpdatedAt = now
	order.CancelReason = update.Reason
	if update.CancelledAt != nil {
		order.CancelledAt = update.CancelledAt
	}
	if update.PickedUpAt != nil {
		order.PickedUpAt = update.PickedUpAt
	}

	s.recordAudit(ctx, AuditRecord{
		OrderID:   order.ID,
		EventType: orderEventStatusChanged,
		OldValue:  string(prev),
		NewValue:  string(order.Status),
		Actor:     &cmd.Actor,
		Metadata:  transitionMetadata(cmd.Reason),
	})

	s.notify(ctx, NotificationEvent{
		Type:       orderEventStatusChanged,
		OrderID:    order.ID,
		BusinessID: order.BusinessID,
		UserID:     order.UserID,
		OccurredAt: now,
		Metadata: map[string]any{
			"from": string(prev),
			"to":   string(order.Status),
		},
	})

	return order, nil
}

func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	target := domain.OrderStatusCancelledByBusiness
	if cmd.Actor.Role == domain.RoleCustomer {
		target = domain.OrderStatusCancelledByUser
	}

	order, err := s.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:      cmd.OrderID,
		TargetStatus: target,
		Actor:        cmd.Actor,
		Reason:       cmd.Reason,
	})
	if err != nil {
		return Order{}, err
	}

	now := s.clock()
	if restored, err := s.stock.Restore(ctx, order.ID, now); err != nil {
		s.logger(ctx, "order.cancel.stock.restore.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
	} else if restored > 0 {
		s.recordAudit(ctx, AuditRecord{
			OrderID:   order.ID,
			EventType: orderEventCancelled,
			NewValue:  string(order.Status),
			Actor:     &cmd.Actor,
			Metadata:  map[string]any{"stockRestored": restored},
		})
	}

	return order, nil
}

// evaluateDiscount validates a code and returns the computed amount without
// touching the usage counter; the caller bumps usage once the order writes are
// certain. Validation failure degrades to "no discount applied" rather than
// failing the order.
func (s *orderService) evaluateDiscount(ctx context.Context, code, businessID string, subtotal int64, now time.Time) (int64, *string, string) {
	code = strings.TrimSpace(code)
	if code == "" || s.discounts == nil {
		return 0, nil, ""
	}

	discount, err := s.discounts.FindByCode(ctx, code)
	if err != nil {
		if isNotFound(err) {
			return 0, nil, fmt.Sprintf("discount %q not found", code)
		}
		s.logger(ctx, "order.discount.lookup.failed", map[string]any{"code": code, "error": err.Error()})
		return 0, nil, fmt.Sprintf("discount %q could not be validated", code)
	}

	switch {
	case !discount.Active:
		return 0, nil, fmt.Sprintf("discount %q is inactive", code)
	case discount.ExpiresAt != nil && discount.ExpiresAt.Before(now):
		return 0, nil, fmt.Sprintf("discount %q has expired", code)
	case discount.BusinessID != "" && discount.BusinessID != businessID:
		return 0, nil, fmt.Sprintf("discount %q is not valid for this business", code)
	case discount.UsageLimit > 0 && discount.UsageCount >= discount.UsageLimit:
		return 0, nil, fmt.Sprintf("discount %q usage limit reached", code)
	}

	var amount int64
	switch discount.Kind {
	case domain.DiscountPercentage:
		amount = subtotal * discount.Value / 10000
	case domain.DiscountFixed:
		amount = discount.Value
	default:
		return 0, nil, fmt.Sprintf("discount %q has unknown kind", code)
	}
	if discount.MaxAmount > 0 && amount > discount.MaxAmount {
		amount = discount.MaxAmount
	}
	if amount > subtotal {
		amount = subtotal
	}
	if amount <= 0 {
		return 0, nil, ""
	}

	return amount, &code, ""
}

func (s *orderService) currentPaymentStatus(ctx context.Context, orderID string) domain.PaymentStatus {
	if s.payments == nil {
		return ""
	}
	payment, err := s.payments.FindCurrent(ctx, domain.PaymentForOrder, orderID)
	if err != nil {
		if !isNotFound(err) {
			s.logger(ctx, "order.payment.lookup.failed", map[string]any{"order": orderID, "error": err.Error()})
		}
		return ""
	}
	return payment.Status
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, "orders", 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) mapRepositoryError(err error) error {
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
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) recordAudit(ctx context.Context, record AuditRecord) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, record)
}

func (s *orderService) notify(ctx context.Context, event NotificationEvent) {
	if s.notifications == nil {
		return
	}
	if err := s.notifications.PublishNotification(ctx, event); err != nil {
		s.logger(ctx, "order.notification.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func validateCreateOrder(cmd CreateOrderCommand, now time.Time, minLead, maxAhead time.Duration) error {
	fields := map[string]string{}

	if strings.TrimSpace(cmd.BusinessID) == "" {
		fields["businessId"] = "business id is required"
	}
	if strings.TrimSpace(cmd.Actor.ID) == "" {
		fields["actor"] = "actor id is required"
	}
	if cmd.Actor.Role != domain.RoleCustomer {
		fields["actor"] = "orders are placed by customers"
	}
	if len(cmd.Items) == 0 {
		fields["items"] = "at least one item is required"
	}
	for i, item := range cmd.Items {
		key := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(item.ProductID) == "" {
			fields[key+".productId"] = "product id is required"
		}
		if item.Quantity < 1 || item.Quantity > maxItemQuantity {
			fields[key+".quantity"] = fmt.Sprintf("quantity must be between 1 and %d", maxItemQuantity)
		}
		if len(item.SpecialRequests) > maxSpecialRequestsLen {
			fields[key+".specialRequests"] = fmt.Sprintf("special requests exceed %d characters", maxSpecialRequestsLen)
		}
	}

	switch cmd.PaymentMethod {
	case "":
		fields["paymentMethod"] = "payment method is required"
	case domain.PaymentMethodCashOnPickup, domain.PaymentMethodCard,
		domain.PaymentMethodGCash, domain.PaymentMethodGrabPay, domain.PaymentMethodPayMaya:
	default:
		fields["paymentMethod"] = fmt.Sprintf("unsupported payment method %q", cmd.PaymentMethod)
	}

	pickup := cmd.PickupAt.UTC()
	switch {
	case pickup.IsZero():
		fields["pickupAt"] = "pickup time is required"
	case !pickup.After(now):
		fields["pickupAt"] = "pickup time must be in the future"
	case pickup.Before(now.Add(minLead)):
		fields["pickupAt"] = fmt.Sprintf("pickup time must be at least %s from now", minLead)
	case pickup.After(now.Add(maxAhead)):
		fields["pickupAt"] = fmt.Sprintf("pickup time must be within %s from now", maxAhead)
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func transitionMetadata(reason string) map[string]any {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil
	}
	return map[string]any{"reason": reason}
}

func randomArrivalCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		// crypto/rand failing is unrecoverable for codes; fall back to ulid entropy.
		return entropyArrivalCode(ulid.Make())
	}
	return fmt.Sprintf("%06d", n.Int64())
}

// entropyArrivalCode folds the ulid's entropy bytes into the same 6-digit
// numeric space the primary path produces.
func entropyArrivalCode(id ulid.ULID) string {
	var v uint64
	for _, b := range id.Entropy() {
		v = v<<8 | uint64(b)
	}
	return fmt.Sprintf("%06d", v%1_000_000)
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
