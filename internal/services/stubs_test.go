package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/VNZray/capstone-project-sub001/internal/domain"
	"github.com/VNZray/capstone-project-sub001/internal/payments"
	"github.com/VNZray/capstone-project-sub001/internal/repositories"
)

// fakeRepoError satisfies repositories.RepositoryError for tests.
type fakeRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e fakeRepoError) Error() string       { return e.msg }
func (e fakeRepoError) IsNotFound() bool    { return e.notFound }
func (e fakeRepoError) IsConflict() bool    { return e.conflict }
func (e fakeRepoError) IsUnavailable() bool { return e.unavailable }

func notFoundErr() error    { return fakeRepoError{msg: "not found", notFound: true} }
func conflictErr() error    { return fakeRepoError{msg: "conflict", conflict: true} }
func unavailableErr() error { return fakeRepoError{msg: "unavailable", unavailable: true} }

type stubOrderRepo struct {
	insertFn       func(ctx context.Context, order domain.Order) error
	updateStatusFn func(ctx context.Context, update repositories.OrderStatusUpdate) error
	findFn         func(ctx context.Context, orderID string) (domain.Order, error)
	listFn         func(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error)
	listStaleFn    func(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn == nil {
		return nil
	}
	return s.insertFn(ctx, order)
}

func (s *stubOrderRepo) UpdateStatus(ctx context.Context, update repositories.OrderStatusUpdate) error {
	if s.updateStatusFn == nil {
		return nil
	}
	return s.updateStatusFn(ctx, update)
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn == nil {
		return domain.Order{}, notFoundErr()
	}
	return s.findFn(ctx, orderID)
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, filter)
}

func (s *stubOrderRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	if s.listStaleFn == nil {
		return nil, nil
	}
	return s.listStaleFn(ctx, cutoff, limit)
}

type stubPaymentRepo struct {
	insertFn       func(ctx context.Context, payment domain.Payment) error
	updateFn       func(ctx context.Context, payment domain.Payment) error
	findFn         func(ctx context.Context, paymentID string) (domain.Payment, error)
	findCurrentFn  func(ctx context.Context, paymentFor domain.PaymentFor, targetID string) (domain.Payment, error)
	findByIntentFn func(ctx context.Context, intentID string) (domain.Payment, error)
}

func (s *stubPaymentRepo) Insert(ctx context.Context, payment domain.Payment) error {
	if s.insertFn == nil {
		return nil
	}
	return s.insertFn(ctx, payment)
}

func (s *stubPaymentRepo) Update(ctx context.Context, payment domain.Payment) error {
	if s.updateFn == nil {
		return nil
	}
	return s.updateFn(ctx, payment)
}

func (s *stubPaymentRepo) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	if s.findFn == nil {
		return domain.Payment{}, notFoundErr()
	}
	return s.findFn(ctx, paymentID)
}

func (s *stubPaymentRepo) FindCurrent(ctx context.Context, paymentFor domain.PaymentFor, targetID string) (domain.Payment, error) {
	if s.findCurrentFn == nil {
		return domain.Payment{}, notFoundErr()
	}
	return s.findCurrentFn(ctx, paymentFor, targetID)
}

func (s *stubPaymentRepo) FindByProviderIntentID(ctx context.Context, intentID string) (domain.Payment, error) {
	if s.findByIntentFn == nil {
		return domain.Payment{}, notFoundErr()
	}
	return s.findByIntentFn(ctx, intentID)
}

type stubWebhookEventRepo struct {
	insertFn        func(ctx context.Context, event domain.WebhookEvent) error
	findFn          func(ctx context.Context, eventID string) (domain.WebhookEvent, error)
	markProcessedFn func(ctx context.Context, eventID string, processedAt time.Time) error
	markFailedFn    func(ctx context.Context, eventID string, processedAt time.Time, reason string) error
}

func (s *stubWebhookEventRepo) Insert(ctx context.Context, event domain.WebhookEvent) error {
	if s.insertFn == nil {
		return nil
	}
	return s.insertFn(ctx, event)
}

func (s *stubWebhookEventRepo) FindByID(ctx context.Context, eventID string) (domain.WebhookEvent, error) {
	if s.findFn == nil {
		return domain.WebhookEvent{}, notFoundErr()
	}
	return s.findFn(ctx, eventID)
}

func (s *stubWebhookEventRepo) MarkProcessed(ctx context.Context, eventID string, processedAt time.Time) error {
	if s.markProcessedFn == nil {
		return nil
	}
	return s.markProcessedFn(ctx, eventID, processedAt)
}

func (s *stubWebhookEventRepo) MarkFailed(ctx context.Context, eventID string, processedAt time.Time, reason string) error {
	if s.markFailedFn == nil {
		return nil
	}
	return s.markFailedFn(ctx, eventID, processedAt, reason)
}

type stubProductRepo struct {
	findFn func(ctx context.Context, productID string) (domain.Product, error)
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFn == nil {
		return domain.Product{}, notFoundErr()
	}
	return s.findFn(ctx, productID)
}

type stubStockRepo struct {
	decrementFn func(ctx context.Context, orderID string, lines []repositories.StockLine, now time.Time) error
	restoreFn   func(ctx context.Context, orderID string, now time.Time) (int, error)
	onHandFn    func(ctx context.Context, productID string) (domain.Stock, error)
}

func (s *stubStockRepo) Decrement(ctx context.Context, orderID string, lines []repositories.StockLine, now time.Time) error {
	if s.decrementFn == nil {
		return nil
	}
	return s.decrementFn(ctx, orderID, lines, now)
}

func (s *stubStockRepo) Restore(ctx context.Context, orderID string, now time.Time) (int, error) {
	if s.restoreFn == nil {
		return 0, nil
	}
	return s.restoreFn(ctx, orderID, now)
}

func (s *stubStockRepo) OnHand(ctx context.Context, productID string) (domain.Stock, error) {
	if s.onHandFn == nil {
		return domain.Stock{}, notFoundErr()
	}
	return s.onHandFn(ctx, productID)
}

type stubDiscountRepo struct {
	findFn      func(ctx context.Context, code string) (domain.Discount, error)
	incrementFn func(ctx context.Context, code string) error
}

func (s *stubDiscountRepo) FindByCode(ctx context.Context, code string) (domain.Discount, error) {
	if s.findFn == nil {
		return domain.Discount{}, notFoundErr()
	}
	return s.findFn(ctx, code)
}

func (s *stubDiscountRepo) IncrementUsage(ctx context.Context, code string) error {
	if s.incrementFn == nil {
		return nil
	}
	return s.incrementFn(ctx, code)
}

type stubAuditRepo struct {
	appendFn func(ctx context.Context, entry domain.AuditEntry) error
	listFn   func(ctx context.Context, orderID string, limit int) ([]domain.AuditEntry, error)
}

func (s *stubAuditRepo) Append(ctx context.Context, entry domain.AuditEntry) error {
	if s.appendFn == nil {
		return nil
	}
	return s.appendFn(ctx, entry)
}

func (s *stubAuditRepo) ListByOrder(ctx context.Context, orderID string, limit int) ([]domain.AuditEntry, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, orderID, limit)
}

type stubCounterRepo struct {
	nextFn func(ctx context.Context, name string, step int64) (int64, error)
}

func (s *stubCounterRepo) Next(ctx context.Context, name string, step int64) (int64, error) {
	if s.nextFn == nil {
		return 1, nil
	}
	return s.nextFn(ctx, name, step)
}

type stubUnitOfWork struct {
	runFn func(ctx context.Context, fn func(ctx context.Context) error) error
}

func (s stubUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.runFn == nil {
		return fn(ctx)
	}
	return s.runFn(ctx, fn)
}

// captureAudit records every audit call for assertions.
type captureAudit struct {
	mu      sync.Mutex
	records []AuditRecord
	entries []AuditEntry
	listErr error
}

func (c *captureAudit) Record(_ context.Context, record AuditRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record)
}

func (c *captureAudit) ListByOrder(context.Context, string, int) ([]AuditEntry, error) {
	return c.entries, c.listErr
}

func (c *captureAudit) byType(eventType string) []AuditRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []AuditRecord
	for _, record := range c.records {
		if record.EventType == eventType {
			out = append(out, record)
		}
	}
	return out
}

// captureNotifications records published notification events.
type captureNotifications struct {
	mu     sync.Mutex
	events []NotificationEvent
	err    error
}

func (c *captureNotifications) PublishNotification(_ context.Context, event NotificationEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, event)
	return nil
}

type stubProvider struct {
	createIntentFn func(ctx context.Context, req payments.CreateIntentRequest) (payments.Intent, error)
	attachFn       func(ctx context.Context, req payments.AttachMethodRequest) (payments.Intent, error)
	cancelFn       func(ctx context.Context, req payments.CancelIntentRequest) (payments.Intent, error)
	refundFn       func(ctx context.Context, req payments.RefundRequest) (payments.Refund, error)
	lookupFn       func(ctx context.Context, intentID string) (payments.Intent, error)
}

func (s *stubProvider) CreateIntent(ctx context.Context, req payments.CreateIntentRequest) (payments.Intent, error) {
	if s.createIntentFn == nil {
		return payments.Intent{}, payments.ErrUnavailable
	}
	return s.createIntentFn(ctx, req)
}

func (s *stubProvider) AttachMethod(ctx context.Context, req payments.AttachMethodRequest) (payments.Intent, error) {
	if s.attachFn == nil {
		return payments.Intent{}, payments.ErrUnavailable
	}
	return s.attachFn(ctx, req)
}

func (s *stubProvider) CancelIntent(ctx context.Context, req payments.CancelIntentRequest) (payments.Intent, error) {
	if s.cancelFn == nil {
		return payments.Intent{}, payments.ErrUnavailable
	}
	return s.cancelFn(ctx, req)
}

func (s *stubProvider) CreateRefund(ctx context.Context, req payments.RefundRequest) (payments.Refund, error) {
	if s.refundFn == nil {
		return payments.Refund{}, payments.ErrUnavailable
	}
	return s.refundFn(ctx, req)
}

func (s *stubProvider) LookupIntent(ctx context.Context, intentID string) (payments.Intent, error) {
	if s.lookupFn == nil {
		return payments.Intent{}, payments.ErrUnavailable
	}
	return s.lookupFn(ctx, intentID)
}

type captureDispatcher struct {
	messages []WebhookJobMessage
	err      error
}

func (c *captureDispatcher) DispatchWebhookJob(_ context.Context, message WebhookJobMessage) error {
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, message)
	return nil
}

// captureLogger records structured log events emitted by a service under test.
type captureLogger struct {
	mu     sync.Mutex
	events []string
}

func (c *captureLogger) log(_ context.Context, event string, _ map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureLogger) has(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e == event {
			return true
		}
	}
	return false
}

// sequenceIDs returns an id generator yielding TEST000001, TEST000002, ...
func sequenceIDs() func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("TEST%06d", n)
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
