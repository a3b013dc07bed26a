package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Confirm(id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripePaymentMethodAPI interface {
	New(params *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	intents        stripePaymentIntentAPI
	paymentMethods stripePaymentMethodAPI
	refunds        stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey         string
	Backends       *stripe.Backends
	RequestTimeout time.Duration
	Logger         StripeLogger
	Clients        *stripeClients
}

// StripeProvider implements the Provider interface using Stripe APIs.
type StripeProvider struct {
	api     stripeClients
	timeout time.Duration
	logger  StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents:        sc.PaymentIntents,
			paymentMethods: sc.PaymentMethods,
			refunds:        sc.Refunds,
		}
	}

	if clients.intents == nil || clients.paymentMethods == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &StripeProvider{
		api:     clients,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// CreateIntent creates a payment intent with the configured method types.
func (p *StripeProvider) CreateIntent(ctx context.Context, req CreateIntentRequest) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("stripe: provider is nil")
	}

	ctx, cancel := p.callContext(ctx)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
	}
	params.Context = ctx
	if desc := strings.TrimSpace(req.Description); desc != "" {
		params.Description = stripe.String(desc)
	}
	for _, method := range req.MethodTypes {
		if m := strings.TrimSpace(method); m != "" {
			params.PaymentMethodTypes = append(params.PaymentMethodTypes, stripe.String(m))
		}
	}
	for key, value := range req.Metadata {
		params.AddMetadata(key, value)
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		return Intent{}, p.wrapStripeError(ctx, "stripe.intent.create.failed", err)
	}
	return stripeIntent(intent), nil
}

// AttachMethod creates a wallet payment method server-side and confirms the intent.
func (p *StripeProvider) AttachMethod(ctx context.Context, req AttachMethodRequest) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("stripe: provider is nil")
	}
	intentID := strings.TrimSpace(req.IntentID)
	if intentID == "" {
		return Intent{}, errors.New("stripe: intent id is required")
	}

	ctx, cancel := p.callContext(ctx)
	defer cancel()

	methodParams := &stripe.PaymentMethodParams{
		Type: stripe.String(strings.TrimSpace(req.MethodType)),
	}
	methodParams.Context = ctx

	method, err := p.api.paymentMethods.New(methodParams)
	if err != nil {
		return Intent{}, p.wrapStripeError(ctx, "stripe.method.create.failed", err)
	}

	confirmParams := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(method.ID),
	}
	confirmParams.Context = ctx
	if url := strings.TrimSpace(req.ReturnURL); url != "" {
		confirmParams.ReturnURL = stripe.String(url)
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		confirmParams.SetIdempotencyKey(key)
	}

	intent, err := p.api.intents.Confirm(intentID, confirmParams)
	if err != nil {
		return Intent{}, p.wrapStripeError(ctx, "stripe.intent.confirm.failed", err)
	}
	return stripeIntent(intent), nil
}

// CancelIntent abandons an intent, typically for stale unpaid orders.
func (p *StripeProvider) CancelIntent(ctx context.Context, req CancelIntentRequest) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("stripe: provider is nil")
	}
	intentID := strings.TrimSpace(req.IntentID)
	if intentID == "" {
		return Intent{}, errors.New("stripe: intent id is required")
	}

	ctx, cancel := p.callContext(ctx)
	defer cancel()

	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if reason := mapStripeCancellationReason(req.Reason); reason != "" {
		params.CancellationReason = stripe.String(reason)
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	intent, err := p.api.intents.Cancel(intentID, params)
	if err != nil {
		return Intent{}, p.wrapStripeError(ctx, "stripe.intent.cancel.failed", err)
	}
	return stripeIntent(intent), nil
}

// CreateRefund reverses a settled intent.
func (p *StripeProvider) CreateRefund(ctx context.Context, req RefundRequest) (Refund, error) {
	if p == nil {
		return Refund{}, errors.New("stripe: provider is nil")
	}
	intentID := strings.TrimSpace(req.PaymentIntentID)
	if intentID == "" {
		return Refund{}, errors.New("stripe: payment intent id is required")
	}

	ctx, cancel := p.callContext(ctx)
	defer cancel()

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
	}
	params.Context = ctx
	if req.Amount > 0 {
		params.Amount = stripe.Int64(req.Amount)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	refund, err := p.api.refunds.New(params)
	if err != nil {
		return Refund{}, p.wrapStripeError(ctx, "stripe.refund.create.failed", err)
	}

	return Refund{
		ID:     refund.ID,
		Status: stripeRefundStatus(refund.Status),
		Amount: refund.Amount,
	}, nil
}

// LookupIntent fetches the current intent state from the gateway.
func (p *StripeProvider) LookupIntent(ctx context.Context, intentID string) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("stripe: provider is nil")
	}
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return Intent{}, errors.New("stripe: intent id is required")
	}

	ctx, cancel := p.callContext(ctx)
	defer cancel()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	intent, err := p.api.intents.Get(intentID, params)
	if err != nil {
		return Intent{}, p.wrapStripeError(ctx, "stripe.intent.lookup.failed", err)
	}
	return stripeIntent(intent), nil
}

func (p *StripeProvider) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, p.timeout)
}

func (p *StripeProvider) wrapStripeError(ctx context.Context, event string, err error) error {
	p.logger(ctx, event, map[string]any{"error": err.Error()})

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= 500 || stripeErr.Type == stripe.ErrorTypeAPI {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}
	// Non-Stripe errors are transport failures (timeouts, connection resets).
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func stripeIntent(intent *stripe.PaymentIntent) Intent {
	if intent == nil {
		return Intent{}
	}

	out := Intent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       stripeIntentStatus(intent.Status),
		Amount:       intent.Amount,
		Currency:     strings.ToUpper(string(intent.Currency)),
		Metadata:     intent.Metadata,
	}
	if intent.PaymentMethod != nil {
		out.MethodID = intent.PaymentMethod.ID
	}
	if intent.LatestCharge != nil {
		out.PaymentID = intent.LatestCharge.ID
	}
	if intent.NextAction != nil && intent.NextAction.RedirectToURL != nil {
		out.NextAction = intent.NextAction.RedirectToURL.URL
	}
	return out
}

func stripeIntentStatus(status stripe.PaymentIntentStatus) IntentStatus {
	switch status {
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		return IntentStatusAwaitingMethod
	case stripe.PaymentIntentStatusRequiresConfirmation, stripe.PaymentIntentStatusRequiresAction:
		return IntentStatusAwaitingAction
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresCapture:
		return IntentStatusProcessing
	case stripe.PaymentIntentStatusSucceeded:
		return IntentStatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return IntentStatusCanceled
	}
	return IntentStatusFailed
}

func stripeRefundStatus(status stripe.RefundStatus) RefundStatus {
	switch status {
	case stripe.RefundStatusSucceeded:
		return RefundStatusSucceeded
	case stripe.RefundStatusPending, stripe.RefundStatusRequiresAction:
		return RefundStatusPending
	}
	return RefundStatusFailed
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "duplicate":
		return string(stripe.RefundReasonDuplicate)
	case "fraudulent", "fraud":
		return string(stripe.RefundReasonFraudulent)
	case "requested_by_customer", "customer_request", "":
		return string(stripe.RefundReasonRequestedByCustomer)
	}
	return string(stripe.RefundReasonRequestedByCustomer)
}

func mapStripeCancellationReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "abandoned", "stale":
		return "abandoned"
	case "duplicate":
		return "duplicate"
	case "requested_by_customer", "customer_request":
		return "requested_by_customer"
	case "":
		return ""
	}
	return "abandoned"
}
