package di

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/VNZray/capstone-project-sub001/internal/handlers"
	"github.com/VNZray/capstone-project-sub001/internal/payments"
	"github.com/VNZray/capstone-project-sub001/internal/platform/auth"
	"github.com/VNZray/capstone-project-sub001/internal/platform/config"
	pfirestore "github.com/VNZray/capstone-project-sub001/internal/platform/firestore"
	"github.com/VNZray/capstone-project-sub001/internal/platform/jobs"
	"github.com/VNZray/capstone-project-sub001/internal/platform/observability"
	fsrepo "github.com/VNZray/capstone-project-sub001/internal/repositories/firestore"
	"github.com/VNZray/capstone-project-sub001/internal/services"
)

// Services groups every constructed service for wiring and tests.
type Services struct {
	Orders     services.OrderService
	Payments   services.PaymentService
	Webhooks   services.WebhookService
	Refunds    services.RefundService
	Reaper     services.ReaperService
	Audit      services.AuditLogService
	Dispatcher services.BackgroundJobDispatcher
}

// Container owns the long-lived application dependencies.
type Container struct {
	cfg    config.Config
	logger *zap.Logger

	provider     *pfirestore.Provider
	registry     *fsrepo.Registry
	pubsubClient *pubsub.Client

	Services Services
	Router   chi.Router

	// Consumer is non-nil when a webhook queue subscription is configured.
	Consumer *jobs.PubSubWebhookJobConsumer
}

// lazyDispatcher breaks the webhook service / inline dispatcher cycle: the
// service is built against this indirection and the concrete dispatcher is
// installed once the service exists.
type lazyDispatcher struct {
	inner services.BackgroundJobDispatcher
}

func (d *lazyDispatcher) DispatchWebhookJob(ctx context.Context, message services.WebhookJobMessage) error {
	if d == nil || d.inner == nil {
		return errors.New("dispatcher not initialised")
	}
	return d.inner.DispatchWebhookJob(ctx, message)
}

// NewContainer builds the full dependency graph from configuration.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	eventLog := observability.EventLogger(logger)

	provider := pfirestore.NewProvider(cfg.Firestore)
	registry, err := fsrepo.NewRegistry(provider)
	if err != nil {
		return nil, fmt.Errorf("build repository registry: %w", err)
	}

	gateway, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:         cfg.Gateway.APIKey,
		RequestTimeout: cfg.Gateway.RequestTimeout,
		Logger:         eventLog,
	})
	if err != nil {
		return nil, fmt.Errorf("build payment provider: %w", err)
	}

	var (
		pubsubClient      *pubsub.Client
		webhookTopic      *pubsub.Topic
		notificationTopic *pubsub.Topic
	)
	if cfg.Jobs.ProjectID != "" {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.Jobs.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		if cfg.Jobs.WebhookTopic != "" {
			webhookTopic = pubsubClient.Topic(cfg.Jobs.WebhookTopic)
		}
		if cfg.Jobs.NotificationTopic != "" {
			notificationTopic = pubsubClient.Topic(cfg.Jobs.NotificationTopic)
		}
	}

	var notifications services.NotificationPublisher
	if notificationTopic != nil {
		notifications, err = jobs.NewPubSubNotificationPublisher(notificationTopic)
		if err != nil {
			return nil, fmt.Errorf("build notification publisher: %w", err)
		}
	}

	audit, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		Repository: registry.AuditLogs(),
		Logger:     eventLog,
	})
	if err != nil {
		return nil, fmt.Errorf("build audit log service: %w", err)
	}

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Payments:  registry.Payments(),
		Orders:    registry.Orders(),
		Provider:  gateway,
		MinAmount: cfg.Gateway.MinIntentAmount,
		Audit:     audit,
		Logger:    eventLog,
	})
	if err != nil {
		return nil, fmt.Errorf("build payment service: %w", err)
	}

	authority := services.NewTransitionAuthority(cfg.Orders.CancelGraceWindow)

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:         registry.Orders(),
		Payments:       registry.Payments(),
		Products:       registry.Products(),
		Stock:          registry.Stock(),
		Discounts:      registry.Discounts(),
		Counters:       registry.Counters(),
		UnitOfWork:     registry,
		Authority:      authority,
		Checkout:       paymentSvc,
		Audit:          audit,
		Notifications:  notifications,
		Currency:       cfg.Orders.Currency,
		TaxRateBPS:     cfg.Orders.TaxRateBPS,
		MinPickupLead:  cfg.Orders.MinPickupLead,
		MaxPickupAhead: cfg.Orders.MaxPickupAhead,
		Logger:         eventLog,
	})
	if err != nil {
		return nil, fmt.Errorf("build order service: %w", err)
	}

	dispatcher := &lazyDispatcher{}
	webhookSvc, err := services.NewWebhookService(services.WebhookServiceDeps{
		Events:        registry.WebhookEvents(),
		Payments:      registry.Payments(),
		Orders:        registry.Orders(),
		Stock:         registry.Stock(),
		Dispatcher:    dispatcher,
		Audit:         audit,
		Notifications: notifications,
		Logger:        eventLog,
	})
	if err != nil {
		return nil, fmt.Errorf("build webhook service: %w", err)
	}

	if webhookTopic != nil {
		publisher, err := jobs.NewPubSubWebhookJobPublisher(webhookTopic)
		if err != nil {
			return nil, fmt.Errorf("build webhook job publisher: %w", err)
		}
		queued, err := services.NewQueuedDispatcher(services.QueuedDispatcherDeps{
			Publisher: publisher,
			Logger:    eventLog,
		})
		if err != nil {
			return nil, fmt.Errorf("build queued dispatcher: %w", err)
		}
		dispatcher.inner = queued
	} else {
		inline, err := services.NewInlineDispatcher(services.InlineDispatcherDeps{
			Processor: webhookSvc,
			Logger:    eventLog,
		})
		if err != nil {
			return nil, fmt.Errorf("build inline dispatcher: %w", err)
		}
		dispatcher.inner = inline
	}

	var consumer *jobs.PubSubWebhookJobConsumer
	if pubsubClient != nil && cfg.Jobs.WebhookSubscription != "" {
		consumer, err = jobs.NewPubSubWebhookJobConsumer(pubsubClient.Subscription(cfg.Jobs.WebhookSubscription), webhookSvc, eventLog)
		if err != nil {
			return nil, fmt.Errorf("build webhook job consumer: %w", err)
		}
	}

	refundSvc, err := services.NewRefundService(services.RefundServiceDeps{
		Orders:        registry.Orders(),
		Payments:      registry.Payments(),
		Stock:         registry.Stock(),
		Provider:      gateway,
		Authority:     authority,
		Audit:         audit,
		Notifications: notifications,
		Logger:        eventLog,
	})
	if err != nil {
		return nil, fmt.Errorf("build refund service: %w", err)
	}

	reaperSvc, err := services.NewReaperService(services.ReaperServiceDeps{
		Orders:        registry.Orders(),
		Payments:      registry.Payments(),
		Stock:         registry.Stock(),
		Provider:      gateway,
		Audit:         audit,
		Notifications: notifications,
		StaleAfter:    cfg.Orders.ReaperStaleAfter,
		BatchSize:     cfg.Orders.ReaperBatchSize,
		Logger:        eventLog,
	})
	if err != nil {
		return nil, fmt.Errorf("build reaper service: %w", err)
	}

	verifier, err := auth.NewWebhookVerifier(cfg.Webhooks.Secret, auth.WithClockSkew(cfg.Webhooks.ClockSkew))
	if err != nil {
		return nil, fmt.Errorf("build webhook verifier: %w", err)
	}

	orderHandlers := handlers.NewOrderHandlers(orderSvc, refundSvc, audit)
	paymentHandlers := handlers.NewPaymentHandlers(paymentSvc)
	webhookHandlers := handlers.NewWebhookHandlers(webhookSvc, cfg.Webhooks.Provider)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(observability.RequestLogger(logger)),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes, verifier.Middleware()),
	)

	return &Container{
		cfg:          cfg,
		logger:       logger,
		provider:     provider,
		registry:     registry,
		pubsubClient: pubsubClient,
		Services: Services{
			Orders:     orderSvc,
			Payments:   paymentSvc,
			Webhooks:   webhookSvc,
			Refunds:    refundSvc,
			Reaper:     reaperSvc,
			Audit:      audit,
			Dispatcher: dispatcher,
		},
		Router:   router,
		Consumer: consumer,
	}, nil
}

// Close releases every long-lived dependency.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.pubsubClient != nil {
		if err := c.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
	}
	if c.registry != nil {
		if err := c.registry.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repository registry: %w", err))
		}
	}
	return errors.Join(errs...)
}
