package config

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultRequestTimeout  = 30 * time.Second
	defaultCurrency        = "PHP"
	defaultTaxRateBPS      = 0
	defaultGraceWindow     = 10 * time.Second
	defaultMinPickupLead   = 30 * time.Minute
	defaultMaxPickupAhead  = 14 * 24 * time.Hour
	defaultMinIntentAmount = 2000 // gateway floor in minor units
	defaultGatewayTimeout  = 15 * time.Second
	defaultWebhookSkew     = 5 * time.Minute
	defaultReaperInterval  = 5 * time.Minute
	defaultReaperStale     = 30 * time.Minute
	defaultReaperBatch     = 50
)

// Config aggregates runtime configuration for the API process.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	Gateway   GatewayConfig
	Webhooks  WebhookConfig
	Orders    OrderConfig
	Jobs      JobsConfig
	Secrets   SecretsConfig
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// FirestoreConfig stores ledger connection settings.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// GatewayConfig collects payment gateway settings.
type GatewayConfig struct {
	APIKey string
	// MinIntentAmount is the smallest amount (minor units) the gateway accepts.
	MinIntentAmount int64
	RequestTimeout  time.Duration
}

// WebhookConfig controls signature verification for inbound gateway events.
type WebhookConfig struct {
	Secret string
	// ClockSkew is the accepted distance between the signed timestamp and now.
	ClockSkew time.Duration
	Provider  string
}

// OrderConfig holds order-creation and lifecycle policy.
type OrderConfig struct {
	Currency string
	// TaxRateBPS is the tax rate in basis points applied to (subtotal - discount).
	TaxRateBPS int64
	// CancelGraceWindow is how long after creation a customer may self-cancel.
	CancelGraceWindow time.Duration
	MinPickupLead     time.Duration
	MaxPickupAhead    time.Duration
	ReaperInterval    time.Duration
	// ReaperStaleAfter is the age past which an unpaid gateway order is reaped.
	ReaperStaleAfter time.Duration
	ReaperBatchSize  int
}

// JobsConfig configures the async work queue and notification topics.
type JobsConfig struct {
	ProjectID string
	// WebhookTopic is where ingested events are queued for processing.
	WebhookTopic string
	// WebhookSubscription, when set, makes this process consume the queue too.
	WebhookSubscription string
	NotificationTopic   string
}

// SecretsConfig names Secret Manager entries resolved at startup.
type SecretsConfig struct {
	ProjectID         string
	GatewayAPIKeyName string
	WebhookSecretName string
}

// Option customises Load behaviour.
type Option func(*loader)

type loader struct {
	lookup  func(string) (string, bool)
	resolve func(ctx context.Context, name string) (string, error)
}

// WithLookup overrides the environment lookup, primarily for tests.
func WithLookup(lookup func(string) (string, bool)) Option {
	return func(l *loader) {
		if lookup != nil {
			l.lookup = lookup
		}
	}
}

// WithSecretResolver resolves named secrets for values not present in the environment.
func WithSecretResolver(resolve func(ctx context.Context, name string) (string, error)) Option {
	return func(l *loader) {
		if resolve != nil {
			l.resolve = resolve
		}
	}
}

// Load builds the configuration from environment variables, falling back to the
// secret resolver for sensitive values that are referenced by name.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	l := &loader{lookup: os.LookupEnv}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}

	cfg := Config{
		Server: ServerConfig{
			Port:           stringWithDefault(l.lookup, "PORT", defaultPort),
			ReadTimeout:    durationWithDefault(l.lookup, "SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   durationWithDefault(l.lookup, "SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    durationWithDefault(l.lookup, "SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout: durationWithDefault(l.lookup, "SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(l.lookup, "FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(l.lookup, "FIRESTORE_EMULATOR_HOST", ""),
		},
		Gateway: GatewayConfig{
			APIKey:          stringWithDefault(l.lookup, "GATEWAY_API_KEY", ""),
			MinIntentAmount: int64WithDefault(l.lookup, "GATEWAY_MIN_INTENT_AMOUNT", defaultMinIntentAmount),
			RequestTimeout:  durationWithDefault(l.lookup, "GATEWAY_REQUEST_TIMEOUT", defaultGatewayTimeout),
		},
		Webhooks: WebhookConfig{
			Secret:    stringWithDefault(l.lookup, "WEBHOOK_SECRET", ""),
			ClockSkew: durationWithDefault(l.lookup, "WEBHOOK_CLOCK_SKEW", defaultWebhookSkew),
			Provider:  stringWithDefault(l.lookup, "WEBHOOK_PROVIDER", "stripe"),
		},
		Orders: OrderConfig{
			Currency:          stringWithDefault(l.lookup, "ORDER_CURRENCY", defaultCurrency),
			TaxRateBPS:        int64WithDefault(l.lookup, "ORDER_TAX_RATE_BPS", defaultTaxRateBPS),
			CancelGraceWindow: durationWithDefault(l.lookup, "ORDER_CANCEL_GRACE_WINDOW", defaultGraceWindow),
			MinPickupLead:     durationWithDefault(l.lookup, "ORDER_MIN_PICKUP_LEAD", defaultMinPickupLead),
			MaxPickupAhead:    durationWithDefault(l.lookup, "ORDER_MAX_PICKUP_AHEAD", defaultMaxPickupAhead),
			ReaperInterval:    durationWithDefault(l.lookup, "ORDER_REAPER_INTERVAL", defaultReaperInterval),
			ReaperStaleAfter:  durationWithDefault(l.lookup, "ORDER_REAPER_STALE_AFTER", defaultReaperStale),
			ReaperBatchSize:   intWithDefault(l.lookup, "ORDER_REAPER_BATCH_SIZE", defaultReaperBatch),
		},
		Jobs: JobsConfig{
			ProjectID:           stringWithDefault(l.lookup, "PUBSUB_PROJECT_ID", ""),
			WebhookTopic:        stringWithDefault(l.lookup, "PUBSUB_WEBHOOK_TOPIC", ""),
			WebhookSubscription: stringWithDefault(l.lookup, "PUBSUB_WEBHOOK_SUBSCRIPTION", ""),
			NotificationTopic:   stringWithDefault(l.lookup, "PUBSUB_NOTIFICATION_TOPIC", ""),
		},
		Secrets: SecretsConfig{
			ProjectID:         stringWithDefault(l.lookup, "SECRETS_PROJECT_ID", ""),
			GatewayAPIKeyName: stringWithDefault(l.lookup, "SECRETS_GATEWAY_API_KEY_NAME", ""),
			WebhookSecretName: stringWithDefault(l.lookup, "SECRETS_WEBHOOK_SECRET_NAME", ""),
		},
	}

	if cfg.Jobs.ProjectID == "" {
		cfg.Jobs.ProjectID = cfg.Firestore.ProjectID
	}

	if l.resolve != nil {
		if cfg.Gateway.APIKey == "" && cfg.Secrets.GatewayAPIKeyName != "" {
			value, err := l.resolve(ctx, cfg.Secrets.GatewayAPIKeyName)
			if err != nil {
				return Config{}, err
			}
			cfg.Gateway.APIKey = strings.TrimSpace(value)
		}
		if cfg.Webhooks.Secret == "" && cfg.Secrets.WebhookSecretName != "" {
			value, err := l.resolve(ctx, cfg.Secrets.WebhookSecretName)
			if err != nil {
				return Config{}, err
			}
			cfg.Webhooks.Secret = strings.TrimSpace(value)
		}
	}

	return cfg, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func int64WithDefault(lookup func(string) (string, bool), key string, fallback int64) int64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
