package jobs

import (
	"context"
	"encoding/json"
	"errors"

	"cloud.google.com/go/pubsub"

	"github.com/VNZray/capstone-project-sub001/internal/services"
)

// PubSubWebhookJobConsumer drains the webhook work queue and hands each job to
// the processor.
type PubSubWebhookJobConsumer struct {
	subscription *pubsub.Subscription
	processor    services.WebhookProcessor
	logger       func(ctx context.Context, event string, fields map[string]any)
}

// NewPubSubWebhookJobConsumer constructs a consumer bound to a subscription.
func NewPubSubWebhookJobConsumer(subscription *pubsub.Subscription, processor services.WebhookProcessor, logger func(ctx context.Context, event string, fields map[string]any)) (*PubSubWebhookJobConsumer, error) {
	if subscription == nil {
		return nil, errors.New("webhook job consumer requires a subscription")
	}
	if processor == nil {
		return nil, errors.New("webhook job consumer requires a processor")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PubSubWebhookJobConsumer{
		subscription: subscription,
		processor:    processor,
		logger:       logger,
	}, nil
}

// Run blocks consuming messages until the context is cancelled. Unparseable
// messages are acked (retrying cannot fix them); processing failures are
// nacked for redelivery.
func (c *PubSubWebhookJobConsumer) Run(ctx context.Context) error {
	err := c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		var job services.WebhookJobMessage
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			c.logger(ctx, "webhook.job.unparseable", map[string]any{"error": err.Error()})
			msg.Ack()
			return
		}

		if err := c.processor.Process(ctx, job.EventID); err != nil {
			c.logger(ctx, "webhook.job.process.failed", map[string]any{
				"job":   job.JobID,
				"event": job.EventID,
				"error": err.Error(),
			})
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
