package services

import (
	"context"
	"errors"
	"fmt"
)

// QueuedDispatcherDeps bundles collaborators for the queue-backed dispatcher.
type QueuedDispatcherDeps struct {
	Publisher WebhookJobPublisher
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type queuedDispatcher struct {
	publisher WebhookJobPublisher
	logger    func(context.Context, string, map[string]any)
}

// NewQueuedDispatcher publishes webhook jobs to a message queue for a worker
// to pick up.
func NewQueuedDispatcher(deps QueuedDispatcherDeps) (BackgroundJobDispatcher, error) {
	if deps.Publisher == nil {
		return nil, errors.New("queued dispatcher: publisher is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &queuedDispatcher{publisher: deps.Publisher, logger: logger}, nil
}

func (d *queuedDispatcher) DispatchWebhookJob(ctx context.Context, message WebhookJobMessage) error {
	serverID, err := d.publisher.PublishWebhookJob(ctx, message)
	if err != nil {
		return fmt.Errorf("dispatch webhook job: %w", err)
	}

	d.logger(ctx, "webhook.job.published", map[string]any{
		"job":      message.JobID,
		"event":    message.EventID,
		"serverId": serverID,
	})
	return nil
}

// InlineDispatcherDeps bundles collaborators for the in-process dispatcher.
type InlineDispatcherDeps struct {
	Processor WebhookProcessor
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type inlineDispatcher struct {
	processor WebhookProcessor
	logger    func(context.Context, string, map[string]any)
}

// NewInlineDispatcher runs webhook processing synchronously in the ingesting
// process. Used when no queue is configured, and in tests.
func NewInlineDispatcher(deps InlineDispatcherDeps) (BackgroundJobDispatcher, error) {
	if deps.Processor == nil {
		return nil, errors.New("inline dispatcher: processor is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inlineDispatcher{processor: deps.Processor, logger: logger}, nil
}

func (d *inlineDispatcher) DispatchWebhookJob(ctx context.Context, message WebhookJobMessage) error {
	if err := d.processor.Process(ctx, message.EventID); err != nil {
		return fmt.Errorf("process webhook job inline: %w", err)
	}

	d.logger(ctx, "webhook.job.processed", map[string]any{
		"job":   message.JobID,
		"event": message.EventID,
	})
	return nil
}
