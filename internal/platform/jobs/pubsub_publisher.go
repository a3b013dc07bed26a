package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/VNZray/capstone-project-sub001/internal/services"
)

// PubSubWebhookJobPublisher publishes webhook processing jobs to a Pub/Sub topic.
type PubSubWebhookJobPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubWebhookJobPublisher constructs a Pub/Sub backed webhook job publisher.
func NewPubSubWebhookJobPublisher(topic *pubsub.Topic) (*PubSubWebhookJobPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub webhook publisher: topic is required")
	}
	return &PubSubWebhookJobPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishWebhookJob enqueues a webhook processing message on the configured topic.
func (p *PubSubWebhookJobPublisher) PublishWebhookJob(ctx context.Context, message services.WebhookJobMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub webhook publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal webhook job: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "jobId", message.JobID)
	setAttr(attrs, "eventId", message.EventID)
	setAttr(attrs, "provider", message.Provider)
	setAttr(attrs, "eventType", message.EventType)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish webhook job: %w", err)
	}
	return id, nil
}

// PubSubNotificationPublisher emits fire-and-forget notification events consumed
// by push and real-time delivery outside this service.
type PubSubNotificationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubNotificationPublisher constructs a Pub/Sub backed notification publisher.
func NewPubSubNotificationPublisher(topic *pubsub.Topic) (*PubSubNotificationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification publisher: topic is required")
	}
	return &PubSubNotificationPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishNotification emits a notification event on the configured topic.
func (p *PubSubNotificationPublisher) PublishNotification(ctx context.Context, event services.NotificationEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub notification publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "businessId", event.BusinessID)
	setAttr(attrs, "userId", event.UserID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
