// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/snapkeep/snapkeep/internal/config"
	"github.com/snapkeep/snapkeep/internal/logging"
	"github.com/snapkeep/snapkeep/internal/metrics"
)

// Webhook consumes bus events and POSTs them as JSON to the configured URL.
type Webhook struct {
	bus    *Bus
	cfg    config.NotifyConfig
	client *http.Client
}

// NewWebhook builds the webhook forwarder.
func NewWebhook(bus *Bus, cfg config.NotifyConfig) *Webhook {
	return &Webhook{
		bus:    bus,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Enabled reports whether any notifications are configured.
func (w *Webhook) Enabled() bool {
	return w.cfg.WebhookURL != "" && (w.cfg.OnSuccess || w.cfg.OnFailure)
}

// Run subscribes to the configured topics and forwards events until ctx is
// cancelled. It returns ctx.Err() on shutdown.
func (w *Webhook) Run(ctx context.Context) error {
	if !w.Enabled() {
		<-ctx.Done()
		return ctx.Err()
	}

	var topics []string
	if w.cfg.OnSuccess {
		topics = append(topics, TopicCompleted)
	}
	if w.cfg.OnFailure {
		topics = append(topics, TopicFailed)
	}

	for _, topic := range topics {
		msgs, err := w.bus.Subscriber().Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		go w.consume(ctx, topic, msgs)
	}

	<-ctx.Done()
	return ctx.Err()
}

func (w *Webhook) consume(ctx context.Context, topic string, msgs <-chan *message.Message) {
	for msg := range msgs {
		w.deliver(ctx, topic, msg.Payload)
		// Delivery is best-effort, so the message is always acked.
		msg.Ack()
	}
}

func (w *Webhook) deliver(ctx context.Context, topic string, payload []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		logging.Error().Err(err).Str("topic", topic).Msg("Failed to build webhook request")
		metrics.NotificationsSent.WithLabelValues(topic, "error").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Snapkeep-Topic", topic)

	resp, err := w.client.Do(req)
	if err != nil {
		logging.Warn().Err(err).Str("topic", topic).Msg("Webhook delivery failed")
		metrics.NotificationsSent.WithLabelValues(topic, "error").Inc()
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		logging.Warn().Int("status", resp.StatusCode).Str("topic", topic).Msg("Webhook returned non-success status")
		metrics.NotificationsSent.WithLabelValues(topic, "error").Inc()
		return
	}

	logging.Debug().Str("topic", topic).Msg("Webhook delivered")
	metrics.NotificationsSent.WithLabelValues(topic, "ok").Inc()
}
