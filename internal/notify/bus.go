// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

// Package notify publishes backup run outcomes on an in-process Pub/Sub and
// forwards them to an operator webhook. Notification delivery is
// best-effort: a failed delivery is logged and counted, never retried, and
// never affects the backup itself.
package notify

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	json "github.com/goccy/go-json"

	"github.com/snapkeep/snapkeep/internal/logging"
)

// Topics carried on the bus.
const (
	TopicCompleted = "backup.completed"
	TopicFailed    = "backup.failed"
)

// Event is the notification payload for one finished run.
type Event struct {
	JobID        string    `json:"job_id"`
	Database     string    `json:"database"`
	Kind         string    `json:"kind"`
	Trigger      string    `json:"trigger"`
	Status       string    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	ArtifactPath string    `json:"artifact_path,omitempty"`
	SizeBytes    int64     `json:"size_bytes,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Bus wraps a watermill gochannel Pub/Sub.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates the in-process event bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, newBusLogger()),
	}
}

// Publish emits an event on the topic matching its status.
func (b *Bus) Publish(ev Event) error {
	topic := TopicCompleted
	if ev.Status != "completed" {
		topic = TopicFailed
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// Subscriber exposes the underlying subscriber for consumers.
func (b *Bus) Subscriber() message.Subscriber { return b.pubsub }

// Close shuts the bus down, closing all subscriber channels.
func (b *Bus) Close() error { return b.pubsub.Close() }

// busLogger adapts watermill logging onto zerolog.
type busLogger struct {
	fields watermill.LogFields
}

func newBusLogger() watermill.LoggerAdapter { return busLogger{} }

func (l busLogger) merged(fields watermill.LogFields) map[string]any {
	out := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func (l busLogger) Error(msg string, err error, fields watermill.LogFields) {
	logging.Error().Err(err).Fields(l.merged(fields)).Msg(msg)
}

func (l busLogger) Info(msg string, fields watermill.LogFields) {
	logging.Debug().Fields(l.merged(fields)).Msg(msg)
}

func (l busLogger) Debug(msg string, fields watermill.LogFields) {
	logging.Debug().Fields(l.merged(fields)).Msg(msg)
}

func (l busLogger) Trace(msg string, fields watermill.LogFields) {
	logging.Debug().Fields(l.merged(fields)).Msg(msg)
}

func (l busLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return busLogger{fields: l.fields.Add(fields)}
}
