package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"studynudge/internal/models"
	"studynudge/internal/service"
)

// Config points the consumer at the behavioral event topic.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads behavioral events and runs them through the nudge engine.
// Malformed messages are logged and skipped.
type Consumer struct {
	reader *kafka.Reader
	nudges *service.Nudges
}

func NewConsumer(cfg Config, nudges *service.Nudges) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       10e3,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})
	return &Consumer{reader: reader, nudges: nudges}
}

func (c *Consumer) Start(ctx context.Context) {
	go c.run(ctx)
	logrus.Info("behavioral event consumer started")
}

func (c *Consumer) run(ctx context.Context) {
	for {
		message, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logrus.WithError(err).Error("failed to read behavioral event")
			continue
		}
		c.handleEvent(ctx, message.Value)
	}
}

// handleEvent decodes one payload and runs it through the nudge engine.
// Malformed payloads are dropped so they cannot wedge the consumer group.
func (c *Consumer) handleEvent(ctx context.Context, payload []byte) {
	var event models.BehavioralEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		logrus.WithError(err).Warn("skipping malformed behavioral event")
		return
	}

	results, err := c.nudges.Trigger(ctx, event.UserID, event.Event, event.Context)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"user_id": event.UserID,
			"event":   event.Event,
		}).Error("failed to evaluate behavioral event")
		return
	}

	fired := 0
	for _, result := range results {
		if result.Fired {
			fired++
		}
	}
	logrus.WithFields(logrus.Fields{
		"user_id":   event.UserID,
		"event":     event.Event,
		"evaluated": len(results),
		"fired":     fired,
	}).Debug("behavioral event processed")
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
