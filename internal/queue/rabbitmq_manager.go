package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/retry"
)

// PublishHorizon is the longest delay handed to the broker. The delay queue
// caps per-message TTL at this value; anything further out stays in the
// pending index until the sweep promotes it.
const PublishHorizon = 60 * time.Second

// Job is the queue payload. It carries only identifiers: the worker re-reads
// the record before acting, so record state stays the source of truth.
type Job struct {
	RecordID     string    `json:"record_id"`
	UserID       string    `json:"user_id"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

type Manager struct {
	client    *rabbitmq.RabbitClient
	publisher *rabbitmq.Publisher
	consumer  *rabbitmq.Consumer
}

func NewManager(url string) (*Manager, error) {
	config := rabbitmq.ClientConfig{
		URL:       url,
		Heartbeat: 10 * time.Second,
		ReconnectStrat: retry.Strategy{
			Attempts: 10,
			Delay:    2 * time.Second,
			Backoff:  2,
		},
		ProducingStrat: retry.Strategy{
			Attempts: 3,
			Delay:    100 * time.Millisecond,
			Backoff:  2,
		},
		ConsumingStrat: retry.Strategy{
			Attempts: 3,
			Delay:    100 * time.Millisecond,
			Backoff:  2,
		},
	}

	client, err := rabbitmq.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	if err := setupExchangesAndQueues(client); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to setup exchanges and queues: %w", err)
	}

	publisher := rabbitmq.NewPublisher(client, "notifications", "application/json")

	logrus.Info("rabbitmq manager initialized")
	return &Manager{
		client:    client,
		publisher: publisher,
	}, nil
}

func setupExchangesAndQueues(client *rabbitmq.RabbitClient) error {
	err := client.DeclareExchange("notifications", "direct", true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	delayQueueArgs := map[string]interface{}{
		"x-dead-letter-exchange":    "notifications",
		"x-dead-letter-routing-key": "ready",
		"x-message-ttl":             PublishHorizon.Milliseconds(),
	}

	err = client.DeclareQueue(
		"notifications.delayed",
		"notifications",
		"delayed",
		true,
		false,
		true,
		delayQueueArgs,
	)
	if err != nil {
		return fmt.Errorf("failed to declare delayed queue: %w", err)
	}

	err = client.DeclareQueue(
		"notifications.ready",
		"notifications",
		"ready",
		true,
		false,
		true,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare ready queue: %w", err)
	}

	return nil
}

// PublishJob routes a job by how far out its delivery time is: due jobs go
// straight to the ready queue, near ones wait in the delay queue, and jobs
// beyond the publish horizon are left for the sweep.
func (m *Manager) PublishJob(ctx context.Context, job Job) error {
	delay := delayUntil(job.ScheduledFor)

	if delay > PublishHorizon {
		logrus.WithFields(logrus.Fields{
			"record_id": job.RecordID,
			"delay":     delay,
		}).Debug("delivery beyond publish horizon, leaving to sweep")
		return nil
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	var routingKey string
	var opts []rabbitmq.PublishOption

	if delay <= 0 {
		routingKey = "ready"
	} else {
		routingKey = "delayed"
		opts = append(opts, rabbitmq.WithExpiration(delay))
	}

	err = m.publisher.Publish(ctx, body, routingKey, opts...)
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"record_id":   job.RecordID,
		"routing_key": routingKey,
		"delay":       delay,
	}).Debug("published delivery job")
	return nil
}

// PublishReady skips the delay queue regardless of the job's delivery time.
// The sweep uses it for jobs it has already established as due.
func (m *Manager) PublishReady(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = m.publisher.Publish(ctx, body, "ready")
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}

	logrus.WithField("record_id", job.RecordID).Debug("published ready delivery job")
	return nil
}

func (m *Manager) StartConsumer(ctx context.Context, handler rabbitmq.MessageHandler) error {
	config := rabbitmq.ConsumerConfig{
		Queue:         "notifications.ready",
		ConsumerTag:   "delivery-consumer",
		AutoAck:       false,
		Workers:       3,
		PrefetchCount: 10,
		Ask: rabbitmq.AskConfig{
			Multiple: false,
		},
		Nack: rabbitmq.NackConfig{
			Multiple: false,
			Requeue:  true,
		},
		Args: nil,
	}

	m.consumer = rabbitmq.NewConsumer(m.client, config, handler)

	go func() {
		if err := m.consumer.Start(ctx); err != nil {
			logrus.WithError(err).Error("consumer stopped")
		}
	}()

	logrus.Info("delivery consumer started")
	return nil
}

func (m *Manager) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

func delayUntil(t time.Time) time.Duration {
	now := time.Now()
	if t.Before(now) {
		return 0
	}
	return t.Sub(now)
}
