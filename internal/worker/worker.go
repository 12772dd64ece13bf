package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/wb-go/wbf/retry"

	"studynudge/internal/models"
	"studynudge/internal/queue"
	"studynudge/internal/service"
)

// dueSkew tolerates delay-queue TTL rounding when deciding whether a job
// arrived early.
const dueSkew = time.Second

// Processor consumes ready delivery jobs and finalizes them against the
// record store.
type Processor struct {
	notifications *service.Notifications
	queue         *queue.Manager
	stopChan      chan struct{}
}

func NewProcessor(notifications *service.Notifications, queueManager *queue.Manager) *Processor {
	return &Processor{
		notifications: notifications,
		queue:         queueManager,
		stopChan:      make(chan struct{}),
	}
}

func (p *Processor) Start(ctx context.Context) error {
	err := p.queue.StartConsumer(ctx, p.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	logrus.Info("delivery processor started")
	return nil
}

func (p *Processor) Stop() {
	close(p.stopChan)
	logrus.Info("delivery processor stopped")
}

func (p *Processor) handleMessage(ctx context.Context, delivery amqp091.Delivery) error {
	var job queue.Job
	if err := json.Unmarshal(delivery.Body, &job); err != nil {
		// Poison message: ack it away instead of requeueing forever.
		logrus.WithError(err).Error("dropping unreadable delivery job")
		return nil
	}

	if job.ScheduledFor.After(time.Now().Add(dueSkew)) {
		logrus.WithField("record_id", job.RecordID).Debug("delivery job not due yet, requeueing")
		return fmt.Errorf("job not due yet")
	}

	retryStrategy := retry.Strategy{
		Attempts: 3,
		Delay:    1 * time.Second,
		Backoff:  2,
	}

	var outcome string
	err := retry.DoContext(ctx, retryStrategy, func() error {
		var presentErr error
		outcome, presentErr = p.notifications.Present(ctx, job.RecordID)
		if presentErr != nil && errors.Is(presentErr, models.ErrNotFound) {
			outcome = "missing"
			return nil
		}
		return presentErr
	})
	if err != nil {
		// The record stays pending, so the sweep re-promotes it once storage
		// recovers. Flag it and ack.
		logrus.WithError(err).WithField("record_id", job.RecordID).Error("delivery attempt exhausted")
		if markErr := p.notifications.MarkDeliveryFailed(ctx, job.RecordID); markErr != nil {
			logrus.WithError(markErr).WithField("record_id", job.RecordID).Error("failed to flag delivery failure")
		}
		return nil
	}

	// Publishing can outrun the record append on immediate jobs. Give the
	// append one redelivery to land before leaving the job to the sweep.
	if outcome == "missing" && !delivery.Redelivered {
		logrus.WithField("record_id", job.RecordID).Debug("record not visible yet, requeueing")
		return fmt.Errorf("record %s not visible yet", job.RecordID)
	}

	logrus.WithFields(logrus.Fields{
		"record_id": job.RecordID,
		"user_id":   job.UserID,
		"outcome":   outcome,
	}).Info("delivery job processed")
	return nil
}
