package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wb-go/wbf/retry"

	"studynudge/internal/models"
	"studynudge/internal/queue"
	"studynudge/internal/service"
	"studynudge/internal/storage"
)

const (
	DefaultSweepInterval = 30 * time.Second
	DefaultSweepBatch    = 100

	// republishGrace keeps a promoted job from being re-published on every
	// tick while the consumer works through it. Presentation stays
	// idempotent either way.
	republishGrace = 2 * time.Minute
)

// Sweeper periodically promotes due records to the ready queue, drops
// expired ones and expands due reminders. Ticks never overlap: a tick that
// finds the previous run still going is skipped.
type Sweeper struct {
	records       storage.RecordStore
	notifications *service.Notifications
	reminders     *service.Reminders
	queue         *queue.Manager
	interval      time.Duration
	batchSize     int

	running   atomic.Bool
	published map[string]time.Time
	stopChan  chan struct{}
}

func NewSweeper(records storage.RecordStore, notifications *service.Notifications, reminders *service.Reminders, queueManager *queue.Manager, interval time.Duration, batchSize int) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if batchSize <= 0 {
		batchSize = DefaultSweepBatch
	}
	return &Sweeper{
		records:       records,
		notifications: notifications,
		reminders:     reminders,
		queue:         queueManager,
		interval:      interval,
		batchSize:     batchSize,
		published:     make(map[string]time.Time),
		stopChan:      make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
	logrus.WithField("interval", s.interval).Info("sweeper started")
}

func (s *Sweeper) Stop() {
	close(s.stopChan)
	logrus.Info("sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		logrus.Warn("previous sweep still running, skipping tick")
		return
	}
	defer s.running.Store(false)

	now := time.Now()
	s.prunePublished(now)

	retryStrategy := retry.Strategy{
		Attempts: 3,
		Delay:    100 * time.Millisecond,
		Backoff:  2,
	}

	var pending []*models.NotificationRecord
	err := retry.DoContext(ctx, retryStrategy, func() error {
		var getErr error
		pending, getErr = s.records.Pending(ctx, now)
		return getErr
	})
	if err != nil {
		logrus.WithError(err).Error("failed to load pending records")
		return
	}

	promoted, dropped := 0, 0
	for _, record := range pending {
		if record.Expired(now) {
			if err := s.notifications.DropExpired(ctx, record.ID); err != nil {
				logrus.WithError(err).WithField("record_id", record.ID).Error("failed to drop expired record")
				continue
			}
			dropped++
			continue
		}

		if publishedAt, ok := s.published[record.ID]; ok && now.Sub(publishedAt) < republishGrace {
			continue
		}

		job := queue.Job{
			RecordID:     record.ID,
			UserID:       record.UserID,
			ScheduledFor: record.ScheduledFor,
		}
		publishErr := retry.DoContext(ctx, retryStrategy, func() error {
			return s.queue.PublishReady(ctx, job)
		})
		if publishErr != nil {
			logrus.WithError(publishErr).WithField("record_id", record.ID).Error("failed to promote due record")
			continue
		}
		s.published[record.ID] = now
		promoted++
	}

	expanded, err := s.reminders.ExpandDue(ctx, s.batchSize)
	if err != nil {
		logrus.WithError(err).Error("failed to expand due reminders")
	}

	if promoted > 0 || dropped > 0 || expanded > 0 {
		logrus.WithFields(logrus.Fields{
			"promoted":  promoted,
			"dropped":   dropped,
			"reminders": expanded,
		}).Info("sweep completed")
	}
}

func (s *Sweeper) prunePublished(now time.Time) {
	for id, publishedAt := range s.published {
		if now.Sub(publishedAt) >= republishGrace {
			delete(s.published, id)
		}
	}
}
