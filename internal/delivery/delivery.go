package delivery

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"studynudge/internal/models"
	"studynudge/internal/queue"
)

// Adapter is the hand-off boundary to the presentation platform. Schedule
// assigns and returns the delivery id even when the hand-off fails, so the
// caller can keep the record and flag it instead of rolling back.
type Adapter interface {
	Schedule(ctx context.Context, record *models.NotificationRecord) (string, error)
	// Cancel is idempotent; cancelling an unknown or finished delivery is a no-op.
	Cancel(ctx context.Context, deliveryID string) error
	PermissionStatus(ctx context.Context) (models.PermissionStatus, error)
	RequestPermission(ctx context.Context) (models.PermissionStatus, error)
}

const (
	PermissionGranted      = "granted"
	PermissionDenied       = "denied"
	PermissionUndetermined = "undetermined"
)

// QueueAdapter hands deliveries to the RabbitMQ pipeline. The permission
// gate models the platform notification permission; deployments that own it
// elsewhere run with it granted.
type QueueAdapter struct {
	manager *queue.Manager

	mu     sync.Mutex
	status models.PermissionStatus
}

func NewQueueAdapter(manager *queue.Manager, granted bool) *QueueAdapter {
	status := models.PermissionStatus{Granted: granted, Status: PermissionGranted}
	if !granted {
		status = models.PermissionStatus{CanAskAgain: true, Status: PermissionUndetermined}
	}
	return &QueueAdapter{manager: manager, status: status}
}

func (a *QueueAdapter) Schedule(ctx context.Context, record *models.NotificationRecord) (string, error) {
	id := GenerateDeliveryID()

	a.mu.Lock()
	granted := a.status.Granted
	a.mu.Unlock()
	if !granted {
		return id, models.ErrPermissionDenied
	}

	job := queue.Job{
		RecordID:     id,
		UserID:       record.UserID,
		ScheduledFor: record.ScheduledFor,
	}
	if err := a.manager.PublishJob(ctx, job); err != nil {
		return id, fmt.Errorf("%w: %s", models.ErrDeliveryFailed, err)
	}
	return id, nil
}

func (a *QueueAdapter) Cancel(ctx context.Context, deliveryID string) error {
	// The ready consumer re-reads the record and skips archived ones, so a
	// cancelled job still sitting in the broker is harmless.
	logrus.WithField("delivery_id", deliveryID).Debug("delivery cancel requested")
	return nil
}

func (a *QueueAdapter) PermissionStatus(ctx context.Context) (models.PermissionStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status, nil
}

func (a *QueueAdapter) RequestPermission(ctx context.Context) (models.PermissionStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status.Granted {
		return a.status, nil
	}
	if !a.status.CanAskAgain {
		return a.status, nil
	}
	a.status = models.PermissionStatus{Granted: true, Status: PermissionGranted}
	return a.status, nil
}

const idLetters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateDeliveryID builds a sortable timestamped id with a random suffix.
func GenerateDeliveryID() string {
	return time.Now().Format("20060102150405") + "-" + randomString(6)
}

func randomString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = idLetters[rand.Intn(len(idLetters))]
	}
	return string(b)
}
