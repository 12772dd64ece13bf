package delivery

import (
	"context"
	"fmt"
	"sync"

	"studynudge/internal/models"
)

// MemoryAdapter keeps deliveries in memory. It backs tests and the memory
// storage driver, and lets callers flip the permission state or inject a
// hand-off failure.
type MemoryAdapter struct {
	mu         sync.Mutex
	seq        int
	scheduled  map[string]string // delivery id -> user id
	cancelled  map[string]int
	status     models.PermissionStatus
	nextErr    error
	useTimeIDs bool
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		scheduled: make(map[string]string),
		cancelled: make(map[string]int),
		status:    models.PermissionStatus{Granted: true, Status: PermissionGranted},
	}
}

// UseTimestampIDs switches from sequential test ids to the production id
// format.
func (a *MemoryAdapter) UseTimestampIDs() *MemoryAdapter {
	a.useTimeIDs = true
	return a
}

func (a *MemoryAdapter) Schedule(ctx context.Context, record *models.NotificationRecord) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seq++
	id := fmt.Sprintf("delivery-%04d", a.seq)
	if a.useTimeIDs {
		id = GenerateDeliveryID()
	}

	if !a.status.Granted {
		return id, models.ErrPermissionDenied
	}
	if a.nextErr != nil {
		err := a.nextErr
		a.nextErr = nil
		return id, err
	}

	a.scheduled[id] = record.UserID
	return id, nil
}

func (a *MemoryAdapter) Cancel(ctx context.Context, deliveryID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cancelled[deliveryID]++
	delete(a.scheduled, deliveryID)
	return nil
}

func (a *MemoryAdapter) PermissionStatus(ctx context.Context) (models.PermissionStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status, nil
}

func (a *MemoryAdapter) RequestPermission(ctx context.Context) (models.PermissionStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.status.Granted && a.status.CanAskAgain {
		a.status = models.PermissionStatus{Granted: true, Status: PermissionGranted}
	}
	return a.status, nil
}

// SetPermission overrides the permission state.
func (a *MemoryAdapter) SetPermission(status models.PermissionStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = status
}

// FailNextWith makes the next Schedule call return err.
func (a *MemoryAdapter) FailNextWith(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextErr = err
}

// ScheduledCount reports how many deliveries are currently handed off.
func (a *MemoryAdapter) ScheduledCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.scheduled)
}

// CancelCount reports how many times a delivery id was cancelled.
func (a *MemoryAdapter) CancelCount(deliveryID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelled[deliveryID]
}
