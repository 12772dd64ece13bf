package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"studynudge/internal/delivery"
	"studynudge/internal/models"
	"studynudge/internal/storage"
)

const DefaultBatchWindow = 5 * time.Minute

// Notifications runs candidates through the suppression policy and owns the
// record lifecycle from acceptance to read.
type Notifications struct {
	records     storage.RecordStore
	prefs       *Preferences
	adapter     delivery.Adapter
	metrics     *Metrics
	locks       *userLocks
	batchWindow time.Duration
	now         func() time.Time
}

func NewNotifications(records storage.RecordStore, prefs *Preferences, adapter delivery.Adapter, metrics *Metrics, batchWindow time.Duration) *Notifications {
	if batchWindow <= 0 {
		batchWindow = DefaultBatchWindow
	}
	return &Notifications{
		records:     records,
		prefs:       prefs,
		adapter:     adapter,
		metrics:     metrics,
		locks:       newUserLocks(),
		batchWindow: batchWindow,
		now:         time.Now,
	}
}

// Submit evaluates a candidate and, when it survives the policy, hands it to
// the delivery adapter and appends the record. A failed hand-off keeps the
// record with DeliveryFailed set and returns the error next to the decision.
func (s *Notifications) Submit(ctx context.Context, candidate *models.Candidate) (*models.Decision, error) {
	if err := validateCandidate(candidate); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(candidate.UserID)
	defer unlock()

	prefs, err := s.prefs.Get(ctx, candidate.UserID)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	records, err := s.records.Query(ctx, storage.Filter{UserID: candidate.UserID})
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}

	result := evaluate(policyInput{
		candidate:   candidate,
		prefs:       prefs,
		records:     records,
		batchWindow: s.batchWindow,
		now:         s.now(),
	})

	switch result.outcome {
	case models.OutcomeSuppressed:
		decision := &models.Decision{Outcome: models.OutcomeSuppressed, Reason: result.reason}
		s.metrics.RecordDecision(decision)
		logrus.WithFields(logrus.Fields{
			"user_id":  candidate.UserID,
			"category": candidate.Category,
			"reason":   result.reason,
		}).Debug("candidate suppressed")
		return decision, nil

	case models.OutcomeBatched:
		merged, err := s.records.Update(ctx, result.mergeInto.ID, func(r *models.NotificationRecord) {
			appendBatched(r, candidate.Body)
		})
		if err != nil {
			return nil, fmt.Errorf("merge batched candidate: %w", err)
		}
		decision := &models.Decision{Outcome: models.OutcomeBatched, Reason: models.ReasonBatchSimilar, Record: merged}
		s.metrics.RecordDecision(decision)
		return decision, nil
	}

	record := s.buildRecord(candidate, result.when)

	id, scheduleErr := s.adapter.Schedule(ctx, record)
	record.ID = id
	if scheduleErr != nil {
		record.DeliveryFailed = true
	}

	if err := s.records.Append(ctx, record); err != nil {
		return nil, fmt.Errorf("append record: %w", err)
	}

	decision := &models.Decision{Outcome: result.outcome, Reason: result.reason, Record: record}
	s.metrics.RecordDecision(decision)

	if scheduleErr != nil {
		s.metrics.DeliveryFailed()
		logrus.WithError(scheduleErr).WithField("record_id", record.ID).Warn("delivery hand-off failed")
		return decision, scheduleErr
	}

	logrus.WithFields(logrus.Fields{
		"record_id":     record.ID,
		"user_id":       record.UserID,
		"outcome":       decision.Outcome,
		"scheduled_for": record.ScheduledFor,
	}).Info("notification scheduled")
	return decision, nil
}

// Send is Submit with the requested time forced to now.
func (s *Notifications) Send(ctx context.Context, candidate *models.Candidate) (*models.Decision, error) {
	candidate.RequestedFor = s.now()
	return s.Submit(ctx, candidate)
}

// Cancel archives an undelivered record and withdraws its delivery.
// Cancelling an already-delivered or already-archived record is a no-op.
func (s *Notifications) Cancel(ctx context.Context, id string) error {
	record, err := s.records.Get(ctx, id)
	if err != nil {
		return err
	}
	if record.IsDelivered || record.IsArchived {
		return nil
	}

	if err := s.adapter.Cancel(ctx, record.ID); err != nil {
		return fmt.Errorf("cancel delivery: %w", err)
	}

	_, err = s.records.Update(ctx, id, func(r *models.NotificationRecord) {
		if r.IsDelivered || r.IsArchived {
			return
		}
		r.IsScheduled = false
		r.IsArchived = true
	})
	if err != nil {
		return err
	}

	s.metrics.Cancelled()
	logrus.WithField("record_id", id).Info("notification cancelled")
	return nil
}

// MarkRead flags a delivered record as read. Reading an undelivered record
// is an error; reading twice is a no-op.
func (s *Notifications) MarkRead(ctx context.Context, id string) (*models.NotificationRecord, error) {
	record, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !record.IsDelivered {
		return nil, models.ErrReadBeforeDelivery
	}
	if record.IsRead {
		return record, nil
	}

	now := s.now()
	return s.records.Update(ctx, id, func(r *models.NotificationRecord) {
		if r.IsRead {
			return
		}
		r.IsRead = true
		r.ReadAt = &now
	})
}

// MarkDelivered is the platform's received callback. The first delivery time
// wins; repeats are no-ops.
func (s *Notifications) MarkDelivered(ctx context.Context, id string) (*models.NotificationRecord, error) {
	var newly bool
	now := s.now()
	record, err := s.records.Update(ctx, id, func(r *models.NotificationRecord) {
		if r.IsDelivered {
			return
		}
		newly = true
		r.IsDelivered = true
		r.DeliveredAt = &now
		r.IsScheduled = false
		r.DeliveryFailed = false
	})
	if err != nil {
		return nil, err
	}
	if newly {
		s.metrics.Delivered()
	}
	return record, nil
}

// HandleResponse is the platform's interaction callback. Responding implies
// the notification arrived and was seen.
func (s *Notifications) HandleResponse(ctx context.Context, id, actionID string) (*models.NotificationRecord, error) {
	now := s.now()
	return s.records.Update(ctx, id, func(r *models.NotificationRecord) {
		if !r.IsDelivered {
			r.IsDelivered = true
			r.DeliveredAt = &now
			r.IsScheduled = false
			r.DeliveryFailed = false
		}
		r.ResponseAction = actionID
		if !r.IsRead {
			r.IsRead = true
			r.ReadAt = &now
		}
	})
}

func (s *Notifications) Get(ctx context.Context, id string) (*models.NotificationRecord, error) {
	return s.records.Get(ctx, id)
}

func (s *Notifications) List(ctx context.Context, filter storage.Filter) ([]*models.NotificationRecord, error) {
	if filter.UserID == "" {
		return nil, fmt.Errorf("user id: %w", models.ErrValidation)
	}
	return s.records.Query(ctx, filter)
}

func (s *Notifications) Summary(ctx context.Context, userID string) (*models.Summary, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id: %w", models.ErrValidation)
	}
	return s.records.Summarize(ctx, userID, s.now())
}

// Archive hides a record from default queries without touching its delivery
// or read state.
func (s *Notifications) Archive(ctx context.Context, id string) (*models.NotificationRecord, error) {
	return s.records.Update(ctx, id, func(r *models.NotificationRecord) {
		r.IsArchived = true
		r.IsScheduled = false
	})
}

// Present outcomes.
const (
	PresentDelivered = "delivered"
	PresentDuplicate = "already_delivered"
	PresentCancelled = "cancelled"
	PresentExpired   = "expired_dropped"
)

// Present finalizes a due delivery pulled off the queue.
func (s *Notifications) Present(ctx context.Context, id string) (string, error) {
	record, err := s.records.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if record.IsArchived {
		return PresentCancelled, nil
	}
	if record.IsDelivered {
		return PresentDuplicate, nil
	}
	if record.Expired(s.now()) {
		if err := s.DropExpired(ctx, id); err != nil {
			return "", err
		}
		return PresentExpired, nil
	}

	if _, err := s.MarkDelivered(ctx, id); err != nil {
		return "", err
	}
	return PresentDelivered, nil
}

// DropExpired silently archives a record whose expiry passed before delivery.
func (s *Notifications) DropExpired(ctx context.Context, id string) error {
	_, err := s.records.Update(ctx, id, func(r *models.NotificationRecord) {
		r.IsScheduled = false
		r.IsArchived = true
	})
	if err != nil {
		return err
	}
	s.metrics.ExpiredDropped()
	logrus.WithField("record_id", id).Debug("expired notification dropped")
	return nil
}

// MarkDeliveryFailed flags a record after exhausted delivery attempts.
func (s *Notifications) MarkDeliveryFailed(ctx context.Context, id string) error {
	_, err := s.records.Update(ctx, id, func(r *models.NotificationRecord) {
		r.DeliveryFailed = true
	})
	if err != nil {
		return err
	}
	s.metrics.DeliveryFailed()
	return nil
}

func (s *Notifications) PermissionStatus(ctx context.Context) (models.PermissionStatus, error) {
	return s.adapter.PermissionStatus(ctx)
}

func (s *Notifications) RequestPermission(ctx context.Context) (models.PermissionStatus, error) {
	return s.adapter.RequestPermission(ctx)
}

// MetricsSnapshot exposes the engine counters.
func (s *Notifications) MetricsSnapshot() Snapshot {
	return s.metrics.Snapshot()
}

func (s *Notifications) buildRecord(candidate *models.Candidate, when time.Time) *models.NotificationRecord {
	return &models.NotificationRecord{
		UserID:       candidate.UserID,
		Title:        candidate.Title,
		Body:         candidate.Body,
		Type:         candidate.Type,
		Category:     candidate.Category,
		Priority:     candidate.Priority,
		Data:         candidate.Data,
		ScheduledFor: when,
		ExpiresAt:    candidate.ExpiresAt,
		IsScheduled:  true,
		CreatedAt:    s.now(),
	}
}

func validateCandidate(candidate *models.Candidate) error {
	if candidate == nil {
		return fmt.Errorf("candidate: %w", models.ErrValidation)
	}
	if candidate.UserID == "" {
		return fmt.Errorf("user id: %w", models.ErrValidation)
	}
	if candidate.Title == "" {
		return fmt.Errorf("title: %w", models.ErrValidation)
	}
	if candidate.Type == "" {
		candidate.Type = models.TypeSystem
	}
	if candidate.Category == "" {
		candidate.Category = models.CategorySystem
	}
	if candidate.Priority == "" {
		candidate.Priority = models.PriorityNormal
	}
	return nil
}

// appendBatched adds a body to the record's coalesced list. The list may
// come back from storage as []interface{} after a JSON round trip.
func appendBatched(record *models.NotificationRecord, body string) {
	if record.Data == nil {
		record.Data = make(map[string]interface{})
	}
	var bodies []string
	switch existing := record.Data[models.DataKeyBatched].(type) {
	case []string:
		bodies = existing
	case []interface{}:
		for _, v := range existing {
			if s, ok := v.(string); ok {
				bodies = append(bodies, s)
			}
		}
	}
	bodies = append(bodies, body)
	record.Data[models.DataKeyBatched] = bodies
}
