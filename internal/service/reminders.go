package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"studynudge/internal/models"
	"studynudge/internal/storage"
)

// Reminders manages user-authored reminders and expands the due ones into
// notification candidates.
type Reminders struct {
	store    storage.ReminderStore
	notifier *Notifications
	metrics  *Metrics
	now      func() time.Time
}

func NewReminders(store storage.ReminderStore, notifier *Notifications, metrics *Metrics) *Reminders {
	return &Reminders{
		store:    store,
		notifier: notifier,
		metrics:  metrics,
		now:      time.Now,
	}
}

func (s *Reminders) Create(ctx context.Context, reminder *models.Reminder) (*models.Reminder, error) {
	if reminder == nil || reminder.UserID == "" || reminder.Title == "" {
		return nil, fmt.Errorf("user id and title: %w", models.ErrValidation)
	}
	if reminder.ScheduledFor.IsZero() {
		return nil, fmt.Errorf("scheduled_for: %w", models.ErrValidation)
	}

	now := s.now()
	reminder.ID = uuid.New().String()
	if reminder.Recurrence == "" {
		reminder.Recurrence = models.RecurrenceNone
	}
	if reminder.MaxSnoozes == 0 {
		reminder.MaxSnoozes = models.DefaultMaxSnoozes
	}
	reminder.SnoozeCount = 0
	reminder.IsActive = true
	reminder.CompletedAt = nil
	reminder.CreatedAt = now
	reminder.UpdatedAt = now

	if err := s.store.Create(ctx, reminder); err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"reminder_id":   reminder.ID,
		"user_id":       reminder.UserID,
		"scheduled_for": reminder.ScheduledFor,
	}).Info("reminder created")
	return reminder, nil
}

func (s *Reminders) Get(ctx context.Context, id string) (*models.Reminder, error) {
	return s.store.Get(ctx, id)
}

func (s *Reminders) ListByUser(ctx context.Context, userID string) ([]*models.Reminder, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id: %w", models.ErrValidation)
	}
	return s.store.ListByUser(ctx, userID)
}

func (s *Reminders) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// Snooze pushes the reminder out to now+d, up to its snooze allowance.
func (s *Reminders) Snooze(ctx context.Context, id string, d time.Duration) (*models.Reminder, error) {
	if d <= 0 {
		return nil, fmt.Errorf("snooze duration: %w", models.ErrValidation)
	}

	reminder, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !reminder.IsActive || reminder.CompletedAt != nil {
		return nil, fmt.Errorf("snooze completed reminder: %w", models.ErrValidation)
	}
	if reminder.SnoozeCount >= reminder.MaxSnoozes {
		return nil, models.ErrSnoozeLimit
	}

	now := s.now()
	reminder.ScheduledFor = now.Add(d)
	reminder.SnoozeCount++
	reminder.UpdatedAt = now

	if err := s.store.Update(ctx, reminder); err != nil {
		return nil, fmt.Errorf("update reminder: %w", err)
	}
	return reminder, nil
}

func (s *Reminders) Complete(ctx context.Context, id string) (*models.Reminder, error) {
	reminder, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	reminder.IsActive = false
	reminder.CompletedAt = &now
	reminder.UpdatedAt = now

	if err := s.store.Update(ctx, reminder); err != nil {
		return nil, fmt.Errorf("update reminder: %w", err)
	}
	return reminder, nil
}

// ExpandDue submits candidates for every due reminder and advances their
// recurrence. A suppressed outcome still consumes the slot; storage failures
// leave the reminder in place for the next sweep.
func (s *Reminders) ExpandDue(ctx context.Context, limit int) (int, error) {
	now := s.now()
	due, err := s.store.Due(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("query due reminders: %w", err)
	}

	expanded := 0
	for _, reminder := range due {
		body := reminder.Description
		if body == "" {
			body = reminder.Title
		}

		decision, err := s.notifier.Submit(ctx, &models.Candidate{
			UserID:   reminder.UserID,
			Title:    reminder.Title,
			Body:     body,
			Type:     models.TypeReminder,
			Category: models.CategoryDeadlines,
			Priority: models.PriorityHigh,
			Data:     map[string]interface{}{"reminder_id": reminder.ID},
		})
		if err != nil && decision == nil {
			logrus.WithError(err).WithField("reminder_id", reminder.ID).Error("reminder expansion failed")
			continue
		}

		if next, ok := reminder.NextOccurrence(); ok {
			reminder.ScheduledFor = next
		} else {
			reminder.IsActive = false
			reminder.CompletedAt = &now
		}
		reminder.UpdatedAt = now

		if err := s.store.Update(ctx, reminder); err != nil {
			logrus.WithError(err).WithField("reminder_id", reminder.ID).Error("reminder advance failed")
			continue
		}

		expanded++
		s.metrics.ReminderExpanded()
	}

	return expanded, nil
}
