package models

import (
	"time"
)

type Recurrence string

const (
	RecurrenceNone   Recurrence = "none"
	RecurrenceDaily  Recurrence = "daily"
	RecurrenceWeekly Recurrence = "weekly"
)

const DefaultMaxSnoozes = 3

// Reminder is a user-authored scheduled prompt. The sweep expands a due
// reminder into a notification candidate and advances or completes it.
type Reminder struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	Recurrence   Recurrence `json:"recurrence"`
	SnoozeCount  int        `json:"snooze_count"`
	MaxSnoozes   int        `json:"max_snoozes"`
	IsActive     bool       `json:"is_active"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NextOccurrence advances from the current slot, or returns false for
// one-shot reminders.
func (r *Reminder) NextOccurrence() (time.Time, bool) {
	switch r.Recurrence {
	case RecurrenceDaily:
		return r.ScheduledFor.Add(24 * time.Hour), true
	case RecurrenceWeekly:
		return r.ScheduledFor.Add(7 * 24 * time.Hour), true
	default:
		return time.Time{}, false
	}
}
