package storage

import (
	"context"
	"sort"
	"time"

	"studynudge/internal/models"
)

// Filter narrows record queries. Zero values mean "no constraint".
// UnreadOnly selects delivered-but-unread records.
type Filter struct {
	UserID          string
	Category        models.Category
	Type            models.NotificationType
	UnreadOnly      bool
	Since           time.Time
	IncludeArchived bool
	Limit           int
}

// RecordStore keeps notification history. Append refuses duplicate ids with
// models.ErrDuplicateID; lookups of unknown ids return models.ErrNotFound.
type RecordStore interface {
	Append(ctx context.Context, record *models.NotificationRecord) error
	Get(ctx context.Context, id string) (*models.NotificationRecord, error)
	// Update applies fn under the store's write lock. CreatedAt survives the
	// update and a delivered record can never become undelivered again.
	Update(ctx context.Context, id string, fn func(*models.NotificationRecord)) (*models.NotificationRecord, error)
	// Query returns matches ordered by CreatedAt descending, id descending on ties.
	Query(ctx context.Context, filter Filter) ([]*models.NotificationRecord, error)
	// Pending returns scheduled, undelivered, unarchived records due at or
	// before the given time, soonest first.
	Pending(ctx context.Context, due time.Time) ([]*models.NotificationRecord, error)
	Summarize(ctx context.Context, userID string, now time.Time) (*models.Summary, error)
	Delete(ctx context.Context, id string) error
}

// PreferenceStore persists per-user notification preferences. Get returns
// models.ErrNotFound for users that never saved any.
type PreferenceStore interface {
	Get(ctx context.Context, userID string) (*models.NotificationPreferences, error)
	Put(ctx context.Context, prefs *models.NotificationPreferences) error
}

// NudgeStore persists smart-nudge rules keyed by user and rule id.
type NudgeStore interface {
	Put(ctx context.Context, nudge *models.SmartNudge) error
	Get(ctx context.Context, userID, id string) (*models.SmartNudge, error)
	List(ctx context.Context, userID string) ([]*models.SmartNudge, error)
	Delete(ctx context.Context, userID, id string) error
}

// ReminderStore persists user reminders.
type ReminderStore interface {
	Create(ctx context.Context, reminder *models.Reminder) error
	Get(ctx context.Context, id string) (*models.Reminder, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Reminder, error)
	Update(ctx context.Context, reminder *models.Reminder) error
	Delete(ctx context.Context, id string) error
	// Due returns active, uncompleted reminders scheduled at or before now,
	// soonest first. A limit of zero or less applies no cap.
	Due(ctx context.Context, now time.Time, limit int) ([]*models.Reminder, error)
}

// applyGuarded runs fn on the record and restores the fields no update may
// change: CreatedAt stays as written, and once delivered a record keeps
// IsDelivered and its first DeliveredAt.
func applyGuarded(record *models.NotificationRecord, fn func(*models.NotificationRecord)) {
	createdAt := record.CreatedAt
	wasDelivered := record.IsDelivered
	deliveredAt := record.DeliveredAt

	fn(record)

	record.CreatedAt = createdAt
	if wasDelivered {
		record.IsDelivered = true
		record.DeliveredAt = deliveredAt
	}
}

func matchesFilter(record *models.NotificationRecord, filter Filter) bool {
	if filter.UserID != "" && record.UserID != filter.UserID {
		return false
	}
	if !filter.IncludeArchived && record.IsArchived {
		return false
	}
	if filter.Category != "" && record.Category != filter.Category {
		return false
	}
	if filter.Type != "" && record.Type != filter.Type {
		return false
	}
	if filter.UnreadOnly && (!record.IsDelivered || record.IsRead) {
		return false
	}
	if !filter.Since.IsZero() && record.CreatedAt.Before(filter.Since) {
		return false
	}
	return true
}

func sortNewestFirst(records []*models.NotificationRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID > records[j].ID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}

func applyFilter(records []*models.NotificationRecord, filter Filter) []*models.NotificationRecord {
	matched := make([]*models.NotificationRecord, 0, len(records))
	for _, record := range records {
		if matchesFilter(record, filter) {
			matched = append(matched, record)
		}
	}
	sortNewestFirst(matched)
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched
}

func summarize(records []*models.NotificationRecord, now time.Time) *models.Summary {
	summary := &models.Summary{
		ByCategory: make(map[models.Category]int),
		ByType:     make(map[models.NotificationType]int),
	}
	year, month, day := now.Date()
	weekAgo := now.Add(-7 * 24 * time.Hour)
	for _, record := range records {
		if record.IsArchived {
			continue
		}
		summary.Total++
		if record.IsDelivered && !record.IsRead {
			summary.Unread++
		}
		ry, rm, rd := record.CreatedAt.In(now.Location()).Date()
		if ry == year && rm == month && rd == day {
			summary.Today++
		}
		if record.CreatedAt.After(weekAgo) {
			summary.ThisWeek++
		}
		summary.ByCategory[record.Category]++
		summary.ByType[record.Type]++
	}
	return summary
}
