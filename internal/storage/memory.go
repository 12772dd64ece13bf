package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"studynudge/internal/models"
)

// MemoryRecordStore keeps records in a map. Used by tests and by the
// single-process storage driver. Reads hand out copies so callers cannot
// bypass the Update guards.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]*models.NotificationRecord
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]*models.NotificationRecord)}
}

func (s *MemoryRecordStore) Append(ctx context.Context, record *models.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return models.ErrDuplicateID
	}
	s.records[record.ID] = copyRecord(record)
	return nil
}

func (s *MemoryRecordStore) Get(ctx context.Context, id string) (*models.NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[id]
	if !exists {
		return nil, models.ErrNotFound
	}
	return copyRecord(record), nil
}

func (s *MemoryRecordStore) Update(ctx context.Context, id string, fn func(*models.NotificationRecord)) (*models.NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.records[id]
	if !exists {
		return nil, models.ErrNotFound
	}
	applyGuarded(record, fn)
	return copyRecord(record), nil
}

func (s *MemoryRecordStore) Query(ctx context.Context, filter Filter) ([]*models.NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*models.NotificationRecord, 0, len(s.records))
	for _, record := range s.records {
		all = append(all, copyRecord(record))
	}
	return applyFilter(all, filter), nil
}

func (s *MemoryRecordStore) Pending(ctx context.Context, due time.Time) ([]*models.NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []*models.NotificationRecord
	for _, record := range s.records {
		if record.Pending() && !record.ScheduledFor.After(due) {
			pending = append(pending, copyRecord(record))
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].ScheduledFor.Before(pending[j].ScheduledFor)
	})
	return pending, nil
}

func (s *MemoryRecordStore) Summarize(ctx context.Context, userID string, now time.Time) (*models.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var mine []*models.NotificationRecord
	for _, record := range s.records {
		if record.UserID == userID {
			mine = append(mine, record)
		}
	}
	return summarize(mine, now), nil
}

func (s *MemoryRecordStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; !exists {
		return models.ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func copyRecord(record *models.NotificationRecord) *models.NotificationRecord {
	dup := *record
	if record.Data != nil {
		dup.Data = make(map[string]interface{}, len(record.Data))
		for k, v := range record.Data {
			dup.Data[k] = v
		}
	}
	if record.ExpiresAt != nil {
		t := *record.ExpiresAt
		dup.ExpiresAt = &t
	}
	if record.DeliveredAt != nil {
		t := *record.DeliveredAt
		dup.DeliveredAt = &t
	}
	if record.ReadAt != nil {
		t := *record.ReadAt
		dup.ReadAt = &t
	}
	return &dup
}

// MemoryPreferenceStore keeps preferences in a map.
type MemoryPreferenceStore struct {
	mu    sync.RWMutex
	prefs map[string]*models.NotificationPreferences
}

func NewMemoryPreferenceStore() *MemoryPreferenceStore {
	return &MemoryPreferenceStore{prefs: make(map[string]*models.NotificationPreferences)}
}

func (s *MemoryPreferenceStore) Get(ctx context.Context, userID string) (*models.NotificationPreferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefs, exists := s.prefs[userID]
	if !exists {
		return nil, models.ErrNotFound
	}
	return copyPreferences(prefs), nil
}

func (s *MemoryPreferenceStore) Put(ctx context.Context, prefs *models.NotificationPreferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prefs[prefs.UserID] = copyPreferences(prefs)
	return nil
}

func copyPreferences(prefs *models.NotificationPreferences) *models.NotificationPreferences {
	dup := *prefs
	if prefs.Categories != nil {
		dup.Categories = make(map[models.Category]bool, len(prefs.Categories))
		for c, enabled := range prefs.Categories {
			dup.Categories[c] = enabled
		}
	}
	if prefs.QuietHours.Exceptions != nil {
		dup.QuietHours.Exceptions = append([]string(nil), prefs.QuietHours.Exceptions...)
	}
	return &dup
}

// MemoryNudgeStore keeps nudge rules per user.
type MemoryNudgeStore struct {
	mu     sync.RWMutex
	nudges map[string]map[string]*models.SmartNudge
}

func NewMemoryNudgeStore() *MemoryNudgeStore {
	return &MemoryNudgeStore{nudges: make(map[string]map[string]*models.SmartNudge)}
}

func (s *MemoryNudgeStore) Put(ctx context.Context, nudge *models.SmartNudge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, exists := s.nudges[nudge.UserID]
	if !exists {
		byID = make(map[string]*models.SmartNudge)
		s.nudges[nudge.UserID] = byID
	}
	byID[nudge.ID] = copyNudge(nudge)
	return nil
}

func (s *MemoryNudgeStore) Get(ctx context.Context, userID, id string) (*models.SmartNudge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nudge, exists := s.nudges[userID][id]
	if !exists {
		return nil, models.ErrNotFound
	}
	return copyNudge(nudge), nil
}

func (s *MemoryNudgeStore) List(ctx context.Context, userID string) ([]*models.SmartNudge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]*models.SmartNudge, 0, len(s.nudges[userID]))
	for _, nudge := range s.nudges[userID] {
		rules = append(rules, copyNudge(nudge))
	}
	sortNudges(rules)
	return rules, nil
}

func (s *MemoryNudgeStore) Delete(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nudges[userID][id]; !exists {
		return models.ErrNotFound
	}
	delete(s.nudges[userID], id)
	return nil
}

func copyNudge(nudge *models.SmartNudge) *models.SmartNudge {
	dup := *nudge
	if nudge.Conditions.DaysOfWeek != nil {
		dup.Conditions.DaysOfWeek = append([]time.Weekday(nil), nudge.Conditions.DaysOfWeek...)
	}
	if nudge.LastTriggered != nil {
		t := *nudge.LastTriggered
		dup.LastTriggered = &t
	}
	return &dup
}

func sortNudges(rules []*models.SmartNudge) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].ID < rules[j].ID
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
}

// MemoryReminderStore keeps reminders in a map.
type MemoryReminderStore struct {
	mu        sync.RWMutex
	reminders map[string]*models.Reminder
}

func NewMemoryReminderStore() *MemoryReminderStore {
	return &MemoryReminderStore{reminders: make(map[string]*models.Reminder)}
}

func (s *MemoryReminderStore) Create(ctx context.Context, reminder *models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reminders[reminder.ID]; exists {
		return models.ErrDuplicateID
	}
	s.reminders[reminder.ID] = copyReminder(reminder)
	return nil
}

func (s *MemoryReminderStore) Get(ctx context.Context, id string) (*models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reminder, exists := s.reminders[id]
	if !exists {
		return nil, models.ErrNotFound
	}
	return copyReminder(reminder), nil
}

func (s *MemoryReminderStore) ListByUser(ctx context.Context, userID string) ([]*models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var mine []*models.Reminder
	for _, reminder := range s.reminders {
		if reminder.UserID == userID {
			mine = append(mine, copyReminder(reminder))
		}
	}
	sort.Slice(mine, func(i, j int) bool {
		return mine[i].ScheduledFor.Before(mine[j].ScheduledFor)
	})
	return mine, nil
}

func (s *MemoryReminderStore) Update(ctx context.Context, reminder *models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reminders[reminder.ID]; !exists {
		return models.ErrNotFound
	}
	s.reminders[reminder.ID] = copyReminder(reminder)
	return nil
}

func (s *MemoryReminderStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reminders[id]; !exists {
		return models.ErrNotFound
	}
	delete(s.reminders, id)
	return nil
}

func (s *MemoryReminderStore) Due(ctx context.Context, now time.Time, limit int) ([]*models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*models.Reminder
	for _, reminder := range s.reminders {
		if reminder.IsActive && reminder.CompletedAt == nil && !reminder.ScheduledFor.After(now) {
			due = append(due, copyReminder(reminder))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func copyReminder(reminder *models.Reminder) *models.Reminder {
	dup := *reminder
	if reminder.CompletedAt != nil {
		t := *reminder.CompletedAt
		dup.CompletedAt = &t
	}
	return &dup
}
