package models

import (
	"fmt"
	"time"
)

// QuietHours is a daily window during which non-exempt notifications are
// deferred instead of presented. The window may wrap midnight.
type QuietHours struct {
	Enabled    bool     `json:"enabled"`
	StartTime  string   `json:"start_time"` // "HH:MM"
	EndTime    string   `json:"end_time"`   // "HH:MM"
	Timezone   string   `json:"timezone"`   // IANA name
	Exceptions []string `json:"exceptions"` // category names, or "critical" for urgent priority
}

// FrequencyLimits caps delivery volume. BatchSimilar coalesces every eligible
// candidate, not just ones that opt in; RespectQuietHours gates the
// quiet-hours deferral step as a whole.
type FrequencyLimits struct {
	MaxPerHour        int  `json:"max_per_hour"`
	MaxPerDay         int  `json:"max_per_day"`
	BatchSimilar      bool `json:"batch_similar"`
	RespectQuietHours bool `json:"respect_quiet_hours"`
}

type SmartNudgePrefs struct {
	Enabled              bool `json:"enabled"`
	LearningReminders    bool `json:"learning_reminders"`
	StreakMaintenance    bool `json:"streak_maintenance"`
	MotivationalMessages bool `json:"motivational_messages"`
	PerformanceInsights  bool `json:"performance_insights"`
	AdaptiveFrequency    bool `json:"adaptive_frequency"`
}

type NotificationPreferences struct {
	UserID        string            `json:"user_id"`
	GlobalEnabled bool              `json:"global_enabled"`
	Categories    map[Category]bool `json:"categories"`
	// Channels records which delivery channels the user accepts. The policy
	// does not branch on it; the delivery adapter owns routing.
	Channels    map[string]bool `json:"channels,omitempty"`
	QuietHours  QuietHours      `json:"quiet_hours"`
	Frequency   FrequencyLimits `json:"frequency"`
	SmartNudges SmartNudgePrefs `json:"smart_nudges"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// DefaultPreferences is what a user gets before ever saving preferences.
// Marketing is opt-in; everything else is on.
func DefaultPreferences(userID string) *NotificationPreferences {
	return &NotificationPreferences{
		UserID:        userID,
		GlobalEnabled: true,
		Categories: map[Category]bool{
			CategoryLearning:     true,
			CategoryDeadlines:    true,
			CategorySocial:       true,
			CategoryAchievements: true,
			CategorySystem:       true,
			CategoryMarketing:    false,
			CategoryEmergency:    true,
		},
		Channels: map[string]bool{
			"push":   true,
			"in_app": true,
			"email":  false,
		},
		QuietHours: QuietHours{
			Enabled:    true,
			StartTime:  "22:00",
			EndTime:    "07:00",
			Timezone:   "UTC",
			Exceptions: []string{string(CategoryEmergency), "critical"},
		},
		// Batching stays per-candidate opt-in until the user turns it on.
		Frequency: FrequencyLimits{MaxPerHour: 5, MaxPerDay: 20, RespectQuietHours: true},
		SmartNudges: SmartNudgePrefs{
			Enabled:              true,
			LearningReminders:    true,
			StreakMaintenance:    true,
			MotivationalMessages: true,
			PerformanceInsights:  true,
			AdaptiveFrequency:    true,
		},
	}
}

// CategoryEnabled resolves the per-category switch. Emergency cannot be
// turned off; categories absent from the map default to enabled.
func (p *NotificationPreferences) CategoryEnabled(c Category) bool {
	if c == CategoryEmergency {
		return true
	}
	enabled, ok := p.Categories[c]
	if !ok {
		return true
	}
	return enabled
}

// PreferencesPatch is a typed partial update. Nil fields are left unchanged;
// the Categories map merges key by key.
type PreferencesPatch struct {
	GlobalEnabled *bool             `json:"global_enabled,omitempty"`
	Categories    map[Category]bool `json:"categories,omitempty"`
	Channels      map[string]bool   `json:"channels,omitempty"`
	QuietHours    *QuietHoursPatch  `json:"quiet_hours,omitempty"`
	Frequency     *FrequencyPatch   `json:"frequency,omitempty"`
	SmartNudges   *SmartNudgePatch  `json:"smart_nudges,omitempty"`
}

type QuietHoursPatch struct {
	Enabled    *bool     `json:"enabled,omitempty"`
	StartTime  *string   `json:"start_time,omitempty"`
	EndTime    *string   `json:"end_time,omitempty"`
	Timezone   *string   `json:"timezone,omitempty"`
	Exceptions *[]string `json:"exceptions,omitempty"`
}

type FrequencyPatch struct {
	MaxPerHour        *int  `json:"max_per_hour,omitempty"`
	MaxPerDay         *int  `json:"max_per_day,omitempty"`
	BatchSimilar      *bool `json:"batch_similar,omitempty"`
	RespectQuietHours *bool `json:"respect_quiet_hours,omitempty"`
}

type SmartNudgePatch struct {
	Enabled              *bool `json:"enabled,omitempty"`
	LearningReminders    *bool `json:"learning_reminders,omitempty"`
	StreakMaintenance    *bool `json:"streak_maintenance,omitempty"`
	MotivationalMessages *bool `json:"motivational_messages,omitempty"`
	PerformanceInsights  *bool `json:"performance_insights,omitempty"`
	AdaptiveFrequency    *bool `json:"adaptive_frequency,omitempty"`
}

// Validate rejects patches that would store unparseable values.
func (p *PreferencesPatch) Validate() error {
	if p.QuietHours != nil {
		if p.QuietHours.StartTime != nil {
			if _, err := ParseClock(*p.QuietHours.StartTime); err != nil {
				return fmt.Errorf("quiet hours start: %w", err)
			}
		}
		if p.QuietHours.EndTime != nil {
			if _, err := ParseClock(*p.QuietHours.EndTime); err != nil {
				return fmt.Errorf("quiet hours end: %w", err)
			}
		}
		if p.QuietHours.Timezone != nil {
			if _, err := time.LoadLocation(*p.QuietHours.Timezone); err != nil {
				return fmt.Errorf("quiet hours timezone %q: %w", *p.QuietHours.Timezone, ErrValidation)
			}
		}
	}
	if p.Frequency != nil {
		if p.Frequency.MaxPerHour != nil && *p.Frequency.MaxPerHour < 0 {
			return fmt.Errorf("frequency max_per_hour: %w", ErrValidation)
		}
		if p.Frequency.MaxPerDay != nil && *p.Frequency.MaxPerDay < 0 {
			return fmt.Errorf("frequency max_per_day: %w", ErrValidation)
		}
	}
	return nil
}

// Apply merges the patch into prefs field by field.
func (p *PreferencesPatch) Apply(prefs *NotificationPreferences) {
	if p.GlobalEnabled != nil {
		prefs.GlobalEnabled = *p.GlobalEnabled
	}
	if len(p.Categories) > 0 {
		if prefs.Categories == nil {
			prefs.Categories = make(map[Category]bool, len(p.Categories))
		}
		for c, enabled := range p.Categories {
			prefs.Categories[c] = enabled
		}
	}
	if len(p.Channels) > 0 {
		if prefs.Channels == nil {
			prefs.Channels = make(map[string]bool, len(p.Channels))
		}
		for channel, enabled := range p.Channels {
			prefs.Channels[channel] = enabled
		}
	}
	if qh := p.QuietHours; qh != nil {
		if qh.Enabled != nil {
			prefs.QuietHours.Enabled = *qh.Enabled
		}
		if qh.StartTime != nil {
			prefs.QuietHours.StartTime = *qh.StartTime
		}
		if qh.EndTime != nil {
			prefs.QuietHours.EndTime = *qh.EndTime
		}
		if qh.Timezone != nil {
			prefs.QuietHours.Timezone = *qh.Timezone
		}
		if qh.Exceptions != nil {
			prefs.QuietHours.Exceptions = *qh.Exceptions
		}
	}
	if f := p.Frequency; f != nil {
		if f.MaxPerHour != nil {
			prefs.Frequency.MaxPerHour = *f.MaxPerHour
		}
		if f.MaxPerDay != nil {
			prefs.Frequency.MaxPerDay = *f.MaxPerDay
		}
		if f.BatchSimilar != nil {
			prefs.Frequency.BatchSimilar = *f.BatchSimilar
		}
		if f.RespectQuietHours != nil {
			prefs.Frequency.RespectQuietHours = *f.RespectQuietHours
		}
	}
	if sn := p.SmartNudges; sn != nil {
		if sn.Enabled != nil {
			prefs.SmartNudges.Enabled = *sn.Enabled
		}
		if sn.LearningReminders != nil {
			prefs.SmartNudges.LearningReminders = *sn.LearningReminders
		}
		if sn.StreakMaintenance != nil {
			prefs.SmartNudges.StreakMaintenance = *sn.StreakMaintenance
		}
		if sn.MotivationalMessages != nil {
			prefs.SmartNudges.MotivationalMessages = *sn.MotivationalMessages
		}
		if sn.PerformanceInsights != nil {
			prefs.SmartNudges.PerformanceInsights = *sn.PerformanceInsights
		}
		if sn.AdaptiveFrequency != nil {
			prefs.SmartNudges.AdaptiveFrequency = *sn.AdaptiveFrequency
		}
	}
}
