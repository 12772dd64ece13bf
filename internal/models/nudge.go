package models

import (
	"time"
)

type NudgeType string

const (
	NudgeLearningReminder    NudgeType = "learning_reminder"
	NudgeStreakMaintenance   NudgeType = "streak_maintenance"
	NudgeMotivationalMessage NudgeType = "motivational_message"
	NudgePerformanceInsight  NudgeType = "performance_insight"
)

type NudgeFrequencyType string

const (
	NudgeFrequencyDaily  NudgeFrequencyType = "daily"
	NudgeFrequencyCustom NudgeFrequencyType = "custom"
)

// NudgeConditions gates when a rule may fire. Empty fields mean "always".
type NudgeConditions struct {
	TimeOfDayStart string         `json:"time_of_day_start,omitempty"` // "HH:MM"
	TimeOfDayEnd   string         `json:"time_of_day_end,omitempty"`   // "HH:MM"
	DaysOfWeek     []time.Weekday `json:"days_of_week,omitempty"`
}

type NudgeFrequency struct {
	Type          NudgeFrequencyType `json:"type"`
	MaxPerDay     int                `json:"max_per_day,omitempty"`
	IntervalHours int                `json:"interval_hours,omitempty"`
}

// SmartNudge is a behavioral trigger rule. TriggerCount only ever grows;
// MaxTriggers is a lifetime cap and zero means unlimited. TriggerDelayMinutes
// schedules the fired candidate that far past the triggering event; zero
// fires immediately.
type SmartNudge struct {
	ID                  string          `json:"id"`
	UserID              string          `json:"user_id"`
	Type                NudgeType       `json:"type"`
	Trigger             string          `json:"trigger"`
	TriggerDelayMinutes int             `json:"trigger_delay_minutes,omitempty"`
	Title               string          `json:"title"`
	Body                string          `json:"body"`
	Conditions          NudgeConditions `json:"conditions"`
	Frequency           NudgeFrequency  `json:"frequency"`
	MaxTriggers         int             `json:"max_triggers,omitempty"`
	IsActive            bool            `json:"is_active"`
	TriggerCount        int             `json:"trigger_count"`
	LastTriggered       *time.Time      `json:"last_triggered,omitempty"`
	Effectiveness       float64         `json:"effectiveness"`
	CreatedAt           time.Time       `json:"created_at"`
}

// Category maps a nudge type onto the notification category its candidates
// are filed under.
func (t NudgeType) Category() Category {
	if t == NudgeStreakMaintenance {
		return CategoryAchievements
	}
	return CategoryLearning
}

// NudgeResult is the outcome of evaluating one rule against an event.
type NudgeResult struct {
	NudgeID  string    `json:"nudge_id"`
	Type     NudgeType `json:"type"`
	Fired    bool      `json:"fired"`
	Skipped  string    `json:"skipped,omitempty"` // reason when not fired
	Decision *Decision `json:"decision,omitempty"`
}

const (
	NudgeSkipDisabled    = "nudges_disabled"
	NudgeSkipTypeOff     = "type_disabled"
	NudgeSkipExhausted   = "max_triggers_reached"
	NudgeSkipConditions  = "conditions_not_met"
	NudgeSkipTooFrequent = "frequency_gate"
)

// BehavioralEvent is the ingress payload that drives nudge evaluation.
type BehavioralEvent struct {
	UserID  string            `json:"user_id"`
	Event   string            `json:"event"`
	Context map[string]string `json:"context,omitempty"`
}
