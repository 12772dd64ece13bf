package models

import (
	"time"
)

type NotificationType string

const (
	TypeReminder      NotificationType = "reminder"
	TypeDeadline      NotificationType = "deadline"
	TypeStreak        NotificationType = "streak"
	TypeAchievement   NotificationType = "achievement"
	TypeCourseUpdate  NotificationType = "course_update"
	TypeExamAlert     NotificationType = "exam_alert"
	TypeAssignmentDue NotificationType = "assignment_due"
	TypeSocial        NotificationType = "social"
	TypeMarketing     NotificationType = "marketing"
	TypeSystem        NotificationType = "system"
	TypeSmartNudge    NotificationType = "smart_nudge"
)

type Category string

const (
	CategoryLearning     Category = "learning"
	CategoryDeadlines    Category = "deadlines"
	CategorySocial       Category = "social"
	CategoryAchievements Category = "achievements"
	CategorySystem       Category = "system"
	CategoryMarketing    Category = "marketing"
	CategoryEmergency    Category = "emergency"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// DataKeyBatched is the record data key holding bodies coalesced into an
// existing record by batch-similar merging.
const DataKeyBatched = "batched"

// DataKeyBatchSimilar marks a candidate as eligible for batch-similar
// coalescing.
const DataKeyBatchSimilar = "batchSimilar"

// NotificationRecord is one entry of a user's notification history. The ID is
// assigned by the delivery adapter at acceptance time and doubles as the
// delivery id.
type NotificationRecord struct {
	ID             string                 `json:"id"`
	UserID         string                 `json:"user_id"`
	Title          string                 `json:"title"`
	Body           string                 `json:"body"`
	Type           NotificationType       `json:"type"`
	Category       Category               `json:"category"`
	Priority       Priority               `json:"priority"`
	Data           map[string]interface{} `json:"data,omitempty"`
	ScheduledFor   time.Time              `json:"scheduled_for"`
	ExpiresAt      *time.Time             `json:"expires_at,omitempty"`
	IsScheduled    bool                   `json:"is_scheduled"`
	IsDelivered    bool                   `json:"is_delivered"`
	IsRead         bool                   `json:"is_read"`
	IsArchived     bool                   `json:"is_archived"`
	DeliveryFailed bool                   `json:"delivery_failed"`
	CreatedAt      time.Time              `json:"created_at"`
	DeliveredAt    *time.Time             `json:"delivered_at,omitempty"`
	ReadAt         *time.Time             `json:"read_at,omitempty"`
	ResponseAction string                 `json:"response_action,omitempty"`
}

// Expired reports whether the record carries an expiry that has passed at t.
func (r *NotificationRecord) Expired(t time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(t)
}

// Pending reports whether the record is still waiting to be presented.
func (r *NotificationRecord) Pending() bool {
	return r.IsScheduled && !r.IsDelivered && !r.IsArchived
}

// Candidate is a notification before policy evaluation. A zero RequestedFor
// means "now".
type Candidate struct {
	UserID       string                 `json:"user_id"`
	Title        string                 `json:"title"`
	Body         string                 `json:"body"`
	Type         NotificationType       `json:"type"`
	Category     Category               `json:"category"`
	Priority     Priority               `json:"priority"`
	Data         map[string]interface{} `json:"data,omitempty"`
	RequestedFor time.Time              `json:"requested_for,omitempty"`
	ExpiresAt    *time.Time             `json:"expires_at,omitempty"`
}

// BatchSimilar reports whether the candidate opted into coalescing.
func (c *Candidate) BatchSimilar() bool {
	if c.Data == nil {
		return false
	}
	v, ok := c.Data[DataKeyBatchSimilar].(bool)
	return ok && v
}

type Outcome string

const (
	OutcomeAccepted   Outcome = "accepted"
	OutcomeDeferred   Outcome = "deferred"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeBatched    Outcome = "batched"
)

type Reason string

const (
	ReasonNone             Reason = ""
	ReasonGloballyDisabled Reason = "globally_disabled"
	ReasonCategoryDisabled Reason = "category_disabled"
	ReasonExpired          Reason = "expired"
	ReasonFrequencyCapHour Reason = "frequency_cap_hour"
	ReasonFrequencyCapDay  Reason = "frequency_cap_day"
	ReasonQuietHours       Reason = "quiet_hours"
	ReasonBatchSimilar     Reason = "batch_similar"
)

// Decision reports what the suppression policy did with a candidate.
// Suppression is a regular outcome, never an error.
type Decision struct {
	Outcome Outcome             `json:"outcome"`
	Reason  Reason              `json:"reason,omitempty"`
	Record  *NotificationRecord `json:"record,omitempty"`
}

// Summary aggregates a user's unarchived notification records. ThisWeek is a
// trailing seven-day window, not the calendar week.
type Summary struct {
	Total      int                      `json:"total"`
	Unread     int                      `json:"unread"`
	Today      int                      `json:"today"`
	ThisWeek   int                      `json:"this_week"`
	ByCategory map[Category]int         `json:"by_category"`
	ByType     map[NotificationType]int `json:"by_type"`
}

// PermissionStatus mirrors the platform notification permission state.
type PermissionStatus struct {
	Granted     bool   `json:"granted"`
	CanAskAgain bool   `json:"can_ask_again"`
	Status      string `json:"status"`
}
