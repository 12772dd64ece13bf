package service

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"studynudge/internal/models"
	"studynudge/internal/storage"
)

// Nudges evaluates behavioral trigger rules and feeds fired nudges through
// the suppression engine.
type Nudges struct {
	store    storage.NudgeStore
	prefs    *Preferences
	notifier *Notifications
	metrics  *Metrics
	locks    *userLocks
	now      func() time.Time
}

func NewNudges(store storage.NudgeStore, prefs *Preferences, notifier *Notifications, metrics *Metrics) *Nudges {
	return &Nudges{
		store:    store,
		prefs:    prefs,
		notifier: notifier,
		metrics:  metrics,
		locks:    newUserLocks(),
		now:      time.Now,
	}
}

// SeedDefaults creates the stock rules a user is missing. Seeding twice
// changes nothing.
func (n *Nudges) SeedDefaults(ctx context.Context, userID string) ([]*models.SmartNudge, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id: %w", models.ErrValidation)
	}

	unlock := n.locks.Lock(userID)
	defer unlock()

	existing, err := n.store.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list nudges: %w", err)
	}

	have := make(map[models.NudgeType]bool, len(existing))
	for _, rule := range existing {
		have[rule.Type] = true
	}

	for _, rule := range defaultRules(userID, n.now()) {
		if have[rule.Type] {
			continue
		}
		if err := n.store.Put(ctx, rule); err != nil {
			return nil, fmt.Errorf("seed nudge: %w", err)
		}
		logrus.WithFields(logrus.Fields{
			"user_id": userID,
			"type":    rule.Type,
		}).Info("seeded default nudge rule")
	}

	return n.store.List(ctx, userID)
}

// Trigger evaluates every active rule matching the event. A rule that passes
// all gates fires exactly once: its candidate goes through the suppression
// engine and its trigger bookkeeping advances regardless of that outcome.
func (n *Nudges) Trigger(ctx context.Context, userID, event string, triggerCtx map[string]string) ([]models.NudgeResult, error) {
	if userID == "" || event == "" {
		return nil, fmt.Errorf("user id and event: %w", models.ErrValidation)
	}

	unlock := n.locks.Lock(userID)
	defer unlock()

	prefs, err := n.prefs.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	rules, err := n.store.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list nudges: %w", err)
	}

	now := n.now()
	highVolume := false
	if prefs.SmartNudges.AdaptiveFrequency && prefs.Frequency.MaxPerDay > 0 {
		records, err := n.notifier.List(ctx, storage.Filter{UserID: userID})
		if err != nil {
			return nil, err
		}
		highVolume = deliveredToday(records, now) >= prefs.Frequency.MaxPerDay/2
	}

	var results []models.NudgeResult
	for _, rule := range rules {
		if !rule.IsActive || rule.Trigger != event {
			continue
		}

		n.metrics.NudgeEvaluated()
		result := models.NudgeResult{NudgeID: rule.ID, Type: rule.Type}

		if skip := gateNudge(rule, prefs, now, highVolume); skip != "" {
			result.Skipped = skip
			n.metrics.NudgeSkipped()
			if skip == models.NudgeSkipExhausted {
				rule.IsActive = false
				if err := n.store.Put(ctx, rule); err != nil {
					return nil, fmt.Errorf("deactivate nudge: %w", err)
				}
			}
			results = append(results, result)
			continue
		}

		decision, submitErr := n.notifier.Submit(ctx, buildNudgeCandidate(rule, triggerCtx, now))
		if submitErr != nil && decision == nil {
			return nil, submitErr
		}

		rule.TriggerCount++
		rule.LastTriggered = &now
		if rule.MaxTriggers > 0 && rule.TriggerCount >= rule.MaxTriggers {
			rule.IsActive = false
		}
		if err := n.store.Put(ctx, rule); err != nil {
			return nil, fmt.Errorf("store nudge: %w", err)
		}

		result.Fired = true
		result.Decision = decision
		n.metrics.NudgeFired()
		results = append(results, result)

		logrus.WithFields(logrus.Fields{
			"user_id":  userID,
			"nudge_id": rule.ID,
			"type":     rule.Type,
			"event":    event,
			"outcome":  decision.Outcome,
		}).Info("nudge fired")
	}

	return results, nil
}

// Feedback folds one thumbs-up or thumbs-down into the rule's effectiveness
// moving average. The score is advisory and never disables a rule.
func (n *Nudges) Feedback(ctx context.Context, userID, nudgeID string, effective bool) (*models.SmartNudge, error) {
	unlock := n.locks.Lock(userID)
	defer unlock()

	rule, err := n.store.Get(ctx, userID, nudgeID)
	if err != nil {
		return nil, err
	}

	score := 0.0
	if effective {
		score = 1.0
	}
	rule.Effectiveness = clamp01(rule.Effectiveness*0.9 + score*0.1)

	if err := n.store.Put(ctx, rule); err != nil {
		return nil, fmt.Errorf("store nudge: %w", err)
	}
	return rule, nil
}

func (n *Nudges) List(ctx context.Context, userID string) ([]*models.SmartNudge, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id: %w", models.ErrValidation)
	}
	return n.store.List(ctx, userID)
}

func (n *Nudges) Deactivate(ctx context.Context, userID, nudgeID string) (*models.SmartNudge, error) {
	unlock := n.locks.Lock(userID)
	defer unlock()

	rule, err := n.store.Get(ctx, userID, nudgeID)
	if err != nil {
		return nil, err
	}
	rule.IsActive = false
	if err := n.store.Put(ctx, rule); err != nil {
		return nil, fmt.Errorf("store nudge: %w", err)
	}
	return rule, nil
}

// gateNudge returns the skip reason keeping a matched rule from firing, or
// "" when it may fire.
func gateNudge(rule *models.SmartNudge, prefs *models.NotificationPreferences, now time.Time, highVolume bool) string {
	if !prefs.SmartNudges.Enabled {
		return models.NudgeSkipDisabled
	}
	if !nudgeTypeEnabled(prefs.SmartNudges, rule.Type) {
		return models.NudgeSkipTypeOff
	}
	if rule.MaxTriggers > 0 && rule.TriggerCount >= rule.MaxTriggers {
		return models.NudgeSkipExhausted
	}

	loc := time.UTC
	if prefs.QuietHours.Timezone != "" {
		if parsed, err := time.LoadLocation(prefs.QuietHours.Timezone); err == nil {
			loc = parsed
		}
	}
	local := now.In(loc)

	if !conditionsMet(rule.Conditions, local) {
		return models.NudgeSkipConditions
	}

	if rule.LastTriggered != nil {
		required := requiredGap(rule.Frequency)
		if prefs.SmartNudges.AdaptiveFrequency && highVolume {
			required *= 2
		}
		if now.Sub(*rule.LastTriggered) < required {
			return models.NudgeSkipTooFrequent
		}
	}
	return ""
}

func nudgeTypeEnabled(prefs models.SmartNudgePrefs, t models.NudgeType) bool {
	switch t {
	case models.NudgeLearningReminder:
		return prefs.LearningReminders
	case models.NudgeStreakMaintenance:
		return prefs.StreakMaintenance
	case models.NudgeMotivationalMessage:
		return prefs.MotivationalMessages
	case models.NudgePerformanceInsight:
		return prefs.PerformanceInsights
	default:
		return true
	}
}

func conditionsMet(conditions models.NudgeConditions, local time.Time) bool {
	if conditions.TimeOfDayStart != "" && conditions.TimeOfDayEnd != "" {
		start, startErr := models.ParseClock(conditions.TimeOfDayStart)
		end, endErr := models.ParseClock(conditions.TimeOfDayEnd)
		if startErr == nil && endErr == nil && !models.ClockOf(local).InWindow(start, end) {
			return false
		}
	}
	if len(conditions.DaysOfWeek) > 0 {
		found := false
		for _, day := range conditions.DaysOfWeek {
			if day == local.Weekday() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// deliveredToday counts records presented on now's calendar day. Pending and
// suppressed notifications put no pressure on the adaptive gap.
func deliveredToday(records []*models.NotificationRecord, now time.Time) int {
	year, month, day := now.Date()
	count := 0
	for _, record := range records {
		if !record.IsDelivered || record.DeliveredAt == nil {
			continue
		}
		ry, rm, rd := record.DeliveredAt.In(now.Location()).Date()
		if ry == year && rm == month && rd == day {
			count++
		}
	}
	return count
}

func requiredGap(frequency models.NudgeFrequency) time.Duration {
	if frequency.Type == models.NudgeFrequencyCustom && frequency.IntervalHours > 0 {
		return time.Duration(frequency.IntervalHours) * time.Hour
	}
	return 24 * time.Hour
}

func buildNudgeCandidate(rule *models.SmartNudge, triggerCtx map[string]string, now time.Time) *models.Candidate {
	candidate := &models.Candidate{
		UserID:   rule.UserID,
		Title:    renderTemplate(rule.Title, triggerCtx),
		Body:     renderTemplate(rule.Body, triggerCtx),
		Type:     models.TypeSmartNudge,
		Category: rule.Type.Category(),
		Priority: models.PriorityNormal,
		Data: map[string]interface{}{
			"nudge_id":   rule.ID,
			"nudge_type": string(rule.Type),
		},
	}
	if rule.TriggerDelayMinutes > 0 {
		candidate.RequestedFor = now.Add(time.Duration(rule.TriggerDelayMinutes) * time.Minute)
	}
	return candidate
}

var templateVar = regexp.MustCompile(`\{\{(\w+)\}\}`)

// templateFallbacks fill placeholders the trigger context left out.
var templateFallbacks = map[string]string{
	"name":          "there",
	"days_inactive": "a few",
	"streak_length": "your",
	"goal_name":     "your goal",
	"subject":       "your course",
}

func renderTemplate(template string, vars map[string]string) string {
	return templateVar.ReplaceAllStringFunc(template, func(match string) string {
		name := match[2 : len(match)-2]
		if value, ok := vars[name]; ok {
			return value
		}
		if value, ok := templateFallbacks[name]; ok {
			return value
		}
		return ""
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func defaultRules(userID string, now time.Time) []*models.SmartNudge {
	return []*models.SmartNudge{
		{
			ID:      uuid.New().String(),
			UserID:  userID,
			Type:    models.NudgeLearningReminder,
			Trigger: "inactivity_detected",
			Title:   "Time to practice, {{name}}!",
			Body:    "You haven't studied in {{days_inactive}} days. A short session keeps the habit alive.",
			Conditions: models.NudgeConditions{
				TimeOfDayStart: "09:00",
				TimeOfDayEnd:   "21:00",
			},
			Frequency:     models.NudgeFrequency{Type: models.NudgeFrequencyDaily, MaxPerDay: 1},
			IsActive:      true,
			Effectiveness: 0.5,
			CreatedAt:     now,
		},
		{
			ID:      uuid.New().String(),
			UserID:  userID,
			Type:    models.NudgeStreakMaintenance,
			Trigger: "streak_broken",
			Title:   "Your {{streak_length}}-day streak needs you",
			Body:    "One quick exercise today restores your momentum.",
			Frequency: models.NudgeFrequency{
				Type:      models.NudgeFrequencyDaily,
				MaxPerDay: 1,
			},
			IsActive:      true,
			Effectiveness: 0.5,
			CreatedAt:     now,
		},
		{
			ID:     uuid.New().String(),
			UserID: userID,
			Type:   models.NudgeMotivationalMessage,
			// Let the missed goal sink in before nudging about it.
			Trigger:             "goal_missed",
			TriggerDelayMinutes: 30,
			Title:               "Keep going on {{goal_name}}",
			Body:                "Progress counts even when a target slips. Pick it back up today.",
			Frequency: models.NudgeFrequency{
				Type:          models.NudgeFrequencyCustom,
				IntervalHours: 48,
			},
			IsActive:      true,
			Effectiveness: 0.5,
			CreatedAt:     now,
		},
		{
			ID:      uuid.New().String(),
			UserID:  userID,
			Type:    models.NudgePerformanceInsight,
			Trigger: "weekly_summary_ready",
			Title:   "Your week in {{subject}}",
			Body:    "Your weekly performance summary is ready to review.",
			Frequency: models.NudgeFrequency{
				Type:          models.NudgeFrequencyCustom,
				IntervalHours: 168,
			},
			IsActive:      true,
			Effectiveness: 0.5,
			CreatedAt:     now,
		},
	}
}
