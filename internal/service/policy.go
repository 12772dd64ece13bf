package service

import (
	"time"

	"studynudge/internal/models"
)

// policyInput bundles everything one suppression decision needs. The record
// slice is the user's full unarchived history; counting and batching filter
// it themselves.
type policyInput struct {
	candidate   *models.Candidate
	prefs       *models.NotificationPreferences
	records     []*models.NotificationRecord
	batchWindow time.Duration
	now         time.Time
}

type policyResult struct {
	outcome   models.Outcome
	reason    models.Reason
	when      time.Time                  // effective presentation time for accepted/deferred
	mergeInto *models.NotificationRecord // target record for batched
}

// evaluate runs the suppression policy in its fixed order: kill switch,
// category, expiry, quiet hours, frequency caps, batching, accept.
func evaluate(in policyInput) policyResult {
	candidate := in.candidate
	prefs := in.prefs

	when := candidate.RequestedFor
	if when.IsZero() {
		when = in.now
	}

	if !prefs.GlobalEnabled && candidate.Category != models.CategoryEmergency {
		return policyResult{outcome: models.OutcomeSuppressed, reason: models.ReasonGloballyDisabled}
	}

	if !prefs.CategoryEnabled(candidate.Category) {
		return policyResult{outcome: models.OutcomeSuppressed, reason: models.ReasonCategoryDisabled}
	}

	if candidate.ExpiresAt != nil && !candidate.ExpiresAt.After(when) {
		return policyResult{outcome: models.OutcomeSuppressed, reason: models.ReasonExpired}
	}

	deferred := false
	if prefs.Frequency.RespectQuietHours {
		if next, moved := quietHoursDeferral(prefs.QuietHours, candidate, when); moved {
			when = next
			deferred = true
		}
	}

	if candidate.Priority != models.PriorityUrgent {
		limits := prefs.Frequency
		if limits.MaxPerHour > 0 && countInWindow(in.records, when, time.Hour) >= limits.MaxPerHour {
			return policyResult{outcome: models.OutcomeSuppressed, reason: models.ReasonFrequencyCapHour}
		}
		if limits.MaxPerDay > 0 && countInWindow(in.records, when, 24*time.Hour) >= limits.MaxPerDay {
			return policyResult{outcome: models.OutcomeSuppressed, reason: models.ReasonFrequencyCapDay}
		}
	}

	if prefs.Frequency.BatchSimilar || candidate.BatchSimilar() {
		if target := findBatchTarget(in.records, candidate, when, in.batchWindow); target != nil {
			return policyResult{outcome: models.OutcomeBatched, reason: models.ReasonBatchSimilar, mergeInto: target}
		}
	}

	result := policyResult{outcome: models.OutcomeAccepted, when: when}
	if deferred {
		result.outcome = models.OutcomeDeferred
		result.reason = models.ReasonQuietHours
	}
	return result
}

// quietHoursDeferral returns the end of the quiet window the time falls into,
// in the preference timezone. Exempt candidates and times outside the window
// are left alone.
func quietHoursDeferral(qh models.QuietHours, candidate *models.Candidate, t time.Time) (time.Time, bool) {
	if !qh.Enabled {
		return t, false
	}
	if quietHoursExempt(qh.Exceptions, candidate) {
		return t, false
	}

	start, err := models.ParseClock(qh.StartTime)
	if err != nil {
		return t, false
	}
	end, err := models.ParseClock(qh.EndTime)
	if err != nil {
		return t, false
	}

	loc, err := time.LoadLocation(qh.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := t.In(loc)

	clock := models.ClockOf(local)
	if !clock.InWindow(start, end) {
		return t, false
	}

	year, month, day := local.Date()
	boundary := time.Date(year, month, day, end.Hour(), end.Minute(), 0, 0, loc)

	// Evening side of a wrapped window defers to tomorrow's end; the morning
	// side and non-wrapped windows end later the same day.
	if start > end && clock >= start {
		boundary = boundary.AddDate(0, 0, 1)
	}
	return boundary, true
}

// quietHoursExempt matches an exception entry against the candidate: entries
// name a category, or the class "critical" covering urgent priority.
func quietHoursExempt(exceptions []string, candidate *models.Candidate) bool {
	for _, exception := range exceptions {
		if exception == string(candidate.Category) {
			return true
		}
		if exception == "critical" && candidate.Priority == models.PriorityUrgent {
			return true
		}
	}
	return false
}

// countInWindow counts records whose effective moment lies in (at-window, at].
// Delivered records count at DeliveredAt, pending ones at ScheduledFor;
// archived and never-scheduled records do not consume budget.
func countInWindow(records []*models.NotificationRecord, at time.Time, window time.Duration) int {
	from := at.Add(-window)
	count := 0
	for _, record := range records {
		var moment time.Time
		switch {
		case record.IsDelivered && record.DeliveredAt != nil:
			moment = *record.DeliveredAt
		case record.Pending():
			moment = record.ScheduledFor
		default:
			continue
		}
		if moment.After(from) && !moment.After(at) {
			count++
		}
	}
	return count
}

// findBatchTarget picks the pending same-category record closest to the
// candidate's time, within the coalescing window.
func findBatchTarget(records []*models.NotificationRecord, candidate *models.Candidate, at time.Time, window time.Duration) *models.NotificationRecord {
	var target *models.NotificationRecord
	var best time.Duration
	for _, record := range records {
		if !record.Pending() || record.Category != candidate.Category {
			continue
		}
		gap := record.ScheduledFor.Sub(at)
		if gap < 0 {
			gap = -gap
		}
		if gap > window {
			continue
		}
		if target == nil || gap < best {
			target = record
			best = gap
		}
	}
	return target
}
