package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studynudge/internal/models"
)

func policyCandidate(at time.Time) *models.Candidate {
	return &models.Candidate{
		UserID:       "u1",
		Title:        "study time",
		Body:         "your daily session is ready",
		Type:         models.TypeSystem,
		Category:     models.CategoryLearning,
		Priority:     models.PriorityNormal,
		RequestedFor: at,
	}
}

func pendingRecord(id string, category models.Category, at time.Time) *models.NotificationRecord {
	return &models.NotificationRecord{
		ID:           id,
		UserID:       "u1",
		Title:        "earlier",
		Type:         models.TypeSystem,
		Category:     category,
		Priority:     models.PriorityNormal,
		ScheduledFor: at,
		IsScheduled:  true,
		CreatedAt:    at,
	}
}

func deliveredRecord(id string, at time.Time) *models.NotificationRecord {
	record := pendingRecord(id, models.CategoryLearning, at)
	record.IsScheduled = false
	record.IsDelivered = true
	record.DeliveredAt = &at
	return record
}

func TestEvaluateKillSwitch(t *testing.T) {
	noon := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	prefs := models.DefaultPreferences("u1")
	prefs.GlobalEnabled = false

	result := evaluate(policyInput{candidate: policyCandidate(noon), prefs: prefs, now: noon})
	assert.Equal(t, models.OutcomeSuppressed, result.outcome)
	assert.Equal(t, models.ReasonGloballyDisabled, result.reason)

	emergency := policyCandidate(noon)
	emergency.Category = models.CategoryEmergency
	result = evaluate(policyInput{candidate: emergency, prefs: prefs, now: noon})
	assert.Equal(t, models.OutcomeAccepted, result.outcome)
}

func TestEvaluateCategorySwitch(t *testing.T) {
	noon := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	// Marketing is opt-in by default.
	marketing := policyCandidate(noon)
	marketing.Category = models.CategoryMarketing
	result := evaluate(policyInput{candidate: marketing, prefs: models.DefaultPreferences("u1"), now: noon})
	assert.Equal(t, models.OutcomeSuppressed, result.outcome)
	assert.Equal(t, models.ReasonCategoryDisabled, result.reason)

	// Emergency ignores its category switch.
	prefs := models.DefaultPreferences("u1")
	prefs.Categories[models.CategoryEmergency] = false
	emergency := policyCandidate(noon)
	emergency.Category = models.CategoryEmergency
	result = evaluate(policyInput{candidate: emergency, prefs: prefs, now: noon})
	assert.Equal(t, models.OutcomeAccepted, result.outcome)
}

func TestEvaluateExpiry(t *testing.T) {
	noon := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      models.Outcome
	}{
		{"already expired", noon.Add(-time.Minute), models.OutcomeSuppressed},
		{"expires exactly now", noon, models.OutcomeSuppressed},
		{"still valid", noon.Add(time.Minute), models.OutcomeAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidate := policyCandidate(noon)
			candidate.ExpiresAt = &tt.expiresAt
			result := evaluate(policyInput{candidate: candidate, prefs: models.DefaultPreferences("u1"), now: noon})
			assert.Equal(t, tt.want, result.outcome)
			if tt.want == models.OutcomeSuppressed {
				assert.Equal(t, models.ReasonExpired, result.reason)
			}
		})
	}
}

func TestEvaluateQuietHours(t *testing.T) {
	tests := []struct {
		name        string
		at          time.Time
		priority    models.Priority
		category    models.Category
		wantOutcome models.Outcome
		wantWhen    time.Time
	}{
		{
			name:        "evening defers to next morning",
			at:          time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC),
			wantOutcome: models.OutcomeDeferred,
			wantWhen:    time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC),
		},
		{
			name:        "early morning defers to same morning",
			at:          time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC),
			wantOutcome: models.OutcomeDeferred,
			wantWhen:    time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC),
		},
		{
			name:        "window start is quiet",
			at:          time.Date(2025, 3, 10, 22, 0, 0, 0, time.UTC),
			wantOutcome: models.OutcomeDeferred,
			wantWhen:    time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC),
		},
		{
			name:        "window end is awake",
			at:          time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC),
			wantOutcome: models.OutcomeAccepted,
			wantWhen:    time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC),
		},
		{
			name:        "daytime passes through",
			at:          time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
			wantOutcome: models.OutcomeAccepted,
			wantWhen:    time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
		},
		{
			name:        "urgent is exempt via critical exception",
			at:          time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC),
			priority:    models.PriorityUrgent,
			wantOutcome: models.OutcomeAccepted,
			wantWhen:    time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC),
		},
		{
			name:        "emergency category is exempt",
			at:          time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC),
			category:    models.CategoryEmergency,
			wantOutcome: models.OutcomeAccepted,
			wantWhen:    time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidate := policyCandidate(tt.at)
			if tt.priority != "" {
				candidate.Priority = tt.priority
			}
			if tt.category != "" {
				candidate.Category = tt.category
			}

			result := evaluate(policyInput{
				candidate:   candidate,
				prefs:       models.DefaultPreferences("u1"),
				batchWindow: DefaultBatchWindow,
				now:         tt.at,
			})

			assert.Equal(t, tt.wantOutcome, result.outcome)
			assert.WithinDuration(t, tt.wantWhen, result.when, time.Second)
			if tt.wantOutcome == models.OutcomeDeferred {
				assert.Equal(t, models.ReasonQuietHours, result.reason)
			}
		})
	}
}

func TestEvaluateQuietHoursTimezone(t *testing.T) {
	prefs := models.DefaultPreferences("u1")
	prefs.QuietHours.Timezone = "America/New_York"

	// 03:30 UTC in January is 22:30 in New York, inside the window.
	at := time.Date(2025, 1, 15, 3, 30, 0, 0, time.UTC)
	result := evaluate(policyInput{candidate: policyCandidate(at), prefs: prefs, now: at})

	require.Equal(t, models.OutcomeDeferred, result.outcome)
	assert.WithinDuration(t, time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC), result.when, time.Second)
}

func TestEvaluateRespectQuietHoursToggle(t *testing.T) {
	at := time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC)
	prefs := models.DefaultPreferences("u1")
	prefs.Frequency.RespectQuietHours = false

	result := evaluate(policyInput{candidate: policyCandidate(at), prefs: prefs, now: at})
	assert.Equal(t, models.OutcomeAccepted, result.outcome)
	assert.WithinDuration(t, at, result.when, time.Second)
}

func TestEvaluateFrequencyCaps(t *testing.T) {
	noon := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("hourly cap suppresses at the limit", func(t *testing.T) {
		prefs := models.DefaultPreferences("u1")
		prefs.Frequency.MaxPerHour = 3

		records := []*models.NotificationRecord{
			pendingRecord("n1", models.CategoryLearning, noon.Add(-10*time.Minute)),
			pendingRecord("n2", models.CategoryLearning, noon.Add(-20*time.Minute)),
			pendingRecord("n3", models.CategoryLearning, noon.Add(-30*time.Minute)),
		}

		result := evaluate(policyInput{candidate: policyCandidate(noon), prefs: prefs, records: records, now: noon})
		assert.Equal(t, models.OutcomeSuppressed, result.outcome)
		assert.Equal(t, models.ReasonFrequencyCapHour, result.reason)

		// Urgent skips both caps.
		urgent := policyCandidate(noon)
		urgent.Priority = models.PriorityUrgent
		result = evaluate(policyInput{candidate: urgent, prefs: prefs, records: records, now: noon})
		assert.Equal(t, models.OutcomeAccepted, result.outcome)
	})

	t.Run("records outside the hour do not count", func(t *testing.T) {
		prefs := models.DefaultPreferences("u1")
		prefs.Frequency.MaxPerHour = 3

		records := []*models.NotificationRecord{
			pendingRecord("n1", models.CategoryLearning, noon.Add(-90*time.Minute)),
			pendingRecord("n2", models.CategoryLearning, noon.Add(-2*time.Hour)),
			pendingRecord("n3", models.CategoryLearning, noon.Add(-30*time.Minute)),
		}

		result := evaluate(policyInput{candidate: policyCandidate(noon), prefs: prefs, records: records, now: noon})
		assert.Equal(t, models.OutcomeAccepted, result.outcome)
	})

	t.Run("daily cap counts delivered records", func(t *testing.T) {
		prefs := models.DefaultPreferences("u1")
		prefs.Frequency.MaxPerHour = 0
		prefs.Frequency.MaxPerDay = 3

		records := []*models.NotificationRecord{
			deliveredRecord("n1", noon.Add(-3*time.Hour)),
			deliveredRecord("n2", noon.Add(-8*time.Hour)),
			deliveredRecord("n3", noon.Add(-20*time.Hour)),
		}

		result := evaluate(policyInput{candidate: policyCandidate(noon), prefs: prefs, records: records, now: noon})
		assert.Equal(t, models.OutcomeSuppressed, result.outcome)
		assert.Equal(t, models.ReasonFrequencyCapDay, result.reason)
	})

	t.Run("archived and unscheduled records consume no budget", func(t *testing.T) {
		prefs := models.DefaultPreferences("u1")
		prefs.Frequency.MaxPerHour = 1

		archived := pendingRecord("n1", models.CategoryLearning, noon.Add(-5*time.Minute))
		archived.IsArchived = true
		unscheduled := pendingRecord("n2", models.CategoryLearning, noon.Add(-5*time.Minute))
		unscheduled.IsScheduled = false

		result := evaluate(policyInput{
			candidate: policyCandidate(noon),
			prefs:     prefs,
			records:   []*models.NotificationRecord{archived, unscheduled},
			now:       noon,
		})
		assert.Equal(t, models.OutcomeAccepted, result.outcome)
	})

	t.Run("deferred candidate counts against the morning window", func(t *testing.T) {
		prefs := models.DefaultPreferences("u1")
		prefs.Frequency.MaxPerHour = 3

		morning := time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC)
		records := []*models.NotificationRecord{
			pendingRecord("n1", models.CategoryLearning, morning),
			pendingRecord("n2", models.CategoryLearning, morning),
			pendingRecord("n3", models.CategoryLearning, morning),
		}

		at := time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC)
		result := evaluate(policyInput{candidate: policyCandidate(at), prefs: prefs, records: records, now: at})
		assert.Equal(t, models.OutcomeSuppressed, result.outcome)
		assert.Equal(t, models.ReasonFrequencyCapHour, result.reason)
	})
}

func TestEvaluateBatchSimilar(t *testing.T) {
	noon := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	batchable := func() *models.Candidate {
		candidate := policyCandidate(noon)
		candidate.Data = map[string]interface{}{models.DataKeyBatchSimilar: true}
		return candidate
	}

	t.Run("merges into nearest pending same-category record", func(t *testing.T) {
		records := []*models.NotificationRecord{
			pendingRecord("far", models.CategoryLearning, noon.Add(4*time.Minute)),
			pendingRecord("near", models.CategoryLearning, noon.Add(time.Minute)),
		}

		result := evaluate(policyInput{
			candidate:   batchable(),
			prefs:       models.DefaultPreferences("u1"),
			records:     records,
			batchWindow: DefaultBatchWindow,
			now:         noon,
		})

		require.Equal(t, models.OutcomeBatched, result.outcome)
		assert.Equal(t, models.ReasonBatchSimilar, result.reason)
		require.NotNil(t, result.mergeInto)
		assert.Equal(t, "near", result.mergeInto.ID)
	})

	t.Run("preference batches candidates without the flag", func(t *testing.T) {
		prefs := models.DefaultPreferences("u1")
		prefs.Frequency.BatchSimilar = true

		records := []*models.NotificationRecord{
			pendingRecord("near", models.CategoryLearning, noon.Add(time.Minute)),
		}

		result := evaluate(policyInput{
			candidate:   policyCandidate(noon),
			prefs:       prefs,
			records:     records,
			batchWindow: DefaultBatchWindow,
			now:         noon,
		})

		require.Equal(t, models.OutcomeBatched, result.outcome)
		require.NotNil(t, result.mergeInto)
		assert.Equal(t, "near", result.mergeInto.ID)
	})

	t.Run("preference off leaves plain candidates alone", func(t *testing.T) {
		records := []*models.NotificationRecord{
			pendingRecord("near", models.CategoryLearning, noon.Add(time.Minute)),
		}

		result := evaluate(policyInput{
			candidate:   policyCandidate(noon),
			prefs:       models.DefaultPreferences("u1"),
			records:     records,
			batchWindow: DefaultBatchWindow,
			now:         noon,
		})
		assert.Equal(t, models.OutcomeAccepted, result.outcome)
	})

	t.Run("no target outside the window", func(t *testing.T) {
		records := []*models.NotificationRecord{
			pendingRecord("late", models.CategoryLearning, noon.Add(7*time.Minute)),
		}

		result := evaluate(policyInput{
			candidate:   batchable(),
			prefs:       models.DefaultPreferences("u1"),
			records:     records,
			batchWindow: DefaultBatchWindow,
			now:         noon,
		})
		assert.Equal(t, models.OutcomeAccepted, result.outcome)
	})

	t.Run("category must match", func(t *testing.T) {
		records := []*models.NotificationRecord{
			pendingRecord("other", models.CategorySocial, noon.Add(time.Minute)),
		}

		result := evaluate(policyInput{
			candidate:   batchable(),
			prefs:       models.DefaultPreferences("u1"),
			records:     records,
			batchWindow: DefaultBatchWindow,
			now:         noon,
		})
		assert.Equal(t, models.OutcomeAccepted, result.outcome)
	})

	t.Run("caps run before batching", func(t *testing.T) {
		prefs := models.DefaultPreferences("u1")
		prefs.Frequency.MaxPerHour = 1

		records := []*models.NotificationRecord{
			pendingRecord("near", models.CategoryLearning, noon.Add(time.Minute)),
		}

		result := evaluate(policyInput{
			candidate:   batchable(),
			prefs:       prefs,
			records:     records,
			batchWindow: DefaultBatchWindow,
			now:         noon,
		})
		assert.Equal(t, models.OutcomeSuppressed, result.outcome)
		assert.Equal(t, models.ReasonFrequencyCapHour, result.reason)
	})
}

func TestEvaluateDeferralSkipsExpiryRecheck(t *testing.T) {
	// Expiry is checked against the requested time; a deferral past the expiry
	// leaves the drop to the sweep.
	at := time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC)
	expires := at.Add(time.Hour)

	candidate := policyCandidate(at)
	candidate.ExpiresAt = &expires

	result := evaluate(policyInput{candidate: candidate, prefs: models.DefaultPreferences("u1"), now: at})
	assert.Equal(t, models.OutcomeDeferred, result.outcome)
	assert.True(t, result.when.After(expires))
}
