package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studynudge/internal/delivery"
	"studynudge/internal/models"
	"studynudge/internal/service"
	"studynudge/internal/storage"
)

// handlerFixture mounts the full route tree over in-memory stores. The
// fixture user "u1" starts with quiet hours off and generous caps so policy
// outcomes do not depend on the wall clock the tests run under.
type handlerFixture struct {
	t       *testing.T
	router  chi.Router
	records *storage.MemoryRecordStore
	prefs   *storage.MemoryPreferenceStore
	rules   *storage.MemoryNudgeStore
	adapter *delivery.MemoryAdapter
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	records := storage.NewMemoryRecordStore()
	prefStore := storage.NewMemoryPreferenceStore()
	rules := storage.NewMemoryNudgeStore()
	reminderStore := storage.NewMemoryReminderStore()
	adapter := delivery.NewMemoryAdapter()

	metrics := service.NewMetrics()
	preferences := service.NewPreferences(prefStore)
	notifications := service.NewNotifications(records, preferences, adapter, metrics, 0)
	nudges := service.NewNudges(rules, preferences, notifications, metrics)
	reminders := service.NewReminders(reminderStore, notifications, metrics)

	prefs := models.DefaultPreferences("u1")
	prefs.QuietHours.Enabled = false
	prefs.Frequency = models.FrequencyLimits{MaxPerHour: 100, MaxPerDay: 500, RespectQuietHours: true}
	require.NoError(t, prefStore.Put(context.Background(), prefs))

	notifyHandler := NewNotifyHandler(notifications)
	prefsHandler := NewPreferencesHandler(preferences)
	nudgesHandler := NewNudgesHandler(nudges)
	remindersHandler := NewRemindersHandler(reminders)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/notifications", func(r chi.Router) {
			r.Post("/", notifyHandler.Schedule)
			r.Post("/send", notifyHandler.Send)
			r.Get("/", notifyHandler.List)
			r.Get("/summary", notifyHandler.Summary)
			r.Get("/{id}", notifyHandler.Get)
			r.Delete("/{id}", notifyHandler.Cancel)
			r.Patch("/{id}/read", notifyHandler.MarkRead)
			r.Post("/{id}/delivered", notifyHandler.MarkDelivered)
			r.Post("/{id}/response", notifyHandler.Response)
			r.Post("/{id}/archive", notifyHandler.Archive)
		})
		r.Route("/preferences", func(r chi.Router) {
			r.Get("/", prefsHandler.Get)
			r.Patch("/", prefsHandler.Patch)
		})
		r.Route("/nudges", func(r chi.Router) {
			r.Get("/", nudgesHandler.List)
			r.Post("/seed", nudgesHandler.Seed)
			r.Post("/trigger", nudgesHandler.Trigger)
			r.Post("/{id}/feedback", nudgesHandler.Feedback)
			r.Delete("/{id}", nudgesHandler.Deactivate)
		})
		r.Route("/reminders", func(r chi.Router) {
			r.Post("/", remindersHandler.Create)
			r.Get("/", remindersHandler.List)
			r.Get("/{id}", remindersHandler.Get)
			r.Delete("/{id}", remindersHandler.Delete)
			r.Post("/{id}/snooze", remindersHandler.Snooze)
			r.Post("/{id}/complete", remindersHandler.Complete)
		})
		r.Route("/permissions", func(r chi.Router) {
			r.Get("/", notifyHandler.PermissionStatus)
			r.Post("/request", notifyHandler.RequestPermission)
		})
	})
	r.Get("/api/metrics", notifyHandler.Metrics)

	return &handlerFixture{
		t:       t,
		router:  r,
		records: records,
		prefs:   prefStore,
		rules:   rules,
		adapter: adapter,
	}
}

func (fx *handlerFixture) do(method, target string, body interface{}) *httptest.ResponseRecorder {
	fx.t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(fx.t, err)
		reader = bytes.NewReader(payload)
	}
	return fx.doRaw(method, target, reader)
}

func (fx *handlerFixture) doRaw(method, target string, body io.Reader) *httptest.ResponseRecorder {
	fx.t.Helper()

	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	return rec
}

func (fx *handlerFixture) decode(rec *httptest.ResponseRecorder, out interface{}) {
	fx.t.Helper()
	require.NoError(fx.t, json.NewDecoder(rec.Body).Decode(out))
}

// scheduleOne posts a candidate and requires a created decision with a record.
func (fx *handlerFixture) scheduleOne(payload map[string]interface{}) *models.Decision {
	fx.t.Helper()

	rec := fx.do(http.MethodPost, "/api/v1/notifications", payload)
	require.Equal(fx.t, http.StatusCreated, rec.Code, rec.Body.String())

	var decision models.Decision
	fx.decode(rec, &decision)
	require.NotNil(fx.t, decision.Record)
	return &decision
}

func schedulePayload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":  "u1",
		"title":    "Quiz closing soon",
		"body":     "Your chemistry quiz closes tonight.",
		"type":     string(models.TypeDeadline),
		"category": string(models.CategoryDeadlines),
		"priority": string(models.PriorityNormal),
	}
}

func TestScheduleAcceptedRoundTrip(t *testing.T) {
	fx := newHandlerFixture(t)

	payload := schedulePayload()
	payload["scheduled_for"] = time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	decision := fx.scheduleOne(payload)

	assert.Equal(t, models.OutcomeAccepted, decision.Outcome)
	assert.NotEmpty(t, decision.Record.ID)
	assert.True(t, decision.Record.IsScheduled)

	rec := fx.do(http.MethodGet, "/api/v1/notifications/"+decision.Record.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var record models.NotificationRecord
	fx.decode(rec, &record)
	assert.Equal(t, decision.Record.ID, record.ID)
	assert.Equal(t, "Quiz closing soon", record.Title)
}

func TestScheduleSuppressedReturnsOK(t *testing.T) {
	fx := newHandlerFixture(t)

	payload := schedulePayload()
	payload["category"] = string(models.CategoryMarketing)
	rec := fx.do(http.MethodPost, "/api/v1/notifications", payload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var decision models.Decision
	fx.decode(rec, &decision)
	assert.Equal(t, models.OutcomeSuppressed, decision.Outcome)
	assert.Equal(t, models.ReasonCategoryDisabled, decision.Reason)
	assert.Nil(t, decision.Record)
}

func TestScheduleRejectsMalformedBody(t *testing.T) {
	fx := newHandlerFixture(t)

	rec := fx.doRaw(http.MethodPost, "/api/v1/notifications", strings.NewReader("{not json"))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	fx.decode(rec, &resp)
	assert.Equal(t, "invalid request body", resp.Error)
}

func TestScheduleValidatesCandidate(t *testing.T) {
	fx := newHandlerFixture(t)

	payload := schedulePayload()
	delete(payload, "user_id")
	rec := fx.do(http.MethodPost, "/api/v1/notifications", payload)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestScheduleDuringQuietHoursDefers(t *testing.T) {
	fx := newHandlerFixture(t)

	// A quiet window straddling the current wall clock makes the deferral
	// reproducible at any time of day.
	now := time.Now().UTC()
	patch := map[string]interface{}{
		"quiet_hours": map[string]interface{}{
			"enabled":    true,
			"start_time": now.Add(-2 * time.Hour).Format("15:04"),
			"end_time":   now.Add(2 * time.Hour).Format("15:04"),
			"exceptions": []string{},
		},
	}
	rec := fx.do(http.MethodPatch, "/api/v1/preferences?user_id=u1", patch)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	decision := fx.scheduleOne(schedulePayload())
	assert.Equal(t, models.OutcomeDeferred, decision.Outcome)
	assert.Equal(t, models.ReasonQuietHours, decision.Reason)
	assert.True(t, decision.Record.ScheduledFor.After(now))
}

func TestDeliveredAndReadCallbacks(t *testing.T) {
	fx := newHandlerFixture(t)

	rec := fx.do(http.MethodPost, "/api/v1/notifications/send", schedulePayload())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var decision models.Decision
	fx.decode(rec, &decision)
	id := decision.Record.ID

	rec = fx.do(http.MethodPost, "/api/v1/notifications/"+id+"/delivered", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var record models.NotificationRecord
	fx.decode(rec, &record)
	assert.True(t, record.IsDelivered)
	require.NotNil(t, record.DeliveredAt)

	rec = fx.do(http.MethodPatch, "/api/v1/notifications/"+id+"/read", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fx.decode(rec, &record)
	assert.True(t, record.IsRead)
}

func TestMarkReadBeforeDeliveryConflicts(t *testing.T) {
	fx := newHandlerFixture(t)

	payload := schedulePayload()
	payload["scheduled_for"] = time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	decision := fx.scheduleOne(payload)

	rec := fx.do(http.MethodPatch, "/api/v1/notifications/"+decision.Record.ID+"/read", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestResponseCallbackImpliesDeliveredAndRead(t *testing.T) {
	fx := newHandlerFixture(t)

	decision := fx.scheduleOne(schedulePayload())

	rec := fx.do(http.MethodPost, "/api/v1/notifications/"+decision.Record.ID+"/response",
		map[string]string{"action_id": "open_quiz"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var record models.NotificationRecord
	fx.decode(rec, &record)
	assert.True(t, record.IsDelivered)
	assert.True(t, record.IsRead)
	assert.Equal(t, "open_quiz", record.ResponseAction)
}

func TestCancelReturnsNoContent(t *testing.T) {
	fx := newHandlerFixture(t)

	payload := schedulePayload()
	payload["scheduled_for"] = time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	decision := fx.scheduleOne(payload)
	id := decision.Record.ID

	rec := fx.do(http.MethodDelete, "/api/v1/notifications/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Cancelling again is a no-op, not an error.
	rec = fx.do(http.MethodDelete, "/api/v1/notifications/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = fx.do(http.MethodGet, "/api/v1/notifications/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var record models.NotificationRecord
	fx.decode(rec, &record)
	assert.True(t, record.IsArchived)
}

func TestGetUnknownNotification(t *testing.T) {
	fx := newHandlerFixture(t)

	rec := fx.do(http.MethodGet, "/api/v1/notifications/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListFiltersAndValidation(t *testing.T) {
	fx := newHandlerFixture(t)

	fx.scheduleOne(schedulePayload())
	learning := schedulePayload()
	learning["title"] = "Practice streak"
	learning["type"] = string(models.TypeCourseUpdate)
	learning["category"] = string(models.CategoryLearning)
	fx.scheduleOne(learning)

	rec := fx.do(http.MethodGet, "/api/v1/notifications?user_id=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []*models.NotificationRecord
	fx.decode(rec, &records)
	assert.Len(t, records, 2)

	rec = fx.do(http.MethodGet, "/api/v1/notifications?user_id=u1&category=learning", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	records = nil
	fx.decode(rec, &records)
	require.Len(t, records, 1)
	assert.Equal(t, models.CategoryLearning, records[0].Category)

	rec = fx.do(http.MethodGet, "/api/v1/notifications?user_id=u1&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	records = nil
	fx.decode(rec, &records)
	assert.Len(t, records, 1)

	rec = fx.do(http.MethodGet, "/api/v1/notifications?user_id=u1&since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = fx.do(http.MethodGet, "/api/v1/notifications?user_id=u1&limit=-3", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummaryEndpoint(t *testing.T) {
	fx := newHandlerFixture(t)

	fx.scheduleOne(schedulePayload())

	rec := fx.do(http.MethodGet, "/api/v1/notifications/summary?user_id=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary models.Summary
	fx.decode(rec, &summary)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.ByCategory[models.CategoryDeadlines])

	rec = fx.do(http.MethodGet, "/api/v1/notifications/summary", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleWithPermissionDenied(t *testing.T) {
	fx := newHandlerFixture(t)

	fx.adapter.SetPermission(models.PermissionStatus{Status: delivery.PermissionDenied})

	rec := fx.do(http.MethodPost, "/api/v1/notifications/send", schedulePayload())
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())

	// The flagged record rides along with the error.
	var resp struct {
		Error    string           `json:"error"`
		Decision *models.Decision `json:"decision"`
	}
	fx.decode(rec, &resp)
	assert.NotEmpty(t, resp.Error)
	require.NotNil(t, resp.Decision)
	require.NotNil(t, resp.Decision.Record)
	assert.True(t, resp.Decision.Record.DeliveryFailed)
}

func TestScheduleWithHandoffFailure(t *testing.T) {
	fx := newHandlerFixture(t)

	fx.adapter.FailNextWith(fmt.Errorf("push gateway unavailable: %w", models.ErrDeliveryFailed))

	rec := fx.do(http.MethodPost, "/api/v1/notifications/send", schedulePayload())
	require.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())

	var resp struct {
		Error    string           `json:"error"`
		Decision *models.Decision `json:"decision"`
	}
	fx.decode(rec, &resp)
	require.NotNil(t, resp.Decision)
	require.NotNil(t, resp.Decision.Record)
	assert.True(t, resp.Decision.Record.DeliveryFailed)

	rec = fx.do(http.MethodGet, "/api/v1/notifications/"+resp.Decision.Record.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var record models.NotificationRecord
	fx.decode(rec, &record)
	assert.True(t, record.DeliveryFailed)
}

func TestPermissionEndpoints(t *testing.T) {
	fx := newHandlerFixture(t)

	fx.adapter.SetPermission(models.PermissionStatus{CanAskAgain: true, Status: delivery.PermissionUndetermined})

	rec := fx.do(http.MethodGet, "/api/v1/permissions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status models.PermissionStatus
	fx.decode(rec, &status)
	assert.False(t, status.Granted)
	assert.True(t, status.CanAskAgain)

	rec = fx.do(http.MethodPost, "/api/v1/permissions/request", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fx.decode(rec, &status)
	assert.True(t, status.Granted)
	assert.Equal(t, delivery.PermissionGranted, status.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	fx := newHandlerFixture(t)

	fx.scheduleOne(schedulePayload())
	payload := schedulePayload()
	payload["category"] = string(models.CategoryMarketing)
	rec := fx.do(http.MethodPost, "/api/v1/notifications", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = fx.do(http.MethodGet, "/api/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot service.Snapshot
	fx.decode(rec, &snapshot)
	assert.Equal(t, int64(1), snapshot.Scheduled)
	assert.Equal(t, int64(1), snapshot.Suppressed[models.ReasonCategoryDisabled])
}
