package service

import (
	"sync"

	"studynudge/internal/models"
)

// Metrics counts engine outcomes for the /api/metrics endpoint.
type Metrics struct {
	mu                sync.Mutex
	scheduled         int64
	deferred          int64
	batched           int64
	suppressed        map[models.Reason]int64
	delivered         int64
	expiredDropped    int64
	deliveryFailed    int64
	cancelled         int64
	nudgesEvaluated   int64
	nudgesFired       int64
	nudgesSkipped     int64
	remindersExpanded int64
}

func NewMetrics() *Metrics {
	return &Metrics{suppressed: make(map[models.Reason]int64)}
}

func (m *Metrics) RecordDecision(decision *models.Decision) {
	if m == nil || decision == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch decision.Outcome {
	case models.OutcomeAccepted:
		m.scheduled++
	case models.OutcomeDeferred:
		m.scheduled++
		m.deferred++
	case models.OutcomeBatched:
		m.batched++
	case models.OutcomeSuppressed:
		m.suppressed[decision.Reason]++
	}
}

func (m *Metrics) Delivered() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.delivered++
	m.mu.Unlock()
}

func (m *Metrics) ExpiredDropped() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.expiredDropped++
	m.mu.Unlock()
}

func (m *Metrics) DeliveryFailed() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.deliveryFailed++
	m.mu.Unlock()
}

func (m *Metrics) Cancelled() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.cancelled++
	m.mu.Unlock()
}

func (m *Metrics) NudgeEvaluated() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.nudgesEvaluated++
	m.mu.Unlock()
}

func (m *Metrics) NudgeFired() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.nudgesFired++
	m.mu.Unlock()
}

func (m *Metrics) NudgeSkipped() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.nudgesSkipped++
	m.mu.Unlock()
}

func (m *Metrics) ReminderExpanded() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.remindersExpanded++
	m.mu.Unlock()
}

// Snapshot is the JSON shape served by the metrics endpoint.
type Snapshot struct {
	Scheduled         int64                    `json:"scheduled"`
	Deferred          int64                    `json:"deferred"`
	Batched           int64                    `json:"batched"`
	Suppressed        map[models.Reason]int64  `json:"suppressed"`
	Delivered         int64                    `json:"delivered"`
	ExpiredDropped    int64                    `json:"expired_dropped"`
	DeliveryFailed    int64                    `json:"delivery_failed"`
	Cancelled         int64                    `json:"cancelled"`
	NudgesEvaluated   int64                    `json:"nudges_evaluated"`
	NudgesFired       int64                    `json:"nudges_fired"`
	NudgesSkipped     int64                    `json:"nudges_skipped"`
	RemindersExpanded int64                    `json:"reminders_expanded"`
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	suppressed := make(map[models.Reason]int64, len(m.suppressed))
	for reason, count := range m.suppressed {
		suppressed[reason] = count
	}
	return Snapshot{
		Scheduled:         m.scheduled,
		Deferred:          m.deferred,
		Batched:           m.batched,
		Suppressed:        suppressed,
		Delivered:         m.delivered,
		ExpiredDropped:    m.expiredDropped,
		DeliveryFailed:    m.deliveryFailed,
		Cancelled:         m.cancelled,
		NudgesEvaluated:   m.nudgesEvaluated,
		NudgesFired:       m.nudgesFired,
		NudgesSkipped:     m.nudgesSkipped,
		RemindersExpanded: m.remindersExpanded,
	}
}
