package core

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/vigil-mirror/internal/bus"
	"github.com/e7canasta/vigil-mirror/internal/supervisor"
	"github.com/e7canasta/vigil-mirror/internal/types"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetricsObserveFatigue(t *testing.T) {
	m := NewMetrics()
	m.ObserveFatigue(types.FatigueEvent{
		Level:     types.LevelSevere,
		PERCLOS:   0.42,
		Timestamp: time.Now(),
	})

	body := scrape(t, m)
	assert.Contains(t, body, "vigil_fatigue_level 2")
	assert.Contains(t, body, "vigil_perclos 0.42")
}

func TestMetricsObserveAlert(t *testing.T) {
	m := NewMetrics()
	m.ObserveAlert(types.AlertSnapshot{Level: types.LevelMild, Paused: true})
	m.ObserveAlert(types.AlertSnapshot{Level: types.LevelMild, Paused: false})

	body := scrape(t, m)
	assert.Contains(t, body, "vigil_alert_transitions_total 2")
	assert.Contains(t, body, "vigil_monitoring_paused 0")
}

func TestMetricsObserveBus(t *testing.T) {
	m := NewMetrics()
	m.ObserveBus(bus.Stats{
		TotalPublished: 17,
		Subscribers: map[string]bus.SubscriberStats{
			"alert": {Sent: 10, Dropped: 2},
			"audio": {Sent: 5, Dropped: 1},
		},
	})

	body := scrape(t, m)
	assert.Contains(t, body, "vigil_bus_events_published_total 17")
	assert.Contains(t, body, "vigil_bus_events_dropped_total 3")
}

func TestMetricsObserveServices(t *testing.T) {
	m := NewMetrics()
	m.ObserveServices([]supervisor.ServiceStatus{
		{ID: "vision", Running: true},
		{ID: "audio", Fatal: true},
		{ID: "alert", Fatal: true},
	})

	body := scrape(t, m)
	assert.Contains(t, body, "vigil_fatal_services 2")
}
