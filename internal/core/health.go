package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/e7canasta/vigil-mirror/internal/bus"
	"github.com/e7canasta/vigil-mirror/internal/config"
	"github.com/e7canasta/vigil-mirror/internal/supervisor"
	"github.com/e7canasta/vigil-mirror/internal/types"
)

// Metrics holds the Prometheus instruments for the appliance.
type Metrics struct {
	registry         *prometheus.Registry
	fatigueLevel     prometheus.Gauge
	perclos          prometheus.Gauge
	alertTransitions prometheus.Counter
	monitoringPaused prometheus.Gauge
	fatalServices    prometheus.Gauge
	eventsPublished  prometheus.Gauge
	eventsDropped    prometheus.Gauge
}

// NewMetrics creates and registers the appliance metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	fatigueLevel := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_fatigue_level",
		Help: "Current fatigue level (0=normal, 1=mild, 2=severe)",
	})
	perclos := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_perclos",
		Help: "Current PERCLOS value over the trailing window",
	})
	alertTransitions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_alert_transitions_total",
		Help: "Total number of alert level transitions",
	})
	monitoringPaused := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_monitoring_paused",
		Help: "Whether monitoring is paused (1) or active (0)",
	})
	fatalServices := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_fatal_services",
		Help: "Number of services disabled after exhausting restarts",
	})
	eventsPublished := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_bus_events_published_total",
		Help: "Total events published on the internal bus",
	})
	eventsDropped := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_bus_events_dropped_total",
		Help: "Total events dropped by slow subscriber queues",
	})

	registry.MustRegister(
		fatigueLevel, perclos, alertTransitions,
		monitoringPaused, fatalServices,
		eventsPublished, eventsDropped,
	)

	return &Metrics{
		registry:         registry,
		fatigueLevel:     fatigueLevel,
		perclos:          perclos,
		alertTransitions: alertTransitions,
		monitoringPaused: monitoringPaused,
		fatalServices:    fatalServices,
		eventsPublished:  eventsPublished,
		eventsDropped:    eventsDropped,
	}
}

// ObserveFatigue records the latest vision signal.
func (m *Metrics) ObserveFatigue(ev types.FatigueEvent) {
	m.fatigueLevel.Set(float64(ev.Level))
	m.perclos.Set(ev.PERCLOS)
}

// ObserveAlert records an alert manager snapshot.
func (m *Metrics) ObserveAlert(snap types.AlertSnapshot) {
	m.alertTransitions.Inc()
	if snap.Paused {
		m.monitoringPaused.Set(1)
	} else {
		m.monitoringPaused.Set(0)
	}
}

// ObserveBus mirrors the bus counters.
func (m *Metrics) ObserveBus(st bus.Stats) {
	m.eventsPublished.Set(float64(st.TotalPublished))
	var dropped uint64
	for _, sub := range st.Subscribers {
		dropped += sub.Dropped
	}
	m.eventsDropped.Set(float64(dropped))
}

// ObserveServices mirrors the supervisor view.
func (m *Metrics) ObserveServices(status []supervisor.ServiceStatus) {
	fatal := 0
	for _, st := range status {
		if st.Fatal {
			fatal++
		}
	}
	m.fatalServices.Set(float64(fatal))
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// healthReport is the /healthz response body.
type healthReport struct {
	InstanceID string                     `json:"instance_id"`
	UptimeS    float64                    `json:"uptime_s"`
	Degraded   bool                       `json:"degraded"`
	Services   []supervisor.ServiceStatus `json:"services"`
	Bus        bus.Stats                  `json:"bus"`
}

// HealthServer exposes /healthz and /metrics on the local interface.
type HealthServer struct {
	srv *http.Server
}

// NewHealthServer builds the local HTTP endpoint.
func NewHealthServer(
	cfg config.HealthConfig,
	instanceID string,
	started time.Time,
	sup *supervisor.Supervisor,
	eventBus *bus.Bus,
	metrics *Metrics,
) *HealthServer {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()

		status, err := sup.Status(ctx)
		if err != nil {
			http.Error(w, "supervisor unavailable", http.StatusServiceUnavailable)
			return
		}

		report := healthReport{
			InstanceID: instanceID,
			UptimeS:    time.Since(started).Seconds(),
			Services:   status,
			Bus:        eventBus.Stats(),
		}
		for _, st := range status {
			if st.Fatal {
				report.Degraded = true
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if report.Degraded {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(report); err != nil {
			slog.Error("failed to encode health report", "error", err)
		}
	})

	r.Handle("/metrics", metrics.Handler())

	return &HealthServer{
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves in the background until Shutdown.
func (h *HealthServer) Start() {
	go func() {
		slog.Info("health endpoint listening", "addr", h.srv.Addr)
		if err := h.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health endpoint failed", "error", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (h *HealthServer) Shutdown(ctx context.Context) {
	if err := h.srv.Shutdown(ctx); err != nil {
		slog.Warn("health endpoint shutdown", "error", err)
	}
}
