// Package core wires the appliance together: configuration, bus, the
// supervised services, the alert manager, and the optional MQTT and
// health surfaces. It owns startup order and graceful teardown.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/vigil-mirror/internal/alert"
	"github.com/e7canasta/vigil-mirror/internal/audio"
	"github.com/e7canasta/vigil-mirror/internal/bus"
	"github.com/e7canasta/vigil-mirror/internal/config"
	"github.com/e7canasta/vigil-mirror/internal/emitter"
	"github.com/e7canasta/vigil-mirror/internal/hardware"
	"github.com/e7canasta/vigil-mirror/internal/supervisor"
	"github.com/e7canasta/vigil-mirror/internal/types"
	"github.com/e7canasta/vigil-mirror/internal/vision"
)

// ErrAllServicesDown is returned when every supervised service has failed
// permanently, leaving nothing worth keeping the process alive for.
var ErrAllServicesDown = errors.New("core: all services failed permanently")

// Backends are the replaceable model and hardware components. The core
// never constructs these itself; the entry point decides between real
// devices and simulated ones.
type Backends struct {
	Camera      vision.ProviderFactory
	Detector    vision.FaceDetector
	Extractor   vision.LandmarkExtractor
	Microphone  audio.SourceFactory
	Wake        audio.WakeDetector
	Transcriber audio.Transcriber
	Synthesizer audio.Synthesizer
	Led         hardware.LedController
	Buttons     hardware.ButtonSource
}

// Vigil is the appliance orchestrator.
type Vigil struct {
	cfg      *config.Config
	eventBus *bus.Bus
	backends Backends

	speaker *audio.Speaker
	manager *alert.Manager
	sup     *supervisor.Supervisor
	mqtt    *emitter.MQTTEmitter
	metrics *Metrics
	health  *HealthServer

	started time.Time
	wg      sync.WaitGroup
}

// New assembles the appliance. Nothing starts until Run.
func New(cfg *config.Config, backends Backends) *Vigil {
	v := &Vigil{
		cfg:      cfg,
		eventBus: bus.New(),
		backends: backends,
		metrics:  NewMetrics(),
	}

	v.speaker = audio.NewSpeaker(backends.Synthesizer, cfg.Audio.SpeakQueueSize)

	hbInterval := cfg.Supervisor.HeartbeatInterval()

	visionSvc := vision.NewService(
		cfg.Vision, hbInterval, v.eventBus,
		backends.Camera, backends.Detector, backends.Extractor,
	)
	audioSvc := audio.NewService(
		cfg.Audio, hbInterval, v.eventBus,
		backends.Microphone, backends.Wake, backends.Transcriber, v.speaker,
	)
	v.manager = alert.NewManager(cfg.Alerts, hbInterval, v.eventBus, backends.Led, v.speaker)

	v.sup = supervisor.New(
		supervisor.OptionsFromConfig(cfg.Supervisor),
		v.eventBus, backends.Led, v.speaker,
		visionSvc, audioSvc, v.manager,
	)

	if cfg.MQTT.Broker != "" {
		v.mqtt = emitter.NewMQTTEmitter(cfg.MQTT, cfg.InstanceID, v.eventBus, v.healthSnapshot)
	}

	if cfg.Health.Enabled {
		v.health = NewHealthServer(cfg.Health, cfg.InstanceID, time.Now(), v.sup, v.eventBus, v.metrics)
	}

	return v
}

// Run starts everything and blocks until the context is cancelled, a
// very-long press requests shutdown, or every service has failed.
func (v *Vigil) Run(ctx context.Context) error {
	v.started = time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	slog.Info("vigil mirror starting", "instance_id", v.cfg.InstanceID)

	if v.health != nil {
		v.health.Start()
	}

	// The broker is optional infrastructure: a failed first connect logs
	// and keeps going, paho retries in the background.
	if v.mqtt != nil {
		if err := v.mqtt.Connect(runCtx); err != nil {
			slog.Warn("mqtt connect failed, continuing without broker", "error", err)
		}
		v.wg.Add(1)
		go func() {
			defer v.wg.Done()
			if err := v.mqtt.Run(runCtx); err != nil {
				slog.Error("emitter stopped", "error", err)
			}
		}()
	}

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		v.speaker.Run(runCtx)
	}()

	v.wg.Add(1)
	go v.pumpGestures(runCtx)

	v.wg.Add(1)
	go v.pumpMetrics(runCtx)

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		if err := v.sup.Run(runCtx); err != nil {
			slog.Error("supervisor stopped", "error", err)
		}
	}()

	allDown := make(chan struct{})
	v.wg.Add(1)
	go v.watchDegradation(runCtx, allDown)

	slog.Info("vigil mirror running")

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutdown on signal")
	case <-v.manager.ShutdownRequested():
		slog.Info("shutdown on user request")
	case <-allDown:
		runErr = ErrAllServicesDown
	}

	cancel()
	v.shutdown()
	return runErr
}

// shutdown waits for everything to wind down under the configured grace
// period, then closes the outer surfaces.
func (v *Vigil) shutdown() {
	slog.Info("shutting down", "timeout", v.cfg.ShutdownTimeout())

	grace, cancel := context.WithTimeout(context.Background(), v.cfg.ShutdownTimeout())
	defer cancel()

	done := make(chan struct{})
	go func() {
		v.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("all workers stopped")
	case <-grace.Done():
		slog.Warn("shutdown grace period expired, exiting anyway")
	}

	if v.health != nil {
		v.health.Shutdown(grace)
	}
	if v.mqtt != nil {
		v.mqtt.Disconnect()
	}
	v.eventBus.Close()

	slog.Info("shutdown complete", "uptime", time.Since(v.started).Round(time.Second))
}

// pumpGestures forwards debounced button gestures onto the bus.
func (v *Vigil) pumpGestures(ctx context.Context) {
	defer v.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case g, ok := <-v.backends.Buttons.Gestures():
			if !ok {
				return
			}
			slog.Debug("button gesture", "kind", g.Kind.String())
			v.eventBus.Publish(types.TopicGesture, g)
		}
	}
}

// pumpMetrics mirrors bus traffic into the Prometheus instruments.
func (v *Vigil) pumpMetrics(ctx context.Context) {
	defer v.wg.Done()

	events, err := v.eventBus.Subscribe("metrics", 32, types.TopicFatigue, types.TopicAlert)
	if err != nil {
		slog.Error("metrics subscription failed", "error", err)
		return
	}
	defer v.eventBus.Unsubscribe("metrics")

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch p := ev.Payload.(type) {
			case types.FatigueEvent:
				v.metrics.ObserveFatigue(p)
			case types.AlertSnapshot:
				v.metrics.ObserveAlert(p)
			}
		case <-ticker.C:
			v.metrics.ObserveBus(v.eventBus.Stats())
			if status, err := v.sup.Status(ctx); err == nil {
				v.metrics.ObserveServices(status)
			}
		}
	}
}

// watchDegradation signals when no supervised service remains alive.
func (v *Vigil) watchDegradation(ctx context.Context, allDown chan struct{}) {
	defer v.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := v.sup.Status(ctx)
			if err != nil || len(status) == 0 {
				continue
			}
			alive := 0
			for _, st := range status {
				if !st.Fatal && !st.Stopped {
					alive++
				}
			}
			if alive == 0 {
				close(allDown)
				return
			}
		}
	}
}

// healthSnapshot feeds the MQTT health publication.
func (v *Vigil) healthSnapshot(ctx context.Context) (any, error) {
	status, err := v.sup.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("core: supervisor status: %w", err)
	}
	return map[string]any{
		"instance_id": v.cfg.InstanceID,
		"uptime_s":    time.Since(v.started).Seconds(),
		"services":    status,
		"bus":         v.eventBus.Stats(),
		"mqtt":        v.mqtt.Stats(),
	}, nil
}
