// Package alert owns the authoritative alert state machine: the fatigue
// level adopted from the vision signal, the acknowledged flag, and the
// orthogonal paused flag. All mutation happens on the manager's own
// goroutine; other components only publish events.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/vigil-mirror/internal/bus"
	"github.com/e7canasta/vigil-mirror/internal/config"
	"github.com/e7canasta/vigil-mirror/internal/hardware"
	"github.com/e7canasta/vigil-mirror/internal/types"
)

// ServiceID is the alert manager identifier on the heartbeat topic.
const ServiceID = "alert"

// breakTimerDuration is the fixed span of the voice-requested break timer.
const breakTimerDuration = 20 * time.Minute

// Spoken phrases.
const (
	mildWarningText   = "You seem a little tired. Consider taking a break."
	severeWarningText = "Warning. You look very fatigued. Please stop and rest."
	statusNormalText  = "You look alert."
	statusMildText    = "You seem a little tired."
	statusSevereText  = "You look very fatigued. Please rest."
	statusPausedText  = "Monitoring is paused."
	ackText           = "Understood."
	pausedText        = "Monitoring paused. Press the button or say resume to continue."
	resumedText       = "Monitoring resumed."
	shutdownText      = "Shutting down. Goodbye."
	timerSetText      = "Break timer set for twenty minutes."
	timerDoneText     = "Your break timer is up."
)

// Speech is the slice of the playback queue the manager needs.
type Speech interface {
	Say(text string) error
	SayUrgent(text string) error
}

// Manager runs the alert state machine.
type Manager struct {
	cfg        config.AlertsConfig
	hbInterval time.Duration
	eventBus   *bus.Bus
	led        hardware.LedController
	speech     Speech

	level          types.FatigueLevel
	acknowledged   bool
	paused         bool
	lastTransition time.Time

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// NewManager wires the alert state machine. The LED controller and speech
// queue are the only side-effect channels it owns.
func NewManager(
	cfg config.AlertsConfig,
	hbInterval time.Duration,
	eventBus *bus.Bus,
	led hardware.LedController,
	speech Speech,
) *Manager {
	return &Manager{
		cfg:        cfg,
		hbInterval: hbInterval,
		eventBus:   eventBus,
		led:        led,
		speech:     speech,
		shutdownCh: make(chan struct{}),
	}
}

// ID implements the supervised service contract.
func (m *Manager) ID() string { return ServiceID }

// ShutdownRequested is closed when a very-long press asks for an orderly
// process shutdown. The orchestrator owns the actual teardown.
func (m *Manager) ShutdownRequested() <-chan struct{} { return m.shutdownCh }

// Run consumes fatigue, voice and gesture events until the context is
// cancelled. State lives entirely on this goroutine.
func (m *Manager) Run(ctx context.Context) error {
	events, err := m.eventBus.Subscribe(ServiceID, 16,
		types.TopicFatigue, types.TopicVoice, types.TopicGesture)
	if err != nil {
		return fmt.Errorf("alert: subscription failed: %w", err)
	}
	defer m.eventBus.Unsubscribe(ServiceID)

	hb := time.NewTicker(m.hbInterval)
	defer hb.Stop()
	repeat := time.NewTicker(m.cfg.RepeatInterval())
	defer repeat.Stop()

	// Break timer channel stays nil until a set-timer command arrives.
	var breakTimer *time.Timer
	var breakTimerCh <-chan time.Time
	defer func() {
		if breakTimer != nil {
			breakTimer.Stop()
		}
	}()

	m.setLed()
	m.heartbeat()
	slog.Info("alert manager running", "repeat_interval_s", m.cfg.RepeatIntervalS)

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-hb.C:
			m.heartbeat()

		case <-repeat.C:
			if m.level == types.LevelSevere && !m.acknowledged && !m.paused {
				m.sayUrgent(severeWarningText)
			}

		case <-breakTimerCh:
			breakTimerCh = nil
			m.say(timerDoneText)

		case ev := <-events:
			switch p := ev.Payload.(type) {
			case types.FatigueEvent:
				m.onFatigue(p)
			case types.VoiceCommand:
				switch p.Intent {
				case types.IntentAcknowledge:
					m.acknowledge()
				case types.IntentStatusQuery:
					m.status()
				case types.IntentStopMonitoring:
					m.pause()
				case types.IntentResume:
					m.resume()
				case types.IntentSetTimer:
					if breakTimer != nil {
						breakTimer.Stop()
					}
					breakTimer = time.NewTimer(breakTimerDuration)
					breakTimerCh = breakTimer.C
					m.say(timerSetText)
				}
			case types.ButtonGesture:
				switch p.Kind {
				case types.GestureSingle:
					if m.paused {
						m.resume()
					} else {
						m.acknowledge()
					}
				case types.GestureDouble:
					m.status()
				case types.GestureLong:
					m.pause()
				case types.GestureVeryLong:
					m.shutdown()
				}
			}
		}
	}
}

// onFatigue adopts the upstream level. Hysteresis already happened in the
// vision pipeline, so the level here is authoritative.
func (m *Manager) onFatigue(ev types.FatigueEvent) {
	if m.paused {
		return
	}
	if ev.Level == m.level {
		return
	}

	escalated := ev.Level > m.level
	m.level = ev.Level
	m.acknowledged = false
	m.lastTransition = time.Now()

	slog.Info("alert level transition",
		"level", m.level.String(),
		"escalated", escalated,
		"perclos", fmt.Sprintf("%.3f", ev.PERCLOS),
	)

	m.setLed()
	if escalated {
		switch m.level {
		case types.LevelMild:
			m.say(mildWarningText)
		case types.LevelSevere:
			m.sayUrgent(severeWarningText)
		}
	}
	m.publishSnapshot()
}

// acknowledge mutes repeat warnings without changing the level.
func (m *Manager) acknowledge() {
	if m.level == types.LevelNormal || m.acknowledged {
		return
	}
	m.acknowledged = true
	slog.Info("alert acknowledged", "level", m.level.String())
	m.say(ackText)
	m.publishSnapshot()
}

// status speaks the current state. Read-only.
func (m *Manager) status() {
	if m.paused {
		m.say(statusPausedText)
		return
	}
	switch m.level {
	case types.LevelSevere:
		m.say(statusSevereText)
	case types.LevelMild:
		m.say(statusMildText)
	default:
		m.say(statusNormalText)
	}
}

// pause suspends monitoring. The level holds; the vision service stops
// publishing on the pause control event.
func (m *Manager) pause() {
	if m.paused {
		return
	}
	m.paused = true
	slog.Info("monitoring paused")
	m.eventBus.Publish(types.TopicControl, types.ControlEvent{
		Action:    types.ControlPause,
		Timestamp: time.Now(),
	})
	m.say(pausedText)
	m.publishSnapshot()
}

func (m *Manager) resume() {
	if !m.paused {
		return
	}
	m.paused = false
	slog.Info("monitoring resumed")
	m.eventBus.Publish(types.TopicControl, types.ControlEvent{
		Action:    types.ControlResume,
		Timestamp: time.Now(),
	})
	m.say(resumedText)
	m.setLed()
	m.publishSnapshot()
}

// shutdown broadcasts the stop signal and notifies the orchestrator. The
// bounded wait for services happens there, under the shutdown timeout.
func (m *Manager) shutdown() {
	m.shutdownOnce.Do(func() {
		slog.Info("shutdown requested by gesture")
		m.sayUrgent(shutdownText)
		m.eventBus.Publish(types.TopicControl, types.ControlEvent{
			Action:    types.ControlShutdown,
			Timestamp: time.Now(),
		})
		close(m.shutdownCh)
	})
}

func (m *Manager) setLed() {
	var pattern hardware.LedPattern
	var color hardware.Color
	switch m.level {
	case types.LevelSevere:
		pattern, color = hardware.PatternBreathe, hardware.ColorRed
	case types.LevelMild:
		pattern, color = hardware.PatternBlink, hardware.ColorYellow
	default:
		pattern, color = hardware.PatternSolid, hardware.ColorGreen
	}
	if err := m.led.SetLed(pattern, color); err != nil {
		slog.Error("failed to set led", "pattern", pattern.String(), "error", err)
	}
}

func (m *Manager) publishSnapshot() {
	m.eventBus.Publish(types.TopicAlert, types.AlertSnapshot{
		Level:          m.level,
		Acknowledged:   m.acknowledged,
		Paused:         m.paused,
		LastTransition: m.lastTransition,
	})
}

func (m *Manager) say(text string) {
	if err := m.speech.Say(text); err != nil {
		slog.Warn("failed to queue speech", "error", err)
	}
}

func (m *Manager) sayUrgent(text string) {
	if err := m.speech.SayUrgent(text); err != nil {
		slog.Warn("failed to queue urgent speech", "error", err)
	}
}

func (m *Manager) heartbeat() {
	m.eventBus.Publish(types.TopicHeartbeat, types.Heartbeat{
		ServiceID: ServiceID,
		Timestamp: time.Now(),
	})
}
