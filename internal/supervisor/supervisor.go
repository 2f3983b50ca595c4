// Package supervisor keeps the appliance services alive. Each service
// proves liveness with heartbeats on the bus; a silent or crashed service
// is restarted with exponential backoff until its retry budget runs out,
// after which it is marked fatal and the rest keep running degraded.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/e7canasta/vigil-mirror/internal/bus"
	"github.com/e7canasta/vigil-mirror/internal/config"
	"github.com/e7canasta/vigil-mirror/internal/hardware"
	"github.com/e7canasta/vigil-mirror/internal/types"
)

// Service is a supervised worker. Run blocks until the context is
// cancelled or the service decides to stop; a nil return is an intentional
// stop and is not restarted, an error return is a crash.
type Service interface {
	ID() string
	Run(ctx context.Context) error
}

// Speech is the urgent-notice slice of the playback queue.
type Speech interface {
	SayUrgent(text string) error
}

// Options tunes the watchdog. Core derives these from the configuration;
// tests shrink them to milliseconds.
type Options struct {
	HeartbeatInterval time.Duration // expected beat cadence per service
	SilenceFactor     int           // restart after factor × interval of silence
	MaxRetries        int           // consecutive failed restarts before fatal
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffFactor     float64
}

// OptionsFromConfig converts the second-granularity configuration.
func OptionsFromConfig(cfg config.SupervisorConfig) Options {
	return Options{
		HeartbeatInterval: cfg.HeartbeatInterval(),
		SilenceFactor:     cfg.SilenceFactor,
		MaxRetries:        cfg.MaxRetries,
		BackoffInitial:    cfg.BackoffInitial(),
		BackoffMax:        cfg.BackoffMax(),
		BackoffFactor:     cfg.BackoffFactor,
	}
}

// ServiceStatus is a point-in-time view of one supervised service.
type ServiceStatus struct {
	ID       string    `json:"id"`
	Running  bool      `json:"running"`
	Fatal    bool      `json:"fatal"`
	Stopped  bool      `json:"stopped"`
	Retries  int       `json:"retries"`
	LastBeat time.Time `json:"last_beat"`
}

type exit struct {
	id  string
	err error
}

type serviceState struct {
	svc       Service
	running   bool
	fatal     bool
	stopped   bool // intentional stop, no restart
	restartQ  bool // supervisor cancelled it for silence
	retries   int
	lastBeat  time.Time
	startedAt time.Time
	restartAt time.Time
	cancel    context.CancelFunc
}

// Supervisor runs and watches a fixed set of services.
type Supervisor struct {
	opts     Options
	eventBus *bus.Bus
	led      hardware.LedController
	speech   Speech

	states map[string]*serviceState
	exits  chan exit

	statusReq chan chan []ServiceStatus
}

// New creates a supervisor for the given services. Nothing starts until
// Run is called.
func New(opts Options, eventBus *bus.Bus, led hardware.LedController, speech Speech, services ...Service) *Supervisor {
	states := make(map[string]*serviceState, len(services))
	for _, svc := range services {
		states[svc.ID()] = &serviceState{svc: svc}
	}
	return &Supervisor{
		opts:      opts,
		eventBus:  eventBus,
		led:       led,
		speech:    speech,
		states:    states,
		exits:     make(chan exit, len(services)+1),
		statusReq: make(chan chan []ServiceStatus),
	}
}

// Status returns a snapshot of every supervised service. Safe from any
// goroutine while Run is active.
func (s *Supervisor) Status(ctx context.Context) ([]ServiceStatus, error) {
	reply := make(chan []ServiceStatus, 1)
	select {
	case s.statusReq <- reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run starts all services and supervises them until the context is
// cancelled. It always returns nil after teardown.
func (s *Supervisor) Run(ctx context.Context) error {
	beats, err := s.eventBus.Subscribe("supervisor", 32, types.TopicHeartbeat)
	if err != nil {
		return fmt.Errorf("supervisor: heartbeat subscription failed: %w", err)
	}
	defer s.eventBus.Unsubscribe("supervisor")

	now := time.Now()
	for _, st := range s.states {
		st.lastBeat = now
		s.start(ctx, st)
	}

	check := time.NewTicker(s.opts.HeartbeatInterval / 2)
	defer check.Stop()

	silenceLimit := time.Duration(s.opts.SilenceFactor) * s.opts.HeartbeatInterval

	for {
		select {
		case <-ctx.Done():
			s.drainExits()
			return nil

		case ev := <-beats:
			beat, ok := ev.Payload.(types.Heartbeat)
			if !ok {
				continue
			}
			if st, ok := s.states[beat.ServiceID]; ok {
				st.lastBeat = beat.Timestamp
				// The budget refills only once the service has stayed up
				// past the silence window, so a crash loop that manages a
				// single beat per attempt still exhausts its retries.
				if st.running && time.Since(st.startedAt) > silenceLimit {
					st.retries = 0
				}
			}

		case e := <-s.exits:
			s.onExit(ctx, e)

		case <-check.C:
			now := time.Now()
			for id, st := range s.states {
				if st.fatal || st.stopped {
					continue
				}
				if st.running {
					if now.Sub(st.lastBeat) > silenceLimit {
						slog.Warn("service heartbeat silence, restarting",
							"service", id,
							"silence", now.Sub(st.lastBeat).Round(time.Millisecond),
						)
						st.restartQ = true
						st.cancel()
					}
					continue
				}
				if !st.restartAt.IsZero() && now.After(st.restartAt) {
					st.restartAt = time.Time{}
					st.lastBeat = now
					s.start(ctx, st)
				}
			}

		case reply := <-s.statusReq:
			reply <- s.snapshot()
		}
	}
}

func (s *Supervisor) start(ctx context.Context, st *serviceState) {
	runCtx, cancel := context.WithCancel(ctx)
	st.cancel = cancel
	st.running = true
	st.restartQ = false
	st.startedAt = time.Now()

	id := st.svc.ID()
	slog.Info("starting service", "service", id, "retries", st.retries)

	go func() {
		err := st.svc.Run(runCtx)
		cancel()
		s.exits <- exit{id: id, err: err}
	}()
}

func (s *Supervisor) onExit(ctx context.Context, e exit) {
	st, ok := s.states[e.id]
	if !ok {
		return
	}
	st.running = false

	if ctx.Err() != nil {
		return
	}

	if e.err == nil && !st.restartQ {
		// The service chose to stop. Shutdown control does this.
		slog.Info("service stopped", "service", e.id)
		st.stopped = true
		return
	}

	st.retries++
	if st.retries > s.opts.MaxRetries {
		s.markFatal(st, e.err)
		return
	}

	backoff := s.backoff(st.retries)
	st.restartAt = time.Now().Add(backoff)
	slog.Warn("service down, restart scheduled",
		"service", e.id,
		"error", e.err,
		"retry", st.retries,
		"backoff", backoff.Round(time.Millisecond),
	)
}

// markFatal disables the service for good: LED error pattern plus a
// one-time spoken notice, while the remaining services keep running.
func (s *Supervisor) markFatal(st *serviceState, err error) {
	st.fatal = true
	id := st.svc.ID()
	slog.Error("service retry budget exhausted, entering degraded mode",
		"service", id, "error", err, "retries", st.retries)

	if ledErr := s.led.SetLed(hardware.PatternOff, hardware.ColorOff); ledErr != nil {
		slog.Error("failed to set fatal led pattern", "error", ledErr)
	}
	notice := fmt.Sprintf("The %s service has failed and has been disabled.", id)
	if sayErr := s.speech.SayUrgent(notice); sayErr != nil {
		slog.Warn("failed to queue fatal notice", "error", sayErr)
	}
}

func (s *Supervisor) backoff(retries int) time.Duration {
	d := time.Duration(float64(s.opts.BackoffInitial) * math.Pow(s.opts.BackoffFactor, float64(retries-1)))
	if d > s.opts.BackoffMax {
		d = s.opts.BackoffMax
	}
	return d
}

func (s *Supervisor) snapshot() []ServiceStatus {
	out := make([]ServiceStatus, 0, len(s.states))
	for id, st := range s.states {
		out = append(out, ServiceStatus{
			ID:       id,
			Running:  st.running,
			Fatal:    st.fatal,
			Stopped:  st.stopped,
			Retries:  st.retries,
			LastBeat: st.lastBeat,
		})
	}
	return out
}

// drainExits collects stragglers during teardown so service goroutines
// never block on the exit channel.
func (s *Supervisor) drainExits() {
	deadline := time.After(5 * time.Second)
	remaining := 0
	for _, st := range s.states {
		if st.running {
			remaining++
		}
	}
	for remaining > 0 {
		select {
		case <-s.exits:
			remaining--
		case <-deadline:
			return
		}
	}
}
