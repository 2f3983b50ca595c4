// Package vision turns camera frames into a fatigue signal.
//
// The service runs an acquisition-and-analysis loop: face detection,
// landmark extraction, EAR/MAR metrics, a trailing PERCLOS window and a
// hysteresis level mapper. It publishes FatigueEvents on the bus only on
// level changes or at a slow heartbeat cadence, never per frame.
package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/vigil-mirror/internal/bus"
	"github.com/e7canasta/vigil-mirror/internal/capture"
	"github.com/e7canasta/vigil-mirror/internal/config"
	"github.com/e7canasta/vigil-mirror/internal/types"
)

// ServiceID is the vision service identifier on the heartbeat topic.
const ServiceID = "vision"

// faceNotFoundInterval bounds how often the no-face status is published.
const faceNotFoundInterval = 2 * time.Second

// ProviderFactory creates a fresh camera provider for each service run, so
// a supervisor restart reacquires the device from scratch.
type ProviderFactory func() (capture.Provider, error)

// Service is the vision pipeline worker.
type Service struct {
	cfg         config.VisionConfig
	hbInterval  time.Duration
	eventBus    *bus.Bus
	newProvider ProviderFactory
	detector    FaceDetector
	extractor   LandmarkExtractor
}

// NewService wires the vision pipeline. The detector and extractor are
// external model backends; the provider factory owns camera acquisition.
func NewService(
	cfg config.VisionConfig,
	hbInterval time.Duration,
	eventBus *bus.Bus,
	factory ProviderFactory,
	detector FaceDetector,
	extractor LandmarkExtractor,
) *Service {
	return &Service{
		cfg:         cfg,
		hbInterval:  hbInterval,
		eventBus:    eventBus,
		newProvider: factory,
		detector:    detector,
		extractor:   extractor,
	}
}

// ID implements the supervised service contract.
func (s *Service) ID() string { return ServiceID }

// runState is the per-run analysis state, rebuilt on every (re)start.
type runState struct {
	window     *FatigueWindow
	yawns      *YawnCounter
	mapper     *LevelMapper
	frameCount uint64
	detectMiss uint64
	closedRun  int
	blinkCount uint64
	lastEvent  types.FatigueEvent
	published  bool
	paused     bool
	lastNoFace time.Time
}

// Run executes the acquisition loop until the context is cancelled or a
// shutdown control event arrives. A camera that cannot be opened is fatal:
// the error propagates to the supervisor, which restarts with backoff.
func (s *Service) Run(ctx context.Context) error {
	provider, err := s.newProvider()
	if err != nil {
		return fmt.Errorf("vision: camera unavailable: %w", err)
	}
	frames, err := provider.Start(ctx)
	if err != nil {
		return fmt.Errorf("vision: failed to start capture: %w", err)
	}
	defer provider.Stop()

	ctrl, err := s.eventBus.Subscribe(ServiceID+"-ctrl", 4, types.TopicControl)
	if err != nil {
		return fmt.Errorf("vision: control subscription failed: %w", err)
	}
	defer s.eventBus.Unsubscribe(ServiceID + "-ctrl")

	st := &runState{
		window: NewFatigueWindow(s.cfg.Fatigue.PerclosWindow()),
		yawns:  NewYawnCounter(),
		mapper: NewLevelMapper(s.cfg.Fatigue),
	}

	hb := time.NewTicker(s.hbInterval)
	defer hb.Stop()
	signalHB := time.NewTicker(s.cfg.Fatigue.HeartbeatInterval())
	defer signalHB.Stop()

	s.heartbeat()
	slog.Info("vision service running",
		"fps", s.cfg.FPS,
		"frame_skip", s.cfg.FrameSkip,
		"perclos_window_s", s.cfg.Fatigue.PerclosWindowS,
	)

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-hb.C:
			s.heartbeat()

		case <-signalHB.C:
			// Periodic re-publish keeps late subscribers current.
			if !st.paused && st.published {
				s.eventBus.Publish(types.TopicFatigue, st.lastEvent)
			}

		case ev := <-ctrl:
			ce, ok := ev.Payload.(types.ControlEvent)
			if !ok {
				continue
			}
			switch ce.Action {
			case types.ControlPause:
				if !st.paused {
					st.paused = true
					slog.Info("vision processing paused")
				}
			case types.ControlResume:
				if st.paused {
					st.paused = false
					slog.Info("vision processing resumed")
				}
			case types.ControlShutdown:
				slog.Info("vision service stopping on shutdown signal")
				return nil
			}

		case frame, ok := <-frames:
			if !ok {
				return errors.New("vision: camera stream ended unexpectedly")
			}
			if st.paused {
				continue
			}
			st.frameCount++
			if st.frameCount%uint64(s.cfg.FrameSkip) != 0 {
				continue
			}
			s.processFrame(st, frame)
		}
	}
}

// processFrame runs detection and metric extraction for one frame. Every
// failure in here is transient: log and move on, the loop never stops.
func (s *Service) processFrame(st *runState, frame capture.Frame) {
	box, found, err := s.detector.DetectLargest(frame)
	if err != nil {
		st.detectMiss++
		slog.Debug("face detection failed", "trace_id", frame.TraceID, "error", err)
		return
	}
	if !found {
		s.publishFaceNotFound(st, frame.Timestamp)
		return
	}

	landmarks, err := s.extractor.Extract(frame, box)
	if err != nil || !landmarks.Valid() {
		st.detectMiss++
		slog.Debug("landmark extraction failed", "trace_id", frame.TraceID, "error", err)
		return
	}

	ear := (EyeAspectRatio(landmarks.LeftEye()) + EyeAspectRatio(landmarks.RightEye())) / 2.0
	mar := MouthAspectRatio(landmarks.Mouth())

	st.window.Add(FatigueSample{Timestamp: frame.Timestamp, EAR: ear, MAR: mar})

	// Blink: a run of closed frames long enough, ended by an open frame.
	if ear < s.cfg.Fatigue.EARThreshold {
		st.closedRun++
	} else {
		if st.closedRun >= s.cfg.Fatigue.EARConsecFrames {
			st.blinkCount++
		}
		st.closedRun = 0
	}

	perclos := st.window.PERCLOS(s.cfg.Fatigue.EARThreshold)
	yawnsPerMin := st.yawns.Observe(mar, s.cfg.Fatigue.MARThreshold, frame.Timestamp)

	prev := st.mapper.Current()
	level := st.mapper.Update(perclos, yawnsPerMin)

	event := types.FatigueEvent{
		Level:        level,
		Score:        perclos,
		EAR:          ear,
		MAR:          mar,
		PERCLOS:      perclos,
		YawnsPerMin:  yawnsPerMin,
		BlinkCount:   st.blinkCount,
		FaceDetected: true,
		Timestamp:    frame.Timestamp,
	}
	st.lastEvent = event

	if level != prev || !st.published {
		st.published = true
		s.eventBus.Publish(types.TopicFatigue, event)
		slog.Info("fatigue level changed",
			"from", prev.String(),
			"to", level.String(),
			"perclos", fmt.Sprintf("%.3f", perclos),
			"yawns_per_min", yawnsPerMin,
		)
	}
}

// publishFaceNotFound emits the no-face status at reduced frequency. An
// absent face is a normal operating mode, not an error.
func (s *Service) publishFaceNotFound(st *runState, ts time.Time) {
	if ts.Sub(st.lastNoFace) < faceNotFoundInterval {
		return
	}
	st.lastNoFace = ts
	s.eventBus.Publish(types.TopicFatigue, types.FatigueEvent{
		Level:        st.mapper.Current(),
		FaceDetected: false,
		Timestamp:    ts,
	})
}

func (s *Service) heartbeat() {
	s.eventBus.Publish(types.TopicHeartbeat, types.Heartbeat{
		ServiceID: ServiceID,
		Timestamp: time.Now(),
	})
}
