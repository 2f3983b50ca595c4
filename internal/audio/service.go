package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/vigil-mirror/internal/bus"
	"github.com/e7canasta/vigil-mirror/internal/config"
	"github.com/e7canasta/vigil-mirror/internal/types"
)

// ServiceID is the audio service identifier on the heartbeat topic.
const ServiceID = "audio"

// promptText is spoken when the wake word is detected, signalling that the
// listening window is open.
const promptText = "Yes?"

// unrecognizedText is spoken when a transcript matches no known command.
const unrecognizedText = "Sorry, I didn't catch that."

// minWakeThreshold is the floor of the detection threshold. Maximum
// sensitivity must not push the threshold to zero, which would wake on
// every chunk.
const minWakeThreshold = 0.05

// SourceFactory creates a fresh microphone source for each service run.
type SourceFactory func() (Source, error)

// Service is the voice pipeline worker. It scans for the wake word in
// IDLE, opens a hard-bounded listening window on detection, and publishes
// the resulting VoiceCommand. Monitoring pause does not affect it: the
// microphone keeps scanning so a resume command can still be heard.
type Service struct {
	cfg        config.AudioConfig
	hbInterval time.Duration
	eventBus   *bus.Bus
	newSource  SourceFactory
	wake       WakeDetector
	stt        Transcriber
	speaker    *Speaker
}

// NewService wires the audio pipeline. The speaker is shared with the
// alert manager and runs its own playback loop.
func NewService(
	cfg config.AudioConfig,
	hbInterval time.Duration,
	eventBus *bus.Bus,
	factory SourceFactory,
	wake WakeDetector,
	stt Transcriber,
	speaker *Speaker,
) *Service {
	return &Service{
		cfg:        cfg,
		hbInterval: hbInterval,
		eventBus:   eventBus,
		newSource:  factory,
		wake:       wake,
		stt:        stt,
		speaker:    speaker,
	}
}

// ID implements the supervised service contract.
func (s *Service) ID() string { return ServiceID }

// session is one LISTENING window. Its context carries the hard timeout,
// so the transcriber always returns and the machine always reaches IDLE.
type session struct {
	cancel context.CancelFunc
	chunks chan Chunk
	result chan sessionResult
}

type sessionResult struct {
	transcript string
	err        error
}

// Run executes the wake-scan loop until the context is cancelled or a
// shutdown control event arrives. A microphone that cannot be opened is
// fatal and propagates to the supervisor.
func (s *Service) Run(ctx context.Context) error {
	source, err := s.newSource()
	if err != nil {
		return fmt.Errorf("audio: microphone unavailable: %w", err)
	}
	chunks, err := source.Start(ctx)
	if err != nil {
		return fmt.Errorf("audio: failed to start capture: %w", err)
	}
	defer source.Stop()

	ctrl, err := s.eventBus.Subscribe(ServiceID+"-ctrl", 4, types.TopicControl)
	if err != nil {
		return fmt.Errorf("audio: control subscription failed: %w", err)
	}
	defer s.eventBus.Unsubscribe(ServiceID + "-ctrl")

	hb := time.NewTicker(s.hbInterval)
	defer hb.Stop()

	s.heartbeat()
	slog.Info("audio service running",
		"wake_word", s.cfg.WakeWord,
		"sensitivity", s.cfg.Sensitivity,
		"listen_timeout_s", s.cfg.ListenTimeoutS,
	)

	// Detection threshold: higher sensitivity accepts lower confidence.
	threshold := 1.0 - s.cfg.Sensitivity
	if threshold < minWakeThreshold {
		threshold = minWakeThreshold
	}

	var sess *session
	var resultCh chan sessionResult

	endSession := func() {
		sess.cancel()
		sess = nil
		resultCh = nil
	}
	defer func() {
		if sess != nil {
			endSession()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-hb.C:
			s.heartbeat()

		case ev := <-ctrl:
			ce, ok := ev.Payload.(types.ControlEvent)
			if !ok {
				continue
			}
			if ce.Action == types.ControlShutdown {
				slog.Info("audio service stopping on shutdown signal")
				return nil
			}

		case res := <-resultCh:
			endSession()
			s.finishListening(res)

		case chunk, ok := <-chunks:
			if !ok {
				return errors.New("audio: microphone stream ended unexpectedly")
			}
			if sess != nil {
				// Forward into the listening window. Dropping under
				// backpressure beats stalling the microphone.
				select {
				case sess.chunks <- chunk:
				default:
				}
				continue
			}

			confidence, err := s.wake.Process(chunk)
			if err != nil {
				slog.Debug("wake detection failed", "error", err)
				continue
			}
			if confidence >= threshold {
				slog.Info("wake word detected", "confidence", fmt.Sprintf("%.2f", confidence))
				sess = s.startListening(ctx)
				resultCh = sess.result
			}
		}
	}
}

// startListening opens the LISTENING window: prompt the user, then run the
// transcriber against forwarded chunks under the hard timeout.
func (s *Service) startListening(ctx context.Context) *session {
	if err := s.speaker.Say(promptText); err != nil {
		slog.Warn("failed to queue listen prompt", "error", err)
	}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.ListenTimeout())
	sess := &session{
		cancel: cancel,
		chunks: make(chan Chunk, 16),
		result: make(chan sessionResult, 1),
	}

	go func() {
		transcript, err := s.stt.Transcribe(sctx, sess.chunks)
		sess.result <- sessionResult{transcript: transcript, err: err}
	}()
	return sess
}

// finishListening processes the transcription outcome and returns the
// machine to IDLE.
func (s *Service) finishListening(res sessionResult) {
	if res.err != nil && res.transcript == "" {
		slog.Debug("listening window ended without speech", "error", res.err)
		return
	}
	if res.transcript == "" {
		return
	}

	intent := ParseIntent(res.transcript)
	slog.Info("voice command", "intent", intent.String(), "transcript", res.transcript)

	s.eventBus.Publish(types.TopicVoice, types.VoiceCommand{
		Intent:     intent,
		Transcript: res.transcript,
		Timestamp:  time.Now(),
	})

	if intent == types.IntentUnrecognized {
		if err := s.speaker.Say(unrecognizedText); err != nil {
			slog.Warn("failed to queue reply", "error", err)
		}
	}
}

func (s *Service) heartbeat() {
	s.eventBus.Publish(types.TopicHeartbeat, types.Heartbeat{
		ServiceID: ServiceID,
		Timestamp: time.Now(),
	})
}
