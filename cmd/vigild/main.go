package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/e7canasta/vigil-mirror/internal/audio"
	"github.com/e7canasta/vigil-mirror/internal/capture"
	"github.com/e7canasta/vigil-mirror/internal/config"
	"github.com/e7canasta/vigil-mirror/internal/core"
	"github.com/e7canasta/vigil-mirror/internal/hardware"
	"github.com/e7canasta/vigil-mirror/internal/vision"
)

const defaultConfigPath = "config/vigil.yaml"

// selfTestPhrase is what --test-audio speaks.
const selfTestPhrase = "Vigil mirror audio check. One, two, three."

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	testHardware := flag.Bool("test-hardware", false, "Cycle LED patterns and exit")
	testAudio := flag.Bool("test-audio", false, "Speak a fixed phrase and exit")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Self-test modes run against defaults and skip the bus and alert
	// machinery entirely.
	if *testHardware {
		os.Exit(runHardwareTest())
	}
	if *testAudio {
		os.Exit(runAudioTest())
	}

	slog.Info("starting vigil mirror", "config", *configPath, "debug", *debug)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backends, cleanup, err := buildBackends(ctx, cfg)
	if err != nil {
		slog.Error("failed to build backends", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	vigil := core.New(cfg, backends)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- vigil.Run(ctx)
	}()

	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig.String())
		cancel()
		runErr = <-errChan
	case runErr = <-errChan:
	}

	if runErr != nil {
		slog.Error("service stopped with error", "error", runErr)
		os.Exit(1)
	}
	slog.Info("vigil mirror stopped")
}

// buildBackends picks real devices where configured and simulated ones
// otherwise, so the appliance runs on a dev machine with no camera, mic
// or GPIO attached.
func buildBackends(ctx context.Context, cfg *config.Config) (core.Backends, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	b := core.Backends{}

	if cfg.Vision.Device == "mock" {
		b.Camera = func() (capture.Provider, error) {
			return capture.NewMockStream(cfg.Vision.Width, cfg.Vision.Height, cfg.Vision.FPS), nil
		}
	} else {
		b.Camera = func() (capture.Provider, error) {
			return capture.NewV4L2Stream(capture.V4L2Config{
				Device:    cfg.Vision.Device,
				Width:     cfg.Vision.Width,
				Height:    cfg.Vision.Height,
				TargetFPS: float64(cfg.Vision.FPS),
			})
		}
	}

	if cfg.Vision.ModelWorker != "" {
		worker, err := vision.NewModelWorker(ctx, cfg.Vision.ModelWorker)
		if err != nil {
			cleanup()
			return core.Backends{}, nil, err
		}
		closers = append(closers, func() { worker.Close() })
		b.Detector = worker
		b.Extractor = worker
	} else {
		slog.Warn("no model worker configured, face detection disabled")
		null := nullFaceBackend{}
		b.Detector = null
		b.Extractor = null
	}

	if cfg.Audio.Device == "mock" {
		b.Microphone = func() (audio.Source, error) {
			return audio.NewMockSource(cfg.Audio.SampleRate, cfg.Audio.FrameLength), nil
		}
	} else {
		b.Microphone = func() (audio.Source, error) {
			return audio.NewALSASource(cfg.Audio.Device, cfg.Audio.SampleRate, cfg.Audio.FrameLength), nil
		}
	}

	wake, err := audio.NewKeywordWake(ctx, cfg.Audio.WakeWord, cfg.Audio.SampleRate)
	if err != nil {
		slog.Warn("keyword spotter unavailable, wake word disabled", "error", err)
		b.Wake = nullWake{}
	} else {
		closers = append(closers, func() { wake.Close() })
		b.Wake = wake
	}
	b.Transcriber = audio.NewSphinxTranscriber(cfg.Audio.SampleRate)

	synth, err := audio.NewExecSynthesizer(cfg.Audio.TTSEngine)
	if err != nil {
		cleanup()
		return core.Backends{}, nil, err
	}
	b.Synthesizer = synth

	// The GPIO wrapper is an external collaborator; the simulated adapter
	// stands in when the appliance runs without one.
	sim := hardware.NewSimulated()
	closers = append(closers, sim.Close)
	b.Led = sim
	b.Buttons = sim

	return b, cleanup, nil
}

// nullFaceBackend reports no face, keeping the vision loop alive when no
// model helper is configured.
type nullFaceBackend struct{}

func (nullFaceBackend) DetectLargest(capture.Frame) (vision.Box, bool, error) {
	return vision.Box{}, false, nil
}

func (nullFaceBackend) Extract(capture.Frame, vision.Box) (vision.LandmarkSet, error) {
	return nil, errors.New("no landmark backend configured")
}

// nullWake never triggers.
type nullWake struct{}

func (nullWake) Process(audio.Chunk) (float64, error) { return 0, nil }

func runHardwareTest() int {
	slog.Info("hardware self-test starting")
	sim := hardware.NewSimulated()
	defer sim.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := hardware.SelfTest(ctx, sim, time.Second); err != nil {
		slog.Error("hardware self-test failed", "error", err)
		return 1
	}
	slog.Info("hardware self-test complete", "steps", len(sim.History()))
	return 0
}

func runAudioTest() int {
	slog.Info("audio self-test starting")
	cfg := config.Default()

	synth, err := audio.NewExecSynthesizer(cfg.Audio.TTSEngine)
	if err != nil {
		slog.Error("audio self-test failed", "error", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := synth.Speak(ctx, selfTestPhrase); err != nil {
		slog.Error("audio self-test failed", "error", err)
		return 1
	}
	slog.Info("audio self-test complete")
	return 0
}
