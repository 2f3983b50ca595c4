package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// V4L2Config contains configuration for local camera capture.
type V4L2Config struct {
	// Device is the V4L2 device path, e.g. /dev/video0.
	Device string
	Width  int
	Height int
	// TargetFPS caps the delivery rate; the sensor may run faster.
	TargetFPS float64
}

// V4L2Stream implements Provider using a GStreamer v4l2src pipeline.
//
// Pipeline structure:
//
//	v4l2src → videoconvert → videoscale → videorate → capsfilter(RGB) → appsink
type V4L2Stream struct {
	device    string
	width     int
	height    int
	targetFPS float64

	pipeline *gst.Pipeline
	appsink  *app.Sink

	frames chan Frame
	cancel context.CancelFunc
	wg     sync.WaitGroup

	frameCount    uint64
	framesDropped uint64
	started       time.Time

	mu        sync.Mutex
	isRunning bool
	closed    atomic.Bool
}

// NewV4L2Stream creates a camera stream with fail-fast validation.
func NewV4L2Stream(cfg V4L2Config) (*V4L2Stream, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("capture: device path is required")
	}
	if cfg.TargetFPS < 0.1 || cfg.TargetFPS > 60 {
		return nil, fmt.Errorf("capture: invalid FPS %.2f (must be 0.1-60)", cfg.TargetFPS)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("capture: invalid resolution %dx%d", cfg.Width, cfg.Height)
	}

	return &V4L2Stream{
		device:    cfg.Device,
		width:     cfg.Width,
		height:    cfg.Height,
		targetFPS: cfg.TargetFPS,
		frames:    make(chan Frame, 5),
	}, nil
}

// Start builds the pipeline, moves it to PLAYING and returns the frame
// channel. A camera that cannot be opened is a hard error: the owning
// service reports it and lets the supervisor restart with backoff.
func (s *V4L2Stream) Start(ctx context.Context) (<-chan Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil, fmt.Errorf("capture: stream already running")
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("capture: failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, fmt.Errorf("capture: failed to create v4l2src: %w", err)
	}
	src.SetProperty("device", s.device)

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("capture: failed to create videoconvert: %w", err)
	}

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("capture: failed to create videoscale: %w", err)
	}

	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("capture: failed to create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)
	videorate.SetProperty("skip-to-first", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("capture: failed to create capsfilter: %w", err)
	}
	capsStr := fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d,framerate=%s",
		s.width, s.height, fpsToFraction(s.targetFPS))
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("capture: failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1) // keep only the latest frame
	appsink.SetProperty("drop", true)

	if err := pipeline.AddMany(src, converter, scaler, videorate, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("capture: failed to assemble pipeline: %w", err)
	}
	if err := gst.ElementLinkMany(src, converter, scaler, videorate, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("capture: failed to link pipeline: %w", err)
	}

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("capture: failed to open camera %s: %w", s.device, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.pipeline = pipeline
	s.appsink = appsink
	s.cancel = cancel
	s.isRunning = true
	s.started = time.Now()

	s.wg.Add(1)
	go s.monitorPipeline(runCtx)

	slog.Info("camera stream started",
		"device", s.device,
		"resolution", fmt.Sprintf("%dx%d", s.width, s.height),
		"target_fps", s.targetFPS,
	)

	return s.frames, nil
}

// onNewSample copies the appsink buffer into a Frame and hands it to the
// channel, dropping when the consumer lags.
func (s *V4L2Stream) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		// A single corrupt sample must not kill the pipeline.
		slog.Warn("capture: failed to pull sample, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("capture: sample without buffer, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}

	// Copy out: GStreamer reuses the buffer after Unmap.
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	frame := Frame{
		Seq:       atomic.AddUint64(&s.frameCount, 1),
		Timestamp: time.Now(),
		Width:     s.width,
		Height:    s.height,
		Data:      frameData,
		TraceID:   uuid.New().String(),
	}

	if s.closed.Load() {
		return gst.FlowEOS
	}

	select {
	case s.frames <- frame:
	default:
		atomic.AddUint64(&s.framesDropped, 1)
	}
	return gst.FlowOK
}

// monitorPipeline watches the GStreamer bus for errors and EOS.
func (s *V4L2Stream) monitorPipeline(ctx context.Context) {
	defer s.wg.Done()

	gstBus := s.pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := gstBus.TimedPop(500 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("capture: pipeline error", "error", gerr.Error())
		case gst.MessageEOS:
			slog.Warn("capture: end of stream from camera")
			return
		}
	}
}

// Stop releases the camera. Idempotent.
func (s *V4L2Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}
	s.isRunning = false

	s.closed.Store(true)
	s.cancel()
	s.wg.Wait()

	if err := s.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("capture: failed to stop pipeline: %w", err)
	}
	close(s.frames)

	slog.Info("camera stream stopped",
		"frames", atomic.LoadUint64(&s.frameCount),
		"dropped", atomic.LoadUint64(&s.framesDropped),
	)
	return nil
}

// Stats implements Provider.
func (s *V4L2Stream) Stats() Stats {
	s.mu.Lock()
	running := s.isRunning
	started := s.started
	s.mu.Unlock()

	count := atomic.LoadUint64(&s.frameCount)
	var fpsReal float64
	if running && count > 0 {
		if elapsed := time.Since(started).Seconds(); elapsed > 0 {
			fpsReal = float64(count) / elapsed
		}
	}

	return Stats{
		FrameCount:    count,
		FramesDropped: atomic.LoadUint64(&s.framesDropped),
		FPSTarget:     s.targetFPS,
		FPSReal:       fpsReal,
		IsConnected:   running,
	}
}

// fpsToFraction renders an FPS value as a GStreamer framerate fraction.
func fpsToFraction(fps float64) string {
	if fps == float64(int(fps)) {
		return fmt.Sprintf("%d/1", int(fps))
	}
	// Sub-1 and fractional rates map to a /100 fraction (e.g. 0.5 → 50/100).
	return fmt.Sprintf("%d/100", int(fps*100))
}
