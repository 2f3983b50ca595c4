package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// ALSASource captures microphone audio through a GStreamer pipeline:
// alsasrc ! audioconvert ! audioresample ! capsfilter ! appsink, producing
// S16LE mono chunks at the configured rate.
type ALSASource struct {
	device      string
	sampleRate  int
	frameLength int

	mu        sync.Mutex
	isRunning bool
	pipeline  *gst.Pipeline
	appsink   *app.Sink
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	chunks  chan Chunk
	pending []int16
	closed  atomic.Bool
	dropped uint64
}

// NewALSASource creates a microphone source for the given ALSA device
// (e.g. "default" or "hw:1,0").
func NewALSASource(device string, sampleRate, frameLength int) *ALSASource {
	return &ALSASource{
		device:      device,
		sampleRate:  sampleRate,
		frameLength: frameLength,
		chunks:      make(chan Chunk, 16),
	}
}

// Start implements Source.
func (s *ALSASource) Start(ctx context.Context) (<-chan Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil, fmt.Errorf("audio: microphone already running")
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("audio: failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement("alsasrc")
	if err != nil {
		return nil, fmt.Errorf("audio: failed to create alsasrc: %w", err)
	}
	src.SetProperty("device", s.device)

	converter, err := gst.NewElement("audioconvert")
	if err != nil {
		return nil, fmt.Errorf("audio: failed to create audioconvert: %w", err)
	}

	resampler, err := gst.NewElement("audioresample")
	if err != nil {
		return nil, fmt.Errorf("audio: failed to create audioresample: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("audio: failed to create capsfilter: %w", err)
	}
	capsStr := fmt.Sprintf("audio/x-raw,format=S16LE,channels=1,rate=%d", s.sampleRate)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("audio: failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)

	if err := pipeline.AddMany(src, converter, resampler, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("audio: failed to assemble pipeline: %w", err)
	}
	if err := gst.ElementLinkMany(src, converter, resampler, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("audio: failed to link pipeline: %w", err)
	}

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("audio: failed to open microphone %s: %w", s.device, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.pipeline = pipeline
	s.appsink = appsink
	s.cancel = cancel
	s.isRunning = true

	s.wg.Add(1)
	go s.monitorPipeline(runCtx)

	slog.Info("microphone started",
		"device", s.device,
		"sample_rate", s.sampleRate,
		"frame_length", s.frameLength,
	)

	return s.chunks, nil
}

// onNewSample reslices incoming PCM into fixed-length chunks. Partial
// tails carry over to the next sample.
func (s *ALSASource) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("audio: failed to pull sample, skipping")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("audio: sample without buffer, skipping")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	for i := 0; i+1 < len(data); i += 2 {
		s.pending = append(s.pending, int16(binary.LittleEndian.Uint16(data[i:])))
	}
	buffer.Unmap()

	if s.closed.Load() {
		return gst.FlowEOS
	}

	for len(s.pending) >= s.frameLength {
		samples := make([]int16, s.frameLength)
		copy(samples, s.pending[:s.frameLength])
		s.pending = s.pending[s.frameLength:]

		select {
		case s.chunks <- Chunk{Samples: samples, Timestamp: time.Now()}:
		default:
			atomic.AddUint64(&s.dropped, 1)
		}
	}
	return gst.FlowOK
}

// monitorPipeline watches the GStreamer bus for errors and EOS.
func (s *ALSASource) monitorPipeline(ctx context.Context) {
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
			slog.Error("audio: pipeline error", "error", gerr.Error())
		case gst.MessageEOS:
			slog.Warn("audio: end of stream from microphone")
			return
		}
	}
}

// Stop releases the microphone. Idempotent.
func (s *ALSASource) Stop() error {
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
		return fmt.Errorf("audio: failed to stop pipeline: %w", err)
	}
	close(s.chunks)

	slog.Info("microphone stopped", "dropped", atomic.LoadUint64(&s.dropped))
	return nil
}
