package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStream generates synthetic frames for tests and for running on a
// machine without a camera.
type MockStream struct {
	width  int
	height int
	fps    int

	frames chan Frame
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu            sync.RWMutex
	seq           uint64
	framesEmitted uint64
	isRunning     bool
	startTime     time.Time
}

// NewMockStream creates a mock frame source.
func NewMockStream(width, height, fps int) *MockStream {
	return &MockStream{
		width:  width,
		height: height,
		fps:    fps,
		frames: make(chan Frame, 5),
		stopCh: make(chan struct{}),
	}
}

// Start begins generating black RGB frames at the target rate.
func (m *MockStream) Start(ctx context.Context) (<-chan Frame, error) {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return nil, fmt.Errorf("capture: mock stream already running")
	}
	m.isRunning = true
	m.startTime = time.Now()
	m.mu.Unlock()

	slog.Debug("mock stream starting", "width", m.width, "height", m.height, "fps", m.fps)

	m.wg.Add(1)
	go m.generateFrames(ctx)
	return m.frames, nil
}

// Stop stops the generator. Idempotent.
func (m *MockStream) Stop() error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.isRunning = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	close(m.frames)
	return nil
}

// Stats implements Provider.
func (m *MockStream) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var fpsReal float64
	if m.isRunning && m.framesEmitted > 0 {
		if elapsed := time.Since(m.startTime).Seconds(); elapsed > 0 {
			fpsReal = float64(m.framesEmitted) / elapsed
		}
	}
	return Stats{
		FrameCount:  m.framesEmitted,
		FPSTarget:   float64(m.fps),
		FPSReal:     fpsReal,
		IsConnected: m.isRunning,
	}
}

func (m *MockStream) generateFrames(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(m.fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			frame := m.createFrame()
			select {
			case m.frames <- frame:
				m.mu.Lock()
				m.framesEmitted++
				m.mu.Unlock()
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			}
		}
	}
}

func (m *MockStream) createFrame() Frame {
	m.mu.Lock()
	seq := m.seq
	m.seq++
	m.mu.Unlock()

	return Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     m.width,
		Height:    m.height,
		Data:      make([]byte, m.width*m.height*3),
		TraceID:   uuid.New().String(),
	}
}
