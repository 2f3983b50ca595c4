package audio

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockSource generates silent chunks at the configured cadence and lets
// callers inject scripted chunks, for tests and machines without a
// microphone.
type MockSource struct {
	sampleRate  int
	frameLength int

	chunks chan Chunk
	inject chan Chunk
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	isRunning bool
}

// NewMockSource creates a mock microphone.
func NewMockSource(sampleRate, frameLength int) *MockSource {
	return &MockSource{
		sampleRate:  sampleRate,
		frameLength: frameLength,
		chunks:      make(chan Chunk, 8),
		inject:      make(chan Chunk, 8),
		stopCh:      make(chan struct{}),
	}
}

// Inject queues a scripted chunk ahead of the generated silence.
func (m *MockSource) Inject(c Chunk) {
	select {
	case m.inject <- c:
	case <-m.stopCh:
	}
}

// Start begins emitting chunks. Injected chunks take priority over the
// generated silence.
func (m *MockSource) Start(ctx context.Context) (<-chan Chunk, error) {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return nil, fmt.Errorf("audio: mock source already running")
	}
	m.isRunning = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.generate(ctx)
	return m.chunks, nil
}

// Stop stops the generator. Idempotent.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.isRunning = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	close(m.chunks)
	return nil
}

func (m *MockSource) generate(ctx context.Context) {
	defer m.wg.Done()

	interval := time.Duration(m.frameLength) * time.Second / time.Duration(m.sampleRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var out Chunk
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case out = <-m.inject:
		case <-ticker.C:
			out = Chunk{Samples: make([]int16, m.frameLength), Timestamp: time.Now()}
		}

		select {
		case m.chunks <- out:
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		}
	}
}
