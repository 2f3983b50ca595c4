package hardware

import (
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/vigil-mirror/internal/types"
)

// Simulated is an in-memory LED/button implementation. It backs the test
// suites and the self-test CLI mode, and doubles as the fallback when the
// appliance runs on a machine without GPIO.
type Simulated struct {
	mu       sync.Mutex
	pattern  LedPattern
	color    Color
	history  []LedState
	gestures chan types.ButtonGesture
	closed   bool
}

// LedState is one recorded LED command.
type LedState struct {
	Pattern LedPattern
	Color   Color
	At      time.Time
}

// NewSimulated creates a simulated hardware adapter.
func NewSimulated() *Simulated {
	return &Simulated{
		gestures: make(chan types.ButtonGesture, 8),
	}
}

// SetLed records the LED command and logs it, standing in for PWM output.
func (s *Simulated) SetLed(pattern LedPattern, color Color) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pattern = pattern
	s.color = color
	s.history = append(s.history, LedState{Pattern: pattern, Color: color, At: time.Now()})

	slog.Debug("led state changed",
		"pattern", pattern.String(),
		"r", color.R, "g", color.G, "b", color.B,
	)
	return nil
}

// Gestures implements ButtonSource.
func (s *Simulated) Gestures() <-chan types.ButtonGesture {
	return s.gestures
}

// Press injects a gesture, simulating a debounced button event.
func (s *Simulated) Press(kind types.GestureKind) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.gestures <- types.ButtonGesture{Kind: kind, Timestamp: time.Now()}
}

// Current returns the last LED command.
func (s *Simulated) Current() (LedPattern, Color) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pattern, s.color
}

// History returns all recorded LED commands in order.
func (s *Simulated) History() []LedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LedState, len(s.history))
	copy(out, s.history)
	return out
}

// Close shuts the gesture channel.
func (s *Simulated) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.gestures)
}
