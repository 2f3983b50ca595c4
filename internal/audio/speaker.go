package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrSpeakerStopped is returned when enqueueing after the speaker loop has
// exited.
var ErrSpeakerStopped = errors.New("audio: speaker stopped")

// Speaker serializes speech output through a single playback goroutine.
// Non-urgent utterances queue FIFO; an urgent utterance interrupts whatever
// is currently playing and jumps ahead of the queue.
type Speaker struct {
	synth     Synthesizer
	queue     chan string
	urgent    chan string
	interrupt chan struct{}

	mu      sync.Mutex
	stopped bool
}

// NewSpeaker creates a speaker with the given FIFO queue capacity.
func NewSpeaker(synth Synthesizer, queueSize int) *Speaker {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Speaker{
		synth:     synth,
		queue:     make(chan string, queueSize),
		urgent:    make(chan string, 4),
		interrupt: make(chan struct{}, 1),
	}
}

// Say enqueues a normal utterance. A full queue drops the utterance rather
// than blocking the caller.
func (s *Speaker) Say(text string) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSpeakerStopped
	}
	s.mu.Unlock()

	select {
	case s.queue <- text:
		return nil
	default:
		slog.Warn("speech queue full, dropping utterance", "text", text)
		return nil
	}
}

// SayUrgent enqueues an utterance that cuts the current playback and is
// spoken before anything still waiting in the normal queue.
func (s *Speaker) SayUrgent(text string) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSpeakerStopped
	}
	s.mu.Unlock()

	select {
	case s.urgent <- text:
	default:
		slog.Warn("urgent speech queue full, dropping utterance", "text", text)
		return nil
	}

	select {
	case s.interrupt <- struct{}{}:
	default:
	}
	return nil
}

// Run is the single playback consumer. It exits when the context is
// cancelled; pending queue entries are discarded at that point.
func (s *Speaker) Run(ctx context.Context) error {
	defer func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
	}()

	for {
		// Urgent entries drain first.
		select {
		case <-ctx.Done():
			return nil
		case text := <-s.urgent:
			s.speakUrgent(ctx, text)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return nil
		case text := <-s.urgent:
			s.speakUrgent(ctx, text)
		case text := <-s.queue:
			s.speakInterruptible(ctx, text)
		}
	}
}

// speakUrgent plays an urgent utterance and retires its interrupt token,
// which has no in-flight playback left to cut. The token is never drained
// before playback: one enqueued between the loop's selects must keep its
// barge-in on whatever starts next.
func (s *Speaker) speakUrgent(ctx context.Context, text string) {
	s.speak(ctx, text)
	select {
	case <-s.interrupt:
	default:
	}
}

// speak plays one utterance to completion, bounded only by ctx.
func (s *Speaker) speak(ctx context.Context, text string) {
	if err := s.synth.Speak(ctx, text); err != nil && ctx.Err() == nil {
		slog.Error("speech synthesis failed", "text", text, "error", err)
	}
}

// speakInterruptible plays a normal utterance that an urgent enqueue may
// cut short.
func (s *Speaker) speakInterruptible(ctx context.Context, text string) {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		select {
		case <-s.interrupt:
			cancel()
		case <-done:
		}
	}()

	err := s.synth.Speak(cctx, text)
	close(done)
	if err != nil && ctx.Err() == nil && cctx.Err() == nil {
		slog.Error("speech synthesis failed", "text", text, "error", err)
	}
}
