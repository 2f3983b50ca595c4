// Package audio runs the voice interaction pipeline: wake word scanning,
// a bounded listening window with transcription, intent matching and
// serialized speech output.
package audio

import (
	"context"
	"time"
)

// Chunk is one block of PCM samples from the microphone.
type Chunk struct {
	Samples   []int16
	Timestamp time.Time
}

// Source delivers microphone chunks. Implementations follow the scoped
// resource pattern: the device is held between Start and Stop, and the
// chunk channel stays open until Stop.
type Source interface {
	Start(ctx context.Context) (<-chan Chunk, error)
	Stop() error
}

// WakeDetector scores one chunk for wake word presence. The score is a
// confidence in [0, 1]; the service compares it against the threshold
// derived from the configured sensitivity.
type WakeDetector interface {
	Process(chunk Chunk) (float64, error)
}

// Transcriber accumulates chunks into text. It returns when the utterance
// ends, the channel closes, or the context expires; a timeout with partial
// speech returns whatever was understood so far.
type Transcriber interface {
	Transcribe(ctx context.Context, chunks <-chan Chunk) (string, error)
}

// Synthesizer renders text as audible speech and blocks until playback
// completes or the context is cancelled.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}
