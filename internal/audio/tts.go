package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
)

// Supported synthesis engines.
const (
	EnginePico   = "pico"
	EngineEspeak = "espeak"
)

// ExecSynthesizer shells out to a local TTS engine. pico renders to a
// scratch WAV and plays it with aplay; espeak plays directly. Both run
// under exec.CommandContext so cancellation kills playback.
type ExecSynthesizer struct {
	engine string
}

// NewExecSynthesizer validates the engine name up front so a typo fails at
// startup, not on the first alert.
func NewExecSynthesizer(engine string) (*ExecSynthesizer, error) {
	switch engine {
	case EnginePico, EngineEspeak:
		return &ExecSynthesizer{engine: engine}, nil
	default:
		return nil, fmt.Errorf("audio: unknown tts engine %q", engine)
	}
}

// Speak implements Synthesizer.
func (e *ExecSynthesizer) Speak(ctx context.Context, text string) error {
	switch e.engine {
	case EnginePico:
		return e.speakPico(ctx, text)
	default:
		return e.speakEspeak(ctx, text)
	}
}

func (e *ExecSynthesizer) speakPico(ctx context.Context, text string) error {
	wav := filepath.Join(os.TempDir(), "vigil-tts-"+uuid.New().String()+".wav")
	defer os.Remove(wav)

	if err := exec.CommandContext(ctx, "pico2wave", "-w", wav, text).Run(); err != nil {
		return fmt.Errorf("audio: pico2wave failed: %w", err)
	}
	if err := exec.CommandContext(ctx, "aplay", "-q", wav).Run(); err != nil {
		return fmt.Errorf("audio: aplay failed: %w", err)
	}
	return nil
}

func (e *ExecSynthesizer) speakEspeak(ctx context.Context, text string) error {
	if err := exec.CommandContext(ctx, "espeak", text).Run(); err != nil {
		return fmt.Errorf("audio: espeak failed: %w", err)
	}
	return nil
}
