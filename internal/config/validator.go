package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid. Defaults must already be
// applied; Validate only rejects, it never mutates.
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.Vision.FPS <= 0 {
		return fmt.Errorf("vision.fps must be > 0")
	}
	if cfg.Vision.FrameSkip < 1 {
		return fmt.Errorf("vision.frame_skip must be >= 1")
	}

	f := cfg.Vision.Fatigue
	if f.EARThreshold <= 0 || f.EARThreshold >= 1 {
		return fmt.Errorf("fatigue.ear_threshold must be in (0, 1)")
	}
	if f.PerclosWindowS <= 0 {
		return fmt.Errorf("fatigue.perclos_window_s must be > 0")
	}
	if f.PerclosMild >= f.PerclosSevere {
		return fmt.Errorf("fatigue.perclos_mild (%.2f) must be below perclos_severe (%.2f)",
			f.PerclosMild, f.PerclosSevere)
	}
	if f.PerclosMildClear >= f.PerclosMild {
		return fmt.Errorf("fatigue.perclos_mild_clear (%.2f) must be below perclos_mild (%.2f)",
			f.PerclosMildClear, f.PerclosMild)
	}
	if f.PerclosSevereClear >= f.PerclosSevere {
		return fmt.Errorf("fatigue.perclos_severe_clear (%.2f) must be below perclos_severe (%.2f)",
			f.PerclosSevereClear, f.PerclosSevere)
	}

	a := cfg.Audio
	if a.Sensitivity < 0 || a.Sensitivity > 1 {
		return fmt.Errorf("audio.sensitivity must be in [0, 1]")
	}
	if a.ListenTimeoutS <= 0 {
		return fmt.Errorf("audio.listen_timeout_s must be > 0")
	}
	switch a.TTSEngine {
	case "pico", "espeak":
	default:
		return fmt.Errorf("audio.tts_engine must be \"pico\" or \"espeak\", got %q", a.TTSEngine)
	}

	h := cfg.Hardware
	if h.LongPressS >= h.VeryLongPressS {
		return fmt.Errorf("hardware.long_press_s (%d) must be below very_long_press_s (%d)",
			h.LongPressS, h.VeryLongPressS)
	}

	s := cfg.Supervisor
	if s.SilenceFactor < 2 {
		return fmt.Errorf("supervisor.silence_factor must be >= 2")
	}
	if s.MaxRetries < 1 {
		return fmt.Errorf("supervisor.max_retries must be >= 1")
	}
	if s.BackoffFactor < 1 {
		return fmt.Errorf("supervisor.backoff_factor must be >= 1")
	}

	return nil
}
