package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vigil.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "instance_id: mirror-lab-1\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.InstanceID != "mirror-lab-1" {
		t.Errorf("instance_id = %q", cfg.InstanceID)
	}
	if cfg.Vision.FPS != 15 {
		t.Errorf("default fps = %d, want 15", cfg.Vision.FPS)
	}
	if cfg.Vision.Fatigue.PerclosMild != 0.25 || cfg.Vision.Fatigue.PerclosSevere != 0.40 {
		t.Errorf("default perclos thresholds = %v/%v",
			cfg.Vision.Fatigue.PerclosMild, cfg.Vision.Fatigue.PerclosSevere)
	}
	if cfg.Audio.ListenTimeoutS != 5 {
		t.Errorf("default listen timeout = %d, want 5", cfg.Audio.ListenTimeoutS)
	}
	if cfg.Supervisor.SilenceFactor != 3 {
		t.Errorf("default silence factor = %d, want 3", cfg.Supervisor.SilenceFactor)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
instance_id: bench
vision:
  fps: 30
  frame_skip: 3
  fatigue:
    ear_threshold: 0.25
    perclos_window_s: 60
audio:
  sensitivity: 0.8
  tts_engine: pico
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Vision.FPS != 30 || cfg.Vision.FrameSkip != 3 {
		t.Errorf("vision overrides not applied: %+v", cfg.Vision)
	}
	if cfg.Vision.Fatigue.EARThreshold != 0.25 {
		t.Errorf("ear_threshold = %v", cfg.Vision.Fatigue.EARThreshold)
	}
	if cfg.Audio.TTSEngine != "pico" {
		t.Errorf("tts_engine = %q", cfg.Audio.TTSEngine)
	}
}

func TestEnvOverridesBroker(t *testing.T) {
	t.Setenv("VIGIL_MQTT_BROKER", "localhost:1883")

	path := writeConfig(t, "instance_id: envtest\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MQTT.Broker != "localhost:1883" {
		t.Errorf("broker = %q, want env override", cfg.MQTT.Broker)
	}
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"inverted perclos", `
instance_id: bad
vision:
  fatigue:
    perclos_mild: 0.5
    perclos_severe: 0.3
`},
		{"clear above escalate", `
instance_id: bad
vision:
  fatigue:
    perclos_mild: 0.25
    perclos_mild_clear: 0.30
`},
		{"sensitivity out of range", `
instance_id: bad
audio:
  sensitivity: 1.5
`},
		{"bad tts engine", `
instance_id: bad
audio:
  tts_engine: festival
`},
		{"bad instance id", "instance_id: Bad_ID\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.body)
			if _, err := Load(path); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/vigil.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
