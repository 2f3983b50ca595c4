package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the complete appliance configuration. It is loaded once at
// startup and treated as immutable afterwards; there is no hot-reload.
type Config struct {
	InstanceID       string           `yaml:"instance_id"`
	ShutdownTimeoutS int              `yaml:"shutdown_timeout_s"` // graceful shutdown timeout (default: 5)
	Vision           VisionConfig     `yaml:"vision"`
	Audio            AudioConfig      `yaml:"audio"`
	Alerts           AlertsConfig     `yaml:"alerts"`
	Hardware         HardwareConfig   `yaml:"hardware"`
	Supervisor       SupervisorConfig `yaml:"supervisor"`
	MQTT             MQTTConfig       `yaml:"mqtt"`
	Health           HealthConfig     `yaml:"health"`
}

// VisionConfig contains camera and fatigue analysis settings.
type VisionConfig struct {
	Device      string        `yaml:"device"` // V4L2 device path, e.g. /dev/video0
	Width       int           `yaml:"width"`
	Height      int           `yaml:"height"`
	FPS         int           `yaml:"fps"`
	FrameSkip   int           `yaml:"frame_skip"`   // process 1 of every N frames
	ModelWorker string        `yaml:"model_worker"` // face model helper command; empty = no face backend
	Fatigue     FatigueConfig `yaml:"fatigue"`
}

// FatigueConfig contains the tunable thresholds of the fatigue model.
// Escalation and de-escalation thresholds differ on purpose: the stricter
// de-escalation pair is what prevents level flapping near a boundary.
type FatigueConfig struct {
	EARThreshold       float64 `yaml:"ear_threshold"`        // eyes-closed EAR cutoff
	MARThreshold       float64 `yaml:"mar_threshold"`        // yawn MAR cutoff
	EARConsecFrames    int     `yaml:"ear_consec_frames"`    // closed frames counted as one blink
	PerclosWindowS     int     `yaml:"perclos_window_s"`     // trailing window length
	PerclosMild        float64 `yaml:"perclos_mild"`         // escalate to mild
	PerclosSevere      float64 `yaml:"perclos_severe"`       // escalate to severe
	PerclosMildClear   float64 `yaml:"perclos_mild_clear"`   // de-escalate below mild
	PerclosSevereClear float64 `yaml:"perclos_severe_clear"` // de-escalate below severe
	YawnsMild          int     `yaml:"yawns_mild"`           // yawns/min for mild
	YawnsSevere        int     `yaml:"yawns_severe"`         // yawns/min for severe
	HeartbeatIntervalS int     `yaml:"heartbeat_interval_s"` // periodic FatigueEvent cadence
}

// AudioConfig contains microphone, wake word and speech settings.
type AudioConfig struct {
	Device         string  `yaml:"device"` // ALSA device, e.g. "default"; "mock" for a silent source
	SampleRate     int     `yaml:"sample_rate"`
	FrameLength    int     `yaml:"frame_length"` // samples per audio chunk
	WakeWord       string  `yaml:"wake_word"`
	Sensitivity    float64 `yaml:"sensitivity"`      // 0.0-1.0, higher = more sensitive
	ListenTimeoutS int     `yaml:"listen_timeout_s"` // hard LISTENING window bound
	TTSEngine      string  `yaml:"tts_engine"`       // "pico" or "espeak"
	SpeakQueueSize int     `yaml:"speak_queue_size"`
}

// AlertsConfig contains alert escalation behavior.
type AlertsConfig struct {
	RepeatIntervalS int `yaml:"repeat_interval_s"` // severe warning repeat cadence
}

// HardwareConfig contains button gesture thresholds. The GPIO pin mapping
// itself lives with the external hardware wrapper, not here.
type HardwareConfig struct {
	DoublePressWindowMS int `yaml:"double_press_window_ms"`
	LongPressS          int `yaml:"long_press_s"`
	VeryLongPressS      int `yaml:"very_long_press_s"`
}

// SupervisorConfig contains heartbeat monitoring and restart policy.
type SupervisorConfig struct {
	HeartbeatIntervalS int     `yaml:"heartbeat_interval_s"`
	SilenceFactor      int     `yaml:"silence_factor"`   // restart after factor × interval of silence
	MaxRetries         int     `yaml:"max_retries"`
	BackoffInitialS    int     `yaml:"backoff_initial_s"`
	BackoffMaxS        int     `yaml:"backoff_max_s"`
	BackoffFactor      float64 `yaml:"backoff_factor"`
}

// MQTTConfig contains the optional local telemetry/control plane. An empty
// broker disables MQTT entirely; the appliance never requires the network.
type MQTTConfig struct {
	Broker       string `yaml:"broker" envconfig:"MQTT_BROKER"` // host:port; empty disables MQTT
	Username     string `yaml:"username" envconfig:"MQTT_USERNAME"`
	Password     string `yaml:"password" envconfig:"MQTT_PASSWORD"`
	TopicAlerts  string `yaml:"topic_alerts"`
	TopicHealth  string `yaml:"topic_health"`
	TopicControl string `yaml:"topic_control"`
}

// HealthConfig contains the local health/metrics HTTP endpoint.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"` // e.g. 127.0.0.1:8080
}

// Load reads and parses a YAML configuration file, applies environment
// overrides for the MQTT section, fills defaults and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Broker credentials may come from the environment instead of disk.
	if err := envconfig.Process("vigil", &cfg.MQTT); err != nil {
		return nil, fmt.Errorf("failed to process env overrides: %w", err)
	}

	cfg.applyDefaults()

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, used by the
// self-test CLI modes which run without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.InstanceID == "" {
		c.InstanceID = "vigil-mirror"
	}
	if c.ShutdownTimeoutS == 0 {
		c.ShutdownTimeoutS = 5
	}

	v := &c.Vision
	if v.Device == "" {
		v.Device = "/dev/video0"
	}
	if v.Width == 0 {
		v.Width = 640
	}
	if v.Height == 0 {
		v.Height = 480
	}
	if v.FPS == 0 {
		v.FPS = 15
	}
	if v.FrameSkip == 0 {
		v.FrameSkip = 2
	}

	f := &v.Fatigue
	if f.EARThreshold == 0 {
		f.EARThreshold = 0.21
	}
	if f.MARThreshold == 0 {
		f.MARThreshold = 0.6
	}
	if f.EARConsecFrames == 0 {
		f.EARConsecFrames = 3
	}
	if f.PerclosWindowS == 0 {
		f.PerclosWindowS = 30
	}
	if f.PerclosMild == 0 {
		f.PerclosMild = 0.25
	}
	if f.PerclosSevere == 0 {
		f.PerclosSevere = 0.40
	}
	if f.PerclosMildClear == 0 {
		f.PerclosMildClear = 0.20
	}
	if f.PerclosSevereClear == 0 {
		f.PerclosSevereClear = 0.33
	}
	if f.YawnsMild == 0 {
		f.YawnsMild = 3
	}
	if f.YawnsSevere == 0 {
		f.YawnsSevere = 5
	}
	if f.HeartbeatIntervalS == 0 {
		f.HeartbeatIntervalS = 10
	}

	a := &c.Audio
	if a.Device == "" {
		a.Device = "default"
	}
	if a.SampleRate == 0 {
		a.SampleRate = 16000
	}
	if a.FrameLength == 0 {
		a.FrameLength = 512
	}
	if a.WakeWord == "" {
		a.WakeWord = "hey mirror"
	}
	if a.Sensitivity == 0 {
		a.Sensitivity = 0.5
	}
	if a.ListenTimeoutS == 0 {
		a.ListenTimeoutS = 5
	}
	if a.TTSEngine == "" {
		a.TTSEngine = "espeak"
	}
	if a.SpeakQueueSize == 0 {
		a.SpeakQueueSize = 8
	}

	if c.Alerts.RepeatIntervalS == 0 {
		c.Alerts.RepeatIntervalS = 60
	}

	h := &c.Hardware
	if h.DoublePressWindowMS == 0 {
		h.DoublePressWindowMS = 500
	}
	if h.LongPressS == 0 {
		h.LongPressS = 3
	}
	if h.VeryLongPressS == 0 {
		h.VeryLongPressS = 10
	}

	s := &c.Supervisor
	if s.HeartbeatIntervalS == 0 {
		s.HeartbeatIntervalS = 5
	}
	if s.SilenceFactor == 0 {
		s.SilenceFactor = 3
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = 5
	}
	if s.BackoffInitialS == 0 {
		s.BackoffInitialS = 1
	}
	if s.BackoffMaxS == 0 {
		s.BackoffMaxS = 30
	}
	if s.BackoffFactor == 0 {
		s.BackoffFactor = 2.0
	}

	if c.MQTT.TopicAlerts == "" {
		c.MQTT.TopicAlerts = "vigil/alerts"
	}
	if c.MQTT.TopicHealth == "" {
		c.MQTT.TopicHealth = "vigil/health"
	}
	if c.MQTT.TopicControl == "" {
		c.MQTT.TopicControl = "vigil/control"
	}

	if c.Health.Addr == "" {
		c.Health.Addr = "127.0.0.1:8080"
	}
}

// Helpers converting second-granularity settings to durations.

func (f FatigueConfig) PerclosWindow() time.Duration {
	return time.Duration(f.PerclosWindowS) * time.Second
}

func (f FatigueConfig) HeartbeatInterval() time.Duration {
	return time.Duration(f.HeartbeatIntervalS) * time.Second
}

func (a AudioConfig) ListenTimeout() time.Duration {
	return time.Duration(a.ListenTimeoutS) * time.Second
}

func (a AlertsConfig) RepeatInterval() time.Duration {
	return time.Duration(a.RepeatIntervalS) * time.Second
}

func (s SupervisorConfig) HeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatIntervalS) * time.Second
}

func (s SupervisorConfig) BackoffInitial() time.Duration {
	return time.Duration(s.BackoffInitialS) * time.Second
}

func (s SupervisorConfig) BackoffMax() time.Duration {
	return time.Duration(s.BackoffMaxS) * time.Second
}

func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}
