package types

import (
	"encoding/json"
	"time"
)

// Bus topics. Producers publish to exactly one topic; subscribers pick the
// topics they care about. Names follow "<service>.<signal>".
const (
	TopicFatigue   = "vision.fatigue"
	TopicVoice     = "audio.command"
	TopicGesture   = "hardware.gesture"
	TopicHeartbeat = "system.heartbeat"
	TopicControl   = "system.control"
	TopicAlert     = "alert.state"
)

// FatigueLevel is the discrete drowsiness classification derived from the
// PERCLOS/yawn metrics. Ordering matters: higher value = more fatigued.
type FatigueLevel int

const (
	LevelNormal FatigueLevel = iota
	LevelMild
	LevelSevere
)

// String returns the wire name of the level.
func (l FatigueLevel) String() string {
	switch l {
	case LevelMild:
		return "mild"
	case LevelSevere:
		return "severe"
	default:
		return "normal"
	}
}

// MarshalJSON emits the level as its string name.
func (l FatigueLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON parses the string name back into a level. Unknown names map
// to LevelNormal rather than failing: a malformed level is a normal signal,
// not an error.
func (l *FatigueLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "mild":
		*l = LevelMild
	case "severe":
		*l = LevelSevere
	default:
		*l = LevelNormal
	}
	return nil
}

// FatigueEvent is published by the vision service when the computed level
// changes, or periodically as a keep-current heartbeat. It is a snapshot of
// the current signal, not a log record.
type FatigueEvent struct {
	Level        FatigueLevel `json:"level"`
	Score        float64      `json:"score"`
	EAR          float64      `json:"ear"`
	MAR          float64      `json:"mar"`
	PERCLOS      float64      `json:"perclos"`
	YawnsPerMin  int          `json:"yawns_per_min"`
	BlinkCount   uint64       `json:"blink_count"`
	FaceDetected bool         `json:"face_detected"`
	Timestamp    time.Time    `json:"timestamp"`
}

// VoiceIntent is the fixed enumeration of recognized spoken commands.
type VoiceIntent int

const (
	IntentUnrecognized VoiceIntent = iota
	IntentStatusQuery
	IntentAcknowledge
	IntentSetTimer
	IntentStopMonitoring
	IntentResume
)

// String returns the wire name of the intent.
func (i VoiceIntent) String() string {
	switch i {
	case IntentStatusQuery:
		return "status_query"
	case IntentAcknowledge:
		return "acknowledge"
	case IntentSetTimer:
		return "set_timer"
	case IntentStopMonitoring:
		return "stop_monitoring"
	case IntentResume:
		return "resume"
	default:
		return "unrecognized"
	}
}

// VoiceCommand is published by the audio service after a listening window.
type VoiceCommand struct {
	Intent     VoiceIntent `json:"intent"`
	Transcript string      `json:"transcript,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// GestureKind classifies a debounced button press.
type GestureKind int

const (
	GestureSingle GestureKind = iota
	GestureDouble
	GestureLong
	GestureVeryLong
)

// String returns the wire name of the gesture.
func (g GestureKind) String() string {
	switch g {
	case GestureDouble:
		return "double"
	case GestureLong:
		return "long"
	case GestureVeryLong:
		return "very_long"
	default:
		return "single"
	}
}

// ButtonGesture is published by the hardware adapter glue.
type ButtonGesture struct {
	Kind      GestureKind `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
}

// Heartbeat is the liveness proof each long-running service emits at a fixed
// interval. The supervisor is its only consumer; it is never persisted.
type Heartbeat struct {
	ServiceID string    `json:"service_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ControlAction is an orchestration request carried on TopicControl.
type ControlAction int

const (
	ControlPause ControlAction = iota
	ControlResume
	ControlShutdown
)

// String returns the wire name of the action.
func (a ControlAction) String() string {
	switch a {
	case ControlResume:
		return "resume"
	case ControlShutdown:
		return "shutdown"
	default:
		return "pause"
	}
}

// ControlEvent asks services to pause, resume or stop. Only the alert
// manager produces these; services never command each other directly.
type ControlEvent struct {
	Action    ControlAction `json:"action"`
	Timestamp time.Time     `json:"timestamp"`
}

// AlertSnapshot mirrors the alert manager's authoritative state for
// telemetry. Other components must treat it as read-only.
type AlertSnapshot struct {
	Level          FatigueLevel `json:"level"`
	Acknowledged   bool         `json:"acknowledged"`
	Paused         bool         `json:"paused"`
	LastTransition time.Time    `json:"last_transition"`
}
