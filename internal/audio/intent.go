package audio

import (
	"strings"

	"github.com/e7canasta/vigil-mirror/internal/types"
)

// intentPatterns maps substring patterns to intents. Order matters: the
// first pattern found in the transcript wins, so more specific phrases
// come before generic ones.
var intentPatterns = []struct {
	pattern string
	intent  types.VoiceIntent
}{
	{"how am i", types.IntentStatusQuery},
	{"how do i look", types.IntentStatusQuery},
	{"status", types.IntentStatusQuery},
	{"i'm awake", types.IntentAcknowledge},
	{"im awake", types.IntentAcknowledge},
	{"okay", types.IntentAcknowledge},
	{"fine", types.IntentAcknowledge},
	{"got it", types.IntentAcknowledge},
	{"timer", types.IntentSetTimer},
	{"stop monitoring", types.IntentStopMonitoring},
	{"stop", types.IntentStopMonitoring},
	{"sleep", types.IntentStopMonitoring},
	{"pause", types.IntentStopMonitoring},
	{"resume", types.IntentResume},
	{"start monitoring", types.IntentResume},
	{"wake up", types.IntentResume},
}

// ParseIntent maps a transcript onto the command enumeration. Matching is
// case-insensitive substring search; anything that matches nothing is
// IntentUnrecognized.
func ParseIntent(transcript string) types.VoiceIntent {
	text := strings.ToLower(strings.TrimSpace(transcript))
	if text == "" {
		return types.IntentUnrecognized
	}
	for _, p := range intentPatterns {
		if strings.Contains(text, p.pattern) {
			return p.intent
		}
	}
	return types.IntentUnrecognized
}
