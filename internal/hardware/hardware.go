// Package hardware defines the contract between the appliance core and the
// physical LED/button wrapper. The GPIO pin mapping itself is an external
// collaborator; the core only sees LED commands going out and debounced
// button gestures coming in.
package hardware

import (
	"time"

	"github.com/e7canasta/vigil-mirror/internal/types"
)

// LedPattern selects how the LED renders its color.
type LedPattern int

const (
	PatternOff LedPattern = iota
	PatternSolid
	PatternBlink
	PatternBreathe
)

// String returns the pattern name.
func (p LedPattern) String() string {
	switch p {
	case PatternSolid:
		return "solid"
	case PatternBlink:
		return "blink"
	case PatternBreathe:
		return "breathe"
	default:
		return "off"
	}
}

// Color is an RGB triple, 0-255 per channel.
type Color struct {
	R, G, B uint8
}

// Standard alert colors.
var (
	ColorGreen  = Color{0, 255, 0}
	ColorYellow = Color{255, 255, 0}
	ColorRed    = Color{255, 0, 0}
	ColorOff    = Color{}
)

// LedController drives the RGB status LED. Implementations must be safe
// for concurrent use and must not block on animation: a pattern change
// takes effect on the next animation step.
type LedController interface {
	SetLed(pattern LedPattern, color Color) error
}

// ButtonSource delivers debounced button gestures. The channel is owned by
// the implementation and is closed when the source shuts down.
type ButtonSource interface {
	Gestures() <-chan types.ButtonGesture
}

// GestureThresholds classifies raw press timings into gestures.
type GestureThresholds struct {
	DoublePressWindow time.Duration // max gap between presses for a double
	LongPress         time.Duration // hold at least this long for a long press
	VeryLongPress     time.Duration // hold at least this long for shutdown
}

// Classify maps a press duration and the gap since the previous short press
// to a gesture kind. Returns ok=false for the first press of a potential
// double: the caller should wait out the double-press window before
// reporting a single press.
func (t GestureThresholds) Classify(held, sincePrev time.Duration) (types.GestureKind, bool) {
	switch {
	case held >= t.VeryLongPress:
		return types.GestureVeryLong, true
	case held >= t.LongPress:
		return types.GestureLong, true
	case sincePrev >= 0 && sincePrev < t.DoublePressWindow:
		return types.GestureDouble, true
	default:
		return types.GestureSingle, false
	}
}
