package hardware

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SelfTest cycles the LED through every pattern/color combination used by
// the alert levels, holding each step long enough to verify by eye. It is
// the --test-hardware CLI mode and bypasses the bus and alert manager.
func SelfTest(ctx context.Context, led LedController, hold time.Duration) error {
	steps := []struct {
		name    string
		pattern LedPattern
		color   Color
	}{
		{"solid green", PatternSolid, ColorGreen},
		{"blink yellow", PatternBlink, ColorYellow},
		{"breathe red", PatternBreathe, ColorRed},
		{"off", PatternOff, ColorOff},
	}

	for _, step := range steps {
		slog.Info("self-test step", "led", step.name)
		if err := led.SetLed(step.pattern, step.color); err != nil {
			return fmt.Errorf("self-test %s: %w", step.name, err)
		}
		select {
		case <-time.After(hold):
		case <-ctx.Done():
			_ = led.SetLed(PatternOff, ColorOff)
			return ctx.Err()
		}
	}

	slog.Info("hardware self-test complete")
	return nil
}
