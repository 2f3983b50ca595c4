package hardware

import (
	"testing"
	"time"

	"github.com/e7canasta/vigil-mirror/internal/config"
	"github.com/e7canasta/vigil-mirror/internal/types"
)

func TestThresholdsFromConfig(t *testing.T) {
	th := ThresholdsFromConfig(config.HardwareConfig{
		DoublePressWindowMS: 500,
		LongPressS:          3,
		VeryLongPressS:      10,
	})
	if th.DoublePressWindow != 500*time.Millisecond {
		t.Errorf("DoublePressWindow = %v", th.DoublePressWindow)
	}
	if th.LongPress != 3*time.Second || th.VeryLongPress != 10*time.Second {
		t.Errorf("LongPress = %v, VeryLongPress = %v", th.LongPress, th.VeryLongPress)
	}
}

// press feeds one press/release pair of the given hold time.
func press(edges chan<- Edge, at time.Time, held time.Duration) time.Time {
	edges <- Edge{Pressed: true, At: at}
	release := at.Add(held)
	edges <- Edge{Pressed: false, At: release}
	return release
}

func recvGesture(t *testing.T, d *Debouncer) types.ButtonGesture {
	t.Helper()
	select {
	case g, ok := <-d.Gestures():
		if !ok {
			t.Fatal("gesture channel closed")
		}
		return g
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for gesture")
	}
	return types.ButtonGesture{}
}

func TestDebouncerSinglePressAfterWindow(t *testing.T) {
	th := GestureThresholds{
		DoublePressWindow: 50 * time.Millisecond,
		LongPress:         3 * time.Second,
		VeryLongPress:     10 * time.Second,
	}
	edges := make(chan Edge)
	d := NewDebouncer(th, edges)
	defer close(edges)

	press(edges, time.Now(), 100*time.Millisecond)

	g := recvGesture(t, d)
	if g.Kind != types.GestureSingle {
		t.Errorf("gesture = %v, want single", g.Kind)
	}
}

func TestDebouncerDoublePress(t *testing.T) {
	th := GestureThresholds{
		DoublePressWindow: time.Second,
		LongPress:         3 * time.Second,
		VeryLongPress:     10 * time.Second,
	}
	edges := make(chan Edge)
	d := NewDebouncer(th, edges)
	defer close(edges)

	now := time.Now()
	rel := press(edges, now, 100*time.Millisecond)
	press(edges, rel.Add(200*time.Millisecond), 100*time.Millisecond)

	g := recvGesture(t, d)
	if g.Kind != types.GestureDouble {
		t.Errorf("gesture = %v, want double", g.Kind)
	}
}

func TestDebouncerLongPresses(t *testing.T) {
	th := GestureThresholds{
		DoublePressWindow: 50 * time.Millisecond,
		LongPress:         3 * time.Second,
		VeryLongPress:     10 * time.Second,
	}
	edges := make(chan Edge)
	d := NewDebouncer(th, edges)
	defer close(edges)

	now := time.Now()
	rel := press(edges, now, 4*time.Second)
	if g := recvGesture(t, d); g.Kind != types.GestureLong {
		t.Errorf("gesture = %v, want long", g.Kind)
	}

	press(edges, rel.Add(time.Second), 12*time.Second)
	if g := recvGesture(t, d); g.Kind != types.GestureVeryLong {
		t.Errorf("gesture = %v, want very long", g.Kind)
	}
}
