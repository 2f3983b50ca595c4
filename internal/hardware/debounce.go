package hardware

import (
	"time"

	"github.com/e7canasta/vigil-mirror/internal/config"
	"github.com/e7canasta/vigil-mirror/internal/types"
)

// ThresholdsFromConfig converts the millisecond/second settings.
func ThresholdsFromConfig(cfg config.HardwareConfig) GestureThresholds {
	return GestureThresholds{
		DoublePressWindow: time.Duration(cfg.DoublePressWindowMS) * time.Millisecond,
		LongPress:         time.Duration(cfg.LongPressS) * time.Second,
		VeryLongPress:     time.Duration(cfg.VeryLongPressS) * time.Second,
	}
}

// Edge is one raw button transition as delivered by the GPIO wrapper.
type Edge struct {
	Pressed bool
	At      time.Time
}

// Debouncer turns raw press/release edges into classified gestures. A
// short press is held back for the double-press window before it is
// reported as a single, so a quick second press can upgrade it to a
// double.
type Debouncer struct {
	th  GestureThresholds
	out chan types.ButtonGesture
}

// NewDebouncer consumes the edge channel until it is closed; the gesture
// channel closes afterwards.
func NewDebouncer(th GestureThresholds, edges <-chan Edge) *Debouncer {
	d := &Debouncer{
		th:  th,
		out: make(chan types.ButtonGesture, 8),
	}
	go d.run(edges)
	return d
}

// Gestures implements ButtonSource.
func (d *Debouncer) Gestures() <-chan types.ButtonGesture {
	return d.out
}

func (d *Debouncer) run(edges <-chan Edge) {
	defer close(d.out)

	var pressedAt time.Time
	var lastRelease time.Time
	var pending *time.Timer
	var pendingCh <-chan time.Time
	var pendingAt time.Time

	emit := func(kind types.GestureKind, at time.Time) {
		select {
		case d.out <- types.ButtonGesture{Kind: kind, Timestamp: at}:
		default:
		}
	}

	for {
		select {
		case e, ok := <-edges:
			if !ok {
				if pending != nil {
					pending.Stop()
				}
				return
			}
			if e.Pressed {
				pressedAt = e.At
				continue
			}
			if pressedAt.IsZero() {
				continue
			}
			held := e.At.Sub(pressedAt)
			pressedAt = time.Time{}

			sincePrev := time.Duration(-1)
			if pendingCh != nil {
				sincePrev = e.At.Sub(lastRelease)
			}
			lastRelease = e.At

			kind, decided := d.th.Classify(held, sincePrev)
			if decided {
				if pending != nil {
					pending.Stop()
					pending, pendingCh = nil, nil
				}
				emit(kind, e.At)
				continue
			}

			// Potential single: wait out the double-press window.
			if pending != nil {
				pending.Stop()
			}
			pending = time.NewTimer(d.th.DoublePressWindow)
			pendingCh = pending.C
			pendingAt = e.At

		case <-pendingCh:
			pending, pendingCh = nil, nil
			emit(types.GestureSingle, pendingAt)
		}
	}
}
