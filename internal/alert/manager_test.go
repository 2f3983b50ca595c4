package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/vigil-mirror/internal/bus"
	"github.com/e7canasta/vigil-mirror/internal/config"
	"github.com/e7canasta/vigil-mirror/internal/hardware"
	"github.com/e7canasta/vigil-mirror/internal/types"
)

type recordSpeech struct {
	mu     sync.Mutex
	normal []string
	urgent []string
}

func (r *recordSpeech) Say(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.normal = append(r.normal, text)
	return nil
}

func (r *recordSpeech) SayUrgent(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urgent = append(r.urgent, text)
	return nil
}

func (r *recordSpeech) countNormal(text string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.normal {
		if s == text {
			n++
		}
	}
	return n
}

func (r *recordSpeech) countUrgent(text string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.urgent {
		if s == text {
			n++
		}
	}
	return n
}

type fixture struct {
	bus     *bus.Bus
	led     *hardware.Simulated
	speech  *recordSpeech
	manager *Manager
	snaps   <-chan bus.Event
	cancel  context.CancelFunc
	done    chan error
}

func newFixture(t *testing.T, repeatIntervalS int) *fixture {
	t.Helper()

	b := bus.New()
	led := hardware.NewSimulated()
	speech := &recordSpeech{}

	snaps, err := b.Subscribe("test-snaps", 32, types.TopicAlert)
	if err != nil {
		t.Fatal(err)
	}

	m := NewManager(config.AlertsConfig{RepeatIntervalS: repeatIntervalS}, 50*time.Millisecond, b, led, speech)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	// Wait for the initial LED command so the subscriptions are in place.
	deadline := time.Now().Add(2 * time.Second)
	for len(led.History()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("manager did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	f := &fixture{bus: b, led: led, speech: speech, manager: m, snaps: snaps, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("manager did not stop")
		}
		b.Close()
	})
	return f
}

func (f *fixture) waitSnapshot(t *testing.T) types.AlertSnapshot {
	t.Helper()
	select {
	case ev := <-f.snaps:
		return ev.Payload.(types.AlertSnapshot)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for alert snapshot")
		return types.AlertSnapshot{}
	}
}

func (f *fixture) fatigue(level types.FatigueLevel) {
	f.bus.Publish(types.TopicFatigue, types.FatigueEvent{Level: level, FaceDetected: true, Timestamp: time.Now()})
}

func (f *fixture) voice(intent types.VoiceIntent) {
	f.bus.Publish(types.TopicVoice, types.VoiceCommand{Intent: intent, Timestamp: time.Now()})
}

func (f *fixture) gesture(kind types.GestureKind) {
	f.bus.Publish(types.TopicGesture, types.ButtonGesture{Kind: kind, Timestamp: time.Now()})
}

func TestLevelScenarioDrivesLedAndSpeech(t *testing.T) {
	f := newFixture(t, 60)

	// NORMAL → MILD → SEVERE → acknowledge → MILD → NORMAL
	f.fatigue(types.LevelMild)
	snap := f.waitSnapshot(t)
	if snap.Level != types.LevelMild || snap.Acknowledged {
		t.Fatalf("snapshot after mild = %+v", snap)
	}
	if p, c := f.led.Current(); p != hardware.PatternBlink || c != hardware.ColorYellow {
		t.Errorf("led after mild = %v %v, want blink yellow", p, c)
	}

	f.fatigue(types.LevelSevere)
	f.waitSnapshot(t)
	if p, c := f.led.Current(); p != hardware.PatternBreathe || c != hardware.ColorRed {
		t.Errorf("led after severe = %v %v, want breathe red", p, c)
	}

	f.voice(types.IntentAcknowledge)
	snap = f.waitSnapshot(t)
	if !snap.Acknowledged || snap.Level != types.LevelSevere {
		t.Fatalf("snapshot after acknowledge = %+v", snap)
	}
	// Acknowledging mutes but never downgrades: LED holds breathe red.
	if p, c := f.led.Current(); p != hardware.PatternBreathe || c != hardware.ColorRed {
		t.Errorf("led after acknowledge = %v %v, want breathe red", p, c)
	}

	f.fatigue(types.LevelMild)
	f.waitSnapshot(t)
	if p, c := f.led.Current(); p != hardware.PatternBlink || c != hardware.ColorYellow {
		t.Errorf("led after downgrade = %v %v, want blink yellow", p, c)
	}

	f.fatigue(types.LevelNormal)
	f.waitSnapshot(t)
	if p, c := f.led.Current(); p != hardware.PatternSolid || c != hardware.ColorGreen {
		t.Errorf("led after normal = %v %v, want solid green", p, c)
	}

	// Exactly one spoken warning per escalation; none on the way down.
	if got := f.speech.countNormal(mildWarningText); got != 1 {
		t.Errorf("mild warnings spoken = %d, want 1", got)
	}
	if got := f.speech.countUrgent(severeWarningText); got != 1 {
		t.Errorf("severe warnings spoken = %d, want 1", got)
	}

	// Full LED pattern sequence, including the initial normal state.
	want := []hardware.LedPattern{
		hardware.PatternSolid, hardware.PatternBlink, hardware.PatternBreathe,
		hardware.PatternBlink, hardware.PatternSolid,
	}
	history := f.led.History()
	if len(history) != len(want) {
		t.Fatalf("led history length = %d, want %d", len(history), len(want))
	}
	for i, st := range history {
		if st.Pattern != want[i] {
			t.Errorf("led history[%d] = %v, want %v", i, st.Pattern, want[i])
		}
	}
}

func TestSevereWarningRepeatsUntilAcknowledged(t *testing.T) {
	f := newFixture(t, 1)

	f.fatigue(types.LevelSevere)
	f.waitSnapshot(t)

	// The transition warning plus at least one repeat.
	deadline := time.Now().Add(3 * time.Second)
	for f.speech.countUrgent(severeWarningText) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("severe warning was not repeated")
		}
		time.Sleep(20 * time.Millisecond)
	}

	f.gesture(types.GestureSingle)
	snap := f.waitSnapshot(t)
	if !snap.Acknowledged {
		t.Fatalf("snapshot after single press = %+v, want acknowledged", snap)
	}

	count := f.speech.countUrgent(severeWarningText)
	time.Sleep(1500 * time.Millisecond)
	if got := f.speech.countUrgent(severeWarningText); got != count {
		t.Errorf("warnings kept repeating after acknowledge: %d -> %d", count, got)
	}
}

func TestAcknowledgeIsNoopAtNormal(t *testing.T) {
	f := newFixture(t, 60)

	f.voice(types.IntentAcknowledge)
	f.gesture(types.GestureSingle)

	select {
	case ev := <-f.snaps:
		t.Fatalf("unexpected snapshot %+v", ev.Payload)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestStatusQuerySpeaksWithoutMutation(t *testing.T) {
	f := newFixture(t, 60)

	f.gesture(types.GestureDouble)

	deadline := time.Now().Add(2 * time.Second)
	for f.speech.countNormal(statusNormalText) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("status was not spoken")
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case ev := <-f.snaps:
		t.Fatalf("status query mutated state: %+v", ev.Payload)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestPauseAndResume(t *testing.T) {
	f := newFixture(t, 60)

	ctrl, err := f.bus.Subscribe("test-ctrl", 8, types.TopicControl)
	if err != nil {
		t.Fatal(err)
	}

	f.voice(types.IntentStopMonitoring)
	snap := f.waitSnapshot(t)
	if !snap.Paused {
		t.Fatalf("snapshot after stop = %+v, want paused", snap)
	}

	select {
	case ev := <-ctrl:
		ce := ev.Payload.(types.ControlEvent)
		if ce.Action != types.ControlPause {
			t.Errorf("control action = %v, want pause", ce.Action)
		}
	case <-time.After(time.Second):
		t.Fatal("no pause control event")
	}

	// Fatigue events are held while paused.
	f.fatigue(types.LevelSevere)
	select {
	case ev := <-f.snaps:
		t.Fatalf("unexpected snapshot while paused: %+v", ev.Payload)
	case <-time.After(300 * time.Millisecond):
	}

	// A single press while paused resumes instead of acknowledging.
	f.gesture(types.GestureSingle)
	snap = f.waitSnapshot(t)
	if snap.Paused {
		t.Fatalf("snapshot after resume = %+v, want unpaused", snap)
	}
	if snap.Level != types.LevelNormal {
		t.Errorf("level mutated while paused: %v", snap.Level)
	}

	select {
	case ev := <-ctrl:
		ce := ev.Payload.(types.ControlEvent)
		if ce.Action != types.ControlResume {
			t.Errorf("control action = %v, want resume", ce.Action)
		}
	case <-time.After(time.Second):
		t.Fatal("no resume control event")
	}
}

func TestVeryLongPressRequestsShutdown(t *testing.T) {
	f := newFixture(t, 60)

	ctrl, err := f.bus.Subscribe("test-ctrl", 8, types.TopicControl)
	if err != nil {
		t.Fatal(err)
	}

	f.gesture(types.GestureVeryLong)

	select {
	case <-f.manager.ShutdownRequested():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown was not requested")
	}

	select {
	case ev := <-ctrl:
		ce := ev.Payload.(types.ControlEvent)
		if ce.Action != types.ControlShutdown {
			t.Errorf("control action = %v, want shutdown", ce.Action)
		}
	case <-time.After(time.Second):
		t.Fatal("no shutdown control event")
	}

	if got := f.speech.countUrgent(shutdownText); got != 1 {
		t.Errorf("shutdown announcements = %d, want 1", got)
	}
}
