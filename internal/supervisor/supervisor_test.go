package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/vigil-mirror/internal/bus"
	"github.com/e7canasta/vigil-mirror/internal/hardware"
	"github.com/e7canasta/vigil-mirror/internal/types"
)

type recordSpeech struct {
	mu     sync.Mutex
	urgent []string
}

func (r *recordSpeech) SayUrgent(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urgent = append(r.urgent, text)
	return nil
}

func (r *recordSpeech) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.urgent)
}

// fakeService is a scriptable worker: it can beat, crash immediately, or
// stop on its own.
type fakeService struct {
	id        string
	beatEvery time.Duration // 0 = never beat
	crash     bool          // return an error immediately
	stop      bool          // return nil immediately
	b         *bus.Bus

	mu   sync.Mutex
	runs int
}

func (f *fakeService) ID() string { return f.id }

func (f *fakeService) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func (f *fakeService) Run(ctx context.Context) error {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()

	if f.crash {
		return errors.New("boom")
	}
	if f.stop {
		return nil
	}

	if f.beatEvery > 0 {
		ticker := time.NewTicker(f.beatEvery)
		defer ticker.Stop()
		f.b.Publish(types.TopicHeartbeat, types.Heartbeat{ServiceID: f.id, Timestamp: time.Now()})
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				f.b.Publish(types.TopicHeartbeat, types.Heartbeat{ServiceID: f.id, Timestamp: time.Now()})
			}
		}
	}

	<-ctx.Done()
	return nil
}

func testOptions() Options {
	return Options{
		HeartbeatInterval: 50 * time.Millisecond,
		SilenceFactor:     2,
		MaxRetries:        2,
		BackoffInitial:    10 * time.Millisecond,
		BackoffMax:        50 * time.Millisecond,
		BackoffFactor:     2.0,
	}
}

func runSupervisor(t *testing.T, b *bus.Bus, led *hardware.Simulated, speech *recordSpeech, services ...Service) (*Supervisor, context.CancelFunc) {
	t.Helper()
	sup := New(testOptions(), b, led, speech, services...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("supervisor did not stop")
		}
	})
	return sup, cancel
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealthyServiceIsNotRestarted(t *testing.T) {
	b := bus.New()
	defer b.Close()

	svc := &fakeService{id: "healthy", beatEvery: 20 * time.Millisecond, b: b}
	runSupervisor(t, b, hardware.NewSimulated(), &recordSpeech{}, svc)

	time.Sleep(400 * time.Millisecond)
	if got := svc.runCount(); got != 1 {
		t.Errorf("healthy service ran %d times, want 1", got)
	}
}

func TestSilentServiceIsRestarted(t *testing.T) {
	b := bus.New()
	defer b.Close()

	svc := &fakeService{id: "mute", b: b}
	runSupervisor(t, b, hardware.NewSimulated(), &recordSpeech{}, svc)

	waitFor(t, 2*time.Second, func() bool { return svc.runCount() >= 2 },
		"silent service was not restarted")
}

func TestCrashingServiceGoesFatalAfterRetryBudget(t *testing.T) {
	b := bus.New()
	defer b.Close()

	led := hardware.NewSimulated()
	speech := &recordSpeech{}
	svc := &fakeService{id: "crasher", crash: true, b: b}
	sup, _ := runSupervisor(t, b, led, speech, svc)

	// Initial run plus MaxRetries restarts, then no further attempts.
	waitFor(t, 3*time.Second, func() bool { return svc.runCount() == 3 },
		"crashing service did not exhaust its retries")

	waitFor(t, 2*time.Second, func() bool { return speech.count() == 1 },
		"fatal notice was not spoken")

	time.Sleep(300 * time.Millisecond)
	if got := svc.runCount(); got != 3 {
		t.Errorf("restart attempts continued after fatal: %d", got)
	}

	p, c := led.Current()
	if p != hardware.PatternOff || c != hardware.ColorOff {
		t.Errorf("led = %v %v, want off pattern after fatal", p, c)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	status, err := sup.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(status) != 1 || !status[0].Fatal {
		t.Errorf("status = %+v, want single fatal entry", status)
	}
}

func TestIntentionalStopIsNotRestarted(t *testing.T) {
	b := bus.New()
	defer b.Close()

	svc := &fakeService{id: "oneshot", stop: true, b: b}
	sup, _ := runSupervisor(t, b, hardware.NewSimulated(), &recordSpeech{}, svc)

	time.Sleep(400 * time.Millisecond)
	if got := svc.runCount(); got != 1 {
		t.Errorf("stopped service ran %d times, want 1", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	status, err := sup.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(status) != 1 || !status[0].Stopped || status[0].Fatal {
		t.Errorf("status = %+v, want single stopped entry", status)
	}
}

func TestDegradedModeKeepsOthersRunning(t *testing.T) {
	b := bus.New()
	defer b.Close()

	crasher := &fakeService{id: "crasher", crash: true, b: b}
	healthy := &fakeService{id: "healthy", beatEvery: 20 * time.Millisecond, b: b}
	runSupervisor(t, b, hardware.NewSimulated(), &recordSpeech{}, crasher, healthy)

	waitFor(t, 3*time.Second, func() bool { return crasher.runCount() == 3 },
		"crasher did not exhaust retries")

	if got := healthy.runCount(); got != 1 {
		t.Errorf("healthy service ran %d times, want 1", got)
	}
}
