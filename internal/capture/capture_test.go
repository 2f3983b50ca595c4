package capture

import (
	"context"
	"testing"
	"time"
)

func TestMockStreamDeliversFrames(t *testing.T) {
	m := NewMockStream(64, 48, 100)

	frames, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	var last uint64
	for i := 0; i < 3; i++ {
		select {
		case f := <-frames:
			if f.Width != 64 || f.Height != 48 {
				t.Errorf("frame dimensions = %dx%d", f.Width, f.Height)
			}
			if len(f.Data) != 64*48*3 {
				t.Errorf("frame data size = %d", len(f.Data))
			}
			if i > 0 && f.Seq <= last {
				t.Errorf("sequence not monotonic: %d after %d", f.Seq, last)
			}
			last = f.Seq
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for frame")
		}
	}
}

func TestMockStreamStopClosesChannel(t *testing.T) {
	m := NewMockStream(8, 8, 100)

	frames, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	// Stop must be idempotent.
	if err := m.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-frames:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("frame channel not closed after Stop")
		}
	}
}

func TestMockStreamDoubleStart(t *testing.T) {
	m := NewMockStream(8, 8, 10)
	if _, err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	if _, err := m.Start(context.Background()); err == nil {
		t.Error("expected error on double Start")
	}
}

func TestV4L2ConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  V4L2Config
	}{
		{"missing device", V4L2Config{Width: 640, Height: 480, TargetFPS: 15}},
		{"zero fps", V4L2Config{Device: "/dev/video0", Width: 640, Height: 480}},
		{"bad resolution", V4L2Config{Device: "/dev/video0", TargetFPS: 15}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewV4L2Stream(tc.cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
