package vision

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEyeAspectRatioOpenEye(t *testing.T) {
	eye := []Point{
		{0, 0}, {1, 1}, {2, 1}, {3, 0}, {2, -1}, {1, -1},
	}
	// a = |p1-p5| = 2, b = |p2-p4| = 2, c = |p0-p3| = 3
	got := EyeAspectRatio(eye)
	want := 4.0 / 6.0
	if !almostEqual(got, want) {
		t.Errorf("EyeAspectRatio = %v, want %v", got, want)
	}
}

func TestEyeAspectRatioClosedEye(t *testing.T) {
	eye := []Point{
		{0, 0}, {1, 0}, {2, 0}, {3, 0}, {2, 0}, {1, 0},
	}
	if got := EyeAspectRatio(eye); got != 0 {
		t.Errorf("closed eye EAR = %v, want 0", got)
	}
}

func TestEyeAspectRatioDegenerate(t *testing.T) {
	// All points coincide: horizontal span is zero.
	eye := make([]Point, 6)
	if got := EyeAspectRatio(eye); got != 0 {
		t.Errorf("degenerate EAR = %v, want 0", got)
	}
	if got := EyeAspectRatio(nil); got != 0 {
		t.Errorf("nil slice EAR = %v, want 0", got)
	}
	if got := EyeAspectRatio(make([]Point, 5)); got != 0 {
		t.Errorf("short slice EAR = %v, want 0", got)
	}
}

func TestMouthAspectRatioOpenMouth(t *testing.T) {
	mouth := []Point{
		{0, 0}, {1, 1}, {2, 1.5}, {3, 1},
		{4, 0}, {3, -1}, {2, -1.5}, {1, -1},
	}
	// a = 2, b = 3, c = 2, d = 4
	got := MouthAspectRatio(mouth)
	want := 7.0 / 12.0
	if !almostEqual(got, want) {
		t.Errorf("MouthAspectRatio = %v, want %v", got, want)
	}
}

func TestMouthAspectRatioClosedMouth(t *testing.T) {
	mouth := []Point{
		{0, 0}, {1, 0}, {2, 0}, {3, 0}, {4, 0}, {3, 0}, {2, 0}, {1, 0},
	}
	if got := MouthAspectRatio(mouth); got != 0 {
		t.Errorf("closed mouth MAR = %v, want 0", got)
	}
}

func TestMouthAspectRatioDegenerate(t *testing.T) {
	if got := MouthAspectRatio(make([]Point, 8)); got != 0 {
		t.Errorf("degenerate MAR = %v, want 0", got)
	}
	if got := MouthAspectRatio(make([]Point, 7)); got != 0 {
		t.Errorf("short slice MAR = %v, want 0", got)
	}
}
