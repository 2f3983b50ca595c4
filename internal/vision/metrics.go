package vision

import "math"

// Point is a 2-D facial landmark coordinate.
type Point struct {
	X, Y float64
}

func dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// EyeAspectRatio computes EAR from 6 eye landmarks ordered corner, top×2,
// corner, bottom×2. Low values indicate a closed eye. Returns 0 when the
// horizontal span degenerates.
func EyeAspectRatio(eye []Point) float64 {
	if len(eye) != 6 {
		return 0
	}
	a := dist(eye[1], eye[5])
	b := dist(eye[2], eye[4])
	c := dist(eye[0], eye[3])
	if c == 0 {
		return 0
	}
	return (a + b) / (2.0 * c)
}

// MouthAspectRatio computes MAR from the 8 inner-mouth landmarks. High
// values indicate an open mouth and serve as the yawn proxy.
func MouthAspectRatio(mouth []Point) float64 {
	if len(mouth) != 8 {
		return 0
	}
	a := dist(mouth[1], mouth[7])
	b := dist(mouth[2], mouth[6])
	c := dist(mouth[3], mouth[5])
	d := dist(mouth[0], mouth[4])
	if d == 0 {
		return 0
	}
	return (a + b + c) / (3.0 * d)
}
