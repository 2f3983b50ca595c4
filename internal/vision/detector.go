package vision

import "github.com/e7canasta/vigil-mirror/internal/capture"

// Box is a face bounding box in pixel coordinates.
type Box struct {
	X1, Y1, X2, Y2 int
}

// Area returns the box area in pixels.
func (b Box) Area() int {
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

// LandmarkSet is the ordered 68-point facial landmark layout. It is
// derived per frame and discarded after metric extraction.
type LandmarkSet []Point

// Landmark index ranges in the 68-point layout.
const (
	rightEyeStart = 36
	rightEyeEnd   = 42
	leftEyeStart  = 42
	leftEyeEnd    = 48
	mouthStart    = 60
	mouthEnd      = 68
	landmarkCount = 68
)

// LeftEye returns the 6 left-eye landmarks.
func (l LandmarkSet) LeftEye() []Point { return l[leftEyeStart:leftEyeEnd] }

// RightEye returns the 6 right-eye landmarks.
func (l LandmarkSet) RightEye() []Point { return l[rightEyeStart:rightEyeEnd] }

// Mouth returns the 8 inner-mouth landmarks.
func (l LandmarkSet) Mouth() []Point { return l[mouthStart:mouthEnd] }

// Valid reports whether the set carries the full layout.
func (l LandmarkSet) Valid() bool { return len(l) == landmarkCount }

// FaceDetector finds the dominant face in a frame. The concrete model is
// an external, replaceable component; implementations return ok=false when
// no face is present, which is a normal operating mode, not an error.
type FaceDetector interface {
	DetectLargest(frame capture.Frame) (Box, bool, error)
}

// LandmarkExtractor maps a frame region to the 68-point landmark set.
type LandmarkExtractor interface {
	Extract(frame capture.Frame, box Box) (LandmarkSet, error)
}
