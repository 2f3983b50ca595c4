// Package capture acquires camera frames for the vision pipeline.
//
// The camera is a scoped resource: a Provider owns the device exclusively
// between Start and Stop, and frames are delivered over a channel with a
// drop-oldest policy so a slow consumer never stalls acquisition.
package capture

import (
	"context"
	"time"
)

// Frame is a single timestamped image sample. It is ephemeral: the vision
// pipeline owns it for one processing cycle and never retains it.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	// Data holds raw RGB pixels (3 bytes per pixel).
	Data []byte
	// TraceID identifies the frame across log lines.
	TraceID string
}

// Stats is a snapshot of acquisition counters.
type Stats struct {
	FrameCount    uint64
	FramesDropped uint64
	FPSTarget     float64
	FPSReal       float64
	IsConnected   bool
}

// Provider is the contract for camera acquisition.
//
// Implementations must guarantee:
//   - Start returns quickly; frames arrive asynchronously
//   - the frame channel stays open until Stop
//   - Stop is idempotent and releases the device
//   - Stats is safe to call from any goroutine
type Provider interface {
	Start(ctx context.Context) (<-chan Frame, error)
	Stop() error
	Stats() Stats
}
