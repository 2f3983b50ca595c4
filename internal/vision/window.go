package vision

import "time"

// FatigueSample is one per-frame measurement.
type FatigueSample struct {
	Timestamp time.Time
	EAR       float64
	MAR       float64
}

// FatigueWindow holds the trailing perclos_window of samples. Eviction is
// per-sample: every append discards samples older than the window, so
// memory stays bounded regardless of uptime.
type FatigueWindow struct {
	window  time.Duration
	samples []FatigueSample
}

// NewFatigueWindow creates a window of the given trailing duration.
func NewFatigueWindow(window time.Duration) *FatigueWindow {
	return &FatigueWindow{window: window}
}

// Add appends a sample and evicts everything older than the window
// relative to the new sample's timestamp.
func (w *FatigueWindow) Add(s FatigueSample) {
	w.samples = append(w.samples, s)
	w.evict(s.Timestamp)
}

func (w *FatigueWindow) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.samples) && w.samples[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
}

// PERCLOS returns the fraction of samples whose EAR is below the
// threshold. Always in [0, 1]; an empty window yields 0.
func (w *FatigueWindow) PERCLOS(earThreshold float64) float64 {
	if len(w.samples) == 0 {
		return 0
	}
	closed := 0
	for _, s := range w.samples {
		if s.EAR < earThreshold {
			closed++
		}
	}
	return float64(closed) / float64(len(w.samples))
}

// Len returns the current sample count.
func (w *FatigueWindow) Len() int { return len(w.samples) }

// YawnCounter counts yawn onsets over a trailing minute. Consecutive
// above-threshold frames belong to the same yawn; only the rising edge
// counts.
type YawnCounter struct {
	window  time.Duration
	yawning bool
	onsets  []time.Time
}

// NewYawnCounter creates a counter over the standard one-minute window.
func NewYawnCounter() *YawnCounter {
	return &YawnCounter{window: time.Minute}
}

// Observe feeds one MAR measurement and returns the current yawns/minute.
func (c *YawnCounter) Observe(mar, threshold float64, now time.Time) int {
	open := mar > threshold
	if open && !c.yawning {
		c.onsets = append(c.onsets, now)
	}
	c.yawning = open

	cutoff := now.Add(-c.window)
	i := 0
	for i < len(c.onsets) && c.onsets[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		c.onsets = append(c.onsets[:0], c.onsets[i:]...)
	}
	return len(c.onsets)
}
