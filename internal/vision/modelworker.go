package vision

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/e7canasta/vigil-mirror/internal/capture"
)

// requestTimeout bounds one round trip to the model process. Inference on
// the target hardware runs well under this.
const requestTimeout = 2 * time.Second

// workerRequest is one frame sent to the model process, base64 RGB over a
// JSON line on stdin.
type workerRequest struct {
	FrameData string `json:"frame_data"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Seq       uint64 `json:"seq"`
}

// workerResponse is the model process answer: the dominant face box and
// the 68-point landmark set, or a null face when nothing was found.
type workerResponse struct {
	Face      *workerBox   `json:"face"`
	Landmarks [][2]float64 `json:"landmarks"`
	Error     string       `json:"error,omitempty"`
}

type workerBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// ModelWorker runs the face detection and landmark models in a helper
// process, one JSON line per frame on stdin and one per result on stdout.
// It serves both backend interfaces from a single round trip: DetectLargest
// performs the inference and caches the landmarks, Extract returns them.
type ModelWorker struct {
	command string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	out    *bufio.Reader
	cancel context.CancelFunc

	cachedSeq       uint64
	cachedLandmarks LandmarkSet
}

// NewModelWorker spawns the helper process. The command is a shell-free
// path plus arguments, typically a venv wrapper script.
func NewModelWorker(ctx context.Context, command string) (*ModelWorker, error) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return nil, fmt.Errorf("vision: empty model worker command")
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, parts[0], parts[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("vision: model worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("vision: model worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("vision: model worker stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("vision: failed to start model worker: %w", err)
	}

	w := &ModelWorker{
		command: command,
		cmd:     cmd,
		stdin:   stdin,
		out:     bufio.NewReader(stdout),
		cancel:  cancel,
	}

	go w.logStderr(stderr)
	go func() {
		// Reap the process so a crash never leaves a zombie. The vision
		// service sees the crash as request errors and restarts.
		if err := cmd.Wait(); err != nil && runCtx.Err() == nil {
			slog.Error("model worker exited unexpectedly", "error", err)
		}
	}()

	slog.Info("model worker started", "command", parts[0], "pid", cmd.Process.Pid)
	return w, nil
}

// DetectLargest implements FaceDetector. One inference serves the
// subsequent Extract call for the same frame.
func (w *ModelWorker) DetectLargest(frame capture.Frame) (Box, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	resp, err := w.roundTrip(frame)
	if err != nil {
		return Box{}, false, err
	}
	if resp.Face == nil {
		return Box{}, false, nil
	}

	w.cachedSeq = frame.Seq
	w.cachedLandmarks = toLandmarkSet(resp.Landmarks)

	box := Box{X1: resp.Face.X1, Y1: resp.Face.Y1, X2: resp.Face.X2, Y2: resp.Face.Y2}
	return box, true, nil
}

// Extract implements LandmarkExtractor. The landmarks for the detected
// frame are already cached; a different frame needs its own round trip.
func (w *ModelWorker) Extract(frame capture.Frame, _ Box) (LandmarkSet, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if frame.Seq == w.cachedSeq && w.cachedLandmarks != nil {
		return w.cachedLandmarks, nil
	}

	resp, err := w.roundTrip(frame)
	if err != nil {
		return nil, err
	}
	if resp.Face == nil {
		return nil, fmt.Errorf("vision: face lost between detection and extraction")
	}
	return toLandmarkSet(resp.Landmarks), nil
}

// Close stops the helper process.
func (w *ModelWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stdin.Close()
	w.cancel()
	return nil
}

// roundTrip sends one frame and reads one response. Caller holds the lock.
func (w *ModelWorker) roundTrip(frame capture.Frame) (*workerResponse, error) {
	req := workerRequest{
		FrameData: base64.StdEncoding.EncodeToString(frame.Data),
		Width:     frame.Width,
		Height:    frame.Height,
		Seq:       frame.Seq,
	}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("vision: failed to encode frame: %w", err)
	}
	line = append(line, '\n')

	type result struct {
		resp *workerResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		if _, err := w.stdin.Write(line); err != nil {
			done <- result{err: fmt.Errorf("vision: model worker write: %w", err)}
			return
		}
		raw, err := w.out.ReadBytes('\n')
		if err != nil {
			done <- result{err: fmt.Errorf("vision: model worker read: %w", err)}
			return
		}
		var resp workerResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			done <- result{err: fmt.Errorf("vision: model worker response: %w", err)}
			return
		}
		done <- result{resp: &resp}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if r.resp.Error != "" {
			return nil, fmt.Errorf("vision: model worker error: %s", r.resp.Error)
		}
		return r.resp, nil
	case <-time.After(requestTimeout):
		return nil, fmt.Errorf("vision: model worker timeout after %s", requestTimeout)
	}
}

func (w *ModelWorker) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]") || strings.Contains(line, "[CRITICAL]"):
			slog.Error("model worker", "line", line)
		case strings.Contains(line, "[WARNING]"):
			slog.Warn("model worker", "line", line)
		default:
			slog.Debug("model worker", "line", line)
		}
	}
}

func toLandmarkSet(points [][2]float64) LandmarkSet {
	set := make(LandmarkSet, 0, len(points))
	for _, p := range points {
		set = append(set, Point{X: p[0], Y: p[1]})
	}
	return set
}
