package audio

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// KeywordWake spots the wake phrase with a long-running pocketsphinx
// process in keyphrase mode. Raw PCM goes in on stdin; every stdout line
// containing the phrase sets a detection that the next Process call
// consumes.
type KeywordWake struct {
	phrase   string
	stdin    io.WriteCloser
	cancel   context.CancelFunc
	detected atomic.Bool
}

// NewKeywordWake spawns the keyword spotter.
func NewKeywordWake(ctx context.Context, phrase string, sampleRate int) (*KeywordWake, error) {
	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, "pocketsphinx",
		"--keyphrase", phrase,
		"--samprate", strconv.Itoa(sampleRate),
		"-",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("audio: keyword spotter stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("audio: keyword spotter stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("audio: failed to start keyword spotter: %w", err)
	}

	w := &KeywordWake{phrase: strings.ToLower(phrase), stdin: stdin, cancel: cancel}

	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if strings.Contains(strings.ToLower(scanner.Text()), w.phrase) {
				w.detected.Store(true)
			}
		}
	}()
	go func() {
		if err := cmd.Wait(); err != nil && runCtx.Err() == nil {
			slog.Error("keyword spotter exited unexpectedly", "error", err)
		}
	}()

	slog.Info("keyword spotter started", "phrase", phrase, "pid", cmd.Process.Pid)
	return w, nil
}

// Process implements WakeDetector: feed the chunk, report 1.0 once per
// spotted phrase.
func (w *KeywordWake) Process(chunk Chunk) (float64, error) {
	if err := binary.Write(w.stdin, binary.LittleEndian, chunk.Samples); err != nil {
		return 0, fmt.Errorf("audio: keyword spotter write: %w", err)
	}
	if w.detected.CompareAndSwap(true, false) {
		return 1.0, nil
	}
	return 0, nil
}

// Close stops the spotter process.
func (w *KeywordWake) Close() error {
	w.stdin.Close()
	w.cancel()
	return nil
}

// decodeGrace bounds how long the decoder may keep running after its
// input closes. A decoder that ignores EOF is killed so the listening
// session always ends.
const decodeGrace = 2 * time.Second

// SphinxTranscriber runs one pocketsphinx decode per listening window. It
// streams the window's chunks to stdin and returns the decoded utterance
// when the window closes.
type SphinxTranscriber struct {
	sampleRate int
	command    string
}

// NewSphinxTranscriber creates a transcriber for the given capture rate.
func NewSphinxTranscriber(sampleRate int) *SphinxTranscriber {
	return &SphinxTranscriber{sampleRate: sampleRate, command: "pocketsphinx"}
}

// Transcribe implements Transcriber. The context deadline is the hard
// listening timeout: when it fires the stream is closed and whatever was
// decoded so far comes back.
func (s *SphinxTranscriber) Transcribe(ctx context.Context, chunks <-chan Chunk) (string, error) {
	// The process deliberately outlives the listening deadline: after the
	// window closes it still has to flush the decode. Its own context
	// bounds that flush.
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(runCtx, s.command,
		"--samprate", strconv.Itoa(s.sampleRate),
		"single", "-",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("audio: transcriber stdin: %w", err)
	}
	var out strings.Builder
	cmd.Stdout = &out

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("audio: failed to start transcriber: %w", err)
	}

	feed := func() {
		defer stdin.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-chunks:
				if !ok {
					return
				}
				if err := binary.Write(stdin, binary.LittleEndian, chunk.Samples); err != nil {
					return
				}
			}
		}
	}
	feed()

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case err = <-waitErr:
	case <-time.After(decodeGrace):
		cancel()
		<-waitErr
		return "", errors.New("audio: transcriber ignored end of input, killed")
	}
	if err != nil {
		return "", fmt.Errorf("audio: transcriber failed: %w", err)
	}

	transcript := strings.TrimSpace(out.String())
	return transcript, nil
}
