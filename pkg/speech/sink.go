package speech

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"

	"github.com/teslashibe/go-cane/pkg/tts"
)

// Sink plays one complete audio buffer.
type Sink interface {
	// Play blocks until the audio finished or ctx is cancelled. Cancelling
	// ctx must stop output promptly.
	Play(ctx context.Context, audio *tts.AudioResult) error

	// Name returns the sink backend name (e.g., "exec", "rtp", "mock").
	Name() string

	// Close releases resources.
	Close() error
}

// ExecSink pipes audio into an external player process, which is killed
// when playback is cancelled.
type ExecSink struct {
	program string
	args    func(tts.AudioFormat) []string
}

// NewExecSink plays through program (ffplay by default). Raw PCM is
// described to the player with -f s16le; containers are left to ffplay.
func NewExecSink(program string) *ExecSink {
	if program == "" {
		program = "ffplay"
	}
	return &ExecSink{program: program, args: ffplayArgs}
}

// WithArgs replaces the argument builder, for players other than ffplay.
func (e *ExecSink) WithArgs(fn func(tts.AudioFormat) []string) *ExecSink {
	e.args = fn
	return e
}

// Play runs the player with audio on stdin.
func (e *ExecSink) Play(ctx context.Context, audio *tts.AudioResult) error {
	if audio == nil || len(audio.Audio) == 0 {
		return ErrNoAudio
	}

	cmd := exec.CommandContext(ctx, e.program, e.args(audio.Format)...)
	cmd.Stdin = bytes.NewReader(audio.Audio)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w", e.program, err)
	}
	return nil
}

// Name returns "exec".
func (e *ExecSink) Name() string {
	return "exec"
}

// Close is a no-op; each Play owns its process.
func (e *ExecSink) Close() error {
	return nil
}

func ffplayArgs(f tts.AudioFormat) []string {
	args := []string{"-nodisp", "-autoexit", "-loglevel", "quiet"}
	if f.IsPCM() {
		args = append(args, "-f", "s16le", "-ar", strconv.Itoa(f.SampleRate), "-ac", "1")
	}
	return append(args, "-i", "-")
}

// MockSink records plays for tests. When Block is set, Play waits for
// cancellation.
type MockSink struct {
	Block bool

	// Err is returned from every Play when set.
	Err error

	mu     sync.Mutex
	played []*tts.AudioResult
	cancel int
}

// Play records audio.
func (m *MockSink) Play(ctx context.Context, audio *tts.AudioResult) error {
	m.mu.Lock()
	m.played = append(m.played, audio)
	block, err := m.Block, m.Err
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		m.mu.Lock()
		m.cancel++
		m.mu.Unlock()
		return ctx.Err()
	}
	return err
}

// Name returns "mock".
func (m *MockSink) Name() string {
	return "mock"
}

// Close is a no-op.
func (m *MockSink) Close() error {
	return nil
}

// Played returns the recorded audio buffers.
func (m *MockSink) Played() []*tts.AudioResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*tts.AudioResult(nil), m.played...)
}

// Cancelled returns how many blocking plays were cancelled.
func (m *MockSink) Cancelled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel
}

// Verify sinks implement Sink at compile time.
var (
	_ Sink = (*ExecSink)(nil)
	_ Sink = (*MockSink)(nil)
)
