// Package speech turns alert text and pre-rendered audio into sound. A
// Speaker owns at most one utterance at a time: every new request cancels the
// one in progress and replaces it.
package speech

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/teslashibe/go-cane/internal/httpc"
	"github.com/teslashibe/go-cane/pkg/alert"
	"github.com/teslashibe/go-cane/pkg/tts"
)

// maxURLAudio bounds a fetched pre-rendered clip.
const maxURLAudio = 16 << 20

// Option configures a Speaker.
type Option func(*Speaker)

// WithProvider sets the TTS provider. Without one, Say only logs the text.
func WithProvider(p tts.Provider) Option {
	return func(s *Speaker) {
		s.provider = p
	}
}

// WithHTTPClient sets the client used by PlayURL.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Speaker) {
		s.client = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Speaker) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithOnError registers a callback for failed utterances. Cancelled
// utterances are not failures.
func WithOnError(fn func(error)) Option {
	return func(s *Speaker) {
		s.onError = fn
	}
}

// Speaker synthesizes and plays one utterance at a time.
type Speaker struct {
	sink     Sink
	provider tts.Provider
	client   *http.Client
	logger   *slog.Logger
	onError  func(error)

	ctx  context.Context
	stop context.CancelFunc

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// NewSpeaker creates a speaker that plays through sink.
func NewSpeaker(sink Sink, opts ...Option) *Speaker {
	ctx, stop := context.WithCancel(context.Background())
	s := &Speaker{
		sink:   sink,
		logger: slog.Default(),
		ctx:    ctx,
		stop:   stop,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "speech.speaker", "sink", sink.Name())
	return s
}

// Say cancels the current utterance and speaks text asynchronously.
func (s *Speaker) Say(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if s.provider == nil {
		s.logger.Info("alert (text only)", "text", text)
		return
	}
	err := s.start("say", text, func(ctx context.Context) (*tts.AudioResult, error) {
		return s.provider.Synthesize(ctx, text)
	})
	if err != nil {
		s.logger.Debug("alert dropped", "text", text, "error", err)
	}
}

// PlayURL cancels the current utterance and plays the audio at url.
// After Close it returns a *PlaybackError wrapping ErrClosed.
func (s *Speaker) PlayURL(url string) error {
	if url == "" {
		return &PlaybackError{Op: "play-url", Err: ErrNoAudio}
	}
	err := s.start("play-url", url, func(ctx context.Context) (*tts.AudioResult, error) {
		return s.fetch(ctx, url)
	})
	if err != nil {
		return &PlaybackError{Op: "play-url", Target: url, Err: err}
	}
	return nil
}

// Cancel stops whatever is playing.
func (s *Speaker) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Speaking reports whether an utterance is being synthesized or played.
func (s *Speaker) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

// Wait blocks until the current utterance, if any, has finished.
func (s *Speaker) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Close stops playback and releases the sink and provider.
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	done := s.done
	s.mu.Unlock()

	s.stop()
	if done != nil {
		<-done
	}

	err := s.sink.Close()
	if s.provider != nil {
		if perr := s.provider.Close(); err == nil {
			err = perr
		}
	}
	return err
}

func (s *Speaker) start(op, target string, load func(context.Context) (*tts.AudioResult, error)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.cancel != nil {
		s.cancel()
	}
	prev := s.done

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	s.gen++
	gen := s.gen
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	go func() {
		defer close(done)

		// The sink is exclusive: the replaced utterance must be gone first.
		if prev != nil {
			<-prev
		}

		audio, err := load(ctx)
		if err == nil {
			s.logger.Debug("playing", "op", op, "bytes", len(audio.Audio), "encoding", audio.Format.Encoding)
			err = s.sink.Play(ctx, audio)
		}
		cancelled := ctx.Err() != nil

		s.mu.Lock()
		if s.gen == gen {
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
		cancel()

		if err != nil && !cancelled {
			s.report(&PlaybackError{Op: op, Target: target, Err: err})
		}
	}()
	return nil
}

func (s *Speaker) fetch(ctx context.Context, url string) (*tts.AudioResult, error) {
	resp, err := httpc.Get(ctx, s.client, url)
	if err != nil {
		return nil, err
	}
	defer httpc.Drain(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch audio: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxURLAudio))
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNoAudio
	}
	return &tts.AudioResult{
		Audio:  data,
		Format: formatFromContentType(resp.Header.Get("Content-Type")),
	}, nil
}

// formatFromContentType maps a response type to a format. Anything that is
// not MP3 is left for the player to identify.
func formatFromContentType(ct string) tts.AudioFormat {
	ct = strings.ToLower(ct)
	switch {
	case strings.HasPrefix(ct, "audio/mpeg"), strings.HasPrefix(ct, "audio/mp3"):
		return tts.AudioFormat{Encoding: tts.EncodingMP3, SampleRate: 44100, Channels: 1}
	default:
		return tts.AudioFormat{}
	}
}

func (s *Speaker) report(err error) {
	s.logger.Warn("playback failed", "error", err)
	if s.onError != nil {
		s.onError(err)
	}
}

// Verify Speaker drives alerts at compile time.
var _ alert.Output = (*Speaker)(nil)
