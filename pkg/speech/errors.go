package speech

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrNoAudio is returned when playback is requested but no audio exists yet.
	ErrNoAudio = errors.New("speech: no audio available")

	// ErrUnsupportedFormat is returned by sinks that cannot play an encoding.
	ErrUnsupportedFormat = errors.New("speech: unsupported audio format")

	// ErrNoPlayer is returned when playback is requested with no player wired.
	ErrNoPlayer = errors.New("speech: no audio player configured")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("speech: speaker closed")
)

// PlaybackError reports audio that could not be produced or played.
// It is surfaced to the user and never fatal.
type PlaybackError struct {
	// Op is "say" or "play-url".
	Op string

	// Target is the utterance text or audio URL.
	Target string

	Err error
}

// Error implements the error interface.
func (e *PlaybackError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("speech %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("speech %s %q: %v", e.Op, e.Target, e.Err)
}

// Unwrap returns the underlying error.
func (e *PlaybackError) Unwrap() error {
	return e.Err
}
