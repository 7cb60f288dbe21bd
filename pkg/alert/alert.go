// Package alert decides what to say and when. The Throttler suppresses a
// repeated utterance inside the cooldown window and otherwise cancels the
// current speech and issues the new one.
package alert

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teslashibe/go-cane/pkg/detection"
	"github.com/teslashibe/go-cane/pkg/spatial"
)

// DefaultCooldown is the minimum gap before an identical alert repeats.
const DefaultCooldown = 3 * time.Second

// Output is the speech collaborator the throttler drives.
type Output interface {
	// Say starts speaking text, replacing anything in progress.
	Say(text string)

	// Cancel stops any speech in progress.
	Cancel()
}

// State is the last spoken alert.
type State struct {
	LastText string
	LastAt   time.Time
}

// Alert is emitted for every utterance that was actually issued.
type Alert struct {
	ID   uuid.UUID `json:"id"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Mode selects how many detections are narrated per cycle.
type Mode string

const (
	// Single narrates the first eligible detection in list order.
	Single Mode = "single"

	// All narrates every eligible detection, joined into one utterance.
	All Mode = "all"
)

// Option configures a Throttler.
type Option func(*Throttler)

// WithCooldown overrides DefaultCooldown.
func WithCooldown(d time.Duration) Option {
	return func(t *Throttler) {
		t.cooldown = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Throttler) {
		t.logger = logger
	}
}

// WithOnAlert registers a hook called after each issued alert.
func WithOnAlert(fn func(Alert)) Option {
	return func(t *Throttler) {
		t.onAlert = fn
	}
}

// Throttler owns State. It is safe for concurrent use, though the pipeline
// only calls it from its loop goroutine.
type Throttler struct {
	out      Output
	cooldown time.Duration
	logger   *slog.Logger
	onAlert  func(Alert)

	mu    sync.Mutex
	state State
}

// NewThrottler creates a throttler driving out.
func NewThrottler(out Output, opts ...Option) *Throttler {
	t := &Throttler{
		out:      out,
		cooldown: DefaultCooldown,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "alert.throttler")
	return t
}

// MaybeSpeak speaks text unless it repeats the last alert within the
// cooldown. It returns true when speech was issued.
func (t *Throttler) MaybeSpeak(text string, now time.Time) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	t.mu.Lock()
	if text == t.state.LastText && now.Sub(t.state.LastAt) < t.cooldown {
		t.mu.Unlock()
		t.logger.Debug("alert suppressed", "text", text)
		return false
	}
	t.state = State{LastText: text, LastAt: now}
	t.mu.Unlock()

	t.out.Cancel()
	t.out.Say(text)
	t.logger.Info("alert", "text", text)

	if t.onAlert != nil {
		t.onAlert(Alert{ID: uuid.New(), Text: text, At: now})
	}
	return true
}

// State returns a copy of the last spoken alert.
func (t *Throttler) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Reset forgets the last alert and stops speech in progress.
func (t *Throttler) Reset() {
	t.mu.Lock()
	t.state = State{}
	t.mu.Unlock()
	t.out.Cancel()
}

// Selector builds the utterance for one detection cycle.
type Selector struct {
	estimator *spatial.Estimator
	mode      Mode
}

// NewSelector creates a selector. An unknown mode falls back to Single.
func NewSelector(estimator *spatial.Estimator, mode Mode) *Selector {
	if estimator == nil {
		estimator = spatial.New()
	}
	if mode != All {
		mode = Single
	}
	return &Selector{estimator: estimator, mode: mode}
}

// Utterance returns the phrase to speak for dets in a width x height frame,
// or false when nothing is eligible.
func (s *Selector) Utterance(dets []detection.Detection, width, height int) (string, bool) {
	var phrases []string
	for _, d := range dets {
		if !s.estimator.Eligible(d) {
			continue
		}
		phrases = append(phrases, spatial.Phrase(s.estimator.Describe(d, width, height)))
		if s.mode == Single {
			break
		}
	}
	if len(phrases) == 0 {
		return "", false
	}
	return strings.Join(phrases, "; "), true
}

// Mode returns the narration mode in use.
func (s *Selector) Mode() Mode {
	return s.mode
}
