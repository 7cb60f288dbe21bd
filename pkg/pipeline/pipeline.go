// Package pipeline runs the detection loop: it polls a frame source, runs
// one detection at a time on new frames, speaks the most salient object and
// presents annotated frames.
//
// A single goroutine owns all loop state. Public methods post commands to it
// and wait for the outcome, so transitions never race each other. Poll and
// detect I/O run in goroutines that report back through channels; each carries
// the generation it was started under and is discarded on arrival if a stop or
// disable happened in between.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-cane/pkg/detection"
	"github.com/teslashibe/go-cane/pkg/frame"
)

// Detector runs inference on a frame. *detection.Adapter satisfies it.
type Detector interface {
	Detect(ctx context.Context, s frame.Sample) (*detection.Result, error)
}

// Alerter speaks an utterance subject to de-duplication. *alert.Throttler
// satisfies it.
type Alerter interface {
	MaybeSpeak(text string, now time.Time) bool
	Reset()
}

// Narrator picks what to say for a set of detections. *alert.Selector
// satisfies it.
type Narrator interface {
	Utterance(dets []detection.Detection, width, height int) (string, bool)
}

// Display shows a frame, with detections drawn over it when dets is non-empty.
// *overlay.Presenter satisfies it.
type Display interface {
	Present(s frame.Sample, dets []detection.Detection) error
}

// AudioPlayer plays pre-rendered audio. *speech.Speaker satisfies it.
type AudioPlayer interface {
	PlayURL(url string) error
}

// Components are the loop's collaborators. Source and Detector are required.
type Components struct {
	Source   frame.Source
	Detector Detector
	Alerter  Alerter
	Narrator Narrator
	Display  Display
	Audio    AudioPlayer
}

type op int

const (
	opStart op = iota
	opStop
	opEnable
	opDisable
	opCapture
	opPlayAudio
	opClose
)

var opNames = [...]string{"start", "stop", "enable detection", "disable detection", "capture", "play audio", "close"}

func (o op) String() string {
	return opNames[o]
}

type command struct {
	op    op
	reply chan error
}

type pollResult struct {
	gen    uint64
	sample frame.Sample
	err    error
}

type detectResult struct {
	gen    uint64
	sample frame.Sample
	result *detection.Result
	err    error
}

// Pipeline is the detection loop.
type Pipeline struct {
	c      Components
	cfg    Config
	logger *slog.Logger

	cmds     chan command
	polled   chan pollResult
	detected chan detectResult
	done     chan struct{}

	// Loop-owned state. Only the loop goroutine touches these.
	state       State
	gen         uint64 // bumped by start and stop
	detectGen   uint64 // bumped by enable, disable and stop
	pollCtx     context.Context
	pollCancel  context.CancelFunc
	polling     bool
	detectCtx   context.Context
	detectStop  context.CancelFunc
	inFlight    bool
	ticker      *time.Ticker
	tickC       <-chan time.Time
	cycle       *time.Timer
	cycleC      <-chan time.Time
	cycleReady  bool
	capture     bool
	pending     frame.Sample
	dedup       frame.Deduper
	displayed   time.Time
	lastCycle   time.Time
	latestAudio string
	status      Status

	mu        sync.RWMutex
	published Status
	hist      *history
}

// New creates the loop and starts its goroutine in the Idle state.
func New(c Components, opts ...Option) *Pipeline {
	p := newPipeline(c, opts...)
	go p.run()
	return p
}

func newPipeline(c Components, opts ...Option) *Pipeline {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	p := &Pipeline{
		c:        c,
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "pipeline"),
		cmds:     make(chan command),
		polled:   make(chan pollResult, 1),
		detected: make(chan detectResult, 1),
		done:     make(chan struct{}),
		hist:     newHistory(cfg.HistorySize),
	}
	p.status.State = Idle
	p.published = p.status.clone()
	return p
}

// Start begins polling. Idle → Streaming.
func (p *Pipeline) Start() error { return p.submit(opStart) }

// Stop cancels polling, detection and speech. Any state → Idle.
func (p *Pipeline) Stop() error { return p.submit(opStop) }

// EnableDetection runs detection on every new frame. Streaming|Paused → Detecting.
func (p *Pipeline) EnableDetection() error { return p.submit(opEnable) }

// DisableDetection stops inference while polling continues. Detecting → Paused.
func (p *Pipeline) DisableDetection() error { return p.submit(opDisable) }

// Capture runs a single detection cycle on the next new frame while
// Streaming or Paused.
func (p *Pipeline) Capture() error { return p.submit(opCapture) }

// PlayAudio plays the most recent audio URL returned by the detector. It
// returns a *speech.PlaybackError wrapping speech.ErrNoAudio if there is none,
// or speech.ErrNoPlayer if no audio component is wired.
func (p *Pipeline) PlayAudio() error { return p.submit(opPlayAudio) }

// Close stops the loop. Every later action returns ErrClosed.
func (p *Pipeline) Close() error {
	err := p.submit(opClose)
	if err == ErrClosed {
		return nil
	}
	return err
}

// Done is closed when the loop goroutine has exited.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Status returns the latest published snapshot.
func (p *Pipeline) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.published.clone()
}

// History returns the kept results, oldest first.
func (p *Pipeline) History() []detection.Result {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.hist.list()
}

// Latest returns the most recently applied result.
func (p *Pipeline) Latest() (detection.Result, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.hist.latest()
}

func (p *Pipeline) submit(o op) error {
	cmd := command{op: o, reply: make(chan error, 1)}
	select {
	case p.cmds <- cmd:
	case <-p.done:
		return ErrClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-p.done:
		// Close replies before the loop exits.
		select {
		case err := <-cmd.reply:
			return err
		default:
			return ErrClosed
		}
	}
}
