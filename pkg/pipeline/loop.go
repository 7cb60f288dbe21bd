package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/teslashibe/go-cane/pkg/detection"
	"github.com/teslashibe/go-cane/pkg/frame"
	"github.com/teslashibe/go-cane/pkg/speech"
)

func (p *Pipeline) run() {
	defer close(p.done)
	p.logger.Debug("loop started")

	for {
		select {
		case cmd := <-p.cmds:
			cmd.reply <- p.handle(cmd.op)
			if cmd.op == opClose {
				p.logger.Debug("loop stopped")
				return
			}
		case <-p.tickC:
			p.startPoll()
		case <-p.cycleC:
			p.onCycleTimer()
		case r := <-p.polled:
			p.applyPoll(r)
		case r := <-p.detected:
			p.applyDetect(r)
		}
	}
}

func (p *Pipeline) handle(o op) error {
	var err error
	switch o {
	case opStart:
		err = p.start()
	case opStop:
		p.stop()
	case opEnable:
		err = p.enable()
	case opDisable:
		err = p.disable()
	case opCapture:
		err = p.requestCapture()
	case opPlayAudio:
		return p.playAudio()
	case opClose:
		p.stop()
	}
	if err != nil {
		p.logger.Debug("rejected", "action", o.String(), "state", p.state.String())
		return err
	}
	p.logger.Info("transition", "action", o.String(), "state", p.state.String())
	p.publish()
	return nil
}

func (p *Pipeline) start() error {
	if p.state != Idle {
		return invalid("start", p.state)
	}
	p.gen++
	p.pollCtx, p.pollCancel = context.WithCancel(context.Background())
	p.ticker = time.NewTicker(p.cfg.PollInterval)
	p.tickC = p.ticker.C
	p.lastCycle = time.Time{}
	p.status.FPS = 0
	p.state = Streaming

	p.startPoll()
	return nil
}

func (p *Pipeline) enable() error {
	if p.state != Streaming && p.state != Paused {
		return invalid("enable detection", p.state)
	}
	p.detectGen++
	p.detectCtx, p.detectStop = context.WithCancel(p.pollCtx)
	p.cycleReady = true
	p.capture = false
	p.state = Detecting
	return nil
}

func (p *Pipeline) disable() error {
	if p.state != Detecting {
		return invalid("disable detection", p.state)
	}
	p.cancelDetection()
	p.state = Paused
	return nil
}

func (p *Pipeline) requestCapture() error {
	if p.state != Streaming && p.state != Paused {
		return invalid("capture", p.state)
	}
	if !p.capture {
		p.detectGen++
		p.detectCtx, p.detectStop = context.WithCancel(p.pollCtx)
		p.cycleReady = true
		p.capture = true
	}
	return nil
}

// stop is valid from every state and idempotent.
func (p *Pipeline) stop() {
	p.gen++
	p.cancelDetection()
	if p.pollCancel != nil {
		p.pollCancel()
		p.pollCancel = nil
	}
	if p.ticker != nil {
		p.ticker.Stop()
		p.ticker, p.tickC = nil, nil
	}
	if p.c.Alerter != nil {
		p.c.Alerter.Reset()
	}
	p.dedup.Reset()
	p.displayed = time.Time{}
	p.status.FPS = 0
	p.state = Idle
}

// cancelDetection invalidates in-flight and scheduled detection work.
func (p *Pipeline) cancelDetection() {
	p.detectGen++
	if p.detectStop != nil {
		p.detectStop()
		p.detectStop = nil
	}
	if p.cycle != nil {
		p.cycle.Stop()
		p.cycle, p.cycleC = nil, nil
	}
	p.cycleReady = false
	p.capture = false
	p.pending.Release()
	p.pending = frame.Sample{}
}

func (p *Pipeline) playAudio() error {
	var missing error
	switch {
	case p.latestAudio == "":
		missing = speech.ErrNoAudio
	case p.c.Audio == nil:
		missing = speech.ErrNoPlayer
	}
	if missing != nil {
		err := &speech.PlaybackError{Op: "play-url", Target: p.latestAudio, Err: missing}
		p.report(err)
		return err
	}
	if err := p.c.Audio.PlayURL(p.latestAudio); err != nil {
		p.report(err)
		return err
	}
	return nil
}

func (p *Pipeline) startPoll() {
	if p.state == Idle || p.polling {
		return
	}
	p.polling = true
	gen, ctx := p.gen, p.pollCtx

	go func() {
		s, err := p.c.Source.Poll(ctx)
		p.polled <- pollResult{gen: gen, sample: s, err: err}
	}()
}

func (p *Pipeline) applyPoll(r pollResult) {
	p.polling = false

	if r.gen != p.gen {
		r.sample.Release()
		// A restart while this poll was outstanding skipped its own.
		p.startPoll()
		return
	}
	if r.err != nil {
		if !errors.Is(r.err, frame.ErrNoNewFrame) && !errors.Is(r.err, context.Canceled) {
			p.report(r.err)
		}
		return
	}
	if !p.dedup.Accept(r.sample.CapturedAt) {
		p.status.Duplicates++
		r.sample.Release()
		return
	}
	p.status.Frames++

	if p.state == Detecting || p.capture {
		// Latest wins: an older frame waiting for the detector is superseded.
		p.pending.Release()
		p.pending = r.sample
		p.startDetect()
		p.publish()
		return
	}

	p.show(r.sample, nil)
	r.sample.Release()
	p.publish()
}

func (p *Pipeline) onCycleTimer() {
	p.cycle, p.cycleC = nil, nil
	p.cycleReady = true
	p.startDetect()
}

func (p *Pipeline) startDetect() {
	if !p.cycleReady || p.inFlight || p.pending.IsZero() {
		return
	}
	if p.state != Detecting && !p.capture {
		return
	}

	s := p.pending
	p.pending = frame.Sample{}
	p.inFlight = true
	p.cycleReady = false
	p.status.InFlight = true
	gen, ctx := p.detectGen, p.detectCtx

	go func() {
		res, err := p.c.Detector.Detect(ctx, s)
		p.detected <- detectResult{gen: gen, sample: s, result: res, err: err}
	}()
}

func (p *Pipeline) applyDetect(r detectResult) {
	p.inFlight = false
	p.status.InFlight = false
	defer r.sample.Release()

	if r.gen != p.detectGen {
		p.status.Dropped++
		p.logger.Debug("dropping result from cancelled cycle", "frame_id", r.sample.ID)
		p.publish()
		// A re-enable while this was in flight left a frame waiting.
		p.startDetect()
		return
	}

	now := p.cfg.Now()
	p.completeCycle(now)

	if r.err == nil {
		r.result = normalize(r.result, r.sample)
	}

	switch {
	case r.err != nil:
		// Previous detections stay displayed.
		p.report(r.err)
	case r.result.FrameTime.Before(p.displayed):
		p.status.Stale++
		p.logger.Debug("discarding stale result", "frame_time", r.result.FrameTime, "displayed", p.displayed)
	default:
		p.applyResult(r.sample, r.result, now)
	}

	if p.capture {
		p.capture = false
		p.detectStop()
		p.detectStop = nil
		p.pending.Release()
		p.pending = frame.Sample{}
	}
	p.publish()
	p.scheduleNext()
}

func (p *Pipeline) applyResult(s frame.Sample, res *detection.Result, now time.Time) {
	p.status.Cycles++

	if p.c.Narrator != nil && p.c.Alerter != nil {
		if text, ok := p.c.Narrator.Utterance(res.Detections, res.Width, res.Height); ok {
			if p.c.Alerter.MaybeSpeak(text, now) {
				p.status.Narration = text
			}
		}
	}

	p.show(s, res.Detections)

	p.status.FrameID = res.FrameID
	p.status.Detections = append([]detection.Detection(nil), res.Detections...)
	p.status.Description = res.Description
	if res.AudioURL != "" {
		p.latestAudio = res.AudioURL
		p.status.AudioURL = res.AudioURL
	}

	p.mu.Lock()
	p.hist.push(res)
	p.mu.Unlock()
}

// normalize fills what a bare backend may leave out.
func normalize(res *detection.Result, s frame.Sample) *detection.Result {
	if res == nil {
		res = &detection.Result{}
	}
	if res.FrameTime.IsZero() {
		res.FrameID, res.FrameTime = s.ID, s.CapturedAt
	}
	if res.Width == 0 || res.Height == 0 {
		res.Width, res.Height = s.Width, s.Height
	}
	if res.Description == "" {
		res.Description = detection.Describe(res.Detections)
	}
	return res
}

// show presents a frame unless a newer one is already displayed.
func (p *Pipeline) show(s frame.Sample, dets []detection.Detection) {
	if s.CapturedAt.Before(p.displayed) {
		return
	}
	p.displayed = s.CapturedAt
	p.status.FrameTime = s.CapturedAt
	if p.c.Display == nil {
		return
	}
	if err := p.c.Display.Present(s, dets); err != nil {
		p.report(err)
	}
}

func (p *Pipeline) completeCycle(now time.Time) {
	if !p.lastCycle.IsZero() {
		if dt := now.Sub(p.lastCycle); dt > 0 {
			p.status.FPS = 1 / dt.Seconds()
		}
	}
	p.lastCycle = now
}

// scheduleNext arms the cycle timer once the current cycle is done.
func (p *Pipeline) scheduleNext() {
	if p.state != Detecting {
		p.cycleReady = true
		return
	}
	p.cycle = time.NewTimer(p.cfg.CycleDelay)
	p.cycleC = p.cycle.C
}

func (p *Pipeline) report(err error) {
	p.status.LastError = err.Error()
	p.status.LastErrorAt = p.cfg.Now()
	p.logger.Warn("pipeline error", "error", err, "state", p.state.String())
	if p.cfg.OnError != nil {
		p.cfg.OnError(err)
	}
	p.publish()
}

func (p *Pipeline) publish() {
	p.status.State = p.state
	p.status.UpdatedAt = p.cfg.Now()
	snap := p.status.clone()

	p.mu.Lock()
	p.published = snap
	p.mu.Unlock()

	if p.cfg.OnStatus != nil {
		p.cfg.OnStatus(snap.clone())
	}
}
