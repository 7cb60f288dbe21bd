package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/teslashibe/go-cane/pkg/alert"
	"github.com/teslashibe/go-cane/pkg/detection"
	"github.com/teslashibe/go-cane/pkg/frame"
	"github.com/teslashibe/go-cane/pkg/spatial"
	"github.com/teslashibe/go-cane/pkg/speech"
)

var base = time.UnixMilli(1_700_000_000_000)

func sampleAt(ms int) frame.Sample {
	return frame.Sample{
		ID:         uuid.New(),
		Image:      []byte{0xff, 0xd8},
		CapturedAt: base.Add(time.Duration(ms) * time.Millisecond),
		Width:      640,
		Height:     480,
	}
}

// person is eligible and narrated as "person ahead, close" in 640x480.
var person = detection.Detection{
	Label:      "person",
	Confidence: 0.9,
	Box:        detection.BBox{X: 250, Y: 100, W: 160, H: 300},
}

type queueSource struct {
	mu    sync.Mutex
	queue []frame.Sample
}

func (q *queueSource) push(s ...frame.Sample) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queue = append(q.queue, s...)
}

func (q *queueSource) Poll(ctx context.Context) (frame.Sample, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queue) == 0 {
		return frame.Sample{}, frame.ErrNoNewFrame
	}
	s := q.queue[0]
	q.queue = q.queue[1:]
	return s, nil
}

func (q *queueSource) Close() error { return nil }

type detectCall struct {
	ctx    context.Context
	sample frame.Sample
}

type detectReply struct {
	result *detection.Result
	err    error
}

// gatedDetector blocks every call until the test releases a reply. It
// ignores cancellation so late results can be simulated.
type gatedDetector struct {
	calls   chan detectCall
	replies chan detectReply
}

func newGatedDetector() *gatedDetector {
	return &gatedDetector{
		calls:   make(chan detectCall, 8),
		replies: make(chan detectReply, 8),
	}
}

func (d *gatedDetector) Detect(ctx context.Context, s frame.Sample) (*detection.Result, error) {
	d.calls <- detectCall{ctx: ctx, sample: s}
	r := <-d.replies
	if r.result != nil {
		r.result.FrameID = s.ID
		r.result.FrameTime = s.CapturedAt
	}
	return r.result, r.err
}

type shown struct {
	at   time.Time
	dets int
}

type recDisplay struct {
	mu    sync.Mutex
	shown []shown
}

func (d *recDisplay) Present(s frame.Sample, dets []detection.Detection) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown = append(d.shown, shown{at: s.CapturedAt, dets: len(dets)})
	return nil
}

func (d *recDisplay) all() []shown {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]shown(nil), d.shown...)
}

type recOutput struct {
	mu      sync.Mutex
	said    []string
	cancels int
}

func (o *recOutput) Say(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.said = append(o.said, text)
}

func (o *recOutput) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancels++
}

func (o *recOutput) spoken() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.said...)
}

type recAudio struct {
	urls []string
}

func (a *recAudio) PlayURL(url string) error {
	a.urls = append(a.urls, url)
	return nil
}

// harness drives the loop's transitions on the test goroutine.
type harness struct {
	t     *testing.T
	p     *Pipeline
	src   *queueSource
	det   *gatedDetector
	disp  *recDisplay
	out   *recOutput
	audio *recAudio
	now   time.Time
	errs  []error
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		src:   &queueSource{},
		det:   newGatedDetector(),
		disp:  &recDisplay{},
		out:   &recOutput{},
		audio: &recAudio{},
		now:   base,
	}
	opts = append([]Option{
		WithPollInterval(time.Hour),
		WithClock(func() time.Time { return h.now }),
		WithOnError(func(err error) { h.errs = append(h.errs, err) }),
	}, opts...)

	h.p = newPipeline(Components{
		Source:   h.src,
		Detector: h.det,
		Alerter:  alert.NewThrottler(h.out),
		Narrator: alert.NewSelector(spatial.New(), alert.Single),
		Display:  h.disp,
		Audio:    h.audio,
	}, opts...)
	t.Cleanup(func() { h.p.handle(opClose) })
	return h
}

func (h *harness) do(o op) error {
	return h.p.handle(o)
}

func (h *harness) mustDo(ops ...op) {
	h.t.Helper()
	for _, o := range ops {
		if err := h.p.handle(o); err != nil {
			h.t.Fatalf("%s: %v", o, err)
		}
	}
}

// poll applies one outstanding poll result.
func (h *harness) poll() {
	h.t.Helper()
	select {
	case r := <-h.p.polled:
		h.p.applyPoll(r)
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for poll")
	}
}

// frame pushes s and runs one poll for it.
func (h *harness) frame(s frame.Sample) {
	h.t.Helper()
	h.src.push(s)
	h.p.startPoll()
	h.poll()
}

func (h *harness) called() detectCall {
	h.t.Helper()
	select {
	case c := <-h.det.calls:
		return c
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for detector call")
		return detectCall{}
	}
}

func (h *harness) release(res *detection.Result, err error) {
	h.det.replies <- detectReply{result: res, err: err}
}

// detected applies one outstanding detection result.
func (h *harness) detected() {
	h.t.Helper()
	select {
	case r := <-h.p.detected:
		h.p.applyDetect(r)
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for detection")
	}
}

// cycle runs a full detection cycle on s returning dets.
func (h *harness) cycle(s frame.Sample, dets ...detection.Detection) {
	h.t.Helper()
	h.frame(s)
	h.called()
	h.release(&detection.Result{Detections: dets}, nil)
	h.detected()
	if h.p.cycleC != nil {
		<-h.p.cycleC
		h.p.onCycleTimer()
	}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		name    string
		setup   []op
		action  op
		want    State
		wantErr bool
	}{
		{name: "start from idle", action: opStart, want: Streaming},
		{name: "start twice", setup: []op{opStart}, action: opStart, want: Streaming, wantErr: true},
		{name: "enable from idle", action: opEnable, want: Idle, wantErr: true},
		{name: "enable from streaming", setup: []op{opStart}, action: opEnable, want: Detecting},
		{name: "enable twice", setup: []op{opStart, opEnable}, action: opEnable, want: Detecting, wantErr: true},
		{name: "disable from streaming", setup: []op{opStart}, action: opDisable, want: Streaming, wantErr: true},
		{name: "disable from detecting", setup: []op{opStart, opEnable}, action: opDisable, want: Paused},
		{name: "enable from paused", setup: []op{opStart, opEnable, opDisable}, action: opEnable, want: Detecting},
		{name: "capture from idle", action: opCapture, want: Idle, wantErr: true},
		{name: "capture from detecting", setup: []op{opStart, opEnable}, action: opCapture, want: Detecting, wantErr: true},
		{name: "capture from paused", setup: []op{opStart, opEnable, opDisable}, action: opCapture, want: Paused},
		{name: "stop from idle", action: opStop, want: Idle},
		{name: "stop from detecting", setup: []op{opStart, opEnable}, action: opStop, want: Idle},
		{name: "stop from paused", setup: []op{opStart, opEnable, opDisable}, action: opStop, want: Idle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.mustDo(tt.setup...)

			err := h.do(tt.action)
			if tt.wantErr != (err != nil) {
				t.Fatalf("%s error = %v, wantErr %v", tt.action, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("error = %v, want ErrInvalidTransition", err)
			}
			if h.p.state != tt.want {
				t.Errorf("state = %s, want %s", h.p.state, tt.want)
			}
			if got := h.p.Status().State; got != tt.want {
				t.Errorf("published state = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStreaming_DisplayIsMonotonic(t *testing.T) {
	h := newHarness(t)
	h.mustDo(opStart)
	h.poll() // start polls once immediately

	for _, ms := range []int{100, 100, 300, 200, 300, 400} {
		h.frame(sampleAt(ms))
	}

	got := h.disp.all()
	want := []int{100, 300, 400}
	if len(got) != len(want) {
		t.Fatalf("shown %d frames, want %d: %+v", len(got), len(want), got)
	}
	for i, ms := range want {
		if !got[i].at.Equal(base.Add(time.Duration(ms) * time.Millisecond)) {
			t.Errorf("frame %d at %v, want +%dms", i, got[i].at, ms)
		}
		if got[i].dets != 0 {
			t.Errorf("frame %d drawn with overlay while streaming", i)
		}
		if i > 0 && got[i].at.Before(got[i-1].at) {
			t.Errorf("display went backwards at %d", i)
		}
	}
	st := h.p.Status()
	if st.Frames != 3 || st.Duplicates != 3 {
		t.Errorf("frames = %d duplicates = %d, want 3 and 3", st.Frames, st.Duplicates)
	}
}

func TestDetecting_Cycle(t *testing.T) {
	h := newHarness(t)
	h.mustDo(opStart, opEnable)
	h.poll()

	h.cycle(sampleAt(100), person)

	if got := h.out.spoken(); len(got) != 1 || got[0] != "person ahead, close" {
		t.Fatalf("spoken = %v", got)
	}
	shown := h.disp.all()
	if len(shown) != 1 || shown[0].dets != 1 {
		t.Fatalf("shown = %+v, want one annotated frame", shown)
	}

	st := h.p.Status()
	if st.State != Detecting || st.Cycles != 1 || len(st.Detections) != 1 {
		t.Errorf("status = %+v", st)
	}
	if st.Narration != "person ahead, close" {
		t.Errorf("narration = %q", st.Narration)
	}
	if st.Description == "" {
		t.Error("description not filled")
	}
	if st.InFlight {
		t.Error("in-flight after cycle completed")
	}
	if len(h.p.History()) != 1 {
		t.Errorf("history = %d results, want 1", len(h.p.History()))
	}
}

func TestDetecting_OneInFlight(t *testing.T) {
	h := newHarness(t)
	h.mustDo(opStart, opEnable)
	h.poll()

	h.frame(sampleAt(100))
	first := h.called()

	// Newer frames arrive while the detector is busy; only the latest waits.
	h.frame(sampleAt(200))
	h.frame(sampleAt(300))
	select {
	case c := <-h.det.calls:
		t.Fatalf("second concurrent detect for frame at %v", c.sample.CapturedAt)
	default:
	}
	if !h.p.Status().InFlight {
		t.Error("status does not report in-flight")
	}

	h.release(&detection.Result{}, nil)
	h.detected()
	<-h.p.cycleC
	h.p.onCycleTimer()

	next := h.called()
	if !next.sample.CapturedAt.Equal(base.Add(300 * time.Millisecond)) {
		t.Errorf("next cycle frame at %v, want the latest (+300ms)", next.sample.CapturedAt)
	}
	if next.sample.ID == first.sample.ID {
		t.Error("frame processed twice")
	}
	h.release(&detection.Result{}, nil)
	h.detected()
}

func TestStop_DropsLateResult(t *testing.T) {
	h := newHarness(t)
	h.mustDo(opStart, opEnable)
	h.poll()

	h.frame(sampleAt(100))
	call := h.called()

	h.mustDo(opStop)
	if call.ctx.Err() == nil {
		t.Error("in-flight detect context not cancelled by stop")
	}
	before := h.p.Status()

	// The backend ignores cancellation and answers late.
	h.release(&detection.Result{Detections: []detection.Detection{person}, AudioURL: "http://svc/a.mp3"}, nil)
	h.detected()

	if got := h.out.spoken(); len(got) != 0 {
		t.Errorf("spoke after stop: %v", got)
	}
	if got := h.disp.all(); len(got) != 0 {
		t.Errorf("drew after stop: %+v", got)
	}
	st := h.p.Status()
	if st.State != Idle || st.Dropped != 1 {
		t.Errorf("state = %s dropped = %d", st.State, st.Dropped)
	}
	if len(st.Detections) != len(before.Detections) || st.Cycles != before.Cycles || st.AudioURL != "" {
		t.Errorf("late result mutated status: %+v", st)
	}
	if len(h.p.History()) != 0 {
		t.Error("late result recorded in history")
	}
	if h.p.cycleC != nil || h.p.tickC != nil {
		t.Error("timers still armed after stop")
	}
}

func TestDisable_DropsInFlightResult(t *testing.T) {
	h := newHarness(t)
	h.mustDo(opStart, opEnable)
	h.poll()

	h.frame(sampleAt(100))
	h.called()
	h.mustDo(opDisable)

	h.release(&detection.Result{Detections: []detection.Detection{person}}, nil)
	h.detected()

	if got := h.out.spoken(); len(got) != 0 {
		t.Errorf("spoke after disable: %v", got)
	}
	if st := h.p.Status(); st.State != Paused || st.Dropped != 1 || st.Cycles != 0 {
		t.Errorf("status = %+v", st)
	}

	// Acquisition continues while paused.
	h.frame(sampleAt(200))
	if got := h.disp.all(); len(got) != 1 || got[0].dets != 0 {
		t.Errorf("shown = %+v, want one raw frame", got)
	}
}

func TestStaleResultSuppressed(t *testing.T) {
	h := newHarness(t)
	h.mustDo(opStart, opEnable)
	h.poll()

	h.cycle(sampleAt(300), person)
	spoken := len(h.out.spoken())
	shown := len(h.disp.all())
	alertState := h.p.c.Alerter.(*alert.Throttler).State()

	old := sampleAt(100)
	h.p.inFlight = true
	h.p.applyDetect(detectResult{
		gen:    h.p.detectGen,
		sample: old,
		result: &detection.Result{
			FrameID:    old.ID,
			FrameTime:  old.CapturedAt,
			Detections: []detection.Detection{{Label: "dog", Confidence: 0.95, Box: detection.BBox{X: 0, Y: 0, W: 400, H: 400}}},
		},
	})

	if len(h.out.spoken()) != spoken {
		t.Error("stale result spoke")
	}
	if len(h.disp.all()) != shown {
		t.Error("stale result redrew the overlay")
	}
	if got := h.p.c.Alerter.(*alert.Throttler).State(); got != alertState {
		t.Errorf("alert state changed: %+v -> %+v", alertState, got)
	}
	st := h.p.Status()
	if st.Stale != 1 || st.Detections[0].Label != "person" {
		t.Errorf("status = %+v", st)
	}
}

func TestAlertDedupAcrossCycles(t *testing.T) {
	h := newHarness(t)
	h.mustDo(opStart, opEnable)
	h.poll()

	h.cycle(sampleAt(100), person)
	h.now = base.Add(1000 * time.Millisecond)
	h.cycle(sampleAt(200), person)
	if got := h.out.spoken(); len(got) != 1 {
		t.Fatalf("spoken %d times within cooldown, want 1", len(got))
	}

	h.now = base.Add(3100 * time.Millisecond)
	h.cycle(sampleAt(300), person)
	if got := h.out.spoken(); len(got) != 2 {
		t.Fatalf("spoken %d times after cooldown, want 2", len(got))
	}
}

func TestStop_ResetsAlertState(t *testing.T) {
	h := newHarness(t)
	h.mustDo(opStart, opEnable)
	h.poll()
	h.cycle(sampleAt(100), person)

	h.mustDo(opStop, opStart, opEnable)
	h.poll()
	h.cycle(sampleAt(50), person)

	// Restarted streams repeat the alert immediately and may start over at
	// an earlier capture time.
	if got := h.out.spoken(); len(got) != 2 {
		t.Errorf("spoken = %v, want the alert repeated after restart", got)
	}
	if h.out.cancels < 2 {
		t.Errorf("speech cancels = %d, want stop to cancel speech", h.out.cancels)
	}
}

func TestRestart_ResumesPolling(t *testing.T) {
	h := newHarness(t)
	h.mustDo(opStart)

	// The first poll is still outstanding across the restart.
	h.mustDo(opStop, opStart)
	h.poll()

	if !h.p.polling {
		t.Fatal("no poll issued after the superseded one returned")
	}
	h.src.push(sampleAt(100))
	h.poll()
	h.p.startPoll()
	h.poll()

	if got := h.p.Status().Frames; got != 1 {
		t.Errorf("frames = %d after restart, want 1", got)
	}
	if shown := h.disp.all(); len(shown) != 1 || !shown[0].at.Equal(sampleAt(100).CapturedAt) {
		t.Errorf("shown = %+v, want the frame polled after restart", shown)
	}
}

func TestDetectorErrorKeepsPrevious(t *testing.T) {
	h := newHarness(t)
	h.mustDo(opStart, opEnable)
	h.poll()
	h.cycle(sampleAt(100), person)

	boom := &detection.DetectionError{Err: errors.New("service down")}
	h.frame(sampleAt(200))
	h.called()
	h.release(nil, boom)
	h.detected()

	st := h.p.Status()
	if len(st.Detections) != 1 || st.Detections[0].Label != "person" {
		t.Errorf("detections = %+v, want previous kept", st.Detections)
	}
	if st.LastError == "" {
		t.Error("last error not recorded")
	}
	if len(h.errs) != 1 || !errors.Is(h.errs[0], boom) {
		t.Errorf("OnError got %v", h.errs)
	}
	if h.p.cycleC == nil {
		t.Error("next cycle not scheduled after failure")
	}
}

func TestCapture_SingleCycle(t *testing.T) {
	h := newHarness(t)
	h.mustDo(opStart)
	h.poll()

	h.mustDo(opCapture)
	h.frame(sampleAt(100))
	h.called()
	h.release(&detection.Result{Detections: []detection.Detection{person}}, nil)
	h.detected()

	if h.p.state != Streaming {
		t.Errorf("state = %s after capture, want streaming", h.p.state)
	}
	if len(h.out.spoken()) != 1 {
		t.Error("capture did not narrate")
	}

	h.frame(sampleAt(200))
	select {
	case <-h.det.calls:
		t.Error("detection kept running after a single capture")
	default:
	}
	shown := h.disp.all()
	if len(shown) != 2 || shown[0].dets != 1 || shown[1].dets != 0 {
		t.Errorf("shown = %+v, want annotated then raw", shown)
	}
}

func TestCapture_DropsWaitingFrame(t *testing.T) {
	h := newHarness(t)
	h.mustDo(opStart)
	h.poll()

	h.mustDo(opCapture)
	h.frame(sampleAt(100))
	h.called()

	// Arrives while the capture is in flight.
	h.frame(sampleAt(200))
	if h.p.pending.IsZero() {
		t.Fatal("frame polled mid-capture was not queued")
	}

	h.release(&detection.Result{Detections: []detection.Detection{person}}, nil)
	h.detected()
	if h.p.cycleC != nil {
		<-h.p.cycleC
		h.p.onCycleTimer()
	}

	if !h.p.pending.IsZero() {
		t.Error("queued frame kept after the capture finished")
	}
	select {
	case c := <-h.det.calls:
		t.Errorf("detected frame %v after the capture finished", c.sample.CapturedAt)
	default:
	}

	h.mustDo(opEnable)
	h.frame(sampleAt(300))
	if c := h.called(); !c.sample.CapturedAt.Equal(sampleAt(300).CapturedAt) {
		t.Errorf("detected %v, want the newest frame", c.sample.CapturedAt)
	}
	h.release(&detection.Result{}, nil)
	h.detected()
}

func TestPlayAudio(t *testing.T) {
	h := newHarness(t)

	err := h.do(opPlayAudio)
	var pe *speech.PlaybackError
	if !errors.As(err, &pe) || !errors.Is(err, speech.ErrNoAudio) {
		t.Fatalf("PlayAudio() error = %v, want PlaybackError(ErrNoAudio)", err)
	}
	if h.p.Status().LastError == "" {
		t.Error("missing audio not reported")
	}

	h.mustDo(opStart, opEnable)
	h.poll()
	h.frame(sampleAt(100))
	h.called()
	h.release(&detection.Result{AudioURL: "http://svc/audio/1.mp3"}, nil)
	h.detected()

	if err := h.do(opPlayAudio); err != nil {
		t.Fatalf("PlayAudio() error = %v", err)
	}
	if len(h.audio.urls) != 1 || h.audio.urls[0] != "http://svc/audio/1.mp3" {
		t.Errorf("played %v", h.audio.urls)
	}
}

func TestPlayAudio_NoPlayer(t *testing.T) {
	h := newHarness(t)
	h.p.c.Audio = nil
	h.mustDo(opStart, opEnable)
	h.poll()
	h.frame(sampleAt(100))
	h.called()
	h.release(&detection.Result{AudioURL: "http://svc/audio/1.mp3"}, nil)
	h.detected()

	err := h.do(opPlayAudio)
	var pe *speech.PlaybackError
	if !errors.As(err, &pe) || !errors.Is(err, speech.ErrNoPlayer) {
		t.Fatalf("PlayAudio() error = %v, want PlaybackError(ErrNoPlayer)", err)
	}
	if errors.Is(err, speech.ErrNoAudio) {
		t.Error("missing player reported as missing audio")
	}
	if pe.Target != "http://svc/audio/1.mp3" {
		t.Errorf("target = %q", pe.Target)
	}
}

func TestFPS(t *testing.T) {
	h := newHarness(t)
	h.mustDo(opStart, opEnable)
	h.poll()

	h.cycle(sampleAt(100))
	if got := h.p.Status().FPS; got != 0 {
		t.Errorf("FPS after first cycle = %v, want 0", got)
	}
	h.now = base.Add(500 * time.Millisecond)
	h.cycle(sampleAt(200))
	if got := h.p.Status().FPS; got != 2 {
		t.Errorf("FPS = %v, want 2", got)
	}

	h.mustDo(opStop)
	if got := h.p.Status().FPS; got != 0 {
		t.Errorf("FPS after stop = %v, want 0", got)
	}
}

func TestHistory(t *testing.T) {
	hist := newHistory(3)
	if _, ok := hist.latest(); ok {
		t.Error("empty history has a latest result")
	}
	for i := 1; i <= 5; i++ {
		hist.push(&detection.Result{Description: string(rune('0' + i))})
	}

	got := hist.list()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"3", "4", "5"} {
		if got[i].Description != want {
			t.Errorf("history[%d] = %q, want %q", i, got[i].Description, want)
		}
	}
	if latest, ok := hist.latest(); !ok || latest.Description != "5" {
		t.Errorf("latest = %q, %v", latest.Description, ok)
	}
}

func TestStateJSON(t *testing.T) {
	for s, want := range map[State]string{Idle: "idle", Streaming: "streaming", Detecting: "detecting", Paused: "paused", State(9): "unknown"} {
		b, _ := s.MarshalText()
		if string(b) != want {
			t.Errorf("%d marshals to %q, want %q", s, b, want)
		}
	}
}

// countingSource yields a new frame on every poll.
type countingSource struct {
	mu sync.Mutex
	n  int
}

func (c *countingSource) Poll(ctx context.Context) (frame.Sample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return sampleAt(c.n * 10), nil
}

func (c *countingSource) Close() error { return nil }

func TestPipeline_Run(t *testing.T) {
	out := &recOutput{}
	statuses := make(chan Status, 256)

	p := New(Components{
		Source:   &countingSource{},
		Detector: detection.NewAdapter(detection.NewMock(person), nil),
		Alerter:  alert.NewThrottler(out),
		Narrator: alert.NewSelector(spatial.New(), alert.Single),
		Display:  &recDisplay{},
	},
		WithPollInterval(5*time.Millisecond),
		WithOnStatus(func(s Status) {
			select {
			case statuses <- s:
			default:
			}
		}),
	)

	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := p.EnableDetection(); err != nil {
		t.Fatalf("EnableDetection() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for p.Status().Cycles < 3 {
		select {
		case <-statuses:
		case <-deadline:
			t.Fatalf("only %d cycles completed", p.Status().Cycles)
		}
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := p.Status().State; got != Idle {
		t.Errorf("state = %s, want idle", got)
	}
	if len(out.spoken()) != 1 {
		t.Errorf("spoken %v, want a single de-duplicated alert", out.spoken())
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	<-p.Done()
	if err := p.Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after Close = %v, want ErrClosed", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}
