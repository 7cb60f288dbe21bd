package pipeline

import (
	"time"

	"github.com/google/uuid"
	"github.com/teslashibe/go-cane/pkg/detection"
)

// State is the lifecycle state of the loop.
type State int

const (
	// Idle: nothing is polled.
	Idle State = iota

	// Streaming: frames are polled and shown without detection.
	Streaming

	// Detecting: every new frame goes through detection, alerts and overlay.
	Detecting

	// Paused: detection was disabled; frames are still polled and shown.
	Paused
)

var stateNames = map[State]string{
	Idle:      "idle",
	Streaming: "streaming",
	Detecting: "detecting",
	Paused:    "paused",
}

// String returns the lower-case state name.
func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a snapshot of the loop. It is handed out by value.
type Status struct {
	State State `json:"state"`

	// FPS is the reciprocal of the time between the last two completed cycles.
	FPS float64 `json:"fps"`

	InFlight bool `json:"in_flight"`

	// Frames counts polled frames that passed de-duplication.
	Frames uint64 `json:"frames"`

	// Duplicates counts polled frames that were not newer than the last one.
	Duplicates uint64 `json:"duplicates"`

	Cycles uint64 `json:"cycles"`

	// Stale counts results discarded because a newer frame was displayed.
	Stale uint64 `json:"stale"`

	// Dropped counts results that arrived after stop or disable.
	Dropped uint64 `json:"dropped"`

	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`

	FrameID    uuid.UUID             `json:"frame_id"`
	FrameTime  time.Time             `json:"frame_time"`
	Detections []detection.Detection `json:"detections"`

	Description string `json:"description,omitempty"`
	AudioURL    string `json:"audio_url,omitempty"`
	Narration   string `json:"narration,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

func (s Status) clone() Status {
	s.Detections = append([]detection.Detection(nil), s.Detections...)
	return s
}

// history keeps the last n applied results.
type history struct {
	buf  []detection.Result
	next int
	full bool
}

func newHistory(n int) *history {
	if n <= 0 {
		n = 1
	}
	return &history{buf: make([]detection.Result, n)}
}

func (h *history) push(r *detection.Result) {
	h.buf[h.next] = *r.Clone()
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
}

// list returns results oldest first.
func (h *history) list() []detection.Result {
	var out []detection.Result
	if h.full {
		out = append(out, h.buf[h.next:]...)
	}
	out = append(out, h.buf[:h.next]...)
	for i := range out {
		out[i] = *out[i].Clone()
	}
	return out
}

func (h *history) latest() (detection.Result, bool) {
	if !h.full && h.next == 0 {
		return detection.Result{}, false
	}
	i := (h.next - 1 + len(h.buf)) % len(h.buf)
	return *h.buf[i].Clone(), true
}
