// Package rtpsink streams synthesized speech to a network speaker as Opus in
// RTP over UDP, paced in real time.
package rtpsink

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-cane/pkg/speech"
	"github.com/teslashibe/go-cane/pkg/tts"
)

const (
	// ClockRate is the RTP clock for Opus regardless of the input rate.
	ClockRate = 48000

	// DefaultPayloadType is the dynamic payload type announced for Opus.
	DefaultPayloadType = 96

	// FrameDuration is the Opus frame size.
	FrameDuration = 20 * time.Millisecond

	maxPacket = 1500
)

// Config holds sink configuration.
type Config struct {
	// Addr is the host:port of the receiving speaker.
	Addr string

	PayloadType uint8

	// SSRC identifies the stream; random when zero.
	SSRC uint32

	Logger *slog.Logger
}

// Sink encodes speech to Opus and sends it as RTP.
type Sink struct {
	cfg    Config
	conn   net.Conn
	logger *slog.Logger

	mu       sync.Mutex
	seq      uint16
	ts       uint32
	encoders map[int]*opus.Encoder
}

// New dials the speaker address.
func New(cfg Config) (*Sink, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("rtpsink: address is required")
	}
	if cfg.PayloadType == 0 {
		cfg.PayloadType = DefaultPayloadType
	}
	if cfg.SSRC == 0 {
		cfg.SSRC = rand.Uint32()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	conn, err := net.Dial("udp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("rtpsink: dial %s: %w", cfg.Addr, err)
	}

	return &Sink{
		cfg:      cfg,
		conn:     conn,
		logger:   cfg.Logger.With("component", "speech.rtp", "addr", cfg.Addr),
		seq:      uint16(rand.UintN(1 << 16)),
		ts:       rand.Uint32(),
		encoders: make(map[int]*opus.Encoder),
	}, nil
}

// Play sends audio one frame per FrameDuration until done or ctx is
// cancelled. PCM and MP3 are accepted; audio that is not at an Opus rate
// (8, 12, 16, 24 or 48 kHz) is resampled to 48 kHz first.
func (s *Sink) Play(ctx context.Context, audio *tts.AudioResult) error {
	if audio == nil || len(audio.Audio) == 0 {
		return speech.ErrNoAudio
	}
	samples, rate, err := monoPCM(audio)
	if err != nil {
		return err
	}

	// One talkspurt at a time keeps sequence numbers contiguous.
	s.mu.Lock()
	defer s.mu.Unlock()

	enc, err := s.encoder(rate)
	if err != nil {
		return err
	}

	frameSamples := rate * int(FrameDuration/time.Millisecond) / 1000
	tsStep := uint32(ClockRate * int(FrameDuration/time.Millisecond) / 1000)

	frame := make([]int16, frameSamples)
	payload := make([]byte, maxPacket)
	start := time.Now()
	packets := 0

	for off := 0; off < len(samples); off += frameSamples {
		n := copy(frame, samples[off:])
		clear(frame[n:])

		size, err := enc.Encode(frame, payload)
		if err != nil {
			return fmt.Errorf("rtpsink: encode: %w", err)
		}

		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         packets == 0,
				PayloadType:    s.cfg.PayloadType,
				SequenceNumber: s.seq,
				Timestamp:      s.ts,
				SSRC:           s.cfg.SSRC,
			},
			Payload: payload[:size],
		}
		raw, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("rtpsink: marshal: %w", err)
		}
		if _, err := s.conn.Write(raw); err != nil {
			return fmt.Errorf("rtpsink: send: %w", err)
		}

		s.seq++
		s.ts += tsStep
		packets++

		next := start.Add(time.Duration(packets) * FrameDuration)
		select {
		case <-ctx.Done():
			s.logger.Debug("talkspurt cancelled", "packets", packets)
			return ctx.Err()
		case <-time.After(time.Until(next)):
		}
	}

	s.logger.Debug("talkspurt sent", "packets", packets, "duration", time.Since(start))
	return nil
}

// Name returns "rtp".
func (s *Sink) Name() string {
	return "rtp"
}

// Close closes the UDP socket.
func (s *Sink) Close() error {
	return s.conn.Close()
}

func (s *Sink) encoder(rate int) (*opus.Encoder, error) {
	if enc, ok := s.encoders[rate]; ok {
		return enc, nil
	}
	enc, err := opus.NewEncoder(rate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("rtpsink: opus encoder at %d Hz: %w", rate, err)
	}
	s.encoders[rate] = enc
	return enc, nil
}

func opusRate(rate int) bool {
	switch rate {
	case 8000, 12000, 16000, 24000, 48000:
		return true
	}
	return false
}

// pcm16 reinterprets little-endian bytes as samples; a trailing odd byte is dropped.
func pcm16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

// Verify Sink implements speech.Sink at compile time.
var _ speech.Sink = (*Sink)(nil)
