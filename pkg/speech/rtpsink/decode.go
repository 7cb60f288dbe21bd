package rtpsink

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/hajimehoshi/go-mp3"

	"github.com/teslashibe/go-cane/pkg/speech"
	"github.com/teslashibe/go-cane/pkg/tts"
)

// monoPCM turns audio into mono PCM16 samples at a rate the Opus encoder
// accepts. Other rates are resampled to ClockRate.
func monoPCM(audio *tts.AudioResult) ([]int16, int, error) {
	var (
		samples []int16
		rate    int
	)
	switch {
	case audio.Format.IsPCM():
		samples, rate = pcm16(audio.Audio), audio.Format.SampleRate
		if audio.Format.Channels == 2 {
			samples = downmix(samples)
		}
	case audio.Format.Encoding == tts.EncodingMP3:
		var err error
		if samples, rate, err = decodeMP3(audio.Audio); err != nil {
			return nil, 0, err
		}
	default:
		return nil, 0, fmt.Errorf("%w: %s", speech.ErrUnsupportedFormat, audio.Format.Encoding)
	}

	if rate <= 0 {
		return nil, 0, fmt.Errorf("%w: %s at %d Hz", speech.ErrUnsupportedFormat, audio.Format.Encoding, rate)
	}
	if !opusRate(rate) {
		samples, rate = resample(samples, rate, ClockRate), ClockRate
	}
	if len(samples) == 0 {
		return nil, 0, speech.ErrNoAudio
	}
	return samples, rate, nil
}

// decodeMP3 decodes a whole clip. go-mp3 always yields 16-bit stereo.
func decodeMP3(b []byte) ([]int16, int, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(b))
	if err != nil {
		return nil, 0, fmt.Errorf("rtpsink: decode mp3: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, fmt.Errorf("rtpsink: decode mp3: %w", err)
	}
	return downmix(pcm16(raw)), dec.SampleRate(), nil
}

// downmix averages interleaved stereo pairs; a trailing half pair is dropped.
func downmix(stereo []int16) []int16 {
	out := make([]int16, len(stereo)/2)
	for i := range out {
		out[i] = int16((int32(stereo[2*i]) + int32(stereo[2*i+1])) / 2)
	}
	return out
}

// resample converts between rates by linear interpolation.
func resample(in []int16, from, to int) []int16 {
	if from == to || len(in) == 0 {
		return in
	}
	out := make([]int16, int(int64(len(in))*int64(to)/int64(from)))
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		a := float64(in[j])
		b := a
		if j+1 < len(in) {
			b = float64(in[j+1])
		}
		out[i] = int16(math.Round(a + (b-a)*(pos-float64(j))))
	}
	return out
}
