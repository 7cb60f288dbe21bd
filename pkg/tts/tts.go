// Package tts synthesizes alert phrases into audio.
//
// Providers implement a single Synthesize call; alerts are short, so audio is
// returned whole rather than streamed. Available providers are OpenAI
// (/v1/audio/speech), Google Cloud Text-to-Speech, a fallback Chain and a
// Mock for tests.
//
// Example usage:
//
//	provider, _ := tts.NewOpenAI(
//	    tts.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    tts.WithVoice(tts.VoiceNova),
//	)
//	defer provider.Close()
//
//	result, _ := provider.Synthesize(ctx, "person ahead, close")
//	// result.Audio holds 24kHz mono PCM16
package tts

import (
	"context"
	"time"
)

// Provider defines the TTS provider interface.
type Provider interface {
	// Synthesize converts text to audio, returning the complete audio buffer.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Close releases any resources held by the provider.
	Close() error
}

// AudioResult represents a complete audio synthesis result.
type AudioResult struct {
	// Audio contains the raw audio data in the specified format.
	Audio []byte

	// Format describes the audio encoding and sample rate.
	Format AudioFormat

	// Duration is the playback duration when it can be derived (PCM only).
	Duration time.Duration

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the request round trip in milliseconds.
	LatencyMs int64
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
	BitDepth   int
}

// IsPCM reports whether the audio is raw little-endian PCM16.
func (f AudioFormat) IsPCM() bool {
	switch f.Encoding {
	case EncodingPCM16, EncodingPCM22, EncodingPCM24, EncodingPCM44:
		return true
	}
	return false
}

// Encoding represents audio encoding types.
type Encoding string

const (
	// PCM formats (raw mono PCM16)
	EncodingPCM16 Encoding = "pcm_16000"
	EncodingPCM22 Encoding = "pcm_22050"
	EncodingPCM24 Encoding = "pcm_24000"
	EncodingPCM44 Encoding = "pcm_44100"

	// Compressed formats
	EncodingMP3 Encoding = "mp3_44100_128"
)

// SampleRateFromEncoding extracts the sample rate from an encoding type.
func SampleRateFromEncoding(enc Encoding) int {
	switch enc {
	case EncodingPCM16:
		return 16000
	case EncodingPCM22:
		return 22050
	case EncodingPCM24:
		return 24000
	case EncodingPCM44, EncodingMP3:
		return 44100
	default:
		return 24000
	}
}

// PCMFormat returns the mono PCM16 format at rate.
func PCMFormat(rate int) AudioFormat {
	enc := EncodingPCM24
	switch rate {
	case 16000:
		enc = EncodingPCM16
	case 22050:
		enc = EncodingPCM22
	case 44100:
		enc = EncodingPCM44
	}
	return AudioFormat{Encoding: enc, SampleRate: rate, Channels: 1, BitDepth: 16}
}

// PCMDuration returns the playback length of n bytes of mono PCM16 at rate.
func PCMDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	samples := n / 2
	return time.Duration(samples) * time.Second / time.Duration(rate)
}
