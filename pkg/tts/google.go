package tts

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/texttospeech/v1"
)

const providerGoogle = "google"

// Google implements Provider for Google Cloud Text-to-Speech.
// It authenticates with an API key when one is configured and with
// Application Default Credentials otherwise.
type Google struct {
	config     *Config
	service    *texttospeech.Service
	logger     *slog.Logger
	sampleRate int
}

// NewGoogle creates a Google Cloud TTS provider producing mono PCM16.
func NewGoogle(ctx context.Context, opts ...Option) (*Google, error) {
	cfg := DefaultConfig()
	cfg.VoiceID = "en-US-Neural2-F"
	cfg.Apply(opts...)

	var clientOpts []option.ClientOption
	switch {
	case cfg.HTTPClient != nil:
		clientOpts = append(clientOpts, option.WithHTTPClient(cfg.HTTPClient))
	case cfg.APIKey != "":
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	default:
		ts, err := google.DefaultTokenSource(ctx, texttospeech.CloudPlatformScope)
		if err != nil {
			return nil, fail(providerGoogle, fmt.Errorf("default credentials: %w", err))
		}
		clientOpts = append(clientOpts, option.WithTokenSource(oauth2.ReuseTokenSource(nil, ts)))
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.BaseURL))
	}

	svc, err := texttospeech.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fail(providerGoogle, fmt.Errorf("create service: %w", err))
	}

	rate := SampleRateFromEncoding(cfg.OutputFormat)
	if cfg.OutputFormat == EncodingMP3 {
		rate = 24000
	}

	return &Google{
		config:     cfg,
		service:    svc,
		logger:     cfg.Logger.With("component", "tts.google"),
		sampleRate: rate,
	}, nil
}

// Synthesize converts text to LINEAR16 audio with the WAV header removed.
func (g *Google) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fail(providerGoogle, ErrEmptyText)
	}
	start := time.Now()

	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	req := &texttospeech.SynthesizeSpeechRequest{
		Input: &texttospeech.SynthesisInput{Text: text},
		Voice: &texttospeech.VoiceSelectionParams{
			LanguageCode: g.config.LanguageCode,
			Name:         g.config.VoiceID,
		},
		AudioConfig: &texttospeech.AudioConfig{
			AudioEncoding:   "LINEAR16",
			SampleRateHertz: int64(g.sampleRate),
			SpeakingRate:    g.config.SpeakingRate,
		},
	}

	resp, err := g.service.Text.Synthesize(req).Context(ctx).Do()
	if err != nil {
		var gErr *googleapi.Error
		if errors.As(err, &gErr) {
			return nil, &APIError{
				StatusCode: gErr.Code,
				Message:    gErr.Message,
				Provider:   providerGoogle,
			}
		}
		return nil, fail(providerGoogle, err)
	}

	raw, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, fail(providerGoogle, fmt.Errorf("decode audio: %w", err))
	}
	pcm := stripWAVHeader(raw)
	if len(pcm) == 0 {
		return nil, fail(providerGoogle, ErrEmptyAudio)
	}

	latency := time.Since(start).Milliseconds()
	g.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(pcm),
		"latency_ms", latency,
		"voice", g.config.VoiceID,
	)

	return &AudioResult{
		Audio:     pcm,
		Format:    PCMFormat(g.sampleRate),
		Duration:  PCMDuration(len(pcm), g.sampleRate),
		CharCount: len(text),
		LatencyMs: latency,
	}, nil
}

// Close releases resources.
func (g *Google) Close() error {
	return nil
}

// stripWAVHeader returns the payload of the "data" chunk of a RIFF/WAVE
// buffer. Input without a RIFF header is returned unchanged.
func stripWAVHeader(b []byte) []byte {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return b
	}
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		off += 8
		if id == "data" {
			end := off + size
			if end > len(b) || size == 0 {
				end = len(b)
			}
			return b[off:end]
		}
		off += size + size%2
	}
	return nil
}

// Verify Google implements Provider at compile time.
var _ Provider = (*Google)(nil)
