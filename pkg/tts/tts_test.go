package tts_test

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-cane/pkg/tts"
)

func TestMockProvider(t *testing.T) {
	mock := tts.NewMock()
	ctx := context.Background()

	t.Run("Synthesize returns silence", func(t *testing.T) {
		result, err := mock.Synthesize(ctx, "person ahead")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result.Audio) == 0 {
			t.Error("expected audio data")
		}
		if result.Format.SampleRate != 24000 {
			t.Errorf("expected 24000 sample rate, got %d", result.Format.SampleRate)
		}
		if !result.Format.IsPCM() {
			t.Error("expected PCM format")
		}
	})

	t.Run("Calls are tracked", func(t *testing.T) {
		if mock.CallCount("Synthesize") != 1 {
			t.Errorf("expected 1 Synthesize call, got %d", mock.CallCount("Synthesize"))
		}
		if mock.Calls()[0].Text != "person ahead" {
			t.Errorf("unexpected recorded text %q", mock.Calls()[0].Text)
		}
	})

	t.Run("Reset clears calls", func(t *testing.T) {
		mock.Reset()
		if len(mock.Calls()) != 0 {
			t.Error("expected calls to be cleared")
		}
	})

	t.Run("Latency honors cancellation", func(t *testing.T) {
		slow := tts.NewMock()
		slow.Latency = time.Second
		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		if _, err := slow.Synthesize(cctx, "hi"); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	failErr := errors.New("primary down")

	t.Run("falls back to next provider", func(t *testing.T) {
		primary := tts.WithError(failErr)
		backup := tts.NewMock()
		chain, err := tts.NewChain(nil, primary, backup)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, err := chain.Synthesize(ctx, "chair on your left, far"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if backup.CallCount("Synthesize") != 1 {
			t.Error("expected backup provider to be used")
		}
	})

	t.Run("aggregates errors", func(t *testing.T) {
		other := errors.New("backup down")
		chain, _ := tts.NewChain(nil, tts.WithError(failErr), tts.WithError(other))

		_, err := chain.Synthesize(ctx, "hi")
		var chainErr *tts.ChainError
		if !errors.As(err, &chainErr) {
			t.Fatalf("expected *ChainError, got %v", err)
		}
		if !errors.Is(err, failErr) || !errors.Is(err, other) {
			t.Errorf("expected both provider errors reachable, got %v", err)
		}
	})

	t.Run("requires a provider", func(t *testing.T) {
		if _, err := tts.NewChain(nil, nil); !errors.Is(err, tts.ErrProviderUnavailable) {
			t.Errorf("expected ErrProviderUnavailable, got %v", err)
		}
	})
}

func TestOpenAI_Synthesize(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.Write(make([]byte, 4800))
	}))
	defer srv.Close()

	p, err := tts.NewOpenAI(tts.WithAPIKey("sk-test"), tts.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	res, err := p.Synthesize(context.Background(), "person ahead, close")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if auth != "Bearer sk-test" {
		t.Errorf("unexpected auth header %q", auth)
	}
	if got["response_format"] != "pcm" {
		t.Errorf("expected pcm response format, got %v", got["response_format"])
	}
	if got["input"] != "person ahead, close" {
		t.Errorf("unexpected input %v", got["input"])
	}
	if res.Duration != 100*time.Millisecond {
		t.Errorf("expected 100ms of audio, got %v", res.Duration)
	}
}

func TestOpenAI_Errors(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		if _, err := tts.NewOpenAI(); !errors.Is(err, tts.ErrNoAPIKey) {
			t.Errorf("expected ErrNoAPIKey, got %v", err)
		}
	})

	t.Run("unauthorized is not retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"bad key","code":"invalid_api_key"}}`))
		}))
		defer srv.Close()

		p, _ := tts.NewOpenAI(tts.WithAPIKey("x"), tts.WithBaseURL(srv.URL), tts.WithRetry(3, time.Millisecond))
		_, err := p.Synthesize(context.Background(), "hello")

		if !errors.Is(err, tts.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
		var apiErr *tts.APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got %v", err)
		}
		if apiErr.Code != "invalid_api_key" {
			t.Errorf("expected error code, got %q", apiErr.Code)
		}
		if calls.Load() != 1 {
			t.Errorf("expected 1 call, got %d", calls.Load())
		}
	})

	t.Run("server errors are retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte{0, 0})
		}))
		defer srv.Close()

		p, _ := tts.NewOpenAI(tts.WithAPIKey("x"), tts.WithBaseURL(srv.URL), tts.WithRetry(1, time.Millisecond))
		if _, err := p.Synthesize(context.Background(), "hello"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls.Load() != 2 {
			t.Errorf("expected 2 calls, got %d", calls.Load())
		}
	})

	t.Run("empty text", func(t *testing.T) {
		p, _ := tts.NewOpenAI(tts.WithAPIKey("x"))
		if _, err := p.Synthesize(context.Background(), "  "); !errors.Is(err, tts.ErrEmptyText) {
			t.Errorf("expected ErrEmptyText, got %v", err)
		}
	})
}

// wav wraps pcm in a minimal RIFF/WAVE container.
func wav(pcm []byte) []byte {
	buf := make([]byte, 44+len(pcm))
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+len(pcm)))
	copy(buf[8:], "WAVE")
	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1)
	binary.LittleEndian.PutUint16(buf[22:], 1)
	binary.LittleEndian.PutUint32(buf[24:], 24000)
	binary.LittleEndian.PutUint32(buf[28:], 48000)
	binary.LittleEndian.PutUint16(buf[32:], 2)
	binary.LittleEndian.PutUint16(buf[34:], 16)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

func TestGoogle_Synthesize(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	var req struct {
		Input struct {
			Text string `json:"text"`
		} `json:"input"`
		AudioConfig struct {
			AudioEncoding   string `json:"audioEncoding"`
			SampleRateHertz int    `json:"sampleRateHertz"`
		} `json:"audioConfig"`
	}
	var path string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"audioContent": base64.StdEncoding.EncodeToString(wav(pcm)),
		})
	}))
	defer srv.Close()

	p, err := tts.NewGoogle(context.Background(),
		tts.WithHTTPClient(srv.Client()),
		tts.WithBaseURL(srv.URL+"/"),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	res, err := p.Synthesize(context.Background(), "dog ahead, far")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasSuffix(path, "text:synthesize") {
		t.Errorf("unexpected request path %q", path)
	}
	if req.Input.Text != "dog ahead, far" {
		t.Errorf("unexpected text %q", req.Input.Text)
	}
	if req.AudioConfig.AudioEncoding != "LINEAR16" || req.AudioConfig.SampleRateHertz != 24000 {
		t.Errorf("unexpected audio config %+v", req.AudioConfig)
	}
	if string(res.Audio) != string(pcm) {
		t.Errorf("expected WAV header stripped, got %v", res.Audio)
	}
	if res.Format.SampleRate != 24000 {
		t.Errorf("expected 24kHz, got %d", res.Format.SampleRate)
	}
}

func TestGoogle_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":403,"message":"API not enabled","status":"PERMISSION_DENIED"}}`))
	}))
	defer srv.Close()

	p, err := tts.NewGoogle(context.Background(),
		tts.WithHTTPClient(srv.Client()),
		tts.WithBaseURL(srv.URL+"/"),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = p.Synthesize(context.Background(), "hello")
	var apiErr *tts.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != 403 {
		t.Errorf("expected 403, got %d", apiErr.StatusCode)
	}
}
