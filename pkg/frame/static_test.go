package frame

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func TestStatic_FetchesOnceWithFreshTimestamps(t *testing.T) {
	img := testJPEG(t, 16, 16)
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/test-image" {
			http.NotFound(w, r)
			return
		}
		fetches.Add(1)
		w.Write(img)
	}))
	defer srv.Close()

	src, err := NewStatic(WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var d Deduper
	for i := 0; i < 3; i++ {
		s, err := src.Poll(context.Background())
		if err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
		if !d.Accept(s.CapturedAt) {
			t.Errorf("poll %d: timestamp %v not strictly newer", i, s.CapturedAt)
		}
	}

	if fetches.Load() != 1 {
		t.Errorf("expected test image fetched once, got %d", fetches.Load())
	}
}

func TestStatic_RetriesAfterFailure(t *testing.T) {
	img := testJPEG(t, 16, 16)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(img)
	}))
	defer srv.Close()

	src, _ := NewStatic(WithBaseURL(srv.URL))

	_, err := src.Poll(context.Background())
	var acqErr *AcquisitionError
	if !errors.As(err, &acqErr) || acqErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 acquisition error, got %v", err)
	}

	if _, err := src.Poll(context.Background()); err != nil {
		t.Errorf("expected second poll to succeed, got %v", err)
	}
}

func TestStatic_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jpg")
	if err := os.WriteFile(path, testJPEG(t, 20, 10), 0o600); err != nil {
		t.Fatal(err)
	}

	src, err := NewStatic(WithImagePath(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := src.Poll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Width != 20 || s.Height != 10 {
		t.Errorf("expected 20x10, got %dx%d", s.Width, s.Height)
	}
}
