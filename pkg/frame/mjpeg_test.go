package frame

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// mjpegServer serves parts once and then holds the response open. A trailing
// part header is written so length-less parts are terminated.
func mjpegServer(t *testing.T, withLength bool, parts ...[]byte) (*httptest.Server, <-chan struct{}) {
	t.Helper()
	sent := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.WriteHeader(http.StatusOK)
		for _, p := range parts {
			fmt.Fprint(w, "--frame\r\nContent-Type: image/jpeg\r\n")
			if withLength {
				fmt.Fprintf(w, "Content-Length: %d\r\n", len(p))
			}
			fmt.Fprint(w, "\r\n")
			w.Write(p)
			fmt.Fprint(w, "\r\n")
		}
		fmt.Fprint(w, "--frame\r\n")
		w.(http.Flusher).Flush()
		close(sent)
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv, sent
}

func TestMJPEG_LatestPartWins(t *testing.T) {
	small := testJPEG(t, 8, 8)
	large := testJPEG(t, 40, 30)

	for _, withLength := range []bool{true, false} {
		t.Run(fmt.Sprintf("content-length=%v", withLength), func(t *testing.T) {
			srv, sent := mjpegServer(t, withLength, small, large)

			src, err := NewMJPEG(WithStreamURL(srv.URL), WithHTTPClient(srv.Client()))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer src.Close()

			ctx := context.Background()
			if _, err := src.Poll(ctx); err != nil && !errors.Is(err, ErrNoNewFrame) {
				t.Fatalf("unexpected error on first poll: %v", err)
			}
			<-sent

			var got Sample
			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				s, err := src.Poll(ctx)
				if err == nil && s.Width == 40 {
					got = s
					break
				}
				time.Sleep(10 * time.Millisecond)
			}
			if got.IsZero() {
				t.Fatal("expected to receive the latest part")
			}
			if got.Height != 30 {
				t.Errorf("height = %d, want 30", got.Height)
			}

			if _, err := src.Poll(ctx); !errors.Is(err, ErrNoNewFrame) {
				t.Errorf("expected ErrNoNewFrame after consuming, got %v", err)
			}
		})
	}
}

func TestMJPEG_RejectsResponse(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{
			name:       "not found",
			handler:    func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) },
			wantStatus: http.StatusNotFound,
		},
		{
			name: "single image",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "image/jpeg")
				w.Write([]byte{0xff, 0xd8})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			src, _ := NewMJPEG(WithStreamURL(srv.URL), WithHTTPClient(srv.Client()))
			defer src.Close()

			_, err := src.Poll(context.Background())
			var acqErr *AcquisitionError
			if !errors.As(err, &acqErr) {
				t.Fatalf("expected *AcquisitionError, got %v", err)
			}
			if acqErr.Op != "mjpeg" || acqErr.StatusCode != tt.wantStatus {
				t.Errorf("got op %q status %d", acqErr.Op, acqErr.StatusCode)
			}

			// redial is rate limited
			if _, err := src.Poll(context.Background()); !errors.Is(err, ErrNoNewFrame) {
				t.Errorf("expected ErrNoNewFrame while waiting to redial, got %v", err)
			}
		})
	}
}

func TestMJPEG_ClosedSource(t *testing.T) {
	src, _ := NewMJPEG(WithStreamURL("http://127.0.0.1:1/none"))
	src.Close()
	if _, err := src.Poll(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestPartBoundary(t *testing.T) {
	tests := []struct {
		contentType string
		want        string
		wantErr     bool
	}{
		{"multipart/x-mixed-replace; boundary=frame", "frame", false},
		{`multipart/x-mixed-replace;boundary="--myboundary"`, "myboundary", false},
		{"multipart/x-mixed-replace", "", true},
		{"image/jpeg", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := partBoundary(tt.contentType)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("partBoundary(%q) = %q, %v", tt.contentType, got, err)
		}
	}
}

func TestReadUntil(t *testing.T) {
	delim := []byte("--frame")
	in := "preamble\r\n--frame\r\nbody line\r\nmore\r\n--frame--\r\n"
	r := bufio.NewReaderSize(strings.NewReader(in), 16)

	pre, err := readUntil(r, delim)
	if err != nil || string(pre) != "preamble" {
		t.Fatalf("preamble = %q, %v", pre, err)
	}
	body, err := readUntil(r, delim)
	if !errors.Is(err, io.EOF) {
		t.Errorf("closing delimiter error = %v, want io.EOF", err)
	}
	if !bytes.Equal(body, []byte("body line\r\nmore")) {
		t.Errorf("body = %q", body)
	}
}
