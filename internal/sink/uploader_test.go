package sink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/segment"
)

func testCompletion(t *testing.T) segment.Completion {
	t.Helper()

	path := filepath.Join(t.TempDir(), "speech_1700000000_001.wav")
	if err := os.WriteFile(path, []byte("RIFF-test-data"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	return segment.Completion{
		Filename:     "speech_1700000000_001.wav",
		RelativePath: "segments/speech_1700000000_001.wav",
		Path:         path,
		IsManual:     true,
		Duration:     1.25,
		CreatedAt:    time.Unix(1700000000, 0),
	}
}

func newTestUploader(t *testing.T, endpoint string) *Uploader {
	t.Helper()

	u, err := NewUploader(Config{
		Endpoint:   endpoint,
		APIKey:     "secret",
		Timeout:    time.Second,
		MaxRetries: 2,
		Backoff:    time.Millisecond,
		MaxBackoff: 5 * time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	if err != nil {
		t.Fatalf("NewUploader failed: %v", err)
	}
	return u
}

func TestNewUploaderValidation(t *testing.T) {
	if _, err := NewUploader(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)), nil); err == nil {
		t.Error("Expected error for empty endpoint")
	}
}

func TestUploadSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("Unexpected authorization header %q", r.Header.Get("Authorization"))
		}

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm failed: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if got := r.FormValue("is_manual"); got != "true" {
			t.Errorf("Expected is_manual=true, got %q", got)
		}
		if got := r.FormValue("relative_path"); got != "segments/speech_1700000000_001.wav" {
			t.Errorf("Unexpected relative_path %q", got)
		}
		if got := r.FormValue("request_id"); got == "" || got != r.Header.Get("X-Request-ID") {
			t.Errorf("Expected request id in form and header, got %q", got)
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile failed: %v", err)
		} else {
			data, _ := io.ReadAll(file)
			if string(data) != "RIFF-test-data" || header.Filename != "speech_1700000000_001.wav" {
				t.Errorf("Unexpected file %s with %q", header.Filename, data)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"remote-42"}`))
	}))
	defer server.Close()

	u := newTestUploader(t, server.URL)

	receipt, err := u.Upload(context.Background(), testCompletion(t))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if receipt.RemoteID != "remote-42" {
		t.Errorf("Expected remote id remote-42, got %q", receipt.RemoteID)
	}
	if receipt.RequestID == "" {
		t.Error("Expected request id")
	}

	stats := u.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestUploadRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	u := newTestUploader(t, server.URL)

	if _, err := u.Upload(context.Background(), testCompletion(t)); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
	if retries := u.GetStats().TotalRetries; retries != 2 {
		t.Errorf("Expected 2 retries, got %d", retries)
	}
}

func TestUploadDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad segment", http.StatusBadRequest)
	}))
	defer server.Close()

	u := newTestUploader(t, server.URL)

	_, err := u.Upload(context.Background(), testCompletion(t))

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected 400 status error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected a single attempt, got %d", calls.Load())
	}
	if failed := u.GetStats().FailedRequests; failed != 1 {
		t.Errorf("Expected 1 failed request, got %d", failed)
	}
}

func TestUploadMissingFile(t *testing.T) {
	u := newTestUploader(t, "http://127.0.0.1:1")

	c := testCompletion(t)
	c.Path = filepath.Join(t.TempDir(), "gone.wav")

	if _, err := u.Upload(context.Background(), c); err == nil {
		t.Error("Expected error for missing segment file")
	}
}

func TestEnqueueAndClose(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	u := newTestUploader(t, server.URL)
	c := testCompletion(t)

	for i := 0; i < 3; i++ {
		u.Enqueue(c)
	}

	if err := u.Close(5 * time.Second); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 uploads, got %d", calls.Load())
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err      error
		expected bool
	}{
		{&StatusError{StatusCode: 500}, true},
		{&StatusError{StatusCode: 429}, true},
		{&StatusError{StatusCode: 404}, false},
		{context.DeadlineExceeded, true},
		{errors.New("malformed"), false},
	}

	for _, tt := range tests {
		if got := isRetryable(tt.err); got != tt.expected {
			t.Errorf("isRetryable(%v): expected %t, got %t", tt.err, tt.expected, got)
		}
	}
}
