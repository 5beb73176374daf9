package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	apperrors "github.com/scriptgen/backend/internal/errors"
	"github.com/scriptgen/backend/internal/logger"
)

func body(s string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(s))
	})
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = apperrors.GetRequestID(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{"generated", "", false},
		{"propagated", "req-123", true},
		{"oversized replaced", strings.Repeat("x", 200), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/scripts", nil)
			if tt.header != "" {
				req.Header.Set(RequestIDHeader, tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if seen == "" || w.Header().Get(RequestIDHeader) != seen {
				t.Fatalf("context id %q, header %q", seen, w.Header().Get(RequestIDHeader))
			}
			if (seen == tt.header) != tt.keep {
				t.Errorf("request id = %q, keep = %v", seen, tt.keep)
			}
		})
	}
}

func TestETag(t *testing.T) {
	h := ETag(body(`{"items":[]}`))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/scripts", nil))
	etag := w.Header().Get("ETag")
	if w.Code != http.StatusOK || etag == "" || w.Body.String() != `{"items":[]}` {
		t.Fatalf("first response: code %d etag %q body %q", w.Code, etag, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/scripts", nil)
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNotModified || w.Body.Len() != 0 {
		t.Errorf("conditional response: code %d body %q", w.Code, w.Body.String())
	}
}

func TestEtagMatches(t *testing.T) {
	tests := []struct {
		header string
		want   bool
	}{
		{"", false},
		{`W/"abc"`, true},
		{`"abc"`, true},
		{`"zzz", W/"abc"`, true},
		{"*", true},
		{`"zzz"`, false},
	}
	for _, tt := range tests {
		if got := etagMatches(tt.header, `W/"abc"`); got != tt.want {
			t.Errorf("etagMatches(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}

func TestETag_SkipsErrorsAndArchives(t *testing.T) {
	notFound := ETag(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("missing"))
	}))
	w := httptest.NewRecorder()
	notFound.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/scripts/x", nil))
	if w.Code != http.StatusNotFound || w.Header().Get("ETag") != "" || w.Body.String() != "missing" {
		t.Errorf("error response: code %d etag %q", w.Code, w.Header().Get("ETag"))
	}

	w = httptest.NewRecorder()
	ETag(body("zipdata")).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/download/file/run-1", nil))
	if w.Header().Get("ETag") != "" {
		t.Error("archive downloads should not be buffered for an ETag")
	}
}

func TestGzip(t *testing.T) {
	payload := strings.Repeat(`{"segment":"text"}`, 100)
	h := Gzip(body(payload))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/scripts", nil)
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, headers %v", w.Header())
	}
	zr, err := gzip.NewReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("gzip.NewReader() error = %v", err)
	}
	got, _ := io.ReadAll(zr)
	if string(got) != payload {
		t.Error("decompressed body mismatch")
	}
}

func TestGzip_Skips(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		accept string
	}{
		{"no accept", "/api/v1/scripts", ""},
		{"archive", "/api/v1/download/file/run-1", "gzip"},
		{"websocket", "/ws/progress/run-1", "gzip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.accept != "" {
				req.Header.Set("Accept-Encoding", tt.accept)
			}
			w := httptest.NewRecorder()
			Gzip(body("plain")).ServeHTTP(w, req)
			if w.Header().Get("Content-Encoding") != "" || w.Body.String() != "plain" {
				t.Errorf("expected uncompressed body, got %q", w.Body.String())
			}
		})
	}
}

func TestTiming(t *testing.T) {
	var logs bytes.Buffer
	log := logger.New(&logger.Config{Output: &logs, Level: logger.LevelWarn})

	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte("ok"))
	})
	w := httptest.NewRecorder()
	Timing(log, 5*time.Millisecond)(slow).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/scripts", nil))

	if !strings.HasPrefix(w.Header().Get("Server-Timing"), "app;dur=") {
		t.Errorf("Server-Timing = %q", w.Header().Get("Server-Timing"))
	}
	if !strings.Contains(logs.String(), "slow request") {
		t.Errorf("expected slow request warning, got %q", logs.String())
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(body("ok"))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/transcribe", nil)
	req.Header.Set("Origin", "https://app.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Errorf("preflight: code %d headers %v", w.Code, w.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/scripts", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin should not be allowed")
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	Chain(body(""), mark("a"), mark("b"), mark("c")).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if strings.Join(order, ",") != "a,b,c" {
		t.Errorf("order = %v", order)
	}
}
