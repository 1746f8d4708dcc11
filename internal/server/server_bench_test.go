package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func TestMain(m *testing.M) {
	// TextHandler(io.Discard) still processes/formats attrs (accurate alloc count)
	// but suppresses log output during benchmarks. Do NOT use a no-op handler with
	// Enabled()=false -- that skips all work, undercounting allocations.
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

func BenchmarkGetEventCached(b *testing.B) {
	h := newTestHandler(b)

	b.ResetTimer()
	for b.Loop() {
		req := httptest.NewRequest(http.MethodGet, "/v1/events/ev-1", nil)
		req.Header.Set("X-User-ID", "u-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			b.Fatalf("status = %d, want 200; body = %s", rec.Code, rec.Body.String())
		}
	}
}

func BenchmarkEventFullParallel(b *testing.B) {
	h := newTestHandler(b)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			req := httptest.NewRequest(http.MethodGet, "/v1/events/ev-1/full", nil)
			req.Header.Set("X-User-ID", "u-1")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				b.Fatalf("status = %d, want 200; body = %s", rec.Code, rec.Body.String())
			}
		}
	})
}

// ---------------------------------------------------------------------------
// Handler-only microbenchmarks
//
// The benchmark above measures end-to-end including httptest.NewRequest,
// httptest.NewRecorder, and Header.Set overhead.
// The variants below minimise test-infra cost to isolate actual handler allocs.
// ---------------------------------------------------------------------------

// discardResponseWriter is a minimal ResponseWriter for benchmarks.
// Captures status code, discards body, reuses header map between iterations.
type discardResponseWriter struct {
	hdr  http.Header
	code int
}

func (w *discardResponseWriter) Header() http.Header        { return w.hdr }
func (w *discardResponseWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *discardResponseWriter) WriteHeader(code int)        { w.code = code }

func (w *discardResponseWriter) reset() {
	clear(w.hdr)
	w.code = http.StatusOK
}

func BenchmarkGetEventHandler(b *testing.B) {
	h := newTestHandler(b)
	hdr := http.Header{"X-User-Id": {"u-1"}}
	w := &discardResponseWriter{hdr: make(http.Header, 4), code: http.StatusOK}

	b.ResetTimer()
	for b.Loop() {
		req, _ := http.NewRequest(http.MethodGet, "/v1/events/ev-1", nil)
		req.Header = hdr
		w.reset()
		h.ServeHTTP(w, req)
		if w.code != http.StatusOK {
			b.Fatalf("status = %d, want 200", w.code)
		}
	}
}

func BenchmarkHealthzHandler(b *testing.B) {
	h := newTestHandler(b)
	w := &discardResponseWriter{hdr: make(http.Header, 4), code: http.StatusOK}

	b.ResetTimer()
	for b.Loop() {
		req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)
		w.reset()
		h.ServeHTTP(w, req)
		if w.code != http.StatusOK {
			b.Fatalf("status = %d, want 200", w.code)
		}
	}
}
