package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-cms/internal/health"
	"github.com/keithlinneman/linnemanlabs-cms/internal/httpmw"
)

func testHandler(t *testing.T, mutate func(*Options)) http.Handler {
	t.Helper()
	opts := &Options{
		Health:       health.Fixed(true, ""),
		Readiness:    health.Fixed(true, ""),
		UseRecoverMW: true,
		APIRoutes: func(r chi.Router) {
			r.Get("/api/ping", func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(httpmw.ClientIPFromContext(r.Context())))
			})
			r.Get("/api/panic", func(http.ResponseWriter, *http.Request) { panic("boom") })
		},
	}
	if mutate != nil {
		mutate(opts)
	}
	return NewHandler(opts)
}

func TestNewHandler_RoutesAndHeaders(t *testing.T) {
	h := testHandler(t, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/ping", http.NoBody)
	req.RemoteAddr = "198.51.100.20:4444"
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "198.51.100.20" {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("missing X-Request-Id")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing security headers")
	}
}

func TestNewHandler_Health(t *testing.T) {
	h := testHandler(t, func(o *Options) { o.Readiness = health.Fixed(false, "draining") })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/-/healthy", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthy status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/-/ready", http.NoBody))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "draining") {
		t.Fatalf("ready status=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestNewHandler_NotFoundIsJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	testHandler(t, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", http.NoBody))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("content-type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestNewHandler_RecoversPanics(t *testing.T) {
	called := 0
	h := testHandler(t, func(o *Options) { o.OnPanic = func() { called++ } })
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/panic", http.NoBody))
	if rec.Code != http.StatusInternalServerError || called != 1 {
		t.Fatalf("status=%d onPanic=%d", rec.Code, called)
	}
}

func TestNewHandler_MetricsMiddlewareWraps(t *testing.T) {
	seen := 0
	h := testHandler(t, func(o *Options) {
		o.MetricsMW = func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen++
				next.ServeHTTP(w, r)
			})
		}
	})
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/ping", http.NoBody))
	if seen != 1 {
		t.Fatalf("metrics middleware saw %d requests", seen)
	}
}
