package httpmw

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-cms/internal/log"
)

// recLogger records Info/Error calls for assertions.
type recLogger struct {
	log.Logger
	fields []any
	infos  *[]string
	errs   *[]error
}

func newRecLogger() *recLogger {
	return &recLogger{Logger: log.Nop(), infos: new([]string), errs: new([]error)}
}

func (l *recLogger) With(kv ...any) log.Logger {
	return &recLogger{Logger: l.Logger, fields: append(append([]any{}, l.fields...), kv...), infos: l.infos, errs: l.errs}
}
func (l *recLogger) Info(_ context.Context, msg string, _ ...any) { *l.infos = append(*l.infos, msg) }
func (l *recLogger) Error(_ context.Context, err error, _ string, _ ...any) {
	*l.errs = append(*l.errs, err)
}

func (l *recLogger) field(k string) any {
	for i := 0; i+1 < len(l.fields); i += 2 {
		if l.fields[i] == k {
			return l.fields[i+1]
		}
	}
	return nil
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "h") }),
		mw("a"), nil, mw("b"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if got := strings.Join(order, ","); got != "a,b,h" {
		t.Fatalf("order = %s", got)
	}
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"propagates sane id", "abc-123_def.4", true},
		{"generates when missing", "", false},
		{"replaces injected id", "bad id\nlevel=error", false},
		{"replaces oversized id", strings.Repeat("a", 65), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ctxID string
			h := RequestID("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxID = RequestIDFromContext(r.Context())
			}))
			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.incoming != "" {
				r.Header.Set("X-Request-Id", tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)

			if rec.Header().Get("X-Request-Id") != ctxID || ctxID == "" {
				t.Fatalf("header %q, ctx %q", rec.Header().Get("X-Request-Id"), ctxID)
			}
			if (ctxID == tt.incoming) != tt.keep {
				t.Fatalf("id = %q, incoming %q, keep %v", ctxID, tt.incoming, tt.keep)
			}
		})
	}
}

func TestRecover(t *testing.T) {
	L := newRecLogger()
	panics := 0
	h := Recover(L, func() { panics++ })(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pages", http.NoBody))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal server error") {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if panics != 1 || len(*L.errs) != 1 || !strings.Contains((*L.errs)[0].Error(), "boom") {
		t.Fatalf("panics=%d errs=%v", panics, *L.errs)
	}
}

func TestRecover_AbortHandlerRepanics(t *testing.T) {
	h := Recover(nil, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("recovered %v, want ErrAbortHandler", rec)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
}

func TestMaxBody(t *testing.T) {
	var readErr error
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	// declared length over the limit is rejected up front
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}

	// unknown length is cut off while reading
	r := httptest.NewRequest(http.MethodPost, "/", io.NopCloser(bytes.NewReader([]byte("0123456789"))))
	r.ContentLength = -1
	h.ServeHTTP(httptest.NewRecorder(), r)
	var mbe *http.MaxBytesError
	if !errors.As(readErr, &mbe) || mbe.Limit != 8 {
		t.Fatalf("read err = %v, want MaxBytesError", readErr)
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	for _, k := range []string{"Strict-Transport-Security", "Content-Security-Policy", "X-Content-Type-Options", "Cache-Control"} {
		if rec.Header().Get(k) == "" {
			t.Errorf("missing %s", k)
		}
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Errorf("X-Frame-Options = %q", rec.Header().Get("X-Frame-Options"))
	}
}

func TestWithLogger_UsesResolvedClientIP(t *testing.T) {
	base := newRecLogger()
	var got *recLogger
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = log.FromContext(r.Context()).(*recLogger)
	}), RequestID(""), ClientIPWithOptions(ClientIPOptions{TrustedHops: 1}), WithLogger(base))

	r := httptest.NewRequest(http.MethodGet, "/api/pages", http.NoBody)
	r.RemoteAddr = "10.0.0.2:443"
	r.Header.Set("X-Forwarded-For", "6.6.6.6, 192.0.2.10")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if got == nil {
		t.Fatal("no logger in context")
	}
	if ip := got.field("client.address"); ip != "192.0.2.10" {
		t.Fatalf("client.address = %v", ip)
	}
	if got.field("request_id") == "" {
		t.Fatal("request_id missing")
	}
}

func TestAccessLog_SkipsHealthAndLogsRequests(t *testing.T) {
	base := newRecLogger()
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), WithLogger(base), AccessLog())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/-/ready", http.NoBody))
	if len(*base.infos) != 0 {
		t.Fatalf("health request logged: %v", *base.infos)
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/pages", http.NoBody))
	if len(*base.infos) != 1 || (*base.infos)[0] != "http request" {
		t.Fatalf("infos = %v", *base.infos)
	}
}

func TestSchemeFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	if got := schemeFromRequest(r); got != "http" {
		t.Fatalf("plain = %q", got)
	}
	r.Header.Set("X-Forwarded-Proto", "HTTPS, http")
	if got := schemeFromRequest(r); got != "https" {
		t.Fatalf("forwarded = %q", got)
	}
	r.Header.Set("X-Forwarded-Proto", "javascript")
	if got := schemeFromRequest(r); got != "http" {
		t.Fatalf("bogus forwarded = %q", got)
	}
}

func TestTraceID(t *testing.T) {
	h := TraceID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pages", http.NoBody))
	if got := rec.Header().Get(HeaderTraceID); got != "" {
		t.Fatalf("untraced request got %s=%q", HeaderTraceID, got)
	}

	tid, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	sid, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid})
	r := httptest.NewRequest(http.MethodGet, "/api/pages", http.NoBody)
	r = r.WithContext(trace.ContextWithSpanContext(r.Context(), sc))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if got := rec.Header().Get(HeaderTraceID); got != tid.String() {
		t.Fatalf("%s = %q, want %q", HeaderTraceID, got, tid)
	}
}

func TestRoutePattern(t *testing.T) {
	var got string
	router := chi.NewRouter()
	router.Get("/api/pages/{slug}", func(w http.ResponseWriter, r *http.Request) { got = RoutePattern(r) })
	router.NotFound(func(w http.ResponseWriter, r *http.Request) { got = RoutePattern(r) })

	tests := []struct {
		path string
		want string
	}{
		{"/api/pages/about", "/api/pages/{slug}"},
		{"/wp-login.php", "unmatched"},
	}
	for _, tt := range tests {
		got = ""
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))
		if got != tt.want {
			t.Errorf("RoutePattern(%s) = %q, want %q", tt.path, got, tt.want)
		}
	}

	if p := RoutePattern(httptest.NewRequest(http.MethodGet, "/", http.NoBody)); p != "unmatched" {
		t.Fatalf("outside chi = %q", p)
	}
}
