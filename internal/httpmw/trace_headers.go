package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

// HeaderTraceID carries the request trace id back to API clients so a failed
// call can be matched to its trace and log lines.
const HeaderTraceID = "X-Trace-Id"

// TraceID sets HeaderTraceID before the handler writes, when the request is
// part of a valid trace.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
			w.Header().Set(HeaderTraceID, sc.TraceID().String())
		}
		next.ServeHTTP(w, r)
	})
}
