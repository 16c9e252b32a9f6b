package log

import "context"

type loggerKey struct{}

// WithContext stores l in ctx. A nil l leaves ctx unchanged.
func WithContext(ctx context.Context, l Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the request logger, or Nop outside a request.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return l
	}
	return Nop()
}

// Enrich adds kv to the logger carried by ctx and stores the result back,
// so handlers further down log with e.g. the signed in user id.
func Enrich(ctx context.Context, kv ...any) (context.Context, Logger) {
	l := FromContext(ctx).With(kv...)
	return context.WithValue(ctx, loggerKey{}, l), l
}
