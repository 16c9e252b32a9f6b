// Package httpmw provides HTTP middleware for the public API server.
//
// Middleware is composed in httpserver.NewHandler, outermost first:
// recover, security headers, request ID, client IP extraction, OTEL
// tracing, trace response headers, metrics, structured logging, max body,
// the API rate limiter and the chi router.
//
// Client IP must run before anything that keys on it (rate limiting,
// logging). User-supplied data (query params, user-agent, request bodies)
// is not logged to prevent PII leaks and log injection.
package httpmw
