// Package httpmw provides HTTP middleware for the public-facing listener.
//
// Middleware is composed in a specific order in httpserver.NewHandler:
// security headers, recovery, request ID, client IP extraction, adaptive rate
// limiting, OTEL tracing, trace response headers, metrics, structured logging,
// and the chi router.
//
// Each middleware is an independent function that can be tested, reordered,
// or removed individually. User-supplied data (query params, user-agent,
// headers) is intentionally excluded from logs to prevent PII leaks and
// log injection.
package httpmw
