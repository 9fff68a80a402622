// Package ratelimit owns the per-identity anomaly limiters: lazy creation on
// first sight, serialized access per identity, and background eviction of
// idle entries.
//
// Two checks run per request, in order:
//   - an optional token-bucket hard cap (first line - a brand new identity can
//     flood an entire interval before the statistical check has anything to
//     compare against)
//   - the rolling z-score verdict from internal/anomaly
//
// This is a single-instance, in-memory limiter intended for one server. It
// does not aggregate counts across nodes and does not protect against
// distributed attacks that spread load thinly across many identities. For
// those, use an upstream WAF or CDN-level rate limiting.
package ratelimit
