package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/baseline-gate/internal/health"
	"github.com/keithlinneman/baseline-gate/internal/httpmw"
	"github.com/keithlinneman/baseline-gate/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool

	// OnPanic is called after a recovered panic, e.g. to bump a counter.
	OnPanic func()

	// MetricsMW is the prometheus instrumentation middleware.
	MetricsMW func(http.Handler) http.Handler

	// RateLimitMW enforces the adaptive per-identity limit. Runs after client
	// IP resolution so it keys on the resolved address.
	RateLimitMW func(http.Handler) http.Handler

	// ClientIPOpts controls X-Forwarded-For trust when resolving identities.
	ClientIPOpts httpmw.ClientIPOptions

	Health    health.Probe
	Readiness health.Probe

	// APIRoutes registers the gate endpoints on the router.
	APIRoutes func(chi.Router)
}
