package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/baseline-gate/internal/version"
)

type ServerMetrics struct {
	reg            *prometheus.Registry
	handler        http.Handler
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	errorsTotal *prometheus.CounterVec

	profilingActive prometheus.Gauge

	// gate metrics
	gateDecisionsTotal *prometheus.CounterVec
	gateZScore         prometheus.Histogram
	gateIdentities     prometheus.Gauge
	gateEvictionsTotal prometheus.Counter
	gateCapacityTotal  prometheus.Counter
	gateIntervalsTotal prometheus.Counter
	gateThreshold      prometheus.Gauge

	// tuning watcher metrics
	tuningPollsTotal    prometheus.Counter
	tuningAppliesTotal  prometheus.Counter
	tuningErrorsTotal   *prometheus.CounterVec
	tuningLastSuccessTs prometheus.Gauge
	tuningStale         prometheus.Gauge
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		gateDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gate_decisions_total",
			Help: "Total gate decisions by verdict (allowed, denied, capacity)",
		}, []string{"verdict"}),
		gateZScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gate_interval_zscore",
			Help:    "Z-score computed at each interval close",
			Buckets: []float64{0.25, 0.5, 1, 1.5, 2, 2.5, 3, 4, 6, 10},
		}),
		gateIdentities: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gate_identities",
			Help: "Current number of tracked identities",
		}),
		gateEvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gate_identity_evictions_total",
			Help: "Total identities evicted after idle TTL",
		}),
		gateCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gate_capacity_rejections_total",
			Help: "Total check calls rejected because the identity registry was full",
		}),
		gateIntervalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gate_intervals_closed_total",
			Help: "Total observation intervals closed across all identities",
		}),
		gateThreshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gate_zscore_threshold",
			Help: "Currently effective z-score denial threshold",
		}),
		tuningPollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tuning_watcher_polls_total",
			Help: "Total number of tuning watcher poll cycles",
		}),
		tuningAppliesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tuning_watcher_applies_total",
			Help: "Total number of tuning overrides applied",
		}),
		tuningErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tuning_watcher_errors_total",
			Help: "Total tuning watcher errors by type",
		}, []string{"type"}),
		tuningLastSuccessTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tuning_watcher_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful tuning poll",
		}),
		tuningStale: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tuning_watcher_stale",
			Help: "Whether the tuning watcher is stale (1) or healthy (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.httpPanicTotal,
		m.buildInfo,
		m.errorsTotal,
		m.profilingActive,
		m.gateDecisionsTotal,
		m.gateZScore,
		m.gateIdentities,
		m.gateEvictionsTotal,
		m.gateCapacityTotal,
		m.gateIntervalsTotal,
		m.gateThreshold,
		m.tuningPollsTotal,
		m.tuningAppliesTotal,
		m.tuningErrorsTotal,
		m.tuningLastSuccessTs,
		m.tuningStale,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncDecision(verdict string) {
	m.gateDecisionsTotal.WithLabelValues(verdict).Inc()
}

func (m *ServerMetrics) ObserveZScore(z float64) {
	m.gateZScore.Observe(z)
}

func (m *ServerMetrics) SetIdentities(n int) {
	m.gateIdentities.Set(float64(n))
}

func (m *ServerMetrics) AddEvictions(n int) {
	m.gateEvictionsTotal.Add(float64(n))
}

func (m *ServerMetrics) IncCapacityRejection() {
	m.gateCapacityTotal.Inc()
}

func (m *ServerMetrics) IncIntervalClosed() {
	m.gateIntervalsTotal.Inc()
}

func (m *ServerMetrics) SetThreshold(t float64) {
	m.gateThreshold.Set(t)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

func (m *ServerMetrics) IncTuningPolls() {
	m.tuningPollsTotal.Inc()
}

func (m *ServerMetrics) IncTuningApplies() {
	m.tuningAppliesTotal.Inc()
}

func (m *ServerMetrics) IncTuningError(errType string) {
	m.tuningErrorsTotal.WithLabelValues(errType).Inc()
}

func (m *ServerMetrics) SetTuningLastSuccess(unixSeconds float64) {
	m.tuningLastSuccessTs.Set(unixSeconds)
}

func (m *ServerMetrics) SetTuningStale(stale bool) {
	if stale {
		m.tuningStale.Set(1)
	} else {
		m.tuningStale.Set(0)
	}
}
