package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/baseline-gate/internal/anomaly"
	"github.com/keithlinneman/baseline-gate/internal/cfg"
	"github.com/keithlinneman/baseline-gate/internal/gatehttp"
	"github.com/keithlinneman/baseline-gate/internal/health"
	"github.com/keithlinneman/baseline-gate/internal/httpmw"
	"github.com/keithlinneman/baseline-gate/internal/opshttp"
	"github.com/keithlinneman/baseline-gate/internal/ratelimit"
	"github.com/keithlinneman/baseline-gate/internal/tuning"

	"github.com/keithlinneman/baseline-gate/internal/httpserver"
	"github.com/keithlinneman/baseline-gate/internal/log"
	"github.com/keithlinneman/baseline-gate/internal/metrics"
	"github.com/keithlinneman/baseline-gate/internal/otelx"
	"github.com/keithlinneman/baseline-gate/internal/prof"
	v "github.com/keithlinneman/baseline-gate/internal/version"
)

const appName = "baseline-gate"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Get build/version info
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			appName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix BGATE_ and validate
	cfg.FillFromEnv(flag.CommandLine, "BGATE_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	// validate config
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:             appName,
		Level:           lvl,
		StacktraceLevel: stLvl,
		JsonFormat:      conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"window_size", conf.WindowSize,
		"interval", conf.Interval,
		"anomaly_threshold", conf.AnomalyThreshold,
		"seed", conf.Seed,
		"identity_ttl", conf.IdentityTTL,
		"max_identities", conf.MaxIdentities,
		"hard_cap_rps", conf.HardCapRPS,
		"hard_cap_burst", conf.HardCapBurst,
		"trusted_hops", conf.TrustedHops,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"enable_tuning", conf.EnableTuning,
		"otlp_endpoint", conf.OTLPEndpoint,
		"pyro_server", conf.PyroServer,
		"pyro_tenant", conf.PyroTenantID,
		"trace_sample", conf.TraceSample,
		"tuning_ssm_param", conf.TuningSSMParam,
		"tuning_interval", conf.TuningInterval,
	)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       appName,
		AuthToken:     "",
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       appName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"build_id":  vi.BuildId,
			"source":    "go-agent",
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Setup otel for tracing
	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   appName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// Setup metrics / admin listener
	var m *metrics.ServerMetrics = metrics.New()
	m.SetBuildInfoFromVersion(appName, "server", &vi)
	m.SetProfilingActive(conf.EnablePyroscope)
	m.SetThreshold(conf.AnomalyThreshold)

	// Setup the adaptive gate registry. Callbacks feed prometheus; the
	// first-denial hook keeps denial logging to one line per episode.
	registry := ratelimit.New(ctx,
		ratelimit.WithConfig(anomaly.Config{
			WindowSize: conf.WindowSize,
			Interval:   conf.Interval,
			Threshold:  conf.AnomalyThreshold,
			Seed:       conf.Seed,
		}),
		ratelimit.WithHardCap(conf.HardCapRPS, conf.HardCapBurst),
		ratelimit.WithTTL(conf.IdentityTTL),
		ratelimit.WithMaxIdentities(conf.MaxIdentities),
		ratelimit.WithOnFirstDenied(func(identity string, d anomaly.Decision) {
			L.Warn(ctx, "anomalous traffic detected, denying identity",
				"identity", identity,
				"z_score", d.ZScore,
				"closed_count", d.ClosedCount,
				"moving_average", d.MovingAverage,
				"std_dev", d.StdDev,
			)
		}),
		// one verdict per closed interval, the granularity the gate decides at
		ratelimit.WithOnInterval(func(d anomaly.Decision) {
			m.IncIntervalClosed()
			m.ObserveZScore(d.ZScore)
			if d.Allowed {
				m.IncDecision("allowed")
			} else {
				m.IncDecision("denied")
			}
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncCapacityRejection()
			m.IncDecision("capacity")
			L.Warn(ctx, "identity capacity reached, rejecting new identities until some are evicted")
		}),
		// OnTrack and OnEvict together keep the identity gauge current
		ratelimit.WithOnTrack(m.SetIdentities),
		ratelimit.WithOnEvict(func(evicted, remaining int) {
			m.AddEvictions(evicted)
			m.SetIdentities(remaining)
		}),
	)

	// Setup live tuning: poll SSM for threshold / hard-cap overrides and
	// hot-apply them to the registry
	if conf.EnableTuning {
		fetcher, err := tuning.NewSSMFetcher(ctx, conf.TuningSSMParam, nil)
		if err != nil {
			L.Error(ctx, err, "failed to create tuning fetcher, live tuning disabled",
				"tuning_ssm_param", conf.TuningSSMParam,
			)
		} else {
			watcher := tuning.NewWatcher(&tuning.WatcherOptions{
				Logger:       L,
				Fetcher:      fetcher,
				Target:       registry,
				PollInterval: conf.TuningInterval,
				Metrics:      m,
				OnApply: func(o tuning.Overrides) {
					if o.Threshold != nil {
						m.SetThreshold(*o.Threshold)
					}
				},
			})
			// Run the watcher in a separate goroutine
			go watcher.Run(ctx)
		}
	}

	// setup gate API
	gateAPI := gatehttp.NewAPI(registry, L)

	// setup toggle for server shutdown
	var gate health.ShutdownGate

	readiness := health.All(gate.Probe())

	// start public http server
	siteHTTPStop, err := httpserver.Start(
		ctx,
		&httpserver.Options{
			Port:         conf.HTTPPort,
			Health:       health.Fixed(true, ""),
			Readiness:    readiness,
			APIRoutes:    gateAPI.RegisterRoutes,
			UseRecoverMW: true,
			OnPanic:      m.IncHttpPanic,
			MetricsMW:    m.Middleware,
			RateLimitMW:  registry.Middleware,
			ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
			Logger:       L,
		},
	)
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// start admin/ops listener to serve metrics, health checks, pprof and any future admin APIs
	// sg restricts inbound to internal monitoring infrastructure
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// block until signal so we dont exit
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// wait for ctrl+c / sigterm
	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")

	// fail health checks to drain connections
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// will make sleep time tunable in the future
	L.Info(context.Background(), "sleeping 30s for in-flight and load balancer health checks to drain")
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(30 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "http server shutdown")
	}

	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
	os.Exit(0)
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
