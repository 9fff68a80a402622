package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/baseline-gate/internal/log"
)

type App struct {
	LogJSON         bool
	LogLevel        string
	StacktraceLevel string

	HTTPPort  int
	AdminPort int

	// gate statistics
	WindowSize       int
	Interval         time.Duration
	AnomalyThreshold float64
	Seed             int

	// registry bounds
	IdentityTTL   time.Duration
	MaxIdentities int
	HardCapRPS    float64
	HardCapBurst  int

	// identity resolution
	TrustedHops int

	// observability
	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	// live tuning
	EnableTuning   bool
	TuningSSMParam string
	TuningInterval time.Duration
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.IntVar(&c.WindowSize, "window-size", 10, "closed intervals kept per identity (2..1000)")
	fs.DurationVar(&c.Interval, "interval", time.Second, "observation interval length")
	fs.Float64Var(&c.AnomalyThreshold, "anomaly-threshold", 2.5, "z-score above which an interval is denied")
	fs.IntVar(&c.Seed, "seed", 1, "per-interval count the history is seeded with")
	fs.DurationVar(&c.IdentityTTL, "identity-ttl", 5*time.Minute, "idle time before an identity is evicted")
	fs.IntVar(&c.MaxIdentities, "max-identities", 100000, "max tracked identities, 0 disables the bound")
	fs.Float64Var(&c.HardCapRPS, "hard-cap-rps", 0, "absolute per-identity requests/sec cap, 0 disables")
	fs.IntVar(&c.HardCapBurst, "hard-cap-burst", 0, "token bucket burst for the hard cap")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "proxy hops to trust when resolving client IP from X-Forwarded-For")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.BoolVar(&c.EnableTuning, "enable-tuning", false, "Enable polling SSM for threshold/hard-cap overrides")
	fs.StringVar(&c.TuningSSMParam, "tuning-ssm-param", "/app/baseline-gate/server/tuning/overrides", "ssm parameter name holding the tuning document")
	fs.DurationVar(&c.TuningInterval, "tuning-interval", 30*time.Second, "how often to poll for tuning overrides")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Gate statistics
	if c.WindowSize < 2 || c.WindowSize > 1000 {
		errs = append(errs, fmt.Errorf("WINDOW_SIZE must be 2..1000 (got %d)", c.WindowSize))
	}
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("INTERVAL must be positive (got %s)", c.Interval))
	}
	if c.AnomalyThreshold <= 0 {
		errs = append(errs, fmt.Errorf("ANOMALY_THRESHOLD must be positive (got %g)", c.AnomalyThreshold))
	}
	if c.Seed < 0 {
		errs = append(errs, fmt.Errorf("SEED must be non-negative (got %d)", c.Seed))
	}

	// Registry bounds
	if c.IdentityTTL <= 0 {
		errs = append(errs, fmt.Errorf("IDENTITY_TTL must be positive (got %s)", c.IdentityTTL))
	}
	if c.MaxIdentities < 0 {
		errs = append(errs, fmt.Errorf("MAX_IDENTITIES must be non-negative (got %d)", c.MaxIdentities))
	}
	if c.HardCapRPS < 0 {
		errs = append(errs, fmt.Errorf("HARD_CAP_RPS must be non-negative (got %g)", c.HardCapRPS))
	}
	if c.HardCapRPS > 0 && c.HardCapBurst < 1 {
		errs = append(errs, fmt.Errorf("HARD_CAP_BURST must be >= 1 when HARD_CAP_RPS is set (got %d)", c.HardCapBurst))
	}

	if c.TrustedHops < 0 || c.TrustedHops > 10 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be 0..10 (got %d)", c.TrustedHops))
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Tuning
	if c.EnableTuning {
		if c.TuningSSMParam == "" {
			errs = append(errs, fmt.Errorf("TUNING_SSM_PARAM is required when ENABLE_TUNING=true"))
		}
		if c.TuningInterval <= 0 {
			errs = append(errs, fmt.Errorf("TUNING_INTERVAL must be positive (got %s)", c.TuningInterval))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
