package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/baseline-gate/internal/anomaly"
	"github.com/keithlinneman/baseline-gate/internal/httpmw"
)

// visitor tracks a single identity's limiters and last activity.
type visitor struct {
	lim     *anomaly.Limiter
	hardCap *rate.Limiter // nil when no hard cap configured
	// logged tracks whether we have already emitted the first-denial event,
	// resets when the entry is evicted and re-created
	logged   bool
	lastSeen time.Time
}

// Registry holds per-identity limiters with background eviction.
type Registry struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	cfg anomaly.Config

	// hard cap settings, applied to new and existing visitors
	hardCapRPS   float64
	hardCapBurst int

	// ttl controls how long an idle identity stays in the map before cleanup
	ttl time.Duration

	// maxIdentities bounds the map, 0 disables the bound. New identities are
	// rejected at capacity; existing ones keep being evaluated.
	maxIdentities int
	capLogged     bool

	// now is injectable so interval rollover is deterministic in tests
	now func() time.Time

	// OnFirstDenied fires once per visitor episode with the decision that
	// flipped it, for single-log-entry-per-offender logging
	OnFirstDenied func(identity string, d anomaly.Decision)

	// OnDenied fires on every denied request, for counters
	OnDenied func(identity string)

	// OnInterval fires on every interval close with the diagnostic record
	OnInterval func(d anomaly.Decision)

	// OnCapacity fires once per capacity episode
	OnCapacity func()

	// OnTrack fires after a new identity is created, with the tracked count.
	// Together with OnEvict it keeps an external gauge in step with Len.
	OnTrack func(tracked int)

	// OnEvict fires after each cleanup pass with evicted and remaining counts
	OnEvict func(evicted, remaining int)
}

type Option func(*Registry)

// WithConfig sets the statistical parameters used for every identity.
func WithConfig(cfg anomaly.Config) Option {
	return func(r *Registry) { r.cfg = cfg }
}

// WithHardCap puts a token bucket in front of the statistical check.
// burst is the bucket capacity, perSecond the refill rate. Zero disables it.
func WithHardCap(perSecond float64, burst int) Option {
	return func(r *Registry) {
		r.hardCapRPS = perSecond
		r.hardCapBurst = burst
	}
}

// WithTTL controls how long an idle identity stays in the map before cleanup.
func WithTTL(d time.Duration) Option {
	return func(r *Registry) { r.ttl = d }
}

// WithMaxIdentities bounds the visitor map. 0 disables the bound.
func WithMaxIdentities(n int) Option {
	return func(r *Registry) { r.maxIdentities = n }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithOnFirstDenied(fn func(identity string, d anomaly.Decision)) Option {
	return func(r *Registry) { r.OnFirstDenied = fn }
}

func WithOnDenied(fn func(identity string)) Option {
	return func(r *Registry) { r.OnDenied = fn }
}

func WithOnInterval(fn func(d anomaly.Decision)) Option {
	return func(r *Registry) { r.OnInterval = fn }
}

func WithOnCapacity(fn func()) Option {
	return func(r *Registry) { r.OnCapacity = fn }
}

func WithOnTrack(fn func(tracked int)) Option {
	return func(r *Registry) { r.OnTrack = fn }
}

func WithOnEvict(fn func(evicted, remaining int)) Option {
	return func(r *Registry) { r.OnEvict = fn }
}

// New creates a Registry and starts the background cleanup goroutine, which
// stops when ctx is cancelled.
func New(ctx context.Context, opts ...Option) *Registry {
	r := &Registry{
		visitors:      make(map[string]*visitor),
		ttl:           5 * time.Minute,
		maxIdentities: 100000,
		now:           time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	// normalize once so Config() reports the values limiters actually use
	r.cfg = r.cfg.WithDefaults()
	go r.cleanup(ctx)
	return r
}

// Check evaluates one request for the given identity and returns the full
// decision. Creates the identity's limiter on first sight. Capacity and
// hard-cap rejections are reported as synthetic denied decisions.
func (r *Registry) Check(identity string) anomaly.Decision {
	now := r.now()
	created := false
	tracked := 0

	r.mu.Lock()
	v, exists := r.visitors[identity]
	if !exists {
		if r.maxIdentities > 0 && len(r.visitors) >= r.maxIdentities {
			fireCap := !r.capLogged
			r.capLogged = true
			r.mu.Unlock()
			if fireCap && r.OnCapacity != nil {
				r.OnCapacity()
			}
			if r.OnDenied != nil {
				r.OnDenied(identity)
			}
			return anomaly.Decision{Identity: identity, Allowed: false, At: now}
		}
		v = &visitor{lim: anomaly.New(identity, r.cfg, now)}
		if r.hardCapRPS > 0 && r.hardCapBurst > 0 {
			v.hardCap = rate.NewLimiter(rate.Limit(r.hardCapRPS), r.hardCapBurst)
		}
		r.visitors[identity] = v
		created = true
		tracked = len(r.visitors)
	}
	v.lastSeen = now

	// hard cap consumes a token even when the statistical verdict will deny;
	// the request happened either way and the anomaly counter must see it
	capped := v.hardCap != nil && !v.hardCap.Allow()

	d := v.lim.Observe(now)
	if capped {
		d.Allowed = false
	}

	firstDenial := !d.Allowed && !v.logged
	if firstDenial {
		v.logged = true
	} else if d.Allowed {
		// verdict recovered, re-arm the once-per-episode log
		v.logged = false
	}
	// release before hooks, they may do slow work
	r.mu.Unlock()

	if created && r.OnTrack != nil {
		r.OnTrack(tracked)
	}
	if d.Rolled && r.OnInterval != nil {
		r.OnInterval(d)
	}
	if !d.Allowed {
		if firstDenial && r.OnFirstDenied != nil {
			r.OnFirstDenied(identity, d)
		}
		if r.OnDenied != nil {
			r.OnDenied(identity)
		}
	}
	return d
}

// Allow is Check reduced to the admit/deny verdict.
func (r *Registry) Allow(identity string) bool {
	return r.Check(identity).Allowed
}

// Snapshot returns read-only diagnostics for a tracked identity.
func (r *Registry) Snapshot(identity string) (anomaly.Stats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.visitors[identity]
	if !ok {
		return anomaly.Stats{}, false
	}
	return v.lim.Snapshot(), true
}

// Snapshots returns diagnostics for every tracked identity. Intended for the
// inspection API, holds the lock for the duration of the copy.
func (r *Registry) Snapshots() []anomaly.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]anomaly.Stats, 0, len(r.visitors))
	for _, v := range r.visitors {
		out = append(out, v.lim.Snapshot())
	}
	return out
}

// Len reports how many identities are currently tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.visitors)
}

// MaxIdentities reports the configured capacity bound.
func (r *Registry) MaxIdentities() int { return r.maxIdentities }

// Config reports the statistical parameters in effect for new identities.
func (r *Registry) Config() anomaly.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// SetThreshold hot-applies a new z-score threshold to existing and future
// limiters. Used by the tuning watcher.
func (r *Registry) SetThreshold(t float64) {
	if t <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.Threshold = t
	for _, v := range r.visitors {
		v.lim.SetThreshold(t)
	}
}

// SetHardCap hot-applies new token bucket settings to existing and future
// visitors. perSecond <= 0 or burst <= 0 removes the cap.
func (r *Registry) SetHardCap(perSecond float64, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hardCapRPS = perSecond
	r.hardCapBurst = burst
	for _, v := range r.visitors {
		if perSecond <= 0 || burst <= 0 {
			v.hardCap = nil
			continue
		}
		if v.hardCap == nil {
			v.hardCap = rate.NewLimiter(rate.Limit(perSecond), burst)
			continue
		}
		v.hardCap.SetLimit(rate.Limit(perSecond))
		v.hardCap.SetBurst(burst)
	}
}

// cleanup periodically evicts identities that haven't been seen within the
// TTL. Runs every TTL/2 to avoid holding stale entries much longer than
// intended.
func (r *Registry) cleanup(ctx context.Context) {
	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := r.now()
			r.mu.Lock()
			evicted := 0
			for id, v := range r.visitors {
				if now.Sub(v.lastSeen) > r.ttl {
					delete(r.visitors, id)
					evicted++
				}
			}
			if r.maxIdentities > 0 && len(r.visitors) < r.maxIdentities {
				r.capLogged = false
			}
			remaining := len(r.visitors)
			r.mu.Unlock()
			if evicted > 0 && r.OnEvict != nil {
				r.OnEvict(evicted, remaining)
			}
		}
	}
}

// Middleware rejects requests whose identity is over its adaptive limit with
// 429. Identity is the resolved client IP from the httpmw chain.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		identity := httpmw.ClientIPFromContext(req.Context())

		if !r.Allow(identity) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			// intentionally no detail about thresholds or current scores
			w.Write([]byte(`{"error":"too many requests"}`))
			return
		}

		next.ServeHTTP(w, req)
	})
}
