package anomaly

import (
	"math"
	"time"
)

// Defaults mirror the deployment-wide constants; all of them are injectable
// per limiter so tests and multi-tenant configs can diverge.
const (
	DefaultWindowSize = 10
	DefaultInterval   = time.Second
	DefaultThreshold  = 2.5
	DefaultSeed       = 1
)

// Config holds the knobs for one Limiter. The zero value is usable; zero or
// negative fields fall back to the defaults above.
type Config struct {
	// WindowSize is how many closed interval counts are retained.
	WindowSize int
	// Interval is the length of one measurement bucket.
	Interval time.Duration
	// Threshold is the z-score above which a closed interval is anomalous.
	Threshold float64
	// Seed pre-fills the history so statistics are defined from the first
	// real interval and a short baseline can't trigger false positives.
	Seed int
}

// WithDefaults returns a copy with zero or negative fields replaced by the
// package defaults, the parameters a Limiter built from c actually uses.
func (c Config) WithDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Seed <= 0 {
		c.Seed = DefaultSeed
	}
	return c
}

// Decision is the diagnostic record produced when an interval closes. The
// caller may log it, feed it to metrics, or ignore it; the limiter itself
// does no I/O.
type Decision struct {
	Identity      string
	Allowed       bool
	Rolled        bool // whether this call closed an interval
	ClosedCount   int
	MovingAverage float64
	StdDev        float64
	ZScore        float64
	At            time.Time
}

// Stats is a read-only snapshot used by the inspection API.
type Stats struct {
	Identity      string
	History       []int
	LiveCount     int
	IntervalStart time.Time
	MovingAverage float64
	StdDev        float64
	ZScore        float64
	Allowed       bool
}

// Limiter tracks one identity. Requests are counted into the live interval;
// interval boundaries are detected from caller-supplied timestamps so the
// limiter never reads the wall clock itself.
type Limiter struct {
	identity  string
	interval  time.Duration
	threshold float64

	// history is a fixed-capacity ring of closed interval counts, oldest
	// first. head indexes the oldest entry once the ring has wrapped.
	history []int
	head    int

	liveCount     int
	intervalStart time.Time

	last Decision
}

// New constructs a Limiter for the given identity. now anchors the first
// interval.
func New(identity string, cfg Config, now time.Time) *Limiter {
	cfg = cfg.WithDefaults()
	hist := make([]int, cfg.WindowSize)
	for i := range hist {
		hist[i] = cfg.Seed
	}
	return &Limiter{
		identity:      identity,
		interval:      cfg.Interval,
		threshold:     cfg.Threshold,
		history:       hist,
		intervalStart: now,
		last: Decision{
			Identity: identity,
			Allowed:  true,
			At:       now,
		},
	}
}

// SetThreshold changes the z-score threshold for future interval closes.
// The cached verdict for the current interval is not re-evaluated.
func (l *Limiter) SetThreshold(t float64) {
	if t > 0 {
		l.threshold = t
	}
}

// RecordAndCheck counts one request at the given time and returns the verdict
// of the most recently closed interval: true to admit, false to deny. The
// verdict only changes when a call crosses an interval boundary; every request
// inside one interval sees the same answer.
func (l *Limiter) RecordAndCheck(now time.Time) bool {
	return l.Observe(now).Allowed
}

// Observe is RecordAndCheck with the full diagnostic record. If this call
// closed an interval, Decision.Rolled is true and the statistics describe the
// just-closed count; otherwise the cached decision from the last close is
// returned with Rolled cleared.
func (l *Limiter) Observe(now time.Time) Decision {
	l.liveCount++

	// A clock that moved backwards reads as "interval not yet elapsed".
	if now.Sub(l.intervalStart) < l.interval {
		d := l.last
		d.Rolled = false
		return d
	}

	closed := l.liveCount
	l.push(closed)
	l.liveCount = 0
	l.intervalStart = now

	ma, sd := l.stats()

	d := Decision{
		Identity:      l.identity,
		Allowed:       true,
		Rolled:        true,
		ClosedCount:   closed,
		MovingAverage: ma,
		StdDev:        sd,
		At:            now,
	}
	// A perfectly uniform window has no variance to compare against, so it
	// can never be anomalous by this rule.
	if sd > 0 {
		d.ZScore = math.Abs(float64(closed)-ma) / sd
		if d.ZScore > l.threshold {
			d.Allowed = false
		}
	}
	l.last = d
	return d
}

// Snapshot reports the current state without mutating it.
func (l *Limiter) Snapshot() Stats {
	ma, sd := l.stats()
	return Stats{
		Identity:      l.identity,
		History:       l.ordered(),
		LiveCount:     l.liveCount,
		IntervalStart: l.intervalStart,
		MovingAverage: ma,
		StdDev:        sd,
		ZScore:        l.last.ZScore,
		Allowed:       l.last.Allowed,
	}
}

// push appends a closed count, evicting the oldest entry.
func (l *Limiter) push(n int) {
	l.history[l.head] = n
	l.head = (l.head + 1) % len(l.history)
}

// ordered returns the history oldest-first as a fresh slice.
func (l *Limiter) ordered() []int {
	out := make([]int, len(l.history))
	for i := range l.history {
		out[i] = l.history[(l.head+i)%len(l.history)]
	}
	return out
}

// stats computes the moving average and population standard deviation over
// the whole window.
func (l *Limiter) stats() (ma, sd float64) {
	n := float64(len(l.history))
	var sum float64
	for _, x := range l.history {
		sum += float64(x)
	}
	ma = sum / n

	var varsum float64
	for _, x := range l.history {
		d := float64(x) - ma
		varsum += d * d
	}
	sd = math.Sqrt(varsum / n)
	return ma, sd
}
