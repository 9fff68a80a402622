// Package tuning polls SSM for operator overrides to the gate's statistical
// parameters and hot-applies them to the running registry. A bad document
// never clobbers the settings in effect: decode and validation failures keep
// the current values and surface through logs and metrics.
package tuning

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/keithlinneman/baseline-gate/internal/log"
	"github.com/keithlinneman/baseline-gate/internal/xerrors"
)

const (
	// DefaultPollInterval is how often the watcher checks SSM for changes.
	DefaultPollInterval = 30 * time.Second

	// maxBackoff caps exponential backoff on consecutive fetch errors.
	maxBackoff = 5 * time.Minute
)

// pollResult describes what happened during a single poll cycle.
type pollResult int

const (
	pollNoChange    pollResult = iota // document matches what we last applied
	pollApplied                       // new document decoded, validated, applied
	pollFetchError                    // SSM fetch failed - caller should back off
	pollDecodeError                   // fetch succeeded but document was unusable
)

// Overrides is the tuning document stored in SSM. Absent fields leave the
// corresponding setting untouched.
type Overrides struct {
	Threshold    *float64 `json:"threshold,omitempty"`
	HardCapRPS   *float64 `json:"hard_cap_rps,omitempty"`
	HardCapBurst *int     `json:"hard_cap_burst,omitempty"`
}

func (o Overrides) validate() error {
	if o.Threshold != nil && *o.Threshold <= 0 {
		return xerrors.Newf("threshold must be positive, got %v", *o.Threshold)
	}
	if o.HardCapRPS != nil && *o.HardCapRPS < 0 {
		return xerrors.Newf("hard_cap_rps must be non-negative, got %v", *o.HardCapRPS)
	}
	if o.HardCapBurst != nil && *o.HardCapBurst < 0 {
		return xerrors.Newf("hard_cap_burst must be non-negative, got %v", *o.HardCapBurst)
	}
	if (o.HardCapRPS == nil) != (o.HardCapBurst == nil) {
		return xerrors.New("hard_cap_rps and hard_cap_burst must be set together")
	}
	return nil
}

// Applier is the registry surface the watcher drives.
type Applier interface {
	SetThreshold(t float64)
	SetHardCap(perSecond float64, burst int)
}

// Metrics is implemented by the metrics package to observe watcher behavior.
type Metrics interface {
	IncTuningPolls()
	IncTuningApplies()
	IncTuningError(errType string)
	SetTuningLastSuccess(unixSeconds float64)
	SetTuningStale(stale bool)
}

// WatcherOptions configures the tuning watcher.
type WatcherOptions struct {
	Logger       log.Logger
	Fetcher      Fetcher
	Target       Applier
	PollInterval time.Duration

	// OnApply is called after a document is applied, with the overrides that
	// took effect. Called synchronously on the poll goroutine.
	OnApply func(o Overrides)

	// Metrics receives watcher observability signals.
	Metrics Metrics

	// StaleThreshold is how long since the last successful poll before the
	// watcher reports staleness. Zero defaults to 30 minutes.
	StaleThreshold time.Duration
}

// Watcher polls for tuning changes and applies them to the target.
type Watcher struct {
	fetcher  Fetcher
	target   Applier
	logger   log.Logger
	interval time.Duration
	onApply  func(o Overrides)
	metrics  Metrics

	// raw document tracking for change detection
	currentRaw string

	// backoff state
	consecutiveErrs int

	// staleness tracking
	staleThreshold time.Duration
	lastSuccessAt  time.Time
	staleLogged    bool

	pollCount  int64
	applyCount int64
}

// NewWatcher creates a tuning watcher. Call Run to start the poll loop.
func NewWatcher(opts *WatcherOptions) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	staleThreshold := opts.StaleThreshold
	if staleThreshold <= 0 {
		staleThreshold = 30 * time.Minute
	}

	return &Watcher{
		fetcher:        opts.Fetcher,
		target:         opts.Target,
		logger:         opts.Logger,
		interval:       interval,
		onApply:        opts.OnApply,
		metrics:        opts.Metrics,
		staleThreshold: staleThreshold,
		lastSuccessAt:  time.Now(),
	}
}

// Run starts the poll loop. Blocks until ctx is cancelled.
// Intended to be launched as: go watcher.Run(ctx)
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "tuning watcher starting",
		"poll_interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "tuning watcher stopping",
				"reason", ctx.Err(),
				"polls", w.pollCount,
				"applies", w.applyCount,
			)
			return ctx.Err()
		case <-ticker.C:
			result := w.checkOnce(ctx)

			if result == pollFetchError {
				w.consecutiveErrs++
				backoff := w.backoffDuration()
				w.logger.Warn(ctx, "tuning watcher: backing off",
					"consecutive_errors", w.consecutiveErrs,
					"next_poll_in", backoff.String(),
				)
				ticker.Reset(backoff)
			} else if w.consecutiveErrs > 0 {
				// recovered from error streak - resume normal cadence
				w.logger.Info(ctx, "tuning watcher: recovered, resuming normal interval",
					"had_consecutive_errors", w.consecutiveErrs,
				)
				w.consecutiveErrs = 0
				ticker.Reset(w.interval)
			}

			// staleness detection: emit structured error once on transition into stale state
			if result != pollFetchError {
				if w.staleLogged {
					w.logger.Info(ctx, "tuning watcher: staleness recovered")
					w.staleLogged = false
					if w.metrics != nil {
						w.metrics.SetTuningStale(false)
					}
				}
			} else if time.Since(w.lastSuccessAt) > w.staleThreshold {
				if !w.staleLogged {
					w.logger.Error(ctx, fmt.Errorf("last successful poll was %s ago", time.Since(w.lastSuccessAt).Truncate(time.Second)),
						"tuning watcher: overrides are stale, running on last known values",
					)
					w.staleLogged = true
					if w.metrics != nil {
						w.metrics.SetTuningStale(true)
					}
				}
			}
		}
	}
}

// checkOnce performs a single poll-decode-apply cycle.
// Returns what happened so Run can adjust timing.
func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	w.pollCount++
	if w.metrics != nil {
		w.metrics.IncTuningPolls()
	}

	raw, err := w.fetcher.FetchRaw(ctx)
	if err != nil {
		w.logger.Error(ctx, err, "tuning watcher: poll failed")
		if w.metrics != nil {
			w.metrics.IncTuningError("fetch")
		}
		return pollFetchError
	}

	// fetch succeeded - update last success time
	now := time.Now()
	w.lastSuccessAt = now
	if w.metrics != nil {
		w.metrics.SetTuningLastSuccess(float64(now.Unix()))
	}

	// no change - most common path
	if raw == w.currentRaw {
		return pollNoChange
	}

	var o Overrides
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&o); err != nil {
		w.logger.Error(ctx, xerrors.Wrap(err, "decode tuning document"),
			"tuning watcher: unusable document, keeping current settings",
		)
		if w.metrics != nil {
			w.metrics.IncTuningError("decode")
		}
		return pollDecodeError
	}

	if err := o.validate(); err != nil {
		w.logger.Error(ctx, err, "tuning watcher: document rejected, keeping current settings")
		if w.metrics != nil {
			w.metrics.IncTuningError("validate")
		}
		return pollDecodeError
	}

	if o.Threshold != nil {
		w.target.SetThreshold(*o.Threshold)
	}
	if o.HardCapRPS != nil && o.HardCapBurst != nil {
		w.target.SetHardCap(*o.HardCapRPS, *o.HardCapBurst)
	}

	w.currentRaw = raw
	w.applyCount++

	w.logger.Info(ctx, "tuning watcher: overrides applied",
		"threshold", deref(o.Threshold),
		"hard_cap_rps", deref(o.HardCapRPS),
		"hard_cap_burst", derefInt(o.HardCapBurst),
		"total_applies", w.applyCount,
	)

	if w.metrics != nil {
		w.metrics.IncTuningApplies()
	}
	if w.onApply != nil {
		w.onApply(o)
	}

	return pollApplied
}

// backoffDuration computes exponential backoff capped at maxBackoff.
// consecutiveErrs=1 → 2x interval, =2 → 4x, =3 → 8x, etc.
func (w *Watcher) backoffDuration() time.Duration {
	mult := math.Pow(2, float64(w.consecutiveErrs))
	d := time.Duration(float64(w.interval) * mult)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func deref(f *float64) any {
	if f == nil {
		return "unchanged"
	}
	return *f
}

func derefInt(i *int) any {
	if i == nil {
		return "unchanged"
	}
	return *i
}
