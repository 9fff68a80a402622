// Package anomaly implements the per-identity statistical rate limit check.
//
// Each Limiter counts requests into fixed-length intervals and keeps a rolling
// history of the last N closed interval counts. When an interval closes, the
// just-closed count is scored against the moving average and population
// standard deviation of the updated window; a count more than Threshold
// standard deviations away is flagged and every request in the following
// interval is denied. Unlike a fixed cap, the baseline adapts to the
// identity's own traffic, so both sudden spikes and slow-burn escalations
// shift the verdict.
//
// A Limiter is not safe for concurrent use. Its owner (see internal/ratelimit)
// serializes all access per identity; different identities are independent.
package anomaly
