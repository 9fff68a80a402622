package gatehttp

import "time"

// CheckRequest is the body of POST /v1/check.
type CheckRequest struct {
	Identity string `json:"identity"`
}

// CheckResponse reports the verdict for one request.
type CheckResponse struct {
	Identity string `json:"identity"`
	Allowed  bool   `json:"allowed"`

	// Interval diagnostics, populated when this check closed an interval.
	IntervalClosed bool    `json:"interval_closed"`
	ClosedCount    int     `json:"closed_count,omitempty"`
	MovingAverage  float64 `json:"moving_average,omitempty"`
	StdDev         float64 `json:"std_dev,omitempty"`
	ZScore         float64 `json:"z_score,omitempty"`

	At time.Time `json:"at"`
}

// IdentityResponse is the full diagnostic view of one tracked identity.
type IdentityResponse struct {
	Identity      string    `json:"identity"`
	Allowed       bool      `json:"allowed"`
	History       []int     `json:"history"`
	LiveCount     int       `json:"live_count"`
	IntervalStart time.Time `json:"interval_start"`
	MovingAverage float64   `json:"moving_average"`
	StdDev        float64   `json:"std_dev"`
	ZScore        float64   `json:"z_score"`
}

// IdentitySummary is the per-identity entry in the listing.
type IdentitySummary struct {
	Identity      string  `json:"identity"`
	Allowed       bool    `json:"allowed"`
	MovingAverage float64 `json:"moving_average"`
	ZScore        float64 `json:"z_score"`
}

// ListResponse is the body of GET /v1/identities.
type ListResponse struct {
	Count      int               `json:"count"`
	Capacity   int               `json:"capacity"`
	Identities []IdentitySummary `json:"identities"`
}

// ConfigResponse reports the statistical parameters currently in effect.
type ConfigResponse struct {
	WindowSize      int     `json:"window_size"`
	IntervalSeconds float64 `json:"interval_seconds"`
	Threshold       float64 `json:"threshold"`
	Seed            int     `json:"seed"`
}
