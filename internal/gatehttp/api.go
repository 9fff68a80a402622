// Package gatehttp exposes the admission decision and identity inspection
// endpoints over JSON.
package gatehttp

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/baseline-gate/internal/anomaly"
	"github.com/keithlinneman/baseline-gate/internal/log"
)

// Gate is the registry surface the API needs.
type Gate interface {
	Check(identity string) anomaly.Decision
	Snapshot(identity string) (anomaly.Stats, bool)
	Snapshots() []anomaly.Stats
	Len() int
	MaxIdentities() int
	Config() anomaly.Config
}

// API implements the gate decision and inspection endpoints
type API struct {
	gate   Gate
	logger log.Logger
}

// NewAPI creates a new gate API handler
func NewAPI(gate Gate, logger log.Logger) *API {
	if logger == nil {
		logger = log.Nop()
	}
	return &API{
		gate:   gate,
		logger: logger,
	}
}

// RegisterRoutes attaches gate endpoints to the router
func (api *API) RegisterRoutes(r chi.Router) {
	r.Post("/v1/check", api.HandleCheck)
	r.Get("/v1/identities", api.HandleListIdentities)
	r.Get("/v1/identities/{identity}", api.HandleIdentity)
	r.Get("/v1/config", api.HandleConfig)
}

// HandleCheck evaluates one request for the identity in the body and returns
// the verdict. A denied identity gets 429 so callers enforcing at the edge can
// pass the status straight through.
func (api *API) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	req.Identity = strings.TrimSpace(req.Identity)
	if req.Identity == "" {
		http.Error(w, `{"error":"identity is required"}`, http.StatusBadRequest)
		return
	}

	d := api.gate.Check(req.Identity)

	resp := CheckResponse{
		Identity:       d.Identity,
		Allowed:        d.Allowed,
		IntervalClosed: d.Rolled,
		At:             d.At,
	}
	if d.Rolled {
		resp.ClosedCount = d.ClosedCount
		resp.MovingAverage = d.MovingAverage
		resp.StdDev = d.StdDev
		resp.ZScore = d.ZScore
	}

	status := http.StatusOK
	if !d.Allowed {
		status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", "30")
	}
	api.writeJSON(ctx, w, status, resp)
}

// HandleIdentity serves the full diagnostic view of one tracked identity.
func (api *API) HandleIdentity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := chi.URLParam(r, "identity")

	s, ok := api.gate.Snapshot(identity)
	if !ok {
		http.Error(w, `{"error":"identity not tracked"}`, http.StatusNotFound)
		return
	}

	api.logger.Debug(ctx, "served identity snapshot", "identity", identity)

	api.writeJSON(ctx, w, http.StatusOK, IdentityResponse{
		Identity:      s.Identity,
		Allowed:       s.Allowed,
		History:       s.History,
		LiveCount:     s.LiveCount,
		IntervalStart: s.IntervalStart,
		MovingAverage: s.MovingAverage,
		StdDev:        s.StdDev,
		ZScore:        s.ZScore,
	})
}

// HandleListIdentities serves a lightweight summary of every tracked identity,
// sorted for stable output.
func (api *API) HandleListIdentities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snaps := api.gate.Snapshots()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Identity < snaps[j].Identity })

	resp := ListResponse{
		Count:      len(snaps),
		Capacity:   api.gate.MaxIdentities(),
		Identities: make([]IdentitySummary, 0, len(snaps)),
	}
	for _, s := range snaps {
		resp.Identities = append(resp.Identities, IdentitySummary{
			Identity:      s.Identity,
			Allowed:       s.Allowed,
			MovingAverage: s.MovingAverage,
			ZScore:        s.ZScore,
		})
	}

	api.writeJSON(ctx, w, http.StatusOK, resp)
}

// HandleConfig reports the statistical parameters in effect for new identities.
func (api *API) HandleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := api.gate.Config()
	api.writeJSON(r.Context(), w, http.StatusOK, ConfigResponse{
		WindowSize:      cfg.WindowSize,
		IntervalSeconds: cfg.Interval.Seconds(),
		Threshold:       cfg.Threshold,
		Seed:            cfg.Seed,
	})
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
