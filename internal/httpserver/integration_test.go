package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/baseline-gate/internal/anomaly"
	"github.com/keithlinneman/baseline-gate/internal/gatehttp"
	"github.com/keithlinneman/baseline-gate/internal/log"
	"github.com/keithlinneman/baseline-gate/internal/ratelimit"
)

// TestIntegration_FullStack runs the real registry and gate API through the
// full middleware stack.
func TestIntegration_FullStack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := ratelimit.New(ctx,
		ratelimit.WithConfig(anomaly.Config{
			WindowSize: 10,
			Interval:   time.Second,
			Threshold:  2.5,
			Seed:       1,
		}),
		ratelimit.WithHardCap(1, 3),
	)
	api := gatehttp.NewAPI(reg, log.Nop())

	opts := &Options{
		Logger:       log.Nop(),
		UseRecoverMW: true,
		RateLimitMW:  reg.Middleware,
		APIRoutes:    func(r chi.Router) { api.RegisterRoutes(r) },
	}
	h := NewHandler(opts)

	send := func(remoteAddr, identity string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/v1/check", strings.NewReader(`{"identity":"`+identity+`"}`))
		req.RemoteAddr = remoteAddr
		h.ServeHTTP(rec, req)
		return rec
	}

	// First requests pass the edge limiter and reach the API.
	for i := 0; i < 3; i++ {
		rec := send("203.0.113.9:1000", "svc-a")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}

	// Hard cap burst of 3 exhausted: the edge middleware rejects the 4th
	// request before it reaches the API.
	rec := send("203.0.113.9:1000", "svc-a")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("capped request: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "30" {
		t.Fatalf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}

	// A different caller asking about a different identity is unaffected.
	if rec := send("198.51.100.7:1000", "svc-b"); rec.Code != http.StatusOK {
		t.Fatalf("independent caller: status = %d, want 200", rec.Code)
	}

	// The inspection API sees both the edge identities and the API-checked one.
	listRec := httptest.NewRecorder()
	listReq := httptest.NewRequest("GET", "/v1/identities", nil)
	listReq.RemoteAddr = "192.0.2.1:1000"
	h.ServeHTTP(listRec, listReq)
	if listRec.Code != http.StatusOK {
		t.Fatalf("list: status = %d, want 200", listRec.Code)
	}
	var list gatehttp.ListResponse
	if err := json.Unmarshal(listRec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	seen := make(map[string]bool)
	for _, s := range list.Identities {
		seen[s.Identity] = true
	}
	for _, want := range []string{"svc-a", "203.0.113.9", "198.51.100.7"} {
		if !seen[want] {
			t.Errorf("identity %q missing from listing %v", want, list.Identities)
		}
	}
}
