package health

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestFixed(t *testing.T) {
	if err := Fixed(true, "ignored").Check(context.Background()); err != nil {
		t.Fatalf("Fixed(true) = %v, want nil", err)
	}
	err := Fixed(false, "registry saturated").Check(context.Background())
	if err == nil || !strings.Contains(err.Error(), "registry saturated") {
		t.Fatalf("Fixed(false) = %v, want reason", err)
	}
	if err := Fixed(false, "").Check(context.Background()); err == nil || err.Error() != "unhealthy" {
		t.Fatalf("Fixed(false, \"\") = %v, want default reason", err)
	}
}

func TestAll(t *testing.T) {
	ok := Fixed(true, "")
	bad := Fixed(false, "first failure")
	worse := Fixed(false, "second failure")

	if err := All(ok, ok).Check(context.Background()); err != nil {
		t.Fatalf("all passing: %v", err)
	}
	if err := All(ok, bad, worse).Check(context.Background()); err == nil || !strings.Contains(err.Error(), "first failure") {
		t.Fatalf("want first error, got %v", err)
	}
	if err := All().Check(context.Background()); err != nil {
		t.Fatalf("empty All: %v", err)
	}
	if err := All(nil, ok, nil).Check(context.Background()); err != nil {
		t.Fatalf("nil probes skipped: %v", err)
	}
}

func TestAll_ShortCircuits(t *testing.T) {
	called := false
	spy := CheckFunc(func(context.Context) error {
		called = true
		return nil
	})
	All(Fixed(false, "stop here"), spy).Check(context.Background())
	if called {
		t.Fatal("probe after failure was still evaluated")
	}
}

func TestAny(t *testing.T) {
	ok := Fixed(true, "")
	bad := Fixed(false, "down")

	if err := Any(bad, ok).Check(context.Background()); err != nil {
		t.Fatalf("one passing: %v", err)
	}
	if err := Any(bad, Fixed(false, "also down")).Check(context.Background()); err == nil || !strings.Contains(err.Error(), "also down") {
		t.Fatalf("want last error, got %v", err)
	}
	if err := Any().Check(context.Background()); err == nil {
		t.Fatal("empty Any should fail")
	}
	if err := Any(nil, nil).Check(context.Background()); err == nil {
		t.Fatal("only nil probes should fail")
	}
}

func TestShutdownGate(t *testing.T) {
	var gate ShutdownGate

	if err := gate.Probe().Check(context.Background()); err != nil {
		t.Fatalf("fresh gate should be open: %v", err)
	}

	gate.Set("draining for deploy")
	err := gate.Probe().Check(context.Background())
	if err == nil || !strings.Contains(err.Error(), "draining for deploy") {
		t.Fatalf("closed gate = %v", err)
	}

	gate.Set("")
	if err := gate.Probe().Check(context.Background()); err == nil || err.Error() != "draining" {
		t.Fatalf("empty reason = %v, want default", err)
	}

	gate.Clear()
	if err := gate.Probe().Check(context.Background()); err != nil {
		t.Fatalf("cleared gate should be open: %v", err)
	}
}

func TestShutdownGate_ConcurrentAccess(t *testing.T) {
	var gate ShutdownGate
	probe := gate.Probe()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				switch i % 3 {
				case 0:
					gate.Set("drain")
				case 1:
					gate.Clear()
				default:
					probe.Check(context.Background())
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestReadiness_GateWithCapacityCheck(t *testing.T) {
	var gate ShutdownGate
	saturated := false
	capacity := CheckFunc(func(context.Context) error {
		if saturated {
			return fmt.Errorf("identity registry at capacity")
		}
		return nil
	})
	ready := All(gate.Probe(), capacity)

	if err := ready.Check(context.Background()); err != nil {
		t.Fatalf("initially ready: %v", err)
	}

	saturated = true
	if err := ready.Check(context.Background()); err == nil {
		t.Fatal("saturated registry should fail readiness")
	}

	saturated = false
	gate.Set("shutting down")
	if err := ready.Check(context.Background()); err == nil {
		t.Fatal("draining gate should fail readiness")
	}
}

// handlers

func TestHealthzHandler_Healthy(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthzHandler(Fixed(true, "")).ServeHTTP(rec, httptest.NewRequest("GET", "/-/healthy", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("body = %q, want 'ok'", rec.Body.String())
	}
}

func TestHealthzHandler_Unhealthy(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthzHandler(Fixed(false, "tuning source stale")).ServeHTTP(rec, httptest.NewRequest("GET", "/-/healthy", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "tuning source stale") {
		t.Fatalf("body = %q, want reason", rec.Body.String())
	}
}

func TestHealthzHandler_NilProbe(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthzHandler(nil).ServeHTTP(rec, httptest.NewRequest("GET", "/-/healthy", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (nil probe = healthy)", rec.Code)
	}
}

func TestReadyzHandler_ReflectsGate(t *testing.T) {
	var gate ShutdownGate
	h := ReadyzHandler(gate.Probe())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/-/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("open gate: status = %d, want 200", rec.Code)
	}

	gate.Set("draining")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/-/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("closed gate: status = %d, want 503", rec.Code)
	}
}

func TestHandler_PassesRequestContext(t *testing.T) {
	type ctxKey string
	var gotCtx context.Context

	probe := CheckFunc(func(ctx context.Context) error {
		gotCtx = ctx
		return nil
	})

	ctx := context.WithValue(context.Background(), ctxKey("test"), "value")
	req := httptest.NewRequest("GET", "/-/healthy", nil).WithContext(ctx)
	HealthzHandler(probe).ServeHTTP(httptest.NewRecorder(), req)

	if gotCtx.Value(ctxKey("test")) != "value" {
		t.Fatal("request context not passed to probe")
	}
}
