package observability

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/autodata-labs/autodata/internal/config"
)

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil observability for nil config")
	}
}

func TestNew_MetricsEnabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{
		Metrics: &config.MetricsConfig{Enabled: true},
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if obs.Registry == nil {
		t.Error("expected a registry when metrics are enabled")
	}
	if obs.Tracer != nil {
		t.Error("expected no tracer setup when tracing is disabled")
	}
	if obs.Health == nil {
		t.Error("expected a health checker")
	}
}

func TestNew_MetricsDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{
		Metrics: &config.MetricsConfig{Enabled: false},
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if obs.Registry != nil {
		t.Error("expected no registry when metrics are disabled")
	}
}

func TestObservability_NilSafeAccessors(t *testing.T) {
	var obs *Observability
	if obs.RegistryOrNil() != nil {
		t.Error("RegistryOrNil on nil receiver should return nil")
	}
	if obs.TracerOrNil() != nil {
		t.Error("TracerOrNil on nil receiver should return nil")
	}
	obs.Serve()
	obs.Shutdown(context.Background())
}

func TestTracerSetup_NilTracerIsNoop(t *testing.T) {
	var ts *TracerSetup
	if ts.Tracer() == nil {
		t.Fatal("nil setup should still return a usable tracer")
	}
	if err := ts.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown on nil setup: %v", err)
	}

	disabled, err := NewTracerSetup(&config.TracingConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewTracerSetup: %v", err)
	}
	if disabled != nil {
		t.Fatal("expected nil setup when tracing is disabled")
	}
}

func TestHealthChecker_NoChecks(t *testing.T) {
	h := NewHealthChecker(nil)
	if got := h.CheckHealth(); got.Status != "ok" {
		t.Errorf("health = %q, want ok", got.Status)
	}
	if got := h.CheckReady(context.Background()); got.Status != "ok" {
		t.Errorf("ready = %q, want ok", got.Status)
	}
}

func TestHealthChecker_AggregatesFailures(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("database", func(ctx context.Context) error { return nil })
	h.AddCheck("provider", func(ctx context.Context) error { return errors.New("unreachable") })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Fatalf("status = %q, want degraded", status.Status)
	}
	if status.Checks["database"].Status != "ok" {
		t.Errorf("database = %+v, want ok", status.Checks["database"])
	}
	if status.Checks["provider"].Status != "fail" || status.Checks["provider"].Message == "" {
		t.Errorf("provider = %+v, want fail with message", status.Checks["provider"])
	}
}

func TestObservability_ReadyEndpoint(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{
		Metrics: &config.MetricsConfig{Enabled: true},
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rec := httptest.NewRecorder()
	obs.handleReady(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != 200 {
		t.Errorf("ready with no checks = %d, want 200", rec.Code)
	}

	obs.Health.AddCheck("database", func(ctx context.Context) error {
		return errors.New("connection refused")
	})
	rec = httptest.NewRecorder()
	obs.handleReady(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != 503 {
		t.Errorf("ready with failing check = %d, want 503", rec.Code)
	}

	rec = httptest.NewRecorder()
	obs.handleHealth(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 {
		t.Errorf("health = %d, want 200", rec.Code)
	}
}
