package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/phbpx/leadsvc/handler"
	"github.com/phbpx/leadsvc/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

func TestDebugRouter(t *testing.T) {
	var readyErr error
	m := metrics.New(prometheus.NewRegistry())
	m.LoginAttempts.WithLabelValues("success").Inc()

	h := handler.NewDebugRouter(handler.DebugConfig{
		Build:   "test",
		Log:     otelzap.New(zap.NewNop()).Sugar(),
		Metrics: m,
		Ready:   func(context.Context) error { return readyErr },
	})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	if rec := get("/readiness"); rec.Code != http.StatusOK {
		t.Errorf("readiness = %d, want 200", rec.Code)
	}

	readyErr = errors.New("connection refused")
	if rec := get("/readiness"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readiness with db down = %d, want 503", rec.Code)
	}

	rec := get("/liveness")
	if rec.Code != http.StatusOK {
		t.Fatalf("liveness = %d", rec.Code)
	}
	var live map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &live); err != nil {
		t.Fatal(err)
	}
	if live["status"] != "up" || live["build"] != "test" {
		t.Errorf("liveness = %v", live)
	}

	rec = get("/metrics")
	if !strings.Contains(rec.Body.String(), `login_attempts_total{result="success"} 1`) {
		t.Errorf("metrics output missing login_attempts_total:\n%s", rec.Body.String())
	}
}
