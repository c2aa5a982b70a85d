package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	appconfig "github.com/wolfman30/leadqual/internal/config"
)

func TestNewServerUsesPortAndPipelineTimeout(t *testing.T) {
	cfg := &appconfig.Config{Port: "9090", PipelineTimeout: 45 * time.Second}
	srv := newServer(cfg, http.NotFoundHandler())

	if srv.Addr != ":9090" {
		t.Fatalf("expected addr :9090, got %q", srv.Addr)
	}
	if srv.WriteTimeout <= cfg.PipelineTimeout {
		t.Fatalf("write timeout %s must exceed the pipeline timeout", srv.WriteTimeout)
	}
}

func TestNewRegistryExposesRuntimeMetrics(t *testing.T) {
	handler := promhttp.HandlerFor(newRegistry(), promhttp.HandlerOpts{})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Fatalf("expected go runtime collector to be exported")
	}
}
