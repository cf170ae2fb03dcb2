package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.PasteCreated("text")
	m.PasteRead()
	m.PasteUpdated()
	m.CodeCollision()
	m.UploadStarted()
	m.ChunkReceived()
	m.UploadCompleted()
	m.Swept("pastes", 3)
	m.ObserveRequest("GET", "/health", 200, time.Millisecond)

	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("nil metrics handler status = %d, want 404", rec.Code)
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.PasteCreated("text")
	m.PasteCreated("text")
	m.PasteCreated("file")
	m.Swept("uploads", 4)

	if got := testutil.ToFloat64(m.pastesCreated.WithLabelValues("text")); got != 2 {
		t.Errorf("text pastes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.swept.WithLabelValues("uploads")); got != 4 {
		t.Errorf("swept uploads = %v, want 4", got)
	}
}

func TestHandlerExposition(t *testing.T) {
	m := New()
	m.PasteRead()
	m.ObserveRequest("GET", "/paste/:code", 200, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"nshare_paste_reads_total 1",
		`nshare_http_request_duration_seconds_count{method="GET",route="/paste/:code",status="200"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
