package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler_ExposesSnapshot(t *testing.T) {
	m := New()
	m.Inc(EnvelopeRouted)
	m.Add(ClientConnected, 2)
	m.Inc(`quote"back\slash`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	PrometheusHandler(m).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "# TYPE peerdrop_relay_events_total counter") {
		t.Fatalf("missing TYPE header: %s", body)
	}
	if !strings.Contains(body, `peerdrop_relay_events_total{event="client_connected"} 2`) {
		t.Fatalf("missing client_connected counter: %s", body)
	}
	if !strings.Contains(body, `peerdrop_relay_events_total{event="envelope_routed"} 1`) {
		t.Fatalf("missing envelope_routed counter: %s", body)
	}
	if !strings.Contains(body, `peerdrop_relay_events_total{event="quote\"back\\slash"} 1`) {
		t.Fatalf("missing escaped counter: %s", body)
	}
}

func TestPrometheusHandler_NilMetrics(t *testing.T) {
	rr := httptest.NewRecorder()
	PrometheusHandler(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	m := New()
	m.Inc(GroupJoined)
	snap := m.Snapshot()
	snap[GroupJoined] = 100
	if got := m.Get(GroupJoined); got != 1 {
		t.Fatalf("Get=%d, want 1", got)
	}
}
