package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeStats struct {
	tunnels, tcp, udp          int
	totalT, totalTCP, totalUDP int64
}

func (f fakeStats) ActiveTunnels() int        { return f.tunnels }
func (f fakeStats) ActiveTCPSessions() int    { return f.tcp }
func (f fakeStats) ActiveUDPSessions() int    { return f.udp }
func (f fakeStats) TotalTunnels() int64       { return f.totalT }
func (f fakeStats) TotalTCPSessions() int64   { return f.totalTCP }
func (f fakeStats) TotalUDPSessions() int64   { return f.totalUDP }

func TestHealthHandlerBasic(t *testing.T) {
	h := NewHandler(fakeStats{}, "test-version", true)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Status != "ok" {
		t.Errorf("status = %q, want %q", resp.Status, "ok")
	}
	if resp.Version != "test-version" {
		t.Errorf("version = %q, want %q", resp.Version, "test-version")
	}
	if resp.Details == nil {
		t.Error("details should not be nil")
	}
}

func TestHealthHandlerWithSessions(t *testing.T) {
	h := NewHandler(fakeStats{tunnels: 2, tcp: 3, udp: 1, totalT: 10, totalTCP: 20, totalUDP: 5}, "v", true)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.ActiveTunnels != 2 || resp.ActiveTCPSessions != 3 || resp.ActiveUDPSessions != 1 {
		t.Errorf("unexpected active counts: %+v", resp)
	}
	if resp.Details.TotalTunnels != 10 || resp.Details.TotalTCPSessions != 20 || resp.Details.TotalUDPSessions != 5 {
		t.Errorf("unexpected totals: %+v", resp.Details)
	}
}

func TestHealthHandlerNonDetailed(t *testing.T) {
	h := NewHandler(fakeStats{}, "v", false)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Details != nil {
		t.Error("details should be nil when not detailed")
	}
}
