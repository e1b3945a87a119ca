package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tgsip/tgsip/internal/gateway"
)

type fakeTelegramStatus struct{ ready bool }

func (f *fakeTelegramStatus) Ready() bool { return f.ready }

type fakeBridgeStatus struct{ snap gateway.Snapshot }

func (f *fakeBridgeStatus) Snapshot() gateway.Snapshot { return f.snap }

type fakeSIPStatus struct{ calls int }

func (f *fakeSIPStatus) ActiveCalls() int { return f.calls }

func newTestServer(t *testing.T, tg TelegramStatusProvider, bridge BridgeStatusProvider,
	sip SIPStatusProvider, metrics http.Handler) *Server {
	t.Helper()
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	s := NewServer(tg, bridge, sip, metrics)
	t.Cleanup(s.Close)
	return s
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "127.0.0.1:9999"
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	return rr
}

func TestHealthzAlwaysOK(t *testing.T) {
	s := newTestServer(t, &fakeTelegramStatus{ready: false}, nil, nil, nil)

	rr := get(t, s, "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var body struct {
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Data["status"] != "ok" {
		t.Fatalf("expected status ok, got %q", body.Data["status"])
	}
}

func TestReadyzGatedOnTelegramSession(t *testing.T) {
	tg := &fakeTelegramStatus{ready: false}
	s := newTestServer(t, tg, nil, nil, nil)

	rr := get(t, s, "/readyz")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before session is ready, got %d", rr.Code)
	}
	var errBody struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &errBody); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if errBody.Error != "telegram session not ready" {
		t.Fatalf("unexpected error message %q", errBody.Error)
	}

	tg.ready = true
	rr = get(t, s, "/readyz")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 once session is ready, got %d", rr.Code)
	}
}

func TestStatusWithoutDispatcher(t *testing.T) {
	s := newTestServer(t, &fakeTelegramStatus{ready: true}, nil, nil, nil)

	rr := get(t, s, "/status")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestStatusReportsSnapshot(t *testing.T) {
	bridge := &fakeBridgeStatus{snap: gateway.Snapshot{
		Started:     time.Now().Add(-90 * time.Second),
		ActiveCalls: 2,
		Calls: []gateway.CallStatus{
			{ID: "gw-1", State: "from_sip/bridged"},
			{ID: "gw-2", State: "from_tg/wait_sip_media"},
		},
		FromTelegramTotal:  3,
		FromSIPTotal:       5,
		BridgedTotal:       4,
		DTMFTotal:          7,
		FloodRejectedTotal: 1,
		GateBlockedFor:     42 * time.Second,
		CachedUsernames:    10,
		CachedPhones:       20,
		TelegramQueueDepth: 1,
		SIPQueueDepth:      2,
		InternalQueueDepth: 0,
	}}
	s := newTestServer(t, &fakeTelegramStatus{ready: true}, bridge, &fakeSIPStatus{calls: 2}, nil)

	rr := get(t, s, "/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var body struct {
		Data statusResponse `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	d := body.Data
	if !d.TelegramReady {
		t.Error("expected telegram_ready true")
	}
	if d.UptimeSeconds < 89 {
		t.Errorf("expected uptime of roughly 90s, got %d", d.UptimeSeconds)
	}
	if d.ActiveBridges != 2 {
		t.Errorf("expected 2 active bridges, got %d", d.ActiveBridges)
	}
	if len(d.Calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(d.Calls))
	}
	if d.Calls[0].ID != "gw-1" || d.Calls[0].State != "from_sip/bridged" {
		t.Errorf("unexpected first call %+v", d.Calls[0])
	}
	if d.SIPCallsActive != 2 {
		t.Errorf("expected 2 active sip calls, got %d", d.SIPCallsActive)
	}
	if d.FromTelegramTotal != 3 || d.FromSIPTotal != 5 || d.BridgedTotal != 4 {
		t.Errorf("unexpected call counters: %d/%d/%d",
			d.FromTelegramTotal, d.FromSIPTotal, d.BridgedTotal)
	}
	if d.DTMFForwardedTotal != 7 {
		t.Errorf("expected 7 dtmf forwarded, got %d", d.DTMFForwardedTotal)
	}
	if d.FloodRejectedTotal != 1 || d.FloodBlockSeconds != 42 {
		t.Errorf("unexpected flood stats: %d rejected, blocked %ds",
			d.FloodRejectedTotal, d.FloodBlockSeconds)
	}
	if d.CachedUsernames != 10 || d.CachedPhones != 20 {
		t.Errorf("unexpected cache sizes: %d/%d", d.CachedUsernames, d.CachedPhones)
	}
	if d.QueueDepths["telegram"] != 1 || d.QueueDepths["sip"] != 2 || d.QueueDepths["internal"] != 0 {
		t.Errorf("unexpected queue depths: %v", d.QueueDepths)
	}
}

func TestStatusEmptyCallListIsArray(t *testing.T) {
	bridge := &fakeBridgeStatus{snap: gateway.Snapshot{Started: time.Now()}}
	s := newTestServer(t, nil, bridge, nil, nil)

	rr := get(t, s, "/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var body struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if string(body.Data["calls"]) != "[]" {
		t.Fatalf("expected empty calls array, got %s", body.Data["calls"])
	}
	if string(body.Data["telegram_ready"]) != "false" {
		t.Fatalf("expected telegram_ready false with nil provider, got %s",
			body.Data["telegram_ready"])
	}
}

func TestMetricsRoutedWhenHandlerSet(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# scrape ok\n"))
	})
	s := newTestServer(t, nil, nil, nil, metrics)

	rr := get(t, s, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "# scrape ok\n" {
		t.Fatalf("expected metrics body, got %q", rr.Body.String())
	}
}

func TestMetricsUnroutedWithoutHandler(t *testing.T) {
	s := newTestServer(t, nil, nil, nil, nil)

	rr := get(t, s, "/metrics")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	s := newTestServer(t, nil, nil, nil, nil)

	rr := get(t, s, "/extensions")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
