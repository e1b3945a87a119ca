// Package api is the gateway's operations HTTP surface: liveness and
// readiness probes, a JSON status view of the live bridges and the
// Prometheus scrape endpoint. It carries no provisioning routes; the
// gateway is configured entirely through its settings file.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	mw "github.com/tgsip/tgsip/internal/api/middleware"
	"github.com/tgsip/tgsip/internal/gateway"
)

// TelegramStatusProvider reports whether the Telegram session is
// authorized and processing updates.
type TelegramStatusProvider interface {
	Ready() bool
}

// BridgeStatusProvider exposes the dispatcher's point-in-time view.
type BridgeStatusProvider interface {
	Snapshot() gateway.Snapshot
}

// SIPStatusProvider exposes the number of call legs the SIP adapter
// tracks.
type SIPStatusProvider interface {
	ActiveCalls() int
}

// Server holds the handler dependencies and the chi router.
type Server struct {
	router   *chi.Mux
	telegram TelegramStatusProvider
	bridge   BridgeStatusProvider
	sip      SIPStatusProvider
	metrics  http.Handler
	limiter  *mw.IPRateLimiter
}

// NewServer creates the HTTP handler with all routes mounted. The
// metrics handler may be nil, which leaves /metrics unrouted.
func NewServer(telegram TelegramStatusProvider, bridge BridgeStatusProvider,
	sipStatus SIPStatusProvider, metrics http.Handler) *Server {

	s := &Server{
		router:   chi.NewRouter(),
		telegram: telegram,
		bridge:   bridge,
		sip:      sipStatus,
		metrics:  metrics,
		limiter:  mw.NewIPRateLimiter(mw.DefaultRateLimitConfig()),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the rate limiter's background cleanup.
func (s *Server) Close() {
	s.limiter.Stop()
}

// routes configures the middleware stack and mounts all endpoints.
func (s *Server) routes() {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.StructuredLogger)
	r.Use(mw.Recoverer)
	r.Use(mw.RateLimit(s.limiter))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/status", s.handleStatus)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
}

// handleHealth reports process liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports whether the gateway can take calls, which it can
// only once the Telegram session is authorized.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.telegram == nil || !s.telegram.Ready() {
		writeError(w, http.StatusServiceUnavailable, "telegram session not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// callStatus is one live bridge in the status view.
type callStatus struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// statusResponse is the JSON shape of GET /status.
type statusResponse struct {
	TelegramReady      bool           `json:"telegram_ready"`
	UptimeSeconds      int64          `json:"uptime_seconds"`
	ActiveBridges      int            `json:"active_bridges"`
	Calls              []callStatus   `json:"calls"`
	SIPCallsActive     int            `json:"sip_calls_active"`
	FromTelegramTotal  uint64         `json:"from_telegram_total"`
	FromSIPTotal       uint64         `json:"from_sip_total"`
	BridgedTotal       uint64         `json:"bridged_total"`
	DTMFForwardedTotal uint64         `json:"dtmf_forwarded_total"`
	FloodRejectedTotal uint64         `json:"flood_rejected_total"`
	FloodBlockSeconds  int64          `json:"flood_block_seconds"`
	CachedUsernames    int            `json:"cached_usernames"`
	CachedPhones       int            `json:"cached_phones"`
	QueueDepths        map[string]int `json:"queue_depths"`
}

// handleStatus returns the dispatcher snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		writeError(w, http.StatusServiceUnavailable, "dispatcher not running")
		return
	}
	snap := s.bridge.Snapshot()

	calls := make([]callStatus, 0, len(snap.Calls))
	for _, c := range snap.Calls {
		calls = append(calls, callStatus{ID: c.ID, State: c.State})
	}

	resp := statusResponse{
		UptimeSeconds:      int64(time.Since(snap.Started).Seconds()),
		ActiveBridges:      snap.ActiveCalls,
		Calls:              calls,
		FromTelegramTotal:  snap.FromTelegramTotal,
		FromSIPTotal:       snap.FromSIPTotal,
		BridgedTotal:       snap.BridgedTotal,
		DTMFForwardedTotal: snap.DTMFTotal,
		FloodRejectedTotal: snap.FloodRejectedTotal,
		FloodBlockSeconds:  int64(snap.GateBlockedFor.Seconds()),
		CachedUsernames:    snap.CachedUsernames,
		CachedPhones:       snap.CachedPhones,
		QueueDepths: map[string]int{
			"telegram": snap.TelegramQueueDepth,
			"sip":      snap.SIPQueueDepth,
			"internal": snap.InternalQueueDepth,
		},
	}
	if s.telegram != nil {
		resp.TelegramReady = s.telegram.Ready()
	}
	if s.sip != nil {
		resp.SIPCallsActive = s.sip.ActiveCalls()
	}

	writeJSON(w, http.StatusOK, resp)
}
