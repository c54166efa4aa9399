package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentchat/relay/internal/config"
	"github.com/agentchat/relay/internal/ratelimit"
)

// Server binds the hub to an HTTP listener: /ws for the relay protocol,
// /healthz for probes, /metrics for Prometheus.
type Server struct {
	cfg      *config.Config
	hub      *Hub
	upgrader websocket.Upgrader
	ipGate   *ratelimit.IPGate
	registry *prometheus.Registry
	httpSrv  *http.Server
	started  time.Time
}

// NewServer wires a server around an existing hub.
func NewServer(cfg *config.Config, hub *Hub, registry *prometheus.Registry) *Server {
	s := &Server{
		cfg: cfg,
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     buildCheckOrigin(cfg.Server.Env),
		},
		ipGate:   ratelimit.NewIPGate(cfg.Limits.MaxConnsPerIP),
		registry: registry,
		started:  time.Now(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWS)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.httpSrv = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// buildCheckOrigin validates browser origins in production against
// AGENTCHAT_ALLOWED_ORIGINS; elsewhere all origins are accepted. Agent
// clients are not browsers, so a missing Origin header always passes.
func buildCheckOrigin(env string) func(r *http.Request) bool {
	allowedRaw := os.Getenv("AGENTCHAT_ALLOWED_ORIGINS")
	if env == "production" && allowedRaw != "" {
		allowed := make(map[string]bool)
		for _, origin := range strings.Split(allowedRaw, ",") {
			allowed[strings.TrimSpace(origin)] = true
		}
		return func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		}
	}
	if env == "production" {
		slog.Warn("AGENTCHAT_ALLOWED_ORIGINS not set in production, allowing all origins")
	}
	return func(*http.Request) bool { return true }
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.ipGate.Acquire(ip) {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.ipGate.Release(ip)
		slog.Warn("websocket upgrade failed", "remote", ip, "error", err)
		return
	}
	s.hub.metrics.ConnectionsTotal.Inc()

	limiter := ratelimit.New(ratelimit.Limits{
		PreAuth: ratelimit.Budget{
			Max:    s.cfg.Limits.PreAuthMessages,
			Window: time.Duration(s.cfg.Limits.PreAuthWindowSecs) * time.Second,
		},
		PostAuth: ratelimit.Budget{
			Max:    s.cfg.Limits.PostAuthMessages,
			Window: time.Duration(s.cfg.Limits.PostAuthWindowSecs) * time.Second,
		},
		PerType: map[string]ratelimit.Budget{
			"MSG":        {Max: s.cfg.Limits.MsgPerSecond, Window: time.Second},
			"FILE_CHUNK": {Max: s.cfg.Limits.FileChunkPerSecond, Window: time.Second},
		},
	})

	c := newConn(s.hub, ws, ip, limiter, func() { s.ipGate.Release(ip) })
	go c.run()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"agents":         len(s.hub.AgentSummaries()),
		"channels":       len(s.hub.ChannelSummaries()),
	})
}

// ListenAndServe runs until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	if s.cfg.Server.TLSCert != "" {
		slog.Info("relay listening (tls)", "addr", s.cfg.Server.Addr)
		return s.httpSrv.ListenAndServeTLS(s.cfg.Server.TLSCert, s.cfg.Server.TLSKey)
	}
	slog.Info("relay listening", "addr", s.cfg.Server.Addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown closes live agent connections and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Shutdown()
	return s.httpSrv.Shutdown(ctx)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
