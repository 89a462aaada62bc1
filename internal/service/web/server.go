package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"netloop/internal/core/listener"
	"netloop/internal/shared/logger"
	"netloop/internal/shared/types"
)

// StatsProvider 提供所有监听器的统计快照
type StatsProvider interface {
	ListenerStats() []listener.Stats
}

// --- DIAGNOSTIC HELPER: A listener that logs accepted connections ---
type loggingListener struct {
	net.Listener
}

func (l loggingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		logger.Debug().Msgf(" [WebServer DIAGNOSTIC] Connection accepted from: %s ", conn.RemoteAddr())
	}
	return conn, err
}

// basicAuthMiddleware 检查 user 和 pass 是否已配置。
// 如果配置了，它将强制执行 HTTP Basic Authentication。
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	// 如果用户名或密码未设置，则不启用认证，直接返回原始处理器
	if user == "" || pass == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n"))
			return
		}
		// 认证成功，继续处理请求
		next.ServeHTTP(w, r)
	})
}

// Server is the status dashboard: live unit log over websocket, listener
// stats and Prometheus metrics.
type Server struct {
	cfg        types.WebConf
	hub        *Hub
	httpServer *http.Server
	addr       string
	waitGroup  sync.WaitGroup
}

func NewServer(cfg types.WebConf, provider StatsProvider, hub *Hub, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()

	// --- 认证保护的 API ---
	mux.Handle("/api/listeners", basicAuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, provider.ListenerStats())
	}), cfg.User, cfg.Password))
	mux.Handle("/metrics", basicAuthMiddleware(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}), cfg.User, cfg.Password))

	// --- WebSocket Endpoint (公开，无需认证) ---
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	})

	// 公开的状态 API
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		stats := provider.ListenerStats()
		running := 0
		for _, s := range stats {
			if s.State == listener.StateRunning.String() {
				running++
			}
		}
		writeJSON(w, map[string]int{
			"listeners":         len(stats),
			"running":           running,
			"websocket_clients": hub.ClientCount(),
		})
	})

	return &Server{
		cfg: cfg,
		hub: hub,
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start binds the dashboard port and serves in the background.
// It returns the actual port, which matters when the configured one is 0.
func (s *Server) Start() (int, error) {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("web server failed to listen on %s: %w", addr, err)
	}
	s.addr = ln.Addr().String()
	logger.Info().Msgf("Web dashboard is listening on http://%s", s.addr)

	s.waitGroup.Add(1)
	go func() {
		defer s.waitGroup.Done()
		// Wrap the raw listener with our logging listener
		if err := s.httpServer.Serve(loggingListener{Listener: ln}); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Web server error")
		}
		logger.Info().Msg("Web server stopped.")
	}()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() string { return s.addr }

// Close shuts the HTTP server down and disconnects websocket clients.
func (s *Server) Close(ctx context.Context) error {
	s.hub.Close()
	err := s.httpServer.Shutdown(ctx)
	s.waitGroup.Wait()
	return err
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn().Err(err).Msg("Failed to write JSON response")
	}
}
