package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"netloop/internal/core/handler"
	"netloop/internal/core/listener"
	"netloop/internal/service/web"
	"netloop/internal/shared/config"
	"netloop/internal/shared/logger"
	"netloop/internal/shared/types"
)

const shutdownTimeout = 5 * time.Second

// AppServer is the application's main struct.
// 它持有所有配置的监听器，以及共享的 Hub、metrics 和状态面板。
type AppServer struct {
	cfg *types.Config

	listeners []*listener.Listener
	hub       *web.Hub
	registry  *prometheus.Registry
	web       *web.Server
	webPort   int

	serving   errgroup.Group
	waitGroup sync.WaitGroup
	stopOnce  sync.Once
}

// New 根据配置创建所有监听器，但不绑定端口。
func New(cfg *types.Config) (*AppServer, error) {
	if len(cfg.Listeners) == 0 {
		return nil, errors.New("no [listener.<name>] section configured")
	}

	s := &AppServer{
		cfg:      cfg,
		hub:      web.NewHub(),
		registry: prometheus.NewRegistry(),
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := listener.NewMetrics(s.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register listener metrics: %w", err)
	}

	base := logger.WithComponent("listener")
	seen := make(map[string]bool, len(cfg.Listeners))
	for _, lc := range cfg.Listeners {
		if seen[lc.Name] {
			return nil, fmt.Errorf("duplicate listener %q", lc.Name)
		}
		seen[lc.Name] = true

		lcfg, err := config.ToListenerConfig(cfg.CommonConf, lc)
		if err != nil {
			return nil, err
		}
		h, err := handler.Lookup(lc.Handler, lc.Reply)
		if err != nil {
			return nil, fmt.Errorf("listener %q: %w", lc.Name, err)
		}

		log := base.With().Str("listener", lc.Name).Logger()
		l, err := listener.New(lcfg, h,
			listener.WithLogger(log),
			listener.WithObserver(listener.MultiObserver(
				listener.NewLogObserver(log),
				metrics.Observer(lc.Name),
				s.hub.Observer(lc.Name),
			)),
		)
		if err != nil {
			return nil, fmt.Errorf("listener %q: %w", lc.Name, err)
		}
		s.listeners = append(s.listeners, l)
	}

	if cfg.WebConf.Port > 0 {
		s.web = web.NewServer(cfg.WebConf, s, s.hub, s.registry)
	}
	return s, nil
}

// Start 绑定所有监听器，然后在后台开始服务。
// 任何一个绑定失败都会停止已绑定的监听器并返回该错误。
func (s *AppServer) Start() error {
	var binds errgroup.Group
	for _, l := range s.listeners {
		binds.Go(l.Bind)
	}
	if err := binds.Wait(); err != nil {
		for _, l := range s.listeners {
			_ = l.Stop()
		}
		s.hub.Close()
		return err
	}

	s.waitGroup.Add(1)
	go func() {
		defer s.waitGroup.Done()
		s.hub.Run()
	}()

	for _, l := range s.listeners {
		s.serving.Go(func() error {
			// Stop 可能抢在 Serve 之前执行，这也是正常结束
			if err := l.Serve(); err != nil && !errors.Is(err, listener.ErrListenerStopped) {
				return err
			}
			return nil
		})
		logger.Info().Str("listener", l.Name()).Msgf("Listening on %s", l.Addr())
	}

	if s.web != nil {
		port, err := s.web.Start()
		if err != nil {
			s.Stop()
			return err
		}
		s.webPort = port
	} else {
		logger.Warn().Msg("Web dashboard is disabled.")
	}
	return nil
}

// Run is the server's entry point. It blocks until ctx is cancelled,
// then shuts everything down.
func (s *AppServer) Run(ctx context.Context) error {
	logger.Info().Msgf("Starting netloop with %d listener(s)...", len(s.listeners))
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	logger.Info().Msg("Shutting down...")
	s.Stop()
	return s.serving.Wait()
}

// Stop gracefully shuts down the server. Safe to call more than once.
func (s *AppServer) Stop() {
	s.stopOnce.Do(func() {
		var stops errgroup.Group
		for _, l := range s.listeners {
			stops.Go(func() error {
				if err := l.Stop(); err != nil {
					logger.Warn().Err(err).Str("listener", l.Name()).Msg("Error while closing listener")
				}
				return nil
			})
		}
		_ = stops.Wait()

		if s.web != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := s.web.Close(ctx); err != nil {
				logger.Warn().Err(err).Msg("Web server shutdown error")
			}
			cancel()
		}
		s.hub.Close()
		s.waitGroup.Wait()
		logger.Info().Msg("All listeners stopped.")
	})
}

// ListenerStats 实现 web.StatsProvider
func (s *AppServer) ListenerStats() []listener.Stats {
	stats := make([]listener.Stats, 0, len(s.listeners))
	for _, l := range s.listeners {
		stats = append(stats, l.Stats())
	}
	return stats
}

// Addrs returns the bound endpoint of every listener, keyed by name.
func (s *AppServer) Addrs() map[string]listener.Endpoint {
	addrs := make(map[string]listener.Endpoint, len(s.listeners))
	for _, l := range s.listeners {
		addrs[l.Name()] = l.Addr()
	}
	return addrs
}

// WebPort 返回面板实际监听的端口，未启用时为 0
func (s *AppServer) WebPort() int { return s.webPort }
