package mobile

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"

	"netloop/internal/app"
	"netloop/internal/shared/config"
	"netloop/internal/shared/logger"
)

var (
	// 全局变量，用于持有当前运行的唯一 AppServer 实例
	activeAppServer *app.AppServer
	instanceMutex   sync.Mutex
)

// BoundListener 是返回给宿主的单个监听器地址
type BoundListener struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Host      string `json:"host"`
	Port      uint16 `json:"port"`
}

// StartService starts every listener described by iniContent, which has the
// same layout as netloop.ini. It returns a JSON array of BoundListener so the
// host can learn ports that were configured as 0.
func StartService(iniContent string) (boundJson string, err error) {
	// Defer a panic handler to convert panics into errors, which is safer for CGo boundaries.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("go core panic: %v\n\n%s", r, debug.Stack())
			boundJson = ""
		}
	}()

	instanceMutex.Lock()
	defer instanceMutex.Unlock()

	if activeAppServer != nil {
		return "", fmt.Errorf("service is already running")
	}

	// 1. 解析 ini 内容
	cfg, err := config.Parse([]byte(iniContent))
	if err != nil {
		return "", err
	}

	// 2. 初始化日志系统
	if err := logger.Init(cfg.LogConf); err != nil {
		return "", fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Debug().Msg("Configuring and starting Go core (in-memory)...")

	// 3. 创建并启动
	appServer, err := app.New(cfg)
	if err != nil {
		return "", err
	}
	if err := appServer.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start app server")
		return "", err
	}

	bound := make([]BoundListener, 0, len(cfg.Listeners))
	addrs := appServer.Addrs()
	for _, lc := range cfg.Listeners {
		ep := addrs[lc.Name]
		bound = append(bound, BoundListener{Name: lc.Name, Transport: string(ep.Transport), Host: ep.Host, Port: ep.Port})
	}
	out, err := json.Marshal(bound)
	if err != nil {
		appServer.Stop()
		return "", fmt.Errorf("failed to marshal bound listeners: %w", err)
	}

	activeAppServer = appServer
	logger.Debug().Int("listeners", len(bound)).Msg("Go core started successfully")
	return string(out), nil
}

// StopService stops the running service, if any.
func StopService() {
	instanceMutex.Lock()
	defer instanceMutex.Unlock()

	if activeAppServer != nil {
		logger.Debug().Msg("Stopping Go core...")
		activeAppServer.Stop()
		activeAppServer = nil
	}
}

// GetStats 返回所有监听器的统计快照 (JSON 数组)
func GetStats() (statsJson string) {
	defer func() {
		if r := recover(); r != nil {
			statsJson = "[]" // 在 panic 时返回一个空的 JSON 数组，避免宿主端崩溃
		}
	}()

	instanceMutex.Lock()
	defer instanceMutex.Unlock()

	if activeAppServer == nil {
		return "[]" // 服务未运行，返回空数组
	}

	statsBytes, err := json.Marshal(activeAppServer.ListenerStats())
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to marshal stats")
		return "[]"
	}
	return string(statsBytes)
}
