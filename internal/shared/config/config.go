package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"netloop/internal/core/listener"
	"netloop/internal/shared/types"
)

const listenerSectionPrefix = "listener."

// Default 返回带有默认值的配置
func Default() *types.Config {
	return &types.Config{
		CommonConf: types.CommonConf{BufferSize: listener.DefaultBufferSize},
		LogConf:    types.LogConf{Level: "info"},
		WebConf:    types.WebConf{Host: "0.0.0.0"},
	}
}

// LoadIni 加载 netloop.ini 配置文件。
func LoadIni(fileName string) (*types.Config, error) {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return nil, err
	}
	return fromFile(iniFile)
}

// Parse 从内存中的 ini 内容加载配置 (用于嵌入/移动端)。
func Parse(content []byte) (*types.Config, error) {
	iniFile, err := ini.Load(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ini content: %w", err)
	}
	return fromFile(iniFile)
}

func fromFile(iniFile *ini.File) (*types.Config, error) {
	cfg := Default()
	if err := iniFile.MapTo(cfg); err != nil {
		return nil, err
	}

	// 每个 [listener.<name>] 段对应一个监听器
	for _, section := range iniFile.Sections() {
		name, ok := strings.CutPrefix(section.Name(), listenerSectionPrefix)
		if !ok {
			continue
		}
		if name == "" {
			return nil, fmt.Errorf("listener section %q has no name", section.Name())
		}
		lc := types.ListenerConf{Name: name}
		if err := section.MapTo(&lc); err != nil {
			return nil, fmt.Errorf("listener %q: %w", name, err)
		}
		cfg.Listeners = append(cfg.Listeners, lc)
	}

	overrideFromEnvString(&cfg.LogConf.Level, "NETLOOP_LOG_LEVEL")
	overrideFromEnvInt(&cfg.WebConf.Port, "NETLOOP_WEB_PORT")
	return cfg, nil
}

// ToListenerConfig 把一个 [listener.<name>] 段转换为 listener.Config，
// 未设置的数值继承 [common]。
func ToListenerConfig(common types.CommonConf, lc types.ListenerConf) (listener.Config, error) {
	transport, err := listener.ParseTransport(lc.Transport)
	if err != nil {
		return listener.Config{}, fmt.Errorf("listener %q: %w", lc.Name, err)
	}
	if lc.Port < 0 || lc.Port > 65535 {
		return listener.Config{}, fmt.Errorf("listener %q: port %d out of range [0, 65535]", lc.Name, lc.Port)
	}

	cfg := listener.Config{
		Name: lc.Name,
		Endpoint: listener.Endpoint{
			Transport: transport,
			Host:      lc.Host,
			Port:      uint16(lc.Port),
		},
		BufferSize:     lc.BufferSize,
		AcceptTimeout:  lc.AcceptTimeout,
		WriteTimeout:   lc.WriteTimeout,
		MaxConnections: lc.MaxConnections,
		ReadBuffer:     lc.ReadBuffer,
		WriteBuffer:    lc.WriteBuffer,
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = common.BufferSize
	}
	if cfg.MaxConnections == 0 && transport == listener.TransportStream {
		cfg.MaxConnections = common.MaxConnections
	}

	if lc.TLSCert != "" || lc.TLSKey != "" {
		if lc.TLSCert == "" || lc.TLSKey == "" {
			return listener.Config{}, fmt.Errorf("listener %q: tls_cert and tls_key must be set together", lc.Name)
		}
		cert, err := tls.LoadX509KeyPair(lc.TLSCert, lc.TLSKey)
		if err != nil {
			return listener.Config{}, fmt.Errorf("listener %q: failed to load tls key pair: %w", lc.Name, err)
		}
		cfg.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}
	return cfg, nil
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}
