package types

import "time"

// CommonConf 包含所有监听器共享的默认值
type CommonConf struct {
	BufferSize     int `ini:"buffer_size"`
	MaxConnections int `ini:"max_connections"`
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level string `ini:"level"`
}

// WebConf 控制状态面板 (websocket 日志流、统计 API、metrics)
type WebConf struct {
	Host     string `ini:"host"`
	Port     int    `ini:"port"` // <= 0 关闭面板
	User     string `ini:"user"`
	Password string `ini:"password"`
}

// ListenerConf 对应一个 [listener.<name>] 段。
// 值为 0 的数值字段继承 [common] 中的设置。
type ListenerConf struct {
	Name string `ini:"-"`

	Transport string `ini:"transport"` // "stream"/"tcp" 或 "datagram"/"udp"
	Host      string `ini:"host"`
	Port      int    `ini:"port"` // 0 = 由系统分配

	Handler string `ini:"handler"` // echo, reply, discard, useragent, page
	Reply   string `ini:"reply"`

	BufferSize     int           `ini:"buffer_size"`
	AcceptTimeout  time.Duration `ini:"accept_timeout"`
	WriteTimeout   time.Duration `ini:"write_timeout"`
	MaxConnections int           `ini:"max_connections"`

	// Socket buffer sizes (SO_RCVBUF / SO_SNDBUF), 0 keeps the OS default.
	ReadBuffer  int `ini:"read_buffer"`
	WriteBuffer int `ini:"write_buffer"`

	TLSCert string `ini:"tls_cert"`
	TLSKey  string `ini:"tls_key"`
}

// Config 是 netloop 的统一配置结构体
type Config struct {
	CommonConf `ini:"common"`
	LogConf    `ini:"log"`
	WebConf    `ini:"web"`

	Listeners []ListenerConf `ini:"-"`
}
