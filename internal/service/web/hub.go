// FILE: internal/service/web/hub.go
package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"netloop/internal/core/listener"
	"netloop/internal/shared/logger"
)

// UnitLogEntry 定义了单条处理日志的结构
type UnitLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Listener  string    `json:"listener"`
	Transport string    `json:"transport"`
	Peer      string    `json:"peer,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	Action    string    `json:"action"` // served, dropped, failed, state
	BytesIn   int       `json:"bytes_in,omitempty"`
	BytesOut  int       `json:"bytes_out,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// WebSocketMessage 定义了 WebSocket 消息的通用格式
type WebSocketMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of active clients and broadcasts messages to the
// clients.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	quit       chan struct{}
	closeOnce  sync.Once
	mu         sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		quit:       make(chan struct{}),
		clients:    make(map[*websocket.Conn]bool),
	}
}

// Run 处理注册、注销与广播，直到 Close 被调用。
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			logger.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client registered.")
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				logger.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client unregistered.")
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				err := conn.WriteMessage(websocket.TextMessage, message)
				if err != nil {
					logger.Warn().Err(err).Str("remote_addr", conn.RemoteAddr().String()).Msg("Error writing to websocket client.")
					// Assume client is disconnected, let the read pump handle unregistering
				}
			}
			h.mu.Unlock()
		case <-h.quit:
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Close stops Run and disconnects every client.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.quit) })
}

// ClientCount 返回当前连接的 websocket 客户端数量
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// BroadcastUnitLog 广播单条处理日志
func (h *Hub) BroadcastUnitLog(entry *UnitLogEntry) {
	msg := WebSocketMessage{Type: "unit_log", Data: entry}
	jsonMsg, err := json.Marshal(msg)
	if err != nil {
		logger.Error().Err(err).Msg("Hub: Failed to marshal unit log entry")
		return
	}

	select {
	case h.broadcast <- jsonMsg:
	default:
		// Do not log warning for full channel here to avoid log spam
	}
}

// Observer 返回一个把监听器事件转发到 Hub 的 listener.Observer
func (h *Hub) Observer(name string) listener.Observer {
	return &hubObserver{hub: h, name: name}
}

type hubObserver struct {
	hub  *Hub
	name string
}

func (o *hubObserver) StateChanged(ep listener.Endpoint, _, to listener.State) {
	o.hub.BroadcastUnitLog(&UnitLogEntry{
		Timestamp: time.Now(),
		Listener:  o.name,
		Transport: string(ep.Transport),
		Action:    "state",
		Detail:    to.String(),
	})
}

func (o *hubObserver) UnitServed(ev listener.UnitEvent) {
	o.hub.BroadcastUnitLog(&UnitLogEntry{
		Timestamp: time.Now(),
		Listener:  o.name,
		Transport: string(ev.Endpoint.Transport),
		Peer:      ev.Peer.Address(),
		TraceID:   ev.TraceID,
		Action:    "served",
		BytesIn:   ev.BytesIn,
		BytesOut:  ev.BytesOut,
	})
}

func (o *hubObserver) Failed(err *listener.Error) {
	entry := &UnitLogEntry{
		Timestamp: time.Now(),
		Listener:  o.name,
		Transport: string(err.Endpoint.Transport),
		Action:    "failed",
		Detail:    err.Error(),
	}
	if err.Peer != nil {
		entry.Peer = err.Peer.Address()
	}
	switch err.Kind {
	case listener.KindRead, listener.KindHandler, listener.KindWrite:
		entry.Action = "dropped"
	}
	o.hub.BroadcastUnitLog(entry)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Allow all origins
}

// ServeWs handles websocket requests from the peer.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to upgrade websocket")
		return
	}
	select {
	case hub.register <- conn:
	case <-hub.quit:
		conn.Close()
		return
	}

	// This is a read pump. It's needed to detect when a client closes the connection.
	go func() {
		defer func() {
			select {
			case hub.unregister <- conn:
			case <-hub.quit:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logger.Warn().Err(err).Msg("Unexpected websocket close error")
				}
				break
			}
		}
	}()
}
