package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"keyprobe/internal/core/validator"
	"keyprobe/internal/shared/logger"
)

const (
	MsgKeyAdmitted    = "key_admitted"
	MsgKeyResult      = "key_result"
	MsgBatchComplete  = "batch_complete"
	MsgSettingsUpdate = "settings_update"
)

// KeyAdmittedEvent 在某个 key 被派发到代理时广播
type KeyAdmittedEvent struct {
	BatchID string `json:"batch_id"`
	Key     string `json:"key"`
	Proxy   string `json:"proxy"`
}

// BatchCompleteEvent 在批次结束时广播一次
type BatchCompleteEvent struct {
	BatchID   string    `json:"batch_id"`
	Submitted int       `json:"submitted"`
	Completed int       `json:"completed"`
	Skipped   int       `json:"skipped"`
	Stopped   bool      `json:"stopped"`
	Timestamp time.Time `json:"timestamp"`
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
	stopOnce   sync.Once
	mu         sync.Mutex
	dropped    atomic.Int64
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

func (h *Hub) Run() {
	l := logger.WithComponent("Hub")
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			l.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client registered.")
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				l.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client unregistered.")
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					// 读循环会负责注销断开的客户端
					l.Warn().Err(err).Str("remote_addr", conn.RemoteAddr().String()).Msg("Error writing to websocket client.")
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

// Stop closes all clients and ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// BroadcastKeyAdmitted 广播 key 开始查询
func (h *Hub) BroadcastKeyAdmitted(ev *KeyAdmittedEvent) {
	h.send(MsgKeyAdmitted, ev)
}

// BroadcastKeyResult 广播单个 key 的查询结果
func (h *Hub) BroadcastKeyResult(out *validator.Outcome) {
	h.send(MsgKeyResult, out)
}

// BroadcastBatchComplete 广播批次结束
func (h *Hub) BroadcastBatchComplete(ev *BatchCompleteEvent) {
	h.send(MsgBatchComplete, ev)
}

// BroadcastSettingsUpdate 广播配置模块变更
func (h *Hub) BroadcastSettingsUpdate(moduleKey string, newSettings interface{}) {
	h.send(MsgSettingsUpdate, map[string]interface{}{"module": moduleKey, "settings": newSettings})
}

func (h *Hub) send(msgType string, data interface{}) bool {
	jsonMsg, err := json.Marshal(WebSocketMessage{Type: msgType, Data: data})
	if err != nil {
		logger.Error().Err(err).Str("type", msgType).Msg("Hub: Failed to marshal message")
		return false
	}

	select {
	case h.broadcast <- jsonMsg:
		return true
	default:
		// 通道已满时丢弃，避免阻塞查询流程
		dropped := h.dropped.Add(1)
		logger.Warn().Str("type", msgType).Int("dropped_total", int(dropped)).Msg("Hub: Broadcast channel is full, message dropped.")
		return false
	}
}

// Dropped returns how many messages were discarded because the broadcast
// channel was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
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
