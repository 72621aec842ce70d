package scenegraph

import (
	"net/http"
	"sync"

	"scenegraph-server-go/src/core/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// StatusEvent 作业状态事件
type StatusEvent struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"` // pending/running/complete/failed
	Message string `json:"message,omitempty"`
}

// 状态只能前进：pending → running → complete/failed
var statusRank = map[string]int{
	"pending":  0,
	"running":  1,
	"complete": 2,
	"failed":   2,
}

// subscriberConn 封装订阅连接，写操作串行化
type subscriberConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex // 写操作互斥锁
}

// writeJSON 串行化的JSON写入，gorilla连接不允许并发写
func (c *subscriberConn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// EventHub 按作业ID推送状态事件的websocket集线器
// 同时保留每个作业的最新状态，订阅者连上来先补发一次
type EventHub struct {
	logger   *utils.Logger
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	subscribers map[string]map[*subscriberConn]bool
	latest      map[string]StatusEvent
}

// NewEventHub 创建状态事件集线器
func NewEventHub(logger *utils.Logger) *EventHub {
	return &EventHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		subscribers: make(map[string]map[*subscriberConn]bool),
		latest:      make(map[string]StatusEvent),
	}
}

// Publish 记录并广播一个作业状态事件，状态回退的事件被丢弃
func (h *EventHub) Publish(jobID, status, message string) {
	event := StatusEvent{JobID: jobID, Status: status, Message: message}

	h.mu.Lock()
	if cur, ok := h.latest[jobID]; ok && statusRank[cur.Status] > statusRank[status] {
		h.mu.Unlock()
		return
	}
	h.latest[jobID] = event
	conns := make([]*subscriberConn, 0, len(h.subscribers[jobID]))
	for conn := range h.subscribers[jobID] {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		if err := conn.writeJSON(event); err != nil {
			h.remove(jobID, conn)
		}
	}
}

// Latest 返回作业的最新状态
func (h *EventHub) Latest(jobID string) (StatusEvent, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	event, ok := h.latest[jobID]
	return event, ok
}

// HandleWS 处理状态订阅的websocket升级请求
func (h *EventHub) HandleWS(c *gin.Context, jobID string) {
	wsConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket升级失败", map[string]interface{}{
			"job_id": jobID,
			"error":  err.Error(),
		})
		return
	}
	conn := &subscriberConn{conn: wsConn}

	h.mu.Lock()
	if h.subscribers[jobID] == nil {
		h.subscribers[jobID] = make(map[*subscriberConn]bool)
	}
	h.subscribers[jobID][conn] = true
	event, hasLatest := h.latest[jobID]
	h.mu.Unlock()

	// 补发最新状态，避免订阅晚于事件
	if hasLatest {
		if err := conn.writeJSON(event); err != nil {
			h.remove(jobID, conn)
			return
		}
	}

	// 读循环只用于感知断开
	go func() {
		defer h.remove(jobID, conn)
		for {
			if _, _, err := wsConn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// remove 摘除订阅并关闭连接
func (h *EventHub) remove(jobID string, conn *subscriberConn) {
	h.mu.Lock()
	if subs, ok := h.subscribers[jobID]; ok {
		delete(subs, conn)
		if len(subs) == 0 {
			delete(h.subscribers, jobID)
		}
	}
	h.mu.Unlock()
	conn.conn.Close()
}
