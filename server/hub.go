package server

import (
	"encoding/json"
	"sync"
	"time"

	"QShareFM/logger"

	"github.com/gorilla/websocket"
)

// MessageType WebSocket 消息类型
type MessageType string

const (
	MsgTypeSongChange   MessageType = "song_change"   // 切换歌曲
	MsgTypeSongEnd      MessageType = "song_end"      // 歌曲结束
	MsgTypeSongPrepared MessageType = "song_prepared" // 歌曲就绪
	MsgTypePrepareError MessageType = "prepare_error" // 预取失败
	MsgTypeQueueUpdate  MessageType = "queue_update"  // 队列更新
	MsgTypeVolumeChange MessageType = "volume_change" // 音量变化
	MsgTypePlayerReady  MessageType = "player_ready"  // 播放器就绪
)

// WSMessage WebSocket 消息结构
type WSMessage struct {
	Type      MessageType `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Client 一个 WebSocket 连接的听众
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub 维护所有听众连接并向它们广播播放事件
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
}

// NewHub 创建连接中枢
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
	}
}

// Run 事件循环，负责连接注册与广播
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			logger.Info("听众加入", logger.Int("listeners", count))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			logger.Info("听众离开", logger.Int("listeners", count))

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// 发送缓冲已满的连接直接放弃本条消息
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ListenerCount 当前听众数量
func (h *Hub) ListenerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast 向所有听众广播一条事件
func (h *Hub) Broadcast(msgType MessageType, data interface{}) {
	msg := WSMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Warn("序列化广播消息失败",
			logger.String("type", string(msgType)),
			logger.ErrorField(err))
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		logger.Warn("广播队列已满，丢弃消息", logger.String("type", string(msgType)))
	}
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// writePump 把待发送消息写到连接上，定期发心跳
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 消费入站消息（只用于心跳和断线检测）
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
