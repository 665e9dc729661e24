package hub

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lvdashuaibi/songvote/config"
	"github.com/lvdashuaibi/songvote/internal/model"
)

// Hub 管理所有实时结果推送连接
// 每个连接通过 vote:join 加入某个会话房间；未指定会话的连接接收全局广播
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	upgrader websocket.Upgrader
	closed   bool
}

// Client 单个WebSocket连接
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu        sync.RWMutex
	sessionID string // 加入的会话房间，空表示全局
	joined    bool
	closeOnce sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Mini App来自Telegram WebView，跨域请求放行
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleConnection 升级HTTP连接并接管读写（鉴权由上层路由完成）
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 16),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return nil
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go client.writePump()
	go client.readPump()

	return nil
}

// BroadcastResults 向会话房间和全局连接推送最新结果
func (h *Hub) BroadcastResults(payload *model.LiveResultsPayload) {
	h.broadcast(payload.SessionID, model.WSEventResultsUpdated, payload)
}

// BroadcastSessionEnded 推送会话结束事件（带获胜歌曲）
func (h *Hub) BroadcastSessionEnded(payload *model.SessionEndedPayload) {
	h.broadcast(payload.SessionID, model.WSEventSessionEnded, payload)
}

// broadcast 序列化事件并投递到目标连接，发送缓冲满的连接直接断开
func (h *Hub) broadcast(sessionID, eventType string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("序列化推送事件失败: %v", err)
		return
	}

	msg, err := json.Marshal(model.WSMessage{Type: eventType, Payload: raw})
	if err != nil {
		log.Printf("序列化推送消息失败: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.inScope(sessionID) {
			continue
		}
		select {
		case client.send <- msg:
		default:
			// 消费过慢的连接不再等待，交由读写泵清理
			go client.close()
		}
	}
}

// ClientCount 当前连接数（测试和统计用）
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown 关闭所有连接
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.close()
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
}

// inScope 判断连接是否应收到某会话的广播
// 已加入该会话房间的连接和全局（未指定会话）连接都在范围内
func (c *Client) inScope(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.joined {
		return false
	}
	return c.sessionID == "" || c.sessionID == sessionID
}

// readPump 读取客户端消息，处理 vote:join
func (c *Client) readPump() {
	defer c.close()

	pongTimeout := config.AppConfig.WebSocket.PongTimeout
	if pongTimeout <= 0 {
		pongTimeout = 60 * time.Second
	}

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg model.WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("解析客户端消息失败: %v", err)
			continue
		}

		if msg.Type != model.WSEventJoin {
			continue
		}

		var join model.JoinPayload
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &join); err != nil {
				log.Printf("解析加入消息失败: %v", err)
				continue
			}
		}

		c.mu.Lock()
		c.sessionID = join.SessionID
		c.joined = true
		c.mu.Unlock()

		// 回复加入确认，客户端在收到确认后才认为进入房间
		ack, _ := json.Marshal(model.WSMessage{Type: model.WSEventJoinAck})
		select {
		case c.send <- ack:
		default:
		}
	}
}

// writePump 发送消息并维持心跳
func (c *Client) writePump() {
	pingInterval := config.AppConfig.WebSocket.PingInterval
	if pingInterval <= 0 {
		pingInterval = 54 * time.Second
	}
	writeTimeout := config.AppConfig.WebSocket.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.hub.removeClient(c)
		c.conn.Close()
	})
}
