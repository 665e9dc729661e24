package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lvdashuaibi/songvote/internal/model"
)

// Options 频道管理器配置
type Options struct {
	// WebSocket地址，例如 ws://localhost:8080/ws
	URL string
	// 用户令牌，为空时不建立连接
	Token string
	// 首次重连退避时长，之后逐次翻倍
	ReconnectBackoff time.Duration
	// 自动重连次数上限，超过后进入Disconnected等待手动重试
	MaxReconnects int
}

// Manager 实时频道管理器
// 维护到服务端的WebSocket连接和状态机，挂载会话后推送结果更新
type Manager struct {
	opts Options

	mu        sync.Mutex
	state     State
	sessionID string // 挂载时记录的会话范围，重连时复用
	conn      *websocket.Conn
	attempts  int
	stopCh    chan struct{}

	// 回调在读协程中触发，不要在回调里做阻塞操作
	OnResults      func(*model.LiveResultsPayload)
	OnSessionEnded func(model.SessionEndedPayload)
	OnStateChange  func(State)
}

func NewManager(opts Options) *Manager {
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = time.Second
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = 5
	}
	return &Manager{opts: opts, state: StateIdle}
}

// State 返回当前连接状态
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Mount 挂载到指定会话并建立连接
// 没有令牌时保持Idle，只记录警告日志
func (m *Manager) Mount(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.opts.Token == "" {
		log.Printf("缺少用户令牌，不建立实时连接")
		return
	}
	if m.state != StateIdle && m.state != StateDisconnected {
		return
	}

	m.sessionID = sessionID
	m.attempts = 0
	m.stopCh = make(chan struct{})
	m.transition(EventMount)
	go m.connectLoop(m.stopCh)
}

// Unmount 卸载并主动关闭连接
func (m *Manager) Unmount() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.sessionID = ""
	m.transition(EventUnmount)
}

// Retry 手动重试，仅在Disconnected或Error状态下有效
func (m *Manager) Retry() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateDisconnected && m.state != StateError {
		return
	}
	m.attempts = 0
	m.stopCh = make(chan struct{})
	m.transition(EventManualRetry)
	go m.connectLoop(m.stopCh)
}

// transition 持锁调用
func (m *Manager) transition(event Event) {
	next := Reduce(m.state, event)
	if next == m.state {
		return
	}
	m.state = next
	if m.OnStateChange != nil {
		go m.OnStateChange(next)
	}
}

// connectLoop 连接与重连循环，直到stopCh关闭或重连耗尽
func (m *Manager) connectLoop(stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		conn, err := m.dial()
		if err != nil {
			var authErr *authError
			if errors.As(err, &authErr) {
				log.Printf("实时连接鉴权失败: %v", err)
				m.mu.Lock()
				m.transition(EventAuthRejected)
				m.mu.Unlock()
				return
			}
			if !m.scheduleRetry(stopCh, err) {
				return
			}
			continue
		}

		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()

		// 连接断开前readLoop一直阻塞
		err = m.readLoop(conn, stopCh)

		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()

		select {
		case <-stopCh:
			return
		default:
		}

		if !m.scheduleRetry(stopCh, err) {
			return
		}
	}
}

// scheduleRetry 记一次断连并按退避等待，返回false表示重连耗尽
func (m *Manager) scheduleRetry(stopCh chan struct{}, cause error) bool {
	m.mu.Lock()
	m.transition(EventConnLost)
	m.attempts++
	attempts := m.attempts
	m.mu.Unlock()

	if attempts > m.opts.MaxReconnects {
		log.Printf("实时连接重连耗尽（%d次），停止自动重连: %v", m.opts.MaxReconnects, cause)
		m.mu.Lock()
		m.transition(EventRetryExhausted)
		m.mu.Unlock()
		return false
	}

	backoff := m.opts.ReconnectBackoff * time.Duration(1<<(attempts-1))
	log.Printf("实时连接断开，%v后第%d次重连: %v", backoff, attempts, cause)

	select {
	case <-time.After(backoff):
	case <-stopCh:
		return false
	}

	m.mu.Lock()
	m.transition(EventRetryAttempt)
	m.mu.Unlock()
	return true
}

type authError struct {
	status int
}

func (e *authError) Error() string {
	return fmt.Sprintf("握手被拒绝: HTTP %d", e.status)
}

// dial 建立连接并发送加入消息
func (m *Manager) dial() (*websocket.Conn, error) {
	u, err := url.Parse(m.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("解析连接地址失败: %w", err)
	}
	query := u.Query()
	query.Set("token", m.opts.Token)
	u.RawQuery = query.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &authError{status: resp.StatusCode}
		}
		return nil, fmt.Errorf("建立连接失败: %w", err)
	}

	m.mu.Lock()
	sessionID := m.sessionID
	m.mu.Unlock()

	payload, _ := json.Marshal(model.JoinPayload{SessionID: sessionID})
	join := model.WSMessage{Type: model.WSEventJoin, Payload: payload}
	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		return nil, fmt.Errorf("发送加入消息失败: %w", err)
	}

	return conn, nil
}

// readLoop 读消息直到连接断开
func (m *Manager) readLoop(conn *websocket.Conn, stopCh chan struct{}) error {
	for {
		select {
		case <-stopCh:
			return nil
		default:
		}

		var msg model.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		m.handleMessage(&msg)
	}
}

func (m *Manager) handleMessage(msg *model.WSMessage) {
	switch msg.Type {
	case model.WSEventJoinAck:
		m.mu.Lock()
		m.attempts = 0
		m.transition(EventJoinAcked)
		m.mu.Unlock()

	case model.WSEventResultsUpdated:
		var payload model.LiveResultsPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			log.Printf("解析结果推送失败: %v", err)
			return
		}
		if m.OnResults != nil {
			m.OnResults(&payload)
		}

	case model.WSEventSessionEnded:
		var payload model.SessionEndedPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			log.Printf("解析会话结束推送失败: %v", err)
			return
		}
		if m.OnSessionEnded != nil {
			m.OnSessionEnded(payload)
		}

	default:
		log.Printf("忽略未知消息类型: %s", msg.Type)
	}
}
