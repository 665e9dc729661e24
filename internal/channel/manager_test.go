package channel

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lvdashuaibi/songvote/internal/model"
)

// testWSServer 行为可控的WebSocket测试服务端
type testWSServer struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn
	joins []model.JoinPayload
}

func newTestWSServer(t *testing.T) (*testWSServer, string) {
	t.Helper()
	s := &testWSServer{t: t}
	server := httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(server.Close)
	return s, "ws" + strings.TrimPrefix(server.URL, "http")
}

func (s *testWSServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("token") == "" {
		http.Error(w, "未授权", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	go func() {
		for {
			var msg model.WSMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type != model.WSEventJoin {
				continue
			}
			var join model.JoinPayload
			json.Unmarshal(msg.Payload, &join)

			s.mu.Lock()
			s.joins = append(s.joins, join)
			s.mu.Unlock()

			conn.WriteJSON(model.WSMessage{Type: model.WSEventJoinAck})
		}
	}()
}

func (s *testWSServer) joinCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.joins)
}

func (s *testWSServer) lastJoin() model.JoinPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.joins) == 0 {
		return model.JoinPayload{}
	}
	return s.joins[len(s.joins)-1]
}

func (s *testWSServer) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

func (s *testWSServer) push(msg model.WSMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.WriteJSON(msg)
	}
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("状态 = %v, want %v", m.State(), want)
}

func TestMountWithoutTokenStaysIdle(t *testing.T) {
	_, url := newTestWSServer(t)
	m := NewManager(Options{URL: url, Token: ""})

	m.Mount("s1")
	time.Sleep(50 * time.Millisecond)

	if m.State() != StateIdle {
		t.Errorf("无令牌时状态 = %v, want idle", m.State())
	}
}

func TestMountConnectsAndJoins(t *testing.T) {
	server, url := newTestWSServer(t)
	m := NewManager(Options{URL: url, Token: "tg_u1"})
	defer m.Unmount()

	m.Mount("s1")
	waitForState(t, m, StateConnected)

	if join := server.lastJoin(); join.SessionID != "s1" {
		t.Errorf("加入的会话 = %q, want s1", join.SessionID)
	}
}

func TestReconnectReusesJoinScope(t *testing.T) {
	server, url := newTestWSServer(t)
	m := NewManager(Options{
		URL:              url,
		Token:            "tg_u1",
		ReconnectBackoff: 20 * time.Millisecond,
		MaxReconnects:    5,
	})
	defer m.Unmount()

	m.Mount("s1")
	waitForState(t, m, StateConnected)

	// 服务端断开后应自动重连并重新加入同一会话
	server.dropConnections()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && server.joinCount() < 2 {
		time.Sleep(10 * time.Millisecond)
	}
	if server.joinCount() < 2 {
		t.Fatalf("加入次数 = %d, want >= 2", server.joinCount())
	}
	if join := server.lastJoin(); join.SessionID != "s1" {
		t.Errorf("重连后加入的会话 = %q, want s1", join.SessionID)
	}
	waitForState(t, m, StateConnected)
}

func TestAuthRejectedEntersErrorState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "令牌无效", http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	m := NewManager(Options{URL: url, Token: "bad", ReconnectBackoff: 10 * time.Millisecond})
	m.Mount("s1")

	waitForState(t, m, StateError)

	// 错误状态不自动重连，手动重试后仍失败回到错误状态
	m.Retry()
	waitForState(t, m, StateError)
}

func TestRetryExhaustedEntersDisconnected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 直接拒绝升级，模拟服务不可用
		http.Error(w, "服务不可用", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	m := NewManager(Options{
		URL:              url,
		Token:            "tg_u1",
		ReconnectBackoff: 5 * time.Millisecond,
		MaxReconnects:    2,
	})
	m.Mount("s1")

	waitForState(t, m, StateDisconnected)
}

func TestResultsCallbackFires(t *testing.T) {
	server, url := newTestWSServer(t)
	m := NewManager(Options{URL: url, Token: "tg_u1"})
	defer m.Unmount()

	received := make(chan *model.LiveResultsPayload, 1)
	m.OnResults = func(payload *model.LiveResultsPayload) {
		received <- payload
	}

	m.Mount("s1")
	waitForState(t, m, StateConnected)

	raw, _ := json.Marshal(model.LiveResultsPayload{SessionID: "s1", TotalVotes: 7})
	server.push(model.WSMessage{Type: model.WSEventResultsUpdated, Payload: raw})

	select {
	case payload := <-received:
		if payload.TotalVotes != 7 {
			t.Errorf("总票数 = %d, want 7", payload.TotalVotes)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("未收到结果推送回调")
	}
}

func TestUnmountReturnsToIdle(t *testing.T) {
	_, url := newTestWSServer(t)
	m := NewManager(Options{URL: url, Token: "tg_u1"})

	m.Mount("s1")
	waitForState(t, m, StateConnected)

	m.Unmount()
	waitForState(t, m, StateIdle)
}
