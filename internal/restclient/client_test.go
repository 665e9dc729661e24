package restclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lvdashuaibi/songvote/internal/model"
)

func writeEnvelope(w http.ResponseWriter, status int, success bool, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	raw, _ := json.Marshal(data)
	json.NewEncoder(w).Encode(envelope{Success: success, Message: message, Data: raw})
}

func TestGetSessionStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/public/vote/session/s1" {
			t.Errorf("请求路径 = %s", r.URL.Path)
		}
		writeEnvelope(w, http.StatusOK, true, "", model.SessionStatusResult{
			Status:      model.SessionStatusEndedWithWinner,
			WinningSong: &model.Song{ID: "w1"},
		})
	}))
	t.Cleanup(server.Close)

	c := NewClient(server.URL, "tg_u1")
	result, err := c.GetSessionStatus(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetSessionStatus() error = %v", err)
	}
	if result.Status != model.SessionStatusEndedWithWinner || result.WinningSong.ID != "w1" {
		t.Errorf("结果 = %+v", result)
	}
}

func TestBearerTokenAttached(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tg_u1" {
			t.Errorf("Authorization = %q", got)
		}
		writeEnvelope(w, http.StatusOK, true, "", nil)
	}))
	t.Cleanup(server.Close)

	c := NewClient(server.URL, "tg_u1")
	if _, _, err := c.GetPendingSession(context.Background(), "u1"); err != nil {
		t.Fatalf("GetPendingSession() error = %v", err)
	}
}

func TestGetRetriesOnNetworkError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			// 第一次请求直接掐断连接
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("测试服务器不支持hijack")
			}
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		writeEnvelope(w, http.StatusOK, true, "", map[string]string{"sessionId": "s1"})
	}))
	t.Cleanup(server.Close)

	c := NewClient(server.URL, "tg_u1", WithRetry(2, 10*time.Millisecond))
	sessionID, found, err := c.GetPendingSession(context.Background(), "u1")
	if err != nil {
		t.Fatalf("重试后仍失败: %v", err)
	}
	if !found || sessionID != "s1" {
		t.Errorf("结果 = (%q, %v)", sessionID, found)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("请求次数 = %d, want 2", got)
	}
}

func TestGetDoesNotRetryBusinessError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeEnvelope(w, http.StatusNotFound, false, "会话不存在", nil)
	}))
	t.Cleanup(server.Close)

	c := NewClient(server.URL, "tg_u1", WithRetry(3, time.Millisecond))
	_, err := c.GetSessionStatus(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("业务错误不应重试，请求次数 = %d", got)
	}
}

func TestCastVoteDoesNotRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			hj := w.(http.Hijacker)
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		writeEnvelope(w, http.StatusOK, true, "", nil)
	}))
	t.Cleanup(server.Close)

	c := NewClient(server.URL, "tg_u1", WithRetry(3, time.Millisecond))
	if _, err := c.CastVote(context.Background(), "a"); err == nil {
		t.Fatal("写请求网络失败不应重试成功")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("写请求次数 = %d, want 1", got)
	}
}

func TestCastVoteConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusConflict, false, "您在本轮投票中已投过票", nil)
	}))
	t.Cleanup(server.Close)

	c := NewClient(server.URL, "tg_u1")
	if _, err := c.CastVote(context.Background(), "a"); !errors.Is(err, ErrAlreadyVoted) {
		t.Errorf("err = %v, want ErrAlreadyVoted", err)
	}
}

func TestEndSessionConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusConflict, false, "会话已结束", nil)
	}))
	t.Cleanup(server.Close)

	c := NewClient(server.URL, "admin")
	if _, err := c.EndSession(context.Background(), "s1"); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("err = %v, want ErrSessionEnded", err)
	}
}

func TestStartSessionConflictKeepsServerMessage(t *testing.T) {
	// 开始会话的冲突不是"会话已结束"，要带回服务端的具体原因
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusConflict, false, "已存在进行中的投票会话", nil)
	}))
	t.Cleanup(server.Close)

	c := NewClient(server.URL, "admin")
	_, err := c.StartSession(context.Background(), []string{"a", "b"})
	if errors.Is(err, ErrSessionEnded) {
		t.Fatalf("开始会话的冲突不应映射为会话已结束: %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Message != "已存在进行中的投票会话" {
		t.Errorf("冲突错误 = %+v", apiErr)
	}
}

func TestGetResultsDecodesRawPayload(t *testing.T) {
	// 结果接口直接返回载荷，不套信封
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("sessionId"); got != "s1" {
			t.Errorf("sessionId = %q", got)
		}
		json.NewEncoder(w).Encode(model.LiveResultsPayload{SessionID: "s1", TotalVotes: 5})
	}))
	t.Cleanup(server.Close)

	c := NewClient(server.URL, "tg_u1")
	payload, err := c.GetResults(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetResults() error = %v", err)
	}
	if payload.SessionID != "s1" || payload.TotalVotes != 5 {
		t.Errorf("载荷 = %+v", payload)
	}
}

func TestContextCancellationStopsRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj := w.(http.Hijacker)
		conn, _, _ := hj.Hijack()
		conn.Close()
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(server.URL, "tg_u1", WithRetry(5, time.Second))
	start := time.Now()
	_, err := c.GetCatalog(ctx)
	if err == nil {
		t.Fatal("已取消的上下文应返回错误")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("取消后不应继续退避等待，耗时 %v", elapsed)
	}
}
