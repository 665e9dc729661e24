package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lvdashuaibi/songvote/internal/model"
)

var (
	// ErrAlreadyVoted 服务端返回的重复投票冲突
	ErrAlreadyVoted = errors.New("本轮投票中已投过票")
	// ErrSessionEnded 会话已结束冲突
	ErrSessionEnded = errors.New("投票会话已结束")
	// ErrNotFound 资源不存在
	ErrNotFound = errors.New("资源不存在")
)

// APIError 服务端返回的业务错误（区别于网络错误）
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("服务端返回错误(%d): %s", e.StatusCode, e.Message)
}

// envelope 统一响应信封，Data延迟解码
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client REST客户端
// 读请求带有限次退避重试，写请求（投票、开始/结束会话）绝不重试
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	retryCount   int
	retryBackoff time.Duration
}

// Option 客户端选项
type Option func(*Client)

// WithRetry 配置GET请求的重试次数与基础退避时长
func WithRetry(count int, backoff time.Duration) Option {
	return func(c *Client) {
		c.retryCount = count
		c.retryBackoff = backoff
	}
}

// WithTimeout 配置单次请求超时
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:      baseURL,
		token:        token,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		retryCount:   2,
		retryBackoff: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get 幂等读请求，网络错误时按 backoff*1, backoff*2... 退避重试
// HTTP业务错误不重试
func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	var lastErr error

	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			backoff := c.retryBackoff * time.Duration(attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			log.Printf("重试请求 %s (第%d次)", path, attempt)
		}

		err := c.do(ctx, http.MethodGet, path, nil, out)
		if err == nil {
			return nil
		}

		// 业务错误和上下文取消直接返回，只有网络错误才重试
		var apiErr *APIError
		if errors.As(err, &apiErr) || errors.Is(err, context.Canceled) ||
			errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyVoted) || errors.Is(err, ErrSessionEnded) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("请求 %s 重试耗尽: %w", path, lastErr)
}

// post 非幂等写请求，不重试
func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求体失败: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("网络请求失败: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var env envelope
		message := ""
		if json.Unmarshal(data, &env) == nil {
			message = env.Message
		}
		switch resp.StatusCode {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusConflict:
			switch {
			case method == http.MethodPost && path == "/api/votes":
				return ErrAlreadyVoted
			case method == http.MethodPost && strings.HasSuffix(path, "/end"):
				return ErrSessionEnded
			}
			// 其他冲突（如开始会话时已有活跃会话）保留服务端消息
		}
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

// decodeData 解码信封中的data字段
func decodeData(env *envelope, out interface{}) error {
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("解析响应数据失败: %w", err)
	}
	return nil
}

// GetSessionStatus 查询会话状态
func (c *Client) GetSessionStatus(ctx context.Context, sessionID string) (*model.SessionStatusResult, error) {
	var env envelope
	if err := c.get(ctx, "/api/public/vote/session/"+url.PathEscape(sessionID), &env); err != nil {
		return nil, err
	}
	var result model.SessionStatusResult
	if err := decodeData(&env, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPendingSession 查询用户的待处理会话（读取即消费）
func (c *Client) GetPendingSession(ctx context.Context, telegramID string) (string, bool, error) {
	var env envelope
	if err := c.get(ctx, "/api/public/vote/pending/"+url.PathEscape(telegramID), &env); err != nil {
		return "", false, err
	}
	var data struct {
		SessionID string `json:"sessionId"`
	}
	if err := decodeData(&env, &data); err != nil {
		return "", false, err
	}
	return data.SessionID, data.SessionID != "", nil
}

// GetResults 获取会话结果快照
func (c *Client) GetResults(ctx context.Context, sessionID string) (*model.LiveResultsPayload, error) {
	path := "/api/votes/results"
	if sessionID != "" {
		path += "?sessionId=" + url.QueryEscape(sessionID)
	}
	var payload model.LiveResultsPayload
	if err := c.get(ctx, path, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// GetCatalog 获取歌曲目录
func (c *Client) GetCatalog(ctx context.Context) ([]model.Song, error) {
	var env envelope
	if err := c.get(ctx, "/api/votes/songs", &env); err != nil {
		return nil, err
	}
	var songs []model.Song
	if err := decodeData(&env, &songs); err != nil {
		return nil, err
	}
	return songs, nil
}

// CastVote 投票（不重试）
func (c *Client) CastVote(ctx context.Context, songID string) (*model.LiveResultsPayload, error) {
	var env envelope
	if err := c.post(ctx, "/api/votes", model.CastVoteRequest{SongID: songID}, &env); err != nil {
		return nil, err
	}
	var payload model.LiveResultsPayload
	if err := decodeData(&env, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// StartSessionResult 开始会话的返回数据
type StartSessionResult struct {
	Session  *model.VotingSession `json:"session"`
	Artifact *model.ShareArtifact `json:"artifact"`
}

// StartSession 开始新的投票会话（管理端，不重试）
func (c *Client) StartSession(ctx context.Context, songIDs []string) (*StartSessionResult, error) {
	var env envelope
	if err := c.post(ctx, "/api/admin/votes/sessions/start", model.StartSessionRequest{SongIDs: songIDs}, &env); err != nil {
		return nil, err
	}
	var result StartSessionResult
	if err := decodeData(&env, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// EndSession 结束投票会话（管理端，不重试）
func (c *Client) EndSession(ctx context.Context, sessionID string) (*model.VotingSession, error) {
	var env envelope
	if err := c.post(ctx, "/api/admin/votes/sessions/"+url.PathEscape(sessionID)+"/end", nil, &env); err != nil {
		return nil, err
	}
	var session model.VotingSession
	if err := decodeData(&env, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetActiveSession 查询当前活跃会话，不存在时返回nil
func (c *Client) GetActiveSession(ctx context.Context) (*model.VotingSession, error) {
	var env envelope
	if err := c.get(ctx, "/api/admin/votes/sessions?isActive=true", &env); err != nil {
		return nil, err
	}
	var sessions []*model.VotingSession
	if err := decodeData(&env, &sessions); err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return sessions[0], nil
}

// GetShareArtifact 重新获取会话的分享入口
func (c *Client) GetShareArtifact(ctx context.Context, sessionID string) (*model.ShareArtifact, error) {
	var env envelope
	if err := c.get(ctx, "/api/admin/votes/sessions/"+url.PathEscape(sessionID)+"/qr", &env); err != nil {
		return nil, err
	}
	var artifact model.ShareArtifact
	if err := decodeData(&env, &artifact); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// GetStats 查询会话统计，sessionID为空时取当前会话
func (c *Client) GetStats(ctx context.Context, sessionID string) (*model.SessionStats, error) {
	path := "/api/admin/votes/stats"
	if sessionID != "" {
		path += "?sessionId=" + url.QueryEscape(sessionID)
	}
	var env envelope
	if err := c.get(ctx, path, &env); err != nil {
		return nil, err
	}
	var stats model.SessionStats
	if err := decodeData(&env, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// HistoryPage 历史会话分页结果
type HistoryPage struct {
	Sessions []*model.SessionSummary `json:"sessions"`
	Total    int                     `json:"total"`
	Page     int                     `json:"page"`
	Limit    int                     `json:"limit"`
}

// GetHistory 分页查询历史会话
func (c *Client) GetHistory(ctx context.Context, page, limit int) (*HistoryPage, error) {
	path := "/api/admin/votes/history?page=" + strconv.Itoa(page) + "&limit=" + strconv.Itoa(limit)
	var env envelope
	if err := c.get(ctx, path, &env); err != nil {
		return nil, err
	}
	var result HistoryPage
	if err := decodeData(&env, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
