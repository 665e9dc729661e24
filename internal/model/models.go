package model

import (
	"encoding/json"
	"time"
)

// SessionStatus 投票会话状态
const (
	SessionStatusActive          = "active"
	SessionStatusEndedWithWinner = "ended_with_winner"
	SessionStatusEndedNoWinner   = "ended_without_winner"
	SessionStatusNotFound        = "not_found"
)

// Song 候选歌曲模型
type Song struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	CoverURL   string `json:"coverUrl,omitempty"`
	IsActive   bool   `json:"isActive"`
	OrderIndex int    `json:"orderIndex"`
}

// VotingSession 投票会话模型，一轮针对固定候选歌曲集合的投票
type VotingSession struct {
	ID          string     `json:"id"`
	IsActive    bool       `json:"isActive"`
	StartedAt   time.Time  `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
	TotalVoters int        `json:"totalVoters"`
	SongIDs     []string   `json:"songIds"`
	WinningSong *Song      `json:"winningSong,omitempty"`
}

// SongResult 单首歌曲的票数统计（按会话派生，不单独存储）
type SongResult struct {
	Song       Song    `json:"song"`
	Votes      int     `json:"votes"`
	Percentage float64 `json:"percentage"`
}

// LiveResultsPayload 实时结果推送载荷，每次投票后整体替换，客户端不做局部合并
type LiveResultsPayload struct {
	SessionID  string       `json:"sessionId"`
	Songs      []SongResult `json:"songs"`
	TotalVotes int          `json:"totalVotes"`
}

// SessionStatusResult 会话状态查询结果
type SessionStatusResult struct {
	Status      string `json:"status"`
	WinningSong *Song  `json:"winningSong,omitempty"`
}

// PendingVoteSession 待处理投票会话，由Telegram Bot在Mini App加载前写入
type PendingVoteSession struct {
	TelegramID string    `json:"telegramId"`
	SessionID  string    `json:"sessionId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SessionSummary 历史会话摘要（分页展示用）
type SessionSummary struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
	TotalVoters int        `json:"totalVoters"`
	WinningSong *Song      `json:"winningSong,omitempty"`
}

// SessionStats 会话聚合统计
type SessionStats struct {
	SessionID   string       `json:"sessionId"`
	IsActive    bool         `json:"isActive"`
	TotalVotes  int          `json:"totalVotes"`
	TotalVoters int          `json:"totalVoters"`
	Songs       []SongResult `json:"songs"`
}

// ShareArtifact 可分享的投票入口：深链接和二维码（data URL）
type ShareArtifact struct {
	SessionID string `json:"sessionId"`
	DeepLink  string `json:"deepLink"`
	QRDataURL string `json:"qrDataUrl"`
}

// CastVoteRequest 投票请求
type CastVoteRequest struct {
	SongID string `json:"songId"`
}

// StartSessionRequest 开始会话请求
type StartSessionRequest struct {
	SongIDs []string `json:"songIds"`
}

// SetPendingRequest Bot写入待处理会话的请求
type SetPendingRequest struct {
	TelegramID string `json:"telegramId"`
	SessionID  string `json:"sessionId"`
}

// APIResponse 统一响应信封
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// VoteCastEvent Kafka投票事件
type VoteCastEvent struct {
	SessionID  string    `json:"sessionId"`
	SongID     string    `json:"songId"`
	TelegramID string    `json:"telegramId"`
	VotedAt    time.Time `json:"votedAt"`
}

// WebSocket消息类型
const (
	WSEventJoin           = "vote:join"
	WSEventResultsUpdated = "vote:results:updated"
	WSEventSessionEnded   = "vote:session:ended"
	WSEventJoinAck        = "vote:join:ack"
)

// WSMessage WebSocket帧，Type区分事件，Payload为对应事件的JSON数据
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinPayload 加入会话房间的载荷，SessionID为空表示接收全局状态
type JoinPayload struct {
	SessionID string `json:"sessionId,omitempty"`
}

// SessionEndedPayload 会话结束推送载荷
type SessionEndedPayload struct {
	SessionID   string `json:"sessionId"`
	WinningSong *Song  `json:"winningSong,omitempty"`
}
