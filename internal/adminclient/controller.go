package adminclient

import (
	"context"
	"errors"
	"log"

	"github.com/lvdashuaibi/songvote/internal/model"
	"github.com/lvdashuaibi/songvote/internal/restclient"
)

var (
	// ErrTooFewSongs 候选歌曲不足两首
	ErrTooFewSongs = errors.New("候选歌曲不能少于2首")
	// ErrNotConfirmed 结束会话未经确认
	ErrNotConfirmed = errors.New("结束会话操作未确认")
	// ErrSessionAlreadyEnded 会话已经结束，重复结束只报这一个错误
	ErrSessionAlreadyEnded = errors.New("投票会话已经结束")
)

// AdminAPI 管理端操作接口
type AdminAPI interface {
	StartSession(ctx context.Context, songIDs []string) (*restclient.StartSessionResult, error)
	EndSession(ctx context.Context, sessionID string) (*model.VotingSession, error)
	GetActiveSession(ctx context.Context) (*model.VotingSession, error)
	GetShareArtifact(ctx context.Context, sessionID string) (*model.ShareArtifact, error)
	GetStats(ctx context.Context, sessionID string) (*model.SessionStats, error)
	GetHistory(ctx context.Context, page, limit int) (*restclient.HistoryPage, error)
}

// Controller 管理端会话控制器
// 结束会话是不可逆操作，必须经过confirm回调确认后才会发起请求
type Controller struct {
	api     AdminAPI
	confirm func(sessionID string) bool
}

// NewController confirm为nil时结束会话一律拒绝
func NewController(api AdminAPI, confirm func(sessionID string) bool) *Controller {
	return &Controller{api: api, confirm: confirm}
}

// StartSession 开始新会话，候选歌曲去重后不足2首直接拒绝，不发起网络请求
func (c *Controller) StartSession(ctx context.Context, songIDs []string) (*restclient.StartSessionResult, error) {
	distinct := dedupe(songIDs)
	if len(distinct) < 2 {
		return nil, ErrTooFewSongs
	}
	return c.api.StartSession(ctx, distinct)
}

// EndSession 结束会话，需确认；重复结束返回ErrSessionAlreadyEnded
func (c *Controller) EndSession(ctx context.Context, sessionID string) (*model.VotingSession, error) {
	if c.confirm == nil || !c.confirm(sessionID) {
		return nil, ErrNotConfirmed
	}

	session, err := c.api.EndSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, restclient.ErrSessionEnded) {
			return nil, ErrSessionAlreadyEnded
		}
		return nil, err
	}
	return session, nil
}

// ActiveSession 查询当前活跃会话，查询失败时降级为无会话
func (c *Controller) ActiveSession(ctx context.Context) *model.VotingSession {
	session, err := c.api.GetActiveSession(ctx)
	if err != nil {
		log.Printf("查询活跃会话失败: %v", err)
		return nil
	}
	return session
}

// RefetchArtifact 重新获取会话的分享二维码和深链接
func (c *Controller) RefetchArtifact(ctx context.Context, sessionID string) (*model.ShareArtifact, error) {
	return c.api.GetShareArtifact(ctx, sessionID)
}

// Stats 查询会话统计，失败时降级为零值
func (c *Controller) Stats(ctx context.Context, sessionID string) *model.SessionStats {
	stats, err := c.api.GetStats(ctx, sessionID)
	if err != nil {
		log.Printf("查询会话统计失败: %v", err)
		return &model.SessionStats{SessionID: sessionID}
	}
	return stats
}

// History 分页查询历史会话，失败时降级为空列表
func (c *Controller) History(ctx context.Context, page, limit int) *restclient.HistoryPage {
	result, err := c.api.GetHistory(ctx, page, limit)
	if err != nil {
		log.Printf("查询历史会话失败: %v", err)
		return &restclient.HistoryPage{Page: page, Limit: limit}
	}
	return result
}

// dedupe 保序去重
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
