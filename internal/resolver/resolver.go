package resolver

import (
	"context"
	"log"

	"github.com/lvdashuaibi/songvote/internal/model"
	"github.com/lvdashuaibi/songvote/internal/navigation"
	"github.com/lvdashuaibi/songvote/internal/qr"
)

// StatusClient 会话状态与待处理会话的查询接口
type StatusClient interface {
	GetSessionStatus(ctx context.Context, sessionID string) (*model.SessionStatusResult, error)
	GetPendingSession(ctx context.Context, telegramID string) (string, bool, error)
}

// LaunchContext 小程序启动时的上下文参数
type LaunchContext struct {
	StartParam  string // 深链携带的startapp参数
	QueryString string // 启动URL的查询串
	TelegramID  string
}

// Resolver 启动时的会话解析器
// 每次加载只解析一次，解析过后Resolve直接返回当前状态
type Resolver struct {
	client   StatusClient
	resolved bool
	current  navigation.NavState
}

func NewResolver(client StatusClient) *Resolver {
	return &Resolver{client: client}
}

// Current 返回最近一次解析得到的导航状态
func (r *Resolver) Current() navigation.NavState {
	return r.current
}

// Resolve 按优先级解析启动上下文并返回目标导航状态
// 优先级：深链参数 > URL查询串 > 待处理会话；都没有命中时停留在默认页
// 解析失败（网络错误等）不会中断加载，只记录日志并返回默认页
func (r *Resolver) Resolve(ctx context.Context, launch LaunchContext) navigation.NavState {
	if r.resolved {
		return r.current
	}
	r.resolved = true
	r.current = navigation.NavState{Screen: navigation.ScreenDefault}

	sessionID, source := r.pickSession(ctx, launch)
	if sessionID == "" {
		return r.current
	}

	status, err := r.client.GetSessionStatus(ctx, sessionID)
	if err != nil {
		log.Printf("查询会话 %s 状态失败（来源:%s）: %v", sessionID, source, err)
		return r.current
	}

	switch status.Status {
	case model.SessionStatusActive:
		r.current = navigation.NavState{Screen: navigation.ScreenVoting, SessionID: sessionID}
	case model.SessionStatusEndedWithWinner:
		if status.WinningSong == nil {
			// 声称有获胜者却没给出歌曲，按异常响应处理
			log.Printf("会话 %s 状态为有获胜者但未返回歌曲，停留默认页", sessionID)
			break
		}
		r.current = navigation.NavState{
			Screen:    navigation.ScreenWinningSong,
			SessionID: sessionID,
			SongID:    status.WinningSong.ID,
		}
	default:
		// 无获胜者结束或不存在的会话都回到默认页
		log.Printf("会话 %s 状态为 %s，停留默认页", sessionID, status.Status)
	}
	return r.current
}

// pickSession 按优先级挑选会话ID，优先级高的来源命中后不再查后面的
func (r *Resolver) pickSession(ctx context.Context, launch LaunchContext) (string, string) {
	if sessionID, ok := qr.ParseStartParam(launch.StartParam); ok {
		return sessionID, "deeplink"
	}

	if launch.QueryString != "" {
		if state := navigation.Parse(launch.QueryString); state.SessionID != "" {
			return state.SessionID, "url"
		}
	}

	if launch.TelegramID != "" {
		sessionID, found, err := r.client.GetPendingSession(ctx, launch.TelegramID)
		if err != nil {
			log.Printf("查询用户 %s 待处理会话失败: %v", launch.TelegramID, err)
			return "", ""
		}
		if found {
			return sessionID, "pending"
		}
	}

	return "", ""
}
