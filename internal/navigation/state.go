package navigation

import (
	"net/url"
)

// Screen Mini App内部导航的目标屏幕
// 查询字符串是唯一的路由载体，这里把它当作NavState的序列化格式处理
type Screen string

const (
	// ScreenDefault 默认（非投票）屏幕
	ScreenDefault Screen = ""
	// ScreenVoting 投票（选票）屏幕
	ScreenVoting Screen = "voting"
	// ScreenResults 实时结果屏幕
	ScreenResults Screen = "results"
	// ScreenWinningSong 获胜歌曲展示屏幕
	ScreenWinningSong Screen = "winning-song"
)

// NavState 类型化的导航状态
type NavState struct {
	Screen    Screen
	SessionID string
	SongID    string
}

// Parse 从查询字符串解析导航状态，无法识别的screen一律回到默认屏幕
func Parse(queryString string) NavState {
	values, err := url.ParseQuery(queryString)
	if err != nil {
		return NavState{}
	}

	state := NavState{
		SessionID: values.Get("sessionId"),
		SongID:    values.Get("songId"),
	}

	switch Screen(values.Get("screen")) {
	case ScreenVoting:
		state.Screen = ScreenVoting
	case ScreenResults:
		state.Screen = ScreenResults
	case ScreenWinningSong:
		state.Screen = ScreenWinningSong
	default:
		state.Screen = ScreenDefault
	}

	return state
}

// Serialize 把导航状态编码回查询字符串，默认屏幕序列化为空
func (n NavState) Serialize() string {
	if n.Screen == ScreenDefault {
		return ""
	}

	values := url.Values{}
	values.Set("screen", string(n.Screen))
	if n.Screen == ScreenWinningSong && n.SongID != "" {
		values.Set("songId", n.SongID)
	}
	if n.SessionID != "" {
		values.Set("sessionId", n.SessionID)
	}
	return values.Encode()
}

// RequiresLiveChannel 是否为需要实时推送通道的屏幕
func (n NavState) RequiresLiveChannel() bool {
	return n.Screen == ScreenVoting || n.Screen == ScreenResults
}
