package navigation

import (
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  NavState
	}{
		{
			name:  "投票屏幕",
			query: "screen=voting&sessionId=abc",
			want:  NavState{Screen: ScreenVoting, SessionID: "abc"},
		},
		{
			name:  "结果屏幕",
			query: "screen=results&sessionId=abc",
			want:  NavState{Screen: ScreenResults, SessionID: "abc"},
		},
		{
			name:  "获胜歌曲屏幕",
			query: "screen=winning-song&songId=w1&sessionId=abc",
			want:  NavState{Screen: ScreenWinningSong, SessionID: "abc", SongID: "w1"},
		},
		{
			name:  "空查询串",
			query: "",
			want:  NavState{},
		},
		{
			name:  "未知屏幕回到默认",
			query: "screen=profile&sessionId=abc",
			want:  NavState{Screen: ScreenDefault, SessionID: "abc"},
		},
		{
			name:  "缺少screen参数",
			query: "sessionId=abc",
			want:  NavState{Screen: ScreenDefault, SessionID: "abc"},
		},
		{
			name:  "非法查询串",
			query: "%zz=1;screen=voting",
			want:  NavState{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.query)
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.query, got, tt.want)
			}
		})
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		state NavState
	}{
		{"投票屏幕", NavState{Screen: ScreenVoting, SessionID: "s1"}},
		{"结果屏幕", NavState{Screen: ScreenResults, SessionID: "s1"}},
		{"获胜歌曲屏幕", NavState{Screen: ScreenWinningSong, SessionID: "s1", SongID: "w1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.state.Serialize())
			if got != tt.state {
				t.Errorf("Parse(Serialize()) = %+v, want %+v", got, tt.state)
			}
		})
	}
}

func TestSerializeDefault(t *testing.T) {
	// 默认屏幕序列化为空串
	state := NavState{Screen: ScreenDefault, SessionID: "s1"}
	if got := state.Serialize(); got != "" {
		t.Errorf("Serialize() = %q, want 空串", got)
	}
}

func TestSerializeSongIDOnlyForWinningSong(t *testing.T) {
	// songId只在获胜歌曲屏幕下出现
	state := NavState{Screen: ScreenVoting, SessionID: "s1", SongID: "w1"}
	got := Parse(state.Serialize())
	if got.SongID != "" {
		t.Errorf("投票屏幕序列化后不应携带songId，实际: %q", got.SongID)
	}
}

func TestRequiresLiveChannel(t *testing.T) {
	tests := []struct {
		screen Screen
		want   bool
	}{
		{ScreenVoting, true},
		{ScreenResults, true},
		{ScreenWinningSong, false},
		{ScreenDefault, false},
	}

	for _, tt := range tests {
		state := NavState{Screen: tt.screen}
		if got := state.RequiresLiveChannel(); got != tt.want {
			t.Errorf("RequiresLiveChannel(%q) = %v, want %v", tt.screen, got, tt.want)
		}
	}
}
