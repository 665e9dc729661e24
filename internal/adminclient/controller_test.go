package adminclient

import (
	"context"
	"errors"
	"testing"

	"github.com/lvdashuaibi/songvote/internal/model"
	"github.com/lvdashuaibi/songvote/internal/restclient"
)

type fakeAPI struct {
	startCalls   int
	startSongIDs []string
	endCalls     int
	endErr       error
	activeErr    error
	statsErr     error
	historyErr   error
}

func (f *fakeAPI) StartSession(ctx context.Context, songIDs []string) (*restclient.StartSessionResult, error) {
	f.startCalls++
	f.startSongIDs = songIDs
	return &restclient.StartSessionResult{
		Session:  &model.VotingSession{ID: "s1", IsActive: true, SongIDs: songIDs},
		Artifact: &model.ShareArtifact{SessionID: "s1", DeepLink: "https://t.me/bot/app?startapp=vote_s1"},
	}, nil
}

func (f *fakeAPI) EndSession(ctx context.Context, sessionID string) (*model.VotingSession, error) {
	f.endCalls++
	if f.endErr != nil {
		return nil, f.endErr
	}
	return &model.VotingSession{ID: sessionID}, nil
}

func (f *fakeAPI) GetActiveSession(ctx context.Context) (*model.VotingSession, error) {
	if f.activeErr != nil {
		return nil, f.activeErr
	}
	return &model.VotingSession{ID: "s1", IsActive: true}, nil
}

func (f *fakeAPI) GetShareArtifact(ctx context.Context, sessionID string) (*model.ShareArtifact, error) {
	return &model.ShareArtifact{SessionID: sessionID}, nil
}

func (f *fakeAPI) GetStats(ctx context.Context, sessionID string) (*model.SessionStats, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return &model.SessionStats{SessionID: sessionID, TotalVotes: 10}, nil
}

func (f *fakeAPI) GetHistory(ctx context.Context, page, limit int) (*restclient.HistoryPage, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return &restclient.HistoryPage{
		Sessions: []*model.SessionSummary{{ID: "s0"}},
		Total:    1, Page: page, Limit: limit,
	}, nil
}

func alwaysConfirm(string) bool { return true }
func neverConfirm(string) bool  { return false }

func TestStartSessionRejectsTooFewSongs(t *testing.T) {
	tests := []struct {
		name    string
		songIDs []string
	}{
		{"空列表", nil},
		{"只有一首", []string{"a"}},
		{"两首但重复", []string{"a", "a"}},
		{"重复加空串", []string{"a", "", "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{}
			c := NewController(api, alwaysConfirm)

			_, err := c.StartSession(context.Background(), tt.songIDs)
			if !errors.Is(err, ErrTooFewSongs) {
				t.Errorf("err = %v, want ErrTooFewSongs", err)
			}
			// 校验失败时不应发起任何网络请求
			if api.startCalls != 0 {
				t.Errorf("网络请求次数 = %d, want 0", api.startCalls)
			}
		})
	}
}

func TestStartSessionDedupes(t *testing.T) {
	api := &fakeAPI{}
	c := NewController(api, alwaysConfirm)

	result, err := c.StartSession(context.Background(), []string{"a", "b", "a", "c"})
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if len(api.startSongIDs) != 3 {
		t.Errorf("去重后歌曲数 = %d, want 3", len(api.startSongIDs))
	}
	if result.Session.ID != "s1" {
		t.Errorf("会话ID = %q, want s1", result.Session.ID)
	}
}

func TestEndSessionRequiresConfirmation(t *testing.T) {
	api := &fakeAPI{}
	c := NewController(api, neverConfirm)

	_, err := c.EndSession(context.Background(), "s1")
	if !errors.Is(err, ErrNotConfirmed) {
		t.Errorf("err = %v, want ErrNotConfirmed", err)
	}
	if api.endCalls != 0 {
		t.Errorf("未确认时不应发起请求，实际次数 = %d", api.endCalls)
	}

	// 没有确认回调等同拒绝
	c2 := NewController(api, nil)
	if _, err := c2.EndSession(context.Background(), "s1"); !errors.Is(err, ErrNotConfirmed) {
		t.Errorf("err = %v, want ErrNotConfirmed", err)
	}
}

func TestEndSessionTwice(t *testing.T) {
	api := &fakeAPI{endErr: restclient.ErrSessionEnded}
	c := NewController(api, alwaysConfirm)

	_, err := c.EndSession(context.Background(), "s1")
	if !errors.Is(err, ErrSessionAlreadyEnded) {
		t.Errorf("重复结束 err = %v, want ErrSessionAlreadyEnded", err)
	}
}

func TestReadsDegradeOnFailure(t *testing.T) {
	api := &fakeAPI{
		activeErr:  errors.New("网络错误"),
		statsErr:   errors.New("网络错误"),
		historyErr: errors.New("网络错误"),
	}
	c := NewController(api, alwaysConfirm)
	ctx := context.Background()

	if session := c.ActiveSession(ctx); session != nil {
		t.Errorf("查询失败应降级为无会话，实际: %+v", session)
	}

	stats := c.Stats(ctx, "s1")
	if stats == nil || stats.TotalVotes != 0 {
		t.Errorf("统计查询失败应降级为零值，实际: %+v", stats)
	}

	history := c.History(ctx, 1, 10)
	if history == nil || len(history.Sessions) != 0 {
		t.Errorf("历史查询失败应降级为空列表，实际: %+v", history)
	}
}

func TestReadsSucceed(t *testing.T) {
	api := &fakeAPI{}
	c := NewController(api, alwaysConfirm)
	ctx := context.Background()

	if session := c.ActiveSession(ctx); session == nil || session.ID != "s1" {
		t.Errorf("活跃会话 = %+v, want s1", session)
	}
	if stats := c.Stats(ctx, "s1"); stats.TotalVotes != 10 {
		t.Errorf("总票数 = %d, want 10", stats.TotalVotes)
	}
	if history := c.History(ctx, 2, 5); history.Total != 1 || history.Page != 2 {
		t.Errorf("历史分页 = %+v", history)
	}
}
