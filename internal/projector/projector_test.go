package projector

import (
	"context"
	"errors"
	"testing"

	"github.com/lvdashuaibi/songvote/internal/model"
)

type fakeClient struct {
	payload     *model.LiveResultsPayload
	resultsErr  error
	catalog     []model.Song
	catalogErr  error
	resultCalls int
}

func (f *fakeClient) GetResults(ctx context.Context, sessionID string) (*model.LiveResultsPayload, error) {
	f.resultCalls++
	if f.resultsErr != nil {
		return nil, f.resultsErr
	}
	return f.payload, nil
}

func (f *fakeClient) GetCatalog(ctx context.Context) ([]model.Song, error) {
	return f.catalog, f.catalogErr
}

func song(id, title string) model.Song {
	return model.Song{ID: id, Title: title}
}

func payloadOf(sessionID string, total int, results ...model.SongResult) *model.LiveResultsPayload {
	return &model.LiveResultsPayload{SessionID: sessionID, Songs: results, TotalVotes: total}
}

func TestLoadSortsByPercentageDesc(t *testing.T) {
	client := &fakeClient{
		payload: payloadOf("s1", 20,
			model.SongResult{Song: song("a", "A"), Votes: 2, Percentage: 10},
			model.SongResult{Song: song("b", "B"), Votes: 11, Percentage: 55},
			model.SongResult{Song: song("c", "C"), Votes: 7, Percentage: 35},
		),
	}
	p := NewProjector(client)
	p.Load(context.Background(), "s1")

	view := p.Current()
	if view.LoadErr != nil {
		t.Fatalf("加载不应失败: %v", view.LoadErr)
	}
	got := []float64{view.Songs[0].Percentage, view.Songs[1].Percentage, view.Songs[2].Percentage}
	want := []float64{55, 35, 10}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("排序后比例 = %v, want %v", got, want)
		}
	}
}

func TestSortIsStableForTies(t *testing.T) {
	// 相同比例保持服务端给出的顺序
	p := NewProjector(&fakeClient{})
	p.ApplyLive(payloadOf("", 4,
		model.SongResult{Song: song("a", "A"), Votes: 1, Percentage: 25},
		model.SongResult{Song: song("b", "B"), Votes: 1, Percentage: 25},
		model.SongResult{Song: song("c", "C"), Votes: 2, Percentage: 50},
	))

	view := p.Current()
	if view.Songs[0].Song.ID != "c" || view.Songs[1].Song.ID != "a" || view.Songs[2].Song.ID != "b" {
		t.Fatalf("平票顺序错误: %s %s %s",
			view.Songs[0].Song.ID, view.Songs[1].Song.ID, view.Songs[2].Song.ID)
	}
}

func TestLiveWinsOverLateSnapshot(t *testing.T) {
	client := &fakeClient{
		payload: payloadOf("s1", 1,
			model.SongResult{Song: song("a", "A"), Votes: 1, Percentage: 100},
		),
	}
	p := NewProjector(client)

	// 实时推送先到
	p.ApplyLive(payloadOf("s1", 5,
		model.SongResult{Song: song("a", "A"), Votes: 5, Percentage: 100},
	))

	// 迟到的快照不应覆盖实时数据
	p.Load(context.Background(), "s1")

	view := p.Current()
	if view.TotalVotes != 5 {
		t.Fatalf("迟到的快照覆盖了实时数据，总票数 = %d, want 5", view.TotalVotes)
	}
}

func TestLiveWinsOverLateSnapshotError(t *testing.T) {
	client := &fakeClient{resultsErr: errors.New("网络错误")}
	p := NewProjector(client)

	// 实时推送先到
	p.ApplyLive(payloadOf("s1", 5,
		model.SongResult{Song: song("a", "A"), Votes: 5, Percentage: 100},
	))

	// 迟到的快照失败同样不应覆盖实时数据
	p.Load(context.Background(), "s1")

	view := p.Current()
	if view.LoadErr != nil {
		t.Fatalf("快照失败不应覆盖实时视图: %v", view.LoadErr)
	}
	if view.TotalVotes != 5 {
		t.Fatalf("快照失败后总票数 = %d, want 5", view.TotalVotes)
	}
}

func TestEmptyLivePayloadDoesNotArmGuard(t *testing.T) {
	client := &fakeClient{
		payload: payloadOf("s1", 3,
			model.SongResult{Song: song("a", "A"), Votes: 3, Percentage: 100},
		),
	}
	p := NewProjector(client)

	// 空推送不应触发实时优先保护
	p.ApplyLive(payloadOf("s1", 0))
	p.Load(context.Background(), "s1")

	view := p.Current()
	if view.TotalVotes != 3 {
		t.Fatalf("空推送后快照应正常应用，总票数 = %d, want 3", view.TotalVotes)
	}
}

func TestRefreshBypassesLiveGuard(t *testing.T) {
	client := &fakeClient{
		payload: payloadOf("s1", 9,
			model.SongResult{Song: song("a", "A"), Votes: 9, Percentage: 100},
		),
	}
	p := NewProjector(client)

	p.ApplyLive(payloadOf("s1", 5,
		model.SongResult{Song: song("a", "A"), Votes: 5, Percentage: 100},
	))

	// 手动刷新强制覆盖
	if err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("刷新失败: %v", err)
	}
	view := p.Current()
	if view.TotalVotes != 9 {
		t.Fatalf("手动刷新后总票数 = %d, want 9", view.TotalVotes)
	}
}

func TestLoadErrorIsRetryable(t *testing.T) {
	client := &fakeClient{resultsErr: errors.New("网络错误")}
	p := NewProjector(client)
	p.Load(context.Background(), "s1")

	if p.Current().LoadErr == nil {
		t.Fatal("加载失败应记录错误")
	}

	// 错误恢复后刷新成功
	client.resultsErr = nil
	client.payload = payloadOf("s1", 2,
		model.SongResult{Song: song("a", "A"), Votes: 2, Percentage: 100},
	)
	if err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("重试失败: %v", err)
	}
	view := p.Current()
	if view.LoadErr != nil || view.TotalVotes != 2 {
		t.Fatalf("重试后视图 = %+v", view)
	}
}

func TestApplyLiveIgnoresOtherSession(t *testing.T) {
	p := NewProjector(&fakeClient{})
	p.mu.Lock()
	p.sessionID = "s1"
	p.mu.Unlock()

	p.ApplyLive(payloadOf("s2", 7,
		model.SongResult{Song: song("a", "A"), Votes: 7, Percentage: 100},
	))
	if p.Current().TotalVotes != 0 {
		t.Fatal("其他会话的推送不应被应用")
	}
}

func TestOnUpdateFires(t *testing.T) {
	p := NewProjector(&fakeClient{})
	var updates int
	p.OnUpdate = func(View) { updates++ }

	p.ApplyLive(payloadOf("", 1,
		model.SongResult{Song: song("a", "A"), Votes: 1, Percentage: 100},
	))
	if updates != 1 {
		t.Fatalf("更新回调触发次数 = %d, want 1", updates)
	}
}
