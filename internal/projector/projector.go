package projector

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/lvdashuaibi/songvote/internal/model"
)

// ResultsClient 结果与目录的查询接口
type ResultsClient interface {
	GetResults(ctx context.Context, sessionID string) (*model.LiveResultsPayload, error)
	GetCatalog(ctx context.Context) ([]model.Song, error)
}

// View 投影后的展示快照
type View struct {
	SessionID  string
	Songs      []model.SongResult
	Catalog    []model.Song // 全量歌曲目录，用于候选展示
	TotalVotes int
	LoadErr    error // 非空表示加载失败，可重试
}

// Projector 实时结果投影器
// 实时推送优先于REST快照：收到过一次非空推送后，迟到的REST响应直接丢弃，
// 避免旧快照覆盖新数据。手动刷新不受此限制。
type Projector struct {
	client ResultsClient

	mu         sync.Mutex
	sessionID  string
	songs      []model.SongResult
	catalog    []model.Song
	totalVotes int
	liveSeen   bool
	loadErr    error

	// OnUpdate 投影更新回调
	OnUpdate func(View)
}

func NewProjector(client ResultsClient) *Projector {
	return &Projector{client: client}
}

// Load 加载会话的初始快照，目录和结果并发拉取
// REST结果到达时如果已有实时推送则放弃应用
func (p *Projector) Load(ctx context.Context, sessionID string) {
	p.mu.Lock()
	p.sessionID = sessionID
	p.mu.Unlock()

	var wg sync.WaitGroup
	var payload *model.LiveResultsPayload
	var catalog []model.Song
	var resultsErr, catalogErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		payload, resultsErr = p.client.GetResults(ctx, sessionID)
	}()
	go func() {
		defer wg.Done()
		catalog, catalogErr = p.client.GetCatalog(ctx)
	}()
	wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	if catalogErr != nil {
		// 目录拉取失败不阻断结果展示
		log.Printf("拉取歌曲目录失败: %v", catalogErr)
	} else {
		p.catalog = catalog
	}

	if resultsErr != nil {
		if p.liveSeen {
			// 实时推送已是权威来源，迟到的快照失败不改变视图
			log.Printf("已收到实时推送，丢弃迟到的快照错误: %v", resultsErr)
			return
		}
		p.loadErr = resultsErr
		p.notifyLocked()
		return
	}
	p.applyLocked(payload, false)
}

// ApplyLive 应用一次实时推送
// 空载荷（无歌曲）不触发实时优先标记
func (p *Projector) ApplyLive(payload *model.LiveResultsPayload) {
	if payload == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sessionID != "" && payload.SessionID != p.sessionID {
		log.Printf("忽略其他会话 %s 的结果推送", payload.SessionID)
		return
	}
	p.applyLocked(payload, true)
}

// Refresh 手动刷新，强制用REST快照覆盖当前投影
func (p *Projector) Refresh(ctx context.Context) error {
	p.mu.Lock()
	sessionID := p.sessionID
	p.mu.Unlock()

	payload, err := p.client.GetResults(ctx, sessionID)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.loadErr = err
		p.notifyLocked()
		return err
	}
	// 手动刷新绕过实时优先保护
	p.liveSeen = false
	p.applyLocked(payload, false)
	return nil
}

// Current 返回当前投影快照
func (p *Projector) Current() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewLocked()
}

// applyLocked 持锁调用，live为true表示来自实时推送
func (p *Projector) applyLocked(payload *model.LiveResultsPayload, live bool) {
	if !live && p.liveSeen {
		log.Printf("已收到实时推送，丢弃迟到的快照响应")
		return
	}
	if live && len(payload.Songs) > 0 {
		p.liveSeen = true
	}

	songs := make([]model.SongResult, len(payload.Songs))
	copy(songs, payload.Songs)
	// 按得票比例降序，相同比例保持服务端给出的目录顺序
	sort.SliceStable(songs, func(i, j int) bool {
		return songs[i].Percentage > songs[j].Percentage
	})

	p.songs = songs
	p.totalVotes = payload.TotalVotes
	p.loadErr = nil
	p.notifyLocked()
}

func (p *Projector) viewLocked() View {
	songs := make([]model.SongResult, len(p.songs))
	copy(songs, p.songs)
	return View{
		SessionID:  p.sessionID,
		Songs:      songs,
		Catalog:    p.catalog,
		TotalVotes: p.totalVotes,
		LoadErr:    p.loadErr,
	}
}

func (p *Projector) notifyLocked() {
	if p.OnUpdate != nil {
		p.OnUpdate(p.viewLocked())
	}
}
