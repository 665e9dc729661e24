package service

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lvdashuaibi/songvote/config"
	"github.com/lvdashuaibi/songvote/internal/lock"
	"github.com/lvdashuaibi/songvote/internal/model"
	"github.com/lvdashuaibi/songvote/internal/qr"
	"github.com/lvdashuaibi/songvote/internal/repository"
)

const (
	// SessionStartLockName 开始会话的分布式锁，跨实例保证单活跃会话不变式
	SessionStartLockName = "songvote:session:start:lock"

	MinCandidateSongs = 2
)

var (
	// ErrTooFewSongs 候选歌曲不足
	ErrTooFewSongs = errors.New("候选歌曲不能少于2首")
	// ErrStartLockBusy 开始会话锁被占用
	ErrStartLockBusy = errors.New("其他实例正在开始会话，请稍后重试")
)

// SessionStore 会话与投票的持久化存储
type SessionStore interface {
	CreateSession(session *model.VotingSession) error
	GetSession(sessionID string) (*model.VotingSession, error)
	GetActiveSession() (*model.VotingSession, error)
	EndSession(sessionID string, winningSongID string, endedAt time.Time) (bool, error)
	InsertVote(event *model.VoteCastEvent) error
	HasVoted(sessionID, telegramID string) (bool, error)
	CountVoters(sessionID string) (int, error)
	GetVoteCounts(sessionID string) (map[string]int, []string, error)
	GetSessionHistory(page, limit int) ([]*model.SessionSummary, int, error)
	GetSong(songID string) (*model.Song, error)
	GetSongs(songIDs []string) ([]*model.Song, error)
	GetActiveSongs() ([]*model.Song, error)
	UpsertSong(song *model.Song) error
}

// ResultsCache 结果缓存与待处理会话存储
type ResultsCache interface {
	GetCachedResults(sessionID string) (*model.LiveResultsPayload, bool, error)
	SetCachedResults(payload *model.LiveResultsPayload) error
	DeleteCachedResults(sessionID string) error
	SetPendingSession(pending *model.PendingVoteSession) error
	TakePendingSession(telegramID string) (*model.PendingVoteSession, bool, error)
	SetActiveSessionID(sessionID string) error
	GetActiveSessionID() (string, bool, error)
	DeleteActiveSessionID() error
}

// Broadcaster 实时结果推送
type Broadcaster interface {
	BroadcastResults(payload *model.LiveResultsPayload)
	BroadcastSessionEnded(payload *model.SessionEndedPayload)
}

// EventProducer 投票事件生产者
type EventProducer interface {
	SendVoteEvent(event *model.VoteCastEvent) error
}

type VoteService struct {
	store       SessionStore
	cache       ResultsCache
	broadcaster Broadcaster
	producer    EventProducer
	lock        lock.Lock
}

func NewVoteService(
	store SessionStore,
	cache ResultsCache,
	broadcaster Broadcaster,
	producer EventProducer,
	distributedLock lock.Lock,
) *VoteService {
	return &VoteService{
		store:       store,
		cache:       cache,
		broadcaster: broadcaster,
		producer:    producer,
		lock:        distributedLock,
	}
}

// StartSession 开始新的投票会话
// 候选歌曲必须不少于2首且全部存在；跨实例用分布式锁保证单活跃会话
func (s *VoteService) StartSession(songIDs []string) (*model.VotingSession, *model.ShareArtifact, error) {
	// 去重后校验数量
	seen := make(map[string]struct{}, len(songIDs))
	var distinct []string
	for _, id := range songIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		distinct = append(distinct, id)
	}
	if len(distinct) < MinCandidateSongs {
		return nil, nil, ErrTooFewSongs
	}

	// 校验歌曲存在
	if _, err := s.store.GetSongs(distinct); err != nil {
		return nil, nil, fmt.Errorf("校验候选歌曲失败: %w", err)
	}

	// 获取开始会话锁，避免多实例同时创建活跃会话
	acquired, err := s.lock.AcquireLock(SessionStartLockName, config.AppConfig.Lock.Timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("获取开始会话锁失败: %w", err)
	}
	if !acquired {
		return nil, nil, ErrStartLockBusy
	}
	defer func() {
		if err := s.lock.ReleaseLock(SessionStartLockName); err != nil {
			log.Printf("释放开始会话锁失败: %v", err)
		}
	}()

	session := &model.VotingSession{
		ID:        uuid.NewString(),
		IsActive:  true,
		StartedAt: time.Now(),
		SongIDs:   distinct,
	}

	// 数据库层同样校验单活跃会话不变式：已有活跃会话时拒绝，不隐式结束旧会话
	if err := s.store.CreateSession(session); err != nil {
		return nil, nil, err
	}

	if err := s.cache.SetActiveSessionID(session.ID); err != nil {
		log.Printf("缓存活跃会话ID失败: %v", err)
	}

	artifact, err := qr.BuildShareArtifact(
		config.AppConfig.Telegram.BotName,
		config.AppConfig.Telegram.AppName,
		session.ID,
	)
	if err != nil {
		return nil, nil, err
	}

	log.Printf("投票会话 %s 已开始，候选歌曲数: %d", session.ID, len(distinct))
	return session, artifact, nil
}

// GetShareArtifact 为已存在的会话重新生成分享入口（页面刷新后补取）
func (s *VoteService) GetShareArtifact(sessionID string) (*model.ShareArtifact, error) {
	if _, err := s.store.GetSession(sessionID); err != nil {
		return nil, err
	}
	return qr.BuildShareArtifact(
		config.AppConfig.Telegram.BotName,
		config.AppConfig.Telegram.AppName,
		sessionID,
	)
}

// EndSession 结束投票会话，计算获胜歌曲并广播结束事件
// 对已结束的会话返回 repository.ErrSessionEnded
func (s *VoteService) EndSession(sessionID string) (*model.VotingSession, error) {
	session, err := s.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive {
		return session, repository.ErrSessionEnded
	}

	winner, err := s.computeWinner(sessionID)
	if err != nil {
		return nil, err
	}

	winningSongID := ""
	if winner != nil {
		winningSongID = winner.ID
	}

	endedAt := time.Now()
	ended, err := s.store.EndSession(sessionID, winningSongID, endedAt)
	if err != nil {
		return nil, err
	}
	if !ended {
		// 并发结束请求输了竞争，当作已结束处理
		return session, repository.ErrSessionEnded
	}

	session.IsActive = false
	session.EndedAt = &endedAt
	session.WinningSong = winner

	if err := s.cache.DeleteActiveSessionID(); err != nil {
		log.Printf("删除活跃会话ID缓存失败: %v", err)
	}
	if err := s.cache.DeleteCachedResults(sessionID); err != nil {
		log.Printf("删除结果缓存失败: %v", err)
	}

	s.broadcaster.BroadcastSessionEnded(&model.SessionEndedPayload{
		SessionID:   sessionID,
		WinningSong: winner,
	})

	log.Printf("投票会话 %s 已结束，获胜歌曲: %v", sessionID, winningSongID)
	return session, nil
}

// computeWinner 计算票数最高的歌曲，零票会话没有获胜者
// 平票时取展示顺序（orderIndex，其次id）靠前的歌曲
func (s *VoteService) computeWinner(sessionID string) (*model.Song, error) {
	counts, order, err := s.store.GetVoteCounts(sessionID)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, votes := range counts {
		total += votes
	}
	if total == 0 {
		return nil, nil
	}

	songs, err := s.store.GetSongs(order)
	if err != nil {
		return nil, err
	}

	var winner *model.Song
	winnerVotes := -1
	for _, song := range songs {
		votes := counts[song.ID]
		if votes > winnerVotes {
			winner = song
			winnerVotes = votes
			continue
		}
		if votes == winnerVotes && winner != nil {
			if song.OrderIndex < winner.OrderIndex ||
				(song.OrderIndex == winner.OrderIndex && song.ID < winner.ID) {
				winner = song
			}
		}
	}

	return winner, nil
}

// CastVote 为当前活跃会话投票，每个用户一票
// 事件优先走Kafka异步落库；发送失败时退化为同步写库，保证数据一致性
func (s *VoteService) CastVote(telegramID, songID string) (*model.LiveResultsPayload, error) {
	session, err := s.activeSession()
	if err != nil {
		return nil, err
	}

	candidate := false
	for _, id := range session.SongIDs {
		if id == songID {
			candidate = true
			break
		}
	}
	if !candidate {
		return nil, repository.ErrSongNotCandidate
	}

	voted, err := s.store.HasVoted(session.ID, telegramID)
	if err != nil {
		return nil, err
	}
	if voted {
		return nil, repository.ErrAlreadyVoted
	}

	event := &model.VoteCastEvent{
		SessionID:  session.ID,
		SongID:     songID,
		TelegramID: telegramID,
		VotedAt:    time.Now(),
	}

	if s.producer != nil {
		if err := s.producer.SendVoteEvent(event); err != nil {
			log.Printf("发送投票事件到Kafka失败: %v，退化为同步写库", err)
			return s.applyVote(event)
		}
		// 异步链路：立即返回当前结果快照，推送由消费者触发
		return s.ComputeResults(session.ID)
	}

	return s.applyVote(event)
}

// ProcessVoteEvent 处理投票事件（Kafka消费者使用）
func (s *VoteService) ProcessVoteEvent(event *model.VoteCastEvent) error {
	_, err := s.applyVote(event)
	if errors.Is(err, repository.ErrAlreadyVoted) {
		// 重复消费或重复投票，不视为处理失败
		return nil
	}
	return err
}

// applyVote 落库并重算、缓存、广播最新结果
func (s *VoteService) applyVote(event *model.VoteCastEvent) (*model.LiveResultsPayload, error) {
	if err := s.store.InsertVote(event); err != nil {
		return nil, err
	}

	payload, err := s.recomputeResults(event.SessionID)
	if err != nil {
		return nil, err
	}

	s.broadcaster.BroadcastResults(payload)
	return payload, nil
}

// ComputeResults 获取会话当前结果，优先读缓存
func (s *VoteService) ComputeResults(sessionID string) (*model.LiveResultsPayload, error) {
	payload, found, err := s.cache.GetCachedResults(sessionID)
	if err != nil {
		log.Printf("读取结果缓存失败: %v", err)
	}
	if found && payload != nil {
		return payload, nil
	}
	return s.recomputeResults(sessionID)
}

// recomputeResults 从数据库重算结果并更新缓存
func (s *VoteService) recomputeResults(sessionID string) (*model.LiveResultsPayload, error) {
	counts, order, err := s.store.GetVoteCounts(sessionID)
	if err != nil {
		return nil, err
	}

	songs, err := s.store.GetSongs(order)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, votes := range counts {
		total += votes
	}

	payload := &model.LiveResultsPayload{
		SessionID:  sessionID,
		TotalVotes: total,
		Songs:      make([]model.SongResult, 0, len(songs)),
	}

	for _, song := range songs {
		votes := counts[song.ID]
		percentage := 0.0
		if total > 0 {
			percentage = float64(votes) * 100 / float64(total)
		}
		payload.Songs = append(payload.Songs, model.SongResult{
			Song:       *song,
			Votes:      votes,
			Percentage: percentage,
		})
	}

	if err := s.cache.SetCachedResults(payload); err != nil {
		log.Printf("更新结果缓存失败: %v", err)
	}

	return payload, nil
}

// SessionStatus 查询会话状态（公开接口，供Mini App解析深链接后确认去向）
func (s *VoteService) SessionStatus(sessionID string) (*model.SessionStatusResult, error) {
	session, err := s.store.GetSession(sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return &model.SessionStatusResult{Status: model.SessionStatusNotFound}, nil
		}
		return nil, err
	}

	if session.IsActive {
		return &model.SessionStatusResult{Status: model.SessionStatusActive}, nil
	}
	if session.WinningSong != nil {
		return &model.SessionStatusResult{
			Status:      model.SessionStatusEndedWithWinner,
			WinningSong: session.WinningSong,
		}, nil
	}
	return &model.SessionStatusResult{Status: model.SessionStatusEndedNoWinner}, nil
}

// SessionByID 按ID获取会话
func (s *VoteService) SessionByID(sessionID string) (*model.VotingSession, error) {
	return s.store.GetSession(sessionID)
}

// GetActiveSession 获取当前活跃会话，不存在时返回nil
func (s *VoteService) GetActiveSession() (*model.VotingSession, error) {
	session, err := s.activeSession()
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}

// activeSession 先查缓存再查库
func (s *VoteService) activeSession() (*model.VotingSession, error) {
	sessionID, found, err := s.cache.GetActiveSessionID()
	if err != nil {
		log.Printf("读取活跃会话ID缓存失败: %v", err)
	}
	if found {
		session, err := s.store.GetSession(sessionID)
		if err == nil && session.IsActive {
			return session, nil
		}
	}

	session, err := s.store.GetActiveSession()
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetActiveSessionID(session.ID); err != nil {
		log.Printf("缓存活跃会话ID失败: %v", err)
	}
	return session, nil
}

// GetStats 获取会话统计，sessionID为空时取当前活跃会话
func (s *VoteService) GetStats(sessionID string) (*model.SessionStats, error) {
	var session *model.VotingSession
	var err error

	if sessionID == "" {
		session, err = s.activeSession()
	} else {
		session, err = s.store.GetSession(sessionID)
	}
	if err != nil {
		return nil, err
	}

	payload, err := s.ComputeResults(session.ID)
	if err != nil {
		return nil, err
	}

	voters, err := s.store.CountVoters(session.ID)
	if err != nil {
		return nil, err
	}

	return &model.SessionStats{
		SessionID:   session.ID,
		IsActive:    session.IsActive,
		TotalVotes:  payload.TotalVotes,
		TotalVoters: voters,
		Songs:       payload.Songs,
	}, nil
}

// GetHistory 分页获取历史会话
func (s *VoteService) GetHistory(page, limit int) ([]*model.SessionSummary, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}
	return s.store.GetSessionHistory(page, limit)
}

// SetPendingSession Bot观察到 /start vote_<id> 深链接后写入待处理会话
func (s *VoteService) SetPendingSession(telegramID, sessionID string) error {
	if _, err := s.store.GetSession(sessionID); err != nil {
		return err
	}
	return s.cache.SetPendingSession(&model.PendingVoteSession{
		TelegramID: telegramID,
		SessionID:  sessionID,
		CreatedAt:  time.Now(),
	})
}

// TakePendingSession 读取并消费用户的待处理会话
func (s *VoteService) TakePendingSession(telegramID string) (string, bool, error) {
	pending, found, err := s.cache.TakePendingSession(telegramID)
	if err != nil || !found {
		return "", false, err
	}
	return pending.SessionID, true, nil
}

// GetCatalog 获取可投票的歌曲目录
func (s *VoteService) GetCatalog() ([]*model.Song, error) {
	return s.store.GetActiveSongs()
}

// UpsertSong 创建或更新歌曲（管理端CMS）
func (s *VoteService) UpsertSong(song *model.Song) error {
	if song.ID == "" {
		song.ID = uuid.NewString()
	}
	return s.store.UpsertSong(song)
}
