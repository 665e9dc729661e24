package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lvdashuaibi/songvote/config"
	"github.com/lvdashuaibi/songvote/internal/model"
)

var (
	// ErrSessionNotFound 会话不存在
	ErrSessionNotFound = errors.New("投票会话不存在")
	// ErrSessionEnded 会话已结束
	ErrSessionEnded = errors.New("投票会话已结束")
	// ErrAlreadyVoted 用户在当前会话中已投过票
	ErrAlreadyVoted = errors.New("用户在当前会话中已投过票")
	// ErrActiveSessionExists 已存在活跃会话
	ErrActiveSessionExists = errors.New("已存在活跃的投票会话")
	// ErrSongNotFound 歌曲不存在
	ErrSongNotFound = errors.New("歌曲不存在")
	// ErrSongNotCandidate 歌曲不在当前会话候选列表中
	ErrSongNotCandidate = errors.New("歌曲不在当前会话候选列表中")
)

type MySQLRepository struct {
	masterDB *sql.DB
	slaveDB  *sql.DB
}

func NewMySQLRepository() (*MySQLRepository, error) {
	masterDB, err := sql.Open("mysql", config.AppConfig.MySQL.Master)
	if err != nil {
		return nil, fmt.Errorf("连接主数据库失败: %w", err)
	}

	masterDB.SetMaxOpenConns(config.AppConfig.MySQL.MaxOpenConns)
	masterDB.SetMaxIdleConns(config.AppConfig.MySQL.MaxIdleConns)
	masterDB.SetConnMaxLifetime(time.Hour)

	if err = masterDB.Ping(); err != nil {
		return nil, fmt.Errorf("主数据库连接测试失败: %w", err)
	}

	slaveDB, err := sql.Open("mysql", config.AppConfig.MySQL.Slave)
	if err != nil {
		return nil, fmt.Errorf("连接从数据库失败: %w", err)
	}

	slaveDB.SetMaxOpenConns(config.AppConfig.MySQL.MaxOpenConns)
	slaveDB.SetMaxIdleConns(config.AppConfig.MySQL.MaxIdleConns)
	slaveDB.SetConnMaxLifetime(time.Hour)

	if err = slaveDB.Ping(); err != nil {
		log.Printf("从数据库连接测试失败: %v，将使用主数据库代替", err)
		slaveDB = masterDB
	}

	repo := &MySQLRepository{
		masterDB: masterDB,
		slaveDB:  slaveDB,
	}

	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("初始化数据库表失败: %w", err)
	}

	return repo, nil
}

// initSchema 创建数据库表（幂等）
func (r *MySQLRepository) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS songs (
			id VARCHAR(64) PRIMARY KEY,
			title VARCHAR(255) NOT NULL,
			artist VARCHAR(255) NOT NULL,
			cover_url VARCHAR(512) NOT NULL DEFAULT '',
			is_active TINYINT(1) NOT NULL DEFAULT 1,
			order_index INT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS vote_sessions (
			id VARCHAR(64) PRIMARY KEY,
			is_active TINYINT(1) NOT NULL DEFAULT 1,
			started_at DATETIME NOT NULL,
			ended_at DATETIME NULL,
			winning_song_id VARCHAR(64) NULL,
			KEY idx_sessions_active (is_active),
			KEY idx_sessions_started (started_at)
		)`,
		`CREATE TABLE IF NOT EXISTS session_songs (
			session_id VARCHAR(64) NOT NULL,
			song_id VARCHAR(64) NOT NULL,
			position INT NOT NULL DEFAULT 0,
			PRIMARY KEY (session_id, song_id)
		)`,
		`CREATE TABLE IF NOT EXISTS votes (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			session_id VARCHAR(64) NOT NULL,
			song_id VARCHAR(64) NOT NULL,
			telegram_id VARCHAR(64) NOT NULL,
			voted_at DATETIME NOT NULL,
			UNIQUE KEY uniq_vote_per_voter (session_id, telegram_id),
			KEY idx_votes_session_song (session_id, song_id)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := r.masterDB.Exec(stmt); err != nil {
			return fmt.Errorf("执行建表语句失败: %w", err)
		}
	}
	return nil
}

// CreateSession 创建新的投票会话及其候选歌曲
func (r *MySQLRepository) CreateSession(session *model.VotingSession) error {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}

	// 同一时刻最多只允许一个活跃会话
	var activeCount int
	if err := tx.QueryRow("SELECT COUNT(*) FROM vote_sessions WHERE is_active = 1").Scan(&activeCount); err != nil {
		tx.Rollback()
		return fmt.Errorf("检查活跃会话失败: %w", err)
	}
	if activeCount > 0 {
		tx.Rollback()
		return ErrActiveSessionExists
	}

	_, err = tx.Exec(
		"INSERT INTO vote_sessions (id, is_active, started_at) VALUES (?, 1, ?)",
		session.ID, session.StartedAt,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("创建投票会话失败: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO session_songs (session_id, song_id, position) VALUES (?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("准备候选歌曲语句失败: %w", err)
	}
	defer stmt.Close()

	for i, songID := range session.SongIDs {
		if _, err := stmt.Exec(session.ID, songID, i); err != nil {
			tx.Rollback()
			return fmt.Errorf("写入候选歌曲 %s 失败: %w", songID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}

	return nil
}

// GetSession 获取投票会话
func (r *MySQLRepository) GetSession(sessionID string) (*model.VotingSession, error) {
	query := `SELECT id, is_active, started_at, ended_at, winning_song_id
			 FROM vote_sessions WHERE id = ?`

	var session model.VotingSession
	var endedAt sql.NullTime
	var winningSongID sql.NullString

	err := r.slaveDB.QueryRow(query, sessionID).Scan(
		&session.ID, &session.IsActive, &session.StartedAt, &endedAt, &winningSongID,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("查询投票会话失败: %w", err)
	}

	if endedAt.Valid {
		session.EndedAt = &endedAt.Time
	}

	// 候选歌曲按入会话时的顺序返回
	rows, err := r.slaveDB.Query(
		"SELECT song_id FROM session_songs WHERE session_id = ? ORDER BY position", sessionID)
	if err != nil {
		return nil, fmt.Errorf("查询候选歌曲失败: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var songID string
		if err := rows.Scan(&songID); err != nil {
			return nil, fmt.Errorf("扫描候选歌曲失败: %w", err)
		}
		session.SongIDs = append(session.SongIDs, songID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代候选歌曲失败: %w", err)
	}

	if winningSongID.Valid {
		song, err := r.GetSong(winningSongID.String)
		if err != nil {
			return nil, fmt.Errorf("查询获胜歌曲失败: %w", err)
		}
		session.WinningSong = song
	}

	session.TotalVoters, err = r.CountVoters(sessionID)
	if err != nil {
		return nil, err
	}

	return &session, nil
}

// GetActiveSession 获取当前活跃会话，不存在时返回 ErrSessionNotFound
func (r *MySQLRepository) GetActiveSession() (*model.VotingSession, error) {
	var sessionID string
	err := r.slaveDB.QueryRow(
		"SELECT id FROM vote_sessions WHERE is_active = 1 ORDER BY started_at DESC LIMIT 1").Scan(&sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("查询活跃会话失败: %w", err)
	}
	return r.GetSession(sessionID)
}

// EndSession 结束投票会话并记录获胜歌曲，对已结束的会话是幂等的
func (r *MySQLRepository) EndSession(sessionID string, winningSongID string, endedAt time.Time) (bool, error) {
	var winning interface{}
	if winningSongID != "" {
		winning = winningSongID
	}

	result, err := r.masterDB.Exec(
		"UPDATE vote_sessions SET is_active = 0, ended_at = ?, winning_song_id = ? WHERE id = ? AND is_active = 1",
		endedAt, winning, sessionID,
	)
	if err != nil {
		return false, fmt.Errorf("结束投票会话失败: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("获取更新结果失败: %w", err)
	}

	// rowsAffected为0说明会话不存在或已结束
	return rowsAffected > 0, nil
}

// InsertVote 写入一票，唯一键保证每个用户每会话只能投一次
func (r *MySQLRepository) InsertVote(event *model.VoteCastEvent) error {
	// 校验歌曲确实是该会话的候选
	var exists int
	err := r.masterDB.QueryRow(
		"SELECT COUNT(*) FROM session_songs WHERE session_id = ? AND song_id = ?",
		event.SessionID, event.SongID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("校验候选歌曲失败: %w", err)
	}
	if exists == 0 {
		return ErrSongNotCandidate
	}

	_, err = r.masterDB.Exec(
		"INSERT INTO votes (session_id, song_id, telegram_id, voted_at) VALUES (?, ?, ?, ?)",
		event.SessionID, event.SongID, event.TelegramID, event.VotedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrAlreadyVoted
		}
		return fmt.Errorf("写入投票记录失败: %w", err)
	}

	return nil
}

// HasVoted 查询用户是否已在会话中投票
func (r *MySQLRepository) HasVoted(sessionID, telegramID string) (bool, error) {
	var count int
	err := r.slaveDB.QueryRow(
		"SELECT COUNT(*) FROM votes WHERE session_id = ? AND telegram_id = ?",
		sessionID, telegramID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("查询投票记录失败: %w", err)
	}
	return count > 0, nil
}

// CountVoters 统计会话中投过票的用户数
func (r *MySQLRepository) CountVoters(sessionID string) (int, error) {
	var count int
	err := r.slaveDB.QueryRow(
		"SELECT COUNT(DISTINCT telegram_id) FROM votes WHERE session_id = ?", sessionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("统计投票人数失败: %w", err)
	}
	return count, nil
}

// GetVoteCounts 获取会话中每首候选歌曲的票数，按候选顺序返回
func (r *MySQLRepository) GetVoteCounts(sessionID string) (map[string]int, []string, error) {
	rows, err := r.slaveDB.Query(
		`SELECT ss.song_id, COUNT(v.id)
		 FROM session_songs ss
		 LEFT JOIN votes v ON v.session_id = ss.session_id AND v.song_id = ss.song_id
		 WHERE ss.session_id = ?
		 GROUP BY ss.song_id, ss.position
		 ORDER BY ss.position`, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("查询票数统计失败: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	var order []string
	for rows.Next() {
		var songID string
		var votes int
		if err := rows.Scan(&songID, &votes); err != nil {
			return nil, nil, fmt.Errorf("扫描票数统计失败: %w", err)
		}
		counts[songID] = votes
		order = append(order, songID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("迭代票数统计失败: %w", err)
	}

	if len(order) == 0 {
		return nil, nil, ErrSessionNotFound
	}

	return counts, order, nil
}

// GetSessionHistory 分页查询已结束的会话，按结束时间倒序
func (r *MySQLRepository) GetSessionHistory(page, limit int) ([]*model.SessionSummary, int, error) {
	var total int
	if err := r.slaveDB.QueryRow(
		"SELECT COUNT(*) FROM vote_sessions WHERE is_active = 0").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("统计历史会话数量失败: %w", err)
	}

	offset := (page - 1) * limit
	rows, err := r.slaveDB.Query(
		`SELECT s.id, s.started_at, s.ended_at, s.winning_song_id,
			(SELECT COUNT(DISTINCT v.telegram_id) FROM votes v WHERE v.session_id = s.id)
		 FROM vote_sessions s
		 WHERE s.is_active = 0
		 ORDER BY s.ended_at DESC
		 LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("查询历史会话失败: %w", err)
	}
	defer rows.Close()

	var summaries []*model.SessionSummary
	for rows.Next() {
		var summary model.SessionSummary
		var endedAt sql.NullTime
		var winningSongID sql.NullString
		if err := rows.Scan(&summary.ID, &summary.StartedAt, &endedAt, &winningSongID, &summary.TotalVoters); err != nil {
			return nil, 0, fmt.Errorf("扫描历史会话失败: %w", err)
		}
		if endedAt.Valid {
			summary.EndedAt = &endedAt.Time
		}
		if winningSongID.Valid {
			song, err := r.GetSong(winningSongID.String)
			if err == nil {
				summary.WinningSong = song
			}
		}
		summaries = append(summaries, &summary)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("迭代历史会话失败: %w", err)
	}

	return summaries, total, nil
}

// GetSong 获取歌曲
func (r *MySQLRepository) GetSong(songID string) (*model.Song, error) {
	query := "SELECT id, title, artist, cover_url, is_active, order_index FROM songs WHERE id = ?"

	var song model.Song
	err := r.slaveDB.QueryRow(query, songID).Scan(
		&song.ID, &song.Title, &song.Artist, &song.CoverURL, &song.IsActive, &song.OrderIndex,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSongNotFound
		}
		return nil, fmt.Errorf("查询歌曲失败: %w", err)
	}

	return &song, nil
}

// GetSongs 批量获取歌曲，保持传入的顺序
func (r *MySQLRepository) GetSongs(songIDs []string) ([]*model.Song, error) {
	songs := make([]*model.Song, 0, len(songIDs))
	for _, id := range songIDs {
		song, err := r.GetSong(id)
		if err != nil {
			return nil, err
		}
		songs = append(songs, song)
	}
	return songs, nil
}

// UpsertSong 创建或更新歌曲（管理端CMS使用）
func (r *MySQLRepository) UpsertSong(song *model.Song) error {
	query := `INSERT INTO songs (id, title, artist, cover_url, is_active, order_index)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE
			 title = VALUES(title),
			 artist = VALUES(artist),
			 cover_url = VALUES(cover_url),
			 is_active = VALUES(is_active),
			 order_index = VALUES(order_index)`

	_, err := r.masterDB.Exec(query,
		song.ID, song.Title, song.Artist, song.CoverURL, song.IsActive, song.OrderIndex,
	)
	if err != nil {
		return fmt.Errorf("保存歌曲失败: %w", err)
	}
	return nil
}

// GetActiveSongs 获取所有可参与投票的歌曲，按展示顺序返回
func (r *MySQLRepository) GetActiveSongs() ([]*model.Song, error) {
	rows, err := r.slaveDB.Query(
		"SELECT id, title, artist, cover_url, is_active, order_index FROM songs WHERE is_active = 1 ORDER BY order_index, id")
	if err != nil {
		return nil, fmt.Errorf("查询歌曲列表失败: %w", err)
	}
	defer rows.Close()

	var songs []*model.Song
	for rows.Next() {
		var song model.Song
		if err := rows.Scan(&song.ID, &song.Title, &song.Artist, &song.CoverURL, &song.IsActive, &song.OrderIndex); err != nil {
			return nil, fmt.Errorf("扫描歌曲失败: %w", err)
		}
		songs = append(songs, &song)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代歌曲失败: %w", err)
	}

	return songs, nil
}

// Close 关闭数据库连接
func (r *MySQLRepository) Close() error {
	if r.slaveDB != r.masterDB {
		r.slaveDB.Close()
	}
	return r.masterDB.Close()
}

// isDuplicateKeyError 判断是否为唯一键冲突（MySQL错误码1062）
func isDuplicateKeyError(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
