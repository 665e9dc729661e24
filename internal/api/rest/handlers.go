package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lvdashuaibi/songvote/internal/model"
	"github.com/lvdashuaibi/songvote/internal/repository"
	"github.com/lvdashuaibi/songvote/internal/service"
)

// handleSessionStatus GET /api/public/vote/session/:sessionId
func (s *Server) handleSessionStatus(c *gin.Context) {
	result, err := s.voteService.SessionStatus(c.Param("sessionId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.APIResponse{
			Success: false, Message: "查询会话状态失败",
		})
		return
	}
	c.JSON(http.StatusOK, model.APIResponse{Success: true, Data: result})
}

// handlePendingLookup GET /api/public/vote/pending/:telegramId
// 读取即消费：同一个待处理会话只会被返回一次
func (s *Server) handlePendingLookup(c *gin.Context) {
	sessionID, found, err := s.voteService.TakePendingSession(c.Param("telegramId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.APIResponse{
			Success: false, Message: "查询待处理会话失败",
		})
		return
	}

	data := gin.H{}
	if found {
		data["sessionId"] = sessionID
	}
	c.JSON(http.StatusOK, model.APIResponse{Success: true, Data: data})
}

// handleResults GET /api/votes/results[?sessionId=]
func (s *Server) handleResults(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		session, err := s.voteService.GetActiveSession()
		if err != nil {
			c.JSON(http.StatusInternalServerError, model.APIResponse{
				Success: false, Message: "查询活跃会话失败",
			})
			return
		}
		if session == nil {
			c.JSON(http.StatusNotFound, model.APIResponse{
				Success: false, Message: "当前没有进行中的投票会话",
			})
			return
		}
		sessionID = session.ID
	}

	payload, err := s.voteService.ComputeResults(sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, model.APIResponse{
				Success: false, Message: "投票会话不存在",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, model.APIResponse{
			Success: false, Message: "计算投票结果失败",
		})
		return
	}

	c.JSON(http.StatusOK, payload)
}

// handleCatalog GET /api/votes/songs
func (s *Server) handleCatalog(c *gin.Context) {
	songs, err := s.voteService.GetCatalog()
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.APIResponse{
			Success: false, Message: "查询歌曲目录失败",
		})
		return
	}
	c.JSON(http.StatusOK, model.APIResponse{Success: true, Data: songs})
}

// handleCastVote POST /api/votes
func (s *Server) handleCastVote(c *gin.Context) {
	var req model.CastVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SongID == "" {
		c.JSON(http.StatusBadRequest, model.APIResponse{
			Success: false, Message: "无效的投票请求",
		})
		return
	}

	payload, err := s.voteService.CastVote(telegramIDFrom(c), req.SongID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyVoted):
			c.JSON(http.StatusConflict, model.APIResponse{
				Success: false, Message: "您在本轮投票中已投过票",
			})
		case errors.Is(err, repository.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, model.APIResponse{
				Success: false, Message: "当前没有进行中的投票会话",
			})
		case errors.Is(err, repository.ErrSongNotCandidate):
			c.JSON(http.StatusBadRequest, model.APIResponse{
				Success: false, Message: "歌曲不在本轮候选列表中",
			})
		default:
			c.JSON(http.StatusInternalServerError, model.APIResponse{
				Success: false, Message: "投票失败",
			})
		}
		return
	}

	c.JSON(http.StatusOK, model.APIResponse{Success: true, Data: payload})
}

// handleAdminSessions GET /api/admin/votes/sessions?isActive=true
func (s *Server) handleAdminSessions(c *gin.Context) {
	if c.Query("isActive") == "true" {
		session, err := s.voteService.GetActiveSession()
		if err != nil {
			c.JSON(http.StatusInternalServerError, model.APIResponse{
				Success: false, Message: "查询活跃会话失败",
			})
			return
		}
		sessions := []*model.VotingSession{}
		if session != nil {
			sessions = append(sessions, session)
		}
		c.JSON(http.StatusOK, model.APIResponse{Success: true, Data: sessions})
		return
	}

	c.JSON(http.StatusBadRequest, model.APIResponse{
		Success: false, Message: "仅支持 isActive=true 查询",
	})
}

// handleAdminSession GET /api/admin/votes/sessions/:id
func (s *Server) handleAdminSession(c *gin.Context) {
	session, err := s.voteService.SessionByID(c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, model.APIResponse{
				Success: false, Message: "投票会话不存在",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, model.APIResponse{
			Success: false, Message: "查询投票会话失败",
		})
		return
	}
	c.JSON(http.StatusOK, model.APIResponse{Success: true, Data: session})
}

// handleStartSession POST /api/admin/votes/sessions/start
func (s *Server) handleStartSession(c *gin.Context) {
	var req model.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.APIResponse{
			Success: false, Message: "无效的开始会话请求",
		})
		return
	}

	session, artifact, err := s.voteService.StartSession(req.SongIDs)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTooFewSongs):
			c.JSON(http.StatusBadRequest, model.APIResponse{
				Success: false, Message: err.Error(),
			})
		case errors.Is(err, repository.ErrActiveSessionExists):
			c.JSON(http.StatusConflict, model.APIResponse{
				Success: false, Message: "已存在进行中的投票会话，请先结束",
			})
		case errors.Is(err, repository.ErrSongNotFound):
			c.JSON(http.StatusBadRequest, model.APIResponse{
				Success: false, Message: "候选歌曲不存在",
			})
		case errors.Is(err, service.ErrStartLockBusy):
			c.JSON(http.StatusConflict, model.APIResponse{
				Success: false, Message: err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, model.APIResponse{
				Success: false, Message: "开始投票会话失败",
			})
		}
		return
	}

	c.JSON(http.StatusOK, model.APIResponse{Success: true, Data: gin.H{
		"session":  session,
		"artifact": artifact,
	}})
}

// handleEndSession POST /api/admin/votes/sessions/:id/end
func (s *Server) handleEndSession(c *gin.Context) {
	session, err := s.voteService.EndSession(c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, model.APIResponse{
				Success: false, Message: "投票会话不存在",
			})
		case errors.Is(err, repository.ErrSessionEnded):
			c.JSON(http.StatusConflict, model.APIResponse{
				Success: false, Message: "投票会话已结束",
				Data:    session,
			})
		default:
			c.JSON(http.StatusInternalServerError, model.APIResponse{
				Success: false, Message: "结束投票会话失败",
			})
		}
		return
	}

	c.JSON(http.StatusOK, model.APIResponse{Success: true, Data: session})
}

// handleSessionQR GET /api/admin/votes/sessions/:id/qr
func (s *Server) handleSessionQR(c *gin.Context) {
	artifact, err := s.voteService.GetShareArtifact(c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, model.APIResponse{
				Success: false, Message: "投票会话不存在",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, model.APIResponse{
			Success: false, Message: "生成分享入口失败",
		})
		return
	}
	c.JSON(http.StatusOK, model.APIResponse{Success: true, Data: artifact})
}

// handleStats GET /api/admin/votes/stats[?sessionId=]
func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.voteService.GetStats(c.Query("sessionId"))
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, model.APIResponse{
				Success: false, Message: "投票会话不存在",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, model.APIResponse{
			Success: false, Message: "查询统计失败",
		})
		return
	}
	c.JSON(http.StatusOK, model.APIResponse{Success: true, Data: stats})
}

// handleHistory GET /api/admin/votes/history?page=&limit=
func (s *Server) handleHistory(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	sessions, total, err := s.voteService.GetHistory(page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.APIResponse{
			Success: false, Message: "查询历史会话失败",
		})
		return
	}

	c.JSON(http.StatusOK, model.APIResponse{Success: true, Data: gin.H{
		"sessions": sessions,
		"total":    total,
		"page":     page,
		"limit":    limit,
	}})
}

// handleUpsertSong POST /api/admin/votes/songs
func (s *Server) handleUpsertSong(c *gin.Context) {
	var song model.Song
	if err := c.ShouldBindJSON(&song); err != nil || song.Title == "" {
		c.JSON(http.StatusBadRequest, model.APIResponse{
			Success: false, Message: "无效的歌曲数据",
		})
		return
	}

	if err := s.voteService.UpsertSong(&song); err != nil {
		c.JSON(http.StatusInternalServerError, model.APIResponse{
			Success: false, Message: "保存歌曲失败",
		})
		return
	}
	c.JSON(http.StatusOK, model.APIResponse{Success: true, Data: song})
}

// handleSetPending POST /api/internal/vote/pending
func (s *Server) handleSetPending(c *gin.Context) {
	var req model.SetPendingRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TelegramID == "" || req.SessionID == "" {
		c.JSON(http.StatusBadRequest, model.APIResponse{
			Success: false, Message: "无效的待处理会话请求",
		})
		return
	}

	if err := s.voteService.SetPendingSession(req.TelegramID, req.SessionID); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, model.APIResponse{
				Success: false, Message: "投票会话不存在",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, model.APIResponse{
			Success: false, Message: "写入待处理会话失败",
		})
		return
	}
	c.JSON(http.StatusOK, model.APIResponse{Success: true})
}
