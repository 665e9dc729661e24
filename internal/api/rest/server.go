package rest

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lvdashuaibi/songvote/config"
	"github.com/lvdashuaibi/songvote/internal/hub"
	"github.com/lvdashuaibi/songvote/internal/service"
)

// Server REST与WebSocket服务
type Server struct {
	voteService *service.VoteService
	hub         *hub.Hub
	http        *http.Server
}

func NewServer(voteService *service.VoteService, h *hub.Hub) *Server {
	return &Server{
		voteService: voteService,
		hub:         h,
	}
}

// Start 启动HTTP服务器（阻塞）
func (s *Server) Start(port int) error {
	router := s.setupRouter()

	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	log.Printf("REST服务已启动，地址: http://localhost:%d, WebSocket端点: %s",
		port, config.AppConfig.WebSocket.Path)

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("启动HTTP服务器失败: %w", err)
	}
	return nil
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// setupRouter 按REST契约注册路由
func (s *Server) setupRouter() *gin.Engine {
	router := gin.Default()

	// 公开接口
	public := router.Group("/api/public/vote")
	{
		public.GET("/session/:sessionId", s.handleSessionStatus)
		public.GET("/pending/:telegramId", s.handlePendingLookup)
	}

	// 需要用户令牌的接口
	votes := router.Group("/api/votes", UserAuth())
	{
		votes.GET("/results", s.handleResults)
		votes.GET("/songs", s.handleCatalog)
		votes.POST("", s.handleCastVote)
	}

	// 管理接口
	admin := router.Group("/api/admin/votes", AdminAuth())
	{
		admin.GET("/sessions", s.handleAdminSessions)
		admin.GET("/sessions/:id", s.handleAdminSession)
		admin.POST("/sessions/start", s.handleStartSession)
		admin.POST("/sessions/:id/end", s.handleEndSession)
		admin.GET("/sessions/:id/qr", s.handleSessionQR)
		admin.GET("/stats", s.handleStats)
		admin.GET("/history", s.handleHistory)
		admin.POST("/songs", s.handleUpsertSong)
	}

	// 内部接口：Bot写入待处理会话
	internal := router.Group("/api/internal/vote", BotAuth())
	{
		internal.POST("/pending", s.handleSetPending)
	}

	// WebSocket端点，令牌通过查询参数传递
	router.GET(config.AppConfig.WebSocket.Path, s.handleWebSocket)

	return router
}

// handleWebSocket 校验令牌后升级为WebSocket连接
func (s *Server) handleWebSocket(c *gin.Context) {
	token := c.Query("token")
	_, isUser := ParseUserToken(token)
	isAdmin := token != "" && token == config.AppConfig.Server.AdminToken
	if !isUser && !isAdmin {
		// 握手鉴权失败：客户端进入Error状态，不做自动重试
		c.JSON(http.StatusUnauthorized, gin.H{"error": "缺少或无效的令牌"})
		return
	}

	if err := s.hub.HandleConnection(c.Writer, c.Request); err != nil {
		log.Printf("WebSocket连接升级失败: %v", err)
	}
}
