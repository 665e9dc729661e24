package rest

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lvdashuaibi/songvote/config"
	"github.com/lvdashuaibi/songvote/internal/model"
)

const (
	// UserTokenPrefix 用户令牌前缀，后跟Telegram用户ID
	// 生产环境由Telegram initData校验后签发，此处保持相同的承载格式
	UserTokenPrefix = "tg_"

	ctxTelegramID = "telegramID"
)

// bearerToken 从Authorization头提取Bearer令牌
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// ParseUserToken 从用户令牌解析Telegram用户ID
func ParseUserToken(token string) (string, bool) {
	if !strings.HasPrefix(token, UserTokenPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(token, UserTokenPrefix)
	if id == "" {
		return "", false
	}
	return id, true
}

// UserAuth 公开接口鉴权：要求携带有效的用户令牌
func UserAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		telegramID, ok := ParseUserToken(bearerToken(c))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.APIResponse{
				Success: false,
				Message: "缺少或无效的用户令牌",
			})
			return
		}
		c.Set(ctxTelegramID, telegramID)
		c.Next()
	}
}

// AdminAuth 管理接口鉴权
func AdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" || token != config.AppConfig.Server.AdminToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.APIResponse{
				Success: false,
				Message: "缺少或无效的管理令牌",
			})
			return
		}
		c.Next()
	}
}

// BotAuth 内部接口鉴权（仅Telegram Bot调用）
func BotAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" || token != config.AppConfig.Server.BotToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.APIResponse{
				Success: false,
				Message: "缺少或无效的Bot令牌",
			})
			return
		}
		c.Next()
	}
}

// telegramIDFrom 从上下文取出鉴权中间件写入的Telegram用户ID
func telegramIDFrom(c *gin.Context) string {
	return c.GetString(ctxTelegramID)
}
