package qr

import (
	"encoding/base64"
	"fmt"

	"github.com/lvdashuaibi/songvote/internal/model"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	// StartParamPrefix Telegram深链接start参数的前缀，后跟会话ID
	StartParamPrefix = "vote_"

	qrSize = 512
)

// BuildDeepLink 生成Telegram Mini App深链接
// 格式: https://t.me/<botName>/<appName>?startapp=vote_<sessionId>
func BuildDeepLink(botName, appName, sessionID string) string {
	if appName != "" {
		return fmt.Sprintf("https://t.me/%s/%s?startapp=%s%s", botName, appName, StartParamPrefix, sessionID)
	}
	return fmt.Sprintf("https://t.me/%s?startapp=%s%s", botName, StartParamPrefix, sessionID)
}

// BuildShareArtifact 生成可分享的投票入口：深链接和二维码data URL
func BuildShareArtifact(botName, appName, sessionID string) (*model.ShareArtifact, error) {
	deepLink := BuildDeepLink(botName, appName, sessionID)

	png, err := qrcode.Encode(deepLink, qrcode.Medium, qrSize)
	if err != nil {
		return nil, fmt.Errorf("生成二维码失败: %w", err)
	}

	return &model.ShareArtifact{
		SessionID: sessionID,
		DeepLink:  deepLink,
		QRDataURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}, nil
}

// ParseStartParam 从start参数中解析会话ID，非 vote_ 前缀返回空
func ParseStartParam(startParam string) (string, bool) {
	if len(startParam) <= len(StartParamPrefix) {
		return "", false
	}
	if startParam[:len(StartParamPrefix)] != StartParamPrefix {
		return "", false
	}
	return startParam[len(StartParamPrefix):], true
}
