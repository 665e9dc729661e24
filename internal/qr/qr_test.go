package qr

import (
	"strings"
	"testing"
)

func TestBuildDeepLink(t *testing.T) {
	tests := []struct {
		name      string
		botName   string
		appName   string
		sessionID string
		want      string
	}{
		{
			name:      "带短名称",
			botName:   "livebandvote_bot",
			appName:   "vote",
			sessionID: "abc123",
			want:      "https://t.me/livebandvote_bot/vote?startapp=vote_abc123",
		},
		{
			name:      "无短名称",
			botName:   "livebandvote_bot",
			sessionID: "abc123",
			want:      "https://t.me/livebandvote_bot?startapp=vote_abc123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildDeepLink(tt.botName, tt.appName, tt.sessionID)
			if got != tt.want {
				t.Errorf("BuildDeepLink() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildShareArtifact(t *testing.T) {
	artifact, err := BuildShareArtifact("livebandvote_bot", "vote", "s1")
	if err != nil {
		t.Fatalf("BuildShareArtifact() error = %v", err)
	}

	if artifact.SessionID != "s1" {
		t.Errorf("SessionID = %q, want s1", artifact.SessionID)
	}
	if !strings.Contains(artifact.DeepLink, StartParamPrefix+"s1") {
		t.Errorf("深链接应包含 %ss1: %q", StartParamPrefix, artifact.DeepLink)
	}
	if !strings.HasPrefix(artifact.QRDataURL, "data:image/png;base64,") {
		t.Errorf("二维码应为PNG data URL: %.40q", artifact.QRDataURL)
	}
	if len(artifact.QRDataURL) <= len("data:image/png;base64,") {
		t.Error("二维码内容为空")
	}
}

func TestParseStartParam(t *testing.T) {
	tests := []struct {
		name   string
		param  string
		want   string
		wantOK bool
	}{
		{"正常参数", "vote_abc123", "abc123", true},
		{"空参数", "", "", false},
		{"仅前缀", "vote_", "", false},
		{"其他前缀", "promo_abc", "", false},
		{"无前缀", "abc123", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseStartParam(tt.param)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseStartParam(%q) = (%q, %v), want (%q, %v)",
					tt.param, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
