package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/lvdashuaibi/songvote/config"
	"github.com/lvdashuaibi/songvote/internal/adminclient"
	"github.com/lvdashuaibi/songvote/internal/model"
	"github.com/lvdashuaibi/songvote/internal/restclient"
)

var (
	configPath = flag.String("config", "config/config.yaml", "配置文件路径")
	adminToken = flag.String("token", "", "管理员令牌，为空时读取配置")
)

func usage() {
	fmt.Fprintln(os.Stderr, `用法: adminctl [flags] <命令>

命令:
  start <songId> <songId> [...]  开始新的投票会话
  end <sessionId>                结束投票会话（需确认）
  active                         查看当前活跃会话
  qr <sessionId>                 重新获取分享二维码和深链接
  stats [sessionId]              查看会话统计（缺省为当前会话）
  history [page] [limit]         分页查看历史会话`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	token := *adminToken
	if token == "" {
		token = cfg.Server.AdminToken
	}

	client := restclient.NewClient(cfg.Client.BaseURL, token,
		restclient.WithTimeout(cfg.Client.RequestTimeout),
		restclient.WithRetry(cfg.Client.RetryCount, cfg.Client.RetryBackoff),
	)
	controller := adminclient.NewController(client, confirmEnd)

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	ctx := context.Background()

	switch args[0] {
	case "start":
		runStart(ctx, controller, args[1:])
	case "end":
		runEnd(ctx, controller, args[1:])
	case "active":
		runActive(ctx, controller)
	case "qr":
		runQR(ctx, controller, args[1:])
	case "stats":
		runStats(ctx, controller, args[1:])
	case "history":
		runHistory(ctx, controller, args[1:])
	default:
		usage()
		os.Exit(2)
	}
}

// confirmEnd 结束会话前的交互式确认
func confirmEnd(sessionID string) bool {
	fmt.Printf("结束会话 %s 后将不可恢复，确认？[y/N] ", sessionID)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}

func runStart(ctx context.Context, controller *adminclient.Controller, songIDs []string) {
	result, err := controller.StartSession(ctx, songIDs)
	if err != nil {
		log.Fatalf("开始会话失败: %v", err)
	}
	fmt.Printf("会话已开始: %s\n", result.Session.ID)
	if result.Artifact != nil {
		fmt.Printf("深链接: %s\n", result.Artifact.DeepLink)
		fmt.Printf("二维码: %d 字节 (data URL)\n", len(result.Artifact.QRDataURL))
	}
}

func runEnd(ctx context.Context, controller *adminclient.Controller, args []string) {
	if len(args) != 1 {
		log.Fatalf("用法: end <sessionId>")
	}
	session, err := controller.EndSession(ctx, args[0])
	if err != nil {
		log.Fatalf("结束会话失败: %v", err)
	}
	if session.WinningSong != nil {
		fmt.Printf("会话 %s 已结束，获胜歌曲: %s - %s\n",
			session.ID, session.WinningSong.Title, session.WinningSong.Artist)
	} else {
		fmt.Printf("会话 %s 已结束，无获胜歌曲\n", session.ID)
	}
}

func runActive(ctx context.Context, controller *adminclient.Controller) {
	session := controller.ActiveSession(ctx)
	if session == nil {
		fmt.Println("当前没有进行中的投票会话")
		return
	}
	printSession(session)
}

func runQR(ctx context.Context, controller *adminclient.Controller, args []string) {
	if len(args) != 1 {
		log.Fatalf("用法: qr <sessionId>")
	}
	artifact, err := controller.RefetchArtifact(ctx, args[0])
	if err != nil {
		log.Fatalf("获取分享入口失败: %v", err)
	}
	fmt.Printf("深链接: %s\n", artifact.DeepLink)
	fmt.Printf("二维码: %d 字节 (data URL)\n", len(artifact.QRDataURL))
}

func runStats(ctx context.Context, controller *adminclient.Controller, args []string) {
	sessionID := ""
	if len(args) > 0 {
		sessionID = args[0]
	}
	stats := controller.Stats(ctx, sessionID)
	fmt.Printf("会话: %s  进行中: %v\n", stats.SessionID, stats.IsActive)
	fmt.Printf("总票数: %d  投票人数: %d\n", stats.TotalVotes, stats.TotalVoters)
	for _, r := range stats.Songs {
		fmt.Printf("  %s - %s  %d票 (%.1f%%)\n", r.Song.Title, r.Song.Artist, r.Votes, r.Percentage)
	}
}

func runHistory(ctx context.Context, controller *adminclient.Controller, args []string) {
	page, limit := 1, 10
	if len(args) > 0 {
		page, _ = strconv.Atoi(args[0])
	}
	if len(args) > 1 {
		limit, _ = strconv.Atoi(args[1])
	}

	result := controller.History(ctx, page, limit)
	fmt.Printf("共 %d 个会话，第 %d 页\n", result.Total, result.Page)
	for _, s := range result.Sessions {
		printSummary(s)
	}
}

func printSession(s *model.VotingSession) {
	fmt.Printf("会话: %s\n", s.ID)
	fmt.Printf("开始时间: %s\n", s.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("投票人数: %d\n", s.TotalVoters)
	fmt.Printf("候选歌曲: %s\n", strings.Join(s.SongIDs, ", "))
}

func printSummary(s *model.SessionSummary) {
	ended := "进行中"
	if s.EndedAt != nil {
		ended = s.EndedAt.Format("2006-01-02 15:04:05")
	}
	winner := "-"
	if s.WinningSong != nil {
		winner = s.WinningSong.Title
	}
	fmt.Printf("  %s  %s ~ %s  投票人数:%d  获胜:%s\n",
		s.ID, s.StartedAt.Format("2006-01-02 15:04:05"), ended, s.TotalVoters, winner)
}
