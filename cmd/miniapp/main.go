package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/lvdashuaibi/songvote/config"
	"github.com/lvdashuaibi/songvote/internal/channel"
	"github.com/lvdashuaibi/songvote/internal/model"
	"github.com/lvdashuaibi/songvote/internal/navigation"
	"github.com/lvdashuaibi/songvote/internal/projector"
	"github.com/lvdashuaibi/songvote/internal/resolver"
	"github.com/lvdashuaibi/songvote/internal/restclient"
)

var (
	configPath = flag.String("config", "config/config.yaml", "配置文件路径")
	telegramID = flag.String("telegram-id", "", "Telegram用户ID")
	startParam = flag.String("startapp", "", "深链接startapp参数，例如 vote_<sessionId>")
	queryStr   = flag.String("query", "", "启动URL查询串，例如 screen=voting&sessionId=xxx")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	if *telegramID == "" {
		log.Fatalf("必须提供 -telegram-id")
	}
	token := "tg_" + *telegramID

	client := restclient.NewClient(cfg.Client.BaseURL, token,
		restclient.WithTimeout(cfg.Client.RequestTimeout),
		restclient.WithRetry(cfg.Client.RetryCount, cfg.Client.RetryBackoff),
	)

	ctx := context.Background()

	// 启动时解析目标会话
	res := resolver.NewResolver(client)
	nav := res.Resolve(ctx, resolver.LaunchContext{
		StartParam:  *startParam,
		QueryString: *queryStr,
		TelegramID:  *telegramID,
	})
	log.Printf("启动导航: screen=%s sessionId=%s", screenName(nav.Screen), nav.SessionID)

	proj := projector.NewProjector(client)
	proj.OnUpdate = printView

	wsURL := websocketURL(cfg)
	manager := channel.NewManager(channel.Options{
		URL:              wsURL,
		Token:            token,
		ReconnectBackoff: cfg.WebSocket.ReconnectBackoff,
		MaxReconnects:    cfg.WebSocket.MaxReconnects,
	})
	manager.OnStateChange = func(s channel.State) {
		log.Printf("实时连接状态: %s", s)
	}
	manager.OnResults = proj.ApplyLive
	manager.OnSessionEnded = func(payload model.SessionEndedPayload) {
		if payload.WinningSong != nil {
			fmt.Printf("\n投票已结束！获胜歌曲: %s - %s\n", payload.WinningSong.Title, payload.WinningSong.Artist)
		} else {
			fmt.Printf("\n投票已结束，本轮无获胜歌曲\n")
		}
	}

	if nav.RequiresLiveChannel() {
		proj.Load(ctx, nav.SessionID)
		manager.Mount(nav.SessionID)
		defer manager.Unmount()
	}

	repl(ctx, client, proj, manager)
}

func websocketURL(cfg *config.Config) string {
	base := strings.Replace(cfg.Client.BaseURL, "http://", "ws://", 1)
	base = strings.Replace(base, "https://", "wss://", 1)
	return base + cfg.WebSocket.Path
}

func screenName(s navigation.Screen) string {
	if s == navigation.ScreenDefault {
		return "default"
	}
	return string(s)
}

// repl 简易命令循环: vote <songId> / refresh / retry / quit
func repl(ctx context.Context, client *restclient.Client, proj *projector.Projector, manager *channel.Manager) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("命令: vote <songId> | refresh | retry | quit")

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "vote":
			if len(fields) != 2 {
				fmt.Println("用法: vote <songId>")
				continue
			}
			payload, err := client.CastVote(ctx, fields[1])
			if err != nil {
				if errors.Is(err, restclient.ErrAlreadyVoted) {
					fmt.Println("您在本轮投票中已投过票")
				} else {
					fmt.Printf("投票失败: %v\n", err)
				}
				continue
			}
			proj.ApplyLive(payload)

		case "refresh":
			if err := proj.Refresh(ctx); err != nil {
				fmt.Printf("刷新失败: %v\n", err)
			}

		case "retry":
			manager.Retry()

		case "quit", "exit":
			return

		default:
			fmt.Println("未知命令")
		}
	}
}

func printView(v projector.View) {
	if v.LoadErr != nil {
		fmt.Printf("\n结果加载失败: %v（可输入refresh重试）\n", v.LoadErr)
		return
	}
	fmt.Printf("\n===== 实时结果（总票数 %d）=====\n", v.TotalVotes)
	for i, r := range v.Songs {
		fmt.Printf("%d. %s - %s  %d票 (%.1f%%)\n", i+1, r.Song.Title, r.Song.Artist, r.Votes, r.Percentage)
	}
}
