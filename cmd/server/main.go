package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lvdashuaibi/songvote/config"
	"github.com/lvdashuaibi/songvote/internal/api/rest"
	"github.com/lvdashuaibi/songvote/internal/hub"
	intkafka "github.com/lvdashuaibi/songvote/internal/kafka"
	"github.com/lvdashuaibi/songvote/internal/lock"
	"github.com/lvdashuaibi/songvote/internal/repository"
	"github.com/lvdashuaibi/songvote/internal/service"
)

const (
	LockAcquireTimeout = 30 * time.Second
	ShutdownTimeout    = 10 * time.Second
)

var (
	configPath = flag.String("config", "config/config.yaml", "配置文件路径")
	instanceID = flag.Int("instance", 1, "实例ID，用于区分多个实例")
)

func main() {
	// 解析命令行参数
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("配置加载成功，当前实例ID: %d", *instanceID)

	// 创建数据库连接
	mysqlRepo, err := repository.NewMySQLRepository()
	if err != nil {
		log.Fatalf("初始化MySQL仓库失败: %v", err)
	}
	defer mysqlRepo.Close()
	log.Printf("MySQL仓库初始化成功")

	// 创建Redis连接
	redisRepo, err := repository.NewRedisRepository()
	if err != nil {
		log.Fatalf("初始化Redis仓库失败: %v", err)
	}
	defer redisRepo.Close()
	log.Printf("Redis仓库初始化成功")

	// 创建分布式锁
	distributedLock, err := lock.New()
	if err != nil {
		log.Fatalf("初始化分布式锁失败: %v", err)
	}
	defer distributedLock.Close()
	log.Printf("分布式锁初始化成功，类型: %s", cfg.Lock.Type)

	// 竞争结果重播领导者锁，只有领导者实例会周期性重播活跃会话结果
	lockAcquired, err := distributedLock.AcquireLock(service.ResyncLockName, LockAcquireTimeout)
	if err != nil {
		log.Printf("获取重播领导者锁失败: %v，以普通节点模式启动", err)
	}

	var isResyncLeader bool
	if lockAcquired {
		log.Printf("实例 %d 获取重播领导者锁成功", *instanceID)
		isResyncLeader = true
		defer distributedLock.ReleaseLock(service.ResyncLockName)
	} else {
		log.Printf("实例 %d 未获取到重播领导者锁，以普通节点模式启动", *instanceID)
	}

	// 创建Kafka生产者
	producer, err := intkafka.NewProducer()
	if err != nil {
		log.Fatalf("初始化Kafka生产者失败: %v", err)
	}
	defer producer.Close()
	log.Printf("Kafka生产者初始化成功")

	// 创建Kafka消费者
	consumer, err := intkafka.NewConsumer()
	if err != nil {
		log.Fatalf("初始化Kafka消费者失败: %v", err)
	}
	defer consumer.Stop()
	log.Printf("Kafka消费者初始化成功")

	// 创建WebSocket推送中心
	wsHub := hub.NewHub()
	defer wsHub.Shutdown()
	log.Printf("WebSocket推送中心初始化成功")

	// 创建投票服务
	voteService := service.NewVoteService(mysqlRepo, redisRepo, wsHub, producer, distributedLock)
	log.Printf("投票服务初始化成功")

	// 启动结果重播器
	resync := service.NewResultsResync(voteService, isResyncLeader)
	resync.Start()
	defer resync.Stop()
	log.Printf("结果重播器已启动，领导者模式: %v", isResyncLeader)

	// 启动Kafka消费者
	consumer.StartConsuming(voteService.ProcessVoteEvent)
	log.Printf("Kafka消费者已启动")

	// 创建REST服务
	restServer := rest.NewServer(voteService, wsHub)

	// 计算端口，支持多实例
	serverPort := cfg.Server.Port + *instanceID - 1

	// 启动HTTP服务器(异步)
	go func() {
		if err := restServer.Start(serverPort); err != nil {
			log.Fatalf("启动REST服务器失败: %v", err)
		}
	}()

	log.Printf("Song Vote 服务 (实例 %d) 已启动，服务地址: http://localhost:%d", *instanceID, serverPort)

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := restServer.Shutdown(ctx); err != nil {
		log.Printf("关闭REST服务器失败: %v", err)
	}
}
