package service

import (
	"errors"
	"log"
	"time"

	"github.com/lvdashuaibi/songvote/config"
	"github.com/lvdashuaibi/songvote/internal/repository"
)

const (
	// ResyncLockName 结果重播的分布式锁，保证多实例下只有一个重播者
	ResyncLockName = "songvote:results:resync:lock"
)

// ResultsResync 定时向所有连接重播活跃会话的最新结果
// 用于补偿客户端在断线重连窗口内漏掉的推送
type ResultsResync struct {
	service  *VoteService
	ticker   *time.Ticker
	stopChan chan struct{}
	isLeader bool // 标识该实例是否为重播者
}

func NewResultsResync(service *VoteService, isLeader bool) *ResultsResync {
	return &ResultsResync{
		service:  service,
		stopChan: make(chan struct{}),
		isLeader: isLeader,
	}
}

// Start 启动重播循环，间隔为0时不启动
func (r *ResultsResync) Start() {
	interval := config.AppConfig.Session.ResyncInterval
	if interval <= 0 {
		log.Println("结果重播已关闭")
		return
	}

	r.ticker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-r.ticker.C:
				// 只有持有重播锁的实例才真正广播
				if r.isLeader {
					r.resyncActive()
				} else {
					r.tryBecomeLeader()
				}
			case <-r.stopChan:
				r.ticker.Stop()
				log.Println("结果重播已停止")
				return
			}
		}
	}()
}

// Stop 停止重播循环
func (r *ResultsResync) Stop() {
	if r.ticker == nil {
		return
	}
	close(r.stopChan)
}

// tryBecomeLeader 尝试获取重播锁（原重播者实例下线后接管）
func (r *ResultsResync) tryBecomeLeader() {
	acquired, err := r.service.lock.AcquireLock(ResyncLockName, config.AppConfig.Lock.Timeout)
	if err != nil {
		return
	}
	if acquired {
		log.Println("当前实例已接管结果重播")
		r.isLeader = true
	}
}

// resyncActive 重算并广播当前活跃会话的结果
func (r *ResultsResync) resyncActive() {
	session, err := r.service.activeSession()
	if err != nil {
		if !errors.Is(err, repository.ErrSessionNotFound) {
			log.Printf("重播时查询活跃会话失败: %v", err)
		}
		return
	}

	payload, err := r.service.recomputeResults(session.ID)
	if err != nil {
		log.Printf("重播时重算结果失败: %v", err)
		return
	}

	r.service.broadcaster.BroadcastResults(payload)
}
