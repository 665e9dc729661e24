package lock

import (
	"fmt"
	"time"

	"github.com/lvdashuaibi/songvote/config"
)

// Lock 分布式锁接口
type Lock interface {
	// AcquireLock 获取分布式锁
	// 返回值：bool表示是否成功获取锁，error表示获取过程中的错误
	AcquireLock(lockName string, timeout time.Duration) (bool, error)

	// ReleaseLock 释放分布式锁
	// 返回值：error表示释放过程中的错误
	ReleaseLock(lockName string) error

	// ReleaseAllLocks 释放所有持有的锁
	ReleaseAllLocks()

	// Close 关闭分布式锁客户端
	// 返回值：error表示关闭过程中的错误
	Close() error
}

// New 根据配置创建分布式锁客户端
func New() (Lock, error) {
	switch config.AppConfig.Lock.Type {
	case "redlock":
		return NewRedLock()
	case "etcd", "":
		return NewETCDLock()
	default:
		return nil, fmt.Errorf("未知的分布式锁类型: %s", config.AppConfig.Lock.Type)
	}
}
