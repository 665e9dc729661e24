package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/lvdashuaibi/songvote/config"
	"github.com/lvdashuaibi/songvote/internal/model"
)

const (
	// Redis键前缀
	ResultsKey       = "vote:results:"
	PendingKey       = "vote:pending:"
	ActiveSessionKey = "vote:session:active"

	// Lua脚本
	// 待处理会话是一次性提示：读取的同时删除，保证只被消费一次
	TakePendingScript = `
		local value = redis.call('GET', KEYS[1])
		if not value then
			return false
		end
		redis.call('DEL', KEYS[1])
		return value
	`
)

type RedisRepository struct {
	client       *redis.Client
	ctx          context.Context
	scriptHashes map[string]string // 存储脚本SHA1哈希值
}

func NewRedisRepository() (*RedisRepository, error) {
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{
		Addr:         config.AppConfig.Redis.DataAddress,
		Password:     config.AppConfig.Redis.Password,
		DB:           config.AppConfig.Redis.DB,
		PoolSize:     config.AppConfig.Redis.PoolSize,
		MaxRetries:   config.AppConfig.Redis.MaxRetries,
		DialTimeout:  config.AppConfig.Redis.Timeout,
		ReadTimeout:  config.AppConfig.Redis.Timeout,
		WriteTimeout: config.AppConfig.Redis.Timeout,
	})

	// 测试连接
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis数据节点连接测试失败: %w", err)
	}

	repo := &RedisRepository{
		client:       client,
		ctx:          ctx,
		scriptHashes: make(map[string]string),
	}

	if err := repo.preloadScripts(); err != nil {
		return nil, fmt.Errorf("预加载Lua脚本失败: %w", err)
	}

	return repo, nil
}

// preloadScripts 预加载所有Lua脚本
func (r *RedisRepository) preloadScripts() error {
	sha1, err := r.client.ScriptLoad(r.ctx, TakePendingScript).Result()
	if err != nil {
		return fmt.Errorf("加载待处理会话脚本失败: %w", err)
	}
	r.scriptHashes["takePending"] = sha1

	return nil
}

// GetCachedResults 从缓存获取会话实时结果
func (r *RedisRepository) GetCachedResults(sessionID string) (*model.LiveResultsPayload, bool, error) {
	key := ResultsKey + sessionID
	data, err := r.client.Get(r.ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil // 缓存未命中
		}
		return nil, false, fmt.Errorf("获取结果缓存失败: %w", err)
	}

	var payload model.LiveResultsPayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, false, fmt.Errorf("解析结果缓存失败: %w", err)
	}

	return &payload, true, nil
}

// SetCachedResults 设置会话实时结果缓存
func (r *RedisRepository) SetCachedResults(payload *model.LiveResultsPayload) error {
	key := ResultsKey + payload.SessionID
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化结果失败: %w", err)
	}

	if err := r.client.Set(r.ctx, key, data, time.Hour).Err(); err != nil {
		return fmt.Errorf("设置结果缓存失败: %w", err)
	}

	return nil
}

// DeleteCachedResults 删除会话结果缓存
func (r *RedisRepository) DeleteCachedResults(sessionID string) error {
	key := ResultsKey + sessionID
	if err := r.client.Del(r.ctx, key).Err(); err != nil {
		return fmt.Errorf("删除结果缓存失败: %w", err)
	}
	return nil
}

// SetPendingSession 写入待处理投票会话，由Bot在用户点击深链接时调用
func (r *RedisRepository) SetPendingSession(pending *model.PendingVoteSession) error {
	key := PendingKey + pending.TelegramID
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("序列化待处理会话失败: %w", err)
	}

	ttl := config.AppConfig.Session.PendingTTL
	if err := r.client.Set(r.ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("写入待处理会话失败: %w", err)
	}

	return nil
}

// TakePendingSession 读取并删除待处理投票会话（读取即消费）
func (r *RedisRepository) TakePendingSession(telegramID string) (*model.PendingVoteSession, bool, error) {
	key := PendingKey + telegramID

	sha1, ok := r.scriptHashes["takePending"]
	if !ok {
		return nil, false, fmt.Errorf("脚本未预加载")
	}

	result, err := r.client.EvalSha(r.ctx, sha1, []string{key}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil // 不存在待处理会话
		}
		// 脚本可能被Redis清除，重新加载后重试一次
		if err.Error() == "NOSCRIPT No matching script. Please use EVAL." {
			sha1, err = r.client.ScriptLoad(r.ctx, TakePendingScript).Result()
			if err != nil {
				return nil, false, fmt.Errorf("重新加载待处理会话脚本失败: %w", err)
			}
			r.scriptHashes["takePending"] = sha1

			result, err = r.client.EvalSha(r.ctx, sha1, []string{key}).Result()
			if err != nil {
				if err == redis.Nil {
					return nil, false, nil
				}
				return nil, false, fmt.Errorf("执行待处理会话脚本失败: %w", err)
			}
		} else {
			return nil, false, fmt.Errorf("执行待处理会话脚本失败: %w", err)
		}
	}

	data, ok := result.(string)
	if !ok {
		return nil, false, fmt.Errorf("待处理会话脚本返回类型错误")
	}

	var pending model.PendingVoteSession
	if err := json.Unmarshal([]byte(data), &pending); err != nil {
		return nil, false, fmt.Errorf("解析待处理会话失败: %w", err)
	}

	return &pending, true, nil
}

// SetActiveSessionID 缓存当前活跃会话ID
func (r *RedisRepository) SetActiveSessionID(sessionID string) error {
	ttl := config.AppConfig.Session.ActiveCacheTTL
	if err := r.client.Set(r.ctx, ActiveSessionKey, sessionID, ttl).Err(); err != nil {
		return fmt.Errorf("缓存活跃会话ID失败: %w", err)
	}
	return nil
}

// GetActiveSessionID 从缓存获取当前活跃会话ID
func (r *RedisRepository) GetActiveSessionID() (string, bool, error) {
	sessionID, err := r.client.Get(r.ctx, ActiveSessionKey).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, fmt.Errorf("获取活跃会话ID缓存失败: %w", err)
	}
	return sessionID, true, nil
}

// DeleteActiveSessionID 删除活跃会话ID缓存（会话结束时调用）
func (r *RedisRepository) DeleteActiveSessionID() error {
	if err := r.client.Del(r.ctx, ActiveSessionKey).Err(); err != nil {
		return fmt.Errorf("删除活跃会话ID缓存失败: %w", err)
	}
	return nil
}

// Close 关闭Redis连接
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
