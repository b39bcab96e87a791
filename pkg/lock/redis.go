package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"docqa-go/pkg/errs"
	"docqa-go/pkg/log"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker 是基于 SET NX PX 的跨进程锁。ttl 是持锁上限，防止进程崩溃后死锁。
type RedisLocker struct {
	rdb       *redis.Client
	prefix    string
	ttl       time.Duration
	retryWait time.Duration
}

// NewRedisLocker 创建 Redis 锁。
func NewRedisLocker(rdb *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLocker{rdb: rdb, prefix: prefix, ttl: ttl, retryWait: 200 * time.Millisecond}
}

// Lock 实现 Locker，拿不到锁时轮询直到 ctx 结束。
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryWait)
	defer ticker.Stop()
	for {
		ok, err := l.rdb.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", redisKey, err)
		}
		if ok {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("redis lock %s: %w: %w", redisKey, errs.ErrLockTimeout, ctx.Err())
		}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// 调用方的 ctx 可能已取消，释放使用独立的超时
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, l.rdb, []string{redisKey}, token).Err(); err != nil {
				log.Warnf("[Lock] 释放 Redis 锁 %s 失败: %v", redisKey, err)
			}
		})
	}
	return release, nil
}
