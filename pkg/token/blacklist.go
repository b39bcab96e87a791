package token

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Blacklist 记录已登出的 token。
type Blacklist interface {
	Revoke(ctx context.Context, tokenString string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenString string) (bool, error)
}

// RedisBlacklist 使用 Redis key 的过期时间跟随 token 的剩余有效期。
type RedisBlacklist struct {
	rdb *redis.Client
}

// NewRedisBlacklist 创建基于 Redis 的 token 黑名单。
func NewRedisBlacklist(rdb *redis.Client) *RedisBlacklist {
	return &RedisBlacklist{rdb: rdb}
}

func blacklistKey(tokenString string) string {
	return "blacklist:" + tokenString
}

// Revoke 将 token 加入黑名单。
func (b *RedisBlacklist) Revoke(ctx context.Context, tokenString string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return b.rdb.Set(ctx, blacklistKey(tokenString), "true", ttl).Err()
}

// IsRevoked 判断 token 是否已被注销。
func (b *RedisBlacklist) IsRevoked(ctx context.Context, tokenString string) (bool, error) {
	n, err := b.rdb.Exists(ctx, blacklistKey(tokenString)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
