package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"docqa-go/internal/model"

	"github.com/go-redis/redis/v8"
)

const (
	// 每个用户保留最近的问答记录条数
	historyLimit = 20
	historyTTL   = 7 * 24 * time.Hour
)

// HistoryRepository 定义了问答历史记录的操作接口。
type HistoryRepository interface {
	Append(ctx context.Context, userID uint, record model.QueryRecord) error
	List(ctx context.Context, userID uint) ([]model.QueryRecord, error)
}

type redisHistoryRepository struct {
	redisClient *redis.Client
}

// NewHistoryRepository 创建一个基于 Redis 列表的 HistoryRepository。
func NewHistoryRepository(redisClient *redis.Client) HistoryRepository {
	return &redisHistoryRepository{redisClient: redisClient}
}

func historyKey(userID uint) string {
	return fmt.Sprintf("user:%d:query_history", userID)
}

// Append 追加一条记录，只保留最近 historyLimit 条。
func (r *redisHistoryRepository) Append(ctx context.Context, userID uint, record model.QueryRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal query record: %w", err)
	}
	key := historyKey(userID)
	_, err = r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, -historyLimit, -1)
		pipe.Expire(ctx, key, historyTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append query history: %w", err)
	}
	return nil
}

// List 按时间顺序返回用户的问答记录。
func (r *redisHistoryRepository) List(ctx context.Context, userID uint) ([]model.QueryRecord, error) {
	items, err := r.redisClient.LRange(ctx, historyKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	records := make([]model.QueryRecord, 0, len(items))
	for _, item := range items {
		var rec model.QueryRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			// 跳过损坏的记录
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
