// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"docqa-go/internal/config"
	"docqa-go/pkg/errs"
	"docqa-go/pkg/log"
	"docqa-go/pkg/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IndexTask) error
}

var producer *kafka.Writer

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// InitProducer 初始化 Kafka 生产者。未配置 brokers 时不做任何事。
func InitProducer(cfg config.KafkaConfig) {
	if !cfg.Enabled() {
		log.Info("未配置 Kafka，异步索引任务已禁用")
		return
	}
	producer = &kafka.Writer{
		Addr:     kafka.TCP(brokers(cfg)...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// Enabled 表示生产者是否可用。
func Enabled() bool {
	return producer != nil
}

// ProduceIndexTask 发送一个索引任务到 Kafka，以命名空间作为消息 key，保证同一命名空间的任务有序。
func ProduceIndexTask(ctx context.Context, task tasks.IndexTask) error {
	if producer == nil {
		return errs.ErrQueueDisabled
	}
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.Namespace),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func Close() error {
	if producer == nil {
		return nil
	}
	return producer.Close()
}

// maxFetchBackoff 是连续读取失败时的最长等待。
const maxFetchBackoff = 30 * time.Second

// messageReader 是 Consumer 用到的 kafka.Reader 能力。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer 消费索引任务。失败的任务在本地重试，Redis 记录失败次数，达到上限后提交 offset 放弃。
type Consumer struct {
	reader      messageReader
	topic       string
	processor   TaskProcessor
	rdb         *redis.Client
	maxAttempts int
	backoff     time.Duration
}

// NewConsumer 创建消费者。rdb 为空时失败次数只在内存中计数。
func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor, rdb *redis.Client) *Consumer {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: r, topic: cfg.Topic, processor: processor, rdb: rdb, maxAttempts: maxAttempts, backoff: 2 * time.Second}
}

// Run 阻塞消费直到 ctx 结束。读取失败不会让消费者退出，等待一段时间后继续读取。
func (c *Consumer) Run(ctx context.Context) {
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", c.topic)
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	failures := 0
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Kafka 消费者已停止")
				return
			}
			failures++
			wait := min(c.backoff*time.Duration(failures), maxFetchBackoff)
			log.Errorf("从 Kafka 读取消息失败(连续 %d 次)，%s 后重试: %v", failures, wait, err)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				log.Info("Kafka 消费者已停止")
				return
			}
		}
		failures = 0
		log.Infof("收到 Kafka 消息: partition %d offset %d", m.Partition, m.Offset)

		var task tasks.IndexTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			c.commit(ctx, m)
			continue
		}

		c.handle(ctx, m, task)
		if ctx.Err() != nil {
			return
		}
	}
}

// handle 处理一条任务，直到成功、达到重试上限或 ctx 结束。
func (c *Consumer) handle(ctx context.Context, m kafka.Message, task tasks.IndexTask) {
	attemptsKey := fmt.Sprintf("kafka:attempts:%s:%d:%d", m.Topic, m.Partition, m.Offset)
	local := 0
	for {
		log.Infof("开始处理索引任务: namespace=%s, reason=%s", task.Namespace, task.Reason)
		err := c.processor.Process(ctx, task)
		if err == nil {
			log.Infof("索引任务处理成功: namespace=%s", task.Namespace)
			c.clearAttempts(attemptsKey)
			c.commit(ctx, m)
			return
		}
		if ctx.Err() != nil {
			// 不提交 offset，重启后重新投递
			return
		}

		local++
		attempts := c.incrAttempts(ctx, attemptsKey, local)
		log.Errorf("处理索引任务失败: namespace=%s, attempt=%d, error=%v", task.Namespace, attempts, err)
		if attempts >= int64(c.maxAttempts) {
			log.Errorf("索引任务多次失败(>=%d)，提交 offset 终止重试: namespace=%s", c.maxAttempts, task.Namespace)
			c.clearAttempts(attemptsKey)
			c.commit(ctx, m)
			return
		}

		select {
		case <-time.After(c.backoff * time.Duration(attempts)):
		case <-ctx.Done():
			return
		}
	}
}

// incrAttempts 在 Redis 中累计失败次数，Redis 不可用时退回本地计数。
func (c *Consumer) incrAttempts(ctx context.Context, key string, local int) int64 {
	if c.rdb == nil {
		return int64(local)
	}
	attempts, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		log.Warnf("记录任务失败次数失败: %v", err)
		return int64(local)
	}
	_ = c.rdb.Expire(ctx, key, 24*time.Hour).Err()
	return attempts
}

func (c *Consumer) clearAttempts(key string) {
	if c.rdb == nil {
		return
	}
	_ = c.rdb.Del(context.Background(), key).Err()
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
