package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "OneChain-Portal/internal/errors"
	"OneChain-Portal/pkg/logger"
)

const (
	// DefaultRedisQueue 是未配置时使用的 Redis 键前缀。
	DefaultRedisQueue = "portal:jobs"
	// deadLetterLimit 是死信列表保留的最大条数。
	deadLetterLimit = 1000
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address  string
	Password string
	DB       int
	// Queue 是键前缀，每种作业类型一个 list，例如 portal:jobs:execute。
	Queue     string
	BlockWait time.Duration
	// Kinds 是本实例消费的作业类型，为空时消费全部。
	Kinds []Kind
}

// RedisQueue 使用 Redis list 实现作业队列，多个 portald 实例可共享。
type RedisQueue struct {
	client *redis.Client
	prefix string
	kinds  []Kind
	wait   time.Duration
	logger *slog.Logger
}

// NewRedisQueue 创建 Redis 队列实例并检查连通性。
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisQueueFromClient(client, cfg), nil
}

// NewRedisQueueFromClient 复用已有的客户端。
func NewRedisQueueFromClient(client *redis.Client, cfg RedisQueueConfig) *RedisQueue {
	prefix := cfg.Queue
	if prefix == "" {
		prefix = DefaultRedisQueue
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{
		client: client,
		prefix: prefix,
		kinds:  consumeKinds(cfg.Kinds),
		wait:   wait,
		logger: logger.Named("redis-queue"),
	}
}

func (q *RedisQueue) key(kind Kind) string {
	return q.prefix + ":" + string(kind)
}

// deadKey 是处理失败或无法解析的消息所在的 list。
func (q *RedisQueue) deadKey() string {
	return q.prefix + ":dead"
}

// consumeKeys 返回 BRPOP 的键顺序。BRPOP 按顺序检查键，排在前面的类型优先。
func (q *RedisQueue) consumeKeys() []string {
	keys := make([]string, 0, len(q.kinds))
	for _, kind := range q.kinds {
		keys = append(keys, q.key(kind))
	}
	return keys
}

// Publish 将投递消息推入作业类型对应的 list。
func (q *RedisQueue) Publish(ctx context.Context, d Delivery) error {
	body, err := d.Encode()
	if err != nil {
		return err
	}
	key := q.key(d.Kind)
	if err := q.client.LPush(ctx, key, body).Err(); err != nil {
		return xerrors.Wrap(CodeJobPublish, err, "Redis 发布作业失败", xerrors.WithMetadata("queue", key))
	}
	return nil
}

// Consume 通过 BRPOP 获取作业。处理失败的消息不放回原队列，而是记入死信 list。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	keys := q.consumeKeys()
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				if ctx.Err() != nil {
					errCh <- ctx.Err()
					return
				}
				values, err := q.client.BRPop(ctx, q.wait, keys...).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
						errCh <- err
						return
					}
					errCh <- fmt.Errorf("Redis 取作业失败: %w", err)
					return
				}
				if len(values) != 2 {
					continue
				}
				q.dispatch(ctx, values[0], values[1], handler)
			}
		}()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (q *RedisQueue) dispatch(ctx context.Context, key, body string, handler Handler) {
	d, err := DecodeDelivery([]byte(body))
	if err == nil {
		err = handler(ctx, d)
	}
	if err == nil || ctx.Err() != nil {
		return
	}
	q.logger.Warn("作业消息转入死信",
		slog.String("queue", key),
		slog.String("job_id", d.JobID),
		slog.Any("error", err))
	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, q.deadKey(), body)
	pipe.LTrim(ctx, q.deadKey(), 0, deadLetterLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Error("写入死信失败", slog.String("queue", key), slog.Any("error", err))
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}

var _ Queue = (*RedisQueue)(nil)
