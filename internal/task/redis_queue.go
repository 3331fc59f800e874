package task

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	xerrors "AgentOS-Bridge/internal/errors"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 使用 Redis list 实现作业队列：LPUSH 投递，BRPOP 领取。
type RedisQueue struct {
	client *redis.Client
	queue  string
	wait   time.Duration
}

// NewRedisQueue 创建 Redis 队列并检查连通性。
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "connect redis")
	}
	return newRedisQueue(client, cfg), nil
}

func newRedisQueue(client *redis.Client, cfg RedisQueueConfig) *RedisQueue {
	queue := cfg.Queue
	if queue == "" {
		queue = "agentos:jobs"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, queue: queue, wait: wait}
}

// Publish 将作业投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, jobID string) error {
	if err := q.client.LPush(ctx, q.queue, jobID).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "redis publish")
	}
	return nil
}

// Consume 启动 workerCount 个 BRPOP 循环，任一循环遇到非超时错误即整体返回。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	group, ctx := errgroup.WithContext(ctx)
	for range workerCount {
		group.Go(func() error {
			for {
				if err := ctx.Err(); err != nil {
					return err
				}
				values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
				switch {
				case errors.Is(err, redis.Nil):
					continue
				case errors.Is(err, context.Canceled), errors.Is(err, redis.ErrClosed):
					return err
				case err != nil:
					return xerrors.Wrap(xerrors.CodeQueueFailure, err, "redis consume")
				}
				if len(values) != 2 {
					continue
				}
				if handlerErr := handler(ctx, values[1]); handlerErr != nil {
					// 处理失败的作业放回队尾，等待下一次领取。
					_ = q.client.RPush(ctx, q.queue, values[1]).Err()
				}
			}
		})
	}
	return group.Wait()
}

// Depth 返回 list 长度。
func (q *RedisQueue) Depth(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.queue).Result()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeQueueFailure, err, "redis depth")
	}
	return int(n), nil
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}

var (
	_ Queue         = (*RedisQueue)(nil)
	_ DepthReporter = (*RedisQueue)(nil)
)
