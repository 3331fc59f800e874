package task

import (
	"context"
)

// Handler 处理来自消息队列的作业 ID，返回错误时队列可以选择重新投递。
type Handler func(ctx context.Context, jobID string) error

// Producer 负责向队列投递作业。
type Producer interface {
	Publish(ctx context.Context, jobID string) error
	Close() error
}

// Consumer 负责从队列中消费作业。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// DepthReporter 由能够报告积压长度的队列实现，供健康检查使用。
type DepthReporter interface {
	Depth(ctx context.Context) (int, error)
}
