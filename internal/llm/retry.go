package llm

import (
	"context"
	"log/slog"
	"time"

	xerrors "AgentOS-Bridge/internal/errors"
	"AgentOS-Bridge/pkg/logger"
)

// RetryPolicy 控制推理调用的有界重试。
type RetryPolicy struct {
	Retries int
	Delay   time.Duration
	Timeout time.Duration
}

type retrying struct {
	next   Client
	policy RetryPolicy
	logger *slog.Logger
}

// WithRetry 包装 Client：每次调用受 Timeout 约束，失败后按指数退避重试 Retries 次，
// 仍失败时返回 LLM_UNAVAILABLE。
func WithRetry(next Client, policy RetryPolicy) Client {
	if policy.Retries < 0 {
		policy.Retries = 0
	}
	return &retrying{next: next, policy: policy, logger: logger.Named("llm")}
}

func (r *retrying) Generate(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	delay := r.policy.Delay
	for attempt := 0; attempt <= r.policy.Retries; attempt++ {
		if attempt > 0 {
			r.logger.Warn("推理调用失败，准备重试", "attempt", attempt, "error", lastErr)
			if !sleep(ctx, delay) {
				break
			}
			delay *= 2
		}
		resp, err := r.once(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, xerrors.Wrap(CodeUnavailable, lastErr, "inference engine unavailable")
}

func (r *retrying) once(ctx context.Context, req Request) (*Response, error) {
	if r.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.policy.Timeout)
		defer cancel()
	}
	return r.next.Generate(ctx, req)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
