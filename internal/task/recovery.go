package task

import (
	"context"

	xerrors "AgentOS-Bridge/internal/errors"
)

// RecoveryHandler 定义了在作业执行失败时的补偿策略。
type RecoveryHandler interface {
	// Recover 返回的 Result 将作为降级回复写入作业；返回 nil 则继续按照失败流程处理。
	Recover(ctx context.Context, job *Job, cause error) (*Result, error)
}

// RecoveryFunc 将函数适配为 RecoveryHandler。
type RecoveryFunc func(ctx context.Context, job *Job, cause error) (*Result, error)

// Recover 实现 RecoveryHandler。
func (f RecoveryFunc) Recover(ctx context.Context, job *Job, cause error) (*Result, error) {
	return f(ctx, job, cause)
}

// DescribeFailure 把不可重试的失败转换为携带错误码的用户可见回复，原始 cause 不外泄。
var DescribeFailure RecoveryFunc = func(_ context.Context, _ *Job, cause error) (*Result, error) {
	return &Result{
		DisplayText: xerrors.Describe(cause),
		ErrorCode:   string(xerrors.CodeOf(cause)),
	}, nil
}
