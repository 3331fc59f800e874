package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "AgentOS-Bridge/internal/errors"
	"AgentOS-Bridge/internal/observability/alerting"
	"AgentOS-Bridge/internal/observability/metrics"
	"AgentOS-Bridge/pkg/logger"
)

// Executor 处理一条话语并给出回复。
//
// 返回 error 表示未能产生回复，例如推理服务或存储不可用；工具或执行引擎的
// 领域错误应体现在 Result 中而不是 error。
type Executor interface {
	Execute(ctx context.Context, job *Job) (Result, error)
}

// ExecutorFunc 将函数适配为 Executor。
type ExecutorFunc func(ctx context.Context, job *Job) (Result, error)

// Execute 实现 Executor。
func (f ExecutorFunc) Execute(ctx context.Context, job *Job) (Result, error) {
	return f(ctx, job)
}

// CompletionFunc 在作业进入终态后被调用，job 为最新状态。
type CompletionFunc func(ctx context.Context, job *Job)

// Processor 负责从队列消费作业并交给 Executor 执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	recovery    RecoveryHandler
	alerter     alerting.Dispatcher
	completion  CompletionFunc
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRecoveryHandler 配置失败补偿策略。
func WithRecoveryHandler(handler RecoveryHandler) ProcessorOption {
	return func(p *Processor) {
		p.recovery = handler
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithCompletion 注册终态回调，桥接层借此发送响应帧。
func WithCompletion(fn CompletionFunc) ProcessorOption {
	return func(p *Processor) {
		p.completion = fn
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动作业处理循环，阻塞直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置作业消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, jobID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	job, err := p.store.Claim(ctx, jobID)
	if err != nil {
		if stdErrors.Is(err, ErrJobNotFound) || stdErrors.Is(err, ErrJobCompleted) || stdErrors.Is(err, ErrJobExhausted) {
			p.logDebug("跳过作业", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取作业失败", slog.Any("error", err), slog.String("job_id", jobID))
		p.emitAlert(ctx, &Job{ID: jobID}, CodeJobProcessing, err, "claim")
		return err
	}

	result, execErr := p.executor.Execute(ctx, job)
	if execErr != nil {
		return p.handleExecutionFailure(ctx, job, result, execErr)
	}

	if err := p.store.MarkSucceeded(ctx, job.ID, result); err != nil {
		logger.L().Error("标记作业成功状态失败", slog.Any("error", err), slog.String("job_id", job.ID))
		if storeErr := p.store.MarkFailed(ctx, job.ID, CodeJobProcessing, err.Error(), false); storeErr != nil {
			return storeErr
		}
		if pubErr := p.producer.Publish(ctx, job.ID); pubErr != nil {
			return xerrors.Wrap(CodeJobPublish, pubErr, fmt.Sprintf("作业 %s 在标记成功失败后重投失败", job.ID))
		}
		return nil
	}
	metrics.JobsProcessed.WithLabelValues(string(StatusSucceeded)).Inc()
	logger.Audit().Info("作业执行成功",
		slog.String("job_id", job.ID),
		slog.String("route", result.Route),
		slog.Bool("ok", result.OK),
		slog.Int("attempts", job.Attempts),
	)
	p.complete(ctx, job.ID)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, job *Job, partial Result, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeJobProcessing
	}
	// 已经修改过宿主的作业重放会重复副作用，因此不再重试。
	retryable := xerrors.RetryableError(execErr) && !partial.HostMutation
	terminal := job.Attempts >= job.MaxRetries || !retryable

	if terminal && p.recovery != nil {
		fallback, recErr := p.recovery.Recover(ctx, job, execErr)
		switch {
		case recErr != nil:
			wrapped := xerrors.Wrap(CodeJobCompensate, recErr, "作业补偿失败")
			logger.L().Error("执行补偿逻辑失败", slog.Any("error", wrapped), slog.String("job_id", job.ID))
			p.emitAlert(ctx, job, CodeJobCompensate, wrapped, "compensate")
		case fallback != nil:
			if fallback.Route == "" {
				fallback.Route = partial.Route
			}
			fallback.HostMutation = partial.HostMutation
			if err := p.store.MarkSucceeded(ctx, job.ID, *fallback); err != nil {
				logger.L().Error("记录降级结果失败", slog.Any("error", err), slog.String("job_id", job.ID))
				break
			}
			metrics.JobsProcessed.WithLabelValues("degraded").Inc()
			logger.Audit().Warn("作业降级完成",
				slog.String("job_id", job.ID),
				slog.String("error_code", string(code)),
				slog.Int("attempts", job.Attempts),
			)
			p.emitAlert(ctx, job, code, execErr, "degraded")
			p.complete(ctx, job.ID)
			return nil
		}
	}

	if storeErr := p.store.MarkFailed(ctx, job.ID, code, xerrors.Describe(execErr), terminal); storeErr != nil {
		logger.L().Error("标记作业失败状态出错", slog.Any("error", storeErr), slog.String("job_id", job.ID))
		return storeErr
	}
	logger.Audit().Warn("作业执行失败",
		slog.String("job_id", job.ID),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_retries", job.MaxRetries),
		slog.Bool("host_mutation", partial.HostMutation),
	)

	stage := "retry"
	switch {
	case partial.HostMutation:
		stage = "host_mutation"
	case terminal:
		stage = "terminal"
	}
	p.emitAlert(ctx, job, code, execErr, stage)

	if !terminal {
		metrics.JobsProcessed.WithLabelValues("retried").Inc()
		if pubErr := p.producer.Publish(ctx, job.ID); pubErr != nil {
			return xerrors.Wrap(CodeJobPublish, pubErr, fmt.Sprintf("作业 %s 重投失败", job.ID))
		}
		p.logDebug("作业已重新排队", slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts))
		return nil
	}
	metrics.JobsProcessed.WithLabelValues(string(StatusFailed)).Inc()
	p.complete(ctx, job.ID)
	return nil
}

func (p *Processor) complete(ctx context.Context, jobID string) {
	if p.completion == nil {
		return
	}
	job, err := p.store.Get(ctx, jobID)
	if err != nil {
		logger.L().Error("读取终态作业失败", slog.Any("error", err), slog.String("job_id", jobID))
		return
	}
	p.completion(ctx, job)
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		p.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || job == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = xerrors.Describe(cause)
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		JobID:      job.ID,
		Attempts:   job.Attempts,
		MaxRetries: job.MaxRetries,
		Metadata:   map[string]string{"stage": stage},
		OccurredAt: time.Now(),
	}
	if cause != nil {
		event.Metadata["cause"] = cause.Error()
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("job_id", job.ID),
			slog.String("stage", stage),
		)
	}
}
