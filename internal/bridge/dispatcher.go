package bridge

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	xerrors "AgentOS-Bridge/internal/errors"
	"AgentOS-Bridge/internal/task"
	"AgentOS-Bridge/internal/transport"
	"AgentOS-Bridge/pkg/logger"
)

// defaultConcurrency 是直连模式下同时处理的请求数。
const defaultConcurrency = 4

// Event 是推送给展示端的事件负载。
type Event struct {
	Type          string `json:"type"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Message       string `json:"message"`
}

// Channel 是分发器使用的会话能力，由 transport.Session 实现。
type Channel interface {
	Receive(ctx context.Context) (transport.Frame, error)
	Reply(ctx context.Context, req transport.Frame, payload any) error
	Notify(ctx context.Context, payload any) error
}

// DispatcherOption 配置 Dispatcher。
type DispatcherOption func(*Dispatcher)

// WithJobService 让请求先进入作业队列，由 Processor 执行后通过完成回调答复。
func WithJobService(svc *task.Service) DispatcherOption {
	return func(d *Dispatcher) {
		d.jobs = svc
	}
}

// WithConcurrency 限制直连模式下并发处理的请求数。
func WithConcurrency(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithDispatcherLogger 指定日志输出。
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// Dispatcher 从通道读取请求帧并写回响应帧，处理过程中的进度以事件帧推送。
type Dispatcher struct {
	handler     *Handler
	channel     Channel
	jobs        *task.Service
	concurrency int
	logger      *slog.Logger
}

// NewDispatcher 构造分发器。
func NewDispatcher(handler *Handler, channel Channel, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		handler:     handler,
		channel:     channel,
		concurrency: defaultConcurrency,
		logger:      logger.Named("bridge"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Serve 持续处理入站帧，直到 ctx 取消或通道关闭。返回前等待进行中的请求答复完毕。
func (d *Dispatcher) Serve(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	defer g.Wait()

	for {
		f, err := d.channel.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if f.Kind != transport.KindRequest {
			d.logger.Debug("忽略展示端事件", "correlation_id", f.CorrelationID)
			continue
		}

		var req Request
		if err := f.Decode(&req); err != nil {
			d.reply(ctx, f, Reply{DisplayText: xerrors.Describe(err), ErrorCode: string(xerrors.CodeOf(err))})
			continue
		}

		if d.jobs != nil {
			d.enqueue(ctx, f, req)
			continue
		}
		g.Go(func() error {
			reply := d.handler.Handle(ctx, req.Utterance, d.progress(ctx, f.CorrelationID))
			d.reply(ctx, f, reply)
			return nil
		})
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, f transport.Frame, req Request) {
	job, err := d.jobs.Submit(ctx, task.Submission{Utterance: req.Utterance, ReplyTo: f.CorrelationID})
	if err != nil {
		d.reply(ctx, f, Reply{DisplayText: xerrors.Describe(err), ErrorCode: string(xerrors.CodeOf(err))})
		return
	}
	d.logger.Debug("话语已入队", "job_id", job.ID, "correlation_id", f.CorrelationID)
	_ = d.notify(ctx, Event{Type: "accepted", CorrelationID: f.CorrelationID, Message: job.ID})
}

// Execute 实现 task.Executor，供 Processor 处理排队的话语。
func (d *Dispatcher) Execute(ctx context.Context, job *task.Job) (task.Result, error) {
	reply := d.handler.Handle(ctx, job.Utterance, d.progress(ctx, job.ReplyTo))
	if err := ctx.Err(); err != nil {
		return reply.Result(), xerrors.Wrap(task.CodeJobProcessing, err, "utterance processing interrupted")
	}
	return reply.Result(), nil
}

// Complete 是 task.CompletionFunc，把作业的最终结果作为响应帧发回。
func (d *Dispatcher) Complete(ctx context.Context, job *task.Job) {
	if job.ReplyTo == "" {
		return
	}
	req := transport.Frame{CorrelationID: job.ReplyTo, Kind: transport.KindRequest}
	d.reply(ctx, req, ReplyFromJob(job))
}

func (d *Dispatcher) progress(ctx context.Context, correlationID string) func(string) {
	return func(msg string) {
		if err := d.notify(ctx, Event{Type: "progress", CorrelationID: correlationID, Message: msg}); err != nil {
			d.logger.Debug("进度推送失败", "correlation_id", correlationID, "error", err)
		}
	}
}

func (d *Dispatcher) notify(ctx context.Context, ev Event) error {
	return d.channel.Notify(ctx, ev)
}

func (d *Dispatcher) reply(ctx context.Context, req transport.Frame, reply Reply) {
	if err := d.channel.Reply(ctx, req, reply); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, transport.ErrClosed) {
			level = slog.LevelDebug
		}
		d.logger.Log(ctx, level, "答复展示端失败",
			"correlation_id", req.CorrelationID,
			"error", err)
	}
}

var _ task.Executor = (*Dispatcher)(nil)
