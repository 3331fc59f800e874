// Package bridge 把展示端的话语接到路由、工具与执行引擎上，并把结果写回通道。
package bridge

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"AgentOS-Bridge/internal/agent"
	"AgentOS-Bridge/internal/arena"
	xerrors "AgentOS-Bridge/internal/errors"
	"AgentOS-Bridge/internal/observability/metrics"
	"AgentOS-Bridge/internal/router"
	"AgentOS-Bridge/internal/task"
	"AgentOS-Bridge/internal/tools"
	"AgentOS-Bridge/pkg/logger"
)

// Classifier 将话语分类为路由决策。
type Classifier interface {
	Classify(ctx context.Context, utterance string) router.Decision
}

// Catalog 是处理器需要的注册表能力。
type Catalog interface {
	Lookup(name string) (tools.Definition, bool)
	Invoke(ctx context.Context, name string, params tools.Params) (tools.Observation, error)
}

// Runner 执行一次智能体运行。
type Runner interface {
	Run(ctx context.Context, req agent.RunRequest) (*agent.Outcome, error)
}

// Request 是展示端发来的请求负载。
type Request struct {
	Utterance string `json:"utterance"`
}

// Reply 是回给展示端的负载，DisplayText 总是可以直接显示。
type Reply struct {
	DisplayText string         `json:"displayText"`
	Route       string         `json:"route"`
	OK          bool           `json:"ok"`
	ErrorCode   string         `json:"errorCode,omitempty"`
	Tool        string         `json:"tool,omitempty"`
	RunID       string         `json:"runId,omitempty"`
	Data        map[string]any `json:"data,omitempty"`

	// HostMutation 表示处理过程中调用过修改宿主的工具。
	HostMutation bool `json:"-"`
}

// Result 转换为作业结果。
func (r Reply) Result() task.Result {
	return task.Result{
		Route:        r.Route,
		DisplayText:  r.DisplayText,
		OK:           r.OK,
		ErrorCode:    r.ErrorCode,
		HostMutation: r.HostMutation,
	}
}

// ReplyFromJob 根据作业的最终状态构造回复。
func ReplyFromJob(job *task.Job) Reply {
	if job.Result != nil {
		return Reply{
			DisplayText: job.Result.DisplayText,
			Route:       job.Result.Route,
			OK:          job.Result.OK,
			ErrorCode:   job.Result.ErrorCode,
		}
	}
	text := job.LastError
	if text == "" {
		text = xerrors.Describe(task.ErrJobExhausted)
	}
	return Reply{DisplayText: text, ErrorCode: job.ErrorCode}
}

// HandlerOption 配置 Handler。
type HandlerOption func(*Handler)

// WithStrategy 指定 RunAgent 路由使用的推理策略。
func WithStrategy(id agent.StrategyID) HandlerOption {
	return func(h *Handler) {
		h.strategy = id
	}
}

// WithMaxIterations 覆盖每次运行的迭代预算。
func WithMaxIterations(n int) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxIterations = n
		}
	}
}

// WithHandlerLogger 指定日志输出。
func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// Handler 处理单条话语：分类，然后直接调用工具或交给执行引擎。
type Handler struct {
	classifier    Classifier
	catalog       Catalog
	runner        Runner
	strategy      agent.StrategyID
	maxIterations int
	logger        *slog.Logger
}

// NewHandler 构造话语处理器。
func NewHandler(classifier Classifier, catalog Catalog, runner Runner, opts ...HandlerOption) *Handler {
	h := &Handler{
		classifier: classifier,
		catalog:    catalog,
		runner:     runner,
		logger:     logger.Named("bridge"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle 处理一条话语。任何失败都体现在 Reply 中，调用方不需要额外的错误分支。
func (h *Handler) Handle(ctx context.Context, utterance string, progress arena.ProgressSink) Reply {
	decision := h.classifier.Classify(ctx, utterance)
	var reply Reply
	switch decision.Route {
	case router.RouteDirectTool:
		reply = h.invoke(ctx, decision, progress)
	case router.RouteRunAgent:
		reply = h.run(ctx, decision)
	default:
		reply = Reply{DisplayText: decision.Suggestion}
		if reply.DisplayText == "" {
			reply.DisplayText = "Please rephrase your request."
		}
	}
	reply.Route = string(decision.Route)
	metrics.Utterances.WithLabelValues(reply.Route, strconv.FormatBool(reply.OK)).Inc()
	h.logger.Debug("话语处理完成",
		"route", reply.Route,
		"tool", reply.Tool,
		"ok", reply.OK,
		"error_code", reply.ErrorCode,
		"source", decision.Source,
		"cached", decision.Cached)
	return reply
}

func (h *Handler) invoke(ctx context.Context, d router.Decision, progress arena.ProgressSink) Reply {
	reply := Reply{Tool: d.Tool, HostMutation: h.mutatesHost(d.Tool)}
	obs, err := h.catalog.Invoke(arena.WithProgress(ctx, progress), d.Tool, d.Params)
	if err != nil {
		reply.DisplayText = xerrors.Describe(err)
		reply.ErrorCode = string(xerrors.CodeOf(err))
		return reply
	}
	reply.OK = true
	reply.DisplayText = obs.Summary()
	reply.Data = obs.Data()
	return reply
}

func (h *Handler) run(ctx context.Context, d router.Decision) Reply {
	if h.runner == nil {
		err := xerrors.New(agent.CodeInferenceUnavailable, "inference engine unavailable")
		return Reply{DisplayText: xerrors.Describe(err), ErrorCode: string(agent.CodeInferenceUnavailable)}
	}
	outcome, err := h.runner.Run(ctx, agent.RunRequest{
		Goal:          d.Goal,
		Strategy:      h.strategy,
		MaxIterations: h.maxIterations,
	})
	if err != nil {
		return Reply{DisplayText: xerrors.Describe(err), ErrorCode: string(xerrors.CodeOf(err))}
	}
	reply := Reply{RunID: outcome.RunID}
	if outcome.Trace != nil {
		for _, name := range outcome.Trace.ToolsUsed() {
			if h.mutatesHost(name) {
				reply.HostMutation = true
				break
			}
		}
	}
	if !outcome.Succeeded() {
		reply.DisplayText = xerrors.Describe(outcome.Err)
		reply.ErrorCode = string(xerrors.CodeOf(outcome.Err))
		return reply
	}
	reply.OK = true
	reply.DisplayText = strings.TrimSpace(outcome.Answer)
	return reply
}

func (h *Handler) mutatesHost(name string) bool {
	def, ok := h.catalog.Lookup(name)
	return ok && def.SideEffect == tools.HostMutation
}
