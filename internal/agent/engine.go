package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "AgentOS-Bridge/internal/errors"
	"AgentOS-Bridge/internal/knowledge"
	"AgentOS-Bridge/internal/llm"
	"AgentOS-Bridge/internal/observability/metrics"
	"AgentOS-Bridge/internal/storage"
	"AgentOS-Bridge/internal/tools"
	"AgentOS-Bridge/pkg/logger"
)

// defaultMaxIterations 是未配置时允许的 Acting 周期数。
const defaultMaxIterations = 6

// RunRequest 描述一次运行。
type RunRequest struct {
	Goal          string     `json:"goal"`
	Strategy      StrategyID `json:"strategy,omitempty"`
	MaxIterations int        `json:"max_iterations,omitempty"`
}

// Outcome 是运行的最终结果。Err 为 nil 表示成功。
type Outcome struct {
	RunID      string
	Strategy   StrategyID
	Goal       string
	Answer     string
	Err        error
	Trace      *Trace
	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded 判断运行是否给出了最终答案。
func (o *Outcome) Succeeded() bool {
	return o != nil && o.Err == nil
}

// Steps 返回轨迹长度。
func (o *Outcome) Steps() int {
	if o == nil || o.Trace == nil {
		return 0
	}
	return o.Trace.Len()
}

// Engine 以显式状态机运行推理策略。运行之间不共享可变状态，可并发调用 Run。
type Engine struct {
	llmClient     llm.Client
	tools         tools.Invoker
	strategies    Strategies
	defaultID     StrategyID
	maxIterations int
	knowledge     knowledge.Provider
	records       storage.RecordRepository
	logger        *slog.Logger
}

// Option 定义可选的 Engine 配置。
type Option func(*Engine)

// WithStrategies 替换策略集合。
func WithStrategies(strategies Strategies) Option {
	return func(e *Engine) {
		if len(strategies) > 0 {
			e.strategies = strategies
		}
	}
}

// WithDefaultStrategy 设置请求未指定策略时使用的策略。
func WithDefaultStrategy(id StrategyID) Option {
	return func(e *Engine) {
		if id != "" {
			e.defaultID = id
		}
	}
}

// WithMaxIterations 设置默认迭代预算。
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithKnowledgeProvider 配置知识库，用于在推理前补充工具使用提示。
func WithKnowledgeProvider(provider knowledge.Provider) Option {
	return func(e *Engine) {
		e.knowledge = provider
	}
}

// WithRecordRepository 配置运行记录仓库。
func WithRecordRepository(repo storage.RecordRepository) Option {
	return func(e *Engine) {
		e.records = repo
	}
}

// WithLogger 替换日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New 创建一个 Engine。invoker 通常是 Registry.AgentView()。
func New(client llm.Client, invoker tools.Invoker, opts ...Option) *Engine {
	e := &Engine{
		llmClient:     client,
		tools:         invoker,
		strategies:    DefaultStrategies(false),
		defaultID:     StrategyReAct,
		maxIterations: defaultMaxIterations,
		logger:        logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Strategies 返回可用策略。
func (e *Engine) Strategies() []StrategyID {
	return e.strategies.IDs()
}

// Run 执行一次运行并返回 Outcome；错误通过 Outcome.Err 给出，只有请求本身非法时才返回 error。
func (e *Engine) Run(ctx context.Context, req RunRequest) (*Outcome, error) {
	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "goal must not be empty")
	}
	if e.llmClient == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "inference client is not configured")
	}
	id := req.Strategy
	if id == "" {
		id = e.defaultID
	}
	strategy, ok := e.strategies[id]
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown strategy %q", id))
	}
	budget := req.MaxIterations
	if budget <= 0 {
		budget = e.maxIterations
	}

	r := &run{
		engine:   e,
		strategy: strategy,
		budget:   budget,
		trace:    newTrace(),
		scratch:  &Scratch{Goal: goal},
		outcome: &Outcome{
			RunID:     uuid.NewString(),
			Strategy:  id,
			Goal:      goal,
			StartedAt: time.Now(),
		},
	}
	r.outcome.Trace = r.trace
	if strategy.UsesTools() && e.tools != nil {
		r.scratch.Tools = e.tools.Definitions(false)
	}
	r.scratch.Knowledge = e.collectKnowledge(goal)

	r.execute(ctx)
	e.finish(ctx, r.outcome)
	return r.outcome, nil
}

// run 是单次运行独占的状态。
type run struct {
	engine   *Engine
	strategy Strategy
	budget   int
	acting   int
	trace    *Trace
	scratch  *Scratch
	outcome  *Outcome
}

func (r *run) execute(ctx context.Context) {
	r.trace.append(TraceEntry{State: StateInit})
	for {
		if r.cancelled(ctx) {
			return
		}
		step, output, ok := r.reason(ctx)
		if !ok {
			return
		}
		if step.Final || !r.strategy.UsesTools() {
			r.finalize(step)
			return
		}
		if r.cancelled(ctx) {
			return
		}
		if r.acting >= r.budget {
			r.fail(xerrors.New(CodeBudgetExceeded,
				fmt.Sprintf("no final answer after %d tool cycles", r.budget)))
			return
		}
		if !r.act(ctx, step, output) {
			return
		}
	}
}

// reason 进入 Reasoning：调用推理引擎并由策略解释输出。
func (r *run) reason(ctx context.Context) (Step, string, bool) {
	entered := time.Now()
	resp, err := r.engine.llmClient.Generate(ctx, r.strategy.Prompt(r.scratch))
	if err != nil {
		r.trace.append(TraceEntry{State: StateReasoning, Error: xerrors.Describe(err), At: entered})
		if ctx.Err() != nil {
			r.cancel(ctx.Err())
			return Step{}, "", false
		}
		r.fail(xerrors.Wrap(CodeInferenceUnavailable, err, "inference engine unavailable"))
		return Step{}, "", false
	}
	output := ""
	if resp != nil {
		output = resp.Text
	}
	step := r.strategy.Decide(output)
	r.trace.append(TraceEntry{State: StateReasoning, Reasoning: step.Thought, At: entered})
	return step, output, true
}

// act 进入 Acting 与 Observing；返回 false 表示运行已终止。
func (r *run) act(ctx context.Context, step Step, output string) bool {
	r.acting++
	r.trace.append(TraceEntry{State: StateActing, Action: &ActionRecord{Tool: step.Tool, Params: step.Params}})

	if step.Invalid != "" {
		obs := formatObservation(step.Tool, step.Invalid, true)
		r.trace.append(TraceEntry{State: StateObserving, Error: step.Invalid})
		r.scratch.History = append(r.scratch.History, Exchange{Output: output, Observation: obs})
		return true
	}

	// 工具调用不受运行取消影响，只受工具自身的超时约束。
	observation, err := r.engine.invoke(context.WithoutCancel(ctx), step.Tool, step.Params)
	if err != nil {
		described := xerrors.Describe(err)
		r.trace.append(TraceEntry{State: StateObserving, Error: described})
		if !recoverable(err, r.strategy.RecoverToolErrors()) {
			r.fail(xerrors.Wrap(CodeToolFailure, err, fmt.Sprintf("tool %s failed: %s", step.Tool, described)))
			return false
		}
		r.scratch.History = append(r.scratch.History, Exchange{
			Output:      output,
			Observation: formatObservation(step.Tool, described, true),
		})
		return true
	}

	summary := observation.Summary()
	r.trace.append(TraceEntry{State: StateObserving, Observation: summary})
	r.scratch.History = append(r.scratch.History, Exchange{Output: output, Observation: formatObservation(step.Tool, summary, false)})
	return true
}

func (r *run) finalize(step Step) {
	r.trace.append(TraceEntry{State: StateFinalizing, Observation: step.Answer})
	r.outcome.Answer = step.Answer
	r.trace.append(TraceEntry{State: StateDone})
	r.trace.freeze(StatusSucceeded)
}

// cancelled 在状态边界检查取消，已取消时终止运行。
func (r *run) cancelled(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		r.cancel(err)
		return true
	}
	return false
}

func (r *run) cancel(cause error) {
	err := xerrors.Wrap(CodeCancelled, cause, "run cancelled")
	r.trace.append(TraceEntry{State: StateCancelled, Error: xerrors.Describe(err)})
	r.trace.freeze(StatusCancelled)
	r.outcome.Err = err
}

func (r *run) fail(err error) {
	r.trace.append(TraceEntry{State: StateFailed, Error: xerrors.Describe(err)})
	r.trace.freeze(StatusFailed)
	r.outcome.Err = err
}

// recoverable 判断工具错误能否作为观察反馈给策略。
func recoverable(err error, recoverExecution bool) bool {
	switch xerrors.CodeOf(err) {
	case tools.CodeUnknown, tools.CodeValidation, tools.CodePermissionDenied:
		return true
	case tools.CodeExecution:
		return recoverExecution
	default:
		return false
	}
}

func (e *Engine) invoke(ctx context.Context, name string, params tools.Params) (tools.Observation, error) {
	if e.tools == nil {
		return tools.Observation{}, xerrors.New(tools.CodeUnknown, fmt.Sprintf("unknown tool %q", name))
	}
	return e.tools.Invoke(ctx, name, params)
}

func (e *Engine) collectKnowledge(goal string) []llm.KnowledgeCard {
	if e.knowledge == nil {
		return nil
	}
	snippets := e.knowledge.Query(goal)
	cards := make([]llm.KnowledgeCard, 0, len(snippets))
	for _, s := range snippets {
		if strings.TrimSpace(s.Title) == "" && strings.TrimSpace(s.Content) == "" {
			continue
		}
		cards = append(cards, llm.KnowledgeCard{Title: s.Title, Content: s.Content})
	}
	return cards
}

// finish 记录指标、审计日志并持久化运行记录。
func (e *Engine) finish(ctx context.Context, o *Outcome) {
	o.FinishedAt = time.Now()
	status := o.Trace.Status()
	metrics.EngineRuns.WithLabelValues(string(o.Strategy), string(status)).Inc()
	metrics.EngineTraceLength.WithLabelValues(string(o.Strategy)).Observe(float64(o.Trace.Len()))

	attrs := []any{"run_id", o.RunID, "strategy", o.Strategy, "status", status, "steps", o.Trace.Len()}
	if o.Err != nil {
		attrs = append(attrs, "error_code", xerrors.CodeOf(o.Err))
	}
	logger.Audit().Info("agent run finished", attrs...)

	if e.records == nil {
		return
	}
	record := storage.RunRecord{
		ID:         o.RunID,
		Strategy:   string(o.Strategy),
		Goal:       o.Goal,
		Status:     string(status),
		Answer:     o.Answer,
		Steps:      o.Trace.Len(),
		CreatedAt:  o.StartedAt.Unix(),
		FinishedAt: o.FinishedAt.Unix(),
	}
	if o.Err != nil {
		record.ErrorCode = string(xerrors.CodeOf(o.Err))
		record.ErrorText = xerrors.Describe(o.Err)
	}
	if encoded, err := json.Marshal(o.Trace); err == nil {
		record.Trace = encoded
	}
	if err := e.records.AppendRun(context.WithoutCancel(ctx), record); err != nil {
		e.logger.Error("保存运行记录失败", "run_id", o.RunID, "error", err)
	}
}

// History 返回最近的运行记录。
func (e *Engine) History(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	if e.records == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "record repository is not configured")
	}
	records, err := e.records.ListRuns(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list run records")
	}
	return records, nil
}
