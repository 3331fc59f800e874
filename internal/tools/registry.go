package tools

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	xerrors "AgentOS-Bridge/internal/errors"
	"AgentOS-Bridge/internal/observability/metrics"
	"AgentOS-Bridge/pkg/logger"
)

// Budgets 是各延迟等级的调用超时。
type Budgets struct {
	Fast     time.Duration
	Standard time.Duration
	Slow     time.Duration
}

// DefaultBudgets 返回默认超时。
func DefaultBudgets() Budgets {
	return Budgets{Fast: 5 * time.Second, Standard: 30 * time.Second, Slow: 120 * time.Second}
}

func (b Budgets) timeout(l Latency) time.Duration {
	switch l {
	case LatencyFast:
		return b.Fast
	case LatencySlow:
		return b.Slow
	default:
		return b.Standard
	}
}

// Option 配置注册表。
type Option func(*Registry)

// WithBudgets 设置延迟等级对应的超时。
func WithBudgets(b Budgets) Option {
	return func(r *Registry) {
		if b.Fast > 0 {
			r.budgets.Fast = b.Fast
		}
		if b.Standard > 0 {
			r.budgets.Standard = b.Standard
		}
		if b.Slow > 0 {
			r.budgets.Slow = b.Slow
		}
	}
}

// WithPureQueryRetries 设置无副作用工具的额外重试次数。
func WithPureQueryRetries(n int) Option {
	return func(r *Registry) {
		if n >= 0 {
			r.pureRetries = n
		}
	}
}

// WithLogger 指定日志实例。
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// Registry 保存全部工具并统一负责校验、授权、超时与重试。
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]Tool
	defs        map[string]Definition
	order       []string
	validate    *validator.Validate
	budgets     Budgets
	pureRetries int
	logger      *slog.Logger
}

// NewRegistry 创建空注册表。
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools:       make(map[string]Tool),
		defs:        make(map[string]Definition),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		budgets:     DefaultBudgets(),
		pureRetries: 2,
		logger:      logger.Named("tools"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register 注册工具，名称重复返回 DuplicateTool。
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return Validationf("tool is nil")
	}
	def := t.Definition()
	if err := checkDefinition(r.validate, def); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return xerrors.New(CodeDuplicate, fmt.Sprintf("tool %s already registered", def.Name))
	}
	r.tools[def.Name] = t
	r.defs[def.Name] = def
	r.order = append(r.order, def.Name)
	return nil
}

// MustRegister 注册多个工具，失败时 panic，仅用于启动装配。
func (r *Registry) MustRegister(ts ...Tool) {
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Lookup 返回工具定义。
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Definitions 按注册顺序返回定义，includeHidden 为 false 时跳过隐藏工具。
func (r *Registry) Definitions(includeHidden bool) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		def := r.defs[name]
		if def.Hidden && !includeHidden {
			continue
		}
		out = append(out, def)
	}
	return out
}

// Validate 只做参数校验，返回规范化参数。
func (r *Registry) Validate(name string, params Params) (Params, error) {
	def, ok := r.Lookup(name)
	if !ok {
		return nil, xerrors.New(CodeUnknown, fmt.Sprintf("unknown tool %q", name))
	}
	return normalize(r.validate, def, params)
}

// Invoke 校验参数、检查允许列表并在延迟预算内执行工具。
func (r *Registry) Invoke(ctx context.Context, name string, params Params) (Observation, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	def := r.defs[name]
	r.mu.RUnlock()
	if !ok {
		r.record(name, CodeUnknown, 0)
		return Observation{}, xerrors.New(CodeUnknown, fmt.Sprintf("unknown tool %q", name))
	}

	normalized, err := normalize(r.validate, def, params)
	if err != nil {
		r.record(name, CodeValidation, 0)
		return Observation{}, err
	}

	if def.SideEffect == HostMutation {
		op := def.Operation(normalized)
		if !slices.Contains(def.Allowlist, op) {
			logger.Audit().Warn("拒绝未授权的宿主操作", "tool", name, "operation", op)
			r.record(name, CodePermissionDenied, 0)
			return Observation{}, xerrors.New(CodePermissionDenied,
				fmt.Sprintf("%s: operation %q is not permitted", name, op))
		}
		logger.Audit().Info("执行宿主操作", "tool", name, "operation", op)
	}

	attempts := 1
	if def.SideEffect == PureQuery {
		attempts += r.pureRetries
	}
	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		obs, err := r.call(ctx, t, def, normalized)
		if err == nil {
			r.record(name, "ok", time.Since(start))
			return obs.withTool(name), nil
		}
		lastErr = err
		if ctx.Err() != nil || !xerrors.RetryableError(err) {
			break
		}
		r.logger.Debug("重试无副作用工具", "tool", name, "attempt", attempt, "error", err)
	}
	r.record(name, xerrors.CodeOf(lastErr), time.Since(start))
	return Observation{}, lastErr
}

// call 在超时内执行一次调用。工具忽略 context 时调用方仍会按时返回。
func (r *Registry) call(ctx context.Context, t Tool, def Definition, params Params) (Observation, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.budgets.timeout(def.Latency))
	defer cancel()

	type result struct {
		obs Observation
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("工具执行崩溃", "tool", def.Name, "panic", p)
				done <- result{err: Failuref("%s failed unexpectedly", def.Name)}
			}
		}()
		obs, err := t.Invoke(callCtx, params.Clone())
		done <- result{obs: obs, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return Observation{}, r.sanitize(def, res.err)
		}
		return res.obs, nil
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return Observation{}, xerrors.Wrap(CodeExecution, ctx.Err(),
				fmt.Sprintf("%s cancelled", def.Name), xerrors.WithRetryable(false))
		}
		return Observation{}, xerrors.New(CodeExecution,
			fmt.Sprintf("%s timed out after %s", def.Name, r.budgets.timeout(def.Latency)))
	}
}

// sanitize 保留工具自身给出的结构化错误，其余错误只暴露通用原因。
func (r *Registry) sanitize(def Definition, err error) error {
	if isToolError(err) {
		if def.SideEffect != PureQuery && xerrors.CodeOf(err) == CodeExecution {
			e, _ := xerrors.From(err)
			return xerrors.Wrap(CodeExecution, err, e.Message(), xerrors.WithRetryable(false))
		}
		return err
	}
	r.logger.Warn("工具返回非结构化错误", "tool", def.Name, "error", err)
	return xerrors.Wrap(CodeExecution, err, fmt.Sprintf("%s failed", def.Name),
		xerrors.WithRetryable(def.SideEffect == PureQuery))
}

func (r *Registry) record(tool string, outcome xerrors.Code, elapsed time.Duration) {
	metrics.ToolInvocations.WithLabelValues(tool, string(outcome)).Inc()
	if elapsed > 0 {
		metrics.ToolLatency.WithLabelValues(tool).Observe(elapsed.Seconds())
	}
}

// Invoker 是执行引擎所需的最小工具能力。
type Invoker interface {
	Definitions(includeHidden bool) []Definition
	Invoke(ctx context.Context, name string, params Params) (Observation, error)
}

// AgentView 返回不暴露隐藏工具的视图，隐藏工具在其中视为不存在。
func (r *Registry) AgentView() Invoker {
	return agentView{r: r}
}

type agentView struct{ r *Registry }

func (v agentView) Definitions(bool) []Definition {
	return v.r.Definitions(false)
}

func (v agentView) Invoke(ctx context.Context, name string, params Params) (Observation, error) {
	if def, ok := v.r.Lookup(name); ok && def.Hidden {
		return Observation{}, xerrors.New(CodeUnknown, fmt.Sprintf("unknown tool %q", name))
	}
	return v.r.Invoke(ctx, name, params)
}
