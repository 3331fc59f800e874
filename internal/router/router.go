// Package router 将自由文本话语分类为直接工具调用、执行引擎运行或无法分类。
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/common/lru"

	"AgentOS-Bridge/internal/llm"
	"AgentOS-Bridge/internal/observability/metrics"
	"AgentOS-Bridge/internal/tools"
	"AgentOS-Bridge/pkg/logger"
)

// Catalog 是路由所需的注册表能力。注册表自身的校验是唯一的判定依据。
type Catalog interface {
	Definitions(includeHidden bool) []tools.Definition
	Lookup(name string) (tools.Definition, bool)
	Validate(name string, params tools.Params) (tools.Params, error)
}

// Option 配置路由器。
type Option func(*Router)

// WithInference 启用推理辅助的工具抽取。
func WithInference(client llm.Client) Option {
	return func(r *Router) {
		r.client = client
	}
}

// WithCacheSize 设置决策缓存容量，0 表示不缓存。
func WithCacheSize(n int) Option {
	return func(r *Router) {
		r.cacheSize = n
	}
}

// WithLogger 指定日志实例。
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// Router 是意图路由器，可并发使用。
type Router struct {
	catalog   Catalog
	client    llm.Client
	rules     []rule
	cacheSize int
	cache     *lru.Cache[string, Decision]
	logger    *slog.Logger
}

// New 创建路由器。
func New(catalog Catalog, opts ...Option) *Router {
	r := &Router{
		catalog:   catalog,
		rules:     defaultRules(),
		cacheSize: 256,
		logger:    logger.Named("router"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.cacheSize > 0 {
		r.cache = lru.NewCache[string, Decision](r.cacheSize)
	}
	return r
}

// Classify 对话语分类。返回值总是一个有效决策，Unclassified 也不是错误。
func (r *Router) Classify(ctx context.Context, utterance string) Decision {
	text := normalize(utterance)
	// 参数保留原话语的大小写，因此缓存键区分大小写。
	key := text
	if r.cache != nil {
		if d, ok := r.cache.Get(key); ok {
			d = d.clone()
			d.Utterance = utterance
			d.Cached = true
			r.observe(d)
			return d
		}
	}

	d, cacheable := r.classify(ctx, text)
	d.Utterance = utterance
	if d.Route == RouteRunAgent && d.Goal == "" {
		d.Goal = text
	}
	if r.cache != nil && cacheable {
		r.cache.Add(key, d.clone())
	}
	r.observe(d)
	return d
}

func (r *Router) classify(ctx context.Context, text string) (Decision, bool) {
	if d, ok := r.matchRules(text); ok {
		return d, true
	}
	if r.client != nil {
		d, err := r.infer(ctx, text)
		if err == nil {
			return d, true
		}
		r.logger.Warn("推理辅助分类失败，使用兜底规则", "error", err)
		return fallback(text), false
	}
	return fallback(text), true
}

func (r *Router) matchRules(text string) (Decision, bool) {
	for _, rl := range r.rules {
		m := rl.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		name, params, ok := rl.build(m)
		if !ok {
			continue
		}
		if rl.allowedOnly && !r.permitted(name, params) {
			continue
		}
		d := r.validated(name, params, text)
		d.Source = SourceRule
		return d, true
	}
	return Decision{}, false
}

func (r *Router) permitted(name string, params tools.Params) bool {
	def, ok := r.catalog.Lookup(name)
	if !ok || def.Operation == nil {
		return false
	}
	return slices.Contains(def.Allowlist, def.Operation(params))
}

// validated 用注册表校验直接调用，失败时降级为以原话语为目标的引擎运行。
func (r *Router) validated(name string, params tools.Params, text string) Decision {
	normalized, err := r.catalog.Validate(name, params)
	if err != nil {
		r.logger.Debug("直接调用未通过校验，降级为执行引擎", "tool", name, "error", err)
		d := RunAgent(text)
		d.Downgraded = err.Error()
		return d
	}
	return DirectTool(name, normalized)
}

const classifyPrompt = `Classify the user's request for a desktop agent.
Available tools:
%s
Reply with one JSON object and nothing else:
{"route": "direct_tool" | "run_agent" | "unclassified", "tool": "<tool name or empty>", "params": {<named parameters>}}
Use "direct_tool" only when a single tool call fully satisfies the request and every required parameter is known.
Use "run_agent" when the request needs reasoning or several steps. Use "unclassified" for gibberish.

Request: %s`

type inference struct {
	Route  Route          `json:"route"`
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
}

func (r *Router) infer(ctx context.Context, text string) (Decision, error) {
	var catalog strings.Builder
	for _, def := range r.catalog.Definitions(false) {
		catalog.WriteString("- " + def.Signature() + "\n")
	}
	resp, err := r.client.Generate(ctx, llm.Request{
		Prompt:      fmt.Sprintf(classifyPrompt, catalog.String(), text),
		Constraints: llm.Constraints{JSON: true, MaxTokens: 256},
	})
	if err != nil {
		return Decision{}, err
	}
	raw := extractJSON(resp.Text)
	var out inference
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Decision{}, fmt.Errorf("decode classification: %w", err)
	}

	var d Decision
	switch out.Route {
	case RouteDirectTool:
		d = r.validated(out.Tool, tools.Params(out.Params), text)
	case RouteUnclassified:
		d = unclassified(text)
	default:
		d = RunAgent(text)
	}
	d.Source = SourceInference
	return d, nil
}

// extractJSON 截取第一个 '{' 到最后一个 '}' 之间的内容，容忍模型在 JSON 前后附加文字。
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

func fallback(text string) Decision {
	if strings.IndexFunc(text, unicode.IsLetter) >= 0 {
		d := RunAgent(text)
		d.Source = SourceFallback
		return d
	}
	d := unclassified(text)
	d.Source = SourceFallback
	return d
}

func unclassified(text string) Decision {
	suggestion := `Please rephrase, for example "pause the music", "calculate sqrt(1444)" or "search for Go tutorials".`
	if text != "" {
		suggestion = fmt.Sprintf("I could not understand %q. %s", text, suggestion)
	}
	return Decision{Route: RouteUnclassified, Suggestion: suggestion}
}

func (r *Router) observe(d Decision) {
	source := string(d.Source)
	if d.Cached {
		source = "cache"
	}
	metrics.RouteDecisions.WithLabelValues(string(d.Route), source).Inc()
}

// normalize 折叠空白并去掉句末标点。
func normalize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, ".!?。！？ ")
}
