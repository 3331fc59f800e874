package router

import "AgentOS-Bridge/internal/tools"

// Route 是分类结果的种类。
type Route string

const (
	// RouteDirectTool 直接调用单个工具。
	RouteDirectTool Route = "direct_tool"
	// RouteRunAgent 交由执行引擎推理。
	RouteRunAgent Route = "run_agent"
	// RouteUnclassified 无法理解，原样返回并提示改写。它不是错误。
	RouteUnclassified Route = "unclassified"
)

// Source 标记决策来源。
type Source string

const (
	SourceRule      Source = "rule"
	SourceInference Source = "inference"
	SourceFallback  Source = "fallback"
)

// Decision 是一次分类结果。
type Decision struct {
	Route      Route        `json:"route"`
	Tool       string       `json:"tool,omitempty"`
	Params     tools.Params `json:"params,omitempty"`
	Goal       string       `json:"goal,omitempty"`
	Utterance  string       `json:"utterance"`
	Source     Source       `json:"source"`
	Suggestion string       `json:"suggestion,omitempty"`
	// Downgraded 记录 DirectTool 因校验失败降级为 RunAgent 的原因。
	Downgraded string `json:"downgraded,omitempty"`
	Cached     bool   `json:"cached,omitempty"`
}

func (d Decision) clone() Decision {
	if d.Params != nil {
		d.Params = d.Params.Clone()
	}
	return d
}

// DirectTool 构造直接调用决策。
func DirectTool(name string, params tools.Params) Decision {
	return Decision{Route: RouteDirectTool, Tool: name, Params: params}
}

// RunAgent 构造执行引擎决策。
func RunAgent(goal string) Decision {
	return Decision{Route: RouteRunAgent, Goal: goal}
}
