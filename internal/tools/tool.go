package tools

import (
	"context"
	"fmt"
	"strings"
)

// SideEffect 描述调用对外部世界的影响，决定重试与授权策略。
type SideEffect string

const (
	// PureQuery 无副作用，可以安全重试。
	PureQuery SideEffect = "pure_query"
	// HostMutation 改变宿主环境且不可幂等，每次调用至多执行一次，必须声明允许列表。
	HostMutation SideEffect = "host_mutation"
	// LocalMutation 只改变进程内状态。
	LocalMutation SideEffect = "local_mutation"
)

// Latency 是工具声明的预期耗时等级，决定调用超时。
type Latency string

const (
	LatencyFast     Latency = "fast"
	LatencyStandard Latency = "standard"
	LatencySlow     Latency = "slow"
)

// ParamType 是参数的 JSON 类型。
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
)

// Param 描述一个具名参数。Rules 使用 validator 标签语法，例如 "oneof=play pause"。
type Param struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required,omitempty"`
	Rules       string    `json:"rules,omitempty"`
	Default     any       `json:"default,omitempty"`
}

// Definition 是注册到注册表的工具描述。
type Definition struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Params      []Param    `json:"params"`
	SideEffect  SideEffect `json:"side_effect"`
	Latency     Latency    `json:"latency"`
	// Allowlist 列出 HostMutation 工具允许的底层操作。
	Allowlist []string `json:"allowlist,omitempty"`
	// Operation 从规范化后的参数中提取待授权的底层操作。
	Operation func(Params) string `json:"-"`
	// Hidden 的工具可以直接调用，但不会提供给智能体运行。
	Hidden bool `json:"hidden,omitempty"`
}

// Signature 返回用于推理提示的一行描述。
func (d Definition) Signature() string {
	parts := make([]string, 0, len(d.Params))
	for _, p := range d.Params {
		part := fmt.Sprintf("%s: %s", p.Name, p.Type)
		if !p.Required {
			part += "?"
		}
		if p.Rules != "" {
			part += " [" + p.Rules + "]"
		}
		parts = append(parts, part)
	}
	return fmt.Sprintf("%s(%s) - %s", d.Name, strings.Join(parts, ", "), d.Description)
}

// Tool 是注册表统一调用的能力。
type Tool interface {
	Definition() Definition
	Invoke(ctx context.Context, params Params) (Observation, error)
}

// Func 将定义与函数组合为 Tool。
type Func struct {
	Def Definition
	Fn  func(ctx context.Context, params Params) (Observation, error)
}

// Definition 实现 Tool。
func (f Func) Definition() Definition {
	return f.Def
}

// Invoke 实现 Tool。
func (f Func) Invoke(ctx context.Context, params Params) (Observation, error) {
	return f.Fn(ctx, params)
}
