package tools

import (
	"encoding/json"
	"time"
)

// Observation 是一次工具调用的结果：结构化数据加简短摘要。创建后不可修改，访问器返回副本。
type Observation struct {
	tool      string
	summary   string
	data      map[string]any
	createdAt time.Time
}

// NewObservation 创建观察结果，data 会被深拷贝。
func NewObservation(summary string, data map[string]any) Observation {
	return Observation{
		summary:   summary,
		data:      cloneMap(data),
		createdAt: time.Now(),
	}
}

// Tool 返回产生该结果的工具名。
func (o Observation) Tool() string { return o.tool }

// Summary 返回面向人的摘要。
func (o Observation) Summary() string { return o.summary }

// CreatedAt 返回创建时间。
func (o Observation) CreatedAt() time.Time { return o.createdAt }

// Data 返回结构化数据副本。
func (o Observation) Data() map[string]any { return cloneMap(o.data) }

// Value 返回单个字段的副本。
func (o Observation) Value(key string) any { return cloneValue(o.data[key]) }

func (o Observation) withTool(name string) Observation {
	o.tool = name
	return o
}

// MarshalJSON 实现 json.Marshaler。
func (o Observation) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Tool      string         `json:"tool"`
		Summary   string         `json:"summary"`
		Data      map[string]any `json:"data,omitempty"`
		CreatedAt time.Time      `json:"created_at"`
	}{o.tool, o.summary, o.data, o.createdAt})
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []float64:
		return append([]float64(nil), t...)
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, item := range t {
			out[i] = cloneMap(item)
		}
		return out
	default:
		return v
	}
}
