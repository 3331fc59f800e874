package tools

import (
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
)

// Params 是工具调用的具名参数。数值统一以 float64 表示，与 JSON 解码结果保持一致。
type Params map[string]any

// Clone 返回浅拷贝。
func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	return maps.Clone(p)
}

// String 返回字符串参数，缺失时返回空串。
func (p Params) String(name string) string {
	switch v := p[name].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Float 返回数值参数。
func (p Params) Float(name string) float64 {
	f, _ := toFloat(p[name])
	return f
}

// Int 返回整数参数。
func (p Params) Int(name string) int {
	return int(p.Float(name))
}

// Bool 返回布尔参数。
func (p Params) Bool(name string) bool {
	b, _ := p[name].(bool)
	return b
}

// coerce 将值转换为声明的类型，接受推理引擎常见的字符串化数值与布尔值。
func coerce(t ParamType, v any) (any, bool) {
	switch t {
	case TypeString:
		switch s := v.(type) {
		case string:
			return s, true
		case float64, int, int64, bool:
			return fmt.Sprint(s), true
		}
	case TypeNumber:
		return toFloat(v)
	case TypeInteger:
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) {
			return nil, false
		}
		return f, true
	case TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, true
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			return parsed, err == nil
		}
	}
	return nil, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
