package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration 支持在配置文件中以 "1s"、"250ms" 形式书写时长。
type Duration time.Duration

// Std 返回标准库时长。
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String 实现 fmt.Stringer。
func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalJSON 接受字符串时长或以秒为单位的数字。
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

// MarshalJSON 以字符串形式输出时长。
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalYAML 接受字符串时长或以秒为单位的数字。
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

// MarshalYAML 以字符串形式输出时长。
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) set(raw any) error {
	switch v := raw.(type) {
	case nil:
		*d = 0
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("解析时长 %q 失败: %w", v, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(v * float64(time.Second))
	case int:
		*d = Duration(time.Duration(v) * time.Second)
	default:
		return fmt.Errorf("不支持的时长格式: %T", raw)
	}
	return nil
}
