package tools

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// checkDefinition 在注册时校验定义本身，确保运行期不会因规则错误而崩溃。
func checkDefinition(v *validator.Validate, def Definition) (err error) {
	if strings.TrimSpace(def.Name) == "" {
		return Validationf("tool name is required")
	}
	switch def.SideEffect {
	case PureQuery, LocalMutation:
	case HostMutation:
		if len(def.Allowlist) == 0 || def.Operation == nil {
			return Validationf("tool %s mutates the host and must declare an allowlist", def.Name)
		}
	default:
		return Validationf("tool %s declares unknown side effect %q", def.Name, def.SideEffect)
	}
	seen := make(map[string]struct{}, len(def.Params))
	for _, p := range def.Params {
		if _, dup := seen[p.Name]; dup {
			return Validationf("tool %s declares parameter %s twice", def.Name, p.Name)
		}
		seen[p.Name] = struct{}{}
		if _, ok := zeroOf(p.Type); !ok {
			return Validationf("tool %s parameter %s has unsupported type %q", def.Name, p.Name, p.Type)
		}
		if p.Rules == "" {
			continue
		}
		if err := probeRules(v, p); err != nil {
			return err
		}
	}
	return nil
}

func probeRules(v *validator.Validate, p Param) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Validationf("parameter %s has malformed rules %q", p.Name, p.Rules)
		}
	}()
	zero, _ := zeroOf(p.Type)
	_ = v.Var(zero, p.Rules)
	return nil
}

func zeroOf(t ParamType) (any, bool) {
	switch t {
	case TypeString:
		return "", true
	case TypeNumber, TypeInteger:
		return float64(0), true
	case TypeBoolean:
		return false, true
	}
	return nil, false
}

// normalize 按定义校验参数并返回规范化副本：补齐默认值、转换类型、拒绝未声明的参数。
func normalize(v *validator.Validate, def Definition, in Params) (Params, error) {
	out := make(Params, len(def.Params))
	declared := make(map[string]struct{}, len(def.Params))
	for _, p := range def.Params {
		declared[p.Name] = struct{}{}
		raw, present := in[p.Name]
		if !present || raw == nil {
			if p.Default != nil {
				out[p.Name] = p.Default
				continue
			}
			if p.Required {
				return nil, Validationf("%s: missing required parameter %q", def.Name, p.Name)
			}
			continue
		}
		value, ok := coerce(p.Type, raw)
		if !ok {
			return nil, Validationf("%s: parameter %q must be %s", def.Name, p.Name, p.Type)
		}
		if p.Rules != "" {
			if err := v.Var(value, p.Rules); err != nil {
				return nil, Validationf("%s: parameter %q %s", def.Name, p.Name, describeRule(err))
			}
		}
		out[p.Name] = value
	}
	var extra []string
	for name := range in {
		if _, ok := declared[name]; !ok {
			extra = append(extra, name)
		}
	}
	if len(extra) > 0 {
		slices.Sort(extra)
		return nil, Validationf("%s: unexpected parameters %s", def.Name, strings.Join(extra, ", "))
	}
	return out, nil
}

func describeRule(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return fmt.Sprintf("violates %s=%s", fe.Tag(), fe.Param())
		}
		return "violates " + fe.Tag()
	}
	return "is invalid"
}
