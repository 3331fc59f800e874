package builtin

import (
	"context"
	"math"

	"AgentOS-Bridge/internal/tools"
)

// Calculator 返回算术求值工具。
func Calculator() tools.Tool {
	return tools.Func{
		Def: tools.Definition{
			Name:        "calculator",
			Description: "Evaluate an arithmetic expression such as sqrt(1444), 2^10 or (3+4)*5.",
			Params: []tools.Param{
				{Name: "expression", Type: tools.TypeString, Required: true, Rules: "min=1,max=256",
					Description: "expression using + - * / ^ and math functions"},
			},
			SideEffect: tools.PureQuery,
			Latency:    tools.LatencyFast,
		},
		Fn: calculate,
	}
}

func calculate(ctx context.Context, p tools.Params) (tools.Observation, error) {
	expr := p.String("expression")
	v, err := evalNumber(ctx, expr, nil)
	if err != nil {
		return tools.Observation{}, tools.Validationf("calculator: cannot evaluate %q", expr)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return tools.Observation{}, tools.Validationf("calculator: %q has no finite value", expr)
	}
	text := formatNumber(v)
	return tools.NewObservation(text, map[string]any{
		"expression": expr,
		"result":     v,
		"display":    text,
	}), nil
}
