package builtin

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"AgentOS-Bridge/internal/tools"
)

var plotPrefix = regexp.MustCompile(`(?i)^\s*(?:y\s*=\s*)`)

// Plot 在区间内对 y = f(x) 采样，结果可由前端绘制。
func Plot() tools.Tool {
	return tools.Func{
		Def: tools.Definition{
			Name:        "plot",
			Description: "Sample y = f(x) over a range and return the series for display.",
			Params: []tools.Param{
				{Name: "expression", Type: tools.TypeString, Required: true, Rules: "min=1,max=256"},
				{Name: "from", Type: tools.TypeNumber, Default: -3.14},
				{Name: "to", Type: tools.TypeNumber, Default: 3.14},
				{Name: "samples", Type: tools.TypeInteger, Default: float64(50), Rules: "min=2,max=500"},
			},
			SideEffect: tools.PureQuery,
			Latency:    tools.LatencyFast,
		},
		Fn: plot,
	}
}

func plot(ctx context.Context, p tools.Params) (tools.Observation, error) {
	expr := strings.TrimSpace(plotPrefix.ReplaceAllString(p.String("expression"), ""))
	from, to, n := p.Float("from"), p.Float("to"), p.Int("samples")
	if from >= to {
		return tools.Observation{}, tools.Validationf("plot: range start %g must be below end %g", from, to)
	}

	xs := make([]float64, n)
	ys := make([]any, n)
	step := (to - from) / float64(n-1)
	plotted := 0
	for i := range n {
		x := from + step*float64(i)
		xs[i] = x
		y, err := evalNumber(ctx, expr, map[string]float64{"x": x})
		if err != nil {
			if ctx.Err() != nil {
				return tools.Observation{}, ctx.Err()
			}
			return tools.Observation{}, tools.Validationf("plot: cannot evaluate %q", expr)
		}
		if math.IsNaN(y) || math.IsInf(y, 0) {
			continue
		}
		ys[i] = y
		plotted++
	}
	title := "y = " + expr
	summary := fmt.Sprintf("%s over [%g, %g], %d of %d points defined", title, from, to, plotted, n)
	return tools.NewObservation(summary, map[string]any{
		"title":    title,
		"x_values": xs,
		"y_values": ys,
	}), nil
}
