package arena

import (
	"context"

	"AgentOS-Bridge/internal/tools"
)

// ToolName 是对局工具的注册名。
const ToolName = "agent_arena"

type progressKey struct{}

// WithProgress 在上下文中附带进度接收者，供 agent_arena 工具流式输出。
func WithProgress(ctx context.Context, sink ProgressSink) context.Context {
	if sink == nil {
		return ctx
	}
	return context.WithValue(ctx, progressKey{}, sink)
}

func progressFrom(ctx context.Context) ProgressSink {
	sink, _ := ctx.Value(progressKey{}).(ProgressSink)
	return sink
}

// Tool 将 Arena 包装为隐藏工具：可被直接路由调用，但不提供给执行引擎，避免对局递归。
func (a *Arena) Tool() tools.Tool {
	return tools.Func{
		Def: tools.Definition{
			Name:        ToolName,
			Description: "Run an arena match between the configured reasoning strategies on a generated puzzle.",
			SideEffect:  tools.LocalMutation,
			Latency:     tools.LatencySlow,
			Hidden:      true,
			Params: []tools.Param{
				{Name: "family", Type: tools.TypeString, Default: string(FamilyPattern), Rules: "oneof=pattern deduction strategy",
					Description: "puzzle family"},
				{Name: "seed", Type: tools.TypeInteger, Description: "fixes the generated puzzle"},
			},
		},
		Fn: func(ctx context.Context, p tools.Params) (tools.Observation, error) {
			family := Family(p.String("family"))
			var (
				puzzle Puzzle
				err    error
			)
			if _, ok := p["seed"]; ok {
				puzzle, err = Generate(family, newRand(int64(p.Int("seed"))))
			} else {
				puzzle, err = a.Generate(family)
			}
			if err != nil {
				return tools.Observation{}, tools.Validationf("%v", err)
			}
			match, err := a.Play(ctx, puzzle, progressFrom(ctx))
			if err != nil {
				return tools.Observation{}, tools.Failuref("arena match could not run")
			}
			return tools.NewObservation(match.Summary(), matchData(match)), nil
		},
	}
}

func matchData(m *Match) map[string]any {
	rankings := make([]any, 0, len(m.Leaderboard.Rankings))
	for _, r := range m.Leaderboard.Rankings {
		rankings = append(rankings, map[string]any{
			"rank":     r.Rank,
			"name":     r.Name,
			"strategy": r.Strategy,
			"total":    r.Total,
			"steps":    r.Steps,
			"correct":  r.Correct,
		})
	}
	return map[string]any{
		"match_id":       m.ID,
		"family":         string(m.Puzzle.Family),
		"expected":       m.Puzzle.Expected,
		"winner":         m.Leaderboard.Winner,
		"margin_percent": m.Leaderboard.MarginPercent,
		"rankings":       rankings,
	}
}
