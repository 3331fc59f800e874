package builtin

import (
	"context"

	"AgentOS-Bridge/internal/host"
	"AgentOS-Bridge/internal/tools"
	"AgentOS-Bridge/pkg/logger"
)

// MediaActions 是媒体控制允许的操作。
var MediaActions = []string{"play", "pause", "next", "previous", "open"}

// MediaControl 返回媒体播放控制工具，所有动作经由宿主执行器串行执行。
func MediaControl(exec host.Executor) tools.Tool {
	return tools.Func{
		Def: tools.Definition{
			Name:        "media_control",
			Description: "Control the media player: play (optionally a song by an artist), pause, next, previous, open.",
			Params: []tools.Param{
				{Name: "action", Type: tools.TypeString, Required: true, Rules: "alpha,min=2,max=16"},
				{Name: "song", Type: tools.TypeString, Rules: "max=128"},
				{Name: "artist", Type: tools.TypeString, Rules: "max=128"},
			},
			SideEffect: tools.HostMutation,
			Latency:    tools.LatencyStandard,
			Allowlist:  MediaActions,
			Operation:  func(p tools.Params) string { return p.String("action") },
		},
		Fn: func(ctx context.Context, p tools.Params) (tools.Observation, error) {
			action := host.Action{Kind: p.String("action")}
			switch action.Kind {
			case "play":
				action.Target = p.String("song")
				if artist := p.String("artist"); artist != "" {
					action.Args = map[string]string{"artist": artist}
				}
			case "open":
				action.Target = "Music"
			}
			result, err := exec.Execute(ctx, action)
			if err != nil {
				logger.Named("tools").Warn("媒体控制失败", "action", action.String(), "error", err)
				return tools.Observation{}, tools.Failuref("media player did not accept %s", action.Kind)
			}
			return tools.NewObservation(result, map[string]any{
				"action": action.Kind,
				"song":   p.String("song"),
				"artist": p.String("artist"),
				"result": result,
			}), nil
		},
	}
}

// ComposeEmail 返回邮件草稿工具，只打开草稿而不发送。
func ComposeEmail(exec host.Executor) tools.Tool {
	return tools.Func{
		Def: tools.Definition{
			Name:        "compose_email",
			Description: "Open a draft email in the mail client for the user to review and send.",
			Params: []tools.Param{
				{Name: "recipient", Type: tools.TypeString, Required: true, Rules: "email"},
				{Name: "subject", Type: tools.TypeString, Required: true, Rules: "min=1,max=200"},
				{Name: "body", Type: tools.TypeString, Required: true, Rules: "max=5000"},
			},
			SideEffect: tools.HostMutation,
			Latency:    tools.LatencyStandard,
			Allowlist:  []string{"draft"},
			Operation:  func(tools.Params) string { return "draft" },
		},
		Fn: func(ctx context.Context, p tools.Params) (tools.Observation, error) {
			action := host.Action{
				Kind:   "compose_email",
				Target: p.String("recipient"),
				Args:   map[string]string{"subject": p.String("subject"), "body": p.String("body")},
			}
			result, err := exec.Execute(ctx, action)
			if err != nil {
				logger.Named("tools").Warn("邮件草稿失败", "recipient", action.Target, "error", err)
				return tools.Observation{}, tools.Failuref("mail client could not open the draft")
			}
			return tools.NewObservation(result, map[string]any{
				"recipient": action.Target,
				"subject":   p.String("subject"),
			}), nil
		},
	}
}
