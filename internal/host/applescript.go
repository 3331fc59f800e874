package host

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner 执行外部命令，测试时可替换。
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// AppleScript 通过 osascript 与 open 命令驱动 macOS 桌面。
type AppleScript struct {
	Player string
	run    Runner
}

// NewAppleScript 创建执行器，player 为媒体应用名称。
func NewAppleScript(player string, run Runner) *AppleScript {
	if player == "" {
		player = "Music"
	}
	if run == nil {
		run = execRunner
	}
	return &AppleScript{Player: player, run: run}
}

var mediaVerbs = map[string]string{
	"play":     "play",
	"pause":    "pause",
	"next":     "next track",
	"previous": "previous track",
}

// Execute 实现 Executor。
func (a *AppleScript) Execute(ctx context.Context, action Action) (string, error) {
	switch action.Kind {
	case "play":
		if action.Target != "" {
			return a.playTrack(ctx, action.Target, action.Args["artist"])
		}
		fallthrough
	case "pause", "next", "previous":
		script := fmt.Sprintf("tell application %s to %s", quote(a.Player), mediaVerbs[action.Kind])
		if _, err := a.run(ctx, "osascript", "-e", script); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s: %s", a.Player, action.Kind), nil
	case "open":
		if action.Target == "" {
			return "", fmt.Errorf("open requires a target")
		}
		args := []string{action.Target}
		if !strings.Contains(action.Target, "://") {
			args = []string{"-a", action.Target}
		}
		if _, err := a.run(ctx, "open", args...); err != nil {
			return "", err
		}
		return "opened " + action.Target, nil
	case "compose_email":
		script := fmt.Sprintf(`tell application "Mail"
set msg to make new outgoing message with properties {subject:%s, content:%s, visible:true}
tell msg to make new to recipient at end of to recipients with properties {address:%s}
activate
end tell`, quote(action.Args["subject"]), quote(action.Args["body"]), quote(action.Target))
		if _, err := a.run(ctx, "osascript", "-e", script); err != nil {
			return "", err
		}
		return "drafted email to " + action.Target, nil
	default:
		return "", fmt.Errorf("unsupported host action %q", action.Kind)
	}
}

func (a *AppleScript) playTrack(ctx context.Context, song, artist string) (string, error) {
	selector := fmt.Sprintf("first track whose name is %s", quote(song))
	if artist != "" {
		selector += fmt.Sprintf(" and artist is %s", quote(artist))
	}
	script := fmt.Sprintf("tell application %s to play (%s)", quote(a.Player), selector)
	if _, err := a.run(ctx, "osascript", "-e", script); err != nil {
		return "", err
	}
	if artist != "" {
		return fmt.Sprintf("playing %q by %s", song, artist), nil
	}
	return fmt.Sprintf("playing %q", song), nil
}

// quote 生成 AppleScript 字符串字面量。
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
