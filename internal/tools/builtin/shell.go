package builtin

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"AgentOS-Bridge/internal/tools"
	"AgentOS-Bridge/pkg/logger"
)

const shellOperators = "|;&<>`$\\\n"

// DefaultShellAllowlist 是未配置允许列表时 shell 工具可以执行的命令。
var DefaultShellAllowlist = []string{"ls", "pwd", "whoami", "df", "free", "mkdir", "touch", "echo", "cat", "grep", "date", "uname"}

// Shell 返回受允许列表约束的命令执行工具。命令不经过 shell 解释器，直接以参数列表执行。
func Shell(workspace string, opts ShellOptions) tools.Tool {
	limit := opts.OutputLimit
	if limit <= 0 {
		limit = 4096
	}
	allow := append([]string(nil), opts.Allowlist...)
	if len(allow) == 0 {
		allow = append(allow, DefaultShellAllowlist...)
	}
	return tools.Func{
		Def: tools.Definition{
			Name:        "shell",
			Description: "Run one allowlisted command (" + strings.Join(allow, ", ") + ") inside the workspace.",
			Params: []tools.Param{
				{Name: "command", Type: tools.TypeString, Required: true, Rules: "min=1,max=512"},
			},
			SideEffect: tools.HostMutation,
			Latency:    tools.LatencyStandard,
			Allowlist:  allow,
			Operation: func(p tools.Params) string {
				fields := strings.Fields(p.String("command"))
				if len(fields) == 0 {
					return ""
				}
				return fields[0]
			},
		},
		Fn: func(ctx context.Context, p tools.Params) (tools.Observation, error) {
			return runShell(ctx, workspace, limit, p.String("command"))
		},
	}
}

func runShell(ctx context.Context, workspace string, limit int, command string) (tools.Observation, error) {
	if strings.ContainsAny(command, shellOperators) {
		return tools.Observation{}, tools.Deniedf("shell: operators and substitutions are not permitted")
	}
	fields := strings.Fields(command)
	for _, arg := range fields[1:] {
		if filepath.IsAbs(arg) || strings.Contains(arg, "..") {
			return tools.Observation{}, tools.Deniedf("shell: argument %q leaves the workspace", arg)
		}
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return tools.Observation{}, err
	}

	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Dir = workspace
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	runErr := cmd.Run()

	text := strings.TrimSpace(out.String())
	truncated := len(text) > limit
	if truncated {
		text = text[:limit] + "\n...[truncated]"
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return tools.Observation{}, tools.Failuref("%s exited with status %d: %s",
				fields[0], exitErr.ExitCode(), firstLine(text))
		}
		logger.Named("tools").Warn("命令无法启动", "command", fields[0], "error", runErr)
		return tools.Observation{}, tools.Failuref("%s could not be started", fields[0])
	}
	if text == "" {
		text = "command completed"
	}
	return tools.NewObservation(text, map[string]any{
		"command":   command,
		"output":    text,
		"truncated": truncated,
	}), nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	if len(line) > 200 {
		line = line[:200]
	}
	return line
}
