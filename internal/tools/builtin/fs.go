package builtin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"AgentOS-Bridge/internal/tools"
)

const maxReadBytes = 64 << 10

// openWorkspace 打开工作区根目录，之后的访问都不能越出该目录。
func openWorkspace(dir string) (*os.Root, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenRoot(dir)
}

func workspacePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		p = "."
	}
	if filepath.IsAbs(p) {
		return "", tools.Deniedf("path %q must be relative to the workspace", p)
	}
	clean := filepath.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", tools.Deniedf("path %q leaves the workspace", p)
	}
	return clean, nil
}

func fsError(op, p string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return tools.Validationf("%s: %s does not exist", op, p)
	case errors.Is(err, fs.ErrPermission):
		return tools.Deniedf("%s: %s is not accessible", op, p)
	default:
		// os.Root 拒绝越界符号链接时返回的错误也落在这里
		return tools.Failuref("%s: %s could not be accessed", op, p)
	}
}

// FSList 列出工作区目录。
func FSList(workspace string) tools.Tool {
	return tools.Func{
		Def: tools.Definition{
			Name:        "fs_list",
			Description: "List files in a workspace directory.",
			Params:      []tools.Param{{Name: "path", Type: tools.TypeString, Default: ".", Rules: "max=256"}},
			SideEffect:  tools.PureQuery,
			Latency:     tools.LatencyFast,
		},
		Fn: func(_ context.Context, p tools.Params) (tools.Observation, error) {
			rel, err := workspacePath(p.String("path"))
			if err != nil {
				return tools.Observation{}, err
			}
			root, err := openWorkspace(workspace)
			if err != nil {
				return tools.Observation{}, err
			}
			defer root.Close()
			dir, err := root.Open(rel)
			if err != nil {
				return tools.Observation{}, fsError("fs_list", rel, err)
			}
			defer dir.Close()
			entries, err := dir.ReadDir(-1)
			if err != nil {
				return tools.Observation{}, fsError("fs_list", rel, err)
			}
			names := make([]any, 0, len(entries))
			lines := make([]string, 0, len(entries))
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() {
					name += "/"
				}
				names = append(names, name)
				lines = append(lines, name)
			}
			summary := strings.Join(lines, "\n")
			if summary == "" {
				summary = "(empty)"
			}
			return tools.NewObservation(summary, map[string]any{"path": rel, "entries": names}), nil
		},
	}
}

// FSRead 读取工作区文件，超过上限时截断。
func FSRead(workspace string) tools.Tool {
	return tools.Func{
		Def: tools.Definition{
			Name:        "fs_read",
			Description: "Read a text file from the workspace.",
			Params:      []tools.Param{{Name: "path", Type: tools.TypeString, Required: true, Rules: "min=1,max=256"}},
			SideEffect:  tools.PureQuery,
			Latency:     tools.LatencyFast,
		},
		Fn: func(_ context.Context, p tools.Params) (tools.Observation, error) {
			rel, err := workspacePath(p.String("path"))
			if err != nil {
				return tools.Observation{}, err
			}
			root, err := openWorkspace(workspace)
			if err != nil {
				return tools.Observation{}, err
			}
			defer root.Close()
			f, err := root.Open(rel)
			if err != nil {
				return tools.Observation{}, fsError("fs_read", rel, err)
			}
			defer f.Close()
			buf, err := io.ReadAll(io.LimitReader(f, maxReadBytes+1))
			if err != nil {
				return tools.Observation{}, fsError("fs_read", rel, err)
			}
			truncated := len(buf) > maxReadBytes
			if truncated {
				buf = buf[:maxReadBytes]
			}
			return tools.NewObservation(string(buf), map[string]any{
				"path":      rel,
				"bytes":     len(buf),
				"truncated": truncated,
			}), nil
		},
	}
}

// FSWrite 写入工作区文件，必要时创建父目录。
func FSWrite(workspace string) tools.Tool {
	return tools.Func{
		Def: tools.Definition{
			Name:        "fs_write",
			Description: "Write text content to a workspace file, replacing it if present.",
			Params: []tools.Param{
				{Name: "path", Type: tools.TypeString, Required: true, Rules: "min=1,max=256"},
				{Name: "content", Type: tools.TypeString, Required: true, Rules: "max=65536"},
			},
			SideEffect: tools.HostMutation,
			Latency:    tools.LatencyFast,
			Allowlist:  []string{"write"},
			Operation:  func(tools.Params) string { return "write" },
		},
		Fn: func(_ context.Context, p tools.Params) (tools.Observation, error) {
			rel, err := workspacePath(p.String("path"))
			if err != nil {
				return tools.Observation{}, err
			}
			if rel == "." {
				return tools.Observation{}, tools.Validationf("fs_write: a file name is required")
			}
			root, err := openWorkspace(workspace)
			if err != nil {
				return tools.Observation{}, err
			}
			defer root.Close()
			if parent := filepath.Dir(rel); parent != "." {
				if err := root.MkdirAll(parent, 0o755); err != nil {
					return tools.Observation{}, fsError("fs_write", parent, err)
				}
			}
			content := p.String("content")
			if err := root.WriteFile(rel, []byte(content), 0o644); err != nil {
				return tools.Observation{}, fsError("fs_write", rel, err)
			}
			return tools.NewObservation(fmt.Sprintf("wrote %d bytes to %s", len(content), rel), map[string]any{
				"path":  rel,
				"bytes": len(content),
			}), nil
		},
	}
}
