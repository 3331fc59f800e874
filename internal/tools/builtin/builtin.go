// Package builtin 提供随守护进程一起注册的内置工具。
package builtin

import (
	"time"

	"AgentOS-Bridge/internal/host"
	"AgentOS-Bridge/internal/tools"
)

// Options 汇总内置工具的依赖与参数。
type Options struct {
	WorkspaceDir string
	Shell        ShellOptions
	Search       SearchOptions
	Host         host.Executor
	// Seed 是数据类工具在未显式指定时使用的随机种子。
	Seed int64
}

// ShellOptions 描述 shell 工具。
type ShellOptions struct {
	Allowlist   []string
	OutputLimit int
}

// SearchOptions 描述网页搜索工具。
type SearchOptions struct {
	Endpoint   string
	MaxResults int
	UserAgent  string
	Proxy      string
	Timeout    time.Duration
}

// Register 将全部内置工具注册到注册表。
func Register(reg *tools.Registry, opts Options) error {
	if opts.Host == nil {
		opts.Host = host.NewRecorder()
	}
	if opts.Seed == 0 {
		opts.Seed = 42
	}
	executor := host.Serialize(opts.Host)

	search, err := WebSearch(opts.Search)
	if err != nil {
		return err
	}
	all := []tools.Tool{
		Calculator(),
		Plot(),
		search,
		DataAudit(opts.Seed),
		ModelTraining(opts.Seed),
		FSList(opts.WorkspaceDir),
		FSRead(opts.WorkspaceDir),
		FSWrite(opts.WorkspaceDir),
		Shell(opts.WorkspaceDir, opts.Shell),
		MediaControl(executor),
		ComposeEmail(executor),
		NewChess(),
	}
	for _, t := range all {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
