package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"AgentOS-Bridge/internal/config"
	"AgentOS-Bridge/pkg/logger"
)

// main 是 AgentOS 桥接守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Fatalf("agentosd 运行失败: %v", err)
	}
}

// rootOptions 是所有子命令共享的参数。
type rootOptions struct {
	configPath string
	cfg        *config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "agentosd",
		Short:         "Bridge between the kernel-side presentation shell and the local agent runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadOrDefault(opts.configPath)
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.Logging); err != nil {
				return err
			}
			opts.cfg = cfg
			logger.L().Debug("配置加载完成", "path", opts.configPath, "provider", cfg.LLM.Provider)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logger.Sync()
		},
	}

	defaultPath := os.Getenv("AGENTOS_CONFIG")
	if defaultPath == "" {
		defaultPath = filepath.Join("configs", "agentos.yaml")
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultPath, "path to the YAML or JSON configuration file")

	root.AddCommand(
		newServeCommand(opts),
		newAskCommand(opts),
		newArenaCommand(opts),
		newToolsCommand(opts),
		newPeerCommand(opts),
	)
	return root
}
