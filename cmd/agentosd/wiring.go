package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"AgentOS-Bridge/internal/agent"
	"AgentOS-Bridge/internal/arena"
	"AgentOS-Bridge/internal/bridge"
	"AgentOS-Bridge/internal/config"
	"AgentOS-Bridge/internal/host"
	"AgentOS-Bridge/internal/knowledge"
	"AgentOS-Bridge/internal/llm"
	"AgentOS-Bridge/internal/llm/openai"
	"AgentOS-Bridge/internal/llm/pythonbridge"
	"AgentOS-Bridge/internal/observability/alerting"
	"AgentOS-Bridge/internal/router"
	"AgentOS-Bridge/internal/storage"
	storebadger "AgentOS-Bridge/internal/storage/badger"
	storemysql "AgentOS-Bridge/internal/storage/mysql"
	"AgentOS-Bridge/internal/task"
	"AgentOS-Bridge/internal/tools"
	"AgentOS-Bridge/internal/tools/builtin"
	"AgentOS-Bridge/pkg/logger"
)

// app 汇总一次进程内装配好的组件。
type app struct {
	cfg      *config.Config
	registry *tools.Registry
	router   *router.Router
	engine   *agent.Engine
	arena    *arena.Arena
	records  storage.RecordRepository
	handler  *bridge.Handler

	closers []func() error
}

// Close 按装配的逆序释放资源。
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	client, err := createLLMClient(cfg)
	if err != nil {
		return nil, err
	}

	records, err := createRecordRepository(ctx, cfg.Storage.Records)
	if err != nil {
		return nil, err
	}
	a.records = records
	a.closers = append(a.closers, records.Close)

	a.registry = tools.NewRegistry(
		tools.WithBudgets(tools.Budgets{
			Fast:     cfg.Tools.Latency.Fast.Std(),
			Standard: cfg.Tools.Latency.Standard.Std(),
			Slow:     cfg.Tools.Latency.Slow.Std(),
		}),
		tools.WithPureQueryRetries(cfg.Tools.PureQueryRetries),
	)
	if err := os.MkdirAll(cfg.Tools.WorkspaceDir, 0o755); err != nil {
		a.Close()
		return nil, fmt.Errorf("创建工作区失败: %w", err)
	}
	if err := builtin.Register(a.registry, builtin.Options{
		WorkspaceDir: cfg.Tools.WorkspaceDir,
		Shell: builtin.ShellOptions{
			Allowlist:   cfg.Tools.Shell.Allowlist,
			OutputLimit: cfg.Tools.Shell.OutputLimit,
		},
		Search: builtin.SearchOptions{
			Endpoint:   cfg.Tools.Search.Endpoint,
			MaxResults: cfg.Tools.Search.MaxResults,
			UserAgent:  cfg.Tools.Search.UserAgent,
			Proxy:      cfg.Tools.Search.Proxy,
			Timeout:    cfg.Tools.Search.Timeout.Std(),
		},
		Host: createHostExecutor(cfg.Tools.Host),
		Seed: cfg.Arena.Seed,
	}); err != nil {
		a.Close()
		return nil, err
	}

	engineOpts := []agent.Option{
		agent.WithStrategies(agent.DefaultStrategies(cfg.Agent.RecoverToolErrors)),
		agent.WithDefaultStrategy(agent.StrategyID(cfg.Agent.DefaultStrategy)),
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
		agent.WithRecordRepository(records),
	}
	if cfg.Knowledge.Source != "" {
		provider, err := knowledge.LoadStaticProvider(cfg.Knowledge.Source, cfg.Knowledge.MaxResults)
		if err != nil {
			a.Close()
			return nil, err
		}
		engineOpts = append(engineOpts, agent.WithKnowledgeProvider(provider))
	}
	a.engine = agent.New(client, a.registry.AgentView(), engineOpts...)

	participants := make([]arena.Participant, 0, len(cfg.Arena.Participants))
	for _, p := range cfg.Arena.Participants {
		participants = append(participants, arena.Participant{Name: p.Name, Strategy: agent.StrategyID(p.Strategy)})
	}
	arenaOpts := []arena.Option{
		arena.WithMaxIterations(cfg.Arena.MaxIterations),
		arena.WithConcurrency(cfg.Arena.Concurrency),
		arena.WithRecordRepository(records),
	}
	if cfg.Arena.Seed != 0 {
		arenaOpts = append(arenaOpts, arena.WithSeed(cfg.Arena.Seed))
	}
	a.arena, err = arena.New(a.engine, participants, arenaOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := a.registry.Register(a.arena.Tool()); err != nil {
		a.Close()
		return nil, err
	}

	routerOpts := []router.Option{router.WithCacheSize(cfg.Router.CacheSize)}
	if cfg.Router.UseInference {
		routerOpts = append(routerOpts, router.WithInference(client))
	}
	a.router = router.New(a.registry, routerOpts...)
	a.handler = bridge.NewHandler(a.router, a.registry, a.engine,
		bridge.WithStrategy(agent.StrategyID(cfg.Agent.DefaultStrategy)),
		bridge.WithMaxIterations(cfg.Agent.MaxIterations),
	)
	return a, nil
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	var (
		client llm.Client
		err    error
	)
	switch strings.ToLower(cfg.LLM.Provider) {
	case "", "scripted":
		return llm.NewScripted(cfg.LLM.Scripted.Fallback, cfg.LLM.Scripted.Replies...), nil
	case "python", "python_bridge":
		scriptPath := pythonbridge.ResolveScriptPath(cfg.LLM.Python.WorkingDir, cfg.LLM.Python.ScriptPath)
		client, err = pythonbridge.NewClient(cfg.LLM.Python.PythonExecutable, scriptPath, cfg.LLM.Python.WorkingDir)
	case "openai", "ollama":
		apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if apiKey == "" && cfg.LLM.OpenAI.APIKeyEnv != "" {
			apiKey = strings.TrimSpace(os.Getenv(cfg.LLM.OpenAI.APIKeyEnv))
		}
		client, err = openai.NewClient(openai.Config{
			APIKey:      apiKey,
			BaseURL:     cfg.LLM.OpenAI.BaseURL,
			Model:       cfg.LLM.OpenAI.Model,
			Temperature: cfg.LLM.OpenAI.Temperature,
			MaxTokens:   cfg.LLM.OpenAI.MaxTokens,
			Timeout:     cfg.LLM.Timeout.Std(),
		})
	default:
		return nil, fmt.Errorf("未知的推理引擎 provider: %s", cfg.LLM.Provider)
	}
	if err != nil {
		return nil, err
	}
	return llm.WithRetry(client, llm.RetryPolicy{
		Retries: cfg.LLM.Retries,
		Delay:   cfg.LLM.RetryDelay.Std(),
		Timeout: cfg.LLM.Timeout.Std(),
	}), nil
}

func createHostExecutor(cfg config.HostConfig) host.Executor {
	switch strings.ToLower(cfg.Executor) {
	case "applescript", "osascript":
		return host.NewAppleScript(cfg.Player, nil)
	default:
		return host.NewRecorder()
	}
}

func createRecordRepository(ctx context.Context, cfg config.RecordStoreConfig) (storage.RecordRepository, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "file":
		return storemysql.NewFileRecordRepository(cfg.Path)
	case "mysql":
		return storemysql.NewSQLRecordRepository(ctx, storemysql.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime.Std(),
		})
	case "badger":
		return storebadger.Open(storebadger.Config{
			Path:           cfg.Path,
			GCInterval:     10 * time.Minute,
			GCDiscardRatio: 0.5,
			Logger:         logger.Named("storage.badger"),
		})
	case "memory":
		return storebadger.Open(storebadger.Config{InMemory: true})
	default:
		return nil, fmt.Errorf("未知的记录存储驱动: %s", cfg.Driver)
	}
}

// pipeline 是话语作业的存储、队列与告警。
type pipeline struct {
	service *task.Service
	store   task.Store
	queue   task.Queue
	alerts  *alerting.Recorder
	fanout  *alerting.FanoutDispatcher
}

func createPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	var store task.Store
	switch strings.ToLower(cfg.Storage.Jobs.Driver) {
	case "", "memory":
		store = task.NewMemoryStore()
	case "mysql":
		s, err := task.NewMySQLStore(ctx, storemysql.Config{DSN: cfg.Storage.Jobs.DSN})
		if err != nil {
			return nil, err
		}
		store = s
	default:
		return nil, fmt.Errorf("未知的作业存储驱动: %s", cfg.Storage.Jobs.Driver)
	}

	var queue task.Queue
	switch strings.ToLower(cfg.Queue.Driver) {
	case "", "memory":
		queue = task.NewMemoryQueue(cfg.Queue.Buffer)
	case "redis":
		q, err := task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Redis.Queue,
			BlockWait: cfg.Queue.Redis.BlockWait.Std(),
		})
		if err != nil {
			store.Close()
			return nil, err
		}
		queue = q
	case "rabbitmq":
		q, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:      cfg.Queue.RabbitMQ.URL,
			Queue:    cfg.Queue.RabbitMQ.Queue,
			Prefetch: cfg.Queue.RabbitMQ.Prefetch,
			Durable:  cfg.Queue.RabbitMQ.Durable,
		})
		if err != nil {
			store.Close()
			return nil, err
		}
		queue = q
	default:
		store.Close()
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}

	alerts := alerting.NewRecorder(100)
	return &pipeline{
		service: task.NewService(store, queue, cfg.Queue.MaxRetries),
		store:   store,
		queue:   queue,
		alerts:  alerts,
		fanout:  alerting.NewFanout([]alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alerting")}, alerts}),
	}, nil
}

// processor 以 executor 处理队列中的作业，completion 在作业终结后回调。
func (p *pipeline) processor(cfg *config.Config, executor task.Executor, completion task.CompletionFunc) *task.Processor {
	return task.NewProcessor(executor, p.store, p.queue, p.queue,
		task.WithWorkerCount(cfg.Queue.Workers),
		task.WithProcessorLogger(logger.Named("task")),
		task.WithRecoveryHandler(task.DescribeFailure),
		task.WithAlertDispatcher(p.fanout),
		task.WithCompletion(completion),
	)
}

func (p *pipeline) Close() error {
	return p.service.Close()
}
