package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"AgentOS-Bridge/pkg/logger"
)

// Config 汇总了 agentosd 的所有配置段。
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Logging   logger.Config   `json:"logging" yaml:"logging"`
	Transport TransportConfig `json:"transport" yaml:"transport"`
	LLM       LLMConfig       `json:"llm" yaml:"llm"`
	Agent     AgentConfig     `json:"agent" yaml:"agent"`
	Router    RouterConfig    `json:"router" yaml:"router"`
	Tools     ToolsConfig     `json:"tools" yaml:"tools"`
	Arena     ArenaConfig     `json:"arena" yaml:"arena"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Queue     QueueConfig     `json:"queue" yaml:"queue"`
	Knowledge KnowledgeConfig `json:"knowledge" yaml:"knowledge"`
	Runtime   RuntimeConfig   `json:"runtime" yaml:"runtime"`
}

// ServerConfig 描述 HTTP 展示端点。
type ServerConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Address   string `json:"address" yaml:"address"`
	AuthToken string `json:"auth_token" yaml:"auth_token"`
}

// TransportConfig 描述与内核侧之间的通道参数。
type TransportConfig struct {
	Endpoint           string   `json:"endpoint" yaml:"endpoint"`
	DiscoveryInterval  Duration `json:"discovery_interval" yaml:"discovery_interval"`
	DiscoveryTimeout   Duration `json:"discovery_timeout" yaml:"discovery_timeout"`
	DiscoveryAttempts  int      `json:"discovery_attempts" yaml:"discovery_attempts"`
	ReconnectAttempts  int      `json:"reconnect_attempts" yaml:"reconnect_attempts"`
	ReconnectBaseDelay Duration `json:"reconnect_base_delay" yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  Duration `json:"reconnect_max_delay" yaml:"reconnect_max_delay"`
	MaxFrameBytes      int      `json:"max_frame_bytes" yaml:"max_frame_bytes"`
	ChunkSize          int      `json:"chunk_size" yaml:"chunk_size"`
	BytesPerSecond     int      `json:"bytes_per_second" yaml:"bytes_per_second"`
	RequestTimeout     Duration `json:"request_timeout" yaml:"request_timeout"`
}

// LLMConfig 描述推理引擎协作方。
type LLMConfig struct {
	Provider   string             `json:"provider" yaml:"provider"`
	Timeout    Duration           `json:"timeout" yaml:"timeout"`
	Retries    int                `json:"retries" yaml:"retries"`
	RetryDelay Duration           `json:"retry_delay" yaml:"retry_delay"`
	OpenAI     OpenAIConfig       `json:"openai" yaml:"openai"`
	Python     PythonBridgeConfig `json:"python" yaml:"python"`
	Scripted   ScriptedConfig     `json:"scripted" yaml:"scripted"`
}

// OpenAIConfig 描述 OpenAI 兼容接口，包括 Ollama 的 /v1 端点。
type OpenAIConfig struct {
	BaseURL     string  `json:"base_url" yaml:"base_url"`
	APIKey      string  `json:"api_key" yaml:"api_key"`
	APIKeyEnv   string  `json:"api_key_env" yaml:"api_key_env"`
	Model       string  `json:"model" yaml:"model"`
	Temperature float32 `json:"temperature" yaml:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
}

// PythonBridgeConfig 描述通过子进程调用的推理脚本。
type PythonBridgeConfig struct {
	PythonExecutable string `json:"python_executable" yaml:"python_executable"`
	ScriptPath       string `json:"script_path" yaml:"script_path"`
	WorkingDir       string `json:"working_dir" yaml:"working_dir"`
}

// ScriptedConfig 为离线环境提供固定回复。
type ScriptedConfig struct {
	Replies  []string `json:"replies" yaml:"replies"`
	Fallback string   `json:"fallback" yaml:"fallback"`
}

// AgentConfig 描述执行引擎。
type AgentConfig struct {
	DefaultStrategy   string `json:"default_strategy" yaml:"default_strategy"`
	MaxIterations     int    `json:"max_iterations" yaml:"max_iterations"`
	RecoverToolErrors bool   `json:"recover_tool_errors" yaml:"recover_tool_errors"`
}

// RouterConfig 描述意图路由。
type RouterConfig struct {
	CacheSize    int  `json:"cache_size" yaml:"cache_size"`
	UseInference bool `json:"use_inference" yaml:"use_inference"`
}

// ToolsConfig 描述工具注册表及内置工具。
type ToolsConfig struct {
	WorkspaceDir     string        `json:"workspace_dir" yaml:"workspace_dir"`
	PureQueryRetries int           `json:"pure_query_retries" yaml:"pure_query_retries"`
	Latency          LatencyConfig `json:"latency" yaml:"latency"`
	Shell            ShellConfig   `json:"shell" yaml:"shell"`
	Search           SearchConfig  `json:"search" yaml:"search"`
	Host             HostConfig    `json:"host" yaml:"host"`
}

// LatencyConfig 为不同延迟等级设置超时。
type LatencyConfig struct {
	Fast     Duration `json:"fast" yaml:"fast"`
	Standard Duration `json:"standard" yaml:"standard"`
	Slow     Duration `json:"slow" yaml:"slow"`
}

// ShellConfig 描述 shell 工具。
type ShellConfig struct {
	// Allowlist 为空时使用内置工具的默认命令集。
	Allowlist   []string `json:"allowlist" yaml:"allowlist"`
	OutputLimit int      `json:"output_limit" yaml:"output_limit"`
}

// SearchConfig 描述网页搜索工具。
type SearchConfig struct {
	Endpoint   string `json:"endpoint" yaml:"endpoint"`
	MaxResults int    `json:"max_results" yaml:"max_results"`
	UserAgent  string `json:"user_agent" yaml:"user_agent"`
	// Proxy 形如 socks5://127.0.0.1:1080，为空时直连。
	Proxy   string   `json:"proxy" yaml:"proxy"`
	Timeout Duration `json:"timeout" yaml:"timeout"`
}

// HostConfig 描述宿主动作执行器。
type HostConfig struct {
	Executor string `json:"executor" yaml:"executor"`
	Player   string `json:"player" yaml:"player"`
}

// ArenaConfig 描述评测竞技场。
type ArenaConfig struct {
	Participants  []ParticipantConfig `json:"participants" yaml:"participants"`
	MaxIterations int                 `json:"max_iterations" yaml:"max_iterations"`
	Concurrency   int                 `json:"concurrency" yaml:"concurrency"`
	Seed          int64               `json:"seed" yaml:"seed"`
}

// ParticipantConfig 绑定参赛者名称与推理策略。
type ParticipantConfig struct {
	Name     string `json:"name" yaml:"name"`
	Strategy string `json:"strategy" yaml:"strategy"`
}

// StorageConfig 描述持久化。
type StorageConfig struct {
	Records RecordStoreConfig `json:"records" yaml:"records"`
	Jobs    JobStoreConfig    `json:"jobs" yaml:"jobs"`
}

// RecordStoreConfig 描述运行与对局记录的追加式存储。
type RecordStoreConfig struct {
	Driver          string   `json:"driver" yaml:"driver"`
	Path            string   `json:"path" yaml:"path"`
	DSN             string   `json:"dsn" yaml:"dsn"`
	MaxOpenConns    int      `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int      `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// JobStoreConfig 描述话语作业状态存储。
type JobStoreConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

// QueueConfig 描述作业队列。
type QueueConfig struct {
	Driver     string         `json:"driver" yaml:"driver"`
	Workers    int            `json:"workers" yaml:"workers"`
	Buffer     int            `json:"buffer" yaml:"buffer"`
	MaxRetries int            `json:"max_retries" yaml:"max_retries"`
	Redis      RedisConfig    `json:"redis" yaml:"redis"`
	RabbitMQ   RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列。
type RedisConfig struct {
	Address   string   `json:"address" yaml:"address"`
	Password  string   `json:"password" yaml:"password"`
	DB        int      `json:"db" yaml:"db"`
	Queue     string   `json:"queue" yaml:"queue"`
	BlockWait Duration `json:"block_wait" yaml:"block_wait"`
}

// RabbitMQConfig 描述 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL      string `json:"url" yaml:"url"`
	Queue    string `json:"queue" yaml:"queue"`
	Prefetch int    `json:"prefetch" yaml:"prefetch"`
	Durable  bool   `json:"durable" yaml:"durable"`
}

// KnowledgeConfig 描述推理提示中的工具使用知识。
type KnowledgeConfig struct {
	Source     string `json:"source" yaml:"source"`
	MaxResults int    `json:"max_results" yaml:"max_results"`
}

// RuntimeConfig 描述运行时目录。
type RuntimeConfig struct {
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// Load 解析指定路径的 YAML 或 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(content, &cfg)
	default:
		err = yaml.Unmarshal(content, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

// LoadOrDefault 在配置文件不存在时返回默认配置。
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Default 返回以当前目录为基准的默认配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	t := &c.Transport
	if t.Endpoint == "" {
		t.Endpoint = "tcp://127.0.0.1:1234"
	}
	setDuration(&t.DiscoveryInterval, time.Second)
	setDuration(&t.DiscoveryTimeout, 60*time.Second)
	if t.ReconnectAttempts <= 0 {
		t.ReconnectAttempts = 5
	}
	setDuration(&t.ReconnectBaseDelay, 200*time.Millisecond)
	setDuration(&t.ReconnectMaxDelay, 5*time.Second)
	if t.MaxFrameBytes <= 0 {
		t.MaxFrameBytes = 1 << 20
	}
	setDuration(&t.RequestTimeout, 30*time.Second)

	if c.LLM.Provider == "" {
		c.LLM.Provider = "scripted"
	}
	setDuration(&c.LLM.Timeout, 60*time.Second)
	if c.LLM.Retries <= 0 {
		c.LLM.Retries = 2
	}
	setDuration(&c.LLM.RetryDelay, 500*time.Millisecond)
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	c.LLM.Python.WorkingDir = resolve(baseDir, c.LLM.Python.WorkingDir, baseDir)

	if c.Agent.DefaultStrategy == "" {
		c.Agent.DefaultStrategy = "react"
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 8
	}

	if c.Router.CacheSize <= 0 {
		c.Router.CacheSize = 256
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	tools := &c.Tools
	tools.WorkspaceDir = resolve(baseDir, tools.WorkspaceDir, filepath.Join(c.Runtime.DataDir, "workspace"))
	if tools.PureQueryRetries < 0 {
		tools.PureQueryRetries = 0
	} else if tools.PureQueryRetries == 0 {
		tools.PureQueryRetries = 2
	}
	setDuration(&tools.Latency.Fast, 5*time.Second)
	setDuration(&tools.Latency.Standard, 30*time.Second)
	setDuration(&tools.Latency.Slow, 120*time.Second)
	if tools.Shell.OutputLimit <= 0 {
		tools.Shell.OutputLimit = 4096
	}
	if tools.Search.Endpoint == "" {
		tools.Search.Endpoint = "https://html.duckduckgo.com/html/"
	}
	if tools.Search.MaxResults <= 0 {
		tools.Search.MaxResults = 5
	}
	if tools.Search.UserAgent == "" {
		tools.Search.UserAgent = "Mozilla/5.0 (compatible; agentosd)"
	}
	if tools.Search.Timeout <= 0 {
		tools.Search.Timeout = Duration(20 * time.Second)
	}
	if tools.Host.Executor == "" {
		tools.Host.Executor = "recorder"
	}
	if tools.Host.Player == "" {
		tools.Host.Player = "Music"
	}

	if len(c.Arena.Participants) == 0 {
		c.Arena.Participants = []ParticipantConfig{
			{Name: "Agent A", Strategy: "react"},
			{Name: "Agent B", Strategy: "single_pass"},
		}
	}
	if c.Arena.MaxIterations <= 0 {
		c.Arena.MaxIterations = 5
	}
	if c.Arena.Concurrency <= 0 {
		c.Arena.Concurrency = len(c.Arena.Participants)
	}

	if c.Storage.Records.Driver == "" {
		c.Storage.Records.Driver = "file"
	}
	c.Storage.Records.Path = resolve(baseDir, c.Storage.Records.Path, filepath.Join(c.Runtime.DataDir, "records"))
	if c.Storage.Jobs.Driver == "" {
		c.Storage.Jobs.Driver = "memory"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.Buffer <= 0 {
		c.Queue.Buffer = 64
	}
	if c.Queue.MaxRetries <= 0 {
		c.Queue.MaxRetries = 3
	}

	if c.Knowledge.Source != "" && !filepath.IsAbs(c.Knowledge.Source) {
		c.Knowledge.Source = filepath.Join(baseDir, c.Knowledge.Source)
	}
	if c.Knowledge.MaxResults <= 0 {
		c.Knowledge.MaxResults = 3
	}
}

func setDuration(d *Duration, fallback time.Duration) {
	if *d <= 0 {
		*d = Duration(fallback)
	}
}

func resolve(baseDir, value, fallback string) string {
	if value == "" {
		return fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}
