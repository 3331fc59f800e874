package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"AgentOS-Bridge/internal/llm"
)

const (
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 OpenAI 兼容 Chat Completions 接口所需的信息。
// BaseURL 指向 Ollama 等兼容服务时可以不提供真实密钥。
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Client 通过 go-openai 调用推理服务。
type Client struct {
	api         *goopenai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewClient 根据配置创建客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if apiKey == "" && baseURL == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	oc := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		oc.BaseURL = baseURL
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	} else {
		oc.HTTPClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		api:         goopenai.NewClientWithConfig(oc),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Generate 调用 Chat Completions 接口。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	system := strings.TrimSpace(req.System)
	if system == "" {
		system = defaultSystemPrompt
	}
	chat := goopenai.ChatCompletionRequest{
		Model: c.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: system},
			{Role: goopenai.ChatMessageRoleUser, Content: buildUserPrompt(req)},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if t := req.Constraints.Temperature; t != nil {
		chat.Temperature = *t
	}
	if req.Constraints.MaxTokens > 0 {
		chat.MaxTokens = req.Constraints.MaxTokens
	}
	if len(req.Constraints.Stop) > 0 {
		chat.Stop = req.Constraints.Stop
	}
	if req.Constraints.JSON {
		chat.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, chat)
	if err != nil {
		return nil, fmt.Errorf("请求推理服务失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("推理服务响应中没有有效的 choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, errors.New("推理服务响应内容为空")
	}
	return &llm.Response{
		Text:         content,
		Model:        resp.Model,
		FinishReason: string(resp.Choices[0].FinishReason),
	}, nil
}

const defaultSystemPrompt = "You are the reasoning engine of a desktop agent. " +
	"Follow the output format requested by the user message exactly."

func buildUserPrompt(req llm.Request) string {
	var builder strings.Builder
	builder.WriteString(strings.TrimSpace(req.Prompt))
	if len(req.Knowledge) > 0 {
		builder.WriteString("\n\n## Hints\n")
		for idx, card := range req.Knowledge {
			fmt.Fprintf(&builder, "[%d] %s: %s\n", idx+1, strings.TrimSpace(card.Title), truncate(card.Content))
			if idx >= 4 {
				break
			}
		}
	}
	return builder.String()
}

func truncate(text string) string {
	text = strings.TrimSpace(text)
	if len([]rune(text)) > 160 {
		return string([]rune(text)[:160]) + "..."
	}
	return text
}
