package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"AgentOS-Bridge/internal/llm"
)

// Client 通过调用外部脚本实现推理：请求以 JSON 写入标准输入，回复从标准输出读取。
type Client struct {
	pythonExec string
	scriptPath string
	workingDir string
}

// NewClient 创建 Python Bridge 客户端。
func NewClient(pythonExec, scriptPath, workingDir string) (*Client, error) {
	if scriptPath == "" {
		return nil, fmt.Errorf("未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Client{
		pythonExec: pythonExec,
		scriptPath: scriptPath,
		workingDir: workingDir,
	}, nil
}

type knowledge struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Generate 调用外部脚本，并解析输出。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	cards := make([]knowledge, 0, len(req.Knowledge))
	for _, card := range req.Knowledge {
		cards = append(cards, knowledge{Title: card.Title, Content: card.Content})
	}
	payload := map[string]any{
		"system":     req.System,
		"prompt":     req.Prompt,
		"knowledge":  cards,
		"json":       req.Constraints.JSON,
		"stop":       req.Constraints.Stop,
		"max_tokens": req.Constraints.MaxTokens,
		"timestamp":  time.Now().Unix(),
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	command := exec.CommandContext(ctx, c.pythonExec, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("执行 Python 脚本失败: %v, stderr=%s", err, strings.TrimSpace(stderr.String()))
	}

	var resp struct {
		Text  string `json:"text"`
		Reply string `json:"reply"`
		Model string `json:"model"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("解析 Python 输出失败: %w", err)
	}
	text := resp.Text
	if text == "" {
		text = resp.Reply
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("Python 脚本没有返回内容")
	}
	return &llm.Response{Text: text, Model: resp.Model, FinishReason: "stop"}, nil
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}
