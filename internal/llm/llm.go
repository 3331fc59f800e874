package llm

import "context"

// Request 描述发送给推理引擎的一次补全请求。
type Request struct {
	System      string
	Prompt      string
	Knowledge   []KnowledgeCard
	Constraints Constraints
}

// Constraints 约束补全输出。
type Constraints struct {
	Temperature *float32
	MaxTokens   int
	Stop        []string
	// JSON 要求输出为单个 JSON 对象。
	JSON bool
}

// Response 是推理引擎返回的原始文本。
type Response struct {
	Text         string
	Model        string
	FinishReason string
}

// KnowledgeCard 表示提供给推理引擎的知识切片，帮助选择正确的工具与参数。
type KnowledgeCard struct {
	Title   string
	Content string
}

// Client 定义了调用推理引擎的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc 允许使用普通函数实现 Client。
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Generate 实现 Client。
func (f ClientFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
