package llm

import (
	"context"
	"sync"
)

// DefaultOfflineReply 在未配置推理引擎时作为最终答案返回。
const DefaultOfflineReply = "Final Answer: no inference engine is configured; set llm.provider to openai or python to enable reasoning."

// maxRecordedRequests 限制保留的历史请求数，守护进程长期运行时只保留最近的部分。
const maxRecordedRequests = 64

// Scripted 依次返回预设回复，耗尽后返回 Fallback。用于离线运行与测试。
type Scripted struct {
	mu       sync.Mutex
	replies  []string
	next     int
	fallback string
	prompts  []Request
}

// NewScripted 创建脚本化客户端。
func NewScripted(fallback string, replies ...string) *Scripted {
	return &Scripted{replies: append([]string(nil), replies...), fallback: fallback}
}

// Generate 实现 Client。
func (s *Scripted) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prompts) >= maxRecordedRequests {
		s.prompts = append(s.prompts[:0], s.prompts[len(s.prompts)-maxRecordedRequests+1:]...)
	}
	s.prompts = append(s.prompts, req)
	text := s.fallback
	if s.next < len(s.replies) {
		text = s.replies[s.next]
		s.next++
	}
	if text == "" {
		text = DefaultOfflineReply
	}
	return &Response{Text: text, Model: "scripted", FinishReason: "stop"}, nil
}

// Requests 返回最近收到的请求，最多 maxRecordedRequests 条。
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.prompts...)
}
