package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider 定义知识库检索的通用接口。
type Provider interface {
	Query(goal string) []Snippet
}

// Snippet 描述可供推理引擎引用的一段工具使用提示。
type Snippet struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
	Tags     []string `json:"tags"`
}

// StaticProvider 通过加载 JSON 文件提供静态知识检索能力。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态知识库实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{
		items:      items,
		maxResults: maxResults,
	}
}

// LoadStaticProvider 从 JSON 文件加载知识条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Snippet
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}

	return NewStaticProvider(entries, maxResults), nil
}

// Query 根据目标文本匹配关键词与标签，按条目顺序返回至多 maxResults 条。
func (p *StaticProvider) Query(goal string) []Snippet {
	if p == nil {
		return nil
	}

	goal = strings.ToLower(strings.TrimSpace(goal))
	if goal == "" {
		return nil
	}

	results := make([]Snippet, 0, p.maxResults)
	for _, item := range p.items {
		if matches(item, goal) {
			results = append(results, item)
			if len(results) >= p.maxResults {
				break
			}
		}
	}
	return results
}

func matches(snippet Snippet, goal string) bool {
	if len(snippet.Keywords) == 0 && len(snippet.Tags) == 0 {
		return true
	}
	for _, word := range append(append([]string(nil), snippet.Keywords...), snippet.Tags...) {
		normalized := strings.ToLower(strings.TrimSpace(word))
		if normalized == "" {
			continue
		}
		if strings.Contains(goal, normalized) {
			return true
		}
	}
	return false
}

// Builtin 返回内置工具的使用提示，未配置知识库文件时使用。
func Builtin(maxResults int) *StaticProvider {
	return NewStaticProvider(builtinSnippets, maxResults)
}

var builtinSnippets = []Snippet{
	{
		Title:    "calculator",
		Content:  `Arithmetic goes through calculator with {"expression": "..."}; sqrt, pow, log, sin and cos are available and ^ means power.`,
		Keywords: []string{"calculate", "compute", "sum", "square root", "sqrt", "percent", "how much"},
		Tags:     []string{"math"},
	},
	{
		Title:    "web_search",
		Content:  `Use web_search with {"query": "..."} for facts that may have changed recently; cite the titles you rely on.`,
		Keywords: []string{"search", "latest", "news", "who is", "when did", "look up"},
	},
	{
		Title:    "media_control",
		Content:  `media_control accepts action play, pause, next, previous or open; add song and artist to play a specific track.`,
		Keywords: []string{"music", "song", "track", "play", "pause", "album"},
	},
	{
		Title:    "shell",
		Content:  `shell runs one allowlisted command (ls, pwd, whoami, df, free, mkdir, touch, echo, cat, grep, date, uname) inside the workspace; pipes and redirects are refused.`,
		Keywords: []string{"command", "terminal", "disk", "directory", "folder", "file"},
	},
	{
		Title:    "data_audit",
		Content:  `data_audit checks class balance and feature scaling on a seeded dataset and refines it; report the before and after status.`,
		Keywords: []string{"dataset", "audit", "imbalance", "scaling"},
		Tags:     []string{"data"},
	},
	{
		Title:    "model_training",
		Content:  `model_training trains a classification or regression model on synthetic data and returns metrics against a baseline.`,
		Keywords: []string{"train", "model", "accuracy", "regression", "classifier"},
	},
	{
		Title:    "chess",
		Content:  `chess keeps one game; use action new, move (UCI such as e2e4), state, legal_moves or evaluate.`,
		Keywords: []string{"chess", "checkmate", "opening"},
	},
	{
		Title:    "plot",
		Content:  `plot evaluates y = f(x) over [from, to] and returns the series for display.`,
		Keywords: []string{"plot", "graph", "curve", "function"},
	},
}

var _ Provider = (*StaticProvider)(nil)
