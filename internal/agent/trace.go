package agent

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"AgentOS-Bridge/internal/tools"
)

// State 是执行状态机中的状态。
type State string

const (
	StateInit       State = "init"
	StateReasoning  State = "reasoning"
	StateActing     State = "acting"
	StateObserving  State = "observing"
	StateFinalizing State = "finalizing"
	StateDone       State = "done"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal 判断状态是否为终止状态。
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// Status 描述轨迹整体状态。
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ActionRecord 记录一次工具调用请求。
type ActionRecord struct {
	Tool   string       `json:"tool"`
	Params tools.Params `json:"params,omitempty"`
}

// TraceEntry 是一次状态迁移。
type TraceEntry struct {
	Seq         int           `json:"seq"`
	State       State         `json:"state"`
	Reasoning   string        `json:"reasoning,omitempty"`
	Action      *ActionRecord `json:"action,omitempty"`
	Observation string        `json:"observation,omitempty"`
	Error       string        `json:"error,omitempty"`
	At          time.Time     `json:"at"`
}

// Trace 是一次运行的只追加轨迹，运行结束后冻结。
type Trace struct {
	mu      sync.RWMutex
	entries []TraceEntry
	status  Status
}

func newTrace() *Trace {
	return &Trace{status: StatusRunning}
}

// append 是轨迹增长的唯一途径；冻结后的追加被忽略并返回 false。
func (t *Trace) append(entry TraceEntry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusRunning {
		return false
	}
	entry.Seq = len(t.entries) + 1
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	if entry.Action != nil {
		entry.Action = &ActionRecord{Tool: entry.Action.Tool, Params: entry.Action.Params.Clone()}
	}
	t.entries = append(t.entries, entry)
	return true
}

func (t *Trace) freeze(status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusRunning {
		t.status = status
	}
}

// Status 返回轨迹状态。
func (t *Trace) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Entries 返回轨迹条目的副本。
func (t *Trace) Entries() []TraceEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TraceEntry, len(t.entries))
	for i, e := range t.entries {
		if e.Action != nil {
			e.Action = &ActionRecord{Tool: e.Action.Tool, Params: e.Action.Params.Clone()}
		}
		out[i] = e
	}
	return out
}

// Len 返回条目数量。
func (t *Trace) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Count 统计进入某个状态的次数。
func (t *Trace) Count(state State) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, e := range t.entries {
		if e.State == state {
			n++
		}
	}
	return n
}

// States 返回按顺序进入的状态序列。
func (t *Trace) States() []State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]State, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.State
	}
	return out
}

// Reasoning 拼接所有推理文本。
func (t *Trace) Reasoning() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var parts []string
	for _, e := range t.entries {
		if e.Reasoning != "" {
			parts = append(parts, e.Reasoning)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolsUsed 返回调用过的工具名（去重，保持首次出现顺序）。
func (t *Trace) ToolsUsed() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, e := range t.entries {
		if e.Action == nil {
			continue
		}
		if _, ok := seen[e.Action.Tool]; ok {
			continue
		}
		seen[e.Action.Tool] = struct{}{}
		out = append(out, e.Action.Tool)
	}
	return out
}

// MarshalJSON 输出状态与条目。
func (t *Trace) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status  Status       `json:"status"`
		Entries []TraceEntry `json:"entries"`
	}{Status: t.Status(), Entries: t.Entries()})
}
