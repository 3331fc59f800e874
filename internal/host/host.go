// Package host 封装对宿主桌面环境的改变操作，例如媒体控制与打开应用。
package host

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Action 是一次宿主操作。
type Action struct {
	Kind   string            `json:"kind"`
	Target string            `json:"target,omitempty"`
	Args   map[string]string `json:"args,omitempty"`
}

func (a Action) String() string {
	if a.Target == "" {
		return a.Kind
	}
	return fmt.Sprintf("%s(%s)", a.Kind, a.Target)
}

// Executor 执行宿主操作并返回简短结果。
type Executor interface {
	Execute(ctx context.Context, action Action) (string, error)
}

// Serialized 保证同一时刻只有一个宿主操作在执行。
type Serialized struct {
	mu   sync.Mutex
	next Executor
}

// Serialize 包装执行器。
func Serialize(next Executor) *Serialized {
	return &Serialized{next: next}
}

// Execute 实现 Executor。
func (s *Serialized) Execute(ctx context.Context, action Action) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.next.Execute(ctx, action)
}

// Record 是记录器保存的一条操作。
type Record struct {
	Action Action    `json:"action"`
	At     time.Time `json:"at"`
}

// Recorder 只记录操作而不触碰宿主，用于无桌面环境与测试。
type Recorder struct {
	mu      sync.Mutex
	records []Record
	Fail    error
}

// NewRecorder 创建记录器。
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Execute 实现 Executor。
func (r *Recorder) Execute(_ context.Context, action Action) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return "", r.Fail
	}
	r.records = append(r.records, Record{Action: action, At: time.Now()})
	return "recorded " + action.String(), nil
}

// Records 返回已记录操作的副本。
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}
