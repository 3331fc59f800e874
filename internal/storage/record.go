// Package storage defines the append-only records persisted for completed
// agent runs and arena matches, and the repository contract implemented by the
// mysql (JSONL file or MySQL) and badger backends.
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	xerrors "AgentOS-Bridge/internal/errors"
)

// RunRecord 是一次执行引擎运行结束后的落库结构。
type RunRecord struct {
	ID         string          `json:"id"`
	Strategy   string          `json:"strategy"`
	Goal       string          `json:"goal"`
	Status     string          `json:"status"`
	Answer     string          `json:"answer,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	ErrorText  string          `json:"error_text,omitempty"`
	Steps      int             `json:"steps"`
	Trace      json.RawMessage `json:"trace,omitempty"`
	CreatedAt  int64           `json:"created_at"`
	FinishedAt int64           `json:"finished_at"`
}

// MatchRecord 是一场评测对局结束后的落库结构。
type MatchRecord struct {
	ID        string          `json:"id"`
	Family    string          `json:"family"`
	Puzzle    string          `json:"puzzle"`
	Expected  string          `json:"expected"`
	Winner    string          `json:"winner"`
	Margin    float64         `json:"margin"`
	Scorecard json.RawMessage `json:"scorecard,omitempty"`
	CreatedAt int64           `json:"created_at"`
}

// RecordRepository 抽象运行与对局记录的持久化接口，只允许追加。
type RecordRepository interface {
	AppendRun(ctx context.Context, record RunRecord) error
	AppendMatch(ctx context.Context, record MatchRecord) error
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
	ListMatches(ctx context.Context, limit int) ([]MatchRecord, error)
	Close() error
}

// DefaultListLimit 是未指定数量时返回的记录条数。
const DefaultListLimit = 20

// ErrDuplicateRecord 表示同一 ID 的记录已经存在，历史记录不可覆盖。
var ErrDuplicateRecord = xerrors.New(xerrors.CodeConflict, "record already exists")

// Duplicate 构造带 ID 的重复记录错误。
func Duplicate(kind, id string) error {
	return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("%s record %s already exists", kind, id))
}

// CheckRun 校验运行记录的必填字段。
func CheckRun(record RunRecord) error {
	if record.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "run record id is required")
	}
	return nil
}

// CheckMatch 校验对局记录的必填字段。
func CheckMatch(record MatchRecord) error {
	if record.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "match record id is required")
	}
	return nil
}

// ClampLimit 将 limit 归一化到 (0, max]。
func ClampLimit(limit, max int) int {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if max > 0 && limit > max {
		limit = max
	}
	return limit
}
