package tools

import (
	"fmt"

	xerrors "AgentOS-Bridge/internal/errors"
)

const (
	CodeDuplicate        xerrors.Code = "TOOL_DUPLICATE"
	CodeUnknown          xerrors.Code = "TOOL_UNKNOWN"
	CodeValidation       xerrors.Code = "TOOL_VALIDATION"
	CodePermissionDenied xerrors.Code = "TOOL_PERMISSION_DENIED"
	CodeExecution        xerrors.Code = "TOOL_EXECUTION"
)

var (
	// ErrDuplicateTool 表示同名工具已注册。
	ErrDuplicateTool = xerrors.New(CodeDuplicate, "tool already registered")
	// ErrUnknownTool 表示工具不存在。
	ErrUnknownTool = xerrors.New(CodeUnknown, "unknown tool")
	// ErrValidation 表示参数不满足输入约束。
	ErrValidation = xerrors.New(CodeValidation, "invalid tool parameters")
	// ErrPermissionDenied 表示操作不在允许列表中。
	ErrPermissionDenied = xerrors.New(CodePermissionDenied, "operation not permitted")
	// ErrExecution 表示底层动作执行失败。
	ErrExecution = xerrors.New(CodeExecution, "tool execution failed")
)

func init() {
	xerrors.Register(CodeDuplicate, xerrors.Attributes{
		Message:  "tool already registered",
		Family:   xerrors.FamilyTool,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeUnknown, xerrors.Attributes{
		Message:  "unknown tool",
		Family:   xerrors.FamilyTool,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeValidation, xerrors.Attributes{
		Message:  "invalid tool parameters",
		Family:   xerrors.FamilyTool,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodePermissionDenied, xerrors.Attributes{
		Message:  "operation not permitted",
		Family:   xerrors.FamilyTool,
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	xerrors.Register(CodeExecution, xerrors.Attributes{
		Message:   "tool execution failed",
		Family:    xerrors.FamilyTool,
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

// Validationf 构造参数校验错误。
func Validationf(format string, args ...any) error {
	return xerrors.New(CodeValidation, fmt.Sprintf(format, args...))
}

// Failuref 构造面向用户的执行失败原因，不应包含底层实现细节。
func Failuref(format string, args ...any) error {
	return xerrors.New(CodeExecution, fmt.Sprintf(format, args...))
}

// Deniedf 构造权限拒绝错误。
func Deniedf(format string, args ...any) error {
	return xerrors.New(CodePermissionDenied, fmt.Sprintf(format, args...))
}

func isToolError(err error) bool {
	e, ok := xerrors.From(err)
	return ok && e.Family() == xerrors.FamilyTool
}
