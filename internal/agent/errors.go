package agent

import (
	xerrors "AgentOS-Bridge/internal/errors"
)

const (
	CodeBudgetExceeded       xerrors.Code = "ENGINE_BUDGET_EXCEEDED"
	CodeToolFailure          xerrors.Code = "ENGINE_TOOL_FAILURE"
	CodeInferenceUnavailable xerrors.Code = "ENGINE_INFERENCE_UNAVAILABLE"
	CodeCancelled            xerrors.Code = "ENGINE_CANCELLED"
)

var (
	// ErrBudgetExceeded 表示运行超过了迭代预算。
	ErrBudgetExceeded = xerrors.New(CodeBudgetExceeded, "iteration budget exceeded")
	// ErrToolFailure 表示工具执行失败且策略没有恢复分支。
	ErrToolFailure = xerrors.New(CodeToolFailure, "tool failure")
	// ErrInferenceUnavailable 表示推理引擎不可达。
	ErrInferenceUnavailable = xerrors.New(CodeInferenceUnavailable, "inference engine unavailable")
	// ErrCancelled 表示运行在状态边界被取消。
	ErrCancelled = xerrors.New(CodeCancelled, "run cancelled")
)

func init() {
	xerrors.Register(CodeBudgetExceeded, xerrors.Attributes{
		Message:  "iteration budget exceeded",
		Family:   xerrors.FamilyEngine,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeToolFailure, xerrors.Attributes{
		Message:  "tool failure",
		Family:   xerrors.FamilyEngine,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeInferenceUnavailable, xerrors.Attributes{
		Message:  "inference engine unavailable",
		Family:   xerrors.FamilyEngine,
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeCancelled, xerrors.Attributes{
		Message:  "run cancelled",
		Family:   xerrors.FamilyEngine,
		Severity: xerrors.SeverityInfo,
	})
}
