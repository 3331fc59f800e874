package llm

import xerrors "AgentOS-Bridge/internal/errors"

// CodeUnavailable 表示推理引擎在重试预算内不可达。
const CodeUnavailable xerrors.Code = "LLM_UNAVAILABLE"

// ErrUnavailable 可与 errors.Is 比较。
var ErrUnavailable = xerrors.New(CodeUnavailable, "inference engine unavailable")

func init() {
	xerrors.Register(CodeUnavailable, xerrors.Attributes{
		Message:   "inference engine unavailable",
		Family:    xerrors.FamilyEngine,
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}
