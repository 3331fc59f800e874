package transport

import (
	xerrors "AgentOS-Bridge/internal/errors"
)

const (
	CodeEndpointNotFound xerrors.Code = "TRANSPORT_ENDPOINT_NOT_FOUND"
	CodeDegraded         xerrors.Code = "TRANSPORT_DEGRADED"
	CodeClosed           xerrors.Code = "TRANSPORT_CLOSED"
	CodeFrameInvalid     xerrors.Code = "TRANSPORT_FRAME_INVALID"
)

var (
	// ErrEndpointNotFound 表示在发现超时内没有找到对端。
	ErrEndpointNotFound = xerrors.New(CodeEndpointNotFound, "peer endpoint not found")
	// ErrDegraded 表示通道正在恢复，请求被暂存。
	ErrDegraded = xerrors.New(CodeDegraded, "channel degraded")
	// ErrClosed 表示通道已关闭。
	ErrClosed = xerrors.New(CodeClosed, "channel closed")
	// ErrFrameInvalid 表示帧缺少必要字段。
	ErrFrameInvalid = xerrors.New(CodeFrameInvalid, "invalid frame")
)

func init() {
	xerrors.Register(CodeEndpointNotFound, xerrors.Attributes{
		Message:   "peer endpoint not found",
		Family:    xerrors.FamilyTransport,
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeDegraded, xerrors.Attributes{
		Message:   "channel degraded",
		Family:    xerrors.FamilyTransport,
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeClosed, xerrors.Attributes{
		Message:  "channel closed",
		Family:   xerrors.FamilyTransport,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeFrameInvalid, xerrors.Attributes{
		Message:  "invalid frame",
		Family:   xerrors.FamilyTransport,
		Severity: xerrors.SeverityInfo,
	})
}
