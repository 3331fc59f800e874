package transport

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	xerrors "AgentOS-Bridge/internal/errors"
)

// Kind 区分帧的用途。
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindEvent    Kind = "event"
)

// Valid 判断是否为已知帧类型。
func (k Kind) Valid() bool {
	switch k {
	case KindRequest, KindResponse, KindEvent:
		return true
	default:
		return false
	}
}

// Frame 是通道上的最小传输单元。Sequence 由会话在发送时分配。
type Frame struct {
	CorrelationID string          `json:"correlation_id"`
	Kind          Kind            `json:"kind"`
	Sequence      uint64          `json:"sequence"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// NewRequest 使用新的关联 ID 构造请求帧。
func NewRequest(payload any) (Frame, error) {
	return newFrame(uuid.NewString(), KindRequest, payload)
}

// NewEvent 构造事件帧，事件不期待响应。
func NewEvent(payload any) (Frame, error) {
	return newFrame(uuid.NewString(), KindEvent, payload)
}

// Response 基于请求帧构造关联的响应帧。
func (f Frame) Response(payload any) (Frame, error) {
	if f.Kind != KindRequest {
		return Frame{}, xerrors.New(CodeFrameInvalid, fmt.Sprintf("只能响应 request 帧，收到 %s", f.Kind))
	}
	return newFrame(f.CorrelationID, KindResponse, payload)
}

// Decode 将负载解析到 v。
func (f Frame) Decode(v any) error {
	if len(f.Payload) == 0 {
		return xerrors.New(CodeFrameInvalid, "帧负载为空")
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return xerrors.Wrap(CodeFrameInvalid, err, "解析帧负载失败")
	}
	return nil
}

// Validate 检查帧的必要字段。
func (f Frame) Validate() error {
	if strings.TrimSpace(f.CorrelationID) == "" {
		return xerrors.New(CodeFrameInvalid, "correlation_id 不能为空")
	}
	if !f.Kind.Valid() {
		return xerrors.New(CodeFrameInvalid, fmt.Sprintf("未知帧类型 %q", f.Kind))
	}
	return nil
}

func newFrame(id string, kind Kind, payload any) (Frame, error) {
	frame := Frame{CorrelationID: id, Kind: kind}
	if payload == nil {
		return frame, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		frame.Payload = raw
		return frame, nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, xerrors.Wrap(CodeFrameInvalid, err, "序列化帧负载失败")
	}
	frame.Payload = encoded
	return frame, nil
}
