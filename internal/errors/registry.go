package errors

import "sync"

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Family 将错误码归入对外暴露的错误类别。
type Family string

const (
	FamilyGeneric   Family = "generic"
	FamilyTransport Family = "transport"
	FamilyTool      Family = "tool"
	FamilyEngine    Family = "engine"
	FamilyJob       Family = "job"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Family    Family
	Severity  Severity
	Retryable bool
	Alert     bool
}

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:               {Message: "unknown error", Family: FamilyGeneric, Severity: SeverityCritical, Alert: true},
		CodeInvalidArgument:       {Message: "invalid argument", Family: FamilyGeneric, Severity: SeverityInfo},
		CodeNotFound:              {Message: "resource not found", Family: FamilyGeneric, Severity: SeverityInfo},
		CodeConflict:              {Message: "resource conflict", Family: FamilyGeneric, Severity: SeverityWarning},
		CodeInitializationFailure: {Message: "service not initialized", Family: FamilyGeneric, Severity: SeverityWarning, Retryable: true, Alert: true},
		CodeStorageFailure:        {Message: "storage failure", Family: FamilyGeneric, Severity: SeverityCritical, Retryable: true, Alert: true},
		CodeQueueFailure:          {Message: "queue failure", Family: FamilyGeneric, Severity: SeverityCritical, Retryable: true, Alert: true},
		CodeTimeout:               {Message: "operation timed out", Family: FamilyGeneric, Severity: SeverityWarning, Retryable: true},
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	if attr.Family == "" {
		attr.Family = FamilyGeneric
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Registered 判断错误码是否已注册。
func Registered(code Code) bool {
	registryMu.RLock()
	_, ok := registry[code]
	registryMu.RUnlock()
	return ok
}
