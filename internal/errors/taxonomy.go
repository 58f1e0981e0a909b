package errors

import "sync"

// Code 是对外暴露的错误码，HTTP 响应的 code 字段即取自这里。
type Code string

// Severity 决定告警级别。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// 兑换生命周期中可能出现的失败。
const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeInsufficientFunds   Code = "INSUFFICIENT_FUNDS"
	CodeEncoding            Code = "ENCODING_ERROR"
	CodeDiscoveryDegraded   Code = "DISCOVERY_DEGRADED"
	CodeBroadcast           Code = "BROADCAST_ERROR"
	CodeConfirmationTimeout Code = "CONFIRMATION_TIMEOUT"
	CodeReverted            Code = "REVERTED"
)

// 运行环境相关的失败。
const (
	CodeUnknown               Code = "UNKNOWN"
	CodeNotFound              Code = "NOT_FOUND"
	CodeChainUnavailable      Code = "CHAIN_UNAVAILABLE"
	CodeSigning               Code = "SIGNING_FAILURE"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeUnauthorized          Code = "UNAUTHORIZED"
)

// Attributes 是错误码的默认描述与处理方式。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

func info(msg string) Attributes { return Attributes{Message: msg, Severity: SeverityInfo} }

func warn(msg string, alert bool) Attributes {
	return Attributes{Message: msg, Severity: SeverityWarning, Alert: alert}
}

func critical(msg string, retryable bool) Attributes {
	return Attributes{Message: msg, Severity: SeverityCritical, Retryable: retryable, Alert: true}
}

var taxonomy = struct {
	sync.RWMutex
	codes map[Code]Attributes
}{codes: map[Code]Attributes{
	CodeValidation:          info("invalid request"),
	CodeInsufficientFunds:   info("insufficient funds"),
	CodeEncoding:            critical("calldata encoding failed", false),
	CodeDiscoveryDegraded:   warn("discovery fell back to defaults", false),
	CodeBroadcast:           warn("transaction rejected by rpc", true),
	CodeConfirmationTimeout: warn("receipt not observed in time", true),
	CodeReverted:            warn("transaction reverted", true),

	CodeUnknown:               critical("unknown error", false),
	CodeNotFound:              info("resource not found"),
	CodeChainUnavailable:      {Message: "chain rpc unavailable", Severity: SeverityWarning, Retryable: true, Alert: true},
	CodeSigning:               {Message: "transaction signing failed", Severity: SeverityCritical},
	CodeInitializationFailure: {Message: "service not initialized", Severity: SeverityWarning, Retryable: true, Alert: true},
	CodeStorageFailure:        critical("storage failure", true),
	CodeQueueFailure:          critical("queue failure", true),
	CodeUnauthorized:          info("unauthorized"),
}}

// Register 为业务包自定义的错误码登记默认属性，应在 init 阶段调用。
func Register(code Code, attr Attributes) {
	taxonomy.Lock()
	taxonomy.codes[code] = attr
	taxonomy.Unlock()
}

// AttributesOf 返回错误码的默认属性，未登记的错误码按 UNKNOWN 处理。
func AttributesOf(code Code) Attributes {
	taxonomy.RLock()
	defer taxonomy.RUnlock()
	if attr, ok := taxonomy.codes[code]; ok {
		return attr
	}
	return taxonomy.codes[CodeUnknown]
}
