// Package errors 定义 swapd 统一的错误类型。每个错误带一个 Code，
// 严重程度、是否可重试、是否告警默认取自错误码，可在构造时覆盖。
package errors

import (
	stdErrors "errors"
	"fmt"
	"maps"
)

// Error 是 swapd 各层之间传递的错误。
type Error struct {
	code     Code
	message  string
	cause    error
	override *Attributes
	metadata map[string]string
}

// attributes 优先返回构造时的覆盖值，否则按错误码实时查表。
func (e *Error) attributes() Attributes {
	if e.override != nil {
		return *e.override
	}
	return AttributesOf(e.code)
}

func (e *Error) own() *Attributes {
	if e.override == nil {
		attr := AttributesOf(e.code)
		e.override = &attr
	}
	return e.override
}

// Option 在构造时调整错误。
type Option func(*Error)

// WithMetadata 附加键值，例如 tx_hash、stage。空值会被忽略。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if value == "" {
			return
		}
		if e.metadata == nil {
			e.metadata = map[string]string{}
		}
		e.metadata[key] = value
	}
}

func WithRetryable(retryable bool) Option { return func(e *Error) { e.own().Retryable = retryable } }
func WithAlert(alert bool) Option         { return func(e *Error) { e.own().Alert = alert } }
func WithSeverity(sev Severity) Option    { return func(e *Error) { e.own().Severity = sev } }

// New 构造错误；message 为空时使用错误码的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	e := &Error{code: code, message: message}
	if e.message == "" {
		e.message = AttributesOf(code).Message
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 与 New 相同，但保留底层原因供 errors.Is/As 使用。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause == nil {
		return fmt.Sprintf("[%s] %s", e.code, e.message)
	}
	return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 按错误码比较，使 errors.Is(err, New(code, "")) 成立。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 不含底层原因。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	return maps.Clone(e.metadata)
}

func (e *Error) Retryable() bool   { return e != nil && e.attributes().Retryable }
func (e *Error) ShouldAlert() bool { return e != nil && e.attributes().Alert }

func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return e.attributes().Severity
}

// From 在错误链中查找 *Error。
func From(err error) (*Error, bool) {
	var target *Error
	if err != nil && stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误链上第一个 *Error 的错误码，没有时为 UNKNOWN。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// HasCode 判断错误链中是否存在指定错误码。
func HasCode(err error, code Code) bool {
	return stdErrors.Is(err, &Error{code: code})
}

// MetadataOf 读取错误链上第一个 *Error 的附加字段。
func MetadataOf(err error, key string) string {
	if e, ok := From(err); ok {
		return e.metadata[key]
	}
	return ""
}

func RetryableError(err error) bool {
	e, ok := From(err)
	return ok && e.Retryable()
}

// ShouldAlert 判断 err 是否需要告警；非 *Error 的错误不告警。
func ShouldAlert(err error) bool {
	e, ok := From(err)
	return ok && e.ShouldAlert()
}

func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}
