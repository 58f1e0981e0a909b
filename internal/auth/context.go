package auth

import "context"

type ctxKey int

const subjectCtxKey ctxKey = iota

// anonymousCaller 在鉴权关闭或未经过中间件时作为调用方标识。
const anonymousCaller = "anonymous"

// WithSubject 把已通过校验的调用方写入 ctx。
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	if subject == nil {
		return ctx
	}
	subject.normalise()
	return context.WithValue(ctx, subjectCtxKey, subject)
}

// SubjectFromContext 取出调用方，不存在时返回 nil。
func SubjectFromContext(ctx context.Context) *Subject {
	if ctx == nil {
		return nil
	}
	subject, _ := ctx.Value(subjectCtxKey).(*Subject)
	return subject
}

// CallerID 返回用于日志的调用方标识。
func CallerID(ctx context.Context) string {
	if subject := SubjectFromContext(ctx); subject != nil && subject.ID != "" {
		return subject.ID
	}
	return anonymousCaller
}
