package auth

import (
	"errors"
	"net/http"
	"time"
)

// DenyFunc 写出鉴权失败的响应。
type DenyFunc func(w http.ResponseWriter, status int, err error)

// MiddlewareConfig 描述单个写接口的鉴权要求。
type MiddlewareConfig struct {
	// Route 是审计日志中的接口名，为空时取请求路径。
	Route string
	// Scope 是访问该接口所需的权限，为空时只校验令牌。
	Scope string
	Deny  DenyFunc
}

func plainDeny(w http.ResponseWriter, status int, _ error) {
	http.Error(w, http.StatusText(status), status)
}

// Middleware 校验 Bearer 令牌与权限，通过后把调用方写入请求上下文。
// 鉴权关闭时直接放行。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	deny := cfg.Deny
	if deny == nil {
		deny = plainDeny
	}
	return func(next http.Handler) http.Handler {
		if !s.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := cfg.Route
			if route == "" {
				route = r.URL.Path
			}

			subject, status, err := s.check(r, cfg.Scope)
			if err != nil {
				deny(w, status, err)
				attrs := []any{"route", route, "method", r.Method, "status", status, "error", err.Error()}
				if subject != nil {
					attrs = append(attrs, "caller", subject.ID)
				}
				s.audit.Warn("swapd_access_denied", attrs...)
				return
			}

			started := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r.WithContext(WithSubject(r.Context(), subject)))
			s.audit.Info("swapd_write_call",
				"route", route,
				"caller", subject.ID,
				"status", sw.status,
				"duration_ms", time.Since(started).Milliseconds(),
			)
		})
	}
}

// check 返回调用方以及失败时应写出的状态码。
func (s *Service) check(r *http.Request, scope string) (*Subject, int, error) {
	subject, err := s.AuthenticateRequest(r.Header.Get("Authorization"))
	if err != nil {
		return nil, http.StatusUnauthorized, err
	}
	if err := subject.Authorize(scope); err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return subject, http.StatusForbidden, err
		}
		return subject, http.StatusUnauthorized, err
	}
	return subject, 0, nil
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
