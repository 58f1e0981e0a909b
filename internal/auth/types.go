package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Common errors returned by the authentication subsystem.
var (
	ErrDisabled         = errors.New("authentication disabled")
	ErrInvalidToken     = errors.New("invalid token")
	ErrMissingToken     = errors.New("missing bearer token")
	ErrPermissionDenied = errors.New("permission denied")
)

// 写接口使用的权限。
const (
	ScopeSwap    = "swap:write"
	ScopeMonitor = "monitor:write"
)

// Claims 是 swapd 签发的访问令牌载荷。
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scope,omitempty"`
}

// Subject captures the caller identity passed to request handlers via context.
type Subject struct {
	ID     string
	Scopes []string

	scopeSet map[string]struct{}
}

// normalise prepares the lookup set for permission checks.
func (s *Subject) normalise() {
	if s == nil {
		return
	}
	if s.scopeSet == nil {
		s.scopeSet = make(map[string]struct{}, len(s.Scopes))
		for _, scope := range s.Scopes {
			s.scopeSet[strings.ToLower(strings.TrimSpace(scope))] = struct{}{}
		}
	}
}

// HasScope reports whether the subject was granted scope. "*" grants everything.
func (s *Subject) HasScope(scope string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	if _, ok := s.scopeSet["*"]; ok {
		return true
	}
	_, ok := s.scopeSet[strings.ToLower(strings.TrimSpace(scope))]
	return ok
}

// Authorize ensures the subject has all required scopes.
func (s *Subject) Authorize(scopes ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	for _, scope := range scopes {
		if scope == "" {
			continue
		}
		if !s.HasScope(scope) {
			return fmt.Errorf("%w: missing %s", ErrPermissionDenied, scope)
		}
	}
	return nil
}
