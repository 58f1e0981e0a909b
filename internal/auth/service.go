// Package auth 为 swapd 的写接口提供可选的 Bearer JWT 鉴权。
package auth

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"MonadSwap-Engine/internal/config"
	"MonadSwap-Engine/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
)

// Service 负责签发与校验访问令牌。
type Service struct {
	enabled bool
	secret  []byte
	issuer  string
	now     func() time.Time
	audit   *slog.Logger
}

// NewService 构造身份认证服务实例。未启用时中间件直接放行。
func NewService(cfg config.AuthConfig) (*Service, error) {
	svc := &Service{
		enabled: cfg.Enabled,
		issuer:  cfg.Issuer,
		now:     time.Now,
		audit:   logger.Audit(),
	}
	if !cfg.Enabled {
		return svc, nil
	}
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("jwt secret must be configured")
	}
	svc.secret = []byte(cfg.Secret)
	return svc, nil
}

// Enabled 返回是否启用鉴权。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled
}

// Issue 为 subject 签发一个 HS256 访问令牌，供运维或测试使用。
func (s *Service) Issue(subject string, scopes []string, ttl time.Duration) (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scopes: scopes,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// AuthenticateRequest 验证 Authorization 头并返回主体信息。
func (s *Service) AuthenticateRequest(authorization string) (*Subject, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	raw := strings.TrimSpace(parts[1])
	if raw == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	subject := &Subject{ID: claims.Subject, Scopes: claims.Scopes}
	subject.normalise()
	return subject, nil
}
