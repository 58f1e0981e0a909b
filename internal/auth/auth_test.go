package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"MonadSwap-Engine/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(config.AuthConfig{Enabled: true, Secret: "s3cret", Issuer: "swapd"})
	require.NoError(t, err)
	return svc
}

func TestNewServiceRequiresSecret(t *testing.T) {
	_, err := NewService(config.AuthConfig{Enabled: true})
	require.Error(t, err)

	disabled, err := NewService(config.AuthConfig{})
	require.NoError(t, err)
	assert.False(t, disabled.Enabled())
}

func TestIssueAndAuthenticate(t *testing.T) {
	svc := newTestService(t)
	token, err := svc.Issue("ops", []string{ScopeSwap}, time.Minute)
	require.NoError(t, err)

	subject, err := svc.AuthenticateRequest("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "ops", subject.ID)
	assert.True(t, subject.HasScope(ScopeSwap))
	assert.ErrorIs(t, subject.Authorize(ScopeMonitor), ErrPermissionDenied)
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.AuthenticateRequest("")
	assert.ErrorIs(t, err, ErrMissingToken)

	other, err := NewService(config.AuthConfig{Enabled: true, Secret: "other", Issuer: "swapd"})
	require.NoError(t, err)
	forged, err := other.Issue("ops", []string{"*"}, time.Minute)
	require.NoError(t, err)
	_, err = svc.AuthenticateRequest("Bearer " + forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := svc.Issue("ops", []string{"*"}, time.Minute)
	require.NoError(t, err)
	svc.now = time.Now
	_, err = svc.AuthenticateRequest("Bearer " + expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	svc := newTestService(t)
	var seen *Subject
	handler := svc.Middleware(MiddlewareConfig{Route: "swap_execute", Scope: ScopeSwap})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/swap/execute", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	readOnly, err := svc.Issue("viewer", []string{ScopeMonitor}, time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/swap/execute", nil)
	req.Header.Set("Authorization", "Bearer "+readOnly)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	full, err := svc.Issue("ops", []string{ScopeSwap}, time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/swap/execute", nil)
	req.Header.Set("Authorization", "Bearer "+full)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "ops", seen.ID)
}

func TestCallerID(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "anonymous", CallerID(ctx))
	assert.Nil(t, SubjectFromContext(ctx))
	assert.Equal(t, ctx, WithSubject(ctx, nil))

	ctx = WithSubject(ctx, &Subject{ID: "ops", Scopes: []string{" Swap:Write "}})
	assert.Equal(t, "ops", CallerID(ctx))
	assert.True(t, SubjectFromContext(ctx).HasScope(ScopeSwap))
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	svc, err := NewService(config.AuthConfig{})
	require.NoError(t, err)
	handler := svc.Middleware(MiddlewareConfig{})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
