package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"MonadSwap-Engine/internal/auth"
	xerrors "MonadSwap-Engine/internal/errors"
	"MonadSwap-Engine/internal/monitor"
	"MonadSwap-Engine/internal/observability/metrics"
	"MonadSwap-Engine/internal/service"
	"MonadSwap-Engine/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
)

const requestIDHeader = "X-Request-ID"

// Facade 是 HTTP 层依赖的业务入口，由 service.Service 实现。
type Facade interface {
	Health(ctx context.Context) service.Result
	GetTokenInfo(ctx context.Context, token string) service.Result
	GetTokenBalance(ctx context.Context, token, wallet string) service.Result
	ExecuteSwap(ctx context.Context, in service.SwapInput) service.Result
	ScheduleSwap(ctx context.Context, in service.ScheduleInput) service.Result
	StartMonitor(ctx context.Context, in service.MonitorInput) service.Result
	StopMonitor(ctx context.Context, id string) service.Result
	ListMonitors(ctx context.Context) service.Result
	ListScheduledTasks(ctx context.Context, q service.TaskQuery) service.Result
	History(ctx context.Context, wallet string, limit int) service.Result
}

// EventSource 提供余额变化事件订阅。
type EventSource interface {
	Subscribe(buffer int) (<-chan monitor.Event, func())
}

// Server 负责暴露 REST 接口与监控事件流。
type Server struct {
	addr     string
	facade   Facade
	events   EventSource
	auth     *auth.Service
	metrics  *metrics.Metrics
	origins  []string
	validate *validator.Validate
	upgrader websocket.Upgrader
	logger   *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// Option 配置 Server。
type Option func(*Server)

// WithEventSource 启用 websocket 事件流。
func WithEventSource(src EventSource) Option {
	return func(s *Server) { s.events = src }
}

// WithAuth 为写操作启用 JWT 鉴权。
func WithAuth(a *auth.Service) Option {
	return func(s *Server) { s.auth = a }
}

// WithMetrics 记录请求指标并挂载 /metrics。
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithCORSOrigins 设置允许的跨域来源，为空时允许全部。
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, facade Facade, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		facade:   facade,
		validate: newValidator(),
		logger:   logger.Named("api"),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler 组装路由与中间件。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "GET /api/health", "health", false, s.handleHealth)
	s.route(mux, "POST /api/token/info", "token_info", false, s.handleTokenInfo)
	s.route(mux, "POST /api/token/balance", "token_balance", false, s.handleTokenBalance)
	s.route(mux, "POST /api/swap/execute", "swap_execute", true, s.handleExecuteSwap)
	s.route(mux, "POST /api/swap/schedule", "swap_schedule", true, s.handleScheduleSwap)
	s.route(mux, "GET /api/swap/history", "swap_history", false, s.handleHistory)
	s.route(mux, "POST /api/pool/monitor/start", "monitor_start", true, s.handleStartMonitor)
	s.route(mux, "POST /api/pool/monitor/stop", "monitor_stop", true, s.handleStopMonitor)
	s.route(mux, "GET /api/pool/monitor/status", "monitor_status", false, s.handleMonitorStatus)
	s.route(mux, "GET /api/scheduled/tasks", "scheduled_tasks", false, s.handleScheduledTasks)
	// 事件流不经过指标中间件，升级需要原始 ResponseWriter。
	mux.HandleFunc("GET /api/pool/monitor/stream", s.handleMonitorStream)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	c := cors.New(cors.Options{
		AllowedOrigins: s.allowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
	})
	return withRequestID(c.Handler(mux))
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, guarded bool, fn http.HandlerFunc) {
	var h http.Handler = fn
	if guarded && s.auth != nil {
		scope := auth.ScopeSwap
		if strings.Contains(pattern, "/monitor/") {
			scope = auth.ScopeMonitor
		}
		h = s.auth.Middleware(auth.MiddlewareConfig{
			Route: name,
			Scope: scope,
			Deny: func(w http.ResponseWriter, status int, err error) {
				writeJSON(w, status, service.Result{Success: false, Error: err.Error(), Code: xerrors.CodeUnauthorized})
			},
		})(h)
	}
	if s.metrics != nil {
		h = s.metrics.Middleware(name, h)
	}
	mux.Handle(pattern, h)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		s.closeStreams()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		s.closeStreams()
		return err
	}
}

func (s *Server) closeStreams() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	res := s.facade.Health(r.Context())
	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	if data, ok := res.Data.(map[string]any); ok && res.Success {
		writeJSON(w, status, data)
		return
	}
	writeJSON(w, status, res)
}

func (s *Server) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	var req tokenInfoRequest
	if !s.bind(w, r, &req) {
		return
	}
	s.respond(w, r, s.facade.GetTokenInfo(r.Context(), req.TokenAddress))
}

func (s *Server) handleTokenBalance(w http.ResponseWriter, r *http.Request) {
	var req tokenBalanceRequest
	if !s.bind(w, r, &req) {
		return
	}
	s.respond(w, r, s.facade.GetTokenBalance(r.Context(), req.TokenAddress, req.WalletAddress))
}

func (s *Server) handleExecuteSwap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if !s.bind(w, r, &req) {
		return
	}
	s.respond(w, r, s.facade.ExecuteSwap(r.Context(), service.SwapInput{
		PrivateKey: req.PrivateKey,
		Wallet:     req.WalletAddress,
		Token:      req.TokenAddress,
		Amount:     string(req.AmountIn),
		TradeType:  req.TradeType,
		Slippage:   string(req.Slippage),
	}))
}

func (s *Server) handleScheduleSwap(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !s.bind(w, r, &req) {
		return
	}
	s.respond(w, r, s.facade.ScheduleSwap(r.Context(), service.ScheduleInput{
		SwapInput: service.SwapInput{
			PrivateKey: req.PrivateKey,
			Wallet:     req.WalletAddress,
			Token:      req.TokenAddress,
			Amount:     string(req.AmountIn),
			TradeType:  req.TradeType,
			Slippage:   string(req.Slippage),
		},
		ScheduleTime: req.ScheduleTime,
		ThreadCount:  req.ThreadCount,
		RunCount:     req.RunCount,
	}))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	s.respond(w, r, s.facade.History(r.Context(), r.URL.Query().Get("wallet_address"), limit))
}

func (s *Server) handleStartMonitor(w http.ResponseWriter, r *http.Request) {
	var req monitorStartRequest
	if !s.bind(w, r, &req) {
		return
	}
	s.respond(w, r, s.facade.StartMonitor(r.Context(), service.MonitorInput{
		Token:     req.TokenAddress,
		Wallet:    req.WalletAddress,
		Threshold: string(req.Threshold),
		AutoTrade: req.AutoTrade,
	}))
}

func (s *Server) handleStopMonitor(w http.ResponseWriter, r *http.Request) {
	var req monitorStopRequest
	if !s.bind(w, r, &req) {
		return
	}
	s.respond(w, r, s.facade.StopMonitor(r.Context(), req.MonitorID))
}

func (s *Server) handleMonitorStatus(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.facade.ListMonitors(r.Context()))
}

func (s *Server) handleScheduledTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := service.TaskQuery{
		Wallet:    query.Get("wallet_address"),
		Token:     query.Get("token_address"),
		TradeType: query.Get("trade_type"),
	}
	for _, raw := range query["status"] {
		for _, st := range strings.Split(raw, ",") {
			if st = strings.TrimSpace(st); st != "" {
				q.Statuses = append(q.Statuses, st)
			}
		}
	}
	s.respond(w, r, s.facade.ListScheduledTasks(r.Context(), q))
}

func (s *Server) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := s.decode(w, r, dst); err != nil {
		writeJSON(w, http.StatusBadRequest, service.Result{Success: false, Error: err.Error(), Code: xerrors.CodeValidation})
		return false
	}
	return true
}

// respond 写出业务结果。业务失败仍返回 200，只有服务未初始化时返回 500。
func (s *Server) respond(w http.ResponseWriter, r *http.Request, res service.Result) {
	status := http.StatusOK
	if !res.Success {
		if res.Code == xerrors.CodeInitializationFailure {
			status = http.StatusInternalServerError
		}
		s.logger.Warn("请求处理失败",
			slog.String("path", r.URL.Path),
			slog.String("request_id", w.Header().Get(requestIDHeader)),
			slog.String("code", string(res.Code)),
			slog.String("error", res.Error))
	}
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) allowedOrigins() []string {
	if len(s.origins) == 0 {
		return []string{"*"}
	}
	return s.origins
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.allowedOrigins() {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// withRequestID 为每个请求分配或透传 X-Request-ID。
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeJSON(w, http.StatusServiceUnavailable, service.Result{Success: false, Error: "服务已关闭"})
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
