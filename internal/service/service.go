// Package service 是 HTTP 层之下的统一入口，每个操作都返回 {success,data} 或
// {success:false,error} 形式的结果，不向上抛出异常。
package service

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"MonadSwap-Engine/internal/auth"
	"MonadSwap-Engine/internal/calldata"
	xerrors "MonadSwap-Engine/internal/errors"
	"MonadSwap-Engine/internal/monitor"
	"MonadSwap-Engine/internal/storage/history"
	"MonadSwap-Engine/internal/swap"
	"MonadSwap-Engine/internal/task"
	"MonadSwap-Engine/internal/web3"
	"MonadSwap-Engine/pkg/logger"

	"github.com/shopspring/decimal"
)

// Result 是所有操作的返回结构。失败时 Data 可能仍携带已广播交易的结果。
type Result struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   string       `json:"error,omitempty"`
	Code    xerrors.Code `json:"code,omitempty"`
}

// Engine 是门面使用的兑换引擎能力。
type Engine interface {
	TokenInfo(ctx context.Context, token string) (*swap.TokenInfo, error)
	TokenBalance(ctx context.Context, token, wallet string) (*swap.Balance, error)
	Execute(ctx context.Context, key *ecdsa.PrivateKey, req swap.Request) (*swap.Outcome, error)
}

// Scheduler 是门面使用的定时任务能力。
type Scheduler interface {
	Submit(ctx context.Context, key *ecdsa.PrivateKey, req task.SubmitRequest) (*task.Task, error)
	List(ctx context.Context, opts ...task.ListOption) ([]*task.Task, error)
	Stats(ctx context.Context, opts ...task.ListOption) (task.TaskStats, error)
}

// Monitors 是门面使用的余额监控能力。
type Monitors interface {
	Start(token, wallet string, threshold decimal.Decimal, autoTrade bool) (monitor.Monitor, error)
	Stop(id string) error
	List() []monitor.Monitor
}

// Chain 提供健康检查所需的链信息。
type Chain interface {
	IsConnected(ctx context.Context) bool
	ChainID(ctx context.Context) (*big.Int, error)
}

// Service 组合引擎、调度器、监控与流水账本。
type Service struct {
	network   string
	chain     Chain
	engine    Engine
	scheduler Scheduler
	monitors  Monitors
	ledger    history.Ledger
	threshold decimal.Decimal
	now       func() time.Time
	logger    *slog.Logger
}

// Option 配置 Service。
type Option func(*Service)

// WithNetwork 设置健康检查里展示的网络名称。
func WithNetwork(name string) Option {
	return func(s *Service) { s.network = name }
}

// WithLedger 设置流水账本，用于查询历史。
func WithLedger(l history.Ledger) Option {
	return func(s *Service) { s.ledger = l }
}

// WithDefaultThreshold 设置监控默认阈值。
func WithDefaultThreshold(d decimal.Decimal) Option {
	return func(s *Service) {
		if d.IsPositive() {
			s.threshold = d
		}
	}
}

// WithClock 替换时间源。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New 构造门面。
func New(chain Chain, engine Engine, scheduler Scheduler, monitors Monitors, opts ...Option) *Service {
	s := &Service{
		network:   "Monad Testnet",
		chain:     chain,
		engine:    engine,
		scheduler: scheduler,
		monitors:  monitors,
		threshold: decimal.RequireFromString("0.001"),
		now:       time.Now,
		logger:    logger.Named("service"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// SwapInput 是一次立即兑换的参数。数值字段保留字符串形式，避免浮点误差。
type SwapInput struct {
	PrivateKey string
	Wallet     string
	Token      string
	Amount     string
	TradeType  string
	Slippage   string
}

// ScheduleInput 是一次定时兑换的参数。ScheduleTime 为 ISO-8601 时间。
// ThreadCount 和 RunCount 为 nil 时取 1，显式给出的值原样交给调度器校验。
type ScheduleInput struct {
	SwapInput
	ScheduleTime string
	ThreadCount  *int
	RunCount     *int
}

// MonitorInput 是启动监控的参数，Threshold 为空时使用默认阈值。
type MonitorInput struct {
	Token     string
	Wallet    string
	Threshold string
	AutoTrade bool
}

func ok(data any) Result {
	return Result{Success: true, Data: data}
}

func fail(err error, data any) Result {
	return Result{Success: false, Data: data, Error: errorMessage(err), Code: xerrors.CodeOf(err)}
}

// errorMessage 去掉错误码前缀，只保留可读描述与底层原因。
func errorMessage(err error) string {
	e, ok := xerrors.From(err)
	if !ok {
		return err.Error()
	}
	msg := e.Message()
	if cause := errors.Unwrap(e); cause != nil {
		msg = msg + ": " + cause.Error()
	}
	return msg
}

func (s *Service) ready(parts ...any) error {
	for _, p := range parts {
		if p == nil {
			return xerrors.New(xerrors.CodeInitializationFailure, "服务未初始化")
		}
	}
	return nil
}

// Health 报告 RPC 连通性与链 ID。
func (s *Service) Health(ctx context.Context) Result {
	if s.chain == nil {
		return fail(xerrors.New(xerrors.CodeInitializationFailure, "服务未初始化"), map[string]any{"status": "unhealthy"})
	}
	data := map[string]any{
		"status":    "healthy",
		"network":   s.network,
		"connected": s.chain.IsConnected(ctx),
	}
	if id, err := s.chain.ChainID(ctx); err == nil && id != nil {
		data["chain_id"] = id.String()
	}
	if connected, _ := data["connected"].(bool); !connected {
		data["status"] = "degraded"
	}
	return ok(data)
}

// GetTokenInfo 返回代币元数据与解析出的路由地址。
func (s *Service) GetTokenInfo(ctx context.Context, token string) Result {
	if err := s.ready(s.engine); err != nil {
		return fail(err, nil)
	}
	info, err := s.engine.TokenInfo(ctx, token)
	if err != nil {
		s.logger.Error("获取代币信息失败", slog.String("token", token), slog.Any("error", err))
		return fail(err, nil)
	}
	return ok(info)
}

// BalanceView 是余额查询的返回数据。
type BalanceView struct {
	Balance         string `json:"balance"`
	ReadableBalance string `json:"readable_balance"`
	Decimals        uint8  `json:"decimals"`
}

// GetTokenBalance 返回原始单位余额、可读余额与精度。
func (s *Service) GetTokenBalance(ctx context.Context, token, wallet string) Result {
	if err := s.ready(s.engine); err != nil {
		return fail(err, nil)
	}
	bal, err := s.engine.TokenBalance(ctx, token, wallet)
	if err != nil {
		s.logger.Error("获取代币余额失败", slog.String("token", token), slog.String("wallet", wallet), slog.Any("error", err))
		return fail(err, nil)
	}
	raw := "0"
	if bal.Raw != nil {
		raw = bal.Raw.String()
	}
	return ok(BalanceView{Balance: raw, ReadableBalance: bal.Readable.String(), Decimals: bal.Decimals})
}

// ExecuteSwap 立即执行一次兑换。失败时 Data 携带引擎结果，广播后的失败同样带有交易哈希。
func (s *Service) ExecuteSwap(ctx context.Context, in SwapInput) Result {
	if err := s.ready(s.engine); err != nil {
		return fail(err, nil)
	}
	key, req, err := s.buildRequest(in)
	if err != nil {
		return fail(err, nil)
	}
	outcome, err := s.engine.Execute(ctx, key, req)
	if err != nil {
		s.logger.Warn("兑换失败",
			slog.String("caller", auth.CallerID(ctx)),
			slog.String("wallet", req.Wallet),
			slog.String("token", req.Token),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.String("tx_hash", txHashOf(outcome, err)))
		var data any
		if outcome != nil {
			data = outcome
		}
		return fail(err, data)
	}
	return ok(outcome)
}

func txHashOf(outcome *swap.Outcome, err error) string {
	if outcome != nil && outcome.TxHash != "" {
		return outcome.TxHash
	}
	return xerrors.MetadataOf(err, "tx_hash")
}

// ScheduleSwap 创建一次定时兑换。
func (s *Service) ScheduleSwap(ctx context.Context, in ScheduleInput) Result {
	if err := s.ready(s.scheduler); err != nil {
		return fail(err, nil)
	}
	key, req, err := s.buildRequest(in.SwapInput)
	if err != nil {
		return fail(err, nil)
	}
	at, err := ParseScheduleTime(in.ScheduleTime)
	if err != nil {
		return fail(err, nil)
	}
	t, err := s.scheduler.Submit(ctx, key, task.SubmitRequest{
		Swap:         req,
		ScheduleTime: at,
		ThreadCount:  countOrOne(in.ThreadCount),
		RunCount:     countOrOne(in.RunCount),
	})
	if err != nil {
		return fail(err, nil)
	}
	return ok(t)
}

func countOrOne(n *int) int {
	if n == nil {
		return 1
	}
	return *n
}

// TaskQuery 是定时任务列表的过滤条件，零值返回全部任务。
type TaskQuery struct {
	Statuses  []string
	Wallet    string
	Token     string
	TradeType string
}

func (q TaskQuery) options() ([]task.ListOption, error) {
	opts := []task.ListOption{
		task.WithWallet(q.Wallet),
		task.WithToken(q.Token),
		task.WithDirection(q.TradeType),
	}
	if len(q.Statuses) > 0 {
		statuses := make([]task.Status, 0, len(q.Statuses))
		for _, raw := range q.Statuses {
			st := task.Status(strings.ToLower(strings.TrimSpace(raw)))
			if !task.IsValidStatus(st) {
				return nil, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("unknown task status %q", raw))
			}
			statuses = append(statuses, st)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	return opts, nil
}

// ListScheduledTasks 按提交顺序返回定时任务，stats 统计同一过滤条件下的全部任务。
func (s *Service) ListScheduledTasks(ctx context.Context, q TaskQuery) Result {
	if err := s.ready(s.scheduler); err != nil {
		return fail(err, nil)
	}
	filter, err := q.options()
	if err != nil {
		return fail(err, nil)
	}
	tasks, err := s.scheduler.List(ctx, append(filter, task.WithSortOrder(task.SortByCreatedAsc), task.WithLimit(1000))...)
	if err != nil {
		return fail(err, nil)
	}
	stats, err := s.scheduler.Stats(ctx, filter...)
	if err != nil {
		return fail(err, nil)
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	return ok(map[string]any{
		"tasks":       tasks,
		"total_count": len(tasks),
		"stats":       stats,
	})
}

// StartMonitor 启动一个余额监控。
func (s *Service) StartMonitor(_ context.Context, in MonitorInput) Result {
	if err := s.ready(s.monitors); err != nil {
		return fail(err, nil)
	}
	threshold := s.threshold
	if raw := strings.TrimSpace(in.Threshold); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return fail(xerrors.Wrap(xerrors.CodeValidation, err, fmt.Sprintf("invalid threshold %q", raw)), nil)
		}
		threshold = d
	}
	m, err := s.monitors.Start(in.Token, in.Wallet, threshold, in.AutoTrade)
	if err != nil {
		return fail(err, nil)
	}
	return ok(map[string]any{
		"monitor_id": m.ID,
		"status":     "started",
	})
}

// StopMonitor 停止监控；未知编号返回失败结果而不是错误。
func (s *Service) StopMonitor(_ context.Context, id string) Result {
	if err := s.ready(s.monitors); err != nil {
		return fail(err, nil)
	}
	if err := s.monitors.Stop(strings.TrimSpace(id)); err != nil {
		return fail(err, nil)
	}
	return ok(map[string]any{
		"monitor_id": id,
		"status":     "stopped",
	})
}

// ListMonitors 返回活跃监控及数量。
func (s *Service) ListMonitors(_ context.Context) Result {
	if err := s.ready(s.monitors); err != nil {
		return fail(err, nil)
	}
	list := s.monitors.List()
	return ok(map[string]any{
		"monitors":    list,
		"total_count": len(list),
	})
}

// History 返回最近的兑换流水。
func (s *Service) History(ctx context.Context, wallet string, limit int) Result {
	if s.ledger == nil {
		return fail(xerrors.New(xerrors.CodeInitializationFailure, "流水账本未启用"), nil)
	}
	records, err := s.ledger.Recent(ctx, history.Query{Wallet: wallet, Limit: limit})
	if err != nil {
		return fail(err, nil)
	}
	if records == nil {
		records = []history.Record{}
	}
	return ok(map[string]any{
		"records":     records,
		"total_count": len(records),
	})
}

func (s *Service) buildRequest(in SwapInput) (*ecdsa.PrivateKey, swap.Request, error) {
	key, wallet, err := web3.ParsePrivateKey(in.PrivateKey)
	if err != nil {
		return nil, swap.Request{}, xerrors.Wrap(xerrors.CodeValidation, err, "invalid private key")
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(in.Amount))
	if err != nil {
		return nil, swap.Request{}, xerrors.Wrap(xerrors.CodeValidation, err, fmt.Sprintf("invalid amount %q", in.Amount))
	}
	tradeType := in.TradeType
	if strings.TrimSpace(tradeType) == "" {
		tradeType = string(calldata.Buy)
	}
	direction, err := calldata.ParseDirection(tradeType)
	if err != nil {
		return nil, swap.Request{}, err
	}
	slippage, err := swap.ParseSlippage(strings.TrimSpace(in.Slippage))
	if err != nil {
		return nil, swap.Request{}, err
	}
	walletAddr := wallet.Hex()
	if w := strings.TrimSpace(in.Wallet); w != "" {
		walletAddr = w
	}
	req := swap.Request{
		Wallet:    walletAddr,
		Token:     strings.TrimSpace(in.Token),
		Amount:    amount,
		Direction: direction,
		Slippage:  slippage,
	}
	if err := req.Validate(); err != nil {
		return nil, swap.Request{}, err
	}
	return key, req, nil
}

// ParseScheduleTime 解析 ISO-8601 时间；不带时区的时间按本地时区处理。
func ParseScheduleTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, xerrors.New(xerrors.CodeValidation, "schedule_time is required")
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("invalid schedule_time %q, expected ISO-8601", raw))
}
