// Package monitor 周期性读取代币余额并在变动达到阈值时发出事件。
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "MonadSwap-Engine/internal/errors"
	"MonadSwap-Engine/internal/swap"
	"MonadSwap-Engine/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// BalanceReader 读取钱包的代币余额。
type BalanceReader interface {
	TokenBalance(ctx context.Context, token, wallet string) (*swap.Balance, error)
}

// AutoTrader 在开启 auto_trade 的监控触发时被调用。
type AutoTrader interface {
	OnBalanceChange(ctx context.Context, event Event)
}

// Observer 接收监控运行指标。
type Observer interface {
	ObserveMonitorEvent()
	ObserveMonitorError()
	SetActiveMonitors(n int)
}

// Monitor 是一个监控条目的快照。
type Monitor struct {
	ID          string          `json:"monitor_id"`
	Token       string          `json:"token_address"`
	Wallet      string          `json:"wallet_address"`
	Threshold   decimal.Decimal `json:"threshold"`
	AutoTrade   bool            `json:"auto_trade"`
	StartTime   time.Time       `json:"start_time"`
	LastBalance *string         `json:"last_balance"`
	LastChecked time.Time       `json:"last_checked,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
}

// Event 描述一次达到阈值的余额变动。
type Event struct {
	MonitorID  string          `json:"monitor_id"`
	Token      string          `json:"token_address"`
	Wallet     string          `json:"wallet_address"`
	Previous   decimal.Decimal `json:"previous"`
	Current    decimal.Decimal `json:"current"`
	Delta      decimal.Decimal `json:"delta"`
	AutoTrade  bool            `json:"auto_trade"`
	ObservedAt time.Time       `json:"observed_at"`
}

type entry struct {
	Monitor
	seq      uint64
	baseline *decimal.Decimal
}

// Option 配置 Service。
type Option func(*Service)

// WithInterval 设置轮询间隔。
func WithInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithBackoff 设置循环体 panic 后的退避时长。
func WithBackoff(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.backoff = d
		}
	}
}

// WithAutoTrader 替换默认只记日志的 AutoTrader。
func WithAutoTrader(t AutoTrader) Option {
	return func(s *Service) {
		if t != nil {
			s.trader = t
		}
	}
}

// WithObserver 注册指标观察者。
func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithLogger 覆盖默认日志。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock 替换时间源，测试使用。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service 管理全部余额监控。
type Service struct {
	reader   BalanceReader
	trader   AutoTrader
	observer Observer
	logger   *slog.Logger
	interval time.Duration
	backoff  time.Duration
	now      func() time.Time

	mu       sync.RWMutex
	monitors map[string]*entry
	counter  uint64

	subMu  sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

// NewService 创建监控服务。
func NewService(reader BalanceReader, opts ...Option) *Service {
	s := &Service{
		reader:   reader,
		logger:   logger.Named("monitor"),
		interval: time.Second,
		backoff:  5 * time.Second,
		now:      time.Now,
		monitors: make(map[string]*entry),
		subs:     make(map[int]chan Event),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.trader == nil {
		s.trader = logTrader{logger: s.logger}
	}
	return s
}

// Start 注册一个新的监控，编号从 monitor_0 开始递增。
func (s *Service) Start(token, wallet string, threshold decimal.Decimal, autoTrade bool) (Monitor, error) {
	token = strings.TrimSpace(token)
	wallet = strings.TrimSpace(wallet)
	if !common.IsHexAddress(token) {
		return Monitor{}, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("invalid token address %q", token))
	}
	if !common.IsHexAddress(wallet) {
		return Monitor{}, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("invalid wallet address %q", wallet))
	}
	if !threshold.IsPositive() {
		return Monitor{}, xerrors.New(xerrors.CodeValidation, "threshold must be greater than 0")
	}

	s.mu.Lock()
	seq := s.counter
	s.counter++
	e := &entry{
		Monitor: Monitor{
			ID:        fmt.Sprintf("monitor_%d", seq),
			Token:     common.HexToAddress(token).Hex(),
			Wallet:    common.HexToAddress(wallet).Hex(),
			Threshold: threshold,
			AutoTrade: autoTrade,
			StartTime: s.now(),
		},
		seq: seq,
	}
	s.monitors[e.ID] = e
	active := len(s.monitors)
	snapshot := e.Monitor
	s.mu.Unlock()

	s.reportActive(active)
	logger.Audit().Info("monitor started",
		slog.String("monitor_id", snapshot.ID),
		slog.String("token", snapshot.Token),
		slog.String("wallet", snapshot.Wallet),
		slog.String("threshold", threshold.String()),
		slog.Bool("auto_trade", autoTrade))
	return snapshot, nil
}

// Stop 移除监控；未知编号返回 NOT_FOUND。
func (s *Service) Stop(id string) error {
	s.mu.Lock()
	_, ok := s.monitors[id]
	if ok {
		delete(s.monitors, id)
	}
	active := len(s.monitors)
	s.mu.Unlock()

	if !ok {
		return xerrors.New(xerrors.CodeNotFound, "monitor id not found", xerrors.WithMetadata("monitor_id", id))
	}
	s.reportActive(active)
	logger.Audit().Info("monitor stopped", slog.String("monitor_id", id))
	return nil
}

// List 按创建顺序返回全部监控的快照。
func (s *Service) List() []Monitor {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.monitors))
	for _, e := range s.monitors {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]Monitor, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	s.mu.RUnlock()
	return out
}

// Get 返回单个监控。
func (s *Service) Get(id string) (Monitor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.monitors[id]
	if !ok {
		return Monitor{}, false
	}
	return e.snapshot(), true
}

func (e *entry) snapshot() Monitor {
	m := e.Monitor
	if e.LastBalance != nil {
		v := *e.LastBalance
		m.LastBalance = &v
	}
	return m
}

// Subscribe 注册一个事件订阅者。订阅者跟不上时事件会被丢弃。
func (s *Service) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Service) publish(event Event) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- event:
		default:
			s.logger.Warn("subscriber lagging, event dropped", slog.String("monitor_id", event.MonitorID))
		}
	}
}

func (s *Service) reportActive(n int) {
	if s.observer != nil {
		s.observer.SetActiveMonitors(n)
	}
}

// Run 启动轮询循环直到 ctx 结束。循环体 panic 时记录日志并退避后继续。
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if recovered := s.safePoll(ctx); recovered != nil {
			s.logger.Error("monitor loop panic, backing off",
				slog.Any("panic", recovered),
				slog.Duration("backoff", s.backoff))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backoff):
			}
		}
	}
}

func (s *Service) safePoll(ctx context.Context) (recovered any) {
	defer func() {
		recovered = recover()
	}()
	s.Poll(ctx)
	return nil
}

// Poll 对当前活跃的监控各执行一次检查。
func (s *Service) Poll(ctx context.Context) {
	s.mu.RLock()
	ids := make([]*entry, 0, len(s.monitors))
	for _, e := range s.monitors {
		ids = append(ids, e)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i].seq < ids[j].seq })

	for _, e := range ids {
		if ctx.Err() != nil {
			return
		}
		s.check(ctx, e)
	}
}

func (s *Service) check(ctx context.Context, e *entry) {
	log := s.logger.With(slog.String("monitor_id", e.ID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("monitor check panic", slog.Any("panic", r))
			s.recordError(e, fmt.Sprintf("panic: %v", r))
		}
	}()

	bal, err := s.reader.TokenBalance(ctx, e.Token, e.Wallet)
	if err != nil {
		log.Warn("balance read failed", slog.Any("error", err))
		s.recordError(e, err.Error())
		return
	}
	current := bal.Readable
	now := s.now()

	s.mu.Lock()
	if _, alive := s.monitors[e.ID]; !alive {
		s.mu.Unlock()
		return
	}
	e.LastChecked = now
	e.LastError = ""
	if e.baseline == nil {
		e.baseline = &current
		v := current.String()
		e.LastBalance = &v
		s.mu.Unlock()
		return
	}
	previous := *e.baseline
	delta := current.Sub(previous).Abs()
	if delta.LessThan(e.Threshold) {
		s.mu.Unlock()
		return
	}
	e.baseline = &current
	v := current.String()
	e.LastBalance = &v
	event := Event{
		MonitorID:  e.ID,
		Token:      e.Token,
		Wallet:     e.Wallet,
		Previous:   previous,
		Current:    current,
		Delta:      delta,
		AutoTrade:  e.AutoTrade,
		ObservedAt: now,
	}
	s.mu.Unlock()

	log.Info("balance changed",
		slog.String("previous", previous.String()),
		slog.String("current", current.String()),
		slog.String("delta", delta.String()))
	if s.observer != nil {
		s.observer.ObserveMonitorEvent()
	}
	s.publish(event)
	if event.AutoTrade {
		s.trader.OnBalanceChange(ctx, event)
	}
}

func (s *Service) recordError(e *entry, msg string) {
	s.mu.Lock()
	if _, alive := s.monitors[e.ID]; alive {
		e.LastError = msg
		e.LastChecked = s.now()
	}
	s.mu.Unlock()
	if s.observer != nil {
		s.observer.ObserveMonitorError()
	}
}

type logTrader struct {
	logger *slog.Logger
}

func (t logTrader) OnBalanceChange(_ context.Context, event Event) {
	t.logger.Info("auto trade hook not configured, event ignored",
		slog.String("monitor_id", event.MonitorID),
		slog.String("delta", event.Delta.String()))
}
