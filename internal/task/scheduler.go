package task

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	xerrors "MonadSwap-Engine/internal/errors"
	"MonadSwap-Engine/internal/swap"
	"MonadSwap-Engine/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// 定时任务的并发参数边界。
const (
	MaxThreadCount = 10
	MaxRunCount    = 100
)

// CodeTaskCancelled 表示调度器关闭时仍未触发的任务。
const CodeTaskCancelled xerrors.Code = "TASK_CANCELLED"

func init() {
	xerrors.Register(CodeTaskCancelled, xerrors.Attributes{
		Message:  "scheduler closed before the task fired",
		Severity: xerrors.SeverityWarning,
	})
}

// BalanceChecker 在提交阶段做余额预检。
type BalanceChecker interface {
	CheckBalance(ctx context.Context, wallet common.Address, req swap.Request, multiplier int64) error
}

// SubmitRequest 描述一次定时兑换。ThreadCount × RunCount 仅作为预检倍数和统计字段，
// 到期后引擎只执行一次。
type SubmitRequest struct {
	Swap         swap.Request
	ScheduleTime time.Time
	ThreadCount  int
	RunCount     int
}

// Scheduler 负责定时任务的创建、计时与查询。
type Scheduler struct {
	store    Store
	producer Producer
	checker  BalanceChecker
	keys     *Keyring
	logger   *slog.Logger
	now      func() time.Time

	counter atomic.Int64

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// SchedulerOption 定义可选配置。
type SchedulerOption func(*Scheduler)

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSchedulerLogger 指定日志输出。
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScheduler 构造调度器。keys 会与 Processor 共享。
func NewScheduler(store Store, producer Producer, checker BalanceChecker, keys *Keyring, opts ...SchedulerOption) *Scheduler {
	if keys == nil {
		keys = NewKeyring()
	}
	s := &Scheduler{
		store:    store,
		producer: producer,
		checker:  checker,
		keys:     keys,
		logger:   logger.Named("scheduler"),
		now:      time.Now,
		timers:   make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Keys 返回调度器使用的密钥环。
func (s *Scheduler) Keys() *Keyring { return s.keys }

// Submit 校验参数、预检余额、保存任务并启动一次性定时器。
func (s *Scheduler) Submit(ctx context.Context, key *ecdsa.PrivateKey, req SubmitRequest) (*Task, error) {
	if s.store == nil || s.producer == nil || s.checker == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "调度器未初始化")
	}
	if key == nil {
		return nil, xerrors.New(xerrors.CodeValidation, "private key is required")
	}
	if err := req.Swap.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	delay := req.ScheduleTime.Sub(now)
	if delay <= 0 {
		return nil, xerrors.New(xerrors.CodeValidation, "schedule_time must be in the future")
	}
	if req.ThreadCount < 1 || req.ThreadCount > MaxThreadCount {
		return nil, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("thread_count must be within [1, %d]", MaxThreadCount))
	}
	if req.RunCount < 1 || req.RunCount > MaxRunCount {
		return nil, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("run_count must be within [1, %d]", MaxRunCount))
	}
	wallet := crypto.PubkeyToAddress(key.PublicKey)
	if req.Swap.Wallet != "" && common.HexToAddress(req.Swap.Wallet) != wallet {
		return nil, xerrors.New(xerrors.CodeValidation, "wallet_address does not match the signing key")
	}

	total := req.ThreadCount * req.RunCount
	if err := s.checker.CheckBalance(ctx, wallet, req.Swap, int64(total)); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "调度器已关闭")
	}

	task := &Task{
		ID:           fmt.Sprintf("task_%d", s.counter.Add(1)-1),
		Wallet:       wallet.Hex(),
		Token:        req.Swap.TokenAddress().Hex(),
		Amount:       req.Swap.Amount.String(),
		Direction:    string(req.Swap.Direction),
		Slippage:     req.Swap.Slippage.String(),
		ScheduleTime: req.ScheduleTime.Unix(),
		DelaySeconds: delay.Seconds(),
		ThreadCount:  req.ThreadCount,
		RunCount:     req.RunCount,
		TotalTrades:  total,
		Status:       StatusScheduled,
		CreatedAt:    now.Unix(),
	}
	if err := s.store.Create(ctx, task); err != nil {
		return nil, err
	}
	s.keys.Put(task.ID, key)
	id := task.ID
	s.timers[id] = time.AfterFunc(delay, func() { s.fire(id) })

	logger.Audit().Info("定时任务已创建",
		slog.String("task_id", id),
		slog.String("wallet", task.Wallet),
		slog.String("token", task.Token),
		slog.String("trade_type", task.Direction),
		slog.Float64("delay_seconds", task.DelaySeconds),
		slog.Int("total_trades", total),
	)
	return task, nil
}

// fire 在定时器到期时把任务投递到队列。
func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	delete(s.timers, id)
	closed := s.closed
	s.mu.Unlock()
	if closed {
		// Close 已无法停止这个定时器，由这里收尾。
		s.cancel(context.Background(), id)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.producer.Publish(ctx, NewDispatch(id)); err != nil {
		s.logger.Error("任务入队失败", slog.String("task_id", id), slog.Any("error", err))
		s.keys.Take(id)
		code := xerrors.CodeOf(err)
		if code == xerrors.CodeUnknown {
			code = xerrors.CodeQueueFailure
		}
		if markErr := s.store.MarkFailed(ctx, id, string(code), err.Error(), nil); markErr != nil {
			s.logger.Error("回写失败状态出错", slog.String("task_id", id), slog.Any("error", markErr))
		}
		return
	}
	s.logger.Debug("任务已到期并入队", slog.String("task_id", id))
}

// Get 返回指定任务的状态。
func (s *Scheduler) Get(ctx context.Context, id string) (*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Scheduler) List(ctx context.Context, opts ...ListOption) ([]*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats 返回符合过滤条件的任务统计信息。
func (s *Scheduler) Stats(ctx context.Context, opts ...ListOption) (TaskStats, error) {
	if s.store == nil {
		return TaskStats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// Pending 返回尚未触发的定时器数量。
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close 停止所有未触发的定时器，并将对应任务标记为失败。
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stopped := make([]string, 0, len(s.timers))
	for id, timer := range s.timers {
		if timer.Stop() {
			stopped = append(stopped, id)
		}
		delete(s.timers, id)
	}
	s.mu.Unlock()

	ctx := context.Background()
	for _, id := range stopped {
		s.cancel(ctx, id)
	}
	return nil
}

// cancel 丢弃任务的签名密钥并将其标记为 TASK_CANCELLED。
func (s *Scheduler) cancel(ctx context.Context, id string) {
	s.keys.Take(id)
	if err := s.store.MarkFailed(ctx, id, string(CodeTaskCancelled), "scheduler closed before the task fired", nil); err != nil {
		s.logger.Warn("取消任务失败", slog.String("task_id", id), slog.Any("error", err))
	}
	logger.Audit().Warn("定时任务已取消", slog.String("task_id", id))
}
