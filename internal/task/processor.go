package task

import (
	"context"
	"crypto/ecdsa"
	stdErrors "errors"
	"log/slog"
	"time"

	"MonadSwap-Engine/internal/calldata"
	xerrors "MonadSwap-Engine/internal/errors"
	"MonadSwap-Engine/internal/observability/alerting"
	"MonadSwap-Engine/internal/swap"
	"MonadSwap-Engine/pkg/logger"

	"github.com/shopspring/decimal"
)

// Executor 定义了处理器所需的交易引擎能力。
type Executor interface {
	Execute(ctx context.Context, key *ecdsa.PrivateKey, req swap.Request) (*swap.Outcome, error)
}

// Processor 负责从队列消费到期任务并交给引擎执行一次。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	keys        KeySource
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器，用于任务层面的基础设施故障。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, keys KeySource, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		keys:        keys,
		workerCount: 1,
		logger:      logger.Named("processor"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动任务处理循环，直到 ctx 取消。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.dispatch)
}

func (p *Processor) dispatch(ctx context.Context, d Dispatch) error {
	if lag := d.Lag(time.Now()); lag > time.Second {
		p.logger.Warn("到期通知消费延迟", slog.String("task_id", d.TaskID), slog.Duration("lag", lag))
	}
	return p.handle(ctx, d.TaskID)
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.executor == nil || p.keys == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskConflict) {
			p.logger.Debug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		p.emitAlert(ctx, taskID, err, "claim")
		return err
	}

	key, ok := p.keys.Take(task.ID)
	if !ok {
		missing := xerrors.New(xerrors.CodeSigning, "signing key for task is no longer available")
		return p.fail(ctx, task, missing, nil)
	}

	req, err := requestFromTask(task)
	if err != nil {
		return p.fail(ctx, task, err, nil)
	}

	outcome, execErr := p.executor.Execute(ctx, key, req)
	result := resultFromOutcome(outcome)
	if execErr != nil {
		return p.fail(ctx, task, execErr, result)
	}

	var record ExecutionResult
	if result != nil {
		record = *result
	}
	if err := p.store.MarkCompleted(ctx, task.ID, record); err != nil {
		p.logger.Error("标记任务完成状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		p.emitAlert(ctx, task.ID, err, "mark_completed")
		return err
	}
	logger.Audit().Info("定时任务执行成功",
		slog.String("task_id", task.ID),
		slog.String("wallet", task.Wallet),
		slog.String("tx_hash", record.TxHash),
		slog.Uint64("block", record.BlockNumber),
	)
	return nil
}

func (p *Processor) fail(ctx context.Context, task *Task, cause error, result *ExecutionResult) error {
	code := xerrors.CodeOf(cause)
	if err := p.store.MarkFailed(ctx, task.ID, string(code), cause.Error(), result); err != nil {
		p.logger.Error("标记任务失败状态出错", slog.Any("error", err), slog.String("task_id", task.ID))
		return err
	}
	attrs := []any{
		slog.String("task_id", task.ID),
		slog.String("wallet", task.Wallet),
		slog.String("error_code", string(code)),
		slog.String("error", cause.Error()),
	}
	if result != nil && result.TxHash != "" {
		attrs = append(attrs, slog.String("tx_hash", result.TxHash))
	}
	logger.Audit().Warn("定时任务执行失败", attrs...)
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, taskID string, cause error, stage string) {
	if p == nil || p.alerter == nil {
		return
	}
	event := alerting.NewEvent(cause, map[string]string{"stage": stage})
	event.TaskID = taskID
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("task_id", taskID),
			slog.String("stage", stage),
		)
	}
}

func requestFromTask(task *Task) (swap.Request, error) {
	amount, err := decimal.NewFromString(task.Amount)
	if err != nil {
		return swap.Request{}, xerrors.Wrap(xerrors.CodeValidation, err, "stored amount is not a decimal")
	}
	slippage := decimal.Zero
	if task.Slippage != "" {
		slippage, err = decimal.NewFromString(task.Slippage)
		if err != nil {
			return swap.Request{}, xerrors.Wrap(xerrors.CodeValidation, err, "stored slippage is not a decimal")
		}
	}
	return swap.Request{
		Wallet:    task.Wallet,
		Token:     task.Token,
		Amount:    amount,
		Direction: calldata.Direction(task.Direction),
		Slippage:  slippage,
	}, nil
}

func resultFromOutcome(outcome *swap.Outcome) *ExecutionResult {
	if outcome == nil {
		return nil
	}
	return &ExecutionResult{
		Stage:          string(outcome.Stage),
		TxHash:         outcome.TxHash,
		ApprovalTxHash: outcome.ApprovalTxHash,
		BlockNumber:    outcome.BlockNumber,
		GasUsed:        outcome.GasUsed,
		GasLimit:       outcome.GasLimit,
		GasFallback:    outcome.GasFallback,
		RevertReason:   outcome.RevertReason,
		Notes:          append([]string(nil), outcome.Notes...),
	}
}
