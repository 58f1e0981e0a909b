package task

import (
	xerrors "MonadSwap-Engine/internal/errors"
)

// Status 表示定时任务在生命周期中的状态，只允许 scheduled→executing→completed|failed。
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ExecutionResult 保存引擎执行一次交易后的关键字段。
type ExecutionResult struct {
	Stage          string   `json:"stage"`
	TxHash         string   `json:"tx_hash,omitempty"`
	ApprovalTxHash string   `json:"approval_tx_hash,omitempty"`
	BlockNumber    uint64   `json:"block_number,omitempty"`
	GasUsed        uint64   `json:"gas_used,omitempty"`
	GasLimit       uint64   `json:"gas_limit,omitempty"`
	GasFallback    bool     `json:"gas_fallback,omitempty"`
	RevertReason   string   `json:"revert_reason,omitempty"`
	Notes          []string `json:"notes,omitempty"`
}

// Task 描述了一次延迟执行的兑换。
type Task struct {
	ID           string           `json:"task_id"`
	Wallet       string           `json:"wallet_address"`
	Token        string           `json:"token_address"`
	Amount       string           `json:"amount_in"`
	Direction    string           `json:"trade_type"`
	Slippage     string           `json:"slippage"`
	ScheduleTime int64            `json:"schedule_time"`
	DelaySeconds float64          `json:"delay_seconds"`
	ThreadCount  int              `json:"thread_count"`
	RunCount     int              `json:"run_count"`
	TotalTrades  int              `json:"total_trades"`
	Status       Status           `json:"status"`
	LastError    string           `json:"last_error,omitempty"`
	ErrorCode    string           `json:"error_code,omitempty"`
	Result       *ExecutionResult `json:"result,omitempty"`
	CreatedAt    int64            `json:"created_time"`
	UpdatedAt    int64            `json:"updated_time"`
}

const (
	CodeTaskNotFound xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict xerrors.Code = "TASK_CONFLICT"
)

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrTaskConflict 表示任务已被领取或已结束，不能再次执行。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "task already claimed")
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:  "task not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:  "task already claimed",
		Severity: xerrors.SeverityWarning,
	})
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusScheduled, StatusExecuting, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal 判断任务是否已经结束。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func cloneTask(task *Task) *Task {
	clone := *task
	if task.Result != nil {
		result := *task.Result
		result.Notes = append([]string(nil), task.Result.Notes...)
		clone.Result = &result
	}
	return &clone
}
