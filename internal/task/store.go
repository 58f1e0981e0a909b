package task

import "context"

// Lifecycle 是处理器推进任务状态所需的写操作。
// 合法的状态迁移只有 scheduled→executing→completed|failed，
// 以及投递失败时的 scheduled→failed。
type Lifecycle interface {
	// Claim 原子地把 scheduled 任务切换为 executing，其余状态返回 ErrTaskConflict。
	Claim(ctx context.Context, id string) (*Task, error)
	MarkCompleted(ctx context.Context, id string, result ExecutionResult) error
	MarkFailed(ctx context.Context, id string, code, lastError string, result *ExecutionResult) error
}

// Store 保存定时任务及其执行结果。
type Store interface {
	Lifecycle
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, opts ListOptions) ([]*Task, error)
	Stats(ctx context.Context, opts ListOptions) (TaskStats, error)
	Close() error
}
