package task

import (
	"context"
	"sync"
	"time"

	xerrors "MonadSwap-Engine/internal/errors"
)

// MemoryStore 在进程内保存定时任务，重启后丢失。任务按提交顺序存放在切片中。
type MemoryStore struct {
	mu    sync.RWMutex
	order []*Task
	byID  map[string]*Task
	now   func() time.Time
}

// NewMemoryStore 创建空的任务存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Task), now: time.Now}
}

func (m *MemoryStore) Create(_ context.Context, task *Task) error {
	if task == nil || task.ID == "" {
		return xerrors.New(xerrors.CodeValidation, "任务 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.byID[task.ID]; dup {
		return ErrTaskConflict
	}
	stored := cloneTask(task)
	now := m.now().Unix()
	if stored.CreatedAt == 0 {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	if stored.Status == "" {
		stored.Status = StatusScheduled
	}
	m.byID[stored.ID] = stored
	m.order = append(m.order, stored)
	task.CreatedAt, task.UpdatedAt, task.Status = stored.CreatedAt, stored.UpdatedAt, stored.Status
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.byID[id]; ok {
		return cloneTask(t), nil
	}
	return nil, ErrTaskNotFound
}

// transition 在写锁内修改任务；from 非空时要求任务当前处于 from，否则要求任务尚未结束。
func (m *MemoryStore) transition(id string, from Status, apply func(*Task)) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if (from != "" && t.Status != from) || t.Status.Terminal() {
		return cloneTask(t), ErrTaskConflict
	}
	apply(t)
	t.UpdatedAt = m.now().Unix()
	return cloneTask(t), nil
}

// Claim 把 scheduled 任务切换为 executing，同一任务只有一次能成功。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Task, error) {
	return m.transition(id, StatusScheduled, func(t *Task) { t.Status = StatusExecuting })
}

// MarkCompleted 只接受已领取的任务。
func (m *MemoryStore) MarkCompleted(_ context.Context, id string, result ExecutionResult) error {
	_, err := m.transition(id, StatusExecuting, func(t *Task) {
		t.Status = StatusCompleted
		t.ErrorCode, t.LastError = "", ""
		t.Result = &result
	})
	return err
}

// MarkFailed 记录失败原因；已广播的交易通过 result 保留交易哈希。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code, lastError string, result *ExecutionResult) error {
	_, err := m.transition(id, "", func(t *Task) {
		t.Status = StatusFailed
		t.ErrorCode, t.LastError = code, lastError
		if result != nil {
			kept := *result
			t.Result = &kept
		}
	})
	return err
}

// List 按提交顺序返回匹配的任务副本，默认最新的在前。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Task, error) {
	opts.normalize()
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Task, 0, min(opts.Limit, len(m.order)))
	skipped := 0
	for i := range m.order {
		idx := i
		if opts.Order == SortByCreatedDesc {
			idx = len(m.order) - 1 - i
		}
		t := m.order[idx]
		if !opts.matches(t) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, cloneTask(t))
		if len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// Stats 汇总匹配任务的状态分布，不受分页影响。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (TaskStats, error) {
	opts.normalize()
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats TaskStats
	for _, t := range m.order {
		if opts.matches(t) {
			stats.add(t)
		}
	}
	return stats, nil
}

func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
