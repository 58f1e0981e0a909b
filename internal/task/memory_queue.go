package task

import (
	"context"
	"log/slog"
	"sync"

	xerrors "MonadSwap-Engine/internal/errors"
	"MonadSwap-Engine/pkg/logger"
)

// MemoryQueue 是单进程部署的默认派发队列，进程退出后未消费的通知随之丢弃。
type MemoryQueue struct {
	mu      sync.RWMutex
	pending chan Dispatch
	done    chan struct{}
	closed  bool
	log     *slog.Logger
}

// NewMemoryQueue 创建容量为 size 的内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		pending: make(chan Dispatch, size),
		done:    make(chan struct{}),
		log:     logger.Named("queue.memory"),
	}
}

// Pending 返回尚未被消费的通知数。
func (q *MemoryQueue) Pending() int {
	return len(q.pending)
}

// Publish 写入一条到期通知；缓冲区已满时阻塞直到 ctx 结束。
func (q *MemoryQueue) Publish(ctx context.Context, d Dispatch) error {
	if d.TaskID == "" {
		return xerrors.New(xerrors.CodeQueueFailure, "投递缺少任务 ID")
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭", xerrors.WithMetadata("task_id", d.TaskID))
	}
	select {
	case q.pending <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume 以 workerCount 个协程消费通知，ctx 取消或队列关闭后返回。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	var wg sync.WaitGroup
	for n := workers(workerCount); n > 0; n-- {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.drain(ctx, handler)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (q *MemoryQueue) drain(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case d := <-q.pending:
			_ = deliver(ctx, q.log, handler, d)
		}
	}
}

// Close 停止接收新通知并唤醒所有消费协程，可重复调用。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return nil
}
