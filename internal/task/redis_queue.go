package task

import (
	"context"
	"errors"
	"log/slog"
	"time"

	xerrors "MonadSwap-Engine/internal/errors"
	"MonadSwap-Engine/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 以两个 list 实现派发：通知先进入 ready 列表，
// 被工作协程取走时原子地移入 inflight 列表，处理结束后再删除。
// 进程异常退出时遗留在 inflight 中的通知会在下次 Consume 时放回 ready。
type RedisQueue struct {
	client   *redis.Client
	ready    string
	inflight string
	wait     time.Duration
	log      *slog.Logger
}

// NewRedisQueue 连接 Redis 并返回队列实例。
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeQueueFailure, "Redis address 不能为空")
	}
	ready := cfg.Queue
	if ready == "" {
		ready = "swapd:scheduled"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 Redis 失败", xerrors.WithMetadata("address", cfg.Address))
	}
	return &RedisQueue{
		client:   client,
		ready:    ready,
		inflight: ready + ":inflight",
		wait:     wait,
		log:      logger.Named("queue.redis"),
	}, nil
}

// Publish 把通知推入 ready 列表头部。
func (q *RedisQueue) Publish(ctx context.Context, d Dispatch) error {
	body, err := d.encode()
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.ready, body).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布任务失败", xerrors.WithMetadata("task_id", d.TaskID))
	}
	return nil
}

// Consume 先回收 inflight 列表，再以 BLMOVE 阻塞消费。
// 处理失败的通知不会重新入队，任务状态已由处理器回写。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if err := q.requeueInflight(ctx); err != nil {
		return err
	}
	n := workers(workerCount)
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() { errCh <- q.work(ctx, handler) }()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (q *RedisQueue) work(ctx context.Context, handler Handler) error {
	for ctx.Err() == nil {
		raw, err := q.client.BLMove(ctx, q.ready, q.inflight, "RIGHT", "LEFT", q.wait).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return err
			}
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 取任务失败")
		}

		d, decodeErr := decodeDispatch([]byte(raw))
		if decodeErr != nil {
			q.log.Warn("丢弃无法解析的队列消息", slog.String("body", raw), slog.Any("error", decodeErr))
		} else {
			_ = deliver(ctx, q.log, handler, d)
		}
		if err := q.client.LRem(context.WithoutCancel(ctx), q.inflight, 1, raw).Err(); err != nil {
			q.log.Warn("清理 inflight 消息失败", slog.String("task_id", d.TaskID), slog.Any("error", err))
		}
	}
	return ctx.Err()
}

func (q *RedisQueue) requeueInflight(ctx context.Context) error {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.inflight, q.ready, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "回收 inflight 消息失败")
		}
		moved++
	}
	if moved > 0 {
		q.log.Info("已回收未完成的到期通知", slog.Int("count", moved))
	}
	return nil
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
