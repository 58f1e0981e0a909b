package task

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"MonadSwap-Engine/internal/config"
	xerrors "MonadSwap-Engine/internal/errors"
)

// Dispatch 是定时器到期后写入队列的通知。
// 队列只负责告知"哪个任务该执行了"，任务参数与签名密钥都留在进程内。
type Dispatch struct {
	TaskID  string    `json:"task_id"`
	FiredAt time.Time `json:"fired_at"`
}

// NewDispatch 以当前时间构造到期通知。
func NewDispatch(taskID string) Dispatch {
	return Dispatch{TaskID: taskID, FiredAt: time.Now().UTC()}
}

// Lag 返回通知从到期到被消费经过的时间。
func (d Dispatch) Lag(now time.Time) time.Duration {
	if d.FiredAt.IsZero() || now.Before(d.FiredAt) {
		return 0
	}
	return now.Sub(d.FiredAt)
}

func (d Dispatch) encode() ([]byte, error) {
	if strings.TrimSpace(d.TaskID) == "" {
		return nil, xerrors.New(xerrors.CodeQueueFailure, "投递缺少任务 ID")
	}
	body, err := json.Marshal(d)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "编码到期通知失败")
	}
	return body, nil
}

// decodeDispatch 解析队列消息体。纯文本消息体按任务 ID 处理。
func decodeDispatch(body []byte) (Dispatch, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Dispatch{}, xerrors.New(xerrors.CodeQueueFailure, "空的队列消息")
	}
	if trimmed[0] != '{' {
		return Dispatch{TaskID: string(trimmed)}, nil
	}
	var d Dispatch
	if err := json.Unmarshal(trimmed, &d); err != nil {
		return Dispatch{}, xerrors.Wrap(xerrors.CodeQueueFailure, err, "解析到期通知失败")
	}
	if d.TaskID == "" {
		return Dispatch{}, xerrors.New(xerrors.CodeQueueFailure, "到期通知缺少任务 ID")
	}
	return d, nil
}

// Handler 处理一条到期通知。
type Handler func(ctx context.Context, d Dispatch) error

// Producer 负责在定时器到期时投递通知。
type Producer interface {
	Publish(ctx context.Context, d Dispatch) error
	Close() error
}

// Consumer 负责从队列中消费通知。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// deliver 调用 handler，并把 handler 内的 panic 转成 CodeQueueFailure 错误。
func deliver(ctx context.Context, log *slog.Logger, handler Handler, d Dispatch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.New(xerrors.CodeQueueFailure, fmt.Sprintf("任务处理 panic: %v", r))
		}
		if err != nil {
			log.Warn("任务处理失败", slog.String("task_id", d.TaskID), slog.Any("error", err))
		}
	}()
	return handler(ctx, d)
}

func workers(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// NewQueue 根据调度配置选择队列驱动。
func NewQueue(cfg config.SchedulerConfig) (Queue, error) {
	var (
		q   Queue
		err error
	)
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "memory":
		return NewMemoryQueue(cfg.Buffer), nil
	case "redis":
		var rq *RedisQueue
		rq, err = NewRedisQueue(RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: cfg.Redis.BlockWait,
		})
		q = rq
	case "rabbitmq", "amqp":
		var aq *RabbitMQQueue
		aq, err = NewRabbitMQQueue(RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
		q = aq
	case "nats":
		var nq *NATSQueue
		nq, err = NewNATSQueue(NATSQueueConfig{
			URL:     cfg.NATS.URL,
			Subject: cfg.NATS.Subject,
			Group:   cfg.NATS.Group,
		})
		q = nq
	default:
		return nil, xerrors.New(xerrors.CodeQueueFailure, fmt.Sprintf("不支持的队列驱动 %q", cfg.Driver),
			xerrors.WithMetadata("driver", driver))
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}
