package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	xerrors "MonadSwap-Engine/internal/errors"
	"MonadSwap-Engine/pkg/logger"

	"github.com/nats-io/nats.go"
)

// taskIDHeader 让订阅方无需解析消息体即可识别任务。
const taskIDHeader = "Swapd-Task-Id"

// NATSQueueConfig 描述 NATS 队列组订阅的参数。
type NATSQueueConfig struct {
	URL     string
	Subject string
	Group   string
}

// NATSQueue 通过队列组把每条到期通知交给组内一个订阅者。
// NATS core 不持久化消息，没有在线订阅者时通知会丢失。
type NATSQueue struct {
	conn    *nats.Conn
	subject string
	group   string
	log     *slog.Logger
}

// NewNATSQueue 连接 NATS 并返回队列实例。
func NewNATSQueue(cfg NATSQueueConfig) (*NATSQueue, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeQueueFailure, "NATS URL 不能为空")
	}
	q := &NATSQueue{subject: cfg.Subject, group: cfg.Group, log: logger.Named("queue.nats")}
	if q.subject == "" {
		q.subject = "swapd.scheduled"
	}
	if q.group == "" {
		q.group = "swapd-workers"
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name("swapd-scheduler"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			q.log.Warn("NATS 连接断开", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			q.log.Info("NATS 已重连", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 NATS 失败")
	}
	q.conn = conn
	return q, nil
}

// Publish 发布通知并等待服务端确认已收到。
func (q *NATSQueue) Publish(ctx context.Context, d Dispatch) error {
	if q == nil || q.conn == nil {
		return xerrors.New(xerrors.CodeQueueFailure, "NATS 队列未初始化")
	}
	body, err := d.encode()
	if err != nil {
		return err
	}
	msg := nats.NewMsg(q.subject)
	msg.Header.Set(taskIDHeader, d.TaskID)
	msg.Data = body
	if err := q.conn.PublishMsg(msg); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "NATS 发布任务失败", xerrors.WithMetadata("task_id", d.TaskID))
	}
	if err := q.conn.FlushWithContext(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "NATS flush 失败", xerrors.WithMetadata("task_id", d.TaskID))
	}
	return nil
}

// Consume 以队列组方式订阅，workerCount 个协程并发处理。
func (q *NATSQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.conn == nil {
		return xerrors.New(xerrors.CodeQueueFailure, "NATS 队列未初始化")
	}
	n := workers(workerCount)
	inbox := make(chan *nats.Msg, n*16)
	sub, err := q.conn.ChanQueueSubscribe(q.subject, q.group, inbox)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅 NATS 失败")
	}
	defer func() { _ = sub.Unsubscribe() }()

	var wg sync.WaitGroup
	for ; n > 0; n-- {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-inbox:
					d, err := decodeDispatch(msg.Data)
					if err != nil {
						q.log.Warn("丢弃无法解析的队列消息", slog.String("task_id", msg.Header.Get(taskIDHeader)), slog.Any("error", err))
						continue
					}
					_ = deliver(ctx, q.log, handler, d)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Close 排空并关闭 NATS 连接。
func (q *NATSQueue) Close() error {
	if q == nil || q.conn == nil {
		return nil
	}
	if err := q.conn.Drain(); err != nil {
		q.conn.Close()
		return err
	}
	return nil
}
