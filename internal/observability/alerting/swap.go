package alerting

import (
	"context"
	"log/slog"
	"time"

	xerrors "MonadSwap-Engine/internal/errors"
	"MonadSwap-Engine/internal/swap"
	"MonadSwap-Engine/pkg/logger"
)

// SwapAlerter 把需要告警的兑换失败转成事件。
type SwapAlerter struct {
	dispatcher Dispatcher
	timeout    time.Duration
}

// NewSwapAlerter 创建兑换告警观察者。
func NewSwapAlerter(dispatcher Dispatcher, timeout time.Duration) *SwapAlerter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SwapAlerter{dispatcher: dispatcher, timeout: timeout}
}

// ObserveSwap 实现 swap.Observer。
func (a *SwapAlerter) ObserveSwap(outcome *swap.Outcome, err error, _ time.Duration) {
	if a == nil || a.dispatcher == nil || err == nil || !xerrors.ShouldAlert(err) {
		return
	}
	event := NewEvent(err, nil)
	if outcome != nil {
		event.Wallet = outcome.Wallet
		if event.TxHash == "" {
			event.TxHash = outcome.TxHash
		}
		event.Metadata["stage"] = string(outcome.Stage)
		event.Metadata["token"] = outcome.Token
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if nerr := a.dispatcher.Notify(ctx, event); nerr != nil {
		logger.L().Error("告警通知失败", slog.Any("error", nerr), slog.String("alert_id", event.ID))
	}
}

var _ swap.Observer = (*SwapAlerter)(nil)
