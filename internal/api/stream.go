package api

import (
	"log/slog"
	"net/http"
	"time"

	xerrors "MonadSwap-Engine/internal/errors"
	"MonadSwap-Engine/internal/service"

	"github.com/gorilla/websocket"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 30 * time.Second
	streamBuffer     = 64
)

type streamMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// handleMonitorStream 把余额变化事件推送给 websocket 客户端，客户端只读。
func (s *Server) handleMonitorStream(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSON(w, http.StatusServiceUnavailable, service.Result{
			Success: false,
			Error:   "事件流未启用",
			Code:    xerrors.CodeInitializationFailure,
		})
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket 升级失败", slog.Any("error", err))
		return
	}
	defer conn.Close()

	events, unsubscribe := s.events.Subscribe(streamBuffer)
	defer unsubscribe()

	// 读循环只负责感知断开与处理 pong。
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(2 * streamPingPeriod))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * streamPingPeriod))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	remote := r.RemoteAddr
	s.logger.Info("事件流客户端已连接", slog.String("remote", remote))
	defer s.logger.Info("事件流客户端已断开", slog.String("remote", remote))

	if err := writeStream(conn, streamMessage{Type: "connected"}); err != nil {
		return
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(streamWriteWait))
			return
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeStream(conn, streamMessage{Type: "balance_change", Data: ev}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

func writeStream(conn *websocket.Conn, msg streamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(msg)
}
