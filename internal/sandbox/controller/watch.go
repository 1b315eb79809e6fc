package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	appErr "ownide/pkg/errors"
	"ownide/pkg/utils/logger"
	"ownide/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait = 5 * time.Second

	// CloseTaskNotFound is sent when the task expires while being watched.
	CloseTaskNotFound = 4404
)

// WatchConfig bounds websocket status watches.
type WatchConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

func (c WatchConfig) withDefaults() WatchConfig {
	if c.Interval <= 0 {
		c.Interval = 500 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Minute
	}
	return c
}

// Status is readable by anyone holding the task id, so any origin may watch.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Watch streams status changes of one submission over a websocket until it
// finishes, disappears, or the watch times out.
func (h *SandboxController) Watch(c *gin.Context) {
	taskID := c.Param("task_id")
	if taskID == "" {
		response.BadRequest(c, "Invalid task id")
		return
	}
	status, err := h.svc.Status(c.Request.Context(), taskID)
	if err != nil {
		response.Error(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.watch.Timeout)
	defer cancel()

	// Incoming frames are ignored; a read error means the peer is gone.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.watch.Interval)
	defer ticker.Stop()

	var last []byte
	for {
		payload, err := json.Marshal(status)
		if err != nil {
			closeWatch(conn, websocket.CloseInternalServerErr, "encode status failed")
			return
		}
		if !bytes.Equal(payload, last) {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
			last = payload
		}
		if status.Status.IsTerminal() {
			closeWatch(conn, websocket.CloseNormalClosure, string(status.Status))
			return
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				closeWatch(conn, websocket.CloseTryAgainLater, "watch timed out")
			}
			return
		case <-ticker.C:
		}

		next, err := h.svc.Status(ctx, taskID)
		switch {
		case err == nil:
			status = next
		case appErr.Is(err, appErr.SubmissionNotFound):
			closeWatch(conn, CloseTaskNotFound, "task not found")
			return
		case ctx.Err() != nil:
			return
		default:
			logger.Warn(ctx, "watch status lookup failed", zap.String("task_id", taskID), zap.Error(err))
			closeWatch(conn, websocket.CloseInternalServerErr, "status unavailable")
			return
		}
	}
}

func closeWatch(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

