package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/metrics"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsMessage is one frame pushed to progress subscribers.
type wsMessage struct {
	Type    string             `json:"type"` // "status"
	Payload *entity.StatusView `json:"payload,omitempty"`
}

// Watch upgrades to a websocket and pushes status views until the task is
// terminal, then closes the connection normally.
func (h *HTTPHandler) Watch(c *gin.Context) {
	id := c.Param("task_id")
	views, stop, err := h.tasks.Subscribe(c.Request.Context(), id)
	if err != nil {
		h.fail(c, httpStatus(err), err)
		return
	}
	defer stop()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws.upgrade.failed", "task_id", id, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	metrics.WebsocketConnections.Inc()
	defer metrics.WebsocketConnections.Dec()
	h.logger.Info("ws.connected", "task_id", id, "remote_addr", c.Request.RemoteAddr)

	// The reader only services control frames; it ends when the client goes away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("ws.read.closed", "task_id", id, "error", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case v, ok := <-views:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task finished")
				_ = conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			if err := conn.WriteJSON(wsMessage{Type: "status", Payload: &v}); err != nil {
				h.logger.Debug("ws.write.failed", "task_id", id, "error", err)
				return
			}
		}
	}
}
