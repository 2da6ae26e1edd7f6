package websocket

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gliksbot/dexter/internal/infrastructure/eventbus"
	"github.com/gliksbot/dexter/pkg/safego"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local deployment, same trust domain as the UI
	},
}

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Handler mirrors the event bus over a WebSocket. Each connection owns
// one bus subscription; slot and session query params filter the feed
// the same way the SSE endpoint does.
type Handler struct {
	bus    *eventbus.Bus
	logger *zap.Logger
}

func NewHandler(bus *eventbus.Bus, logger *zap.Logger) *Handler {
	return &Handler{bus: bus, logger: logger}
}

// Events handles GET /ws/events.
func (h *Handler) Events(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch, cancel, err := h.bus.Subscribe()
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber limit reached")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		return
	}
	defer cancel()

	slot := c.Query("slot")
	session := c.Query("session")

	// Reader drains client frames so close and pong handling work; the
	// feed is one-way.
	done := make(chan struct{})
	safego.Go(h.logger, "ws-reader", func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if slot != "" && ev.Slot != slot {
				continue
			}
			if session != "" && ev.Session != session {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
